// Package metrics 注册排序链路的 Prometheus 指标。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExternalCalls 外部模型调用次数，按客户端与结果（ok/parse_error/network_error/timeout）区分
	ExternalCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastekit_external_calls_total",
			Help: "External model calls by client and outcome",
		},
		[]string{"client", "outcome"},
	)

	// Fallbacks 阶段降级次数
	Fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastekit_fallbacks_total",
			Help: "Stage fallbacks by stage and reason",
		},
		[]string{"stage", "reason"},
	)

	// CacheLookups 缓存命中情况
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastekit_cache_lookups_total",
			Help: "Cache lookups by cache name and result (hit/miss/expired)",
		},
		[]string{"cache", "result"},
	)

	// StageDuration 每个 Node 的耗时
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tastekit_stage_duration_seconds",
			Help:    "Duration of pipeline nodes",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"node"},
	)

	// CircuitBreakerState 熔断器状态：0 closed, 1 half-open, 2 open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tastekit_circuit_breaker_state",
			Help: "Circuit breaker state per external client",
		},
		[]string{"client"},
	)
)

// ObserveStage 记录一个 Node 的耗时。
func ObserveStage(node string, start time.Time) {
	StageDuration.WithLabelValues(node).Observe(time.Since(start).Seconds())
}

// Fallback 记录一次降级。
func Fallback(stage, reason string) {
	Fallbacks.WithLabelValues(stage, reason).Inc()
}

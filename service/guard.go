package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pkg/logging"
	"github.com/rushteam/tastekit/pkg/metrics"
)

// GuardConfig 是外部调用保护的配置。
type GuardConfig struct {
	// Name 客户端名称，用于日志与指标
	Name string

	// Timeout 单次调用（含重试）的总超时，默认 30s
	Timeout time.Duration

	// RatePerSecond 每秒请求数上限，<= 0 表示不限流
	RatePerSecond float64
	Burst         int

	// Attempts 总尝试次数（含首次），默认 2
	Attempts   uint
	RetryDelay time.Duration

	// 熔断：窗口内请求数 >= BreakerMinRequests 且失败率 >= BreakerFailureRatio 时打开
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration
}

func (c GuardConfig) withDefaults() GuardConfig {
	if c.Name == "" {
		c.Name = "external"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.Attempts == 0 {
		c.Attempts = 2
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	if c.BreakerMinRequests == 0 {
		c.BreakerMinRequests = 10
	}
	if c.BreakerFailureRatio <= 0 {
		c.BreakerFailureRatio = 0.6
	}
	if c.BreakerOpenTimeout <= 0 {
		c.BreakerOpenTimeout = time.Minute
	}
	return c
}

// Guard 为所有外部 HTTP 调用提供统一保护：超时 → 限流 → 熔断 → 重试。
//
// 超时被单独标记为 Timeout，其余失败（网络错误、非 2xx、熔断打开、限流等待被取消）
// 都归为 NetworkError，由调用方降级处理。
type Guard struct {
	cfg     GuardConfig
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[[]byte]
}

// NewGuard 创建调用保护。
func NewGuard(cfg GuardConfig) *Guard {
	cfg = cfg.withDefaults()

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	}

	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			// 调用方自己取消不算下游故障
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("client", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &Guard{cfg: cfg, limiter: limiter, cb: cb}
}

// Name 返回客户端名称。
func (g *Guard) Name() string { return g.cfg.Name }

// Do 在保护下执行 fn，fn 返回响应体。
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	body, err := g.cb.Execute(func() ([]byte, error) {
		return retry.DoWithData(
			func() ([]byte, error) {
				if g.limiter != nil {
					if err := g.limiter.Wait(ctx); err != nil {
						return nil, err
					}
				}
				return fn(ctx)
			},
			retry.Context(ctx),
			retry.Attempts(g.cfg.Attempts),
			retry.Delay(g.cfg.RetryDelay),
			retry.MaxJitter(g.cfg.RetryDelay/2),
			retry.RetryIf(isRetryableError),
			retry.OnRetry(func(n uint, err error) {
				logging.Debug().Str("client", g.cfg.Name).Uint("attempt", n+1).Err(err).Msg("retrying external call")
			}),
		)
	})
	if err != nil {
		outcome := Classify(ctx, err)
		metrics.ExternalCalls.WithLabelValues(g.cfg.Name, outcome.String()).Inc()
		return nil, fmt.Errorf("%s: %w", g.cfg.Name, err)
	}
	metrics.ExternalCalls.WithLabelValues(g.cfg.Name, core.OutcomeOK.String()).Inc()
	return body, nil
}

// Classify 把调用错误映射为 Timeout 或 NetworkError。
func Classify(ctx context.Context, err error) core.Outcome {
	if err == nil {
		return core.OutcomeOK
	}
	if errors.Is(err, context.DeadlineExceeded) || (ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return core.OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.OutcomeTimeout
	}
	return core.OutcomeNetworkError
}

// HTTPError 是非 2xx 响应。
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// isRetryableError 只重试瞬时错误：429、5xx、网络错误。
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}
	return true
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

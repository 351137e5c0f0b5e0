package discovery

import (
	"fmt"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pkg/dsl"
	"github.com/rushteam/tastekit/pkg/logging"
	"github.com/rushteam/tastekit/rerank"
)

// 保存策略默认参数
const (
	DefaultSaveThreshold     = 0.9
	DefaultFallbackThreshold = 0.7
	DefaultSaveLimit         = 10
)

// SavePolicy 决定一次排序结果里哪些帖子值得保存：
//   - 优先取 Score >= Threshold 的帖子
//   - 一个都没有时退而取 Score >= FallbackThreshold 的帖子
//   - 按 caption 去重后最多保留 Limit 个
//
// 设置 Expr 时，帖子还必须满足该 CEL 表达式，例如 `!post.ai_signals`。
type SavePolicy struct {
	Threshold         float64
	FallbackThreshold float64
	Limit             int

	expr *dsl.Expr
}

// NewSavePolicy 创建保存策略，阈值 <= 0 时使用默认值；expr 为空表示不附加条件。
func NewSavePolicy(threshold, fallback float64, limit int, expr string) (*SavePolicy, error) {
	if threshold <= 0 {
		threshold = DefaultSaveThreshold
	}
	if fallback <= 0 {
		fallback = DefaultFallbackThreshold
	}
	if fallback > threshold {
		return nil, fmt.Errorf("save policy: fallback threshold %.2f above threshold %.2f", fallback, threshold)
	}
	if limit <= 0 {
		limit = DefaultSaveLimit
	}
	p := &SavePolicy{Threshold: threshold, FallbackThreshold: fallback, Limit: limit}
	if expr != "" {
		compiled, err := dsl.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("save policy: %w", err)
		}
		p.expr = compiled
	}
	return p, nil
}

// Select 从已排序的帖子中选出要保存的帖子，保持输入顺序。
func (p *SavePolicy) Select(posts []*core.Post) []*core.Post {
	var strong, fallback []*core.Post
	for _, post := range posts {
		if post == nil || !p.accept(post) {
			continue
		}
		if post.Score >= p.Threshold {
			strong = append(strong, post)
		}
		if post.Score >= p.FallbackThreshold {
			fallback = append(fallback, post)
		}
	}
	picked := strong
	if len(picked) == 0 {
		picked = fallback
	}
	picked = rerank.DedupByCaption(picked)
	return picked[:min(len(picked), p.Limit)]
}

func (p *SavePolicy) accept(post *core.Post) bool {
	if p.expr == nil {
		return true
	}
	ok, err := p.expr.Match(post, nil)
	if err != nil {
		logging.Debug().Err(err).Str("post", post.ID).Str("expr", p.expr.String()).Msg("save policy expression failed, post skipped")
		return false
	}
	return ok
}

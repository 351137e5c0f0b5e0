package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pkg/logging"
	"github.com/rushteam/tastekit/pkg/metrics"
)

// Pipeline 把排序逻辑拆成可组合的 Node 链。
type Pipeline struct {
	Name  string
	Nodes []Node
}

// Run 依次执行每个 Node；任一 Node 返回错误时中止并返回包装后的错误。
func (p *Pipeline) Run(
	ctx context.Context,
	rctx *core.RecommendContext,
	posts []*core.Post,
) ([]*core.Post, error) {
	cur := posts
	for _, node := range p.Nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		next, err := node.Process(ctx, rctx, cur)
		metrics.ObserveStage(node.Name(), start)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", node.Name(), err)
		}
		logging.Debug().
			Str("pipeline", p.Name).
			Str("node", node.Name()).
			Str("kind", string(node.Kind())).
			Int("in", len(cur)).
			Int("out", len(next)).
			Dur("took", time.Since(start)).
			Msg("node done")
		cur = next
	}
	return cur, nil
}

package recall

import (
	"context"

	"github.com/rushteam/tastekit/core"
)

// Source 表示一个可复用的候选来源（采集层原始帖子 / seed-and-expand / Store 快照）。
// 你可以把它理解为“可并发 fan-out 的策略单元”。
type Source interface {
	Name() string
	Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Post, error)
}

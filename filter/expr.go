package filter

import (
	"context"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pkg/dsl"
)

// ExprFilter 用 CEL 表达式过滤帖子：表达式为 true 的帖子被移除。
//
// 例如 `post.ai_signals && !("ai art" in rctx.topics)`。
type ExprFilter struct {
	expr *dsl.Expr
}

// NewExprFilter 编译表达式，空表达式返回错误。
func NewExprFilter(expr string) (*ExprFilter, error) {
	if expr == "" {
		return nil, core.NewDomainError(core.ModuleDiscovery, core.ErrorCodeInvalidInput, "filter.expr: empty expression")
	}
	e, err := dsl.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &ExprFilter{expr: e}, nil
}

func (f *ExprFilter) Name() string { return "filter.expr" }

func (f *ExprFilter) ShouldFilter(_ context.Context, rctx *core.RecommendContext, post *core.Post) (bool, error) {
	return f.expr.Match(post, rctx)
}

package filter

import (
	"context"

	"github.com/rushteam/tastekit/core"
)

// Filter 是过滤器的抽象接口，用于判断一个 Post 是否应该被过滤掉。
// 返回 true 表示应该过滤（移除），false 表示保留。
type Filter interface {
	// Name 返回过滤器名称
	Name() string

	// ShouldFilter 判断 post 是否应该被过滤
	ShouldFilter(ctx context.Context, rctx *core.RecommendContext, post *core.Post) (bool, error)
}

// BatchFilter 是可选的批量接口：需要访问存储的过滤器一次判断整批，避免逐条往返。
// 返回值与 posts 一一对应。
type BatchFilter interface {
	Filter

	FilterBatch(ctx context.Context, rctx *core.RecommendContext, posts []*core.Post) ([]bool, error)
}

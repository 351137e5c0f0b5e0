// Package workpool 提供有上限的并发 map：所有外部调用都经由这里扇出，不做无界并发。
package workpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// MaxLimit 是单个阶段允许的最大并发数。
const MaxLimit = 32

// Map 以最多 limit 个并发执行 fn，输出与输入一一对应（out[i] 对应 items[i]）。
// fn 自己负责把失败转成中性结果；ctx 取消后尚未开始的元素不再执行，对应位置保留零值。
func Map[T, R any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, i int, item T) R) []R {
	out := make([]R, len(items))
	if len(items) == 0 {
		return out
	}
	if limit <= 0 {
		limit = 1
	}
	limit = min(limit, MaxLimit, len(items))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, item := range items {
		eg.Go(func() error {
			if egCtx.Err() != nil {
				return nil
			}
			out[i] = fn(egCtx, i, item)
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

// Batches 把 items 按 size 切分，size <= 0 时整体作为一批。
func Batches[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size >= len(items) {
		return [][]T{items}
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		out = append(out, items[i:min(i+size, len(items))])
	}
	return out
}

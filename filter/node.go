package filter

import (
	"context"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pipeline"
	"github.com/rushteam/tastekit/pkg/logging"
	"github.com/rushteam/tastekit/pkg/utils"
)

// FilterNode 是过滤 Node，可以组合多个过滤器进行过滤。
// 如果任何一个过滤器返回 true，该帖子就会被过滤掉。
//
// FailOnEmpty 为 true 时，输入非空而过滤后为空会返回 core.ErrEmptyCandidates，
// 由上层放弃当前路径（例如 beauty 路径退回 legacy 路径）。
type FilterNode struct {
	Label       string
	Filters     []Filter
	FailOnEmpty bool
}

func (n *FilterNode) Name() string {
	if n.Label != "" {
		return n.Label
	}
	return "filter.node"
}

func (n *FilterNode) Kind() pipeline.Kind {
	return pipeline.KindFilter
}

func (n *FilterNode) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	posts []*core.Post,
) ([]*core.Post, error) {
	if len(n.Filters) == 0 || len(posts) == 0 {
		return posts, nil
	}

	// 批量过滤器先整批判断一次
	batch := make(map[int][]bool, len(n.Filters))
	for i, f := range n.Filters {
		bf, ok := f.(BatchFilter)
		if !ok {
			continue
		}
		flags, err := bf.FilterBatch(ctx, rctx, posts)
		if err != nil || len(flags) != len(posts) {
			// 过滤器错误时记录但不中断流程
			logging.Warn().Err(err).Str("filter", f.Name()).Msg("batch filter failed, skipped")
			flags = make([]bool, len(posts))
		}
		batch[i] = flags
	}

	out := make([]*core.Post, 0, len(posts))
	filteredCount := 0

	for idx, post := range posts {
		if post == nil {
			continue
		}

		shouldFilter := false
		filterReason := ""

		// 依次检查每个过滤器
		for i, f := range n.Filters {
			var ok bool
			if flags, isBatch := batch[i]; isBatch {
				ok = flags[idx]
			} else {
				var err error
				ok, err = f.ShouldFilter(ctx, rctx, post)
				if err != nil {
					logging.Debug().Err(err).Str("filter", f.Name()).Str("post", post.ID).Msg("filter error, kept")
					continue
				}
			}
			if ok {
				shouldFilter = true
				filterReason = f.Name()
				break
			}
		}

		if shouldFilter {
			filteredCount++
			// 记录过滤原因（用于调试/观测）
			post.PutLabel("filtered", utils.Label{
				Value:  "true",
				Source: filterReason,
			})
			logging.Debug().Str("post", post.ID).Str("filter", filterReason).Msg("post filtered")
			continue
		}

		out = append(out, post)
	}

	if n.FailOnEmpty && len(out) == 0 {
		return nil, core.ErrEmptyCandidates
	}
	return out, nil
}

var _ pipeline.Node = (*FilterNode)(nil)

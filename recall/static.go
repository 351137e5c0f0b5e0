package recall

import (
	"context"
	"encoding/json"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pipeline"
)

// Static 是固定候选源：返回采集层已经准备好的原始帖子。
//   - 如果配置了 Store + Key，优先从 Store 读取 JSON 数组（采集层写入的快照）
//   - 否则使用内存中的 Posts
//
// 返回的是拷贝，排序阶段不会修改调用方持有的原始帖子。
// Static 同时实现了 Source 和 Node 接口，可以直接在 Pipeline 中使用。
type Static struct {
	Label string
	Store core.Store
	Key   string // 存储 key，例如 "raw:posts:{user}"
	Posts []*core.Post
}

func (r *Static) Name() string {
	if r.Label != "" {
		return r.Label
	}
	return "recall.static"
}

func (r *Static) Kind() pipeline.Kind { return pipeline.KindRecall }

// Process 实现 Node 接口，直接调用 Recall
func (r *Static) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	_ []*core.Post,
) ([]*core.Post, error) {
	return r.Recall(ctx, rctx)
}

// Recall 实现 Source 接口
func (r *Static) Recall(ctx context.Context, _ *core.RecommendContext) ([]*core.Post, error) {
	if r.Store != nil && r.Key != "" {
		data, err := r.Store.Get(ctx, r.Key)
		switch {
		case err == nil:
			var parsed []*core.Post
			if err := json.Unmarshal(data, &parsed); err != nil {
				return nil, err
			}
			return core.ClonePosts(parsed), nil
		case !core.IsNotFound(err):
			return nil, err
		}
	}
	return core.ClonePosts(r.Posts), nil
}

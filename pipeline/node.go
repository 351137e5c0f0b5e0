package pipeline

import (
	"context"

	"github.com/rushteam/tastekit/core"
)

// Kind 用于标记 Node 类型，方便观测/治理/编排（例如按阶段打点）。
type Kind string

const (
	KindRecall      Kind = "recall"      // 召回阶段：生成/扩展候选集
	KindFilter      Kind = "filter"      // 过滤阶段：剔除不符合约束的候选
	KindRank        Kind = "rank"        // 排序阶段：对候选打分（可附带排序）
	KindReRank      Kind = "rerank"      // 重排阶段：锦标赛、融合、去重
	KindPostProcess Kind = "postprocess" // 后处理阶段：补充信号或最终结果修饰
)

// Node 是 Pipeline 的最小可扩展单元。
// 统一采用“输入 posts -> 输出 posts”的形态：Recall 扩展、Filter 截断、Rank 打分、ReRank 重排。
//
// 约定：除 Filter 外，Node 不得静默丢弃帖子；外部调用失败时给该帖子写中性值，而不是返回错误。
// 只有“整条路径已无法继续”（如过滤后为空）才返回错误，由上层降级。
type Node interface {
	Name() string
	Kind() Kind

	Process(
		ctx context.Context,
		rctx *core.RecommendContext,
		posts []*core.Post,
	) ([]*core.Post, error)
}

package rerank

import (
	"context"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pipeline"
)

// TopNNode 是一个 Top-N 截断节点，用于在排序后截取前 N 个帖子。
//
// 使用场景：
//   - legacy 路径在启发式预排序后只保留视觉 / 向量打分的候选
//   - 控制最终返回数量
//
// 示例：
//
//	pipeline := &pipeline.Pipeline{
//	    Nodes: []pipeline.Node{
//	        &rank.HeuristicNode{},              // 预排序
//	        &rerank.TopNNode{N: 30},            // 截取 Top 30
//	        &rank.VisionNode{Model: vision},    // 视觉打分
//	    },
//	}
type TopNNode struct {
	// N 要保留的帖子数量（Top N）
	// 如果 N <= 0，则返回所有帖子（不截断）
	N int
}

func (n *TopNNode) Name() string {
	return "rerank.topn"
}

func (n *TopNNode) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *TopNNode) Process(
	_ context.Context,
	_ *core.RecommendContext,
	posts []*core.Post,
) ([]*core.Post, error) {
	if n.N <= 0 || len(posts) <= n.N {
		return posts, nil
	}
	return posts[:n.N], nil
}

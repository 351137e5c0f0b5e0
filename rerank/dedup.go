package rerank

import (
	"context"
	"strings"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pipeline"
)

// NormalizeCaption 规范化 caption：转小写、合并连续空白、去首尾空白。
func NormalizeCaption(caption string) string {
	return strings.Join(strings.Fields(strings.ToLower(caption)), " ")
}

// DedupByCaption 按规范化 caption 去重，保留第一次出现的帖子（输入已按分数排序，即保留分数最高者）。
// 空 caption 的帖子永远不会被合并。
func DedupByCaption(posts []*core.Post) []*core.Post {
	seen := make(map[string]bool, len(posts))
	out := make([]*core.Post, 0, len(posts))
	for _, p := range posts {
		if p == nil {
			continue
		}
		key := NormalizeCaption(p.Caption)
		if key == "" {
			out = append(out, p)
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

// CaptionDedup 是按 caption 去重的 ReRank 节点，主要处理多图轮播帖产生的近似重复条目。
type CaptionDedup struct{}

func (n *CaptionDedup) Name() string {
	return "rerank.caption_dedup"
}

func (n *CaptionDedup) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *CaptionDedup) Process(
	_ context.Context,
	_ *core.RecommendContext,
	posts []*core.Post,
) ([]*core.Post, error) {
	return DedupByCaption(posts), nil
}

var _ pipeline.Node = (*CaptionDedup)(nil)

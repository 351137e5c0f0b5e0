package filter

import (
	"context"

	"github.com/rushteam/tastekit/core"
)

// DefaultMinAesthetic 是 universal 美学分的默认门槛（1..10 量纲）。
const DefaultMinAesthetic = 5.0

// DefaultMinTechnical 是技术质量分的默认门槛（0..10 量纲）。
const DefaultMinTechnical = 3.0

// AestheticFilter 丢弃美学分低于 Min 的帖子。
// RequireScore 为 true 时，没有美学分（向量提取失败、维度不匹配）的帖子同样丢弃。
type AestheticFilter struct {
	Min          float64
	RequireScore bool
}

// NewAestheticFilter 创建美学过滤器，默认要求有分数。
func NewAestheticFilter(threshold float64) *AestheticFilter {
	return &AestheticFilter{Min: threshold, RequireScore: true}
}

func (f *AestheticFilter) Name() string { return "filter.aesthetic" }

func (f *AestheticFilter) ShouldFilter(_ context.Context, _ *core.RecommendContext, post *core.Post) (bool, error) {
	if post.AestheticScore == nil {
		return f.RequireScore, nil
	}
	return *post.AestheticScore < f.Min, nil
}

// TechnicalFilter 丢弃技术质量分低于 Min 的帖子，缺失分数的帖子永远保留。
type TechnicalFilter struct {
	Min float64
}

func (f *TechnicalFilter) Name() string { return "filter.technical" }

func (f *TechnicalFilter) ShouldFilter(_ context.Context, _ *core.RecommendContext, post *core.Post) (bool, error) {
	if post.TechnicalScore == nil {
		return false, nil
	}
	return *post.TechnicalScore < f.Min, nil
}

var (
	_ Filter = (*AestheticFilter)(nil)
	_ Filter = (*TechnicalFilter)(nil)
)

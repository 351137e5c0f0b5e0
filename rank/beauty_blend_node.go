package rank

import (
	"context"
	"slices"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pipeline"
	"github.com/rushteam/tastekit/pkg/utils"
	"github.com/rushteam/tastekit/pkg/vecmath"
)

// MaxAestheticScale 是 universal 美学分量纲的上限。
const MaxAestheticScale = 10.0

// BeautyWeights 是 baseBeauty 的加权系数。
type BeautyWeights struct {
	Taste      float64
	Aesthetic  float64
	Technical  float64 // 仅在启用技术质量评估时生效
	Engagement float64
}

// DefaultBeautyWeights 返回默认权重 0.55 / 0.30 / 0.10 / 0.05。
func DefaultBeautyWeights() BeautyWeights {
	return BeautyWeights{Taste: 0.55, Aesthetic: 0.30, Technical: 0.10, Engagement: 0.05}
}

// BeautyBlend 描述 baseBeauty 的计算方式。
type BeautyBlend struct {
	Weights          BeautyWeights
	MinAesthetic     float64
	MaxAesthetic     float64
	TechnicalEnabled bool
}

// AestheticNorm 以 [min, max] 线性归一化美学分，缺失时为 0。
func (b BeautyBlend) AestheticNorm(score *float64) float64 {
	if score == nil {
		return 0
	}
	maxScale := b.MaxAesthetic
	if maxScale <= 0 {
		maxScale = MaxAestheticScale
	}
	if maxScale <= b.MinAesthetic {
		if *score >= b.MinAesthetic {
			return 1
		}
		return 0
	}
	return vecmath.Clamp01((*score - b.MinAesthetic) / (maxScale - b.MinAesthetic))
}

// BaseBeauty = Taste·tasteScore + Aesthetic·aestheticNorm (+ Technical·technical/10) + Engagement·engagementScore。
// 帖子缺 EngagementScore 时按互动计数补上。
func (b BeautyBlend) BaseBeauty(p *core.Post) float64 {
	w := b.Weights
	score := w.Taste*vecmath.Clamp01(p.TasteScore) + w.Aesthetic*b.AestheticNorm(p.AestheticScore)
	if b.TechnicalEnabled && p.TechnicalScore != nil {
		score += w.Technical * vecmath.Clamp01(*p.TechnicalScore/10)
	}
	score += w.Engagement * vecmath.Clamp01(EnsureEngagement(p))
	return vecmath.Clamp01(score)
}

// BeautyBlendNode 计算 baseBeauty 并按其稳定降序排序，作为锦标赛的入口顺序。
type BeautyBlendNode struct {
	Blend BeautyBlend
}

func (n *BeautyBlendNode) Name() string        { return "rank.beauty_blend" }
func (n *BeautyBlendNode) Kind() pipeline.Kind { return pipeline.KindRank }

func (n *BeautyBlendNode) Process(
	_ context.Context,
	_ *core.RecommendContext,
	posts []*core.Post,
) ([]*core.Post, error) {
	for _, p := range posts {
		p.BaseBeauty = n.Blend.BaseBeauty(p)
		p.Score = p.BaseBeauty
		p.PutLabel("rank_base_beauty", utils.NumberLabel(p.BaseBeauty, utils.SourceRank))
	}
	slices.SortStableFunc(posts, func(a, b *core.Post) int {
		switch {
		case a.BaseBeauty > b.BaseBeauty:
			return -1
		case a.BaseBeauty < b.BaseBeauty:
			return 1
		default:
			return 0
		}
	})
	return posts, nil
}

var _ pipeline.Node = (*BeautyBlendNode)(nil)

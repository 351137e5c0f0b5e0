package rerank

import (
	"context"
	"slices"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pipeline"
	"github.com/rushteam/tastekit/pkg/utils"
	"github.com/rushteam/tastekit/pkg/vecmath"
	"github.com/rushteam/tastekit/rank"
)

// HybridWeights 是 beauty 路径的融合系数。
type HybridWeights struct {
	Vibe        float64 // 决赛成员：Vibe·vibeScore + Base·baseBeauty
	Base        float64
	NonFinalist float64 // 其余通过美学过滤的帖子：NonFinalist·baseBeauty
	AIPenalty   float64 // 用户未要求 AI 内容时，aiSignals 帖子扣分

	// 对外 Score = ScoreFloor + ScoreScale·final，使强候选稳定越过下游保存门槛
	ScoreFloor float64
	ScoreScale float64
}

// DefaultHybridWeights 返回默认系数 0.70 / 0.30 / 0.85 / 0.35，Score = 0.55 + 0.45·final。
func DefaultHybridWeights() HybridWeights {
	return HybridWeights{Vibe: 0.70, Base: 0.30, NonFinalist: 0.85, AIPenalty: 0.35, ScoreFloor: 0.55, ScoreScale: 0.45}
}

// LegacyWeights 是 legacy 路径的融合系数。
type LegacyWeights struct {
	Primary    float64 // visionScore，缺失时用 textScore
	Embed      float64
	Engagement float64
	Text       float64
	AIPenalty  float64
}

// DefaultLegacyWeights 返回默认系数 0.45 / 0.30 / 0.15 / 0.10，AI 扣分 0.35。
func DefaultLegacyWeights() LegacyWeights {
	return LegacyWeights{Primary: 0.45, Embed: 0.30, Engagement: 0.15, Text: 0.10, AIPenalty: 0.35}
}

// PrimaryFinal 计算 beauty 路径的 finalScore，结果在 [0,1]。
func PrimaryFinal(p *core.Post, w HybridWeights, wantsAIArt bool) float64 {
	var final float64
	if p.VibeScore != nil {
		final = w.Vibe*vecmath.Clamp01(*p.VibeScore) + w.Base*p.BaseBeauty
	} else {
		final = w.NonFinalist * p.BaseBeauty
	}
	if !wantsAIArt && p.AISignals {
		final -= w.AIPenalty
	}
	return vecmath.Clamp01(final)
}

// LegacyFinal 计算 legacy 路径的 finalScore，结果在 [0,1]。
func LegacyFinal(p *core.Post, w LegacyWeights, wantsAIArt bool) float64 {
	primary := p.TextScore
	if p.VisionScore != nil {
		primary = *p.VisionScore
	}
	embedScore := vecmath.SimilarityScore(p.EmbeddingSim)
	eng := vecmath.Clamp01(rank.EnsureEngagement(p))

	final := w.Primary*primary + w.Embed*embedScore + w.Engagement*eng + w.Text*p.TextScore
	if !wantsAIArt && p.AISignals {
		final -= w.AIPenalty
	}
	return vecmath.Clamp01(final)
}

// HybridNode 是 beauty 路径的融合节点：写入 FinalScore 与对外 Score，并按 FinalScore 稳定降序排序。
type HybridNode struct {
	Weights HybridWeights
}

func (n *HybridNode) Name() string        { return "rerank.hybrid" }
func (n *HybridNode) Kind() pipeline.Kind { return pipeline.KindReRank }

func (n *HybridNode) Process(
	_ context.Context,
	rctx *core.RecommendContext,
	posts []*core.Post,
) ([]*core.Post, error) {
	wantsAI := rctx.Prefs().WantsAIArt()
	for _, p := range posts {
		p.FinalScore = PrimaryFinal(p, n.Weights, wantsAI)
		p.Score = vecmath.Clamp01(n.Weights.ScoreFloor + n.Weights.ScoreScale*p.FinalScore)
		p.PutLabel("rerank_final", utils.NumberLabel(p.FinalScore, utils.SourceReRank))
	}
	sortByFinal(posts)
	return posts, nil
}

// LegacyHybridNode 是 legacy 路径的融合节点：Score 直接等于 FinalScore。
type LegacyHybridNode struct {
	Weights LegacyWeights
}

func (n *LegacyHybridNode) Name() string        { return "rerank.legacy_hybrid" }
func (n *LegacyHybridNode) Kind() pipeline.Kind { return pipeline.KindReRank }

func (n *LegacyHybridNode) Process(
	_ context.Context,
	rctx *core.RecommendContext,
	posts []*core.Post,
) ([]*core.Post, error) {
	wantsAI := rctx.Prefs().WantsAIArt()
	for _, p := range posts {
		p.FinalScore = LegacyFinal(p, n.Weights, wantsAI)
		p.Score = p.FinalScore
		p.PutLabel("rerank_final", utils.NumberLabel(p.FinalScore, utils.SourceReRank))
	}
	sortByFinal(posts)
	return posts, nil
}

func sortByFinal(posts []*core.Post) {
	slices.SortStableFunc(posts, func(a, b *core.Post) int {
		switch {
		case a.FinalScore > b.FinalScore:
			return -1
		case a.FinalScore < b.FinalScore:
			return 1
		default:
			return 0
		}
	})
}

var (
	_ pipeline.Node = (*HybridNode)(nil)
	_ pipeline.Node = (*LegacyHybridNode)(nil)
)

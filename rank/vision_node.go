package rank

import (
	"context"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pipeline"
	"github.com/rushteam/tastekit/pkg/logging"
	"github.com/rushteam/tastekit/pkg/metrics"
	"github.com/rushteam/tastekit/pkg/utils"
	"github.com/rushteam/tastekit/pkg/workpool"
)

// DefaultVisionCandidates 是 legacy 路径中做视觉打分的候选数。
const DefaultVisionCandidates = 12

// VisionNode 对排在前面的帖子逐个调用视觉模型打分（legacy 路径）。
//
// 只写入 VisionScore / VisionTags / ImageDescription / AISignals，不改变顺序。
// 调用失败（解析错误、网络错误、超时）时这些字段保持为空，帖子退回启发式分数。
type VisionNode struct {
	Model         core.VisionModel
	MaxCandidates int
	Concurrency   int
}

func (n *VisionNode) Name() string        { return "rank.vision" }
func (n *VisionNode) Kind() pipeline.Kind { return pipeline.KindRank }

func (n *VisionNode) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	posts []*core.Post,
) ([]*core.Post, error) {
	if n.Model == nil {
		logging.Debug().Msg("vision model not configured, stage skipped")
		metrics.Fallback(n.Name(), "not_configured")
		return posts, nil
	}
	limit := n.MaxCandidates
	if limit <= 0 {
		limit = DefaultVisionCandidates
	}
	concurrency := n.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	prefs := rctx.Prefs()
	var fb core.Feedback
	if rctx != nil {
		fb = rctx.Feedback
	}

	head := posts[:min(limit, len(posts))]
	results := workpool.Map(ctx, head, concurrency, func(ctx context.Context, _ int, p *core.Post) core.Result[core.VisionVerdict] {
		return n.Model.ScorePost(ctx, p, prefs, fb)
	})

	for i, p := range head {
		res := results[i]
		switch res.Outcome {
		case core.OutcomeOK:
			v := res.Value
			p.VisionScore = v.Score
			p.VisionTags = v.Tags
			p.ImageDescription = v.Description
			p.AISignals = v.AISignals
			if v.Score != nil {
				p.PutLabel("rank_vision", utils.NumberLabel(*v.Score, utils.SourceRank))
			}
		case core.OutcomeParseError, core.OutcomeNetworkError, core.OutcomeTimeout:
			clearVision(p)
			metrics.Fallback(n.Name(), res.Outcome.String())
			logging.Warn().Err(res.Err).Str("post", p.ID).Str("outcome", res.Outcome.String()).Msg("vision scoring failed, heuristic score kept")
		}
	}
	return posts, nil
}

func clearVision(p *core.Post) {
	p.VisionScore = nil
	p.VisionTags = nil
	p.ImageDescription = ""
	p.AISignals = false
}

var _ pipeline.Node = (*VisionNode)(nil)

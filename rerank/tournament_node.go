package rerank

import (
	"context"
	"strconv"
	"strings"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pipeline"
	"github.com/rushteam/tastekit/pkg/logging"
	"github.com/rushteam/tastekit/pkg/metrics"
	"github.com/rushteam/tastekit/pkg/utils"
)

// TournamentNode 用视觉模型的分组相对比较重排前 TopK 个帖子（vibe check）。
//
//   - 只有进入决赛组且决赛调用成功的帖子写入 VibeScore
//   - 所有成功分组的 tags / 描述 / AI 标记都会附加到帖子上
//   - 输出是输入的全排列：前 TopK 个按锦标赛结果，其余保持原顺序
type TournamentNode struct {
	Model  core.VisionModel
	TopK   int
	Config TournamentConfig
}

func (n *TournamentNode) Name() string        { return "rerank.tournament" }
func (n *TournamentNode) Kind() pipeline.Kind { return pipeline.KindReRank }

func (n *TournamentNode) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	posts []*core.Post,
) ([]*core.Post, error) {
	if n.Model == nil {
		logging.Debug().Msg("tournament judge not configured, stage skipped")
		metrics.Fallback(n.Name(), "not_configured")
		return posts, nil
	}
	k := n.TopK
	if k <= 0 {
		k = DefaultTournamentK
	}
	head := posts[:min(k, len(posts))]
	if len(head) == 0 {
		return posts, nil
	}

	prefs := rctx.Prefs()
	var fb core.Feedback
	if rctx != nil {
		fb = rctx.Feedback
	}

	judge := func(ctx context.Context, group []int) core.Result[core.GroupVerdict] {
		members := make([]*core.Post, len(group))
		for i, idx := range group {
			members[i] = head[idx]
		}
		res := n.Model.JudgeGroup(ctx, members, prefs, fb)
		if res.Outcome != core.OutcomeOK {
			metrics.Fallback(n.Name(), res.Outcome.String())
			logging.Warn().Err(res.Err).Int("group", len(group)).Str("outcome", res.Outcome.String()).Msg("group judge failed, input order kept")
		}
		return res
	}
	result := Tournament(ctx, len(head), n.Config, judge)

	for idx, j := range result.Judgements {
		annotate(head[idx], j.Entry)
		head[idx].PutLabel("tournament_vibe", utils.Label{
			Value:  strconv.FormatFloat(j.Vibe, 'f', 4, 64),
			Source: utils.SourceReRank + ":r" + strconv.Itoa(j.Round),
		})
	}

	out := make([]*core.Post, 0, len(posts))
	for rank, idx := range result.Order {
		p := head[idx]
		if rank < result.Finalists {
			if j, ok := result.Judgements[idx]; ok && j.Round == result.FinalRound {
				p.VibeScore = core.Float(j.Vibe)
			}
			p.PutLabel("tournament", utils.Label{Value: "finalist", Source: utils.SourceReRank})
		}
		out = append(out, p)
	}
	out = append(out, posts[len(head):]...)
	return out, nil
}

// annotate 把分组比较的元信息附加到帖子上，不覆盖已有的视觉描述。
func annotate(p *core.Post, e core.GroupEntry) {
	for _, tag := range e.Tags {
		if !containsFold(p.VisionTags, tag) {
			p.VisionTags = append(p.VisionTags, tag)
		}
	}
	if p.ImageDescription == "" {
		p.ImageDescription = e.Description
	}
	if e.AIGenerated {
		p.AISignals = true
	}
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

var _ pipeline.Node = (*TournamentNode)(nil)

package rank

import (
	"context"
	"slices"
	"strings"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pipeline"
	"github.com/rushteam/tastekit/pkg/utils"
	"github.com/rushteam/tastekit/pkg/vecmath"
)

// 启发式打分参数，以百分之一为单位累加，最后统一换算，避免浮点累加误差
const (
	heuristicBase       = 30
	heuristicExactHit   = 15
	heuristicFragment   = 5
	heuristicMultiMatch = 10
	heuristicNoKeywords = 0.5
	minFragmentLen      = 4
)

// Keywords 从 topics + keywords + style 构建小写关键词集合，空串被忽略。
func Keywords(prefs core.Preferences) []string {
	prefs = prefs.Normalize()
	out := make([]string, 0, len(prefs.Topics)+len(prefs.Keywords)+1)
	for _, k := range slices.Concat(prefs.Topics, prefs.Keywords, []string{prefs.Style}) {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// HeuristicScore 对单个帖子做关键词打分：
//   - 基础分 0.3，每个完整命中 +0.15
//   - 未完整命中时，长度 > 3 的词片段（按空白和连字符切分）每个命中 +0.05
//   - 多于一个完整命中时额外 +0.1 × (matches - 1)
//   - 截断到 [0,1]；没有关键词时固定 0.5
func HeuristicScore(post *core.Post, keywords []string) float64 {
	if len(keywords) == 0 {
		return heuristicNoKeywords
	}
	text := strings.ToLower(post.Caption) + " " + strings.ToLower(strings.Join(post.Hashtags, " "))

	score := heuristicBase
	matches := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			matches++
			score += heuristicExactHit
			continue
		}
		for _, part := range strings.FieldsFunc(kw, isFragmentSep) {
			if len(part) >= minFragmentLen && strings.Contains(text, part) {
				score += heuristicFragment
			}
		}
	}
	if matches > 1 {
		score += heuristicMultiMatch * (matches - 1)
	}
	return vecmath.Clamp01(float64(score) / 100)
}

func isFragmentSep(r rune) bool {
	return r == '-' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// PreRank 是纯函数：返回打过分并按分数稳定降序排列的拷贝，不修改输入。
// 输出的 TextScore 与 Score 均为启发式分数。
func PreRank(posts []*core.Post, prefs core.Preferences, _ core.Feedback) []*core.Post {
	out := core.ClonePosts(posts)
	applyHeuristic(out, Keywords(prefs))
	return out
}

func applyHeuristic(posts []*core.Post, keywords []string) {
	for _, p := range posts {
		p.TextScore = HeuristicScore(p, keywords)
		p.Score = p.TextScore
	}
	slices.SortStableFunc(posts, func(a, b *core.Post) int {
		switch {
		case a.TextScore > b.TextScore:
			return -1
		case a.TextScore < b.TextScore:
			return 1
		default:
			return 0
		}
	})
}

// HeuristicNode 是启发式预排序 Node，总是运行，不做任何外部调用。
//   - 写入 TextScore / Score
//   - 写入 labels：rank_heuristic
//   - 按分数稳定降序排序
type HeuristicNode struct{}

func (n *HeuristicNode) Name() string        { return "rank.heuristic" }
func (n *HeuristicNode) Kind() pipeline.Kind { return pipeline.KindRank }

func (n *HeuristicNode) Process(
	_ context.Context,
	rctx *core.RecommendContext,
	posts []*core.Post,
) ([]*core.Post, error) {
	out := make([]*core.Post, 0, len(posts))
	for _, p := range posts {
		if p != nil {
			out = append(out, p)
		}
	}
	applyHeuristic(out, Keywords(rctx.Prefs()))
	for _, p := range out {
		p.PutLabel("rank_heuristic", utils.NumberLabel(p.TextScore, utils.SourceRank))
	}
	return out, nil
}

var _ pipeline.Node = (*HeuristicNode)(nil)

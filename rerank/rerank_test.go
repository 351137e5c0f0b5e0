package rerank

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/rushteam/tastekit/core"
)

func ids(posts []*core.Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func isPermutation(order []int, n int) bool {
	if len(order) != n {
		return false
	}
	sorted := slices.Clone(order)
	slices.Sort(sorted)
	for i, v := range sorted {
		if v != i {
			return false
		}
	}
	return true
}

func TestResolveOrder(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		order []int
		want  []int
	}{
		{"完整排名", 3, []int{2, 0, 1}, []int{2, 0, 1}},
		{"遗漏下标按原顺序追加", 5, []int{3, 1}, []int{3, 1, 0, 2, 4}},
		{"越界与重复被丢弃", 3, []int{7, 1, 1, -1}, []int{1, 0, 2}},
		{"空排名", 2, nil, []int{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ResolveOrder(tt.size, tt.order)); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestPlayRound_SyntheticOutcomes(t *testing.T) {
	groups := [][]int{{0, 1, 2, 3, 4}, {5, 6, 7, 8, 9}, {10, 11}}
	verdicts := []core.Result[core.GroupVerdict]{
		core.OK(core.GroupVerdict{
			Order:   []int{4, 2},
			Entries: []core.GroupEntry{{Index: 4, Vibe: core.Float(0.9), AIGenerated: true}},
		}),
		core.Failed[core.GroupVerdict](core.OutcomeTimeout, context.DeadlineExceeded),
		core.Failed[core.GroupVerdict](core.OutcomeParseError, errors.New("not json")),
	}
	rr := PlayRound(0, groups, verdicts, 2)

	if diff := cmp.Diff([]int{4, 2, 5, 6, 10, 11}, rr.Winners); diff != "" {
		t.Errorf("晋级者不符 (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1, 3, 7, 8, 9}, rr.Losers); diff != "" {
		t.Errorf("淘汰者不符 (-want +got):\n%s", diff)
	}
	if j := rr.Judgements[4]; j.Vibe != 0.9 || !j.Entry.AIGenerated {
		t.Errorf("应使用模型给出的 vibe 与元信息: %+v", j)
	}
	if j := rr.Judgements[2]; math.Abs(j.Vibe-0.8) > 1e-9 {
		t.Errorf("缺 vibe 时应按名次补 1-pos/size，期望 0.8，实际 %v", j.Vibe)
	}
	if _, ok := rr.Judgements[5]; ok {
		t.Error("失败分组不应产生元信息")
	}
}

type scriptedJudge struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

// judge 总是把组内最后一个排第一，用于验证排名确实被采用
func (s *scriptedJudge) judge(_ context.Context, group []int) core.Result[core.GroupVerdict] {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fail {
		return core.Failed[core.GroupVerdict](core.OutcomeNetworkError, errors.New("down"))
	}
	order := make([]int, 0, len(group))
	for i := len(group) - 1; i >= 0; i-- {
		order = append(order, i)
	}
	return core.OK(core.GroupVerdict{Order: order})
}

func TestTournament_Permutation(t *testing.T) {
	for _, n := range []int{0, 1, 4, 5, 6, 11, 24, 37} {
		for _, fail := range []bool{false, true} {
			j := &scriptedJudge{fail: fail}
			res := Tournament(context.Background(), n, TournamentConfig{}, j.judge)
			if !isPermutation(res.Order, n) {
				t.Errorf("n=%d fail=%v: 输出不是全排列: %v", n, fail, res.Order)
			}
			if fail && len(res.Judgements) != 0 {
				t.Errorf("n=%d: 全部失败时不应有元信息", n)
			}
		}
	}
}

func TestTournament_AllFailKeepsInputOrder(t *testing.T) {
	j := &scriptedJudge{fail: true}
	res := Tournament(context.Background(), 12, TournamentConfig{}, j.judge)
	// 第一轮 [0..4] [5..9] [10,11] 晋级 0,1,5,6,10,11
	// 第二轮 [0,1,5,6,10] [11] 晋级 0,1,11，决赛保持顺序
	want := []int{0, 1, 11, 5, 6, 10, 2, 3, 4, 7, 8, 9}
	if diff := cmp.Diff(want, res.Order); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if res.Finalists != 3 {
		t.Errorf("决赛人数期望 3，实际 %d", res.Finalists)
	}
}

func TestTournament_UsesRanking(t *testing.T) {
	j := &scriptedJudge{}
	res := Tournament(context.Background(), 5, TournamentConfig{}, j.judge)
	if diff := cmp.Diff([]int{4, 3, 2, 1, 0}, res.Order); diff != "" {
		t.Errorf("单组时应直接采用决赛排名 (-want +got):\n%s", diff)
	}
	if j.calls != 1 {
		t.Errorf("单组只应调用一次，实际 %d", j.calls)
	}
	if res.FinalRound != 0 || res.Judgements[4].Vibe != 1 {
		t.Errorf("决赛第一名 vibe 应为 1: %+v", res.Judgements[4])
	}
}

type groupVision struct {
	fail bool
}

func (g groupVision) ScorePost(context.Context, *core.Post, core.Preferences, core.Feedback) core.Result[core.VisionVerdict] {
	return core.Failed[core.VisionVerdict](core.OutcomeNetworkError, errors.New("unused"))
}

func (g groupVision) JudgeGroup(_ context.Context, group []*core.Post, _ core.Preferences, _ core.Feedback) core.Result[core.GroupVerdict] {
	if g.fail {
		return core.Failed[core.GroupVerdict](core.OutcomeNetworkError, errors.New("down"))
	}
	v := core.GroupVerdict{}
	for i := len(group) - 1; i >= 0; i-- {
		v.Order = append(v.Order, i)
		v.Entries = append(v.Entries, core.GroupEntry{Index: i, Tags: []string{"moody"}, AIGenerated: group[i].ID == "p2"})
	}
	return core.OK(v)
}

func TestTournamentNode(t *testing.T) {
	posts := []*core.Post{{ID: "p0"}, {ID: "p1"}, {ID: "p2"}, {ID: "tail"}}
	n := &TournamentNode{Model: groupVision{}, TopK: 3}
	got, err := n.Process(context.Background(), nil, posts)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"p2", "p1", "p0", "tail"}, ids(got)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if got[0].VibeScore == nil || *got[0].VibeScore != 1 || !got[0].AISignals {
		t.Errorf("决赛成员应写入 vibe 与 AI 标记: %+v", got[0])
	}
	if got[3].VibeScore != nil {
		t.Error("TopK 之外的帖子不应参与锦标赛")
	}
	if diff := cmp.Diff([]string{"moody"}, got[1].VisionTags); diff != "" {
		t.Errorf("tags 应附加到帖子 (-want +got):\n%s", diff)
	}

	failing := &TournamentNode{Model: groupVision{fail: true}}
	fresh := []*core.Post{{ID: "a"}, {ID: "b"}}
	got, _ = failing.Process(context.Background(), nil, fresh)
	if diff := cmp.Diff([]string{"a", "b"}, ids(got)); diff != "" {
		t.Errorf("调用失败时保持输入顺序 (-want +got):\n%s", diff)
	}
	if got[0].VibeScore != nil {
		t.Error("调用失败时不应写入 vibe")
	}
}

func TestPrimaryFinal(t *testing.T) {
	w := DefaultHybridWeights()
	tests := []struct {
		name    string
		post    *core.Post
		wantsAI bool
		want    float64
	}{
		{"决赛成员", &core.Post{VibeScore: core.Float(1), BaseBeauty: 0.5}, false, 0.85},
		{"非决赛成员", &core.Post{BaseBeauty: 0.5}, false, 0.425},
		{"AI 扣分", &core.Post{VibeScore: core.Float(1), BaseBeauty: 0.5, AISignals: true}, false, 0.5},
		{"用户要求 AI 内容", &core.Post{VibeScore: core.Float(1), BaseBeauty: 0.5, AISignals: true}, true, 0.85},
		{"扣分后截断到 0", &core.Post{BaseBeauty: 0.1, AISignals: true}, false, 0},
		{"超界 vibe 被截断", &core.Post{VibeScore: core.Float(7), BaseBeauty: 1}, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PrimaryFinal(tt.post, w, tt.wantsAI); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("期望 %v，实际 %v", tt.want, got)
			}
		})
	}
}

func TestLegacyFinal(t *testing.T) {
	w := DefaultLegacyWeights()
	p := &core.Post{TextScore: 0.5, EmbeddingSim: 0, EngagementScore: core.Float(0)}
	// 0.45·0.5 + 0.30·0.5 + 0 + 0.10·0.5
	if got := LegacyFinal(p, w, false); math.Abs(got-0.425) > 1e-9 {
		t.Errorf("期望 0.425，实际 %v", got)
	}
	p.VisionScore = core.Float(1)
	if got := LegacyFinal(p, w, false); math.Abs(got-0.65) > 1e-9 {
		t.Errorf("有视觉分时期望 0.65，实际 %v", got)
	}
}

func TestAIPenaltyNeverIncreasesScore(t *testing.T) {
	for _, vibe := range []float64{0, 0.3, 0.7, 1} {
		for _, base := range []float64{0, 0.2, 0.6, 1} {
			clean := &core.Post{VibeScore: core.Float(vibe), BaseBeauty: base}
			flagged := &core.Post{VibeScore: core.Float(vibe), BaseBeauty: base, AISignals: true}
			if PrimaryFinal(flagged, DefaultHybridWeights(), false) > PrimaryFinal(clean, DefaultHybridWeights(), false) {
				t.Errorf("vibe=%v base=%v: AI 帖子得分不应高于同等普通帖子", vibe, base)
			}
			for _, v := range []*core.Post{clean, flagged} {
				if s := PrimaryFinal(v, DefaultHybridWeights(), false); s < 0 || s > 1 {
					t.Errorf("finalScore 越界: %v", s)
				}
			}
		}
	}
}

func TestHybridNode_ScoreRescale(t *testing.T) {
	posts := []*core.Post{
		{ID: "plain", BaseBeauty: 0.4},
		{ID: "winner", VibeScore: core.Float(1), BaseBeauty: 1},
	}
	n := &HybridNode{Weights: DefaultHybridWeights()}
	got, _ := n.Process(context.Background(), nil, posts)
	if diff := cmp.Diff([]string{"winner", "plain"}, ids(got)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if math.Abs(got[0].Score-1) > 1e-9 {
		t.Errorf("final=1 时 Score 应为 1，实际 %v", got[0].Score)
	}
	if math.Abs(got[1].Score-(0.55+0.45*0.34)) > 1e-9 {
		t.Errorf("Score 应为 0.55+0.45·final，实际 %v", got[1].Score)
	}
}

func TestDedupByCaption(t *testing.T) {
	posts := []*core.Post{
		{ID: "high", Caption: "Sunset at the lake! #nature", Score: 0.9},
		{ID: "low", Caption: "sunset   at the lake!  #nature", Score: 0.4},
		{ID: "e1"},
		{ID: "e2", Caption: "   "},
		{ID: "other", Caption: "Mountains"},
	}
	once := DedupByCaption(posts)
	if diff := cmp.Diff([]string{"high", "e1", "e2", "other"}, ids(once)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	twice := DedupByCaption(once)
	if len(twice) != len(once) {
		t.Errorf("去重应幂等: %d != %d", len(twice), len(once))
	}
}

func TestNormalizeCaption(t *testing.T) {
	if got := NormalizeCaption("  Hello\t\tWORLD \n"); got != "hello world" {
		t.Errorf("期望 %q，实际 %q", "hello world", got)
	}
}

func TestTopNNode(t *testing.T) {
	posts := []*core.Post{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	got, _ := (&TopNNode{N: 2}).Process(context.Background(), nil, posts)
	if diff := cmp.Diff([]string{"a", "b"}, ids(got)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	got, _ = (&TopNNode{}).Process(context.Background(), nil, posts)
	if len(got) != 3 {
		t.Errorf("N<=0 时不截断，实际 %d", len(got))
	}
}

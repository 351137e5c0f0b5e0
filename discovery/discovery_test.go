package discovery

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/filter"
	"github.com/rushteam/tastekit/model"
	"github.com/rushteam/tastekit/rank"
	"github.com/rushteam/tastekit/recall"
	"github.com/rushteam/tastekit/store"
)

func ids(posts []*core.Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// samplePosts 启发式排序后为 hit, dup, neon, miss；dup 与 hit 的 caption 规范化后相同
func samplePosts() []*core.Post {
	return []*core.Post{
		{ID: "hit", Caption: "cyberpunk city at night", ImageURL: "img/hit"},
		{ID: "miss", Caption: "breakfast", ImageURL: "img/miss"},
		{ID: "dup", Caption: "Cyberpunk  city at NIGHT", ImageURL: "img/dup"},
		{ID: "neon", Caption: "neon cyberpunk street", ImageURL: "img/neon"},
	}
}

func sampleRequest() Request {
	return Request{
		UserID:      "u1",
		Preferences: core.Preferences{Topics: []string{"cyberpunk"}},
		Posts:       samplePosts(),
	}
}

type failingVision struct{}

func (failingVision) ScorePost(context.Context, *core.Post, core.Preferences, core.Feedback) core.Result[core.VisionVerdict] {
	return core.Failed[core.VisionVerdict](core.OutcomeTimeout, context.DeadlineExceeded)
}

func (failingVision) JudgeGroup(context.Context, []*core.Post, core.Preferences, core.Feedback) core.Result[core.GroupVerdict] {
	return core.Failed[core.GroupVerdict](core.OutcomeParseError, errors.New("not json"))
}

type failingText struct{}

func (failingText) EmbedTexts(context.Context, []string) ([][]float64, error) {
	return nil, errors.New("429 too many requests")
}

// constText 对任意文本返回同一个向量
type constText struct{}

func (constText) EmbedTexts(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{1, 0}
	}
	return out, nil
}

type mapEmbedder struct {
	vecs map[string][]float64
	err  error
}

func (m mapEmbedder) EmbedImage(_ context.Context, url string) ([]float64, error) {
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.vecs[url]
	if !ok {
		return nil, errors.New("404")
	}
	return v, nil
}

// head 的美感分为 4·x + 2·y + 1
func head() *model.AestheticHead {
	return &model.AestheticHead{Dim: 2, Weights: []float64{4, 2}, Bias: 1}
}

func TestEngine_NoCollaboratorsUsesHeuristic(t *testing.T) {
	e := New(Options{})
	res, err := e.Rank(context.Background(), sampleRequest())
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != PathHeuristic {
		t.Errorf("期望 heuristic 路径，实际 %s", res.Path)
	}
	if diff := cmp.Diff([]string{"hit", "neon", "miss"}, ids(res.Posts)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	for _, p := range res.Posts {
		if p.FinalScore != p.Score {
			t.Errorf("%s: heuristic 路径的 FinalScore 应等于 Score", p.ID)
		}
	}
}

func TestEngine_AllExternalCallsFail(t *testing.T) {
	req := sampleRequest()
	// miss 互动量很高，若 legacy 只剩互动分参与融合会被抬到最前
	req.Posts[1].LikeCount = core.Float(1e5)
	req.Posts[1].CommentCount = core.Float(1e5)
	req.Posts[1].ViewCount = core.Float(1e6)

	e := New(Options{
		BeautyEnabled: true,
		ImageEmbedder: mapEmbedder{err: errors.New("connection refused")},
		Aesthetic:     head(),
		Vision:        failingVision{},
		TextEmbedder:  failingText{},
	})
	res, err := e.Rank(context.Background(), req)
	if err != nil {
		t.Fatalf("外部调用失败不应返回错误: %v", err)
	}
	if res.Path != PathHeuristic {
		t.Errorf("没有任何外部信号时应退回启发式排序，实际 %s", res.Path)
	}
	if diff := cmp.Diff([]string{"hit", "neon", "miss"}, ids(res.Posts)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	want := map[string]float64{"hit": 0.45, "neon": 0.45, "miss": 0.3}
	for _, p := range res.Posts {
		if p.VisionScore != nil {
			t.Errorf("%s: 视觉调用失败时 VisionScore 应为空", p.ID)
		}
		if !approx(p.Score, want[p.ID]) || !approx(p.FinalScore, p.Score) {
			t.Errorf("%s: 期望启发式分 %v，实际 score=%v final=%v", p.ID, want[p.ID], p.Score, p.FinalScore)
		}
	}
}

func TestEngine_BeautyPath(t *testing.T) {
	e := New(Options{
		BeautyEnabled: true,
		ImageEmbedder: mapEmbedder{vecs: map[string][]float64{
			"img/hit":  {1, 0}, // 5
			"img/dup":  {1, 0},
			"img/neon": {1, 1}, // 7
			"img/miss": {0, 1}, // 3，低于门槛
		}},
		Aesthetic: head(),
		Vision:    failingVision{},
	})
	res, err := e.Rank(context.Background(), sampleRequest())
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != PathBeauty {
		t.Fatalf("期望 beauty 路径，实际 %s", res.Path)
	}
	if diff := cmp.Diff([]string{"neon", "hit"}, ids(res.Posts)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	// 无口味向量 tasteScore=0.5；aestheticNorm(7)=0.4；锦标赛失败时 final = 0.85·base
	neon := res.Posts[0]
	wantBase := 0.55*0.5 + 0.30*0.4
	if !approx(neon.BaseBeauty, wantBase) {
		t.Errorf("baseBeauty 期望 %v，实际 %v", wantBase, neon.BaseBeauty)
	}
	if !approx(neon.FinalScore, 0.85*wantBase) {
		t.Errorf("finalScore 期望 %v，实际 %v", 0.85*wantBase, neon.FinalScore)
	}
	if !approx(neon.Score, 0.55+0.45*neon.FinalScore) {
		t.Errorf("Score 应为 0.55+0.45·final，实际 %v", neon.Score)
	}
	if neon.VibeScore != nil {
		t.Error("锦标赛调用失败时不应有 vibe 分")
	}
}

func TestEngine_AestheticThreshold(t *testing.T) {
	// 所有图片美感分都是 3，低于默认门槛 5
	low := mapEmbedder{vecs: map[string][]float64{
		"img/hit":  {0, 1},
		"img/dup":  {0, 1},
		"img/neon": {0, 1},
		"img/miss": {0, 1},
	}}
	tests := []struct {
		name string
		min  *float64
		want Path
	}{
		{"默认门槛", nil, PathHeuristic},
		{"门槛放宽到 0", core.Float(0), PathBeauty},
		{"显式门槛 2", core.Float(2), PathBeauty},
		{"显式门槛 4", core.Float(4), PathHeuristic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(Options{
				BeautyEnabled: true,
				ImageEmbedder: low,
				Aesthetic:     head(),
				Vision:        failingVision{},
				MinAesthetic:  tt.min,
			})
			res, err := e.Rank(context.Background(), sampleRequest())
			if err != nil {
				t.Fatal(err)
			}
			if res.Path != tt.want {
				t.Errorf("path = %s, want %s", res.Path, tt.want)
			}
			if tt.want == PathBeauty && len(res.Posts) != 3 {
				t.Errorf("放宽门槛后应保留全部去重后的帖子，实际 %v", ids(res.Posts))
			}
		})
	}
}

func TestOptions_Defaults(t *testing.T) {
	o := Options{}.withDefaults()
	if *o.MinAesthetic != filter.DefaultMinAesthetic || *o.MinTechnical != filter.DefaultMinTechnical {
		t.Errorf("默认门槛 = %v/%v", *o.MinAesthetic, *o.MinTechnical)
	}
	o = Options{MinAesthetic: core.Float(0), MinTechnical: core.Float(0)}.withDefaults()
	if *o.MinAesthetic != 0 || *o.MinTechnical != 0 {
		t.Errorf("显式 0 不应被默认值覆盖，实际 %v/%v", *o.MinAesthetic, *o.MinTechnical)
	}
}

func TestEngine_LegacyConcurrency(t *testing.T) {
	tests := []struct {
		name string
		set  int
		want int
	}{
		{"默认", 0, 4},
		{"显式", 7, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(Options{Vision: failingVision{}, Concurrency: 2, LegacyConcurrency: tt.set})
			var got *rank.VisionNode
			for _, n := range e.legacy.Nodes {
				if v, ok := n.(*rank.VisionNode); ok {
					got = v
				}
			}
			if got == nil {
				t.Fatal("legacy 路径缺少视觉打分节点")
			}
			if got.Concurrency != tt.want {
				t.Errorf("Concurrency = %d, want %d", got.Concurrency, tt.want)
			}
		})
	}
}

func TestEngine_BeautyDisabled(t *testing.T) {
	e := New(Options{
		BeautyEnabled: false,
		ImageEmbedder: mapEmbedder{vecs: map[string][]float64{"img/hit": {1, 1}}},
		Aesthetic:     head(),
		TextEmbedder:  constText{},
	})
	res, _ := e.Rank(context.Background(), sampleRequest())
	if res.Path != PathLegacy {
		t.Errorf("beauty 关闭时应走 legacy，实际 %s", res.Path)
	}
	for _, p := range res.Posts {
		if p.AestheticScore != nil {
			t.Errorf("%s: legacy 路径不应带有 beauty 信号", p.ID)
		}
	}
}

func TestEngine_DoesNotMutateInput(t *testing.T) {
	req := sampleRequest()
	e := New(Options{TextEmbedder: failingText{}})
	if _, err := e.Rank(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	for _, p := range req.Posts {
		if p.Score != 0 || p.Labels != nil {
			t.Errorf("%s: 输入帖子被修改", p.ID)
		}
	}
	if diff := cmp.Diff([]string{"hit", "miss", "dup", "neon"}, ids(req.Posts)); diff != "" {
		t.Errorf("输入顺序被修改 (-want +got):\n%s", diff)
	}
}

func TestEngine_EmptyAndCancelled(t *testing.T) {
	e := New(Options{})
	res, err := e.Rank(context.Background(), Request{UserID: "u1"})
	if err != nil || len(res.Posts) != 0 {
		t.Errorf("空输入应返回空结果: %v %v", res, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Rank(ctx, sampleRequest()); !errors.Is(err, context.Canceled) {
		t.Errorf("ctx 已取消时应返回 context.Canceled，实际 %v", err)
	}
}

func TestEngine_SavedPostsExcluded(t *testing.T) {
	ctx := context.Background()
	saved := filter.NewStoreAdapter(store.NewMemoryStore())
	e := New(Options{Saved: saved})

	if err := e.MarkSaved(ctx, "u1", []*core.Post{{ID: "hit"}}); err != nil {
		t.Fatal(err)
	}
	res, _ := e.Rank(ctx, sampleRequest())
	if diff := cmp.Diff([]string{"dup", "neon", "miss"}, ids(res.Posts)); diff != "" {
		t.Errorf("已保存帖子应被排除 (-want +got):\n%s", diff)
	}

	other := sampleRequest()
	other.UserID = "u2"
	res, _ = e.Rank(ctx, other)
	if len(res.Posts) != 3 {
		t.Errorf("其他用户不受影响，期望 3 条，实际 %d", len(res.Posts))
	}
}

type stubAccounts struct{}

func (stubAccounts) RelatedAccounts(context.Context, []string, int) ([]string, error) {
	return []string{"friend"}, nil
}

func (stubAccounts) PostsForAccounts(_ context.Context, handles []string, _ int) ([]*core.Post, error) {
	var out []*core.Post
	for _, h := range handles {
		out = append(out, &core.Post{ID: "from_" + h, Author: h, Caption: "cyberpunk alley by " + h})
	}
	return out, nil
}

func TestEngine_SeedExpandWidensCandidates(t *testing.T) {
	e := New(Options{
		Accounts:   stubAccounts{},
		SeedExpand: recall.SeedExpandConfig{Enabled: true},
	})
	req := sampleRequest()
	req.Preferences.LikedAccounts = []string{"@seed"}
	res, _ := e.Rank(context.Background(), req)

	got := map[string]string{}
	for _, p := range res.Posts {
		got[p.ID] = p.Source
	}
	for _, id := range []string{"from_seed", "from_friend", "hit", "neon", "miss"} {
		if _, ok := got[id]; !ok {
			t.Errorf("结果中缺少 %s", id)
		}
	}
	if got["from_friend"] != recall.SeedExpandSource {
		t.Errorf("扩展帖子的来源应为 %s，实际 %q", recall.SeedExpandSource, got["from_friend"])
	}
}

func TestSavePolicy_Select(t *testing.T) {
	post := func(id, caption string, score float64) *core.Post {
		return &core.Post{ID: id, Caption: caption, Score: score}
	}
	tests := []struct {
		name  string
		posts []*core.Post
		limit int
		want  []string
	}{
		{
			name:  "优先取高分并去重",
			posts: []*core.Post{post("a", "x", 0.95), post("b", " X ", 0.92), post("c", "y", 0.8)},
			want:  []string{"a"},
		},
		{
			name:  "没有高分时退到次一档",
			posts: []*core.Post{post("a", "x", 0.85), post("b", "y", 0.75), post("c", "z", 0.5)},
			want:  []string{"a", "b"},
		},
		{
			name:  "都不达标",
			posts: []*core.Post{post("a", "x", 0.6)},
			want:  []string{},
		},
		{
			name:  "数量上限",
			posts: []*core.Post{post("a", "1", 0.99), post("b", "2", 0.98), post("c", "3", 0.97)},
			limit: 2,
			want:  []string{"a", "b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewSavePolicy(0, 0, tt.limit, "")
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, ids(p.Select(tt.posts))); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestSavePolicy_Expr(t *testing.T) {
	p, err := NewSavePolicy(0.9, 0.7, 10, "!post.ai_signals")
	if err != nil {
		t.Fatal(err)
	}
	posts := []*core.Post{
		{ID: "ai", Caption: "a", Score: 0.95, AISignals: true},
		{ID: "human", Caption: "b", Score: 0.8},
	}
	if diff := cmp.Diff([]string{"human"}, ids(p.Select(posts))); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	if _, err := NewSavePolicy(0.6, 0.8, 10, ""); err == nil {
		t.Error("fallback 高于 threshold 时应返回错误")
	}
	if _, err := NewSavePolicy(0, 0, 0, "post.score >>> 1"); err == nil {
		t.Error("非法表达式应返回错误")
	}
}

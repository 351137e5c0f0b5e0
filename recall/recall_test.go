package recall

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/store"
)

type fakeSource struct {
	name  string
	posts []*core.Post
	err   error
	delay time.Duration
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Recall(ctx context.Context, _ *core.RecommendContext) ([]*core.Post, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return core.ClonePosts(f.posts), f.err
}

func ids(posts []*core.Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func TestFanout_MergeOrder(t *testing.T) {
	a := &fakeSource{name: "a", posts: []*core.Post{{ID: "1"}, {ID: "2"}}}
	b := &fakeSource{name: "b", posts: []*core.Post{{ID: "2"}, {ID: "3"}}}
	broken := &fakeSource{name: "broken", err: errors.New("boom")}

	tests := []struct {
		name     string
		strategy string
		dedup    bool
		want     []string
	}{
		{"first dedup", MergeFirst, true, []string{"0", "1", "2", "3"}},
		{"union", MergeUnion, true, []string{"0", "1", "2", "2", "3"}},
		{"priority dedup", MergePriority, true, []string{"0", "1", "2", "3"}},
		{"no dedup", MergeFirst, false, []string{"0", "1", "2", "2", "3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &Fanout{
				Sources:       []Source{a, broken, b},
				IncludeInput:  true,
				Dedup:         tt.dedup,
				MaxConcurrent: 2,
				MergeStrategy: tt.strategy,
			}
			got, err := n.Process(context.Background(), nil, []*core.Post{{ID: "0"}})
			if err != nil {
				t.Fatalf("Process 返回错误: %v", err)
			}
			if diff := cmp.Diff(tt.want, ids(got)); diff != "" {
				t.Errorf("合并结果不符 (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFanout_RecallSourceLabel(t *testing.T) {
	n := &Fanout{
		Sources: []Source{&fakeSource{name: "a", posts: []*core.Post{{ID: "1"}}}},
		Dedup:   true,
	}
	got, _ := n.Process(context.Background(), nil, nil)
	if len(got) != 1 {
		t.Fatalf("期望 1 个帖子，实际 %d", len(got))
	}
	if lbl := got[0].Labels["recall_source"]; lbl.Value != "a" {
		t.Errorf("recall_source 期望 a，实际 %q", lbl.Value)
	}
}

func TestFanout_Timeout(t *testing.T) {
	n := &Fanout{
		Sources: []Source{
			&fakeSource{name: "slow", posts: []*core.Post{{ID: "slow"}}, delay: time.Second},
			&fakeSource{name: "fast", posts: []*core.Post{{ID: "fast"}}},
		},
		Dedup:   true,
		Timeout: 20 * time.Millisecond,
	}
	got, err := n.Process(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("超时不应返回错误: %v", err)
	}
	if diff := cmp.Diff([]string{"fast"}, ids(got)); diff != "" {
		t.Errorf("超时的来源应被忽略 (-want +got):\n%s", diff)
	}
}

func TestStatic_FromStore(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	defer mem.Close()

	fallback := &Static{Store: mem, Key: "raw:u1", Posts: []*core.Post{{ID: "mem"}}}
	got, err := fallback.Recall(ctx, nil)
	if err != nil {
		t.Fatalf("key 不存在时应退回内存列表: %v", err)
	}
	if diff := cmp.Diff([]string{"mem"}, ids(got)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	got[0].Score = 1
	if fallback.Posts[0].Score != 0 {
		t.Error("返回值应为拷贝，不应修改原始帖子")
	}

	if err := mem.Set(ctx, "raw:u1", []byte(`[{"id":"a"},{"id":"b"}]`), 0); err != nil {
		t.Fatal(err)
	}
	got, err = fallback.Recall(ctx, nil)
	if err != nil {
		t.Fatalf("Recall 返回错误: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, ids(got)); diff != "" {
		t.Errorf("应优先读取 Store (-want +got):\n%s", diff)
	}

	if err := mem.Set(ctx, "raw:u1", []byte(`not json`), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := fallback.Recall(ctx, nil); err == nil {
		t.Error("非法 JSON 应返回错误")
	}
}

type fakeAccounts struct {
	mu       sync.Mutex
	related  []string
	relErr   error
	posts    map[string][]*core.Post
	requests [][]string
}

func (f *fakeAccounts) RelatedAccounts(_ context.Context, _ []string, limit int) ([]string, error) {
	if f.relErr != nil {
		return nil, f.relErr
	}
	if limit > 0 && len(f.related) > limit {
		return f.related[:limit], nil
	}
	return f.related, nil
}

func (f *fakeAccounts) PostsForAccounts(_ context.Context, handles []string, _ int) ([]*core.Post, error) {
	f.mu.Lock()
	f.requests = append(f.requests, handles)
	f.mu.Unlock()
	var out []*core.Post
	for _, h := range handles {
		out = append(out, f.posts[h]...)
	}
	return out, nil
}

func TestExpandAccounts(t *testing.T) {
	got := ExpandAccounts(
		[]string{"Alice", "bob"},
		[]string{"@alice", "carol", "BOB", "dave", "carol", "erin"},
		2, 3,
	)
	want := []string{"Alice", "bob", "carol"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("扩展账号应排除种子并受总数限制 (-want +got):\n%s", diff)
	}
}

func TestPickTopByDelta(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-30 * 24 * time.Hour)
	posts := []*core.Post{
		{ID: "a1", Author: "alice", LikeCount: core.Float(10)},
		{ID: "a2", Author: "alice", LikeCount: core.Float(10)},
		{ID: "a3", Author: "alice", LikeCount: core.Float(100), Source: "scrape"},
		{ID: "b1", Author: "@bob", LikeCount: core.Float(5)},
		{ID: "b2", Author: "bob", LikeCount: core.Float(6)},
		{ID: "c1", Author: "carol", LikeCount: core.Float(1000), Timestamp: &old},
		{ID: "c2", Author: "carol", LikeCount: core.Float(1)},
		{ID: "x", Author: ""},
	}

	got := PickTopByDelta(posts, SeedExpandConfig{KeepPerAccount: 2, DaysBack: 7}, now)

	// alice: 平均 40，a3 delta 2.5 达到阈值，只保留 a3
	// bob:   没有 viral 帖子，按 delta 降序取前 2
	// carol: c1 超出时间窗口
	want := []string{"a3", "b2", "b1", "c2"}
	if diff := cmp.Diff(want, ids(got)); diff != "" {
		t.Fatalf("挑选结果不符 (-want +got):\n%s", diff)
	}
	if got[0].Source != "scrape+seed_expand" {
		t.Errorf("已有来源应追加标记，实际 %q", got[0].Source)
	}
	if got[1].Source != SeedExpandSource {
		t.Errorf("来源标记期望 %q，实际 %q", SeedExpandSource, got[1].Source)
	}
	if s := *got[0].EngagementScore; s != 2.5/4 {
		t.Errorf("engagementScore 期望 %v，实际 %v", 2.5/4, s)
	}
	if posts[2].EngagementScore != nil || posts[2].Source != "scrape" {
		t.Error("不应修改输入帖子")
	}
}

func TestPickTopByDelta_ZeroEngagement(t *testing.T) {
	posts := []*core.Post{
		{ID: "1", Author: "a"},
		{ID: "2", Author: "a"},
		{ID: "1", Author: "b"},
	}
	got := PickTopByDelta(posts, SeedExpandConfig{}, time.Now())
	if diff := cmp.Diff([]string{"1", "2"}, ids(got)); diff != "" {
		t.Errorf("零互动时应保留原顺序并按 ID 去重 (-want +got):\n%s", diff)
	}
	for _, p := range got {
		if *p.EngagementScore != 0 {
			t.Errorf("零互动 engagementScore 应为 0，实际 %v", *p.EngagementScore)
		}
	}
}

func TestSeedExpand_Recall(t *testing.T) {
	accounts := &fakeAccounts{
		related: []string{"carol", "alice"},
		posts: map[string][]*core.Post{
			"alice": {{ID: "a1", Author: "alice", LikeCount: core.Float(3)}},
			"carol": {{ID: "c1", Author: "carol", LikeCount: core.Float(9)}},
		},
	}
	rctx := core.NewRecommendContext("u1", core.Preferences{LikedAccounts: []string{"@alice"}}, core.Feedback{})

	disabled := &SeedExpand{Accounts: accounts}
	if got, _ := disabled.Recall(context.Background(), rctx); len(got) != 0 {
		t.Errorf("未启用时应返回空，实际 %d", len(got))
	}

	s := &SeedExpand{Accounts: accounts, Config: SeedExpandConfig{Enabled: true, BatchSize: 1}}
	got, err := s.Process(context.Background(), rctx, []*core.Post{{ID: "raw"}})
	if err != nil {
		t.Fatalf("Process 返回错误: %v", err)
	}
	if diff := cmp.Diff([]string{"raw", "a1", "c1"}, ids(got)); diff != "" {
		t.Errorf("应在原始候选后追加扩展结果 (-want +got):\n%s", diff)
	}
	if len(accounts.requests) != 2 {
		t.Errorf("BatchSize=1 时应分 2 批抓取，实际 %d", len(accounts.requests))
	}
}

func TestSeedExpand_RelatedFailureKeepsSeeds(t *testing.T) {
	accounts := &fakeAccounts{
		relErr: errors.New("rate limited"),
		posts: map[string][]*core.Post{
			"alice": {{ID: "a1", Author: "alice"}},
		},
	}
	rctx := core.NewRecommendContext("u1", core.Preferences{LikedAccounts: []string{"alice"}}, core.Feedback{})
	s := &SeedExpand{Accounts: accounts, Config: SeedExpandConfig{Enabled: true}}
	got, err := s.Recall(context.Background(), rctx)
	if err != nil {
		t.Fatalf("扩展失败不应返回错误: %v", err)
	}
	if diff := cmp.Diff([]string{"a1"}, ids(got)); diff != "" {
		t.Errorf("扩展失败时仍应抓取种子账号 (-want +got):\n%s", diff)
	}
}

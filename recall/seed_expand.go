package recall

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pipeline"
	"github.com/rushteam/tastekit/pkg/logging"
	"github.com/rushteam/tastekit/pkg/vecmath"
	"github.com/rushteam/tastekit/pkg/workpool"
)

// MaxPostsPerAccount 是单账号抓取上限的硬限制。
const MaxPostsPerAccount = 1000

// SeedExpandSource 是 seed-and-expand 产出帖子的来源标记。
const SeedExpandSource = "seed_expand"

// SeedExpandConfig 是 seed-and-expand 的参数。
type SeedExpandConfig struct {
	Enabled          bool
	MaxSeeds         int     // 种子账号上限，默认 3
	MaxExpanded      int     // 扩展账号上限，默认 50
	MaxAccountsTotal int     // 种子 + 扩展账号总数上限，默认 60
	PostsPerAccount  int     // 每个账号抓取的帖子数，默认 200，最多 1000
	KeepPerAccount   int     // 每个账号保留的帖子数，默认 5
	DaysBack         int     // 只看最近 N 天的帖子，0 表示不限
	DeltaThreshold   float64 // niche-viral 阈值，默认 2
	BatchSize        int     // 每次抓取的账号数，默认 8
	Concurrency      int     // 批次并发，默认 2
}

// WithDefaults 填充零值字段。
func (c SeedExpandConfig) WithDefaults() SeedExpandConfig {
	if c.MaxSeeds <= 0 {
		c.MaxSeeds = 3
	}
	if c.MaxExpanded <= 0 {
		c.MaxExpanded = 50
	}
	if c.MaxAccountsTotal <= 0 {
		c.MaxAccountsTotal = 60
	}
	if c.PostsPerAccount <= 0 {
		c.PostsPerAccount = 200
	}
	c.PostsPerAccount = min(c.PostsPerAccount, MaxPostsPerAccount)
	if c.KeepPerAccount <= 0 {
		c.KeepPerAccount = 5
	}
	if c.DaysBack < 0 {
		c.DaysBack = 0
	}
	if c.DeltaThreshold <= 0 {
		c.DeltaThreshold = 2
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 8
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	return c
}

// SeedExpand 从用户喜欢的账号出发，经“相关账号”信号扩展成账号簇，
// 再按互动 delta（帖子互动 / 账号自身平均互动）挑出每个账号表现最好的帖子。
//
// 只扩大原始候选集，不参与打分；任何失败都退化为空结果。
// 同时实现 Source 与 Node：作为 Node 使用时返回的是“输入 + 扩展结果”。
type SeedExpand struct {
	Accounts core.AccountSource
	Config   SeedExpandConfig

	// Now 为 nil 时使用 time.Now
	Now func() time.Time
}

func (s *SeedExpand) Name() string        { return "recall.seed_expand" }
func (s *SeedExpand) Kind() pipeline.Kind { return pipeline.KindRecall }

func (s *SeedExpand) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	posts []*core.Post,
) ([]*core.Post, error) {
	extra, err := s.Recall(ctx, rctx)
	if err != nil {
		return nil, err
	}
	out := make([]*core.Post, 0, len(posts)+len(extra))
	out = append(out, posts...)
	return append(out, extra...), nil
}

// Recall 实现 Source 接口。
func (s *SeedExpand) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Post, error) {
	cfg := s.Config.WithDefaults()
	if !cfg.Enabled || s.Accounts == nil {
		return nil, nil
	}
	seeds := rctx.Prefs().AccountHandles(cfg.MaxSeeds)
	if len(seeds) == 0 {
		return nil, nil
	}

	expanded, err := s.Accounts.RelatedAccounts(ctx, seeds, cfg.MaxExpanded)
	if err != nil {
		logging.Warn().Err(err).Strs("seeds", seeds).Msg("seed expand: related accounts failed")
		expanded = nil
	}
	accounts := ExpandAccounts(seeds, expanded, cfg.MaxExpanded, cfg.MaxAccountsTotal)

	batches := workpool.Batches(accounts, cfg.BatchSize)
	fetched := workpool.Map(ctx, batches, cfg.Concurrency, func(ctx context.Context, _ int, batch []string) []*core.Post {
		posts, err := s.Accounts.PostsForAccounts(ctx, batch, cfg.PostsPerAccount)
		if err != nil {
			logging.Warn().Err(err).Strs("accounts", batch).Msg("seed expand: fetch posts failed")
			return nil
		}
		return posts
	})
	var all []*core.Post
	for _, posts := range fetched {
		all = append(all, posts...)
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	picked := PickTopByDelta(all, cfg, now())
	logging.Debug().
		Int("seeds", len(seeds)).
		Int("accounts", len(accounts)).
		Int("fetched", len(all)).
		Int("picked", len(picked)).
		Msg("seed expand done")
	return picked, nil
}

// ExpandAccounts 合并种子与扩展账号：扩展账号不区分大小写地排除种子，
// 最多保留 maxExpanded 个，总数不超过 maxTotal。
func ExpandAccounts(seeds, expanded []string, maxExpanded, maxTotal int) []string {
	seen := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		seen[strings.ToLower(s)] = true
	}
	extra := make([]string, 0, len(expanded))
	for _, h := range core.NormalizeHandles(expanded, 0) {
		if seen[strings.ToLower(h)] {
			continue
		}
		extra = append(extra, h)
		if maxExpanded > 0 && len(extra) >= maxExpanded {
			break
		}
	}
	return core.NormalizeHandles(append(slices.Clone(seeds), extra...), maxTotal)
}

type deltaPost struct {
	post      *core.Post
	composite float64
	delta     float64
}

// PickTopByDelta 按作者分组，对每个作者：
//   - 可选地只保留 DaysBack 天内的帖子（没有时间戳的帖子保留）
//   - 以作者自身平均互动为基线计算 delta（基线为 0 时按 1 计）
//   - 优先 delta >= DeltaThreshold 的帖子，没有时退回全部
//   - 按 delta、再按原始互动降序，保留 KeepPerAccount 个
//
// 选中的帖子是拷贝，带 EngagementScore = clamp01(delta/4) 与 seed_expand 来源标记，最后按 ID 去重。
func PickTopByDelta(posts []*core.Post, cfg SeedExpandConfig, now time.Time) []*core.Post {
	cfg = cfg.WithDefaults()
	var minTime time.Time
	if cfg.DaysBack > 0 {
		minTime = now.Add(-time.Duration(cfg.DaysBack) * 24 * time.Hour)
	}

	var authors []string
	byAuthor := make(map[string][]*core.Post)
	for _, p := range posts {
		if p == nil {
			continue
		}
		author := strings.TrimSpace(strings.TrimLeft(p.Author, "@"))
		if author == "" {
			continue
		}
		if !minTime.IsZero() && p.Timestamp != nil && p.Timestamp.Before(minTime) {
			continue
		}
		if _, ok := byAuthor[author]; !ok {
			authors = append(authors, author)
		}
		byAuthor[author] = append(byAuthor[author], p)
	}

	var chosen []*core.Post
	for _, author := range authors {
		list := byAuthor[author]
		enriched := make([]deltaPost, len(list))
		var sum float64
		for i, p := range list {
			c := p.EngagementComposite()
			enriched[i] = deltaPost{post: p, composite: c}
			sum += c
		}
		denom := sum / float64(len(list))
		if denom <= 0 {
			denom = 1
		}
		var viral []deltaPost
		for i := range enriched {
			enriched[i].delta = enriched[i].composite / denom
			if enriched[i].delta >= cfg.DeltaThreshold {
				viral = append(viral, enriched[i])
			}
		}
		pool := enriched
		if len(viral) > 0 {
			pool = viral
		}
		slices.SortStableFunc(pool, func(a, b deltaPost) int {
			if c := cmp.Compare(b.delta, a.delta); c != 0 {
				return c
			}
			return cmp.Compare(b.composite, a.composite)
		})
		for _, dp := range pool[:min(cfg.KeepPerAccount, len(pool))] {
			p := dp.post.Clone()
			p.EngagementScore = core.Float(vecmath.Clamp01(dp.delta / 4))
			if p.Source != "" {
				p.Source += "+" + SeedExpandSource
			} else {
				p.Source = SeedExpandSource
			}
			chosen = append(chosen, p)
		}
	}

	seen := make(map[string]bool, len(chosen))
	out := make([]*core.Post, 0, len(chosen))
	for _, p := range chosen {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}

var (
	_ Source        = (*SeedExpand)(nil)
	_ pipeline.Node = (*SeedExpand)(nil)
	_ Source        = (*Static)(nil)
	_ pipeline.Node = (*Static)(nil)
	_ pipeline.Node = (*Fanout)(nil)
)

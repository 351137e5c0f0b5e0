package model

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pkg/logging"
	"github.com/rushteam/tastekit/pkg/vecmath"
	"github.com/rushteam/tastekit/pkg/workpool"
	"github.com/rushteam/tastekit/store"
)

// 口味向量来源
const (
	TasteSourceSeedAccounts = "seed_accounts"
	TasteSourceLikedItems   = "liked_items"
)

// TasteConfig 是口味向量构建参数。
type TasteConfig struct {
	Source          string        // seed_accounts（默认）或 liked_items
	MaxAccounts     int           // 最多使用的喜欢账号数，默认 8
	PostsPerAccount int           // 每个账号抓取的帖子数，默认 25
	MaxSeedPosts    int           // 参与平均的种子图片数，默认 20
	Concurrency     int           // 向量提取并发，默认 2
	CacheTTL        time.Duration // 默认 24h
	CacheSize       int           // 默认 256
}

func (c TasteConfig) withDefaults() TasteConfig {
	if c.Source == "" {
		c.Source = TasteSourceSeedAccounts
	}
	if c.MaxAccounts <= 0 {
		c.MaxAccounts = 8
	}
	if c.PostsPerAccount <= 0 {
		c.PostsPerAccount = 25
	}
	if c.MaxSeedPosts <= 0 {
		c.MaxSeedPosts = 20
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 24 * time.Hour
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 256
	}
	return c
}

// TasteBuilder 构建用户口味向量：种子图片向量的均值，再做 L2 归一化。
//
// 种子图片优先取自用户喜欢账号中互动最高的帖子（需要 AccountSource），
// 取不到时退回到历史点赞内容的图片。结果按 (user, 账号集合, 种子数) 缓存，
// 过期或账号集合变化即失效，从不增量更新。
type TasteBuilder struct {
	Embedder core.ImageEmbedder
	Accounts core.AccountSource // 可为 nil
	cfg      TasteConfig
	cache    *store.TTLCache[string, []float64]
}

// NewTasteBuilder 创建口味向量构建器，clock 为 nil 时使用 time.Now。
func NewTasteBuilder(embedder core.ImageEmbedder, accounts core.AccountSource, cfg TasteConfig, clock store.Clock) *TasteBuilder {
	cfg = cfg.withDefaults()
	return &TasteBuilder{
		Embedder: embedder,
		Accounts: accounts,
		cfg:      cfg,
		cache:    store.NewTTLCache[string, []float64]("taste_vector", cfg.CacheSize, cfg.CacheTTL, clock),
	}
}

// Build 返回口味向量；没有任何可用种子图片时返回 nil。
func (b *TasteBuilder) Build(ctx context.Context, userID string, prefs core.Preferences, fb core.Feedback) []float64 {
	log := logging.With("taste")
	accounts := prefs.AccountHandles(b.cfg.MaxAccounts)

	key := b.cacheKey(userID, accounts)
	if v, ok := b.cache.Get(key); ok {
		return v
	}

	var urls []string
	if b.cfg.Source != TasteSourceLikedItems && len(accounts) > 0 && b.Accounts != nil {
		seedURLs, err := b.seedImageURLs(ctx, accounts)
		if err != nil {
			log.Warn().Err(err).Str("user", userID).Msg("fetch seed account posts failed, falling back to liked items")
		}
		urls = seedURLs
	}
	if len(urls) == 0 {
		urls = likedImageURLs(fb, b.cfg.MaxSeedPosts)
	}
	if len(urls) == 0 || b.Embedder == nil {
		return nil
	}

	embs := workpool.Map(ctx, urls, b.cfg.Concurrency, func(ctx context.Context, _ int, url string) []float64 {
		emb, err := b.Embedder.EmbedImage(ctx, url)
		if err != nil {
			log.Debug().Err(err).Str("url", url).Msg("seed image embedding failed")
			return nil
		}
		return emb
	})

	mean := vecmath.Mean(embs)
	if mean == nil {
		return nil
	}
	taste := vecmath.Normalize(mean)
	b.cache.Set(key, taste)
	log.Debug().Str("user", userID).Int("seeds", len(urls)).Msg("taste vector built")
	return taste
}

func (b *TasteBuilder) cacheKey(userID string, accounts []string) string {
	if userID == "" {
		userID = "anon"
	}
	return fmt.Sprintf("%s:%s:%d", userID, strings.Join(accounts, ","), b.cfg.MaxSeedPosts)
}

func (b *TasteBuilder) seedImageURLs(ctx context.Context, accounts []string) ([]string, error) {
	posts, err := b.Accounts.PostsForAccounts(ctx, accounts, b.cfg.PostsPerAccount)
	if err != nil {
		return nil, err
	}
	withImage := make([]*core.Post, 0, len(posts))
	for _, p := range posts {
		if p != nil && p.ImageURL != "" {
			withImage = append(withImage, p)
		}
	}
	slices.SortStableFunc(withImage, func(x, y *core.Post) int {
		return cmp.Compare(y.EngagementComposite(), x.EngagementComposite())
	})

	n := min(len(withImage), b.cfg.MaxSeedPosts)
	urls := make([]string, 0, n)
	for _, p := range withImage[:n] {
		urls = append(urls, p.ImageURL)
	}
	return urls, nil
}

func likedImageURLs(fb core.Feedback, limit int) []string {
	urls := make([]string, 0, limit)
	for _, it := range fb.Liked {
		if it.ImageURL == "" {
			continue
		}
		urls = append(urls, it.ImageURL)
		if len(urls) >= limit {
			break
		}
	}
	return urls
}

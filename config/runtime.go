package config

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/discovery"
	"github.com/rushteam/tastekit/filter"
	"github.com/rushteam/tastekit/model"
	"github.com/rushteam/tastekit/pipeline"
	"github.com/rushteam/tastekit/pkg/logging"
	"github.com/rushteam/tastekit/recall"
	"github.com/rushteam/tastekit/rerank"
	"github.com/rushteam/tastekit/service"
	"github.com/rushteam/tastekit/store"
)

// Components 是由配置构建出的协作方；为 nil 的字段表示对应阶段未配置。
type Components struct {
	Vision        core.VisionModel
	TextEmbedder  core.TextEmbedder
	ImageEmbedder core.ImageEmbedder // 带缓存的 *model.EmbeddingCache
	Aesthetic     model.EmbeddingModel
	Technical     *model.TechnicalScorer
	Taste         *model.TasteBuilder
	Accounts      core.AccountSource
	Store         core.Store
	Saved         *filter.StoreAdapter
}

// Deps 是由调用方注入、无法从配置构建的依赖。
type Deps struct {
	// Accounts 是采集层的账号 / 帖子接口，供 seed-and-expand 与口味向量使用
	Accounts core.AccountSource

	// Store 为 nil 时按 Settings.Store 创建
	Store core.Store

	// HTTPClient 用于下载图片，为 nil 时使用默认客户端
	HTTPClient *http.Client

	Clock store.Clock
}

// Runtime 是装配好的排序引擎及其依赖。
type Runtime struct {
	Settings *Settings
	Components

	Engine     *discovery.Engine
	SavePolicy *discovery.SavePolicy

	ownsStore bool
}

// Build 按配置装配排序引擎。缺少端点的外部服务只会让对应阶段跳过，不返回错误；
// 配置本身有误（权重文件无法读取、表达式非法、Redis 不可达）时返回错误。
func Build(ctx context.Context, s *Settings, deps Deps) (*Runtime, error) {
	if s == nil {
		s = DefaultSettings()
	}
	logging.Init(s.Logging)
	log := logging.With("config")

	rt := &Runtime{Settings: s}
	c := &rt.Components
	c.Accounts = deps.Accounts

	var err error
	if c.Vision, err = optional(service.NewVisionModel(serviceConfig(service.ServiceTypeChat, s.Vision, "chat"))); err != nil {
		return nil, fmt.Errorf("vision: %w", err)
	}
	if c.TextEmbedder, err = optional(service.NewTextEmbedder(serviceConfig(service.ServiceTypeEmbedding, s.Embedding, "embedding"))); err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if err := buildBeauty(s, deps, c); err != nil {
		return nil, err
	}

	c.Store = deps.Store
	if c.Store == nil {
		if c.Store, err = openStore(ctx, s.Store); err != nil {
			return nil, err
		}
		rt.ownsStore = true
	}
	c.Saved = filter.NewStoreAdapter(c.Store)

	exclude, err := excludeFilters(s.Store, c.Saved)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.SavePolicy, err = discovery.NewSavePolicy(s.Save.Threshold, s.Save.FallbackThreshold, s.Save.Limit, s.Save.Expr)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.Engine = discovery.New(discovery.Options{
		BeautyEnabled:  s.Beauty.Enabled,
		ImageEmbedder:  c.ImageEmbedder,
		Aesthetic:      c.Aesthetic,
		Technical:      c.Technical,
		Taste:          c.Taste,
		Vision:         c.Vision,
		TextEmbedder:   c.TextEmbedder,
		Accounts:       c.Accounts,
		SeedExpand:     seedExpandConfig(s.Discovery),
		Saved:          c.Saved,
		SavedKeyPrefix: s.Store.SavedKeyPrefix,
		Exclude:        exclude,
		MaxCandidates:  s.Beauty.MaxCandidates,
		MinAesthetic:   core.Float(s.Beauty.MinAesthetic),
		MinTechnical:   core.Float(s.Beauty.MinTechnical),
		Tournament: rerank.TournamentConfig{
			GroupSize:    s.Tournament.GroupSize,
			KeepPerGroup: s.Tournament.KeepPerGroup,
			Concurrency:  s.Tournament.Concurrency,
		},
		TournamentK:       s.Tournament.TopK,
		VisionCandidates:  s.Legacy.VisionCandidates,
		EmbedCandidates:   s.Legacy.EmbedCandidates,
		Concurrency:       s.Beauty.Concurrency,
		LegacyConcurrency: s.Legacy.Concurrency,
		RecallTimeout:     s.Discovery.Timeout,
	})

	log.Info().
		Bool("vision", c.Vision != nil).
		Bool("text_embedding", c.TextEmbedder != nil).
		Bool("beauty", s.Beauty.Enabled && c.ImageEmbedder != nil && c.Aesthetic != nil).
		Bool("technical", c.Technical != nil).
		Bool("seed_expand", s.Discovery.SeedExpand && c.Accounts != nil).
		Str("store", c.Store.Name()).
		Msg("ranking engine assembled")
	return rt, nil
}

// Close 关闭由 Build 创建的存储。
func (r *Runtime) Close() error {
	if r.ownsStore && r.Store != nil {
		return r.Store.Close()
	}
	return nil
}

// Factory 返回使用本 Runtime 协作方的 NodeFactory，用于按 YAML 自定义链路。
func (r *Runtime) Factory() *pipeline.NodeFactory {
	return NewFactory(r.Components)
}

func buildBeauty(s *Settings, deps Deps, c *Components) error {
	b := s.Beauty
	if !b.Enabled || b.ClipDisabled {
		return nil
	}
	if b.AestheticHeadPath == "" {
		logging.Warn().Msg("beauty.aesthetic_head_path not set, beauty path disabled")
		return nil
	}
	clip, err := optional(service.NewImageEmbedder(serviceConfig(service.ServiceTypeTorchServe, s.Clip, "clip")))
	if err != nil {
		return fmt.Errorf("clip: %w", err)
	}
	if clip == nil {
		return nil
	}
	head, err := model.LoadAestheticHead(b.AestheticHeadPath)
	if err != nil {
		return fmt.Errorf("load aesthetic head: %w", err)
	}

	cache := model.NewEmbeddingCache(clip, head.Dim, b.EmbedCacheMax, b.EmbedCacheTTL, deps.Clock)
	c.ImageEmbedder = cache
	c.Aesthetic = head
	c.Taste = model.NewTasteBuilder(cache, deps.Accounts, model.TasteConfig{
		Source:          b.TasteSource,
		MaxAccounts:     b.TasteAccounts,
		PostsPerAccount: b.TastePostsPerAccount,
		MaxSeedPosts:    b.TasteSeedPosts,
		Concurrency:     b.Concurrency,
		CacheTTL:        b.TasteCacheTTL,
	}, deps.Clock)
	if b.TechnicalEnabled {
		fetcher := service.NewHTTPImageFetcher(deps.HTTPClient, service.GuardConfig{Name: "image_fetch"})
		c.Technical = model.NewTechnicalScorer(fetcher, b.TechnicalWidth)
	}
	return nil
}

func serviceConfig(typ service.ServiceType, s ServiceSettings, name string) *service.ServiceConfig {
	return &service.ServiceConfig{
		Type:      typ,
		Endpoint:  s.Endpoint,
		ModelName: s.Model,
		Timeout:   s.Timeout,
		Auth:      service.BearerAuth(s.APIKey),
		Guard: service.GuardConfig{
			Name:          name,
			RatePerSecond: s.RatePerSecond,
			Burst:         s.Burst,
			Attempts:      uint(max(s.Attempts, 0)),
		},
	}
}

// optional 把 ErrNotConfigured 转换为零值。
func optional[T any](v T, err error) (T, error) {
	if errors.Is(err, core.ErrNotConfigured) {
		var zero T
		return zero, nil
	}
	return v, err
}

func openStore(ctx context.Context, s StoreSettings) (core.Store, error) {
	switch s.Driver {
	case "redis":
		rs, err := store.NewRedisStore(ctx, s.RedisAddr, s.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", s.RedisAddr, err)
		}
		return rs, nil
	default:
		return store.NewMemoryStore(), nil
	}
}

func excludeFilters(s StoreSettings, saved *filter.StoreAdapter) ([]filter.Filter, error) {
	filters := []filter.Filter{filter.NewBlacklistFilter(s.Blacklist, saved, s.BlacklistKey)}
	if s.ExcludeExpr != "" {
		f, err := filter.NewExprFilter(s.ExcludeExpr)
		if err != nil {
			return nil, fmt.Errorf("store.exclude_expr: %w", err)
		}
		filters = append(filters, f)
	}
	return filters, nil
}

func seedExpandConfig(d DiscoverySettings) recall.SeedExpandConfig {
	return recall.SeedExpandConfig{
		Enabled:          d.SeedExpand,
		MaxSeeds:         d.MaxSeeds,
		MaxExpanded:      d.MaxExpanded,
		MaxAccountsTotal: d.MaxAccountsTotal,
		PostsPerAccount:  d.PostsPerAccount,
		KeepPerAccount:   d.KeepPerAccount,
		DaysBack:         d.DaysBack,
		DeltaThreshold:   d.DeltaThreshold,
		BatchSize:        d.BatchSize,
		Concurrency:      d.Concurrency,
	}
}

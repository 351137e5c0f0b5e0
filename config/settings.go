package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/rushteam/tastekit/model"
	"github.com/rushteam/tastekit/pkg/logging"
	"github.com/rushteam/tastekit/recall"
)

// DefaultConfigPaths 按顺序查找配置文件，使用第一个存在的。
var DefaultConfigPaths = []string{
	"tastekit.yaml",
	"tastekit.yml",
	"/etc/tastekit/tastekit.yaml",
}

// ConfigPathEnvVar 指定配置文件路径的环境变量。
const ConfigPathEnvVar = "TASTEKIT_CONFIG"

// EnvPrefix 是通用环境变量前缀：TASTEKIT_<SECTION>_<KEY> -> section.key
const EnvPrefix = "TASTEKIT_"

// Settings 是整个排序引擎的配置，按 默认值 → YAML 文件 → 环境变量 的顺序叠加。
type Settings struct {
	Logging    logging.Config     `koanf:"logging"`
	OpenAI     OpenAISettings     `koanf:"openai"`
	Vision     ServiceSettings    `koanf:"vision"`
	Embedding  ServiceSettings    `koanf:"embedding"`
	Clip       ServiceSettings    `koanf:"clip"`
	Beauty     BeautySettings     `koanf:"beauty"`
	Tournament TournamentSettings `koanf:"tournament"`
	Legacy     LegacySettings     `koanf:"legacy"`
	Discovery  DiscoverySettings  `koanf:"discovery"`
	Store      StoreSettings      `koanf:"store"`
	Save       SaveSettings       `koanf:"save"`
}

// OpenAISettings 是 vision / embedding 共用的 OpenAI 兼容端点。
type OpenAISettings struct {
	BaseURL string `koanf:"base_url"`
	APIKey  string `koanf:"api_key"`
}

// ServiceSettings 是单个外部模型服务的配置。
type ServiceSettings struct {
	Endpoint      string        `koanf:"endpoint"`
	Model         string        `koanf:"model"`
	APIKey        string        `koanf:"api_key"`
	Timeout       time.Duration `koanf:"timeout"`
	RatePerSecond float64       `koanf:"rate_per_second"`
	Burst         int           `koanf:"burst"`
	Attempts      int           `koanf:"attempts"`
}

// Configured 端点为空表示该服务未配置，对应阶段直接跳过。
func (s ServiceSettings) Configured() bool { return s.Endpoint != "" }

// BeautySettings 是 beauty 路径（图像向量 + 美学 + 口味）的配置。
type BeautySettings struct {
	Enabled           bool    `koanf:"enabled"`
	ClipDisabled      bool    `koanf:"clip_disabled"`
	AestheticHeadPath string  `koanf:"aesthetic_head_path"`
	MinAesthetic      float64 `koanf:"min_aesthetic"`
	TechnicalEnabled  bool    `koanf:"technical_enabled"`
	MinTechnical      float64 `koanf:"min_technical"`
	TechnicalWidth    int     `koanf:"technical_width"`
	MaxCandidates     int     `koanf:"max_candidates"`
	Concurrency       int     `koanf:"concurrency"`

	EmbedCacheMax   int           `koanf:"embed_cache_max"`
	EmbedCacheTTL   time.Duration `koanf:"embed_cache_ttl"`
	EmbedCacheTTLMs int64         `koanf:"embed_cache_ttl_ms"`

	TasteSource          string        `koanf:"taste_source"`
	TasteAccounts        int           `koanf:"taste_accounts"`
	TastePostsPerAccount int           `koanf:"taste_posts_per_account"`
	TasteSeedPosts       int           `koanf:"taste_seed_posts"`
	TasteCacheTTL        time.Duration `koanf:"taste_cache_ttl"`
	TasteCacheTTLMs      int64         `koanf:"taste_cache_ttl_ms"`
}

// TournamentSettings 是 vibe-check 锦标赛的配置。
type TournamentSettings struct {
	TopK         int `koanf:"top_k"`
	GroupSize    int `koanf:"group_size"`
	KeepPerGroup int `koanf:"keep_per_group"`
	Concurrency  int `koanf:"concurrency"`
}

// LegacySettings 是 legacy 路径的配置。
type LegacySettings struct {
	VisionCandidates int `koanf:"vision_candidates"`
	EmbedCandidates  int `koanf:"embed_candidates"`
	Concurrency      int `koanf:"concurrency"`
}

// DiscoverySettings 是 seed-and-expand 的配置。
type DiscoverySettings struct {
	SeedExpand       bool          `koanf:"seed_expand"`
	MaxSeeds         int           `koanf:"max_seeds"`
	MaxExpanded      int           `koanf:"max_expanded"`
	MaxAccountsTotal int           `koanf:"max_accounts_total"`
	PostsPerAccount  int           `koanf:"posts_per_account"`
	KeepPerAccount   int           `koanf:"keep_per_account"`
	DaysBack         int           `koanf:"days_back"`
	DeltaThreshold   float64       `koanf:"delta_threshold"`
	BatchSize        int           `koanf:"batch_size"`
	Concurrency      int           `koanf:"concurrency"`
	Timeout          time.Duration `koanf:"timeout"`
}

// StoreSettings 是已保存记录 / 黑名单所用存储的配置。
type StoreSettings struct {
	Driver         string   `koanf:"driver"` // memory 或 redis
	RedisAddr      string   `koanf:"redis_addr"`
	RedisDB        int      `koanf:"redis_db"`
	SavedKeyPrefix string   `koanf:"saved_key_prefix"`
	Blacklist      []string `koanf:"blacklist"`
	BlacklistKey   string   `koanf:"blacklist_key"`
	ExcludeExpr    string   `koanf:"exclude_expr"`
}

// SaveSettings 是下游保存策略的配置。
type SaveSettings struct {
	Threshold         float64 `koanf:"threshold"`
	FallbackThreshold float64 `koanf:"fallback_threshold"`
	Limit             int     `koanf:"limit"`
	Expr              string  `koanf:"expr"`
}

// DefaultSettings 返回全部默认值。
func DefaultSettings() *Settings {
	return &Settings{
		Logging: logging.Config{Level: "info", Format: "json"},
		OpenAI:  OpenAISettings{BaseURL: "https://api.openai.com/v1"},
		Vision: ServiceSettings{
			Model:    "gpt-4o-mini",
			Timeout:  60 * time.Second,
			Attempts: 2,
		},
		Embedding: ServiceSettings{
			Model:    "text-embedding-3-small",
			Timeout:  30 * time.Second,
			Attempts: 2,
		},
		Clip: ServiceSettings{
			Model:    "clip_vit_b32",
			Timeout:  30 * time.Second,
			Attempts: 2,
		},
		Beauty: BeautySettings{
			Enabled:              true,
			MinAesthetic:         5.0,
			MinTechnical:         3.0,
			TechnicalWidth:       model.DefaultTechnicalWidth,
			MaxCandidates:        60,
			Concurrency:          2,
			EmbedCacheMax:        model.DefaultEmbeddingCacheSize,
			EmbedCacheTTL:        model.DefaultEmbeddingCacheTTL,
			TasteSource:          model.TasteSourceSeedAccounts,
			TasteAccounts:        8,
			TastePostsPerAccount: 25,
			TasteSeedPosts:       20,
			TasteCacheTTL:        24 * time.Hour,
		},
		Tournament: TournamentSettings{
			TopK:         24,
			GroupSize:    5,
			KeepPerGroup: 2,
			Concurrency:  2,
		},
		Legacy: LegacySettings{
			VisionCandidates: 12,
			EmbedCandidates:  30,
			Concurrency:      4,
		},
		Discovery: DiscoverySettings{
			SeedExpand:       false,
			MaxSeeds:         3,
			MaxExpanded:      50,
			MaxAccountsTotal: 60,
			PostsPerAccount:  200,
			KeepPerAccount:   5,
			DeltaThreshold:   2,
			BatchSize:        8,
			Concurrency:      2,
			Timeout:          time.Minute,
		},
		Store: StoreSettings{
			Driver:         "memory",
			SavedKeyPrefix: "saved",
			BlacklistKey:   "blacklist",
		},
		Save: SaveSettings{
			Threshold:         0.9,
			FallbackThreshold: 0.7,
			Limit:             10,
		},
	}
}

// Load 加载配置：默认值 → YAML 文件（path 为空时按 TASTEKIT_CONFIG 与 DefaultConfigPaths 查找）→ 环境变量。
func Load(path string) (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultSettings(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	s := &Settings{}
	if err := k.Unmarshal("", s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return s, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sliceConfigPaths 是环境变量里以逗号分隔的列表字段
var sliceConfigPaths = []string{
	"store.blacklist",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings 兼容历史环境变量名
var envMappings = map[string]string{
	"log_level":  "logging.level",
	"log_format": "logging.format",

	"openai_api_key":  "openai.api_key",
	"openai_base_url": "openai.base_url",
	"vision_model":    "vision.model",
	"embedding_model": "embedding.model",

	"beauty_pipeline":                  "beauty.enabled",
	"beauty_clip_disabled":             "beauty.clip_disabled",
	"beauty_clip_model":                "clip.model",
	"beauty_clip_concurrency":          "beauty.concurrency",
	"beauty_embed_cache_max":           "beauty.embed_cache_max",
	"beauty_embed_cache_ttl_ms":        "beauty.embed_cache_ttl_ms",
	"beauty_technical_enabled":         "beauty.technical_enabled",
	"beauty_technical_size":            "beauty.technical_width",
	"beauty_taste_source":              "beauty.taste_source",
	"beauty_taste_seed_posts":          "beauty.taste_seed_posts",
	"beauty_taste_results_per_account": "beauty.taste_posts_per_account",
	"beauty_taste_cache_ttl_ms":        "beauty.taste_cache_ttl_ms",

	"ai_vision_candidates": "legacy.vision_candidates",
	"ai_embed_candidates":  "legacy.embed_candidates",

	"discovery_seed_expand":             "discovery.seed_expand",
	"discovery_seed_max_seeds":          "discovery.max_seeds",
	"discovery_seed_max_expanded":       "discovery.max_expanded",
	"discovery_seed_max_accounts_total": "discovery.max_accounts_total",
	"discovery_seed_posts_per_account":  "discovery.posts_per_account",
	"discovery_seed_keep_per_account":   "discovery.keep_per_account",
	"discovery_seed_days_back":          "discovery.days_back",
	"discovery_seed_delta_threshold":    "discovery.delta_threshold",
	"discovery_seed_batch_size":         "discovery.batch_size",

	"redis_addr": "store.redis_addr",
}

// envTransformFunc 把环境变量名转换为 koanf 路径：
//   - 历史变量名按 envMappings 映射，如 BEAUTY_PIPELINE -> beauty.enabled
//   - TASTEKIT_<SECTION>_<KEY> -> section.key，如 TASTEKIT_SAVE_THRESHOLD -> save.threshold
//   - 其他变量忽略
func envTransformFunc(key string) string {
	if rest, ok := strings.CutPrefix(key, EnvPrefix); ok {
		if rest == "CONFIG" {
			return ""
		}
		section, field, ok := strings.Cut(strings.ToLower(rest), "_")
		if !ok || field == "" {
			return ""
		}
		return section + "." + field
	}
	return envMappings[strings.ToLower(key)]
}

// Validate 校验并规范化配置：把毫秒形式的 TTL 折算为 Duration，截断超出上限的值，
// 并让未单独配置的 vision / embedding 继承 OpenAI 端点。
func (s *Settings) Validate() error {
	var errs []error

	if s.OpenAI.APIKey != "" {
		for _, svc := range []*ServiceSettings{&s.Vision, &s.Embedding} {
			if svc.Endpoint == "" {
				svc.Endpoint = strings.TrimRight(s.OpenAI.BaseURL, "/")
			}
			if svc.APIKey == "" {
				svc.APIKey = s.OpenAI.APIKey
			}
		}
	}

	b := &s.Beauty
	if b.EmbedCacheTTLMs > 0 {
		b.EmbedCacheTTL = time.Duration(b.EmbedCacheTTLMs) * time.Millisecond
	}
	if b.TasteCacheTTLMs > 0 {
		b.TasteCacheTTL = time.Duration(b.TasteCacheTTLMs) * time.Millisecond
	}
	if b.EmbedCacheMax > model.MaxEmbeddingCacheSize {
		b.EmbedCacheMax = model.MaxEmbeddingCacheSize
	}
	if b.MinAesthetic < 0 || b.MinAesthetic >= 10 {
		errs = append(errs, fmt.Errorf("beauty.min_aesthetic must be in [0,10), got %v", b.MinAesthetic))
	}
	switch b.TasteSource {
	case model.TasteSourceSeedAccounts, model.TasteSourceLikedItems:
	case "":
		b.TasteSource = model.TasteSourceSeedAccounts
	default:
		errs = append(errs, fmt.Errorf("beauty.taste_source must be %q or %q, got %q",
			model.TasteSourceSeedAccounts, model.TasteSourceLikedItems, b.TasteSource))
	}

	if t := s.Tournament; t.KeepPerGroup >= t.GroupSize && t.GroupSize > 0 {
		errs = append(errs, fmt.Errorf("tournament.keep_per_group (%d) must be below group_size (%d)", t.KeepPerGroup, t.GroupSize))
	}

	if s.Discovery.PostsPerAccount > recall.MaxPostsPerAccount {
		s.Discovery.PostsPerAccount = recall.MaxPostsPerAccount
	}

	switch s.Store.Driver {
	case "", "memory":
		s.Store.Driver = "memory"
	case "redis":
		if s.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", s.Store.Driver))
	}

	sv := s.Save
	if sv.Threshold < 0 || sv.Threshold > 1 || sv.FallbackThreshold < 0 || sv.FallbackThreshold > 1 {
		errs = append(errs, errors.New("save thresholds must be in [0,1]"))
	} else if sv.FallbackThreshold > sv.Threshold {
		errs = append(errs, fmt.Errorf("save.fallback_threshold (%v) above save.threshold (%v)", sv.FallbackThreshold, sv.Threshold))
	}

	return errors.Join(errs...)
}

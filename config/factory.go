package config

import (
	"fmt"
	"time"

	"github.com/rushteam/tastekit/filter"
	"github.com/rushteam/tastekit/pipeline"
	"github.com/rushteam/tastekit/pkg/conv"
	"github.com/rushteam/tastekit/rank"
	"github.com/rushteam/tastekit/recall"
	"github.com/rushteam/tastekit/rerank"
)

// NewFactory 返回包含所有内置 Node 的工厂，Node 所需的外部协作方取自 c。
// 通过 Register 注册的自定义 Node 也会一并加入，同名时以自定义为准。
//
// YAML 示例：
//
//	pipeline:
//	  name: beauty
//	  nodes:
//	    - type: rank.heuristic
//	    - type: rerank.topn
//	      config: {n: 60}
//	    - type: rank.universal_beauty
//	    - type: filter.beauty
//	      config: {min_aesthetic: 5, fail_on_empty: true}
//	    - type: rank.taste
//	    - type: rank.beauty_blend
//	    - type: rerank.tournament
//	      config: {top_k: 24}
//	    - type: rerank.hybrid
//	    - type: rerank.caption_dedup
func NewFactory(c Components) *pipeline.NodeFactory {
	f := pipeline.NewNodeFactory()

	// Recall
	f.Register("recall.static", func(cfg map[string]any) (pipeline.Node, error) {
		return &recall.Static{Store: c.Store, Key: conv.ConfigGet(cfg, "key", "")}, nil
	})
	f.Register("recall.seed_expand", func(cfg map[string]any) (pipeline.Node, error) {
		if c.Accounts == nil {
			return nil, fmt.Errorf("recall.seed_expand requires an account source")
		}
		expand := &recall.SeedExpand{Accounts: c.Accounts, Config: recall.SeedExpandConfig{
			Enabled:          conv.ConfigGet(cfg, "enabled", true),
			MaxSeeds:         conv.ConfigGetInt(cfg, "max_seeds", 0),
			MaxExpanded:      conv.ConfigGetInt(cfg, "max_expanded", 0),
			MaxAccountsTotal: conv.ConfigGetInt(cfg, "max_accounts_total", 0),
			PostsPerAccount:  conv.ConfigGetInt(cfg, "posts_per_account", 0),
			KeepPerAccount:   conv.ConfigGetInt(cfg, "keep_per_account", 0),
			DaysBack:         conv.ConfigGetInt(cfg, "days_back", 0),
			DeltaThreshold:   conv.ConfigGetFloat(cfg, "delta_threshold", 0),
			BatchSize:        conv.ConfigGetInt(cfg, "batch_size", 0),
			Concurrency:      conv.ConfigGetInt(cfg, "concurrency", 0),
		}}
		// 扩展出的帖子与输入帖子合并，不替换
		return &recall.Fanout{
			Sources:       []recall.Source{expand},
			IncludeInput:  true,
			Dedup:         true,
			Timeout:       conv.ConfigGetDuration(cfg, "timeout", time.Minute),
			MergeStrategy: recall.MergePriority,
		}, nil
	})

	// Filter
	f.Register("filter.beauty", func(cfg map[string]any) (pipeline.Node, error) {
		filters := []filter.Filter{filter.NewAestheticFilter(conv.ConfigGetFloat(cfg, "min_aesthetic", filter.DefaultMinAesthetic))}
		if minTech := conv.ConfigGetFloat(cfg, "min_technical", 0); minTech > 0 {
			filters = append(filters, &filter.TechnicalFilter{Min: minTech})
		}
		return &filter.FilterNode{Label: "filter.beauty", Filters: filters, FailOnEmpty: conv.ConfigGet(cfg, "fail_on_empty", true)}, nil
	})
	f.Register("filter.exclude", func(cfg map[string]any) (pipeline.Node, error) {
		return buildExcludeNode(cfg, c)
	})

	// Rank
	f.Register("rank.heuristic", func(map[string]any) (pipeline.Node, error) {
		return &rank.HeuristicNode{}, nil
	})
	f.Register("rank.vision", func(cfg map[string]any) (pipeline.Node, error) {
		return &rank.VisionNode{
			Model:         c.Vision,
			MaxCandidates: conv.ConfigGetInt(cfg, "max_candidates", rank.DefaultVisionCandidates),
			Concurrency:   conv.ConfigGetInt(cfg, "concurrency", 0),
		}, nil
	})
	f.Register("rank.text_embedding", func(cfg map[string]any) (pipeline.Node, error) {
		return &rank.TextEmbeddingNode{
			Embedder:      c.TextEmbedder,
			MaxCandidates: conv.ConfigGetInt(cfg, "max_candidates", rank.DefaultEmbedCandidates),
		}, nil
	})
	f.Register("rank.universal_beauty", func(cfg map[string]any) (pipeline.Node, error) {
		if c.ImageEmbedder == nil || c.Aesthetic == nil {
			return nil, fmt.Errorf("rank.universal_beauty requires an image embedder and an aesthetic head")
		}
		return &rank.UniversalBeautyNode{
			Embedder:    c.ImageEmbedder,
			Model:       c.Aesthetic,
			Technical:   c.Technical,
			Concurrency: conv.ConfigGetInt(cfg, "concurrency", 0),
		}, nil
	})
	f.Register("rank.taste", func(cfg map[string]any) (pipeline.Node, error) {
		return &rank.TasteNode{Builder: c.Taste, Embedder: c.ImageEmbedder, Concurrency: conv.ConfigGetInt(cfg, "concurrency", 0)}, nil
	})
	f.Register("rank.beauty_blend", func(cfg map[string]any) (pipeline.Node, error) {
		w := rank.DefaultBeautyWeights()
		if m, ok := cfg["weights"].(map[string]any); ok {
			w.Taste = conv.ConfigGetFloat(m, "taste", w.Taste)
			w.Aesthetic = conv.ConfigGetFloat(m, "aesthetic", w.Aesthetic)
			w.Technical = conv.ConfigGetFloat(m, "technical", w.Technical)
			w.Engagement = conv.ConfigGetFloat(m, "engagement", w.Engagement)
		}
		return &rank.BeautyBlendNode{Blend: rank.BeautyBlend{
			Weights:          w,
			MinAesthetic:     conv.ConfigGetFloat(cfg, "min_aesthetic", filter.DefaultMinAesthetic),
			MaxAesthetic:     rank.MaxAestheticScale,
			TechnicalEnabled: c.Technical != nil,
		}}, nil
	})

	// ReRank
	f.Register("rerank.topn", func(cfg map[string]any) (pipeline.Node, error) {
		return &rerank.TopNNode{N: conv.ConfigGetInt(cfg, "n", 0)}, nil
	})
	f.Register("rerank.tournament", func(cfg map[string]any) (pipeline.Node, error) {
		return &rerank.TournamentNode{
			Model: c.Vision,
			TopK:  conv.ConfigGetInt(cfg, "top_k", rerank.DefaultTournamentK),
			Config: rerank.TournamentConfig{
				GroupSize:    conv.ConfigGetInt(cfg, "group_size", 0),
				KeepPerGroup: conv.ConfigGetInt(cfg, "keep_per_group", 0),
				Concurrency:  conv.ConfigGetInt(cfg, "concurrency", 0),
			},
		}, nil
	})
	f.Register("rerank.hybrid", func(cfg map[string]any) (pipeline.Node, error) {
		w := rerank.DefaultHybridWeights()
		w.AIPenalty = conv.ConfigGetFloat(cfg, "ai_penalty", w.AIPenalty)
		w.ScoreFloor = conv.ConfigGetFloat(cfg, "score_floor", w.ScoreFloor)
		w.ScoreScale = conv.ConfigGetFloat(cfg, "score_scale", w.ScoreScale)
		return &rerank.HybridNode{Weights: w}, nil
	})
	f.Register("rerank.legacy_hybrid", func(cfg map[string]any) (pipeline.Node, error) {
		w := rerank.DefaultLegacyWeights()
		w.AIPenalty = conv.ConfigGetFloat(cfg, "ai_penalty", w.AIPenalty)
		return &rerank.LegacyHybridNode{Weights: w}, nil
	})
	f.Register("rerank.caption_dedup", func(map[string]any) (pipeline.Node, error) {
		return &rerank.CaptionDedup{}, nil
	})

	registerCustom(f)
	return f
}

func buildExcludeNode(cfg map[string]any, c Components) (pipeline.Node, error) {
	filtersConfig, ok := cfg["filters"].([]any)
	if !ok {
		return nil, fmt.Errorf("filters not found or invalid")
	}
	filters := make([]filter.Filter, 0, len(filtersConfig))
	for _, fc := range filtersConfig {
		m, ok := fc.(map[string]any)
		if !ok {
			continue
		}
		switch typ := conv.ConfigGet(m, "type", ""); typ {
		case "blacklist":
			var adapter *filter.StoreAdapter
			if key := conv.ConfigGet(m, "key", ""); key != "" {
				adapter = c.Saved
			}
			bf := filter.NewBlacklistFilter(conv.SliceAnyToString(m["post_ids"]), adapter, conv.ConfigGet(m, "key", ""))
			bf.Authors = conv.SliceAnyToString(m["authors"])
			filters = append(filters, bf)
		case "seen":
			if c.Saved == nil {
				return nil, fmt.Errorf("seen filter requires a store")
			}
			filters = append(filters, filter.NewSeenFilter(c.Saved, conv.ConfigGet(m, "key_prefix", "")))
		case "expr":
			ef, err := filter.NewExprFilter(conv.ConfigGet(m, "expr", ""))
			if err != nil {
				return nil, err
			}
			filters = append(filters, ef)
		default:
			return nil, fmt.Errorf("unknown filter type: %s", typ)
		}
	}
	return &filter.FilterNode{Label: "filter.exclude", Filters: filters}, nil
}

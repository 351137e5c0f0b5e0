package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/filter"
	"github.com/rushteam/tastekit/model"
	"github.com/rushteam/tastekit/pipeline"
	"github.com/rushteam/tastekit/pkg/logging"
	"github.com/rushteam/tastekit/pkg/metrics"
	"github.com/rushteam/tastekit/pkg/utils"
	"github.com/rushteam/tastekit/rank"
	"github.com/rushteam/tastekit/recall"
	"github.com/rushteam/tastekit/rerank"
)

// Path 标记最终产出排序结果的路径。
type Path string

const (
	PathBeauty    Path = "beauty"
	PathLegacy    Path = "legacy"
	PathHeuristic Path = "heuristic"
)

// DefaultMaxCandidates 是启发式预排序后进入 beauty 路径的候选上限。
const DefaultMaxCandidates = 60

// Options 是 Engine 的依赖与参数，零值字段使用默认值；缺少的协作方对应阶段直接跳过。
type Options struct {
	// BeautyEnabled 为 false 时直接走 legacy 路径
	BeautyEnabled bool

	// ImageEmbedder 通常是 *model.EmbeddingCache；为 nil 时 beauty 路径不可用
	ImageEmbedder core.ImageEmbedder
	Aesthetic     model.EmbeddingModel
	Technical     *model.TechnicalScorer
	Taste         *model.TasteBuilder

	Vision       core.VisionModel
	TextEmbedder core.TextEmbedder

	// Accounts 供 seed-and-expand 使用
	Accounts   core.AccountSource
	SeedExpand recall.SeedExpandConfig

	// Saved 记录每个用户已保存的帖子，设置后自动排除已保存帖子
	Saved          *filter.StoreAdapter
	SavedKeyPrefix string

	// Exclude 在打分之前执行，例如黑名单、表达式过滤
	Exclude []filter.Filter

	MaxCandidates int

	// MinAesthetic / MinTechnical 为 nil 时使用默认门槛，指向 0 表示不设门槛
	MinAesthetic *float64
	MinTechnical *float64

	BeautyWeights    rank.BeautyWeights
	Hybrid           rerank.HybridWeights
	Legacy           rerank.LegacyWeights
	Tournament       rerank.TournamentConfig
	TournamentK      int
	VisionCandidates int
	EmbedCandidates  int
	Concurrency      int

	// LegacyConcurrency 是 legacy 路径视觉打分的并发数，默认 4
	LegacyConcurrency int

	// RecallTimeout 是 seed-and-expand 的整体超时，默认 60s
	RecallTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = DefaultMaxCandidates
	}
	if o.MinAesthetic == nil {
		o.MinAesthetic = core.Float(filter.DefaultMinAesthetic)
	}
	if o.MinTechnical == nil {
		o.MinTechnical = core.Float(filter.DefaultMinTechnical)
	}
	if o.BeautyWeights == (rank.BeautyWeights{}) {
		o.BeautyWeights = rank.DefaultBeautyWeights()
	}
	if o.Hybrid == (rerank.HybridWeights{}) {
		o.Hybrid = rerank.DefaultHybridWeights()
	}
	if o.Legacy == (rerank.LegacyWeights{}) {
		o.Legacy = rerank.DefaultLegacyWeights()
	}
	if o.TournamentK <= 0 {
		o.TournamentK = rerank.DefaultTournamentK
	}
	if o.VisionCandidates <= 0 {
		o.VisionCandidates = rank.DefaultVisionCandidates
	}
	if o.EmbedCandidates <= 0 {
		o.EmbedCandidates = rank.DefaultEmbedCandidates
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 2
	}
	if o.LegacyConcurrency <= 0 {
		o.LegacyConcurrency = 4
	}
	if o.RecallTimeout <= 0 {
		o.RecallTimeout = time.Minute
	}
	if o.SavedKeyPrefix == "" {
		o.SavedKeyPrefix = filter.DefaultSeenKeyPrefix
	}
	return o
}

// Request 是一次排序请求。
type Request struct {
	UserID      string
	Preferences core.Preferences
	Feedback    core.Feedback
	Posts       []*core.Post
}

// Result 是排序结果。Posts 已按 Score 降序并按 caption 去重。
type Result struct {
	Posts []*core.Post
	Path  Path
}

// Engine 编排整条排序链路：
//
//	候选扩展 → 排除 → 启发式预排序 → beauty 路径
//	                                  ↓ 出错 / 过滤后为空 / 未配置
//	                                 legacy 路径
//	                                  ↓ 出错 / 未配置 / 无外部信号
//	                                 启发式排序
//
// 任何路径的结果最后都做 caption 去重。Engine 不会因外部调用失败返回错误，
// 最坏情况是返回启发式排序。
type Engine struct {
	opts Options

	prepare *pipeline.Pipeline
	beauty  *pipeline.Pipeline
	legacy  *pipeline.Pipeline
	dedup   pipeline.Node
}

// New 创建排序引擎。
func New(opts Options) *Engine {
	opts = opts.withDefaults()
	e := &Engine{opts: opts, dedup: &rerank.CaptionDedup{}}

	var prepare []pipeline.Node
	if opts.SeedExpand.Enabled && opts.Accounts != nil {
		prepare = append(prepare, &recall.Fanout{
			Sources:       []recall.Source{&recall.SeedExpand{Accounts: opts.Accounts, Config: opts.SeedExpand}},
			IncludeInput:  true,
			Dedup:         true,
			Timeout:       opts.RecallTimeout,
			MergeStrategy: recall.MergePriority,
		})
	}
	exclude := opts.Exclude
	if opts.Saved != nil {
		exclude = append([]filter.Filter{filter.NewSeenFilter(opts.Saved, opts.SavedKeyPrefix)}, exclude...)
	}
	if len(exclude) > 0 {
		prepare = append(prepare, &filter.FilterNode{Label: "filter.exclude", Filters: exclude})
	}
	prepare = append(prepare, &rank.HeuristicNode{})
	e.prepare = &pipeline.Pipeline{Name: "discovery.prepare", Nodes: prepare}

	if opts.BeautyEnabled && opts.ImageEmbedder != nil && opts.Aesthetic != nil {
		var gates []filter.Filter
		if *opts.MinAesthetic > 0 {
			gates = append(gates, filter.NewAestheticFilter(*opts.MinAesthetic))
		}
		if opts.Technical != nil && *opts.MinTechnical > 0 {
			gates = append(gates, &filter.TechnicalFilter{Min: *opts.MinTechnical})
		}
		e.beauty = &pipeline.Pipeline{
			Name: "discovery.beauty",
			Nodes: []pipeline.Node{
				&rerank.TopNNode{N: opts.MaxCandidates},
				&rank.UniversalBeautyNode{
					Embedder:    opts.ImageEmbedder,
					Model:       opts.Aesthetic,
					Technical:   opts.Technical,
					Concurrency: opts.Concurrency,
				},
				&filter.FilterNode{Label: "filter.beauty", Filters: gates, FailOnEmpty: true},
				&rank.TasteNode{Builder: opts.Taste, Embedder: opts.ImageEmbedder, Concurrency: opts.Concurrency},
				&rank.BeautyBlendNode{Blend: rank.BeautyBlend{
					Weights:          opts.BeautyWeights,
					MinAesthetic:     *opts.MinAesthetic,
					MaxAesthetic:     rank.MaxAestheticScale,
					TechnicalEnabled: opts.Technical != nil,
				}},
				&rerank.TournamentNode{Model: opts.Vision, TopK: opts.TournamentK, Config: opts.Tournament},
				&rerank.HybridNode{Weights: opts.Hybrid},
			},
		}
	}

	if opts.Vision != nil || opts.TextEmbedder != nil {
		e.legacy = &pipeline.Pipeline{
			Name: "discovery.legacy",
			Nodes: []pipeline.Node{
				&rerank.TopNNode{N: max(opts.VisionCandidates, opts.EmbedCandidates)},
				&rank.VisionNode{Model: opts.Vision, MaxCandidates: opts.VisionCandidates, Concurrency: opts.LegacyConcurrency},
				&rank.TextEmbeddingNode{Embedder: opts.TextEmbedder, MaxCandidates: opts.EmbedCandidates},
				&rerank.LegacyHybridNode{Weights: opts.Legacy},
			},
		}
	}
	return e
}

// Rank 对候选帖子打分排序。输入帖子不会被修改。
// 只有 ctx 在开始前已经结束时才返回错误。
func (e *Engine) Rank(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rctx := core.NewRecommendContext(req.UserID, req.Preferences, req.Feedback)
	log := logging.With("discovery").With().Str("user", req.UserID).Logger()

	posts := core.ClonePosts(req.Posts)
	prepared, err := e.prepare.Run(ctx, rctx, posts)
	if err != nil {
		log.Warn().Err(err).Msg("prepare stage failed, pre-ranking raw posts")
		metrics.Fallback("discovery.prepare", "error")
		prepared = rank.PreRank(posts, rctx.Prefs(), rctx.Feedback)
	}
	if len(prepared) == 0 {
		return &Result{Path: PathHeuristic}, nil
	}

	if e.beauty != nil {
		out, err := e.beauty.Run(ctx, rctx, core.ClonePosts(prepared))
		if err == nil && len(out) > 0 {
			return e.finish(ctx, rctx, out, PathBeauty), nil
		}
		reason := "error"
		if errors.Is(err, core.ErrEmptyCandidates) || err == nil {
			reason = "empty"
		}
		log.Warn().Err(err).Str("reason", reason).Msg("beauty path abandoned, using legacy path")
		metrics.Fallback(e.beauty.Name, reason)
	} else {
		metrics.Fallback("discovery.beauty", "not_configured")
	}

	if e.legacy != nil {
		out, err := e.legacy.Run(ctx, rctx, core.ClonePosts(prepared))
		switch {
		case err == nil && hasExternalSignal(out):
			return e.finish(ctx, rctx, out, PathLegacy), nil
		case err == nil:
			log.Warn().Msg("legacy path produced no vision or embedding signal, using heuristic ranking")
			metrics.Fallback(e.legacy.Name, "no_signal")
		default:
			log.Warn().Err(err).Msg("legacy path failed, using heuristic ranking")
			metrics.Fallback(e.legacy.Name, "error")
		}
	} else {
		metrics.Fallback("discovery.legacy", "not_configured")
	}

	for _, p := range prepared {
		p.FinalScore = p.Score
	}
	return e.finish(ctx, rctx, prepared, PathHeuristic), nil
}

// hasExternalSignal 报告是否至少有一个帖子拿到了视觉分或文本向量。
// 全部失败时 legacy 融合只剩本地互动分，会打乱启发式顺序。
func hasExternalSignal(posts []*core.Post) bool {
	for _, p := range posts {
		if p.VisionScore != nil || len(p.TextEmbedding) > 0 {
			return true
		}
	}
	return false
}

func (e *Engine) finish(ctx context.Context, rctx *core.RecommendContext, posts []*core.Post, path Path) *Result {
	out, _ := e.dedup.Process(ctx, rctx, posts)
	rctx.PutLabel("discovery_path", utils.Label{Value: string(path), Source: utils.SourceDiscovery})
	logging.Debug().Str("user", rctx.UserID).Str("path", string(path)).Int("in", len(posts)).Int("out", len(out)).Msg("ranking done")
	return &Result{Posts: out, Path: path}
}

// MarkSaved 记录用户已保存的帖子，之后的排序会把它们排除。未配置 Saved 时什么也不做。
func (e *Engine) MarkSaved(ctx context.Context, userID string, posts []*core.Post) error {
	if e.opts.Saved == nil || userID == "" || len(posts) == 0 {
		return nil
	}
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		if p != nil && p.ID != "" {
			ids = append(ids, p.ID)
		}
	}
	if err := e.opts.Saved.MarkSaved(ctx, filter.SeenKey(e.opts.SavedKeyPrefix, userID), ids...); err != nil {
		return fmt.Errorf("mark saved: %w", err)
	}
	return nil
}

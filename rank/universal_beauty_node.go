package rank

import (
	"context"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/model"
	"github.com/rushteam/tastekit/pipeline"
	"github.com/rushteam/tastekit/pkg/logging"
	"github.com/rushteam/tastekit/pkg/metrics"
	"github.com/rushteam/tastekit/pkg/utils"
	"github.com/rushteam/tastekit/pkg/workpool"
)

// UniversalBeautyNode 是 beauty 路径第一阶段：图像向量 + universal 美学分（+ 可选技术质量分）。
//   - 写入 ImageEmbedding / AestheticScore / TechnicalScore
//   - 写入 labels：rank_model、rank_aesthetic
//   - 不改变顺序；任何失败只让该帖子对应字段为空
type UniversalBeautyNode struct {
	Embedder core.ImageEmbedder // 通常是 *model.EmbeddingCache
	Model    model.EmbeddingModel

	// Technical 为 nil 表示不做技术质量评估
	Technical   *model.TechnicalScorer
	Concurrency int
}

func (n *UniversalBeautyNode) Name() string        { return "rank.universal_beauty" }
func (n *UniversalBeautyNode) Kind() pipeline.Kind { return pipeline.KindRank }

type beautySignals struct {
	embedding []float64
	aesthetic *float64
	technical *float64
}

func (n *UniversalBeautyNode) Process(
	ctx context.Context,
	_ *core.RecommendContext,
	posts []*core.Post,
) ([]*core.Post, error) {
	if n.Embedder == nil || n.Model == nil {
		return nil, core.ErrNotConfigured
	}
	concurrency := n.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}

	signals := workpool.Map(ctx, posts, concurrency, func(ctx context.Context, _ int, p *core.Post) beautySignals {
		return n.score(ctx, p)
	})
	for i, p := range posts {
		s := signals[i]
		p.ImageEmbedding = s.embedding
		p.AestheticScore = s.aesthetic
		p.TechnicalScore = s.technical
		if s.aesthetic != nil {
			p.PutLabel("rank_model", utils.Label{Value: n.Model.Name(), Source: utils.SourceRank})
			p.PutLabel("rank_aesthetic", utils.NumberLabel(*s.aesthetic, utils.SourceRank))
		}
	}
	return posts, nil
}

func (n *UniversalBeautyNode) score(ctx context.Context, p *core.Post) beautySignals {
	var out beautySignals
	if p.ImageURL == "" {
		return out
	}
	emb, err := n.Embedder.EmbedImage(ctx, p.ImageURL)
	if err != nil {
		metrics.Fallback(n.Name(), "embed_image")
		logging.Warn().Err(err).Str("post", p.ID).Msg("image embedding failed")
		return out
	}
	out.embedding = emb
	if s, err := n.Model.Predict(emb); err == nil {
		out.aesthetic = core.Float(s)
	} else {
		logging.Debug().Err(err).Str("post", p.ID).Msg("aesthetic score unavailable")
	}

	if n.Technical != nil {
		t, err := n.Technical.Score(ctx, p.ImageURL)
		if err != nil {
			logging.Debug().Err(err).Str("post", p.ID).Msg("technical score unavailable")
		} else {
			out.technical = core.Float(t)
		}
	}
	return out
}

var _ pipeline.Node = (*UniversalBeautyNode)(nil)

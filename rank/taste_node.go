package rank

import (
	"context"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/model"
	"github.com/rushteam/tastekit/pipeline"
	"github.com/rushteam/tastekit/pkg/logging"
	"github.com/rushteam/tastekit/pkg/utils"
	"github.com/rushteam/tastekit/pkg/vecmath"
	"github.com/rushteam/tastekit/pkg/workpool"
)

// neutralTasteScore 是没有口味向量或帖子向量时的中性分。
const neutralTasteScore = 0.5

// TasteNode 是 beauty 路径第二阶段：帖子图像向量与用户口味向量的余弦相似度。
//   - 写入 TasteSim（约 -1..1）与 TasteScore（映射到 0..1）
//   - 没有口味向量时 TasteSim=0、TasteScore=0.5
//   - 帖子缺向量时按需补算，失败同样取中性值
type TasteNode struct {
	Builder     *model.TasteBuilder
	Embedder    core.ImageEmbedder // 补算帖子向量，可为 nil
	Concurrency int
}

func (n *TasteNode) Name() string        { return "rank.taste" }
func (n *TasteNode) Kind() pipeline.Kind { return pipeline.KindRank }

func (n *TasteNode) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	posts []*core.Post,
) ([]*core.Post, error) {
	var taste []float64
	if n.Builder != nil && rctx != nil {
		taste = n.Builder.Build(ctx, rctx.UserID, rctx.Prefs(), rctx.Feedback)
	}
	if taste == nil {
		logging.Debug().Msg("no taste vector, neutral taste score used")
		for _, p := range posts {
			p.TasteSim = 0
			p.TasteScore = neutralTasteScore
		}
		return posts, nil
	}

	concurrency := n.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	embs := workpool.Map(ctx, posts, concurrency, func(ctx context.Context, _ int, p *core.Post) []float64 {
		if len(p.ImageEmbedding) > 0 || p.ImageURL == "" || n.Embedder == nil {
			return p.ImageEmbedding
		}
		emb, err := n.Embedder.EmbedImage(ctx, p.ImageURL)
		if err != nil {
			logging.Debug().Err(err).Str("post", p.ID).Msg("taste: image embedding unavailable")
			return nil
		}
		return emb
	})

	for i, p := range posts {
		if len(embs[i]) == 0 {
			p.TasteSim = 0
			p.TasteScore = neutralTasteScore
			continue
		}
		p.ImageEmbedding = embs[i]
		p.TasteSim = vecmath.Cosine(taste, embs[i])
		p.TasteScore = vecmath.SimilarityScore(p.TasteSim)
		p.PutLabel("rank_taste", utils.NumberLabel(p.TasteScore, utils.SourceRank))
	}
	return posts, nil
}

var _ pipeline.Node = (*TasteNode)(nil)

package rank

import (
	"context"
	"strings"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pipeline"
	"github.com/rushteam/tastekit/pkg/logging"
	"github.com/rushteam/tastekit/pkg/metrics"
	"github.com/rushteam/tastekit/pkg/utils"
	"github.com/rushteam/tastekit/pkg/vecmath"
)

const (
	// DefaultEmbedCandidates 是 legacy 路径中做文本向量相似度的候选数。
	DefaultEmbedCandidates = 30

	tasteTextFeedbackItems = 20
	maxEmbedTextLen        = 6000
)

// TasteText 把偏好与反馈拼成一段“口味文本”，一行一个字段。
func TasteText(prefs core.Preferences, fb core.Feedback) string {
	prefs = prefs.Normalize()
	var style []string
	if prefs.Style != "" {
		style = []string{prefs.Style}
	}
	return strings.Join([]string{
		"topics: " + strings.Join(prefs.Topics, ", "),
		"keywords: " + strings.Join(prefs.Keywords, ", "),
		"style: " + strings.Join(style, ", "),
		"likedAccounts: " + strings.Join(prefs.LikedAccounts, ", "),
		"likedCaptions: " + strings.Join(fb.LikedCaptions(tasteTextFeedbackItems, 0), " | "),
		"dislikedCaptions: " + strings.Join(fb.DislikedCaptions(tasteTextFeedbackItems, 0), " | "),
	}, "\n")
}

// PostText 拼接 caption、hashtags、图片描述与 alt，空段落被跳过。
func PostText(p *core.Post) string {
	parts := make([]string, 0, 4)
	for _, s := range []string{p.Caption, strings.Join(p.Hashtags, " "), p.ImageDescription, p.Alt} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return core.Truncate(strings.Join(parts, "\n"), maxEmbedTextLen)
}

// TextEmbeddingNode 计算口味文本与帖子文本的余弦相似度（legacy 路径）。
//
// 只处理前 MaxCandidates 个帖子；任一次向量调用失败时相似度保持 0，不改变顺序。
type TextEmbeddingNode struct {
	Embedder      core.TextEmbedder
	MaxCandidates int
}

func (n *TextEmbeddingNode) Name() string        { return "rank.text_embedding" }
func (n *TextEmbeddingNode) Kind() pipeline.Kind { return pipeline.KindRank }

func (n *TextEmbeddingNode) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	posts []*core.Post,
) ([]*core.Post, error) {
	for _, p := range posts {
		p.EmbeddingSim = 0
	}
	if n.Embedder == nil {
		logging.Debug().Msg("text embedder not configured, stage skipped")
		metrics.Fallback(n.Name(), "not_configured")
		return posts, nil
	}
	limit := n.MaxCandidates
	if limit <= 0 {
		limit = DefaultEmbedCandidates
	}

	var fb core.Feedback
	if rctx != nil {
		fb = rctx.Feedback
	}
	var taste []float64
	vecs, err := n.Embedder.EmbedTexts(ctx, []string{TasteText(rctx.Prefs(), fb)})
	if err != nil || len(vecs) == 0 {
		metrics.Fallback(n.Name(), "taste_text")
		logging.Warn().Err(err).Msg("embed taste text failed, similarity defaults to 0")
	} else {
		taste = vecs[0]
	}

	head := posts[:min(limit, len(posts))]
	texts := make([]string, len(head))
	for i, p := range head {
		texts[i] = PostText(p)
	}
	embs, err := n.Embedder.EmbedTexts(ctx, texts)
	if err != nil {
		metrics.Fallback(n.Name(), "post_text")
		logging.Warn().Err(err).Int("posts", len(head)).Msg("embed post texts failed, similarity defaults to 0")
		return posts, nil
	}

	for i, p := range head {
		if i >= len(embs) || len(embs[i]) == 0 {
			continue
		}
		p.TextEmbedding = embs[i]
		if taste != nil {
			p.EmbeddingSim = vecmath.Cosine(taste, embs[i])
			p.PutLabel("rank_text_sim", utils.NumberLabel(p.EmbeddingSim, utils.SourceRank))
		}
	}
	return posts, nil
}

var _ pipeline.Node = (*TextEmbeddingNode)(nil)

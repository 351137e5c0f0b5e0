package core

import (
	"math"
	"time"

	"github.com/rushteam/tastekit/pkg/utils"
)

// Post 是排序链路中的统一承载结构：候选帖子的原始属性 + 各阶段附加的派生分数。
//
// 原始属性（ID ~ Source）由采集层写入，排序阶段只读；
// 派生属性由各 Node 追加，Score 是下游持久化/展示唯一读取的字段。
type Post struct {
	ID       string   `json:"id"`
	URL      string   `json:"url"`
	ImageURL string   `json:"imageUrl,omitempty"`
	Caption  string   `json:"caption,omitempty"`
	Hashtags []string `json:"hashtags,omitempty"`
	Author   string   `json:"author,omitempty"`
	Alt      string   `json:"alt,omitempty"`
	Source   string   `json:"source,omitempty"`

	// 互动计数，采集层拿不到时为 nil
	LikeCount    *float64   `json:"likeCount,omitempty"`
	CommentCount *float64   `json:"commentCount,omitempty"`
	ViewCount    *float64   `json:"viewCount,omitempty"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`

	// 启发式 / 旧路径信号
	TextScore        float64   `json:"textScore"`
	VisionScore      *float64  `json:"visionScore,omitempty"`
	VisionTags       []string  `json:"visionTags,omitempty"`
	ImageDescription string    `json:"imageDescription,omitempty"`
	AISignals        bool      `json:"aiSignals"`
	TextEmbedding    []float64 `json:"embedding,omitempty"`
	EmbeddingSim     float64   `json:"embeddingSim"`

	// Beauty 路径信号
	ImageEmbedding []float64 `json:"imageEmbedding,omitempty"`
	AestheticScore *float64  `json:"aestheticScore,omitempty"`
	TechnicalScore *float64  `json:"technicalScore,omitempty"`
	TasteSim       float64   `json:"tasteSim"`
	TasteScore     float64   `json:"tasteScore"`
	VibeScore      *float64  `json:"vibeScore,omitempty"`
	BaseBeauty     float64   `json:"baseBeauty"`

	EngagementScore *float64 `json:"engagementScore,omitempty"`
	FinalScore      float64  `json:"finalScore"`
	Score           float64  `json:"score"`

	Labels map[string]utils.Label `json:"labels,omitempty"`
}

// PutLabel 写入 Label；若已存在同名 key，则按默认 Merge 规则累积。
func (p *Post) PutLabel(key string, lbl utils.Label) {
	if p.Labels == nil {
		p.Labels = make(map[string]utils.Label)
	}
	if old, ok := p.Labels[key]; ok {
		p.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	p.Labels[key] = lbl
}

// Clone 深拷贝一个 Post。
// 每条排序路径都在自己的副本上追加派生字段，调用方传入的原始 Post 不会被修改。
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	out := *p
	out.Hashtags = cloneSlice(p.Hashtags)
	out.VisionTags = cloneSlice(p.VisionTags)
	out.TextEmbedding = cloneSlice(p.TextEmbedding)
	out.ImageEmbedding = cloneSlice(p.ImageEmbedding)
	out.LikeCount = clonePtr(p.LikeCount)
	out.CommentCount = clonePtr(p.CommentCount)
	out.ViewCount = clonePtr(p.ViewCount)
	out.Timestamp = clonePtr(p.Timestamp)
	out.VisionScore = clonePtr(p.VisionScore)
	out.AestheticScore = clonePtr(p.AestheticScore)
	out.TechnicalScore = clonePtr(p.TechnicalScore)
	out.VibeScore = clonePtr(p.VibeScore)
	out.EngagementScore = clonePtr(p.EngagementScore)
	if p.Labels != nil {
		out.Labels = make(map[string]utils.Label, len(p.Labels))
		for k, v := range p.Labels {
			out.Labels[k] = v
		}
	}
	return &out
}

// ClonePosts 拷贝整个列表，nil 元素会被跳过。
func ClonePosts(posts []*Post) []*Post {
	out := make([]*Post, 0, len(posts))
	for _, p := range posts {
		if p == nil {
			continue
		}
		out = append(out, p.Clone())
	}
	return out
}

// Float 返回一个指向 v 的指针，便于给可选分数赋值。
func Float(v float64) *float64 {
	return &v
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// EngagementComposite 是互动综合分：likes + 2×comments + 0.5×views，缺失计数按 0 处理。
func (p *Post) EngagementComposite() float64 {
	return value(p.LikeCount) + 2*value(p.CommentCount) + 0.5*value(p.ViewCount)
}

func value(v *float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0
	}
	return *v
}

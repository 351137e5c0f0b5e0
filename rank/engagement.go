package rank

import (
	"math"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pkg/vecmath"
)

// EngagementScore 把互动计数映射到 [0,1]：
// clamp01((0.55·log10(likes+1) + 0.85·log10(comments+1) + 0.25·log10(views+1)) / 6)。
func EngagementScore(p *core.Post) float64 {
	l := math.Log10(count(p.LikeCount) + 1)
	c := math.Log10(count(p.CommentCount) + 1)
	v := math.Log10(count(p.ViewCount) + 1)
	return vecmath.Clamp01((0.55*l + 0.85*c + 0.25*v) / 6)
}

// EnsureEngagement 在上游没有给出 EngagementScore（例如 seed_expand 的 delta 分）时补上。
func EnsureEngagement(p *core.Post) float64 {
	if p.EngagementScore == nil {
		p.EngagementScore = core.Float(EngagementScore(p))
	}
	return *p.EngagementScore
}

func count(v *float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
		return 0
	}
	return *v
}

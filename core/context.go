package core

import "github.com/rushteam/tastekit/pkg/utils"

// RecommendContext 承载用户偏好/反馈/请求参数，贯穿整个 Pipeline 透传。
type RecommendContext struct {
	UserID string

	// Preferences 用户显式偏好（topics/style/keywords/likedAccounts）
	Preferences Preferences

	// Feedback 历史 thumbs-up / thumbs-down
	Feedback Feedback

	// Labels 是用户级标签，可驱动整个 Pipeline 行为
	Labels map[string]utils.Label

	// Params 请求级参数，例如 page、scene 等
	Params map[string]any
}

// NewRecommendContext 创建上下文，并把偏好里的 nil 列表规范为空列表。
func NewRecommendContext(userID string, prefs Preferences, fb Feedback) *RecommendContext {
	return &RecommendContext{
		UserID:      userID,
		Preferences: prefs.Normalize(),
		Feedback:    fb,
		Labels:      make(map[string]utils.Label),
		Params:      make(map[string]any),
	}
}

// Prefs 返回规范化后的偏好；rctx 为 nil 时返回空偏好。
func (rctx *RecommendContext) Prefs() Preferences {
	if rctx == nil {
		return Preferences{}.Normalize()
	}
	return rctx.Preferences.Normalize()
}

// PutLabel 写入用户级 Label。
func (rctx *RecommendContext) PutLabel(key string, lbl utils.Label) {
	if rctx.Labels == nil {
		rctx.Labels = make(map[string]utils.Label)
	}
	if old, ok := rctx.Labels[key]; ok {
		rctx.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	rctx.Labels[key] = lbl
}

// GetLabel 获取用户级 Label。
func (rctx *RecommendContext) GetLabel(key string) (utils.Label, bool) {
	if rctx.Labels == nil {
		return utils.Label{}, false
	}
	lbl, ok := rctx.Labels[key]
	return lbl, ok
}

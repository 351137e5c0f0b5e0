package core

import (
	"regexp"
	"strings"
)

// Preferences 是用户显式声明的口味偏好。
// 所有列表字段在打分时都按“空列表”处理，不会是 nil。
type Preferences struct {
	Topics        []string `json:"topics"`
	Style         string   `json:"style"`
	Keywords      []string `json:"keywords"`
	LikedAccounts []string `json:"likedAccounts"`
}

// Normalize 返回一个列表字段均非 nil 的副本。
func (p Preferences) Normalize() Preferences {
	out := p
	out.Topics = nonNil(p.Topics)
	out.Keywords = nonNil(p.Keywords)
	out.LikedAccounts = nonNil(p.LikedAccounts)
	return out
}

var aiArtPattern = regexp.MustCompile(`(?i)ai\s*art`)

// WantsAIArt 用户是否在 topics 中明确要求 AI 生成内容。
func (p Preferences) WantsAIArt() bool {
	for _, t := range p.Topics {
		if aiArtPattern.MatchString(t) {
			return true
		}
	}
	return false
}

// AccountHandles 返回去掉 "@" 前缀、去空白后的账号列表（保持原顺序，去重）。
func (p Preferences) AccountHandles(limit int) []string {
	return NormalizeHandles(p.LikedAccounts, limit)
}

// NormalizeHandles 规范化账号名：去 "@"、去空白、按小写去重，limit <= 0 表示不截断。
func NormalizeHandles(handles []string, limit int) []string {
	out := make([]string, 0, len(handles))
	seen := make(map[string]bool, len(handles))
	for _, h := range handles {
		h = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(h), "@"))
		if h == "" || seen[strings.ToLower(h)] {
			continue
		}
		seen[strings.ToLower(h)] = true
		out = append(out, h)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// FeedbackItem 是一条历史评价（点赞或点踩）的精简形态。
type FeedbackItem struct {
	Caption  string   `json:"caption"`
	Hashtags []string `json:"hashtags"`
	ImageURL string   `json:"imageUrl,omitempty"`
}

// Feedback 是用户过往的 thumbs-up / thumbs-down 记录。
// 只作为 LLM prompt 的条件上下文与口味向量的兜底来源，不会回写任何模型。
type Feedback struct {
	Liked    []FeedbackItem `json:"liked"`
	Disliked []FeedbackItem `json:"disliked"`
}

// LikedCaptions 返回前 n 条点赞内容的 caption，每条截断到 maxLen 个字符（maxLen <= 0 不截断）。
func (f Feedback) LikedCaptions(n, maxLen int) []string {
	return captions(f.Liked, n, maxLen)
}

// DislikedCaptions 同 LikedCaptions。
func (f Feedback) DislikedCaptions(n, maxLen int) []string {
	return captions(f.Disliked, n, maxLen)
}

func captions(items []FeedbackItem, n, maxLen int) []string {
	if n > len(items) || n <= 0 {
		n = len(items)
	}
	out := make([]string, 0, n)
	for _, it := range items[:n] {
		out = append(out, Truncate(it.Caption, maxLen))
	}
	return out
}

// Truncate 按 rune 截断字符串。
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pkg/vecmath"
)

const (
	promptLikedAccounts = 5
	promptFeedbackItems = 6
	promptFeedbackLen   = 200
	promptCaptionLen    = 800
	visionTagLen        = 48
	visionDescLen       = 500
)

const visionSystemPrompt = "You are a strict JSON-only response generator. Do not include markdown. " +
	"Be conservative about aiSignals: only true if it is strongly likely."

const groupSystemPrompt = "You are a strict JSON-only response generator and a discerning photo editor. " +
	"Do not include markdown. Prefer soulful, authentic, human-made images over commercial, generic or stock-like ones. " +
	"Be conservative about aiGenerated: only true if it is strongly likely."

// ChatClient 是 OpenAI 兼容 /chat/completions 的视觉模型客户端，实现 core.VisionModel。
//
// 请求带 image_url 内容块，并要求 response_format=json_object。
// 所有调用都返回带标记的结果（OK / ParseError / NetworkError / Timeout），不会 panic 或返回裸错误。
type ChatClient struct {
	// Endpoint 形如 "https://api.openai.com/v1"
	Endpoint string

	// Model 模型名称，默认 gpt-4o-mini
	Model string

	Auth *AuthConfig

	httpClient *http.Client
	guard      *Guard
}

// ChatOption ChatClient 配置选项
type ChatOption func(*ChatClient)

// WithChatAuth 设置认证信息
func WithChatAuth(auth *AuthConfig) ChatOption {
	return func(c *ChatClient) { c.Auth = auth }
}

// WithChatHTTPClient 设置自定义 HTTP 客户端
func WithChatHTTPClient(httpClient *http.Client) ChatOption {
	return func(c *ChatClient) { c.httpClient = httpClient }
}

// WithChatGuard 设置调用保护
func WithChatGuard(cfg GuardConfig) ChatOption {
	return func(c *ChatClient) { c.guard = NewGuard(cfg) }
}

// NewChatClient 创建视觉模型客户端。
func NewChatClient(endpoint, model string, opts ...ChatOption) *ChatClient {
	if model == "" {
		model = "gpt-4o-mini"
	}
	c := &ChatClient{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Model:    model,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.guard == nil {
		c.guard = NewGuard(GuardConfig{Name: "chat", Timeout: 60 * time.Second})
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ScorePost 对单个帖子图片按用户口味打分。没有图片时不发起调用，直接返回空结果。
func (c *ChatClient) ScorePost(ctx context.Context, post *core.Post, prefs core.Preferences, fb core.Feedback) core.Result[core.VisionVerdict] {
	if post == nil || post.ImageURL == "" {
		return core.OK(core.VisionVerdict{})
	}

	text := preferenceBlock(prefs, fb) + `
You will see an Instagram post image and optional caption/alt text.
Return JSON with:
- score: number 0..1 (fit to user's taste)
- tags: short array of style/mood/subject tags
- imageDescription: 1-2 sentences describing the image content and aesthetic
- aiSignals: boolean (true if looks like AI-generated art / obvious AI render)
` + fmt.Sprintf("\nCaption: %s\nAlt: %s",
		core.Truncate(post.Caption, promptCaptionLen), core.Truncate(post.Alt, promptCaptionLen))

	content, res := c.complete(ctx, visionSystemPrompt, []contentPart{
		{Type: "text", Text: text},
		{Type: "image_url", ImageURL: &imageRef{URL: post.ImageURL}},
	})
	if res.Outcome != core.OutcomeOK {
		return core.Failed[core.VisionVerdict](res.Outcome, res.Err)
	}

	var parsed struct {
		Score            *float64 `json:"score"`
		Tags             []any    `json:"tags"`
		ImageDescription *string  `json:"imageDescription"`
		AISignals        bool     `json:"aiSignals"`
	}
	if err := decodeModelJSON(content, &parsed); err != nil {
		return core.Failed[core.VisionVerdict](core.OutcomeParseError, err)
	}

	v := core.VisionVerdict{
		Tags:      truncateTags(parsed.Tags),
		AISignals: parsed.AISignals,
	}
	if parsed.Score != nil {
		v.Score = core.Float(vecmath.Clamp01(*parsed.Score))
	}
	if parsed.ImageDescription != nil {
		v.Description = core.Truncate(*parsed.ImageDescription, visionDescLen)
	}
	return core.OK(v)
}

// JudgeGroup 一次调用比较一组图片：返回组内排名（可能不完整）与逐图 vibe 分。
func (c *ChatClient) JudgeGroup(ctx context.Context, group []*core.Post, prefs core.Preferences, fb core.Feedback) core.Result[core.GroupVerdict] {
	if len(group) == 0 {
		return core.OK(core.GroupVerdict{})
	}

	var sb strings.Builder
	sb.WriteString(preferenceBlock(prefs, fb))
	fmt.Fprintf(&sb, `
You will see %d Instagram post images, numbered 0..%d in the order given.
Compare them against each other for this user: rank from most soulful, authentic and on-taste
to most commercial, generic or off-taste.
Return JSON with:
- ranking: array of ALL image indices, best first
- images: array of {index, vibe (number 0..1), tags (short array), description (1 sentence), aiGenerated (boolean)}
`, len(group), len(group)-1)

	parts := []contentPart{{Type: "text", Text: sb.String()}}
	for i, p := range group {
		parts = append(parts, contentPart{
			Type: "text",
			Text: fmt.Sprintf("Image %d caption: %s", i, core.Truncate(p.Caption, promptFeedbackLen)),
		})
		if p.ImageURL != "" {
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageRef{URL: p.ImageURL}})
		}
	}

	content, res := c.complete(ctx, groupSystemPrompt, parts)
	if res.Outcome != core.OutcomeOK {
		return core.Failed[core.GroupVerdict](res.Outcome, res.Err)
	}

	var parsed struct {
		Ranking []float64 `json:"ranking"`
		Images  []struct {
			Index       *float64 `json:"index"`
			Vibe        *float64 `json:"vibe"`
			Tags        []any    `json:"tags"`
			Description string   `json:"description"`
			AIGenerated bool     `json:"aiGenerated"`
		} `json:"images"`
	}
	if err := decodeModelJSON(content, &parsed); err != nil {
		return core.Failed[core.GroupVerdict](core.OutcomeParseError, err)
	}

	verdict := core.GroupVerdict{Order: make([]int, 0, len(parsed.Ranking))}
	for _, r := range parsed.Ranking {
		verdict.Order = append(verdict.Order, int(r))
	}
	for i, img := range parsed.Images {
		idx := i
		if img.Index != nil {
			idx = int(*img.Index)
		}
		e := core.GroupEntry{
			Index:       idx,
			Tags:        truncateTags(img.Tags),
			Description: core.Truncate(img.Description, visionDescLen),
			AIGenerated: img.AIGenerated,
		}
		if img.Vibe != nil {
			e.Vibe = core.Float(vecmath.Clamp01(*img.Vibe))
		}
		verdict.Entries = append(verdict.Entries, e)
	}
	return core.OK(verdict)
}

// complete 发送一次 chat 请求，返回 message.content。
func (c *ChatClient) complete(ctx context.Context, system string, parts []contentPart) (string, core.Result[struct{}]) {
	req := chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: parts},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	url := c.Endpoint + "/chat/completions"

	body, err := c.guard.Do(ctx, func(ctx context.Context) ([]byte, error) {
		return postJSON(ctx, c.httpClient, url, c.Auth, req)
	})
	if err != nil {
		return "", core.Failed[struct{}](Classify(ctx, err), err)
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", core.Failed[struct{}](core.OutcomeParseError, fmt.Errorf("decode chat response: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", core.Failed[struct{}](core.OutcomeParseError, errors.New("chat response has no choices"))
	}
	return resp.Choices[0].Message.Content, core.OK(struct{}{})
}

// preferenceBlock 构造偏好 + 反馈上下文。
func preferenceBlock(prefs core.Preferences, fb core.Feedback) string {
	prefs = prefs.Normalize()
	prefJSON, _ := json.Marshal(prefs)
	accounts, _ := json.Marshal(prefs.AccountHandles(promptLikedAccounts))
	liked, _ := json.Marshal(fb.LikedCaptions(promptFeedbackItems, promptFeedbackLen))
	disliked, _ := json.Marshal(fb.DislikedCaptions(promptFeedbackItems, promptFeedbackLen))

	return fmt.Sprintf(`User preferences: %s
Liked accounts: %s
Examples they liked (captions): %s
Examples they disliked (captions): %s
`, prefJSON, accounts, liked, disliked)
}

// decodeModelJSON 解析模型返回的 JSON，容忍 markdown 代码块包裹。
func decodeModelJSON(content string, v any) error {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if s == "" {
		return errors.New("empty model content")
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("decode model json: %w", err)
	}
	return nil
}

func truncateTags(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if t == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(t))
		if s == "" {
			continue
		}
		out = append(out, core.Truncate(s, visionTagLen))
	}
	return out
}

var _ core.VisionModel = (*ChatClient)(nil)

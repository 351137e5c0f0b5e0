package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rushteam/tastekit/core"
)

const (
	// MaxEmbedInputLen 单条输入的字符上限
	MaxEmbedInputLen = 6000

	defaultEmbedBatch = 64
)

// EmbeddingClient 是 OpenAI 兼容 /embeddings 的文本向量客户端，实现 core.TextEmbedder。
//
// 输入按批发送，每条截断到 6000 字符；输出按响应中的 index 回填，保证与输入一一对应。
type EmbeddingClient struct {
	Endpoint  string
	Model     string
	Auth      *AuthConfig
	BatchSize int

	httpClient *http.Client
	guard      *Guard
}

// EmbeddingOption EmbeddingClient 配置选项
type EmbeddingOption func(*EmbeddingClient)

// WithEmbeddingAuth 设置认证信息
func WithEmbeddingAuth(auth *AuthConfig) EmbeddingOption {
	return func(c *EmbeddingClient) { c.Auth = auth }
}

// WithEmbeddingHTTPClient 设置自定义 HTTP 客户端
func WithEmbeddingHTTPClient(httpClient *http.Client) EmbeddingOption {
	return func(c *EmbeddingClient) { c.httpClient = httpClient }
}

// WithEmbeddingGuard 设置调用保护
func WithEmbeddingGuard(cfg GuardConfig) EmbeddingOption {
	return func(c *EmbeddingClient) { c.guard = NewGuard(cfg) }
}

// WithEmbeddingBatchSize 设置单次请求的输入条数
func WithEmbeddingBatchSize(n int) EmbeddingOption {
	return func(c *EmbeddingClient) { c.BatchSize = n }
}

// NewEmbeddingClient 创建文本向量客户端，model 为空时使用 text-embedding-3-small。
func NewEmbeddingClient(endpoint, model string, opts ...EmbeddingOption) *EmbeddingClient {
	if model == "" {
		model = "text-embedding-3-small"
	}
	c := &EmbeddingClient{
		Endpoint:  strings.TrimRight(endpoint, "/"),
		Model:     model,
		BatchSize: defaultEmbedBatch,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.guard == nil {
		c.guard = NewGuard(GuardConfig{Name: "embedding", Timeout: 30 * time.Second})
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultEmbedBatch
	}
	return c
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// EmbedTexts 实现 core.TextEmbedder。任何一批失败时整体返回错误。
func (c *EmbeddingClient) EmbedTexts(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for start := 0; start < len(texts); start += c.BatchSize {
		end := min(start+c.BatchSize, len(texts))
		vecs, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		copy(out[start:end], vecs)
	}
	return out, nil
}

func (c *EmbeddingClient) embedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = core.Truncate(t, MaxEmbedInputLen)
	}
	payload := map[string]any{"model": c.Model, "input": input}
	url := c.Endpoint + "/embeddings"

	body, err := c.guard.Do(ctx, func(ctx context.Context) ([]byte, error) {
		return postJSON(ctx, c.httpClient, url, c.Auth, payload)
	})
	if err != nil {
		return nil, fmt.Errorf("embed texts: %w", err)
	}

	var resp embeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	out := make([][]float64, len(texts))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		if idx < len(out) {
			out[idx] = d.Embedding
		}
	}
	return out, nil
}

var _ core.TextEmbedder = (*EmbeddingClient)(nil)

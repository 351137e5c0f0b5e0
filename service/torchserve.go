package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pkg/conv"
)

// ClipClient 是部署在 TorchServe 上的 CLIP 图像向量模型客户端，实现 core.ImageEmbedder。
//
// REST API 格式：
//   - 推理端点：POST /predictions/{model_name}
//   - 请求体：{"data": {"url": "<image url>"}}
//   - 响应：向量数组 [0.01, ...]、嵌套数组 [[0.01, ...]]，
//     或对象 {"embedding": [...]} / {"embeddings": [[...]]} / {"predictions": [...]}
//
// 返回的向量未归一化，归一化与维度校验由 model.EmbeddingCache 负责。
type ClipClient struct {
	// Endpoint 服务端点，如 "http://localhost:8080"
	Endpoint string

	// ModelName 模型名称，如 "clip_vit_b32"
	ModelName string

	// ModelVersion 模型版本（可选）
	ModelVersion string

	Auth *AuthConfig

	httpClient *http.Client
	guard      *Guard
}

// ClipOption ClipClient 配置选项
type ClipOption func(*ClipClient)

// WithClipVersion 设置模型版本
func WithClipVersion(version string) ClipOption {
	return func(c *ClipClient) { c.ModelVersion = version }
}

// WithClipAuth 设置认证信息
func WithClipAuth(auth *AuthConfig) ClipOption {
	return func(c *ClipClient) { c.Auth = auth }
}

// WithClipHTTPClient 设置自定义 HTTP 客户端
func WithClipHTTPClient(httpClient *http.Client) ClipOption {
	return func(c *ClipClient) { c.httpClient = httpClient }
}

// WithClipGuard 设置调用保护
func WithClipGuard(cfg GuardConfig) ClipOption {
	return func(c *ClipClient) { c.guard = NewGuard(cfg) }
}

// NewClipClient 创建 CLIP 图像向量客户端。
func NewClipClient(endpoint, modelName string, opts ...ClipOption) *ClipClient {
	c := &ClipClient{
		Endpoint:  strings.TrimRight(endpoint, "/"),
		ModelName: modelName,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.guard == nil {
		c.guard = NewGuard(GuardConfig{Name: "clip", Timeout: 30 * time.Second})
	}
	return c
}

// EmbedImage 实现 core.ImageEmbedder。
func (c *ClipClient) EmbedImage(ctx context.Context, imageURL string) ([]float64, error) {
	// TorchServe 推理端点格式：/predictions/{model_name}[/{version}]
	url := fmt.Sprintf("%s/predictions/%s", c.Endpoint, c.ModelName)
	if c.ModelVersion != "" {
		url = fmt.Sprintf("%s/%s", url, c.ModelVersion)
	}
	payload := map[string]any{"data": map[string]string{"url": imageURL}}

	body, err := c.guard.Do(ctx, func(ctx context.Context) ([]byte, error) {
		return postJSON(ctx, c.httpClient, url, c.Auth, payload)
	})
	if err != nil {
		return nil, fmt.Errorf("clip embed: %w", err)
	}
	vec, err := parseEmbedding(body)
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// Health 调用 TorchServe 的 /ping。
func (c *ClipClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"/ping", nil)
	if err != nil {
		return err
	}
	c.Auth.apply(req)
	_, err = do(c.httpClient, req)
	return err
}

// parseEmbedding 兼容几种常见的 Handler 输出格式。
func parseEmbedding(body []byte) ([]float64, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode torchserve response: %w", err)
	}
	if obj, ok := raw.(map[string]any); ok {
		for _, key := range []string{"embedding", "embeddings", "predictions", "data"} {
			if v, ok := obj[key]; ok {
				raw = v
				break
			}
		}
	}
	arr, ok := raw.([]any)
	if !ok || len(arr) == 0 {
		return nil, fmt.Errorf("unable to parse embedding from response: %.200s", string(body))
	}
	// 批量格式 [[...]] 取第一条
	if inner, ok := arr[0].([]any); ok {
		arr = inner
	}
	out := make([]float64, 0, len(arr))
	for _, v := range arr {
		f, ok := conv.ToFloat64(v)
		if !ok {
			return nil, fmt.Errorf("non-numeric value %v in embedding", v)
		}
		out = append(out, f)
	}
	return out, nil
}

var _ core.ImageEmbedder = (*ClipClient)(nil)

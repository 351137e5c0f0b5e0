package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ServiceType 外部模型服务类型
type ServiceType string

const (
	ServiceTypeChat       ServiceType = "openai_chat"      // OpenAI 兼容 /chat/completions（视觉模型）
	ServiceTypeEmbedding  ServiceType = "openai_embedding" // OpenAI 兼容 /embeddings
	ServiceTypeTorchServe ServiceType = "torch_serve"      // TorchServe 图像向量模型
)

// ServiceConfig 服务配置
type ServiceConfig struct {
	// Type 服务类型
	Type ServiceType

	// Endpoint 服务端点
	// Chat / Embedding: "https://api.openai.com/v1"
	// TorchServe: "http://localhost:8080"
	Endpoint string

	// ModelName 模型名称（gpt-4o-mini / text-embedding-3-small / clip_vit_b32）
	ModelName string

	// Timeout 超时时间
	Timeout time.Duration

	// Auth 认证信息（可选）
	Auth *AuthConfig

	// Guard 调用保护（限流/熔断/重试），Name 与 Timeout 为空时沿用上面的值
	Guard GuardConfig
}

// AuthConfig 认证配置
type AuthConfig struct {
	Type     string // "basic", "bearer", "api_key"
	Username string
	Password string
	Token    string
	APIKey   string
}

func (a *AuthConfig) apply(req *http.Request) {
	if a == nil {
		return
	}
	switch a.Type {
	case "basic":
		req.SetBasicAuth(a.Username, a.Password)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+a.Token)
	case "api_key":
		req.Header.Set("X-API-Key", a.APIKey)
	}
}

// BearerAuth 构造 Bearer Token 认证。
func BearerAuth(token string) *AuthConfig {
	if token == "" {
		return nil
	}
	return &AuthConfig{Type: "bearer", Token: token}
}

// postJSON 发送 JSON 请求并返回 2xx 响应体，非 2xx 返回 *HTTPError。
func postJSON(ctx context.Context, client *http.Client, url string, auth *AuthConfig, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	auth.apply(req)
	return do(client, req)
}

func do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > 512 {
			body = body[:512]
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: req.URL.String(), Body: string(body)}
	}
	return body, nil
}

func guardConfig(cfg *ServiceConfig, defaultName string) GuardConfig {
	g := cfg.Guard
	if g.Name == "" {
		g.Name = defaultName
	}
	if g.Timeout == 0 {
		g.Timeout = cfg.Timeout
	}
	return g
}

package service

import (
	"fmt"
	"time"

	"github.com/rushteam/tastekit/core"
)

// NewVisionModel 根据配置创建视觉模型客户端（工厂方法）。
func NewVisionModel(config *ServiceConfig) (core.VisionModel, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	if config.Type != ServiceTypeChat {
		return nil, fmt.Errorf("unsupported vision service type: %s", config.Type)
	}
	return NewChatClient(config.Endpoint, config.ModelName,
		WithChatAuth(config.Auth),
		WithChatGuard(guardConfig(withTimeout(config, 60*time.Second), "chat")),
	), nil
}

// NewTextEmbedder 根据配置创建文本向量客户端。
func NewTextEmbedder(config *ServiceConfig) (core.TextEmbedder, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	if config.Type != ServiceTypeEmbedding {
		return nil, fmt.Errorf("unsupported text embedding service type: %s", config.Type)
	}
	return NewEmbeddingClient(config.Endpoint, config.ModelName,
		WithEmbeddingAuth(config.Auth),
		WithEmbeddingGuard(guardConfig(withTimeout(config, 30*time.Second), "embedding")),
	), nil
}

// NewImageEmbedder 根据配置创建图像向量客户端。
func NewImageEmbedder(config *ServiceConfig) (core.ImageEmbedder, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	if config.Type != ServiceTypeTorchServe {
		return nil, fmt.Errorf("unsupported image embedding service type: %s", config.Type)
	}
	return NewClipClient(config.Endpoint, config.ModelName,
		WithClipAuth(config.Auth),
		WithClipGuard(guardConfig(withTimeout(config, 30*time.Second), "clip")),
	), nil
}

// ValidateConfig 验证服务配置；缺少端点时返回 ErrNotConfigured，对应阶段应直接跳过。
func ValidateConfig(config *ServiceConfig) error {
	if config == nil || config.Endpoint == "" {
		return core.ErrNotConfigured
	}
	if config.Type == ServiceTypeTorchServe && config.ModelName == "" {
		return fmt.Errorf("model name is required for %s", config.Type)
	}
	return nil
}

func withTimeout(config *ServiceConfig, def time.Duration) *ServiceConfig {
	c := *config
	if c.Timeout <= 0 {
		c.Timeout = def
	}
	return &c
}

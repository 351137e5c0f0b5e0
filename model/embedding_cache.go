package model

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pkg/vecmath"
	"github.com/rushteam/tastekit/store"
)

const (
	DefaultEmbeddingCacheSize = 750
	MaxEmbeddingCacheSize     = 5000
	DefaultEmbeddingCacheTTL  = 24 * time.Hour
)

// EmbeddingCache 包装一个 core.ImageEmbedder：按图片 URL 缓存 L2 归一化后的向量。
//
// 维度与 Dim 不一致的向量会被拒绝（不打分、不写缓存）。
// 外部调用期间不持有任何锁，并发回填同一 URL 时后写入者生效。
type EmbeddingCache struct {
	Embedder core.ImageEmbedder
	Dim      int
	cache    *store.TTLCache[string, []float64]
}

// NewEmbeddingCache 创建带缓存的图像向量提取器。
// maxSize <= 0 时取 750，上限 5000；ttl <= 0 时取 24h；clock 为 nil 时使用 time.Now。
func NewEmbeddingCache(embedder core.ImageEmbedder, dim, maxSize int, ttl time.Duration, clock store.Clock) *EmbeddingCache {
	if maxSize <= 0 {
		maxSize = DefaultEmbeddingCacheSize
	}
	maxSize = min(maxSize, MaxEmbeddingCacheSize)
	if ttl <= 0 {
		ttl = DefaultEmbeddingCacheTTL
	}
	return &EmbeddingCache{
		Embedder: embedder,
		Dim:      dim,
		cache:    store.NewTTLCache[string, []float64]("image_embedding", maxSize, ttl, clock),
	}
}

// EmbedImage 实现 core.ImageEmbedder。
func (c *EmbeddingCache) EmbedImage(ctx context.Context, imageURL string) ([]float64, error) {
	url := strings.TrimSpace(imageURL)
	if url == "" {
		return nil, core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeInvalidInput, "image embedding: empty image url")
	}
	if v, ok := c.cache.Get(url); ok {
		return v, nil
	}
	if c.Embedder == nil {
		return nil, core.ErrNotConfigured
	}

	emb, err := c.Embedder.EmbedImage(ctx, url)
	if err != nil {
		return nil, err
	}
	if len(emb) == 0 || (c.Dim > 0 && len(emb) != c.Dim) {
		return nil, core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeInvalidInput,
			fmt.Sprintf("image embedding: got dim %d, want %d", len(emb), c.Dim))
	}

	normalized := vecmath.Normalize(emb)
	c.cache.Set(url, normalized)
	return normalized, nil
}

// Len 返回缓存条目数。
func (c *EmbeddingCache) Len() int { return c.cache.Len() }

var _ core.ImageEmbedder = (*EmbeddingCache)(nil)

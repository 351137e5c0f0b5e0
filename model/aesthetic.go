package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/rushteam/tastekit/core"
)

// AestheticHead 是预先训练好的线性回归头（LAION aesthetic predictor），
// 作用在 L2 归一化后的 CLIP 图像向量上，输出约 1~10 的通用美感分。
//
// 预测原理：
//
//	score = Bias + sum(Weight_i * Embedding_i)
//
// 与逻辑回归不同，这里不做 Sigmoid，直接输出线性值。
type AestheticHead struct {
	Dim     int       // 向量维度，必须与图像向量维度一致（ViT-B/32 为 512）
	Weights []float64 // 权重
	Bias    float64   // 偏置
}

// LoadAestheticHead 从 JSON 文件加载线性头：
//
//	{"embedding_dim": 512, "weight": [...], "bias": 4.2}
func LoadAestheticHead(path string) (*AestheticHead, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseAestheticHead(data)
}

// ParseAestheticHead 解析 JSON 格式的线性头，并校验权重长度与维度一致。
func ParseAestheticHead(data []byte) (*AestheticHead, error) {
	var raw struct {
		EmbeddingDim int       `json:"embedding_dim"`
		Weight       []float64 `json:"weight"`
		Bias         float64   `json:"bias"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("aesthetic head: %w", err)
	}
	if raw.EmbeddingDim <= 0 {
		raw.EmbeddingDim = len(raw.Weight)
	}
	if raw.EmbeddingDim == 0 || len(raw.Weight) != raw.EmbeddingDim {
		return nil, core.NewDomainError(core.ModuleImage, core.ErrorCodeInvalidInput,
			fmt.Sprintf("aesthetic head: weight length %d does not match embedding_dim %d", len(raw.Weight), raw.EmbeddingDim))
	}
	return &AestheticHead{Dim: raw.EmbeddingDim, Weights: raw.Weight, Bias: raw.Bias}, nil
}

func (h *AestheticHead) Name() string { return "laion_aesthetic" }

// Predict 计算美感分；维度不一致或结果非有限数时返回 INVALID_INPUT。
func (h *AestheticHead) Predict(embedding []float64) (float64, error) {
	if len(embedding) != h.Dim || len(h.Weights) != h.Dim {
		return 0, core.NewDomainError(core.ModuleImage, core.ErrorCodeInvalidInput,
			fmt.Sprintf("aesthetic head: embedding dim %d, want %d", len(embedding), h.Dim))
	}
	score := h.Bias
	for i, w := range h.Weights {
		score += w * embedding[i]
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, core.NewDomainError(core.ModuleImage, core.ErrorCodeInvalidInput, "aesthetic head: non-finite score")
	}
	return score, nil
}

// Score 是 Predict 的便捷形式，失败时返回 ok=false。
func (h *AestheticHead) Score(embedding []float64) (float64, bool) {
	s, err := h.Predict(embedding)
	return s, err == nil
}

var _ EmbeddingModel = (*AestheticHead)(nil)

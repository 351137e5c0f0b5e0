package model

import (
	"context"
	"image"
	"math"
	"strings"

	"golang.org/x/image/draw"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pkg/vecmath"
)

const (
	// DefaultTechnicalWidth 评估前把图片缩放到的宽度
	DefaultTechnicalWidth = 128

	// lowResolutionDim 原图最短边低于该值时打折
	lowResolutionDim     = 256
	lowResolutionPenalty = 0.65
)

// TechnicalScorer 是“技术质量”代理指标：清晰度 + 分辨率合理性。
//
// 步骤：下载 → 缩放到固定宽度 → 灰度 → 离散拉普拉斯响应的均方（模糊度）
// → log10 映射到 0~10 → 原图最短边 < 256px 时 ×0.65。
type TechnicalScorer struct {
	Fetcher core.ImageFetcher
	Width   int
}

// NewTechnicalScorer 创建技术质量评估器，width <= 0 时使用 128。
func NewTechnicalScorer(fetcher core.ImageFetcher, width int) *TechnicalScorer {
	if width <= 0 {
		width = DefaultTechnicalWidth
	}
	return &TechnicalScorer{Fetcher: fetcher, Width: width}
}

// Score 下载图片并计算技术质量分（0~10）。
func (s *TechnicalScorer) Score(ctx context.Context, imageURL string) (float64, error) {
	url := strings.TrimSpace(imageURL)
	if url == "" {
		return 0, core.NewDomainError(core.ModuleImage, core.ErrorCodeInvalidInput, "technical: empty image url")
	}
	if s.Fetcher == nil {
		return 0, core.ErrNotConfigured
	}
	img, err := s.Fetcher.FetchImage(ctx, url)
	if err != nil {
		return 0, err
	}
	return TechnicalScore(img, s.Width), nil
}

// TechnicalScore 对已解码的图片计算技术质量分，纯函数。
func TechnicalScore(img image.Image, width int) float64 {
	if img == nil {
		return 0
	}
	b := img.Bounds()
	ow, oh := b.Dx(), b.Dy()
	if ow <= 0 || oh <= 0 {
		return 0
	}
	if width <= 0 {
		width = DefaultTechnicalWidth
	}

	height := int(math.Round(float64(oh) * float64(width) / float64(ow)))
	height = max(height, 1)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)

	gray := grayscale(dst)
	energy := LaplacianEnergy(gray, width, height)

	score := vecmath.Clamp01(math.Log10(energy+1) / 2.5)
	if minDim := min(ow, oh); minDim < lowResolutionDim {
		score *= lowResolutionPenalty
	}
	return 10 * score
}

// grayscale 按 0.299/0.587/0.114 转 8bit 灰度（截断取整）。
func grayscale(img *image.RGBA) []float64 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			r := float64(row[x*4])
			g := float64(row[x*4+1])
			bl := float64(row[x*4+2])
			out[y*w+x] = math.Floor(0.299*r + 0.587*g + 0.114*bl)
		}
	}
	return out
}

// LaplacianEnergy 计算内部像素 4 邻域拉普拉斯响应平方的均值，越大越清晰。
// 宽或高小于 3 时返回 0。
func LaplacianEnergy(gray []float64, w, h int) float64 {
	if w < 3 || h < 3 || len(gray) < w*h {
		return 0
	}
	var (
		sum   float64
		count int
	)
	for y := 1; y < h-1; y++ {
		row := y * w
		for x := 1; x < w-1; x++ {
			i := row + x
			lap := -4*gray[i] + gray[i-1] + gray[i+1] + gray[i-w] + gray[i+w]
			sum += lap * lap
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

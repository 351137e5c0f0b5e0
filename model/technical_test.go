package model

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
)

type fakeFetcher struct {
	img image.Image
	err error
}

func (f fakeFetcher) FetchImage(context.Context, string) (image.Image, error) {
	return f.img, f.err
}

func checkerboard(w, h, cell int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{A: 255}
			if (x/cell+y/cell)%2 == 0 {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func uniform(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	return img
}

func TestTechnicalScore(t *testing.T) {
	sharp := TechnicalScore(checkerboard(512, 512, 4), 128)
	flat := TechnicalScore(uniform(512, 512), 128)

	if flat != 0 {
		t.Errorf("纯色图的清晰度应为 0，实际 %v", flat)
	}
	if sharp <= 5 {
		t.Errorf("棋盘图应判为清晰，实际 %v", sharp)
	}
	if sharp > 10 {
		t.Errorf("分数不应超过 10，实际 %v", sharp)
	}

	small := TechnicalScore(checkerboard(200, 200, 2), 128)
	if small > 10*lowResolutionPenalty+1e-9 {
		t.Errorf("低分辨率图片应被打折，实际 %v", small)
	}
}

func TestLaplacianEnergy(t *testing.T) {
	if got := LaplacianEnergy([]float64{1, 2, 3, 4}, 2, 2); got != 0 {
		t.Errorf("小于 3x3 时应返回 0，实际 %v", got)
	}
	// 中心点 0，四邻域 1：lap = 4
	gray := []float64{
		0, 1, 0,
		1, 0, 1,
		0, 1, 0,
	}
	if got := LaplacianEnergy(gray, 3, 3); got != 16 {
		t.Errorf("LaplacianEnergy = %v, 期望 16", got)
	}
}

func TestTechnicalScorer_Score(t *testing.T) {
	s := NewTechnicalScorer(fakeFetcher{img: checkerboard(300, 300, 3)}, 0)
	got, err := s.Score(context.Background(), "https://img/1.jpg")
	if err != nil || got <= 0 {
		t.Fatalf("Score = %v, %v", got, err)
	}

	failing := NewTechnicalScorer(fakeFetcher{err: errors.New("boom")}, 0)
	if _, err := failing.Score(context.Background(), "https://img/1.jpg"); err == nil {
		t.Errorf("下载失败应返回错误")
	}
	if _, err := s.Score(context.Background(), "  "); err == nil {
		t.Errorf("空 URL 应返回错误")
	}
}

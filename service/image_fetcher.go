package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	// 注册解码器
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/rushteam/tastekit/core"
)

const defaultMaxImageBytes = 20 << 20

// HTTPImageFetcher 下载并解码图片（jpeg/png/gif/webp），实现 core.ImageFetcher。
type HTTPImageFetcher struct {
	MaxBytes int64

	httpClient *http.Client
	guard      *Guard
}

// NewHTTPImageFetcher 创建图片下载器，httpClient 为 nil 时使用默认客户端。
func NewHTTPImageFetcher(httpClient *http.Client, guard GuardConfig) *HTTPImageFetcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if guard.Name == "" {
		guard.Name = "image_fetch"
	}
	if guard.Timeout == 0 {
		guard.Timeout = 15 * time.Second
	}
	return &HTTPImageFetcher{
		MaxBytes:   defaultMaxImageBytes,
		httpClient: httpClient,
		guard:      NewGuard(guard),
	}
}

// FetchImage 实现 core.ImageFetcher。
func (f *HTTPImageFetcher) FetchImage(ctx context.Context, imageURL string) (image.Image, error) {
	body, err := f.guard.Do(ctx, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := f.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, &HTTPError{StatusCode: resp.StatusCode, URL: imageURL}
		}
		return io.ReadAll(io.LimitReader(resp.Body, f.MaxBytes))
	})
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, core.NewDomainError(core.ModuleImage, core.ErrorCodeInvalidInput,
			fmt.Sprintf("decode image %s: %v", imageURL, err))
	}
	return img, nil
}

var _ core.ImageFetcher = (*HTTPImageFetcher)(nil)

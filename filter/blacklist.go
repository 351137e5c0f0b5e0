package filter

import (
	"context"
	"slices"
	"strings"

	"github.com/rushteam/tastekit/core"
)

// BlacklistFilter 是黑名单过滤器，过滤掉黑名单中的帖子或作者。
type BlacklistFilter struct {
	// PostIDs 是内存中的黑名单帖子 ID 列表
	PostIDs []string

	// Authors 是屏蔽的作者（不区分大小写，可带 "@"）
	Authors []string

	// Store 用于从存储中读取黑名单帖子 ID（可选）
	Store BlacklistStore

	// Key 是 Store 中的黑名单 key（可选）
	Key string
}

// BlacklistStore 是黑名单存储接口。
type BlacklistStore interface {
	// GetBlacklist 获取黑名单 ID 列表
	GetBlacklist(ctx context.Context, key string) ([]string, error)
}

// NewBlacklistFilter 创建一个黑名单过滤器。
func NewBlacklistFilter(postIDs []string, storeAdapter *StoreAdapter, key string) *BlacklistFilter {
	var store BlacklistStore
	if storeAdapter != nil {
		store = storeAdapter
	}
	return &BlacklistFilter{
		PostIDs: postIDs,
		Store:   store,
		Key:     key,
	}
}

func (f *BlacklistFilter) Name() string {
	return "filter.blacklist"
}

func (f *BlacklistFilter) ShouldFilter(
	ctx context.Context,
	_ *core.RecommendContext,
	post *core.Post,
) (bool, error) {
	if post == nil {
		return true, nil
	}

	// 从内存列表检查
	if slices.Contains(f.PostIDs, post.ID) {
		return true, nil
	}
	if author := strings.TrimLeft(post.Author, "@"); author != "" {
		for _, a := range f.Authors {
			if strings.EqualFold(strings.TrimLeft(a, "@"), author) {
				return true, nil
			}
		}
	}

	// 从 Store 检查
	if f.Store != nil && f.Key != "" {
		blacklist, err := f.Store.GetBlacklist(ctx, f.Key)
		if err != nil {
			return false, err
		}
		if slices.Contains(blacklist, post.ID) {
			return true, nil
		}
	}

	return false, nil
}

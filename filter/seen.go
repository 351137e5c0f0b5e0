package filter

import (
	"context"

	"github.com/rushteam/tastekit/core"
)

// DefaultSeenKeyPrefix 是已保存帖子集合的默认 key 前缀，实际 key 为 {KeyPrefix}:{UserID}。
const DefaultSeenKeyPrefix = "saved"

// SeenFilter 是已保存过滤器，过滤掉持久化协作方已经为该用户保存过的帖子。
type SeenFilter struct {
	// Store 用于读取用户已保存的帖子 ID
	Store SeenStore

	// KeyPrefix 是 Store 中的 key 前缀
	KeyPrefix string
}

// SeenStore 是已保存历史的存储接口。
type SeenStore interface {
	// IsSaved 批量判断帖子是否已保存，返回值与 postIDs 一一对应
	IsSaved(ctx context.Context, key string, postIDs []string) ([]bool, error)
}

// NewSeenFilter 创建一个已保存过滤器。
func NewSeenFilter(storeAdapter *StoreAdapter, keyPrefix string) *SeenFilter {
	var store SeenStore
	if storeAdapter != nil {
		store = storeAdapter
	}
	return &SeenFilter{
		Store:     store,
		KeyPrefix: keyPrefix,
	}
}

func (f *SeenFilter) Name() string {
	return "filter.seen"
}

// SeenKey 返回用户已保存集合的 key。
func SeenKey(keyPrefix, userID string) string {
	if keyPrefix == "" {
		keyPrefix = DefaultSeenKeyPrefix
	}
	return keyPrefix + ":" + userID
}

func (f *SeenFilter) ShouldFilter(
	ctx context.Context,
	rctx *core.RecommendContext,
	post *core.Post,
) (bool, error) {
	if post == nil {
		return true, nil
	}
	flags, err := f.FilterBatch(ctx, rctx, []*core.Post{post})
	if err != nil {
		return false, err
	}
	return flags[0], nil
}

// FilterBatch 实现 BatchFilter：一次查询整批帖子。
func (f *SeenFilter) FilterBatch(
	ctx context.Context,
	rctx *core.RecommendContext,
	posts []*core.Post,
) ([]bool, error) {
	flags := make([]bool, len(posts))
	if f.Store == nil || rctx == nil || rctx.UserID == "" {
		return flags, nil
	}

	ids := make([]string, len(posts))
	for i, p := range posts {
		if p != nil {
			ids[i] = p.ID
		}
	}
	saved, err := f.Store.IsSaved(ctx, SeenKey(f.KeyPrefix, rctx.UserID), ids)
	if err != nil {
		return nil, err
	}
	for i := range flags {
		flags[i] = i < len(saved) && saved[i] && ids[i] != ""
	}
	return flags, nil
}

var _ BatchFilter = (*SeenFilter)(nil)

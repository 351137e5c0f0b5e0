package filter

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/rushteam/tastekit/core"
)

// StoreAdapter 将 core.Store 适配为过滤器所需的存储接口。
//
// 底层实现了 core.SetStore（MemoryStore / RedisStore）时，已保存帖子存成集合并用 SMIsMember 批量判断；
// 否则退化为 key 下的 JSON 数组。
type StoreAdapter struct {
	store core.Store
}

// NewStoreAdapter 创建一个 core.Store 适配器。
func NewStoreAdapter(s core.Store) *StoreAdapter {
	return &StoreAdapter{store: s}
}

// GetBlacklist 从 Store 读取 JSON 数组形式的 ID 列表，key 不存在时返回空列表。
func (a *StoreAdapter) GetBlacklist(ctx context.Context, key string) ([]string, error) {
	data, err := a.store.Get(ctx, key)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}

	return ids, nil
}

// IsSaved 实现 SeenStore。
func (a *StoreAdapter) IsSaved(ctx context.Context, key string, postIDs []string) ([]bool, error) {
	if ss, ok := a.store.(core.SetStore); ok {
		return ss.SMIsMember(ctx, key, postIDs...)
	}
	saved, err := a.GetBlacklist(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(postIDs))
	for i, id := range postIDs {
		out[i] = slices.Contains(saved, id)
	}
	return out, nil
}

// MarkSaved 记录用户已保存的帖子，供持久化协作方在保存后调用。
func (a *StoreAdapter) MarkSaved(ctx context.Context, key string, postIDs ...string) error {
	if len(postIDs) == 0 {
		return nil
	}
	if ss, ok := a.store.(core.SetStore); ok {
		return ss.SAdd(ctx, key, postIDs...)
	}
	saved, err := a.GetBlacklist(ctx, key)
	if err != nil {
		return err
	}
	for _, id := range postIDs {
		if !slices.Contains(saved, id) {
			saved = append(saved, id)
		}
	}
	data, err := json.Marshal(saved)
	if err != nil {
		return err
	}
	return a.store.Set(ctx, key, data)
}

var _ SeenStore = (*StoreAdapter)(nil)

// Package store 提供 core.Store / core.SetStore 的实现与进程内 TTL 缓存。
//
// 注意：接口定义在 core 包，此包只包含实现。
//
// 示例：
//
//	var s core.SetStore = store.NewMemoryStore()
//	cache := store.NewTTLCache[string, []float64]("image_embedding", 750, 24*time.Hour, nil)
package store

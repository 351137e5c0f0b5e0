package store

import (
	"context"
	"sync"
	"time"

	"github.com/rushteam/tastekit/core"
)

// MemoryStore 是内存实现的 SetStore，用于测试/开发/单进程部署。
// 支持 TTL，过期判断在读取时进行，进程重启后数据丢失。
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*entry
	sets map[string]map[string]struct{}
	now  func() time.Time
}

type entry struct {
	value  []byte
	expire time.Time // 零值表示不过期
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock 使用注入的时钟创建内存存储，测试中用于控制过期。
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		data: make(map[string]*entry),
		sets: make(map[string]map[string]struct{}),
		now:  now,
	}
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.data[key]
	if !ok || m.expired(e) {
		return nil, core.ErrStoreNotFound
	}
	return e.value, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl ...int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &entry{value: value}
	if len(ttl) > 0 && ttl[0] > 0 {
		e.expire = m.now().Add(time.Duration(ttl[0]) * time.Second)
	}
	m.data[key] = e
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	delete(m.sets, key)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{}, len(members))
		m.sets[key] = set
	}
	for _, mem := range members {
		set[mem] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.sets[key]
	out := make([]string, 0, len(set))
	for mem := range set {
		out = append(out, mem)
	}
	return out, nil
}

func (m *MemoryStore) SMIsMember(_ context.Context, key string, members ...string) ([]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.sets[key]
	out := make([]bool, len(members))
	for i, mem := range members {
		_, out[i] = set[mem]
	}
	return out, nil
}

func (m *MemoryStore) expired(e *entry) bool {
	return !e.expire.IsZero() && m.now().After(e.expire)
}

var _ core.SetStore = (*MemoryStore)(nil)

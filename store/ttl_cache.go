package store

import (
	"container/list"
	"sync"
	"time"

	"github.com/rushteam/tastekit/pkg/metrics"
)

// Clock 返回当前时间，测试中注入以控制过期。
type Clock func() time.Time

// TTLCache 是有界、带过期时间的进程内缓存。
//
// 语义：
//   - 条目写入后 ttl 到期即失效，与淘汰无关
//   - 超过 maxSize 时按写入顺序淘汰最早的条目（FIFO），读取不会刷新顺序
//   - 并发读写安全；并发回填同一个 key 时后写入者生效
//
// 缓存只在进程生命周期内有效，不做持久化。
type TTLCache[K comparable, V any] struct {
	name    string
	maxSize int
	ttl     time.Duration
	now     Clock

	mu      sync.RWMutex
	entries map[K]*list.Element
	order   *list.List
}

type ttlEntry[K comparable, V any] struct {
	key      K
	value    V
	storedAt time.Time
}

// NewTTLCache 创建缓存；maxSize <= 0 时视为 1，clock 为 nil 时使用 time.Now。
func NewTTLCache[K comparable, V any](name string, maxSize int, ttl time.Duration, clock Clock) *TTLCache[K, V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	if clock == nil {
		clock = time.Now
	}
	return &TTLCache[K, V]{
		name:    name,
		maxSize: maxSize,
		ttl:     ttl,
		now:     clock,
		entries: make(map[K]*list.Element),
		order:   list.New(),
	}
}

// Get 读取未过期的条目。
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	var zero V

	c.mu.RLock()
	el, ok := c.entries[key]
	var e *ttlEntry[K, V]
	if ok {
		e = el.Value.(*ttlEntry[K, V])
	}
	c.mu.RUnlock()

	if !ok {
		metrics.CacheLookups.WithLabelValues(c.name, "miss").Inc()
		return zero, false
	}
	if c.expired(e) {
		metrics.CacheLookups.WithLabelValues(c.name, "expired").Inc()
		c.removeElement(key, el)
		return zero, false
	}
	metrics.CacheLookups.WithLabelValues(c.name, "hit").Inc()
	return e.value, true
}

// Set 写入条目，覆盖已有 key 时重新计时并移到队尾。
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
	c.entries[key] = c.order.PushBack(&ttlEntry[K, V]{key: key, value: value, storedAt: c.now()})

	for c.order.Len() > c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*ttlEntry[K, V]).key)
	}
}

// Delete 删除条目。
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// removeElement 仅在 key 仍指向 el 时删除，避免误删并发回填的新值。
func (c *TTLCache[K, V]) removeElement(key K, el *list.Element) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.entries[key]; ok && cur == el {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// Len 返回当前条目数（包含尚未被读取清理的过期条目）。
func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len()
}

// Purge 清理所有过期条目。
func (c *TTLCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*ttlEntry[K, V])
		if c.expired(e) {
			c.order.Remove(el)
			delete(c.entries, e.key)
		}
		el = next
	}
}

func (c *TTLCache[K, V]) expired(e *ttlEntry[K, V]) bool {
	return c.ttl > 0 && c.now().Sub(e.storedAt) > c.ttl
}

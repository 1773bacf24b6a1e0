// Package cache 文档缓存
//
// 提供两层抽象：
//   - LRU[K, V]：进程内泛型 LRU + TTL 容器
//   - IDocumentCache：按 (集合, 主键) 缓存存储文档，Local 基于 LRU，Redis 基于 go-redis
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// Config LRU 配置
type Config struct {
	// Name 缓存名称（用于日志和统计）
	Name string

	// MaxSize 最大条目数，0 表示不限制
	MaxSize int

	// TTL 基于最后访问时间的过期时长，0 表示永不过期
	TTL time.Duration

	// OnEvict 条目被移除时回调（驱逐、过期、删除、清空）
	OnEvict func(key, value any)

	// Now 时钟，测试可替换
	Now func() time.Time
}

// Stats 统计信息
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Expires   int64
	Size      int
}

type entry[K comparable, V any] struct {
	key        K
	value      V
	accessedAt time.Time
	elem       *list.Element
}

// LRU 并发安全的泛型 LRU 缓存，最近使用的条目位于链表头部
type LRU[K comparable, V any] struct {
	cfg   Config
	mu    sync.Mutex
	items map[K]*entry[K, V]
	order *list.List
	stats Stats
}

// NewLRU 创建 LRU 缓存
func NewLRU[K comparable, V any](cfg Config) *LRU[K, V] {
	if cfg.Name == "" {
		cfg.Name = "unnamed"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LRU[K, V]{
		cfg:   cfg,
		items: make(map[K]*entry[K, V]),
		order: list.New(),
	}
}

// Get 读取条目；过期条目视为未命中并被移除
func (c *LRU[K, V]) Get(key K) (value V, found bool) {
	// 命中需要移动链表位置，读路径同样持写锁
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return value, false
	}
	if c.expired(e) {
		c.removeLocked(e)
		c.stats.Misses++
		c.stats.Expires++
		return value, false
	}
	e.accessedAt = c.cfg.Now()
	c.order.MoveToFront(e.elem)
	c.stats.Hits++
	return e.value, true
}

// Set 写入条目，容量已满时驱逐最久未使用的条目
func (c *LRU[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.cfg.Now()
	if e, ok := c.items[key]; ok {
		e.value = value
		e.accessedAt = now
		c.order.MoveToFront(e.elem)
		return
	}
	if c.cfg.MaxSize > 0 && len(c.items) >= c.cfg.MaxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.removeLocked(oldest.Value.(*entry[K, V]))
			c.stats.Evictions++
		}
	}
	e := &entry[K, V]{key: key, value: value, accessedAt: now}
	e.elem = c.order.PushFront(e)
	c.items[key] = e
}

// Delete 删除条目，返回是否存在
func (c *LRU[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(e)
	return true
}

// DeleteFunc 删除所有满足条件的键，返回删除数量
func (c *LRU[K, V]) DeleteFunc(match func(key K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.items {
		if match(k) {
			c.removeLocked(e)
			n++
		}
	}
	return n
}

// Clear 清空缓存
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.items {
		c.removeLocked(e)
	}
}

// CleanExpired 清理过期条目，返回清理数量
func (c *LRU[K, V]) CleanExpired() int {
	if c.cfg.TTL <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.items {
		if c.expired(e) {
			c.removeLocked(e)
			n++
		}
	}
	c.stats.Expires += int64(n)
	return n
}

// Len 当前条目数
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats 返回统计副本
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.items)
	return s
}

// HitRate 命中率
func (c *LRU[K, V]) HitRate() float64 {
	s := c.Stats()
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func (c *LRU[K, V]) String() string {
	s := c.Stats()
	return fmt.Sprintf("LRU[%s]: size=%d/%d, hits=%d, misses=%d, evictions=%d, expires=%d",
		c.cfg.Name, s.Size, c.cfg.MaxSize, s.Hits, s.Misses, s.Evictions, s.Expires)
}

// expired 需持锁调用
func (c *LRU[K, V]) expired(e *entry[K, V]) bool {
	return c.cfg.TTL > 0 && c.cfg.Now().Sub(e.accessedAt) >= c.cfg.TTL
}

// removeLocked 需持锁调用
func (c *LRU[K, V]) removeLocked(e *entry[K, V]) {
	if c.cfg.OnEvict != nil {
		c.cfg.OnEvict(e.key, e.value)
	}
	c.order.Remove(e.elem)
	delete(c.items, e.key)
}

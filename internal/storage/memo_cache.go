// internal/storage/memo_cache.go
package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/Corphon/ElementFusion/internal/models"
)

// SortPair 将两个元素ID规范化为字典序（较小的在前）
func SortPair(idA, idB string) (string, string) {
	if idB < idA {
		return idB, idA
	}
	return idA, idB
}

// CombinationKey 根据两个元素ID生成顺序无关的规范键
// 对任意 a、b 满足 CombinationKey(a, b) == CombinationKey(b, a)
func CombinationKey(idA, idB string) string {
	a, b := SortPair(idA, idB)
	return a + ":" + b
}

// ComboCache 进程内组合结果缓存
// 每个条目写入时带固定TTL；读取到过期条目时立即删除并视为未命中（惰性过期，无后台清扫）
// 缓存只是加速层，缺失或清空不影响正确性，权威数据始终在持久存储中
type ComboCache struct {
	mutex   sync.RWMutex
	entries map[string]*comboCacheEntry
	ttl     time.Duration
	maxSize int // 最大缓存条目数
}

type comboCacheEntry struct {
	element   *models.Element
	expiresAt time.Time
}

// NewComboCache 创建组合结果缓存
func NewComboCache(maxSize int, ttl time.Duration) *ComboCache {
	if maxSize <= 0 {
		maxSize = 4096 // 默认缓存4096个条目
	}

	if ttl <= 0 {
		ttl = time.Hour // 默认1小时过期
	}

	return &ComboCache{
		entries: make(map[string]*comboCacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Get 按规范键查询缓存，过期条目被立即驱逐并返回未命中
func (c *ComboCache) Get(key string) (*models.Element, bool) {
	c.mutex.RLock()
	entry, exists := c.entries[key]
	c.mutex.RUnlock()

	if !exists {
		return nil, false
	}

	if time.Now().After(entry.expiresAt) {
		// 惰性过期：读到过期条目时直接删除
		c.mutex.Lock()
		if current, ok := c.entries[key]; ok && current == entry {
			delete(c.entries, key)
		}
		c.mutex.Unlock()
		return nil, false
	}

	return entry.element, true
}

// Set 写入缓存，总是覆盖已有条目并重置TTL
func (c *ComboCache) Set(key string, element *models.Element) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = &comboCacheEntry{
		element:   element,
		expiresAt: time.Now().Add(c.ttl),
	}

	// 如果缓存太大，清理最早过期的条目
	if len(c.entries) > c.maxSize {
		toRemove := max(1, c.maxSize/5)
		c.cleanupOldest(toRemove)
	}
}

// Len 返回当前缓存条目数
func (c *ComboCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

// Clear 清空缓存
func (c *ComboCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries = make(map[string]*comboCacheEntry)
}

// cleanupOldest 清理最早过期的条目（TTL固定，等价于按写入时间排序）
func (c *ComboCache) cleanupOldest(count int) {
	type keyAge struct {
		key  string
		time time.Time
	}

	entries := make([]keyAge, 0, len(c.entries))
	for k, v := range c.entries {
		entries = append(entries, keyAge{k, v.expiresAt})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].time.Before(entries[j].time)
	})

	maxToDelete := min(count, len(entries))
	for i := 0; i < maxToDelete; i++ {
		delete(c.entries, entries[i].key)
	}
}

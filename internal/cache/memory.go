package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type MemoryCache struct {
	store    sync.Map
	counters sync.Map
	stop     chan struct{}
	once     sync.Once
}

type cacheItem struct {
	value      interface{}
	expiration time.Time
}

func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithCleanup(time.Minute)
}

// NewMemoryCacheWithCleanup starts a janitor that sweeps expired items every
// interval until Close is called.
func NewMemoryCacheWithCleanup(interval time.Duration) *MemoryCache {
	c := &MemoryCache{stop: make(chan struct{})}

	go c.cleanup(interval)

	return c
}

func (c *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	c.store.Store(key, &cacheItem{
		value:      value,
		expiration: time.Now().Add(ttl),
	})
	return nil
}

// Get copies the cached value into dest.
func (c *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	value, ok := c.lookup(key)
	if !ok {
		return ErrCacheMiss
	}
	return copyValue(value, dest)
}

func (c *MemoryCache) lookup(key string) (interface{}, bool) {
	raw, exists := c.store.Load(key)
	if !exists {
		return nil, false
	}

	item := raw.(*cacheItem)
	if time.Now().After(item.expiration) {
		c.store.Delete(key)
		return nil, false
	}

	return item.value, true
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.store.Delete(key)
	return nil
}

func (c *MemoryCache) DeletePattern(_ context.Context, pattern string) error {
	c.store.Range(func(key, _ interface{}) bool {
		if matchPattern(key.(string), pattern) {
			c.store.Delete(key)
		}
		return true
	})
	return nil
}

func (c *MemoryCache) Incr(_ context.Context, key string) (int64, error) {
	counter, _ := c.counters.LoadOrStore(key, new(atomic.Int64))
	return counter.(*atomic.Int64).Add(1), nil
}

func (c *MemoryCache) Counter(_ context.Context, key string) (int64, error) {
	counter, ok := c.counters.Load(key)
	if !ok {
		return 0, nil
	}
	return counter.(*atomic.Int64).Load(), nil
}

func (c *MemoryCache) Len() int {
	count := 0
	c.store.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

func (c *MemoryCache) Stats() map[string]interface{} {
	return map[string]interface{}{
		"items": c.Len(),
		"type":  "memory",
	}
}

func (c *MemoryCache) Health(context.Context) error {
	return nil
}

func (c *MemoryCache) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

func (c *MemoryCache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			c.store.Range(func(key, value interface{}) bool {
				if now.After(value.(*cacheItem).expiration) {
					c.store.Delete(key)
				}
				return true
			})
		}
	}
}

// matchPattern supports the only glob shapes the service uses: "*" and a
// trailing "*" prefix match.
func matchPattern(text, pattern string) bool {
	if pattern == "*" {
		return true
	}

	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(text, strings.TrimSuffix(pattern, "*"))
	}

	return text == pattern
}

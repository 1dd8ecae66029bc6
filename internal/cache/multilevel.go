package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// l1MaxTTL bounds how long an entry lives in process memory, so replicas
// converge on Redis invalidations within this window.
const l1MaxTTL = 30 * time.Second

type MultiLevelCache struct {
	l1      *MemoryCache
	l2      *RedisCache
	metrics *CacheMetrics

	sharedPrefixes []string
}

type Option func(*multiLevelOptions)

type multiLevelOptions struct {
	families       []string
	sharedPrefixes []string
}

// WithKeyFamilies reports hits and misses per key prefix in Stats.
func WithKeyFamilies(prefixes ...string) Option {
	return func(o *multiLevelOptions) {
		o.families = append(o.families, prefixes...)
	}
}

// WithSharedPrefix keeps keys with the prefix out of L1 whenever an L2 is
// configured, so an invalidation on one replica is seen by all of them on
// the next read.
func WithSharedPrefix(prefix string) Option {
	return func(o *multiLevelOptions) {
		o.sharedPrefixes = append(o.sharedPrefixes, prefix)
	}
}

// NewMultiLevelCache builds an L1-only cache when redisCache is nil.
func NewMultiLevelCache(redisCache *RedisCache, opts ...Option) *MultiLevelCache {
	var o multiLevelOptions
	for _, opt := range opts {
		opt(&o)
	}

	return &MultiLevelCache{
		l1:             NewMemoryCache(),
		l2:             redisCache,
		metrics:        NewCacheMetrics(o.families...),
		sharedPrefixes: o.sharedPrefixes,
	}
}

// useL1 is false for shared keys while Redis backs the cache.
func (c *MultiLevelCache) useL1(key string) bool {
	if c.l2 == nil {
		return true
	}
	for _, prefix := range c.sharedPrefixes {
		if strings.HasPrefix(key, prefix) {
			return false
		}
	}
	return true
}

func (c *MultiLevelCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.metrics.RecordSet()
	if c.useL1(key) {
		c.l1.Set(ctx, key, value, minDuration(ttl, l1MaxTTL))
	}

	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, value, ttl); err != nil {
			c.metrics.RecordError()
			return err
		}
	}

	return nil
}

func (c *MultiLevelCache) Get(ctx context.Context, key string, dest interface{}) error {
	l1 := c.useL1(key)
	if l1 {
		if err := c.l1.Get(ctx, key, dest); err == nil {
			c.metrics.RecordHit(key)
			return nil
		}
	}

	if c.l2 == nil {
		c.metrics.RecordMiss(key)
		return ErrCacheMiss
	}

	err := c.l2.Get(ctx, key, dest)
	switch {
	case err == nil:
		c.metrics.RecordHit(key)
		if l1 {
			c.l1.Set(ctx, key, reflect.ValueOf(dest).Elem().Interface(), l1MaxTTL)
		}
		return nil
	case errors.Is(err, ErrCacheMiss):
		c.metrics.RecordMiss(key)
	default:
		c.metrics.RecordError()
	}
	return err
}

func (c *MultiLevelCache) Delete(ctx context.Context, key string) error {
	c.metrics.RecordDelete()
	c.l1.Delete(ctx, key)

	if c.l2 != nil {
		return c.l2.Delete(ctx, key)
	}

	return nil
}

func (c *MultiLevelCache) DeletePattern(ctx context.Context, pattern string) error {
	c.metrics.RecordDelete()
	c.l1.DeletePattern(ctx, pattern)

	if c.l2 != nil {
		return c.l2.DeletePattern(ctx, pattern)
	}

	return nil
}

// Incr and Counter live in Redis when it is configured so every replica
// sees the same value; a failing Redis is an error, never a local fallback.
func (c *MultiLevelCache) Incr(ctx context.Context, key string) (int64, error) {
	if c.l2 == nil {
		return c.l1.Incr(ctx, key)
	}
	value, err := c.l2.Incr(ctx, key)
	if err != nil {
		c.metrics.RecordError()
	}
	return value, err
}

func (c *MultiLevelCache) Counter(ctx context.Context, key string) (int64, error) {
	if c.l2 == nil {
		return c.l1.Counter(ctx, key)
	}
	value, err := c.l2.Counter(ctx, key)
	if err != nil {
		c.metrics.RecordError()
	}
	return value, err
}

func (c *MultiLevelCache) Metrics() CacheMetrics {
	return c.metrics.GetStats()
}

func (c *MultiLevelCache) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"l1":       c.l1.Stats(),
		"metrics":  c.metrics.GetStats(),
		"hit_rate": c.metrics.HitRate(),
	}

	if c.l2 != nil {
		stats["l2"] = c.l2.Stats()
	}

	return stats
}

func (c *MultiLevelCache) Health(ctx context.Context) error {
	if c.l2 != nil {
		return c.l2.Health(ctx)
	}

	return nil
}

func (c *MultiLevelCache) Close() error {
	c.l1.Close()

	if c.l2 != nil {
		return c.l2.Close()
	}

	return nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// copyValue deep-copies src into dest through JSON so callers never share
// the cached instance.
func copyValue(src, dest interface{}) error {
	destValue := reflect.ValueOf(dest)
	if destValue.Kind() != reflect.Ptr {
		return fmt.Errorf("destination must be a pointer, got %T", dest)
	}

	if destValue.IsNil() {
		return fmt.Errorf("destination pointer is nil")
	}

	jsonData, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to marshal source value: %w", err)
	}

	if err := json.Unmarshal(jsonData, dest); err != nil {
		return fmt.Errorf("failed to unmarshal to destination: %w", err)
	}

	return nil
}

// Package cache holds the two-level cache used for verified principals and
// the public task feed: an in-process L1 in front of an optional Redis L2.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache miss")
	ErrCacheDown = errors.New("cache unavailable")
)

type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) error
	// Incr atomically bumps a counter and returns its new value. Counters
	// never expire and are visible to every replica sharing the backend.
	Incr(ctx context.Context, key string) (int64, error)
	// Counter reads a counter; a counter never bumped reads as zero.
	Counter(ctx context.Context, key string) (int64, error)
	Stats() map[string]interface{}
	Health(ctx context.Context) error
	Close() error
}

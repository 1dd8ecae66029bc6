package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	client  *redis.Client
	prefix  string
	breaker *CircuitBreaker
}

type CacheConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Prefix       string
}

func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		Prefix:       "taskforum:",
	}
}

func NewRedisCache(config *CacheConfig) *RedisCache {
	if config == nil {
		config = DefaultCacheConfig()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	return NewRedisCacheFromClient(rdb, config.Prefix)
}

// NewRedisCacheFromClient wraps an existing client. Every call goes through a
// circuit breaker so a dead Redis costs one fast ErrCacheDown per call
// instead of a dial timeout.
func NewRedisCacheFromClient(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{
		client:  client,
		prefix:  prefix,
		breaker: NewCircuitBreaker(DefaultCircuitBreakerConfig()),
	}
}

func (r *RedisCache) key(k string) string {
	return r.prefix + k
}

func (r *RedisCache) do(fn func() error) error {
	err := r.breaker.Execute(fn)
	if errors.Is(err, ErrCircuitBreakerOpen) {
		return ErrCacheDown
	}
	return err
}

func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return r.do(func() error {
		if err := r.client.Set(ctx, r.key(key), data, expiration).Err(); err != nil {
			return fmt.Errorf("failed to set cache: %w", err)
		}
		return nil
	})
}

func (r *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	var data []byte
	err := r.do(func() error {
		var err error
		data, err = r.client.Get(ctx, r.key(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			// a miss is a healthy answer
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get from cache: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if data == nil {
		return ErrCacheMiss
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached data: %w", err)
	}

	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.do(func() error {
		return r.client.Del(ctx, r.key(key)).Err()
	})
}

// DeletePattern removes keys matching a glob pattern using SCAN, so large
// keyspaces are never blocked by KEYS.
func (r *RedisCache) DeletePattern(ctx context.Context, pattern string) error {
	return r.do(func() error {
		var cursor uint64
		for {
			keys, next, err := r.client.Scan(ctx, cursor, r.key(pattern), 100).Result()
			if err != nil {
				return fmt.Errorf("failed to scan keys for pattern %s: %w", pattern, err)
			}
			if len(keys) > 0 {
				if err := r.client.Del(ctx, keys...).Err(); err != nil {
					return fmt.Errorf("failed to delete keys for pattern %s: %w", pattern, err)
				}
			}
			cursor = next
			if cursor == 0 {
				return nil
			}
		}
	})
}

func (r *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	var value int64
	err := r.do(func() error {
		var err error
		value, err = r.client.Incr(ctx, r.key(key)).Result()
		if err != nil {
			return fmt.Errorf("failed to increment %s: %w", key, err)
		}
		return nil
	})
	return value, err
}

func (r *RedisCache) Counter(ctx context.Context, key string) (int64, error) {
	var value int64
	err := r.do(func() error {
		v, err := r.client.Get(ctx, r.key(key)).Int64()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read counter %s: %w", key, err)
		}
		value = v
		return nil
	})
	return value, err
}

func (r *RedisCache) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Stats() map[string]interface{} {
	poolStats := r.client.PoolStats()

	return map[string]interface{}{
		"pool_hits":     poolStats.Hits,
		"pool_misses":   poolStats.Misses,
		"pool_timeouts": poolStats.Timeouts,
		"pool_total":    poolStats.TotalConns,
		"pool_idle":     poolStats.IdleConns,
		"pool_stale":    poolStats.StaleConns,
		"breaker":       r.breaker.GetStats(),
	}
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

package redisdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"bobbrain/internal/domain/cache"
	applog "bobbrain/internal/platform/log"
)

const cachePrefix = "bob:cache:"

// CacheBackend 响应缓存的 Redis 后端，跨副本共享。
// 连续失败后熔断，熔断期间直接返回 ErrBackendUnavailable，不再打 Redis。
type CacheBackend struct {
	redis   *redis.Client
	prefix  string
	breaker *gobreaker.CircuitBreaker
}

func NewCacheBackend(rdb *redis.Client) *CacheBackend {
	return &CacheBackend{
		redis:   rdb,
		prefix:  cachePrefix,
		breaker: newBreaker("redis-cache"),
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			applog.Warn("[Redis] circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

func (b *CacheBackend) Get(ctx context.Context, fingerprint string) (*cache.Entry, error) {
	v, err := b.breaker.Execute(func() (interface{}, error) {
		data, err := b.redis.Get(ctx, b.prefix+fingerprint).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		return nil, unavailable(err)
	}
	data, _ := v.([]byte)
	if data == nil {
		return nil, nil
	}

	var e cache.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		applog.Warn("[Redis/Cache] dropping undecodable entry", "fingerprint", fingerprint, "error", err)
		return nil, nil
	}
	return &e, nil
}

// Set 以 ExpiresAt 作为 Redis 过期时间，过期清理交给 Redis。
func (b *CacheBackend) Set(ctx context.Context, entry *cache.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	_, err = b.breaker.Execute(func() (interface{}, error) {
		return nil, b.redis.Set(ctx, b.prefix+entry.Fingerprint, data, ttl).Err()
	})
	return unavailable(err)
}

func (b *CacheBackend) Delete(ctx context.Context, fingerprint string) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.redis.Del(ctx, b.prefix+fingerprint).Err()
	})
	return unavailable(err)
}

// Clear SCAN + DEL 删除本前缀下所有键。
func (b *CacheBackend) Clear(ctx context.Context) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		iter := b.redis.Scan(ctx, 0, b.prefix+"*", 500).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		if len(keys) > 0 {
			if err := b.redis.Del(ctx, keys...).Err(); err != nil {
				return nil, err
			}
		}
		applog.Info("[Redis/Cache] cleared", "keys_deleted", len(keys))
		return nil, nil
	})
	return unavailable(err)
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", cache.ErrBackendUnavailable, err)
}

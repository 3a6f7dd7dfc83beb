package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"fact-feed/internal/infra/metrics"
)

const scanBatch = 500

// RedisCache реализует domain.Cache через Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedis создаёт кэш.
func NewRedis(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get возвращает значение; промах не считается ошибкой.
func (c *RedisCache) Get(ctx context.Context, key string) (val []byte, found bool, err error) {
	start := time.Now()
	defer func() { metrics.ObserveNetworkRequest("redis", "get", "cache", start, err) }()

	val, err = c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set задаёт значение с TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveNetworkRequest("redis", "set", "cache", start, err) }()
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Delete удаляет ключи.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) (err error) {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { metrics.ObserveNetworkRequest("redis", "del", "cache", start, err) }()
	return c.client.Del(ctx, keys...).Err()
}

// DeleteByPattern удаляет ключи по шаблону пачками через SCAN.
func (c *RedisCache) DeleteByPattern(ctx context.Context, pattern string) (deleted int, err error) {
	start := time.Now()
	defer func() { metrics.ObserveNetworkRequest("redis", "del_pattern", "cache", start, err) }()

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// Keys перечисляет ключи по шаблону.
func (c *RedisCache) Keys(ctx context.Context, pattern string) (keys []string, err error) {
	start := time.Now()
	defer func() { metrics.ObserveNetworkRequest("redis", "scan", "cache", start, err) }()

	seen := make(map[string]struct{})
	var cursor uint64
	for {
		batch, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range batch {
			// SCAN может вернуть ключ повторно.
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

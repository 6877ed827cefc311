package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces digest keys in a shared Redis.
const DefaultRedisPrefix = "hashops:"

// redisClient is the subset of *redis.Client used by RedisCache.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCache stores digests in Redis with native key expiry. It is meant as
// a second tier behind a MemoryCache (see Tiered); Redis failures on read
// degrade to misses and are reported through OnError.
type RedisCache struct {
	client redisClient
	prefix string

	// OnError, if set, is called for every Redis failure that Get turns
	// into a miss.
	OnError func(op string, err error)
}

// NewRedisCache creates a Redis-backed cache. An empty prefix uses DefaultRedisPrefix.
func NewRedisCache(client redisClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

// Connect initializes a Redis client from URL or host:port input.
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// Get retrieves a digest. Missing keys and Redis errors are both misses.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) && c.OnError != nil {
			c.OnError("get", err)
		}
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores a digest with the given TTL. TTL<=0 means no caching.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// Delete removes a digest. Idempotent - no error on miss.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("cache: redis delete: %w", err)
	}
	return nil
}

// Ensure RedisCache implements Cache
var _ Cache = (*RedisCache)(nil)

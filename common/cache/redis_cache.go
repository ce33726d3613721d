package cache

import (
	"context"
	"errors"
	"time"

	noetlredis "github.com/noetl/noetl/common/redis"
)

// RedisCache is a Cache backed by a shared Redis instance, used when more
// than one server process needs to share render results or condition
// evaluation caches. Per spec §9, Redis is strictly an optimization here —
// the Context Service and Broker are correct with this cache disabled.
type RedisCache struct {
	client *noetlredis.Client
}

// NewRedisCache wraps an already-connected Redis client as a Cache.
func NewRedisCache(client *noetlredis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get retrieves a value; a missing key is reported as (nil, false, nil).
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, noetlredis.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(val), true, nil
}

// Set stores a value with a TTL (0 = no expiration).
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, string(value), ttl)
}

// Delete removes a key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Delete(ctx, key)
}

// Close is a no-op; the underlying Redis client's lifecycle is owned by bootstrap.
func (c *RedisCache) Close() error {
	return nil
}

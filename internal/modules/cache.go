package modules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "modules:cache:version"

// Cache keeps the enabled-module key list in Redis. Writes bump a version
// counter instead of deleting entries, so stale keys age out on TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a Cache.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Invalidate bumps the version so subsequent reads miss.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

// EnabledKeys returns the cached key list. found is false on miss.
func (c *Cache) EnabledKeys(ctx context.Context) ([]string, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	key, err := c.buildKey(ctx)
	if err != nil {
		return nil, false, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var keys []string
	if err := json.Unmarshal(payload, &keys); err != nil {
		return nil, false, err
	}
	return keys, true, nil
}

// StoreEnabledKeys caches the key list under the current version.
func (c *Cache) StoreEnabledKeys(ctx context.Context, keys []string) error {
	if c == nil || c.client == nil {
		return nil
	}
	cacheKey, err := c.buildKey(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey, payload, c.ttl).Err()
}

func (c *Cache) buildKey(ctx context.Context) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("modules:enabled:%d", ver), nil
}

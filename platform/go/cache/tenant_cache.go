package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-commerce/platform/go/tenant"
)

const defaultPrefix = "palmyra:tenant:"

// TenantCache stores resolved tenants in Redis so every API replica shares lookups.
// Redis failures degrade to cache misses.
type TenantCache struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

func NewTenantCache(client redis.Cmdable, ttl time.Duration, logger *zap.Logger) *TenantCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TenantCache{client: client, ttl: ttl, prefix: defaultPrefix, logger: logger}
}

func (c *TenantCache) Get(ctx context.Context, key string) (tenant.Tenant, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return tenant.Tenant{}, false
	}
	if err != nil {
		c.logger.Warn("tenant cache read failed", zap.String("key", key), zap.Error(err))
		return tenant.Tenant{}, false
	}

	var t tenant.Tenant
	if err := json.Unmarshal(raw, &t); err != nil {
		c.logger.Warn("tenant cache entry unreadable", zap.String("key", key), zap.Error(err))
		return tenant.Tenant{}, false
	}
	return t, true
}

func (c *TenantCache) Set(ctx context.Context, key string, t tenant.Tenant) {
	data, err := json.Marshal(t)
	if err != nil {
		c.logger.Warn("tenant cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("tenant cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *TenantCache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.prefix + k
	}
	if err := c.client.Del(ctx, prefixed...).Err(); err != nil {
		c.logger.Error("tenant cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"gitlab.com/arveo/api/crm-conversation-service/internal/config"
	"gitlab.com/arveo/api/crm-conversation-service/internal/observer"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
)

// RedisCache backs the query cache with a shared Redis instance so cached
// pages survive process restarts and are shared across replicas.
type RedisCache struct {
	client     *redis.Client
	defaultTTL time.Duration
}

// NewRedisCache connects to Redis and verifies the connection before use.
func NewRedisCache(ctx context.Context, cfg config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	logger.Log.Info("Connected to redis query cache", zap.String("addr", cfg.Addr))
	return &RedisCache{client: client, defaultTTL: cfg.TTL}, nil
}

// Get fetches a cached value. A miss is not an error.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			observer.IncQueryCacheResult("miss")
			return nil, false, nil
		}
		observer.IncQueryCacheResult("error")
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	observer.IncQueryCacheResult("hit")
	return val, true, nil
}

// Set stores a value under the key. A non-positive ttl falls back to the
// configured default.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Invalidate removes every key under the prefix. Uses SCAN so large
// keyspaces never block the server.
func (c *RedisCache) Invalidate(ctx context.Context, prefix string) error {
	iter := c.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %s: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del under %s: %w", prefix, err)
	}
	return nil
}

// Close releases the redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

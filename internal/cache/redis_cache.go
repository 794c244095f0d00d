package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"stockbook/backend/internal/domain"
)

type RedisStockCache struct {
	client redis.UniversalClient
}

func NewRedisStockCache(addr string, password string, db int) *RedisStockCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStockCache{client: client}
}

// NewRedisStockCacheFromClient wraps an existing client.
func NewRedisStockCacheFromClient(client redis.UniversalClient) *RedisStockCache {
	return &RedisStockCache{client: client}
}

func (c *RedisStockCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStockCache) Close() error {
	return c.client.Close()
}

func (c *RedisStockCache) Get(ctx context.Context, businessID string) ([]domain.InventoryRecord, bool, error) {
	val, err := c.client.Get(ctx, stockKey(businessID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var records []domain.InventoryRecord
	if err := json.Unmarshal(val, &records); err != nil {
		return nil, false, err
	}
	return records, true, nil
}

func (c *RedisStockCache) Set(ctx context.Context, businessID string, records []domain.InventoryRecord, ttl time.Duration) error {
	payload, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, stockKey(businessID), payload, ttl).Err()
}

func (c *RedisStockCache) Invalidate(ctx context.Context, businessID string) error {
	return c.client.Del(ctx, stockKey(businessID)).Err()
}

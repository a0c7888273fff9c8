package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"chemquest_backend/internal/model"

	"github.com/go-redis/redis/v8"
)

const metricsKeyPrefix = "chemquest:metrics:"

// RedisMetricsCache 以 JSON 形式缓存用户汇总指标
type RedisMetricsCache struct {
	client *redis.Client
}

func NewRedisMetricsCache(client *redis.Client) *RedisMetricsCache {
	return &RedisMetricsCache{client: client}
}

func (c *RedisMetricsCache) Get(ctx context.Context, userID string) (*model.PerformanceMetrics, bool, error) {
	raw, err := c.client.Get(ctx, metricsKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var m model.PerformanceMetrics
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false, err
	}
	return &m, true, nil
}

func (c *RedisMetricsCache) Set(ctx context.Context, metrics *model.PerformanceMetrics, ttl time.Duration) error {
	raw, err := json.Marshal(metrics)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, metricsKeyPrefix+metrics.UserID, raw, ttl).Err()
}

func (c *RedisMetricsCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, metricsKeyPrefix+userID).Err()
}

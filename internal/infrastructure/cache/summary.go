package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// SummaryCache 账户汇总的读缓存
//
// 缓存只服务于报表读取，允许短暂的最终一致；
// 分配、转账等额度校验永远读取加锁后的数据库值，不走缓存。
type SummaryCache interface {
	Get(ctx context.Context, dst any) (bool, error)
	Set(ctx context.Context, value any) error
	Invalidate(ctx context.Context) error
}

const summaryKey = "ledger:summary"

// RedisSummaryCache 基于 redis 的 JSON 缓存
type RedisSummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSummaryCache(client *redis.Client, ttl time.Duration) *RedisSummaryCache {
	return &RedisSummaryCache{client: client, ttl: ttl}
}

func (c *RedisSummaryCache) Get(ctx context.Context, dst any) (bool, error) {
	data, err := c.client.Get(ctx, summaryKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisSummaryCache) Set(ctx context.Context, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, summaryKey, data, c.ttl).Err()
}

func (c *RedisSummaryCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, summaryKey).Err()
}

// MemorySummaryCache 未启用 redis 时的进程内实现
type MemorySummaryCache struct {
	mu      sync.RWMutex
	data    []byte
	expires time.Time
	ttl     time.Duration
}

func NewMemorySummaryCache(ttl time.Duration) *MemorySummaryCache {
	return &MemorySummaryCache{ttl: ttl}
}

func (c *MemorySummaryCache) Get(_ context.Context, dst any) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || time.Now().After(c.expires) {
		return false, nil
	}
	return true, json.Unmarshal(c.data, dst)
}

func (c *MemorySummaryCache) Set(_ context.Context, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expires = time.Now().Add(c.ttl)
	return nil
}

func (c *MemorySummaryCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
	return nil
}

// Package cache holds read-side caches. Balance reads may be eventually
// consistent; every balance-affecting write invalidates the cached value.
package cache

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const balanceTTL = 30 * time.Second

// BalanceCache stores recent balance reads keyed by user id.
type BalanceCache struct {
	client *redis.Client
}

func NewBalanceCache(client *redis.Client) *BalanceCache {
	if client == nil {
		return nil
	}
	return &BalanceCache{client: client}
}

func (c *BalanceCache) Get(ctx context.Context, userID string) (int64, bool) {
	if c == nil || c.client == nil {
		return 0, false
	}
	raw, err := c.client.Get(ctx, balanceKey(userID)).Result()
	if err != nil {
		return 0, false
	}
	balance, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return balance, true
}

func (c *BalanceCache) Set(ctx context.Context, userID string, balance int64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Set(ctx, balanceKey(userID), strconv.FormatInt(balance, 10), balanceTTL).Err()
}

func (c *BalanceCache) Invalidate(ctx context.Context, userID string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, balanceKey(userID)).Err()
}

func balanceKey(userID string) string {
	return "creditd:balance:" + userID
}

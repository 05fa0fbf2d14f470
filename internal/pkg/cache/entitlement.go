package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EntitlementTTL bounds how long a cached answer may lag behind billing.
const EntitlementTTL = 60 * time.Second

// EntitlementCache stores per-user entitlement answers.
type EntitlementCache interface {
	Get(ctx context.Context, userID uint) (entitled bool, found bool)
	Set(ctx context.Context, userID uint, entitled bool)
	Invalidate(ctx context.Context, userID uint)
}

func EntitlementKey(userID uint) string {
	return fmt.Sprintf("entitlement:%d", userID)
}

type redisEntitlementCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewEntitlementCache returns a Redis backed cache. A nil client disables
// caching; every Get is a miss.
func NewEntitlementCache(client *redis.Client) EntitlementCache {
	c := &redisEntitlementCache{ttl: EntitlementTTL}
	if client != nil {
		c.client = client
	}
	return c
}

func (c *redisEntitlementCache) Get(ctx context.Context, userID uint) (bool, bool) {
	if c.client == nil || userID == 0 {
		return false, false
	}
	val, err := c.client.Get(ctx, EntitlementKey(userID)).Result()
	if err != nil {
		return false, false
	}
	switch val {
	case "1":
		return true, true
	case "0":
		return false, true
	}
	return false, false
}

func (c *redisEntitlementCache) Set(ctx context.Context, userID uint, entitled bool) {
	if c.client == nil || userID == 0 {
		return
	}
	val := "0"
	if entitled {
		val = "1"
	}
	_ = c.client.Set(ctx, EntitlementKey(userID), val, c.ttl).Err()
}

func (c *redisEntitlementCache) Invalidate(ctx context.Context, userID uint) {
	if c.client == nil || userID == 0 {
		return
	}
	_ = c.client.Del(ctx, EntitlementKey(userID)).Err()
}

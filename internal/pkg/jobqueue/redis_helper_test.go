package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/ForumFox/internal/pkg/cache"
)

// queueTestRedisDB keeps queue tests away from session and cache data.
const queueTestRedisDB = 14

// newQueueTestRedis returns a flushed client on queueTestRedisDB, or skips
// the test when no Redis answers on the CACHE_* address.
func newQueueTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	opts := cache.Options()
	opts.DB = queueTestRedisDB
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis not reachable at %s: %v", opts.Addr, err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		_ = client.Close()
		t.Fatalf("flush redis db %d: %v", queueTestRedisDB, err)
	}

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}

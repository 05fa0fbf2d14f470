package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ManuelReschke/ForumFox/internal/pkg/env"
	"github.com/ManuelReschke/ForumFox/internal/pkg/logger"
)

var (
	mu     sync.RWMutex
	client *redis.Client
	ctx    = context.Background()
)

// Options returns the Redis options built from CACHE_* variables.
func Options() *redis.Options {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	return &redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       0,
	}
}

// SetupCache initializes the connection to the Redis cache server
func SetupCache() {
	c := redis.NewClient(Options())

	pong, err := c.Ping(ctx).Result()
	if err != nil {
		logger.Named("cache").Warn("could not connect to cache", zap.Error(err))
	} else {
		logger.Named("cache").Info("connected to cache", zap.String("pong", pong))
	}
	SetClient(c)
}

// SetClient replaces the process client.
func SetClient(c *redis.Client) {
	mu.Lock()
	defer mu.Unlock()
	client = c
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	mu.RLock()
	c := client
	mu.RUnlock()
	if c == nil {
		SetupCache()
		mu.RLock()
		c = client
		mu.RUnlock()
	}
	return c
}

// Set stores a value in the cache with the given key and expiration time
func Set(key string, value interface{}, expiration time.Duration) error {
	return GetClient().Set(ctx, key, value, expiration).Err()
}

// Get retrieves a value from the cache by key
func Get(key string) (string, error) {
	return GetClient().Get(ctx, key).Result()
}

func GetInt(key string) (int, error) {
	val, err := GetClient().Get(ctx, key).Int()
	if err != nil {
		return 0, err
	}
	return val, nil
}

// Delete removes a value from the cache by key
func Delete(key string) error {
	return GetClient().Del(ctx, key).Err()
}

package session

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/ForumFox/internal/pkg/cache"
	"github.com/ManuelReschke/ForumFox/internal/pkg/env"
)

var sessionStore *session.Store

// NewSessionStore creates the Redis backed session store on database 1
// (the cache and job queue use database 0).
func NewSessionStore() *session.Store {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")

	opts := cache.Options()
	if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	storage := redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})

	sessionStore = NewStore(storage)
	return sessionStore
}

// NewStore builds a session store on top of storage. A nil storage keeps
// sessions in memory, which tests rely on.
func NewStore(storage fiber.Storage) *session.Store {
	cfg := session.Config{
		CookieHTTPOnly: true,
		CookieSecure:   env.GetEnvBool("SESSION_COOKIE_SECURE", !env.IsDev()),
		CookieSameSite: "Lax",
		Expiration:     env.GetEnvDuration("SESSION_EXPIRATION", time.Hour),
		KeyLookup:      "cookie:session_id",
	}
	if storage != nil {
		cfg.Storage = storage
	}
	return session.New(cfg)
}

// SetSessionStore replaces the process store.
func SetSessionStore(store *session.Store) {
	sessionStore = store
}

func GetSessionStore() *session.Store {
	return sessionStore
}

// SetSessionValue stores a key-value pair in the user's individual session
func SetSessionValue(c *fiber.Ctx, key string, value string) error {
	if sessionStore == nil {
		return fmt.Errorf("session store not initialized")
	}

	sess, err := sessionStore.Get(c)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}

	sess.Set(key, value)
	return sess.Save()
}

// GetSessionValue retrieves a value by key from the user's individual session
func GetSessionValue(c *fiber.Ctx, key string) string {
	if sessionStore == nil {
		return ""
	}

	sess, err := sessionStore.Get(c)
	if err != nil {
		return ""
	}

	if strValue, ok := sess.Get(key).(string); ok {
		return strValue
	}
	return ""
}

package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ForumFox/internal/pkg/cache"
	"github.com/ManuelReschke/ForumFox/internal/pkg/database"
)

// HandleHealth reports database and cache reachability. Only a missing
// database makes the instance unhealthy.
func HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := fiber.StatusOK
	body := fiber.Map{"status": "ok", "database": "ok", "cache": "ok"}

	if db := database.GetDB(); db == nil {
		status = fiber.StatusServiceUnavailable
		body["database"] = "unavailable"
	} else if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		status = fiber.StatusServiceUnavailable
		body["database"] = "unavailable"
	}

	if rdb := cache.GetClient(); rdb == nil || rdb.Ping(ctx).Err() != nil {
		body["cache"] = "unavailable"
	}

	if status != fiber.StatusOK {
		body["status"] = "degraded"
	}
	return c.Status(status).JSON(body)
}

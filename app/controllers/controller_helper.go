package controllers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ForumFox/app/repository"
	"github.com/ManuelReschke/ForumFox/internal/pkg/billing"
	"github.com/ManuelReschke/ForumFox/internal/pkg/usercontext"
)

var validate = validator.New()

// jsonError writes the {"error": code, "message": msg} body used by every
// JSON handler.
func jsonError(c *fiber.Ctx, status int, code, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": msg})
}

// billingError maps reconciler sentinels to HTTP answers.
func billingError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, billing.ErrUnauthenticated):
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "login required")
	case errors.Is(err, billing.ErrSessionNotFound):
		return jsonError(c, fiber.StatusNotFound, "session_not_found", "checkout session not found")
	case errors.Is(err, billing.ErrNoSubscriptionFound):
		return jsonError(c, fiber.StatusNotFound, "no_subscription", "no subscription found")
	case errors.Is(err, billing.ErrSessionIncomplete):
		return jsonError(c, fiber.StatusConflict, "session_incomplete", "checkout session is not complete yet")
	case errors.Is(err, billing.ErrNoActiveSubscription):
		return jsonError(c, fiber.StatusConflict, "no_active_subscription", "subscription is not active")
	case errors.Is(err, billing.ErrInvalidPlan):
		return jsonError(c, fiber.StatusBadRequest, "invalid_plan", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return jsonError(c, fiber.StatusGatewayTimeout, "timeout", "billing request timed out")
	case errors.Is(err, billing.ErrProcessor):
		return jsonError(c, fiber.StatusBadGateway, "processor_error", "payment processor request failed")
	default:
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "billing request failed")
	}
}

func notFoundOr500(c *fiber.Ctx, err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return jsonError(c, fiber.StatusNotFound, "not_found", what+" not found")
	}
	return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to load "+what)
}

// paramID parses a positive numeric route parameter.
func paramID(c *fiber.Ctx, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func pageFromQuery(c *fiber.Ctx) repository.Page {
	return repository.NewPage(c.Query("page"), c.Query("per_page"))
}

// truthy accepts checkbox and JSON style booleans.
func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// requestContext bounds handler work that talks to external services.
func requestContext(c *fiber.Ctx, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(c.UserContext(), timeout)
}

func currentUser(c *fiber.Ctx) usercontext.UserContext {
	return usercontext.GetUserContext(c)
}

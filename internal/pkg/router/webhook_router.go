package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/ForumFox/app/controllers"
	"github.com/ManuelReschke/ForumFox/internal/pkg/env"
)

// WebhookRouter serves processor callbacks. They carry no session and are
// authenticated by their signature.
type WebhookRouter struct {
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	hooks := app.Group("/webhooks", limiter.New(limiter.Config{
		Max:        env.GetEnvInt("WEBHOOK_RATE_LIMIT", 300),
		Expiration: time.Minute,
	}))
	hooks.Post("/stripe", controllers.HandleStripeWebhook)
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}

package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	"github.com/ManuelReschke/ForumFox/app/controllers"
	"github.com/ManuelReschke/ForumFox/internal/pkg/env"
	"github.com/ManuelReschke/ForumFox/internal/pkg/metrics"
	"github.com/ManuelReschke/ForumFox/internal/pkg/middleware"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	app.Get("/health", controllers.HandleHealth)

	// prometheus scrape endpoint, optionally behind basic auth
	if user := env.GetEnv("METRICS_USER", ""); user != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{user: env.GetEnv("METRICS_PASSWORD", "")},
		}), metrics.FiberHandler())
	} else {
		app.Get("/metrics", metrics.FiberHandler())
	}

	// Topics are public, premium ones are gated in the controller
	app.Get("/topics", controllers.HandleTopicList)
	app.Get("/topics/premium", middleware.RequireEntitlement(h.services.Gate), controllers.HandleTopicPremiumList)
	app.Get("/topics/:id", controllers.HandleTopicShow)
}

package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"github.com/ManuelReschke/ForumFox/app/controllers"
	"github.com/ManuelReschke/ForumFox/internal/pkg/middleware"
)

func (h HttpRouter) registerAdminRoutes(app *fiber.App, protect fiber.Handler) {
	adminGroup := app.Group("/admin", middleware.RequireAdmin, protect)
	adminGroup.Get("/", controllers.HandleAdminDashboard)
	adminGroup.Get("/monitor", monitor.New(monitor.Config{Title: "ForumFox Monitor"}))
	adminGroup.Get("/users", controllers.HandleAdminUsers)

	// Subscriptions
	adminGroup.Get("/subscriptions/:userId", controllers.HandleAdminSubscriptions)
	adminGroup.Post("/subscriptions/:userId/reconcile", controllers.HandleAdminReconcile)

	// Moderation
	adminGroup.Post("/topics/:id/delete", controllers.HandleAdminTopicDelete)
}

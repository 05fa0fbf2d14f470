package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ForumFox/app/controllers"
	"github.com/ManuelReschke/ForumFox/internal/pkg/metrics"
	"github.com/ManuelReschke/ForumFox/internal/pkg/middleware"
	"github.com/ManuelReschke/ForumFox/internal/pkg/session"
)

type HttpRouter struct {
	services controllers.Services
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session, tests install an in-memory store beforehand
	if session.GetSessionStore() == nil {
		session.NewSessionStore()
	}

	app.Use(metrics.Middleware())

	// Apply UserContext middleware globally
	if h.services.Repos != nil {
		app.Use(middleware.NewUserContext(h.services.Repos.User.GetByID))
	} else {
		app.Use(middleware.UserContextMiddleware)
	}

	controllers.Initialize(h.services)

	protect := newCSRF()
	h.registerPublicRoutes(app)
	h.registerAdminRoutes(app, protect)
	h.registerCSRFProtectedRoutes(app, protect)
}

func NewHttpRouter(services controllers.Services) *HttpRouter {
	return &HttpRouter{services: services}
}

package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ForumFox/app/controllers"
)

// Router registers a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

func InstallRouter(app *fiber.App, services controllers.Services) {
	// HttpRouter first: it sets up the session store and the UserContext
	// middleware the other routes rely on.
	setup(app, NewHttpRouter(services), NewWebhookRouter())
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}

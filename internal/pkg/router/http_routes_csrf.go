package router

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/ForumFox/app/controllers"
	"github.com/ManuelReschke/ForumFox/internal/pkg/env"
	"github.com/ManuelReschke/ForumFox/internal/pkg/middleware"
)

// newCSRF protects form posts. JSON bodies cannot be sent cross-site
// without a preflight, so they skip the token check, as do webhooks.
func newCSRF() fiber.Handler {
	return csrf.New(csrf.Config{
		KeyLookup:      "form:_csrf",
		ContextKey:     "csrf",
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		Expiration:     1 * time.Hour,
		CookieSecure:   !env.IsDev(),
		Next: func(c *fiber.Ctx) bool {
			if strings.HasPrefix(c.Path(), "/webhooks/") {
				return true
			}
			return strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON)
		},
	})
}

func (h HttpRouter) registerCSRFProtectedRoutes(app *fiber.App, protect fiber.Handler) {
	loginLimiter := limiter.New(limiter.Config{
		Max:        env.GetEnvInt("LOGIN_RATE_LIMIT", 10),
		Expiration: time.Minute,
	})
	auth := middleware.RequireAPISessionAuth

	group := app.Group("", cors.New(), protect)
	group.Get("/session", controllers.HandleAuthSession)
	group.Post("/login", loginLimiter, controllers.HandleAuthLogin)
	group.Post("/logout", middleware.RequireAuth, controllers.HandleAuthLogout)

	// Forum
	group.Post("/topics", auth, controllers.HandleTopicCreate)
	group.Post("/topics/:id/comments", auth, controllers.HandleCommentCreate)
	group.Post("/topics/:id/accept/:commentId", auth, controllers.HandleAcceptAnswer)
	group.Post("/topics/:id/attachments", auth, controllers.HandleAttachmentUpload)

	// User
	group.Post("/user/avatar", auth, controllers.HandleUserAvatar)
	group.Get("/user/notifications", auth, controllers.HandleUserNotifications)
	group.Post("/user/notifications/:id/read", auth, controllers.HandleUserNotificationRead)
	group.Post("/user/settings/notifications", auth, controllers.HandleUserNotificationSettings)

	// Billing
	group.Get("/billing/status", auth, controllers.HandleBillingStatus)
	group.Post("/billing/checkout", auth, controllers.HandleBillingCheckout)
	group.Get("/billing/success", auth, controllers.HandleBillingSuccess)
	group.Post("/billing/auto-renew", auth, controllers.HandleBillingAutoRenew)
	group.Post("/billing/cancel", auth, controllers.HandleBillingCancel)
	group.Post("/billing/portal", auth, controllers.HandleBillingPortal)
}

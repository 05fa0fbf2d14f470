package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ForumFox/internal/pkg/entitlements"
	icuser "github.com/ManuelReschke/ForumFox/internal/pkg/usercontext"
)

func loggedIn(c *fiber.Ctx) bool {
	b, ok := c.Locals(icuser.KeyFromProtected).(bool)
	return ok && b
}

// RequireAuth ensures a logged-in web session; redirects to /login if missing.
func RequireAuth(c *fiber.Ctx) error {
	if !loggedIn(c) {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}
	return c.Next()
}

// RequireAdmin ensures a logged-in admin; redirects otherwise.
func RequireAdmin(c *fiber.Ctx) error {
	if !loggedIn(c) {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}
	if isAdmin, ok := c.Locals(icuser.KeyIsAdmin).(bool); !ok || !isAdmin {
		return c.Redirect("/", fiber.StatusSeeOther)
	}
	return c.Next()
}

// RequireAPISessionAuth ensures a logged-in session for API routes and returns JSON 401 instead of redirect.
func RequireAPISessionAuth(c *fiber.Ctx) error {
	if !loggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	return c.Next()
}

// RequireEntitlement lets admins and subscribed users through and answers
// 402 for everyone else.
func RequireEntitlement(gate *entitlements.Gate) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uc := icuser.GetUserContext(c)
		if !uc.IsLoggedIn {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "login required",
			})
		}
		if !gate.Allowed(c.UserContext(), uc.UserID, uc.IsAdmin) {
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
				"error":   "subscription_required",
				"message": "an active subscription is required",
			})
		}
		return c.Next()
	}
}

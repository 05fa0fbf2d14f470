package controllers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"
	"go.uber.org/zap"

	"github.com/ManuelReschke/ForumFox/app/repository"
	"github.com/ManuelReschke/ForumFox/internal/pkg/session"
	"github.com/ManuelReschke/ForumFox/internal/pkg/usercontext"
)

const loginFailedMessage = "There is a problem with the login process"

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

type AuthController struct {
	users repository.UserRepository
	log   *zap.Logger
}

func NewAuthController(s Services) *AuthController {
	return &AuthController{users: s.Repos.User, log: s.logger("auth")}
}

// HandleLogin checks the credentials and stores the identity in the session.
func (ac *AuthController) HandleLogin(c *fiber.Ctx) error {
	fm := fiber.Map{
		"type": "error",
	}

	form := loginForm{
		Email:    strings.ToLower(strings.TrimSpace(c.FormValue("email"))),
		Password: c.FormValue("password"),
	}
	if err := validate.Struct(form); err != nil {
		fm["message"] = "Please enter your email address and password"
		return flash.WithError(c, fm).Redirect("/login")
	}

	// failures share one message so accounts cannot be probed
	user, err := ac.users.GetByEmail(form.Email)
	if err != nil || !user.CheckPassword(form.Password) || !user.IsActive() {
		fm["message"] = loginFailedMessage
		return flash.WithError(c, fm).Redirect("/login")
	}

	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		ac.log.Error("session load failed", zap.Error(err))
		fm["message"] = loginFailedMessage
		return flash.WithError(c, fm).Redirect("/login")
	}
	if err := sess.Regenerate(); err != nil {
		ac.log.Error("session regenerate failed", zap.Error(err))
		fm["message"] = loginFailedMessage
		return flash.WithError(c, fm).Redirect("/login")
	}

	sess.Set(usercontext.KeyLoginAt, time.Now().Unix())
	sess.Set(usercontext.KeyUserID, user.ID)
	sess.Set(usercontext.KeyUsername, user.Name)
	sess.Set(usercontext.KeyIsAdmin, user.IsAdmin)
	if err := sess.Save(); err != nil {
		ac.log.Error("session save failed", zap.Error(err))
		fm["message"] = loginFailedMessage
		return flash.WithError(c, fm).Redirect("/login")
	}

	if err := ac.users.UpdateLastLogin(user.ID); err != nil {
		ac.log.Warn("last login update failed", zap.Uint("user_id", user.ID), zap.Error(err))
	}

	fm = fiber.Map{
		"type":    "success",
		"message": "Welcome back, " + user.Name,
	}
	return flash.WithSuccess(c, fm).Redirect("/topics")
}

func (ac *AuthController) HandleLogout(c *fiber.Ctx) error {
	fm := fiber.Map{
		"type": "error",
	}

	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		fm["message"] = "logged out (no session)"
		return flash.WithError(c, fm).Redirect("/login")
	}
	if err := sess.Destroy(); err != nil {
		ac.log.Error("session destroy failed", zap.Error(err))
		fm["message"] = "Logout failed, please try again"
		return flash.WithError(c, fm).Redirect("/login")
	}

	c.Locals(usercontext.KeyFromProtected, false)

	fm = fiber.Map{
		"type":    "success",
		"message": "You have been logged out",
	}
	return flash.WithSuccess(c, fm).Redirect("/login")
}

// HandleSession returns the signed-in identity and the CSRF token form
// posts have to carry as _csrf.
func (ac *AuthController) HandleSession(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	body := fiber.Map{"user": nil}
	if uc.IsLoggedIn {
		body["user"] = uc
	}
	if token, ok := c.Locals("csrf").(string); ok {
		body["csrf_token"] = token
	}
	return c.JSON(body)
}

package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ForumFox/app/models"
	"github.com/ManuelReschke/ForumFox/app/repository"
	"github.com/ManuelReschke/ForumFox/internal/pkg/database"
	"github.com/ManuelReschke/ForumFox/internal/pkg/logger"
	"github.com/ManuelReschke/ForumFox/internal/pkg/session"
	"github.com/ManuelReschke/ForumFox/internal/pkg/usercontext"
)

// UserLookup loads the current user row. It returns (nil, nil) when no
// database is configured.
type UserLookup func(id uint) (*models.User, error)

func repositoryLookup(id uint) (*models.User, error) {
	if database.GetDB() == nil {
		return nil, nil
	}
	return repository.GetGlobalFactory().GetUserRepository().GetByID(id)
}

// UserContextMiddleware sets up the user context for every request from
// the session and the stored user row.
func UserContextMiddleware(c *fiber.Ctx) error {
	return NewUserContext(repositoryLookup)(c)
}

// NewUserContext builds the user context middleware around lookup.
func NewUserContext(lookup UserLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		anonymous := usercontext.UserContext{}

		store := session.GetSessionStore()
		if store == nil {
			usercontext.Set(c, anonymous)
			return c.Next()
		}
		sess, err := store.Get(c)
		if err != nil {
			usercontext.Set(c, anonymous)
			return c.Next()
		}

		userID, ok := sess.Get(usercontext.KeyUserID).(uint)
		if !ok || userID == 0 {
			usercontext.Set(c, anonymous)
			return c.Next()
		}

		uc := usercontext.UserContext{
			UserID:     userID,
			IsLoggedIn: true,
		}
		if name, ok := sess.Get(usercontext.KeyUsername).(string); ok {
			uc.Username = name
		}
		if isAdmin, ok := sess.Get(usercontext.KeyIsAdmin).(bool); ok {
			uc.IsAdmin = isAdmin
		}

		// The row is authoritative for the admin flag and account status.
		user, err := lookup(userID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound) || (user != nil && !user.IsActive()):
			_ = sess.Destroy()
			usercontext.Set(c, anonymous)
			return c.Next()
		case err != nil:
			logger.Named("middleware").Warn("user lookup failed", zap.Uint("user_id", userID), zap.Error(err))
		case user != nil:
			uc.Username = user.Name
			uc.Email = user.Email
			uc.IsAdmin = user.IsAdmin
		}

		usercontext.Set(c, uc)
		return c.Next()
	}
}

package controllers

import (
	"bytes"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/ForumFox/app/repository"
	"github.com/ManuelReschke/ForumFox/internal/pkg/imageprocessor"
	"github.com/ManuelReschke/ForumFox/internal/pkg/storage"
	"github.com/ManuelReschke/ForumFox/internal/pkg/upload"
)

type UserController struct {
	repos          *repository.Repositories
	storage        storage.ObjectStore
	maxUploadBytes int64
	log            *zap.Logger
}

func NewUserController(s Services) *UserController {
	return &UserController{
		repos:          s.Repos,
		storage:        s.Storage,
		maxUploadBytes: s.MaxUploadBytes,
		log:            s.logger("user"),
	}
}

// HandleAvatar normalizes an uploaded image to a square JPEG and stores it
// as the user's avatar.
func (uc *UserController) HandleAvatar(c *fiber.Ctx) error {
	user := currentUser(c)
	if uc.storage == nil {
		return jsonError(c, fiber.StatusServiceUnavailable, "storage_unavailable", "file storage is not configured")
	}

	fileHeader, err := c.FormFile("avatar")
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "missing_file", "no image uploaded")
	}
	if err := upload.CheckSize(fileHeader.Size, uc.maxUploadBytes); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_file", err.Error())
	}

	file, err := fileHeader.Open()
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_file", "file could not be read")
	}
	defer file.Close()

	head := make([]byte, 512)
	n, _ := file.Read(head)
	if _, err := upload.ValidateImageBySniff(fileHeader.Filename, head[:n]); err != nil {
		return jsonError(c, fiber.StatusUnsupportedMediaType, "unsupported_type", err.Error())
	}

	// decode from the start, the sniffed bytes are re-joined
	avatar, err := imageprocessor.NormalizeAvatar(io.MultiReader(bytes.NewReader(head[:n]), file))
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_image", "image could not be processed")
	}

	ctx, cancel := requestContext(c, 30*time.Second)
	defer cancel()

	key := storage.AvatarKey(user.UserID)
	obj, err := uc.storage.Put(ctx, key, bytes.NewReader(avatar), int64(len(avatar)), "image/jpeg")
	if err != nil {
		uc.log.Error("avatar upload failed", zap.Uint("user_id", user.UserID), zap.Error(err))
		return jsonError(c, fiber.StatusBadGateway, "storage_error", "avatar could not be stored")
	}
	if err := uc.repos.User.SetAvatarURL(user.UserID, obj.PublicURL); err != nil {
		uc.log.Error("avatar url update failed", zap.Uint("user_id", user.UserID), zap.Error(err))
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to save avatar")
	}
	return c.JSON(fiber.Map{"avatar_url": obj.PublicURL})
}

// HandleNotifications lists the user's notifications, newest first.
// ?unread=1 restricts the list to unread ones.
func (uc *UserController) HandleNotifications(c *fiber.Ctx) error {
	user := currentUser(c)
	page := pageFromQuery(c)

	items, err := uc.repos.Notification.ListByUser(user.UserID, truthy(c.Query("unread")), page)
	if err != nil {
		uc.log.Error("list notifications failed", zap.Uint("user_id", user.UserID), zap.Error(err))
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to load notifications")
	}
	unread, err := uc.repos.Notification.CountUnread(user.UserID)
	if err != nil {
		uc.log.Error("count notifications failed", zap.Uint("user_id", user.UserID), zap.Error(err))
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to load notifications")
	}
	return c.JSON(fiber.Map{
		"notifications": items,
		"unread":        unread,
		"page":          page.Number,
		"per_page":      page.PerPage,
	})
}

func (uc *UserController) HandleNotificationRead(c *fiber.Ctx) error {
	user := currentUser(c)
	id, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "invalid notification id")
	}
	found, err := uc.repos.Notification.MarkRead(user.UserID, id)
	if err != nil {
		uc.log.Error("mark notification read failed", zap.Uint("user_id", user.UserID), zap.Error(err))
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to update notification")
	}
	if !found {
		return jsonError(c, fiber.StatusNotFound, "not_found", "notification not found")
	}
	return c.JSON(fiber.Map{"id": id, "is_read": true})
}

// HandleNotificationSettings toggles email delivery of notifications.
func (uc *UserController) HandleNotificationSettings(c *fiber.Ctx) error {
	user := currentUser(c)
	enabled := truthy(c.FormValue("email_notifications"))
	if err := uc.repos.User.SetEmailNotifications(user.UserID, enabled); err != nil {
		uc.log.Error("notification settings update failed", zap.Uint("user_id", user.UserID), zap.Error(err))
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to save settings")
	}
	return c.JSON(fiber.Map{"email_notifications": enabled})
}

package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/ManuelReschke/ForumFox/app/models"
)

type notificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(n *models.Notification) error {
	return r.db.Create(n).Error
}

func (r *notificationRepository) ListByUser(userID uint, unreadOnly bool, page Page) ([]models.Notification, error) {
	var out []models.Notification
	q := r.db.Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	err := q.Order("created_at DESC").Order("id DESC").
		Offset(page.Offset()).Limit(page.Limit()).
		Find(&out).Error
	return out, err
}

func (r *notificationRepository) CountUnread(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	return count, err
}

// MarkRead flags a notification of userID as read. It reports false when
// no such notification exists for the user.
func (r *notificationRepository) MarkRead(userID, id uint) (bool, error) {
	var n models.Notification
	if err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if !n.Unread() {
		return true, nil
	}
	if err := r.db.Model(&n).Update("is_read", true).Error; err != nil {
		return false, err
	}
	return true, nil
}

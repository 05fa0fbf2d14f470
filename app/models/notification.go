package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	NotificationTypeComment        = "comment"
	NotificationTypeAnswerAccepted = "answer_accepted"
	NotificationTypeBilling        = "billing"
	NotificationTypeSystem         = "system"
)

type Notification struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	UserID      uint           `gorm:"index" json:"user_id"`
	Type        string         `gorm:"type:varchar(50)" json:"type" validate:"oneof=comment answer_accepted billing system"`
	Content     string         `gorm:"type:text" json:"content"`
	IsRead      bool           `gorm:"default:false;index" json:"is_read"`
	ReferenceID uint           `json:"reference_id"` // id of the topic the notification points at
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// Unread reports whether the notification still needs attention.
func (n *Notification) Unread() bool {
	return !n.IsRead
}

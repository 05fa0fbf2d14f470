package models

import "time"

// Attachment is a file uploaded to object storage and linked to a topic.
type Attachment struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	TopicID     uint      `gorm:"index" json:"topic_id"`
	UserID      uint      `gorm:"index" json:"user_id"`
	ObjectKey   string    `gorm:"type:varchar(255);uniqueIndex" json:"object_key"`
	PublicURL   string    `gorm:"type:varchar(512)" json:"public_url"`
	FileName    string    `gorm:"type:varchar(255)" json:"file_name"`
	ContentType string    `gorm:"type:varchar(100)" json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	CategoryGeneral  = "general"
	CategoryHelp     = "help"
	CategoryShowcase = "showcase"
	CategoryMeta     = "meta"
)

// Topic is a forum thread. Question topics may carry an accepted answer.
type Topic struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	UserID            uint           `gorm:"index" json:"user_id"`
	User              User           `gorm:"foreignKey:UserID" json:"user,omitempty" validate:"-"`
	Title             string         `gorm:"type:varchar(200)" json:"title" validate:"required,min=3,max=200"`
	Body              string         `gorm:"type:text" json:"body" validate:"required,min=1"`
	Category          string         `gorm:"type:varchar(32);default:'general';index" json:"category" validate:"oneof=general help showcase meta"`
	IsQuestion        bool           `gorm:"default:false" json:"is_question"`
	IsPremium         bool           `gorm:"default:false;index" json:"is_premium"`
	AcceptedCommentID *uint          `gorm:"default:null" json:"accepted_comment_id,omitempty"`
	CommentCount      int            `gorm:"default:0" json:"comment_count"`
	ViewCount         int            `gorm:"default:0" json:"view_count"`
	CreatedAt         time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

func (t *Topic) Validate() error {
	return validator.New().Struct(t)
}

// HasAcceptedAnswer reports whether a comment was accepted as the answer.
func (t *Topic) HasAcceptedAnswer() bool {
	return t.AcceptedCommentID != nil && *t.AcceptedCommentID != 0
}

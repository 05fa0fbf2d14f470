package repository

import (
	"gorm.io/gorm"

	"github.com/ManuelReschke/ForumFox/app/models"
)

type attachmentRepository struct {
	db *gorm.DB
}

func NewAttachmentRepository(db *gorm.DB) AttachmentRepository {
	return &attachmentRepository{db: db}
}

func (r *attachmentRepository) Create(a *models.Attachment) error {
	return r.db.Create(a).Error
}

func (r *attachmentRepository) ListByTopic(topicID uint) ([]models.Attachment, error) {
	var out []models.Attachment
	err := r.db.Where("topic_id = ?", topicID).Order("id ASC").Find(&out).Error
	return out, err
}

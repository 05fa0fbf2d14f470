package repository

import (
	"gorm.io/gorm"

	"github.com/ManuelReschke/ForumFox/app/models"
)

type commentRepository struct {
	db *gorm.DB
}

func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db}
}

// Create stores the comment and bumps the topic's comment counter.
func (r *commentRepository) Create(comment *models.Comment) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(comment).Error; err != nil {
			return err
		}
		return tx.Model(&models.Topic{}).Where("id = ?", comment.TopicID).
			UpdateColumn("comment_count", gorm.Expr("comment_count + ?", 1)).Error
	})
}

func (r *commentRepository) GetByID(id uint) (*models.Comment, error) {
	var comment models.Comment
	if err := r.db.First(&comment, id).Error; err != nil {
		return nil, err
	}
	return &comment, nil
}

// ListByTopic returns comments oldest first.
func (r *commentRepository) ListByTopic(topicID uint, page Page) ([]models.Comment, error) {
	var comments []models.Comment
	err := r.db.Preload("User").
		Where("topic_id = ?", topicID).
		Order("created_at ASC").Order("id ASC").
		Offset(page.Offset()).Limit(page.Limit()).
		Find(&comments).Error
	return comments, err
}

func (r *commentRepository) CountByTopic(topicID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Comment{}).Where("topic_id = ?", topicID).Count(&count).Error
	return count, err
}

func (r *commentRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Comment{}).Count(&count).Error
	return count, err
}

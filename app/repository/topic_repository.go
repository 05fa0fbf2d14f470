package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/ManuelReschke/ForumFox/app/models"
)

// ErrCommentNotInTopic is returned when accepting a comment of another topic.
var ErrCommentNotInTopic = errors.New("comment does not belong to topic")

type topicRepository struct {
	db *gorm.DB
}

func NewTopicRepository(db *gorm.DB) TopicRepository {
	return &topicRepository{db: db}
}

func (r *topicRepository) Create(topic *models.Topic) error {
	return r.db.Create(topic).Error
}

func (r *topicRepository) GetByID(id uint) (*models.Topic, error) {
	var topic models.Topic
	if err := r.db.Preload("User").First(&topic, id).Error; err != nil {
		return nil, err
	}
	return &topic, nil
}

func (r *topicRepository) scoped(filter TopicFilter) *gorm.DB {
	q := r.db.Model(&models.Topic{})
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if filter.UserID != 0 {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.QuestionsOnly {
		q = q.Where("is_question = ?", true)
	}
	switch {
	case filter.PremiumOnly:
		q = q.Where("is_premium = ?", true)
	case !filter.IncludePremium:
		q = q.Where("is_premium = ?", false)
	}
	return q
}

// List returns topics newest first.
func (r *topicRepository) List(filter TopicFilter, page Page) ([]models.Topic, error) {
	var topics []models.Topic
	err := r.scoped(filter).
		Preload("User").
		Order("created_at DESC").Order("id DESC").
		Offset(page.Offset()).Limit(page.Limit()).
		Find(&topics).Error
	return topics, err
}

func (r *topicRepository) Count(filter TopicFilter) (int64, error) {
	var count int64
	err := r.scoped(filter).Count(&count).Error
	return count, err
}

// Delete soft deletes the topic and its comments.
func (r *topicRepository) Delete(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("topic_id = ?", id).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Topic{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// AcceptAnswer marks commentID as the accepted answer of topicID.
func (r *topicRepository) AcceptAnswer(topicID, commentID uint) error {
	var comment models.Comment
	if err := r.db.First(&comment, commentID).Error; err != nil {
		return err
	}
	if comment.TopicID != topicID {
		return ErrCommentNotInTopic
	}
	res := r.db.Model(&models.Topic{}).Where("id = ?", topicID).Update("accepted_comment_id", commentID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

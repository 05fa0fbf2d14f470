package repository

import (
	"gorm.io/gorm"

	"github.com/ManuelReschke/ForumFox/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	Update(user *models.User) error
	UpdateLastLogin(id uint) error
	SetEmailNotifications(id uint, enabled bool) error
	SetAvatarURL(id uint, url string) error
	Delete(id uint) error
	List(page Page) ([]models.User, error)
	Count() (int64, error)
	Search(query string, page Page) ([]models.User, error)
}

// TopicRepository defines the interface for topic-related database operations
type TopicRepository interface {
	Create(topic *models.Topic) error
	GetByID(id uint) (*models.Topic, error)
	List(filter TopicFilter, page Page) ([]models.Topic, error)
	Count(filter TopicFilter) (int64, error)
	Delete(id uint) error
	AcceptAnswer(topicID, commentID uint) error
}

// CommentRepository defines the interface for comment-related database operations
type CommentRepository interface {
	Create(comment *models.Comment) error
	GetByID(id uint) (*models.Comment, error)
	ListByTopic(topicID uint, page Page) ([]models.Comment, error)
	CountByTopic(topicID uint) (int64, error)
	Count() (int64, error)
}

// NotificationRepository defines the interface for in-app notifications
type NotificationRepository interface {
	Create(n *models.Notification) error
	ListByUser(userID uint, unreadOnly bool, page Page) ([]models.Notification, error)
	CountUnread(userID uint) (int64, error)
	MarkRead(userID, id uint) (bool, error)
}

// AttachmentRepository defines the interface for topic attachments
type AttachmentRepository interface {
	Create(a *models.Attachment) error
	ListByTopic(topicID uint) ([]models.Attachment, error)
}

// TopicFilter narrows topic listings. Zero values match everything.
type TopicFilter struct {
	Category       string
	UserID         uint
	QuestionsOnly  bool
	IncludePremium bool
	PremiumOnly    bool
}

// Repositories struct holds all repository instances
type Repositories struct {
	User         UserRepository
	Topic        TopicRepository
	Comment      CommentRepository
	Notification NotificationRepository
	Attachment   AttachmentRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Topic:        NewTopicRepository(db),
		Comment:      NewCommentRepository(db),
		Notification: NewNotificationRepository(db),
		Attachment:   NewAttachmentRepository(db),
	}
}

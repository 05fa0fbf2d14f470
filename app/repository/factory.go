package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory manages repository instances and ensures they are singletons
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

func (f *Factory) GetUserRepository() UserRepository {
	return f.GetRepositories().User
}

func (f *Factory) GetTopicRepository() TopicRepository {
	return f.GetRepositories().Topic
}

func (f *Factory) GetCommentRepository() CommentRepository {
	return f.GetRepositories().Comment
}

func (f *Factory) GetNotificationRepository() NotificationRepository {
	return f.GetRepositories().Notification
}

func (f *Factory) GetAttachmentRepository() AttachmentRepository {
	return f.GetRepositories().Attachment
}

// Global factory instance
var (
	globalFactory *Factory
	factoryMu     sync.RWMutex
)

// InitializeFactory initializes the global repository factory
func InitializeFactory(db *gorm.DB) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if globalFactory == nil || globalFactory.db != db {
		globalFactory = NewFactory(db)
	}
}

// GetGlobalFactory returns the global repository factory instance
func GetGlobalFactory() *Factory {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	if globalFactory == nil {
		panic("Repository factory not initialized. Call InitializeFactory first.")
	}
	return globalFactory
}

// GetGlobalRepositories returns the global repositories instance
func GetGlobalRepositories() *Repositories {
	return GetGlobalFactory().GetRepositories()
}

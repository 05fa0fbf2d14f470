package controllers

import (
	"context"

	"go.uber.org/zap"

	"github.com/ManuelReschke/ForumFox/app/repository"
	"github.com/ManuelReschke/ForumFox/internal/pkg/billing"
	"github.com/ManuelReschke/ForumFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/ForumFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/ForumFox/internal/pkg/notify"
	"github.com/ManuelReschke/ForumFox/internal/pkg/storage"
)

// ViewCounter buffers topic view counts.
type ViewCounter interface {
	AddTopicView(ctx context.Context, topicID uint) error
}

// QueueStats is the read side of the job queue shown on the dashboard.
type QueueStats interface {
	GetJobStats(ctx context.Context) (map[jobqueue.JobStatus]int64, error)
	GetQueueSize(ctx context.Context) (int64, error)
}

// Services bundles what the handlers depend on. Optional fields may be nil.
type Services struct {
	Repos          *repository.Repositories
	Reconciler     *billing.Reconciler
	BillingConfig  billing.Config
	Events         billing.EventStore
	Gate           *entitlements.Gate
	Notifier       *notify.Notifier
	Storage        storage.ObjectStore
	MaxUploadBytes int64
	Queue          jobqueue.Enqueuer
	QueueStats     QueueStats
	Views          ViewCounter
	Log            *zap.Logger
}

func (s Services) logger(name string) *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log.Named(name)
}

var (
	authController    *AuthController
	topicController   *TopicController
	userController    *UserController
	billingController *BillingController
	webhookController *WebhookController
	adminController   *AdminController
)

// Initialize builds the global controllers used by the router adapters.
func Initialize(s Services) {
	authController = NewAuthController(s)
	topicController = NewTopicController(s)
	userController = NewUserController(s)
	billingController = NewBillingController(s)
	webhookController = NewWebhookController(s)
	adminController = NewAdminController(s)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/ManuelReschke/ForumFox/app/controllers"
	"github.com/ManuelReschke/ForumFox/app/repository"
	"github.com/ManuelReschke/ForumFox/internal/pkg/billing"
	"github.com/ManuelReschke/ForumFox/internal/pkg/cache"
	"github.com/ManuelReschke/ForumFox/internal/pkg/database"
	"github.com/ManuelReschke/ForumFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/ForumFox/internal/pkg/env"
	"github.com/ManuelReschke/ForumFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/ForumFox/internal/pkg/logger"
	"github.com/ManuelReschke/ForumFox/internal/pkg/mail"
	"github.com/ManuelReschke/ForumFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/ForumFox/internal/pkg/notify"
	"github.com/ManuelReschke/ForumFox/internal/pkg/router"
	"github.com/ManuelReschke/ForumFox/internal/pkg/storage"
)

func main() {
	app, manager := NewApplication()
	log := logger.Get()
	defer logger.Sync()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatal("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	manager.Stop()
}

// NewApplication wires configuration, stores and services into the app
// and starts the background job manager.
func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	log := logger.Setup()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	rdb := cache.GetClient()
	repository.InitializeFactory(db)
	repos := repository.GetGlobalRepositories()

	// job queue, mail goes through it
	queue := jobqueue.NewQueue(rdb, env.GetEnvInt("JOB_WORKERS", 3), log.Named("jobqueue"))
	queue.Register(jobqueue.JobTypeSendEmail, jobqueue.EmailHandler(mail.NewSenderFromEnv()))
	notifier := notify.New(repos.User, repos.Notification, jobqueue.QueueSender{Queue: queue},
		env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000"), log.Named("notify"))

	// billing
	billingCfg := billing.LoadConfig()
	if billingCfg.WebhookSecret == "" {
		log.Warn("STRIPE_WEBHOOK_SECRET is not set, webhooks will be rejected")
	}
	gate := entitlements.NewGate(nil, cache.NewEntitlementCache(rdb), log.Named("entitlements"))
	reconciler := billing.NewReconciler(
		billing.NewStore(db),
		billing.NewStripeClient(billingCfg),
		log.Named("billing"),
		billing.WithConfig(billingCfg),
		billing.WithChangeHook(gate.Invalidate),
	)
	gate.Evaluator = reconciler
	queue.Register(jobqueue.JobTypeReconcileSubscription, jobqueue.ReconcileHandler(reconciler, log.Named("reconcile")))

	views := counter.New(rdb, db)
	manager := jobqueue.NewManager(queue, reconciler, views, jobqueue.ManagerConfig{
		SweepSchedule: billingCfg.SweepCron,
		SweepLimit:    billingCfg.SweepLimit,
	}, log.Named("jobs"))
	if err := manager.Start(); err != nil {
		log.Fatal("job manager failed to start", zap.Error(err))
	}

	objectStore, maxUpload := setupStorage(log)

	app := fiber.New(fiber.Config{
		BodyLimit: int(maxUpload) + 1<<20,
	})

	// recovery and logging
	app.Use(recover.New(), fiberlogger.New())

	// ROUTER
	router.InstallRouter(app, controllers.Services{
		Repos:          repos,
		Reconciler:     reconciler,
		BillingConfig:  billingCfg,
		Events:         billing.NewEventStore(db),
		Gate:           gate,
		Notifier:       notifier,
		Storage:        objectStore,
		MaxUploadBytes: maxUpload,
		Queue:          queue,
		QueueStats:     queue,
		Views:          views,
		Log:            log,
	})

	return app, manager
}

// setupStorage returns the S3 store when configured. Development falls
// back to an in-memory store; otherwise uploads stay disabled.
func setupStorage(log *zap.Logger) (storage.ObjectStore, int64) {
	cfg, err := storage.LoadConfig()
	if err != nil {
		log.Fatal("invalid storage configuration", zap.Error(err))
	}
	if cfg.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		store, err := storage.NewS3Store(ctx, cfg, log.Named("storage"))
		if err != nil {
			log.Fatal("object storage unavailable", zap.Error(err))
		}
		return store, cfg.MaxUploadBytes
	}
	if env.IsDev() {
		log.Info("S3 disabled, keeping uploads in memory")
		return storage.NewMemoryStore(env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000") + "/uploads"), cfg.MaxUploadBytes
	}
	log.Warn("S3 disabled, uploads are turned off")
	return nil, cfg.MaxUploadBytes
}

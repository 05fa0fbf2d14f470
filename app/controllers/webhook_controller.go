package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/ForumFox/internal/pkg/billing"
	"github.com/ManuelReschke/ForumFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/ForumFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/ForumFox/internal/pkg/notify"
)

// WebhookController receives processor events. Every delivery is stored
// once; subscription events re-read the subscription instead of trusting
// the payload.
type WebhookController struct {
	reconciler *billing.Reconciler
	events     billing.EventStore
	queue      jobqueue.Enqueuer
	cfg        billing.Config
	gate       *entitlements.Gate
	notifier   *notify.Notifier
	log        *zap.Logger
	now        func() time.Time
}

func NewWebhookController(s Services) *WebhookController {
	return &WebhookController{
		reconciler: s.Reconciler,
		events:     s.Events,
		queue:      s.Queue,
		cfg:        s.BillingConfig,
		gate:       s.Gate,
		notifier:   s.Notifier,
		log:        s.logger("webhook"),
		now:        time.Now,
	}
}

func (wc *WebhookController) HandleStripe(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.Body()...)

	if err := billing.VerifyStripeSignature(rawBody, c.Get("Stripe-Signature"), wc.cfg.WebhookSecret, wc.now()); err != nil {
		billing.ObserveWebhook("unknown", "invalid_signature")
		return jsonError(c, fiber.StatusBadRequest, "invalid_signature", "webhook signature verification failed")
	}
	event, err := billing.ParseWebhookEvent(rawBody)
	if err != nil {
		billing.ObserveWebhook("unknown", "invalid_payload")
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", err.Error())
	}

	ctx, cancel := requestContext(c, wc.cfg.RequestTimeout)
	defer cancel()

	created, stored, err := billing.RecordWebhookEvent(ctx, wc.events, billing.WebhookEventInput{
		Provider:        billing.ProviderStripe,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		wc.log.Error("webhook persist failed", zap.String("event", event.ID), zap.Error(err))
		billing.ObserveWebhook(event.Type, "persist_failed")
		return jsonError(c, fiber.StatusInternalServerError, "webhook_persist_failed", "event could not be stored")
	}
	// redeliveries of failed events run again, processing is idempotent
	if !created && stored.IsProcessed() {
		billing.ObserveWebhook(event.Type, "duplicate")
		return c.JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	if !event.Relevant() {
		wc.markProcessed(ctx, stored.ID, nil)
		billing.ObserveWebhook(event.Type, "ignored")
		return c.JSON(fiber.Map{"ok": true, "ignored": true})
	}

	result, err := wc.process(ctx, event)
	wc.markProcessed(ctx, stored.ID, err)
	if err != nil {
		billing.ObserveWebhook(event.Type, "failed")
		wc.log.Warn("webhook processing failed", zap.String("event", event.ID),
			zap.String("type", event.Type), zap.Error(err))
		// a non-2xx answer makes the processor redeliver
		return jsonError(c, fiber.StatusInternalServerError, "processing_failed", "event could not be processed")
	}

	billing.ObserveWebhook(event.Type, result)
	if confirmsPurchase(event, result) && wc.notifier != nil {
		if nerr := wc.notifier.BillingChanged(ctx, event.UserID, notify.BillingCheckoutCompleted); nerr != nil {
			wc.log.Warn("checkout notification failed", zap.Uint("user_id", event.UserID), zap.Error(nerr))
		}
	}
	return c.JSON(fiber.Map{"ok": true, "result": result})
}

// confirmsPurchase reports whether a processed event completed a purchase.
// Unpaid async checkouts come back as "ignored" and are confirmed later by
// the async_payment_succeeded event.
func confirmsPurchase(event *billing.WebhookEvent, result string) bool {
	if event.UserID == 0 {
		return false
	}
	switch event.Type {
	case billing.EventCheckoutCompleted, billing.EventAsyncPaymentSucceeded:
	default:
		return false
	}
	switch result {
	case "resolved", "synced", "queued":
		return true
	}
	return false
}

// process applies a relevant event. Subscription events are queued when a
// queue is configured and synced inline otherwise. One-time checkouts are
// resolved inline since there is no subscription to re-read.
func (wc *WebhookController) process(ctx context.Context, event *billing.WebhookEvent) (string, error) {
	if event.SubscriptionRef == "" {
		if event.UserID == 0 {
			return "ignored", nil
		}
		_, err := wc.reconciler.ResolveSessionCompletion(ctx, event.UserID, event.SessionRef)
		if err != nil {
			if errors.Is(err, billing.ErrSessionIncomplete) || errors.Is(err, billing.ErrSessionNotFound) {
				return "ignored", nil
			}
			return "", err
		}
		wc.gate.Invalidate(ctx, event.UserID)
		return "resolved", nil
	}

	if wc.queue != nil {
		if err := jobqueue.EnqueueReconcile(ctx, wc.queue, event.SubscriptionRef, event.UserID); err != nil {
			return "", err
		}
		return "queued", nil
	}

	rec, err := wc.reconciler.SyncSubscription(ctx, event.SubscriptionRef)
	if err != nil {
		if errors.Is(err, billing.ErrNoSubscriptionFound) {
			return "ignored", nil
		}
		return "", err
	}
	wc.gate.Invalidate(ctx, rec.UserID)
	return "synced", nil
}

func (wc *WebhookController) markProcessed(ctx context.Context, id uint, processingErr error) {
	if err := billing.MarkWebhookProcessed(ctx, wc.events, id, processingErr); err != nil {
		wc.log.Warn("mark webhook processed failed", zap.Uint("webhook_event_id", id), zap.Error(err))
	}
}

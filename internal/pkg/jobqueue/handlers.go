package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ManuelReschke/ForumFox/app/models"
	"github.com/ManuelReschke/ForumFox/internal/pkg/billing"
	"github.com/ManuelReschke/ForumFox/internal/pkg/mail"
)

// SubscriptionSyncer is the part of the reconciler the queue drives.
type SubscriptionSyncer interface {
	SyncSubscription(ctx context.Context, subscriptionRef string) (*models.SubscriptionRecord, error)
	EvaluateEntitlement(ctx context.Context, userID uint) (*billing.Entitlement, error)
}

// EmailHandler delivers send_email jobs through sender.
func EmailHandler(sender mail.Sender) Handler {
	return func(ctx context.Context, job *Job) error {
		payload, err := SendEmailJobPayloadFromMap(job.Payload)
		if err != nil {
			return Permanent(fmt.Errorf("invalid email payload: %w", err))
		}
		msg := mail.Message{To: payload.To, Subject: payload.Subject, HTML: payload.HTML}
		if err := msg.Validate(); err != nil {
			return Permanent(err)
		}
		return sender.Send(ctx, msg)
	}
}

// ReconcileHandler mirrors a processor subscription into the local store.
// Definitive processor answers fail the job for good; timeouts, 5xx and
// store failures are retried.
func ReconcileHandler(syncer SubscriptionSyncer, log *zap.Logger) Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, job *Job) error {
		payload, err := ReconcileSubscriptionJobPayloadFromMap(job.Payload)
		if err != nil {
			return Permanent(fmt.Errorf("invalid reconcile payload: %w", err))
		}

		if payload.ExternalSubscriptionRef != "" {
			_, err = syncer.SyncSubscription(ctx, payload.ExternalSubscriptionRef)
			if errors.Is(err, billing.ErrNoSubscriptionFound) && payload.UserID != 0 {
				log.Info("subscription unknown, re-evaluating owner",
					zap.String("subscription", payload.ExternalSubscriptionRef), zap.Uint("user_id", payload.UserID))
				_, err = syncer.EvaluateEntitlement(ctx, payload.UserID)
			}
		} else {
			_, err = syncer.EvaluateEntitlement(ctx, payload.UserID)
		}

		switch {
		case err == nil:
			return nil
		case billing.IsRetryable(err), errors.Is(err, billing.ErrStore):
			return err
		default:
			return Permanent(err)
		}
	}
}

// EnqueueEmail schedules delivery of msg.
func EnqueueEmail(ctx context.Context, q Enqueuer, msg mail.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	_, err := q.EnqueueJob(ctx, JobTypeSendEmail, SendEmailJobPayload{
		To: msg.To, Subject: msg.Subject, HTML: msg.HTML,
	}.ToMap())
	return err
}

// EnqueueReconcile schedules a subscription re-sync.
func EnqueueReconcile(ctx context.Context, q Enqueuer, subscriptionRef string, userID uint) error {
	if subscriptionRef == "" && userID == 0 {
		return errors.New("nothing to reconcile")
	}
	_, err := q.EnqueueJob(ctx, JobTypeReconcileSubscription, ReconcileSubscriptionJobPayload{
		ExternalSubscriptionRef: subscriptionRef, UserID: userID,
	}.ToMap())
	return err
}

// QueueSender is a mail.Sender that defers delivery to the job queue.
type QueueSender struct {
	Queue Enqueuer
}

func (s QueueSender) Send(ctx context.Context, msg mail.Message) error {
	return EnqueueEmail(ctx, s.Queue, msg)
}

package billing

import (
	"context"
	"time"

	"github.com/ManuelReschke/ForumFox/app/models"
)

const (
	SessionModeSubscription = "subscription"
	SessionModePayment      = "payment"

	SessionStatusOpen     = "open"
	SessionStatusComplete = "complete"

	PaymentStatusPaid   = "paid"
	PaymentStatusUnpaid = "unpaid"
)

// Metadata keys written on checkout sessions and subscriptions.
const (
	MetadataUserID   = "user_id"
	MetadataPlanType = "plan_type"
)

// CheckoutSession is the processor's view of a hosted checkout.
type CheckoutSession struct {
	ID                string
	Mode              string
	Status            string
	PaymentStatus     string
	CustomerRef       string
	SubscriptionRef   string
	ClientReferenceID string
	Metadata          map[string]string
	URL               string
	CreatedAt         time.Time
}

// Subscription is the processor's view of a recurring subscription.
type Subscription struct {
	ID                 string
	CustomerRef        string
	Status             string
	Interval           string // month | year
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	Metadata           map[string]string
}

type SubscriptionUpdate struct {
	CancelAtPeriodEnd bool
}

// CheckoutRequest describes a checkout session to create.
type CheckoutRequest struct {
	UserID        uint
	CustomerEmail string
	CustomerRef   string
	PlanType      string
	Mode          string
	PriceID       string
	SuccessURL    string
	CancelURL     string
}

// PaymentProcessor is the subset of the hosted payment API the reconciler uses.
type PaymentProcessor interface {
	GetCheckoutSession(ctx context.Context, sessionRef string) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, subscriptionRef string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, subscriptionRef string, upd SubscriptionUpdate) (*Subscription, error)
	CreateBillingPortalSession(ctx context.Context, customerRef, returnURL string) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// RecordFilter selects subscription records. At least one criterion is required.
type RecordFilter struct {
	UserID                  uint
	ExternalSubscriptionRef string
	CheckoutSessionRef      string
	Limit                   int
}

func (f RecordFilter) empty() bool {
	return f.UserID == 0 && f.ExternalSubscriptionRef == "" && f.CheckoutSessionRef == ""
}

// RecordPatch lists the mutable columns of a record; nil fields are left alone.
type RecordPatch struct {
	Status              *string
	PlanType            *string
	ExternalCustomerRef *string
	PeriodStart         *time.Time
	PeriodEnd           *time.Time
	AutoRenews          *bool
	UpdatedAt           time.Time
}

// Apply copies the patch onto rec.
func (p RecordPatch) Apply(rec *models.SubscriptionRecord) {
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.PlanType != nil {
		rec.PlanType = *p.PlanType
	}
	if p.ExternalCustomerRef != nil {
		rec.ExternalCustomerRef = p.ExternalCustomerRef
	}
	if p.PeriodStart != nil {
		rec.PeriodStart = *p.PeriodStart
	}
	if p.PeriodEnd != nil {
		rec.PeriodEnd = *p.PeriodEnd
	}
	if p.AutoRenews != nil {
		rec.AutoRenews = *p.AutoRenews
	}
	if !p.UpdatedAt.IsZero() {
		rec.UpdatedAt = p.UpdatedAt
	}
}

// RecordStore persists subscription records. Query results are ordered by
// created_at descending.
type RecordStore interface {
	Insert(ctx context.Context, rec *models.SubscriptionRecord) error
	Update(ctx context.Context, id string, patch RecordPatch) error
	Delete(ctx context.Context, userID uint, id string) (int64, error)
	Query(ctx context.Context, filter RecordFilter) ([]models.SubscriptionRecord, error)
	UsersWithMultipleRecords(ctx context.Context, limit int) ([]uint, error)
}

// Entitlement is the answer of EvaluateEntitlement. Record is the winning
// row when entitled, else the most recent row for display (or nil).
type Entitlement struct {
	IsEntitled bool                       `json:"is_entitled"`
	Record     *models.SubscriptionRecord `json:"record"`
}

// SweepResult summarises a reconciliation sweep.
type SweepResult struct {
	Users  int `json:"users"`
	Pruned int `json:"pruned"`
	Failed int `json:"failed"`
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	SubscriptionStatusActive            = "active"
	SubscriptionStatusTrialing          = "trialing"
	SubscriptionStatusPastDue           = "past_due"
	SubscriptionStatusCanceled          = "canceled"
	SubscriptionStatusIncomplete        = "incomplete"
	SubscriptionStatusIncompleteExpired = "incomplete_expired"
	SubscriptionStatusUnpaid            = "unpaid"
)

const (
	PlanTypeMonthly = "monthly"
	PlanTypeYearly  = "yearly"
)

// SubscriptionRecord is the local mirror of a processor subscription or a
// one-time purchase. ExternalSubscriptionRef is nil for one-time purchases;
// NULLs never collide on the unique index.
type SubscriptionRecord struct {
	ID                      string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID                  uint      `gorm:"not null;index:idx_subscription_records_user_created,priority:1" json:"user_id"`
	ExternalCustomerRef     *string   `gorm:"type:varchar(191);default:null" json:"external_customer_ref,omitempty"`
	ExternalSubscriptionRef *string   `gorm:"type:varchar(191);default:null;uniqueIndex" json:"external_subscription_ref,omitempty"`
	CheckoutSessionRef      *string   `gorm:"type:varchar(191);default:null;uniqueIndex" json:"checkout_session_ref,omitempty"`
	Status                  string    `gorm:"type:varchar(32);not null;index" json:"status" validate:"oneof=active trialing past_due canceled incomplete incomplete_expired unpaid"`
	PlanType                string    `gorm:"type:varchar(16);not null" json:"plan_type" validate:"oneof=monthly yearly"`
	PeriodStart             time.Time `gorm:"not null" json:"period_start"`
	PeriodEnd               time.Time `gorm:"not null" json:"period_end"`
	AutoRenews              bool      `gorm:"not null;default:false" json:"auto_renews"`
	CreatedAt               time.Time `gorm:"autoCreateTime;index:idx_subscription_records_user_created,priority:2" json:"created_at"`
	UpdatedAt               time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r *SubscriptionRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// IsOneTime reports whether the row represents a one-time purchase.
func (r *SubscriptionRecord) IsOneTime() bool {
	return r.ExternalSubscriptionRef == nil || *r.ExternalSubscriptionRef == ""
}

// ValidSubscriptionStatus reports whether s is one of the processor statuses.
func ValidSubscriptionStatus(s string) bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue,
		SubscriptionStatusCanceled, SubscriptionStatusIncomplete,
		SubscriptionStatusIncompleteExpired, SubscriptionStatusUnpaid:
		return true
	}
	return false
}

func ValidPlanType(p string) bool {
	return p == PlanTypeMonthly || p == PlanTypeYearly
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences p, treating nil as "".
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

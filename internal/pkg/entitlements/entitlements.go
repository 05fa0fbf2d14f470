package entitlements

import (
	"strings"
	"time"

	"github.com/ManuelReschke/ForumFox/app/models"
)

// IsEntitlingStatus reports whether a processor status grants access.
// past_due does not.
func IsEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.SubscriptionStatusActive, models.SubscriptionStatusTrialing:
		return true
	default:
		return false
	}
}

// IsAuthoritativeActive reports whether rec grants access at now.
func IsAuthoritativeActive(rec *models.SubscriptionRecord, now time.Time) bool {
	if rec == nil {
		return false
	}
	return IsEntitlingStatus(rec.Status) && rec.PeriodEnd.After(now)
}

// CanAccessPremium combines the admin bypass with the subscription state.
func CanAccessPremium(isAdmin, isEntitled bool) bool {
	return isAdmin || isEntitled
}

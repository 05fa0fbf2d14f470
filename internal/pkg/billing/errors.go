package billing

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrUnauthenticated      = errors.New("billing: no authenticated user")
	ErrSessionNotFound      = errors.New("billing: checkout session not found")
	ErrSessionIncomplete    = errors.New("billing: checkout session not complete")
	ErrNoSubscriptionFound  = errors.New("billing: no subscription found")
	ErrNoActiveSubscription = errors.New("billing: no active subscription")
	ErrProcessor            = errors.New("billing: payment processor error")
	ErrStore                = errors.New("billing: record store error")
	ErrDuplicateRecord      = errors.New("billing: duplicate record")
)

func wrapStore(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStore) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStore, err)
}

func wrapProcessor(err error) error {
	if err == nil {
		return nil
	}
	// sentinel results of the processor pass through untouched
	if errors.Is(err, ErrProcessor) || errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoSubscriptionFound) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrProcessor, err)
}

// IsRetryable reports whether err is transient (timeout, cancellation,
// network failure, processor 429/5xx) as opposed to a definitive answer.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

// APIError is a non-2xx answer of the payment processor.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("processor status=%d type=%s code=%s: %s", e.StatusCode, e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("processor status=%d type=%s: %s", e.StatusCode, e.Type, e.Message)
}

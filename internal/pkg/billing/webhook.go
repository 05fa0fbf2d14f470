package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	ProviderStripe = "stripe"

	// SignatureTolerance bounds the age of a signed webhook.
	SignatureTolerance = 5 * time.Minute
)

var ErrInvalidSignature = errors.New("billing: invalid webhook signature")

// VerifyStripeSignature checks a Stripe-Signature header ("t=..,v1=..")
// against payload. Any matching v1 signature is accepted.
func VerifyStripeSignature(payload []byte, header, secret string, now time.Time) error {
	secret = strings.TrimSpace(secret)
	if secret == "" || strings.TrimSpace(header) == "" {
		return ErrInvalidSignature
	}

	var (
		timestamp int64
		sigs      [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrInvalidSignature
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(v)
			if err == nil {
				sigs = append(sigs, sig)
			}
		}
	}
	if timestamp == 0 || len(sigs) == 0 {
		return ErrInvalidSignature
	}

	signedAt := time.Unix(timestamp, 0)
	if age := now.Sub(signedAt); age > SignatureTolerance || age < -SignatureTolerance {
		return ErrInvalidSignature
	}

	expected := ComputeStripeSignature(payload, timestamp, secret)
	for _, sig := range sigs {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// ComputeStripeSignature returns the raw HMAC-SHA256 of "timestamp.payload".
func ComputeStripeSignature(payload []byte, timestamp int64, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignatureHeader builds a header value for payload, as the processor would.
func SignatureHeader(payload []byte, timestamp int64, secret string) string {
	sig := ComputeStripeSignature(payload, timestamp, secret)
	return "t=" + strconv.FormatInt(timestamp, 10) + ",v1=" + hex.EncodeToString(sig)
}

// WebhookEvent is the part of a processor event the handler acts on.
type WebhookEvent struct {
	ID              string
	Type            string
	ObjectType      string
	SubscriptionRef string
	SessionRef      string
	SessionMode     string
	UserID          uint
}

// Event types that touch subscription state.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventSubscriptionCreated   = "customer.subscription.created"
	EventSubscriptionUpdated   = "customer.subscription.updated"
	EventSubscriptionDeleted   = "customer.subscription.deleted"
	EventInvoicePaid           = "invoice.paid"
	EventInvoicePaymentFailed  = "invoice.payment_failed"
)

// ParseWebhookEvent extracts the references of a processor event.
func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	if !gjson.ValidBytes(payload) {
		return nil, errors.New("webhook payload is not valid JSON")
	}
	res := gjson.ParseBytes(payload)
	obj := res.Get("data.object")
	ev := &WebhookEvent{
		ID:         res.Get("id").String(),
		Type:       res.Get("type").String(),
		ObjectType: obj.Get("object").String(),
	}
	if ev.Type == "" {
		return nil, errors.New("webhook payload without type")
	}

	switch ev.ObjectType {
	case "checkout.session":
		ev.SessionRef = obj.Get("id").String()
		ev.SessionMode = obj.Get("mode").String()
		ev.SubscriptionRef = expandableID(obj.Get("subscription"))
		ev.UserID = parseUserID(firstString(obj, "metadata."+MetadataUserID, "client_reference_id"))
	case "subscription":
		ev.SubscriptionRef = obj.Get("id").String()
		ev.UserID = parseUserID(obj.Get("metadata." + MetadataUserID).String())
	case "invoice":
		ev.SubscriptionRef = expandableID(obj.Get("subscription"))
		if ev.SubscriptionRef == "" {
			ev.SubscriptionRef = obj.Get("parent.subscription_details.subscription").String()
		}
	}
	return ev, nil
}

// Relevant reports whether the event may change a subscription record.
func (e *WebhookEvent) Relevant() bool {
	switch e.Type {
	case EventCheckoutCompleted, EventAsyncPaymentSucceeded:
		return e.SessionRef != ""
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventInvoicePaid, EventInvoicePaymentFailed:
		return e.SubscriptionRef != ""
	}
	return false
}

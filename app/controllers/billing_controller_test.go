package controllers

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ForumFox/app/models"
	"github.com/ManuelReschke/ForumFox/internal/pkg/billing"
	"github.com/ManuelReschke/ForumFox/internal/pkg/jobqueue"
)

func (h *harness) completeSubscriptionCheckout(userID uint, sessionRef, subRef string) {
	uid := strconv.Itoa(int(userID))
	now := time.Now().UTC().Truncate(time.Second)
	h.proc.mu.Lock()
	defer h.proc.mu.Unlock()
	h.proc.sessions[sessionRef] = &billing.CheckoutSession{
		ID:                sessionRef,
		Mode:              billing.SessionModeSubscription,
		Status:            billing.SessionStatusComplete,
		PaymentStatus:     "paid",
		CustomerRef:       "cus_" + uid,
		SubscriptionRef:   subRef,
		ClientReferenceID: uid,
		Metadata:          map[string]string{billing.MetadataUserID: uid, billing.MetadataPlanType: models.PlanTypeMonthly},
		CreatedAt:         now,
	}
	h.proc.subscriptions[subRef] = &billing.Subscription{
		ID:                 subRef,
		CustomerRef:        "cus_" + uid,
		Status:             models.SubscriptionStatusActive,
		Interval:           "month",
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		Metadata:           map[string]string{billing.MetadataUserID: uid},
	}
}

func (h *harness) postWebhook(payload []byte, signature string) *http.Response {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	return h.do(req, nil)
}

func (h *harness) completeOneTimeCheckout(userID uint, sessionRef, paymentStatus string) {
	uid := strconv.Itoa(int(userID))
	h.proc.mu.Lock()
	defer h.proc.mu.Unlock()
	h.proc.sessions[sessionRef] = &billing.CheckoutSession{
		ID:                sessionRef,
		Mode:              billing.SessionModePayment,
		Status:            billing.SessionStatusComplete,
		PaymentStatus:     paymentStatus,
		CustomerRef:       "cus_" + uid,
		ClientReferenceID: uid,
		Metadata:          map[string]string{billing.MetadataUserID: uid, billing.MetadataPlanType: models.PlanTypeYearly},
		CreatedAt:         time.Now().UTC().Truncate(time.Second),
	}
}

func (h *harness) signedWebhook(payload []byte) *http.Response {
	return h.postWebhook(payload, billing.SignatureHeader(payload, time.Now().Unix(), testWebhookSecret))
}

func checkoutEvent(eventID, eventType, sessionRef, mode string, userID uint) []byte {
	return []byte(`{"id":"` + eventID + `","type":"` + eventType + `","data":{"object":{"object":"checkout.session","id":"` +
		sessionRef + `","mode":"` + mode + `","subscription":null,"metadata":{"user_id":"` + strconv.Itoa(int(userID)) + `"}}}}`)
}

func subscriptionEvent(eventID, subRef string, userID uint) []byte {
	return []byte(`{"id":"` + eventID + `","type":"customer.subscription.updated","data":{"object":{"object":"subscription","id":"` +
		subRef + `","metadata":{"user_id":"` + strconv.Itoa(int(userID)) + `"}}}}`)
}

func mailsTo(h *harness, to string) int {
	n := 0
	for _, m := range h.sender.sent() {
		if m.To == to {
			n++
		}
	}
	return n
}

func TestBillingSuccessResolvesSession(t *testing.T) {
	h := newHarness(t)
	user := h.createUser("buyer", false)
	h.completeSubscriptionCheckout(user.ID, "cs_1", "sub_1")
	ck := h.login(user)

	resp := h.get("/billing/success?session_id=cs_1", ck)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode(t, resp)["is_entitled"])

	// reloading the success page does not duplicate the record
	resp = h.get("/billing/success?session_id=cs_1", ck)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, h.recordCount(user.ID))

	body := decode(t, h.get("/billing/status", ck))
	assert.Equal(t, true, body["is_entitled"])
}

func TestBillingSuccessRejectsForeignSession(t *testing.T) {
	h := newHarness(t)
	owner := h.createUser("owner", false)
	thief := h.createUser("thief", false)
	h.completeSubscriptionCheckout(owner.ID, "cs_1", "sub_1")

	resp := h.get("/billing/success?session_id=cs_1", h.login(thief))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.EqualValues(t, 0, h.recordCount(thief.ID))

	resp = h.get("/billing/success", h.login(owner))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBillingStatusPrunesDuplicates(t *testing.T) {
	h := newHarness(t)
	user := h.createUser("double", false)
	now := time.Now()
	h.addRecord(user.ID, models.SubscriptionStatusActive, now.Add(-time.Hour), "sub_old")
	newest := h.addRecord(user.ID, models.SubscriptionStatusActive, now, "sub_new")
	h.addRecord(user.ID, models.SubscriptionStatusCanceled, now.Add(-2*time.Hour), "sub_gone")

	body := decode(t, h.get("/billing/status", h.login(user)))
	assert.Equal(t, true, body["is_entitled"])
	record := body["record"].(map[string]interface{})
	assert.Equal(t, newest.ID, record["id"])
	// the losing active row is pruned, the canceled row stays
	assert.EqualValues(t, 2, h.recordCount(user.ID))
}

func TestBillingAutoRenewWithoutRecord(t *testing.T) {
	h := newHarness(t)
	user := h.createUser("nobody", false)

	resp := h.postForm("/billing/auto-renew", url.Values{"enabled": {"false"}}, h.login(user))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 0, h.proc.callCount())
}

func TestBillingAutoRenewUpdatesProcessor(t *testing.T) {
	h := newHarness(t)
	user := h.createUser("renewer", false)
	h.completeSubscriptionCheckout(user.ID, "cs_1", "sub_1")
	ck := h.login(user)
	require.Equal(t, http.StatusOK, h.get("/billing/success?session_id=cs_1", ck).StatusCode)

	resp := h.postForm("/billing/auto-renew", url.Values{"enabled": {"off"}}, ck)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode(t, resp)["auto_renews"])
	assert.True(t, h.proc.subscriptions["sub_1"].CancelAtPeriodEnd)
}

func TestBillingAutoRenewAcceptsJSONBooleans(t *testing.T) {
	h := newHarness(t)
	user := h.createUser("jsonclient", false)
	h.completeSubscriptionCheckout(user.ID, "cs_1", "sub_1")
	ck := h.login(user)
	require.Equal(t, http.StatusOK, h.get("/billing/success?session_id=cs_1", ck).StatusCode)

	resp := h.postJSON("/billing/auto-renew", map[string]interface{}{"enabled": false}, ck)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode(t, resp)["auto_renews"])
	assert.True(t, h.proc.subscriptions["sub_1"].CancelAtPeriodEnd)

	resp = h.postJSON("/billing/auto-renew", map[string]interface{}{"enabled": true}, ck)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode(t, resp)["auto_renews"])
	assert.False(t, h.proc.subscriptions["sub_1"].CancelAtPeriodEnd)

	resp = h.postJSON("/billing/auto-renew", map[string]interface{}{"enabled": "off"}, ck)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode(t, resp)["auto_renews"])

	resp = h.postJSON("/billing/auto-renew", map[string]interface{}{"enabled": map[string]bool{"on": true}}, ck)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBillingCancelRequiresActiveRecord(t *testing.T) {
	h := newHarness(t)
	user := h.createUser("late", false)
	h.addRecord(user.ID, models.SubscriptionStatusPastDue, time.Now(), "sub_due")

	resp := h.postForm("/billing/cancel", nil, h.login(user))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestBillingCheckoutValidatesPlan(t *testing.T) {
	h := newHarness(t)
	user := h.createUser("shopper", false)
	ck := h.login(user)

	resp := h.postForm("/billing/checkout", url.Values{"plan_type": {"weekly"}}, ck)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.postForm("/billing/checkout", url.Values{"plan_type": {"yearly"}}, ck)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://checkout.example/cs_new", decode(t, resp)["url"])
}

func TestBillingRequiresLogin(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusUnauthorized, h.get("/billing/status", nil).StatusCode)
}

func TestStripeWebhook(t *testing.T) {
	h := newHarness(t)
	user := h.createUser("subscriber", false)
	h.completeSubscriptionCheckout(user.ID, "cs_1", "sub_9")

	payload := []byte(`{"id":"evt_1","type":"customer.subscription.updated","data":{"object":{"object":"subscription","id":"sub_9","metadata":{"user_id":"` +
		strconv.Itoa(int(user.ID)) + `"}}}}`)
	signature := billing.SignatureHeader(payload, time.Now().Unix(), testWebhookSecret)

	resp := h.postWebhook(payload, "t=1,v1=deadbeef")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var stored int64
	require.NoError(t, h.db.Model(&models.BillingWebhookEvent{}).Count(&stored).Error)
	assert.EqualValues(t, 0, stored)

	resp = h.postWebhook(payload, signature)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "synced", decode(t, resp)["result"])
	assert.EqualValues(t, 1, h.recordCount(user.ID))

	resp = h.postWebhook(payload, signature)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode(t, resp)["duplicate"])
	assert.EqualValues(t, 1, h.recordCount(user.ID))
}

func TestStripeWebhookIgnoresUnrelatedEvents(t *testing.T) {
	h := newHarness(t)
	payload := []byte(`{"id":"evt_2","type":"customer.created","data":{"object":{"object":"customer","id":"cus_1"}}}`)

	resp := h.postWebhook(payload, billing.SignatureHeader(payload, time.Now().Unix(), testWebhookSecret))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode(t, resp)["ignored"])
	assert.Equal(t, 0, h.proc.callCount())
}

func TestStripeWebhookResolvesOneTimeCheckout(t *testing.T) {
	h := newHarness(t)
	user := h.createUser("oncebuyer", false)
	h.completeOneTimeCheckout(user.ID, "cs_once", "paid")
	payload := checkoutEvent("evt_once", billing.EventCheckoutCompleted, "cs_once", billing.SessionModePayment, user.ID)

	resp := h.signedWebhook(payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "resolved", decode(t, resp)["result"])
	assert.EqualValues(t, 1, h.recordCount(user.ID))
	assert.Equal(t, 1, mailsTo(h, user.Email))

	// the success page afterwards finds the same row
	resp = h.get("/billing/success?session_id=cs_once", h.login(user))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, h.recordCount(user.ID))
}

func TestStripeWebhookConfirmsAsyncPaymentOnlyWhenPaid(t *testing.T) {
	h := newHarness(t)
	user := h.createUser("async", false)
	h.completeOneTimeCheckout(user.ID, "cs_async", "unpaid")

	resp := h.signedWebhook(checkoutEvent("evt_a1", billing.EventCheckoutCompleted, "cs_async", billing.SessionModePayment, user.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ignored", decode(t, resp)["result"])
	assert.EqualValues(t, 0, h.recordCount(user.ID))
	assert.Equal(t, 0, mailsTo(h, user.Email))

	h.proc.mu.Lock()
	h.proc.sessions["cs_async"].PaymentStatus = "paid"
	h.proc.mu.Unlock()

	resp = h.signedWebhook(checkoutEvent("evt_a2", billing.EventAsyncPaymentSucceeded, "cs_async", billing.SessionModePayment, user.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "resolved", decode(t, resp)["result"])
	assert.EqualValues(t, 1, h.recordCount(user.ID))
	assert.Equal(t, 1, mailsTo(h, user.Email))
}

func TestStripeWebhookReprocessesFailedDelivery(t *testing.T) {
	h := newHarness(t)
	user := h.createUser("retry", false)
	h.completeSubscriptionCheckout(user.ID, "cs_1", "sub_r")
	payload := subscriptionEvent("evt_retry", "sub_r", user.ID)

	h.proc.failSubscriptions(errors.New("processor unavailable"))
	resp := h.signedWebhook(payload)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "processing_failed", decode(t, resp)["error"])
	assert.EqualValues(t, 0, h.recordCount(user.ID))

	var event models.BillingWebhookEvent
	require.NoError(t, h.db.Where("provider_event_id = ?", "evt_retry").First(&event).Error)
	assert.NotEmpty(t, event.ProcessingError)
	assert.False(t, event.IsProcessed())

	h.proc.failSubscriptions(nil)
	resp = h.signedWebhook(payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "synced", body["result"])
	assert.Nil(t, body["duplicate"])
	assert.EqualValues(t, 1, h.recordCount(user.ID))

	require.NoError(t, h.db.Where("provider_event_id = ?", "evt_retry").First(&event).Error)
	assert.True(t, event.IsProcessed())

	// once processed, a further redelivery is only acknowledged
	resp = h.signedWebhook(payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode(t, resp)["duplicate"])
}

func TestStripeWebhookQueuesSubscriptionSync(t *testing.T) {
	queue := &recordingQueue{}
	h := newHarness(t, func(s *Services) { s.Queue = queue })
	user := h.createUser("queued", false)
	h.completeSubscriptionCheckout(user.ID, "cs_q", "sub_q")

	resp := h.signedWebhook(subscriptionEvent("evt_q", "sub_q", user.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "queued", decode(t, resp)["result"])
	assert.Equal(t, 0, h.proc.callCount())
	assert.EqualValues(t, 0, h.recordCount(user.ID))

	jobs := queue.enqueued()
	require.Len(t, jobs, 1)
	assert.Equal(t, jobqueue.JobTypeReconcileSubscription, jobs[0].Type)
	payload, err := jobqueue.ReconcileSubscriptionJobPayloadFromMap(jobs[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "sub_q", payload.ExternalSubscriptionRef)
	assert.Equal(t, user.ID, payload.UserID)
	// subscription updates are not purchase confirmations
	assert.Equal(t, 0, mailsTo(h, user.Email))
}

func TestAdminEndpoints(t *testing.T) {
	h := newHarness(t)
	admin := h.createUser("admin", true)
	user := h.createUser("member", false)
	now := time.Now()
	h.addRecord(user.ID, models.SubscriptionStatusActive, now.Add(-time.Hour), "sub_a")
	h.addRecord(user.ID, models.SubscriptionStatusActive, now, "sub_b")
	topic := h.createTopic(user, "to be removed", false, false)
	ck := h.login(admin)

	resp := h.get("/admin/", h.login(user))
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	body := decode(t, h.get("/admin/", ck))
	assert.EqualValues(t, 2, body["users"])
	assert.EqualValues(t, 1, body["topics"])

	body = decode(t, h.get("/admin/users?q=memb", ck))
	assert.Len(t, body["users"], 1)

	// viewing records does not prune
	path := "/admin/subscriptions/" + strconv.Itoa(int(user.ID))
	body = decode(t, h.get(path, ck))
	assert.Len(t, body["records"], 2)
	assert.EqualValues(t, 2, h.recordCount(user.ID))

	// records without a processor subscription fail to sync but still prune
	resp = h.postForm(path+"/reconcile", nil, ck)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decode(t, resp)
	assert.Equal(t, true, body["is_entitled"])
	assert.Len(t, body["sync_errors"], 2)
	assert.EqualValues(t, 1, h.recordCount(user.ID))

	resp = h.postForm("/admin/topics/"+strconv.Itoa(int(topic.ID))+"/delete", nil, ck)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, err := h.repos.Topic.GetByID(topic.ID)
	assert.Error(t, err)
}

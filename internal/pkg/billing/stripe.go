package billing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// StripeClient talks to the Stripe REST API with form-encoded requests.
type StripeClient struct {
	SecretKey  string
	APIBaseURL string

	HTTPClient *http.Client
	limiter    *rate.Limiter
}

func NewStripeClient(cfg Config) *StripeClient {
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	base := cfg.APIBaseURL
	if base == "" {
		base = defaultStripeAPIBaseURL
	}
	return &StripeClient{
		SecretKey:  cfg.SecretKey,
		APIBaseURL: strings.TrimRight(base, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, max(cfg.RateLimit, 1)),
	}
}

func (c *StripeClient) GetCheckoutSession(ctx context.Context, sessionRef string) (*CheckoutSession, error) {
	body, err := c.do(ctx, "get_checkout_session", http.MethodGet, "/checkout/sessions/"+url.PathEscape(sessionRef), nil)
	if err != nil {
		if isMissing(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return parseCheckoutSession(body), nil
}

func (c *StripeClient) GetSubscription(ctx context.Context, subscriptionRef string) (*Subscription, error) {
	body, err := c.do(ctx, "get_subscription", http.MethodGet, "/subscriptions/"+url.PathEscape(subscriptionRef), nil)
	if err != nil {
		if isMissing(err) {
			return nil, ErrNoSubscriptionFound
		}
		return nil, err
	}
	return parseSubscription(body), nil
}

func (c *StripeClient) UpdateSubscription(ctx context.Context, subscriptionRef string, upd SubscriptionUpdate) (*Subscription, error) {
	form := url.Values{}
	form.Set("cancel_at_period_end", strconv.FormatBool(upd.CancelAtPeriodEnd))
	body, err := c.do(ctx, "update_subscription", http.MethodPost, "/subscriptions/"+url.PathEscape(subscriptionRef), form)
	if err != nil {
		if isMissing(err) {
			return nil, ErrNoSubscriptionFound
		}
		return nil, err
	}
	return parseSubscription(body), nil
}

func (c *StripeClient) CreateBillingPortalSession(ctx context.Context, customerRef, returnURL string) (string, error) {
	form := url.Values{}
	form.Set("customer", customerRef)
	if returnURL != "" {
		form.Set("return_url", returnURL)
	}
	body, err := c.do(ctx, "create_portal_session", http.MethodPost, "/billing_portal/sessions", form)
	if err != nil {
		return "", err
	}
	portalURL := gjson.GetBytes(body, "url").String()
	if portalURL == "" {
		return "", errors.New("portal session response without url")
	}
	return portalURL, nil
}

func (c *StripeClient) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	userID := strconv.FormatUint(uint64(req.UserID), 10)

	form := url.Values{}
	form.Set("mode", req.Mode)
	form.Set("line_items[0][price]", req.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", req.SuccessURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("client_reference_id", userID)
	form.Set("metadata["+MetadataUserID+"]", userID)
	form.Set("metadata["+MetadataPlanType+"]", req.PlanType)
	switch {
	case req.CustomerRef != "":
		form.Set("customer", req.CustomerRef)
	case req.CustomerEmail != "":
		form.Set("customer_email", req.CustomerEmail)
	}
	if req.Mode == SessionModeSubscription {
		form.Set("subscription_data[metadata]["+MetadataUserID+"]", userID)
		form.Set("subscription_data[metadata]["+MetadataPlanType+"]", req.PlanType)
	} else if req.CustomerRef == "" {
		form.Set("customer_creation", "always")
	}

	body, err := c.do(ctx, "create_checkout_session", http.MethodPost, "/checkout/sessions", form)
	if err != nil {
		return nil, err
	}
	return parseCheckoutSession(body), nil
}

func (c *StripeClient) do(ctx context.Context, call, method, path string, form url.Values) (body []byte, err error) {
	start := time.Now()
	defer func() { observeProcessorCall(call, start, err) }()

	if strings.TrimSpace(c.SecretKey) == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if form != nil {
		reader = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ = io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Type:       gjson.GetBytes(body, "error.type").String(),
			Code:       gjson.GetBytes(body, "error.code").String(),
			Message:    gjson.GetBytes(body, "error.message").String(),
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}
	return body, nil
}

func isMissing(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound || apiErr.Code == "resource_missing"
}

func parseCheckoutSession(body []byte) *CheckoutSession {
	res := gjson.ParseBytes(body)
	s := &CheckoutSession{
		ID:                res.Get("id").String(),
		Mode:              res.Get("mode").String(),
		Status:            res.Get("status").String(),
		PaymentStatus:     res.Get("payment_status").String(),
		CustomerRef:       expandableID(res.Get("customer")),
		SubscriptionRef:   expandableID(res.Get("subscription")),
		ClientReferenceID: res.Get("client_reference_id").String(),
		Metadata:          stringMap(res.Get("metadata")),
		URL:               res.Get("url").String(),
	}
	if created := res.Get("created").Int(); created > 0 {
		s.CreatedAt = time.Unix(created, 0).UTC()
	}
	return s
}

func parseSubscription(body []byte) *Subscription {
	res := gjson.ParseBytes(body)
	sub := &Subscription{
		ID:                res.Get("id").String(),
		CustomerRef:       expandableID(res.Get("customer")),
		Status:            res.Get("status").String(),
		CancelAtPeriodEnd: res.Get("cancel_at_period_end").Bool(),
		Metadata:          stringMap(res.Get("metadata")),
	}

	// Newer API versions moved period bounds onto the subscription items.
	start := firstInt(res, "current_period_start", "items.data.0.current_period_start")
	end := firstInt(res, "current_period_end", "items.data.0.current_period_end")
	if start > 0 {
		sub.CurrentPeriodStart = time.Unix(start, 0).UTC()
	}
	if end > 0 {
		sub.CurrentPeriodEnd = time.Unix(end, 0).UTC()
	}
	sub.Interval = firstString(res, "items.data.0.price.recurring.interval", "plan.interval")
	return sub
}

func expandableID(v gjson.Result) string {
	if v.IsObject() {
		return v.Get("id").String()
	}
	return v.String()
}

func stringMap(v gjson.Result) map[string]string {
	out := map[string]string{}
	v.ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = value.String()
		return true
	})
	return out
}

func firstInt(res gjson.Result, paths ...string) int64 {
	for _, p := range paths {
		if v := res.Get(p); v.Exists() && v.Int() > 0 {
			return v.Int()
		}
	}
	return 0
}

func firstString(res gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := res.Get(p).String(); v != "" {
			return v
		}
	}
	return ""
}

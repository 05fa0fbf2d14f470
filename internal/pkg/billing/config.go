package billing

import (
	"strings"
	"time"

	"github.com/ManuelReschke/ForumFox/app/models"
	"github.com/ManuelReschke/ForumFox/internal/pkg/env"
)

const (
	defaultStripeAPIBaseURL = "https://api.stripe.com/v1"
	defaultRequestTimeout   = 10 * time.Second
	defaultRateLimit        = 20 // requests per second
	defaultSweepCron        = "*/15 * * * *"
	defaultSweepLimit       = 500
)

// Config is the billing configuration read from the environment.
type Config struct {
	SecretKey      string
	WebhookSecret  string
	PriceMonthly   string
	PriceYearly    string
	APIBaseURL     string
	OneTime        bool
	RequestTimeout time.Duration
	RateLimit      int
	SweepCron      string
	SweepLimit     int
	PublicDomain   string
}

func LoadConfig() Config {
	return Config{
		SecretKey:      strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		WebhookSecret:  strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
		PriceMonthly:   strings.TrimSpace(env.GetEnv("STRIPE_PRICE_MONTHLY", "")),
		PriceYearly:    strings.TrimSpace(env.GetEnv("STRIPE_PRICE_YEARLY", "")),
		APIBaseURL:     strings.TrimRight(strings.TrimSpace(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL)), "/"),
		OneTime:        env.GetEnvBool("BILLING_ONE_TIME", false),
		RequestTimeout: env.GetEnvDuration("BILLING_REQUEST_TIMEOUT", defaultRequestTimeout),
		RateLimit:      env.GetEnvInt("BILLING_RATE_LIMIT", defaultRateLimit),
		SweepCron:      strings.TrimSpace(env.GetEnv("BILLING_SWEEP_CRON", defaultSweepCron)),
		SweepLimit:     env.GetEnvInt("BILLING_SWEEP_LIMIT", defaultSweepLimit),
		PublicDomain:   strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", "http://localhost:8080"), "/"),
	}
}

// Enabled reports whether a processor key is configured.
func (c Config) Enabled() bool {
	return c.SecretKey != ""
}

// PriceFor returns the configured price for a plan type.
func (c Config) PriceFor(planType string) string {
	switch planType {
	case models.PlanTypeYearly:
		return c.PriceYearly
	case models.PlanTypeMonthly:
		return c.PriceMonthly
	default:
		return ""
	}
}

// CheckoutMode is "payment" for one-time purchases, else "subscription".
func (c Config) CheckoutMode() string {
	if c.OneTime {
		return SessionModePayment
	}
	return SessionModeSubscription
}

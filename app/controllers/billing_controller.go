package controllers

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/ManuelReschke/ForumFox/internal/pkg/billing"
	"github.com/ManuelReschke/ForumFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/ForumFox/internal/pkg/notify"
)

type checkoutForm struct {
	PlanType string `json:"plan_type" form:"plan_type" validate:"required,oneof=monthly yearly"`
}

type autoRenewForm struct {
	Enabled flag `json:"enabled" form:"enabled"`
}

// flag is a form value that JSON clients may also send as a boolean or number.
type flag string

func (f *flag) UnmarshalJSON(b []byte) error {
	v := gjson.ParseBytes(b)
	switch v.Type {
	case gjson.True, gjson.False, gjson.Number, gjson.String:
		*f = flag(v.String())
	case gjson.Null:
		*f = ""
	default:
		return fmt.Errorf("invalid flag value %s", b)
	}
	return nil
}

// BillingController exposes the reconciler to the signed-in user.
type BillingController struct {
	reconciler *billing.Reconciler
	cfg        billing.Config
	gate       *entitlements.Gate
	notifier   *notify.Notifier
	log        *zap.Logger
}

func NewBillingController(s Services) *BillingController {
	return &BillingController{
		reconciler: s.Reconciler,
		cfg:        s.BillingConfig,
		gate:       s.Gate,
		notifier:   s.Notifier,
		log:        s.logger("billing"),
	}
}

func (bc *BillingController) statusURL() string {
	return bc.cfg.PublicDomain + "/billing/status"
}

// HandleStatus evaluates the user's entitlement. Evaluation also prunes
// concurrent duplicates.
func (bc *BillingController) HandleStatus(c *fiber.Ctx) error {
	uc := currentUser(c)
	ctx, cancel := requestContext(c, bc.cfg.RequestTimeout)
	defer cancel()

	ent, err := bc.reconciler.EvaluateEntitlement(ctx, uc.UserID)
	if err != nil {
		return billingError(c, err)
	}
	bc.gate.Invalidate(ctx, uc.UserID)

	return c.JSON(fiber.Map{
		"is_entitled":      ent.IsEntitled,
		"record":           ent.Record,
		"checkout_enabled": bc.cfg.Enabled(),
		"one_time":         bc.cfg.OneTime,
	})
}

// HandleCheckout starts a hosted checkout and returns its URL.
func (bc *BillingController) HandleCheckout(c *fiber.Ctx) error {
	uc := currentUser(c)

	var form checkoutForm
	if err := c.BodyParser(&form); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "invalid request body")
	}
	form.PlanType = strings.ToLower(strings.TrimSpace(form.PlanType))
	if err := validate.Struct(form); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_plan", "plan_type must be monthly or yearly")
	}
	if !bc.cfg.Enabled() {
		return jsonError(c, fiber.StatusServiceUnavailable, "billing_disabled", "billing is not configured")
	}

	ctx, cancel := requestContext(c, bc.cfg.RequestTimeout)
	defer cancel()

	url, err := bc.reconciler.StartCheckout(ctx, billing.CheckoutInput{
		UserID:     uc.UserID,
		Email:      uc.Email,
		PlanType:   form.PlanType,
		SuccessURL: bc.cfg.PublicDomain + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  bc.statusURL(),
	})
	if err != nil {
		bc.log.Warn("checkout failed", zap.Uint("user_id", uc.UserID), zap.Error(err))
		return billingError(c, err)
	}
	return c.JSON(fiber.Map{"url": url})
}

// HandleSuccess resolves the checkout session the processor redirected back
// with. Reloading the page is safe.
func (bc *BillingController) HandleSuccess(c *fiber.Ctx) error {
	uc := currentUser(c)
	sessionRef := strings.TrimSpace(c.Query("session_id"))
	if sessionRef == "" {
		return jsonError(c, fiber.StatusBadRequest, "missing_session", "session_id is required")
	}

	ctx, cancel := requestContext(c, bc.cfg.RequestTimeout)
	defer cancel()

	rec, err := bc.reconciler.ResolveSessionCompletion(ctx, uc.UserID, sessionRef)
	if err != nil {
		bc.log.Warn("session completion failed", zap.Uint("user_id", uc.UserID),
			zap.String("session", sessionRef), zap.Error(err))
		return billingError(c, err)
	}
	bc.gate.Invalidate(ctx, uc.UserID)

	ent, err := bc.reconciler.EvaluateEntitlement(ctx, uc.UserID)
	if err != nil {
		return billingError(c, err)
	}
	return c.JSON(fiber.Map{"record": rec, "is_entitled": ent.IsEntitled})
}

// HandleAutoRenew switches renewal on or off. The local record is updated
// even when the processor call fails.
func (bc *BillingController) HandleAutoRenew(c *fiber.Ctx) error {
	uc := currentUser(c)

	var form autoRenewForm
	if err := c.BodyParser(&form); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "invalid request body")
	}
	desired := truthy(string(form.Enabled))

	ctx, cancel := requestContext(c, bc.cfg.RequestTimeout)
	defer cancel()

	rec, err := bc.reconciler.SetAutoRenew(ctx, uc.UserID, desired)
	bc.gate.Invalidate(ctx, uc.UserID)
	if err != nil {
		return billingError(c, err)
	}
	bc.notifyBilling(c, uc.UserID, notify.BillingAutoRenewChanged)
	return c.JSON(fiber.Map{"record": rec, "auto_renews": rec.AutoRenews})
}

// HandleCancel stops renewal of the active subscription at period end.
func (bc *BillingController) HandleCancel(c *fiber.Ctx) error {
	uc := currentUser(c)
	ctx, cancel := requestContext(c, bc.cfg.RequestTimeout)
	defer cancel()

	rec, err := bc.reconciler.CancelAtPeriodEnd(ctx, uc.UserID)
	bc.gate.Invalidate(ctx, uc.UserID)
	if err != nil {
		return billingError(c, err)
	}
	bc.notifyBilling(c, uc.UserID, notify.BillingCancelled)
	return c.JSON(fiber.Map{"record": rec})
}

// HandlePortal returns the processor's self-service portal URL.
func (bc *BillingController) HandlePortal(c *fiber.Ctx) error {
	uc := currentUser(c)
	ctx, cancel := requestContext(c, bc.cfg.RequestTimeout)
	defer cancel()

	url, err := bc.reconciler.CreatePortalSession(ctx, uc.UserID, bc.statusURL())
	if err != nil {
		return billingError(c, err)
	}
	return c.JSON(fiber.Map{"url": url})
}

func (bc *BillingController) notifyBilling(c *fiber.Ctx, userID uint, event string) {
	if bc.notifier == nil {
		return
	}
	if err := bc.notifier.BillingChanged(c.UserContext(), userID, event); err != nil {
		bc.log.Warn("billing notification failed", zap.Uint("user_id", userID), zap.String("event", event), zap.Error(err))
	}
}

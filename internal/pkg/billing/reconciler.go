package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ManuelReschke/ForumFox/app/models"
	"github.com/ManuelReschke/ForumFox/internal/pkg/entitlements"
)

var ErrInvalidPlan = errors.New("billing: invalid plan type")

// ChangeHook is called after a user's records were written or pruned.
type ChangeHook func(ctx context.Context, userID uint)

// Reconciler keeps local subscription records consistent with the payment
// processor. It holds no mutable state; concurrent calls converge through
// the store's unique constraints.
type Reconciler struct {
	store     RecordStore
	processor PaymentProcessor
	cfg       Config
	log       *zap.Logger
	now       func() time.Time
	onChange  ChangeHook
}

type Option func(*Reconciler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func WithChangeHook(h ChangeHook) Option {
	return func(r *Reconciler) { r.onChange = h }
}

func WithConfig(cfg Config) Option {
	return func(r *Reconciler) { r.cfg = cfg }
}

func NewReconciler(store RecordStore, processor PaymentProcessor, log *zap.Logger, opts ...Option) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Reconciler{
		store:     store,
		processor: processor,
		log:       log.Named("billing"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveSessionCompletion mirrors a completed checkout session into the
// local store and returns the resulting record.
func (r *Reconciler) ResolveSessionCompletion(ctx context.Context, userID uint, sessionRef string) (rec *models.SubscriptionRecord, err error) {
	defer func() { observeOperation("resolve_session", err) }()

	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	sessionRef = strings.TrimSpace(sessionRef)
	if sessionRef == "" {
		return nil, ErrSessionNotFound
	}

	session, err := r.processor.GetCheckoutSession(ctx, sessionRef)
	if err != nil {
		r.log.Warn("fetch checkout session failed", zap.String("session", sessionRef), zap.Error(err))
		return nil, wrapProcessor(err)
	}
	if !sessionBelongsTo(session, userID) {
		r.log.Warn("checkout session owned by another user",
			zap.String("session", sessionRef), zap.Uint("user_id", userID))
		return nil, ErrSessionNotFound
	}
	if session.Status != SessionStatusComplete {
		return nil, ErrSessionIncomplete
	}

	switch session.Mode {
	case SessionModeSubscription:
		return r.resolveSubscriptionSession(ctx, userID, session)
	case SessionModePayment:
		return r.resolveOneTimeSession(ctx, userID, session)
	default:
		return nil, fmt.Errorf("%w: unsupported checkout mode %q", ErrProcessor, session.Mode)
	}
}

func (r *Reconciler) resolveSubscriptionSession(ctx context.Context, userID uint, session *CheckoutSession) (*models.SubscriptionRecord, error) {
	if session.SubscriptionRef == "" {
		return nil, fmt.Errorf("%w: subscription session %s without subscription", ErrProcessor, session.ID)
	}
	sub, err := r.processor.GetSubscription(ctx, session.SubscriptionRef)
	if err != nil {
		r.log.Warn("fetch subscription failed", zap.String("subscription", session.SubscriptionRef), zap.Error(err))
		return nil, wrapProcessor(err)
	}
	if sub.CustomerRef == "" {
		sub.CustomerRef = session.CustomerRef
	}
	planType := planTypeFor(session.Metadata[MetadataPlanType], sub.Interval)
	return r.mirrorSubscription(ctx, userID, sub, planType, session.ID)
}

func (r *Reconciler) resolveOneTimeSession(ctx context.Context, userID uint, session *CheckoutSession) (*models.SubscriptionRecord, error) {
	if session.PaymentStatus == PaymentStatusUnpaid {
		return nil, ErrSessionIncomplete
	}

	existing, err := r.first(ctx, RecordFilter{CheckoutSessionRef: session.ID, Limit: 1})
	if err != nil {
		return nil, r.storeFailure("lookup one-time record", userID, err)
	}
	if existing != nil {
		if existing.UserID != userID {
			return nil, ErrSessionNotFound
		}
		return existing, nil
	}

	planType := planTypeFor(session.Metadata[MetadataPlanType], "")
	if planType == "" {
		planType = models.PlanTypeMonthly
	}
	now := r.now()
	start := session.CreatedAt
	if start.IsZero() {
		start = now
	}
	sessionID := session.ID
	rec := &models.SubscriptionRecord{
		UserID:              userID,
		ExternalCustomerRef: models.StringPtr(session.CustomerRef),
		CheckoutSessionRef:  &sessionID,
		Status:              models.SubscriptionStatusActive,
		PlanType:            planType,
		PeriodStart:         start,
		PeriodEnd:           PeriodEnd(start, planType),
		AutoRenews:          false,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	err = r.store.Insert(ctx, rec)
	if errors.Is(err, ErrDuplicateRecord) {
		// a concurrent completion of the same session won
		winner, ferr := r.first(ctx, RecordFilter{CheckoutSessionRef: session.ID, Limit: 1})
		if ferr != nil || winner == nil {
			return nil, r.storeFailure("refetch one-time record", userID, errors.Join(err, ferr))
		}
		return winner, nil
	}
	if err != nil {
		return nil, r.storeFailure("insert one-time record", userID, err)
	}

	r.log.Info("one-time purchase recorded",
		zap.Uint("user_id", userID), zap.String("record", rec.ID),
		zap.String("plan", planType), zap.Time("period_end", rec.PeriodEnd))
	r.changed(ctx, userID)
	return rec, nil
}

// mirrorSubscription updates the row holding sub.ID in place or inserts a
// new one. A lost insert race updates the winner's row instead.
func (r *Reconciler) mirrorSubscription(ctx context.Context, userID uint, sub *Subscription, planType, checkoutRef string) (*models.SubscriptionRecord, error) {
	existing, err := r.first(ctx, RecordFilter{ExternalSubscriptionRef: sub.ID, Limit: 1})
	if err != nil {
		return nil, r.storeFailure("lookup subscription record", userID, err)
	}
	if existing != nil {
		if existing.UserID != userID {
			r.log.Warn("subscription owned by another user",
				zap.Uint("user_id", userID), zap.Uint("owner_id", existing.UserID), zap.String("subscription", sub.ID))
			return nil, ErrSessionNotFound
		}
		return r.applySubscription(ctx, existing, sub, planType)
	}

	if planType == "" {
		planType = models.PlanTypeMonthly
	}
	now := r.now()
	subID := sub.ID
	rec := &models.SubscriptionRecord{
		UserID:                  userID,
		ExternalCustomerRef:     models.StringPtr(sub.CustomerRef),
		ExternalSubscriptionRef: &subID,
		CheckoutSessionRef:      models.StringPtr(checkoutRef),
		Status:                  sub.Status,
		PlanType:                planType,
		PeriodStart:             sub.CurrentPeriodStart,
		PeriodEnd:               sub.CurrentPeriodEnd,
		AutoRenews:              autoRenews(sub),
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	err = r.store.Insert(ctx, rec)
	if errors.Is(err, ErrDuplicateRecord) {
		winner, ferr := r.first(ctx, RecordFilter{ExternalSubscriptionRef: sub.ID, Limit: 1})
		if ferr != nil || winner == nil {
			return nil, r.storeFailure("refetch subscription record", userID, errors.Join(err, ferr))
		}
		if winner.UserID != userID {
			return nil, ErrSessionNotFound
		}
		return r.applySubscription(ctx, winner, sub, planType)
	}
	if err != nil {
		return nil, r.storeFailure("insert subscription record", userID, err)
	}

	r.log.Info("subscription recorded",
		zap.Uint("user_id", userID), zap.String("record", rec.ID),
		zap.String("subscription", sub.ID), zap.String("status", sub.Status))
	r.changed(ctx, userID)
	return rec, nil
}

func (r *Reconciler) applySubscription(ctx context.Context, rec *models.SubscriptionRecord, sub *Subscription, planType string) (*models.SubscriptionRecord, error) {
	if planType == "" {
		planType = rec.PlanType
	}
	status := sub.Status
	renews := autoRenews(sub)
	patch := RecordPatch{
		Status:      &status,
		PlanType:    &planType,
		PeriodStart: &sub.CurrentPeriodStart,
		PeriodEnd:   &sub.CurrentPeriodEnd,
		AutoRenews:  &renews,
		UpdatedAt:   r.now(),
	}
	if sub.CustomerRef != "" {
		customer := sub.CustomerRef
		patch.ExternalCustomerRef = &customer
	}

	if err := r.store.Update(ctx, rec.ID, patch); err != nil {
		return nil, r.storeFailure("update subscription record", rec.UserID, err)
	}
	patch.Apply(rec)

	r.log.Info("subscription updated",
		zap.Uint("user_id", rec.UserID), zap.String("record", rec.ID),
		zap.String("subscription", sub.ID), zap.String("status", status))
	r.changed(ctx, rec.UserID)
	return rec, nil
}

// EvaluateEntitlement decides whether the user currently has access. When
// several rows are authoritative-active the most recently created one wins
// and the other winners are pruned; non-winning rows are never touched.
func (r *Reconciler) EvaluateEntitlement(ctx context.Context, userID uint) (*Entitlement, error) {
	ent, _, err := r.evaluate(ctx, userID)
	observeOperation("evaluate", err)
	return ent, err
}

// IsEntitled is EvaluateEntitlement reduced to the access decision.
func (r *Reconciler) IsEntitled(ctx context.Context, userID uint) (bool, error) {
	ent, err := r.EvaluateEntitlement(ctx, userID)
	if err != nil {
		return false, err
	}
	return ent.IsEntitled, nil
}

func (r *Reconciler) evaluate(ctx context.Context, userID uint) (*Entitlement, int, error) {
	if userID == 0 {
		return nil, 0, ErrUnauthenticated
	}
	records, err := r.store.Query(ctx, RecordFilter{UserID: userID})
	if err != nil {
		return nil, 0, r.storeFailure("query records", userID, err)
	}
	if len(records) == 0 {
		return &Entitlement{}, 0, nil
	}
	sortNewestFirst(records)

	now := r.now()
	var winners []int
	for i := range records {
		if entitlements.IsAuthoritativeActive(&records[i], now) {
			winners = append(winners, i)
		}
	}
	if len(winners) == 0 {
		latest := records[0]
		return &Entitlement{IsEntitled: false, Record: &latest}, 0, nil
	}

	keep := records[winners[0]]
	pruned := 0
	if len(winners) > 1 {
		losers := make([]string, 0, len(winners)-1)
		for _, i := range winners[1:] {
			losers = append(losers, records[i].ID)
		}
		n, err := r.PruneDuplicates(ctx, userID, keep.ID, losers)
		if err != nil {
			r.log.Warn("prune duplicate subscriptions failed",
				zap.Uint("user_id", userID), zap.String("keep", keep.ID), zap.Error(err))
		} else if n > 0 {
			r.log.Info("pruned duplicate subscriptions",
				zap.Uint("user_id", userID), zap.String("keep", keep.ID), zap.Int("deleted", n))
		}
		pruned = n
	}
	return &Entitlement{IsEntitled: true, Record: &keep}, pruned, nil
}

// PruneDuplicates deletes the user's records listed in ids, or all of the
// user's records when ids is empty. keepID is never deleted. Missing ids
// are skipped. It returns the number of deleted rows.
func (r *Reconciler) PruneDuplicates(ctx context.Context, userID uint, keepID string, ids []string) (int, error) {
	if userID == 0 {
		return 0, ErrUnauthenticated
	}
	if len(ids) == 0 {
		if keepID == "" {
			return 0, errors.New("billing: prune of all records requires a record to keep")
		}
		records, err := r.store.Query(ctx, RecordFilter{UserID: userID})
		if err != nil {
			return 0, r.storeFailure("query records for prune", userID, err)
		}
		for _, rec := range records {
			ids = append(ids, rec.ID)
		}
	}

	seen := make(map[string]struct{}, len(ids))
	deleted := 0
	var errs []error
	for _, id := range ids {
		if id == "" || id == keepID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		n, err := r.store.Delete(ctx, userID, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
			continue
		}
		deleted += int(n)
	}

	if deleted > 0 {
		prunedTotal.Add(float64(deleted))
		r.changed(ctx, userID)
	}
	if len(errs) > 0 {
		return deleted, wrapStore(errors.Join(errs...))
	}
	return deleted, nil
}

// SetAutoRenew records the desired renewal flag on the user's latest
// record and forwards it to the processor when the record is a recurring
// subscription. The local write happens even when the processor call fails.
func (r *Reconciler) SetAutoRenew(ctx context.Context, userID uint, desired bool) (rec *models.SubscriptionRecord, err error) {
	defer func() { observeOperation("set_auto_renew", err) }()

	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	latest, err := r.latest(ctx, userID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, ErrNoSubscriptionFound
	}
	return r.applyAutoRenew(ctx, latest, desired)
}

// CancelAtPeriodEnd stops renewal of the user's latest record, which must be active.
func (r *Reconciler) CancelAtPeriodEnd(ctx context.Context, userID uint) (rec *models.SubscriptionRecord, err error) {
	defer func() { observeOperation("cancel_at_period_end", err) }()

	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	latest, err := r.latest(ctx, userID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, ErrNoSubscriptionFound
	}
	if latest.Status != models.SubscriptionStatusActive {
		return nil, ErrNoActiveSubscription
	}
	return r.applyAutoRenew(ctx, latest, false)
}

func (r *Reconciler) applyAutoRenew(ctx context.Context, rec *models.SubscriptionRecord, desired bool) (*models.SubscriptionRecord, error) {
	var procErr error
	if ref := models.StringValue(rec.ExternalSubscriptionRef); ref != "" {
		_, procErr = r.processor.UpdateSubscription(ctx, ref, SubscriptionUpdate{CancelAtPeriodEnd: !desired})
		if procErr != nil {
			procErr = wrapProcessor(procErr)
			r.log.Warn("processor renewal update failed",
				zap.Uint("user_id", rec.UserID), zap.String("subscription", ref), zap.Error(procErr))
		}
	}

	patch := RecordPatch{AutoRenews: &desired, UpdatedAt: r.now()}
	storeErr := r.store.Update(ctx, rec.ID, patch)
	if storeErr != nil {
		storeErr = r.storeFailure("update auto renew", rec.UserID, storeErr)
	} else {
		patch.Apply(rec)
		r.changed(ctx, rec.UserID)
	}

	switch {
	case procErr != nil && storeErr != nil:
		return nil, errors.Join(procErr, storeErr)
	case storeErr != nil:
		return nil, storeErr
	case procErr != nil:
		return rec, procErr
	}
	r.log.Info("auto renew updated",
		zap.Uint("user_id", rec.UserID), zap.String("record", rec.ID), zap.Bool("auto_renews", desired))
	return rec, nil
}

// SyncSubscription re-reads a subscription from the processor, mirrors it
// locally and re-evaluates the owner's entitlement. Used by webhooks, so
// delivery order of processor events does not matter.
func (r *Reconciler) SyncSubscription(ctx context.Context, subscriptionRef string) (rec *models.SubscriptionRecord, err error) {
	defer func() { observeOperation("sync_subscription", err) }()

	subscriptionRef = strings.TrimSpace(subscriptionRef)
	if subscriptionRef == "" {
		return nil, ErrNoSubscriptionFound
	}
	sub, err := r.processor.GetSubscription(ctx, subscriptionRef)
	if err != nil {
		return nil, wrapProcessor(err)
	}

	existing, err := r.first(ctx, RecordFilter{ExternalSubscriptionRef: sub.ID, Limit: 1})
	if err != nil {
		return nil, r.storeFailure("lookup subscription record", 0, err)
	}
	planType := planTypeFor(sub.Metadata[MetadataPlanType], sub.Interval)

	if existing != nil {
		rec, err = r.applySubscription(ctx, existing, sub, planType)
	} else {
		userID := parseUserID(sub.Metadata[MetadataUserID])
		if userID == 0 {
			r.log.Info("subscription without local owner ignored", zap.String("subscription", sub.ID))
			return nil, ErrNoSubscriptionFound
		}
		rec, err = r.mirrorSubscription(ctx, userID, sub, planType, "")
	}
	if err != nil {
		return nil, err
	}

	if _, _, eerr := r.evaluate(ctx, rec.UserID); eerr != nil {
		r.log.Warn("post-sync evaluation failed", zap.Uint("user_id", rec.UserID), zap.Error(eerr))
	}
	return rec, nil
}

// CreatePortalSession returns a processor-hosted page where the user can
// manage payment methods and invoices.
func (r *Reconciler) CreatePortalSession(ctx context.Context, userID uint, returnURL string) (string, error) {
	if userID == 0 {
		return "", ErrUnauthenticated
	}
	customer, err := r.customerRef(ctx, userID)
	if err != nil {
		return "", err
	}
	if customer == "" {
		return "", ErrNoSubscriptionFound
	}
	url, err := r.processor.CreateBillingPortalSession(ctx, customer, returnURL)
	if err != nil {
		r.log.Warn("create portal session failed", zap.Uint("user_id", userID), zap.Error(err))
		return "", wrapProcessor(err)
	}
	return url, nil
}

// CheckoutInput describes a checkout started by a signed-in user.
type CheckoutInput struct {
	UserID     uint
	Email      string
	PlanType   string
	SuccessURL string
	CancelURL  string
}

// StartCheckout creates a hosted checkout session and returns its URL.
func (r *Reconciler) StartCheckout(ctx context.Context, in CheckoutInput) (url string, err error) {
	defer func() { observeOperation("start_checkout", err) }()

	if in.UserID == 0 {
		return "", ErrUnauthenticated
	}
	if !models.ValidPlanType(in.PlanType) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPlan, in.PlanType)
	}
	price := r.cfg.PriceFor(in.PlanType)
	if price == "" {
		return "", fmt.Errorf("%w: no price configured for %s", ErrInvalidPlan, in.PlanType)
	}
	customer, err := r.customerRef(ctx, in.UserID)
	if err != nil {
		return "", err
	}

	session, err := r.processor.CreateCheckoutSession(ctx, CheckoutRequest{
		UserID:        in.UserID,
		CustomerEmail: in.Email,
		CustomerRef:   customer,
		PlanType:      in.PlanType,
		Mode:          r.cfg.CheckoutMode(),
		PriceID:       price,
		SuccessURL:    in.SuccessURL,
		CancelURL:     in.CancelURL,
	})
	if err != nil {
		return "", wrapProcessor(err)
	}
	if session.URL == "" {
		return "", fmt.Errorf("%w: checkout session %s without url", ErrProcessor, session.ID)
	}
	r.log.Info("checkout started", zap.Uint("user_id", in.UserID), zap.String("session", session.ID),
		zap.String("plan", in.PlanType), zap.String("mode", r.cfg.CheckoutMode()))
	return session.URL, nil
}

// SweepUsers evaluates every user holding more than one record so duplicate
// cleanup happens without client polling.
func (r *Reconciler) SweepUsers(ctx context.Context, limit int) (SweepResult, error) {
	var res SweepResult
	ids, err := r.store.UsersWithMultipleRecords(ctx, limit)
	if err != nil {
		observeOperation("sweep", err)
		return res, r.storeFailure("list users for sweep", 0, err)
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		_, pruned, err := r.evaluate(ctx, id)
		res.Users++
		if err != nil {
			res.Failed++
			r.log.Warn("sweep evaluation failed", zap.Uint("user_id", id), zap.Error(err))
			continue
		}
		res.Pruned += pruned
	}
	observeOperation("sweep", nil)
	if res.Pruned > 0 || res.Failed > 0 {
		r.log.Info("reconciliation sweep finished",
			zap.Int("users", res.Users), zap.Int("pruned", res.Pruned), zap.Int("failed", res.Failed))
	}
	return res, nil
}

// Records lists all records of a user, newest first.
func (r *Reconciler) Records(ctx context.Context, userID uint) ([]models.SubscriptionRecord, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	records, err := r.store.Query(ctx, RecordFilter{UserID: userID})
	if err != nil {
		return nil, wrapStore(err)
	}
	sortNewestFirst(records)
	return records, nil
}

func (r *Reconciler) latest(ctx context.Context, userID uint) (*models.SubscriptionRecord, error) {
	records, err := r.store.Query(ctx, RecordFilter{UserID: userID})
	if err != nil {
		return nil, r.storeFailure("query latest record", userID, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	sortNewestFirst(records)
	latest := records[0]
	return &latest, nil
}

func (r *Reconciler) customerRef(ctx context.Context, userID uint) (string, error) {
	records, err := r.store.Query(ctx, RecordFilter{UserID: userID})
	if err != nil {
		return "", r.storeFailure("query customer", userID, err)
	}
	sortNewestFirst(records)
	for _, rec := range records {
		if c := models.StringValue(rec.ExternalCustomerRef); c != "" {
			return c, nil
		}
	}
	return "", nil
}

func (r *Reconciler) first(ctx context.Context, filter RecordFilter) (*models.SubscriptionRecord, error) {
	records, err := r.store.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	rec := records[0]
	return &rec, nil
}

func (r *Reconciler) storeFailure(action string, userID uint, err error) error {
	r.log.Error("billing store failure", zap.String("action", action), zap.Uint("user_id", userID), zap.Error(err))
	return wrapStore(err)
}

func (r *Reconciler) changed(ctx context.Context, userID uint) {
	if r.onChange != nil && userID != 0 {
		r.onChange(ctx, userID)
	}
}

// sortNewestFirst orders by created_at desc with the id as tie-break.
func sortNewestFirst(records []models.SubscriptionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID > records[j].ID
	})
}

func sessionBelongsTo(s *CheckoutSession, userID uint) bool {
	want := strconv.FormatUint(uint64(userID), 10)
	if owner := strings.TrimSpace(s.Metadata[MetadataUserID]); owner != "" && owner != want {
		return false
	}
	if ref := strings.TrimSpace(s.ClientReferenceID); ref != "" && ref != want {
		return false
	}
	return true
}

// planTypeFor prefers an explicit plan type and falls back to the billing interval.
func planTypeFor(explicit, interval string) string {
	switch strings.ToLower(strings.TrimSpace(explicit)) {
	case models.PlanTypeMonthly:
		return models.PlanTypeMonthly
	case models.PlanTypeYearly:
		return models.PlanTypeYearly
	}
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case "month":
		return models.PlanTypeMonthly
	case "year":
		return models.PlanTypeYearly
	}
	return ""
}

func autoRenews(sub *Subscription) bool {
	if sub.CancelAtPeriodEnd {
		return false
	}
	switch sub.Status {
	case models.SubscriptionStatusCanceled, models.SubscriptionStatusIncompleteExpired:
		return false
	}
	return true
}

func parseUserID(raw string) uint {
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return uint(n)
}

package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ManuelReschke/ForumFox/app/models"
)

// memStore is an in-memory RecordStore enforcing the same unique
// constraints as the SQL schema.
type memStore struct {
	mu      sync.Mutex
	rows    map[string]models.SubscriptionRecord
	inserts int
	updates int
	deletes []string

	failQuery  error
	failInsert error
	failUpdate error
	failDelete error
}

func newMemStore(rows ...models.SubscriptionRecord) *memStore {
	s := &memStore{rows: map[string]models.SubscriptionRecord{}}
	for _, r := range rows {
		s.rows[r.ID] = r
	}
	return s
}

func (s *memStore) Insert(_ context.Context, rec *models.SubscriptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsert != nil {
		return s.failInsert
	}
	for _, r := range s.rows {
		if rec.ExternalSubscriptionRef != nil && r.ExternalSubscriptionRef != nil &&
			*rec.ExternalSubscriptionRef == *r.ExternalSubscriptionRef {
			return fmt.Errorf("%w: external_subscription_ref", ErrDuplicateRecord)
		}
		if rec.CheckoutSessionRef != nil && r.CheckoutSessionRef != nil &&
			*rec.CheckoutSessionRef == *r.CheckoutSessionRef {
			return fmt.Errorf("%w: checkout_session_ref", ErrDuplicateRecord)
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.rows[rec.ID] = *rec
	s.inserts++
	return nil
}

func (s *memStore) Update(_ context.Context, id string, patch RecordPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate != nil {
		return s.failUpdate
	}
	r, ok := s.rows[id]
	if !ok {
		return nil
	}
	patch.Apply(&r)
	s.rows[id] = r
	s.updates++
	return nil
}

func (s *memStore) Delete(_ context.Context, userID uint, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete != nil {
		return 0, s.failDelete
	}
	r, ok := s.rows[id]
	if !ok || r.UserID != userID {
		return 0, nil
	}
	delete(s.rows, id)
	s.deletes = append(s.deletes, id)
	return 1, nil
}

func (s *memStore) Query(_ context.Context, f RecordFilter) ([]models.SubscriptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failQuery != nil {
		return nil, s.failQuery
	}
	if f.empty() {
		return nil, errors.New("record query without criteria")
	}
	var out []models.SubscriptionRecord
	for _, r := range s.rows {
		if f.UserID != 0 && r.UserID != f.UserID {
			continue
		}
		if f.ExternalSubscriptionRef != "" && models.StringValue(r.ExternalSubscriptionRef) != f.ExternalSubscriptionRef {
			continue
		}
		if f.CheckoutSessionRef != "" && models.StringValue(r.CheckoutSessionRef) != f.CheckoutSessionRef {
			continue
		}
		out = append(out, r)
	}
	sortNewestFirst(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memStore) UsersWithMultipleRecords(_ context.Context, limit int) ([]uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[uint]int{}
	for _, r := range s.rows {
		counts[r.UserID]++
	}
	var ids []uint
	for id, n := range counts {
		if n > 1 {
			ids = append(ids, id)
		}
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *memStore) count(userID uint) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rows {
		if r.UserID == userID {
			n++
		}
	}
	return n
}

func (s *memStore) get(id string) (models.SubscriptionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	return r, ok
}

// fakeProcessor records every call and serves canned objects.
type fakeProcessor struct {
	mu            sync.Mutex
	sessions      map[string]*CheckoutSession
	subscriptions map[string]*Subscription
	calls         []string
	updates       []SubscriptionUpdate
	checkouts     []CheckoutRequest

	updateErr   error
	portalURL   string
	checkoutURL string
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		sessions:      map[string]*CheckoutSession{},
		subscriptions: map[string]*Subscription{},
		portalURL:     "https://billing.example/portal",
		checkoutURL:   "https://checkout.example/cs_new",
	}
}

func (p *fakeProcessor) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakeProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakeProcessor) GetCheckoutSession(_ context.Context, ref string) (*CheckoutSession, error) {
	p.record("GetCheckoutSession")
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[ref]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (p *fakeProcessor) GetSubscription(_ context.Context, ref string) (*Subscription, error) {
	p.record("GetSubscription")
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.subscriptions[ref]
	if !ok {
		return nil, ErrNoSubscriptionFound
	}
	cp := *s
	return &cp, nil
}

func (p *fakeProcessor) UpdateSubscription(_ context.Context, ref string, upd SubscriptionUpdate) (*Subscription, error) {
	p.record("UpdateSubscription")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, upd)
	if p.updateErr != nil {
		return nil, p.updateErr
	}
	s, ok := p.subscriptions[ref]
	if !ok {
		return nil, ErrNoSubscriptionFound
	}
	s.CancelAtPeriodEnd = upd.CancelAtPeriodEnd
	cp := *s
	return &cp, nil
}

func (p *fakeProcessor) CreateBillingPortalSession(_ context.Context, customerRef, returnURL string) (string, error) {
	p.record("CreateBillingPortalSession")
	return p.portalURL + "?customer=" + customerRef, nil
}

func (p *fakeProcessor) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	p.record("CreateCheckoutSession")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkouts = append(p.checkouts, req)
	return &CheckoutSession{ID: "cs_new", Mode: req.Mode, Status: SessionStatusOpen, URL: p.checkoutURL}, nil
}

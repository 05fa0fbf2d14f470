package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/ForumFox/app/models"
	"github.com/ManuelReschke/ForumFox/app/repository"
	"github.com/ManuelReschke/ForumFox/internal/pkg/billing"
	"github.com/ManuelReschke/ForumFox/internal/pkg/database"
	"github.com/ManuelReschke/ForumFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/ForumFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/ForumFox/internal/pkg/mail"
	"github.com/ManuelReschke/ForumFox/internal/pkg/middleware"
	"github.com/ManuelReschke/ForumFox/internal/pkg/notify"
	"github.com/ManuelReschke/ForumFox/internal/pkg/session"
	"github.com/ManuelReschke/ForumFox/internal/pkg/storage"
	"github.com/ManuelReschke/ForumFox/internal/pkg/usercontext"
)

const testWebhookSecret = "whsec_test"

type fakeProcessor struct {
	mu            sync.Mutex
	sessions      map[string]*billing.CheckoutSession
	subscriptions map[string]*billing.Subscription
	calls         int

	subscriptionErr error
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		sessions:      map[string]*billing.CheckoutSession{},
		subscriptions: map[string]*billing.Subscription{},
	}
}

func (p *fakeProcessor) GetCheckoutSession(_ context.Context, ref string) (*billing.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	s, ok := p.sessions[ref]
	if !ok {
		return nil, billing.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (p *fakeProcessor) GetSubscription(_ context.Context, ref string) (*billing.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.subscriptionErr != nil {
		return nil, p.subscriptionErr
	}
	s, ok := p.subscriptions[ref]
	if !ok {
		return nil, billing.ErrNoSubscriptionFound
	}
	cp := *s
	return &cp, nil
}

func (p *fakeProcessor) failSubscriptions(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptionErr = err
}

func (p *fakeProcessor) UpdateSubscription(_ context.Context, ref string, upd billing.SubscriptionUpdate) (*billing.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	s, ok := p.subscriptions[ref]
	if !ok {
		return nil, billing.ErrNoSubscriptionFound
	}
	s.CancelAtPeriodEnd = upd.CancelAtPeriodEnd
	cp := *s
	return &cp, nil
}

func (p *fakeProcessor) CreateBillingPortalSession(_ context.Context, customerRef, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return "https://billing.example/portal/" + customerRef, nil
}

func (p *fakeProcessor) CreateCheckoutSession(_ context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return &billing.CheckoutSession{ID: "cs_new", Mode: req.Mode, Status: billing.SessionStatusOpen, URL: "https://checkout.example/cs_new"}, nil
}

func (p *fakeProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []mail.Message
}

func (s *recordingSender) Send(_ context.Context, msg mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSender) sent() []mail.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mail.Message(nil), s.msgs...)
}

type harness struct {
	t      *testing.T
	db     *gorm.DB
	repos  *repository.Repositories
	proc   *fakeProcessor
	sender *recordingSender
	store  *storage.MemoryStore
	app    *fiber.App
}

// recordingQueue is a jobqueue.Enqueuer that keeps jobs in memory.
type recordingQueue struct {
	mu   sync.Mutex
	jobs []*jobqueue.Job
}

func (q *recordingQueue) EnqueueJob(_ context.Context, jobType jobqueue.JobType, payload map[string]interface{}) (*jobqueue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job := &jobqueue.Job{ID: strconv.Itoa(len(q.jobs) + 1), Type: jobType, Status: jobqueue.JobStatusPending, Payload: payload}
	q.jobs = append(q.jobs, job)
	return job, nil
}

func (q *recordingQueue) enqueued() []*jobqueue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*jobqueue.Job(nil), q.jobs...)
}

func newHarness(t *testing.T, opts ...func(*Services)) *harness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(database.AllModels()...))

	h := &harness{
		t:      t,
		db:     db,
		repos:  repository.NewRepositories(db),
		proc:   newFakeProcessor(),
		sender: &recordingSender{},
		store:  storage.NewMemoryStore("http://cdn.test"),
	}

	cfg := billing.Config{
		SecretKey:      "sk_test",
		WebhookSecret:  testWebhookSecret,
		PriceMonthly:   "price_monthly",
		PriceYearly:    "price_yearly",
		RequestTimeout: 5 * time.Second,
		PublicDomain:   "http://forum.test",
	}
	reconciler := billing.NewReconciler(billing.NewStore(db), h.proc, zap.NewNop(), billing.WithConfig(cfg))
	gate := entitlements.NewGate(reconciler, nil, nil)

	s := Services{
		Repos:          h.repos,
		Reconciler:     reconciler,
		BillingConfig:  cfg,
		Events:         billing.NewEventStore(db),
		Gate:           gate,
		Notifier:       notify.New(h.repos.User, h.repos.Notification, h.sender, cfg.PublicDomain, nil),
		Storage:        h.store,
		MaxUploadBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(&s)
	}
	Initialize(s)

	session.SetSessionStore(session.NewStore(nil))
	app := fiber.New()
	app.Get("/test/login/:id", func(c *fiber.Ctx) error {
		id, _ := c.ParamsInt("id")
		sess, err := session.GetSessionStore().Get(c)
		if err != nil {
			return err
		}
		sess.Set(usercontext.KeyUserID, uint(id))
		return sess.Save()
	})
	app.Use(middleware.NewUserContext(h.repos.User.GetByID))

	auth := middleware.RequireAPISessionAuth
	app.Post("/login", HandleAuthLogin)
	app.Post("/logout", HandleAuthLogout)
	app.Get("/topics", HandleTopicList)
	app.Get("/topics/premium", middleware.RequireEntitlement(gate), HandleTopicPremiumList)
	app.Get("/topics/:id", HandleTopicShow)
	app.Post("/topics", auth, HandleTopicCreate)
	app.Post("/topics/:id/comments", auth, HandleCommentCreate)
	app.Post("/topics/:id/accept/:commentId", auth, HandleAcceptAnswer)
	app.Post("/topics/:id/attachments", auth, HandleAttachmentUpload)
	app.Post("/user/avatar", auth, HandleUserAvatar)
	app.Get("/user/notifications", auth, HandleUserNotifications)
	app.Post("/user/notifications/:id/read", auth, HandleUserNotificationRead)
	app.Post("/user/settings/notifications", auth, HandleUserNotificationSettings)
	app.Get("/billing/status", auth, HandleBillingStatus)
	app.Post("/billing/checkout", auth, HandleBillingCheckout)
	app.Get("/billing/success", auth, HandleBillingSuccess)
	app.Post("/billing/auto-renew", auth, HandleBillingAutoRenew)
	app.Post("/billing/cancel", auth, HandleBillingCancel)
	app.Post("/billing/portal", auth, HandleBillingPortal)
	app.Post("/webhooks/stripe", HandleStripeWebhook)
	admin := app.Group("/admin", middleware.RequireAdmin)
	admin.Get("/", HandleAdminDashboard)
	admin.Get("/users", HandleAdminUsers)
	admin.Get("/subscriptions/:userId", HandleAdminSubscriptions)
	admin.Post("/subscriptions/:userId/reconcile", HandleAdminReconcile)
	admin.Post("/topics/:id/delete", HandleAdminTopicDelete)
	h.app = app
	return h
}

func (h *harness) createUser(name string, admin bool) *models.User {
	h.t.Helper()
	u, err := models.CreateUser(name, name+"@example.com", "secret123", admin)
	require.NoError(h.t, err)
	require.NoError(h.t, h.repos.User.Create(u))
	return u
}

func (h *harness) createTopic(owner *models.User, title string, premium, question bool) *models.Topic {
	h.t.Helper()
	topic := &models.Topic{
		UserID:     owner.ID,
		Title:      title,
		Body:       "body of " + title,
		Category:   models.CategoryGeneral,
		IsPremium:  premium,
		IsQuestion: question,
	}
	require.NoError(h.t, h.repos.Topic.Create(topic))
	return topic
}

func (h *harness) addRecord(userID uint, status string, created time.Time, ref string) *models.SubscriptionRecord {
	h.t.Helper()
	rec := &models.SubscriptionRecord{
		UserID:                  userID,
		ExternalSubscriptionRef: models.StringPtr(ref),
		ExternalCustomerRef:     models.StringPtr("cus_" + strconv.Itoa(int(userID))),
		Status:                  status,
		PlanType:                models.PlanTypeMonthly,
		PeriodStart:             created,
		PeriodEnd:               created.AddDate(0, 1, 0),
		AutoRenews:              true,
		CreatedAt:               created,
		UpdatedAt:               created,
	}
	require.NoError(h.t, h.db.Create(rec).Error)
	return rec
}

func (h *harness) recordCount(userID uint) int64 {
	h.t.Helper()
	var n int64
	require.NoError(h.t, h.db.Model(&models.SubscriptionRecord{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

// login returns the session cookie of a signed-in user.
func (h *harness) login(u *models.User) *http.Cookie {
	h.t.Helper()
	resp, err := h.app.Test(httptest.NewRequest(http.MethodGet, "/test/login/"+strconv.Itoa(int(u.ID)), nil))
	require.NoError(h.t, err)
	for _, ck := range resp.Cookies() {
		if ck.Name == "session_id" {
			return ck
		}
	}
	h.t.Fatal("no session cookie")
	return nil
}

func (h *harness) do(req *http.Request, ck *http.Cookie) *http.Response {
	h.t.Helper()
	if ck != nil {
		req.AddCookie(ck)
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(h.t, err)
	return resp
}

func (h *harness) get(path string, ck *http.Cookie) *http.Response {
	return h.do(httptest.NewRequest(http.MethodGet, path, nil), ck)
}

func (h *harness) postForm(path string, form url.Values, ck *http.Cookie) *http.Response {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return h.do(req, ck)
}

func (h *harness) postJSON(path string, body interface{}, ck *http.Cookie) *http.Response {
	h.t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(h.t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return h.do(req, ck)
}

func (h *harness) postFile(path, field, filename string, content []byte, ck *http.Cookie) *http.Response {
	h.t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(h.t, err)
	_, err = part.Write(content)
	require.NoError(h.t, err)
	require.NoError(h.t, w.Close())
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return h.do(req, ck)
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/ForumFox/app/models"
)

func openSQLite(t *testing.T) *gorm.DB {
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

	require.NoError(t, db.AutoMigrate(&models.SubscriptionRecord{}, &models.BillingWebhookEvent{}))
	return db
}

func TestGormStoreInsertQueryOrder(t *testing.T) {
	store := NewStore(openSQLite(t))
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"r-1", "r-2", "r-3"} {
		rec := &models.SubscriptionRecord{
			ID:          id,
			UserID:      1,
			Status:      models.SubscriptionStatusActive,
			PlanType:    models.PlanTypeMonthly,
			PeriodStart: base,
			PeriodEnd:   base.AddDate(0, 1, 0),
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, store.Insert(ctx, rec))
	}

	rows, err := store.Query(ctx, RecordFilter{UserID: 1})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "r-3", rows[0].ID)
	assert.Equal(t, "r-1", rows[2].ID)

	limited, err := store.Query(ctx, RecordFilter{UserID: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "r-3", limited[0].ID)

	_, err = store.Query(ctx, RecordFilter{})
	assert.Error(t, err)
}

func TestGormStoreUniqueSubscriptionRef(t *testing.T) {
	store := NewStore(openSQLite(t))
	ctx := context.Background()
	ref := "sub_1"

	first := &models.SubscriptionRecord{UserID: 1, ExternalSubscriptionRef: &ref, Status: "active", PlanType: "monthly"}
	require.NoError(t, store.Insert(ctx, first))
	assert.NotEmpty(t, first.ID)

	dup := &models.SubscriptionRecord{UserID: 1, ExternalSubscriptionRef: &ref, Status: "active", PlanType: "monthly"}
	err := store.Insert(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateRecord)

	// one-time rows carry NULL refs and never collide
	for i := 0; i < 2; i++ {
		require.NoError(t, store.Insert(ctx, &models.SubscriptionRecord{UserID: 1, Status: "active", PlanType: "yearly"}))
	}

	rows, err := store.Query(ctx, RecordFilter{ExternalSubscriptionRef: ref})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestGormStoreUpdateDelete(t *testing.T) {
	store := NewStore(openSQLite(t))
	ctx := context.Background()

	rec := &models.SubscriptionRecord{UserID: 2, Status: "incomplete", PlanType: "monthly"}
	require.NoError(t, store.Insert(ctx, rec))

	status := "active"
	renews := true
	customer := "cus_9"
	when := time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Update(ctx, rec.ID, RecordPatch{
		Status:              &status,
		AutoRenews:          &renews,
		ExternalCustomerRef: &customer,
		UpdatedAt:           when,
	}))

	rows, err := store.Query(ctx, RecordFilter{UserID: 2})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "active", rows[0].Status)
	assert.True(t, rows[0].AutoRenews)
	assert.Equal(t, "cus_9", models.StringValue(rows[0].ExternalCustomerRef))
	assert.True(t, rows[0].UpdatedAt.Equal(when))

	n, err := store.Delete(ctx, 999, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "delete is scoped to the owner")

	n, err = store.Delete(ctx, 2, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Delete(ctx, 2, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestGormStoreUsersWithMultipleRecords(t *testing.T) {
	store := NewStore(openSQLite(t))
	ctx := context.Background()
	for _, uid := range []uint{1, 1, 2, 3, 3, 3} {
		require.NoError(t, store.Insert(ctx, &models.SubscriptionRecord{UserID: uid, Status: "active", PlanType: "monthly"}))
	}

	ids, err := store.UsersWithMultipleRecords(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 3}, ids)

	ids, err = store.UsersWithMultipleRecords(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, ids)
}

func TestReconcilerAgainstSQLite(t *testing.T) {
	db := openSQLite(t)
	proc := newFakeProcessor()
	proc.sessions["cs_1"] = subscriptionSession("cs_1", "sub_1", "1")
	proc.subscriptions["sub_1"] = activeSubscription("sub_1")
	r := newTestReconciler(NewStore(db), proc)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := r.ResolveSessionCompletion(ctx, 1, "cs_1")
		require.NoError(t, err)
	}
	var count int64
	require.NoError(t, db.Model(&models.SubscriptionRecord{}).Where("user_id = ?", 1).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	ent, err := r.EvaluateEntitlement(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ent.IsEntitled)
}

func openMock(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return db, mock
}

func TestGormStoreMapsMySQLDuplicateEntry(t *testing.T) {
	db, mock := openMock(t)
	mock.ExpectExec("INSERT INTO `subscription_records`").
		WillReturnError(errors.New("Error 1062 (23000): Duplicate entry 'sub_1' for key 'external_subscription_ref'"))

	ref := "sub_1"
	err := NewStore(db).Insert(context.Background(), &models.SubscriptionRecord{UserID: 1, ExternalSubscriptionRef: &ref})
	assert.ErrorIs(t, err, ErrDuplicateRecord)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreQueryFailureSurfacesThroughReconciler(t *testing.T) {
	db, mock := openMock(t)
	mock.ExpectQuery("SELECT \\* FROM `subscription_records`").
		WillReturnError(errors.New("connection reset by peer"))

	r := newTestReconciler(NewStore(db), newFakeProcessor())
	_, err := r.EvaluateEntitlement(context.Background(), 1)
	assert.ErrorIs(t, err, ErrStore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStoreIsIdempotent(t *testing.T) {
	events := NewEventStore(openSQLite(t))
	ctx := context.Background()
	in := WebhookEventInput{Provider: "Stripe", ProviderEventID: "evt_1", EventType: "invoice.paid", PayloadJSON: `{}`, SignatureValid: true}

	created, ev, err := RecordWebhookEvent(ctx, events, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "stripe", ev.Provider)

	created, again, err := RecordWebhookEvent(ctx, events, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, ev.ID, again.ID)

	require.NoError(t, MarkWebhookProcessed(ctx, events, ev.ID, nil))
	_, stored, err := RecordWebhookEvent(ctx, events, in)
	require.NoError(t, err)
	assert.True(t, stored.IsProcessed())

	_, hashed, err := RecordWebhookEvent(ctx, events, WebhookEventInput{Provider: "stripe", PayloadJSON: `{"a":1}`})
	require.NoError(t, err)
	assert.Contains(t, hashed.ProviderEventID, "hash:")
}

package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/ManuelReschke/ForumFox/app/models"
)

type gormStore struct {
	db *gorm.DB
}

// NewStore creates a record store backed by GORM.
func NewStore(db *gorm.DB) RecordStore {
	return &gormStore{db: db}
}

func (s *gormStore) Insert(ctx context.Context, rec *models.SubscriptionRecord) error {
	err := s.db.WithContext(ctx).Create(rec).Error
	if err != nil && isDuplicateKey(err) {
		return fmt.Errorf("%w: %w", ErrDuplicateRecord, err)
	}
	return err
}

func (s *gormStore) Update(ctx context.Context, id string, patch RecordPatch) error {
	if id == "" {
		return errors.New("record id is required")
	}
	updates := map[string]interface{}{}
	if patch.Status != nil {
		updates["status"] = *patch.Status
	}
	if patch.PlanType != nil {
		updates["plan_type"] = *patch.PlanType
	}
	if patch.ExternalCustomerRef != nil {
		updates["external_customer_ref"] = *patch.ExternalCustomerRef
	}
	if patch.PeriodStart != nil {
		updates["period_start"] = *patch.PeriodStart
	}
	if patch.PeriodEnd != nil {
		updates["period_end"] = *patch.PeriodEnd
	}
	if patch.AutoRenews != nil {
		updates["auto_renews"] = *patch.AutoRenews
	}
	if !patch.UpdatedAt.IsZero() {
		updates["updated_at"] = patch.UpdatedAt
	}
	if len(updates) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.SubscriptionRecord{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (s *gormStore) Delete(ctx context.Context, userID uint, id string) (int64, error) {
	tx := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.SubscriptionRecord{})
	return tx.RowsAffected, tx.Error
}

func (s *gormStore) Query(ctx context.Context, filter RecordFilter) ([]models.SubscriptionRecord, error) {
	if filter.empty() {
		return nil, errors.New("record query without criteria")
	}
	q := s.db.WithContext(ctx).Model(&models.SubscriptionRecord{})
	if filter.UserID != 0 {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.ExternalSubscriptionRef != "" {
		q = q.Where("external_subscription_ref = ?", filter.ExternalSubscriptionRef)
	}
	if filter.CheckoutSessionRef != "" {
		q = q.Where("checkout_session_ref = ?", filter.CheckoutSessionRef)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var records []models.SubscriptionRecord
	err := q.Order("created_at DESC").Order("id DESC").Find(&records).Error
	return records, err
}

func (s *gormStore) UsersWithMultipleRecords(ctx context.Context, limit int) ([]uint, error) {
	q := s.db.WithContext(ctx).
		Model(&models.SubscriptionRecord{}).
		Select("user_id").
		Group("user_id").
		Having("COUNT(*) > ?", 1).
		Order("user_id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ids []uint
	err := q.Pluck("user_id", &ids).Error
	return ids, err
}

// isDuplicateKey recognises unique violations with or without TranslateError.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "unique constraint failed")
}

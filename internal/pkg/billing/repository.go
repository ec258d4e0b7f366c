package billing

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pharmalink/pharmalink/app/models"
)

// Repository provides DB operations used by the checkout service.
type Repository interface {
	CreateSession(ctx context.Context, s *models.CheckoutSession) error
	GetSession(ctx context.Context, id string) (*models.CheckoutSession, error)
	LockSession(ctx context.Context, id string) (*models.CheckoutSession, error)
	TransitionSession(ctx context.Context, id string, from, to models.SessionStatus, extra map[string]interface{}) (bool, error)
	CancelOwnedSession(ctx context.Context, id string, accountID uint) (bool, error)
	MarkGranted(ctx context.Context, id string, accountID uint, at time.Time) error
	RecordAttempt(ctx context.Context, id string, lastError string) error
	ExpireStaleSessions(ctx context.Context, now time.Time) (int64, error)
	ListUngranted(ctx context.Context, limit int) ([]models.CheckoutSession, error)
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
	ReplaceWebhookPayload(ctx context.Context, event *models.PaymentWebhookEvent) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a checkout repository backed by GORM. Pass a transaction
// handle to scope every call to it.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateSession(ctx context.Context, s *models.CheckoutSession) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *gormRepository) GetSession(ctx context.Context, id string) (*models.CheckoutSession, error) {
	var s models.CheckoutSession
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) LockSession(ctx context.Context, id string) (*models.CheckoutSession, error) {
	var s models.CheckoutSession
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// TransitionSession moves a session from one status to another only if it is still
// in the expected status. It reports whether this call won the transition.
func (r *gormRepository) TransitionSession(ctx context.Context, id string, from, to models.SessionStatus, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).Model(&models.CheckoutSession{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) CancelOwnedSession(ctx context.Context, id string, accountID uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.CheckoutSession{}).
		Where("id = ? AND account_id = ? AND status = ?", id, accountID, models.SessionStatusOpen).
		Update("status", models.SessionStatusCanceled)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) MarkGranted(ctx context.Context, id string, accountID uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.CheckoutSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"account_id": accountID,
			"granted_at": at,
			"last_error": "",
		}).Error
}

func (r *gormRepository) RecordAttempt(ctx context.Context, id string, lastError string) error {
	return r.db.WithContext(ctx).Model(&models.CheckoutSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"confirmation_attempts": gorm.Expr("confirmation_attempts + ?", 1),
			"last_error":            lastError,
		}).Error
}

func (r *gormRepository) ExpireStaleSessions(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.CheckoutSession{}).
		Where("status = ? AND expires_at <= ?", models.SessionStatusOpen, now).
		Update("status", models.SessionStatusExpired)
	return res.RowsAffected, res.Error
}

// ListUngranted returns confirmed sessions without a grant, oldest confirmation first.
func (r *gormRepository) ListUngranted(ctx context.Context, limit int) ([]models.CheckoutSession, error) {
	var sessions []models.CheckoutSession
	err := r.db.WithContext(ctx).
		Where("status = ? AND granted_at IS NULL", models.SessionStatusConfirmed).
		Order("confirmed_at ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentWebhookEvent
	if err := r.db.WithContext(ctx).Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.PaymentWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// ReplaceWebhookPayload overwrites the stored delivery of an event with a verified one.
func (r *gormRepository) ReplaceWebhookPayload(ctx context.Context, event *models.PaymentWebhookEvent) error {
	return r.db.WithContext(ctx).Model(&models.PaymentWebhookEvent{}).
		Where("id = ?", event.ID).
		Updates(map[string]interface{}{
			"event_type":      event.EventType,
			"session_id":      event.SessionID,
			"payload_json":    event.PayloadJSON,
			"signature_valid": true,
		}).Error
}

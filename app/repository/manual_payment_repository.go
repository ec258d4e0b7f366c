package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/pharmalink/pharmalink/app/models"
)

// manualPaymentRepository implements the ManualPaymentRepository interface
type manualPaymentRepository struct {
	db *gorm.DB
}

// NewManualPaymentRepository creates a new manual payment repository instance
func NewManualPaymentRepository(db *gorm.DB) ManualPaymentRepository {
	return &manualPaymentRepository{db: db}
}

// Create inserts a new submission
func (r *manualPaymentRepository) Create(ctx context.Context, s *models.ManualPaymentSubmission) error {
	return r.db.WithContext(ctx).Create(s).Error
}

// GetByID retrieves a submission by its ID
func (r *manualPaymentRepository) GetByID(ctx context.Context, id uint) (*models.ManualPaymentSubmission, error) {
	var s models.ManualPaymentSubmission
	if err := r.db.WithContext(ctx).First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// List returns submissions matching f, oldest pending first, and the total count
func (r *manualPaymentRepository) List(ctx context.Context, f ManualPaymentFilter) ([]models.ManualPaymentSubmission, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.ManualPaymentSubmission{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.AccountID != 0 {
		q = q.Where("account_id = ?", f.AccountID)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var subs []models.ManualPaymentSubmission
	err := q.Order("created_at ASC").Order("id ASC").Offset(f.Offset).Limit(f.Limit).Find(&subs).Error
	if err != nil {
		return nil, 0, err
	}
	return subs, total, nil
}

// CountByStatus returns the number of submissions in a status
func (r *manualPaymentRepository) CountByStatus(ctx context.Context, status models.SubmissionStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ManualPaymentSubmission{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

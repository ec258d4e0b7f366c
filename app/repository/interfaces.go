package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/pharmalink/pharmalink/app/models"
)

// AccountRepository defines the interface for account lookups. Entitlement fields
// are written by the entitlement ledger only.
type AccountRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Account, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	EnsureFromIdentity(ctx context.Context, externalID, email, role string) (*models.Account, error)
	EmailOf(ctx context.Context, id uint) (string, error)
	List(ctx context.Context, offset, limit int) ([]models.Account, error)
	Count(ctx context.Context) (int64, error)
}

// ManualPaymentFilter narrows submission listings. Zero values match everything.
type ManualPaymentFilter struct {
	Status    models.SubmissionStatus
	AccountID uint
	Offset    int
	Limit     int
}

// ManualPaymentRepository defines the read/create operations on manual payment submissions.
type ManualPaymentRepository interface {
	Create(ctx context.Context, s *models.ManualPaymentSubmission) error
	GetByID(ctx context.Context, id uint) (*models.ManualPaymentSubmission, error)
	List(ctx context.Context, f ManualPaymentFilter) ([]models.ManualPaymentSubmission, int64, error)
	CountByStatus(ctx context.Context, status models.SubmissionStatus) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Account       AccountRepository
	ManualPayment ManualPaymentRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Account:       NewAccountRepository(db),
		ManualPayment: NewManualPaymentRepository(db),
	}
}

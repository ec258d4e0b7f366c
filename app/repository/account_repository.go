package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pharmalink/pharmalink/app/models"
)

// accountRepository implements the AccountRepository interface
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository instance
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

// GetByID retrieves an account by its ID
func (r *accountRepository) GetByID(ctx context.Context, id uint) (*models.Account, error) {
	var acc models.Account
	if err := r.db.WithContext(ctx).First(&acc, id).Error; err != nil {
		return nil, err
	}
	return &acc, nil
}

// GetByExternalID retrieves an account by its identity provider subject
func (r *accountRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Account, error) {
	var acc models.Account
	if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&acc).Error; err != nil {
		return nil, err
	}
	return &acc, nil
}

// GetByEmail retrieves the oldest account registered with the email address
func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var acc models.Account
	if err := r.db.WithContext(ctx).Where("email = ?", normalized).Order("id ASC").First(&acc).Error; err != nil {
		return nil, err
	}
	return &acc, nil
}

// EnsureFromIdentity creates the account of a verified identity on first sight and
// keeps its email and role in sync with the token afterwards.
func (r *accountRepository) EnsureFromIdentity(ctx context.Context, externalID, email, role string) (*models.Account, error) {
	acc := &models.Account{
		ExternalID: strings.TrimSpace(externalID),
		Email:      strings.ToLower(strings.TrimSpace(email)),
		Role:       strings.ToLower(strings.TrimSpace(role)),
	}
	if acc.Role == "" {
		acc.Role = models.RolePatient
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "role", "updated_at"}),
	}).Create(acc).Error
	if err != nil {
		return nil, err
	}

	// Ensure ID and entitlement fields are populated after upsert.
	return r.GetByExternalID(ctx, acc.ExternalID)
}

// EmailOf returns the email address of an account
func (r *accountRepository) EmailOf(ctx context.Context, id uint) (string, error) {
	acc, err := r.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return acc.Email, nil
}

// List retrieves accounts with pagination
func (r *accountRepository) List(ctx context.Context, offset, limit int) ([]models.Account, error) {
	var accounts []models.Account
	err := r.db.WithContext(ctx).Order("id ASC").Offset(offset).Limit(limit).Find(&accounts).Error
	return accounts, err
}

// Count returns the total number of accounts
func (r *accountRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Account{}).Count(&count).Error
	return count, err
}

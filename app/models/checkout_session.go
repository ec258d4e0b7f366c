package models

import (
	"time"

	"gorm.io/gorm"
)

// SessionStatus is the lifecycle state of a card checkout session.
type SessionStatus string

const (
	SessionStatusOpen      SessionStatus = "open"
	SessionStatusConfirmed SessionStatus = "confirmed"
	SessionStatusExpired   SessionStatus = "expired"
	SessionStatusCanceled  SessionStatus = "canceled"
)

// CheckoutSession mirrors a provider checkout. AccountID may be unknown at creation
// when the buyer is only identified by email.
type CheckoutSession struct {
	ID                   string        `gorm:"primaryKey;type:varchar(191)" json:"id"`
	Provider             string        `gorm:"type:varchar(20);not null" json:"provider"`
	AccountID            *uint         `gorm:"index:idx_checkout_sessions_account" json:"account_id,omitempty"`
	Email                string        `gorm:"type:varchar(200);not null;default:''" json:"email"`
	Plan                 string        `gorm:"type:varchar(20);not null" json:"plan"`
	Amount               int64         `gorm:"not null" json:"amount"`
	Currency             string        `gorm:"type:varchar(3);not null;default:'DZD'" json:"currency"`
	Status               SessionStatus `gorm:"type:varchar(20);not null;default:'open';index:idx_checkout_sessions_status_expiry,priority:1" json:"status"`
	RedirectURL          string        `gorm:"type:varchar(1000)" json:"redirect_url"`
	ExpiresAt            time.Time     `gorm:"type:timestamp;index:idx_checkout_sessions_status_expiry,priority:2" json:"expires_at"`
	ConfirmedAt          *time.Time    `gorm:"type:timestamp;default:null" json:"confirmed_at,omitempty"`
	GrantedAt            *time.Time    `gorm:"type:timestamp;default:null" json:"granted_at,omitempty"`
	ConfirmationAttempts int           `gorm:"default:0" json:"confirmation_attempts"`
	LastError            string        `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt            time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for CheckoutSession
func (CheckoutSession) TableName() string {
	return "checkout_sessions"
}

// BeforeCreate sets default values before creating a new session
func (s *CheckoutSession) BeforeCreate(tx *gorm.DB) error {
	if s.Status == "" {
		s.Status = SessionStatusOpen
	}
	if s.Currency == "" {
		s.Currency = "DZD"
	}
	return nil
}

// IsGranted reports whether the entitlement for this session was already applied.
func (s *CheckoutSession) IsGranted() bool {
	return s.GrantedAt != nil
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// SubmissionStatus is the review state of a manual payment submission.
type SubmissionStatus string

const (
	SubmissionStatusPending  SubmissionStatus = "pending"
	SubmissionStatusApproved SubmissionStatus = "approved"
	SubmissionStatusRejected SubmissionStatus = "rejected"
)

// IsTerminal reports whether the status can no longer change.
func (s SubmissionStatus) IsTerminal() bool {
	return s == SubmissionStatusApproved || s == SubmissionStatusRejected
}

// ManualPaymentSubmission is a bank-transfer receipt (BaridiMob) awaiting or past
// administrator review.
type ManualPaymentSubmission struct {
	ID              uint             `gorm:"primaryKey" json:"id"`
	AccountID       uint             `gorm:"not null;index:idx_manual_payments_account" json:"account_id"`
	Plan            string           `gorm:"type:varchar(20);not null" json:"plan"`
	Amount          int64            `gorm:"not null" json:"amount"`
	Currency        string           `gorm:"type:varchar(3);not null;default:'DZD'" json:"currency"`
	EvidenceRef     string           `gorm:"type:varchar(500);not null" json:"evidence_ref"`
	Status          SubmissionStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_manual_payments_status" json:"status"`
	ReviewedBy      *uint            `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time       `gorm:"type:timestamp;default:null" json:"reviewed_at,omitempty"`
	RejectionReason *string          `gorm:"type:text" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time        `gorm:"autoCreateTime;index:idx_manual_payments_created_at" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for ManualPaymentSubmission
func (ManualPaymentSubmission) TableName() string {
	return "manual_payment_submissions"
}

// BeforeCreate sets default values before creating a new submission
func (s *ManualPaymentSubmission) BeforeCreate(tx *gorm.DB) error {
	if s.Status == "" {
		s.Status = SubmissionStatusPending
	}
	if s.Currency == "" {
		s.Currency = "DZD"
	}
	return nil
}

package models

import "time"

// Grant sources.
const (
	GrantSourceCheckout = "checkout"
	GrantSourceManual   = "manual"
)

// EntitlementGrant records every applied grant keyed by the idempotency key of the
// event that caused it, so a replayed event is recognised and skipped.
type EntitlementGrant struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	IdempotencyKey string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_entitlement_grants_key" json:"idempotency_key"`
	AccountID      uint      `gorm:"not null;index:idx_entitlement_grants_account" json:"account_id"`
	Plan           string    `gorm:"type:varchar(20);not null" json:"plan"`
	Source         string    `gorm:"type:varchar(20);not null" json:"source"`
	ActorID        *uint     `json:"actor_id,omitempty"`
	ActivatedAt    time.Time `gorm:"type:timestamp" json:"activated_at"`
	ExpiresAt      time.Time `gorm:"type:timestamp" json:"expires_at"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for EntitlementGrant
func (EntitlementGrant) TableName() string {
	return "entitlement_grants"
}

package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Portal roles as issued by the identity provider.
const (
	RolePatient  = "patient"
	RoleDoctor   = "doctor"
	RolePharmacy = "pharmacy"
	RoleFactory  = "factory"
	RoleAdmin    = "admin"
)

// Account holds the entitlement fields of a portal account. Plan, IsApproved,
// ActivatedAt and ExpiresAt are written only by the entitlement ledger.
type Account struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	ExternalID  string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_accounts_external_id" json:"external_id"`
	Email       string     `gorm:"type:varchar(200);not null;default:'';index:idx_accounts_email" json:"email"`
	Role        string     `gorm:"type:varchar(20);not null;default:'patient'" json:"role"`
	Plan        string     `gorm:"type:varchar(20);not null;default:'free';index:idx_accounts_plan_expiry,priority:1" json:"plan"`
	IsApproved  bool       `gorm:"default:false" json:"is_approved"`
	ActivatedAt *time.Time `gorm:"type:timestamp;default:null" json:"activated_at,omitempty"`
	ExpiresAt   *time.Time `gorm:"type:timestamp;default:null;index:idx_accounts_plan_expiry,priority:2" json:"expires_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Account
func (Account) TableName() string {
	return "accounts"
}

// BeforeCreate normalizes identity fields and applies the free-plan default.
func (a *Account) BeforeCreate(tx *gorm.DB) error {
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	if a.Role == "" {
		a.Role = RolePatient
	}
	if a.Plan == "" {
		a.Plan = "free"
	}
	return nil
}

// IsAdmin reports whether the account carries the administrator role.
func (a *Account) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}

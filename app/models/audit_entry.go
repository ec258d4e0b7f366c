package models

import "time"

// Audit operations.
const (
	AuditOpGrant   = "grant"
	AuditOpRevoke  = "revoke"
	AuditOpCreate  = "create"
	AuditOpUpdate  = "update"
	AuditOpApprove = "approve"
	AuditOpReject  = "reject"
	AuditOpConfirm = "confirm"
	AuditOpExpire  = "expire"
	AuditOpCancel  = "cancel"
)

// AuditEntry is an append-only record of a state change. Rows are never updated or deleted.
type AuditEntry struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	EntityTable string    `gorm:"type:varchar(64);not null;index:idx_audit_entries_entity,priority:1" json:"entity_table"`
	Operation   string    `gorm:"type:varchar(20);not null" json:"operation"`
	EntityID    string    `gorm:"type:varchar(191);not null;index:idx_audit_entries_entity,priority:2" json:"entity_id"`
	ActorID     *uint     `gorm:"index:idx_audit_entries_actor" json:"actor_id,omitempty"`
	ActorRole   string    `gorm:"type:varchar(20);not null;default:'system'" json:"actor_role"`
	Before      string    `gorm:"type:text" json:"before,omitempty"`
	After       string    `gorm:"type:text" json:"after,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index:idx_audit_entries_created_at" json:"created_at"`
}

// TableName returns the table name for AuditEntry
func (AuditEntry) TableName() string {
	return "audit_entries"
}

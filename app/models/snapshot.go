package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// SnapshotStatus defines the possible export states
type SnapshotStatus string

const (
	SnapshotStatusInProgress SnapshotStatus = "in_progress"
	SnapshotStatusCompleted  SnapshotStatus = "completed"
	SnapshotStatusFailed     SnapshotStatus = "failed"
)

// Snapshot is a point-in-time export of a set of tables to object storage.
type Snapshot struct {
	ID               string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	IncludedEntities string         `gorm:"type:varchar(500);not null" json:"included_entities"`
	Status           SnapshotStatus `gorm:"type:varchar(20);not null;default:'in_progress';index:idx_snapshots_status" json:"status"`
	Locator          string         `gorm:"type:varchar(1000)" json:"locator"`
	SizeBytes        int64          `gorm:"default:0" json:"size_bytes"`
	ErrorMessage     string         `gorm:"type:text" json:"error_message"`
	RequestedBy      *uint          `json:"requested_by,omitempty"`
	StartedAt        time.Time      `gorm:"type:timestamp" json:"started_at"`
	CompletedAt      *time.Time     `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	CreatedAt        time.Time      `gorm:"autoCreateTime;index:idx_snapshots_created_at" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Snapshot
func (Snapshot) TableName() string {
	return "snapshots"
}

// BeforeCreate sets default values before creating a new snapshot record
func (s *Snapshot) BeforeCreate(tx *gorm.DB) error {
	if s.Status == "" {
		s.Status = SnapshotStatusInProgress
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}
	return nil
}

// Entities returns the included table names.
func (s *Snapshot) Entities() []string {
	if s.IncludedEntities == "" {
		return nil
	}
	return strings.Split(s.IncludedEntities, ",")
}

// MarkAsCompleted finishes an in-progress snapshot. Returns false when the snapshot
// already left the in_progress state.
func (s *Snapshot) MarkAsCompleted(db *gorm.DB, locator string, size int64) (bool, error) {
	now := time.Now().UTC()
	tx := db.Model(&Snapshot{}).
		Where("id = ? AND status = ?", s.ID, SnapshotStatusInProgress).
		Updates(map[string]interface{}{
			"status":        SnapshotStatusCompleted,
			"locator":       locator,
			"size_bytes":    size,
			"error_message": "",
			"completed_at":  now,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	if tx.RowsAffected == 0 {
		return false, nil
	}
	s.Status = SnapshotStatusCompleted
	s.Locator = locator
	s.SizeBytes = size
	s.ErrorMessage = ""
	s.CompletedAt = &now
	return true, nil
}

// MarkAsFailed finishes an in-progress snapshot with an error message.
func (s *Snapshot) MarkAsFailed(db *gorm.DB, errorMsg string) (bool, error) {
	now := time.Now().UTC()
	tx := db.Model(&Snapshot{}).
		Where("id = ? AND status = ?", s.ID, SnapshotStatusInProgress).
		Updates(map[string]interface{}{
			"status":        SnapshotStatusFailed,
			"error_message": errorMsg,
			"completed_at":  now,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	if tx.RowsAffected == 0 {
		return false, nil
	}
	s.Status = SnapshotStatusFailed
	s.ErrorMessage = errorMsg
	s.CompletedAt = &now
	return true, nil
}

// FindSnapshotsByStatus finds all snapshot records by status
func FindSnapshotsByStatus(db *gorm.DB, status SnapshotStatus) ([]Snapshot, error) {
	var snapshots []Snapshot
	err := db.Where("status = ?", status).Order("created_at DESC").Find(&snapshots).Error
	return snapshots, err
}

// FindStuckSnapshots returns snapshots that have been in_progress longer than the given duration
func FindStuckSnapshots(db *gorm.DB, olderThan time.Duration) ([]Snapshot, error) {
	var snapshots []Snapshot
	cutoff := time.Now().UTC().Add(-olderThan)
	err := db.Where("status = ? AND started_at <= ?", SnapshotStatusInProgress, cutoff).Find(&snapshots).Error
	return snapshots, err
}

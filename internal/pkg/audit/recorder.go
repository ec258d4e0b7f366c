// Package audit keeps the append-only trail of state changes and exports
// point-in-time snapshots of the billing tables.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/pharmalink/pharmalink/app/models"
	"github.com/pharmalink/pharmalink/internal/pkg/apperr"
	"github.com/pharmalink/pharmalink/internal/pkg/notify"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Recorder appends audit entries. It never fails the caller: a lost entry is logged
// and raised on the operator channel.
type Recorder struct {
	db       *gorm.DB
	notifier notify.Notifier
}

// NewRecorder creates a recorder. notifier may be nil.
func NewRecorder(db *gorm.DB, notifier notify.Notifier) *Recorder {
	return &Recorder{db: db, notifier: notify.OrNop(notifier)}
}

// Record inserts entry. Must not be called while the caller holds a transaction on
// the same connection pool slot.
func (r *Recorder) Record(ctx context.Context, entry *models.AuditEntry) {
	if entry == nil {
		return
	}
	entry.ID = 0
	if entry.ActorRole == "" {
		entry.ActorRole = "system"
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		log.Errorf("[Audit] Failed to record %s on %s/%s: %v", entry.Operation, entry.EntityTable, entry.EntityID, err)
		_ = r.notifier.Notify(ctx, notify.Message{
			Kind:    notify.KindOperatorAlert,
			Subject: "Audit entry lost",
			Body: fmt.Sprintf("Could not record %s on %s/%s at %s: %v",
				entry.Operation, entry.EntityTable, entry.EntityID, time.Now().UTC().Format(time.RFC3339), err),
			Data: map[string]interface{}{
				"entity_table": entry.EntityTable,
				"entity_id":    entry.EntityID,
				"operation":    entry.Operation,
				"after":        entry.After,
			},
		})
	}
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	EntityTable string
	EntityID    string
	ActorID     *uint
	Since       time.Time
	Until       time.Time
	Limit       int
	Offset      int
}

// List returns matching entries, newest first, and the total count.
func (r *Recorder) List(ctx context.Context, f Filter) ([]models.AuditEntry, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.AuditEntry{})
	if f.EntityTable != "" {
		q = q.Where("entity_table = ?", f.EntityTable)
	}
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if f.ActorID != nil {
		q = q.Where("actor_id = ?", *f.ActorID)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since.UTC())
	}
	if !f.Until.IsZero() {
		q = q.Where("created_at < ?", f.Until.UTC())
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, apperr.Storage("count audit entries", err)
	}

	limit, offset := Page(f.Limit, f.Offset)
	var entries []models.AuditEntry
	if err := q.Order("id DESC").Limit(limit).Offset(offset).Find(&entries).Error; err != nil {
		return nil, 0, apperr.Storage("list audit entries", err)
	}
	return entries, total, nil
}

// Page clamps pagination parameters.
func Page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

package audit

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pharmalink/pharmalink/app/models"
	"github.com/pharmalink/pharmalink/internal/pkg/apperr"
	"github.com/pharmalink/pharmalink/internal/pkg/notify"
	"github.com/pharmalink/pharmalink/internal/pkg/storage"
)

// ExportableTables is the closed set of tables a snapshot may include.
var ExportableTables = []string{
	"accounts",
	"entitlement_grants",
	"manual_payment_submissions",
	"checkout_sessions",
	"payment_webhook_events",
	"audit_entries",
}

// exportBatchSize bounds the rows read per query while exporting a table.
const exportBatchSize = 1000

// Snapshotter exports tables to the object store.
type Snapshotter struct {
	db       *gorm.DB
	store    storage.ObjectStore
	notifier notify.Notifier
	now      func() time.Time

	batchSize  int
	afterBatch func(tx *gorm.DB, table string)
}

// NewSnapshotter creates a snapshotter. notifier may be nil.
func NewSnapshotter(db *gorm.DB, store storage.ObjectStore, notifier notify.Notifier) *Snapshotter {
	return &Snapshotter{
		db:       db,
		store:    store,
		notifier: notify.OrNop(notifier),
		now:      func() time.Time { return time.Now().UTC() },

		batchSize: exportBatchSize,
	}
}

// Snapshot validates, exports and finishes a snapshot synchronously.
func (s *Snapshotter) Snapshot(ctx context.Context, tables []string, requestedBy *uint) (*models.Snapshot, error) {
	snap, err := s.Start(ctx, tables, requestedBy)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, snap.ID)
}

// Start validates the table list and records an in_progress snapshot. An empty list
// selects every exportable table.
func (s *Snapshotter) Start(ctx context.Context, tables []string, requestedBy *uint) (*models.Snapshot, error) {
	selected, err := normalizeTables(tables)
	if err != nil {
		return nil, err
	}

	snap := &models.Snapshot{
		ID:               uuid.NewString(),
		IncludedEntities: strings.Join(selected, ","),
		Status:           models.SnapshotStatusInProgress,
		RequestedBy:      requestedBy,
		StartedAt:        s.now(),
	}
	if err := s.db.WithContext(ctx).Create(snap).Error; err != nil {
		return nil, apperr.Storage("create snapshot", err)
	}
	log.Infof("[Snapshot] Started %s (%s)", snap.ID, snap.IncludedEntities)
	return snap, nil
}

// Run exports an in_progress snapshot. Export failures are recorded on the snapshot,
// which is returned together with the error.
func (s *Snapshotter) Run(ctx context.Context, id string) (*models.Snapshot, error) {
	snap, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if snap.Status != models.SnapshotStatusInProgress {
		return snap, apperr.InvalidTransition("snapshot %s is %s", id, snap.Status)
	}

	body, err := s.export(ctx, snap)
	if err != nil {
		s.fail(ctx, snap, err)
		return snap, apperr.Storage("export snapshot", err)
	}
	locator, err := s.store.Put(ctx, storage.SnapshotKey(snap.ID, snap.StartedAt), "application/gzip", bytes.NewReader(body), int64(len(body)))
	if err != nil {
		s.fail(ctx, snap, err)
		return snap, apperr.Storage("export snapshot", err)
	}

	won, err := snap.MarkAsCompleted(s.db.WithContext(ctx), locator, int64(len(body)))
	if err != nil {
		return snap, apperr.Storage("complete snapshot", err)
	}
	if !won {
		// Another runner or the stuck cleanup finished the snapshot first.
		if delErr := s.store.Delete(ctx, locator); delErr != nil {
			log.Errorf("[Snapshot] Failed to remove orphaned export %s: %v", locator, delErr)
		}
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return snap, getErr
		}
		log.Warnf("[Snapshot] Discarded export of %s: already %s", id, current.Status)
		return current, apperr.InvalidTransition("snapshot %s is %s", id, current.Status)
	}
	log.Infof("[Snapshot] Completed %s -> %s (%d bytes)", snap.ID, locator, len(body))
	return snap, nil
}

// Get loads a snapshot by id.
func (s *Snapshotter) Get(ctx context.Context, id string) (*models.Snapshot, error) {
	var snap models.Snapshot
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("snapshot %s", id)
	}
	if err != nil {
		return nil, apperr.Storage("load snapshot", err)
	}
	return &snap, nil
}

// List returns snapshots, newest first.
func (s *Snapshotter) List(ctx context.Context, limit, offset int) ([]models.Snapshot, error) {
	limit, offset = Page(limit, offset)
	var snaps []models.Snapshot
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset).Find(&snaps).Error; err != nil {
		return nil, apperr.Storage("list snapshots", err)
	}
	return snaps, nil
}

// FailStuck marks snapshots that stayed in_progress longer than olderThan as failed.
func (s *Snapshotter) FailStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	stuck, err := models.FindStuckSnapshots(s.db.WithContext(ctx), olderThan)
	if err != nil {
		return 0, apperr.Storage("find stuck snapshots", err)
	}
	failed := 0
	for i := range stuck {
		ok, err := stuck[i].MarkAsFailed(s.db.WithContext(ctx), fmt.Sprintf("export did not finish within %s", olderThan))
		if err != nil {
			return failed, apperr.Storage("fail stuck snapshot", err)
		}
		if ok {
			failed++
			log.Warnf("[Snapshot] Marked stuck snapshot %s as failed", stuck[i].ID)
		}
	}
	return failed, nil
}

type exportDocument struct {
	SnapshotID string                              `json:"snapshot_id"`
	StartedAt  time.Time                           `json:"started_at"`
	Tables     map[string][]map[string]interface{} `json:"tables"`
}

// export reads every included table in one read-only transaction so the tables are
// captured at the same instant.
func (s *Snapshotter) export(ctx context.Context, snap *models.Snapshot) ([]byte, error) {
	doc := exportDocument{
		SnapshotID: snap.ID,
		StartedAt:  snap.StartedAt,
		Tables:     make(map[string][]map[string]interface{}),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range snap.Entities() {
			rows, err := s.exportTable(tx, table)
			if err != nil {
				return fmt.Errorf("export %s: %w", table, err)
			}
			doc.Tables[table] = rows
		}
		return nil
	}, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(doc); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// exportTable pages through table by primary key.
func (s *Snapshotter) exportTable(tx *gorm.DB, table string) ([]map[string]interface{}, error) {
	all := make([]map[string]interface{}, 0)
	var last interface{}
	for {
		q := tx.Table(table).Order("id ASC").Limit(s.batchSize)
		if last != nil {
			q = q.Where("id > ?", last)
		}
		var batch []map[string]interface{}
		if err := q.Find(&batch).Error; err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < s.batchSize {
			return all, nil
		}
		last = batch[len(batch)-1]["id"]
		if s.afterBatch != nil {
			s.afterBatch(tx, table)
		}
	}
}

func (s *Snapshotter) fail(ctx context.Context, snap *models.Snapshot, cause error) {
	log.Errorf("[Snapshot] Export %s failed: %v", snap.ID, cause)
	if _, err := snap.MarkAsFailed(s.db.WithContext(ctx), cause.Error()); err != nil {
		log.Errorf("[Snapshot] Failed to mark %s as failed: %v", snap.ID, err)
	}
	_ = s.notifier.Notify(ctx, notify.Message{
		Kind:    notify.KindOperatorAlert,
		Subject: "Snapshot export failed",
		Body:    fmt.Sprintf("Snapshot %s (%s) failed: %v", snap.ID, snap.IncludedEntities, cause),
		Data:    map[string]interface{}{"snapshot_id": snap.ID},
	})
}

func normalizeTables(tables []string) ([]string, error) {
	if len(tables) == 0 {
		return append([]string(nil), ExportableTables...), nil
	}
	allowed := make(map[string]bool, len(ExportableTables))
	for _, t := range ExportableTables {
		allowed[t] = true
	}
	seen := make(map[string]bool, len(tables))
	out := make([]string, 0, len(tables))
	for _, raw := range tables {
		t := strings.ToLower(strings.TrimSpace(raw))
		if !allowed[t] {
			return nil, apperr.Validation("table %q cannot be exported", raw)
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out, nil
}

// ReadExport decodes a snapshot body produced by Run.
func ReadExport(r io.Reader) (map[string][]map[string]interface{}, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	var doc exportDocument
	if err := json.NewDecoder(zr).Decode(&doc); err != nil {
		return nil, err
	}
	return doc.Tables, nil
}

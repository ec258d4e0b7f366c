// Package storage stores snapshot exports and payment receipts, on S3 when it is
// configured and in a local directory otherwise.
package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/pharmalink/pharmalink/internal/pkg/config"
	"github.com/pharmalink/pharmalink/internal/pkg/s3backup"
)

// ObjectStore persists opaque objects and hands back a locator that identifies them.
// Get reports a missing object with an error wrapping fs.ErrNotExist.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
	Get(ctx context.Context, locator string) (io.ReadCloser, error)
	Delete(ctx context.Context, locator string) error
}

// New selects S3 when enabled, otherwise a directory under LOCAL_STORAGE_DIR.
func New(ctx context.Context, cfg *config.Config) (ObjectStore, error) {
	if cfg.S3Enabled {
		s3cfg, err := s3backup.LoadConfig(cfg)
		if err != nil {
			return nil, err
		}
		client, err := s3backup.NewClient(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	log.Infof("[Storage] S3 disabled, storing objects under %s", cfg.LocalStorageDir)
	local, err := NewLocalStore(cfg.LocalStorageDir)
	if err != nil {
		return nil, err
	}
	return local, nil
}

// SnapshotKey generates the object key of a snapshot export
func SnapshotKey(snapshotID string, at time.Time) string {
	// Format: snapshots/YYYY/MM/DD/ID.json.gz
	return fmt.Sprintf("snapshots/%04d/%02d/%02d/%s.json.gz", at.Year(), int(at.Month()), at.Day(), snapshotID)
}

// EvidenceKey generates the object key of a payment receipt
func EvidenceKey(accountID uint, objectID, filename string, at time.Time) string {
	// Format: evidence/YYYY/MM/accountID/UUID.ext
	ext := strings.ToLower(filepath.Ext(filename))
	return fmt.Sprintf("evidence/%04d/%02d/%d/%s%s", at.Year(), int(at.Month()), accountID, objectID, ext)
}

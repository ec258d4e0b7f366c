package jobqueue

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2/log"

	"github.com/pharmalink/pharmalink/app/models"
	"github.com/pharmalink/pharmalink/internal/pkg/apperr"
)

// ConfirmationCompleter finishes the grant of a confirmed checkout session.
type ConfirmationCompleter interface {
	CompleteConfirmation(ctx context.Context, sessionID string) (*models.CheckoutSession, error)
}

// SnapshotRunner exports an in_progress snapshot.
type SnapshotRunner interface {
	Run(ctx context.Context, id string) (*models.Snapshot, error)
}

// EnqueueConfirmationRetry schedules another grant attempt for a confirmed session.
func (q *Queue) EnqueueConfirmationRetry(ctx context.Context, sessionID string) error {
	_, err := q.EnqueueJob(ctx, JobTypeConfirmationRetry, ConfirmationRetryPayload{SessionID: sessionID}.ToMap())
	return err
}

// EnqueueSnapshotExport schedules the export of a started snapshot.
func (q *Queue) EnqueueSnapshotExport(ctx context.Context, snapshotID string) error {
	_, err := q.EnqueueJob(ctx, JobTypeSnapshotExport, SnapshotExportPayload{SnapshotID: snapshotID}.ToMap())
	return err
}

// ConfirmationRetryHandler retries CompleteConfirmation until the grant lands or the
// session can no longer be granted.
func ConfirmationRetryHandler(c ConfirmationCompleter) Handler {
	return func(ctx context.Context, job *Job) error {
		payload, err := ConfirmationRetryPayloadFromMap(job.Payload)
		if err != nil {
			return Permanent(err)
		}
		_, err = c.CompleteConfirmation(ctx, payload.SessionID)
		if err == nil {
			log.Infof("[JobQueue] Granted entitlement for checkout %s", payload.SessionID)
			return nil
		}
		if errors.Is(err, apperr.ErrInvalidTransition) || errors.Is(err, apperr.ErrNotFound) {
			return Permanent(err)
		}
		return err
	}
}

// SnapshotExportHandler runs a snapshot export. A failed export is recorded on the
// snapshot itself, so it is not retried.
func SnapshotExportHandler(r SnapshotRunner) Handler {
	return func(ctx context.Context, job *Job) error {
		payload, err := SnapshotExportPayloadFromMap(job.Payload)
		if err != nil {
			return Permanent(err)
		}
		if _, err := r.Run(ctx, payload.SnapshotID); err != nil {
			return Permanent(err)
		}
		return nil
	}
}

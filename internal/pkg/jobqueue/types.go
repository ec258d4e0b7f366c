package jobqueue

import (
	"encoding/json"
	"errors"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeConfirmationRetry JobType = "checkout_confirmation_retry"
	JobTypeSnapshotExport    JobType = "snapshot_export"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// ConfirmationRetryPayload asks for another grant attempt on a confirmed checkout.
type ConfirmationRetryPayload struct {
	SessionID string `json:"session_id"`
}

// ToMap converts the payload to a map for storage
func (p ConfirmationRetryPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"session_id": p.SessionID,
	}
}

// ConfirmationRetryPayloadFromMap creates a payload from a map
func ConfirmationRetryPayloadFromMap(data map[string]interface{}) (*ConfirmationRetryPayload, error) {
	var payload ConfirmationRetryPayload
	if err := decodePayload(data, &payload); err != nil {
		return nil, err
	}
	if payload.SessionID == "" {
		return nil, errors.New("session_id is required")
	}
	return &payload, nil
}

// SnapshotExportPayload runs the export of an in_progress snapshot.
type SnapshotExportPayload struct {
	SnapshotID string `json:"snapshot_id"`
}

// ToMap converts the payload to a map for storage
func (p SnapshotExportPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"snapshot_id": p.SnapshotID,
	}
}

// SnapshotExportPayloadFromMap creates a payload from a map
func SnapshotExportPayloadFromMap(data map[string]interface{}) (*SnapshotExportPayload, error) {
	var payload SnapshotExportPayload
	if err := decodePayload(data, &payload); err != nil {
		return nil, err
	}
	if payload.SnapshotID == "" {
		return nil, errors.New("snapshot_id is required")
	}
	return &payload, nil
}

func decodePayload(data map[string]interface{}, out interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, out)
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now().UTC()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now().UTC()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now().UTC()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now().UTC()
}

// permanentError marks a handler failure that must not be retried.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the queue gives up on the job immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

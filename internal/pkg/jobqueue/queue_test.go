package jobqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmalink/pharmalink/app/models"
	"github.com/pharmalink/pharmalink/internal/pkg/apperr"
)

// TestNewQueue tests the queue constructor
func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{"Valid worker count", 5, 5},
		{"Zero workers", 0, 2},
		{"Negative workers", -1, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueue(nil, Options{Workers: tt.workers})

			assert.NotNil(t, queue)
			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.Equal(t, tt.expectedWorkers, cap(queue.workerPool))
			assert.Equal(t, DefaultMaxRetries, queue.maxRetries)
			assert.Equal(t, DefaultRetryDelay, queue.retryDelay)
			assert.False(t, queue.IsRunning())
		})
	}
}

func TestBackoffIsLinear(t *testing.T) {
	q := NewQueue(nil, Options{RetryDelay: 10 * time.Second})
	assert.Equal(t, 10*time.Second, q.backoff(0))
	assert.Equal(t, 10*time.Second, q.backoff(1))
	assert.Equal(t, 30*time.Second, q.backoff(3))
}

func TestJobLifecycle(t *testing.T) {
	job := &Job{Status: JobStatusPending, MaxRetries: 2}

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)

	job.MarkAsFailed("boom")
	assert.Equal(t, 1, job.RetryCount)
	assert.True(t, job.IsRetryable())

	job.MarkAsFailed("boom again")
	assert.False(t, job.IsRetryable())

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Empty(t, job.ErrorMsg)
	assert.NotNil(t, job.CompletedAt)
}

func TestPayloadRoundTrip(t *testing.T) {
	p, err := ConfirmationRetryPayloadFromMap(ConfirmationRetryPayload{SessionID: "cs_1"}.ToMap())
	require.NoError(t, err)
	assert.Equal(t, "cs_1", p.SessionID)

	_, err = ConfirmationRetryPayloadFromMap(map[string]interface{}{})
	assert.Error(t, err)

	s, err := SnapshotExportPayloadFromMap(SnapshotExportPayload{SnapshotID: "snap"}.ToMap())
	require.NoError(t, err)
	assert.Equal(t, "snap", s.SnapshotID)
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := errors.New("bad")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.True(t, errors.Is(err, base))
	assert.False(t, IsPermanent(base))
}

type fakeCompleter struct {
	err   error
	calls []string
}

func (f *fakeCompleter) CompleteConfirmation(_ context.Context, id string) (*models.CheckoutSession, error) {
	f.calls = append(f.calls, id)
	return &models.CheckoutSession{ID: id}, f.err
}

func TestConfirmationRetryHandler(t *testing.T) {
	job := &Job{Type: JobTypeConfirmationRetry, Payload: ConfirmationRetryPayload{SessionID: "cs_9"}.ToMap()}

	c := &fakeCompleter{}
	require.NoError(t, ConfirmationRetryHandler(c)(context.Background(), job))
	assert.Equal(t, []string{"cs_9"}, c.calls)

	c.err = apperr.Storage("grant", errors.New("deadlock"))
	err := ConfirmationRetryHandler(c)(context.Background(), job)
	require.Error(t, err)
	assert.False(t, IsPermanent(err))

	c.err = apperr.InvalidTransition("session cs_9 is expired")
	err = ConfirmationRetryHandler(c)(context.Background(), job)
	assert.True(t, IsPermanent(err))

	err = ConfirmationRetryHandler(c)(context.Background(), &Job{Payload: map[string]interface{}{}})
	assert.True(t, IsPermanent(err))
}

type fakeRunner struct {
	err error
	ids []string
}

func (f *fakeRunner) Run(_ context.Context, id string) (*models.Snapshot, error) {
	f.ids = append(f.ids, id)
	return &models.Snapshot{ID: id}, f.err
}

func TestSnapshotExportHandler(t *testing.T) {
	job := &Job{Payload: SnapshotExportPayload{SnapshotID: "snap-1"}.ToMap()}
	r := &fakeRunner{}
	require.NoError(t, SnapshotExportHandler(r)(context.Background(), job))
	assert.Equal(t, []string{"snap-1"}, r.ids)

	r.err = apperr.Storage("export snapshot", errors.New("bucket unavailable"))
	assert.True(t, IsPermanent(SnapshotExportHandler(r)(context.Background(), job)))
}

func TestEnqueueAndProcess(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	ctx := context.Background()
	q := NewQueue(client, Options{Workers: 1, RetryDelay: 10 * time.Millisecond})

	c := &fakeCompleter{}
	q.Register(JobTypeConfirmationRetry, ConfirmationRetryHandler(c))

	require.NoError(t, q.EnqueueConfirmationRetry(ctx, "cs_42"))

	processed, err := q.ProcessNext(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []string{"cs_42"}, c.calls)

	stats, err := q.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.Processing)
	assert.Equal(t, int64(1), stats.Totals[JobStatusCompleted])
}

func TestFailedJobIsRetried(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	ctx := context.Background()
	q := NewQueue(client, Options{Workers: 1, MaxRetries: 3, RetryDelay: 10 * time.Millisecond})

	var attempts int32
	q.Register(JobTypeConfirmationRetry, func(ctx context.Context, job *Job) error {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return errors.New("account store unavailable")
		}
		return nil
	})

	job, err := q.EnqueueJob(ctx, JobTypeConfirmationRetry, ConfirmationRetryPayload{SessionID: "cs_1"}.ToMap())
	require.NoError(t, err)

	_, err = q.ProcessNext(ctx, time.Second)
	require.NoError(t, err)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusRetrying, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)

	processed, err := q.ProcessNext(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	ctx := context.Background()
	q := NewQueue(client, Options{Workers: 1, RetryDelay: 10 * time.Millisecond})

	// no handler registered for snapshot exports
	job, err := q.EnqueueJob(ctx, JobTypeSnapshotExport, SnapshotExportPayload{SnapshotID: "s"}.ToMap())
	require.NoError(t, err)

	_, err = q.ProcessNext(ctx, time.Second)
	require.NoError(t, err)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMsg, "unknown job type")

	processed, err := q.ProcessNext(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRecoverStuck(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	ctx := context.Background()
	q := NewQueue(client, Options{Workers: 1})

	job, err := q.EnqueueJob(ctx, JobTypeSnapshotExport, SnapshotExportPayload{SnapshotID: "s"}.ToMap())
	require.NoError(t, err)

	// Simulate a worker that crashed mid-job an hour ago.
	require.NoError(t, client.RPopLPush(ctx, JobQueueKey, JobProcessingKey).Err())
	job.MarkAsProcessing()
	old := time.Now().UTC().Add(-time.Hour)
	job.ProcessedAt = &old
	q.updateJob(ctx, job)

	n, err := q.RecoverStuck(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Zero(t, stats.Processing)
}

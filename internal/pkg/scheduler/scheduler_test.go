package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmalink/pharmalink/app/models"
)

type countingSweeper struct{ calls int }

func (c *countingSweeper) SweepExpired(context.Context) (int, error) {
	c.calls++
	return 0, nil
}

type countingExpirer struct{ calls int }

func (c *countingExpirer) ExpireStale(context.Context) (int, error) {
	c.calls++
	return 2, nil
}

type countingResumer struct{ calls int }

func (c *countingResumer) ResumeUngranted(context.Context) (int, error) {
	c.calls++
	return 1, nil
}

type fakeSnapshots struct {
	started []string
	ran     []string
	stuck   []time.Duration
}

func (f *fakeSnapshots) Start(_ context.Context, tables []string, _ *uint) (*models.Snapshot, error) {
	id := "snap-1"
	f.started = append(f.started, id)
	return &models.Snapshot{ID: id, Status: models.SnapshotStatusInProgress}, nil
}

func (f *fakeSnapshots) Run(_ context.Context, id string) (*models.Snapshot, error) {
	f.ran = append(f.ran, id)
	return &models.Snapshot{ID: id, Status: models.SnapshotStatusCompleted}, nil
}

func (f *fakeSnapshots) FailStuck(_ context.Context, age time.Duration) (int, error) {
	f.stuck = append(f.stuck, age)
	return 0, nil
}

type fakeQueue struct {
	err error
	ids []string
}

func (f *fakeQueue) EnqueueSnapshotExport(_ context.Context, id string) error {
	f.ids = append(f.ids, id)
	return f.err
}

func TestStartRegistersConfiguredJobs(t *testing.T) {
	s := New(Jobs{Ledger: &countingSweeper{}, Checkout: &countingExpirer{}, Grants: &countingResumer{}, Snapshots: &fakeSnapshots{}},
		Schedules{EntitlementSweep: "@every 15m", CheckoutExpiry: "@every 5m", PendingGrants: "@every 10m"})
	require.NoError(t, s.Start())
	defer s.Stop()

	// snapshot schedule is empty, the stuck cleanup is always on
	assert.Len(t, s.cron.Entries(), 4)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(Jobs{}, Schedules{EntitlementSweep: "every now and then"})
	assert.Error(t, s.Start())
}

func TestJobsCallCollaborators(t *testing.T) {
	sweeper := &countingSweeper{}
	expirer := &countingExpirer{}
	resumer := &countingResumer{}
	s := New(Jobs{Ledger: sweeper, Checkout: expirer, Grants: resumer}, Schedules{})

	s.SweepEntitlements()
	s.ExpireCheckouts()
	s.ResumeGrants()
	s.TakeSnapshot()

	assert.Equal(t, 1, sweeper.calls)
	assert.Equal(t, 1, expirer.calls)
	assert.Equal(t, 1, resumer.calls)
}

func TestSnapshotGoesThroughQueue(t *testing.T) {
	snaps := &fakeSnapshots{}
	q := &fakeQueue{}
	s := New(Jobs{Snapshots: snaps, Queue: q}, Schedules{})

	s.TakeSnapshot()
	assert.Equal(t, []string{"snap-1"}, q.ids)
	assert.Empty(t, snaps.ran)
}

func TestSnapshotFallsBackToInlineExport(t *testing.T) {
	snaps := &fakeSnapshots{}
	s := New(Jobs{Snapshots: snaps, Queue: &fakeQueue{err: errors.New("redis down")}}, Schedules{})

	s.TakeSnapshot()
	assert.Equal(t, []string{"snap-1"}, snaps.ran)

	s.FailStuckSnapshots()
	assert.Equal(t, []time.Duration{stuckSnapshotAge}, snaps.stuck)
}

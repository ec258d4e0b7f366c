// Package scheduler runs the periodic maintenance jobs: entitlement expiry, checkout
// upkeep and snapshot exports.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"

	"github.com/pharmalink/pharmalink/app/models"
)

const (
	jobTimeout        = 5 * time.Minute
	stuckSnapshotAge  = time.Hour
	stuckSnapshotSpec = "@every 30m"
)

// Sweeper revokes expired entitlements.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// SessionExpirer expires open checkout sessions past their deadline.
type SessionExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// GrantResumer grants confirmed checkouts that are still waiting for their account.
type GrantResumer interface {
	ResumeUngranted(ctx context.Context) (int, error)
}

// Snapshotter starts and maintains snapshots.
type Snapshotter interface {
	Start(ctx context.Context, tables []string, requestedBy *uint) (*models.Snapshot, error)
	Run(ctx context.Context, id string) (*models.Snapshot, error)
	FailStuck(ctx context.Context, olderThan time.Duration) (int, error)
}

// ExportQueue hands snapshot exports to the background workers.
type ExportQueue interface {
	EnqueueSnapshotExport(ctx context.Context, snapshotID string) error
}

// Schedules holds the cron expressions. An empty expression disables the job.
type Schedules struct {
	EntitlementSweep string
	CheckoutExpiry   string
	PendingGrants    string
	Snapshot         string
}

// Jobs bundles the collaborators the scheduled functions call.
type Jobs struct {
	Ledger    Sweeper
	Checkout  SessionExpirer
	Grants    GrantResumer
	Snapshots Snapshotter
	// Queue is optional; without it snapshots export inline.
	Queue ExportQueue
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      Jobs
	schedules Schedules
}

// New creates a scheduler. Jobs are registered by Start.
func New(jobs Jobs, schedules Schedules) *Scheduler {
	l := cronLogger{}
	return &Scheduler{
		cron:      cron.New(cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)), cron.WithLogger(l)),
		jobs:      jobs,
		schedules: schedules,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if err := s.add("entitlement sweep", s.schedules.EntitlementSweep, s.SweepEntitlements); err != nil {
		return err
	}
	if err := s.add("checkout expiry", s.schedules.CheckoutExpiry, s.ExpireCheckouts); err != nil {
		return err
	}
	if err := s.add("pending checkout grants", s.schedules.PendingGrants, s.ResumeGrants); err != nil {
		return err
	}
	if err := s.add("snapshot", s.schedules.Snapshot, s.TakeSnapshot); err != nil {
		return err
	}
	if s.jobs.Snapshots != nil {
		if err := s.add("stuck snapshot cleanup", stuckSnapshotSpec, s.FailStuckSnapshots); err != nil {
			return err
		}
	}
	s.cron.Start()
	log.Infof("[Scheduler] Started with %d job(s)", len(s.cron.Entries()))
	return nil
}

// Stop gracefully stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info("[Scheduler] Stopped")
}

func (s *Scheduler) add(name, spec string, fn func()) error {
	if spec == "" {
		log.Infof("[Scheduler] %s disabled", name)
		return nil
	}
	if _, err := s.cron.AddFunc(spec, fn); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	log.Infof("[Scheduler] Scheduled %s: %s", name, spec)
	return nil
}

// SweepEntitlements revokes every entitlement past its expiry.
func (s *Scheduler) SweepEntitlements() {
	if s.jobs.Ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.jobs.Ledger.SweepExpired(ctx); err != nil {
		log.Errorf("[Scheduler] Entitlement sweep failed: %v", err)
	}
}

// ExpireCheckouts closes open checkout sessions past their deadline.
func (s *Scheduler) ExpireCheckouts() {
	if s.jobs.Checkout == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if n, err := s.jobs.Checkout.ExpireStale(ctx); err != nil {
		log.Errorf("[Scheduler] Checkout expiry failed: %v", err)
	} else if n > 0 {
		log.Infof("[Scheduler] Expired %d checkout session(s)", n)
	}
}

// ResumeGrants completes paid checkouts whose buyer had no account at confirmation time.
func (s *Scheduler) ResumeGrants() {
	if s.jobs.Grants == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.jobs.Grants.ResumeUngranted(ctx); err != nil {
		log.Errorf("[Scheduler] Pending checkout grants failed: %v", err)
	}
}

// TakeSnapshot starts a full snapshot and exports it in the background when a queue
// is available.
func (s *Scheduler) TakeSnapshot() {
	if s.jobs.Snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	snap, err := s.jobs.Snapshots.Start(ctx, nil, nil)
	if err != nil {
		log.Errorf("[Scheduler] Could not start snapshot: %v", err)
		return
	}
	if s.jobs.Queue != nil {
		err := s.jobs.Queue.EnqueueSnapshotExport(ctx, snap.ID)
		if err == nil {
			return
		}
		log.Warnf("[Scheduler] Could not enqueue snapshot %s, exporting inline: %v", snap.ID, err)
	}
	if _, err := s.jobs.Snapshots.Run(ctx, snap.ID); err != nil {
		log.Errorf("[Scheduler] Snapshot %s failed: %v", snap.ID, err)
	}
}

// FailStuckSnapshots closes snapshots whose export never finished.
func (s *Scheduler) FailStuckSnapshots() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.jobs.Snapshots.FailStuck(ctx, stuckSnapshotAge); err != nil {
		log.Errorf("[Scheduler] Stuck snapshot cleanup failed: %v", err)
	}
}

// cronLogger routes cron's own messages to the fiber logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debugf("[Scheduler] %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Errorf("[Scheduler] %s: %v %v", msg, err, keysAndValues)
}

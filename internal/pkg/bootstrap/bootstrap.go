// Package bootstrap wires the services of the billing engine from configuration.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/pharmalink/pharmalink/app/repository"
	"github.com/pharmalink/pharmalink/internal/pkg/audit"
	"github.com/pharmalink/pharmalink/internal/pkg/billing"
	"github.com/pharmalink/pharmalink/internal/pkg/config"
	"github.com/pharmalink/pharmalink/internal/pkg/entitlements"
	"github.com/pharmalink/pharmalink/internal/pkg/events"
	"github.com/pharmalink/pharmalink/internal/pkg/evidence"
	"github.com/pharmalink/pharmalink/internal/pkg/jobqueue"
	"github.com/pharmalink/pharmalink/internal/pkg/mail"
	"github.com/pharmalink/pharmalink/internal/pkg/manualpay"
	"github.com/pharmalink/pharmalink/internal/pkg/notify"
	"github.com/pharmalink/pharmalink/internal/pkg/reimbursement"
	"github.com/pharmalink/pharmalink/internal/pkg/scheduler"
	"github.com/pharmalink/pharmalink/internal/pkg/statistics"
	"github.com/pharmalink/pharmalink/internal/pkg/storage"
)

// Services holds every long-lived component. Queue and Publisher are nil when Redis
// or RabbitMQ are not configured.
type Services struct {
	Config       *config.Config
	DB           *gorm.DB
	Redis        *redis.Client
	Repositories *repository.Repositories
	Notifier     notify.Notifier
	Publisher    *events.Publisher
	Recorder     *audit.Recorder
	Ledger       *entitlements.Ledger
	Objects      storage.ObjectStore
	Evidence     *evidence.Store
	Snapshots    *audit.Snapshotter
	Checkout     *billing.Service
	ManualPay    *manualpay.Service
	Calculator   *reimbursement.Calculator
	Queue        *jobqueue.Queue
	Statistics   *statistics.Service
}

// Build creates the services. redisClient may be nil; background retries and
// queued exports are then disabled.
func Build(ctx context.Context, cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Services, error) {
	s := &Services{Config: cfg, DB: db, Redis: redisClient}
	s.Repositories = repository.NewFactory(db).GetRepositories()

	channels := make([]notify.Notifier, 0, 2)
	if m := mail.NewMailer(cfg, s.Repositories.Account.EmailOf); m != nil {
		channels = append(channels, m)
	}
	if cfg.AMQPURL != "" {
		pub, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			// Events are best-effort; the engine keeps running without them.
			log.Errorf("[Events] RabbitMQ unavailable, domain events disabled: %v", err)
		} else {
			s.Publisher = pub
			channels = append(channels, pub)
		}
	}
	s.Notifier = notify.NewDispatcher(channels...)

	s.Recorder = audit.NewRecorder(db, s.Notifier)
	s.Ledger = entitlements.NewLedger(db, entitlements.NewCatalog(cfg), s.Recorder, s.Notifier)

	objects, err := storage.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	s.Objects = objects
	s.Evidence = evidence.NewStore(objects, cfg.EvidenceMaxBytes)
	s.Snapshots = audit.NewSnapshotter(db, objects, s.Notifier)

	calc, err := reimbursement.NewCalculatorFromString(cfg.ReimbursementStandardRate)
	if err != nil {
		return nil, fmt.Errorf("reimbursement rate: %w", err)
	}
	s.Calculator = calc

	s.Checkout = billing.NewService(db, s.Ledger, billing.NewChargilyClient(cfg), nil, s.Notifier, billing.Options{
		SessionTTL: cfg.CheckoutSessionTTL,
		SuccessURL: cfg.CheckoutSuccessURL,
		FailureURL: cfg.CheckoutFailureURL,
	})
	s.ManualPay = manualpay.NewService(db, s.Ledger, s.Recorder, s.Notifier, manualpay.Options{
		StrictAmount: cfg.ManualPaymentStrictAmount,
	})
	s.Statistics = statistics.NewService(db, redisClient)

	if redisClient != nil {
		s.Queue = jobqueue.NewQueue(redisClient, jobqueue.Options{
			Workers:    cfg.JobWorkers,
			MaxRetries: cfg.JobMaxRetries,
			RetryDelay: cfg.JobRetryDelay,
		})
		s.Queue.Register(jobqueue.JobTypeConfirmationRetry, jobqueue.ConfirmationRetryHandler(s.Checkout))
		s.Queue.Register(jobqueue.JobTypeSnapshotExport, jobqueue.SnapshotExportHandler(s.Snapshots))
		s.Checkout.SetRetryQueue(s.Queue)
	}
	return s, nil
}

// Scheduler builds the cron scheduler over the services.
func (s *Services) Scheduler() *scheduler.Scheduler {
	jobs := scheduler.Jobs{
		Ledger:    s.Ledger,
		Checkout:  s.Checkout,
		Grants:    s.Checkout,
		Snapshots: s.Snapshots,
	}
	if s.Queue != nil {
		jobs.Queue = s.Queue
	}
	return scheduler.New(jobs, scheduler.Schedules{
		EntitlementSweep: s.Config.EntitlementSweepSchedule,
		CheckoutExpiry:   s.Config.CheckoutExpirySchedule,
		PendingGrants:    s.Config.CheckoutGrantSchedule,
		Snapshot:         s.Config.SnapshotSchedule,
	})
}

// Close releases the message broker connection and stops the workers.
func (s *Services) Close() {
	if s.Queue != nil {
		s.Queue.Stop()
	}
	if s.Publisher != nil {
		s.Publisher.Close()
	}
}

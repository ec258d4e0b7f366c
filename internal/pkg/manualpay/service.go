// Package manualpay runs the review workflow of bank-transfer receipts (BaridiMob)
// submitted by account holders and approved or rejected by an administrator.
package manualpay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/pharmalink/pharmalink/app/models"
	"github.com/pharmalink/pharmalink/app/repository"
	"github.com/pharmalink/pharmalink/internal/pkg/apperr"
	"github.com/pharmalink/pharmalink/internal/pkg/entitlements"
	"github.com/pharmalink/pharmalink/internal/pkg/notify"
)

// SubmitInput is a receipt declared by an account holder.
type SubmitInput struct {
	AccountID   uint
	Plan        string
	Amount      int64
	EvidenceRef string
}

// Options configures the review workflow.
type Options struct {
	// StrictAmount requires the declared amount to equal the plan price.
	StrictAmount bool
}

// Service owns the pending → approved | rejected state machine. Only Approve
// proposes a grant to the ledger.
type Service struct {
	db       *gorm.DB
	repo     repository.ManualPaymentRepository
	ledger   *entitlements.Ledger
	audit    entitlements.AuditRecorder
	notifier notify.Notifier
	opts     Options
	now      func() time.Time
}

// NewService creates the workflow. audit and notifier may be nil.
func NewService(db *gorm.DB, ledger *entitlements.Ledger, audit entitlements.AuditRecorder, notifier notify.Notifier, opts Options) *Service {
	return &Service{
		db:       db,
		repo:     repository.NewManualPaymentRepository(db),
		ledger:   ledger,
		audit:    audit,
		notifier: notify.OrNop(notifier),
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Submit records a pending submission. The ledger is not touched.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*models.ManualPaymentSubmission, error) {
	plan, err := entitlements.ParsePaidPlan(in.Plan)
	if err != nil {
		return nil, err
	}
	if in.Amount <= 0 {
		return nil, apperr.Validation("amount must be positive")
	}
	evidence := strings.TrimSpace(in.EvidenceRef)
	if evidence == "" {
		return nil, apperr.Validation("evidence is required")
	}
	catalog := s.ledger.Catalog()
	if s.opts.StrictAmount {
		price, err := catalog.Price(plan)
		if err != nil {
			return nil, err
		}
		if in.Amount != price {
			return nil, apperr.Validation("declared amount %d does not match the %s price %d", in.Amount, plan, price)
		}
	}

	accounts := repository.NewAccountRepository(s.db)
	acc, err := accounts.GetByID(ctx, in.AccountID)
	if err != nil {
		return nil, apperr.FromDB(fmt.Sprintf("account %d", in.AccountID), err)
	}

	sub := &models.ManualPaymentSubmission{
		AccountID:   in.AccountID,
		Plan:        string(plan),
		Amount:      in.Amount,
		Currency:    catalog.Currency,
		EvidenceRef: evidence,
		Status:      models.SubmissionStatusPending,
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, apperr.Storage("create manual payment submission", err)
	}

	s.record(ctx, models.AuditOpCreate, sub, nil, acc.Role, &acc.ID)
	_ = s.notifier.Notify(ctx, notify.Message{
		Kind:      notify.KindManualPaymentSubmitted,
		AccountID: sub.AccountID,
		Subject:   "Reçu reçu",
		Body:      fmt.Sprintf("Votre reçu de %d %s pour le plan %s est en cours de vérification.", sub.Amount, sub.Currency, sub.Plan),
		Data:      map[string]interface{}{"submission_id": sub.ID, "plan": sub.Plan},
	})
	log.Infof("[ManualPay] Submission %d by account %d for %s (%d %s)", sub.ID, sub.AccountID, sub.Plan, sub.Amount, sub.Currency)
	return sub, nil
}

// Approve moves a pending submission to approved and grants its plan in the same
// transaction. If the grant fails the submission stays pending.
func (s *Service) Approve(ctx context.Context, submissionID, reviewerID uint) (*models.ManualPaymentSubmission, error) {
	reviewedAt := s.now()
	var sub models.ManualPaymentSubmission
	var before models.ManualPaymentSubmission
	var outcome *entitlements.GrantOutcome

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		before, err = s.claim(tx, submissionID, models.SubmissionStatusApproved, map[string]interface{}{
			"reviewed_by": reviewerID,
			"reviewed_at": reviewedAt,
		})
		if err != nil {
			return err
		}
		if err := tx.First(&sub, submissionID).Error; err != nil {
			return apperr.Storage("reload manual payment submission", err)
		}

		outcome, err = s.ledger.GrantTx(ctx, tx, entitlements.GrantRequest{
			AccountID:      sub.AccountID,
			Plan:           entitlements.Plan(sub.Plan),
			Source:         entitlements.SourceManual,
			IdempotencyKey: "manual:" + strconv.FormatUint(uint64(sub.ID), 10),
			ActorID:        &reviewerID,
			ActorRole:      models.RoleAdmin,
			At:             reviewedAt,
		})
		return err
	})
	if err != nil {
		if !errors.Is(err, apperr.ErrAlreadyReviewed) && !errors.Is(err, apperr.ErrNotFound) {
			log.Errorf("[ManualPay] Approval of submission %d failed, left pending: %v", submissionID, err)
		}
		return nil, apperr.FromDB("approve manual payment", err)
	}

	s.record(ctx, models.AuditOpApprove, &sub, &before, models.RoleAdmin, &reviewerID)
	s.ledger.Publish(ctx, outcome)
	_ = s.notifier.Notify(ctx, notify.Message{
		Kind:      notify.KindManualPaymentApproved,
		AccountID: sub.AccountID,
		Subject:   "Paiement validé",
		Body:      fmt.Sprintf("Votre paiement pour le plan %s a été validé.", sub.Plan),
		Data:      map[string]interface{}{"submission_id": sub.ID, "plan": sub.Plan},
	})
	log.Infof("[ManualPay] Submission %d approved by %d", sub.ID, reviewerID)
	return &sub, nil
}

// Reject moves a pending submission to rejected. The ledger is never touched.
func (s *Service) Reject(ctx context.Context, submissionID, reviewerID uint, reason string) (*models.ManualPaymentSubmission, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("a rejection reason is required")
	}

	var sub models.ManualPaymentSubmission
	var before models.ManualPaymentSubmission
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		before, err = s.claim(tx, submissionID, models.SubmissionStatusRejected, map[string]interface{}{
			"reviewed_by":      reviewerID,
			"reviewed_at":      s.now(),
			"rejection_reason": reason,
		})
		if err != nil {
			return err
		}
		return tx.First(&sub, submissionID).Error
	})
	if err != nil {
		return nil, apperr.FromDB("reject manual payment", err)
	}

	s.record(ctx, models.AuditOpReject, &sub, &before, models.RoleAdmin, &reviewerID)
	_ = s.notifier.Notify(ctx, notify.Message{
		Kind:      notify.KindManualPaymentRejected,
		AccountID: sub.AccountID,
		Subject:   "Paiement refusé",
		Body:      fmt.Sprintf("Votre reçu pour le plan %s a été refusé : %s", sub.Plan, reason),
		Data:      map[string]interface{}{"submission_id": sub.ID, "reason": reason},
	})
	log.Infof("[ManualPay] Submission %d rejected by %d", sub.ID, reviewerID)
	return &sub, nil
}

// claim applies the pending → to transition if the submission is still pending and
// returns the submission as it was before.
func (s *Service) claim(tx *gorm.DB, id uint, to models.SubmissionStatus, extra map[string]interface{}) (models.ManualPaymentSubmission, error) {
	var before models.ManualPaymentSubmission
	if err := tx.First(&before, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return before, apperr.NotFound("manual payment submission %d", id)
		}
		return before, apperr.Storage("load manual payment submission", err)
	}

	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := tx.Model(&models.ManualPaymentSubmission{}).
		Where("id = ? AND status = ?", id, models.SubmissionStatusPending).
		Updates(updates)
	if res.Error != nil {
		return before, apperr.Storage("update manual payment submission", res.Error)
	}
	if res.RowsAffected == 0 {
		var current models.ManualPaymentSubmission
		if err := tx.Select("status").First(&current, id).Error; err == nil {
			return before, apperr.AlreadyReviewed("manual payment submission %d is %s", id, current.Status)
		}
		return before, apperr.AlreadyReviewed("manual payment submission %d", id)
	}
	return before, nil
}

// Get loads one submission.
func (s *Service) Get(ctx context.Context, id uint) (*models.ManualPaymentSubmission, error) {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.FromDB(fmt.Sprintf("manual payment submission %d", id), err)
	}
	return sub, nil
}

// List returns submissions matching f and the total count.
func (s *Service) List(ctx context.Context, f repository.ManualPaymentFilter) ([]models.ManualPaymentSubmission, int64, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Status != "" {
		switch f.Status {
		case models.SubmissionStatusPending, models.SubmissionStatusApproved, models.SubmissionStatusRejected:
		default:
			return nil, 0, apperr.Validation("unknown status %q", f.Status)
		}
	}
	subs, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, 0, apperr.Storage("list manual payment submissions", err)
	}
	return subs, total, nil
}

func (s *Service) record(ctx context.Context, op string, sub *models.ManualPaymentSubmission, before *models.ManualPaymentSubmission, role string, actorID *uint) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditEntry{
		EntityTable: models.ManualPaymentSubmission{}.TableName(),
		Operation:   op,
		EntityID:    strconv.FormatUint(uint64(sub.ID), 10),
		ActorID:     actorID,
		ActorRole:   role,
		After:       toJSON(sub),
	}
	if before != nil {
		entry.Before = toJSON(before)
	}
	s.audit.Record(ctx, entry)
}

func toJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

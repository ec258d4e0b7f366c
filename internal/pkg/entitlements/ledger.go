package entitlements

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
	"gorm.io/gorm/clause"

	"github.com/pharmalink/pharmalink/app/models"
	"github.com/pharmalink/pharmalink/internal/pkg/apperr"
	"github.com/pharmalink/pharmalink/internal/pkg/notify"
)

const actorRoleSystem = "system"

// sweepBatchSize bounds how many expired accounts one sweep pass loads.
const sweepBatchSize = 500

// AuditRecorder receives one entry per applied grant or revoke.
type AuditRecorder interface {
	Record(ctx context.Context, entry *models.AuditEntry)
}

// Record is the entitlement view of an account.
type Record struct {
	AccountID   uint       `json:"account_id"`
	Plan        Plan       `json:"plan"`
	IsApproved  bool       `json:"is_approved"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Active      bool       `json:"active"`
}

// GrantRequest proposes a plan for an account. The duration is never part of the
// request: it comes from the Catalog for Plan and Source.
type GrantRequest struct {
	AccountID      uint
	Plan           Plan
	Source         Source
	IdempotencyKey string
	ActorID        *uint
	ActorRole      string
	// At is the business time of the event (approval or confirmation). Zero or
	// future values are clamped to now.
	At time.Time
}

// GrantOutcome is the result of GrantTx. Applied is false when the idempotency key
// was already consumed.
type GrantOutcome struct {
	Record  Record
	Applied bool

	req    GrantRequest
	before accountState
	after  accountState
}

type accountState struct {
	Plan        string     `json:"plan"`
	IsApproved  bool       `json:"is_approved"`
	ActivatedAt *time.Time `json:"activated_at"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

func stateOf(a *models.Account) accountState {
	return accountState{Plan: a.Plan, IsApproved: a.IsApproved, ActivatedAt: a.ActivatedAt, ExpiresAt: a.ExpiresAt}
}

// Ledger is the only writer of Account.Plan, IsApproved, ActivatedAt and ExpiresAt.
type Ledger struct {
	db       *gorm.DB
	catalog  Catalog
	audit    AuditRecorder
	notifier notify.Notifier
	now      func() time.Time
}

// NewLedger creates a ledger. notifier may be nil.
func NewLedger(db *gorm.DB, catalog Catalog, audit AuditRecorder, notifier notify.Notifier) *Ledger {
	return &Ledger{
		db:       db,
		catalog:  catalog,
		audit:    audit,
		notifier: notify.OrNop(notifier),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Catalog returns the price and duration table used by the ledger.
func (l *Ledger) Catalog() Catalog {
	return l.catalog
}

// Grant applies req in its own transaction and publishes the audit entry after commit.
func (l *Ledger) Grant(ctx context.Context, req GrantRequest) (Record, error) {
	var out *GrantOutcome
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = l.GrantTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return Record{}, apperr.FromDB("grant entitlement", err)
	}
	l.Publish(ctx, out)
	return out.Record, nil
}

// GrantTx applies req inside the caller's transaction. The caller must call Publish
// once the transaction has committed.
func (l *Ledger) GrantTx(ctx context.Context, tx *gorm.DB, req GrantRequest) (*GrantOutcome, error) {
	if err := l.validate(req); err != nil {
		return nil, err
	}

	now := l.now()
	at := req.At.UTC()
	if req.At.IsZero() || at.After(now) {
		at = now
	}

	var acc models.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&acc, req.AccountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("account %d", req.AccountID)
	}
	if err != nil {
		return nil, apperr.Storage("load account", err)
	}

	expiresAt := at.Add(l.catalog.Duration(req.Plan, req.Source))
	// An active grant of the same plan is never shortened.
	if Plan(acc.Plan) == req.Plan && acc.ExpiresAt != nil && acc.ExpiresAt.After(expiresAt) {
		expiresAt = acc.ExpiresAt.UTC()
	}

	grant := &models.EntitlementGrant{
		IdempotencyKey: req.IdempotencyKey,
		AccountID:      acc.ID,
		Plan:           string(req.Plan),
		Source:         string(req.Source),
		ActorID:        req.ActorID,
		ActivatedAt:    at,
		ExpiresAt:      expiresAt,
	}
	res := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(grant)
	if res.Error != nil {
		return nil, apperr.Storage("insert entitlement grant", res.Error)
	}
	if res.RowsAffected == 0 {
		log.Infof("[Ledger] Grant %s already applied, skipping", req.IdempotencyKey)
		return &GrantOutcome{Record: l.recordOf(&acc, now), req: req}, nil
	}

	before := stateOf(&acc)
	err = tx.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", acc.ID).
		Updates(map[string]interface{}{
			"plan":         string(req.Plan),
			"is_approved":  true,
			"activated_at": at,
			"expires_at":   expiresAt,
		}).Error
	if err != nil {
		return nil, apperr.Storage("update account entitlement", err)
	}

	acc.Plan = string(req.Plan)
	acc.IsApproved = true
	acc.ActivatedAt = &at
	acc.ExpiresAt = &expiresAt

	return &GrantOutcome{
		Record:  l.recordOf(&acc, now),
		Applied: true,
		req:     req,
		before:  before,
		after:   stateOf(&acc),
	}, nil
}

// Publish emits the audit entry and notification of an applied grant.
func (l *Ledger) Publish(ctx context.Context, out *GrantOutcome) {
	if out == nil || !out.Applied {
		return
	}
	l.record(ctx, models.AuditOpGrant, out.Record.AccountID, out.req.ActorID, out.req.ActorRole, out.before, out.after)

	log.Infof("[Ledger] Granted %s to account %d via %s until %s",
		out.Record.Plan, out.Record.AccountID, out.req.Source, out.Record.ExpiresAt.Format(time.RFC3339))

	_ = l.notifier.Notify(ctx, notify.Message{
		Kind:      notify.KindEntitlementGranted,
		AccountID: out.Record.AccountID,
		Subject:   "Votre abonnement est actif",
		Body:      fmt.Sprintf("Plan %s actif jusqu'au %s.", out.Record.Plan, out.Record.ExpiresAt.Format("02/01/2006")),
		Data: map[string]interface{}{
			"plan":       string(out.Record.Plan),
			"source":     string(out.req.Source),
			"expires_at": out.Record.ExpiresAt,
		},
	})
}

// Revoke returns an account to the free plan.
func (l *Ledger) Revoke(ctx context.Context, accountID uint, actorID *uint) (Record, error) {
	now := l.now()
	var acc models.Account
	var before accountState

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&acc, accountID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("account %d", accountID)
		}
		if err != nil {
			return apperr.Storage("load account", err)
		}
		before = stateOf(&acc)
		if err := tx.Model(&models.Account{}).Where("id = ?", accountID).Updates(revokedColumns()).Error; err != nil {
			return apperr.Storage("revoke entitlement", err)
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}

	acc.Plan = string(PlanFree)
	acc.ActivatedAt = nil
	acc.ExpiresAt = nil

	role := actorRoleSystem
	if actorID != nil {
		role = models.RoleAdmin
	}
	l.record(ctx, models.AuditOpRevoke, accountID, actorID, role, before, stateOf(&acc))
	l.notifyRevoked(ctx, accountID, before.Plan)
	log.Infof("[Ledger] Revoked %s from account %d", before.Plan, accountID)

	return l.recordOf(&acc, now), nil
}

// GetStatus returns the current entitlement of an account.
func (l *Ledger) GetStatus(ctx context.Context, accountID uint) (Record, error) {
	var acc models.Account
	if err := l.db.WithContext(ctx).First(&acc, accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Record{}, apperr.NotFound("account %d", accountID)
		}
		return Record{}, apperr.Storage("load account", err)
	}
	return l.recordOf(&acc, l.now()), nil
}

// SweepExpired revokes every paid account whose expiry has passed. Each row is
// revoked with a conditional update, so a grant committed after the candidate scan wins.
func (l *Ledger) SweepExpired(ctx context.Context) (int, error) {
	now := l.now()
	var candidates []models.Account
	err := l.db.WithContext(ctx).
		Where("plan <> ? AND expires_at IS NOT NULL AND expires_at <= ?", string(PlanFree), now).
		Order("expires_at ASC").
		Limit(sweepBatchSize).
		Find(&candidates).Error
	if err != nil {
		return 0, apperr.Storage("find expired accounts", err)
	}

	revoked := 0
	for i := range candidates {
		acc := candidates[i]
		res := l.db.WithContext(ctx).Model(&models.Account{}).
			Where("id = ? AND plan <> ? AND expires_at IS NOT NULL AND expires_at <= ?", acc.ID, string(PlanFree), now).
			Updates(revokedColumns())
		if res.Error != nil {
			return revoked, apperr.Storage("revoke expired account", res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		revoked++

		before := stateOf(&acc)
		after := accountState{Plan: string(PlanFree), IsApproved: acc.IsApproved}
		l.record(ctx, models.AuditOpRevoke, acc.ID, nil, actorRoleSystem, before, after)
		l.notifyRevoked(ctx, acc.ID, before.Plan)
	}

	if revoked > 0 {
		log.Infof("[Ledger] Expiry sweep revoked %d account(s)", revoked)
	}
	return revoked, nil
}

func (l *Ledger) validate(req GrantRequest) error {
	if req.AccountID == 0 {
		return apperr.Validation("account id is required")
	}
	if !req.Plan.IsPaid() {
		return apperr.Validation("plan %q cannot be granted", req.Plan)
	}
	if req.Source != SourceCheckout && req.Source != SourceManual {
		return apperr.Validation("unknown grant source %q", req.Source)
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return apperr.Validation("idempotency key is required")
	}
	return nil
}

func (l *Ledger) recordOf(acc *models.Account, now time.Time) Record {
	r := Record{
		AccountID:   acc.ID,
		Plan:        Plan(acc.Plan),
		IsApproved:  acc.IsApproved,
		ActivatedAt: acc.ActivatedAt,
		ExpiresAt:   acc.ExpiresAt,
	}
	r.Active = r.Plan.IsPaid() && r.IsApproved && r.ExpiresAt != nil && r.ExpiresAt.After(now)
	return r
}

func (l *Ledger) record(ctx context.Context, op string, accountID uint, actorID *uint, actorRole string, before, after accountState) {
	if l.audit == nil {
		return
	}
	if actorRole == "" {
		actorRole = actorRoleSystem
	}
	l.audit.Record(ctx, &models.AuditEntry{
		EntityTable: models.Account{}.TableName(),
		Operation:   op,
		EntityID:    strconv.FormatUint(uint64(accountID), 10),
		ActorID:     actorID,
		ActorRole:   actorRole,
		Before:      mustJSON(before),
		After:       mustJSON(after),
	})
}

func (l *Ledger) notifyRevoked(ctx context.Context, accountID uint, previousPlan string) {
	_ = l.notifier.Notify(ctx, notify.Message{
		Kind:      notify.KindEntitlementRevoked,
		AccountID: accountID,
		Subject:   "Votre abonnement a pris fin",
		Body:      fmt.Sprintf("Le plan %s n'est plus actif sur votre compte.", previousPlan),
		Data:      map[string]interface{}{"previous_plan": previousPlan},
	})
}

// revokedColumns resets the entitlement window. is_approved tracks identity
// verification and survives a revoke.
func revokedColumns() map[string]interface{} {
	return map[string]interface{}{
		"plan":         string(PlanFree),
		"activated_at": nil,
		"expires_at":   nil,
	}
}

func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

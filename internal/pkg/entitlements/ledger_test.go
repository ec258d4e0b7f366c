package entitlements

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pharmalink/pharmalink/app/models"
	"github.com/pharmalink/pharmalink/internal/pkg/apperr"
	"github.com/pharmalink/pharmalink/internal/pkg/database/dbtest"
)

type recordingAudit struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (r *recordingAudit) Record(_ context.Context, e *models.AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *e)
}

func (r *recordingAudit) ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Operation)
	}
	return out
}

var testNow = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, *gorm.DB, *recordingAudit) {
	t.Helper()
	db := dbtest.Open(t)
	audit := &recordingAudit{}
	l := NewLedger(db, DefaultCatalog(), audit, nil)
	l.SetClock(func() time.Time { return testNow })
	return l, db, audit
}

func TestGrantSetsPlanAndExpiry(t *testing.T) {
	l, db, audit := newTestLedger(t)
	acc := dbtest.CreateAccount(t, db, "sub-1", "amina@example.dz")

	rec, err := l.Grant(context.Background(), GrantRequest{
		AccountID:      acc.ID,
		Plan:           PlanPremium,
		Source:         SourceManual,
		IdempotencyKey: "manual:1",
		At:             testNow,
	})
	require.NoError(t, err)

	assert.Equal(t, PlanPremium, rec.Plan)
	assert.True(t, rec.IsApproved)
	assert.True(t, rec.Active)
	require.NotNil(t, rec.ExpiresAt)
	assert.True(t, rec.ExpiresAt.Equal(testNow.Add(30*24*time.Hour)))

	stored := dbtest.ReloadAccount(t, db, acc.ID)
	assert.Equal(t, "premium", stored.Plan)
	assert.True(t, stored.ExpiresAt.Equal(testNow.Add(30*24*time.Hour)))
	assert.Equal(t, []string{models.AuditOpGrant}, audit.ops())
}

func TestGrantIsIdempotentPerKey(t *testing.T) {
	l, db, audit := newTestLedger(t)
	acc := dbtest.CreateAccount(t, db, "sub-2", "")
	req := GrantRequest{AccountID: acc.ID, Plan: PlanProfessional, Source: SourceCheckout, IdempotencyKey: "checkout:cs_1"}

	first, err := l.Grant(context.Background(), req)
	require.NoError(t, err)

	l.SetClock(func() time.Time { return testNow.Add(time.Hour) })
	second, err := l.Grant(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, first.ExpiresAt.Equal(*second.ExpiresAt))
	var grants int64
	require.NoError(t, db.Model(&models.EntitlementGrant{}).Count(&grants).Error)
	assert.Equal(t, int64(1), grants)
	assert.Len(t, audit.ops(), 1)
}

func TestGrantNeverShortensSamePlan(t *testing.T) {
	l, db, _ := newTestLedger(t)
	acc := dbtest.CreateAccount(t, db, "sub-3", "")
	later := testNow.Add(50 * 24 * time.Hour)
	require.NoError(t, db.Model(acc).Updates(map[string]interface{}{
		"plan": "premium", "is_approved": true, "activated_at": testNow, "expires_at": later,
	}).Error)

	rec, err := l.Grant(context.Background(), GrantRequest{
		AccountID: acc.ID, Plan: PlanPremium, Source: SourceManual, IdempotencyKey: "manual:3",
	})
	require.NoError(t, err)
	assert.True(t, rec.ExpiresAt.Equal(later))
}

func TestGrantOtherPlanReplacesExpiry(t *testing.T) {
	l, db, _ := newTestLedger(t)
	acc := dbtest.CreateAccount(t, db, "sub-4", "")
	require.NoError(t, db.Model(acc).Updates(map[string]interface{}{
		"plan": "premium", "is_approved": true, "expires_at": testNow.Add(50 * 24 * time.Hour),
	}).Error)

	rec, err := l.Grant(context.Background(), GrantRequest{
		AccountID: acc.ID, Plan: PlanEnterprise, Source: SourceManual, IdempotencyKey: "manual:4",
	})
	require.NoError(t, err)
	assert.Equal(t, PlanEnterprise, rec.Plan)
	assert.True(t, rec.ExpiresAt.Equal(testNow.Add(30*24*time.Hour)))
}

func TestGrantClampsFutureEventTime(t *testing.T) {
	l, db, _ := newTestLedger(t)
	acc := dbtest.CreateAccount(t, db, "sub-5", "")

	rec, err := l.Grant(context.Background(), GrantRequest{
		AccountID: acc.ID, Plan: PlanPremium, Source: SourceManual, IdempotencyKey: "manual:5",
		At: testNow.Add(72 * time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, rec.ActivatedAt.Equal(testNow))
}

func TestGrantUnknownAccount(t *testing.T) {
	l, db, audit := newTestLedger(t)

	_, err := l.Grant(context.Background(), GrantRequest{
		AccountID: 999, Plan: PlanPremium, Source: SourceManual, IdempotencyKey: "manual:x",
	})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	var grants int64
	require.NoError(t, db.Model(&models.EntitlementGrant{}).Count(&grants).Error)
	assert.Zero(t, grants)
	assert.Empty(t, audit.ops())
}

func TestGrantValidation(t *testing.T) {
	l, db, _ := newTestLedger(t)
	acc := dbtest.CreateAccount(t, db, "sub-6", "")

	tests := []GrantRequest{
		{AccountID: acc.ID, Plan: PlanFree, Source: SourceManual, IdempotencyKey: "k"},
		{AccountID: acc.ID, Plan: PlanPremium, Source: "gift", IdempotencyKey: "k"},
		{AccountID: acc.ID, Plan: PlanPremium, Source: SourceManual},
		{Plan: PlanPremium, Source: SourceManual, IdempotencyKey: "k"},
	}
	for _, req := range tests {
		_, err := l.Grant(context.Background(), req)
		assert.True(t, errors.Is(err, apperr.ErrValidation), "%+v", req)
	}
}

func TestRevoke(t *testing.T) {
	l, db, audit := newTestLedger(t)
	acc := dbtest.CreateAccount(t, db, "sub-7", "")
	_, err := l.Grant(context.Background(), GrantRequest{
		AccountID: acc.ID, Plan: PlanPremium, Source: SourceManual, IdempotencyKey: "manual:7",
	})
	require.NoError(t, err)

	admin := uint(42)
	rec, err := l.Revoke(context.Background(), acc.ID, &admin)
	require.NoError(t, err)
	assert.Equal(t, PlanFree, rec.Plan)
	assert.False(t, rec.Active)
	assert.Nil(t, rec.ExpiresAt)

	stored := dbtest.ReloadAccount(t, db, acc.ID)
	assert.Equal(t, "free", stored.Plan)
	assert.Nil(t, stored.ActivatedAt)
	assert.True(t, stored.IsApproved, "revoke keeps the verification flag")
	assert.Equal(t, []string{models.AuditOpGrant, models.AuditOpRevoke}, audit.ops())

	_, err = l.Revoke(context.Background(), 12345, nil)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestGetStatus(t *testing.T) {
	l, db, _ := newTestLedger(t)
	acc := dbtest.CreateAccount(t, db, "sub-8", "")

	rec, err := l.GetStatus(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Equal(t, PlanFree, rec.Plan)
	assert.False(t, rec.Active)

	_, err = l.GetStatus(context.Background(), 777)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestSweepExpired(t *testing.T) {
	l, db, audit := newTestLedger(t)
	expired := dbtest.CreateAccount(t, db, "sub-9", "")
	active := dbtest.CreateAccount(t, db, "sub-10", "")
	dbtest.CreateAccount(t, db, "sub-11", "")

	require.NoError(t, db.Model(expired).Updates(map[string]interface{}{
		"plan": "premium", "is_approved": true, "expires_at": testNow.Add(-time.Minute),
	}).Error)
	require.NoError(t, db.Model(active).Updates(map[string]interface{}{
		"plan": "enterprise", "is_approved": true, "expires_at": testNow.Add(24 * time.Hour),
	}).Error)

	n, err := l.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	swept := dbtest.ReloadAccount(t, db, expired.ID)
	assert.Equal(t, "free", swept.Plan)
	assert.Nil(t, swept.ExpiresAt)
	assert.True(t, swept.IsApproved)
	assert.Equal(t, "enterprise", dbtest.ReloadAccount(t, db, active.ID).Plan)
	assert.Equal(t, []string{models.AuditOpRevoke}, audit.ops())

	n, err = l.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

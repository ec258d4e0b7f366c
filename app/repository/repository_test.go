package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pharmalink/pharmalink/app/models"
	"github.com/pharmalink/pharmalink/internal/pkg/database/dbtest"
)

func TestEnsureFromIdentity(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	acc, err := repo.EnsureFromIdentity(ctx, "sub-1", " Amina@Example.DZ ", "")
	require.NoError(t, err)
	assert.NotZero(t, acc.ID)
	assert.Equal(t, "amina@example.dz", acc.Email)
	assert.Equal(t, models.RolePatient, acc.Role)
	assert.Equal(t, "free", acc.Plan)

	again, err := repo.EnsureFromIdentity(ctx, "sub-1", "amina.b@example.dz", "pharmacy")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, again.ID)
	assert.Equal(t, "amina.b@example.dz", again.Email)
	assert.Equal(t, models.RolePharmacy, again.Role)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestAccountLookups(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()
	first := dbtest.CreateAccount(t, db, "sub-1", "shared@example.dz")
	dbtest.CreateAccount(t, db, "sub-2", "shared@example.dz")

	acc, err := repo.GetByEmail(ctx, "SHARED@example.dz")
	require.NoError(t, err)
	assert.Equal(t, first.ID, acc.ID)

	email, err := repo.EmailOf(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "shared@example.dz", email)

	_, err = repo.GetByEmail(ctx, "  ")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	_, err = repo.GetByExternalID(ctx, "missing")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	list, err := repo.List(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "sub-2", list[0].ExternalID)
}

func TestManualPaymentList(t *testing.T) {
	db := dbtest.Open(t)
	repos := NewRepositories(db)
	ctx := context.Background()
	a := dbtest.CreateAccount(t, db, "sub-1", "a@example.dz")
	b := dbtest.CreateAccount(t, db, "sub-2", "b@example.dz")

	for _, s := range []*models.ManualPaymentSubmission{
		{AccountID: a.ID, Plan: "premium", Amount: 1500, EvidenceRef: "file:///r1.png"},
		{AccountID: b.ID, Plan: "professional", Amount: 3000, EvidenceRef: "file:///r2.png"},
		{AccountID: a.ID, Plan: "premium", Amount: 1500, EvidenceRef: "file:///r3.png", Status: models.SubmissionStatusRejected},
	} {
		require.NoError(t, repos.ManualPayment.Create(ctx, s))
	}

	pending, total, err := repos.ManualPayment.List(ctx, ManualPaymentFilter{Status: models.SubmissionStatusPending, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, pending, 2)
	assert.Equal(t, "DZD", pending[0].Currency)

	mine, total, err := repos.ManualPayment.List(ctx, ManualPaymentFilter{AccountID: a.ID, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, mine, 2)

	n, err := repos.ManualPayment.CountByStatus(ctx, models.SubmissionStatusRejected)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestFactoryReturnsSingletons(t *testing.T) {
	f := NewFactory(dbtest.Open(t))
	assert.Same(t, f.GetRepositories(), f.GetRepositories())
	assert.NotNil(t, f.GetAccountRepository())
	assert.NotNil(t, f.GetManualPaymentRepository())
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.DBDriver)
	assert.Equal(t, "3306", cfg.DBPort)
	assert.Equal(t, 60, cfg.CheckoutTrialDays)
	assert.Equal(t, 30, cfg.PlanDurationDays)
	assert.Equal(t, int64(1500), cfg.PlanPricePremium)
	assert.Equal(t, 30*time.Minute, cfg.CheckoutSessionTTL)
	assert.Equal(t, "@every 15m", cfg.EntitlementSweepSchedule)
	assert.Equal(t, "@every 10m", cfg.CheckoutGrantSchedule)
	assert.False(t, cfg.ManualPaymentStrictAmount)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("CHECKOUT_TRIAL_DAYS", "14")
	t.Setenv("PLAN_PRICE_ENTERPRISE", "9000")
	t.Setenv("CHECKOUT_SESSION_TTL", "45m")
	t.Setenv("MANUAL_PAYMENT_STRICT_AMOUNT", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "5432", cfg.DBPort)
	assert.Equal(t, 14, cfg.CheckoutTrialDays)
	assert.Equal(t, int64(9000), cfg.PlanPriceEnterprise)
	assert.Equal(t, 45*time.Minute, cfg.CheckoutSessionTTL)
	assert.True(t, cfg.ManualPaymentStrictAmount)
}

func TestValidateRejectsIncompleteS3(t *testing.T) {
	t.Setenv("S3_ENABLED", "true")
	t.Setenv("S3_BUCKET_NAME", "snapshots")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "oracle")

	_, err := Load()
	assert.ErrorContains(t, err, "oracle")
}

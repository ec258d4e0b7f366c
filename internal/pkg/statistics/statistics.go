// Package statistics computes the billing figures shown on the admin console and
// caches them in Redis.
package statistics

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/pharmalink/pharmalink/app/models"
	"github.com/pharmalink/pharmalink/internal/pkg/apperr"
)

const (
	CacheKeyBilling = "pharmalink:statistics:billing"
	CacheExpiration = 5 * time.Minute
)

// Data is the statistics snapshot of the billing tables.
type Data struct {
	TotalAccounts      int64            `json:"total_accounts"`
	AccountsByPlan     map[string]int64 `json:"accounts_by_plan"`
	ActivePaid         int64            `json:"active_paid"`
	PendingSubmissions int64            `json:"pending_submissions"`
	OpenSessions       int64            `json:"open_sessions"`
	GrantsToday        int64            `json:"grants_today"`
	GeneratedAt        time.Time        `json:"generated_at"`
}

// Service reads statistics from the cache, computing them on a miss. The Redis
// client may be nil, in which case every call hits the database.
type Service struct {
	db    *gorm.DB
	redis *redis.Client
	now   func() time.Time
}

// NewService creates a statistics service.
func NewService(db *gorm.DB, client *redis.Client) *Service {
	return &Service{db: db, redis: client, now: func() time.Time { return time.Now().UTC() }}
}

// Get returns cached statistics, or fresh ones when the cache is empty or unreachable.
func (s *Service) Get(ctx context.Context) (*Data, error) {
	if s.redis != nil {
		raw, err := s.redis.Get(ctx, CacheKeyBilling).Bytes()
		switch {
		case err == nil:
			var data Data
			if jsonErr := json.Unmarshal(raw, &data); jsonErr == nil {
				return &data, nil
			}
		case !errors.Is(err, redis.Nil):
			log.Warnf("[Statistics] Cache read failed: %v", err)
		}
	}

	data, err := s.Compute(ctx)
	if err != nil {
		return nil, err
	}
	s.store(ctx, data)
	return data, nil
}

// Invalidate drops the cached statistics.
func (s *Service) Invalidate(ctx context.Context) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, CacheKeyBilling).Err(); err != nil {
		log.Warnf("[Statistics] Cache invalidation failed: %v", err)
	}
}

// Compute counts the statistics from the database.
func (s *Service) Compute(ctx context.Context) (*Data, error) {
	db := s.db.WithContext(ctx)
	now := s.now()
	data := &Data{AccountsByPlan: map[string]int64{}, GeneratedAt: now}

	var rows []struct {
		Plan  string
		Total int64
	}
	if err := db.Model(&models.Account{}).Select("plan, COUNT(*) AS total").Group("plan").Scan(&rows).Error; err != nil {
		return nil, apperr.Storage("count accounts by plan", err)
	}
	for _, r := range rows {
		data.AccountsByPlan[r.Plan] = r.Total
		data.TotalAccounts += r.Total
	}

	if err := db.Model(&models.Account{}).
		Where("plan <> ? AND is_approved = ? AND expires_at > ?", "free", true, now).
		Count(&data.ActivePaid).Error; err != nil {
		return nil, apperr.Storage("count active accounts", err)
	}

	if err := db.Model(&models.ManualPaymentSubmission{}).
		Where("status = ?", models.SubmissionStatusPending).
		Count(&data.PendingSubmissions).Error; err != nil {
		return nil, apperr.Storage("count pending submissions", err)
	}

	if err := db.Model(&models.CheckoutSession{}).
		Where("status = ?", models.SessionStatusOpen).
		Count(&data.OpenSessions).Error; err != nil {
		return nil, apperr.Storage("count open sessions", err)
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if err := db.Model(&models.EntitlementGrant{}).
		Where("created_at >= ? AND created_at < ?", dayStart, dayStart.Add(24*time.Hour)).
		Count(&data.GrantsToday).Error; err != nil {
		return nil, apperr.Storage("count grants", err)
	}
	return data, nil
}

func (s *Service) store(ctx context.Context, data *Data) {
	if s.redis == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, CacheKeyBilling, raw, CacheExpiration).Err(); err != nil {
		log.Warnf("[Statistics] Cache write failed: %v", err)
	}
}

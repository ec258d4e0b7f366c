package entitlements

import (
	"strings"
	"time"

	"github.com/pharmalink/pharmalink/app/models"
	"github.com/pharmalink/pharmalink/internal/pkg/apperr"
	"github.com/pharmalink/pharmalink/internal/pkg/config"
)

type Plan string

const (
	PlanFree         Plan = "free"
	PlanPremium      Plan = "premium"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"
)

// PaidPlans lists the purchasable plans in ascending rank.
var PaidPlans = []Plan{PlanPremium, PlanProfessional, PlanEnterprise}

// ParsePlan validates an external plan name.
func ParsePlan(s string) (Plan, error) {
	p := Plan(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PlanFree, PlanPremium, PlanProfessional, PlanEnterprise:
		return p, nil
	default:
		return "", apperr.Validation("unknown plan %q", s)
	}
}

// ParsePaidPlan is ParsePlan restricted to purchasable plans.
func ParsePaidPlan(s string) (Plan, error) {
	p, err := ParsePlan(s)
	if err != nil {
		return "", err
	}
	if !p.IsPaid() {
		return "", apperr.Validation("plan %q cannot be purchased", p)
	}
	return p, nil
}

func (p Plan) IsPaid() bool {
	return p.Rank() > 0
}

func (p Plan) Rank() int {
	switch p {
	case PlanEnterprise:
		return 3
	case PlanProfessional:
		return 2
	case PlanPremium:
		return 1
	default:
		return 0
	}
}

func (p Plan) String() string {
	return string(p)
}

// Source identifies the payment rail that produced a grant.
type Source string

const (
	SourceCheckout Source = models.GrantSourceCheckout
	SourceManual   Source = models.GrantSourceManual
)

// Catalog is the server-side price and duration table. Clients never supply either.
type Catalog struct {
	Prices        map[Plan]int64
	Currency      string
	PlanDuration  time.Duration
	TrialDuration time.Duration
}

// DefaultCatalog returns the prices in whole dinars and the standard durations.
func DefaultCatalog() Catalog {
	return Catalog{
		Prices: map[Plan]int64{
			PlanPremium:      1500,
			PlanProfessional: 3000,
			PlanEnterprise:   7500,
		},
		Currency:      "DZD",
		PlanDuration:  30 * 24 * time.Hour,
		TrialDuration: 60 * 24 * time.Hour,
	}
}

// NewCatalog builds the catalog from configuration.
func NewCatalog(cfg *config.Config) Catalog {
	c := DefaultCatalog()
	c.Prices[PlanPremium] = cfg.PlanPricePremium
	c.Prices[PlanProfessional] = cfg.PlanPriceProfessional
	c.Prices[PlanEnterprise] = cfg.PlanPriceEnterprise
	c.Currency = cfg.Currency
	c.PlanDuration = time.Duration(cfg.PlanDurationDays) * 24 * time.Hour
	c.TrialDuration = time.Duration(cfg.CheckoutTrialDays) * 24 * time.Hour
	return c
}

// Price returns the canonical price of a paid plan.
func (c Catalog) Price(p Plan) (int64, error) {
	price, ok := c.Prices[p]
	if !p.IsPaid() || !ok || price <= 0 {
		return 0, apperr.Validation("plan %q has no price", p)
	}
	return price, nil
}

// Duration returns how long a grant from the given source lasts. Card checkouts
// grant the trial period, manual receipts the regular plan period.
func (c Catalog) Duration(p Plan, source Source) time.Duration {
	if !p.IsPaid() {
		return 0
	}
	if source == SourceCheckout {
		return c.TrialDuration
	}
	return c.PlanDuration
}

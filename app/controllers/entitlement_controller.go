package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pharmalink/pharmalink/internal/pkg/entitlements"
	"github.com/pharmalink/pharmalink/internal/pkg/usercontext"
)

// EntitlementController reports the caller's plan.
type EntitlementController struct {
	ledger *entitlements.Ledger
}

// NewEntitlementController creates a new entitlement controller
func NewEntitlementController(ledger *entitlements.Ledger) *EntitlementController {
	return &EntitlementController{ledger: ledger}
}

// HandleGetEntitlement returns the current entitlement record of the caller.
func (ec *EntitlementController) HandleGetEntitlement(c *fiber.Ctx) error {
	rec, err := ec.ledger.GetStatus(c.UserContext(), usercontext.GetAccountID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rec)
}

// HandlePlans lists the paid plans with their server-side prices.
func (ec *EntitlementController) HandlePlans(c *fiber.Ctx) error {
	catalog := ec.ledger.Catalog()
	plans := make([]fiber.Map, 0, len(entitlements.PaidPlans))
	for _, p := range entitlements.PaidPlans {
		price, err := catalog.Price(p)
		if err != nil {
			continue
		}
		plans = append(plans, fiber.Map{
			"plan":          p,
			"price":         price,
			"currency":      catalog.Currency,
			"duration_days": days(catalog.Duration(p, entitlements.SourceManual)),
			"checkout_days": days(catalog.Duration(p, entitlements.SourceCheckout)),
		})
	}
	return c.JSON(fiber.Map{"plans": plans})
}

// HandlePing is the liveness probe.
func HandlePing(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func days(d time.Duration) int {
	return int(d / (24 * time.Hour))
}

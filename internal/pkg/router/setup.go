package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pharmalink/pharmalink/app/controllers"
	"github.com/pharmalink/pharmalink/internal/pkg/middleware"
)

// Router installs a group of routes.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the controllers and middleware the routes are built from.
type Dependencies struct {
	Identity      middleware.IdentityConfig
	APILimiter    fiber.Handler
	WebhookLimit  fiber.Handler
	Checkout      *controllers.CheckoutController
	ManualPayment *controllers.ManualPaymentController
	Reimbursement *controllers.ReimbursementController
	Entitlement   *controllers.EntitlementController
	Admin         *controllers.AdminController
	Statistics    *controllers.StatisticsController
}

// InstallRouter registers every route under /api/v1.
func InstallRouter(app *fiber.App, deps Dependencies) {
	// The API router installs the identity middleware the admin routes rely on.
	setup(app, NewApiRouter(deps), NewAdminRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}

func passThrough(c *fiber.Ctx) error {
	return c.Next()
}

func orPassThrough(h fiber.Handler) fiber.Handler {
	if h == nil {
		return passThrough
	}
	return h
}

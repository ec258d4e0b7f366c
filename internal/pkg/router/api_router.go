package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pharmalink/pharmalink/app/controllers"
	"github.com/pharmalink/pharmalink/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api")
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")
	v1.Get("/ping", controllers.HandlePing)

	// Provider callbacks carry no identity token; they are authenticated by signature.
	v1.Post("/webhooks/payments", orPassThrough(h.deps.WebhookLimit), h.deps.Checkout.HandlePaymentWebhook)

	v1.Use(middleware.IdentityMiddleware(h.deps.Identity), orPassThrough(h.deps.APILimiter))
	v1.Get("/plans", h.deps.Entitlement.HandlePlans)
	v1.Post("/reimbursements/quote", h.deps.Reimbursement.HandleQuote)

	auth := middleware.RequireAuth
	v1.Get("/entitlement", auth, h.deps.Entitlement.HandleGetEntitlement)
	v1.Post("/checkout/sessions", auth, h.deps.Checkout.HandleCreateSession)
	v1.Get("/checkout/sessions/:id", auth, h.deps.Checkout.HandleGetSession)
	v1.Post("/checkout/sessions/:id/cancel", auth, h.deps.Checkout.HandleCancelSession)
	v1.Post("/manual-payments", auth, h.deps.ManualPayment.HandleSubmit)
	v1.Get("/manual-payments", auth, h.deps.ManualPayment.HandleListOwn)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}

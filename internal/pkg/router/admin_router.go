package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pharmalink/pharmalink/internal/pkg/middleware"
)

type AdminRouter struct {
	deps Dependencies
}

func (h AdminRouter) InstallRouter(app *fiber.App) {
	adminGroup := app.Group("/api/v1/admin", middleware.RequireAdmin)

	// Manual payment review
	adminGroup.Get("/manual-payments", h.deps.ManualPayment.HandleAdminList)
	adminGroup.Get("/manual-payments/:id", h.deps.ManualPayment.HandleAdminGet)
	adminGroup.Get("/manual-payments/:id/receipt", h.deps.ManualPayment.HandleAdminReceipt)
	adminGroup.Post("/manual-payments/:id/approve", h.deps.ManualPayment.HandleApprove)
	adminGroup.Post("/manual-payments/:id/reject", h.deps.ManualPayment.HandleReject)

	// Entitlements
	adminGroup.Get("/accounts/:id/entitlement", h.deps.Admin.HandleAccountEntitlement)
	adminGroup.Post("/accounts/:id/revoke", h.deps.Admin.HandleRevoke)

	// Audit trail + snapshots
	adminGroup.Get("/audit", h.deps.Admin.HandleAuditList)
	adminGroup.Get("/snapshots", h.deps.Admin.HandleListSnapshots)
	adminGroup.Post("/snapshots", h.deps.Admin.HandleCreateSnapshot)
	adminGroup.Get("/snapshots/:id", h.deps.Admin.HandleGetSnapshot)

	// Dashboard
	adminGroup.Get("/jobs", h.deps.Admin.HandleJobStats)
	adminGroup.Get("/stats", h.deps.Statistics.HandleStats)
}

func NewAdminRouter(deps Dependencies) *AdminRouter {
	return &AdminRouter{deps: deps}
}

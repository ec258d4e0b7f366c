package main

import (
	"context"
	"os"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/pharmalink/pharmalink/app/controllers"
	"github.com/pharmalink/pharmalink/internal/pkg/bootstrap"
	"github.com/pharmalink/pharmalink/internal/pkg/middleware"
	"github.com/pharmalink/pharmalink/internal/pkg/ratelimit"
	"github.com/pharmalink/pharmalink/internal/pkg/router"
)

// webhookRateFactor gives the payment provider more headroom than API callers.
const webhookRateFactor = 10

// NewApplication builds the fiber app over the wired services.
func NewApplication(s *bootstrap.Services) *fiber.App {
	cfg := s.Config

	app := fiber.New(fiber.Config{
		AppName: "pharmalink",
		// receipts are capped by the evidence store, leave room for the multipart envelope
		BodyLimit: int(cfg.EvidenceMaxBytes) + 1<<20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	if cfg.MonitorUser != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{
				cfg.MonitorUser: cfg.MonitorPassword,
			},
		}), monitor.New())
	}

	// SWAGGER / OPENAPI
	if specPath := findOpenAPISpec(); specPath != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: specPath,
			Path:     "v1",
		}))
	} else {
		log.Warn("[Server] OpenAPI document not found, /docs/api/v1 disabled")
	}

	// ROUTER
	limiterStorage := rateLimitStorage(s)
	var queue controllers.SnapshotQueue
	if s.Queue != nil {
		queue = s.Queue
	}
	router.InstallRouter(app, router.Dependencies{
		Identity: middleware.IdentityConfig{
			Secret:   []byte(cfg.JWTSecret),
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			Accounts: s.Repositories.Account,
		},
		APILimiter: ratelimit.New(ratelimit.Config{
			Max:     cfg.RateLimitMax,
			Window:  cfg.RateLimitWindow,
			Storage: limiterStorage,
		}),
		WebhookLimit: ratelimit.New(ratelimit.Config{
			Max:     cfg.RateLimitMax * webhookRateFactor,
			Window:  cfg.RateLimitWindow,
			Storage: limiterStorage,
		}),
		Checkout:      controllers.NewCheckoutController(s.Checkout),
		ManualPayment: controllers.NewManualPaymentController(s.ManualPay, s.Evidence),
		Reimbursement: controllers.NewReimbursementController(s.Calculator),
		Entitlement:   controllers.NewEntitlementController(s.Ledger),
		Admin:         controllers.NewAdminController(s.Ledger, s.Recorder, s.Snapshots, queue),
		Statistics:    controllers.NewStatisticsController(s.Statistics),
	})

	return app
}

// rateLimitStorage shares limiter counters through Redis when it answers, and falls
// back to per-instance memory otherwise.
func rateLimitStorage(s *bootstrap.Services) fiber.Storage {
	if s.Redis == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Redis.Ping(ctx).Err(); err != nil {
		log.Warnf("[Server] Redis unavailable, rate limits are per instance: %v", err)
		return nil
	}
	return ratelimit.NewStorage(s.Redis)
}

func findOpenAPISpec() string {
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/pharmalink to project root
		"../../../", // Fallback
	}
	for _, path := range basePaths {
		candidate := path + "public/docs/v1/openapi.yml"
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/spf13/cobra"

	"github.com/pharmalink/pharmalink/internal/pkg/bootstrap"
	"github.com/pharmalink/pharmalink/internal/pkg/cache"
	"github.com/pharmalink/pharmalink/internal/pkg/config"
	"github.com/pharmalink/pharmalink/internal/pkg/database"
	"github.com/pharmalink/pharmalink/internal/pkg/env"
	"github.com/pharmalink/pharmalink/internal/pkg/migrations"
)

const shutdownTimeout = 15 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:           "pharmalink",
		Short:         "Subscription entitlement and payment verification engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(snapshotCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	env.SetupEnvFile()
	return config.Load()
}

// buildServices connects the database and Redis and wires every service.
func buildServices(ctx context.Context, cfg *config.Config) (*bootstrap.Services, error) {
	db, err := database.SetupDatabase(cfg)
	if err != nil {
		return nil, err
	}
	redisClient := cache.SetupCache(cfg)
	return bootstrap.Build(ctx, cfg, db, redisClient)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, the job workers and the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			services, err := buildServices(ctx, cfg)
			if err != nil {
				return err
			}
			defer cache.Close()
			defer services.Close()

			if services.Queue != nil {
				services.Queue.Start()
			}
			sched := services.Scheduler()
			if err := sched.Start(); err != nil {
				return fmt.Errorf("start scheduler: %w", err)
			}
			defer sched.Stop()

			app := NewApplication(services)
			errCh := make(chan error, 1)
			go func() {
				log.Infof("[Server] Listening on %s", cfg.ListenAddr())
				errCh <- app.Listen(cfg.ListenAddr())
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info("[Server] Shutting down")
			return app.ShutdownWithTimeout(shutdownTimeout)
		},
	}
}

func migrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "migrations", "directory holding the mysql/ and postgres/ migrations")

	add := func(use, short string, args cobra.PositionalArgs) {
		name := strings.Fields(use)[0]
		cmd.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  args,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				return migrations.Run(cfg, dir, name, args)
			},
		})
	}
	add("up", "Apply pending migrations", cobra.NoArgs)
	add("down", "Roll back the last migration", cobra.NoArgs)
	add("goto VERSION", "Migrate to a specific version", cobra.ExactArgs(1))
	add("status", "Show the current migration version", cobra.NoArgs)
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Downgrade lapsed entitlements, expire stale checkouts and grant pending ones once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			services, err := buildServices(ctx, cfg)
			if err != nil {
				return err
			}
			defer cache.Close()
			defer services.Close()

			downgraded, err := services.Ledger.SweepExpired(ctx)
			if err != nil {
				return fmt.Errorf("sweep entitlements: %w", err)
			}
			expired, err := services.Checkout.ExpireStale(ctx)
			if err != nil {
				return fmt.Errorf("expire checkout sessions: %w", err)
			}
			granted, err := services.Checkout.ResumeUngranted(ctx)
			if err != nil {
				return fmt.Errorf("resume checkout grants: %w", err)
			}
			log.Infof("[Sweep] Downgraded %d accounts, expired %d checkout sessions, granted %d pending checkouts", downgraded, expired, granted)
			return nil
		},
	}
}

func snapshotCmd() *cobra.Command {
	var tables []string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export a snapshot of the billing tables to the object store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			services, err := buildServices(ctx, cfg)
			if err != nil {
				return err
			}
			defer cache.Close()
			defer services.Close()

			snap, err := services.Snapshots.Snapshot(ctx, tables, nil)
			if err != nil {
				return fmt.Errorf("snapshot: %w", err)
			}
			log.Infof("[Snapshot] %s written to %s (%d bytes)", snap.ID, snap.Locator, snap.SizeBytes)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&tables, "tables", nil, "tables to include (default: all exportable tables)")
	return cmd
}

// Package migrations applies the versioned SQL schema with golang-migrate.
package migrations

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/pharmalink/pharmalink/internal/pkg/config"
	"github.com/pharmalink/pharmalink/internal/pkg/database"
)

// Commands lists the supported sub-commands in usage order.
var Commands = []string{"up", "down", "goto", "status"}

// SourceURL returns the file source for the configured driver.
func SourceURL(dir, driver string) string {
	return fmt.Sprintf("file://%s/%s", dir, driver)
}

// Run executes command against the configured database. dir is the directory that
// holds the mysql/ and postgres/ migration folders.
func Run(cfg *config.Config, dir, command string, args []string) error {
	if !isCommand(command) {
		return fmt.Errorf("unknown migrate command %q", command)
	}

	log.Infof("[Migrate] Connecting to %s database %s@%s:%s/%s", cfg.DBDriver, cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)
	m, err := migrate.New(SourceURL(dir, cfg.DBDriver), database.MigrationURL(cfg))
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Warnf("[Migrate] Closing migration resources: %v, %v", sourceErr, dbErr)
		}
	}()

	switch command {
	case "up":
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("[Migrate] No change: database is up to date")
			return nil
		}
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		log.Info("[Migrate] Migrations applied")

	case "down":
		if err := m.Steps(-1); err != nil {
			return fmt.Errorf("roll back last migration: %w", err)
		}
		log.Info("[Migrate] Rolled back last migration")

	case "goto":
		version, err := parseVersion(args)
		if err != nil {
			return err
		}
		err = m.Migrate(version)
		if errors.Is(err, migrate.ErrNoChange) {
			log.Infof("[Migrate] No change: database is already at version %d", version)
			return nil
		}
		if err != nil {
			return fmt.Errorf("migrate to version %d: %w", version, err)
		}
		log.Infof("[Migrate] Migrated to version %d", version)

	case "status":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info("[Migrate] No migrations have been applied")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read migration version: %w", err)
		}
		suffix := ""
		if dirty {
			suffix = " (dirty)"
		}
		log.Infof("[Migrate] Current version: %d%s", version, suffix)
	}
	return nil
}

func isCommand(command string) bool {
	for _, c := range Commands {
		if c == command {
			return true
		}
	}
	return false
}

func parseVersion(args []string) (uint, error) {
	if len(args) < 1 {
		return 0, errors.New("goto requires a version number")
	}
	v, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", args[0], err)
	}
	return uint(v), nil
}

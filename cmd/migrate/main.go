package main

import (
	"fmt"
	"os"

	"github.com/gofiber/fiber/v2/log"

	"github.com/pharmalink/pharmalink/internal/pkg/config"
	"github.com/pharmalink/pharmalink/internal/pkg/env"
	"github.com/pharmalink/pharmalink/internal/pkg/migrations"
)

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Migrate] Invalid configuration: %v", err)
	}

	if err := migrations.Run(cfg, env.GetEnv("MIGRATIONS_DIR", "migrations"), os.Args[1], os.Args[2:]); err != nil {
		log.Errorf("[Migrate] %v", err)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: go run cmd/migrate/main.go [command]")
	fmt.Println("Commands:")
	fmt.Println("  up     - apply all pending migrations")
	fmt.Println("  down   - roll back the last migration")
	fmt.Println("  goto N - migrate to version N")
	fmt.Println("  status - show the current migration version")
}

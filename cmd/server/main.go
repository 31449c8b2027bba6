// Command server runs the scene generation HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/scenegen/internal/config"
	"github.com/phrazzld/scenegen/internal/platform/logger"
	"github.com/phrazzld/scenegen/internal/platform/postgres"
)

func main() {
	migrate := flag.String("migrate", "", "run a database migration command (up, down, status) and exit")
	flag.Parse()

	if err := run(*migrate); err != nil {
		log.Fatalf("scenegen server: %v", err)
	}
}

func run(migrateCommand string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	appLogger.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"archive_enabled", cfg.Database.Enabled())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if migrateCommand != "" {
		return runMigration(ctx, cfg, migrateCommand, appLogger)
	}

	db, err := setupAppDatabase(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	if db != nil {
		if err := postgres.Migrate(ctx, db, postgres.MigrateUp, appLogger); err != nil {
			_ = db.Close()
			return err
		}
	}

	app, err := newApplication(ctx, cfg, appLogger, db)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return app.Run(ctx)
}

func runMigration(ctx context.Context, cfg *config.Config, command string, appLogger *slog.Logger) error {
	if !cfg.Database.Enabled() {
		return fmt.Errorf("database URL is empty: set SCENEGEN_DATABASE_URL to run migrations")
	}
	db, err := setupAppDatabase(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := postgres.Migrate(ctx, db, command, appLogger); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "migration %s complete\n", command)
	return nil
}

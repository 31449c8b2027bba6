package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/scenegen/internal/api"
	"github.com/phrazzld/scenegen/internal/config"
	"github.com/phrazzld/scenegen/internal/events"
	"github.com/phrazzld/scenegen/internal/platform/gemini"
	"github.com/phrazzld/scenegen/internal/platform/postgres"
	"github.com/phrazzld/scenegen/internal/service"
	"github.com/phrazzld/scenegen/internal/store"
)

// application holds the shared dependencies so they can be closed in order
// on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	runService *service.RunService
	streamHub  *api.StreamHub
}

// newApplication wires the providers, the run service and the event handlers.
// db may be nil, which disables the run archive.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	client, err := gemini.NewClient(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	pacer := gemini.NewPacer(cfg.LLM.MinRequestInterval)

	generator, err := gemini.NewImageGenerator(client.Models, cfg.LLM, pacer, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create image generator: %w", err)
	}
	rewriter, err := gemini.NewPromptRewriter(client.Models, cfg.LLM, pacer, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create prompt rewriter: %w", err)
	}
	logger.Info("gemini clients initialized",
		"image_model", cfg.LLM.ImageModel,
		"rewrite_model", cfg.LLM.RewriteModel)

	var archive store.RunArchive
	if db != nil {
		archive = postgres.NewPostgresRunArchive(db, logger)
	}

	emitter := events.NewInMemoryEventEmitter(logger)
	app.runService, err = service.NewRunService(
		generator,
		rewriter,
		archive,
		emitter,
		service.OptionsFromConfig(cfg.Batch),
		cfg.Runs,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run service: %w", err)
	}

	app.streamHub = api.NewStreamHub(app.runService, logger)
	emitter.RegisterHandler(app.streamHub)
	emitter.RegisterHandler(events.NewLogHandler(logger))

	logger.Info("application initialized")
	return app, nil
}

// Run starts the workers and serves HTTP until ctx is cancelled.
func (app *application) Run(ctx context.Context) error {
	app.runService.Start()

	router := api.NewRouter(api.NewRunHandler(app.runService, app.logger), app.streamHub, app.logger)
	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup stops the run service, closes streams and the database.
func (app *application) cleanup(ctx context.Context) {
	if err := app.runService.Shutdown(ctx); err != nil {
		app.logger.Error("run service shutdown incomplete", "error", err)
	}
	app.streamHub.Close()

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
}

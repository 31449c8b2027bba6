package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scenegen/internal/platform/logger"
	"github.com/phrazzld/scenegen/internal/store"
)

const defaultListLimit = 50

// PostgresRunArchive implements store.RunArchive on PostgreSQL.
type PostgresRunArchive struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ store.RunArchive = (*PostgresRunArchive)(nil)

// NewPostgresRunArchive creates a run archive backed by db.
// If logger is nil, the default logger is used.
func NewPostgresRunArchive(db *sql.DB, logger *slog.Logger) *PostgresRunArchive {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRunArchive{
		db:     db,
		logger: logger.With(slog.String("component", "run_archive")),
	}
}

// SaveRun implements store.RunArchive.SaveRun.
// The run row and all scene rows are written in one transaction.
func (a *PostgresRunArchive) SaveRun(ctx context.Context, run *store.ArchivedRun) error {
	log := logger.FromContextOrDefault(ctx, a.logger)

	if err := run.Validate(); err != nil {
		log.Warn("run validation failed during save",
			slog.String("error", err.Error()),
			slog.String("run_id", run.ID.String()))
		return err
	}

	err := store.RunInTransaction(logger.WithLogger(ctx, log), a.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := insertRun(ctx, tx, run); err != nil {
			return err
		}
		return insertScenes(ctx, tx, run)
	})
	if err != nil {
		if IsUniqueViolation(err) {
			log.Warn("run already archived", slog.String("run_id", run.ID.String()))
			return fmt.Errorf("%w: %s", store.ErrRunExists, run.ID)
		}
		log.Error("failed to archive run",
			slog.String("error", err.Error()),
			slog.String("run_id", run.ID.String()))
		return store.NewStoreError("run", "save", "failed to archive run", MapError(err))
	}

	log.Info("run archived",
		slog.String("run_id", run.ID.String()),
		slog.String("state", run.State),
		slog.Int("scenes", len(run.Scenes)))
	return nil
}

func insertRun(ctx context.Context, tx *sql.Tx, run *store.ArchivedRun) error {
	query := `
		INSERT INTO generation_runs (
			id, state, outcome, style, rounds, max_rounds, total,
			succeeded, failed, rewritten, abort_reason,
			created_at, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := tx.ExecContext(ctx, query,
		run.ID,
		run.State,
		run.Outcome,
		run.Style,
		run.Rounds,
		run.MaxRounds,
		run.Total,
		run.Succeeded,
		run.Failed,
		run.Rewritten,
		run.AbortReason,
		run.CreatedAt.UTC(),
		nullTime(run.StartedAt),
		nullTime(run.FinishedAt),
	)
	return err
}

func insertScenes(ctx context.Context, tx *sql.Tx, run *store.ArchivedRun) error {
	if len(run.Scenes) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO generation_run_scenes (
			run_id, scene_index, scene_number, prompt, original_prompt,
			status, error, was_rewritten, attempts, image_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare scene insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, s := range run.Scenes {
		if _, err := stmt.ExecContext(ctx,
			run.ID,
			s.Index,
			s.SceneNumber,
			s.Prompt,
			s.OriginalPrompt,
			s.Status,
			s.Error,
			s.WasRewritten,
			s.Attempts,
			s.ImageCount,
		); err != nil {
			return fmt.Errorf("failed to insert scene %d: %w", s.Index, err)
		}
	}
	return nil
}

// GetRun implements store.RunArchive.GetRun.
// Returns store.ErrRunNotFound if the run does not exist.
func (a *PostgresRunArchive) GetRun(ctx context.Context, id uuid.UUID) (*store.ArchivedRun, error) {
	log := logger.FromContextOrDefault(ctx, a.logger)
	log.Debug("retrieving archived run", slog.String("run_id", id.String()))

	query := runColumns + ` WHERE id = $1`
	run, err := scanRun(a.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("archived run not found", slog.String("run_id", id.String()))
			return nil, store.ErrRunNotFound
		}
		log.Error("failed to get archived run",
			slog.String("error", err.Error()),
			slog.String("run_id", id.String()))
		return nil, store.NewStoreError("run", "get", "failed to get run", MapError(err))
	}

	scenes, err := a.scenes(ctx, id)
	if err != nil {
		log.Error("failed to get archived scenes",
			slog.String("error", err.Error()),
			slog.String("run_id", id.String()))
		return nil, store.NewStoreError("scene", "list", "failed to get scenes", MapError(err))
	}
	run.Scenes = scenes

	return run, nil
}

// ListRuns implements store.RunArchive.ListRuns.
// A non-positive limit falls back to a default page size.
func (a *PostgresRunArchive) ListRuns(ctx context.Context, limit int) ([]*store.ArchivedRun, error) {
	log := logger.FromContextOrDefault(ctx, a.logger)
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := a.db.QueryContext(ctx, runColumns+` ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		log.Error("failed to list archived runs", slog.String("error", err.Error()))
		return nil, store.NewStoreError("run", "list", "failed to list runs", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	runs := make([]*store.ArchivedRun, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, store.NewStoreError("run", "list", "failed to scan run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("run", "list", "failed to iterate runs", err)
	}

	log.Debug("listed archived runs", slog.Int("count", len(runs)))
	return runs, nil
}

const runColumns = `
	SELECT id, state, outcome, style, rounds, max_rounds, total,
		succeeded, failed, rewritten, abort_reason,
		created_at, started_at, finished_at
	FROM generation_runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*store.ArchivedRun, error) {
	var run store.ArchivedRun
	var startedAt, finishedAt sql.NullTime
	if err := row.Scan(
		&run.ID,
		&run.State,
		&run.Outcome,
		&run.Style,
		&run.Rounds,
		&run.MaxRounds,
		&run.Total,
		&run.Succeeded,
		&run.Failed,
		&run.Rewritten,
		&run.AbortReason,
		&run.CreatedAt,
		&startedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}
	run.StartedAt = startedAt.Time
	run.FinishedAt = finishedAt.Time
	return &run, nil
}

func (a *PostgresRunArchive) scenes(ctx context.Context, runID uuid.UUID) ([]store.ArchivedScene, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT scene_index, scene_number, prompt, original_prompt,
			status, error, was_rewritten, attempts, image_count
		FROM generation_run_scenes
		WHERE run_id = $1
		ORDER BY scene_index
	`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var scenes []store.ArchivedScene
	for rows.Next() {
		var s store.ArchivedScene
		if err := rows.Scan(
			&s.Index,
			&s.SceneNumber,
			&s.Prompt,
			&s.OriginalPrompt,
			&s.Status,
			&s.Error,
			&s.WasRewritten,
			&s.Attempts,
			&s.ImageCount,
		); err != nil {
			return nil, err
		}
		scenes = append(scenes, s)
	}
	return scenes, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

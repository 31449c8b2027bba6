package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ArchivedScene is the persisted record of one scene of a finished run.
// Image bytes are not archived; ImageCount records how many were produced.
type ArchivedScene struct {
	Index          int
	SceneNumber    int
	Prompt         string
	OriginalPrompt string
	Status         string
	Error          string
	WasRewritten   bool
	Attempts       int
	ImageCount     int
}

// ArchivedRun is the persisted summary of a finished run.
type ArchivedRun struct {
	ID          uuid.UUID
	State       string
	Outcome     string
	Style       string
	Rounds      int
	MaxRounds   int
	Total       int
	Succeeded   int
	Failed      int
	Rewritten   int
	AbortReason string
	CreatedAt   time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
	Scenes      []ArchivedScene
}

// Validate checks the invariants every archived run must satisfy.
func (r *ArchivedRun) Validate() error {
	if r.ID == uuid.Nil {
		return fmt.Errorf("%w: run ID cannot be empty", ErrInvalidEntity)
	}
	if r.State == "" {
		return fmt.Errorf("%w: run state cannot be empty", ErrInvalidEntity)
	}
	if len(r.Scenes) != r.Total {
		return fmt.Errorf("%w: run has %d scenes but total is %d", ErrInvalidEntity, len(r.Scenes), r.Total)
	}
	for i, s := range r.Scenes {
		if s.Index != i {
			return fmt.Errorf("%w: scene at position %d has index %d", ErrInvalidEntity, i, s.Index)
		}
	}
	return nil
}

// RunArchive persists finished runs.
type RunArchive interface {
	// SaveRun stores a run and its scenes atomically.
	// Returns ErrRunExists if the run was already saved.
	SaveRun(ctx context.Context, run *ArchivedRun) error

	// GetRun retrieves a run with its scenes.
	// Returns ErrRunNotFound if the run does not exist.
	GetRun(ctx context.Context, id uuid.UUID) (*ArchivedRun, error)

	// ListRuns returns the most recent runs first, without scenes.
	ListRuns(ctx context.Context, limit int) ([]*ArchivedRun, error)
}

package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scenegen/internal/batch"
	"github.com/phrazzld/scenegen/internal/store"
)

// RunState is the lifecycle state of a run.
type RunState string

// Run states. Every state except queued and running is terminal.
const (
	RunStateQueued           RunState = "queued"
	RunStateRunning          RunState = "running"
	RunStateCompleted        RunState = "completed"
	RunStateRoundCapExceeded RunState = "round_cap_exhausted"
	RunStateAborted          RunState = "aborted"
	RunStateCancelled        RunState = "cancelled"
	RunStateFailed           RunState = "failed"
)

// Terminal reports whether the state is final.
func (s RunState) Terminal() bool {
	return s != RunStateQueued && s != RunStateRunning
}

func stateForOutcome(o batch.Outcome) RunState {
	switch o {
	case batch.OutcomeCompleted:
		return RunStateCompleted
	case batch.OutcomeRoundCapExhausted:
		return RunStateRoundCapExceeded
	case batch.OutcomeAborted:
		return RunStateAborted
	case batch.OutcomeCancelled:
		return RunStateCancelled
	default:
		return RunStateFailed
	}
}

// SceneInput is one scene of a run request.
type SceneInput struct {
	Prompt         string `validate:"required"`
	NegativePrompt string
	AspectRatio    string `validate:"omitempty,oneof=1:1 3:4 4:3 9:16 16:9"`
	Style          string
	Context        string
}

// StartRunInput is a request to start a run.
type StartRunInput struct {
	Scenes []SceneInput `validate:"required,min=1,max=500,dive"`

	// Style applies to every scene that does not set its own
	Style string

	// ImagesPerPrompt overrides the configured image count when positive
	ImagesPerPrompt int `validate:"omitempty,min=1,max=4"`
}

func (in StartRunInput) prompts() []batch.ScenePrompt {
	prompts := make([]batch.ScenePrompt, len(in.Scenes))
	for i, s := range in.Scenes {
		style := s.Style
		if style == "" {
			style = in.Style
		}
		prompts[i] = batch.ScenePrompt{
			Text:           s.Prompt,
			NegativePrompt: s.NegativePrompt,
			AspectRatio:    s.AspectRatio,
			Style:          style,
			Context:        s.Context,
		}
	}
	return prompts
}

// SceneView is the public view of one scene. Image bytes are served separately.
type SceneView struct {
	Index          int    `json:"index"`
	SceneNumber    int    `json:"scene_number"`
	Prompt         string `json:"prompt"`
	OriginalPrompt string `json:"original_prompt"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
	WasRewritten   bool   `json:"was_rewritten"`
	Attempts       int    `json:"attempts"`
	ImageCount     int    `json:"image_count"`
}

// RunCounts tallies scenes per status.
type RunCounts struct {
	Pending   int `json:"pending"`
	Retrying  int `json:"retrying"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Rewritten int `json:"rewritten"`
}

// RunView is the public view of a run.
type RunView struct {
	ID          uuid.UUID   `json:"id"`
	State       RunState    `json:"state"`
	Status      string      `json:"status"`
	Style       string      `json:"style,omitempty"`
	Total       int         `json:"total"`
	Counts      RunCounts   `json:"counts"`
	Rounds      int         `json:"rounds"`
	MaxRounds   int         `json:"max_rounds"`
	AbortReason string      `json:"abort_reason,omitempty"`
	Error       string      `json:"error,omitempty"`
	Archived    bool        `json:"archived"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
	Scenes      []SceneView `json:"scenes,omitempty"`
}

func sceneViews(tasks []batch.GenerationTask) []SceneView {
	views := make([]SceneView, len(tasks))
	for i, t := range tasks {
		views[i] = SceneView{
			Index:          t.Index,
			SceneNumber:    t.SceneNumber,
			Prompt:         t.Prompt,
			OriginalPrompt: t.OriginalPrompt,
			Status:         string(t.Status),
			Error:          t.Error,
			WasRewritten:   t.WasRewritten,
			Attempts:       t.Attempts,
			ImageCount:     imageCount(t),
		}
	}
	return views
}

func countScenes(scenes []SceneView) RunCounts {
	var c RunCounts
	for _, s := range scenes {
		switch batch.TaskStatus(s.Status) {
		case batch.StatusPending:
			c.Pending++
		case batch.StatusRetrying:
			c.Retrying++
		case batch.StatusSuccess:
			c.Succeeded++
		case batch.StatusFailed:
			c.Failed++
		}
		if s.WasRewritten {
			c.Rewritten++
		}
	}
	return c
}

func imageCount(t batch.GenerationTask) int {
	if t.Result == nil {
		return 0
	}
	return len(t.Result.Images)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// archivedView converts an archived run. Scenes are omitted when the archive
// returned none, as ListRuns does.
func archivedView(run *store.ArchivedRun) *RunView {
	view := &RunView{
		ID:          run.ID,
		State:       RunState(run.State),
		Status:      "archived",
		Style:       run.Style,
		Total:       run.Total,
		Rounds:      run.Rounds,
		MaxRounds:   run.MaxRounds,
		AbortReason: run.AbortReason,
		Archived:    true,
		CreatedAt:   run.CreatedAt,
		StartedAt:   timePtr(run.StartedAt),
		FinishedAt:  timePtr(run.FinishedAt),
		Counts: RunCounts{
			Succeeded: run.Succeeded,
			Failed:    run.Failed,
			Rewritten: run.Rewritten,
		},
	}
	if len(run.Scenes) > 0 {
		view.Scenes = make([]SceneView, len(run.Scenes))
		for i, s := range run.Scenes {
			view.Scenes[i] = SceneView{
				Index:          s.Index,
				SceneNumber:    s.SceneNumber,
				Prompt:         s.Prompt,
				OriginalPrompt: s.OriginalPrompt,
				Status:         s.Status,
				Error:          s.Error,
				WasRewritten:   s.WasRewritten,
				Attempts:       s.Attempts,
				ImageCount:     s.ImageCount,
			}
		}
	}
	return view
}

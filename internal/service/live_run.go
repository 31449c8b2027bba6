package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scenegen/internal/batch"
	"github.com/phrazzld/scenegen/internal/generation"
	"github.com/phrazzld/scenegen/internal/store"
)

const (
	statusQueued          = "queued"
	statusStarting        = "starting"
	statusCancelledQueued = "cancelled before start"
)

// liveRun is the in-memory record of a run. It observes the orchestrator
// as its batch.ProgressSink.
type liveRun struct {
	batch.CancelFlag

	id        uuid.UUID
	style     string
	prompts   []batch.ScenePrompt
	opts      batch.Options
	createdAt time.Time

	// onUpdate publishes a view after each orchestrator update
	onUpdate func(run *liveRun, status string)

	mu         sync.RWMutex
	state      RunState
	status     string
	snapshot   []batch.GenerationTask
	report     *batch.Report
	errMsg     string
	startedAt  time.Time
	finishedAt time.Time
}

var _ batch.ProgressSink = (*liveRun)(nil)

func newLiveRun(id uuid.UUID, in StartRunInput, opts batch.Options, now time.Time) *liveRun {
	prompts := in.prompts()
	return &liveRun{
		id:        id,
		style:     in.Style,
		prompts:   prompts,
		opts:      opts,
		createdAt: now,
		state:     RunStateQueued,
		status:    statusQueued,
		snapshot:  batch.NewTaskStore(prompts).Snapshot(),
	}
}

// OnUpdate implements batch.ProgressSink.
func (r *liveRun) OnUpdate(snapshot []batch.GenerationTask, status string) {
	r.mu.Lock()
	r.snapshot = snapshot
	r.status = status
	r.mu.Unlock()

	if r.onUpdate != nil {
		r.onUpdate(r, status)
	}
}

// begin moves a queued run to running. It reports false when the run was
// cancelled while it waited in the queue.
func (r *liveRun) begin(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RunStateQueued {
		return false
	}
	r.state = RunStateRunning
	r.status = statusStarting
	r.startedAt = now
	return true
}

// cancelQueued settles a run that never started. It reports false when the
// run already left the queue.
func (r *liveRun) cancelQueued(now time.Time, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RunStateQueued {
		return false
	}
	for i := range r.snapshot {
		r.snapshot[i].Status = batch.StatusFailed
		r.snapshot[i].Error = reason
	}
	r.state = RunStateCancelled
	r.status = reason
	r.finishedAt = now
	r.Cancel()
	return true
}

// complete records the result of Submit.
func (r *liveRun) complete(report *batch.Report, err error, errMsg string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishedAt = now
	r.report = report
	if report == nil {
		r.state = RunStateFailed
		r.errMsg = errMsg
		r.status = "run failed"
		return
	}
	r.snapshot = report.Tasks
	r.state = stateForOutcome(report.Outcome)
	if err != nil {
		r.errMsg = errMsg
	}
}

func (r *liveRun) currentState() RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *liveRun) finishedTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.finishedAt
}

// view builds the public view. Scenes are included when withScenes is set.
func (r *liveRun) view(withScenes bool) *RunView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scenes := sceneViews(r.snapshot)
	v := &RunView{
		ID:         r.id,
		State:      r.state,
		Status:     r.status,
		Style:      r.style,
		Total:      len(r.snapshot),
		Counts:     countScenes(scenes),
		MaxRounds:  r.opts.MaxRounds,
		Error:      r.errMsg,
		CreatedAt:  r.createdAt,
		StartedAt:  timePtr(r.startedAt),
		FinishedAt: timePtr(r.finishedAt),
	}
	if r.report != nil {
		v.Rounds = r.report.Rounds
		v.AbortReason = r.report.AbortReason
	}
	if withScenes {
		v.Scenes = scenes
	}
	return v
}

// image returns image n of the scene at index.
func (r *liveRun) image(index, n int) (generation.Image, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index < 0 || index >= len(r.snapshot) {
		return generation.Image{}, ErrSceneNotFound
	}
	t := r.snapshot[index]
	if t.Status != batch.StatusSuccess || t.Result == nil {
		return generation.Image{}, ErrImageUnavailable
	}
	if n < 0 || n >= len(t.Result.Images) {
		return generation.Image{}, ErrSceneNotFound
	}
	return t.Result.Images[n], nil
}

// archived converts a finished run for the archive.
func (r *liveRun) archived() *store.ArchivedRun {
	v := r.view(true)
	run := &store.ArchivedRun{
		ID:          v.ID,
		State:       string(v.State),
		Style:       v.Style,
		Rounds:      v.Rounds,
		MaxRounds:   v.MaxRounds,
		Total:       v.Total,
		Succeeded:   v.Counts.Succeeded,
		Failed:      v.Counts.Failed,
		Rewritten:   v.Counts.Rewritten,
		AbortReason: v.AbortReason,
		CreatedAt:   v.CreatedAt,
		Scenes:      make([]store.ArchivedScene, len(v.Scenes)),
	}
	r.mu.RLock()
	if r.report != nil {
		run.Outcome = string(r.report.Outcome)
	}
	run.StartedAt = r.startedAt
	run.FinishedAt = r.finishedAt
	r.mu.RUnlock()

	for i, s := range v.Scenes {
		run.Scenes[i] = store.ArchivedScene{
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
	return run
}

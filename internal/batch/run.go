package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/scenegen/internal/generation"
	"github.com/phrazzld/scenegen/internal/redact"
)

// run is the state of one Orchestrator.Run call.
type run struct {
	store      *TaskStore
	sink       ProgressSink
	generator  generation.ImageGenerator
	rewriter   generation.PromptRewriter
	classifier Classifier
	opts       Options
	logger     *slog.Logger

	// notifyMu serializes sink updates so snapshots are delivered in order
	notifyMu sync.Mutex

	cancelled   atomic.Bool
	aborted     atomic.Bool
	abortOnce   sync.Once
	abortReason string
}

// isCancelled polls the context and the sink. Once observed, cancellation sticks.
func (r *run) isCancelled(ctx context.Context) bool {
	if r.cancelled.Load() {
		return true
	}
	if ctx.Err() != nil || r.sink.IsCancelled() {
		r.cancelled.Store(true)
		return true
	}
	return false
}

// halted reports whether no new provider call may start.
func (r *run) halted(ctx context.Context) bool {
	return r.aborted.Load() || r.isCancelled(ctx)
}

func (r *run) notify(status string) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	r.sink.OnUpdate(r.store.Snapshot(), status)
}

func (r *run) sceneNumber(index int) int {
	task, _ := r.store.Get(index)
	return task.SceneNumber
}

// generate issues one generation call for the task at index. An empty prompt
// means the task's current prompt.
func (r *run) generate(ctx context.Context, index int, prompt string) (*generation.ImageResult, error) {
	task, _ := r.store.Get(index)
	if prompt == "" {
		prompt = task.Prompt
	}
	r.store.recordAttempt(index)

	result, err := r.generator.Generate(ctx, generation.ImageRequest{
		Prompt:         prompt,
		NegativePrompt: task.NegativePrompt,
		AspectRatio:    task.AspectRatio,
		Style:          task.Style,
		Count:          r.opts.ImagesPerPrompt,
	})
	if err == nil && (result == nil || len(result.Images) == 0) {
		err = fmt.Errorf("%w: no images returned", generation.ErrInvalidResponse)
	}
	return result, err
}

func (r *run) succeed(index int, result *generation.ImageResult, rewrittenPrompt string) {
	r.store.markSuccess(index, result, rewrittenPrompt)
	counts := r.store.Counts()
	scene := r.sceneNumber(index)
	r.logger.Debug("scene generated",
		"scene", scene,
		"rewritten", rewrittenPrompt != "",
		"images", len(result.Images))

	status := fmt.Sprintf("scene %d generated (%d/%d done)", scene, counts.Success, r.store.Len())
	if rewrittenPrompt != "" {
		status = fmt.Sprintf("scene %d generated with a rewritten prompt (%d/%d done)",
			scene, counts.Success, r.store.Len())
	}
	r.notify(status)
}

func (r *run) fail(index int, message, cause string) {
	r.store.markFailed(index, message, cause)
	scene := r.sceneNumber(index)
	safe := redact.String(message)
	r.logger.Warn("scene generation failed",
		"scene", scene,
		"class", r.classifier.Classify(cause).String(),
		"error", safe)
	r.notify(fmt.Sprintf("scene %d failed: %s", scene, safe))
}

func (r *run) retrying(index int, message, status string) {
	r.store.markRetrying(index, message)
	r.notify(fmt.Sprintf("scene %d %s", r.sceneNumber(index), status))
}

// settleFailure records a renewed failure and aborts the run when the latest
// error says the credentials expired.
func (r *run) settleFailure(index int, message, cause string, latest error) {
	r.fail(index, message, cause)
	if r.classifier.Classify(latest.Error()) == ClassAuthExpired {
		r.abort(index, latest.Error())
	}
}

func (r *run) abort(index int, message string) {
	scene := r.sceneNumber(index)
	r.abortOnce.Do(func() {
		r.abortReason = fmt.Sprintf("scene %d: %s", scene, redact.String(message))
		r.aborted.Store(true)
		r.logger.Error("provider credentials rejected, aborting run",
			"scene", scene,
			"error", redact.String(message))
		r.notify("provider session expired, run aborted")
	})
}

// generateInitial is the first-pass processor for one task.
func (r *run) generateInitial(ctx context.Context, index int) {
	if r.halted(ctx) {
		return
	}

	result, err := r.generate(ctx, index, "")
	if r.isCancelled(ctx) {
		return
	}
	if err == nil {
		r.succeed(index, result, "")
		return
	}

	cause := err.Error()
	dispatcher{r: r}.dispatch(ctx, index, cause, r.classifier.Classify(cause), StageInitial)
}

// retryFailed is the round processor for one Failed task.
func (r *run) retryFailed(ctx context.Context, index int) {
	if r.halted(ctx) {
		return
	}
	task, ok := r.store.Get(index)
	if !ok || task.Status != StatusFailed {
		return
	}

	cause := task.Cause
	if cause == "" {
		cause = task.Error
	}
	class := r.classifier.Classify(cause)
	if class != ClassUnknown {
		dispatcher{r: r}.dispatch(ctx, index, cause, class, StageRound)
		return
	}

	// Ordinary retry: same prompt, no recovery action.
	r.retrying(index, "retrying after failure: "+task.Error, "retrying")
	result, err := r.generate(ctx, index, "")
	if r.isCancelled(ctx) {
		return
	}
	if err != nil {
		r.settleFailure(index, err.Error(), err.Error(), err)
		return
	}
	r.succeed(index, result, "")
}

// drive runs the initial pass and then the retry rounds.
func (r *run) drive(ctx context.Context, round *RoundState) Outcome {
	indices := make([]int, r.store.Len())
	for i := range indices {
		indices[i] = i
	}
	if !r.halted(ctx) {
		RunLimited(ctx, indices, r.opts.Concurrency, r.generateInitial)
	}

	for {
		if r.aborted.Load() {
			return OutcomeAborted
		}
		if r.isCancelled(ctx) {
			return OutcomeCancelled
		}

		failed := r.store.FailedIndices()
		if len(failed) == 0 {
			return OutcomeCompleted
		}

		round.Round++
		if round.Exhausted() {
			r.logger.Warn("round cap reached",
				"max_rounds", round.MaxRounds,
				"failed", len(failed))
			return OutcomeRoundCapExhausted
		}

		r.logger.Info("starting retry round",
			"round", round.Round,
			"max_rounds", round.MaxRounds,
			"failed", len(failed))
		r.notify(fmt.Sprintf("round %d/%d: retrying %d failed scenes",
			round.Round, round.MaxRounds, len(failed)))

		RunLimited(ctx, failed, r.opts.Concurrency, r.retryFailed)

		if r.halted(ctx) {
			continue
		}
		if len(r.store.FailedIndices()) > 0 {
			sleep(ctx, round.InterRoundDelay)
		}
	}
}

// sleep waits for d or until ctx is done. It reports whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

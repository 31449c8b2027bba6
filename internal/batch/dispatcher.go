package batch

import (
	"context"
	"fmt"
	"strings"

	"github.com/phrazzld/scenegen/internal/generation"
)

// Stage tells the dispatcher where a failure came from.
type Stage int

const (
	// StageInitial is the first pass over all tasks
	StageInitial Stage = iota
	// StageRound is any later retry round
	StageRound
)

// dispatcher picks the recovery action for a classified failure.
type dispatcher struct {
	r *run
}

func (d dispatcher) dispatch(ctx context.Context, index int, cause string, class FailureClass, stage Stage) {
	switch class {
	case ClassRateLimited:
		d.retryThrottled(ctx, index, cause, stage)
	case ClassContentPolicy:
		d.rewriteAndRetry(ctx, index, cause)
	case ClassAuthExpired:
		d.r.fail(index, cause, cause)
		d.r.abort(index, cause)
	default:
		d.r.fail(index, cause, cause)
	}
}

// retryThrottled waits out the throttle and reissues the same prompt once.
func (d dispatcher) retryThrottled(ctx context.Context, index int, cause string, stage Stage) {
	r := d.r
	delay := r.opts.RateLimitDelay
	if stage == StageInitial {
		delay = r.opts.InitialRateLimitDelay
	}

	r.retrying(index, fmt.Sprintf("rate limited, retrying in %s", delay), "rate limited, retrying")
	if !sleep(ctx, delay) || r.halted(ctx) {
		r.fail(index, cause, cause)
		return
	}

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

// rewriteAndRetry asks the rewriter for a compliant prompt and generates with
// it once. The task prompt only changes when that generation succeeds.
func (d dispatcher) rewriteAndRetry(ctx context.Context, index int, cause string) {
	r := d.r
	r.retrying(index, "rejected by content policy, rewriting prompt",
		"rejected by content policy, rewriting prompt")
	if r.halted(ctx) {
		r.fail(index, cause, cause)
		return
	}

	task, _ := r.store.Get(index)
	previous, next := r.store.Neighbours(index)
	replacement, err := r.rewriter.Rewrite(ctx, generation.RewriteRequest{
		FailedPrompt:   task.Prompt,
		PreviousPrompt: previous,
		NextPrompt:     next,
		SceneContext:   task.SceneContext,
		PolicyError:    cause,
	})
	if r.isCancelled(ctx) {
		return
	}
	if err == nil && strings.TrimSpace(replacement) == "" {
		err = fmt.Errorf("%w: empty replacement prompt", generation.ErrInvalidResponse)
	}
	if err != nil {
		r.settleFailure(index, fmt.Sprintf("%s (prompt rewrite failed: %s)", cause, err), cause, err)
		return
	}
	replacement = strings.TrimSpace(replacement)

	r.logger.Info("prompt rewritten after content policy rejection",
		"scene", task.SceneNumber,
		"attempts", task.Attempts)

	if r.halted(ctx) {
		r.fail(index, cause, cause)
		return
	}
	result, err := r.generate(ctx, index, replacement)
	if r.isCancelled(ctx) {
		return
	}
	if err != nil {
		r.settleFailure(index, fmt.Sprintf("%s (rewritten prompt also failed: %s)", cause, err), cause, err)
		return
	}
	r.succeed(index, result, replacement)
}

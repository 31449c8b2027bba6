package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/scenegen/internal/generation"
)

// Orchestrator runs batches of scene prompts against an image generator,
// recovering from throttling and content-policy rejections and retrying
// failures in rounds until everything succeeds or the round cap is reached.
//
// An Orchestrator holds no per-run state and may serve concurrent runs.
type Orchestrator struct {
	generator  generation.ImageGenerator
	rewriter   generation.PromptRewriter
	classifier Classifier
	opts       Options
	logger     *slog.Logger
}

// NewOrchestrator creates an Orchestrator. Invalid option values fall back to
// DefaultOptions.
func NewOrchestrator(
	generator generation.ImageGenerator,
	rewriter generation.PromptRewriter,
	opts Options,
	logger *slog.Logger,
) (*Orchestrator, error) {
	if generator == nil {
		return nil, ErrNilGenerator
	}
	if rewriter == nil {
		return nil, ErrNilRewriter
	}
	if logger == nil {
		return nil, ErrNilLogger
	}

	return &Orchestrator{
		generator:  generator,
		rewriter:   rewriter,
		classifier: SubstringClassifier{},
		opts:       opts.normalize(),
		logger:     logger.With("component", "batch_orchestrator"),
	}, nil
}

// SetClassifier replaces the failure classifier. Nil restores the default.
func (o *Orchestrator) SetClassifier(c Classifier) {
	if c == nil {
		c = SubstringClassifier{}
	}
	o.classifier = c
}

// Options returns the effective options.
func (o *Orchestrator) Options() Options {
	return o.opts
}

// Submit seeds a store from prompts and runs it.
func (o *Orchestrator) Submit(ctx context.Context, prompts []ScenePrompt, sink ProgressSink) (*Report, error) {
	if len(prompts) == 0 {
		return nil, ErrNoPrompts
	}
	return o.Run(ctx, NewTaskStore(prompts), sink)
}

// Run drives every task in store to Success or Failed.
//
// A report is always returned for a started run. The error is non-nil when the
// provider rejected the credentials (ErrAuthExpired) or ctx was cancelled
// (ErrCancelled). Cancellation through the sink returns a nil error and a
// report with OutcomeCancelled. Exhausting the round cap is not an error.
func (o *Orchestrator) Run(ctx context.Context, store *TaskStore, sink ProgressSink) (*Report, error) {
	if store == nil || store.Len() == 0 {
		return nil, ErrNoPrompts
	}
	if sink == nil {
		sink = NopSink{}
	}

	r := &run{
		store:      store,
		sink:       sink,
		generator:  o.generator,
		rewriter:   o.rewriter,
		classifier: o.classifier,
		opts:       o.opts,
		logger:     o.logger,
	}
	round := RoundState{
		Round:           1,
		MaxRounds:       o.opts.MaxRounds,
		InterRoundDelay: o.opts.InterRoundDelay,
	}

	startedAt := time.Now()
	r.logger.Info("starting batch run",
		"scenes", store.Len(),
		"concurrency", o.opts.Concurrency,
		"max_rounds", o.opts.MaxRounds)
	r.notify(fmt.Sprintf("generating %d scenes", store.Len()))

	outcome := r.drive(ctx, &round)

	switch outcome {
	case OutcomeAborted:
		store.settleUnfinished("aborted: " + ErrAuthExpired.Error())
	case OutcomeCancelled:
		store.settleUnfinished("cancelled before completion")
	}

	report := newReport(store, round, outcome, startedAt)
	report.AbortReason = r.abortReason
	r.notify(summaryLine(report))

	r.logger.Info("batch run finished",
		"outcome", string(outcome),
		"rounds", report.Rounds,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"rewritten", report.Rewritten,
		"duration_ms", report.Duration().Milliseconds())

	switch {
	case outcome == OutcomeAborted:
		return report, fmt.Errorf("%w: %s", ErrAuthExpired, r.abortReason)
	case outcome == OutcomeCancelled && ctx.Err() != nil:
		return report, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	return report, nil
}

func summaryLine(r *Report) string {
	switch r.Outcome {
	case OutcomeCompleted:
		return fmt.Sprintf("done: %d/%d scenes generated, %d rewritten", r.Succeeded, r.Total, r.Rewritten)
	case OutcomeRoundCapExhausted:
		return fmt.Sprintf("gave up after %d rounds: %d/%d scenes generated, %d failed",
			r.MaxRounds, r.Succeeded, r.Total, r.Failed)
	case OutcomeAborted:
		return fmt.Sprintf("aborted: session expired (%d/%d scenes generated)", r.Succeeded, r.Total)
	default:
		return fmt.Sprintf("cancelled: %d/%d scenes generated", r.Succeeded, r.Total)
	}
}

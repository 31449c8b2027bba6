package batch_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/scenegen/internal/batch"
	"github.com/phrazzld/scenegen/internal/generation"
	"github.com/phrazzld/scenegen/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// fastOptions disables every delay.
func fastOptions(concurrency, maxRounds int) batch.Options {
	return batch.Options{
		Concurrency:     concurrency,
		MaxRounds:       maxRounds,
		ImagesPerPrompt: 1,
	}
}

func prompts(texts ...string) []batch.ScenePrompt {
	out := make([]batch.ScenePrompt, len(texts))
	for i, t := range texts {
		out[i] = batch.ScenePrompt{Text: t, Context: "a short story"}
	}
	return out
}

func newOrchestrator(
	t *testing.T,
	gen generation.ImageGenerator,
	rw generation.PromptRewriter,
	opts batch.Options,
) *batch.Orchestrator {
	t.Helper()
	o, err := batch.NewOrchestrator(gen, rw, opts, setupTestLogger())
	require.NoError(t, err)
	return o
}

// recordingSink keeps every update it receives.
type recordingSink struct {
	batch.CancelFlag

	mu        sync.Mutex
	snapshots [][]batch.GenerationTask
	statuses  []string

	// onUpdate runs after recording, outside the lock
	onUpdate func(s *recordingSink, snapshot []batch.GenerationTask, status string)
}

func (s *recordingSink) OnUpdate(snapshot []batch.GenerationTask, status string) {
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snapshot)
	s.statuses = append(s.statuses, status)
	s.mu.Unlock()

	if s.onUpdate != nil {
		s.onUpdate(s, snapshot, status)
	}
}

func (s *recordingSink) allSnapshots() [][]batch.GenerationTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots
}

func failingFor(failures map[string]error) func(context.Context, generation.ImageRequest) (*generation.ImageResult, error) {
	return func(_ context.Context, req generation.ImageRequest) (*generation.ImageResult, error) {
		if err, ok := failures[req.Prompt]; ok {
			return nil, err
		}
		return mocks.ImageResult(req.Count), nil
	}
}

func TestNewOrchestrator(t *testing.T) {
	t.Parallel()

	logger := setupTestLogger()
	gen := &mocks.MockImageGenerator{}
	rw := &mocks.MockPromptRewriter{}

	_, err := batch.NewOrchestrator(nil, rw, batch.DefaultOptions(), logger)
	assert.ErrorIs(t, err, batch.ErrNilGenerator)

	_, err = batch.NewOrchestrator(gen, nil, batch.DefaultOptions(), logger)
	assert.ErrorIs(t, err, batch.ErrNilRewriter)

	_, err = batch.NewOrchestrator(gen, rw, batch.DefaultOptions(), nil)
	assert.ErrorIs(t, err, batch.ErrNilLogger)

	o, err := batch.NewOrchestrator(gen, rw, batch.Options{}, logger)
	require.NoError(t, err)
	assert.Equal(t, 3, o.Options().Concurrency, "zero concurrency should fall back to the default")
	assert.Equal(t, 50, o.Options().MaxRounds)
	assert.Equal(t, 1, o.Options().ImagesPerPrompt)
	assert.Zero(t, o.Options().InterRoundDelay, "zero delays are kept")
}

func TestSubmit_NoPrompts(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, &mocks.MockImageGenerator{}, &mocks.MockPromptRewriter{}, fastOptions(3, 5))
	report, err := o.Submit(context.Background(), nil, nil)

	assert.ErrorIs(t, err, batch.ErrNoPrompts)
	assert.Nil(t, report)
}

func TestSubmit_AllSucceed(t *testing.T) {
	t.Parallel()

	gen := &mocks.MockImageGenerator{}
	o := newOrchestrator(t, gen, &mocks.MockPromptRewriter{}, fastOptions(3, 5))

	report, err := o.Submit(context.Background(), prompts("p1", "p2", "p3", "p4"), nil)
	require.NoError(t, err)

	assert.Equal(t, batch.OutcomeCompleted, report.Outcome)
	assert.Equal(t, 1, report.Rounds)
	assert.Equal(t, 4, report.Succeeded)
	assert.Equal(t, 4, gen.CallCount())
	for i, task := range report.Tasks {
		assert.Equal(t, i, task.Index)
		assert.Equal(t, batch.StatusSuccess, task.Status)
		assert.Empty(t, task.Error)
		require.NotNil(t, task.Result)
		assert.Len(t, task.Result.Images, 1)
	}
}

func TestSubmit_ContentPolicyRewrittenInline(t *testing.T) {
	t.Parallel()

	gen := &mocks.MockImageGenerator{
		GenerateFn: failingFor(map[string]error{"p3": errors.New("Conteúdo inseguro detectado")}),
	}
	rw := &mocks.MockPromptRewriter{Prompt: "p3 safe"}
	o := newOrchestrator(t, gen, rw, fastOptions(1, 50))

	report, err := o.Submit(context.Background(), prompts("p1", "p2", "p3", "p4", "p5"), nil)
	require.NoError(t, err)

	assert.Equal(t, batch.OutcomeCompleted, report.Outcome)
	assert.Equal(t, 1, report.Rounds, "recovery should happen inside the initial pass")
	assert.Equal(t, 5, report.Succeeded)
	assert.Equal(t, 1, report.Rewritten)

	task := report.Tasks[2]
	assert.Equal(t, batch.StatusSuccess, task.Status)
	assert.True(t, task.WasRewritten)
	assert.Equal(t, "p3 safe", task.Prompt)
	assert.Equal(t, "p3", task.OriginalPrompt)
	assert.Equal(t, 2, task.Attempts)

	require.Equal(t, 1, rw.CallCount())
	req := rw.Requests()[0]
	assert.Equal(t, "p3", req.FailedPrompt)
	assert.Equal(t, "p2", req.PreviousPrompt)
	assert.Empty(t, req.NextPrompt, "p4 has not run yet with concurrency 1")
	assert.Equal(t, "a short story", req.SceneContext)
	assert.Contains(t, req.PolicyError, "inseguro")
	assert.Equal(t, 1, gen.CallsFor("p3 safe"))

	for i, task := range report.Tasks {
		if i != 2 {
			assert.False(t, task.WasRewritten, "only the rejected scene is rewritten")
		}
	}
}

func TestSubmit_PersistentRateLimitStopsAtRoundCap(t *testing.T) {
	t.Parallel()

	gen := &mocks.MockImageGenerator{
		GenerateFn: failingFor(map[string]error{"p2": errors.New("429 too many requests")}),
	}
	rw := &mocks.MockPromptRewriter{}
	o := newOrchestrator(t, gen, rw, fastOptions(3, 50))

	report, err := o.Submit(context.Background(), prompts("p1", "p2", "p3"), nil)
	require.NoError(t, err, "exhausting the round cap is not an error")

	assert.Equal(t, batch.OutcomeRoundCapExhausted, report.Outcome)
	assert.Equal(t, 51, report.Rounds)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)

	task := report.Tasks[1]
	assert.Equal(t, batch.StatusFailed, task.Status)
	assert.Equal(t, "429 too many requests", task.Error)
	assert.Nil(t, task.Result)

	// Two calls in the initial pass, one per retry round after that.
	assert.Equal(t, 51, gen.CallsFor("p2"))
	assert.Equal(t, 0, rw.CallCount(), "rate limiting never triggers a rewrite")
}

func TestSubmit_RateLimitRecoveredInInitialPass(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0
	gen := &mocks.MockImageGenerator{
		GenerateFn: func(_ context.Context, req generation.ImageRequest) (*generation.ImageResult, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return nil, errors.New("Limite de requisições atingido")
			}
			return mocks.ImageResult(req.Count), nil
		},
	}
	o := newOrchestrator(t, gen, &mocks.MockPromptRewriter{}, fastOptions(1, 5))

	report, err := o.Submit(context.Background(), prompts("p1"), nil)
	require.NoError(t, err)

	assert.Equal(t, batch.OutcomeCompleted, report.Outcome)
	assert.Equal(t, 1, report.Rounds)
	assert.Equal(t, 2, report.Tasks[0].Attempts)
	assert.False(t, report.Tasks[0].WasRewritten)
}

func TestSubmit_UnknownFailuresConverge(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	remaining := map[string]int{"p1": 2, "p3": 4}
	gen := &mocks.MockImageGenerator{
		GenerateFn: func(_ context.Context, req generation.ImageRequest) (*generation.ImageResult, error) {
			mu.Lock()
			defer mu.Unlock()
			if remaining[req.Prompt] > 0 {
				remaining[req.Prompt]--
				return nil, errors.New("upstream returned 503")
			}
			return mocks.ImageResult(req.Count), nil
		},
	}
	rw := &mocks.MockPromptRewriter{}
	o := newOrchestrator(t, gen, rw, fastOptions(2, 10))

	report, err := o.Submit(context.Background(), prompts("p1", "p2", "p3"), nil)
	require.NoError(t, err)

	assert.Equal(t, batch.OutcomeCompleted, report.Outcome)
	assert.Equal(t, 5, report.Rounds, "p3 needs four retry rounds")
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 0, rw.CallCount())
	assert.Equal(t, 5, report.Tasks[2].Attempts)
}

func TestSubmit_AuthExpiredAbortsRun(t *testing.T) {
	t.Parallel()

	gen := &mocks.MockImageGenerator{
		GenerateFn: failingFor(map[string]error{"p2": errors.New("invalid cookie, refresh session")}),
	}
	o := newOrchestrator(t, gen, &mocks.MockPromptRewriter{}, fastOptions(1, 50))

	report, err := o.Submit(context.Background(), prompts("p1", "p2", "p3", "p4"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, batch.ErrAuthExpired)

	assert.Equal(t, batch.OutcomeAborted, report.Outcome)
	assert.Contains(t, report.AbortReason, "scene 2")
	assert.Equal(t, 2, gen.CallCount(), "no generation call may follow the abort")

	assert.Equal(t, batch.StatusSuccess, report.Tasks[0].Status)
	assert.Equal(t, batch.StatusFailed, report.Tasks[1].Status)
	assert.Equal(t, "invalid cookie, refresh session", report.Tasks[1].Error)
	for _, task := range report.Tasks[2:] {
		assert.Equal(t, batch.StatusFailed, task.Status)
		assert.Contains(t, task.Error, "aborted")
		assert.Equal(t, 0, task.Attempts)
	}
}

func TestSubmit_AuthExpiredDuringRewriteAborts(t *testing.T) {
	t.Parallel()

	gen := &mocks.MockImageGenerator{
		GenerateFn: failingFor(map[string]error{"p1": errors.New("blocked: unsafe content")}),
	}
	rw := &mocks.MockPromptRewriter{Err: errors.New("session expired")}
	o := newOrchestrator(t, gen, rw, fastOptions(1, 50))

	report, err := o.Submit(context.Background(), prompts("p1", "p2"), nil)
	assert.ErrorIs(t, err, batch.ErrAuthExpired)
	assert.Equal(t, batch.OutcomeAborted, report.Outcome)
	assert.Equal(t, 1, gen.CallCount())
	assert.Contains(t, report.Tasks[0].Error, "prompt rewrite failed: session expired")
}

func TestSubmit_RewriteFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		rewriter    *mocks.MockPromptRewriter
		generateFn  func(context.Context, generation.ImageRequest) (*generation.ImageResult, error)
		wantContain string
	}{
		{
			name:        "rewriter error",
			rewriter:    &mocks.MockPromptRewriter{Err: errors.New("model unavailable")},
			generateFn:  failingFor(map[string]error{"p1": errors.New("content policy violation")}),
			wantContain: "content policy violation (prompt rewrite failed: model unavailable)",
		},
		{
			name:        "empty rewrite",
			rewriter:    &mocks.MockPromptRewriter{Prompt: "   "},
			generateFn:  failingFor(map[string]error{"p1": errors.New("content policy violation")}),
			wantContain: "prompt rewrite failed",
		},
		{
			name:     "rewritten prompt rejected",
			rewriter: &mocks.MockPromptRewriter{Prompt: "p1 softer"},
			generateFn: failingFor(map[string]error{
				"p1":        errors.New("content policy violation"),
				"p1 softer": errors.New("still bloqueado"),
			}),
			wantContain: "content policy violation (rewritten prompt also failed: still bloqueado)",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			gen := &mocks.MockImageGenerator{GenerateFn: tc.generateFn}
			o := newOrchestrator(t, gen, tc.rewriter, fastOptions(1, 2))

			report, err := o.Submit(context.Background(), prompts("p1"), nil)
			require.NoError(t, err)

			task := report.Tasks[0]
			assert.Equal(t, batch.OutcomeRoundCapExhausted, report.Outcome)
			assert.Equal(t, batch.StatusFailed, task.Status)
			assert.Contains(t, task.Error, tc.wantContain)
			assert.Equal(t, "p1", task.Prompt, "a failed rewrite never replaces the prompt")
			assert.False(t, task.WasRewritten)
			assert.Equal(t, 2, tc.rewriter.CallCount(), "each round rewrites again")
		})
	}
}

func TestSubmit_RewriteFailureMessageStableAcrossRounds(t *testing.T) {
	t.Parallel()

	gen := &mocks.MockImageGenerator{
		GenerateFn: failingFor(map[string]error{"p1": errors.New("content policy violation")}),
	}
	rw := &mocks.MockPromptRewriter{Err: errors.New("model unavailable")}
	o := newOrchestrator(t, gen, rw, fastOptions(1, 6))

	report, err := o.Submit(context.Background(), prompts("p1"), nil)
	require.NoError(t, err)

	task := report.Tasks[0]
	assert.Equal(t, batch.StatusFailed, task.Status)
	assert.Equal(t, "content policy violation (prompt rewrite failed: model unavailable)", task.Error)
	assert.Equal(t, "content policy violation", task.Cause)

	requests := rw.Requests()
	require.Len(t, requests, 6, "one rewrite per round")
	for i, req := range requests {
		assert.Equal(t, "content policy violation", req.PolicyError, "rewrite %d", i+1)
	}
}

func TestSubmit_RateLimitDelayPerStage(t *testing.T) {
	t.Parallel()

	const delay = 60 * time.Millisecond

	tests := []struct {
		name            string
		initialDelay    time.Duration
		roundDelay      time.Duration
		wantInitialWait bool
		wantRoundWait   bool
	}{
		{name: "initial pass retries immediately", initialDelay: 0, roundDelay: delay, wantRoundWait: true},
		{name: "initial pass waits", initialDelay: delay, roundDelay: 0, wantInitialWait: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var mu sync.Mutex
			var calls []time.Time
			gen := &mocks.MockImageGenerator{
				GenerateFn: func(_ context.Context, req generation.ImageRequest) (*generation.ImageResult, error) {
					mu.Lock()
					defer mu.Unlock()
					calls = append(calls, time.Now())
					if len(calls) < 3 {
						return nil, errors.New("429 too many requests")
					}
					return mocks.ImageResult(req.Count), nil
				},
			}
			opts := fastOptions(1, 5)
			opts.InitialRateLimitDelay = tc.initialDelay
			opts.RateLimitDelay = tc.roundDelay
			o := newOrchestrator(t, gen, &mocks.MockPromptRewriter{}, opts)

			report, err := o.Submit(context.Background(), prompts("p1"), nil)
			require.NoError(t, err)
			assert.Equal(t, batch.OutcomeCompleted, report.Outcome)
			assert.Equal(t, 2, report.Rounds)

			mu.Lock()
			defer mu.Unlock()
			require.Len(t, calls, 3)

			// Call 2 is the inline retry of the initial pass, call 3 the
			// throttle retry in round 2.
			initialWait := calls[1].Sub(calls[0])
			roundWait := calls[2].Sub(calls[1])
			if tc.wantInitialWait {
				assert.GreaterOrEqual(t, initialWait, delay)
			} else {
				assert.Less(t, initialWait, delay)
			}
			if tc.wantRoundWait {
				assert.GreaterOrEqual(t, roundWait, delay)
			} else {
				assert.Less(t, roundWait, delay)
			}
		})
	}
}

func TestSubmit_SinkCancellation(t *testing.T) {
	t.Parallel()

	gen := &mocks.MockImageGenerator{}
	sink := &recordingSink{
		onUpdate: func(s *recordingSink, snapshot []batch.GenerationTask, _ string) {
			for _, task := range snapshot {
				if task.Status == batch.StatusSuccess {
					s.Cancel()
				}
			}
		},
	}
	o := newOrchestrator(t, gen, &mocks.MockPromptRewriter{}, fastOptions(1, 50))

	report, err := o.Submit(context.Background(), prompts("p1", "p2", "p3"), sink)
	require.NoError(t, err, "sink cancellation is not an error")

	assert.Equal(t, batch.OutcomeCancelled, report.Outcome)
	assert.Equal(t, 1, gen.CallCount())
	assert.Equal(t, batch.StatusSuccess, report.Tasks[0].Status, "settled tasks keep their result")
	for _, task := range report.Tasks[1:] {
		assert.Equal(t, batch.StatusFailed, task.Status)
		assert.Equal(t, "cancelled before completion", task.Error)
	}
}

func TestSubmit_ContextCancellation(t *testing.T) {
	t.Parallel()

	gen := &mocks.MockImageGenerator{}
	o := newOrchestrator(t, gen, &mocks.MockPromptRewriter{}, fastOptions(2, 50))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := o.Submit(ctx, prompts("p1", "p2"), nil)
	assert.ErrorIs(t, err, batch.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, batch.OutcomeCancelled, report.Outcome)
	assert.Equal(t, 0, gen.CallCount())
	assert.Equal(t, 2, report.Failed)
}

func TestSubmit_ContextCancelledDuringCall(t *testing.T) {
	t.Parallel()

	gen := &mocks.MockImageGenerator{Delay: time.Hour}
	o := newOrchestrator(t, gen, &mocks.MockPromptRewriter{}, fastOptions(1, 50))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	report, err := o.Submit(ctx, prompts("p1", "p2"), nil)
	assert.ErrorIs(t, err, batch.ErrCancelled)
	assert.Equal(t, 1, gen.CallCount())
	for _, task := range report.Tasks {
		assert.Equal(t, batch.StatusFailed, task.Status)
		assert.Equal(t, "cancelled before completion", task.Error)
	}
}

func TestSubmit_ConcurrencyBound(t *testing.T) {
	t.Parallel()

	gen := &mocks.MockImageGenerator{Delay: 10 * time.Millisecond}
	o := newOrchestrator(t, gen, &mocks.MockPromptRewriter{}, fastOptions(3, 5))

	texts := make([]string, 12)
	for i := range texts {
		texts[i] = fmt.Sprintf("p%d", i+1)
	}
	report, err := o.Submit(context.Background(), prompts(texts...), nil)
	require.NoError(t, err)

	assert.Equal(t, 12, report.Succeeded)
	assert.LessOrEqual(t, gen.MaxActive(), 3)
	assert.GreaterOrEqual(t, gen.MaxActive(), 1)
}

func TestSubmit_RequestCarriesSceneFields(t *testing.T) {
	t.Parallel()

	gen := &mocks.MockImageGenerator{}
	opts := fastOptions(1, 5)
	opts.ImagesPerPrompt = 2
	o := newOrchestrator(t, gen, &mocks.MockPromptRewriter{}, opts)

	scenes := []batch.ScenePrompt{{
		Text:           "a lighthouse at dusk",
		NegativePrompt: "text, watermark",
		AspectRatio:    "16:9",
		Style:          "watercolor",
	}}
	report, err := o.Submit(context.Background(), scenes, nil)
	require.NoError(t, err)

	require.Len(t, gen.Requests(), 1)
	req := gen.Requests()[0]
	assert.Equal(t, "a lighthouse at dusk", req.Prompt)
	assert.Equal(t, "text, watermark", req.NegativePrompt)
	assert.Equal(t, "16:9", req.AspectRatio)
	assert.Equal(t, "watercolor", req.Style)
	assert.Equal(t, 2, req.Count)
	assert.Len(t, report.Tasks[0].Result.Images, 2)
}

func TestSubmit_EmptyResultIsFailure(t *testing.T) {
	t.Parallel()

	gen := &mocks.MockImageGenerator{
		GenerateFn: func(context.Context, generation.ImageRequest) (*generation.ImageResult, error) {
			return &generation.ImageResult{}, nil
		},
	}
	o := newOrchestrator(t, gen, &mocks.MockPromptRewriter{}, fastOptions(1, 2))

	report, err := o.Submit(context.Background(), prompts("p1"), nil)
	require.NoError(t, err)
	assert.Equal(t, batch.StatusFailed, report.Tasks[0].Status)
	assert.Contains(t, report.Tasks[0].Error, "no images returned")
}

func TestSubmit_SnapshotInvariants(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := map[string]int{}
	gen := &mocks.MockImageGenerator{
		GenerateFn: func(_ context.Context, req generation.ImageRequest) (*generation.ImageResult, error) {
			mu.Lock()
			defer mu.Unlock()
			seen[req.Prompt]++
			switch {
			case req.Prompt == "p2":
				return nil, errors.New("unsafe prompt")
			case req.Prompt == "p4" && seen[req.Prompt] < 3:
				return nil, errors.New("throttled")
			case req.Prompt == "p5" && seen[req.Prompt] < 2:
				return nil, errors.New("connection reset")
			}
			return mocks.ImageResult(req.Count), nil
		},
	}
	rw := &mocks.MockPromptRewriter{
		RewriteFn: func(_ context.Context, req generation.RewriteRequest) (string, error) {
			return req.FailedPrompt + " gentle", nil
		},
	}
	sink := &recordingSink{}
	o := newOrchestrator(t, gen, rw, fastOptions(2, 10))

	report, err := o.Submit(context.Background(), prompts("p1", "p2", "p3", "p4", "p5", "p6"), sink)
	require.NoError(t, err)
	assert.Equal(t, batch.OutcomeCompleted, report.Outcome)

	snapshots := sink.allSnapshots()
	require.NotEmpty(t, snapshots)

	rewritten := make([]bool, 6)
	for _, snapshot := range snapshots {
		require.Len(t, snapshot, 6, "the task list never grows or shrinks")
		for i, task := range snapshot {
			assert.Equal(t, i, task.Index)
			assert.Equal(t, i+1, task.SceneNumber)
			if rewritten[i] {
				assert.True(t, task.WasRewritten, "rewritten flag never resets")
			}
			rewritten[i] = task.WasRewritten
			if task.Status != batch.StatusSuccess {
				assert.NotEmpty(t, task.Error, "unsuccessful tasks always carry a message")
			}
		}
	}

	for _, task := range report.Tasks {
		assert.Contains(t, []batch.TaskStatus{batch.StatusSuccess, batch.StatusFailed}, task.Status)
	}
	assert.Equal(t, "p2 gentle", report.Tasks[1].Prompt)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/scenegen/internal/batch"
	"github.com/phrazzld/scenegen/internal/config"
	"github.com/phrazzld/scenegen/internal/events"
	"github.com/phrazzld/scenegen/internal/generation"
	"github.com/phrazzld/scenegen/internal/platform/logger"
	"github.com/phrazzld/scenegen/internal/redact"
	"github.com/phrazzld/scenegen/internal/store"
	"github.com/phrazzld/scenegen/internal/task"
)

const archiveTimeout = 10 * time.Second

// OptionsFromConfig converts the batch configuration to orchestrator options.
func OptionsFromConfig(cfg config.BatchConfig) batch.Options {
	return batch.Options{
		Concurrency:           cfg.Concurrency,
		MaxRounds:             cfg.MaxRounds,
		InterRoundDelay:       cfg.InterRoundDelay,
		RateLimitDelay:        cfg.RateLimitDelay,
		InitialRateLimitDelay: cfg.InitialRateLimitDelay,
		ImagesPerPrompt:       cfg.ImagesPerPrompt,
	}
}

// RunService accepts generation runs, executes them on a worker pool and
// tracks their progress.
type RunService struct {
	generator generation.ImageGenerator
	rewriter  generation.PromptRewriter
	archive   store.RunArchive
	emitter   events.EventEmitter
	opts      batch.Options
	retain    int
	validate  *validator.Validate
	base      *slog.Logger
	logger    *slog.Logger

	queue *task.TaskQueue
	pool  *task.WorkerPool

	mu       sync.RWMutex
	runs     map[uuid.UUID]*liveRun
	finished []uuid.UUID
	closed   bool

	now func() time.Time
}

// NewRunService creates a RunService. archive may be nil, in which case
// finished runs are only kept in memory.
func NewRunService(
	generator generation.ImageGenerator,
	rewriter generation.PromptRewriter,
	archive store.RunArchive,
	emitter events.EventEmitter,
	opts batch.Options,
	runsCfg config.RunsConfig,
	logger *slog.Logger,
) (*RunService, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator cannot be nil")
	}
	if rewriter == nil {
		return nil, fmt.Errorf("rewriter cannot be nil")
	}
	if emitter == nil {
		return nil, fmt.Errorf("event emitter cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	log := logger.With("component", "run_service")
	queue := task.NewTaskQueue(runsCfg.QueueSize, logger)
	pool := task.NewWorkerPool(queue, task.WorkerPoolConfig{WorkerCount: runsCfg.WorkerCount}, logger)

	s := &RunService{
		generator: generator,
		rewriter:  rewriter,
		archive:   archive,
		emitter:   emitter,
		opts:      opts,
		retain:    runsCfg.RetainFinished,
		validate:  validator.New(),
		base:      logger,
		logger:    log,
		queue:     queue,
		pool:      pool,
		runs:      make(map[uuid.UUID]*liveRun),
		now:       time.Now,
	}
	return s, nil
}

// Start launches the worker pool.
func (s *RunService) Start() {
	s.pool.Start()
}

// StartRun validates in, registers a queued run and enqueues it.
func (s *RunService) StartRun(ctx context.Context, in StartRunInput) (*RunView, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := s.validate.Struct(in); err != nil {
		log.Debug("run request failed validation", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrInvalidRun, err)
	}

	opts := s.opts
	if in.ImagesPerPrompt > 0 {
		opts.ImagesPerPrompt = in.ImagesPerPrompt
	}

	run := newLiveRun(uuid.New(), in, opts, s.now().UTC())
	run.onUpdate = s.publishProgress

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrServiceClosed
	}
	s.runs[run.id] = run
	s.mu.Unlock()

	if err := s.queue.Enqueue(&runJob{service: s, run: run}); err != nil {
		s.mu.Lock()
		delete(s.runs, run.id)
		s.mu.Unlock()
		log.Warn("failed to enqueue run", "run_id", run.id, "error", err)
		if errors.Is(err, task.ErrQueueClosed) {
			return nil, ErrServiceClosed
		}
		return nil, NewRunServiceError("start_run", "failed to enqueue run", err)
	}

	view := run.view(true)
	s.emit(ctx, events.TypeRunQueued, run.id, view.Status, view)
	log.Info("run queued",
		"run_id", run.id,
		"scenes", len(in.Scenes),
		"images_per_prompt", opts.ImagesPerPrompt)
	return view, nil
}

// GetRun returns the live view of a run, falling back to the archive.
func (s *RunService) GetRun(ctx context.Context, id uuid.UUID) (*RunView, error) {
	if run := s.lookup(id); run != nil {
		return run.view(true), nil
	}
	if s.archive == nil {
		return nil, ErrRunNotFound
	}

	archived, err := s.archive.GetRun(ctx, id)
	if err != nil {
		return nil, NewRunServiceError("get_run", "failed to load archived run", err)
	}
	return archivedView(archived), nil
}

// ListRuns returns runs newest first, without scenes. Archived runs fill the
// list up to limit; a non-positive limit returns every live run only.
func (s *RunService) ListRuns(ctx context.Context, limit int) ([]*RunView, error) {
	s.mu.RLock()
	views := make([]*RunView, 0, len(s.runs))
	for _, run := range s.runs {
		views = append(views, run.view(false))
	}
	s.mu.RUnlock()

	if s.archive != nil && limit > 0 {
		archived, err := s.archive.ListRuns(ctx, limit)
		if err != nil {
			return nil, NewRunServiceError("list_runs", "failed to list archived runs", err)
		}
		seen := make(map[uuid.UUID]bool, len(views))
		for _, v := range views {
			seen[v.ID] = true
		}
		for _, a := range archived {
			if !seen[a.ID] {
				views = append(views, archivedView(a))
			}
		}
	}

	sort.SliceStable(views, func(i, j int) bool {
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
	if limit > 0 && len(views) > limit {
		views = views[:limit]
	}
	return views, nil
}

// CancelRun requests cooperative cancellation. A queued run is settled at
// once; a running run stops starting new calls and drains in-flight ones.
func (s *RunService) CancelRun(ctx context.Context, id uuid.UUID) (*RunView, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	run := s.lookup(id)
	if run == nil {
		if s.archive != nil {
			if _, err := s.archive.GetRun(ctx, id); err == nil {
				return nil, ErrRunFinished
			}
		}
		return nil, ErrRunNotFound
	}
	if run.currentState().Terminal() {
		return nil, ErrRunFinished
	}

	if run.cancelQueued(s.now().UTC(), statusCancelledQueued) {
		log.Info("queued run cancelled", "run_id", id)
		s.finish(ctx, run)
		return run.view(true), nil
	}

	run.Cancel()
	log.Info("run cancellation requested", "run_id", id)
	return run.view(true), nil
}

// SceneImage returns image n of a successful scene of a live run.
func (s *RunService) SceneImage(ctx context.Context, id uuid.UUID, index, n int) (*generation.Image, error) {
	run := s.lookup(id)
	if run == nil {
		if s.archive != nil {
			if _, err := s.archive.GetRun(ctx, id); err == nil {
				return nil, ErrImageUnavailable
			}
		}
		return nil, ErrRunNotFound
	}

	img, err := run.image(index, n)
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// Shutdown stops accepting runs, cancels the ones in progress and waits for
// the workers until ctx expires. Runs still queued are settled as cancelled.
func (s *RunService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := make([]*liveRun, 0, len(s.runs))
	for _, run := range s.runs {
		if !run.currentState().Terminal() {
			pending = append(pending, run)
		}
	}
	s.mu.Unlock()

	s.queue.Close()
	for _, run := range pending {
		run.Cancel()
	}

	done := make(chan struct{})
	go func() {
		s.pool.Stop()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("run service shutdown: %w", ctx.Err())
	}

	for _, run := range pending {
		if run.cancelQueued(s.now().UTC(), "cancelled by shutdown") {
			s.finish(ctx, run)
		}
	}

	s.logger.Info("run service stopped", "pending_runs", len(pending))
	return err
}

func (s *RunService) lookup(id uuid.UUID) *liveRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runs[id]
}

// execute drives one run through the orchestrator.
func (s *RunService) execute(ctx context.Context, run *liveRun) error {
	log := s.logger.With("run_id", run.id)

	if !run.begin(s.now().UTC()) {
		log.Debug("skipping run cancelled while queued")
		return nil
	}
	s.publishProgress(run, statusStarting)

	orchestrator, err := batch.NewOrchestrator(s.generator, s.rewriter, run.opts, s.base.With("run_id", run.id))
	if err != nil {
		run.complete(nil, err, err.Error(), s.now().UTC())
		s.finish(ctx, run)
		return err
	}

	report, err := orchestrator.Submit(logger.WithLogger(ctx, log), run.prompts, run)

	var errMsg string
	if err != nil {
		errMsg = redact.Error(err)
	}
	run.complete(report, err, errMsg, s.now().UTC())
	s.finish(ctx, run)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, batch.ErrAuthExpired), errors.Is(err, batch.ErrCancelled):
		// Expected outcomes; the report already carries them.
		return nil
	default:
		return err
	}
}

// finish publishes the final view, archives the run and evicts old runs.
func (s *RunService) finish(ctx context.Context, run *liveRun) {
	view := run.view(true)
	s.emit(ctx, events.TypeRunFinished, run.id, view.Status, view)

	if s.archive != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		defer cancel()
		if err := s.archive.SaveRun(actx, run.archived()); err != nil {
			s.logger.Error("failed to archive run",
				"run_id", run.id,
				"error", redact.Error(err))
		}
	}

	s.retire(run.id)

	s.logger.Info("run finished",
		"run_id", run.id,
		"state", view.State,
		"succeeded", view.Counts.Succeeded,
		"failed", view.Counts.Failed,
		"rewritten", view.Counts.Rewritten,
		"rounds", view.Rounds)
}

// retire records a finished run and evicts the oldest finished runs beyond
// the retention limit.
func (s *RunService) retire(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finished = append(s.finished, id)
	for len(s.finished) > s.retain {
		oldest := s.finished[0]
		s.finished = s.finished[1:]
		delete(s.runs, oldest)
	}
}

func (s *RunService) publishProgress(run *liveRun, status string) {
	s.emit(context.Background(), events.TypeRunProgress, run.id, status, run.view(true))
}

func (s *RunService) emit(ctx context.Context, eventType string, runID uuid.UUID, status string, view *RunView) {
	event, err := events.NewRunEvent(eventType, runID, status, view)
	if err != nil {
		s.logger.Error("failed to build run event", "run_id", runID, "error", err)
		return
	}
	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		s.logger.Warn("run event handler failed",
			"run_id", runID,
			"event_type", eventType,
			"error", err)
	}
}

// runJob adapts a live run to task.Task.
type runJob struct {
	service *RunService
	run     *liveRun
}

var _ task.Task = (*runJob)(nil)

func (j *runJob) ID() uuid.UUID { return j.run.id }

func (j *runJob) Type() string { return task.TaskTypeBatchRun }

func (j *runJob) Execute(ctx context.Context) error {
	return j.service.execute(ctx, j.run)
}

package batch

import "errors"

// Common errors returned by the batch package
var (
	// ErrNoPrompts is returned when a run is submitted without scenes
	ErrNoPrompts = errors.New("at least one prompt is required")

	// ErrNilGenerator is returned when the orchestrator has no image generator
	ErrNilGenerator = errors.New("image generator cannot be nil")

	// ErrNilRewriter is returned when the orchestrator has no prompt rewriter
	ErrNilRewriter = errors.New("prompt rewriter cannot be nil")

	// ErrNilLogger is returned when the orchestrator has no logger
	ErrNilLogger = errors.New("logger cannot be nil")

	// ErrAuthExpired is returned when the provider rejects the run's credentials.
	// It is the only failure that stops a whole run.
	ErrAuthExpired = errors.New("provider session expired")

	// ErrCancelled is returned when the caller's context ends the run
	ErrCancelled = errors.New("run cancelled")
)

package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/scenegen/internal/store"
)

// Common service errors. The API layer maps these to HTTP status codes.
var (
	// ErrRunNotFound indicates that no live or archived run has the requested ID.
	// API layer should map this to HTTP 404 Not Found.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunFinished indicates that the operation requires a run that has not finished yet.
	// API layer should map this to HTTP 409 Conflict.
	ErrRunFinished = errors.New("run already finished")

	// ErrInvalidRun indicates that a run request failed validation.
	// API layer should map this to HTTP 400 Bad Request.
	ErrInvalidRun = errors.New("invalid run request")

	// ErrSceneNotFound indicates a scene index or image number outside the run.
	ErrSceneNotFound = errors.New("scene not found")

	// ErrImageUnavailable indicates the scene has no image to return, either because
	// it did not succeed or because the run is only available from the archive.
	ErrImageUnavailable = errors.New("scene image not available")

	// ErrServiceClosed indicates the service no longer accepts runs.
	ErrServiceClosed = errors.New("run service is shut down")
)

// RunServiceError wraps unexpected errors from the run service with context.
type RunServiceError struct {
	// Operation is the operation that failed (e.g., "start_run", "get_run")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for RunServiceError.
func (e *RunServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("run service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("run service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *RunServiceError) Unwrap() error {
	return e.Err
}

// NewRunServiceError creates a new RunServiceError.
// Known sentinels are returned directly, and store not-found errors become ErrRunNotFound.
func NewRunServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	for _, sentinel := range []error{ErrRunNotFound, ErrRunFinished, ErrInvalidRun, ErrSceneNotFound, ErrImageUnavailable, ErrServiceClosed} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	if errors.Is(err, store.ErrNotFound) {
		return ErrRunNotFound
	}

	return &RunServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/scenegen/internal/api/shared"
	"github.com/phrazzld/scenegen/internal/service"
	"github.com/phrazzld/scenegen/internal/store"
	"github.com/phrazzld/scenegen/internal/task"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// exposing internal error types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrRunNotFound),
		errors.Is(err, service.ErrSceneNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, service.ErrRunFinished),
		errors.Is(err, service.ErrImageUnavailable):
		return http.StatusConflict

	case errors.Is(err, service.ErrInvalidRun),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	case errors.Is(err, task.ErrQueueFull):
		return http.StatusTooManyRequests

	case errors.Is(err, service.ErrServiceClosed),
		errors.Is(err, task.ErrQueueClosed):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a user-facing message for err that never
// includes internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, service.ErrRunNotFound), errors.Is(err, store.ErrNotFound):
		return "Run not found"
	case errors.Is(err, service.ErrSceneNotFound):
		return "Scene not found"
	case errors.Is(err, service.ErrRunFinished):
		return "Run already finished"
	case errors.Is(err, service.ErrImageUnavailable):
		return "Scene image not available"
	case errors.Is(err, service.ErrInvalidRun):
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return SanitizeValidationError(verrs[0])
		}
		return "Invalid run request"
	case errors.Is(err, task.ErrQueueFull):
		return "Too many runs queued, try again later"
	case errors.Is(err, service.ErrServiceClosed), errors.Is(err, task.ErrQueueClosed):
		return "Service is shutting down"
	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns a validator field error into a short message.
func SanitizeValidationError(fe validator.FieldError) string {
	field := fe.Field()
	if ns := fe.Namespace(); ns != "" {
		// Drop the struct name: "StartRunInput.Scenes[0].Prompt" -> "Scenes[0].Prompt"
		if i := strings.Index(ns, "."); i >= 0 {
			field = ns[i+1:]
		}
	}
	return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(fe.Tag()))
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short or too small"
	case "max":
		return "too long or too large"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the status and safe message for err. A non-empty
// fallback replaces the generic message of unmapped errors.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallback != "" {
		message = fallback
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}

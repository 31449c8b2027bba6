package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/phrazzld/scenegen/internal/service"
	"github.com/phrazzld/scenegen/internal/store"
	"github.com/phrazzld/scenegen/internal/task"
	"github.com/stretchr/testify/assert"
)

func TestMapErrorToStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err    error
		status int
	}{
		{service.ErrRunNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", store.ErrRunNotFound), http.StatusNotFound},
		{service.ErrSceneNotFound, http.StatusNotFound},
		{service.ErrRunFinished, http.StatusConflict},
		{service.ErrImageUnavailable, http.StatusConflict},
		{service.ErrInvalidRun, http.StatusBadRequest},
		{task.ErrQueueFull, http.StatusTooManyRequests},
		{service.ErrServiceClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, MapErrorToStatusCode(tt.err), tt.err.Error())
	}
}

func TestGetSafeErrorMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
	assert.Equal(t, "Run not found", GetSafeErrorMessage(service.ErrRunNotFound))
	assert.Equal(t, "Invalid run request", GetSafeErrorMessage(service.ErrInvalidRun))
	assert.Equal(t, "An unexpected error occurred",
		GetSafeErrorMessage(errors.New("api key AIzaSyA-secret leaked")))
}

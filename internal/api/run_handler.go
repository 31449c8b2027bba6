package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/scenegen/internal/api/shared"
	"github.com/phrazzld/scenegen/internal/generation"
	"github.com/phrazzld/scenegen/internal/platform/logger"
	"github.com/phrazzld/scenegen/internal/service"
)

const defaultListLimit = 50

// RunManager is the subset of service.RunService used by the handlers.
type RunManager interface {
	StartRun(ctx context.Context, in service.StartRunInput) (*service.RunView, error)
	GetRun(ctx context.Context, id uuid.UUID) (*service.RunView, error)
	ListRuns(ctx context.Context, limit int) ([]*service.RunView, error)
	CancelRun(ctx context.Context, id uuid.UUID) (*service.RunView, error)
	SceneImage(ctx context.Context, id uuid.UUID, index, n int) (*generation.Image, error)
}

var _ RunManager = (*service.RunService)(nil)

// RunHandler handles run-related HTTP requests
type RunHandler struct {
	runs   RunManager
	logger *slog.Logger
}

// NewRunHandler creates a new RunHandler
func NewRunHandler(runs RunManager, logger *slog.Logger) *RunHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunHandler{
		runs:   runs,
		logger: logger.With("component", "run_handler"),
	}
}

// CreateRun handles POST /api/runs. The run executes asynchronously, so the
// response is 202 with the queued view.
func (h *RunHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req CreateRunRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Debug("invalid run request body", "error", err)
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := shared.ValidateRequest(req); err != nil {
		var verrs validator.ValidationErrors
		message := "Validation error"
		if errors.As(err, &verrs) && len(verrs) > 0 {
			message = SanitizeValidationError(verrs[0])
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, message, err)
		return
	}

	view, err := h.runs.StartRun(r.Context(), req.toInput())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to start run")
		return
	}

	w.Header().Set("Location", "/api/runs/"+view.ID.String())
	shared.RespondWithJSON(w, r, http.StatusAccepted, view)
}

// ListRuns handles GET /api/runs?limit=N
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := getQueryInt(r, "limit", defaultListLimit)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid limit")
		return
	}

	views, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list runs")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, RunListResponse{Runs: views})
}

// GetRun handles GET /api/runs/{id}
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}

	view, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get run")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, view)
}

// CancelRun handles POST /api/runs/{id}/cancel
func (h *RunHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}

	view, err := h.runs.CancelRun(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to cancel run")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, view)
}

// GetSceneImage handles GET /api/runs/{id}/scenes/{index}/image?n=N and
// writes the raw image bytes.
func (h *RunHandler) GetSceneImage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}
	index, err := getPathInt(r, "index")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid scene index")
		return
	}
	n, err := getQueryInt(r, "n", 0)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid image number")
		return
	}

	img, err := h.runs.SceneImage(r.Context(), id, index, n)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get scene image")
		return
	}

	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img.Data); err != nil {
		logger.FromContextOrDefault(r.Context(), h.logger).Warn("failed to write image", "error", err)
	}
}

func (h *RunHandler) runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid run ID", err)
		return uuid.Nil, false
	}
	return id, true
}

package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	apimiddleware "github.com/phrazzld/scenegen/internal/api/middleware"
)

// NewRouter registers every route and the standard middleware.
func NewRouter(runs *RunHandler, hub *StreamHub, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(apimiddleware.NewTraceMiddleware(logger))

	r.Route("/api/runs", func(r chi.Router) {
		r.Post("/", runs.CreateRun)
		r.Get("/", runs.ListRuns)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", runs.GetRun)
			r.Post("/cancel", runs.CancelRun)
			r.Get("/scenes/{index}/image", runs.GetSceneImage)
			r.Get("/stream", hub.HandleStream)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.Error("failed to write health check response", "error", err)
		}
	})

	return r
}

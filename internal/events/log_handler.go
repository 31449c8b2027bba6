package events

import (
	"context"
	"log/slog"
)

// LogHandler writes run events to a logger. Finished runs are logged at
// info level and everything else at debug.
type LogHandler struct {
	logger *slog.Logger
}

// NewLogHandler creates a LogHandler.
func NewLogHandler(logger *slog.Logger) *LogHandler {
	return &LogHandler{logger: logger.With("component", "run_event_log")}
}

// HandleEvent implements EventHandler.
func (h *LogHandler) HandleEvent(ctx context.Context, event *RunEvent) error {
	level := slog.LevelDebug
	if event.Terminal() {
		level = slog.LevelInfo
	}
	h.logger.Log(ctx, level, "run event",
		"event_type", event.Type,
		"run_id", event.RunID,
		"status", event.Status)
	return nil
}

package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// SessionCounter exposes the live session count for the health payload.
type SessionCounter interface {
	Size() int
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	sessions  SessionCounter
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(sessions SessionCounter, startedAt time.Time, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{sessions: sessions, startedAt: startedAt, logger: logger}
}

// HealthCheck responds with liveness info.
// GET /health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": h.sessions.Size(),
		"uptime_seconds":  int64(time.Since(h.startedAt).Seconds()),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}

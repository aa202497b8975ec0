package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/traderops/backoffice/internal/domain"
	"github.com/traderops/backoffice/internal/session"
)

// SessionService defines the session pool operations the handlers require.
type SessionService interface {
	LoginOne(ctx context.Context, userID int64) (domain.CachedSession, error)
	LoginAll(ctx context.Context) (session.BatchResult, error)
	Logout(ctx context.Context, userID int64) error
	RefreshAll(ctx context.Context) (session.BatchResult, error)
	Sweep(ctx context.Context) (session.SweepResult, error)
}

// SessionHandler serves session lifecycle endpoints.
type SessionHandler struct {
	pool   SessionService
	store  domain.SessionStore
	logger *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(pool SessionService, store domain.SessionStore, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		pool:   pool,
		store:  store,
		logger: logger,
	}
}

// Login authenticates one user against the upstream broker.
// POST /users/{id}/login
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	cached, err := h.pool.LoginOne(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":            cached.UserID,
		"trading_account_id": cached.TradingAccountID,
		"expires_at":         cached.ExpiresAt.Format(time.RFC3339),
	})
}

// Logout revokes the user's session.
// POST /users/{id}/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := h.pool.Logout(r.Context(), userID); err != nil {
		writeDomainError(w, r, h.logger, err, "logout failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"status":  "logged_out",
	})
}

// LoginAll authenticates every active user.
// POST /users/login-all
func (h *SessionHandler) LoginAll(w http.ResponseWriter, r *http.Request) {
	result, err := h.pool.LoginAll(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err, "bulk login failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// sessionView is the API shape of a stored session. Tokens never leave the
// service.
type sessionView struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"user_id"`
	TradingAccountID string     `json:"trading_account_id"`
	Active           bool       `json:"active"`
	LoginAt          time.Time  `json:"login_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	LastRefreshAt    *time.Time `json:"last_refresh_at,omitempty"`
}

// List returns stored sessions, newest first.
// GET /sessions?limit=50&offset=0
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err, "list sessions failed")
		return
	}

	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{
			ID:               s.ID,
			UserID:           s.UserID,
			TradingAccountID: s.TradingAccountID,
			Active:           s.Active,
			LoginAt:          s.LoginAt,
			ExpiresAt:        s.ExpiresAt,
			LastRefreshAt:    s.LastRefreshAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

// RefreshAll refreshes tokens for every live session.
// POST /sessions/refresh-all
func (h *SessionHandler) RefreshAll(w http.ResponseWriter, r *http.Request) {
	result, err := h.pool.RefreshAll(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err, "bulk refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HealthCheck runs an on-demand expiry sweep and reports the classification.
// GET /sessions/health/check
func (h *SessionHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	result, err := h.pool.Sweep(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err, "session sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

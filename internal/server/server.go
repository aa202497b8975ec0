package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/traderops/backoffice/internal/server/handler"
	"github.com/traderops/backoffice/internal/server/middleware"
	"github.com/traderops/backoffice/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// Rate limiting applies only when a Limiter is wired in.
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Sessions *handler.SessionHandler
	Trading  *handler.TradingHandler
}

// Server is the HTTP + WebSocket API for the trading back office.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (auth, logging, CORS, optional rate limiting) and
// attaches the WebSocket transport.
func NewServer(cfg Config, handlers Handlers, wsHandler *ws.Handler, limiter middleware.Limiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required; Auth skips /health).
	mux.HandleFunc("GET /health", handlers.Health.HealthCheck)

	// Per-user session lifecycle.
	mux.HandleFunc("POST /users/{id}/login", handlers.Sessions.Login)
	mux.HandleFunc("POST /users/{id}/logout", handlers.Sessions.Logout)
	mux.HandleFunc("POST /users/login-all", handlers.Sessions.LoginAll)

	// Session inspection and maintenance.
	mux.HandleFunc("GET /sessions", handlers.Sessions.List)
	mux.HandleFunc("POST /sessions/refresh-all", handlers.Sessions.RefreshAll)
	mux.HandleFunc("GET /sessions/health/check", handlers.Sessions.HealthCheck)

	// Trading endpoints.
	mux.HandleFunc("POST /trading/signal", handlers.Trading.ExecuteSignal)
	mux.HandleFunc("POST /trading/close-all", handlers.Trading.CloseAll)
	mux.HandleFunc("GET /trading/positions", handlers.Trading.Positions)
	mux.HandleFunc("GET /trading/trades", handlers.Trading.Trades)

	// WebSocket endpoints.
	if wsHandler != nil {
		mux.HandleFunc("GET /ws", wsHandler.ServeChannel)
		mux.HandleFunc("GET /ws/{channel}", wsHandler.ServeChannel)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply rate limiting when a limiter is available.
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

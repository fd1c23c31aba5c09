package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/speakeasy-api/clerk-gate/internal/core/service"
)

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr string
	Mode       service.Mode
	// AuthorizedParties doubles as the CORS origin allow-list for /api.
	AuthorizedParties  []string
	LegacyRoutes       bool
	RateLimitPerMinute float64
	ReadHeaderTimeout  time.Duration
	IdleTimeout        time.Duration
}

// Server wraps the HTTP server with chi routing, middleware, and graceful shutdown.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	logger     *slog.Logger
	cfg        Config
	gate       *service.Gate
	limiter    *ipRateLimiter // nil when rate limiting is disabled
}

// New creates a new Server that authenticates requests through gate.
func New(cfg Config, gate *service.Gate, logger *slog.Logger) *Server {
	if cfg.Mode == "" {
		cfg.Mode = service.ModeStrict
	}

	s := &Server{
		logger: logger,
		cfg:    cfg,
		gate:   gate,
	}
	if cfg.RateLimitPerMinute > 0 {
		s.limiter = newIPRateLimiter(cfg.RateLimitPerMinute)
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server and blocks until it stops.
// Returns nil if the server was shut down gracefully via Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening",
		slog.String("addr", s.httpServer.Addr),
		slog.String("auth_mode", string(s.cfg.Mode)),
	)
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

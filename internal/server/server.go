// Package server exposes the orchestrator over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/server/handler"
	"github.com/alanyoungcy/predictstake/internal/server/middleware"
	"github.com/alanyoungcy/predictstake/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // if empty, authentication is disabled
	RateLimit       int    // requests per RateLimitWindow per client; 0 disables
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Operations, Audit and Metrics are optional.
type Handlers struct {
	Health     *handler.HealthHandler
	Status     *handler.StatusHandler
	Events     *handler.EventHandler
	Refresh    *handler.RefreshHandler
	Operations *handler.OperationHandler
	Audit      *handler.AuditHandler
	Metrics    http.Handler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with every route registered. limiter may be
// nil, in which case an in-process limiter is used.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = middleware.NewLocalLimiter()
	}
	window := cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      routes(cfg, handlers, wsHub, limiter, window, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // actions wait for confirmation
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

func routes(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, window time.Duration, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}

	mux.HandleFunc("GET /api/events/{address}", handlers.Events.GetEvent)
	mux.Handle("POST /api/events/{address}/stake",
		middleware.RateLimit(limiter, cfg.RateLimit, window)(http.HandlerFunc(handlers.Events.Stake)))
	mux.Handle("POST /api/events/{address}/claim",
		middleware.RateLimit(limiter, cfg.RateLimit, window)(http.HandlerFunc(handlers.Events.Claim)))

	mux.HandleFunc("POST /api/refresh", handlers.Refresh.Refresh)

	if handlers.Operations != nil {
		mux.HandleFunc("GET /api/operations", handlers.Operations.ListOperations)
		mux.HandleFunc("GET /api/operations/{id}", handlers.Operations.GetOperation)
	}
	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
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

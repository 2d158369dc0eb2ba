// Package server exposes the HTTP and WebSocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
	"github.com/alanyoungcy/ledgerbot/internal/server/handler"
	"github.com/alanyoungcy/ledgerbot/internal/server/middleware"
	"github.com/alanyoungcy/ledgerbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication

	// Limiter, when set, caps each client at RateLimit requests per
	// RateWindow.
	Limiter    domain.RateLimiter
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the route handlers. Nil handlers leave their routes
// unregistered.
type Handlers struct {
	Health     *handler.HealthHandler
	Status     *handler.StatusHandler
	Metrics    *handler.MetricsHandler
	Executions *handler.ExecutionHandler
	Bridges    *handler.BridgeHandler
	Scan       *handler.ScanHandler
}

// Server is the headless API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and builds the middleware chain
// (CORS, logging, optional rate limit, auth).
func NewServer(cfg Config, h Handlers, hub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	Routes(mux, h, hub)

	var chain http.Handler = mux
	chain = middleware.Auth(cfg.APIKey, "/api/health")(chain)
	if cfg.Limiter != nil && cfg.RateLimit > 0 {
		chain = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(chain)
	}
	chain = middleware.Logging(logger)(chain)
	chain = middleware.CORS(cfg.CORSOrigins)(chain)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           chain,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      2 * time.Minute,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Routes registers every handler present in h on mux.
func Routes(mux *http.ServeMux, h Handlers, hub *ws.Hub) {
	if h.Health != nil {
		mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	}
	if h.Status != nil {
		mux.HandleFunc("GET /api/status", h.Status.GetStatus)
		mux.HandleFunc("GET /api/network", h.Status.GetNetwork)
	}
	if h.Metrics != nil {
		mux.HandleFunc("GET /api/metrics", h.Metrics.GetMetrics)
		mux.HandleFunc("GET /api/metrics/archive", h.Metrics.ListSnapshots)
	}
	if h.Executions != nil {
		mux.HandleFunc("GET /api/executions", h.Executions.ListExecutions)
		mux.HandleFunc("GET /api/executions/{id}", h.Executions.GetExecution)
		mux.HandleFunc("GET /api/opportunities", h.Executions.ListOpportunities)
	}
	if h.Bridges != nil {
		mux.HandleFunc("GET /api/bridges/transfers", h.Bridges.ListTransfers)
		mux.HandleFunc("GET /api/bridges/transfers/{id}", h.Bridges.GetTransfer)
		mux.HandleFunc("POST /api/bridges/reconcile", h.Bridges.Reconcile)
	}
	if h.Scan != nil {
		mux.HandleFunc("POST /api/scan", h.Scan.Scan)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

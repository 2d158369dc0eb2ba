// Package app owns the process lifecycle. It wires the infrastructure, the
// connector registry, discovery and execution for the configured mode and
// runs them until the context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/ledgerbot/internal/config"
)

// App is the root application object. Cleanup functions run in reverse
// registration order on Close.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies, starts the mode and blocks until ctx is cancelled
// or a component fails.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	a.cfg.Mode = mode
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", mode),
		slog.Int("ledgers", len(a.cfg.Ledgers)),
		slog.Int("bridges", len(a.cfg.Bridges)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	rt, err := a.buildRuntime(ctx, deps)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	switch mode {
	case "monitor":
		return a.MonitorMode(ctx, deps, rt)
	case "scan":
		return a.ScanMode(ctx, deps, rt)
	case "trade":
		return a.TradeMode(ctx, deps, rt)
	case "full":
		return a.FullMode(ctx, deps, rt)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources. Repeated calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

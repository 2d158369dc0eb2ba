package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/ledgerbot/internal/bridge"
	"github.com/alanyoungcy/ledgerbot/internal/domain"
	"github.com/alanyoungcy/ledgerbot/internal/metrics"
	"github.com/alanyoungcy/ledgerbot/internal/orchestrator"
	"github.com/alanyoungcy/ledgerbot/internal/registry"
	"github.com/alanyoungcy/ledgerbot/internal/scanner"
	"github.com/alanyoungcy/ledgerbot/internal/server"
	"github.com/alanyoungcy/ledgerbot/internal/server/handler"
	"github.com/alanyoungcy/ledgerbot/internal/server/ws"
	"github.com/alanyoungcy/ledgerbot/internal/service"
)

// runtime is the domain graph shared by every mode.
type runtime struct {
	registry  *registry.Registry
	bridges   *bridge.Registry
	tracker   *metrics.Tracker
	exporter  *metrics.Exporter
	scanner   *scanner.Scanner
	envelopes *service.EnvelopeService
	startedAt time.Time
}

// buildRuntime constructs connectors and bridges and connects every ledger.
// The registry is shut down by Close.
func (a *App) buildRuntime(ctx context.Context, deps *Dependencies) (*runtime, error) {
	var w wallets
	if a.cfg.Executes() {
		var err error
		if w, err = loadWallets(a.cfg); err != nil {
			return nil, fmt.Errorf("load wallets: %w", err)
		}
	}

	conns, err := buildConnectors(a.cfg, w, deps.RateLimiter, a.logger)
	if err != nil {
		return nil, fmt.Errorf("build connectors: %w", err)
	}
	reg, err := registry.New(conns, registry.Config{
		HealthInterval:  a.cfg.Registry.HealthInterval.Duration,
		ShutdownTimeout: a.cfg.Registry.ShutdownTimeout.Duration,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		reg.Shutdown(context.Background())
	})
	if err := reg.Initialize(ctx); err != nil {
		return nil, err
	}

	bridges, err := buildBridges(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("build bridges: %w", err)
	}

	tracker := metrics.NewTracker()
	return &runtime{
		registry:  reg,
		bridges:   bridges,
		tracker:   tracker,
		exporter:  metrics.NewExporter(tracker, reg, deps.BlobWriter, deps.SignalBus, a.cfg.Metrics.ExportInterval.Duration, a.logger),
		scanner:   scanner.New(reg, scannerConfig(a.cfg), a.logger),
		envelopes: service.NewEnvelopeService(deps.SignalBus, deps.Opportunities, deps.Notifier, a.logger),
		startedAt: time.Now().UTC(),
	}, nil
}

// MonitorMode runs connector health checks, metrics export and the API. No
// scanning or execution happens.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies, rt *runtime) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startMonitoring(ctx, g, rt)
	a.startHTTPServer(ctx, g, deps, rt, nil, nil)
	return g.Wait()
}

// ScanMode adds the scan loop to monitor mode. Opportunities are published
// as DISCOVERED envelopes and never executed.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies, rt *runtime) error {
	a.logger.InfoContext(ctx, "starting scan mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startMonitoring(ctx, g, rt)

	loop := scanner.NewLoop(rt.scanner, scanner.LoopConfig{
		Interval: a.cfg.Scanner.Interval.Duration,
		Pairs:    scanPairs(a.cfg),
	}, nil, rt.envelopes, a.logger)
	g.Go(func() error { return loop.Run(ctx) })

	a.startHTTPServer(ctx, g, deps, rt, nil, nil)
	return g.Wait()
}

// TradeMode scans, executes through the orchestrator and reconciles bridge
// transfers.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies, rt *runtime) error {
	a.logger.InfoContext(ctx, "starting trade mode", slog.Bool("auto_execute", a.cfg.Scanner.AutoExecute))
	g, ctx := errgroup.WithContext(ctx)
	a.startMonitoring(ctx, g, rt)
	orch, rec := a.startExecution(ctx, g, deps, rt)
	a.startHTTPServer(ctx, g, deps, rt, orch, rec)
	return g.Wait()
}

// FullMode is trade mode plus execution history archival.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, rt *runtime) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startMonitoring(ctx, g, rt)
	orch, rec := a.startExecution(ctx, g, deps, rt)
	if deps.Archiver != nil && a.cfg.Archive.Enabled {
		g.Go(func() error { return a.runArchiver(ctx, deps.Archiver) })
	}
	a.startHTTPServer(ctx, g, deps, rt, orch, rec)
	return g.Wait()
}

func (a *App) startMonitoring(ctx context.Context, g *errgroup.Group, rt *runtime) {
	g.Go(func() error { return rt.registry.Run(ctx) })
	g.Go(func() error { return rt.exporter.Run(ctx) })
}

// startExecution wires policy, orchestrator, the scan loop feeding it and
// the reconciler. The reconciler is nil when disabled or without a transfer
// store.
func (a *App) startExecution(ctx context.Context, g *errgroup.Group, deps *Dependencies, rt *runtime) (*orchestrator.Orchestrator, *bridge.Reconciler) {
	od := orchestrator.Deps{
		Connectors: rt.registry,
		Bridges:    rt.bridges,
		Policy:     service.NewPolicyService(deps.RateLimiter, policyConfig(a.cfg), a.logger),
		Locks:      deps.LockManager,
		Transfers:  deps.Transfers,
		Metrics:    rt.tracker,
		Publisher:  rt.envelopes,
	}
	if deps.Executions != nil {
		od.Executions = deps.Executions
	}
	oc := a.cfg.Orchestrator
	orch := orchestrator.New(od, orchestrator.Config{
		MinProfit:      oc.MinProfit,
		ExecuteTimeout: oc.ExecuteTimeout.Duration,
		DedupTTL:       oc.DedupTTL.Duration,
		LockTTL:        oc.LockTTL.Duration,
		Await: bridge.AwaitConfig{
			Interval: oc.BridgePollInterval.Duration,
			Grace:    oc.BridgeGrace,
		},
	}, a.logger)

	queue := make(chan domain.Opportunity, oc.QueueSize)
	g.Go(func() error { return orch.Run(ctx, queue) })

	loop := scanner.NewLoop(rt.scanner, scanner.LoopConfig{
		Interval:    a.cfg.Scanner.Interval.Duration,
		Pairs:       scanPairs(a.cfg),
		AutoExecute: a.cfg.Scanner.AutoExecute,
		TopN:        a.cfg.Scanner.TopN,
	}, queue, rt.envelopes, a.logger)
	g.Go(func() error { return loop.Run(ctx) })

	if !a.cfg.Reconciler.Enabled || deps.Transfers == nil {
		return orch, nil
	}
	rec := bridge.NewReconciler(rt.bridges, deps.Transfers, deps.SignalBus, bridge.ReconcilerConfig{
		Interval:  a.cfg.Reconciler.Interval.Duration,
		BatchSize: a.cfg.Reconciler.BatchSize,
	}, a.logger)
	g.Go(func() error { return rec.Run(ctx) })
	return orch, rec
}

// runArchiver moves executions older than the retention window to object
// storage on every tick.
func (a *App) runArchiver(ctx context.Context, archiver domain.Archiver) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := archiver.ArchiveExecutions(ctx, time.Now().UTC().Add(-retention))
			if err != nil {
				a.logger.WarnContext(ctx, "execution archive failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "executions archived", slog.Int64("count", n))
			}
		}
	}
}

// startHTTPServer builds the API and WebSocket hub when the server is
// enabled. orch and rec may be nil.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	rt *runtime,
	orch *orchestrator.Orchestrator,
	rec *bridge.Reconciler,
) {
	if !a.cfg.Server.Enabled {
		return
	}

	hub := ws.NewHub(deps.SignalBus, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: rt.startedAt,
		Network:   rt.registry,
	}, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	var submitter handler.Submitter
	if orch != nil {
		submitter = orch
	}
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Pingers, a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, rt.startedAt, rt.registry),
		Metrics: handler.NewMetricsHandler(rt.exporter, deps.BlobReader, a.logger),
		Scan:    handler.NewScanHandler(rt.scanner, submitter, a.logger),
	}
	if deps.Executions != nil {
		handlers.Executions = handler.NewExecutionHandler(deps.Executions, rt.envelopes, a.logger)
	}
	if deps.Transfers != nil {
		var reconciler handler.Reconciler
		if rec != nil {
			reconciler = rec
		}
		handlers.Bridges = handler.NewBridgeHandler(deps.Transfers, reconciler, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		Limiter:     deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// NetworkSource reports ledger status. *registry.Registry satisfies it.
type NetworkSource interface {
	NetworkStatus() []domain.LedgerStatus
}

// Exporter publishes MetricsSnapshot values to object storage and the
// signal bus. Either sink may be nil.
type Exporter struct {
	tracker  *Tracker
	network  NetworkSource
	blob     domain.BlobWriter
	bus      domain.SignalBus
	interval time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	latest domain.MetricsSnapshot
}

// NewExporter creates an Exporter.
func NewExporter(tracker *Tracker, network NetworkSource, blob domain.BlobWriter, bus domain.SignalBus, interval time.Duration, logger *slog.Logger) *Exporter {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Exporter{
		tracker:  tracker,
		network:  network,
		blob:     blob,
		bus:      bus,
		interval: interval,
		logger:   logger.With(slog.String("component", "metrics_exporter")),
	}
}

// Snapshot builds a fresh snapshot without exporting it.
func (e *Exporter) Snapshot() domain.MetricsSnapshot {
	network := e.network.NetworkStatus()
	return domain.MetricsSnapshot{
		TakenAt:     time.Now().UTC(),
		Ledgers:     e.tracker.Snapshot(),
		Network:     network,
		HealthScore: e.tracker.HealthScore(network),
	}
}

// Latest returns the most recently exported snapshot.
func (e *Exporter) Latest() domain.MetricsSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// Run exports every interval until ctx is cancelled, then exports once more
// so the final counters are not lost.
func (e *Exporter) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "metrics exporter started", slog.Duration("interval", e.interval))
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := e.ExportOnce(flushCtx); err != nil {
				e.logger.Warn("final metrics export failed", slog.String("error", err.Error()))
			}
			cancel()
			e.logger.Info("metrics exporter stopped")
			return nil
		case <-ticker.C:
			if err := e.ExportOnce(ctx); err != nil {
				e.logger.WarnContext(ctx, "metrics export failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ExportOnce takes a snapshot and sends it to every configured sink. Sink
// failures are joined; a failing sink does not block the others.
func (e *Exporter) ExportOnce(ctx context.Context) error {
	snap := e.Snapshot()
	e.mu.Lock()
	e.latest = snap
	e.mu.Unlock()

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("metrics: marshal snapshot: %w", err)
	}

	var errs []error
	if e.blob != nil {
		path := SnapshotPath(snap.TakenAt)
		if err := e.blob.Put(ctx, path, bytes.NewReader(payload), "application/json"); err != nil {
			errs = append(errs, fmt.Errorf("metrics: upload %s: %w", path, err))
		}
	}
	if e.bus != nil {
		if err := e.bus.Publish(ctx, domain.ChannelMetrics, payload); err != nil {
			errs = append(errs, fmt.Errorf("metrics: publish: %w", err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	e.logger.DebugContext(ctx, "metrics exported",
		slog.Int("ledgers", len(snap.Ledgers)),
		slog.Float64("health_score", snap.HealthScore),
	)
	return nil
}

// SnapshotPath is the object key for a snapshot taken at t.
func SnapshotPath(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("metrics/%04d/%02d/%02d/snapshot_%d.json", t.Year(), t.Month(), t.Day(), t.UnixMilli())
}

package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// ReconcilerConfig tunes the reconciler.
type ReconcilerConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Reconciler re-polls transfers that timed out from the orchestrator's point
// of view and records their eventual outcome.
type Reconciler struct {
	bridges *Registry
	store   domain.BridgeTransferStore
	bus     domain.SignalBus // optional
	cfg     ReconcilerConfig
	logger  *slog.Logger
}

// NewReconciler creates a Reconciler. bus may be nil.
func NewReconciler(bridges *Registry, store domain.BridgeTransferStore, bus domain.SignalBus, cfg ReconcilerConfig, logger *slog.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Reconciler{
		bridges: bridges,
		store:   store,
		bus:     bus,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "bridge_reconciler")),
	}
}

// Run reconciles every Interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "reconciler started", slog.Duration("interval", r.cfg.Interval))
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return nil
		case <-ticker.C:
			if _, err := r.ReconcileOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "reconcile failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ReconcileOnce polls every TIMED_OUT transfer once and returns how many
// reached a final status.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	pending, err := r.store.ListByStatus(ctx, domain.BridgeTimedOut, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, t := range pending {
		b, err := r.bridges.Get(t.BridgeID)
		if err != nil {
			r.logger.WarnContext(ctx, "transfer references unknown bridge",
				slog.String("transfer_id", t.ID),
				slog.String("bridge", t.BridgeID),
			)
			continue
		}
		status, err := b.PollStatus(ctx, t.ID)
		if err != nil {
			r.logger.WarnContext(ctx, "reconcile poll failed",
				slog.String("transfer_id", t.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if status != domain.BridgeConfirmed && status != domain.BridgeFailed {
			continue
		}

		now := time.Now().UTC()
		if err := r.store.UpdateStatus(ctx, t.ID, status, now); err != nil {
			r.logger.ErrorContext(ctx, "persist reconciled status failed",
				slog.String("transfer_id", t.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		t.Status, t.UpdatedAt = status, now
		settled++
		r.logger.InfoContext(ctx, "transfer reconciled",
			slog.String("transfer_id", t.ID),
			slog.String("opportunity_id", t.OpportunityID),
			slog.String("status", string(status)),
		)
		r.publish(ctx, t)
	}
	return settled, nil
}

func (r *Reconciler) publish(ctx context.Context, t domain.BridgeTransfer) {
	if r.bus == nil {
		return
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := r.bus.Publish(ctx, domain.ChannelBridge, payload); err != nil {
		r.logger.WarnContext(ctx, "publish reconciliation failed", slog.String("error", err.Error()))
	}
}

// Package orchestrator drives a discovered opportunity through validation
// and execution to exactly one terminal ExecutionResult.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/ledgerbot/internal/bridge"
	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// ConnectorSource resolves ledger ids. *registry.Registry satisfies it.
type ConnectorSource interface {
	Get(id string) (domain.Connector, error)
}

// BridgeSource resolves bridge ids. *bridge.Registry satisfies it.
type BridgeSource interface {
	Get(id string) (domain.Bridge, error)
}

// Recorder receives every terminal result. *metrics.Tracker satisfies it.
type Recorder interface {
	Record(res domain.ExecutionResult)
}

// Publisher receives envelopes. service.EnvelopeService satisfies it.
type Publisher interface {
	Publish(ctx context.Context, env domain.OpportunityEnvelope)
}

// Config tunes the orchestrator.
type Config struct {
	MinProfit       float64 // global floor; a ledger's MinProfit overrides it
	ExecuteTimeout  time.Duration
	DedupTTL        time.Duration
	LockTTL         time.Duration
	CleanupInterval time.Duration
	DrainTimeout    time.Duration
	Await           bridge.AwaitConfig
}

func (c Config) withDefaults() Config {
	if c.ExecuteTimeout <= 0 {
		c.ExecuteTimeout = 60 * time.Second
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 10 * time.Minute
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 30 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	return c
}

// Deps are the orchestrator's collaborators. Connectors is required; the
// rest are optional.
type Deps struct {
	Connectors ConnectorSource
	Bridges    BridgeSource
	Policy     domain.PolicyChecker
	Locks      domain.LockManager
	Executions domain.ExecutionStore
	Transfers  domain.BridgeTransferStore
	Metrics    Recorder
	Publisher  Publisher
}

// Orchestrator validates and executes opportunities. Submit may be called
// concurrently; each opportunity id is admitted once.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	dedup  *Dedup
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config, logger *slog.Logger) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		dedup:  NewDedup(cfg.DedupTTL),
		logger: logger.With(slog.String("component", "orchestrator")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Submit runs opp to a terminal state. An opportunity that is admitted
// always produces exactly one result, returned with a nil error, whether it
// succeeded or failed. A non-nil error means opp was not admitted:
// ErrDuplicateOpportunity for a repeated id, or a lock backend failure.
func (o *Orchestrator) Submit(ctx context.Context, opp domain.Opportunity) (res domain.ExecutionResult, err error) {
	if o.dedup.IsDuplicate(opp.ID) {
		return domain.ExecutionResult{}, fmt.Errorf("orchestrator: %s: %w", opp.ID, domain.ErrDuplicateOpportunity)
	}
	if o.deps.Locks != nil {
		unlock, err := o.deps.Locks.Acquire(ctx, "opportunity:"+opp.ID, o.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.ExecutionResult{}, fmt.Errorf("orchestrator: %s: %w", opp.ID, domain.ErrDuplicateOpportunity)
		}
		if err != nil {
			o.dedup.Forget(opp.ID)
			return domain.ExecutionResult{}, fmt.Errorf("orchestrator: lock %s: %w", opp.ID, err)
		}
		defer unlock()
	}

	log := o.logger.With(
		slog.String("opportunity_id", opp.ID),
		slog.String("strategy", string(opp.Strategy)),
		slog.String("origin", opp.OriginLedger),
	)
	start := time.Now()
	res = domain.ExecutionResult{
		OpportunityID: opp.ID,
		LedgerID:      opp.OriginLedger,
		Strategy:      opp.Strategy,
	}
	defer func() { o.finalize(ctx, log, opp, &res, start) }()

	if reason, verr := o.validate(ctx, opp); reason != domain.ReasonNone {
		res.Reason = reason
		if verr != nil {
			res.Error = verr.Error()
		}
		return res, nil
	}
	o.emit(ctx, opp, domain.OppValidated, &res)
	log.InfoContext(ctx, "opportunity validated",
		slog.Float64("expected_profit", opp.ExpectedProfit),
		slog.Float64("amount_in", opp.AmountIn),
	)

	switch opp.Strategy {
	case domain.StrategyCrossLedger:
		o.runCrossLedger(ctx, log, opp, &res)
	case domain.StrategyBatch:
		o.runBatch(ctx, opp, &res)
	default:
		o.runSingle(ctx, opp, &res)
	}
	return res, nil
}

// finalize stamps, persists, records and announces the terminal result.
func (o *Orchestrator) finalize(ctx context.Context, log *slog.Logger, opp domain.Opportunity, res *domain.ExecutionResult, start time.Time) {
	res.Duration = time.Since(start)
	res.CompletedAt = o.now()
	if !res.Success && res.Reason == domain.ReasonNone {
		res.Reason = domain.ReasonExecutionFailed
	}

	// The caller's context may already be cancelled; persistence must not be
	// skipped because of it.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if o.deps.Executions != nil {
		if err := o.deps.Executions.Create(pctx, *res); err != nil {
			log.ErrorContext(ctx, "persist execution result failed", slog.String("error", err.Error()))
		}
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.Record(*res)
	}

	state := domain.OppFailed
	if res.Success {
		state = domain.OppConfirmed
	}
	o.emit(pctx, opp, state, res)

	if res.Success {
		log.InfoContext(ctx, "opportunity confirmed",
			slog.Float64("realized_profit", res.RealizedProfit),
			slog.Float64("fee", res.FeeConsumed),
			slog.Duration("duration", res.Duration),
		)
		return
	}
	attrs := []any{slog.String("reason", string(res.Reason))}
	if res.Error != "" {
		attrs = append(attrs, slog.String("error", res.Error))
	}
	if res.NeedsReconciliation() {
		attrs = append(attrs, slog.String("transfer_id", res.Reconciliation.TransferID))
	}
	log.WarnContext(ctx, "opportunity failed", attrs...)
}

func (o *Orchestrator) emit(ctx context.Context, opp domain.Opportunity, state domain.OpportunityState, res *domain.ExecutionResult) {
	if o.deps.Publisher == nil {
		return
	}
	env := domain.OpportunityEnvelope{Opportunity: opp, State: state, EmittedAt: o.now()}
	if state.Terminal() {
		r := *res
		env.Result = &r
		env.Reason = res.Reason
	}
	o.deps.Publisher.Publish(ctx, env)
}

// Run submits opportunities from queue until ctx is cancelled or queue is
// closed. On cancellation the opportunities already buffered are still
// processed under DrainTimeout.
func (o *Orchestrator) Run(ctx context.Context, queue <-chan domain.Opportunity) error {
	o.logger.Info("orchestrator started")
	defer o.logger.Info("orchestrator stopped")

	cleanup := time.NewTicker(o.cfg.CleanupInterval)
	defer cleanup.Stop()
	for {
		select {
		case <-ctx.Done():
			o.drain(queue)
			return nil
		case opp, ok := <-queue:
			if !ok {
				return nil
			}
			o.submitLogged(ctx, opp)
		case <-cleanup.C:
			o.dedup.Cleanup()
		}
	}
}

func (o *Orchestrator) drain(queue <-chan domain.Opportunity) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.DrainTimeout)
	defer cancel()
	for {
		select {
		case opp, ok := <-queue:
			if !ok {
				return
			}
			o.logger.Warn("draining opportunity after shutdown", slog.String("opportunity_id", opp.ID))
			o.submitLogged(ctx, opp)
		default:
			return
		}
	}
}

func (o *Orchestrator) submitLogged(ctx context.Context, opp domain.Opportunity) {
	if _, err := o.Submit(ctx, opp); err != nil {
		o.logger.DebugContext(ctx, "opportunity not admitted",
			slog.String("opportunity_id", opp.ID),
			slog.String("error", err.Error()),
		)
	}
}

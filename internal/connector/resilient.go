package connector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// Options tunes the Resilient decorator.
type Options struct {
	Backoff        Backoff
	ConnectTimeout time.Duration // per connect attempt
	HealthTimeout  time.Duration
	CallTimeout    time.Duration // quote and balance
	ExecuteTimeout time.Duration

	// Optional quote throttling shared across processes.
	Limiter     domain.RateLimiter
	QuoteLimit  int
	QuoteWindow time.Duration

	// Breaker gates Quote, Balance and Execute. A zero FailureThreshold
	// disables it.
	Breaker BreakerConfig

	Sleep SleepFunc
}

// DefaultOptions returns the stock connector policy.
func DefaultOptions() Options {
	return Options{
		Backoff:        DefaultBackoff(),
		ConnectTimeout: 10 * time.Second,
		HealthTimeout:  5 * time.Second,
		CallTimeout:    10 * time.Second,
		ExecuteTimeout: 2 * time.Minute,
		Breaker:        DefaultBreakerConfig(),
		Sleep:          Sleep,
	}
}

// Resilient wraps any domain.Connector with reconnect backoff, call
// deadlines, a circuit breaker, error classification and logging. It owns
// the lifecycle state reported to the registry.
type Resilient struct {
	inner   domain.Connector
	opts    Options
	breaker *Breaker
	logger  *slog.Logger

	mu     sync.Mutex
	state  domain.ConnectorState
	height atomic.Uint64
}

// Wrap decorates inner. Zero-valued option fields fall back to
// DefaultOptions, except Breaker: a zero BreakerConfig leaves it disabled.
func Wrap(inner domain.Connector, opts Options, logger *slog.Logger) *Resilient {
	def := DefaultOptions()
	if opts.Backoff.Attempts == 0 {
		opts.Backoff = def.Backoff
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.HealthTimeout == 0 {
		opts.HealthTimeout = def.HealthTimeout
	}
	if opts.CallTimeout == 0 {
		opts.CallTimeout = def.CallTimeout
	}
	if opts.ExecuteTimeout == 0 {
		opts.ExecuteTimeout = def.ExecuteTimeout
	}
	if opts.Sleep == nil {
		opts.Sleep = def.Sleep
	}
	return &Resilient{
		inner:   inner,
		opts:    opts,
		breaker: NewBreaker(opts.Breaker),
		logger: logger.With(
			slog.String("component", "connector"),
			slog.String("ledger", inner.LedgerID()),
		),
		state: domain.StateDisconnected,
	}
}

// Unwrap returns the decorated adapter.
func (r *Resilient) Unwrap() domain.Connector { return r.inner }

func (r *Resilient) LedgerID() string            { return r.inner.LedgerID() }
func (r *Resilient) Config() domain.LedgerConfig { return r.inner.Config() }

func (r *Resilient) State() domain.ConnectorState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Resilient) setState(s domain.ConnectorState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Circuit returns the breaker position.
func (r *Resilient) Circuit() CircuitState { return r.breaker.State() }

// LastHeight returns the height seen by the last successful probe.
func (r *Resilient) LastHeight() uint64 { return r.height.Load() }

// Connect establishes the session, retrying with exponential backoff. On
// exhaustion the connector is left DISCONNECTED and an ErrConnection is
// returned.
func (r *Resilient) Connect(ctx context.Context) error {
	if r.State() == domain.StateConnected {
		return nil
	}
	r.setState(domain.StateConnecting)

	err := r.opts.Backoff.Retry(ctx, r.opts.Sleep, func(ctx context.Context, attempt int) error {
		_, err := callWithTimeout(ctx, r.opts.ConnectTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, r.inner.Connect(ctx)
		})
		if err != nil {
			r.logger.WarnContext(ctx, "connect attempt failed",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", r.opts.Backoff.Attempts),
				slog.String("error", err.Error()),
			)
		}
		return err
	})
	if err != nil {
		r.setState(domain.StateDisconnected)
		return domain.NewLedgerError(r.LedgerID(), "connect", domain.ErrConnection, err)
	}

	r.breaker.Reset()
	r.setState(domain.StateConnected)
	r.observeHeight()
	r.logger.InfoContext(ctx, "connected", slog.String("endpoint", r.Config().Endpoint()))
	return nil
}

// Disconnect always succeeds locally.
func (r *Resilient) Disconnect(ctx context.Context) error {
	_, err := callWithTimeout(ctx, r.opts.CallTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.inner.Disconnect(ctx)
	})
	if err != nil {
		r.logger.WarnContext(ctx, "remote teardown failed", slog.String("error", err.Error()))
	}
	r.setState(domain.StateDisconnected)
	return nil
}

// IsHealthy runs the adapter's probe under HealthTimeout. A probe that does
// not answer in time counts as unhealthy.
func (r *Resilient) IsHealthy(ctx context.Context) bool {
	if r.State() != domain.StateConnected {
		return false
	}
	ok, err := callWithTimeout(ctx, r.opts.HealthTimeout, func(ctx context.Context) (bool, error) {
		return r.inner.IsHealthy(ctx), nil
	})
	if err != nil {
		r.logger.WarnContext(ctx, "health probe timed out", slog.String("error", err.Error()))
		return false
	}
	if ok {
		r.observeHeight()
	}
	return ok
}

func (r *Resilient) observeHeight() {
	if h, ok := r.inner.(domain.HeightObserver); ok {
		r.height.Store(h.LastHeight())
	}
}

// Quote classifies failures as ErrQuote. An empty result is passed through.
func (r *Resilient) Quote(ctx context.Context, assetIn, assetOut string, amountIn float64) ([]domain.Quote, error) {
	if err := r.requireConnected("quote"); err != nil {
		return nil, err
	}
	if r.opts.Limiter != nil && r.opts.QuoteLimit > 0 {
		allowed, err := r.opts.Limiter.Allow(ctx, "quote:"+r.LedgerID(), r.opts.QuoteLimit, r.opts.QuoteWindow)
		if err != nil {
			r.logger.WarnContext(ctx, "quote rate limiter unavailable", slog.String("error", err.Error()))
		} else if !allowed {
			return nil, domain.NewLedgerError(r.LedgerID(), "quote", domain.ErrQuote, domain.ErrRateLimited)
		}
	}

	if err := r.admit("quote", domain.ErrQuote); err != nil {
		return nil, err
	}

	start := time.Now()
	quotes, err := callWithTimeout(ctx, r.opts.CallTimeout, func(ctx context.Context) ([]domain.Quote, error) {
		return r.inner.Quote(ctx, assetIn, assetOut, amountIn)
	})
	r.record(ctx, err)
	if err != nil {
		return nil, domain.NewLedgerError(r.LedgerID(), "quote", domain.ErrQuote, err)
	}

	out := quotes[:0:0]
	for _, q := range quotes {
		if q.AmountOut < 0 || q.AmountIn <= 0 {
			continue
		}
		if q.LedgerID == "" {
			q.LedgerID = r.LedgerID()
		}
		out = append(out, q)
	}
	r.logger.DebugContext(ctx, "quoted",
		slog.String("pair", assetIn+"/"+assetOut),
		slog.Int("routes", len(out)),
		slog.Duration("latency", time.Since(start)),
	)
	return out, nil
}

// Execute classifies transport failures as ErrExecution. A ledger-side
// rejection comes back as a result with Success=false.
func (r *Resilient) Execute(ctx context.Context, opp domain.Opportunity) (domain.ExecutionResult, error) {
	if err := r.requireConnected("execute"); err != nil {
		return domain.ExecutionResult{}, err
	}
	if err := r.admit("execute", domain.ErrExecution); err != nil {
		return domain.ExecutionResult{}, err
	}
	start := time.Now()
	res, err := callWithTimeout(ctx, r.opts.ExecuteTimeout, func(ctx context.Context) (domain.ExecutionResult, error) {
		return r.inner.Execute(ctx, opp)
	})
	r.record(ctx, err)
	if err != nil {
		r.logger.ErrorContext(ctx, "execute failed",
			slog.String("opportunity_id", opp.ID),
			slog.String("error", err.Error()),
		)
		return domain.ExecutionResult{}, domain.NewLedgerError(r.LedgerID(), "execute", domain.ErrExecution, err)
	}
	if res.LedgerID == "" {
		res.LedgerID = r.LedgerID()
	}
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	r.logger.InfoContext(ctx, "executed",
		slog.String("opportunity_id", opp.ID),
		slog.Bool("success", res.Success),
		slog.Any("tx_ids", res.TxIDs),
		slog.Float64("realized_profit", res.RealizedProfit),
	)
	return res, nil
}

func (r *Resilient) Balance(ctx context.Context, asset string) (float64, error) {
	if err := r.requireConnected("balance"); err != nil {
		return 0, err
	}
	if err := r.admit("balance", domain.ErrConnection); err != nil {
		return 0, err
	}
	bal, err := callWithTimeout(ctx, r.opts.CallTimeout, func(ctx context.Context) (float64, error) {
		return r.inner.Balance(ctx, asset)
	})
	r.record(ctx, err)
	if err != nil {
		return 0, domain.NewLedgerError(r.LedgerID(), "balance", domain.ErrConnection, err)
	}
	return bal, nil
}

func (r *Resilient) requireConnected(op string) error {
	if s := r.State(); s != domain.StateConnected {
		return domain.NewLedgerError(r.LedgerID(), op, domain.ErrConnection, domain.ErrNotConnected)
	}
	return nil
}

// admit consults the breaker before an adapter call.
func (r *Resilient) admit(op string, kind error) error {
	if r.breaker.Allow() {
		return nil
	}
	return domain.NewLedgerError(r.LedgerID(), op, kind, ErrCircuitOpen)
}

// record feeds a call outcome to the breaker. A missing capability is an
// answer from the ledger, not a transport failure.
func (r *Resilient) record(ctx context.Context, err error) {
	if IsNotSupported(err) {
		err = nil
	}
	before := r.breaker.State()
	r.breaker.Record(err)
	if after := r.breaker.State(); after != before {
		r.logger.WarnContext(ctx, "circuit state changed",
			slog.String("from", before.String()),
			slog.String("to", after.String()),
		)
	}
}

// IsNotSupported reports whether err means the ledger lacks the capability.
func IsNotSupported(err error) bool {
	return errors.Is(err, domain.ErrNotSupported)
}

var (
	_ domain.Connector      = (*Resilient)(nil)
	_ domain.HeightObserver = (*Resilient)(nil)
)

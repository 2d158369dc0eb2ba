// Package registry owns the set of ledger connectors: startup connection,
// the periodic health loop, lookups and shutdown.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// Config tunes the registry.
type Config struct {
	HealthInterval  time.Duration
	ShutdownTimeout time.Duration // per connector
}

func (c Config) withDefaults() Config {
	if c.HealthInterval <= 0 {
		c.HealthInterval = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// entry is the registry's bookkeeping for one connector. busy is the
// in-flight guard: whoever swaps it to true drives the connector until it
// stores false again.
type entry struct {
	conn domain.Connector
	busy atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
	lastErr   string
}

func (e *entry) record(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastCheck = time.Now().UTC()
	if err != nil {
		e.lastErr = err.Error()
	} else {
		e.lastErr = ""
	}
}

// Registry maps ledger id to connector, in configuration order. The set of
// connectors is fixed at construction; their states change.
type Registry struct {
	cfg     Config
	logger  *slog.Logger
	order   []*entry
	entries map[string]*entry
}

// New builds a registry over conns. Ledger ids must be unique.
func New(conns []domain.Connector, cfg Config, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		cfg:     cfg.withDefaults(),
		logger:  logger.With(slog.String("component", "registry")),
		entries: make(map[string]*entry, len(conns)),
	}
	for _, c := range conns {
		id := c.LedgerID()
		if _, dup := r.entries[id]; dup {
			return nil, fmt.Errorf("registry: ledger %q: %w", id, domain.ErrAlreadyExists)
		}
		e := &entry{conn: c}
		r.entries[id] = e
		r.order = append(r.order, e)
	}
	return r, nil
}

// Initialize connects every ledger in order, continuing past failures. It
// returns ErrNoActiveConnectors when none came up.
func (r *Registry) Initialize(ctx context.Context) error {
	active := 0
	for _, e := range r.order {
		if !e.busy.CompareAndSwap(false, true) {
			continue
		}
		err := e.conn.Connect(ctx)
		e.busy.Store(false)
		e.record(err)

		id := e.conn.LedgerID()
		if err != nil {
			r.logger.WarnContext(ctx, "ledger failed to connect",
				slog.String("ledger", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		active++
		r.logger.InfoContext(ctx, "ledger connected", slog.String("ledger", id))
	}

	r.logger.InfoContext(ctx, "registry initialized",
		slog.Int("active", active),
		slog.Int("configured", len(r.order)),
	)
	if active == 0 {
		return fmt.Errorf("registry: initialize: %w", domain.ErrNoActiveConnectors)
	}
	return nil
}

// Run performs a health cycle every HealthInterval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	r.logger.Info("health loop started", slog.Duration("interval", r.cfg.HealthInterval))
	defer r.logger.Info("health loop stopped")

	ticker := time.NewTicker(r.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs one health cycle: reconnect DISCONNECTED ledgers, and
// reconnect CONNECTED ones that fail their probe, demoting them only when
// that reconnect fails. Ledgers already being driven by someone else are
// skipped this cycle.
func (r *Registry) CheckOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for _, e := range r.order {
		if !e.busy.CompareAndSwap(false, true) {
			continue
		}
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			defer e.busy.Store(false)
			r.check(ctx, e)
		}(e)
	}
	wg.Wait()
}

func (r *Registry) check(ctx context.Context, e *entry) {
	id := e.conn.LedgerID()
	switch e.conn.State() {
	case domain.StateDisconnected:
		err := e.conn.Connect(ctx)
		e.record(err)
		if err != nil {
			r.logger.WarnContext(ctx, "reconnect failed",
				slog.String("ledger", id),
				slog.String("error", err.Error()),
			)
			return
		}
		r.logger.InfoContext(ctx, "ledger reconnected", slog.String("ledger", id))

	case domain.StateConnected:
		if e.conn.IsHealthy(ctx) {
			e.record(nil)
			return
		}
		// Tear down and reconnect in the same cycle; Connect carries the
		// backoff. Only a failed reconnect leaves the ledger DISCONNECTED.
		_ = e.conn.Disconnect(ctx)
		if err := e.conn.Connect(ctx); err != nil {
			e.record(fmt.Errorf("health probe failed, reconnect: %w", err))
			r.logger.WarnContext(ctx, "ledger demoted after failed health probe",
				slog.String("ledger", id),
				slog.String("error", err.Error()),
			)
			return
		}
		e.record(nil)
		r.logger.InfoContext(ctx, "ledger recovered after failed health probe", slog.String("ledger", id))
	}
}

// Get returns the connector for id.
func (r *Registry) Get(id string) (domain.Connector, error) {
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("registry: ledger %q: %w", id, domain.ErrNotFound)
	}
	return e.conn, nil
}

// All returns every connector in configuration order.
func (r *Registry) All() []domain.Connector {
	out := make([]domain.Connector, 0, len(r.order))
	for _, e := range r.order {
		out = append(out, e.conn)
	}
	return out
}

// ListActive returns a snapshot of the CONNECTED connectors in
// configuration order.
func (r *Registry) ListActive() []domain.Connector {
	var out []domain.Connector
	for _, e := range r.order {
		if e.conn.State() == domain.StateConnected {
			out = append(out, e.conn)
		}
	}
	return out
}

// NetworkStatus reports every ledger's state, height and last check.
func (r *Registry) NetworkStatus() []domain.LedgerStatus {
	out := make([]domain.LedgerStatus, 0, len(r.order))
	for _, e := range r.order {
		cfg := e.conn.Config()
		st := domain.LedgerStatus{
			LedgerID: e.conn.LedgerID(),
			Name:     cfg.Name,
			Category: cfg.Category,
			State:    e.conn.State(),
		}
		st.Connected = st.State == domain.StateConnected
		if h, ok := e.conn.(domain.HeightObserver); ok {
			st.Height = h.LastHeight()
		}
		e.mu.Lock()
		st.LastCheck = e.lastCheck
		st.LastError = e.lastErr
		e.mu.Unlock()
		out = append(out, st)
	}
	return out
}

// Shutdown disconnects every ledger concurrently. A connector that does not
// finish within ShutdownTimeout is logged and abandoned.
func (r *Registry) Shutdown(ctx context.Context) {
	var wg sync.WaitGroup
	for _, e := range r.order {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			r.disconnect(ctx, e)
		}(e)
	}
	wg.Wait()
	r.logger.InfoContext(ctx, "registry shut down")
}

func (r *Registry) disconnect(ctx context.Context, e *entry) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ShutdownTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.conn.Disconnect(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			r.logger.WarnContext(ctx, "disconnect failed",
				slog.String("ledger", e.conn.LedgerID()),
				slog.String("error", err.Error()),
			)
		}
	case <-ctx.Done():
		r.logger.Warn("disconnect timed out, skipping",
			slog.String("ledger", e.conn.LedgerID()),
			slog.Duration("timeout", r.cfg.ShutdownTimeout),
		)
	}
}

// Package bridge holds the bridge registry, the poll loop that drives a
// transfer to a terminal status, and the bridge adapters.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// Registry maps bridge id to Bridge.
type Registry struct {
	mu      sync.RWMutex
	bridges map[string]domain.Bridge
}

// NewRegistry creates a registry seeded with bridges.
func NewRegistry(bridges ...domain.Bridge) (*Registry, error) {
	r := &Registry{bridges: make(map[string]domain.Bridge, len(bridges))}
	for _, b := range bridges {
		if err := r.Register(b); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds b. Ids must be unique.
func (r *Registry) Register(b domain.Bridge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bridges[b.ID()]; ok {
		return fmt.Errorf("bridge: register %q: %w", b.ID(), domain.ErrAlreadyExists)
	}
	r.bridges[b.ID()] = b
	return nil
}

// Get returns the bridge with the given id.
func (r *Registry) Get(id string) (domain.Bridge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bridges[id]
	if !ok {
		return nil, fmt.Errorf("bridge: %q: %w", id, domain.ErrNotFound)
	}
	return b, nil
}

// IDs returns the registered bridge ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.bridges))
	for id := range r.bridges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AwaitConfig controls the poll loop.
type AwaitConfig struct {
	Interval    time.Duration // between polls, default 5s
	Grace       float64       // multiple of the route latency to wait, default 2
	PollTimeout time.Duration // per PollStatus call, default 10s

	// Sleep replaces the wait between polls in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c AwaitConfig) withDefaults() AwaitConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.Grace <= 0 {
		c.Grace = 2
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 10 * time.Second
	}
	if c.Sleep == nil {
		c.Sleep = sleepCtx
	}
	return c
}

// Attempts is ceil(latency * grace / interval), at least 1.
func (c AwaitConfig) Attempts(latency time.Duration) int {
	c = c.withDefaults()
	n := int(math.Ceil(float64(latency) * c.Grace / float64(c.Interval)))
	if n < 1 {
		n = 1
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Await polls b until the transfer reaches CONFIRMED or FAILED, or the
// attempt budget derived from latency is exhausted, in which case it returns
// TIMED_OUT. A poll error uses up an attempt but does not fail the transfer.
// If ctx ends first, the last observed status and ctx.Err() are returned.
func Await(ctx context.Context, b domain.Bridge, transferID string, latency time.Duration, cfg AwaitConfig, logger *slog.Logger) (domain.BridgeStatus, error) {
	cfg = cfg.withDefaults()
	attempts := cfg.Attempts(latency)
	last := domain.BridgeInitiated

	for i := 0; i < attempts; i++ {
		if err := cfg.Sleep(ctx, cfg.Interval); err != nil {
			return last, err
		}

		pctx, cancel := context.WithTimeout(ctx, cfg.PollTimeout)
		status, err := b.PollStatus(pctx, transferID)
		cancel()
		if err != nil {
			logger.WarnContext(ctx, "bridge poll failed",
				slog.String("bridge", b.ID()),
				slog.String("transfer_id", transferID),
				slog.Int("attempt", i+1),
				slog.String("error", err.Error()),
			)
			continue
		}
		last = status
		if status == domain.BridgeConfirmed || status == domain.BridgeFailed {
			return status, nil
		}
	}

	logger.WarnContext(ctx, "bridge transfer timed out",
		slog.String("bridge", b.ID()),
		slog.String("transfer_id", transferID),
		slog.Int("attempts", attempts),
	)
	return domain.BridgeTimedOut, nil
}

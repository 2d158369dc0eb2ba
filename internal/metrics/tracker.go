// Package metrics keeps per-ledger execution counters and exports periodic
// snapshots.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// Tracker aggregates execution results by ledger. Record is the only writer;
// everything else reads copies.
type Tracker struct {
	mu      sync.RWMutex
	ledgers map[string]*domain.ChainMetrics
	elapsed map[string]time.Duration
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		ledgers: make(map[string]*domain.ChainMetrics),
		elapsed: make(map[string]time.Duration),
	}
}

// Record folds one terminal result into its ledger's counters. The caller
// guarantees one call per opportunity.
func (t *Tracker) Record(res domain.ExecutionResult) {
	if res.LedgerID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.ledgers[res.LedgerID]
	if !ok {
		m = &domain.ChainMetrics{LedgerID: res.LedgerID}
		t.ledgers[res.LedgerID] = m
	}
	m.Total++
	if res.Success {
		m.Successful++
		m.CumulativeProfit += res.RealizedProfit
	}
	m.CumulativeFee += res.FeeConsumed

	t.elapsed[res.LedgerID] += res.Duration
	m.AvgExecutionTime = t.elapsed[res.LedgerID] / time.Duration(m.Total)

	at := res.CompletedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if at.After(m.LastExecution) {
		m.LastExecution = at
	}
}

// Ledger returns the counters for one ledger; ok is false if nothing was
// recorded for it.
func (t *Tracker) Ledger(id string) (domain.ChainMetrics, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.ledgers[id]
	if !ok {
		return domain.ChainMetrics{LedgerID: id}, false
	}
	return *m, true
}

// Snapshot returns a copy of every ledger's counters sorted by ledger id.
func (t *Tracker) Snapshot() []domain.ChainMetrics {
	t.mu.RLock()
	out := make([]domain.ChainMetrics, 0, len(t.ledgers))
	for _, m := range t.ledgers {
		out = append(out, *m)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].LedgerID < out[j].LedgerID })
	return out
}

// HealthScore blends the share of connected ledgers with the overall
// execution success rate, equally weighted, into [0,1]. With no executions
// yet only connectivity counts.
func (t *Tracker) HealthScore(network []domain.LedgerStatus) float64 {
	if len(network) == 0 {
		return 0
	}
	active := 0
	for _, s := range network {
		if s.Connected {
			active++
		}
	}
	activeRatio := float64(active) / float64(len(network))

	var total, ok int64
	t.mu.RLock()
	for _, m := range t.ledgers {
		total += m.Total
		ok += m.Successful
	}
	t.mu.RUnlock()
	if total == 0 {
		return activeRatio
	}
	return 0.5*activeRatio + 0.5*float64(ok)/float64(total)
}

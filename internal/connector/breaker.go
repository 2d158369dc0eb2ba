package connector

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the adapter while the breaker
// is open.
var ErrCircuitOpen = errors.New("circuit open")

// CircuitState is the breaker position. Callers outside the package read it
// to decide whether a ledger should take new work.
type CircuitState int32

const (
	CircuitClosed   CircuitState = iota // healthy
	CircuitOpen                         // failing, calls rejected
	CircuitHalfOpen                     // cool-off elapsed, one trial call allowed
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive transport failures that
	// opens the circuit. Zero disables the breaker.
	FailureThreshold int

	// CoolOff is how long the circuit stays open before a trial call is let
	// through.
	CoolOff time.Duration
}

// DefaultBreakerConfig opens after 5 consecutive failures for 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, CoolOff: 30 * time.Second}
}

// Breaker gates adapter calls on the recent failure history of one ledger.
// Safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	trial    bool

	now func() time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg, now: time.Now}
}

// State reports the current position. An open circuit whose cool-off has
// elapsed reads as half-open.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.now().Sub(b.openedAt) >= b.cfg.CoolOff {
		return CircuitHalfOpen
	}
	return b.state
}

// Allow reports whether a call may proceed. After the cool-off exactly one
// trial call is admitted until its outcome is recorded.
func (b *Breaker) Allow() bool {
	if b.cfg.FailureThreshold <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if b.now().Sub(b.openedAt) < b.cfg.CoolOff {
			return false
		}
		b.state = CircuitHalfOpen
	}
	if b.trial {
		return false
	}
	b.trial = true
	return true
}

// Record feeds the outcome of an admitted call. A nil err closes the
// circuit; a failed trial reopens it.
func (b *Breaker) Record(err error) {
	if b.cfg.FailureThreshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trial = false
	if err == nil {
		b.state, b.failures = CircuitClosed, 0
		return
	}
	b.failures++
	if b.state == CircuitHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.state, b.openedAt = CircuitOpen, b.now()
	}
}

// Reset closes the circuit and forgets failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state, b.failures, b.trial = CircuitClosed, 0, false
}

package connector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ledgerbot/internal/connector/memory"
	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newMemory(id string) *memory.Connector {
	return memory.New(domain.LedgerConfig{
		ID:        id,
		Category:  domain.LedgerAccountBased,
		Endpoints: []string{"mem://" + id},
		Prices: []domain.RoutePrice{
			{RouteID: "r1", AssetIn: "USDC", AssetOut: "DAI", Price: 1.0},
		},
		Balances: map[string]float64{"USDC": 500},
	})
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Attempts: 5, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 3 * time.Second}
	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 3*time.Second, b.Delay(3))
	assert.Equal(t, time.Second, b.Delay(0))
}

func TestConnectRetriesThenFails(t *testing.T) {
	inner := newMemory("eth")
	inner.FailConnect(errors.New("dial refused"))
	rec := &sleepRecorder{}

	r := Wrap(inner, Options{Sleep: rec.sleep}, quietLogger())
	err := r.Connect(context.Background())

	require.ErrorIs(t, err, domain.ErrConnection)
	var le *domain.LedgerError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "eth", le.LedgerID)
	assert.Equal(t, domain.StateDisconnected, r.State())
	assert.Equal(t, 3, inner.ConnectCalls())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestConnectIsIdempotent(t *testing.T) {
	inner := newMemory("eth")
	r := Wrap(inner, Options{}, quietLogger())

	require.NoError(t, r.Connect(context.Background()))
	require.NoError(t, r.Connect(context.Background()))
	assert.Equal(t, 1, inner.ConnectCalls())
	assert.Equal(t, domain.StateConnected, r.State())
}

func TestDisconnectAlwaysSucceeds(t *testing.T) {
	r := Wrap(newMemory("eth"), Options{}, quietLogger())
	require.NoError(t, r.Connect(context.Background()))
	require.NoError(t, r.Disconnect(context.Background()))
	assert.Equal(t, domain.StateDisconnected, r.State())
}

func TestHealthTimeoutCountsAsUnhealthy(t *testing.T) {
	inner := newMemory("eth")
	r := Wrap(inner, Options{HealthTimeout: 20 * time.Millisecond}, quietLogger())
	require.NoError(t, r.Connect(context.Background()))

	inner.SetHealthDelay(500 * time.Millisecond)
	start := time.Now()
	assert.False(t, r.IsHealthy(context.Background()))
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestHealthRecordsHeight(t *testing.T) {
	r := Wrap(newMemory("eth"), Options{}, quietLogger())
	require.NoError(t, r.Connect(context.Background()))
	require.True(t, r.IsHealthy(context.Background()))
	assert.Equal(t, uint64(1), r.LastHeight())
}

func TestQuoteRequiresConnection(t *testing.T) {
	r := Wrap(newMemory("eth"), Options{}, quietLogger())
	_, err := r.Quote(context.Background(), "USDC", "DAI", 10)
	require.ErrorIs(t, err, domain.ErrConnection)
	require.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestQuoteClassification(t *testing.T) {
	inner := newMemory("eth")
	r := Wrap(inner, Options{CallTimeout: 20 * time.Millisecond}, quietLogger())
	require.NoError(t, r.Connect(context.Background()))

	quotes, err := r.Quote(context.Background(), "USDC", "DAI", 10)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "eth", quotes[0].LedgerID)

	empty, err := r.Quote(context.Background(), "USDC", "WBTC", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	inner.FailQuote(errors.New("boom"))
	_, err = r.Quote(context.Background(), "USDC", "DAI", 10)
	require.ErrorIs(t, err, domain.ErrQuote)

	inner.FailQuote(domain.ErrNotSupported)
	_, err = r.Quote(context.Background(), "USDC", "DAI", 10)
	require.True(t, IsNotSupported(err))

	inner.FailQuote(nil)
	inner.SetQuoteDelay(time.Second)
	_, err = r.Quote(context.Background(), "USDC", "DAI", 10)
	require.ErrorIs(t, err, domain.ErrQuote)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}
func (denyLimiter) Wait(context.Context, string) error { return nil }

func TestQuoteRateLimited(t *testing.T) {
	r := Wrap(newMemory("eth"), Options{Limiter: denyLimiter{}, QuoteLimit: 1, QuoteWindow: time.Second}, quietLogger())
	require.NoError(t, r.Connect(context.Background()))

	_, err := r.Quote(context.Background(), "USDC", "DAI", 10)
	require.ErrorIs(t, err, domain.ErrRateLimited)
	require.ErrorIs(t, err, domain.ErrQuote)
}

func TestExecuteFillsLedgerAndClassifiesErrors(t *testing.T) {
	inner := newMemory("eth")
	r := Wrap(inner, Options{}, quietLogger())
	require.NoError(t, r.Connect(context.Background()))

	opp := domain.Opportunity{ID: "o1", ExpectedProfit: 2, Route: domain.RouteData{Legs: []domain.RouteLeg{{RouteID: "r1"}}}}
	res, err := r.Execute(context.Background(), opp)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "eth", res.LedgerID)
	assert.InDelta(t, 2.0, res.RealizedProfit, 1e-12)

	inner.OnExecute(func(ctx context.Context, opp domain.Opportunity) (domain.ExecutionResult, error) {
		return domain.ExecutionResult{}, errors.New("nonce too low")
	})
	_, err = r.Execute(context.Background(), opp)
	require.ErrorIs(t, err, domain.ErrExecution)
}

func TestBalance(t *testing.T) {
	r := Wrap(newMemory("eth"), Options{}, quietLogger())
	require.NoError(t, r.Connect(context.Background()))
	bal, err := r.Balance(context.Background(), "USDC")
	require.NoError(t, err)
	assert.Equal(t, 500.0, bal)
}

func TestBreakerTransitions(t *testing.T) {
	now := time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, CoolOff: 10 * time.Second})
	b.now = func() time.Time { return now }
	boom := errors.New("boom")

	require.True(t, b.Allow())
	b.Record(boom)
	assert.Equal(t, CircuitClosed, b.State())
	require.True(t, b.Allow())
	b.Record(boom)
	assert.Equal(t, CircuitOpen, b.State())
	assert.False(t, b.Allow())

	now = now.Add(10 * time.Second)
	assert.Equal(t, CircuitHalfOpen, b.State())
	require.True(t, b.Allow())
	assert.False(t, b.Allow(), "only one trial call")
	b.Record(boom)
	assert.Equal(t, CircuitOpen, b.State())

	now = now.Add(10 * time.Second)
	require.True(t, b.Allow())
	b.Record(nil)
	assert.Equal(t, CircuitClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerDisabled(t *testing.T) {
	b := NewBreaker(BreakerConfig{})
	for i := 0; i < 10; i++ {
		require.True(t, b.Allow())
		b.Record(errors.New("boom"))
	}
	assert.Equal(t, CircuitClosed, b.State())
}

func TestCircuitGatesQuoteAndExecute(t *testing.T) {
	inner := newMemory("eth")
	r := Wrap(inner, Options{Breaker: BreakerConfig{FailureThreshold: 2, CoolOff: time.Minute}}, quietLogger())
	require.NoError(t, r.Connect(context.Background()))

	inner.FailQuote(errors.New("502 bad gateway"))
	for i := 0; i < 2; i++ {
		_, err := r.Quote(context.Background(), "USDC", "DAI", 10)
		require.ErrorIs(t, err, domain.ErrQuote)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, CircuitOpen, r.Circuit())

	inner.FailQuote(nil)
	_, err := r.Quote(context.Background(), "USDC", "DAI", 10)
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.ErrorIs(t, err, domain.ErrQuote)

	_, err = r.Execute(context.Background(), domain.Opportunity{ID: "x"})
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.ErrorIs(t, err, domain.ErrExecution)
	assert.Empty(t, inner.Executions())

	// A fresh session closes the circuit.
	require.NoError(t, r.Disconnect(context.Background()))
	require.NoError(t, r.Connect(context.Background()))
	assert.Equal(t, CircuitClosed, r.Circuit())
	quotes, err := r.Quote(context.Background(), "USDC", "DAI", 10)
	require.NoError(t, err)
	assert.Len(t, quotes, 1)
}

func TestNotSupportedDoesNotTripCircuit(t *testing.T) {
	inner := newMemory("eth")
	r := Wrap(inner, Options{Breaker: BreakerConfig{FailureThreshold: 1, CoolOff: time.Minute}}, quietLogger())
	require.NoError(t, r.Connect(context.Background()))

	inner.FailQuote(domain.ErrNotSupported)
	for i := 0; i < 3; i++ {
		_, err := r.Quote(context.Background(), "USDC", "DAI", 10)
		require.ErrorIs(t, err, domain.ErrNotSupported)
	}
	assert.Equal(t, CircuitClosed, r.Circuit())
}

package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

func TestTrackerRecord(t *testing.T) {
	tr := NewTracker()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tr.Record(domain.ExecutionResult{LedgerID: "eth", Success: true, RealizedProfit: 2, FeeConsumed: 0.1, Duration: time.Second, CompletedAt: t0})
	tr.Record(domain.ExecutionResult{LedgerID: "eth", Success: false, RealizedProfit: -5, FeeConsumed: 0.2, Duration: 3 * time.Second, CompletedAt: t0.Add(time.Minute)})
	tr.Record(domain.ExecutionResult{LedgerID: "sol", Success: true, RealizedProfit: 1, CompletedAt: t0})
	tr.Record(domain.ExecutionResult{})

	eth, ok := tr.Ledger("eth")
	require.True(t, ok)
	assert.Equal(t, int64(2), eth.Total)
	assert.Equal(t, int64(1), eth.Successful)
	assert.InDelta(t, 2, eth.CumulativeProfit, 1e-12)
	assert.InDelta(t, 0.3, eth.CumulativeFee, 1e-12)
	assert.Equal(t, 2*time.Second, eth.AvgExecutionTime)
	assert.Equal(t, t0.Add(time.Minute), eth.LastExecution)
	assert.InDelta(t, 0.5, eth.SuccessRate(), 1e-12)

	_, ok = tr.Ledger("avax")
	assert.False(t, ok)

	snap := tr.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "eth", snap[0].LedgerID)
	assert.Equal(t, "sol", snap[1].LedgerID)
}

func TestTrackerConcurrentRecord(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record(domain.ExecutionResult{LedgerID: "eth", Success: true, RealizedProfit: 1})
		}()
	}
	wg.Wait()
	m, _ := tr.Ledger("eth")
	assert.Equal(t, int64(50), m.Total)
	assert.InDelta(t, 50, m.CumulativeProfit, 1e-9)
}

func TestHealthScore(t *testing.T) {
	tr := NewTracker()
	network := []domain.LedgerStatus{{LedgerID: "a", Connected: true}, {LedgerID: "b", Connected: false}}

	assert.InDelta(t, 0.5, tr.HealthScore(network), 1e-12)
	assert.Zero(t, tr.HealthScore(nil))

	tr.Record(domain.ExecutionResult{LedgerID: "a", Success: true})
	tr.Record(domain.ExecutionResult{LedgerID: "a", Success: true})
	tr.Record(domain.ExecutionResult{LedgerID: "a", Success: true})
	tr.Record(domain.ExecutionResult{LedgerID: "a", Success: false})
	// 0.5*0.5 + 0.5*0.75
	assert.InDelta(t, 0.625, tr.HealthScore(network), 1e-12)
}

type staticNetwork []domain.LedgerStatus

func (s staticNetwork) NetworkStatus() []domain.LedgerStatus { return s }

type fakeBlob struct {
	mu    sync.Mutex
	paths []string
	data  [][]byte
	err   error
}

func (f *fakeBlob) Put(_ context.Context, path string, r io.Reader, _ string) error {
	if f.err != nil {
		return f.err
	}
	b, _ := io.ReadAll(r)
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.data = append(f.data, b)
	f.mu.Unlock()
	return nil
}

func (f *fakeBlob) PutMultipart(ctx context.Context, path string, r io.Reader, _ int64) error {
	return f.Put(ctx, path, r, "")
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.published == nil {
		b.published = map[string][][]byte{}
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b *fakeBus) StreamAppend(context.Context, string, []byte) error       { return nil }
func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestExporterSendsToSinks(t *testing.T) {
	tr := NewTracker()
	tr.Record(domain.ExecutionResult{LedgerID: "eth", Success: true, RealizedProfit: 3})
	blob, bus := &fakeBlob{}, &fakeBus{}
	net := staticNetwork{{LedgerID: "eth", Connected: true}}

	e := NewExporter(tr, net, blob, bus, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, e.ExportOnce(context.Background()))

	require.Len(t, blob.paths, 1)
	assert.True(t, strings.HasPrefix(blob.paths[0], "metrics/"))
	assert.True(t, strings.HasSuffix(blob.paths[0], ".json"))

	var snap domain.MetricsSnapshot
	require.NoError(t, json.Unmarshal(blob.data[0], &snap))
	require.Len(t, snap.Ledgers, 1)
	assert.InDelta(t, 3, snap.Ledgers[0].CumulativeProfit, 1e-12)
	assert.InDelta(t, 1, snap.HealthScore, 1e-12)

	require.Len(t, bus.published[domain.ChannelMetrics], 1)
	assert.InDelta(t, 1, e.Latest().HealthScore, 1e-12)
}

func TestExporterReportsSinkFailure(t *testing.T) {
	blob, bus := &fakeBlob{err: errors.New("s3 down")}, &fakeBus{}
	e := NewExporter(NewTracker(), staticNetwork{}, blob, bus, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := e.ExportOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3 down")
	// The bus still received the snapshot.
	assert.Len(t, bus.published[domain.ChannelMetrics], 1)
}

func TestSnapshotPath(t *testing.T) {
	at := time.Date(2026, 7, 4, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, "metrics/2026/07/04/snapshot_1783157400000.json", SnapshotPath(at))
}

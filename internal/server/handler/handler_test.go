package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
	"github.com/alanyoungcy/ledgerbot/internal/scanner"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serve(pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, discardLogger())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Equal(t, "connection refused", body.Checks["redis"])

	rec = httptest.NewRecorder()
	NewHealthHandler(nil, discardLogger()).HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type fakeNetwork []domain.LedgerStatus

func (f fakeNetwork) NetworkStatus() []domain.LedgerStatus { return f }

func TestStatus(t *testing.T) {
	net := fakeNetwork{
		{LedgerID: "eth", State: domain.StateConnected, Connected: true},
		{LedgerID: "sol", State: domain.StateDisconnected},
	}
	h := NewStatusHandler("trade", time.Now().Add(-time.Minute), net)

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "trade", body["mode"])
	assert.EqualValues(t, 2, body["ledgers_total"])
	assert.EqualValues(t, 1, body["ledgers_connected"])
	assert.GreaterOrEqual(t, body["uptime_seconds"].(float64), 59.0)

	rec = httptest.NewRecorder()
	h.GetNetwork(rec, httptest.NewRequest(http.MethodGet, "/api/network", nil))
	var rows []domain.LedgerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, domain.StateDisconnected, rows[1].State)
}

type fakeSnapshots struct{}

func (fakeSnapshots) Snapshot() domain.MetricsSnapshot {
	return domain.MetricsSnapshot{HealthScore: 0.75}
}

type fakeBlobs struct {
	prefix string
	infos  []domain.BlobInfo
}

func (f *fakeBlobs) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, domain.ErrNotFound
}
func (f *fakeBlobs) Exists(context.Context, string) (bool, error) { return false, nil }
func (f *fakeBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	f.prefix = prefix
	return f.infos, nil
}

func TestMetrics(t *testing.T) {
	blobs := &fakeBlobs{infos: []domain.BlobInfo{{Path: "metrics/2026/07/04/snap.json", Size: 120}}}
	h := NewMetricsHandler(fakeSnapshots{}, blobs, discardLogger())

	rec := httptest.NewRecorder()
	h.GetMetrics(rec, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	var snap domain.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 0.75, snap.HealthScore)

	rec = httptest.NewRecorder()
	h.ListSnapshots(rec, httptest.NewRequest(http.MethodGet, "/api/metrics/archive", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "metrics/", blobs.prefix)
	assert.Contains(t, rec.Body.String(), "snap.json")

	rec = httptest.NewRecorder()
	NewMetricsHandler(fakeSnapshots{}, nil, discardLogger()).ListSnapshots(rec, httptest.NewRequest(http.MethodGet, "/api/metrics/archive", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type fakeExecutions struct {
	opts    domain.ListOpts
	results map[string]domain.ExecutionResult
}

func (f *fakeExecutions) Create(context.Context, domain.ExecutionResult) error { return nil }
func (f *fakeExecutions) GetByOpportunity(_ context.Context, id string) (domain.ExecutionResult, error) {
	r, ok := f.results[id]
	if !ok {
		return domain.ExecutionResult{}, domain.ErrNotFound
	}
	return r, nil
}
func (f *fakeExecutions) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.ExecutionResult, error) {
	f.opts = opts
	return nil, nil
}
func (f *fakeExecutions) ListBefore(context.Context, time.Time) ([]domain.ExecutionResult, error) {
	return nil, nil
}

type fakeEnvelopes struct{ limit int }

func (f *fakeEnvelopes) Recent(_ context.Context, limit int) ([]domain.OpportunityEnvelope, error) {
	f.limit = limit
	return []domain.OpportunityEnvelope{{State: domain.OppConfirmed}}, nil
}

func TestExecutions(t *testing.T) {
	store := &fakeExecutions{results: map[string]domain.ExecutionResult{
		"opp-1": {OpportunityID: "opp-1", Success: true, RealizedProfit: 9.6},
	}}
	envs := &fakeEnvelopes{}
	h := NewExecutionHandler(store, envs, discardLogger())

	rec := serve("GET /api/executions", h.ListExecutions,
		httptest.NewRequest(http.MethodGet, "/api/executions?limit=9999&offset=5&since=2026-07-04T00:00:00Z&until=bogus", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, 500, store.opts.Limit)
	assert.Equal(t, 5, store.opts.Offset)
	require.NotNil(t, store.opts.Since)
	assert.Nil(t, store.opts.Until)

	rec = serve("GET /api/executions/{id}", h.GetExecution, httptest.NewRequest(http.MethodGet, "/api/executions/opp-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"realized_profit":9.6`)

	rec = serve("GET /api/executions/{id}", h.GetExecution, httptest.NewRequest(http.MethodGet, "/api/executions/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve("GET /api/opportunities", h.ListOpportunities, httptest.NewRequest(http.MethodGet, "/api/opportunities", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, envs.limit)
	assert.Contains(t, rec.Body.String(), `"CONFIRMED"`)
}

type fakeTransfers struct {
	status domain.BridgeStatus
}

func (f *fakeTransfers) Create(context.Context, domain.BridgeTransfer) error { return nil }
func (f *fakeTransfers) UpdateStatus(context.Context, string, domain.BridgeStatus, time.Time) error {
	return nil
}
func (f *fakeTransfers) GetByID(_ context.Context, id string) (domain.BridgeTransfer, error) {
	if id != "xfer-1" {
		return domain.BridgeTransfer{}, domain.ErrNotFound
	}
	return domain.BridgeTransfer{ID: id, Status: domain.BridgeTimedOut}, nil
}
func (f *fakeTransfers) ListByStatus(_ context.Context, status domain.BridgeStatus, _ int) ([]domain.BridgeTransfer, error) {
	f.status = status
	return []domain.BridgeTransfer{{ID: "xfer-1", Status: status}}, nil
}

type fakeReconciler struct{ err error }

func (f fakeReconciler) ReconcileOnce(context.Context) (int, error) { return 3, f.err }

func TestBridges(t *testing.T) {
	store := &fakeTransfers{}
	h := NewBridgeHandler(store, fakeReconciler{}, discardLogger())

	rec := serve("GET /api/bridges/transfers", h.ListTransfers, httptest.NewRequest(http.MethodGet, "/api/bridges/transfers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.BridgeTimedOut, store.status)

	rec = serve("GET /api/bridges/transfers", h.ListTransfers, httptest.NewRequest(http.MethodGet, "/api/bridges/transfers?status=in_transit", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.BridgeInTransit, store.status)

	rec = serve("GET /api/bridges/transfers", h.ListTransfers, httptest.NewRequest(http.MethodGet, "/api/bridges/transfers?status=lost", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve("GET /api/bridges/transfers/{id}", h.GetTransfer, httptest.NewRequest(http.MethodGet, "/api/bridges/transfers/xfer-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"TIMED_OUT"`)

	rec = serve("POST /api/bridges/reconcile", h.Reconcile, httptest.NewRequest(http.MethodPost, "/api/bridges/reconcile", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"settled":3}`, rec.Body.String())

	rec = httptest.NewRecorder()
	NewBridgeHandler(store, nil, discardLogger()).Reconcile(rec, httptest.NewRequest(http.MethodPost, "/api/bridges/reconcile", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type fakeScanner struct {
	req  scanner.Request
	opps []domain.Opportunity
	err  error
}

func (f *fakeScanner) Scan(_ context.Context, req scanner.Request) ([]domain.Opportunity, error) {
	f.req = req
	return f.opps, f.err
}

type fakeSubmitter struct {
	got []string
	err error
}

func (f *fakeSubmitter) Submit(_ context.Context, opp domain.Opportunity) (domain.ExecutionResult, error) {
	f.got = append(f.got, opp.ID)
	return domain.ExecutionResult{OpportunityID: opp.ID, Success: f.err == nil}, f.err
}

func postScan(h *ScanHandler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Scan(rec, httptest.NewRequest(http.MethodPost, "/api/scan", strings.NewReader(body)))
	return rec
}

func TestScan(t *testing.T) {
	sc := &fakeScanner{opps: []domain.Opportunity{{ID: "best"}, {ID: "second"}}}
	sub := &fakeSubmitter{}
	h := NewScanHandler(sc, sub, discardLogger())

	rec := postScan(h, `{"asset_in":"USDC","asset_out":"ETH","amount":1000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, scanner.Request{AssetIn: "USDC", AssetOut: "ETH", Amount: 1000}, sc.req)
	assert.Empty(t, sub.got)

	rec = postScan(h, `{"asset_in":"USDC","asset_out":"ETH","amount":1000,"execute":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"best"}, sub.got)
	var body scanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Result)
	assert.True(t, body.Result.Success)
	assert.Len(t, body.Opportunities, 2)
}

func TestScanErrors(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, postScan(NewScanHandler(&fakeScanner{}, nil, discardLogger()), `{`).Code)

	noExec := NewScanHandler(&fakeScanner{}, nil, discardLogger())
	assert.Equal(t, http.StatusForbidden, postScan(noExec, `{"amount":1,"execute":true}`).Code)

	bad := NewScanHandler(&fakeScanner{err: domain.ErrInvalidAmount}, nil, discardLogger())
	assert.Equal(t, http.StatusBadRequest, postScan(bad, `{"asset_in":"A","asset_out":"B","amount":-1}`).Code)

	dup := NewScanHandler(&fakeScanner{opps: []domain.Opportunity{{ID: "x"}}}, &fakeSubmitter{err: domain.ErrDuplicateOpportunity}, discardLogger())
	assert.Equal(t, http.StatusConflict, postScan(dup, `{"asset_in":"A","asset_out":"B","amount":1,"execute":true}`).Code)
}

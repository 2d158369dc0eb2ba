package solana

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ledgerbot/internal/crypto"
	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

const (
	usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	solMint  = "So11111111111111111111111111111111111111112"
)

func testWallet(t *testing.T) *crypto.Keypair {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	w, err := crypto.NewKeypair(base58.Encode(seed))
	require.NoError(t, err)
	return w
}

// unsignedTx builds a one-signature legacy wire transaction paid by payer.
func unsignedTx(payer []byte) []byte {
	tx := []byte{1}
	tx = append(tx, make([]byte, signatureLen)...)
	tx = append(tx, 1, 0, 1) // header
	tx = append(tx, 1)       // one account key
	tx = append(tx, payer...)
	tx = append(tx, make([]byte, 32)...) // recent blockhash
	tx = append(tx, 0)                   // no instructions
	return tx
}

// fakeNode serves JSON-RPC on "/" and the quote service on /quote and /swap.
type fakeNode struct {
	t        *testing.T
	payer    []byte
	slot     atomic.Uint64
	failures atomic.Int32 // answer 500 this many times first

	mu          sync.Mutex
	tokenReads  int
	tokenAmount []string
	sent        []string
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/quote":
		assert.Equal(f.t, usdcMint, r.URL.Query().Get("inputMint"))
		_ = json.NewEncoder(w).Encode(QuoteResponse{Routes: []Route{
			{RouteID: "orca", InAmount: r.URL.Query().Get("amount"), OutAmount: "1012000000", PriceImpact: 0.001},
			{RouteID: "raydium", InAmount: r.URL.Query().Get("amount"), OutAmount: "1003000000"},
		}})
		return
	case "/swap":
		var body struct {
			Route         Route  `json:"route"`
			UserPublicKey string `json:"userPublicKey"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		assert.Equal(f.t, "orca", body.Route.RouteID)
		_ = json.NewEncoder(w).Encode(SwapResponse{
			SwapTransaction: base64.StdEncoding.EncodeToString(unsignedTx(f.payer)),
		})
		return
	}

	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var result interface{}
	switch req.Method {
	case "getHealth":
		result = "ok"
	case "getSlot":
		result = f.slot.Add(1)
	case "getBalance":
		result = map[string]uint64{"value": 2_000_000_000}
	case "getTokenAccountsByOwner":
		f.mu.Lock()
		amt := f.tokenAmount[min(f.tokenReads, len(f.tokenAmount)-1)]
		f.tokenReads++
		f.mu.Unlock()
		result = map[string]interface{}{"value": []interface{}{
			map[string]interface{}{"account": map[string]interface{}{"data": map[string]interface{}{
				"parsed": map[string]interface{}{"info": map[string]interface{}{
					"tokenAmount": map[string]interface{}{"amount": amt, "decimals": 6},
				}},
			}}},
		}}
	case "sendTransaction":
		f.mu.Lock()
		f.sent = append(f.sent, req.Params[0].(string))
		f.mu.Unlock()
		result = "sig"
	case "getSignatureStatuses":
		result = map[string]interface{}{"value": []interface{}{
			map[string]interface{}{"slot": 10, "confirmationStatus": "confirmed", "err": nil},
		}}
	default:
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID,
			"error": map[string]interface{}{"code": -32601, "message": "method not found"},
		})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func setup(t *testing.T, wallet Wallet) (*Connector, *fakeNode) {
	t.Helper()
	node := &fakeNode{t: t, tokenAmount: []string{"0"}}
	if wallet != nil {
		node.payer = wallet.PublicKeyBytes()
	}
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	cfg := domain.LedgerConfig{
		ID:          "solana",
		Category:    domain.LedgerResourceBased,
		Driver:      "solana",
		Endpoints:   []string{srv.URL},
		NativeAsset: "SOL",
		QuoteURL:    srv.URL,
		SlippageBps: 50,
		Assets: map[string]domain.AssetInfo{
			"USDC": {Address: usdcMint, Decimals: 6},
			"SOL":  {Address: solMint, Decimals: 9},
		},
	}
	opts := []Option{
		WithRPCOptions(WithRetryDelay(time.Millisecond), WithMaxDelay(5*time.Millisecond)),
		WithConfirmInterval(time.Millisecond),
	}
	if wallet != nil {
		opts = append(opts, WithWallet(wallet))
	}
	c := New(cfg, opts...)
	require.NoError(t, c.Connect(context.Background()))
	return c, node
}

func TestConnectAndProbe(t *testing.T) {
	c, _ := setup(t, nil)
	assert.Equal(t, domain.StateConnected, c.State())

	before := c.LastHeight()
	require.True(t, c.IsHealthy(context.Background()))
	assert.Greater(t, c.LastHeight(), before)
}

func TestQuoteMapsRoutes(t *testing.T) {
	c, _ := setup(t, nil)

	quotes, err := c.Quote(context.Background(), "USDC", "SOL", 100)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "orca", quotes[0].RouteID)
	assert.InDelta(t, 1.012, quotes[0].AmountOut, 1e-12)
	assert.InDelta(t, 0.001, quotes[0].PriceImpact, 1e-12)
	assert.Equal(t, "solana", quotes[0].LedgerID)
}

func TestQuoteWithoutServiceIsNotSupported(t *testing.T) {
	c := New(domain.LedgerConfig{ID: "x"})
	c.rpc = NewRPCClient("http://unused")

	_, err := c.Quote(context.Background(), "USDC", "SOL", 1)
	require.ErrorIs(t, err, domain.ErrNotSupported)
}

func TestExecuteSignsAndConfirms(t *testing.T) {
	wallet := testWallet(t)
	c, node := setup(t, wallet)
	node.tokenAmount = []string{"100000000", "100500000"}

	opp := domain.Opportunity{
		ID:                "opp-1",
		Path:              []string{"USDC", "USDC"},
		OriginLedger:      "solana",
		AmountIn:          100,
		ExpectedAmountOut: 100.5,
		ExpectedProfit:    0.5,
		Strategy:          domain.StrategyDirect,
		Deadline:          time.Now().Add(time.Minute),
		Route: domain.RouteData{Legs: []domain.RouteLeg{{
			LedgerID: "solana", RouteID: "orca", AssetIn: "USDC", AssetOut: "USDC", AmountIn: 100, ExpectedOut: 100.5,
		}}},
	}

	res, err := c.Execute(context.Background(), opp)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	require.Len(t, res.TxIDs, 1)

	node.mu.Lock()
	require.Len(t, node.sent, 1)
	raw, err := base64.StdEncoding.DecodeString(node.sent[0])
	node.mu.Unlock()
	require.NoError(t, err)
	sig := raw[1 : 1+signatureLen]
	msg := raw[1+signatureLen:]
	assert.True(t, ed25519.Verify(wallet.PublicKeyBytes(), msg, sig))
	assert.Equal(t, base58.Encode(sig), res.TxIDs[0])

	assert.InDelta(t, 0.5, res.RealizedProfit, 1e-9)
	assert.InDelta(t, 0.000005, res.FeeConsumed, 1e-12)
}

func TestSignRejectsForeignFeePayer(t *testing.T) {
	wallet := testWallet(t)
	other := make([]byte, pubkeyLen)
	_, _, err := signWireTx(base64.StdEncoding.EncodeToString(unsignedTx(other)), wallet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fee payer")
}

func TestDecodeShortVec(t *testing.T) {
	cases := []struct {
		in   []byte
		v, n int
	}{
		{[]byte{0x00}, 0, 1},
		{[]byte{0x7f}, 127, 1},
		{[]byte{0x80, 0x01}, 128, 2},
		{[]byte{0xff, 0xff, 0x03}, 65535, 3},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%x", tc.in), func(t *testing.T) {
			v, n, err := decodeShortVec(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.v, v)
			assert.Equal(t, tc.n, n)
		})
	}
	_, _, err := decodeShortVec([]byte{0x80})
	require.Error(t, err)
}

func TestRPCRetriesServerErrors(t *testing.T) {
	node := &fakeNode{t: t}
	node.failures.Store(2)
	srv := httptest.NewServer(node)
	defer srv.Close()

	rpc := NewRPCClient(srv.URL, WithRetryDelay(time.Millisecond), WithMaxDelay(2*time.Millisecond))
	slot, err := rpc.GetSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), slot)
}

func TestRPCErrorIsNotRetried(t *testing.T) {
	node := &fakeNode{t: t}
	srv := httptest.NewServer(node)
	defer srv.Close()

	rpc := NewRPCClient(srv.URL, WithRetryDelay(time.Millisecond))
	err := rpc.call(context.Background(), "unknownMethod", nil, nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)
}

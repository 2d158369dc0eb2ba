package evm

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ledgerbot/internal/crypto"
	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

const (
	routerA = "0x00000000000000000000000000000000000000a1"
	routerB = "0x00000000000000000000000000000000000000b2"
	usdc    = "0x00000000000000000000000000000000000000c3"
	dai     = "0x00000000000000000000000000000000000000d4"
)

// fakeBackend answers router and token calls from in-memory tables.
type fakeBackend struct {
	mu       sync.Mutex
	chainID  int64
	block    uint64
	rates    map[common.Address][2]int64 // router -> num/den
	balances map[common.Address][]*big.Int
	sent     []*types.Transaction
	status   uint64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:  137,
		block:    100,
		rates:    map[common.Address][2]int64{},
		balances: map[common.Address][]*big.Int{},
		status:   types.ReceiptStatusSuccessful,
	}
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(f.chainID), nil
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block++
	return f.block, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if m, err := routerABI.MethodById(msg.Data[:4]); err == nil && m.Name == "getAmountsOut" {
		rate, ok := f.rates[*msg.To]
		if !ok {
			return nil, errors.New("execution reverted")
		}
		args, err := m.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		amt := args[0].(*big.Int)
		out := new(big.Int).Mul(amt, big.NewInt(rate[0]))
		out.Div(out, big.NewInt(rate[1]))
		return m.Outputs.Pack([]*big.Int{amt, out})
	}

	m, err := erc20ABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch m.Name {
	case "balanceOf":
		q := f.balances[*msg.To]
		if len(q) == 0 {
			return m.Outputs.Pack(big.NewInt(0))
		}
		v := q[0]
		if len(q) > 1 {
			f.balances[*msg.To] = q[1:]
		}
		return m.Outputs.Pack(v)
	case "allowance":
		return m.Outputs.Pack(new(big.Int).Lsh(big.NewInt(1), 200))
	}
	return nil, errors.New("unexpected call " + m.Name)
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, _ common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, _ ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &types.Receipt{
		TxHash:            hash,
		Status:            f.status,
		GasUsed:           100_000,
		EffectiveGasPrice: big.NewInt(1_000_000_000),
	}, nil
}

func (f *fakeBackend) BalanceAt(ctx context.Context, _ common.Address, _ *big.Int) (*big.Int, error) {
	return new(big.Int).Mul(big.NewInt(2), pow10(18)), nil
}

func (f *fakeBackend) Close() {}

func testConfig() domain.LedgerConfig {
	return domain.LedgerConfig{
		ID:          "polygon",
		Category:    domain.LedgerAccountBased,
		Driver:      "evm",
		Endpoints:   []string{"http://node"},
		NativeAsset: "MATIC",
		ChainID:     137,
		Assets: map[string]domain.AssetInfo{
			"USDC": {Address: usdc, Decimals: 6},
			"DAI":  {Address: dai, Decimals: 18},
		},
		Routers:     []string{routerA, routerB},
		SlippageBps: 50,
	}
}

func connected(t *testing.T, fb *fakeBackend, opts ...Option) *Connector {
	t.Helper()
	opts = append([]Option{
		WithDialer(func(ctx context.Context, url string) (Backend, error) { return fb, nil }),
		WithReceiptPollInterval(time.Millisecond),
	}, opts...)
	c := New(testConfig(), opts...)
	require.NoError(t, c.Connect(context.Background()))
	return c
}

func TestConnectChecksChainID(t *testing.T) {
	fb := newFakeBackend()
	fb.chainID = 1
	c := New(testConfig(), WithDialer(func(ctx context.Context, url string) (Backend, error) { return fb, nil }))

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain id")
	assert.Equal(t, domain.StateDisconnected, c.State())
}

func TestHealthProbeTracksHeight(t *testing.T) {
	fb := newFakeBackend()
	c := connected(t, fb)

	before := c.LastHeight()
	require.True(t, c.IsHealthy(context.Background()))
	assert.Greater(t, c.LastHeight(), before)

	require.NoError(t, c.Disconnect(context.Background()))
	assert.False(t, c.IsHealthy(context.Background()))
}

func TestQuoteSkipsRevertingRouter(t *testing.T) {
	fb := newFakeBackend()
	// 1 USDC (1e6) -> 1.012 DAI (1.012e18)
	fb.rates[common.HexToAddress(routerA)] = [2]int64{1_012_000_000_000, 1}
	c := connected(t, fb)

	quotes, err := c.Quote(context.Background(), "USDC", "DAI", 100)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, routerA, quotes[0].RouteID)
	assert.InDelta(t, 101.2, quotes[0].AmountOut, 1e-9)
	assert.InDelta(t, 1.012, quotes[0].Price, 1e-9)
	assert.InDelta(t, 0, quotes[0].PriceImpact, 1e-9)
}

func TestQuoteUnknownAssetIsEmpty(t *testing.T) {
	c := connected(t, newFakeBackend())
	quotes, err := c.Quote(context.Background(), "USDC", "WBTC", 100)
	require.NoError(t, err)
	assert.Empty(t, quotes)
}

func TestExecuteRequiresSigner(t *testing.T) {
	c := connected(t, newFakeBackend())
	_, err := c.Execute(context.Background(), domain.Opportunity{ID: "x"})
	require.ErrorIs(t, err, domain.ErrNotSupported)
}

func TestExecuteSendsSwapAndMeasuresProfit(t *testing.T) {
	signer, err := crypto.NewSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)

	fb := newFakeBackend()
	daiAddr := common.HexToAddress(dai)
	fb.balances[daiAddr] = []*big.Int{
		big.NewInt(0),
		new(big.Int).Mul(big.NewInt(101), pow10(18)),
	}
	c := connected(t, fb, WithSigner(signer))

	opp := domain.Opportunity{
		ID:                "opp-1",
		Path:              []string{"USDC", "DAI"},
		OriginLedger:      "polygon",
		AmountIn:          100,
		ExpectedAmountOut: 101,
		ExpectedProfit:    1,
		Strategy:          domain.StrategyDirect,
		Deadline:          time.Now().Add(time.Minute),
		Route: domain.RouteData{Legs: []domain.RouteLeg{{
			LedgerID: "polygon", RouteID: routerA, AssetIn: "USDC", AssetOut: "DAI",
			AmountIn: 100, ExpectedOut: 101,
		}}},
	}

	res, err := c.Execute(context.Background(), opp)
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, res.TxIDs, 1, "allowance is already sufficient")
	assert.InDelta(t, 1.0, res.RealizedProfit, 1e-9)
	assert.InDelta(t, 0.0001, res.FeeConsumed, 1e-12)

	require.Len(t, fb.sent, 1)
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(137)), fb.sent[0])
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), from)
	assert.Equal(t, common.HexToAddress(routerA), *fb.sent[0].To())
}

func TestExecuteRevertIsFailedResult(t *testing.T) {
	signer, err := crypto.NewSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)

	fb := newFakeBackend()
	fb.status = types.ReceiptStatusFailed
	c := connected(t, fb, WithSigner(signer))

	res, err := c.Execute(context.Background(), domain.Opportunity{
		ID:       "opp-2",
		Path:     []string{"USDC", "DAI"},
		AmountIn: 100,
		Deadline: time.Now().Add(time.Minute),
		Route: domain.RouteData{Legs: []domain.RouteLeg{{
			RouteID: routerA, AssetIn: "USDC", AssetOut: "DAI", AmountIn: 100, ExpectedOut: 101,
		}}},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, domain.ReasonExecutionFailed, res.Reason)
	require.Len(t, res.Legs, 1)
	assert.False(t, res.Legs[0].Success)
	assert.NotEmpty(t, res.Legs[0].TxID)
}

func TestBalanceNativeAndToken(t *testing.T) {
	signer, err := crypto.NewSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	fb := newFakeBackend()
	fb.balances[common.HexToAddress(usdc)] = []*big.Int{big.NewInt(2_500_000)}
	c := connected(t, fb, WithSigner(signer))

	native, err := c.Balance(context.Background(), "MATIC")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, native, 1e-12)

	tok, err := c.Balance(context.Background(), "USDC")
	require.NoError(t, err)
	assert.InDelta(t, 2.5, tok, 1e-12)

	_, err = c.Balance(context.Background(), "WBTC")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUnitConversion(t *testing.T) {
	assert.Equal(t, "1500000", toBaseUnits(1.5, 6).String())
	assert.Equal(t, "0", toBaseUnits(-1, 6).String())
	assert.InDelta(t, 1.5, fromBaseUnits(big.NewInt(1_500_000), 6), 1e-12)
}

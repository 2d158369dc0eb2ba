// Package evm is the account-based ledger adapter. It talks to an EVM node
// through go-ethereum's ethclient, quotes through V2-style router contracts
// and executes signed router swaps.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// Backend is the subset of *ethclient.Client the adapter uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	Close()
}

// TxSigner signs transactions for the wallet address. *crypto.Signer
// satisfies it.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// DialFunc opens a Backend for one endpoint.
type DialFunc func(ctx context.Context, url string) (Backend, error)

func dialEthclient(ctx context.Context, url string) (Backend, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Option configures a Connector.
type Option func(*Connector)

// WithSigner enables execution. Without a signer Execute returns
// domain.ErrNotSupported.
func WithSigner(s TxSigner) Option {
	return func(c *Connector) { c.signer = s }
}

// WithDialer replaces ethclient.DialContext.
func WithDialer(d DialFunc) Option {
	return func(c *Connector) { c.dial = d }
}

// WithLogger sets the adapter logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Connector) { c.logger = l }
}

// WithReceiptPollInterval overrides the receipt polling interval, which
// otherwise follows the ledger block interval.
func WithReceiptPollInterval(d time.Duration) Option {
	return func(c *Connector) { c.receiptEvery = d }
}

// gasLimitBuffer pads node gas estimates by 20%.
const gasLimitBuffer = 12

// Connector implements domain.Connector for one EVM chain.
type Connector struct {
	cfg          domain.LedgerConfig
	signer       TxSigner
	dial         DialFunc
	logger       *slog.Logger
	receiptEvery time.Duration

	mu      sync.RWMutex
	backend Backend
	chainID *big.Int

	height atomic.Uint64
}

// New builds an unconnected adapter for cfg.
func New(cfg domain.LedgerConfig, opts ...Option) *Connector {
	c := &Connector{
		cfg:    cfg,
		dial:   dialEthclient,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.receiptEvery <= 0 {
		c.receiptEvery = cfg.BlockInterval
	}
	if c.receiptEvery <= 0 {
		c.receiptEvery = 2 * time.Second
	}
	c.logger = c.logger.With(slog.String("component", "evm"), slog.String("ledger", cfg.ID))
	return c
}

func (c *Connector) LedgerID() string            { return c.cfg.ID }
func (c *Connector) Config() domain.LedgerConfig { return c.cfg }

func (c *Connector) State() domain.ConnectorState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.backend == nil {
		return domain.StateDisconnected
	}
	return domain.StateConnected
}

// LastHeight returns the block number seen by the last probe.
func (c *Connector) LastHeight() uint64 { return c.height.Load() }

func (c *Connector) session() (Backend, *big.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.backend == nil {
		return nil, nil, domain.ErrNotConnected
	}
	return c.backend, c.chainID, nil
}

// Connect dials each endpoint in order and keeps the first one whose chain
// id matches the configuration.
func (c *Connector) Connect(ctx context.Context) error {
	if c.State() == domain.StateConnected {
		return nil
	}
	var lastErr error
	for _, ep := range c.cfg.Endpoints {
		b, err := c.dial(ctx, ep)
		if err != nil {
			lastErr = fmt.Errorf("evm: dial %s: %w", ep, err)
			continue
		}
		id, err := b.ChainID(ctx)
		if err != nil {
			b.Close()
			lastErr = fmt.Errorf("evm: chain id from %s: %w", ep, err)
			continue
		}
		if c.cfg.ChainID != 0 && id.Int64() != c.cfg.ChainID {
			b.Close()
			lastErr = fmt.Errorf("evm: %s reports chain id %s, want %d", ep, id, c.cfg.ChainID)
			continue
		}
		if n, err := b.BlockNumber(ctx); err == nil {
			c.height.Store(n)
		}

		c.mu.Lock()
		c.backend, c.chainID = b, id
		c.mu.Unlock()
		c.logger.InfoContext(ctx, "connected to node",
			slog.String("endpoint", ep),
			slog.String("chain_id", id.String()),
		)
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("evm: no endpoints configured")
	}
	return lastErr
}

func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	b := c.backend
	c.backend = nil
	c.mu.Unlock()
	if b != nil {
		b.Close()
	}
	return nil
}

// IsHealthy probes the latest block number.
func (c *Connector) IsHealthy(ctx context.Context) bool {
	b, _, err := c.session()
	if err != nil {
		return false
	}
	n, err := b.BlockNumber(ctx)
	if err != nil {
		return false
	}
	c.height.Store(n)
	return true
}

// Quote asks every configured router for getAmountsOut over the direct
// path. A router that reverts has no pool for the pair and contributes no
// quote. Price impact is estimated against a probe of 1/1000 of the amount.
func (c *Connector) Quote(ctx context.Context, assetIn, assetOut string, amountIn float64) ([]domain.Quote, error) {
	b, _, err := c.session()
	if err != nil {
		return nil, err
	}
	in, okIn := c.cfg.Assets[assetIn]
	out, okOut := c.cfg.Assets[assetOut]
	if !okIn || !okOut || in.Address == "" || out.Address == "" {
		return nil, nil
	}

	path := []common.Address{common.HexToAddress(in.Address), common.HexToAddress(out.Address)}
	amt := toBaseUnits(amountIn, in.Decimals)
	if amt.Sign() <= 0 {
		return nil, nil
	}
	probe := new(big.Int).Div(amt, big.NewInt(1000))
	if probe.Sign() == 0 {
		probe.SetInt64(1)
	}

	now := time.Now().UTC()
	var (
		quotes  []domain.Quote
		lastErr error
	)
	for _, r := range c.cfg.Routers {
		router := common.HexToAddress(r)
		raw, err := c.amountsOut(ctx, b, router, amt, path)
		if err != nil {
			if isRevert(err) {
				continue
			}
			lastErr = err
			c.logger.DebugContext(ctx, "router quote failed",
				slog.String("router", r),
				slog.String("error", err.Error()),
			)
			continue
		}
		if raw.Sign() == 0 {
			continue
		}
		amountOut := fromBaseUnits(raw, out.Decimals)
		price := amountOut / amountIn

		impact := 0.0
		if probeOut, err := c.amountsOut(ctx, b, router, probe, path); err == nil && probeOut.Sign() > 0 {
			spot := fromBaseUnits(probeOut, out.Decimals) / fromBaseUnits(probe, in.Decimals)
			if spot > 0 && price < spot {
				impact = 1 - price/spot
			}
		}

		quotes = append(quotes, domain.Quote{
			LedgerID:    c.cfg.ID,
			Pair:        domain.AssetPair{In: assetIn, Out: assetOut},
			AmountIn:    amountIn,
			AmountOut:   amountOut,
			Price:       price,
			PriceImpact: impact,
			RouteID:     r,
			QuotedAt:    now,
		})
	}
	if len(quotes) == 0 && lastErr != nil {
		return nil, fmt.Errorf("evm: quote %s/%s: %w", assetIn, assetOut, lastErr)
	}
	return quotes, nil
}

func (c *Connector) amountsOut(ctx context.Context, b Backend, router common.Address, amt *big.Int, path []common.Address) (*big.Int, error) {
	data, err := routerABI.Pack("getAmountsOut", amt, path)
	if err != nil {
		return nil, fmt.Errorf("evm: pack getAmountsOut: %w", err)
	}
	res, err := b.CallContract(ctx, ethereum.CallMsg{To: &router, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := routerABI.Unpack("getAmountsOut", res)
	if err != nil {
		return nil, fmt.Errorf("evm: unpack getAmountsOut: %w", err)
	}
	amounts, ok := vals[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return nil, errors.New("evm: getAmountsOut returned no amounts")
	}
	return amounts[len(amounts)-1], nil
}

func isRevert(err error) bool {
	return strings.Contains(err.Error(), "execution reverted")
}

// Balance reads the native balance for the native asset and ERC-20
// balanceOf for everything else.
func (c *Connector) Balance(ctx context.Context, asset string) (float64, error) {
	b, _, err := c.session()
	if err != nil {
		return 0, err
	}
	if c.signer == nil {
		return 0, fmt.Errorf("evm: balance without wallet: %w", domain.ErrNotSupported)
	}
	owner := c.signer.Address()

	info, ok := c.cfg.Assets[asset]
	if !ok && asset != c.cfg.NativeAsset {
		return 0, fmt.Errorf("evm: unknown asset %q: %w", asset, domain.ErrNotFound)
	}
	if info.Address == "" {
		wei, err := b.BalanceAt(ctx, owner, nil)
		if err != nil {
			return 0, fmt.Errorf("evm: native balance: %w", err)
		}
		dec := info.Decimals
		if dec == 0 {
			dec = nativeDecimals
		}
		return fromBaseUnits(wei, dec), nil
	}

	raw, err := c.callUint(ctx, b, common.HexToAddress(info.Address), "balanceOf", owner)
	if err != nil {
		return 0, fmt.Errorf("evm: balanceOf %s: %w", asset, err)
	}
	return fromBaseUnits(raw, info.Decimals), nil
}

func (c *Connector) callUint(ctx context.Context, b Backend, token common.Address, method string, args ...interface{}) (*big.Int, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	res, err := b.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := erc20ABI.Unpack(method, res)
	if err != nil {
		return nil, err
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", method, vals[0])
	}
	return v, nil
}

var (
	_ domain.Connector      = (*Connector)(nil)
	_ domain.HeightObserver = (*Connector)(nil)
)

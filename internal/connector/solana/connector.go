// Package solana is the resource-based ledger adapter. Node access is
// JSON-RPC 2.0 over HTTP; quotes and unsigned swap transactions come from a
// quote service and are signed locally with the ed25519 wallet.
package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

const (
	lamportDecimals = 9
	// baseFeeLamports is the per-signature network fee.
	baseFeeLamports = 5000
)

// Option configures a Connector.
type Option func(*Connector)

// WithWallet enables execution and balance lookups.
func WithWallet(w Wallet) Option {
	return func(c *Connector) { c.wallet = w }
}

// WithRPCOptions passes options to every RPC client the adapter creates.
func WithRPCOptions(opts ...RPCOption) Option {
	return func(c *Connector) { c.rpcOpts = append(c.rpcOpts, opts...) }
}

// WithLogger sets the adapter logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Connector) { c.logger = l }
}

// WithConfirmInterval overrides the signature status polling interval.
func WithConfirmInterval(d time.Duration) Option {
	return func(c *Connector) { c.confirmEvery = d }
}

// Connector implements domain.Connector over Solana JSON-RPC.
type Connector struct {
	cfg          domain.LedgerConfig
	wallet       Wallet
	rpcOpts      []RPCOption
	quotes       *QuoteClient
	logger       *slog.Logger
	confirmEvery time.Duration

	mu  sync.RWMutex
	rpc *RPCClient

	height atomic.Uint64
}

// New builds an unconnected adapter for cfg.
func New(cfg domain.LedgerConfig, opts ...Option) *Connector {
	c := &Connector{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	if cfg.QuoteURL != "" {
		c.quotes = NewQuoteClient(cfg.QuoteURL, 10*time.Second)
	}
	if c.confirmEvery <= 0 {
		c.confirmEvery = cfg.BlockInterval
	}
	if c.confirmEvery <= 0 {
		c.confirmEvery = 500 * time.Millisecond
	}
	c.logger = c.logger.With(slog.String("component", "solana"), slog.String("ledger", cfg.ID))
	return c
}

func (c *Connector) LedgerID() string            { return c.cfg.ID }
func (c *Connector) Config() domain.LedgerConfig { return c.cfg }

func (c *Connector) State() domain.ConnectorState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.rpc == nil {
		return domain.StateDisconnected
	}
	return domain.StateConnected
}

// LastHeight returns the slot seen by the last probe.
func (c *Connector) LastHeight() uint64 { return c.height.Load() }

func (c *Connector) session() (*RPCClient, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.rpc == nil {
		return nil, domain.ErrNotConnected
	}
	return c.rpc, nil
}

// Connect selects the first endpoint that reports healthy.
func (c *Connector) Connect(ctx context.Context) error {
	if c.State() == domain.StateConnected {
		return nil
	}
	var lastErr error
	for _, ep := range c.cfg.Endpoints {
		rpc := NewRPCClient(ep, c.rpcOpts...)
		if err := rpc.GetHealth(ctx); err != nil {
			lastErr = fmt.Errorf("solana: %s unhealthy: %w", ep, err)
			continue
		}
		if slot, err := rpc.GetSlot(ctx); err == nil {
			c.height.Store(slot)
		}
		c.mu.Lock()
		c.rpc = rpc
		c.mu.Unlock()
		c.logger.InfoContext(ctx, "connected to node", slog.String("endpoint", ep))
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("solana: no endpoints configured")
	}
	return lastErr
}

// Disconnect drops the RPC client. HTTP needs no remote teardown.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.rpc = nil
	c.mu.Unlock()
	return nil
}

// IsHealthy runs getHealth and records the current slot.
func (c *Connector) IsHealthy(ctx context.Context) bool {
	rpc, err := c.session()
	if err != nil {
		return false
	}
	if err := rpc.GetHealth(ctx); err != nil {
		return false
	}
	slot, err := rpc.GetSlot(ctx)
	if err != nil {
		return false
	}
	c.height.Store(slot)
	return true
}

// Quote asks the quote service for routes. Each returned route is one
// quote.
func (c *Connector) Quote(ctx context.Context, assetIn, assetOut string, amountIn float64) ([]domain.Quote, error) {
	if _, err := c.session(); err != nil {
		return nil, err
	}
	if c.quotes == nil {
		return nil, fmt.Errorf("solana: no quote service configured: %w", domain.ErrNotSupported)
	}
	in, okIn := c.cfg.Assets[assetIn]
	out, okOut := c.cfg.Assets[assetOut]
	if !okIn || !okOut {
		return nil, nil
	}
	amt := toBaseUnits(amountIn, in.Decimals)
	if amt == 0 {
		return nil, nil
	}

	resp, err := c.quotes.Quote(ctx, in.Address, out.Address, amt, int(c.cfg.SlippageBps))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	quotes := make([]domain.Quote, 0, len(resp.Routes))
	for _, r := range resp.Routes {
		raw, err := strconv.ParseUint(r.OutAmount, 10, 64)
		if err != nil || raw == 0 {
			continue
		}
		amountOut := fromBaseUnits(raw, out.Decimals)
		quotes = append(quotes, domain.Quote{
			LedgerID:    c.cfg.ID,
			Pair:        domain.AssetPair{In: assetIn, Out: assetOut},
			AmountIn:    amountIn,
			AmountOut:   amountOut,
			Price:       amountOut / amountIn,
			PriceImpact: r.PriceImpact,
			RouteID:     r.RouteID,
			QuotedAt:    now,
		})
	}
	return quotes, nil
}

// Execute re-quotes each leg, has the service build the swap, signs it and
// waits for confirmation.
func (c *Connector) Execute(ctx context.Context, opp domain.Opportunity) (domain.ExecutionResult, error) {
	rpc, err := c.session()
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	if c.wallet == nil || c.quotes == nil {
		return domain.ExecutionResult{}, fmt.Errorf("solana: execute needs wallet and quote service: %w", domain.ErrNotSupported)
	}
	legs := opp.Route.Legs
	if len(legs) == 0 {
		return domain.ExecutionResult{}, fmt.Errorf("solana: opportunity %s has no legs: %w", opp.ID, domain.ErrValidation)
	}

	start := time.Now()
	res := domain.ExecutionResult{
		OpportunityID: opp.ID,
		LedgerID:      c.cfg.ID,
		Strategy:      opp.Strategy,
	}
	finalAsset := legs[len(legs)-1].AssetOut
	before, err := c.Balance(ctx, finalAsset)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	for i, leg := range legs {
		lr := domain.LegResult{Index: i, LedgerID: c.cfg.ID, RouteID: leg.RouteID}
		sig, err := c.executeLeg(ctx, rpc, leg)
		if sig != "" {
			lr.TxID = sig
			res.TxIDs = append(res.TxIDs, sig)
			res.FeeConsumed += fromBaseUnits(baseFeeLamports, lamportDecimals)
		}
		if err != nil {
			lr.Error = err.Error()
			res.Legs = append(res.Legs, lr)
			res.Reason = domain.ReasonExecutionFailed
			res.Error = fmt.Sprintf("leg %d: %v", i, err)
			res.Duration = time.Since(start)
			res.CompletedAt = time.Now().UTC()
			return res, nil
		}
		lr.Success = true
		res.Legs = append(res.Legs, lr)
	}

	res.Success = true
	after, err := c.Balance(ctx, finalAsset)
	if err != nil {
		c.logger.WarnContext(ctx, "post-trade balance unavailable, reporting expected profit",
			slog.String("opportunity_id", opp.ID),
			slog.String("error", err.Error()),
		)
		res.RealizedProfit = opp.ExpectedProfit
	} else {
		actualOut := after - before
		if finalAsset == legs[0].AssetIn {
			actualOut += legs[0].AmountIn
		}
		res.RealizedProfit = opp.RealizedProfit(actualOut)
	}
	res.Duration = time.Since(start)
	res.CompletedAt = time.Now().UTC()
	return res, nil
}

func (c *Connector) executeLeg(ctx context.Context, rpc *RPCClient, leg domain.RouteLeg) (string, error) {
	in, err := c.cfg.Asset(leg.AssetIn)
	if err != nil {
		return "", err
	}
	out, err := c.cfg.Asset(leg.AssetOut)
	if err != nil {
		return "", err
	}
	resp, err := c.quotes.Quote(ctx, in.Address, out.Address, toBaseUnits(leg.AmountIn, in.Decimals), int(c.cfg.SlippageBps))
	if err != nil {
		return "", err
	}
	route, ok := pickRoute(resp.Routes, leg.RouteID)
	if !ok {
		return "", fmt.Errorf("route %q no longer available", leg.RouteID)
	}

	swap, err := c.quotes.Swap(ctx, route, c.wallet.PublicKey())
	if err != nil {
		return "", err
	}
	signed, sig, err := signWireTx(swap.SwapTransaction, c.wallet)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	if _, err := rpc.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	return sig, c.confirm(ctx, rpc, sig)
}

func pickRoute(routes []Route, id string) (Route, bool) {
	for _, r := range routes {
		if r.RouteID == id {
			return r, true
		}
	}
	if id == "" && len(routes) > 0 {
		return routes[0], true
	}
	return Route{}, false
}

func (c *Connector) confirm(ctx context.Context, rpc *RPCClient, sig string) error {
	for {
		st, err := rpc.GetSignatureStatus(ctx, sig)
		if err != nil {
			return fmt.Errorf("status %s: %w", sig, err)
		}
		if st != nil {
			if st.Err != nil {
				return fmt.Errorf("transaction %s failed: %v", sig, st.Err)
			}
			if st.ConfirmationStatus == "confirmed" || st.ConfirmationStatus == "finalized" {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.confirmEvery):
		}
	}
}

// Balance reads lamports for the native asset and token accounts for
// everything else.
func (c *Connector) Balance(ctx context.Context, asset string) (float64, error) {
	rpc, err := c.session()
	if err != nil {
		return 0, err
	}
	if c.wallet == nil {
		return 0, fmt.Errorf("solana: balance without wallet: %w", domain.ErrNotSupported)
	}
	owner := c.wallet.PublicKey()

	if asset == c.cfg.NativeAsset {
		lamports, err := rpc.GetBalance(ctx, owner)
		if err != nil {
			return 0, fmt.Errorf("solana: native balance: %w", err)
		}
		return fromBaseUnits(lamports, lamportDecimals), nil
	}
	info, err := c.cfg.Asset(asset)
	if err != nil {
		return 0, err
	}
	raw, err := rpc.GetTokenBalance(ctx, owner, info.Address)
	if err != nil {
		return 0, fmt.Errorf("solana: token balance %s: %w", asset, err)
	}
	return fromBaseUnits(raw, info.Decimals), nil
}

func toBaseUnits(amount float64, decimals int) uint64 {
	if amount <= 0 {
		return 0
	}
	return uint64(math.Floor(amount * math.Pow10(decimals)))
}

func fromBaseUnits(v uint64, decimals int) float64 {
	return float64(v) / math.Pow10(decimals)
}

var (
	_ domain.Connector      = (*Connector)(nil)
	_ domain.HeightObserver = (*Connector)(nil)
)

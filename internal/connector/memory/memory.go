// Package memory is an in-process ledger driven by configured route prices
// and balances. It backs paper trading (driver "memory") and serves as the
// deterministic connector in tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// ExecuteFunc overrides the default fill behaviour.
type ExecuteFunc func(ctx context.Context, opp domain.Opportunity) (domain.ExecutionResult, error)

// Connector implements domain.Connector without any backend.
type Connector struct {
	cfg domain.LedgerConfig

	mu         sync.Mutex
	state      domain.ConnectorState
	height     uint64
	routes     []domain.RoutePrice
	balances   map[string]float64
	fillRatio  float64
	feePerLeg  float64
	healthy    bool
	connectErr error
	quoteErr   error
	quoteDelay time.Duration
	healthWait time.Duration
	execFn     ExecuteFunc
	executed   []domain.Opportunity
	connects   int
}

// New seeds a connector from cfg.Prices and cfg.Balances.
func New(cfg domain.LedgerConfig) *Connector {
	c := &Connector{
		cfg:       cfg,
		state:     domain.StateDisconnected,
		routes:    append([]domain.RoutePrice(nil), cfg.Prices...),
		balances:  make(map[string]float64, len(cfg.Balances)),
		fillRatio: 1,
		healthy:   true,
	}
	for k, v := range cfg.Balances {
		c.balances[k] = v
	}
	return c
}

// SetPrice adds or replaces a route.
func (c *Connector) SetPrice(routeID, assetIn, assetOut string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.routes {
		if r.RouteID == routeID && r.AssetIn == assetIn && r.AssetOut == assetOut {
			c.routes[i].Price = price
			return
		}
	}
	c.routes = append(c.routes, domain.RoutePrice{RouteID: routeID, AssetIn: assetIn, AssetOut: assetOut, Price: price})
}

// SetBalance sets the balance of an asset.
func (c *Connector) SetBalance(asset string, amount float64) {
	c.mu.Lock()
	c.balances[asset] = amount
	c.mu.Unlock()
}

// SetFillRatio scales realized profit relative to expected profit.
func (c *Connector) SetFillRatio(r float64) {
	c.mu.Lock()
	c.fillRatio = r
	c.mu.Unlock()
}

// SetFeePerLeg charges a flat fee for each submitted leg.
func (c *Connector) SetFeePerLeg(f float64) {
	c.mu.Lock()
	c.feePerLeg = f
	c.mu.Unlock()
}

// FailConnect makes Connect return err; nil restores it.
func (c *Connector) FailConnect(err error) {
	c.mu.Lock()
	c.connectErr = err
	c.mu.Unlock()
}

// FailQuote makes Quote return err; nil restores it.
func (c *Connector) FailQuote(err error) {
	c.mu.Lock()
	c.quoteErr = err
	c.mu.Unlock()
}

// SetQuoteDelay delays every quote by d, honouring the context.
func (c *Connector) SetQuoteDelay(d time.Duration) {
	c.mu.Lock()
	c.quoteDelay = d
	c.mu.Unlock()
}

// SetHealthy controls the liveness probe answer.
func (c *Connector) SetHealthy(ok bool) {
	c.mu.Lock()
	c.healthy = ok
	c.mu.Unlock()
}

// SetHealthDelay makes the probe block for d, ignoring the context.
func (c *Connector) SetHealthDelay(d time.Duration) {
	c.mu.Lock()
	c.healthWait = d
	c.mu.Unlock()
}

// OnExecute replaces the default fill behaviour.
func (c *Connector) OnExecute(fn ExecuteFunc) {
	c.mu.Lock()
	c.execFn = fn
	c.mu.Unlock()
}

// Executions returns the opportunities submitted so far.
func (c *Connector) Executions() []domain.Opportunity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Opportunity(nil), c.executed...)
}

// ConnectCalls counts Connect invocations.
func (c *Connector) ConnectCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func (c *Connector) LedgerID() string            { return c.cfg.ID }
func (c *Connector) Config() domain.LedgerConfig { return c.cfg }

func (c *Connector) State() domain.ConnectorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.connectErr != nil {
		c.state = domain.StateDisconnected
		return c.connectErr
	}
	c.state = domain.StateConnected
	return nil
}

func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.state = domain.StateDisconnected
	c.mu.Unlock()
	return nil
}

func (c *Connector) IsHealthy(ctx context.Context) bool {
	c.mu.Lock()
	wait := c.healthWait
	c.mu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.healthy || c.state != domain.StateConnected {
		return false
	}
	c.height++
	return true
}

// LastHeight implements domain.HeightObserver.
func (c *Connector) LastHeight() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

func (c *Connector) Quote(ctx context.Context, assetIn, assetOut string, amountIn float64) ([]domain.Quote, error) {
	c.mu.Lock()
	delay, qerr := c.quoteDelay, c.quoteErr
	routes := append([]domain.RoutePrice(nil), c.routes...)
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if qerr != nil {
		return nil, qerr
	}

	now := time.Now().UTC()
	var quotes []domain.Quote
	for _, r := range routes {
		if r.AssetIn != assetIn || r.AssetOut != assetOut || r.Price <= 0 {
			continue
		}
		out := amountIn * r.Price * (1 - r.PriceImpact)
		quotes = append(quotes, domain.Quote{
			LedgerID:    c.cfg.ID,
			Pair:        domain.AssetPair{In: assetIn, Out: assetOut},
			AmountIn:    amountIn,
			AmountOut:   out,
			Price:       out / amountIn,
			PriceImpact: r.PriceImpact,
			RouteID:     r.RouteID,
			QuotedAt:    now,
		})
	}
	return quotes, nil
}

func (c *Connector) Execute(ctx context.Context, opp domain.Opportunity) (domain.ExecutionResult, error) {
	c.mu.Lock()
	c.executed = append(c.executed, opp)
	fn := c.execFn
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, opp)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	start := time.Now()
	res := domain.ExecutionResult{
		OpportunityID: opp.ID,
		LedgerID:      c.cfg.ID,
		Strategy:      opp.Strategy,
		Success:       true,
	}
	for i, leg := range opp.Route.Legs {
		tx := "mem-" + uuid.NewString()
		res.TxIDs = append(res.TxIDs, tx)
		res.Legs = append(res.Legs, domain.LegResult{
			Index: i, LedgerID: c.cfg.ID, RouteID: leg.RouteID, TxID: tx, Success: true,
		})
		res.FeeConsumed += c.feePerLeg
	}
	res.RealizedProfit = opp.ExpectedProfit*c.fillRatio - res.FeeConsumed
	if len(opp.Path) > 0 {
		c.balances[opp.Path[0]] += res.RealizedProfit
	}
	c.height++
	res.Duration = time.Since(start)
	res.CompletedAt = time.Now().UTC()
	return res, nil
}

func (c *Connector) Balance(ctx context.Context, asset string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bal, ok := c.balances[asset]
	if !ok {
		return 0, nil
	}
	return bal, nil
}

var (
	_ domain.Connector      = (*Connector)(nil)
	_ domain.HeightObserver = (*Connector)(nil)
)

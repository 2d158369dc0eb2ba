package domain

import "context"

// Connector is the capability surface every ledger adapter implements.
// Operations a ledger cannot support return ErrNotSupported.
type Connector interface {
	LedgerID() string
	Config() LedgerConfig
	State() ConnectorState

	// Connect establishes the backend session. It is idempotent.
	Connect(ctx context.Context) error
	// Disconnect releases the session. Remote teardown failures are logged,
	// not returned.
	Disconnect(ctx context.Context) error
	// IsHealthy is a cheap liveness probe.
	IsHealthy(ctx context.Context) bool

	// Quote returns zero or more quotes from distinct routes. No liquidity is
	// an empty result, not an error.
	Quote(ctx context.Context, assetIn, assetOut string, amountIn float64) ([]Quote, error)
	// Execute submits the legs described by opp.Route.
	Execute(ctx context.Context, opp Opportunity) (ExecutionResult, error)
	Balance(ctx context.Context, asset string) (float64, error)
}

// HeightObserver is implemented by connectors that remember the latest
// ledger height seen by their liveness probe.
type HeightObserver interface {
	LastHeight() uint64
}

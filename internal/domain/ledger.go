package domain

import (
	"fmt"
	"time"
)

// LedgerCategory separates ledgers by their state model.
type LedgerCategory string

const (
	LedgerAccountBased  LedgerCategory = "account"
	LedgerResourceBased LedgerCategory = "resource"
)

// Valid reports whether c is a known category.
func (c LedgerCategory) Valid() bool {
	return c == LedgerAccountBased || c == LedgerResourceBased
}

// AssetInfo locates an asset on one ledger.
type AssetInfo struct {
	Address  string // contract address, mint, or empty for the native asset
	Decimals int
}

// RoutePrice seeds a route on the in-memory ledger driver.
type RoutePrice struct {
	RouteID     string
	AssetIn     string
	AssetOut    string
	Price       float64
	PriceImpact float64
}

// LedgerConfig describes one ledger venue. It is loaded once at startup and
// passed by value afterwards.
type LedgerConfig struct {
	ID            string
	Name          string
	Category      LedgerCategory
	Driver        string
	Endpoints     []string
	NativeAsset   string
	BlockInterval time.Duration
	FinalityDepth int

	// Adapter data.
	ChainID  int64
	Assets   map[string]AssetInfo
	Routers  []string // EVM router contracts, one route each
	QuoteURL string   // quote/swap service for resource-based ledgers

	// Per-ledger thresholds. Zero falls back to the global default.
	MinProfit       float64
	SlippageBps     float64
	DirectThreshold float64

	// Memory driver seeds.
	Prices   []RoutePrice
	Balances map[string]float64
}

// Endpoint returns the primary endpoint or an empty string.
func (l LedgerConfig) Endpoint() string {
	if len(l.Endpoints) == 0 {
		return ""
	}
	return l.Endpoints[0]
}

// Asset looks up an asset by symbol.
func (l LedgerConfig) Asset(symbol string) (AssetInfo, error) {
	a, ok := l.Assets[symbol]
	if !ok {
		return AssetInfo{}, fmt.Errorf("ledger %s: unknown asset %q: %w", l.ID, symbol, ErrNotFound)
	}
	return a, nil
}

// ConnectorState is the lifecycle state of a connector.
type ConnectorState string

const (
	StateConnecting   ConnectorState = "CONNECTING"
	StateConnected    ConnectorState = "CONNECTED"
	StateDisconnected ConnectorState = "DISCONNECTED"
)

// LedgerStatus is one row of the registry's network status.
type LedgerStatus struct {
	LedgerID  string         `json:"ledger_id"`
	Name      string         `json:"name"`
	Category  LedgerCategory `json:"category"`
	State     ConnectorState `json:"state"`
	Connected bool           `json:"connected"`
	Height    uint64         `json:"height"`
	LastCheck time.Time      `json:"last_check"`
	LastError string         `json:"last_error,omitempty"`
}

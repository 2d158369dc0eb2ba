package scanner

import (
	"time"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// MinCrossMargin is the floor applied to the cross-ledger safety margin.
const MinCrossMargin = 0.01

// Config holds every threshold, efficiency, TTL and confidence factor the
// scanner uses.
type Config struct {
	// Direct spread thresholds by ledger category; a ledger's own
	// DirectThreshold takes precedence.
	AccountDirectThreshold  float64
	ResourceDirectThreshold float64
	MultiHopThreshold       float64
	CrossMargin             float64

	// Fraction of the theoretical edge expected to survive execution.
	DirectEfficiency   float64
	MultiHopEfficiency float64
	CrossEfficiency    float64

	DirectTTL   time.Duration
	MultiHopTTL time.Duration
	CrossTTL    time.Duration

	AccountConfidence        float64
	ResourceConfidence       float64
	DirectConfidenceFactor   float64
	MultiHopConfidenceFactor float64
	CrossConfidenceFactor    float64

	// Intermediates for multi-hop routes, in addition to each ledger's
	// native asset.
	StableAssets []string
	QuoteTimeout time.Duration

	Bridges []domain.BridgeRoute
}

// DefaultConfig returns the stock scanner parameters.
func DefaultConfig() Config {
	return Config{
		AccountDirectThreshold:   0.005,
		ResourceDirectThreshold:  0.003,
		MultiHopThreshold:        0.003,
		CrossMargin:              MinCrossMargin,
		DirectEfficiency:         0.8,
		MultiHopEfficiency:       0.7,
		CrossEfficiency:          0.6,
		DirectTTL:                15 * time.Second,
		MultiHopTTL:              15 * time.Second,
		CrossTTL:                 60 * time.Second,
		AccountConfidence:        0.9,
		ResourceConfidence:       0.85,
		DirectConfidenceFactor:   1.0,
		MultiHopConfidenceFactor: 0.9,
		CrossConfidenceFactor:    0.75,
		StableAssets:             []string{"USDC", "USDT"},
		QuoteTimeout:             5 * time.Second,
	}
}

func (c Config) directThreshold(l domain.LedgerConfig) float64 {
	if l.DirectThreshold > 0 {
		return l.DirectThreshold
	}
	if l.Category == domain.LedgerResourceBased {
		return c.ResourceDirectThreshold
	}
	return c.AccountDirectThreshold
}

func (c Config) baseConfidence(cat domain.LedgerCategory) float64 {
	if cat == domain.LedgerResourceBased {
		return c.ResourceConfidence
	}
	return c.AccountConfidence
}

func (c Config) crossMargin() float64 {
	if c.CrossMargin < MinCrossMargin {
		return MinCrossMargin
	}
	return c.CrossMargin
}

package domain

import (
	"fmt"
	"strings"
	"time"
)

// StrategyTag names how many legs and ledgers an opportunity spans.
type StrategyTag string

const (
	StrategyDirect      StrategyTag = "direct"
	StrategyMultiHop    StrategyTag = "multi_hop"
	StrategyBatch       StrategyTag = "batch"
	StrategyCrossLedger StrategyTag = "cross_ledger"
)

// OpportunityState is the orchestrator state machine.
type OpportunityState string

const (
	OppDiscovered OpportunityState = "DISCOVERED"
	OppValidated  OpportunityState = "VALIDATED"
	OppExecuting  OpportunityState = "EXECUTING"
	OppConfirmed  OpportunityState = "CONFIRMED"
	OppFailed     OpportunityState = "FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s OpportunityState) Terminal() bool {
	return s == OppConfirmed || s == OppFailed
}

// RouteLeg is one swap on one ledger.
type RouteLeg struct {
	LedgerID    string  `json:"ledger_id"`
	RouteID     string  `json:"route_id"`
	AssetIn     string  `json:"asset_in"`
	AssetOut    string  `json:"asset_out"`
	AmountIn    float64 `json:"amount_in"`
	ExpectedOut float64 `json:"expected_out"`
}

// RouteData is the strategy-specific execution plan. Connectors read Legs;
// cross-ledger opportunities also carry Bridge and, optionally, DestLegs.
type RouteData struct {
	Legs     []RouteLeg   `json:"legs"`
	Bridge   *BridgeRoute `json:"bridge,omitempty"`
	DestLegs []RouteLeg   `json:"dest_legs,omitempty"`
}

// Opportunity is a discovered, time-bounded candidate action. It is consumed
// at most once by the orchestrator and expires silently after Deadline.
//
// Path lists every asset the route holds in order, so its last element is the
// asset ExpectedAmountOut is denominated in.
type Opportunity struct {
	ID                string      `json:"id"`
	Path              []string    `json:"path"`
	OriginLedger      string      `json:"origin_ledger"`
	DestLedger        string      `json:"dest_ledger,omitempty"`
	AmountIn          float64     `json:"amount_in"`
	ExpectedAmountOut float64     `json:"expected_amount_out"`
	ExpectedProfit    float64     `json:"expected_profit"`
	Confidence        float64     `json:"confidence"`
	Strategy          StrategyTag `json:"strategy"`
	Deadline          time.Time   `json:"deadline"`
	CreatedAt         time.Time   `json:"created_at"`
	Route             RouteData   `json:"route"`
}

// Key identifies an opportunity for deduplication: origin, destination and
// asset path.
func (o Opportunity) Key() string {
	return o.OriginLedger + "|" + o.DestLedger + "|" + strings.Join(o.Path, ">")
}

// Pair returns the pair the route trades. For a round trip A>B>...>A that
// is A/B, otherwise the first and last asset.
func (o Opportunity) Pair() AssetPair {
	n := len(o.Path)
	switch {
	case n == 0:
		return AssetPair{}
	case n > 2 && o.Path[0] == o.Path[n-1]:
		return AssetPair{In: o.Path[0], Out: o.Path[1]}
	}
	return AssetPair{In: o.Path[0], Out: o.Path[n-1]}
}

// Expired reports whether now is past the deadline.
func (o Opportunity) Expired(now time.Time) bool {
	return now.After(o.Deadline)
}

// Validate checks the structural invariants of an opportunity.
func (o Opportunity) Validate() error {
	switch {
	case o.ID == "":
		return fmt.Errorf("opportunity: empty id: %w", ErrValidation)
	case len(o.Path) < 2:
		return fmt.Errorf("opportunity %s: path needs at least 2 assets: %w", o.ID, ErrValidation)
	case o.OriginLedger == "":
		return fmt.Errorf("opportunity %s: missing origin ledger: %w", o.ID, ErrValidation)
	case o.AmountIn <= 0:
		return fmt.Errorf("opportunity %s: amount in must be positive: %w", o.ID, ErrValidation)
	case o.ExpectedAmountOut < 0:
		return fmt.Errorf("opportunity %s: negative expected amount out: %w", o.ID, ErrValidation)
	case o.Confidence < 0 || o.Confidence > 1:
		return fmt.Errorf("opportunity %s: confidence %.3f outside [0,1]: %w", o.ID, o.Confidence, ErrValidation)
	}
	if o.Strategy == StrategyCrossLedger {
		if o.DestLedger == "" || o.Route.Bridge == nil {
			return fmt.Errorf("opportunity %s: cross-ledger needs destination and bridge route: %w", o.ID, ErrValidation)
		}
		if len(o.Route.Legs) == 0 {
			return fmt.Errorf("opportunity %s: cross-ledger needs an origin leg: %w", o.ID, ErrValidation)
		}
	}
	for i, leg := range o.Route.Legs {
		if leg.ExpectedOut < 0 {
			return fmt.Errorf("opportunity %s: leg %d has negative expected out: %w", o.ID, i, ErrValidation)
		}
	}
	return nil
}

// OpportunityEnvelope is the read-only record handed to downstream
// collaborators after VALIDATED and after each terminal transition.
type OpportunityEnvelope struct {
	Opportunity Opportunity      `json:"opportunity"`
	State       OpportunityState `json:"state"`
	Reason      FailureReason    `json:"reason,omitempty"`
	Result      *ExecutionResult `json:"result,omitempty"`
	EmittedAt   time.Time        `json:"emitted_at"`
}

// RealizedProfit converts the observed final output of the route into profit
// in input units at the planned exchange rate.
func (o Opportunity) RealizedProfit(actualOut float64) float64 {
	if o.ExpectedAmountOut <= 0 {
		return 0
	}
	return o.ExpectedProfit + (actualOut-o.ExpectedAmountOut)*o.AmountIn/o.ExpectedAmountOut
}

// OutputDelta inverts RealizedProfit: given the profit a connector reported
// against o, it returns actualOut - ExpectedAmountOut in output units.
func (o Opportunity) OutputDelta(realized float64) float64 {
	if o.AmountIn <= 0 {
		return 0
	}
	return (realized - o.ExpectedProfit) * o.ExpectedAmountOut / o.AmountIn
}

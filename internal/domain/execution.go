package domain

import "time"

// FailureReason is the reason code recorded on a failed ExecutionResult.
type FailureReason string

const (
	ReasonNone                 FailureReason = ""
	ReasonInvalidOpportunity   FailureReason = "invalid_opportunity"
	ReasonDeadlinePassed       FailureReason = "deadline_passed"
	ReasonProfitBelowMinimum   FailureReason = "profit_below_minimum"
	ReasonInsufficientBalance  FailureReason = "insufficient_balance"
	ReasonPolicyRejected       FailureReason = "policy_rejected"
	ReasonConnectorUnavailable FailureReason = "connector_unavailable"
	ReasonExecutionFailed      FailureReason = "execution_failed"
	ReasonNonPositiveProfit    FailureReason = "non_positive_profit"
	ReasonBridgeFailed         FailureReason = "bridge_failed"
	ReasonBridgeTimeout        FailureReason = "bridge_timeout"
	ReasonDestinationFailed    FailureReason = "destination_failed"
	ReasonBatchLegFailed       FailureReason = "batch_leg_failed"
)

// LegResult records the outcome of one submitted leg.
type LegResult struct {
	Index    int    `json:"index"`
	LedgerID string `json:"ledger_id"`
	RouteID  string `json:"route_id"`
	TxID     string `json:"tx_id,omitempty"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// Reconciliation describes funds a cross-ledger opportunity left away from
// its origin: in flight when the bridge leg did not confirm, or parked on the
// destination when the bridge confirmed but the destination legs failed.
type Reconciliation struct {
	SourceTxID string       `json:"source_tx_id"`
	TransferID string       `json:"transfer_id"`
	BridgeID   string       `json:"bridge_id"`
	Status     BridgeStatus `json:"status"`
}

// ExecutionResult is the append-only outcome of one opportunity.
type ExecutionResult struct {
	OpportunityID  string          `json:"opportunity_id"`
	LedgerID       string          `json:"ledger_id"`
	Strategy       StrategyTag     `json:"strategy"`
	Success        bool            `json:"success"`
	TxIDs          []string        `json:"tx_ids,omitempty"`
	RealizedProfit float64         `json:"realized_profit"`
	FeeConsumed    float64         `json:"fee_consumed"`
	Duration       time.Duration   `json:"duration"`
	Reason         FailureReason   `json:"reason,omitempty"`
	Error          string          `json:"error,omitempty"`
	Legs           []LegResult     `json:"legs,omitempty"`
	Reconciliation *Reconciliation `json:"reconciliation,omitempty"`
	CompletedAt    time.Time       `json:"completed_at"`
}

// NeedsReconciliation reports whether funds moved on the origin ledger but
// the opportunity did not complete.
func (r ExecutionResult) NeedsReconciliation() bool {
	return !r.Success && r.Reconciliation != nil && r.Reconciliation.SourceTxID != ""
}

// SucceededLegs returns the indexes of legs that were applied.
func (r ExecutionResult) SucceededLegs() []int {
	var out []int
	for _, l := range r.Legs {
		if l.Success {
			out = append(out, l.Index)
		}
	}
	return out
}

package domain

import (
	"context"
	"time"
)

// BridgeStatus is the lifecycle of a cross-ledger transfer.
type BridgeStatus string

const (
	BridgeInitiated BridgeStatus = "INITIATED"
	BridgeInTransit BridgeStatus = "IN_TRANSIT"
	BridgeConfirmed BridgeStatus = "CONFIRMED"
	BridgeFailed    BridgeStatus = "FAILED"
	BridgeTimedOut  BridgeStatus = "TIMED_OUT"
)

// Terminal reports whether the status is final from the orchestrator's view.
// TIMED_OUT is terminal for the opportunity but may still be reconciled.
func (s BridgeStatus) Terminal() bool {
	return s == BridgeConfirmed || s == BridgeFailed || s == BridgeTimedOut
}

// BridgeRoute is one row of the curated bridge tuple table.
type BridgeRoute struct {
	Origin    string        `json:"origin"`
	Dest      string        `json:"dest"`
	BridgeID  string        `json:"bridge_id"`
	Asset     string        `json:"asset"`
	DestAsset string        `json:"dest_asset"` // wrapped representative, defaults to Asset
	Latency   time.Duration `json:"latency"`
	FeeRate   float64       `json:"fee_rate"`
}

// DestinationAsset returns the symbol of the asset on the destination ledger.
func (r BridgeRoute) DestinationAsset() string {
	if r.DestAsset != "" {
		return r.DestAsset
	}
	return r.Asset
}

// TransferRequest asks a bridge to move Amount of Asset.
type TransferRequest struct {
	OpportunityID string  `json:"opportunity_id"`
	SourceLedger  string  `json:"source_ledger"`
	DestLedger    string  `json:"dest_ledger"`
	Asset         string  `json:"asset"`
	Amount        float64 `json:"amount"`
	SourceTxID    string  `json:"source_tx_id"`
}

// BridgeTransfer is the persisted record of one transfer.
type BridgeTransfer struct {
	ID                  string       `json:"id"`
	OpportunityID       string       `json:"opportunity_id"`
	SourceLedger        string       `json:"source_ledger"`
	DestLedger          string       `json:"dest_ledger"`
	Asset               string       `json:"asset"`
	Amount              float64      `json:"amount"`
	BridgeID            string       `json:"bridge_id"`
	Status              BridgeStatus `json:"status"`
	SourceTxID          string       `json:"source_tx_id"`
	InitiatedAt         time.Time    `json:"initiated_at"`
	EstimatedCompletion time.Time    `json:"estimated_completion"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// Bridge is the pluggable asynchronous transfer capability.
type Bridge interface {
	ID() string
	Initiate(ctx context.Context, req TransferRequest) (transferID string, err error)
	PollStatus(ctx context.Context, transferID string) (BridgeStatus, error)
}

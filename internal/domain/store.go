package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ExecutionStore persists execution results. Records are append-only.
type ExecutionStore interface {
	Create(ctx context.Context, res ExecutionResult) error
	GetByOpportunity(ctx context.Context, opportunityID string) (ExecutionResult, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]ExecutionResult, error)
	ListBefore(ctx context.Context, before time.Time) ([]ExecutionResult, error)
}

// BridgeTransferStore persists bridge transfers and their status changes.
type BridgeTransferStore interface {
	Create(ctx context.Context, t BridgeTransfer) error
	UpdateStatus(ctx context.Context, id string, status BridgeStatus, at time.Time) error
	GetByID(ctx context.Context, id string) (BridgeTransfer, error)
	ListByStatus(ctx context.Context, status BridgeStatus, limit int) ([]BridgeTransfer, error)
}

// OpportunityStore keeps the history of emitted envelopes.
type OpportunityStore interface {
	RecordTransition(ctx context.Context, env OpportunityEnvelope) error
	ListRecent(ctx context.Context, opts ListOpts) ([]OpportunityEnvelope, error)
}

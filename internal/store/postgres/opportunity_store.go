package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL. Each
// envelope is one row; the full envelope is kept as JSONB.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)

// NewOpportunityStore creates a new OpportunityStore.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// RecordTransition appends env to the history.
func (s *OpportunityStore) RecordTransition(ctx context.Context, env domain.OpportunityEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("postgres: marshal envelope: %w", err)
	}
	opp := env.Opportunity
	_, err = s.pool.Exec(ctx, `
		INSERT INTO opportunity_transitions
			(opportunity_id, state, reason, strategy, origin_ledger, dest_ledger, expected_profit, envelope, emitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		opp.ID, string(env.State), string(env.Reason), string(opp.Strategy),
		opp.OriginLedger, opp.DestLedger, opp.ExpectedProfit, data, env.EmittedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity transition: %w", err)
	}
	return nil
}

// ListRecent returns envelopes newest first.
func (s *OpportunityStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.OpportunityEnvelope, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT envelope FROM opportunity_transitions
		WHERE ($1::timestamptz IS NULL OR emitted_at >= $1)
		  AND ($2::timestamptz IS NULL OR emitted_at < $2)
		ORDER BY emitted_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		opts.Since, opts.Until, limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunity transitions: %w", err)
	}
	defer rows.Close()

	var list []domain.OpportunityEnvelope
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity transition: %w", err)
		}
		var env domain.OpportunityEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("postgres: decode envelope: %w", err)
		}
		list = append(list, env)
	}
	return list, rows.Err()
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// uniqueViolation is the SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionColumns = `opportunity_id, ledger_id, strategy, success, tx_ids, realized_profit, fee_consumed,
	duration_ns, reason, error, legs, reconciliation, completed_at`

// Create inserts a terminal result. A second result for the same
// opportunity returns domain.ErrAlreadyExists.
func (s *ExecutionStore) Create(ctx context.Context, res domain.ExecutionResult) error {
	legs, err := json.Marshal(nonNilLegs(res.Legs))
	if err != nil {
		return fmt.Errorf("postgres: marshal legs: %w", err)
	}
	var recon []byte
	if res.Reconciliation != nil {
		if recon, err = json.Marshal(res.Reconciliation); err != nil {
			return fmt.Errorf("postgres: marshal reconciliation: %w", err)
		}
	}
	txIDs := res.TxIDs
	if txIDs == nil {
		txIDs = []string{}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		res.OpportunityID, res.LedgerID, string(res.Strategy), res.Success, txIDs,
		res.RealizedProfit, res.FeeConsumed, res.Duration.Nanoseconds(),
		string(res.Reason), res.Error, legs, recon, res.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: execution %s: %w", res.OpportunityID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert execution: %w", err)
	}
	return nil
}

// GetByOpportunity returns the result recorded for an opportunity.
func (s *ExecutionStore) GetByOpportunity(ctx context.Context, opportunityID string) (domain.ExecutionResult, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE opportunity_id = $1`, opportunityID)
	res, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionResult{}, domain.ErrNotFound
		}
		return domain.ExecutionResult{}, fmt.Errorf("postgres: get execution %s: %w", opportunityID, err)
	}
	return res, nil
}

// ListRecent returns results newest first, filtered by opts.
func (s *ExecutionStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ExecutionResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE ($1::timestamptz IS NULL OR completed_at >= $1)
		  AND ($2::timestamptz IS NULL OR completed_at < $2)
		ORDER BY completed_at DESC
		LIMIT $3 OFFSET $4`,
		opts.Since, opts.Until, limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	return collectExecutions(rows)
}

// ListBefore returns every result completed strictly before the cutoff,
// oldest first.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE completed_at < $1 ORDER BY completed_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before: %w", err)
	}
	return collectExecutions(rows)
}

// DeleteBefore removes results completed strictly before the cutoff. It is
// only called after those rows were archived.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE completed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectExecutions(rows pgx.Rows) ([]domain.ExecutionResult, error) {
	defer rows.Close()
	var list []domain.ExecutionResult
	for rows.Next() {
		res, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		list = append(list, res)
	}
	return list, rows.Err()
}

func scanExecution(row pgx.Row) (domain.ExecutionResult, error) {
	var (
		res              domain.ExecutionResult
		strategy, reason string
		durationNs       int64
		legs, recon      []byte
	)
	if err := row.Scan(&res.OpportunityID, &res.LedgerID, &strategy, &res.Success, &res.TxIDs,
		&res.RealizedProfit, &res.FeeConsumed, &durationNs, &reason, &res.Error,
		&legs, &recon, &res.CompletedAt); err != nil {
		return domain.ExecutionResult{}, err
	}
	res.Strategy = domain.StrategyTag(strategy)
	res.Reason = domain.FailureReason(reason)
	res.Duration = time.Duration(durationNs)
	if len(legs) > 0 {
		if err := json.Unmarshal(legs, &res.Legs); err != nil {
			return domain.ExecutionResult{}, fmt.Errorf("decode legs: %w", err)
		}
		if len(res.Legs) == 0 {
			res.Legs = nil
		}
	}
	if len(recon) > 0 {
		res.Reconciliation = &domain.Reconciliation{}
		if err := json.Unmarshal(recon, res.Reconciliation); err != nil {
			return domain.ExecutionResult{}, fmt.Errorf("decode reconciliation: %w", err)
		}
	}
	if len(res.TxIDs) == 0 {
		res.TxIDs = nil
	}
	return res, nil
}

func nonNilLegs(legs []domain.LegResult) []domain.LegResult {
	if legs == nil {
		return []domain.LegResult{}
	}
	return legs
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// BridgeTransferStore implements domain.BridgeTransferStore using PostgreSQL.
type BridgeTransferStore struct {
	pool *pgxpool.Pool
}

var _ domain.BridgeTransferStore = (*BridgeTransferStore)(nil)

// NewBridgeTransferStore creates a new BridgeTransferStore.
func NewBridgeTransferStore(pool *pgxpool.Pool) *BridgeTransferStore {
	return &BridgeTransferStore{pool: pool}
}

const transferColumns = `id, opportunity_id, source_ledger, dest_ledger, asset, amount, bridge_id, status,
	source_tx_id, initiated_at, estimated_completion, updated_at`

// Create inserts a new transfer.
func (s *BridgeTransferStore) Create(ctx context.Context, t domain.BridgeTransfer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bridge_transfers (`+transferColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.OpportunityID, t.SourceLedger, t.DestLedger, t.Asset, t.Amount, t.BridgeID,
		string(t.Status), t.SourceTxID, t.InitiatedAt, t.EstimatedCompletion, t.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: bridge transfer %s: %w", t.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert bridge transfer: %w", err)
	}
	return nil
}

// UpdateStatus sets the transfer's status. Unknown ids return
// domain.ErrNotFound.
func (s *BridgeTransferStore) UpdateStatus(ctx context.Context, id string, status domain.BridgeStatus, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bridge_transfers SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), at,
	)
	if err != nil {
		return fmt.Errorf("postgres: update bridge transfer %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: bridge transfer %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns one transfer.
func (s *BridgeTransferStore) GetByID(ctx context.Context, id string) (domain.BridgeTransfer, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM bridge_transfers WHERE id = $1`, id)
	t, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BridgeTransfer{}, domain.ErrNotFound
		}
		return domain.BridgeTransfer{}, fmt.Errorf("postgres: get bridge transfer %s: %w", id, err)
	}
	return t, nil
}

// ListByStatus returns transfers in status, oldest first.
func (s *BridgeTransferStore) ListByStatus(ctx context.Context, status domain.BridgeStatus, limit int) ([]domain.BridgeTransfer, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+transferColumns+` FROM bridge_transfers
		WHERE status = $1 ORDER BY initiated_at LIMIT $2`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bridge transfers: %w", err)
	}
	defer rows.Close()

	var list []domain.BridgeTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bridge transfer: %w", err)
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func scanTransfer(row pgx.Row) (domain.BridgeTransfer, error) {
	var t domain.BridgeTransfer
	var status string
	err := row.Scan(&t.ID, &t.OpportunityID, &t.SourceLedger, &t.DestLedger, &t.Asset, &t.Amount,
		&t.BridgeID, &status, &t.SourceTxID, &t.InitiatedAt, &t.EstimatedCompletion, &t.UpdatedAt)
	t.Status = domain.BridgeStatus(status)
	return t, err
}

//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// setupClient starts a PostgreSQL container and applies the embedded
// migrations.
func setupClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("ledgerbot"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	require.NoError(t, client.RunMigrations(ctx))
	// Applying twice is a no-op.
	require.NoError(t, client.RunMigrations(ctx))
	return client
}

func TestStores(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()
	base := time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC)

	t.Run("executions", func(t *testing.T) {
		store := NewExecutionStore(client.Pool())

		ok := domain.ExecutionResult{
			OpportunityID:  "opp-ok",
			LedgerID:       "eth",
			Strategy:       domain.StrategyDirect,
			Success:        true,
			TxIDs:          []string{"0x1", "0x2"},
			RealizedProfit: 9.6,
			FeeConsumed:    0.4,
			Duration:       1500 * time.Millisecond,
			Legs:           []domain.LegResult{{Index: 0, LedgerID: "eth", RouteID: "r1", TxID: "0x1", Success: true}},
			CompletedAt:    base,
		}
		failed := domain.ExecutionResult{
			OpportunityID: "opp-timeout",
			LedgerID:      "eth",
			Strategy:      domain.StrategyCrossLedger,
			Reason:        domain.ReasonBridgeTimeout,
			Error:         domain.ErrBridgeTimeout.Error(),
			Reconciliation: &domain.Reconciliation{
				SourceTxID: "0x3", TransferID: "xfer-1", BridgeID: "wormhole", Status: domain.BridgeTimedOut,
			},
			CompletedAt: base.Add(time.Minute),
		}
		require.NoError(t, store.Create(ctx, ok))
		require.NoError(t, store.Create(ctx, failed))
		require.ErrorIs(t, store.Create(ctx, ok), domain.ErrAlreadyExists)

		got, err := store.GetByOpportunity(ctx, "opp-ok")
		require.NoError(t, err)
		assert.Equal(t, ok.TxIDs, got.TxIDs)
		assert.Equal(t, ok.Duration, got.Duration)
		assert.Equal(t, ok.Legs, got.Legs)
		assert.Nil(t, got.Reconciliation)

		got, err = store.GetByOpportunity(ctx, "opp-timeout")
		require.NoError(t, err)
		require.NotNil(t, got.Reconciliation)
		assert.Equal(t, "xfer-1", got.Reconciliation.TransferID)
		assert.True(t, got.NeedsReconciliation())

		_, err = store.GetByOpportunity(ctx, "missing")
		require.ErrorIs(t, err, domain.ErrNotFound)

		recent, err := store.ListRecent(ctx, domain.ListOpts{Limit: 10})
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "opp-timeout", recent[0].OpportunityID)

		since := base.Add(30 * time.Second)
		recent, err = store.ListRecent(ctx, domain.ListOpts{Since: &since})
		require.NoError(t, err)
		require.Len(t, recent, 1)

		old, err := store.ListBefore(ctx, base.Add(30*time.Second))
		require.NoError(t, err)
		require.Len(t, old, 1)
		assert.Equal(t, "opp-ok", old[0].OpportunityID)

		n, err := store.DeleteBefore(ctx, base.Add(30*time.Second))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("bridge transfers", func(t *testing.T) {
		store := NewBridgeTransferStore(client.Pool())
		tr := domain.BridgeTransfer{
			ID: "xfer-1", OpportunityID: "opp-timeout", SourceLedger: "eth", DestLedger: "sol",
			Asset: "USDC", Amount: 1000, BridgeID: "wormhole", Status: domain.BridgeInitiated,
			SourceTxID: "0x3", InitiatedAt: base, EstimatedCompletion: base.Add(time.Minute), UpdatedAt: base,
		}
		require.NoError(t, store.Create(ctx, tr))
		require.ErrorIs(t, store.Create(ctx, tr), domain.ErrAlreadyExists)

		require.NoError(t, store.UpdateStatus(ctx, "xfer-1", domain.BridgeTimedOut, base.Add(2*time.Minute)))
		require.ErrorIs(t, store.UpdateStatus(ctx, "missing", domain.BridgeFailed, base), domain.ErrNotFound)

		pending, err := store.ListByStatus(ctx, domain.BridgeTimedOut, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, 1000.0, pending[0].Amount)

		got, err := store.GetByID(ctx, "xfer-1")
		require.NoError(t, err)
		assert.Equal(t, domain.BridgeTimedOut, got.Status)
		assert.True(t, got.UpdatedAt.Equal(base.Add(2*time.Minute)))
	})

	t.Run("opportunity transitions", func(t *testing.T) {
		store := NewOpportunityStore(client.Pool())
		opp := domain.Opportunity{ID: "opp-ok", Path: []string{"USDC", "USDC"}, OriginLedger: "eth", Strategy: domain.StrategyDirect, ExpectedProfit: 9.6}

		require.NoError(t, store.RecordTransition(ctx, domain.OpportunityEnvelope{Opportunity: opp, State: domain.OppValidated, EmittedAt: base}))
		require.NoError(t, store.RecordTransition(ctx, domain.OpportunityEnvelope{
			Opportunity: opp, State: domain.OppConfirmed, EmittedAt: base.Add(time.Second),
			Result: &domain.ExecutionResult{OpportunityID: "opp-ok", Success: true, RealizedProfit: 9.6},
		}))

		envs, err := store.ListRecent(ctx, domain.ListOpts{Limit: 5})
		require.NoError(t, err)
		require.Len(t, envs, 2)
		assert.Equal(t, domain.OppConfirmed, envs[0].State)
		require.NotNil(t, envs[0].Result)
		assert.Equal(t, 9.6, envs[0].Result.RealizedProfit)
	})
}

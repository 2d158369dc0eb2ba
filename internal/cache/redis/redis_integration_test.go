//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

func setupClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	c, err := New(ctx, ClientConfig{Addr: endpoint, PoolSize: 4, KeyPrefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedis(t *testing.T) {
	c := setupClient(t)
	ctx := context.Background()

	t.Run("lock", func(t *testing.T) {
		locks := NewLockManager(c)
		unlock, err := locks.Acquire(ctx, "opportunity:1", time.Minute)
		require.NoError(t, err)

		_, err = locks.Acquire(ctx, "opportunity:1", time.Minute)
		require.ErrorIs(t, err, domain.ErrLockHeld)

		unlock()
		unlock()
		unlock2, err := locks.Acquire(ctx, "opportunity:1", time.Minute)
		require.NoError(t, err)
		unlock2()
	})

	t.Run("rate limiter", func(t *testing.T) {
		rl := NewRateLimiter(c)
		for i := 0; i < 3; i++ {
			ok, err := rl.Allow(ctx, "quote:eth", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, ok, "call %d", i)
		}
		ok, err := rl.Allow(ctx, "quote:eth", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		require.NoError(t, rl.Wait(wctx, "wait-key"))
	})

	t.Run("stream", func(t *testing.T) {
		bus := NewSignalBusWithMaxLen(c, 100)
		require.NoError(t, bus.StreamAppend(ctx, domain.StreamOpportunity, []byte(`{"a":1}`)))
		require.NoError(t, bus.StreamAppend(ctx, domain.StreamOpportunity, []byte(`{"a":2}`)))

		msgs, err := bus.StreamRead(ctx, domain.StreamOpportunity, "0", 10)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.JSONEq(t, `{"a":2}`, string(msgs[1].Payload))

		msgs, err = bus.StreamRead(ctx, domain.StreamOpportunity, msgs[1].ID, 10)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("pubsub", func(t *testing.T) {
		bus := NewSignalBus(c)
		sctx, cancel := context.WithCancel(ctx)
		defer cancel()

		sub, err := bus.Subscribe(sctx, "ch:*")
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, domain.ChannelMetrics, []byte("snapshot")))

		select {
		case msg := <-sub:
			assert.Equal(t, "snapshot", string(msg))
		case <-time.After(5 * time.Second):
			t.Fatal("no message received")
		}
	})
}

package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ledgerbot/internal/config"
	"github.com/alanyoungcy/ledgerbot/internal/connector"
	"github.com/alanyoungcy/ledgerbot/internal/connector/memory"
	"github.com/alanyoungcy/ledgerbot/internal/domain"
	"github.com/alanyoungcy/ledgerbot/internal/registry"
)

const paperTOML = `
mode = "trade"

[wallet]
evm_private_key = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
solana_private_key = "11111111111111111111111111111111"

[registry]
quote_rate_limit = 5
quote_rate_window = "2s"
connect_attempts = 4

[[ledger]]
id = "paper-a"
category = "account"
driver = "memory"
native_asset = "ETH"

[[ledger.prices]]
route = "r1"
in = "USDC"
out = "ETH"
price = 0.0005

[ledger.balances]
USDC = 5000.0

[[ledger]]
id = "paper-b"
category = "resource"
driver = "memory"
native_asset = "SOL"

[[bridge]]
id = "wormhole"
kind = "memory"

[[bridge.routes]]
origin = "paper-a"
dest = "paper-b"
asset = "USDC"
latency = "30s"
fee_rate = 0.001

[[bridge]]
id = "relay"
kind = "http"
url = "http://bridge.local"
api_key = "k"
api_secret = "s"
timeout = "5s"

[scanner]
stable_assets = ["USDC"]

[[scanner.pairs]]
in = "USDC"
out = "ETH"
amount = 1000.0

[policy]
max_notional = 2500.0
max_per_pair = 3
`

func loadPaperConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(paperTOML), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopLimiter struct{}

func (nopLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) { return true, nil }
func (nopLimiter) Wait(context.Context, string) error                              { return nil }

func TestModeNeeds(t *testing.T) {
	assert.True(t, needsPostgres("trade"))
	assert.True(t, needsPostgres("full"))
	assert.False(t, needsPostgres("monitor"))
	assert.False(t, needsPostgres("scan"))

	cfg := config.Defaults()
	cfg.Mode = "full"
	assert.True(t, needsS3(&cfg))
	cfg.Mode = "trade"
	assert.False(t, needsS3(&cfg))
	cfg.Archive.Enabled = true
	assert.True(t, needsS3(&cfg))
	cfg.Mode = "scan"
	assert.False(t, needsS3(&cfg))
}

func TestLoadWallets(t *testing.T) {
	cfg := loadPaperConfig(t)
	w, err := loadWallets(cfg)
	require.NoError(t, err)
	require.NotNil(t, w.evm)
	require.NotNil(t, w.solana)
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", w.evm.Address().Hex())
	assert.Len(t, w.solana.PublicKeyBytes(), 32)

	cfg.Wallet.EVMPrivateKey = "not-hex"
	_, err = loadWallets(cfg)
	require.Error(t, err)

	empty, err := loadWallets(&config.Config{})
	require.NoError(t, err)
	assert.Nil(t, empty.evm)
	assert.Nil(t, empty.solana)
}

func TestConnectorOptions(t *testing.T) {
	cfg := loadPaperConfig(t)

	opts := connectorOptions(cfg, nopLimiter{})
	assert.Equal(t, 4, opts.Backoff.Attempts)
	assert.Equal(t, 5, opts.QuoteLimit)
	assert.Equal(t, 2*time.Second, opts.QuoteWindow)
	assert.NotNil(t, opts.Limiter)
	assert.Equal(t, 5, opts.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, opts.Breaker.CoolOff)

	assert.Nil(t, connectorOptions(cfg, nil).Limiter)

	cfg.Registry.QuoteRateLimit = 0
	assert.Nil(t, connectorOptions(cfg, nopLimiter{}).Limiter)
}

func TestBuildConnectorsAndRegistry(t *testing.T) {
	ctx := context.Background()
	cfg := loadPaperConfig(t)

	conns, err := buildConnectors(cfg, wallets{}, nil, quietLogger())
	require.NoError(t, err)
	require.Len(t, conns, 2)
	for _, c := range conns {
		r, ok := c.(*connector.Resilient)
		require.True(t, ok)
		_, isMemory := r.Unwrap().(*memory.Connector)
		assert.True(t, isMemory)
	}

	reg, err := registry.New(conns, registry.Config{}, quietLogger())
	require.NoError(t, err)
	require.NoError(t, reg.Initialize(ctx))
	defer reg.Shutdown(ctx)

	assert.Len(t, reg.ListActive(), 2)
	a, err := reg.Get("paper-a")
	require.NoError(t, err)
	bal, err := a.Balance(ctx, "USDC")
	require.NoError(t, err)
	assert.Equal(t, 5000.0, bal)

	quotes, err := a.Quote(ctx, "USDC", "ETH", 1000)
	require.NoError(t, err)
	require.NotEmpty(t, quotes)
	assert.Equal(t, "r1", quotes[0].RouteID)
}

func TestBuildConnectorsUnknownDriver(t *testing.T) {
	cfg := loadPaperConfig(t)
	cfg.Ledgers[0].Driver = "cosmos"
	_, err := buildConnectors(cfg, wallets{}, nil, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown driver "cosmos"`)
}

func TestBuildBridges(t *testing.T) {
	cfg := loadPaperConfig(t)
	reg, err := buildBridges(cfg)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"wormhole", "relay"}, reg.IDs())

	b, err := reg.Get("wormhole")
	require.NoError(t, err)
	id, err := b.Initiate(context.Background(), domain.TransferRequest{Asset: "USDC", Amount: 10})
	require.NoError(t, err)
	status, err := b.PollStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.BridgeConfirmed, status)

	cfg.Bridges = append(cfg.Bridges, cfg.Bridges[0])
	_, err = buildBridges(cfg)
	require.Error(t, err)
}

func TestScannerAndPolicyConfig(t *testing.T) {
	cfg := loadPaperConfig(t)

	sc := scannerConfig(cfg)
	assert.Equal(t, []string{"USDC"}, sc.StableAssets)
	assert.Equal(t, 0.01, sc.CrossMargin)
	assert.Equal(t, 60*time.Second, sc.CrossTTL)
	require.Len(t, sc.Bridges, 1)
	assert.Equal(t, "wormhole", sc.Bridges[0].BridgeID)
	assert.Equal(t, 30*time.Second, sc.Bridges[0].Latency)

	pairs := scanPairs(cfg)
	require.Len(t, pairs, 1)
	assert.Equal(t, 1000.0, pairs[0].Amount)

	pc := policyConfig(cfg)
	assert.Equal(t, 2500.0, pc.MaxNotional)
	assert.Equal(t, 3, pc.MaxPerPair)
	assert.Equal(t, time.Minute, pc.PairWindow)
}

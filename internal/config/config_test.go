package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

const sampleTOML = `
mode = "scan"
log_level = "debug"

[[ledger]]
id = "eth"
category = "account"
driver = "evm"
endpoints = ["http://localhost:8545"]
native_asset = "ETH"
chain_id = 1
routers = ["0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"]
min_profit = 2.5

[ledger.assets.USDC]
address = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
decimals = 6

[[ledger]]
id = "paper"
category = "resource"
driver = "memory"
native_asset = "SOL"

[[ledger.prices]]
route = "r1"
in = "USDC"
out = "SOL"
price = 0.01

[ledger.balances]
USDC = 1000.0

[[bridge]]
id = "wormhole"
kind = "memory"

[[bridge.routes]]
origin = "eth"
dest = "paper"
asset = "USDC"
latency = "30s"
fee_rate = 0.001

[scanner]
cross_margin = 0.02
interval = "5s"

[[scanner.pairs]]
in = "USDC"
out = "ETH"
amount = 1000.0
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledgerbot.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "scan", cfg.Mode)
	require.Len(t, cfg.Ledgers, 2)
	assert.Equal(t, int64(1), cfg.Ledgers[0].ChainID)
	assert.Equal(t, 0.02, cfg.Scanner.CrossMargin)
	assert.Equal(t, 5*time.Second, cfg.Scanner.Interval.Duration)
	// Untouched sections keep their defaults.
	assert.Equal(t, 0.005, cfg.Scanner.AccountDirectThreshold)
	assert.Equal(t, 3, cfg.Registry.ConnectAttempts)
	assert.Equal(t, 5, cfg.Registry.BreakerThreshold)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLedgerDomain(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	eth := cfg.Ledgers[0].Domain()
	assert.Equal(t, "eth", eth.Name, "name falls back to id")
	assert.Equal(t, domain.LedgerAccountBased, eth.Category)
	assert.Equal(t, 2.5, eth.MinProfit)
	usdc, err := eth.Asset("USDC")
	require.NoError(t, err)
	assert.Equal(t, 6, usdc.Decimals)

	paper := cfg.Ledgers[1].Domain()
	require.Len(t, paper.Prices, 1)
	assert.Equal(t, domain.RoutePrice{RouteID: "r1", AssetIn: "USDC", AssetOut: "SOL", Price: 0.01}, paper.Prices[0])
	assert.Equal(t, 1000.0, paper.Balances["USDC"])
}

func TestBridgeRoutes(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	routes := cfg.BridgeRoutes()
	require.Len(t, routes, 1)
	assert.Equal(t, "wormhole", routes[0].BridgeID)
	assert.Equal(t, 30*time.Second, routes[0].Latency)
	assert.Equal(t, "USDC", routes[0].DestinationAsset())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEDGERBOT_MODE", "full")
	t.Setenv("LEDGERBOT_LEDGER_ETH_ENDPOINTS", "http://a:8545, http://b:8545")
	t.Setenv("LEDGERBOT_WALLET_EVM_PRIVATE_KEY", "deadbeef")
	t.Setenv("LEDGERBOT_ORCHESTRATOR_DEDUP_TTL", "90s")
	t.Setenv("LEDGERBOT_SCANNER_TOP_N", "not-a-number")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, []string{"http://a:8545", "http://b:8545"}, cfg.Ledgers[0].Endpoints)
	assert.Equal(t, "deadbeef", cfg.Wallet.EVMPrivateKey)
	assert.Equal(t, 90*time.Second, cfg.Orchestrator.DedupTTL.Duration)
	assert.Equal(t, 1, cfg.Scanner.TopN, "unparseable values are ignored")
	assert.True(t, cfg.Executes())
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	cfg.Mode = "trade"
	cfg.Ledgers = append(cfg.Ledgers, LedgerConfig{ID: "eth", Category: "utxo", Driver: "evm"})
	cfg.Bridges[0].Routes[0].FeeRate = 1.5
	cfg.Scanner.CrossMargin = 0.001

	err = cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "ledger eth: duplicate id")
	assert.Contains(t, msg, `category must be account or resource, got "utxo"`)
	assert.Contains(t, msg, "endpoints must not be empty")
	assert.Contains(t, msg, "chain_id must be positive")
	assert.Contains(t, msg, "fee_rate must be in [0,1)")
	assert.Contains(t, msg, "cross_margin must be >= 0.01")
	assert.Contains(t, msg, "wallet: evm_private_key")
}

func TestValidateRequiresLedger(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one [[ledger]]")
}

func TestValidateBridgeRouteLedgers(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	cfg.Bridges[0].Routes[0].Dest = "sol"

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `dest "sol" must be configured ledgers`)
}

func TestRedactedConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	cfg.Wallet.EVMPrivateKey = "secret"
	cfg.Bridges[0].APIKey = "key"
	cfg.Postgres.Password = "pw"

	red := RedactedConfig(cfg)
	assert.Equal(t, "***", red.Wallet.EVMPrivateKey)
	assert.Equal(t, "***", red.Bridges[0].APIKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Empty(t, red.Wallet.SolanaPrivateKey, "empty secrets stay empty")

	assert.Equal(t, "secret", cfg.Wallet.EVMPrivateKey)
	assert.Equal(t, "key", cfg.Bridges[0].APIKey)
}

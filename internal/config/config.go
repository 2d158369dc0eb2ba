// Package config defines the top-level configuration for ledgerbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by LEDGERBOT_* environment variables.
type Config struct {
	Ledgers      []LedgerConfig     `toml:"ledger"`
	Bridges      []BridgeConfig     `toml:"bridge"`
	Wallet       WalletConfig       `toml:"wallet"`
	Registry     RegistryConfig     `toml:"registry"`
	Scanner      ScannerConfig      `toml:"scanner"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Policy       PolicyConfig       `toml:"policy"`
	Reconciler   ReconcilerConfig   `toml:"reconciler"`
	Metrics      MetricsConfig      `toml:"metrics"`
	Archive      ArchiveConfig      `toml:"archive"`
	Postgres     PostgresConfig     `toml:"postgres"`
	Redis        RedisConfig        `toml:"redis"`
	S3           S3Config           `toml:"s3"`
	Server       ServerConfig       `toml:"server"`
	Notify       NotifyConfig       `toml:"notify"`
	Mode         string             `toml:"mode"`
	LogLevel     string             `toml:"log_level"`
}

// LedgerConfig is one [[ledger]] table.
type LedgerConfig struct {
	ID              string                 `toml:"id"`
	Name            string                 `toml:"name"`
	Category        string                 `toml:"category"`
	Driver          string                 `toml:"driver"`
	Endpoints       []string               `toml:"endpoints"`
	NativeAsset     string                 `toml:"native_asset"`
	BlockInterval   duration               `toml:"block_interval"`
	FinalityDepth   int                    `toml:"finality_depth"`
	ChainID         int64                  `toml:"chain_id"`
	Routers         []string               `toml:"routers"`
	QuoteURL        string                 `toml:"quote_url"`
	MinProfit       float64                `toml:"min_profit"`
	SlippageBps     float64                `toml:"slippage_bps"`
	DirectThreshold float64                `toml:"direct_threshold"`
	Assets          map[string]AssetConfig `toml:"assets"`
	Prices          []PriceConfig          `toml:"prices"`
	Balances        map[string]float64     `toml:"balances"`
}

// AssetConfig locates an asset on a ledger.
type AssetConfig struct {
	Address  string `toml:"address"`
	Decimals int    `toml:"decimals"`
}

// PriceConfig seeds a route on a memory ledger.
type PriceConfig struct {
	Route  string  `toml:"route"`
	In     string  `toml:"in"`
	Out    string  `toml:"out"`
	Price  float64 `toml:"price"`
	Impact float64 `toml:"impact"`
}

// Domain converts the table into the immutable domain value.
func (l LedgerConfig) Domain() domain.LedgerConfig {
	out := domain.LedgerConfig{
		ID:              l.ID,
		Name:            l.Name,
		Category:        domain.LedgerCategory(l.Category),
		Driver:          l.Driver,
		Endpoints:       append([]string(nil), l.Endpoints...),
		NativeAsset:     l.NativeAsset,
		BlockInterval:   l.BlockInterval.Duration,
		FinalityDepth:   l.FinalityDepth,
		ChainID:         l.ChainID,
		Routers:         append([]string(nil), l.Routers...),
		QuoteURL:        l.QuoteURL,
		MinProfit:       l.MinProfit,
		SlippageBps:     l.SlippageBps,
		DirectThreshold: l.DirectThreshold,
		Assets:          make(map[string]domain.AssetInfo, len(l.Assets)),
		Balances:        make(map[string]float64, len(l.Balances)),
	}
	if out.Name == "" {
		out.Name = l.ID
	}
	for sym, a := range l.Assets {
		out.Assets[sym] = domain.AssetInfo{Address: a.Address, Decimals: a.Decimals}
	}
	for _, p := range l.Prices {
		out.Prices = append(out.Prices, domain.RoutePrice{RouteID: p.Route, AssetIn: p.In, AssetOut: p.Out, Price: p.Price, PriceImpact: p.Impact})
	}
	for k, v := range l.Balances {
		out.Balances[k] = v
	}
	return out
}

// BridgeConfig is one [[bridge]] table: an adapter plus the routes it serves.
type BridgeConfig struct {
	ID        string              `toml:"id"`
	Kind      string              `toml:"kind"` // "http" or "memory"
	URL       string              `toml:"url"`
	APIKey    string              `toml:"api_key"`
	APISecret string              `toml:"api_secret"`
	Timeout   duration            `toml:"timeout"`
	Routes    []BridgeRouteConfig `toml:"routes"`
}

// BridgeRouteConfig is one row of the bridge tuple table.
type BridgeRouteConfig struct {
	Origin    string   `toml:"origin"`
	Dest      string   `toml:"dest"`
	Asset     string   `toml:"asset"`
	DestAsset string   `toml:"dest_asset"`
	Latency   duration `toml:"latency"`
	FeeRate   float64  `toml:"fee_rate"`
}

// BridgeRoutes flattens every bridge's routes into domain values.
func (c *Config) BridgeRoutes() []domain.BridgeRoute {
	var out []domain.BridgeRoute
	for _, b := range c.Bridges {
		for _, r := range b.Routes {
			out = append(out, domain.BridgeRoute{
				Origin:    r.Origin,
				Dest:      r.Dest,
				BridgeID:  b.ID,
				Asset:     r.Asset,
				DestAsset: r.DestAsset,
				Latency:   r.Latency.Duration,
				FeeRate:   r.FeeRate,
			})
		}
	}
	return out
}

// WalletConfig holds signing credentials. The EVM key is hex, the Solana key
// base58. Either may instead come from an encrypted key file.
type WalletConfig struct {
	EVMPrivateKey       string `toml:"evm_private_key"`
	SolanaPrivateKey    string `toml:"solana_private_key"`
	EVMEncryptedKeyPath string `toml:"evm_encrypted_key_path"`
	SolEncryptedKeyPath string `toml:"solana_encrypted_key_path"`
	KeyPassword         string `toml:"key_password"`
}

// RegistryConfig holds connector lifecycle parameters.
type RegistryConfig struct {
	HealthInterval    duration `toml:"health_interval"`
	ShutdownTimeout   duration `toml:"shutdown_timeout"`
	ConnectAttempts   int      `toml:"connect_attempts"`
	ConnectBaseDelay  duration `toml:"connect_base_delay"`
	ConnectMultiplier float64  `toml:"connect_multiplier"`
	ConnectMaxDelay   duration `toml:"connect_max_delay"`
	ConnectTimeout    duration `toml:"connect_timeout"`
	HealthTimeout     duration `toml:"health_timeout"`
	CallTimeout       duration `toml:"call_timeout"`
	ExecuteTimeout    duration `toml:"execute_timeout"`
	QuoteRateLimit    int      `toml:"quote_rate_limit"` // per ledger per window, 0 disables
	QuoteRateWindow   duration `toml:"quote_rate_window"`
	BreakerThreshold  int      `toml:"breaker_threshold"` // consecutive failures, 0 disables
	BreakerCoolOff    duration `toml:"breaker_cool_off"`
}

// PairConfig is one asset pair scanned by the scan loop.
type PairConfig struct {
	In     string  `toml:"in"`
	Out    string  `toml:"out"`
	Amount float64 `toml:"amount"`
}

// ScannerConfig holds discovery thresholds and the scan loop.
type ScannerConfig struct {
	AccountDirectThreshold  float64 `toml:"account_direct_threshold"`
	ResourceDirectThreshold float64 `toml:"resource_direct_threshold"`
	MultiHopThreshold       float64 `toml:"multi_hop_threshold"`
	CrossMargin             float64 `toml:"cross_margin"`

	DirectEfficiency   float64 `toml:"direct_efficiency"`
	MultiHopEfficiency float64 `toml:"multi_hop_efficiency"`
	CrossEfficiency    float64 `toml:"cross_efficiency"`

	DirectTTL   duration `toml:"direct_ttl"`
	MultiHopTTL duration `toml:"multi_hop_ttl"`
	CrossTTL    duration `toml:"cross_ttl"`

	AccountConfidence        float64 `toml:"account_confidence"`
	ResourceConfidence       float64 `toml:"resource_confidence"`
	DirectConfidenceFactor   float64 `toml:"direct_confidence_factor"`
	MultiHopConfidenceFactor float64 `toml:"multi_hop_confidence_factor"`
	CrossConfidenceFactor    float64 `toml:"cross_confidence_factor"`

	StableAssets []string     `toml:"stable_assets"`
	QuoteTimeout duration     `toml:"quote_timeout"`
	Interval     duration     `toml:"interval"`
	Pairs        []PairConfig `toml:"pairs"`
	AutoExecute  bool         `toml:"auto_execute"`
	TopN         int          `toml:"top_n"`
}

// OrchestratorConfig holds execution parameters.
type OrchestratorConfig struct {
	MinProfit          float64  `toml:"min_profit"`
	ExecuteTimeout     duration `toml:"execute_timeout"`
	DedupTTL           duration `toml:"dedup_ttl"`
	LockTTL            duration `toml:"lock_ttl"`
	BridgePollInterval duration `toml:"bridge_poll_interval"`
	BridgeGrace        float64  `toml:"bridge_grace"`
	QueueSize          int      `toml:"queue_size"`
}

// PolicyConfig drives the local policy verdict.
type PolicyConfig struct {
	AllowedAssets  []string `toml:"allowed_assets"` // empty allows all
	DeniedAssets   []string `toml:"denied_assets"`
	MaxNotional    float64  `toml:"max_notional"` // 0 disables
	MaxPerPair     int      `toml:"max_per_pair"` // executions per window, 0 disables
	PairRateWindow duration `toml:"pair_rate_window"`
}

// ReconcilerConfig holds bridge reconciliation parameters.
type ReconcilerConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	BatchSize int      `toml:"batch_size"`
}

// MetricsConfig holds export parameters.
type MetricsConfig struct {
	ExportInterval duration `toml:"export_interval"`
}

// ArchiveConfig holds execution archive parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
	KeyPrefix    string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"` // requests per client per window, 0 disables
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"` // envelope states to forward
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Registry: RegistryConfig{
			HealthInterval:    duration{30 * time.Second},
			ShutdownTimeout:   duration{10 * time.Second},
			ConnectAttempts:   3,
			ConnectBaseDelay:  duration{time.Second},
			ConnectMultiplier: 2,
			ConnectMaxDelay:   duration{30 * time.Second},
			ConnectTimeout:    duration{15 * time.Second},
			HealthTimeout:     duration{5 * time.Second},
			CallTimeout:       duration{10 * time.Second},
			ExecuteTimeout:    duration{2 * time.Minute},
			QuoteRateWindow:   duration{time.Second},
			BreakerThreshold:  5,
			BreakerCoolOff:    duration{30 * time.Second},
		},
		Scanner: ScannerConfig{
			AccountDirectThreshold:   0.005,
			ResourceDirectThreshold:  0.003,
			MultiHopThreshold:        0.003,
			CrossMargin:              0.01,
			DirectEfficiency:         0.8,
			MultiHopEfficiency:       0.7,
			CrossEfficiency:          0.6,
			DirectTTL:                duration{15 * time.Second},
			MultiHopTTL:              duration{15 * time.Second},
			CrossTTL:                 duration{60 * time.Second},
			AccountConfidence:        0.9,
			ResourceConfidence:       0.85,
			DirectConfidenceFactor:   1.0,
			MultiHopConfidenceFactor: 0.9,
			CrossConfidenceFactor:    0.75,
			StableAssets:             []string{"USDC", "USDT"},
			QuoteTimeout:             duration{5 * time.Second},
			Interval:                 duration{10 * time.Second},
			TopN:                     1,
		},
		Orchestrator: OrchestratorConfig{
			ExecuteTimeout:     duration{2 * time.Minute},
			DedupTTL:           duration{10 * time.Minute},
			LockTTL:            duration{10 * time.Minute},
			BridgePollInterval: duration{5 * time.Second},
			BridgeGrace:        2,
			QueueSize:          64,
		},
		Policy: PolicyConfig{
			PairRateWindow: duration{time.Minute},
		},
		Reconciler: ReconcilerConfig{
			Enabled:   true,
			Interval:  duration{time.Minute},
			BatchSize: 100,
		},
		Metrics: MetricsConfig{
			ExportInterval: duration{time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "ledgerbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
			KeyPrefix:    "ledgerbot:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "ledgerbot-data",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{string(domain.OppConfirmed), string(domain.OppFailed)},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"scan":    true,
	"trade":   true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validDrivers = map[string]bool{
	"evm":    true,
	"solana": true,
	"memory": true,
}

// Executes reports whether the mode submits opportunities for execution.
func (c *Config) Executes() bool {
	m := strings.ToLower(c.Mode)
	return m == "trade" || m == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, scan, trade, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledgers
	if len(c.Ledgers) == 0 {
		errs = append(errs, "ledger: at least one [[ledger]] must be configured")
	}
	ledgers := make(map[string]bool, len(c.Ledgers))
	needsEVMKey, needsSolKey := false, false
	for i, l := range c.Ledgers {
		where := fmt.Sprintf("ledger[%d]", i)
		if l.ID == "" {
			errs = append(errs, where+": id must not be empty")
		} else {
			where = "ledger " + l.ID
			if ledgers[l.ID] {
				errs = append(errs, where+": duplicate id")
			}
			ledgers[l.ID] = true
		}
		if !domain.LedgerCategory(l.Category).Valid() {
			errs = append(errs, fmt.Sprintf("%s: category must be account or resource, got %q", where, l.Category))
		}
		if !validDrivers[l.Driver] {
			errs = append(errs, fmt.Sprintf("%s: driver must be evm, solana or memory, got %q", where, l.Driver))
		}
		if l.Driver != "memory" && len(l.Endpoints) == 0 {
			errs = append(errs, where+": endpoints must not be empty")
		}
		if l.Driver == "evm" {
			needsEVMKey = true
			if l.ChainID <= 0 {
				errs = append(errs, where+": chain_id must be positive for evm ledgers")
			}
		}
		if l.Driver == "solana" {
			needsSolKey = true
		}
		if l.MinProfit < 0 || l.DirectThreshold < 0 || l.SlippageBps < 0 {
			errs = append(errs, where+": min_profit, direct_threshold and slippage_bps must be >= 0")
		}
	}

	// Bridges
	bridgeIDs := make(map[string]bool, len(c.Bridges))
	for i, b := range c.Bridges {
		where := fmt.Sprintf("bridge[%d]", i)
		if b.ID == "" {
			errs = append(errs, where+": id must not be empty")
		} else {
			where = "bridge " + b.ID
			if bridgeIDs[b.ID] {
				errs = append(errs, where+": duplicate id")
			}
			bridgeIDs[b.ID] = true
		}
		switch b.Kind {
		case "memory":
		case "http":
			if b.URL == "" {
				errs = append(errs, where+": url is required for http bridges")
			}
		default:
			errs = append(errs, fmt.Sprintf("%s: kind must be http or memory, got %q", where, b.Kind))
		}
		for j, r := range b.Routes {
			rw := fmt.Sprintf("%s route[%d]", where, j)
			if !ledgers[r.Origin] || !ledgers[r.Dest] {
				errs = append(errs, fmt.Sprintf("%s: origin %q and dest %q must be configured ledgers", rw, r.Origin, r.Dest))
			}
			if r.Origin == r.Dest {
				errs = append(errs, rw+": origin and dest must differ")
			}
			if r.Asset == "" {
				errs = append(errs, rw+": asset must not be empty")
			}
			if r.Latency.Duration <= 0 {
				errs = append(errs, rw+": latency must be > 0")
			}
			if r.FeeRate < 0 || r.FeeRate >= 1 {
				errs = append(errs, rw+": fee_rate must be in [0,1)")
			}
		}
	}

	// Wallet
	if c.Executes() {
		if needsEVMKey && c.Wallet.EVMPrivateKey == "" && c.Wallet.EVMEncryptedKeyPath == "" {
			errs = append(errs, "wallet: evm_private_key or evm_encrypted_key_path must be set for mode "+c.Mode)
		}
		if needsSolKey && c.Wallet.SolanaPrivateKey == "" && c.Wallet.SolEncryptedKeyPath == "" {
			errs = append(errs, "wallet: solana_private_key or solana_encrypted_key_path must be set for mode "+c.Mode)
		}
	}
	if (c.Wallet.EVMEncryptedKeyPath != "" || c.Wallet.SolEncryptedKeyPath != "") && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when an encrypted key path is set")
	}

	// Registry
	if c.Registry.ConnectAttempts < 1 {
		errs = append(errs, "registry: connect_attempts must be >= 1")
	}
	if c.Registry.ConnectMultiplier < 1 {
		errs = append(errs, "registry: connect_multiplier must be >= 1")
	}
	if c.Registry.HealthInterval.Duration <= 0 {
		errs = append(errs, "registry: health_interval must be > 0")
	}
	if c.Registry.BreakerThreshold < 0 {
		errs = append(errs, "registry: breaker_threshold must be >= 0")
	}
	if c.Registry.BreakerThreshold > 0 && c.Registry.BreakerCoolOff.Duration <= 0 {
		errs = append(errs, "registry: breaker_cool_off must be > 0 when the breaker is enabled")
	}

	// Scanner
	s := c.Scanner
	if s.AccountDirectThreshold < 0 || s.ResourceDirectThreshold < 0 || s.MultiHopThreshold < 0 {
		errs = append(errs, "scanner: thresholds must be >= 0")
	}
	if s.CrossMargin < 0.01 {
		errs = append(errs, fmt.Sprintf("scanner: cross_margin must be >= 0.01, got %g", s.CrossMargin))
	}
	for name, v := range map[string]float64{
		"direct_efficiency":    s.DirectEfficiency,
		"multi_hop_efficiency": s.MultiHopEfficiency,
		"cross_efficiency":     s.CrossEfficiency,
		"account_confidence":   s.AccountConfidence,
		"resource_confidence":  s.ResourceConfidence,
	} {
		if v <= 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("scanner: %s must be in (0,1], got %g", name, v))
		}
	}
	if s.DirectTTL.Duration <= 0 || s.MultiHopTTL.Duration <= 0 || s.CrossTTL.Duration <= 0 {
		errs = append(errs, "scanner: ttls must be > 0")
	}
	for i, p := range s.Pairs {
		if p.In == "" || p.Out == "" || p.Amount <= 0 {
			errs = append(errs, fmt.Sprintf("scanner: pairs[%d] needs in, out and a positive amount", i))
		}
	}

	// Orchestrator
	if c.Orchestrator.MinProfit < 0 {
		errs = append(errs, "orchestrator: min_profit must be >= 0")
	}
	if c.Orchestrator.BridgePollInterval.Duration <= 0 {
		errs = append(errs, "orchestrator: bridge_poll_interval must be > 0")
	}
	if c.Orchestrator.QueueSize < 1 {
		errs = append(errs, "orchestrator: queue_size must be >= 1")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

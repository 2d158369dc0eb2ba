package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LEDGERBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LEDGERBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.EVMPrivateKey, "LEDGERBOT_WALLET_EVM_PRIVATE_KEY")
	setStr(&cfg.Wallet.SolanaPrivateKey, "LEDGERBOT_WALLET_SOLANA_PRIVATE_KEY")
	setStr(&cfg.Wallet.EVMEncryptedKeyPath, "LEDGERBOT_WALLET_EVM_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.SolEncryptedKeyPath, "LEDGERBOT_WALLET_SOLANA_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "LEDGERBOT_WALLET_KEY_PASSWORD")

	// ── Ledgers ── keyed by upper-cased id, e.g. LEDGERBOT_LEDGER_ETH_ENDPOINTS.
	for i := range cfg.Ledgers {
		l := &cfg.Ledgers[i]
		prefix := "LEDGERBOT_LEDGER_" + envKey(l.ID) + "_"
		setStringSlice(&l.Endpoints, prefix+"ENDPOINTS")
		setStr(&l.QuoteURL, prefix+"QUOTE_URL")
		setFloat64(&l.MinProfit, prefix+"MIN_PROFIT")
		setFloat64(&l.SlippageBps, prefix+"SLIPPAGE_BPS")
	}

	// ── Bridges ──
	for i := range cfg.Bridges {
		b := &cfg.Bridges[i]
		prefix := "LEDGERBOT_BRIDGE_" + envKey(b.ID) + "_"
		setStr(&b.URL, prefix+"URL")
		setStr(&b.APIKey, prefix+"API_KEY")
		setStr(&b.APISecret, prefix+"API_SECRET")
	}

	// ── Registry ──
	setDuration(&cfg.Registry.HealthInterval, "LEDGERBOT_REGISTRY_HEALTH_INTERVAL")
	setDuration(&cfg.Registry.ShutdownTimeout, "LEDGERBOT_REGISTRY_SHUTDOWN_TIMEOUT")
	setInt(&cfg.Registry.ConnectAttempts, "LEDGERBOT_REGISTRY_CONNECT_ATTEMPTS")
	setDuration(&cfg.Registry.CallTimeout, "LEDGERBOT_REGISTRY_CALL_TIMEOUT")
	setDuration(&cfg.Registry.ExecuteTimeout, "LEDGERBOT_REGISTRY_EXECUTE_TIMEOUT")
	setInt(&cfg.Registry.QuoteRateLimit, "LEDGERBOT_REGISTRY_QUOTE_RATE_LIMIT")
	setInt(&cfg.Registry.BreakerThreshold, "LEDGERBOT_REGISTRY_BREAKER_THRESHOLD")
	setDuration(&cfg.Registry.BreakerCoolOff, "LEDGERBOT_REGISTRY_BREAKER_COOL_OFF")

	// ── Scanner ──
	setFloat64(&cfg.Scanner.AccountDirectThreshold, "LEDGERBOT_SCANNER_ACCOUNT_DIRECT_THRESHOLD")
	setFloat64(&cfg.Scanner.ResourceDirectThreshold, "LEDGERBOT_SCANNER_RESOURCE_DIRECT_THRESHOLD")
	setFloat64(&cfg.Scanner.MultiHopThreshold, "LEDGERBOT_SCANNER_MULTI_HOP_THRESHOLD")
	setFloat64(&cfg.Scanner.CrossMargin, "LEDGERBOT_SCANNER_CROSS_MARGIN")
	setStringSlice(&cfg.Scanner.StableAssets, "LEDGERBOT_SCANNER_STABLE_ASSETS")
	setDuration(&cfg.Scanner.QuoteTimeout, "LEDGERBOT_SCANNER_QUOTE_TIMEOUT")
	setDuration(&cfg.Scanner.Interval, "LEDGERBOT_SCANNER_INTERVAL")
	setBool(&cfg.Scanner.AutoExecute, "LEDGERBOT_SCANNER_AUTO_EXECUTE")
	setInt(&cfg.Scanner.TopN, "LEDGERBOT_SCANNER_TOP_N")

	// ── Orchestrator ──
	setFloat64(&cfg.Orchestrator.MinProfit, "LEDGERBOT_ORCHESTRATOR_MIN_PROFIT")
	setDuration(&cfg.Orchestrator.ExecuteTimeout, "LEDGERBOT_ORCHESTRATOR_EXECUTE_TIMEOUT")
	setDuration(&cfg.Orchestrator.DedupTTL, "LEDGERBOT_ORCHESTRATOR_DEDUP_TTL")
	setDuration(&cfg.Orchestrator.LockTTL, "LEDGERBOT_ORCHESTRATOR_LOCK_TTL")
	setDuration(&cfg.Orchestrator.BridgePollInterval, "LEDGERBOT_ORCHESTRATOR_BRIDGE_POLL_INTERVAL")
	setFloat64(&cfg.Orchestrator.BridgeGrace, "LEDGERBOT_ORCHESTRATOR_BRIDGE_GRACE")
	setInt(&cfg.Orchestrator.QueueSize, "LEDGERBOT_ORCHESTRATOR_QUEUE_SIZE")

	// ── Policy ──
	setStringSlice(&cfg.Policy.AllowedAssets, "LEDGERBOT_POLICY_ALLOWED_ASSETS")
	setStringSlice(&cfg.Policy.DeniedAssets, "LEDGERBOT_POLICY_DENIED_ASSETS")
	setFloat64(&cfg.Policy.MaxNotional, "LEDGERBOT_POLICY_MAX_NOTIONAL")
	setInt(&cfg.Policy.MaxPerPair, "LEDGERBOT_POLICY_MAX_PER_PAIR")
	setDuration(&cfg.Policy.PairRateWindow, "LEDGERBOT_POLICY_PAIR_RATE_WINDOW")

	// ── Reconciler / Metrics / Archive ──
	setBool(&cfg.Reconciler.Enabled, "LEDGERBOT_RECONCILER_ENABLED")
	setDuration(&cfg.Reconciler.Interval, "LEDGERBOT_RECONCILER_INTERVAL")
	setDuration(&cfg.Metrics.ExportInterval, "LEDGERBOT_METRICS_EXPORT_INTERVAL")
	setBool(&cfg.Archive.Enabled, "LEDGERBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "LEDGERBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "LEDGERBOT_ARCHIVE_INTERVAL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LEDGERBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "LEDGERBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LEDGERBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LEDGERBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LEDGERBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LEDGERBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LEDGERBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LEDGERBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LEDGERBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LEDGERBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LEDGERBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LEDGERBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LEDGERBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LEDGERBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LEDGERBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LEDGERBOT_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "LEDGERBOT_REDIS_STREAM_MAX_LEN")
	setStr(&cfg.Redis.KeyPrefix, "LEDGERBOT_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "LEDGERBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LEDGERBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "LEDGERBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LEDGERBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LEDGERBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LEDGERBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LEDGERBOT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "LEDGERBOT_S3_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "LEDGERBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LEDGERBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "LEDGERBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "LEDGERBOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "LEDGERBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LEDGERBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LEDGERBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LEDGERBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LEDGERBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "LEDGERBOT_MODE")
	setStr(&cfg.LogLevel, "LEDGERBOT_LOG_LEVEL")
}

// envKey upper-cases id and maps anything outside [A-Z0-9] to '_'.
func envKey(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, id)
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	// Wallet
	redact(&out.Wallet.EVMPrivateKey)
	redact(&out.Wallet.SolanaPrivateKey)
	redact(&out.Wallet.KeyPassword)

	// Bridges carry API credentials; the slice is copied so the original
	// keeps its secrets.
	if cfg.Bridges != nil {
		out.Bridges = make([]BridgeConfig, len(cfg.Bridges))
		copy(out.Bridges, cfg.Bridges)
		for i := range out.Bridges {
			redact(&out.Bridges[i].APIKey)
			redact(&out.Bridges[i].APISecret)
		}
	}

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	redact(&out.Server.APIKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Ledgers != nil {
		out.Ledgers = make([]LedgerConfig, len(cfg.Ledgers))
		copy(out.Ledgers, cfg.Ledgers)
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

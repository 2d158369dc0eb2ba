package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/ledgerbot/internal/blob/s3"
	"github.com/alanyoungcy/ledgerbot/internal/cache/redis"
	"github.com/alanyoungcy/ledgerbot/internal/config"
	"github.com/alanyoungcy/ledgerbot/internal/domain"
	"github.com/alanyoungcy/ledgerbot/internal/notify"
	"github.com/alanyoungcy/ledgerbot/internal/server/handler"
	"github.com/alanyoungcy/ledgerbot/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes run on. It is built by
// Wire and torn down by the returned cleanup function. Postgres- and
// S3-backed fields are nil in modes that do not need them.
type Dependencies struct {
	// Stores
	Executions    *postgres.ExecutionStore
	Transfers     domain.BridgeTransferStore
	Opportunities domain.OpportunityStore

	// Redis
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Notifier *notify.Notifier

	// Health pings keyed by dependency name.
	Pingers map[string]handler.Pinger
}

// needsPostgres reports whether mode persists executions and transfers.
func needsPostgres(mode string) bool {
	switch mode {
	case "trade", "full":
		return true
	default:
		return false
	}
}

// needsS3 reports whether mode exports snapshots or archives history.
func needsS3(cfg *config.Config) bool {
	return cfg.Mode == "full" || (cfg.Archive.Enabled && needsPostgres(cfg.Mode))
}

// Wire constructs the infrastructure for cfg.Mode and returns it with a
// cleanup function that releases it in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Pingers: map[string]handler.Pinger{}}

	// --- PostgreSQL ---
	if needsPostgres(cfg.Mode) {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pg.Pool()
		deps.Executions = postgres.NewExecutionStore(pool)
		deps.Transfers = postgres.NewBridgeTransferStore(pool)
		deps.Opportunities = postgres.NewOpportunityStore(pool)
		deps.Pingers["postgres"] = pg.Ping
	}

	// --- Redis ---
	rc, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = rc.Close() })

	deps.RateLimiter = redis.NewRateLimiter(rc)
	deps.LockManager = redis.NewLockManager(rc)
	deps.SignalBus = redis.NewSignalBusWithMaxLen(rc, cfg.Redis.StreamMaxLen)
	deps.Pingers["redis"] = rc.Ping

	// --- S3 ---
	if needsS3(cfg) {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(sc)
		deps.BlobReader = s3blob.NewReader(sc)
		deps.Pingers["s3"] = sc.Health
		if deps.Executions != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.Executions, true, logger)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

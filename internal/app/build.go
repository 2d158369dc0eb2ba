package app

import (
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/ledgerbot/internal/bridge"
	"github.com/alanyoungcy/ledgerbot/internal/config"
	"github.com/alanyoungcy/ledgerbot/internal/connector"
	"github.com/alanyoungcy/ledgerbot/internal/connector/evm"
	"github.com/alanyoungcy/ledgerbot/internal/connector/memory"
	"github.com/alanyoungcy/ledgerbot/internal/connector/solana"
	"github.com/alanyoungcy/ledgerbot/internal/crypto"
	"github.com/alanyoungcy/ledgerbot/internal/domain"
	"github.com/alanyoungcy/ledgerbot/internal/scanner"
	"github.com/alanyoungcy/ledgerbot/internal/service"
)

// wallets holds the signing material for executing modes.
type wallets struct {
	evm    *crypto.Signer
	solana *crypto.Keypair
}

// loadWallets resolves the configured keys. Missing keys are not an error:
// the matching adapters stay quote-only.
func loadWallets(cfg *config.Config) (wallets, error) {
	var w wallets
	evmKey := crypto.KeyConfig{
		RawKey:           cfg.Wallet.EVMPrivateKey,
		EncryptedKeyPath: cfg.Wallet.EVMEncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	}
	if evmKey.Configured() {
		secret, err := crypto.LoadKey(evmKey)
		if err != nil {
			return w, fmt.Errorf("evm key: %w", err)
		}
		if w.evm, err = crypto.NewSigner(secret); err != nil {
			return w, fmt.Errorf("evm key: %w", err)
		}
	}
	solKey := crypto.KeyConfig{
		RawKey:           cfg.Wallet.SolanaPrivateKey,
		EncryptedKeyPath: cfg.Wallet.SolEncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	}
	if solKey.Configured() {
		secret, err := crypto.LoadKey(solKey)
		if err != nil {
			return w, fmt.Errorf("solana key: %w", err)
		}
		if w.solana, err = crypto.NewKeypair(secret); err != nil {
			return w, fmt.Errorf("solana key: %w", err)
		}
	}
	return w, nil
}

// connectorOptions maps the registry section onto the resilient wrapper.
func connectorOptions(cfg *config.Config, limiter domain.RateLimiter) connector.Options {
	r := cfg.Registry
	opts := connector.Options{
		Backoff: connector.Backoff{
			Attempts:   r.ConnectAttempts,
			BaseDelay:  r.ConnectBaseDelay.Duration,
			Multiplier: r.ConnectMultiplier,
			MaxDelay:   r.ConnectMaxDelay.Duration,
		},
		ConnectTimeout: r.ConnectTimeout.Duration,
		HealthTimeout:  r.HealthTimeout.Duration,
		CallTimeout:    r.CallTimeout.Duration,
		ExecuteTimeout: r.ExecuteTimeout.Duration,
		Breaker: connector.BreakerConfig{
			FailureThreshold: r.BreakerThreshold,
			CoolOff:          r.BreakerCoolOff.Duration,
		},
	}
	if limiter != nil && r.QuoteRateLimit > 0 {
		opts.Limiter = limiter
		opts.QuoteLimit = r.QuoteRateLimit
		opts.QuoteWindow = r.QuoteRateWindow.Duration
	}
	return opts
}

// buildConnectors creates one wrapped adapter per configured ledger. Signers
// are attached only when w carries them.
func buildConnectors(cfg *config.Config, w wallets, limiter domain.RateLimiter, logger *slog.Logger) ([]domain.Connector, error) {
	opts := connectorOptions(cfg, limiter)
	conns := make([]domain.Connector, 0, len(cfg.Ledgers))
	for _, l := range cfg.Ledgers {
		lc := l.Domain()

		var inner domain.Connector
		switch l.Driver {
		case "evm":
			evmOpts := []evm.Option{evm.WithLogger(logger)}
			if w.evm != nil {
				evmOpts = append(evmOpts, evm.WithSigner(w.evm))
			}
			inner = evm.New(lc, evmOpts...)
		case "solana":
			solOpts := []solana.Option{
				solana.WithLogger(logger),
				solana.WithRPCOptions(solana.WithTimeout(opts.CallTimeout)),
			}
			if w.solana != nil {
				solOpts = append(solOpts, solana.WithWallet(w.solana))
			}
			inner = solana.New(lc, solOpts...)
		case "memory":
			inner = memory.New(lc)
		default:
			return nil, fmt.Errorf("ledger %s: unknown driver %q", l.ID, l.Driver)
		}
		conns = append(conns, connector.Wrap(inner, opts, logger))
	}
	return conns, nil
}

// buildBridges creates the bridge adapters named in the config.
func buildBridges(cfg *config.Config) (*bridge.Registry, error) {
	reg, err := bridge.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, b := range cfg.Bridges {
		var adapter domain.Bridge
		switch b.Kind {
		case "http":
			var auth *crypto.HMACAuth
			if b.APIKey != "" {
				auth = &crypto.HMACAuth{Key: b.APIKey, Secret: b.APISecret}
			}
			adapter = bridge.NewHTTPBridge(b.ID, b.URL, b.Timeout.Duration, auth)
		case "memory":
			adapter = bridge.NewMemory(b.ID)
		default:
			return nil, fmt.Errorf("bridge %s: unknown kind %q", b.ID, b.Kind)
		}
		if err := reg.Register(adapter); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func scannerConfig(cfg *config.Config) scanner.Config {
	s := cfg.Scanner
	return scanner.Config{
		AccountDirectThreshold:   s.AccountDirectThreshold,
		ResourceDirectThreshold:  s.ResourceDirectThreshold,
		MultiHopThreshold:        s.MultiHopThreshold,
		CrossMargin:              s.CrossMargin,
		DirectEfficiency:         s.DirectEfficiency,
		MultiHopEfficiency:       s.MultiHopEfficiency,
		CrossEfficiency:          s.CrossEfficiency,
		DirectTTL:                s.DirectTTL.Duration,
		MultiHopTTL:              s.MultiHopTTL.Duration,
		CrossTTL:                 s.CrossTTL.Duration,
		AccountConfidence:        s.AccountConfidence,
		ResourceConfidence:       s.ResourceConfidence,
		DirectConfidenceFactor:   s.DirectConfidenceFactor,
		MultiHopConfidenceFactor: s.MultiHopConfidenceFactor,
		CrossConfidenceFactor:    s.CrossConfidenceFactor,
		StableAssets:             s.StableAssets,
		QuoteTimeout:             s.QuoteTimeout.Duration,
		Bridges:                  cfg.BridgeRoutes(),
	}
}

func scanPairs(cfg *config.Config) []scanner.Request {
	out := make([]scanner.Request, 0, len(cfg.Scanner.Pairs))
	for _, p := range cfg.Scanner.Pairs {
		out = append(out, scanner.Request{AssetIn: p.In, AssetOut: p.Out, Amount: p.Amount})
	}
	return out
}

func policyConfig(cfg *config.Config) service.PolicyConfig {
	p := cfg.Policy
	return service.PolicyConfig{
		AllowedAssets: p.AllowedAssets,
		DeniedAssets:  p.DeniedAssets,
		MaxNotional:   p.MaxNotional,
		MaxPerPair:    p.MaxPerPair,
		PairWindow:    p.PairRateWindow.Duration,
	}
}

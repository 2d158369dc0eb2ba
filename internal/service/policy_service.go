package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// PolicyConfig holds the tunable parameters for the local policy verdict.
type PolicyConfig struct {
	AllowedAssets []string // empty allows every asset
	DeniedAssets  []string
	MaxNotional   float64 // 0 disables
	MaxPerPair    int     // admissions per PairWindow, 0 disables
	PairWindow    time.Duration
}

// PolicyService answers the orchestrator's policy question for a pair and a
// notional. It never executes anything itself.
type PolicyService struct {
	limiter domain.RateLimiter
	allowed map[string]bool
	denied  map[string]bool
	cfg     PolicyConfig
	logger  *slog.Logger
}

var _ domain.PolicyChecker = (*PolicyService)(nil)

// NewPolicyService creates a PolicyService. limiter may be nil when
// MaxPerPair is zero.
func NewPolicyService(limiter domain.RateLimiter, cfg PolicyConfig, logger *slog.Logger) *PolicyService {
	if cfg.PairWindow <= 0 {
		cfg.PairWindow = time.Minute
	}
	return &PolicyService{
		limiter: limiter,
		allowed: assetSet(cfg.AllowedAssets),
		denied:  assetSet(cfg.DeniedAssets),
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "policy")),
	}
}

func assetSet(assets []string) map[string]bool {
	out := make(map[string]bool, len(assets))
	for _, a := range assets {
		out[strings.ToUpper(strings.TrimSpace(a))] = true
	}
	return out
}

// Check evaluates pair and notional. A failing verdict carries the first
// failed rule as its reason. An error means the verdict could not be formed.
//
// Rules, in order:
//  1. Neither asset is denied
//  2. Both assets are allowed (when an allow-list is configured)
//  3. Notional within MaxNotional
//  4. Pair admissions within MaxPerPair per PairWindow
func (s *PolicyService) Check(ctx context.Context, pair domain.AssetPair, notional float64) (domain.PolicyVerdict, error) {
	for _, a := range []string{pair.In, pair.Out} {
		sym := strings.ToUpper(a)
		if s.denied[sym] {
			return s.reject(ctx, pair, fmt.Sprintf("asset %s is denied", a)), nil
		}
		if len(s.allowed) > 0 && !s.allowed[sym] {
			return s.reject(ctx, pair, fmt.Sprintf("asset %s is not allowed", a)), nil
		}
	}

	if s.cfg.MaxNotional > 0 && notional > s.cfg.MaxNotional {
		return s.reject(ctx, pair, fmt.Sprintf("notional %.2f exceeds max %.2f", notional, s.cfg.MaxNotional)), nil
	}

	if s.cfg.MaxPerPair > 0 && s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, "policy:pair:"+pair.String(), s.cfg.MaxPerPair, s.cfg.PairWindow)
		if err != nil {
			return domain.PolicyVerdict{}, fmt.Errorf("policy_service: rate limit %s: %w", pair, err)
		}
		if !ok {
			return s.reject(ctx, pair, fmt.Sprintf("pair %s exceeded %d executions per %s", pair, s.cfg.MaxPerPair, s.cfg.PairWindow)), nil
		}
	}

	return domain.PolicyVerdict{Pass: true}, nil
}

func (s *PolicyService) reject(ctx context.Context, pair domain.AssetPair, reason string) domain.PolicyVerdict {
	s.logger.WarnContext(ctx, "policy rejected pair",
		slog.String("pair", pair.String()),
		slog.String("reason", reason),
	)
	return domain.PolicyVerdict{Pass: false, Reason: reason}
}

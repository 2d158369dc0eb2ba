package domain

import "context"

// PolicyVerdict is the external pass/fail answer for a pair and notional.
type PolicyVerdict struct {
	Pass   bool
	Reason string
}

// PolicyChecker supplies policy verdicts. The orchestrator consumes the
// verdict but never computes it.
type PolicyChecker interface {
	Check(ctx context.Context, pair AssetPair, notional float64) (PolicyVerdict, error)
}

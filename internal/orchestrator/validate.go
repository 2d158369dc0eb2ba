package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// validate returns ReasonNone when opp may execute, otherwise the reason code
// and, where there is one, the underlying error.
func (o *Orchestrator) validate(ctx context.Context, opp domain.Opportunity) (domain.FailureReason, error) {
	if err := opp.Validate(); err != nil {
		return domain.ReasonInvalidOpportunity, err
	}
	if opp.Expired(o.now()) {
		return domain.ReasonDeadlinePassed, fmt.Errorf("deadline %s passed", opp.Deadline.Format("15:04:05.000"))
	}

	origin, err := o.available(opp.OriginLedger)
	if err != nil {
		return domain.ReasonConnectorUnavailable, err
	}
	if opp.Strategy == domain.StrategyCrossLedger {
		if _, err := o.available(opp.DestLedger); err != nil {
			return domain.ReasonConnectorUnavailable, err
		}
		if o.deps.Bridges == nil {
			return domain.ReasonConnectorUnavailable, fmt.Errorf("no bridges configured: %w", domain.ErrNotFound)
		}
		if _, err := o.deps.Bridges.Get(opp.Route.Bridge.BridgeID); err != nil {
			return domain.ReasonConnectorUnavailable, err
		}
	}

	floor := o.cfg.MinProfit
	if lm := origin.Config().MinProfit; lm > 0 {
		floor = lm
	}
	if opp.ExpectedProfit <= 0 || opp.ExpectedProfit < floor {
		return domain.ReasonProfitBelowMinimum, fmt.Errorf("expected profit %.6f below minimum %.6f", opp.ExpectedProfit, floor)
	}

	if reason, err := o.checkBalance(ctx, origin, opp); reason != domain.ReasonNone {
		return reason, err
	}

	if o.deps.Policy != nil {
		verdict, err := o.deps.Policy.Check(ctx, opp.Pair(), opp.AmountIn)
		if err != nil {
			return domain.ReasonPolicyRejected, fmt.Errorf("policy check: %w", err)
		}
		if !verdict.Pass {
			return domain.ReasonPolicyRejected, errors.New(verdict.Reason)
		}
	}
	return domain.ReasonNone, nil
}

func (o *Orchestrator) available(id string) (domain.Connector, error) {
	conn, err := o.deps.Connectors.Get(id)
	if err != nil {
		return nil, err
	}
	if conn.State() != domain.StateConnected {
		return nil, fmt.Errorf("ledger %s is %s: %w", id, conn.State(), domain.ErrNotConnected)
	}
	return conn, nil
}

// checkBalance compares the origin balance of the input asset with the
// amount in. Ledgers that cannot report balances are not checked.
func (o *Orchestrator) checkBalance(ctx context.Context, conn domain.Connector, opp domain.Opportunity) (domain.FailureReason, error) {
	asset := opp.Path[0]
	bal, err := conn.Balance(ctx, asset)
	if errors.Is(err, domain.ErrNotSupported) {
		return domain.ReasonNone, nil
	}
	if err != nil {
		return domain.ReasonConnectorUnavailable, fmt.Errorf("balance %s: %w", asset, err)
	}
	if bal < opp.AmountIn {
		return domain.ReasonInsufficientBalance, fmt.Errorf("balance %.6f %s below amount %.6f", bal, asset, opp.AmountIn)
	}
	return domain.ReasonNone, nil
}

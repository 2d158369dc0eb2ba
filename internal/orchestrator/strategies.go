package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/ledgerbot/internal/bridge"
	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

type execOutcome struct {
	res domain.ExecutionResult
	err error
}

// execute calls conn.Execute under ExecuteTimeout. A connector that ignores
// its context is abandoned when the timeout fires.
func (o *Orchestrator) execute(ctx context.Context, ledgerID string, opp domain.Opportunity) (domain.ExecutionResult, error) {
	conn, err := o.deps.Connectors.Get(ledgerID)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ExecuteTimeout)
	defer cancel()

	done := make(chan execOutcome, 1)
	go func() {
		res, err := conn.Execute(ctx, opp)
		done <- execOutcome{res, err}
	}()
	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		return domain.ExecutionResult{}, fmt.Errorf("execute on %s: %w", ledgerID, ctx.Err())
	}
}

// absorb copies the connector-reported fields of part into res and returns
// whether part succeeded.
func absorb(res *domain.ExecutionResult, part domain.ExecutionResult, legOffset int) bool {
	res.TxIDs = append(res.TxIDs, part.TxIDs...)
	res.FeeConsumed += part.FeeConsumed
	for _, l := range part.Legs {
		l.Index += legOffset
		res.Legs = append(res.Legs, l)
	}
	return part.Success
}

// runSingle executes a direct or multi-hop opportunity as one submission.
func (o *Orchestrator) runSingle(ctx context.Context, opp domain.Opportunity, res *domain.ExecutionResult) {
	part, err := o.execute(ctx, opp.OriginLedger, opp)
	if err != nil {
		res.Reason, res.Error = domain.ReasonExecutionFailed, err.Error()
		return
	}
	ok := absorb(res, part, 0)
	res.RealizedProfit = part.RealizedProfit
	switch {
	case !ok:
		res.Reason, res.Error = domain.ReasonExecutionFailed, part.Error
	case part.RealizedProfit <= 0:
		res.Reason = domain.ReasonNonPositiveProfit
	default:
		res.Success = true
	}
}

// legView narrows opp to one leg for batch submission. The expected profit
// is split evenly across legs.
func legView(opp domain.Opportunity, i int) domain.Opportunity {
	leg := opp.Route.Legs[i]
	v := opp
	v.Path = []string{leg.AssetIn, leg.AssetOut}
	v.AmountIn = leg.AmountIn
	v.ExpectedAmountOut = leg.ExpectedOut
	v.ExpectedProfit = opp.ExpectedProfit / float64(len(opp.Route.Legs))
	v.Route = domain.RouteData{Legs: []domain.RouteLeg{leg}}
	return v
}

// runBatch submits the legs in order, stopping at the first failure.
// Applied legs are not rolled back.
func (o *Orchestrator) runBatch(ctx context.Context, opp domain.Opportunity, res *domain.ExecutionResult) {
	for i, leg := range opp.Route.Legs {
		part, err := o.execute(ctx, opp.OriginLedger, legView(opp, i))
		if err == nil && part.Success {
			res.TxIDs = append(res.TxIDs, part.TxIDs...)
			res.FeeConsumed += part.FeeConsumed
			res.RealizedProfit += part.RealizedProfit
			tx := ""
			if len(part.TxIDs) > 0 {
				tx = part.TxIDs[len(part.TxIDs)-1]
			}
			res.Legs = append(res.Legs, domain.LegResult{Index: i, LedgerID: opp.OriginLedger, RouteID: leg.RouteID, TxID: tx, Success: true})
			continue
		}

		msg := part.Error
		if err != nil {
			msg = err.Error()
		}
		res.FeeConsumed += part.FeeConsumed
		res.Legs = append(res.Legs, domain.LegResult{Index: i, LedgerID: opp.OriginLedger, RouteID: leg.RouteID, Success: false, Error: msg})
		res.Reason = domain.ReasonBatchLegFailed
		res.Error = fmt.Sprintf("leg %d: %s", i, msg)
		return
	}
	if res.RealizedProfit <= 0 {
		res.Reason = domain.ReasonNonPositiveProfit
		return
	}
	res.Success = true
}

// runCrossLedger executes the origin legs, moves the bought asset across the
// bridge and, when destination legs exist, sells it on the destination.
// A bridge that fails or times out leaves funds in flight; the result then
// carries a Reconciliation.
func (o *Orchestrator) runCrossLedger(ctx context.Context, log *slog.Logger, opp domain.Opportunity, res *domain.ExecutionResult) {
	route := *opp.Route.Bridge

	originView, destView := crossViews(opp)
	origin, err := o.execute(ctx, opp.OriginLedger, originView)
	if err != nil {
		res.Reason, res.Error = domain.ReasonExecutionFailed, err.Error()
		return
	}
	if !absorb(res, origin, 0) {
		res.Reason, res.Error = domain.ReasonExecutionFailed, origin.Error
		return
	}
	sourceTx := ""
	if len(origin.TxIDs) > 0 {
		sourceTx = origin.TxIDs[len(origin.TxIDs)-1]
	}

	amount := opp.AmountIn
	if n := len(opp.Route.Legs); n > 0 {
		amount = opp.Route.Legs[n-1].ExpectedOut
	}
	b, err := o.deps.Bridges.Get(route.BridgeID)
	if err != nil {
		res.Reason, res.Error = domain.ReasonBridgeFailed, err.Error()
		res.Reconciliation = &domain.Reconciliation{SourceTxID: sourceTx, BridgeID: route.BridgeID, Status: domain.BridgeFailed}
		return
	}

	req := domain.TransferRequest{
		OpportunityID: opp.ID,
		SourceLedger:  opp.OriginLedger,
		DestLedger:    opp.DestLedger,
		Asset:         route.Asset,
		Amount:        amount,
		SourceTxID:    sourceTx,
	}
	transferID, err := b.Initiate(ctx, req)
	if err != nil {
		res.Reason, res.Error = domain.ReasonBridgeFailed, fmt.Sprintf("initiate: %v", err)
		res.Reconciliation = &domain.Reconciliation{SourceTxID: sourceTx, BridgeID: route.BridgeID, Status: domain.BridgeFailed}
		return
	}
	res.TxIDs = append(res.TxIDs, "bridge:"+transferID)
	o.recordTransfer(ctx, log, req, route, transferID)
	log.InfoContext(ctx, "bridge transfer initiated",
		slog.String("bridge", route.BridgeID),
		slog.String("transfer_id", transferID),
		slog.Float64("amount", amount),
	)

	status, err := bridge.Await(ctx, b, transferID, route.Latency, o.cfg.Await, log)
	if err != nil {
		status = domain.BridgeTimedOut
	}
	o.updateTransfer(ctx, log, transferID, status)

	switch status {
	case domain.BridgeConfirmed:
	case domain.BridgeFailed:
		res.Reason = domain.ReasonBridgeFailed
		res.Reconciliation = &domain.Reconciliation{SourceTxID: sourceTx, TransferID: transferID, BridgeID: route.BridgeID, Status: status}
		return
	default:
		res.Reason = domain.ReasonBridgeTimeout
		res.Error = domain.ErrBridgeTimeout.Error()
		res.Reconciliation = &domain.Reconciliation{SourceTxID: sourceTx, TransferID: transferID, BridgeID: route.BridgeID, Status: domain.BridgeTimedOut}
		return
	}

	if len(opp.Route.DestLegs) == 0 {
		// Holding the bridged asset: profit is marked at the planned rate.
		res.RealizedProfit = opp.ExpectedProfit + origin.RealizedProfit
		o.settle(res)
		return
	}

	dest, err := o.execute(ctx, opp.DestLedger, destView)
	if err == nil && !absorb(res, dest, len(opp.Route.Legs)) {
		err = errors.New(dest.Error)
	}
	if err != nil {
		// The bridged asset now sits on the destination ledger.
		res.Reason, res.Error = domain.ReasonDestinationFailed, err.Error()
		res.Reconciliation = &domain.Reconciliation{SourceTxID: sourceTx, TransferID: transferID, BridgeID: route.BridgeID, Status: status}
		return
	}
	// The destination sale ends in the input asset, so its output delta is
	// already in profit units.
	res.RealizedProfit = opp.ExpectedProfit + origin.RealizedProfit + destView.OutputDelta(dest.RealizedProfit)
	o.settle(res)
}

// crossViews narrows a cross-ledger opportunity to the origin purchase and
// the destination sale. Each view's ExpectedAmountOut is in the asset its
// own legs end in and carries no expected profit, so a connector reports
// only the slippage of its side.
func crossViews(opp domain.Opportunity) (origin, dest domain.Opportunity) {
	legs := opp.Route.Legs
	origin = opp
	origin.DestLedger = ""
	origin.Strategy = domain.StrategyMultiHop
	origin.Path = legPath(legs)
	origin.ExpectedAmountOut = legs[len(legs)-1].ExpectedOut
	origin.ExpectedProfit = 0
	origin.Route = domain.RouteData{Legs: legs}

	dest = opp
	if len(opp.Route.DestLegs) == 0 {
		return origin, dest
	}
	dl := opp.Route.DestLegs
	dest.OriginLedger = opp.DestLedger
	dest.DestLedger = ""
	dest.Strategy = domain.StrategyMultiHop
	dest.Path = legPath(dl)
	dest.AmountIn = dl[0].AmountIn
	dest.ExpectedAmountOut = dl[len(dl)-1].ExpectedOut
	dest.ExpectedProfit = 0
	dest.Route = domain.RouteData{Legs: dl}
	return origin, dest
}

func legPath(legs []domain.RouteLeg) []string {
	path := []string{legs[0].AssetIn}
	for _, l := range legs {
		path = append(path, l.AssetOut)
	}
	return path
}

func (o *Orchestrator) settle(res *domain.ExecutionResult) {
	if res.RealizedProfit <= 0 {
		res.Reason = domain.ReasonNonPositiveProfit
		return
	}
	res.Success = true
}

func (o *Orchestrator) recordTransfer(ctx context.Context, log *slog.Logger, req domain.TransferRequest, route domain.BridgeRoute, transferID string) {
	if o.deps.Transfers == nil {
		return
	}
	now := o.now()
	t := domain.BridgeTransfer{
		ID:                  transferID,
		OpportunityID:       req.OpportunityID,
		SourceLedger:        req.SourceLedger,
		DestLedger:          req.DestLedger,
		Asset:               req.Asset,
		Amount:              req.Amount,
		BridgeID:            route.BridgeID,
		Status:              domain.BridgeInitiated,
		SourceTxID:          req.SourceTxID,
		InitiatedAt:         now,
		EstimatedCompletion: now.Add(route.Latency),
		UpdatedAt:           now,
	}
	if err := o.deps.Transfers.Create(ctx, t); err != nil {
		log.ErrorContext(ctx, "persist bridge transfer failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) updateTransfer(ctx context.Context, log *slog.Logger, transferID string, status domain.BridgeStatus) {
	if o.deps.Transfers == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.deps.Transfers.UpdateStatus(ctx, transferID, status, o.now()); err != nil {
		log.ErrorContext(ctx, "update bridge transfer failed", slog.String("error", err.Error()))
	}
}

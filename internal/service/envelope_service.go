package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// Notifier forwards a titled message for an event type. *notify.Notifier
// satisfies it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// EnvelopeService fans opportunity envelopes out to the signal bus, the
// durable stream, the transition history and operator notifications. Every
// sink is optional and a failing sink never blocks the others.
type EnvelopeService struct {
	bus      domain.SignalBus
	history  domain.OpportunityStore
	notifier Notifier
	logger   *slog.Logger
}

// NewEnvelopeService creates an EnvelopeService.
func NewEnvelopeService(bus domain.SignalBus, history domain.OpportunityStore, notifier Notifier, logger *slog.Logger) *EnvelopeService {
	return &EnvelopeService{
		bus:      bus,
		history:  history,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "envelopes")),
	}
}

// Publish delivers env to every configured sink.
func (s *EnvelopeService) Publish(ctx context.Context, env domain.OpportunityEnvelope) {
	log := s.logger.With(
		slog.String("opportunity_id", env.Opportunity.ID),
		slog.String("state", string(env.State)),
	)

	if s.bus != nil {
		payload, err := json.Marshal(env)
		if err != nil {
			log.ErrorContext(ctx, "marshal envelope failed", slog.String("error", err.Error()))
			return
		}
		if err := s.bus.Publish(ctx, domain.ChannelOpportunity, payload); err != nil {
			log.WarnContext(ctx, "publish envelope failed", slog.String("error", err.Error()))
		}
		if err := s.bus.StreamAppend(ctx, domain.StreamOpportunity, payload); err != nil {
			log.WarnContext(ctx, "stream append failed", slog.String("error", err.Error()))
		}
	}

	if s.history != nil {
		if err := s.history.RecordTransition(ctx, env); err != nil {
			log.WarnContext(ctx, "record transition failed", slog.String("error", err.Error()))
		}
	}

	if s.notifier != nil && env.State.Terminal() {
		title, msg := describeEnvelope(env)
		if err := s.notifier.Notify(ctx, string(env.State), title, msg); err != nil {
			log.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
		}
	}
}

// Recent returns the latest transitions, newest first.
func (s *EnvelopeService) Recent(ctx context.Context, limit int) ([]domain.OpportunityEnvelope, error) {
	if s.history == nil {
		return nil, nil
	}
	envs, err := s.history.ListRecent(ctx, domain.ListOpts{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("envelope_service: list recent: %w", err)
	}
	return envs, nil
}

func describeEnvelope(env domain.OpportunityEnvelope) (string, string) {
	opp := env.Opportunity
	route := opp.OriginLedger
	if opp.DestLedger != "" {
		route += " -> " + opp.DestLedger
	}
	title := fmt.Sprintf("%s %s %s", env.State, opp.Strategy, opp.Pair())

	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\nroute: %s\namount in: %.6f\nexpected profit: %.6f", opp.ID, route, opp.AmountIn, opp.ExpectedProfit)
	if r := env.Result; r != nil {
		if r.Success {
			fmt.Fprintf(&b, "\nrealized profit: %.6f\nfees: %.6f", r.RealizedProfit, r.FeeConsumed)
		} else {
			fmt.Fprintf(&b, "\nreason: %s", r.Reason)
			if r.Error != "" {
				fmt.Fprintf(&b, "\nerror: %s", r.Error)
			}
			if r.NeedsReconciliation() {
				fmt.Fprintf(&b, "\nreconcile: bridge %s transfer %s (%s)", r.Reconciliation.BridgeID, r.Reconciliation.TransferID, r.Reconciliation.Status)
			}
		}
	}
	return title, b.String()
}

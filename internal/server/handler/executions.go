package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// EnvelopeSource lists opportunity transitions. *service.EnvelopeService
// satisfies it.
type EnvelopeSource interface {
	Recent(ctx context.Context, limit int) ([]domain.OpportunityEnvelope, error)
}

// ExecutionHandler serves execution results and the opportunity history.
type ExecutionHandler struct {
	store     domain.ExecutionStore
	envelopes EnvelopeSource
	logger    *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler.
func NewExecutionHandler(store domain.ExecutionStore, envelopes EnvelopeSource, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{store: store, envelopes: envelopes, logger: logger.With(slog.String("handler", "executions"))}
}

// ListExecutions returns results newest first.
// GET /api/executions?limit=&offset=&since=&until=
func (h *ExecutionHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list executions failed", slog.String("error", err.Error()))
		writeStoreError(w, err)
		return
	}
	if list == nil {
		list = []domain.ExecutionResult{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetExecution returns the result for one opportunity.
// GET /api/executions/{id}
func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	res, err := h.store.GetByOpportunity(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListOpportunities returns recent envelopes.
// GET /api/opportunities?limit=
func (h *ExecutionHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	envs, err := h.envelopes.Recent(r.Context(), parseListOpts(r).Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list opportunities failed", slog.String("error", err.Error()))
		writeStoreError(w, err)
		return
	}
	if envs == nil {
		envs = []domain.OpportunityEnvelope{}
	}
	writeJSON(w, http.StatusOK, envs)
}

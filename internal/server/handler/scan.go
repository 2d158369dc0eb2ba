package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
	"github.com/alanyoungcy/ledgerbot/internal/scanner"
)

// Scanner runs one scan. *scanner.Scanner satisfies it.
type Scanner interface {
	Scan(ctx context.Context, req scanner.Request) ([]domain.Opportunity, error)
}

// Submitter executes an opportunity. *orchestrator.Orchestrator satisfies
// it.
type Submitter interface {
	Submit(ctx context.Context, opp domain.Opportunity) (domain.ExecutionResult, error)
}

// ScanHandler serves on-demand scans and, when execution is enabled,
// submission of the best candidate.
type ScanHandler struct {
	scanner   Scanner
	submitter Submitter // nil when the mode does not execute
	logger    *slog.Logger
}

// NewScanHandler creates a ScanHandler.
func NewScanHandler(s Scanner, submitter Submitter, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{scanner: s, submitter: submitter, logger: logger.With(slog.String("handler", "scan"))}
}

type scanRequest struct {
	scanner.Request
	Execute bool `json:"execute"`
}

type scanResponse struct {
	Opportunities []domain.Opportunity    `json:"opportunities"`
	Result        *domain.ExecutionResult `json:"result,omitempty"`
}

// Scan ranks opportunities for the posted pair and amount. With
// "execute": true the top candidate is submitted and its result returned.
// POST /api/scan
func (h *ScanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Execute && h.submitter == nil {
		writeError(w, http.StatusForbidden, "execution disabled in this mode")
		return
	}

	opps, err := h.scanner.Scan(r.Context(), req.Request)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	resp := scanResponse{Opportunities: opps}
	if resp.Opportunities == nil {
		resp.Opportunities = []domain.Opportunity{}
	}

	if req.Execute && len(opps) > 0 {
		res, err := h.submitter.Submit(r.Context(), opps[0])
		if errors.Is(err, domain.ErrDuplicateOpportunity) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			h.logger.ErrorContext(r.Context(), "submit failed", slog.String("error", err.Error()))
			writeStoreError(w, err)
			return
		}
		resp.Result = &res
	}
	writeJSON(w, http.StatusOK, resp)
}

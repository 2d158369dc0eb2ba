package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// Reconciler settles timed-out transfers. *bridge.Reconciler satisfies it.
type Reconciler interface {
	ReconcileOnce(ctx context.Context) (int, error)
}

// BridgeHandler serves bridge transfers and on-demand reconciliation.
type BridgeHandler struct {
	store      domain.BridgeTransferStore
	reconciler Reconciler
	logger     *slog.Logger
}

// NewBridgeHandler creates a BridgeHandler. reconciler may be nil.
func NewBridgeHandler(store domain.BridgeTransferStore, reconciler Reconciler, logger *slog.Logger) *BridgeHandler {
	return &BridgeHandler{store: store, reconciler: reconciler, logger: logger.With(slog.String("handler", "bridges"))}
}

// ListTransfers returns transfers in ?status= (default TIMED_OUT).
// GET /api/bridges/transfers?status=&limit=
func (h *BridgeHandler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	status := domain.BridgeStatus(strings.ToUpper(r.URL.Query().Get("status")))
	if status == "" {
		status = domain.BridgeTimedOut
	}
	switch status {
	case domain.BridgeInitiated, domain.BridgeInTransit, domain.BridgeConfirmed, domain.BridgeFailed, domain.BridgeTimedOut:
	default:
		writeError(w, http.StatusBadRequest, "unknown status "+string(status))
		return
	}
	limit := 100
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}

	list, err := h.store.ListByStatus(r.Context(), status, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list transfers failed", slog.String("error", err.Error()))
		writeStoreError(w, err)
		return
	}
	if list == nil {
		list = []domain.BridgeTransfer{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetTransfer returns one transfer.
// GET /api/bridges/transfers/{id}
func (h *BridgeHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Reconcile runs one reconciliation pass.
// POST /api/bridges/reconcile
func (h *BridgeHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if h.reconciler == nil {
		writeError(w, http.StatusServiceUnavailable, "reconciler disabled")
		return
	}
	n, err := h.reconciler.ReconcileOnce(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "reconcile failed", slog.String("error", err.Error()))
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"settled": n})
}

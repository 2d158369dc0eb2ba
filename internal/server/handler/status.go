package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// NetworkSource reports per-ledger status. *registry.Registry satisfies it.
type NetworkSource interface {
	NetworkStatus() []domain.LedgerStatus
}

// StatusHandler serves process and ledger status.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	network   NetworkSource
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, startedAt time.Time, network NetworkSource) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, network: network}
}

// GetStatus responds with the run mode, uptime and connected ledger count.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ledgers := h.network.NetworkStatus()
	connected := 0
	for _, l := range ledgers {
		if l.Connected {
			connected++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":              h.mode,
		"started_at":        h.startedAt.UTC().Format(time.RFC3339),
		"uptime_seconds":    int64(time.Since(h.startedAt).Seconds()),
		"ledgers_total":     len(ledgers),
		"ledgers_connected": connected,
	})
}

// GetNetwork responds with every ledger's status.
// GET /api/network
func (h *StatusHandler) GetNetwork(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.network.NetworkStatus())
}

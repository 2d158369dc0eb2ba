package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// SnapshotSource produces metrics snapshots. *metrics.Exporter satisfies it.
type SnapshotSource interface {
	Snapshot() domain.MetricsSnapshot
}

// MetricsHandler serves live metrics and the list of exported snapshots.
type MetricsHandler struct {
	source  SnapshotSource
	archive domain.BlobReader
	logger  *slog.Logger
}

// NewMetricsHandler creates a MetricsHandler. archive may be nil.
func NewMetricsHandler(source SnapshotSource, archive domain.BlobReader, logger *slog.Logger) *MetricsHandler {
	return &MetricsHandler{source: source, archive: archive, logger: logger.With(slog.String("handler", "metrics"))}
}

// GetMetrics responds with a fresh snapshot.
// GET /api/metrics
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Snapshot())
}

// ListSnapshots lists exported snapshot objects under ?prefix= (default
// "metrics/").
// GET /api/metrics/archive
func (h *MetricsHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "object storage not configured")
		return
	}
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "metrics/"
	}
	infos, err := h.archive.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list snapshots failed", slog.String("error", err.Error()))
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

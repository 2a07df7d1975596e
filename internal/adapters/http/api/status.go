package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/paddock/pkg/metrics"
)

// StatsProvider reports service counters for GET /stats.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// StatusHandler serves the operational endpoints: the Prometheus exposition
// doubles as the health check, and /stats is a JSON view of the service.
type StatusHandler struct {
	exposition http.Handler
	stats      StatsProvider
}

// NewStatusHandler creates a status handler. A nil provider serves an
// empty stats object.
func NewStatusHandler(stats StatsProvider) *StatusHandler {
	return &StatusHandler{
		exposition: promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}),
		stats:      stats,
	}
}

// HandleHealth handles GET /healthz.
func (h *StatusHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.exposition.ServeHTTP(w, r)
}

// HandleStats handles GET /stats.
func (h *StatusHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	stats := map[string]interface{}{}
	if h.stats != nil {
		stats = h.stats.GetStats()
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, stats)
}

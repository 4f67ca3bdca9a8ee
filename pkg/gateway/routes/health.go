package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/formiq/platform/pkg/common/response"
	"github.com/formiq/platform/pkg/observability/metrics"
	"github.com/gorilla/mux"
)

const readyTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger func(ctx context.Context) error

// OpsHandler serves liveness, readiness and the Prometheus scrape endpoint.
type OpsHandler struct {
	checks map[string]Pinger
}

func NewOpsHandler(checks map[string]Pinger) *OpsHandler {
	return &OpsHandler{checks: checks}
}

func (h *OpsHandler) Register(r *mux.Router) {
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", h.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

func (h *OpsHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	response.Success(w, http.StatusOK, "healthy", nil)
}

func (h *OpsHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	status := make(map[string]string, len(h.checks))
	ready := true
	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			status[name] = "unavailable"
			ready = false
			continue
		}
		status[name] = "ok"
	}

	if !ready {
		apiErr := response.NewAPIError(http.StatusServiceUnavailable, "not ready")
		apiErr.Data = status
		response.Error(w, apiErr)
		return
	}
	response.Success(w, http.StatusOK, "ready", status)
}

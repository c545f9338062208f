package api

import (
	"net/http"

	"github.com/ampguard/telemetry-core/pkg/health"
)

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Service: "telemetry-core", Version: Version})
}

type readyResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	results, ok := health.CheckAll(r.Context(), s.deps.StoreHealth)
	if !ok {
		detail := results["store"]
		writeJSON(w, http.StatusServiceUnavailable, readyResponse{Status: "not_ready", Error: detail.Message})
		return
	}
	writeJSON(w, http.StatusOK, readyResponse{Status: "ready"})
}

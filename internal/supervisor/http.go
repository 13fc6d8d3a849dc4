package supervisor

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthResponse is the /healthz payload.
type healthResponse struct {
	Status        string   `json:"status"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Backends      []string `json:"backends"`
	PeersCount    int      `json:"peers_connected"`
}

// newDebugRouter builds the Supervisor's debug/health HTTP surface.
func (s *Supervisor) newDebugRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return r
}

func (s *Supervisor) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0)
	for _, info := range s.registry.CapabilitiesSnapshot() {
		names = append(names, info.Name)
	}

	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Backends:      names,
		PeersCount:    s.mesh.ConnectionCount(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Supervisor) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := struct {
		Identity      string `json:"identity"`
		SessionState  string `json:"coordinator_state,omitempty"`
		HTTPPolling   bool   `json:"http_polling_enabled"`
		TaskMetrics   interface{} `json:"tasks"`
		PeerCount     int    `json:"peers_connected"`
	}{
		Identity:    s.identityID,
		TaskMetrics: s.tracker.Snapshot(),
		PeerCount:   s.mesh.ConnectionCount(),
	}
	if s.session != nil {
		status.SessionState = string(s.session.State())
	}
	if s.poller != nil {
		status.HTTPPolling = s.poller.Enabled()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

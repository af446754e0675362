package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/roelfdiedericks/voxledger/internal/ledger"
	. "github.com/roelfdiedericks/voxledger/internal/logging"
	. "github.com/roelfdiedericks/voxledger/internal/metrics"
	"github.com/roelfdiedericks/voxledger/internal/session"
)

const maxEntities = 200

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// handleStats handles GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Ledger.Stats())
}

// handleWeekly handles GET /api/weekly
func (s *Server) handleWeekly(w http.ResponseWriter, r *http.Request) {
	days := s.deps.Ledger.WeeklyCosts()
	var total float64
	for _, d := range days {
		total += d.Cost
	}
	writeJSON(w, http.StatusOK, struct {
		Days  []ledger.DayCost `json:"days"`
		Total float64          `json:"total"`
	}{days, total})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	var names []string
	if s.deps.Providers != nil {
		names = s.deps.Providers.Providers()
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"providers": names})
}

// handleEntities handles GET /api/entities?target=todo&target=reminder&session=123&limit=20
func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	if s.deps.Entities == nil {
		http.Error(w, "Entity store not available", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	limit := 20
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxEntities)
	}

	var targets []session.Target
	for _, t := range q["target"] {
		target := session.Target(t)
		if !knownTarget(target) {
			http.Error(w, "unknown target: "+t, http.StatusBadRequest)
			return
		}
		targets = append(targets, target)
	}

	list, err := s.deps.Entities.List(r.Context(), q.Get("session"), targets, limit)
	if err != nil {
		L_error("http: entity list failed", "error", err)
		http.Error(w, "Failed to list entities", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []session.Entity{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entities": list})
}

// handleMetrics handles GET /api/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := GetInstance().Snapshot()
	if snap == nil {
		snap = []MetricSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"metrics": snap})
}

func knownTarget(t session.Target) bool {
	for _, known := range session.Targets {
		if t == known {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		L_warn("http: failed to encode response", "error", err)
	}
}

package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"
)

// readyResponse matches spec.md §6's /ready shape:
// {status, version, database:{status, latency_ms}, circuit_breaker:{state}}.
type readyResponse struct {
	Status         string              `json:"status"`
	Version        string              `json:"version"`
	Database       databaseReadiness   `json:"database"`
	CircuitBreaker circuitBreakerState `json:"circuit_breaker"`
}

type databaseReadiness struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
}

type circuitBreakerState struct {
	State string `json:"state"`
}

// ready handles GET /ready: pings the database (when one is configured)
// and reports the breaker's current state, returning 503 whenever either
// signals trouble so a load balancer pulls this instance from rotation.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	resp := readyResponse{
		Status:         "ready",
		Version:        s.version,
		CircuitBreaker: circuitBreakerState{State: s.breaker.State().String()},
	}

	if s.db != nil {
		start := time.Now()
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pingDB(ctx, s.db); err != nil {
			resp.Status = "not_ready"
			resp.Database = databaseReadiness{Status: "unreachable"}
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Database = databaseReadiness{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	} else {
		resp.Database = databaseReadiness{Status: "disabled"}
	}

	if resp.CircuitBreaker.State == "open" {
		resp.Status = "not_ready"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func pingDB(ctx context.Context, db *sql.DB) error {
	return db.PingContext(ctx)
}

// health handles GET /health: a lightweight liveness probe that never
// touches the database, per spec.md §6's "lightweight liveness probe".
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

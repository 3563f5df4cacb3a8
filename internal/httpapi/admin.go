package httpapi

import "net/http"

// shutdown handles POST /admin/shutdown: signals the owning supervisor to
// begin a graceful shutdown and acknowledges immediately. The actual
// drain (stop accepting connections, let in-flight handlers finish,
// remove the port/lock files) happens in cmd/pmserver's main goroutine,
// which owns the process lifetime; this handler only requests it.
func (s *Server) shutdown(w http.ResponseWriter, r *http.Request) {
	if s.onShutdown == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutdown not supported"})
		return
	}
	s.onShutdown()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "shutting down"})
}

// checkpoint handles POST /admin/checkpoint: runs the idempotency reaper
// ahead of schedule and reports how many records it removed. Postgres
// itself durably commits every write on return, so there is no write-ahead
// log of our own to flush; this checkpoints the idempotency table instead,
// matching the original's "flush the write-ahead log" intent with the
// nearest equivalent this storage engine actually has.
func (s *Server) checkpoint(w http.ResponseWriter, r *http.Request) {
	if s.onCheckpoint == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "noop"})
		return
	}
	reaped, err := s.onCheckpoint(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "checkpoint failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "checkpointed", "reaped_idempotency_records": reaped})
}

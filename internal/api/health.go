package api

import (
	"net/http"
)

type healthResponse struct {
	Status   string `json:"status"`
	Backends int    `json:"backends"`
	Ledger   string `json:"ledger"`
}

// handleHealthz reports liveness. The ledger is probed with a stats query;
// a broken ledger degrades the response but the server stays up.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Backends: len(s.registry.List()),
		Ledger:   "ok",
	}
	if _, err := s.store.GetStats(r.Context()); err != nil {
		s.logger.Warn("ledger health check", "error", err)
		resp.Status, resp.Ledger = "degraded", "unavailable"
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

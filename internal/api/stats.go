package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Runs                int            `json:"runs"`
	RunsByStatus        map[string]int `json:"runs_by_status"`
	Executions          int            `json:"executions"`
	ExecutionsByBackend map[string]int `json:"executions_by_backend"`
	AvgExecutionMS      float64        `json:"avg_execution_ms"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.logger.Error("get run stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Runs:                stats.Runs,
		RunsByStatus:        stats.RunsByStatus,
		Executions:          stats.Executions,
		ExecutionsByBackend: stats.ExecutionsByBackend,
		AvgExecutionMS:      stats.AvgExecutionMS,
	})
}

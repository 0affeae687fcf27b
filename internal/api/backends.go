package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}

// handleGetBackend describes one registered backend by name.
func (s *Server) handleGetBackend(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, info := range s.registry.List() {
		if info.Name == name {
			s.writeJSON(w, http.StatusOK, info)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "backend not found")
}

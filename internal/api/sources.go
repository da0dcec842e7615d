package api

import "net/http"

func (s *Server) handleListSources(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sources.List())
}

package api

import "net/http"

func (s *Server) handleListHandlers(w http.ResponseWriter, _ *http.Request) {
	handlers := s.registry.List()
	s.writeJSON(w, http.StatusOK, handlers)
}

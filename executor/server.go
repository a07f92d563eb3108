package main

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Server is the executor's HTTP surface.
type Server struct {
	executor *Executor
}

func NewServer(e *Executor) *Server {
	return &Server{executor: e}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", s.handleExecute)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleInfo)
	return mux
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request body"})
		return
	}
	if err := req.validate(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}

	resp, err := s.executor.Execute(r.Context(), req)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	p := s.executor.profile
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"node":         p.Class.String(),
		"capabilities": p.Capabilities,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	p := s.executor.profile
	writeJSON(w, http.StatusOK, map[string]any{
		"node":            p.Class.String(),
		"type":            p.Metadata["node_type"],
		"characteristics": p.Description,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("response write failed")
	}
}

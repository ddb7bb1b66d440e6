package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/stitch/internal/indexer"
	"github.com/hyperjump/stitch/internal/models"
	"github.com/hyperjump/stitch/internal/vault"
	"github.com/hyperjump/stitch/internal/vector"
)

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(s.config.Query.TopK, s.config.Query.MaxTopK); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("query request", zap.String("query", req.Query), zap.Int("top_k", req.TopK))

	start := time.Now()
	results, err := s.Query(r.Context(), req.Query, req.TopK)
	if err != nil {
		s.logger.Error("query failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, models.NewQueryResponse(req.Query, results, time.Since(start).Milliseconds()))
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("rebuild request")
	report, err := s.Rebuild(r.Context())
	if err != nil {
		s.logger.Error("rebuild failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps index errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, vault.ErrVaultUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, indexer.ErrEmbedding):
		return http.StatusBadGateway
	case errors.Is(err, vector.ErrDimensionMismatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

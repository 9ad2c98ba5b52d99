package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/tether/internal/dispatch"
	"github.com/seantiz/tether/internal/model"
	"github.com/seantiz/tether/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// submitOperationRequest is the JSON body for POST /v1/operations.
type submitOperationRequest struct {
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	TimeoutMS *int            `json:"timeout_ms"`
}

// listOperationsResponse wraps the paginated list response.
type listOperationsResponse struct {
	Operations []*model.Operation `json:"operations"`
	Total      int                `json:"total"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

func (s *Server) handleSubmitOperation(w http.ResponseWriter, r *http.Request) {
	var req submitOperationRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Kind == "" {
		s.writeError(w, http.StatusBadRequest, "kind is required")
		return
	}
	if _, err := s.registry.Resolve(req.Kind); err != nil {
		s.writeError(w, http.StatusBadRequest, "unknown operation kind")
		return
	}
	if req.TimeoutMS != nil && *req.TimeoutMS <= 0 {
		s.writeError(w, http.StatusBadRequest, "timeout_ms must be positive")
		return
	}

	op := &model.Operation{
		ID:        model.NewID(),
		Kind:      req.Kind,
		Payload:   req.Payload,
		TimeoutMS: req.TimeoutMS,
	}

	if err := s.dispatcher.Submit(r.Context(), op); err != nil {
		switch {
		case errors.Is(err, dispatch.ErrClosed):
			s.writeError(w, http.StatusServiceUnavailable, "service is shutting down")
		case errors.Is(err, dispatch.ErrQueueFull):
			s.writeError(w, http.StatusServiceUnavailable, "intake queue is full")
		default:
			s.logger.Error("submit operation", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to submit operation")
		}
		return
	}

	s.writeJSON(w, http.StatusAccepted, op)
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	op, err := s.store.GetOperation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	if err != nil {
		s.logger.Error("get operation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get operation")
		return
	}

	s.writeJSON(w, http.StatusOK, op)
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	operations, total, err := s.store.ListOperations(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list operations", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list operations")
		return
	}

	if operations == nil {
		operations = []*model.Operation{}
	}

	s.writeJSON(w, http.StatusOK, listOperationsResponse{
		Operations: operations,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
	})
}

func (s *Server) handleCancelOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// The dispatcher only knows live operations; anything else is either
	// unknown or already terminal, which the store can tell apart.
	if s.dispatcher.Cancel(id) {
		op, err := s.store.GetOperation(r.Context(), id)
		if err != nil {
			s.logger.Error("get cancelled operation", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to retrieve operation")
			return
		}
		s.writeJSON(w, http.StatusAccepted, op)
		return
	}

	op, err := s.store.GetOperation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	if err != nil {
		s.logger.Error("get operation for cancel", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get operation")
		return
	}

	s.writeError(w, http.StatusConflict, "operation is already "+op.Status)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

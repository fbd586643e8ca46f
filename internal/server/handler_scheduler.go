package server

import (
	"net/http"

	"github.com/me/agentq/pkg/model"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondOK(w, RequestIDFromContext(r.Context()), s.scheduler.Status())
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	units := s.scheduler.LoadedUnits()
	if units == nil {
		units = []model.ResourceUnit{}
	}
	respondOK(w, RequestIDFromContext(r.Context()), units)
}

// handleSetLimits changes either ceiling at runtime. Lowering max_parallel
// never stops running tasks; lowering max_concurrent_units evicts idle models.
func (s *Server) handleSetLimits(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.LimitsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("Invalid request body", model.FieldError{Message: err.Error()}))
		return
	}

	var details []model.FieldError
	if req.MaxParallel == nil && req.MaxConcurrentUnits == nil {
		details = append(details, model.FieldError{Message: "set max_parallel or max_concurrent_units"})
	}
	if req.MaxParallel != nil && *req.MaxParallel < 1 {
		details = append(details, model.FieldError{Field: "max_parallel", Message: "must be at least 1"})
	}
	if req.MaxConcurrentUnits != nil && *req.MaxConcurrentUnits < 1 {
		details = append(details, model.FieldError{Field: "max_concurrent_units", Message: "must be at least 1"})
	}
	if len(details) > 0 {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("Invalid limits", details...))
		return
	}

	if req.MaxConcurrentUnits != nil {
		s.scheduler.SetMaxConcurrentUnits(*req.MaxConcurrentUnits)
	}
	if req.MaxParallel != nil {
		s.scheduler.SetMaxParallel(*req.MaxParallel)
	}
	s.logger.Info("limits updated", "max_parallel", req.MaxParallel, "max_concurrent_units", req.MaxConcurrentUnits,
		"request_id", reqID)
	respondOK(w, reqID, s.scheduler.Status())
}

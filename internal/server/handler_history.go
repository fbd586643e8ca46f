package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/me/agentq/internal/store"
	"github.com/me/agentq/pkg/model"
)

// handleHistory lists recorded tasks newest first.
// GET /api/v1/history?limit=20&offset=0&status=failed
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if s.store == nil {
		respondError(w, reqID, http.StatusServiceUnavailable, model.NewUnavailableError("history"))
		return
	}

	opts, fieldErrs := parseListOptions(r)
	if len(fieldErrs) > 0 {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("Invalid query", fieldErrs...))
		return
	}

	tasks, total, err := s.store.ListRecent(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if tasks == nil {
		tasks = []*model.Task{}
	}
	respondList(w, reqID, tasks, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+len(tasks) < total,
	})
}

// handleTaskEvents returns the recorded timeline of one task.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if s.store == nil {
		respondError(w, reqID, http.StatusServiceUnavailable, model.NewUnavailableError("history"))
		return
	}

	events, err := s.store.ListEvents(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if len(events) == 0 {
		if _, live := s.scheduler.Task(id); !live {
			respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("task", id))
			return
		}
		events = []store.EventRecord{}
	}
	respondOK(w, reqID, events)
}

func parseListOptions(r *http.Request) (model.ListOptions, []model.FieldError) {
	opts := model.DefaultListOptions()
	q := r.URL.Query()
	var errs []model.FieldError

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, model.FieldError{Field: "limit", Message: "must be an integer"})
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, model.FieldError{Field: "offset", Message: "must be an integer"})
		}
		opts.Offset = n
	}
	if v := q.Get("status"); v != "" {
		switch model.TaskStatus(v) {
		case model.TaskStatusQueued, model.TaskStatusRunning, model.TaskStatusCompleted, model.TaskStatusFailed:
			opts.Status = v
		default:
			errs = append(errs, model.FieldError{Field: "status", Message: "unknown status " + strconv.Quote(v)})
		}
	}
	opts.Clamp()
	return opts, errs
}

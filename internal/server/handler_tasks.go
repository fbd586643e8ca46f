package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/me/agentq/pkg/model"
)

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.EnqueueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("Invalid request body", model.FieldError{Message: err.Error()}))
		return
	}

	var details []model.FieldError
	if strings.TrimSpace(req.Query) == "" {
		details = append(details, model.FieldError{Field: "query", Message: "required"})
	}
	priority, err := model.ParsePriority(req.Priority)
	if err != nil {
		details = append(details, model.FieldError{Field: "priority", Message: err.Error()})
	}
	if len(details) > 0 {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("Invalid task", details...))
		return
	}

	id := s.scheduler.Enqueue(model.Payload{
		Query:    req.Query,
		Mode:     req.Mode,
		Metadata: req.Metadata,
	}, strings.TrimSpace(req.Model), priority)

	respondCreated(w, reqID, model.EnqueueResponse{
		ID:       id,
		Position: s.scheduler.QueuePosition(id),
	})
}

// handleGetTask serves the live task when the scheduler still holds it and
// falls back to finished tasks in history.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if task, ok := s.scheduler.Task(id); ok {
		respondOK(w, reqID, task)
		return
	}
	task, err := s.archivedTask(r, id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if task == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("task", id))
		return
	}
	respondOK(w, reqID, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if s.scheduler.Cancel(id) {
		if s.recorder != nil {
			s.recorder.Forget(id)
		}
		respondOK(w, reqID, model.CancelResponse{ID: id, Cancelled: true})
		return
	}

	status, err := s.taskStatus(r, id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if status == "" {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("task", id))
		return
	}
	respondError(w, reqID, http.StatusConflict,
		model.NewConflictError(fmt.Sprintf("task '%s' is %s and can no longer be cancelled", id, status)))
}

func (s *Server) handleTaskPosition(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if pos := s.scheduler.QueuePosition(id); pos > 0 {
		respondOK(w, reqID, model.PositionResponse{ID: id, Position: pos})
		return
	}

	status, err := s.taskStatus(r, id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if status == "" {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("task", id))
		return
	}
	respondOK(w, reqID, model.PositionResponse{ID: id, Position: 0})
}

// taskStatus returns the current status of id, or "" if the task is
// unknown.
func (s *Server) taskStatus(r *http.Request, id string) (model.TaskStatus, error) {
	if task, ok := s.scheduler.Task(id); ok {
		return task.Status, nil
	}
	task, err := s.archivedTask(r, id)
	if err != nil || task == nil {
		return "", err
	}
	return task.Status, nil
}

// archivedTask returns the history entry for id if the task finished, or
// nil. A history entry that is not terminal belongs to a task the scheduler
// no longer holds (cancelled, or lost in a restart) and counts as unknown.
func (s *Server) archivedTask(r *http.Request, id string) (*model.Task, error) {
	if s.store == nil {
		return nil, nil
	}
	task, err := s.store.GetTask(r.Context(), id)
	if err != nil || task == nil || !task.Status.IsTerminal() {
		return nil, err
	}
	return task, nil
}

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/me/agentq/pkg/model"
)

// sseBuffer is how many events a slow client may fall behind before
// further events are dropped for it.
const sseBuffer = 64

// handleEvents streams task events via Server-Sent Events.
// GET /api/v1/events[?task=<id>]
//
// With a task filter the stream ends after that task's terminal event, or
// once the task has been missing from the scheduler for two heartbeats in a
// row (it was cancelled while queued).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	taskID := r.URL.Query().Get("task")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before taking the initial snapshot so no transition falls
	// between the snapshot and the stream.
	events := make(chan model.TaskEvent, sseBuffer)
	var dropped atomic.Int64
	unsubscribe := s.scheduler.Subscribe(func(ev model.TaskEvent) {
		if taskID != "" && ev.Task.ID != taskID {
			return
		}
		select {
		case events <- ev:
		default:
			dropped.Add(1)
		}
	})
	defer func() {
		unsubscribe()
		if n := dropped.Load(); n > 0 {
			s.logger.Warn("sse client fell behind", "dropped", n, "request_id", reqID)
		}
	}()

	var initial any = s.scheduler.Status()
	if taskID != "" {
		task, ok := s.scheduler.Task(taskID)
		if !ok {
			hist, err := s.archivedTask(r, taskID)
			if err != nil {
				respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
				return
			}
			if hist == nil {
				respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("task", taskID))
				return
			}
			task = hist
		}
		initial = task
	}

	// Set headers for SSE.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	if err := sendSSEEvent(w, flusher, "init", initial); err != nil {
		s.logger.Debug("sse client disconnected", "request_id", reqID, "error", err)
		return
	}
	if task, ok := initial.(*model.Task); ok && task.Status.IsTerminal() {
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	missing := false

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			if err := sendSSEEvent(w, flusher, string(ev.Status), ev); err != nil {
				s.logger.Debug("sse client disconnected", "request_id", reqID)
				return
			}
			if taskID != "" && ev.Status.IsTerminal() {
				return
			}
		case <-ticker.C:
			if taskID != "" {
				if _, ok := s.scheduler.Task(taskID); !ok {
					if missing {
						s.logger.Debug("sse task gone, closing stream", "task_id", taskID, "request_id", reqID)
						return
					}
					missing = true
				} else {
					missing = false
				}
			}
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	if err != nil {
		return err
	}

	flusher.Flush()
	return nil
}

package notify

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/me/agentq/pkg/model"
)

func event(id string, status model.TaskStatus) model.TaskEvent {
	return model.TaskEvent{Status: status, Task: &model.Task{ID: id, Status: status}}
}

func TestHub_DeliversInSubscriptionOrder(t *testing.T) {
	h := NewHub(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	var order []string
	h.Subscribe(func(model.TaskEvent) { order = append(order, "first") })
	h.Subscribe(func(model.TaskEvent) { order = append(order, "second") })

	h.Publish(event("task_1", model.TaskStatusRunning))

	if strings.Join(order, ",") != "first,second" {
		t.Errorf("order = %v, want [first second]", order)
	}
}

func TestHub_PanickingSubscriberIsIsolated(t *testing.T) {
	var logs bytes.Buffer
	h := NewHub(slog.New(slog.NewTextHandler(&logs, nil)))

	var got []model.TaskStatus
	h.Subscribe(func(model.TaskEvent) { panic("boom") })
	h.Subscribe(func(e model.TaskEvent) { got = append(got, e.Status) })

	h.Publish(event("task_1", model.TaskStatusRunning))
	h.Publish(event("task_1", model.TaskStatusCompleted))

	if len(got) != 2 {
		t.Fatalf("healthy subscriber got %d events, want 2", len(got))
	}
	if !strings.Contains(logs.String(), "subscriber panicked") {
		t.Errorf("expected panic to be logged, got: %s", logs.String())
	}
	if !strings.Contains(logs.String(), "task_id=task_1") {
		t.Errorf("expected task_id in log, got: %s", logs.String())
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	calls := 0
	unsub := h.Subscribe(func(model.TaskEvent) { calls++ })
	other := h.Subscribe(func(model.TaskEvent) {})

	h.Publish(event("task_1", model.TaskStatusQueued))
	unsub()
	unsub() // idempotent
	h.Publish(event("task_1", model.TaskStatusRunning))

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if h.Len() != 1 {
		t.Errorf("Len() = %d, want 1", h.Len())
	}
	other()
	if h.Len() != 0 {
		t.Errorf("Len() = %d, want 0", h.Len())
	}
}

func TestHub_CallbackMayUnsubscribeItself(t *testing.T) {
	h := NewHub(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	calls := 0
	var unsub func()
	unsub = h.Subscribe(func(model.TaskEvent) {
		calls++
		unsub()
	})

	h.Publish(event("task_1", model.TaskStatusRunning))
	h.Publish(event("task_1", model.TaskStatusCompleted))

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

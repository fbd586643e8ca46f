// Package notify fans task lifecycle events out to subscribers.
package notify

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/me/agentq/pkg/model"
)

// Callback receives one event per task transition.
type Callback func(model.TaskEvent)

type subscriber struct {
	id int
	fn Callback
}

// Hub delivers events synchronously to every subscriber in subscription
// order. A subscriber that panics is logged and skipped; the remaining
// subscribers still receive the event.
//
// No lock is held while callbacks run, so a callback may subscribe,
// unsubscribe or call into the scheduler. Events for different tasks can be
// delivered from different goroutines at the same time.
type Hub struct {
	mu     sync.RWMutex
	subs   []subscriber
	nextID int
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger.With("component", "notify")}
}

// Subscribe registers fn and returns a function that removes it.
// The returned function is safe to call more than once.
func (h *Hub) Subscribe(fn Callback) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs = append(h.subs, subscriber{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

// Publish delivers event to all current subscribers.
func (h *Hub) Publish(event model.TaskEvent) {
	h.mu.RLock()
	subs := make([]subscriber, len(h.subs))
	copy(subs, h.subs)
	h.mu.RUnlock()

	for _, s := range subs {
		h.deliver(s, event)
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) deliver(s subscriber, event model.TaskEvent) {
	defer func() {
		if r := recover(); r != nil {
			taskID := ""
			if event.Task != nil {
				taskID = event.Task.ID
			}
			h.logger.Error("subscriber panicked",
				"subscriber", s.id,
				"task_id", taskID,
				"status", event.Status,
				"error", fmt.Sprint(r),
			)
		}
	}()
	s.fn(event)
}

func (h *Hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subs {
		if s.id == id {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			return
		}
	}
}

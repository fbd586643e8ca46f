package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/me/agentq/internal/logging"
	"github.com/me/agentq/pkg/model"
)

// op is one pending journal write: an event to record or a task to forget.
type op struct {
	event  model.TaskEvent
	forget string
}

// Recorder writes task events to a Store from a background goroutine, so
// scheduler callbacks never wait on the database. Handle is a notify callback.
//
// Writes are applied in the order they were handed over, so a Forget issued
// after a task's queued event always lands after it.
type Recorder struct {
	store   Store
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	ops    chan op
	done   chan struct{}
}

// NewRecorder starts a recorder with room for buffer pending writes.
// Events arriving while the buffer is full are dropped and logged. A nil
// logger discards output.
func NewRecorder(st Store, buffer int, logger *slog.Logger) *Recorder {
	if buffer < 1 {
		buffer = 256
	}
	r := &Recorder{
		store:   st,
		logger:  logging.OrDiscard(logger).With("component", "recorder"),
		timeout: 5 * time.Second,
		ops:     make(chan op, buffer),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Handle queues event for writing. It never blocks.
func (r *Recorder) Handle(event model.TaskEvent) {
	if event.Task == nil {
		return
	}
	if !r.submit(op{event: event}) {
		r.logger.Warn("history buffer full, dropping event",
			"task_id", event.Task.ID, "status", event.Status)
	}
}

// Forget queues removal of a cancelled task. It never blocks.
func (r *Recorder) Forget(id string) {
	if !r.submit(op{forget: id}) {
		r.logger.Warn("history buffer full, cancelled task stays in history", "task_id", id)
	}
}

// submit reports false only when the buffer is full.
func (r *Recorder) submit(o op) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return true
	}
	select {
	case r.ops <- o:
		return true
	default:
		return false
	}
}

// Close stops accepting writes and waits until the pending ones are applied.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.ops)
	}
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for o := range r.ops {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if o.forget != "" {
			if err := r.store.Forget(ctx, o.forget); err != nil {
				r.logger.Error("forget task", "task_id", o.forget, "error", err)
			}
		} else if err := r.store.Record(ctx, o.event); err != nil {
			r.logger.Error("record event", "task_id", o.event.Task.ID, "status", o.event.Status, "error", err)
		}
		cancel()
	}
}

package model

import (
	"time"
)

// Payload describes the work an agent task performs. The scheduler never
// interprets it; it is handed to the executor and to the resource key policy.
type Payload struct {
	Query    string            `json:"query"`
	Mode     string            `json:"mode,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Clone returns a copy with its own Metadata map.
func (p Payload) Clone() Payload {
	c := p
	if p.Metadata != nil {
		c.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// Task is one admitted unit of work.
type Task struct {
	ID          string     `json:"id"`
	Payload     Payload    `json:"payload"`
	ResourceKey string     `json:"resource_key"`
	Priority    Priority   `json:"priority"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Result and Error are mutually exclusive and set only on a terminal transition.
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Clone returns a copy that shares no mutable state with t.
// Result is copied by reference; executors should return immutable values.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Payload = t.Payload.Clone()
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return &c
}

// WaitTime is how long the task sat in the queue. Zero until it starts.
func (t *Task) WaitTime() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return t.StartedAt.Sub(t.CreatedAt)
}

// RunTime is how long the executor took. Zero until the task is terminal.
func (t *Task) RunTime() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// TaskEvent is emitted once per lifecycle transition.
type TaskEvent struct {
	Status    TaskStatus `json:"status"`
	Task      *Task      `json:"task"`
	Timestamp time.Time  `json:"timestamp"`
}

// ResourceUnit is a loaded shared resource (a model) as seen from outside the pool.
type ResourceUnit struct {
	Key        string    `json:"key"`
	LoadedAt   time.Time `json:"loaded_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	Pinned     int       `json:"pinned"`
}

// SchedulerStatus is a point-in-time snapshot of the scheduler.
type SchedulerStatus struct {
	Queued             int      `json:"queued"`
	Running            int      `json:"running"`
	MaxParallel        int      `json:"max_parallel"`
	MaxConcurrentUnits int      `json:"max_concurrent_units"`
	LoadedUnits        []string `json:"loaded_units"`
}

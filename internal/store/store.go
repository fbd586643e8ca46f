// Package store keeps a journal of task lifecycle events in SQLite.
//
// The journal answers lookups for tasks the scheduler has already forgotten
// and serves the history listing. It is never read back into the queue: a
// restarted server starts with an empty queue.
package store

import (
	"context"
	"time"

	"github.com/me/agentq/pkg/model"
)

// Store defines the persistence layer for task history.
type Store interface {
	// Record upserts the task carried by event and appends the event to the
	// task's timeline. A task that is already terminal is not overwritten.
	Record(ctx context.Context, event model.TaskEvent) error

	// GetTask returns the latest recorded state of a task, or nil if unknown.
	GetTask(ctx context.Context, id string) (*model.Task, error)

	// ListRecent returns tasks newest first with the total matching count.
	ListRecent(ctx context.Context, opts model.ListOptions) ([]*model.Task, int, error)

	// ListEvents returns a task's transitions in the order they were recorded.
	ListEvents(ctx context.Context, taskID string) ([]EventRecord, error)

	// Forget removes a task and its timeline. Used for tasks cancelled
	// while queued, which never reach a terminal state.
	Forget(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// EventRecord is one row of a task's timeline.
type EventRecord struct {
	TaskID    string           `json:"task_id"`
	Status    model.TaskStatus `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
}

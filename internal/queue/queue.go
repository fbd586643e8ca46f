// Package queue holds tasks that have been admitted but not yet started.
package queue

import "github.com/me/agentq/pkg/model"

// Queue orders not-yet-started tasks by priority, then arrival.
//
// A task is inserted just before the first queued task of strictly lower
// priority, so high-priority work jumps ahead of everything normal or low
// while each priority tier stays FIFO. Queues are expected to be small, so
// a slice with linear insertion is used rather than a heap.
//
// Queue is not safe for concurrent use; the scheduler serializes access.
type Queue struct {
	items []*model.Task
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue inserts task respecting priority and arrival order.
func (q *Queue) Enqueue(task *model.Task) {
	rank := task.Priority.Rank()
	idx := len(q.items)
	for i, t := range q.items {
		if t.Priority.Rank() < rank {
			idx = i
			break
		}
	}
	q.items = append(q.items, nil)
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = task
}

// Peek returns the next task without removing it.
func (q *Queue) Peek() (*model.Task, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// DequeueNext removes and returns the highest-priority, earliest task.
func (q *Queue) DequeueNext() (*model.Task, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	t := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return t, true
}

// Remove deletes a queued task by ID. Returns true if it was found.
func (q *Queue) Remove(id string) bool {
	for i, t := range q.items {
		if t.ID == id {
			copy(q.items[i:], q.items[i+1:])
			q.items[len(q.items)-1] = nil
			q.items = q.items[:len(q.items)-1]
			return true
		}
	}
	return false
}

// Position returns the 1-based rank of the task, or 0 if it is not queued.
func (q *Queue) Position(id string) int {
	for i, t := range q.items {
		if t.ID == id {
			return i + 1
		}
	}
	return 0
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	return len(q.items)
}

// IDs returns the queued task IDs in dispatch order.
func (q *Queue) IDs() []string {
	ids := make([]string, len(q.items))
	for i, t := range q.items {
		ids[i] = t.ID
	}
	return ids
}

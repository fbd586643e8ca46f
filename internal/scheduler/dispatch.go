package scheduler

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/me/agentq/pkg/model"
)

// dispatch admits queued tasks until a ceiling is reached or the queue is
// empty. It is safe to call from any goroutine at any time; each pop runs
// entirely under s.mu, so a task is never admitted twice.
func (s *Scheduler) dispatch() {
	for {
		s.mu.Lock()
		task, ok := s.admitLocked()
		s.mu.Unlock()
		if !ok {
			return
		}

		snapshot := task.Clone()
		s.publish(snapshot, *snapshot.StartedAt)
		s.launch(snapshot)
	}
}

// admitLocked moves the head of the queue to running if both ceilings allow
// it: peek, make its model resident, dequeue, mark running, pin and touch.
func (s *Scheduler) admitLocked() (*model.Task, bool) {
	if s.stopping || s.running >= s.maxParallel {
		return nil, false
	}
	head, ok := s.queue.Peek()
	if !ok || s.announcing[head.ID] {
		return nil, false
	}

	res, ok := s.pool.EnsureLoaded(head.ResourceKey)
	if !ok {
		// Every loaded model is pinned by a running task. The head waits for
		// one of them to finish rather than letting a later task overtake it.
		s.metrics.Deferred()
		s.logger.Debug("dispatch deferred, all models in use",
			"task_id", head.ID, "model", head.ResourceKey)
		return nil, false
	}

	task, _ := s.queue.DequeueNext()
	if err := transition(task, model.TaskStatusRunning); err != nil {
		// Only queued tasks are ever enqueued; anything else is dropped.
		s.logger.Error("dispatch", "task_id", task.ID, "error", err)
		delete(s.tasks, task.ID)
		s.updateDepthLocked()
		s.signalIdleLocked()
		return s.admitLocked()
	}
	now := s.now().UTC()
	task.StartedAt = &now
	s.running++
	s.active++
	s.pool.Pin(task.ResourceKey)
	s.pool.Touch(task.ResourceKey)
	s.updateDepthLocked()
	s.inflight.Add(1)

	s.metrics.Started(task.WaitTime())
	s.logger.Info("task started",
		"task_id", task.ID, "model", task.ResourceKey, "priority", task.Priority,
		"loaded", res.Loaded, "evicted", res.Evicted)
	return task, true
}

// launch runs the executor for t on its own goroutine.
func (s *Scheduler) launch(t *model.Task) {
	ctx, span := s.tracer.Start(s.baseCtx, "agentq.execute",
		trace.WithAttributes(
			attribute.String("agentq.task_id", t.ID),
			attribute.String("agentq.model", t.ResourceKey),
			attribute.String("agentq.priority", string(t.Priority)),
			attribute.String("agentq.mode", t.Payload.Mode),
		))

	go func() {
		defer s.inflight.Done()
		defer span.End()

		result, err := s.execute(ctx, t)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		s.finish(t.ID, result, err)
	}()
}

// execute calls the executor, turning a panic into an error.
func (s *Scheduler) execute(ctx context.Context, t *model.Task) (result any, err error) {
	if timeout := s.cfg.TaskTimeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("executor panicked", "task_id", t.ID, "panic", r)
			result, err = nil, panicError(r)
		}
	}()
	return s.exec.Execute(ctx, t.Payload, t.ResourceKey)
}

// finish records the terminal state of a running task, publishes it and
// re-runs dispatch.
func (s *Scheduler) finish(id string, result any, execErr error) {
	next := model.TaskStatusCompleted
	if execErr != nil {
		next = model.TaskStatusFailed
	}

	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		s.logger.Error("finish for unknown task", "task_id", id)
		return
	}
	if err := transition(task, next); err != nil {
		s.mu.Unlock()
		s.logger.Error("finish", "task_id", id, "error", err)
		return
	}

	now := s.now().UTC()
	task.CompletedAt = &now
	if execErr != nil {
		task.Error = execErr.Error()
	} else {
		task.Result = result
	}
	s.running--
	s.pool.Unpin(task.ResourceKey)
	s.retireLocked(task)
	s.updateDepthLocked()
	snapshot := task.Clone()
	s.mu.Unlock()

	s.metrics.Finished(string(snapshot.Status), snapshot.RunTime())
	if execErr != nil {
		s.logger.Warn("task failed", "task_id", id, "model", snapshot.ResourceKey, "error", execErr)
	} else {
		s.logger.Info("task completed", "task_id", id, "model", snapshot.ResourceKey,
			"duration", snapshot.RunTime())
	}
	s.publish(snapshot, now)

	s.dispatch()

	s.mu.Lock()
	s.active--
	s.signalIdleLocked()
	s.mu.Unlock()
}

// transition moves t to next if the state table allows it.
func transition(t *model.Task, next model.TaskStatus) error {
	if !t.Status.CanTransitionTo(next) {
		return &model.InvalidTransitionError{ID: t.ID, From: t.Status, To: next}
	}
	t.Status = next
	return nil
}

package scheduler

import (
	"context"
	"time"
)

// Start runs the idle sweep every IdleSweepInterval. Blocks until ctx is
// cancelled or Stop is called. Calling Start more than once is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	first := false
	s.startOnce.Do(func() {
		s.mu.Lock()
		s.started = true
		s.mu.Unlock()
		first = true
	})
	if !first {
		return nil
	}
	defer close(s.doneCh)

	interval := s.cfg.IdleSweepInterval.Std()
	if interval <= 0 {
		interval = 60 * time.Second
	}
	st := s.Status()
	s.logger.Info("scheduler started",
		"sweep_interval", interval, "idle_threshold", s.cfg.IdleThreshold.Std(),
		"max_parallel", st.MaxParallel, "max_concurrent_units", st.MaxConcurrentUnits)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopping (context cancelled)")
			return ctx.Err()
		case <-s.stopCh:
			s.logger.Info("sweeper stopping (stop called)")
			return nil
		case <-ticker.C:
			s.SweepIdle()
		}
	}
}

// SweepIdle evicts every model unused for longer than IdleThreshold and
// returns the evicted keys. Start calls it on a timer.
func (s *Scheduler) SweepIdle() []string {
	threshold := s.cfg.IdleThreshold.Std()
	if threshold <= 0 {
		threshold = 300 * time.Second
	}

	s.mu.Lock()
	evicted := s.pool.SweepIdle(s.now(), threshold)
	s.updateDepthLocked()
	s.mu.Unlock()

	if len(evicted) > 0 {
		s.logger.Info("idle sweep", "evicted", evicted)
		s.dispatch()
	}
	return evicted
}

// Stop halts admission and the sweeper, then waits for running tasks to
// finish. Queued tasks stay queued. If ctx expires first, running executions
// are cancelled and Stop returns ctx.Err() once they have returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopping = true
		started := s.started
		s.mu.Unlock()

		close(s.stopCh)
		if started {
			<-s.doneCh
		}
	})

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		s.unloads.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancelBase()
		return nil
	case <-ctx.Done():
		s.logger.Warn("stop deadline reached, cancelling running tasks")
		s.cancelBase()
		<-done
		return ctx.Err()
	}
}

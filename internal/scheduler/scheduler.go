// Package scheduler admits queued agent tasks to an executor while holding
// two ceilings: the number of tasks running at once and the number of
// models loaded at once.
//
// A Scheduler is an explicit object with its own lifecycle. Construct one with
// New, call Start to run the idle sweeper, and Stop to shut it down. Task
// admission does not depend on Start; Enqueue dispatches immediately.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/me/agentq/internal/config"
	"github.com/me/agentq/internal/logging"
	"github.com/me/agentq/internal/metrics"
	"github.com/me/agentq/internal/notify"
	"github.com/me/agentq/internal/queue"
	"github.com/me/agentq/internal/resource"
	"github.com/me/agentq/pkg/model"
)

// DefaultResourceKey is used when neither the caller nor the ResourceKeyFunc
// names a model.
const DefaultResourceKey = "default"

// Executor runs a task body. It is called on its own goroutine and may block
// for as long as the work takes. A returned error fails the task.
type Executor interface {
	Execute(ctx context.Context, payload model.Payload, resourceKey string) (any, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, payload model.Payload, resourceKey string) (any, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, payload model.Payload, resourceKey string) (any, error) {
	return f(ctx, payload, resourceKey)
}

// Unloader is implemented by executors that hold real models and can free
// them. Unload is called asynchronously after the pool evicts key.
type Unloader interface {
	Unload(ctx context.Context, key string) error
}

// ResourceKeyFunc picks a model for a payload when Enqueue is given none.
type ResourceKeyFunc func(model.Payload) string

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock overrides time.Now for timestamps, LRU bookkeeping and the idle sweep.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithMetrics records scheduler activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithTracerProvider traces every execution as a span. The default uses the
// global provider, which is a no-op unless the host installs one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Scheduler) { s.tracer = tp.Tracer(tracerName) }
}

// WithResourceKeyFunc sets the mode → model policy.
func WithResourceKeyFunc(fn ResourceKeyFunc) Option {
	return func(s *Scheduler) { s.keyFor = fn }
}

// WithUnloader sets the hook called after evictions. By default the
// executor is used if it implements Unloader.
func WithUnloader(u Unloader) Option {
	return func(s *Scheduler) { s.unloader = u }
}

const (
	tracerName    = "github.com/me/agentq/internal/scheduler"
	unloadTimeout = 30 * time.Second
)

// Scheduler is the admission controller. All methods are safe for
// concurrent use.
type Scheduler struct {
	mu          sync.Mutex
	idle        *sync.Cond // signalled when nothing is queued or running
	queue       *queue.Queue
	pool        *resource.Pool
	tasks       map[string]*model.Task // queued, running and retained finished tasks
	announcing  map[string]bool        // queued tasks whose queued event is still being delivered
	retired     []string               // finished task IDs, oldest first
	running     int
	active      int // admitted tasks whose completion is not yet fully published
	maxParallel int
	stopping    bool

	cfg      config.SchedulerConfig
	exec     Executor
	keyFor   ResourceKeyFunc
	unloader Unloader
	hub      *notify.Hub
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time

	baseCtx    context.Context
	cancelBase context.CancelFunc
	inflight   sync.WaitGroup // executor goroutines
	unloads    sync.WaitGroup // Unloader goroutines

	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
}

// New creates a scheduler. Limits below 1 are raised to 1.
func New(cfg config.SchedulerConfig, exec Executor, opts ...Option) *Scheduler {
	s := &Scheduler{
		queue:       queue.New(),
		tasks:       make(map[string]*model.Task),
		announcing:  make(map[string]bool),
		maxParallel: max(cfg.MaxParallel, 1),
		cfg:         cfg,
		exec:        exec,
		logger:      logging.Discard(),
		now:         time.Now,
		tracer:      otel.Tracer(tracerName),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	s.idle = sync.NewCond(&s.mu)
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "scheduler")
	if s.keyFor == nil {
		s.keyFor = func(model.Payload) string { return DefaultResourceKey }
	}
	if s.unloader == nil {
		if u, ok := exec.(Unloader); ok {
			s.unloader = u
		}
	}
	s.hub = notify.NewHub(s.logger)
	s.pool = resource.NewPool(cfg.MaxConcurrentUnits,
		resource.WithClock(s.now),
		resource.WithPinning(cfg.PinRunningUnits),
		resource.OnLoad(s.onLoad),
		resource.OnEvict(s.onEvict),
		resource.OnUnload(s.onUnload),
	)
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())
	return s
}

// Enqueue admits a task and returns its ID. It never blocks on admission and
// never fails. An empty resourceKey is resolved by the ResourceKeyFunc, and an
// unknown priority is treated as normal.
func (s *Scheduler) Enqueue(payload model.Payload, resourceKey string, priority model.Priority) string {
	if resourceKey == "" {
		resourceKey = s.keyFor(payload)
	}
	if resourceKey == "" {
		resourceKey = DefaultResourceKey
	}
	switch priority {
	case model.PriorityHigh, model.PriorityNormal, model.PriorityLow:
	default:
		priority = model.PriorityNormal
	}

	task := &model.Task{
		ID:          "task_" + uuid.New().String(),
		Payload:     payload.Clone(),
		ResourceKey: resourceKey,
		Priority:    priority,
		Status:      model.TaskStatusQueued,
		CreatedAt:   s.now().UTC(),
	}

	// The task is visible to Task and QueuePosition while its queued event
	// is delivered, but admission holds it back until delivery is done so no
	// subscriber sees running before queued.
	s.mu.Lock()
	s.tasks[task.ID] = task
	s.queue.Enqueue(task)
	s.announcing[task.ID] = true
	s.updateDepthLocked()
	snapshot := task.Clone()
	s.mu.Unlock()

	s.publish(snapshot, snapshot.CreatedAt)

	s.mu.Lock()
	delete(s.announcing, task.ID)
	s.mu.Unlock()

	s.metrics.Enqueued(string(priority))
	s.logger.Debug("task enqueued", "task_id", task.ID, "model", resourceKey, "priority", priority)

	s.dispatch()
	return task.ID
}

// Cancel removes a queued task. It returns false if the task is running,
// finished or unknown; running tasks cannot be cancelled.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.queue.Remove(id) {
		return false
	}
	delete(s.tasks, id)
	delete(s.announcing, id)
	s.updateDepthLocked()
	s.signalIdleLocked()
	s.metrics.Cancelled()
	s.logger.Info("task cancelled", "task_id", id)
	return true
}

// Status returns a snapshot of queue depth, running count and limits.
func (s *Scheduler) Status() model.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return model.SchedulerStatus{
		Queued:             s.queue.Len(),
		Running:            s.running,
		MaxParallel:        s.maxParallel,
		MaxConcurrentUnits: s.pool.Max(),
		LoadedUnits:        s.pool.Keys(),
	}
}

// QueuePosition returns the 1-based queue position of id, or 0 if the task
// is running, finished or unknown.
func (s *Scheduler) QueuePosition(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Position(id)
}

// Task returns a copy of a queued, running or recently finished task.
func (s *Scheduler) Task(id string) (*model.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Subscribe registers fn for every task lifecycle event and returns a
// function that removes it. fn runs on scheduler or executor goroutines and
// must not block for long; it may call back into the Scheduler. While the
// queued event is delivered, Task and QueuePosition already report the task.
func (s *Scheduler) Subscribe(fn notify.Callback) func() {
	return s.hub.Subscribe(fn)
}

// LoadedUnits returns the loaded models sorted by key.
func (s *Scheduler) LoadedUnits() []model.ResourceUnit {
	return s.pool.Loaded()
}

// SetMaxParallel changes the running-task ceiling. Raising it admits queued
// tasks at once; lowering it never interrupts running tasks.
func (s *Scheduler) SetMaxParallel(n int) {
	n = max(n, 1)
	s.mu.Lock()
	old := s.maxParallel
	s.maxParallel = n
	s.mu.Unlock()

	s.logger.Info("max parallel changed", "from", old, "to", n)
	s.dispatch()
}

// SetMaxConcurrentUnits changes the loaded-model ceiling, evicting
// least-recently-used models that no longer fit. Models in use are evicted
// only when idle ones do not free enough room; their tasks keep running and
// the Unloader is called after the last of them finishes.
func (s *Scheduler) SetMaxConcurrentUnits(n int) {
	n = max(n, 1)
	s.mu.Lock()
	evicted := s.pool.SetMaxUnits(n)
	s.updateDepthLocked()
	s.mu.Unlock()

	s.logger.Info("max concurrent units changed", "to", n, "evicted", len(evicted))
	s.dispatch()
}

// Wait blocks until no task is queued or running and every terminal event
// has been delivered.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.queue.Len() > 0 || s.active > 0 {
		s.idle.Wait()
	}
}

func (s *Scheduler) publish(t *model.Task, at time.Time) {
	s.hub.Publish(model.TaskEvent{Status: t.Status, Task: t, Timestamp: at})
}

// onLoad, onEvict and onUnload run under the pool lock, which is only ever
// taken while s.mu is held.
func (s *Scheduler) onLoad(key string) {
	s.metrics.ModelLoaded()
	s.logger.Info("model loaded", "model", key)
}

func (s *Scheduler) onEvict(key string, reason resource.EvictReason) {
	s.metrics.ModelEvicted(string(reason))
	s.logger.Info("model evicted", "model", key, "reason", reason)
}

// onUnload frees a model once no running task holds it.
func (s *Scheduler) onUnload(key string) {
	if s.unloader == nil {
		return
	}
	s.unloads.Add(1)
	go func() {
		defer s.unloads.Done()
		ctx, cancel := context.WithTimeout(s.baseCtx, unloadTimeout)
		defer cancel()
		if err := s.unloader.Unload(ctx, key); err != nil {
			s.logger.Warn("unload model", "model", key, "error", err)
		}
	}()
}

func (s *Scheduler) updateDepthLocked() {
	s.metrics.SetDepth(s.queue.Len(), s.running)
	s.metrics.SetLoaded(s.pool.Len())
}

func (s *Scheduler) signalIdleLocked() {
	if s.queue.Len() == 0 && s.active == 0 {
		s.idle.Broadcast()
	}
}

// retireLocked keeps a finished task answerable by Task for a while.
func (s *Scheduler) retireLocked(t *model.Task) {
	if s.cfg.HistoryLimit <= 0 {
		delete(s.tasks, t.ID)
		return
	}
	s.retired = append(s.retired, t.ID)
	for len(s.retired) > s.cfg.HistoryLimit {
		delete(s.tasks, s.retired[0])
		s.retired = s.retired[1:]
	}
}

func panicError(r any) error {
	return fmt.Errorf("panic: %v", r)
}

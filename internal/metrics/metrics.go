// Package metrics exposes scheduler instrumentation as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the scheduler's collectors. A nil *Metrics is a no-op, so
// components can take one unconditionally.
type Metrics struct {
	tasksQueued   prometheus.Gauge
	tasksRunning  prometheus.Gauge
	modelsLoaded  prometheus.Gauge
	enqueued      *prometheus.CounterVec
	finished      *prometheus.CounterVec
	cancelled     prometheus.Counter
	modelLoads    prometheus.Counter
	evictions     *prometheus.CounterVec
	queueWait     prometheus.Histogram
	taskDuration  prometheus.Histogram
	deferredLoads prometheus.Counter
}

// New registers the collectors with reg. Use a fresh prometheus.NewRegistry()
// per scheduler; registering twice on one registry panics.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		tasksQueued: f.NewGauge(prometheus.GaugeOpts{
			Name: "agentq_tasks_queued",
			Help: "Number of tasks waiting for admission",
		}),
		tasksRunning: f.NewGauge(prometheus.GaugeOpts{
			Name: "agentq_tasks_running",
			Help: "Number of tasks dispatched to the executor",
		}),
		modelsLoaded: f.NewGauge(prometheus.GaugeOpts{
			Name: "agentq_models_loaded",
			Help: "Number of resource units currently loaded",
		}),
		enqueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentq_tasks_enqueued_total",
			Help: "Total number of tasks admitted to the queue",
		}, []string{"priority"}),
		finished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentq_tasks_finished_total",
			Help: "Total number of tasks that reached a terminal status",
		}, []string{"status"}),
		cancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "agentq_tasks_cancelled_total",
			Help: "Total number of queued tasks removed by cancel",
		}),
		modelLoads: f.NewCounter(prometheus.CounterOpts{
			Name: "agentq_model_loads_total",
			Help: "Total number of resource unit loads",
		}),
		evictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentq_model_evictions_total",
			Help: "Total number of resource unit evictions",
		}, []string{"reason"}),
		queueWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentq_queue_wait_seconds",
			Help:    "Time a task spent queued before it started",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		taskDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentq_task_duration_seconds",
			Help:    "Time the executor spent on a task",
			Buckets: prometheus.ExponentialBuckets(0.05, 3, 10),
		}),
		deferredLoads: f.NewCounter(prometheus.CounterOpts{
			Name: "agentq_dispatch_deferred_total",
			Help: "Dispatch passes stopped because every loaded model was in use",
		}),
	}
}

// SetDepth records the queue and running set sizes.
func (m *Metrics) SetDepth(queued, running int) {
	if m == nil {
		return
	}
	m.tasksQueued.Set(float64(queued))
	m.tasksRunning.Set(float64(running))
}

// SetLoaded records the number of loaded units.
func (m *Metrics) SetLoaded(n int) {
	if m == nil {
		return
	}
	m.modelsLoaded.Set(float64(n))
}

// Enqueued counts an admitted task.
func (m *Metrics) Enqueued(priority string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(priority).Inc()
}

// Started records how long a task waited.
func (m *Metrics) Started(wait time.Duration) {
	if m == nil {
		return
	}
	m.queueWait.Observe(wait.Seconds())
}

// Finished counts a terminal task and observes its run time.
func (m *Metrics) Finished(status string, run time.Duration) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(status).Inc()
	m.taskDuration.Observe(run.Seconds())
}

// Cancelled counts a removed queued task.
func (m *Metrics) Cancelled() {
	if m == nil {
		return
	}
	m.cancelled.Inc()
}

// ModelLoaded counts a load.
func (m *Metrics) ModelLoaded() {
	if m == nil {
		return
	}
	m.modelLoads.Inc()
}

// ModelEvicted counts an eviction by reason.
func (m *Metrics) ModelEvicted(reason string) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(reason).Inc()
}

// Deferred counts a dispatch pass blocked on resource capacity.
func (m *Metrics) Deferred() {
	if m == nil {
		return
	}
	m.deferredLoads.Inc()
}

package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordsValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetDepth(3, 2)
	m.SetLoaded(1)
	m.Enqueued("high")
	m.Enqueued("high")
	m.Finished("completed", 2*time.Second)
	m.ModelEvicted("idle")
	m.Cancelled()

	if got := testutil.ToFloat64(m.tasksQueued); got != 3 {
		t.Errorf("tasks_queued = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.tasksRunning); got != 2 {
		t.Errorf("tasks_running = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.enqueued.WithLabelValues("high")); got != 2 {
		t.Errorf("enqueued{high} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.finished.WithLabelValues("completed")); got != 1 {
		t.Errorf("finished{completed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.evictions.WithLabelValues("idle")); got != 1 {
		t.Errorf("evictions{idle} = %v, want 1", got)
	}

	expected := `
# HELP agentq_models_loaded Number of resource units currently loaded
# TYPE agentq_models_loaded gauge
agentq_models_loaded 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "agentq_models_loaded"); err != nil {
		t.Errorf("gather models_loaded: %v", err)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.SetDepth(1, 1)
	m.SetLoaded(1)
	m.Enqueued("normal")
	m.Started(time.Second)
	m.Finished("failed", time.Second)
	m.Cancelled()
	m.ModelLoaded()
	m.ModelEvicted("lru")
	m.Deferred()
}

func TestNew_IndependentRegistries(t *testing.T) {
	// Two schedulers in one process must not collide.
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}

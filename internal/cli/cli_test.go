package cli

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/me/agentq/internal/config"
	"github.com/me/agentq/internal/executor"
	"github.com/me/agentq/internal/logging"
	"github.com/me/agentq/internal/scheduler"
	"github.com/me/agentq/internal/server"
	"github.com/me/agentq/internal/store"
	"github.com/me/agentq/pkg/model"
)

// blockingEcho echoes like the echo backend but holds queries named
// "block" until the test ends.
type blockingEcho struct {
	echo *executor.EchoExecutor
	done chan struct{}
}

func (b *blockingEcho) Execute(ctx context.Context, p model.Payload, key string) (any, error) {
	if p.Query == "block" {
		select {
		case <-b.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return b.echo.Execute(ctx, p, key)
}

type testEnv struct {
	url   string
	sched *scheduler.Scheduler
	store *store.SQLiteStore
}

// startTestServer starts a server with one execution slot, an in-memory
// history store and the echo backend, and returns its URL.
func startTestServer(t *testing.T) *testEnv {
	t.Helper()
	srvLogger := logging.Discard()

	st, err := store.NewSQLiteStore(":memory:", srvLogger)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	rec := store.NewRecorder(st, 64, srvLogger)

	cfg := config.DefaultSchedulerConfig()
	cfg.MaxParallel = 1
	exec := &blockingEcho{echo: executor.NewEchoExecutor(0, srvLogger), done: make(chan struct{})}
	sched := scheduler.New(cfg, exec, scheduler.WithLogger(srvLogger))
	sched.Subscribe(rec.Handle)

	srvCfg := config.DefaultServerConfig()
	srvCfg.Executor = executor.BackendEcho
	srv := server.New(srvCfg, sched, srvLogger, server.WithStore(st), server.WithRecorder(rec))
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		close(exec.done)
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sched.Stop(ctx)
		rec.Close()
		st.Close()
	})
	return &testEnv{url: ts.URL, sched: sched, store: st}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)

	err := root.Execute()
	return buf.String(), err
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSubmitCommand(t *testing.T) {
	env := startTestServer(t)

	output, err := runCLI(t, "--server", env.url, "submit", "what", "is", "new", "--model", "phi3:mini")
	if err != nil {
		t.Fatalf("submit error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "Task started: task_") {
		t.Errorf("expected 'Task started: task_' in output, got: %s", output)
	}
}

func TestSubmitCommand_Queued(t *testing.T) {
	env := startTestServer(t)
	env.sched.Enqueue(model.Payload{Query: "block"}, "phi3:mini", model.PriorityNormal)

	output, err := runCLI(t, "--server", env.url, "submit", "second", "-p", "high")
	if err != nil {
		t.Fatalf("submit error: %v", err)
	}
	if !strings.Contains(output, "(position 1)") {
		t.Errorf("expected queue position in output, got: %s", output)
	}
}

func TestSubmitCommand_Wait(t *testing.T) {
	env := startTestServer(t)

	output, err := runCLI(t, "--server", env.url, "submit", "hello agent", "--mode", "research", "--wait")
	if err != nil {
		t.Fatalf("submit --wait error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "Status:   completed") {
		t.Errorf("expected completed status in output, got: %s", output)
	}
	if !strings.Contains(output, "Result:   hello agent") {
		t.Errorf("expected echoed result in output, got: %s", output)
	}
}

func TestSubmitCommand_Metadata(t *testing.T) {
	env := startTestServer(t)
	env.sched.Enqueue(model.Payload{Query: "block"}, "phi3:mini", model.PriorityNormal)

	metaFile := filepath.Join(t.TempDir(), "meta.yaml")
	if err := os.WriteFile(metaFile, []byte("tab: \"7\"\nsource: sidebar\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	output, err := runCLI(t, "--server", env.url, "submit", "summarise",
		"--metadata-file", metaFile, "--meta", "source=hotkey,lang=en")
	if err != nil {
		t.Fatalf("submit error: %v\noutput: %s", err, output)
	}
	id := strings.Fields(strings.TrimPrefix(output, "Task queued: "))[0]

	task, ok := env.sched.Task(id)
	if !ok {
		t.Fatalf("task %s not found", id)
	}
	want := map[string]string{"tab": "7", "source": "hotkey", "lang": "en"}
	for k, v := range want {
		if task.Payload.Metadata[k] != v {
			t.Errorf("metadata[%s] = %q, want %q", k, task.Payload.Metadata[k], v)
		}
	}
}

func TestSubmitCommand_BadPriority(t *testing.T) {
	env := startTestServer(t)
	_, err := runCLI(t, "--server", env.url, "submit", "x", "--priority", "urgent")
	if err == nil {
		t.Fatal("expected error for unknown priority")
	}
	if !strings.Contains(err.Error(), "VALIDATION_ERROR") {
		t.Errorf("error = %v, want VALIDATION_ERROR", err)
	}
}

func TestGetCommand(t *testing.T) {
	env := startTestServer(t)
	id := env.sched.Enqueue(model.Payload{Query: "look this up", Mode: "research"}, "phi3:mini", model.PriorityNormal)
	waitFor(t, "three recorded events", func() bool {
		events, _ := env.store.ListEvents(context.Background(), id)
		return len(events) == 3
	})

	output, err := runCLI(t, "--server", env.url, "get", id, "--events")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	for _, want := range []string{id, "Status:   completed", "Mode:     research", "Events:", "queued", "running"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestGetCommand_NotFound(t *testing.T) {
	env := startTestServer(t)
	_, err := runCLI(t, "--server", env.url, "get", "task_missing")
	if err == nil || !strings.Contains(err.Error(), "NOT_FOUND") {
		t.Errorf("error = %v, want NOT_FOUND", err)
	}
}

func TestCancelCommand(t *testing.T) {
	env := startTestServer(t)
	running := env.sched.Enqueue(model.Payload{Query: "block"}, "phi3:mini", model.PriorityNormal)
	queued := env.sched.Enqueue(model.Payload{Query: "later"}, "phi3:mini", model.PriorityNormal)

	output, err := runCLI(t, "--server", env.url, "cancel", queued)
	if err != nil {
		t.Fatalf("cancel error: %v", err)
	}
	if !strings.Contains(output, "cancelled") {
		t.Errorf("expected 'cancelled' in output, got: %s", output)
	}

	_, err = runCLI(t, "--server", env.url, "cancel", running)
	if err == nil || !strings.Contains(err.Error(), "CONFLICT") {
		t.Errorf("cancel running: error = %v, want CONFLICT", err)
	}
}

func TestPositionCommand(t *testing.T) {
	env := startTestServer(t)
	running := env.sched.Enqueue(model.Payload{Query: "block"}, "phi3:mini", model.PriorityNormal)
	env.sched.Enqueue(model.Payload{Query: "b"}, "phi3:mini", model.PriorityNormal)
	third := env.sched.Enqueue(model.Payload{Query: "c"}, "phi3:mini", model.PriorityNormal)

	output, err := runCLI(t, "--server", env.url, "position", third)
	if err != nil {
		t.Fatalf("position error: %v", err)
	}
	if !strings.Contains(output, "position 2") {
		t.Errorf("expected position 2, got: %s", output)
	}

	output, _ = runCLI(t, "--server", env.url, "position", running)
	if !strings.Contains(output, "not queued") {
		t.Errorf("expected 'not queued' for running task, got: %s", output)
	}
}

func TestStatusCommand(t *testing.T) {
	env := startTestServer(t)
	env.sched.Enqueue(model.Payload{Query: "block"}, "phi3:mini", model.PriorityNormal)
	env.sched.Enqueue(model.Payload{Query: "b"}, "llava:7b", model.PriorityNormal)

	output, err := runCLI(t, "--server", env.url, "status")
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	for _, want := range []string{"Queued:  1", "Running: 1 / 1", "phi3:mini"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestLimitsCommand(t *testing.T) {
	env := startTestServer(t)
	env.sched.Enqueue(model.Payload{Query: "block"}, "phi3:mini", model.PriorityNormal)
	env.sched.Enqueue(model.Payload{Query: "block"}, "phi3:mini", model.PriorityNormal)

	output, err := runCLI(t, "--server", env.url, "limits", "--max-parallel", "3", "--max-units", "1")
	if err != nil {
		t.Fatalf("limits error: %v", err)
	}
	if !strings.Contains(output, "Running: 2 / 3") {
		t.Errorf("expected raised limit to admit the queued task, got: %s", output)
	}
	if st := env.sched.Status(); st.MaxConcurrentUnits != 1 {
		t.Errorf("max units = %d, want 1", st.MaxConcurrentUnits)
	}
}

func TestLimitsCommand_NoFlags(t *testing.T) {
	env := startTestServer(t)
	if _, err := runCLI(t, "--server", env.url, "limits"); err == nil {
		t.Error("expected error without flags")
	}
}

func TestModelsCommand(t *testing.T) {
	env := startTestServer(t)

	output, err := runCLI(t, "--server", env.url, "models")
	if err != nil {
		t.Fatalf("models error: %v", err)
	}
	if !strings.Contains(output, "No models loaded.") {
		t.Errorf("expected empty message, got: %s", output)
	}

	env.sched.Enqueue(model.Payload{Query: "block"}, "llama3.2:3b", model.PriorityNormal)
	output, err = runCLI(t, "--server", env.url, "models")
	if err != nil {
		t.Fatalf("models error: %v", err)
	}
	if !strings.Contains(output, "MODEL") || !strings.Contains(output, "llama3.2:3b") {
		t.Errorf("expected model table, got: %s", output)
	}
}

func TestWatchCommand_Task(t *testing.T) {
	env := startTestServer(t)
	id := env.sched.Enqueue(model.Payload{Query: "quick"}, "phi3:mini", model.PriorityNormal)

	// The stream for a single task ends once it has finished.
	output, err := runCLI(t, "--server", env.url, "watch", id)
	if err != nil {
		t.Fatalf("watch error: %v", err)
	}
	if !strings.Contains(output, "completed") || !strings.Contains(output, id) {
		t.Errorf("expected completed event for %s, got: %s", id, output)
	}
}

func TestHistoryCommand(t *testing.T) {
	env := startTestServer(t)
	for _, q := range []string{"one", "two", "three"} {
		env.sched.Enqueue(model.Payload{Query: q}, "phi3:mini", model.PriorityLow)
	}
	waitFor(t, "three completed tasks in history", func() bool {
		_, total, _ := env.store.ListRecent(context.Background(), model.ListOptions{Status: "completed"})
		return total == 3
	})

	output, err := runCLI(t, "--server", env.url, "history", "-n", "2")
	if err != nil {
		t.Fatalf("history error: %v", err)
	}
	if !strings.Contains(output, "STATUS") || !strings.Contains(output, "completed") {
		t.Errorf("expected history table, got: %s", output)
	}
	if !strings.Contains(output, "(2 of 3 shown)") {
		t.Errorf("expected pagination footer, got: %s", output)
	}

	output, err = runCLI(t, "--server", env.url, "history", "--status", "failed")
	if err != nil {
		t.Fatalf("history error: %v", err)
	}
	if !strings.Contains(output, "No tasks found.") {
		t.Errorf("expected no failed tasks, got: %s", output)
	}
}

func TestRootCommand_BadLogFormat(t *testing.T) {
	_, err := runCLI(t, "--log-format", "xml", "status")
	if err == nil {
		t.Error("expected error for unknown log format")
	}
}

func TestClientStream_MultiLineData(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": heartbeat\n\n")
		fmt.Fprint(w, "event: completed\ndata: {\"id\":\"task_1\",\ndata: \"status\":\"completed\"}\n\n")
		fmt.Fprint(w, "event: queued\ndata: single\n\n")
	}))
	defer ts.Close()

	client := NewClient(ts.URL, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	var events, payloads []string
	err := client.Stream(context.Background(), "/api/v1/events", func(event string, data []byte) error {
		events = append(events, event)
		payloads = append(payloads, string(data))
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	if len(events) != 2 || events[0] != "completed" || events[1] != "queued" {
		t.Fatalf("events = %v", events)
	}
	if want := "{\"id\":\"task_1\",\n\"status\":\"completed\"}"; payloads[0] != want {
		t.Errorf("payload = %q, want %q", payloads[0], want)
	}
	if payloads[1] != "single" {
		t.Errorf("payload = %q, want %q", payloads[1], "single")
	}
}

package model

import (
	"testing"
	"time"
)

func TestTaskStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		terminal bool
	}{
		{TaskStatusQueued, false},
		{TaskStatusRunning, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("TaskStatus(%q).IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestTaskStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from  TaskStatus
		to    TaskStatus
		valid bool
	}{
		// Valid transitions
		{TaskStatusQueued, TaskStatusRunning, true},
		{TaskStatusRunning, TaskStatusCompleted, true},
		{TaskStatusRunning, TaskStatusFailed, true},

		// Invalid transitions
		{TaskStatusQueued, TaskStatusCompleted, false},
		{TaskStatusQueued, TaskStatusFailed, false},
		{TaskStatusRunning, TaskStatusQueued, false},
		{TaskStatusCompleted, TaskStatusFailed, false},
		{TaskStatusCompleted, TaskStatusRunning, false},
		{TaskStatusFailed, TaskStatusQueued, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.valid {
			t.Errorf("TaskStatus(%q).CanTransitionTo(%q) = %v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"", PriorityNormal, false},
		{"high", PriorityHigh, false},
		{"HIGH", PriorityHigh, false},
		{" low ", PriorityLow, false},
		{"normal", PriorityNormal, false},
		{"urgent", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePriority(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePriority(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPriority_Rank(t *testing.T) {
	if !(PriorityHigh.Rank() > PriorityNormal.Rank() && PriorityNormal.Rank() > PriorityLow.Rank()) {
		t.Errorf("ranks not ordered: high=%d normal=%d low=%d",
			PriorityHigh.Rank(), PriorityNormal.Rank(), PriorityLow.Rank())
	}
	if Priority("bogus").Rank() != PriorityNormal.Rank() {
		t.Error("unknown priority should rank as normal")
	}
}

func TestTask_Clone(t *testing.T) {
	started := time.Now()
	orig := &Task{
		ID:        "task_1",
		Payload:   Payload{Query: "q", Metadata: map[string]string{"k": "v"}},
		StartedAt: &started,
	}
	c := orig.Clone()
	c.Payload.Metadata["k"] = "changed"
	*c.StartedAt = started.Add(time.Hour)

	if orig.Payload.Metadata["k"] != "v" {
		t.Error("Clone shares metadata map with original")
	}
	if !orig.StartedAt.Equal(started) {
		t.Error("Clone shares StartedAt with original")
	}
	if (*Task)(nil).Clone() != nil {
		t.Error("nil Clone should return nil")
	}
}

func TestTask_Durations(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	started := created.Add(2 * time.Second)
	done := started.Add(5 * time.Second)
	task := &Task{CreatedAt: created}

	if task.WaitTime() != 0 || task.RunTime() != 0 {
		t.Error("durations should be zero before start")
	}
	task.StartedAt = &started
	task.CompletedAt = &done
	if got := task.WaitTime(); got != 2*time.Second {
		t.Errorf("WaitTime = %v, want 2s", got)
	}
	if got := task.RunTime(); got != 5*time.Second {
		t.Errorf("RunTime = %v, want 5s", got)
	}
}

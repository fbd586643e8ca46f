package routing

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/me/agentq/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouter_ModeTable(t *testing.T) {
	r, err := New("", DefaultModes(), "", testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		mode string
		want string
	}{
		{"research", "phi3:mini"},
		{"Trade", "phi3:mini"},
		{"image", "llava:7b"},
		{"", DefaultModel},
		{"unknown", DefaultModel},
	}
	for _, tt := range tests {
		if got := r.KeyFor(model.Payload{Mode: tt.mode}); got != tt.want {
			t.Errorf("KeyFor(mode=%q) = %q, want %q", tt.mode, got, tt.want)
		}
	}
}

func TestRouter_ModesShareAModel(t *testing.T) {
	r, _ := New("", DefaultModes(), "", testLogger())
	research := r.KeyFor(model.Payload{Mode: "research"})
	trade := r.KeyFor(model.Payload{Mode: "trade"})
	if research != trade {
		t.Errorf("research and trade map to %q and %q, want the same model", research, trade)
	}
}

func TestRouter_Expression(t *testing.T) {
	expr := `payload.metadata.size === "large" ? "mixtral" : (payload.query.length > 10 ? "long-model" : null)`
	r, err := New("fallback", map[string]string{"research": "phi3:mini"}, expr, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name    string
		payload model.Payload
		want    string
	}{
		{"metadata match", model.Payload{Query: "hi", Metadata: map[string]string{"size": "large"}}, "mixtral"},
		{"query length", model.Payload{Query: "a very long question"}, "long-model"},
		{"null falls back to mode table", model.Payload{Query: "short", Mode: "research"}, "phi3:mini"},
		{"null falls back to default", model.Payload{Query: "short"}, "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.KeyFor(tt.payload); got != tt.want {
				t.Errorf("KeyFor = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRouter_ExpressionRuntimeErrorFallsBack(t *testing.T) {
	r, err := New("fallback", nil, `payload.nope.deeper`, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := r.KeyFor(model.Payload{Query: "x"}); got != "fallback" {
		t.Errorf("KeyFor = %q, want fallback", got)
	}
}

func TestRouter_ExpressionNonStringFallsBack(t *testing.T) {
	r, err := New("fallback", nil, `42`, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := r.KeyFor(model.Payload{}); got != "fallback" {
		t.Errorf("KeyFor = %q, want fallback", got)
	}
}

func TestNew_InvalidExpression(t *testing.T) {
	if _, err := New("", nil, `payload.mode ===`, testLogger()); err == nil {
		t.Error("expected compile error for invalid expression")
	}
}

func TestRouter_NilLogger(t *testing.T) {
	r, err := New("", nil, `payload.nope.deeper`, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := r.KeyFor(model.Payload{}); got != DefaultModel {
		t.Errorf("KeyFor = %q, want %q", got, DefaultModel)
	}
}

func TestRouter_ExpressionTimeout(t *testing.T) {
	r, err := New("fallback", map[string]string{"research": "phi3:mini"}, `while (true) {}`, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := time.Now()
	got := r.KeyFor(model.Payload{Mode: "research"})
	if got != "phi3:mini" {
		t.Errorf("KeyFor = %q, want mode table fallback phi3:mini", got)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("KeyFor took %v, want the expression interrupted", elapsed)
	}
}

// Package executor provides the task bodies the scheduler runs: a local
// Ollama server and an echo backend for demos and tests.
package executor

import (
	"context"

	"github.com/me/agentq/pkg/model"
)

// Backend names accepted in configuration.
const (
	BackendOllama = "ollama"
	BackendEcho   = "echo"
)

// Executor is a pluggable backend that runs task payloads against a model.
// It satisfies scheduler.Executor.
type Executor interface {
	// Type returns the backend name.
	Type() string

	// Execute runs payload on the model named by resourceKey and returns the
	// result. It blocks until the work is done or ctx is cancelled.
	Execute(ctx context.Context, payload model.Payload, resourceKey string) (any, error)
}

// Unloader is implemented by backends that can free a model's memory.
type Unloader interface {
	Unload(ctx context.Context, resourceKey string) error
}

package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/me/agentq/pkg/model"
)

// EchoResult is what EchoExecutor returns.
type EchoResult struct {
	Model    string `json:"model"`
	Mode     string `json:"mode,omitempty"`
	Response string `json:"response"`
}

// EchoExecutor answers every task with its own query after an optional delay.
type EchoExecutor struct {
	delay  time.Duration
	logger *slog.Logger
}

// NewEchoExecutor creates an EchoExecutor.
func NewEchoExecutor(delay time.Duration, logger *slog.Logger) *EchoExecutor {
	return &EchoExecutor{
		delay:  delay,
		logger: logger.With("component", "echo-executor"),
	}
}

// Type returns BackendEcho.
func (e *EchoExecutor) Type() string {
	return BackendEcho
}

// Execute waits for the configured delay and echoes the query.
func (e *EchoExecutor) Execute(ctx context.Context, payload model.Payload, resourceKey string) (any, error) {
	if e.delay > 0 {
		timer := time.NewTimer(e.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e.logger.Debug("echo", "model", resourceKey, "mode", payload.Mode)
	return EchoResult{Model: resourceKey, Mode: payload.Mode, Response: payload.Query}, nil
}

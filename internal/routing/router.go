// Package routing decides which model (resource key) a task needs.
//
// Several task modes usually share one model, so the mapping is a policy
// that can change without touching the scheduler. A Router resolves a key in
// this order:
//
//  1. the JavaScript routing expression, if configured and it returns a
//     non-empty string;
//  2. the mode → model table;
//  3. the default model.
//
// The expression sees a single variable, payload, with fields query, mode and
// metadata. Example:
//
//	payload.query.length > 2000 ? "llama3.2:3b" : null
package routing

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/me/agentq/internal/logging"
	"github.com/me/agentq/pkg/model"
)

// DefaultModel is used when nothing else matches.
const DefaultModel = "llama3.2:3b"

// evalTimeout bounds one run of the routing expression. Enqueue waits on it.
const evalTimeout = 100 * time.Millisecond

// DefaultModes maps the built-in agent modes onto shared models.
func DefaultModes() map[string]string {
	return map[string]string{
		"research": "phi3:mini",
		"trade":    "phi3:mini",
		"browse":   "phi3:mini",
		"grammar":  "phi3:mini",
		"image":    "llava:7b",
		"agent":    DefaultModel,
	}
}

// Router maps payloads to resource keys.
type Router struct {
	defaultModel string
	modes        map[string]string
	program      *goja.Program
	logger       *slog.Logger
}

// New creates a Router. modes keys are matched case-insensitively.
// expr may be empty; a syntax error in expr is returned here rather than on
// every lookup.
func New(defaultModel string, modes map[string]string, expr string, logger *slog.Logger) (*Router, error) {
	if defaultModel == "" {
		defaultModel = DefaultModel
	}
	r := &Router{
		defaultModel: defaultModel,
		modes:        make(map[string]string, len(modes)),
		logger:       logging.OrDiscard(logger).With("component", "routing"),
	}
	for mode, key := range modes {
		r.modes[strings.ToLower(mode)] = key
	}

	if strings.TrimSpace(expr) != "" {
		prog, err := goja.Compile("routing_expr", expr, false)
		if err != nil {
			return nil, fmt.Errorf("compile routing expression: %w", err)
		}
		r.program = prog
	}
	return r, nil
}

// KeyFor returns the resource key for p. It never returns an empty string.
func (r *Router) KeyFor(p model.Payload) string {
	if r.program != nil {
		key, err := r.evaluate(p)
		if err != nil {
			r.logger.Warn("routing expression failed, using mode table", "mode", p.Mode, "error", err)
		} else if key != "" {
			return key
		}
	}
	if key, ok := r.modes[strings.ToLower(p.Mode)]; ok && key != "" {
		return key
	}
	return r.defaultModel
}

// evaluate runs the compiled expression in a fresh VM. goja runtimes are not
// safe for concurrent use, and a VM per call keeps callers independent.
func (r *Router) evaluate(p model.Payload) (string, error) {
	vm := goja.New()

	metadata := make(map[string]any, len(p.Metadata))
	for k, v := range p.Metadata {
		metadata[k] = v
	}
	if err := vm.Set("payload", map[string]any{
		"query":    p.Query,
		"mode":     p.Mode,
		"metadata": metadata,
	}); err != nil {
		return "", fmt.Errorf("set payload: %w", err)
	}

	timer := time.AfterFunc(evalTimeout, func() {
		vm.Interrupt("routing expression timed out")
	})
	defer timer.Stop()

	val, err := vm.RunProgram(r.program)
	if err != nil {
		return "", fmt.Errorf("JavaScript error: %w", err)
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return "", nil
	}
	key, ok := val.Export().(string)
	if !ok {
		return "", fmt.Errorf("routing expression returned %T, want string", val.Export())
	}
	return strings.TrimSpace(key), nil
}

package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/me/agentq/pkg/model"
)

// DefaultOllamaURL is where a local Ollama server listens.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaResult is the result of a completed generation.
type OllamaResult struct {
	Model      string        `json:"model"`
	Response   string        `json:"response"`
	EvalCount  int           `json:"eval_count,omitempty"`
	TotalTime  time.Duration `json:"total_duration,omitempty"`
	DoneReason string        `json:"done_reason,omitempty"`
}

// generateRequest is the body of POST /api/generate.
type generateRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt,omitempty"`
	System    string `json:"system,omitempty"`
	Stream    bool   `json:"stream"`
	KeepAlive *int   `json:"keep_alive,omitempty"`
}

// generateResponse is the non-streaming reply of POST /api/generate.
type generateResponse struct {
	Model         string `json:"model"`
	Response      string `json:"response"`
	Done          bool   `json:"done"`
	DoneReason    string `json:"done_reason"`
	EvalCount     int    `json:"eval_count"`
	TotalDuration int64  `json:"total_duration"` // nanoseconds
	Error         string `json:"error"`
}

// OllamaExecutor runs prompts on a local Ollama server. The resource key is
// the Ollama model name.
type OllamaExecutor struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewOllamaExecutor creates an executor talking to baseURL.
func NewOllamaExecutor(baseURL string, logger *slog.Logger) *OllamaExecutor {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &OllamaExecutor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		logger:  logger.With("component", "ollama-executor"),
	}
}

// Type returns BackendOllama.
func (e *OllamaExecutor) Type() string {
	return BackendOllama
}

// Execute sends the query as a prompt to model resourceKey. A "system" entry
// in the payload metadata becomes the system prompt.
func (e *OllamaExecutor) Execute(ctx context.Context, payload model.Payload, resourceKey string) (any, error) {
	if strings.TrimSpace(payload.Query) == "" {
		return nil, fmt.Errorf("empty query")
	}
	resp, err := e.generate(ctx, generateRequest{
		Model:  resourceKey,
		Prompt: payload.Query,
		System: payload.Metadata["system"],
	})
	if err != nil {
		return nil, err
	}
	return OllamaResult{
		Model:      resp.Model,
		Response:   resp.Response,
		EvalCount:  resp.EvalCount,
		TotalTime:  time.Duration(resp.TotalDuration),
		DoneReason: resp.DoneReason,
	}, nil
}

// Unload asks Ollama to drop resourceKey from memory right away.
func (e *OllamaExecutor) Unload(ctx context.Context, resourceKey string) error {
	zero := 0
	if _, err := e.generate(ctx, generateRequest{Model: resourceKey, KeepAlive: &zero}); err != nil {
		return fmt.Errorf("unload %s: %w", resourceKey, err)
	}
	e.logger.Info("model unloaded", "model", resourceKey)
	return nil
}

func (e *OllamaExecutor) generate(ctx context.Context, body generateRequest) (*generateResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	e.logger.Debug("generate", "model", body.Model, "unload", body.KeepAlive != nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/generate", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama generate: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("ollama generate: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("ollama: %s", out.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama generate: HTTP %d", resp.StatusCode)
	}
	return &out, nil
}

package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status     string      `json:"status"`
	RequestID  string      `json:"request_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *APIError   `json:"error"`
}

// Pagination holds list metadata for history responses.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// EnqueueRequest is the body of POST /api/v1/tasks.
// Model is optional; when empty the server's routing policy picks one from Mode.
type EnqueueRequest struct {
	Query    string            `json:"query"`
	Mode     string            `json:"mode,omitempty"`
	Model    string            `json:"model,omitempty"`
	Priority string            `json:"priority,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// EnqueueResponse is returned after a task is admitted to the queue.
type EnqueueResponse struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

// CancelResponse reports the outcome of a cancel request.
type CancelResponse struct {
	ID        string `json:"id"`
	Cancelled bool   `json:"cancelled"`
}

// PositionResponse reports a task's 1-based queue position (0 when not queued).
type PositionResponse struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

// LimitsRequest is the body of PUT /api/v1/limits. Nil fields are left unchanged.
type LimitsRequest struct {
	MaxParallel        *int `json:"max_parallel,omitempty"`
	MaxConcurrentUnits *int `json:"max_concurrent_units,omitempty"`
}

// ListOptions configures list queries.
type ListOptions struct {
	Limit  int
	Offset int
	Status string // Optional status filter
}

// DefaultListOptions returns sensible defaults.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 20}
}

// Clamp enforces limits (max 100, min 1) and a non-negative offset.
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

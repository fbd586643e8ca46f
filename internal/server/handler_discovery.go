package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "agentq API",
		Version:     "v1",
		Description: "Priority task queue for local model agents with bounded parallelism and model residency",
		Endpoints: []endpointInfo{
			{"/api/v1/tasks", []string{"POST"}, "Enqueue a task (query, mode, model, priority, metadata)"},
			{"/api/v1/tasks/{id}", []string{"GET", "DELETE"}, "Task detail; DELETE cancels a queued task"},
			{"/api/v1/tasks/{id}/position", []string{"GET"}, "1-based queue position, 0 once running or finished"},
			{"/api/v1/tasks/{id}/events", []string{"GET"}, "Recorded status transitions of a task"},
			{"/api/v1/status", []string{"GET"}, "Queue depth, running count, limits and loaded models"},
			{"/api/v1/limits", []string{"PUT"}, "Change max_parallel or max_concurrent_units"},
			{"/api/v1/models", []string{"GET"}, "Loaded models with last-use times"},
			{"/api/v1/history", []string{"GET"}, "Recorded tasks, newest first. Accepts limit, offset and status"},
			{"/api/v1/events", []string{"GET"}, "Server-Sent Events stream of task transitions. Accepts task=<id>"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
			{"/metrics", []string{"GET"}, "Prometheus metrics"},
		},
	})
}

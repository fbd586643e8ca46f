package server

import (
	"net/http"
	"runtime"
	"time"
)

// Version is the agentq API server version.
const Version = "0.1.0"

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Executor  string `json:"executor"`
	History   string `json:"history"`
	Queued    int    `json:"queued"`
	Running   int    `json:"running"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	st := s.scheduler.Status()

	history := "disabled"
	if s.store != nil {
		history = "sqlite"
	}
	respondOK(w, reqID, healthResponse{
		Status:    "healthy",
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Executor:  s.config.Executor,
		History:   history,
		Queued:    st.Queued,
		Running:   st.Running,
	})
}

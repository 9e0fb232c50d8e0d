package server

import (
	"context"
	"net/http"
	"time"
)

// maxHealthWait bounds the ?wait= duration of /healthz.
const maxHealthWait = 30 * time.Second

type healthResponse struct {
	Status  string          `json:"status"`
	Layers  map[string]bool `json:"layers"`
	Pending []string        `json:"pending,omitempty"`
}

// handleHealth reports 200 when every collection is bound and 503 otherwise.
// With ?wait=<duration> it first waits for pending collections to bind.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "invalid_wait", "wait must be a non-negative duration", map[string]any{"wait": raw})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), min(d, maxHealthWait))
		_ = s.session.WaitReady(ctx)
		cancel()
	}

	resp := healthResponse{
		Status:  "ok",
		Layers:  s.session.Readiness(),
		Pending: s.session.Pending(),
	}
	status := http.StatusOK
	if len(resp.Pending) > 0 {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

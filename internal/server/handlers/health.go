package handlers

import (
	"net/http"
	"time"

	"github.com/agentstation/ownertag/internal/server/response"
)

// HandleHealth handles GET /health (liveness).
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, map[string]any{
		"status":  "healthy",
		"service": "ownertag",
	})
}

// HandleReady handles GET /ready. The listener is ready while the work
// queue accepts documents.
func (h *Handlers) HandleReady(w http.ResponseWriter, _ *http.Request) {
	if !h.queue.Running() {
		response.ServiceUnavailable(w, "Work queue not running")
		return
	}

	response.OK(w, map[string]any{
		"status":  "ready",
		"pending": h.queue.Len(),
		"uptime":  time.Since(h.startTime).Round(time.Second).String(),
	})
}

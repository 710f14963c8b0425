package api

import (
	"context"
	"net/http"
	"time"
)

// Healthz reports readiness: the session backend must answer and, when the
// repository supports pings, so must it.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := map[string]string{}

	if err := h.Sessions.Ping(ctx); err != nil {
		checks["sessions"] = err.Error()
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	type pinger interface {
		Ping(context.Context) error
	}
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			checks["storage"] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	payload := map[string]interface{}{"status": status}
	if len(checks) > 0 {
		payload["checks"] = checks
	}
	writeJSON(w, code, payload)
}

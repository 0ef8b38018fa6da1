package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ashureev/persona-chat/internal/agent"
)

const healthTimeout = 3 * time.Second

// Health reports store and model backend reachability. A missing backend
// degrades the service without failing the check.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	body := map[string]string{"status": "ok", "store": "ok", "model": "ok"}

	if err := h.repo.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
		body["store"] = err.Error()
	}

	switch err := h.pingBackend(ctx); {
	case err == nil:
	case errors.Is(err, agent.ErrNoGateway):
		body["model"] = "disabled"
	default:
		body["model"] = err.Error()
		if status == http.StatusOK {
			body["status"] = "degraded"
		}
	}

	JSON(w, status, body)
}

func (h *Handler) pingBackend(ctx context.Context) error {
	if h.backend == nil {
		return agent.ErrNoGateway
	}
	return h.backend.Ping(ctx)
}

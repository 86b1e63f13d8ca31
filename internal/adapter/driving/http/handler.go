// Package httphandler is the HTTP driving adapter serving the session control
// plane: starting and stopping sessions and reporting worker health.
package httphandler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/emontero/chatworker/internal/application"
	"github.com/emontero/chatworker/internal/domain/port/driven"
)

// Handler exposes the session lifecycle over REST.
type Handler struct {
	registry  *application.Registry
	instances driven.InstanceStore
	logger    *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(registry *application.Registry, instances driven.InstanceStore, logger *slog.Logger) *Handler {
	return &Handler{
		registry:  registry,
		instances: instances,
		logger:    logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /init-session", h.InitSession)
	mux.HandleFunc("POST /disconnect/{instanceID}", h.Disconnect)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /{$}", h.Root)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// InitSession starts (or restarts) the session for a registered instance.
// The response is returned before the connection completes; progress is
// observable through the instance's persisted status.
func (h *Handler) InitSession(w http.ResponseWriter, r *http.Request) {
	var req InitSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.InstanceID == "" {
		writeError(w, http.StatusBadRequest, "instance_id is required")
		return
	}

	inst, err := h.instances.Get(r.Context(), req.InstanceID)
	if err != nil {
		h.logger.Error("failed to load instance", "instance", req.InstanceID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if inst == nil {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}

	h.registry.Start(req.InstanceID, req.PhoneNumber)

	writeJSON(w, http.StatusOK, SessionResponse{
		InstanceID: req.InstanceID,
		Status:     "initializing",
	})
}

// Disconnect stops the instance's session. Stopping an instance with no live
// session is not an error; the instance still ends up disconnected.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	instanceID := r.PathValue("instanceID")

	h.registry.Stop(instanceID)

	writeJSON(w, http.StatusOK, SessionResponse{
		InstanceID: instanceID,
		Status:     "disconnected",
	})
}

// Health reports worker liveness and the number of live sessions.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "ok",
		ActiveSessions: h.registry.ActiveCount(),
		Time:           time.Now().UTC().Format(time.RFC3339),
	})
}

// Root serves a plain banner so load balancer probes and humans get a signal.
func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "chatworker up, %d active sessions\n", h.registry.ActiveCount())
}

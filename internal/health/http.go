package health

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPHandler exposes a Manager over HTTP for humans, monitoring, and
// Kubernetes-style probes.
type HTTPHandler struct {
	manager *Manager
	logger  *zap.Logger
}

// NewHTTPHandler wraps manager for HTTP serving.
func NewHTTPHandler(manager *Manager, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{manager: manager, logger: logger}
}

// RegisterRoutes mounts the probe endpoints on mux.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /health/ready", h.handleReadiness)
	mux.HandleFunc("GET /health/live", h.handleLiveness)
	mux.HandleFunc("GET /health/detailed", h.handleDetailed)
}

func statusCodeFor(status CheckStatus) int {
	if status == StatusUnhealthy || status == StatusUnknown {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	overall := h.manager.GetOverallHealth(r.Context())
	h.writeJSON(w, statusCodeFor(overall.Status), map[string]interface{}{
		"status":    overall.Status.String(),
		"message":   overall.Message,
		"timestamp": overall.Timestamp.Unix(),
		"duration":  overall.Duration.String(),
		"degraded":  overall.Degraded,
		"ready":     overall.Ready,
		"live":      overall.Live,
	})
}

func (h *HTTPHandler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ready := h.manager.IsReady(r.Context())
	code, status := http.StatusServiceUnavailable, "not ready"
	if ready {
		code, status = http.StatusOK, "ready"
	}
	h.writeJSON(w, code, map[string]interface{}{"status": status, "ready": ready, "timestamp": time.Now().Unix()})
}

func (h *HTTPHandler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	alive := h.manager.IsLive(r.Context())
	code, status := http.StatusServiceUnavailable, "not alive"
	if alive {
		code, status = http.StatusOK, "alive"
	}
	h.writeJSON(w, code, map[string]interface{}{"status": status, "live": alive, "timestamp": time.Now().Unix()})
}

func (h *HTTPHandler) handleDetailed(w http.ResponseWriter, r *http.Request) {
	detailed := h.manager.GetDetailedHealth(r.Context())
	h.writeJSON(w, statusCodeFor(detailed.Overall.Status), detailed)
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("health: failed to encode response", zap.Error(err))
	}
}

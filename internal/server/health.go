package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthChecker interface for checking component health.
type HealthChecker interface {
	Liveness() bool
	Readiness(ctx context.Context) bool
	GetStatus() map[string]string
}

// Health tracks process liveness and the one-shot readiness signal.
type Health struct {
	mu      sync.RWMutex
	started time.Time
	ready   bool
	role    string
	stopped bool
}

// NewHealth creates a live, not yet ready health state.
func NewHealth() *Health {
	return &Health{started: time.Now(), role: "NOT_STARTED"}
}

// SetReady marks the instance ready. Readiness is never withdrawn.
func (h *Health) SetReady() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = true
}

// SetRole records the last accepted role notification.
func (h *Health) SetRole(role string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.role = role
}

// SetStopped marks the process as going away; liveness fails afterwards.
func (h *Health) SetStopped() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
}

// Liveness implements HealthChecker.
func (h *Health) Liveness() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.stopped
}

// Readiness implements HealthChecker.
func (h *Health) Readiness(ctx context.Context) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready && !h.stopped
}

// GetStatus implements HealthChecker.
func (h *Health) GetStatus() map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ready := "false"
	if h.ready {
		ready = "true"
	}
	return map[string]string{
		"role":   h.role,
		"ready":  ready,
		"uptime": time.Since(h.started).Truncate(time.Second).String(),
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// LivenessHandler returns a handler for Kubernetes liveness probes.
func LivenessHandler(checker HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "alive"
		statusCode := http.StatusOK

		if !checker.Liveness() {
			status = "not alive"
			statusCode = http.StatusServiceUnavailable
		}

		writeJSON(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, logger)
	}
}

// ReadinessHandler returns a handler for Kubernetes readiness probes. It
// reports not ready until the consumer has caught up with the leader.
func ReadinessHandler(checker HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ready"
		statusCode := http.StatusOK

		if !checker.Readiness(r.Context()) {
			status = "not ready"
			statusCode = http.StatusServiceUnavailable
		}

		writeJSON(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checker.GetStatus(),
		}, logger)
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, body any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

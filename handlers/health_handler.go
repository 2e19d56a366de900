package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/arcturusdc/orbit/services/keyring"
	"github.com/arcturusdc/orbit/services/policy"
	"github.com/arcturusdc/orbit/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthCheck is one named dependency probe used by readiness
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	checks []HealthCheck
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(checks []HealthCheck, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		checks: checks,
		logger: logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness handles GET /readyz
// Readiness check - validates that all dependencies are available
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.checks))
	allHealthy := true

	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			h.logger.Warn("readiness check failed",
				zap.String("check", check.Name),
				zap.Error(err))
			checks[check.Name] = "unhealthy"
			allHealthy = false
			continue
		}
		checks[check.Name] = "healthy"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// HookStats reports the alert hook's queue state
type HookStats interface {
	Stats() policy.Stats
}

// KeyCacheStats reports signing key cache usage
type KeyCacheStats interface {
	Stats() keyring.CacheStats
}

// StatusInfo is the static part of the status response
type StatusInfo struct {
	Version      string `json:"version"`
	Environment  string `json:"environment"`
	StoreBackend string `json:"storeBackend"`
}

// StatusResponse represents the application status
type StatusResponse struct {
	StatusInfo
	AlertHook *policy.Stats       `json:"alertHook,omitempty"`
	KeyCache  *keyring.CacheStats `json:"keyCache,omitempty"`
}

// StatusHandler reports runtime status of background components
type StatusHandler struct {
	info  StatusInfo
	hook  HookStats
	cache KeyCacheStats
}

// NewStatusHandler creates a new StatusHandler. hook and cache may be nil.
func NewStatusHandler(info StatusInfo, hook HookStats, cache KeyCacheStats) *StatusHandler {
	return &StatusHandler{info: info, hook: hook, cache: cache}
}

// HandleStatus handles GET /api/v1/status
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{StatusInfo: h.info}
	if h.hook != nil {
		stats := h.hook.Stats()
		response.AlertHook = &stats
	}
	if h.cache != nil {
		stats := h.cache.Stats()
		response.KeyCache = &stats
	}
	_ = utils.WriteOK(w, response)
}

package handler

import (
	"encoding/json"
	"net/http"

	"prayerflow/internal/service"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	healthService *service.HealthChecker
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(healthService *service.HealthChecker) *HealthHandler {
	return &HealthHandler{
		healthService: healthService,
	}
}

// HandleHealth handles GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	healthStatus := h.healthService.CheckHealth(r.Context())

	w.Header().Set("Content-Type", "application/json")

	// degraded still serves traffic
	switch healthStatus.Status {
	case service.StatusHealthy, service.StatusDegraded:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(healthStatus)
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/HammerMeetNail/bookbuddy/internal/database"
	"github.com/HammerMeetNail/bookbuddy/internal/logging"
)

type HealthChecker interface {
	Health(ctx context.Context) error
}

type HealthHandler struct {
	db    HealthChecker
	redis HealthChecker
}

func NewHealthHandler(db, redis HealthChecker) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services,omitempty"`
}

const healthTimeout = 2 * time.Second

// Health reports every dependency. Redis being switched off is not a failure.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Services: map[string]string{}}
	status := http.StatusOK

	if err := h.db.Health(ctx); err != nil {
		logging.Warn("Postgres health check failed", map[string]interface{}{"error": err.Error()})
		resp.Services["postgres"] = "unhealthy"
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	} else {
		resp.Services["postgres"] = "healthy"
	}

	switch err := h.redisHealth(ctx); {
	case errors.Is(err, database.ErrRedisDisabled):
		resp.Services["redis"] = "disabled"
	case err != nil:
		logging.Warn("Redis health check failed", map[string]interface{}{"error": err.Error()})
		resp.Services["redis"] = "unhealthy"
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	default:
		resp.Services["redis"] = "healthy"
	}

	writeJSON(w, status, resp)
}

// Ready only needs Postgres; without Redis writes fall back to the local limiter.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.db.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ready"})
}

func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "alive"})
}

func (h *HealthHandler) redisHealth(ctx context.Context) error {
	if h.redis == nil {
		return database.ErrRedisDisabled
	}
	return h.redis.Health(ctx)
}

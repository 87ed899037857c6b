package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/api/dto"
)

// StatusHandler reports what the worker is doing
type StatusHandler struct {
	deps *Dependencies
}

// NewStatusHandler creates a new StatusHandler instance
func NewStatusHandler(deps *Dependencies) *StatusHandler {
	return &StatusHandler{deps: deps}
}

const healthCheckTimeout = 2 * time.Second

// GetHealth handles GET /health
// Responds 503 when any backing service fails its check
func (h *StatusHandler) GetHealth(c *gin.Context) {
	resp := dto.HealthResponse{
		Status:  "healthy",
		Service: "job-worker",
	}
	code := http.StatusOK

	if len(h.deps.HealthChecks) > 0 {
		resp.Checks = make(map[string]string, len(h.deps.HealthChecks))
	}
	for name, checker := range h.deps.HealthChecks {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		err := checker.HealthCheck(ctx)
		cancel()

		if err != nil {
			h.deps.Logger.Warn("Health check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			resp.Checks[name] = err.Error()
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	c.JSON(code, resp)
}

// GetStatus handles GET /status
func (h *StatusHandler) GetStatus(c *gin.Context) {
	resp := dto.StatusResponse{
		WorkerID:   h.deps.WorkerID,
		Source:     h.deps.Source,
		ActionType: h.deps.ActionType,
	}
	if h.deps.Pool != nil {
		resp.PoolSize = h.deps.Pool.Size()
		resp.ActiveTasks = h.deps.Pool.ActiveCount()
	}
	if !h.deps.StartedAt.IsZero() {
		resp.Uptime = time.Since(h.deps.StartedAt).Truncate(time.Second).String()
	}

	c.JSON(http.StatusOK, resp)
}

package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-demo/liveroom/internal/dto/response"
)

// HealthCheck probes one backing service
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	version string
	started time.Time
	checks  map[string]HealthCheck
}

func NewHealthHandler(version string, checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{
		version: version,
		started: time.Now(),
		checks:  checks,
	}
}

// Health godoc
// @Summary Health check
// @Description Report service status and the reachability of storage backends
// @Tags Health
// @Produce json
// @Success 200 {object} response.HealthResponse
// @Failure 503 {object} response.HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	resp := response.HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Timestamp: time.Now().Format(time.RFC3339),
	}

	if len(h.checks) > 0 {
		resp.Services = make(map[string]string, len(h.checks))
	}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Services[name] = "down: " + err.Error()
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Services[name] = "up"
	}

	c.JSON(status, resp)
}

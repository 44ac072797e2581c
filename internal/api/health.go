package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fundwatch/internal/resilience"
)

func (h *Handler) health(c *gin.Context) {
	if h.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": resilience.HealthStatusHealthy})
		return
	}

	report := h.deps.Health.Check(c.Request.Context())
	status := http.StatusOK
	if report.Status == resilience.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

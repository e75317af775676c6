// Package handler implements the operator HTTP surface from spec.md §9.6:
// health, status, and the manual execute-due trigger. This is deliberately
// not a rule-CRUD API — schedule lifecycle arrives only through the event
// bus (spec.md §6) — so this handler set is much smaller than the
// teacher's job/schedule handlers it replaces.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/recurring-action-scheduler/internal/bootstrap"
	"github.com/gin-gonic/gin"
)

// OperatorHandler exposes the bootstrap Scheduler over HTTP.
type OperatorHandler struct {
	scheduler *bootstrap.Scheduler
	logger    *slog.Logger
}

// NewOperatorHandler constructs an OperatorHandler.
func NewOperatorHandler(s *bootstrap.Scheduler, logger *slog.Logger) *OperatorHandler {
	return &OperatorHandler{scheduler: s, logger: logger.With("component", "operator_handler")}
}

// Healthz reports liveness and aggregate health (spec.md §9.6 GET /healthz).
func (h *OperatorHandler) Healthz(c *gin.Context) {
	report := h.scheduler.HealthCheck(c.Request.Context())

	status := http.StatusOK
	switch report.Status {
	case "unhealthy", "error":
		status = http.StatusServiceUnavailable
	case "degraded":
		status = http.StatusOK
	}
	c.JSON(status, report)
}

// Status reports the engine's tracked-timer snapshot (spec.md §9.6 GET /status).
func (h *OperatorHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Status())
}

// ExecuteDue triggers the engine's manual sweep (spec.md §9.6 POST /execute-due).
func (h *OperatorHandler) ExecuteDue(c *gin.Context) {
	count := h.scheduler.ExecuteDueTasks(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"executed": count})
}

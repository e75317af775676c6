package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/recurring-action-scheduler/internal/transport/http/handler"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"
)

// NewRouter builds the operator HTTP surface from spec.md §9.6: /healthz
// and /metrics are public (orchestrator liveness probe and scrape target),
// /status and /execute-due sit behind the operations bearer-JWT gate since
// they reveal task ids and can trigger execution.
func NewRouter(op *handler.OperatorHandler, jwtKey []byte, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(slogGin.New(logger))
	r.Use(middleware.Metrics())

	r.GET("/healthz", op.Healthz)

	protected := r.Group("", middleware.Auth(jwtKey))
	protected.GET("/status", op.Status)
	protected.POST("/execute-due", op.ExecuteDue)

	return r
}

package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/weavr-ai/weavr/cmd/engine/container"
	"github.com/weavr-ai/weavr/cmd/engine/handlers"
	"github.com/weavr-ai/weavr/cmd/engine/middleware"
)

// RegisterExecutionRoutes registers execution lifecycle endpoints
func RegisterExecutionRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewExecutionHandler(c)

	workflows := e.Group("/api/v1/workflows")
	workflows.Use(middleware.ExtractUsername())
	workflows.POST("/:id/executions", h.StartExecution)
	workflows.GET("/:id/executions", h.ListExecutions)
	workflows.GET("/:id/executions/paused", h.ListPausedExecutions)

	executions := e.Group("/api/v1/executions")
	executions.Use(middleware.ExtractUsername())
	executions.GET("/:id", h.GetExecution)
	executions.POST("/:id/resume", h.ResumeExecution)
	executions.POST("/:id/cancel", h.CancelExecution)

	interactions := e.Group("/api/v1/interactions")
	interactions.Use(middleware.ExtractUsername())
	interactions.POST("/:id/respond", h.RespondInteraction)
}

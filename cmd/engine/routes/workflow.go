// Package routes wires the engine's HTTP endpoints to their handlers.
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/weavr-ai/weavr/cmd/engine/container"
	"github.com/weavr-ai/weavr/cmd/engine/handlers"
	"github.com/weavr-ai/weavr/cmd/engine/middleware"
)

// RegisterWorkflowRoutes registers workflow definition endpoints
func RegisterWorkflowRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWorkflowHandler(c)

	g := e.Group("/api/v1/workflows")
	g.Use(middleware.ExtractUsername())

	g.POST("", h.CreateWorkflow)
	g.GET("", h.ListWorkflows)
	g.GET("/:id", h.GetWorkflow)
	g.PUT("/:id", h.UpdateWorkflow)

	e.GET("/api/v1/node-specs", h.ListNodeSpecs)
}

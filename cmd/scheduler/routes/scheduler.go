// Package routes wires the scheduler's HTTP endpoints to their handlers.
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/weavr-ai/weavr/cmd/scheduler/container"
	"github.com/weavr-ai/weavr/cmd/scheduler/handlers"
)

// RegisterSchedulerRoutes registers deployment and trigger endpoints
func RegisterSchedulerRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewSchedulerHandler(c)

	workflows := e.Group("/api/v1/workflows")
	workflows.POST("/:id/deploy", h.DeployWorkflow)
	workflows.POST("/:id/undeploy", h.UndeployWorkflow)
	workflows.POST("/:id/trigger", h.TriggerManual)
	workflows.GET("/:id/triggers", h.ListTriggers)
	workflows.GET("/:id/deployments", h.ListDeployments)
}

// RegisterEventRoutes registers the inbound event endpoints
func RegisterEventRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewSchedulerHandler(c)

	e.Any("/api/v1/webhooks/*", h.ReceiveWebhook)

	events := e.Group("/api/v1/events")
	events.POST("/slack", h.ReceiveSlack)
	events.POST("/github", h.ReceiveGithub)
	events.POST("/email", h.ReceiveEmail)
	events.POST("/calendar", h.ReceiveCalendar)
}

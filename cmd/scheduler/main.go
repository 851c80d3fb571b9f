package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/weavr-ai/weavr/cmd/scheduler/container"
	"github.com/weavr-ai/weavr/cmd/scheduler/routes"
	"github.com/weavr-ai/weavr/common/bootstrap"
	"github.com/weavr-ai/weavr/common/server"
)

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "scheduler")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap scheduler: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	// The trigger index is the durable source of truth: rebuild every
	// in-process cron schedule from it before accepting traffic
	if err := serviceContainer.Deployer.Restore(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to restore trigger subscriptions: %v\n", err)
		os.Exit(1)
	}
	serviceContainer.Cron.Start()
	defer serviceContainer.Cron.Stop()

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, components)
	registerRoutes(e, serviceContainer)

	startServer(e, components)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(503, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(200, map[string]string{
			"status":  "ok",
			"service": "scheduler",
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterSchedulerRoutes(e, serviceContainer)
	routes.RegisterEventRoutes(e, serviceContainer)
}

// startServer serves the Echo handler with graceful shutdown
func startServer(e *echo.Echo, components *bootstrap.Components) {
	srv := server.New("scheduler", components.Config.Service.Port, e, components.Logger)
	if err := srv.Run(context.Background()); err != nil {
		components.Logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}

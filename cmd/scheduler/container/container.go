// Package container wires the scheduler's services once at startup:
// repositories, the engine API client, the single-flight lock manager,
// the cron runner, the deployer and the event router.
package container

import (
	"context"
	"time"

	"github.com/weavr-ai/weavr/cmd/scheduler/cron"
	"github.com/weavr-ai/weavr/cmd/scheduler/deploy"
	"github.com/weavr-ai/weavr/cmd/scheduler/router"
	"github.com/weavr-ai/weavr/cmd/scheduler/service"
	"github.com/weavr-ai/weavr/common/bootstrap"
	"github.com/weavr-ai/weavr/common/clients"
	"github.com/weavr-ai/weavr/common/lock"
	"github.com/weavr-ai/weavr/common/repository"
	"github.com/weavr-ai/weavr/common/spec"
)

// Container holds all initialized scheduler services
type Container struct {
	Components *bootstrap.Components

	Registry  *spec.Registry
	Cron      *cron.Runner
	Deployer  *deploy.Deployer
	Router    *router.Router
	Scheduler *service.SchedulerService
}

// NewContainer creates and wires all scheduler services
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	workflowRepo := repository.NewWorkflowRepository(components.DB)
	triggerRepo := repository.NewTriggerIndexRepository(components.DB)

	registry := spec.NewRegistry(log)
	engine := clients.NewEngineClient(cfg.Scheduler.EngineURL, log)
	locks := lockManager{manager: lock.NewManager(components.Redis, log)}

	cronRunner := cron.New(engine, locks, cfg.Scheduler, log)
	deployer := deploy.New(workflowRepo, triggerRepo, cronRunner, registry, log)
	eventRouter := router.New(triggerRepo, log)

	return &Container{
		Components: components,
		Registry:   registry,
		Cron:       cronRunner,
		Deployer:   deployer,
		Router:     eventRouter,
		Scheduler:  service.NewSchedulerService(deployer, eventRouter, engine, log),
	}, nil
}

// lockManager adapts the lock manager's concrete lock type to the cron
// runner's Unlocker interface
type lockManager struct {
	manager *lock.Manager
}

func (l lockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (cron.Unlocker, bool, error) {
	held, acquired, err := l.manager.Acquire(ctx, key, ttl)
	if held == nil {
		return nil, acquired, err
	}
	return held, acquired, err
}

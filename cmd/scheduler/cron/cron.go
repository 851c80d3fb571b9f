// Package cron fires deployed CRON triggers. One in-process schedule per
// workflow; every fire sleeps a deterministic per-workflow jitter and
// then races for a distributed single-flight lock, so a fleet of
// scheduler instances produces exactly one run per tick.
package cron

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/weavr-ai/weavr/common/config"
	"github.com/weavr-ai/weavr/common/lock"
	"github.com/weavr-ai/weavr/common/model"
)

// Engine starts workflow runs
type Engine interface {
	Run(ctx context.Context, workflowID string, trigger model.TriggerInfo) (string, error)
}

// Unlocker releases a held lock
type Unlocker interface {
	Release(ctx context.Context) error
}

// Locker hands out the per-workflow single-flight lock
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Unlocker, bool, error)
}

// Logger is the minimal logging surface the runner needs
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Runner owns the in-process cron schedule
type Runner struct {
	cron      *robfig.Cron
	engine    Engine
	locks     Locker
	jitterMax time.Duration
	lockTTL   time.Duration
	logger    Logger

	mu   sync.Mutex
	jobs map[string]robfig.EntryID
}

// New creates a runner; call Start once wiring is complete
func New(engine Engine, locks Locker, cfg config.SchedulerConfig, logger Logger) *Runner {
	return &Runner{
		cron:      robfig.New(),
		engine:    engine,
		locks:     locks,
		jitterMax: cfg.CronJitterMax,
		lockTTL:   cfg.CronLockTTL,
		logger:    logger,
		jobs:      make(map[string]robfig.EntryID),
	}
}

// Start begins firing schedules
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts the schedule; already-running fires finish
func (r *Runner) Stop() {
	r.cron.Stop()
}

// Add registers (or replaces) the schedule for a workflow
func (r *Runner) Add(workflowID, expression, timezone string) error {
	spec := expression
	if timezone != "" {
		spec = "CRON_TZ=" + timezone + " " + expression
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.jobs[workflowID]; exists {
		r.cron.Remove(old)
	}
	id, err := r.cron.AddFunc(spec, func() { r.fire(workflowID) })
	if err != nil {
		return err
	}
	r.jobs[workflowID] = id
	r.logger.Info("cron schedule registered", "workflow_id", workflowID, "expression", expression, "timezone", timezone)
	return nil
}

// Remove drops the schedule for a workflow, if any
func (r *Runner) Remove(workflowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, exists := r.jobs[workflowID]; exists {
		r.cron.Remove(id)
		delete(r.jobs, workflowID)
	}
}

// Scheduled reports whether a workflow currently has a schedule
func (r *Runner) Scheduled(workflowID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.jobs[workflowID]
	return exists
}

// Jitter is the deterministic per-workflow fire delay. Hashing the
// workflow id keeps each workflow's offset stable across instances and
// restarts while spreading a cohort sharing one expression over the
// window.
func (r *Runner) Jitter(workflowID string) time.Duration {
	if r.jitterMax <= 0 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(workflowID))
	return time.Duration(h.Sum32()) % r.jitterMax
}

// fire handles one tick: jitter, single-flight lock, engine run.
// A lost lock race means another instance owns this tick; the fire is
// dropped, never queued.
func (r *Runner) fire(workflowID string) {
	time.Sleep(r.Jitter(workflowID))

	ctx := context.Background()
	held, acquired, err := r.locks.Acquire(ctx, lock.WorkflowLockKey(workflowID), r.lockTTL)
	if err != nil {
		r.logger.Warn("cron lock acquisition failed", "workflow_id", workflowID, "error", err)
		return
	}
	if !acquired {
		r.logger.Debug("cron tick skipped, lock held elsewhere", "workflow_id", workflowID)
		return
	}
	defer func() {
		if err := held.Release(ctx); err != nil {
			r.logger.Warn("cron lock release failed", "workflow_id", workflowID, "error", err)
		}
	}()

	executionID, err := r.engine.Run(ctx, workflowID, model.TriggerInfo{
		TriggerType: model.TriggerCron,
		TriggerData: map[string]any{"fired_at": model.NowMS()},
		Timestamp:   model.NowMS(),
	})
	if err != nil {
		r.logger.Warn("cron run failed", "workflow_id", workflowID, "error", err)
		return
	}
	r.logger.Info("cron run started", "workflow_id", workflowID, "execution_id", executionID)
}

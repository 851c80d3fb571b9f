// Package deploy owns the workflow deployment state machine. Deploying
// derives trigger-index rows and in-process subscriptions from the
// definition; any step failure rolls the index back and lands the
// workflow in DEPLOYMENT_FAILED. Every transition appends history.
package deploy

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/weavr-ai/weavr/cmd/scheduler/index"
	"github.com/weavr-ai/weavr/common/errs"
	"github.com/weavr-ai/weavr/common/model"
	"github.com/weavr-ai/weavr/common/spec"
)

// WorkflowStore reads workflows and moves their deployment status
type WorkflowStore interface {
	GetByID(ctx context.Context, id string) (*model.Workflow, error)
	UpdateDeploymentStatus(ctx context.Context, id, expect, next string, version int) (bool, error)
}

// IndexStore persists trigger-index rows and deployment history
type IndexStore interface {
	ReplaceForWorkflow(ctx context.Context, workflowID string, entries []*model.TriggerIndexEntry) error
	DeleteForWorkflow(ctx context.Context, workflowID string) error
	UpdateStatusForWorkflow(ctx context.Context, workflowID, status string) error
	ListActiveBySubtype(ctx context.Context, subtype string) ([]*model.TriggerIndexEntry, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*model.TriggerIndexEntry, error)
	AppendHistory(ctx context.Context, h *model.DeploymentHistory) error
	ListHistory(ctx context.Context, workflowID string, limit int) ([]*model.DeploymentHistory, error)
}

// CronSchedule is the in-process subscription surface for CRON triggers
type CronSchedule interface {
	Add(workflowID, expression, timezone string) error
	Remove(workflowID string)
}

// Logger is the minimal logging surface the deployer needs
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Deployer runs the deployment state machine
type Deployer struct {
	workflows WorkflowStore
	index     IndexStore
	cron      CronSchedule
	registry  *spec.Registry
	logger    Logger
}

// New creates a deployer
func New(workflows WorkflowStore, indexStore IndexStore, cron CronSchedule, registry *spec.Registry, logger Logger) *Deployer {
	return &Deployer{
		workflows: workflows,
		index:     indexStore,
		cron:      cron,
		registry:  registry,
		logger:    logger,
	}
}

// Deploy takes a workflow to DEPLOYED, deriving index rows and cron
// schedules from its trigger nodes. Redeploying a DEPLOYED workflow
// replaces its rows; a workflow mid-transition is refused.
func (d *Deployer) Deploy(ctx context.Context, workflowID, triggeredBy string) (*model.DeploymentResult, error) {
	w, err := d.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if w.DeploymentStatus == model.DeploymentDeploying || w.DeploymentStatus == model.DeploymentUndeploying {
		return nil, errs.New(errs.CodeDeploymentFailed, "deployment already in progress").
			WithDetail("workflow_id", workflowID).
			WithDetail("status", w.DeploymentStatus)
	}

	if err := d.validate(w); err != nil {
		return nil, err
	}

	fromStatus := w.DeploymentStatus
	version := w.DeploymentVersion + 1
	moved, err := d.workflows.UpdateDeploymentStatus(ctx, workflowID, fromStatus, model.DeploymentDeploying, version)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, errs.New(errs.CodeDeploymentFailed, "another deployment won the transition").
			WithDetail("workflow_id", workflowID)
	}

	entries, err := index.BuildEntries(w)
	if err != nil {
		return nil, d.failDeploy(ctx, w, version, triggeredBy, fromStatus, err)
	}
	if err := d.index.ReplaceForWorkflow(ctx, workflowID, entries); err != nil {
		return nil, d.failDeploy(ctx, w, version, triggeredBy, fromStatus, err)
	}
	if err := d.startSubscriptions(workflowID, entries); err != nil {
		return nil, d.failDeploy(ctx, w, version, triggeredBy, fromStatus, err)
	}
	if err := d.index.UpdateStatusForWorkflow(ctx, workflowID, model.TriggerIndexActive); err != nil {
		return nil, d.failDeploy(ctx, w, version, triggeredBy, fromStatus, err)
	}

	if _, err := d.workflows.UpdateDeploymentStatus(ctx, workflowID, model.DeploymentDeploying, model.DeploymentDeployed, version); err != nil {
		return nil, d.failDeploy(ctx, w, version, triggeredBy, fromStatus, err)
	}
	d.appendHistory(ctx, workflowID, "deploy", fromStatus, model.DeploymentDeployed, version, triggeredBy, "")

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IndexKey != "" {
			keys = append(keys, entry.IndexKey)
		}
	}
	d.logger.Info("workflow deployed", "workflow_id", workflowID, "version", version, "triggers", len(entries))

	return &model.DeploymentResult{
		WorkflowID:   workflowID,
		Status:       model.DeploymentDeployed,
		TriggerCount: len(entries),
		IndexKeys:    keys,
	}, nil
}

// Undeploy stops subscriptions, drops index rows and lands the workflow
// in UNDEPLOYED. Undeploying an UNDEPLOYED workflow is a no-op.
func (d *Deployer) Undeploy(ctx context.Context, workflowID, triggeredBy string) error {
	w, err := d.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}
	if w.DeploymentStatus == model.DeploymentUndeployed {
		return nil
	}

	fromStatus := w.DeploymentStatus
	moved, err := d.workflows.UpdateDeploymentStatus(ctx, workflowID, fromStatus, model.DeploymentUndeploying, w.DeploymentVersion)
	if err != nil {
		return err
	}
	if !moved {
		return errs.New(errs.CodeDeploymentFailed, "another transition won the undeploy").
			WithDetail("workflow_id", workflowID)
	}

	d.cron.Remove(workflowID)
	if err := d.index.DeleteForWorkflow(ctx, workflowID); err != nil {
		return err
	}
	if _, err := d.workflows.UpdateDeploymentStatus(ctx, workflowID, model.DeploymentUndeploying, model.DeploymentUndeployed, w.DeploymentVersion); err != nil {
		return err
	}
	d.appendHistory(ctx, workflowID, "undeploy", fromStatus, model.DeploymentUndeployed, w.DeploymentVersion, triggeredBy, "")
	d.logger.Info("workflow undeployed", "workflow_id", workflowID)
	return nil
}

// Restore reconstructs in-process subscriptions from active index rows.
// Called once at boot; the index is the durable source of truth for what
// should be scheduled.
func (d *Deployer) Restore(ctx context.Context) error {
	rows, err := d.index.ListActiveBySubtype(ctx, model.TriggerCron)
	if err != nil {
		return fmt.Errorf("failed to list active cron triggers: %w", err)
	}
	for _, row := range rows {
		if err := d.startSubscriptions(row.WorkflowID, []*model.TriggerIndexEntry{row}); err != nil {
			d.logger.Error("failed to restore cron schedule",
				"workflow_id", row.WorkflowID, "index_key", row.IndexKey, "error", err)
		}
	}
	d.logger.Info("trigger subscriptions restored", "cron_schedules", len(rows))
	return nil
}

// Triggers lists the index rows of one workflow
func (d *Deployer) Triggers(ctx context.Context, workflowID string) ([]*model.TriggerIndexEntry, error) {
	return d.index.ListByWorkflow(ctx, workflowID)
}

// History lists deployment transitions of one workflow, newest first
func (d *Deployer) History(ctx context.Context, workflowID string, limit int) ([]*model.DeploymentHistory, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return d.index.ListHistory(ctx, workflowID, limit)
}

// startSubscriptions brings up the in-process side of each trigger row.
// Only CRON needs one today; webhook/chat/email/source-control triggers
// are served by the inbound event endpoints.
func (d *Deployer) startSubscriptions(workflowID string, entries []*model.TriggerIndexEntry) error {
	for _, entry := range entries {
		if entry.TriggerSubtype != model.TriggerCron {
			continue
		}
		expression, _ := entry.TriggerConfig["cron_expression"].(string)
		timezone, _ := entry.TriggerConfig["timezone"].(string)
		if err := d.cron.Add(workflowID, expression, timezone); err != nil {
			return fmt.Errorf("failed to schedule cron trigger: %w", err)
		}
	}
	return nil
}

// failDeploy rolls back index rows and subscriptions, lands the workflow
// in DEPLOYMENT_FAILED and records the failed transition
func (d *Deployer) failDeploy(ctx context.Context, w *model.Workflow, version int, triggeredBy, fromStatus string, cause error) error {
	d.cron.Remove(w.ID)
	if err := d.index.DeleteForWorkflow(ctx, w.ID); err != nil {
		d.logger.Error("failed to roll back trigger index", "workflow_id", w.ID, "error", err)
	}
	if _, err := d.workflows.UpdateDeploymentStatus(ctx, w.ID, model.DeploymentDeploying, model.DeploymentFailed, version); err != nil {
		d.logger.Error("failed to record deployment failure", "workflow_id", w.ID, "error", err)
	}
	d.appendHistory(ctx, w.ID, "deploy", fromStatus, model.DeploymentFailed, version, triggeredBy, cause.Error())

	return errs.Wrap(errs.CodeDeploymentFailed, "deployment failed", cause).
		WithDetail("workflow_id", w.ID)
}

func (d *Deployer) validate(w *model.Workflow) error {
	if err := w.Validate(); err != nil {
		return errs.Wrap(errs.CodeInvalidWorkflow, "invalid workflow definition", err)
	}
	var problems []string
	for _, n := range w.Nodes {
		for _, err := range d.registry.Validate(n) {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		return errs.New(errs.CodeInvalidWorkflow,
			fmt.Sprintf("workflow failed validation with %d problem(s)", len(problems))).
			WithDetail("problems", problems)
	}
	return nil
}

func (d *Deployer) appendHistory(ctx context.Context, workflowID, action, from, to string, version int, triggeredBy, errorMessage string) {
	h := &model.DeploymentHistory{
		ID:                uuid.NewString(),
		WorkflowID:        workflowID,
		Action:            action,
		FromStatus:        from,
		ToStatus:          to,
		DeploymentVersion: version,
		TriggeredBy:       triggeredBy,
		StartedAt:         model.NowMS(),
		CompletedAt:       model.NowMS(),
		ErrorMessage:      errorMessage,
	}
	if err := d.index.AppendHistory(ctx, h); err != nil {
		d.logger.Warn("failed to append deployment history", "workflow_id", workflowID, "error", err)
	}
}

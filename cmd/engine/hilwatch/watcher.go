// Package hilwatch enforces time-driven pause transitions. A periodic
// sweep warns humans approaching their interaction deadline, resolves
// interactions that crossed it according to the node's timeout action,
// and wakes delay pauses whose deadline arrived.
package hilwatch

import (
	"context"
	"fmt"
	"time"

	"github.com/weavr-ai/weavr/cmd/engine/runner"
	"github.com/weavr-ai/weavr/common/model"
)

// Warnings go out once, at 80% of the interaction's lifetime. The
// repository query encodes the fraction; the batch size here just bounds
// one sweep.
const sweepBatch = 100

// InteractionScanner surfaces pending interactions near or past timeout
type InteractionScanner interface {
	ListExpired(ctx context.Context, now int64, limit int) ([]*model.HILInteraction, error)
	ListApproachingTimeout(ctx context.Context, now int64, limit int) ([]*model.HILInteraction, error)
	MarkWarningSent(ctx context.Context, id string) error
	RespondInteraction(ctx context.Context, id string, response map[string]any, status string) (bool, error)
}

// PauseScanner surfaces parked delays whose wake deadline arrived
type PauseScanner interface {
	ListDueDelayPauses(ctx context.Context, now int64, limit int) ([]*model.ExecutionPause, error)
}

// Resumer continues or finalizes the paused execution behind an interaction
type Resumer interface {
	Resume(ctx context.Context, executionID, nodeID string, userResponse map[string]any) (*model.Execution, error)
	FailTimedOut(ctx context.Context, executionID, nodeID string) (*model.Execution, error)
}

// WorkflowLoader resolves the node configuration controlling timeout behavior
type WorkflowLoader interface {
	GetByID(ctx context.Context, id string) (*model.Workflow, error)
}

// Watcher runs the timeout sweep
type Watcher struct {
	interactions InteractionScanner
	pauses       PauseScanner
	resumer      Resumer
	workflows    WorkflowLoader
	notifiers    *runner.ChannelNotifiers
	interval     time.Duration
	logger       runner.Logger
}

// New creates a watcher
func New(
	interactions InteractionScanner,
	pauses PauseScanner,
	resumer Resumer,
	workflows WorkflowLoader,
	notifiers *runner.ChannelNotifiers,
	interval time.Duration,
	logger runner.Logger,
) *Watcher {
	return &Watcher{
		interactions: interactions,
		pauses:       pauses,
		resumer:      resumer,
		workflows:    workflows,
		notifiers:    notifiers,
		interval:     interval,
		logger:       logger,
	}
}

// Run sweeps until the context is canceled
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("interaction timeout watcher started", "interval", w.interval)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("interaction timeout watcher stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep handles one pass: expire overdue interactions, warn approaching ones
func (w *Watcher) Sweep(ctx context.Context) {
	now := model.NowMS()

	expired, err := w.interactions.ListExpired(ctx, now, sweepBatch)
	if err != nil {
		w.logger.Error("failed to list expired interactions", "error", err)
	}
	for _, in := range expired {
		if err := w.expire(ctx, in); err != nil {
			w.logger.Error("failed to expire interaction",
				"interaction_id", in.ID, "execution_id", in.ExecutionID, "error", err)
		}
	}

	approaching, err := w.interactions.ListApproachingTimeout(ctx, now, sweepBatch)
	if err != nil {
		w.logger.Error("failed to list approaching interactions", "error", err)
	}
	for _, in := range approaching {
		w.warn(ctx, in)
	}

	due, err := w.pauses.ListDueDelayPauses(ctx, now, sweepBatch)
	if err != nil {
		w.logger.Error("failed to list due delay pauses", "error", err)
	}
	for _, p := range due {
		// Resume's status swap makes a concurrent wake lose cleanly
		if _, err := w.resumer.Resume(ctx, p.ExecutionID, p.PausedNodeID, nil); err != nil {
			w.logger.Error("failed to wake delayed execution",
				"execution_id", p.ExecutionID, "node_id", p.PausedNodeID, "error", err)
		}
	}
}

// expire resolves one overdue interaction per its node's timeout action
func (w *Watcher) expire(ctx context.Context, in *model.HILInteraction) error {
	// The guarded update loses the race against a concurrent human
	// response; that response then drives the resume instead.
	marked, err := w.interactions.RespondInteraction(ctx, in.ID, nil, model.InteractionTimeout)
	if err != nil {
		return fmt.Errorf("failed to mark interaction timed out: %w", err)
	}
	if !marked {
		return nil
	}

	action, defaultResponse := w.timeoutPolicy(ctx, in)
	w.logger.Info("interaction timed out",
		"interaction_id", in.ID, "execution_id", in.ExecutionID, "node_id", in.NodeID, "action", action)

	switch action {
	case "continue":
		_, err = w.resumer.Resume(ctx, in.ExecutionID, in.NodeID, nil)
	case "default_response":
		_, err = w.resumer.Resume(ctx, in.ExecutionID, in.NodeID, defaultResponse)
	default:
		_, err = w.resumer.FailTimedOut(ctx, in.ExecutionID, in.NodeID)
	}
	return err
}

// warn notifies the human once when 80% of the timeout window has passed
func (w *Watcher) warn(ctx context.Context, in *model.HILInteraction) {
	remaining := time.Duration(in.TimeoutAt-model.NowMS()) * time.Millisecond
	message, _ := in.RequestData["message"].(string)

	notification := &runner.Notification{
		InteractionID: in.ID,
		ExecutionID:   in.ExecutionID,
		WorkflowID:    in.WorkflowID,
		NodeID:        in.NodeID,
		UserID:        in.UserID,
		Kind:          "warning",
		Message:       fmt.Sprintf("Reminder: %s (expires in %s)", message, remaining.Round(time.Minute)),
	}
	if err := w.notifiers.Send(ctx, in.ChannelType, notification); err != nil {
		w.logger.Warn("failed to deliver timeout warning", "interaction_id", in.ID, "error", err)
	}
	if err := w.interactions.MarkWarningSent(ctx, in.ID); err != nil {
		w.logger.Warn("failed to mark warning sent", "interaction_id", in.ID, "error", err)
	}
}

// timeoutPolicy reads the paused node's timeout configuration
func (w *Watcher) timeoutPolicy(ctx context.Context, in *model.HILInteraction) (string, map[string]any) {
	workflow, err := w.workflows.GetByID(ctx, in.WorkflowID)
	if err != nil || workflow == nil {
		w.logger.Warn("failed to load workflow for timeout policy", "workflow_id", in.WorkflowID, "error", err)
		return "fail", nil
	}
	node := workflow.NodeByID(in.NodeID)
	if node == nil {
		return "fail", nil
	}

	action, _ := node.Configurations["timeout_action"].(string)
	if action == "" {
		action = "fail"
	}
	defaultResponse, _ := node.Configurations["timeout_default_response"].(map[string]any)
	if action == "default_response" && defaultResponse == nil {
		// Nothing to substitute; treat as a plain continue on the timeout port
		action = "continue"
	}
	return action, defaultResponse
}

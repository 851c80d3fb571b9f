package executor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/weavr-ai/weavr/cmd/engine/graph"
	"github.com/weavr-ai/weavr/cmd/engine/runner"
	"github.com/weavr-ai/weavr/common/errs"
	"github.com/weavr-ai/weavr/common/model"
)

// park persists the complete run snapshot and flips the execution into a
// resumable status. The snapshot is restored verbatim on resume, so a
// process restart between the two is invisible.
func (e *Executor) park(ctx context.Context, st *runState, node *model.Node, ne *model.NodeExecution, out map[string]any, reason string) error {
	exec := st.exec
	ne.Status = model.NodeWaitingInput
	exec.CurrentNodeID = node.ID

	status := model.ExecutionPaused
	resume := map[string]any{
		"outputs": runner.StripControlKeys(out),
	}
	var resumeAt int64
	switch reason {
	case PauseReasonHIL:
		status = model.ExecutionWaitingForHuman
		if id, _ := out[runner.KeyHILInteractionID].(string); id != "" {
			exec.InteractionID = id
			resume["interaction_id"] = id
		}
		if t, present := out[runner.KeyHILTimeoutSeconds]; present {
			resume["timeout_seconds"] = t
		}
	case PauseReasonDelay:
		if ms := toInt64(out[runner.KeyDelayMS]); ms > 0 {
			resumeAt = model.NowMS() + ms
			resume["resume_at"] = resumeAt
		}
	}

	snapshot := &model.PauseContext{
		PendingInputs:     st.inputs,
		Executed:          setKeys(st.executed),
		Skipped:           setKeys(st.skipped),
		Queue:             st.queue,
		NodeExecutions:    exec.NodeExecutions,
		ExecutionSequence: exec.ExecutionSequence,
		CreditsConsumed:   exec.CreditsConsumed,
		TokensUsed:        exec.TokensUsed,
		CurrentNodeID:     node.ID,
	}
	pause := &model.ExecutionPause{
		ID:               uuid.NewString(),
		ExecutionID:      exec.ID,
		PausedNodeID:     node.ID,
		PauseReason:      reason,
		ResumeConditions: resume,
		PauseContext:     snapshot,
		Status:           model.PauseActive,
		PausedAt:         model.NowMS(),
		ResumeAt:         resumeAt,
	}
	if err := e.pauses.CreatePause(ctx, pause); err != nil {
		return fmt.Errorf("failed to persist pause: %w", err)
	}

	exec.Status = status
	swapped, err := e.executions.UpdateIfStatus(ctx, exec, model.ExecutionRunning)
	if err != nil {
		return fmt.Errorf("failed to persist paused execution: %w", err)
	}
	if !swapped {
		// A concurrent cancel moved the run to a terminal status; the
		// pause just written must not stay active behind it.
		if _, cerr := e.pauses.ClosePause(ctx, pause.ID, model.PauseCancelled); cerr != nil {
			e.logger.Warn("failed to close superseded pause", "pause_id", pause.ID, "error", cerr)
		}
		if stored, gerr := e.executions.GetByID(ctx, exec.ID); gerr == nil && stored != nil {
			exec.Status = stored.Status
		}
		return nil
	}
	e.publish(ctx, exec, "execution_paused", map[string]any{"node_id": node.ID, "reason": reason})
	return nil
}

// Resume restores a paused run from its snapshot and continues it. For a
// human-interaction pause the response selects the paused node's output
// port; a nil response means the interaction timed out.
func (e *Executor) Resume(ctx context.Context, executionID, nodeID string, userResponse map[string]any) (*model.Execution, error) {
	exec, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, errs.New(errs.CodeExecutionNotFound, fmt.Sprintf("execution not found: %s", executionID))
	}
	if !exec.Status.IsPaused() {
		return nil, errs.New(errs.CodeNotPaused, fmt.Sprintf("execution %s is %s", executionID, exec.Status))
	}

	pause, err := e.pauses.GetActivePause(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if pause == nil {
		return nil, errs.New(errs.CodeNotPaused, fmt.Sprintf("execution %s has no active pause", executionID))
	}
	if nodeID != "" && pause.PausedNodeID != nodeID {
		return nil, errs.New(errs.CodeNotPaused,
			fmt.Sprintf("execution %s is paused at %s, not %s", executionID, pause.PausedNodeID, nodeID))
	}

	// The status swap is the concurrency gate: exactly one resume wins
	swapped, err := e.executions.CompareAndSetStatus(ctx, executionID, exec.Status, model.ExecutionRunning)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, errs.New(errs.CodeNotPaused, fmt.Sprintf("execution %s was already resumed", executionID))
	}
	if _, err := e.pauses.ClosePause(ctx, pause.ID, model.PauseResumed); err != nil {
		e.logger.Warn("failed to close pause", "pause_id", pause.ID, "error", err)
	}

	w, err := e.workflows.GetByID(ctx, exec.WorkflowID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, errs.New(errs.CodeWorkflowNotFound, fmt.Sprintf("workflow not found: %s", exec.WorkflowID))
	}
	g, err := graph.Build(w)
	if err != nil {
		return e.fail(ctx, exec, err)
	}

	st := restoreState(g, exec, pause.PauseContext)
	exec.Status = model.ExecutionRunning
	exec.CurrentNodeID = ""
	exec.InteractionID = ""

	v := g.Vertex(pause.PausedNodeID)
	if v == nil {
		return e.fail(ctx, exec, errs.New(errs.CodeUnknownNode,
			fmt.Sprintf("paused node %s no longer exists in workflow %s", pause.PausedNodeID, w.ID)))
	}
	pausedNode := e.registry.Normalize(v.Node)

	var outputs map[string]any
	if pause.PauseReason == PauseReasonHIL {
		outputs = e.hilOutputs(ctx, pausedNode, pause, userResponse)
	} else {
		outputs = storedOutputs(pause)
		if userResponse != nil {
			outputs[model.PortResult] = userResponse
		}
	}
	shaped := e.registry.ShapeOutput(pausedNode, outputs)

	if ne := parkedAttempt(exec, pause.PausedNodeID); ne != nil {
		ne.Status = model.NodeCompleted
		ne.OutputData = shaped
		ne.EndTime = model.NowMS()
	}
	st.executed[pause.PausedNodeID] = true
	exec.ExecutionSequence = append(exec.ExecutionSequence, pause.PausedNodeID)

	e.propagate(ctx, st, pause.PausedNodeID, shaped)
	e.enqueueDependents(st, pause.PausedNodeID)
	e.publish(ctx, exec, "execution_resumed", map[string]any{"node_id": pause.PausedNodeID})
	return e.drive(ctx, st)
}

// Cancel terminates a running or paused execution
func (e *Executor) Cancel(ctx context.Context, executionID string) (*model.Execution, error) {
	exec, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, errs.New(errs.CodeExecutionNotFound, fmt.Sprintf("execution not found: %s", executionID))
	}
	if exec.Status.IsTerminal() {
		return nil, errs.New(errs.CodeInvariantViolation, fmt.Sprintf("execution %s already finished as %s", executionID, exec.Status))
	}

	swapped, err := e.executions.CompareAndSetStatus(ctx, executionID, exec.Status, model.ExecutionCanceled)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, errs.New(errs.CodeInvariantViolation, fmt.Sprintf("execution %s changed state during cancel", executionID))
	}

	// The stored status is terminal now; cut the driver's context so an
	// in-flight run stops dispatching instead of finishing behind it
	e.interruptDriver(executionID)

	if pause, err := e.pauses.GetActivePause(ctx, executionID); err == nil && pause != nil {
		if _, err := e.pauses.ClosePause(ctx, pause.ID, model.PauseCancelled); err != nil {
			e.logger.Warn("failed to close pause on cancel", "pause_id", pause.ID, "error", err)
		}
	}

	exec.Status = model.ExecutionCanceled
	exec.EndTime = model.NowMS()
	exec.DurationMS = exec.EndTime - exec.StartTime
	if _, err := e.executions.UpdateIfStatus(ctx, exec, model.ExecutionCanceled); err != nil {
		e.logger.Error("failed to persist canceled execution", "execution_id", executionID, "error", err)
	}
	e.publish(ctx, exec, "execution_canceled", nil)
	return exec, nil
}

// FailTimedOut finalizes a paused execution whose human interaction
// expired and whose node is configured to fail on timeout
func (e *Executor) FailTimedOut(ctx context.Context, executionID, nodeID string) (*model.Execution, error) {
	exec, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, errs.New(errs.CodeExecutionNotFound, fmt.Sprintf("execution not found: %s", executionID))
	}
	if !exec.Status.IsPaused() {
		return nil, errs.New(errs.CodeNotPaused, fmt.Sprintf("execution %s is %s", executionID, exec.Status))
	}

	swapped, err := e.executions.CompareAndSetStatus(ctx, executionID, exec.Status, model.ExecutionTimeout)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, errs.New(errs.CodeNotPaused, fmt.Sprintf("execution %s changed state", executionID))
	}

	if pause, err := e.pauses.GetActivePause(ctx, executionID); err == nil && pause != nil {
		if _, err := e.pauses.ClosePause(ctx, pause.ID, model.PauseCancelled); err != nil {
			e.logger.Warn("failed to close pause on timeout", "pause_id", pause.ID, "error", err)
		}
	}

	exec.Status = model.ExecutionTimeout
	exec.Error = &model.ExecutionFailure{
		Code:    errs.CodeTimeout,
		Message: fmt.Sprintf("human interaction at node %s timed out", nodeID),
	}
	exec.EndTime = model.NowMS()
	exec.DurationMS = exec.EndTime - exec.StartTime
	if _, err := e.executions.UpdateIfStatus(ctx, exec, model.ExecutionTimeout); err != nil {
		e.logger.Error("failed to persist timed-out execution", "execution_id", executionID, "error", err)
	}
	e.publish(ctx, exec, "execution_failed", map[string]any{"node_id": nodeID, "reason": "interaction_timeout"})
	return exec, nil
}

// hilOutputs synthesizes the paused HIL node's port output from the
// human's response (or its absence)
func (e *Executor) hilOutputs(ctx context.Context, node *model.Node, pause *model.ExecutionPause, userResponse map[string]any) map[string]any {
	interactionType := runner.InteractionTypeFor(node.Subtype)
	response := userResponse

	if id, _ := pause.ResumeConditions["interaction_id"].(string); id != "" {
		interaction, err := e.pauses.GetInteraction(ctx, id)
		if err != nil {
			e.logger.Warn("failed to load interaction", "interaction_id", id, "error", err)
		}
		if interaction != nil {
			interactionType = interaction.InteractionType
			if response == nil && interaction.Status == model.InteractionResponded {
				response = interaction.ResponseData
			}
			if userResponse != nil && interaction.Status == model.InteractionPending {
				if _, err := e.pauses.RespondInteraction(ctx, id, userResponse, model.InteractionResponded); err != nil {
					e.logger.Warn("failed to record interaction response", "interaction_id", id, "error", err)
				}
			}
		}
	}

	threshold := configFloat(node.Configurations, "relevance_threshold", 0.3)
	relevance := 0.0
	if response != nil {
		if v, present := response["relevance"]; present {
			relevance = toFloat64(v)
		}
	}

	port := runner.SelectHILPort(interactionType, response, relevance, threshold)
	var payload any = response
	if response == nil {
		payload = map[string]any{"timed_out": true}
	}
	return map[string]any{port: payload}
}

func storedOutputs(pause *model.ExecutionPause) map[string]any {
	if stored, ok := pause.ResumeConditions["outputs"].(map[string]any); ok {
		out := make(map[string]any, len(stored))
		for k, v := range stored {
			out[k] = v
		}
		return out
	}
	return map[string]any{model.PortResult: map[string]any{}}
}

func restoreState(g *graph.Graph, exec *model.Execution, pc *model.PauseContext) *runState {
	st := newRunState(g, exec)
	if pc == nil {
		return st
	}
	if pc.PendingInputs != nil {
		st.inputs = pc.PendingInputs
	}
	for _, id := range pc.Executed {
		st.executed[id] = true
	}
	for _, id := range pc.Skipped {
		st.skipped[id] = true
	}
	for _, item := range pc.Queue {
		st.enqueue(item)
	}
	if pc.NodeExecutions != nil {
		exec.NodeExecutions = pc.NodeExecutions
	}
	if pc.ExecutionSequence != nil {
		exec.ExecutionSequence = pc.ExecutionSequence
	}
	exec.CreditsConsumed = pc.CreditsConsumed
	exec.TokensUsed = pc.TokensUsed
	return st
}

// parkedAttempt finds the attempt left waiting when the run paused
func parkedAttempt(exec *model.Execution, nodeID string) *model.NodeExecution {
	attempts := exec.NodeExecutions[nodeID]
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Status == model.NodeWaitingInput {
			return attempts[i]
		}
	}
	return nil
}

func setKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return keys
}

func configFloat(config map[string]any, key string, fallback float64) float64 {
	if config == nil {
		return fallback
	}
	if v, present := config[key]; present {
		return toFloat64(v)
	}
	return fallback
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

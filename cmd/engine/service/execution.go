package service

import (
	"context"

	"github.com/weavr-ai/weavr/common/errs"
	"github.com/weavr-ai/weavr/common/model"
)

// ExecutionStore reads persisted executions
type ExecutionStore interface {
	GetByID(ctx context.Context, id string) (*model.Execution, error)
	ListByWorkflow(ctx context.Context, workflowID, status string, limit, offset int) ([]*model.ExecutionSummary, error)
	ListPausedByWorkflow(ctx context.Context, workflowID string) ([]*model.Execution, error)
}

// InteractionStore resolves a human interaction back to its execution
type InteractionStore interface {
	GetInteraction(ctx context.Context, id string) (*model.HILInteraction, error)
}

// Engine is the executor surface the service drives
type Engine interface {
	Launch(ctx context.Context, w *model.Workflow, trigger model.TriggerInfo) (*model.Execution, error)
	Execute(ctx context.Context, w *model.Workflow, trigger model.TriggerInfo) (*model.Execution, error)
	Resume(ctx context.Context, executionID, nodeID string, userResponse map[string]any) (*model.Execution, error)
	Cancel(ctx context.Context, executionID string) (*model.Execution, error)
}

// Logger is the minimal logging surface the service needs
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ExecutionService starts, inspects, resumes and cancels runs
type ExecutionService struct {
	engine       Engine
	workflows    WorkflowStore
	executions   ExecutionStore
	interactions InteractionStore
	logger       Logger
}

// NewExecutionService creates the execution service
func NewExecutionService(
	engine Engine,
	workflows WorkflowStore,
	executions ExecutionStore,
	interactions InteractionStore,
	logger Logger,
) *ExecutionService {
	return &ExecutionService{
		engine:       engine,
		workflows:    workflows,
		executions:   executions,
		interactions: interactions,
		logger:       logger,
	}
}

// Start begins a run and returns as soon as the execution record exists.
// The run itself continues on its own goroutine; callers poll or listen
// on the event channel for progress.
func (s *ExecutionService) Start(ctx context.Context, workflowID string, trigger model.TriggerInfo) (*model.Execution, error) {
	workflow, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return s.engine.Launch(ctx, workflow, trigger)
}

// RunSync executes a run to completion or pause before returning.
// The scheduler's manual-trigger path uses this for immediate feedback.
func (s *ExecutionService) RunSync(ctx context.Context, workflowID string, trigger model.TriggerInfo) (*model.Execution, error) {
	workflow, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return s.engine.Execute(ctx, workflow, trigger)
}

// Get loads one execution by id
func (s *ExecutionService) Get(ctx context.Context, id string) (*model.Execution, error) {
	exec, err := s.executions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, errs.New(errs.CodeExecutionNotFound, "execution not found").WithDetail("execution_id", id)
	}
	return exec, nil
}

// List returns execution summaries for a workflow, newest first,
// optionally narrowed to one status
func (s *ExecutionService) List(ctx context.Context, workflowID, status string, limit, offset int) ([]*model.ExecutionSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.executions.ListByWorkflow(ctx, workflowID, status, limit, offset)
}

// ListPaused returns every resumable execution of a workflow
func (s *ExecutionService) ListPaused(ctx context.Context, workflowID string) ([]*model.Execution, error) {
	return s.executions.ListPausedByWorkflow(ctx, workflowID)
}

// Resume continues a paused execution at the given node
func (s *ExecutionService) Resume(ctx context.Context, executionID, nodeID string, userResponse map[string]any) (*model.Execution, error) {
	return s.engine.Resume(ctx, executionID, nodeID, userResponse)
}

// Cancel finalizes a paused or running execution as CANCELED
func (s *ExecutionService) Cancel(ctx context.Context, executionID string) (*model.Execution, error) {
	return s.engine.Cancel(ctx, executionID)
}

// Respond answers a pending human interaction and resumes its execution.
// The interaction id alone identifies the paused node, so notification
// channels only need to carry one opaque token.
func (s *ExecutionService) Respond(ctx context.Context, interactionID string, response map[string]any) (*model.Execution, error) {
	in, err := s.interactions.GetInteraction(ctx, interactionID)
	if err != nil {
		return nil, err
	}
	if in == nil {
		return nil, errs.New(errs.CodeExecutionNotFound, "interaction not found").WithDetail("interaction_id", interactionID)
	}
	if in.Status != model.InteractionPending {
		return nil, errs.New(errs.CodeNotPaused, "interaction already resolved").
			WithDetail("interaction_id", interactionID).
			WithDetail("status", in.Status)
	}
	return s.engine.Resume(ctx, in.ExecutionID, in.NodeID, response)
}

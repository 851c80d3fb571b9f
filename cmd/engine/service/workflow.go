// Package service holds the engine's application services: workflow
// definitions and execution lifecycle, sitting between the HTTP handlers
// and the executor/repositories.
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/weavr-ai/weavr/cmd/engine/graph"
	"github.com/weavr-ai/weavr/common/errs"
	"github.com/weavr-ai/weavr/common/model"
	"github.com/weavr-ai/weavr/common/spec"
)

// WorkflowStore persists workflow definitions
type WorkflowStore interface {
	Create(ctx context.Context, w *model.Workflow) error
	GetByID(ctx context.Context, id string) (*model.Workflow, error)
	Update(ctx context.Context, w *model.Workflow) error
	ListByUser(ctx context.Context, createdBy string, limit int) ([]*model.Workflow, error)
}

// WorkflowService validates and stores workflow definitions
type WorkflowService struct {
	workflows WorkflowStore
	registry  *spec.Registry
}

// NewWorkflowService creates the workflow service
func NewWorkflowService(workflows WorkflowStore, registry *spec.Registry) *WorkflowService {
	return &WorkflowService{workflows: workflows, registry: registry}
}

// Create validates and persists a new workflow definition
func (s *WorkflowService) Create(ctx context.Context, w *model.Workflow, createdBy string) (*model.Workflow, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	w.Version = 1
	w.CreatedBy = createdBy
	w.DeploymentStatus = model.DeploymentUndeployed

	if err := s.validate(w); err != nil {
		return nil, err
	}
	if err := s.workflows.Create(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Get loads one workflow by id
func (s *WorkflowService) Get(ctx context.Context, id string) (*model.Workflow, error) {
	return s.workflows.GetByID(ctx, id)
}

// Update replaces a workflow's definition and bumps its version.
// Deployment state is untouched; redeploying the new version is the
// scheduler's concern.
func (s *WorkflowService) Update(ctx context.Context, id string, w *model.Workflow) (*model.Workflow, error) {
	current, err := s.workflows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	w.ID = current.ID
	w.Version = current.Version + 1
	w.CreatedBy = current.CreatedBy

	if err := s.validate(w); err != nil {
		return nil, err
	}
	if err := s.workflows.Update(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// List returns workflows created by the given user
func (s *WorkflowService) List(ctx context.Context, createdBy string, limit int) ([]*model.Workflow, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.workflows.ListByUser(ctx, createdBy, limit)
}

// Specs lists every registered node spec for builder UIs
func (s *WorkflowService) Specs() []*spec.NodeSpec {
	return s.registry.List()
}

// validate runs structural checks, per-node schema validation and a
// graph build so a cyclic or disconnected definition is rejected at
// save time rather than on first run.
func (s *WorkflowService) validate(w *model.Workflow) error {
	if err := w.Validate(); err != nil {
		return errs.Wrap(errs.CodeInvalidWorkflow, "invalid workflow definition", err)
	}

	var problems []string
	for _, n := range w.Nodes {
		for _, err := range s.registry.Validate(n) {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		appErr := errs.New(errs.CodeInvalidWorkflow,
			fmt.Sprintf("workflow failed validation with %d problem(s)", len(problems)))
		return appErr.WithDetail("problems", problems)
	}

	if _, err := graph.Build(w); err != nil {
		return err
	}
	return nil
}

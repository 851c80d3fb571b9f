package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/weavr-ai/weavr/common/db"
	"github.com/weavr-ai/weavr/common/errs"
	"github.com/weavr-ai/weavr/common/model"
)

// WorkflowRepository handles database operations for workflow definitions
type WorkflowRepository struct {
	db *db.DB
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(database *db.DB) *WorkflowRepository {
	return &WorkflowRepository{db: database}
}

// definition holds the graph portion of a workflow, stored as one JSONB column
type definition struct {
	Metadata    map[string]any      `json:"metadata,omitempty"`
	Nodes       []*model.Node       `json:"nodes"`
	Connections []*model.Connection `json:"connections"`
	Triggers    []string            `json:"triggers"`
}

// Create inserts a new workflow definition
func (r *WorkflowRepository) Create(ctx context.Context, w *model.Workflow) error {
	def, err := json.Marshal(definition{
		Metadata:    w.Metadata,
		Nodes:       w.Nodes,
		Connections: w.Connections,
		Triggers:    w.Triggers,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal workflow definition: %w", err)
	}

	query := `
		INSERT INTO workflows (id, version, created_by, definition, deployment_status, deployment_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`

	status := w.DeploymentStatus
	if status == "" {
		status = model.DeploymentUndeployed
	}

	_, err = r.db.Exec(ctx, query, w.ID, w.Version, w.CreatedBy, def, status, w.DeploymentVersion, model.NowMS())
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

// GetByID retrieves a workflow by its ID
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*model.Workflow, error) {
	query := `
		SELECT id, version, created_by, definition, deployment_status, deployment_version
		FROM workflows
		WHERE id = $1
	`

	var (
		w   model.Workflow
		def []byte
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&w.ID,
		&w.Version,
		&w.CreatedBy,
		&def,
		&w.DeploymentStatus,
		&w.DeploymentVersion,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.CodeWorkflowNotFound, fmt.Sprintf("workflow %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	var d definition
	if err := json.Unmarshal(def, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow definition: %w", err)
	}
	w.Metadata = d.Metadata
	w.Nodes = d.Nodes
	w.Connections = d.Connections
	w.Triggers = d.Triggers
	return &w, nil
}

// Update replaces the definition of an existing workflow and bumps its version
func (r *WorkflowRepository) Update(ctx context.Context, w *model.Workflow) error {
	def, err := json.Marshal(definition{
		Metadata:    w.Metadata,
		Nodes:       w.Nodes,
		Connections: w.Connections,
		Triggers:    w.Triggers,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal workflow definition: %w", err)
	}

	query := `
		UPDATE workflows
		SET version = $2, definition = $3, updated_at = $4
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, w.ID, w.Version, def, model.NowMS())
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.CodeWorkflowNotFound, fmt.Sprintf("workflow %s not found", w.ID))
	}
	return nil
}

// UpdateDeploymentStatus moves a workflow between deployment states.
// When expect is non-empty the transition is compare-and-set on the
// current status; zero rows affected means another writer won.
func (r *WorkflowRepository) UpdateDeploymentStatus(ctx context.Context, id, expect, next string, version int) (bool, error) {
	var (
		tagQuery string
		args     []any
	)
	if expect != "" {
		tagQuery = `
			UPDATE workflows
			SET deployment_status = $2, deployment_version = $3, updated_at = $4
			WHERE id = $1 AND deployment_status = $5
		`
		args = []any{id, next, version, model.NowMS(), expect}
	} else {
		tagQuery = `
			UPDATE workflows
			SET deployment_status = $2, deployment_version = $3, updated_at = $4
			WHERE id = $1
		`
		args = []any{id, next, version, model.NowMS()}
	}

	tag, err := r.db.Exec(ctx, tagQuery, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update deployment status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByUser retrieves workflows created by a specific user
func (r *WorkflowRepository) ListByUser(ctx context.Context, createdBy string, limit int) ([]*model.Workflow, error) {
	query := `
		SELECT id, version, created_by, definition, deployment_status, deployment_version
		FROM workflows
		WHERE created_by = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, createdBy, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var out []*model.Workflow
	for rows.Next() {
		var (
			w   model.Workflow
			def []byte
		)
		if err := rows.Scan(&w.ID, &w.Version, &w.CreatedBy, &def, &w.DeploymentStatus, &w.DeploymentVersion); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		var d definition
		if err := json.Unmarshal(def, &d); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow definition: %w", err)
		}
		w.Metadata = d.Metadata
		w.Nodes = d.Nodes
		w.Connections = d.Connections
		w.Triggers = d.Triggers
		out = append(out, &w)
	}
	return out, rows.Err()
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weavr-ai/weavr/common/db"
	"github.com/weavr-ai/weavr/common/model"
)

// TriggerIndexRepository handles the flat trigger lookup table and the
// deployment history log
type TriggerIndexRepository struct {
	db *db.DB
}

// NewTriggerIndexRepository creates a new trigger index repository
func NewTriggerIndexRepository(database *db.DB) *TriggerIndexRepository {
	return &TriggerIndexRepository{db: database}
}

const triggerIndexColumns = `
	id, workflow_id, trigger_subtype, trigger_config, index_key,
	deployment_status, created_at, updated_at
`

// ReplaceForWorkflow atomically swaps a workflow's index rows: old rows are
// deleted and the given entries inserted in one transaction, so routing
// never observes a half-deployed workflow.
func (r *TriggerIndexRepository) ReplaceForWorkflow(ctx context.Context, workflowID string, entries []*model.TriggerIndexEntry) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM trigger_index WHERE workflow_id = $1`, workflowID); err != nil {
		return fmt.Errorf("failed to clear trigger index: %w", err)
	}

	insert := `
		INSERT INTO trigger_index (` + triggerIndexColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, e := range entries {
		config, err := json.Marshal(e.TriggerConfig)
		if err != nil {
			return fmt.Errorf("failed to marshal trigger config: %w", err)
		}
		_, err = tx.Exec(ctx, insert,
			e.ID, e.WorkflowID, e.TriggerSubtype, config, e.IndexKey,
			e.DeploymentStatus, e.CreatedAt, e.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert trigger index entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit trigger index swap: %w", err)
	}
	return nil
}

// DeleteForWorkflow removes every index row of a workflow
func (r *TriggerIndexRepository) DeleteForWorkflow(ctx context.Context, workflowID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM trigger_index WHERE workflow_id = $1`, workflowID); err != nil {
		return fmt.Errorf("failed to delete trigger index rows: %w", err)
	}
	return nil
}

// UpdateStatusForWorkflow flips every index row of a workflow to a new state
func (r *TriggerIndexRepository) UpdateStatusForWorkflow(ctx context.Context, workflowID, status string) error {
	query := `
		UPDATE trigger_index
		SET deployment_status = $2, updated_at = $3
		WHERE workflow_id = $1
	`
	if _, err := r.db.Exec(ctx, query, workflowID, status, model.NowMS()); err != nil {
		return fmt.Errorf("failed to update trigger index status: %w", err)
	}
	return nil
}

// FindActive is the coarse routing phase: exact match on
// (subtype, index_key) over active rows, served by the composite index.
func (r *TriggerIndexRepository) FindActive(ctx context.Context, subtype, indexKey string) ([]*model.TriggerIndexEntry, error) {
	query := `
		SELECT ` + triggerIndexColumns + `
		FROM trigger_index
		WHERE trigger_subtype = $1 AND index_key = $2 AND deployment_status = $3
	`
	return r.list(ctx, query, subtype, indexKey, model.TriggerIndexActive)
}

// ListActiveBySubtype returns every active row of one subtype.
// Cron restore walks this at boot to rebuild its in-process schedule.
func (r *TriggerIndexRepository) ListActiveBySubtype(ctx context.Context, subtype string) ([]*model.TriggerIndexEntry, error) {
	query := `
		SELECT ` + triggerIndexColumns + `
		FROM trigger_index
		WHERE trigger_subtype = $1 AND deployment_status = $2
	`
	return r.list(ctx, query, subtype, model.TriggerIndexActive)
}

// ListByWorkflow returns every index row of a workflow regardless of state
func (r *TriggerIndexRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*model.TriggerIndexEntry, error) {
	query := `
		SELECT ` + triggerIndexColumns + `
		FROM trigger_index
		WHERE workflow_id = $1
	`
	return r.list(ctx, query, workflowID)
}

func (r *TriggerIndexRepository) list(ctx context.Context, query string, args ...any) ([]*model.TriggerIndexEntry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trigger index: %w", err)
	}
	defer rows.Close()

	var out []*model.TriggerIndexEntry
	for rows.Next() {
		var (
			e      model.TriggerIndexEntry
			config []byte
		)
		err := rows.Scan(
			&e.ID, &e.WorkflowID, &e.TriggerSubtype, &config, &e.IndexKey,
			&e.DeploymentStatus, &e.CreatedAt, &e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger index entry: %w", err)
		}
		if err := json.Unmarshal(config, &e.TriggerConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// AppendHistory records one deployment state transition
func (r *TriggerIndexRepository) AppendHistory(ctx context.Context, h *model.DeploymentHistory) error {
	var logs []byte
	if h.Logs != nil {
		var err error
		if logs, err = json.Marshal(h.Logs); err != nil {
			return fmt.Errorf("failed to marshal deployment logs: %w", err)
		}
	}

	query := `
		INSERT INTO workflow_deployment_history
			(id, workflow_id, action, from_status, to_status, deployment_version,
			 triggered_by, started_at, completed_at, error_message, logs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.Exec(ctx, query,
		h.ID, h.WorkflowID, h.Action, h.FromStatus, h.ToStatus, h.DeploymentVersion,
		nullable(h.TriggeredBy), h.StartedAt, zeroNull(h.CompletedAt),
		nullable(h.ErrorMessage), logs,
	)
	if err != nil {
		return fmt.Errorf("failed to append deployment history: %w", err)
	}
	return nil
}

// ListHistory returns a workflow's deployment transitions, newest first
func (r *TriggerIndexRepository) ListHistory(ctx context.Context, workflowID string, limit int) ([]*model.DeploymentHistory, error) {
	query := `
		SELECT id, workflow_id, action, from_status, to_status, deployment_version,
		       triggered_by, started_at, completed_at, error_message, logs
		FROM workflow_deployment_history
		WHERE workflow_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployment history: %w", err)
	}
	defer rows.Close()

	var out []*model.DeploymentHistory
	for rows.Next() {
		var (
			h           model.DeploymentHistory
			triggeredBy *string
			completedAt *int64
			errMessage  *string
			logs        []byte
		)
		err := rows.Scan(
			&h.ID, &h.WorkflowID, &h.Action, &h.FromStatus, &h.ToStatus,
			&h.DeploymentVersion, &triggeredBy, &h.StartedAt, &completedAt,
			&errMessage, &logs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment history: %w", err)
		}
		if triggeredBy != nil {
			h.TriggeredBy = *triggeredBy
		}
		if completedAt != nil {
			h.CompletedAt = *completedAt
		}
		if errMessage != nil {
			h.ErrorMessage = *errMessage
		}
		if logs != nil {
			if err := json.Unmarshal(logs, &h.Logs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal deployment logs: %w", err)
			}
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

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

// ExecutionRepository handles database operations for workflow executions
type ExecutionRepository struct {
	db *db.DB
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(database *db.DB) *ExecutionRepository {
	return &ExecutionRepository{db: database}
}

const executionColumns = `
	id, workflow_id, workflow_version, status, trigger_info, node_executions,
	execution_sequence, current_node_id, interaction_id, start_time, end_time,
	duration_ms, credits_consumed, tokens_used, error
`

// Create inserts a new execution
func (r *ExecutionRepository) Create(ctx context.Context, e *model.Execution) error {
	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	triggerInfo, nodeExecs, sequence, tokens, execErr, err := marshalExecutionFields(e)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, query,
		e.ID, e.WorkflowID, e.WorkflowVersion, e.Status, triggerInfo, nodeExecs,
		sequence, nullable(e.CurrentNodeID), nullable(e.InteractionID), e.StartTime,
		zeroNull(e.EndTime), zeroNull(e.DurationMS), e.CreditsConsumed, tokens, execErr,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// UpdateIfStatus persists the full current state of an execution, but
// only while the stored status still matches the caller's expectation.
// Returns false when another writer moved the execution first.
func (r *ExecutionRepository) UpdateIfStatus(ctx context.Context, e *model.Execution, from model.ExecutionStatus) (bool, error) {
	query := `
		UPDATE executions
		SET status = $2, node_executions = $3, execution_sequence = $4,
		    current_node_id = $5, interaction_id = $6, end_time = $7,
		    duration_ms = $8, credits_consumed = $9, tokens_used = $10, error = $11
		WHERE id = $1 AND status = $12
	`

	_, nodeExecs, sequence, tokens, execErr, err := marshalExecutionFields(e)
	if err != nil {
		return false, err
	}

	tag, err := r.db.Exec(ctx, query,
		e.ID, e.Status, nodeExecs, sequence,
		nullable(e.CurrentNodeID), nullable(e.InteractionID), zeroNull(e.EndTime),
		zeroNull(e.DurationMS), e.CreditsConsumed, tokens, execErr, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update execution: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CompareAndSetStatus transitions status only when the current value matches.
// Returns false when another writer moved the execution first.
func (r *ExecutionRepository) CompareAndSetStatus(ctx context.Context, id string, from, to model.ExecutionStatus) (bool, error) {
	query := `
		UPDATE executions
		SET status = $3
		WHERE id = $1 AND status = $2
	`

	tag, err := r.db.Exec(ctx, query, id, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to transition execution status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByID retrieves a full execution by its ID
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*model.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	e, err := scanExecution(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.CodeExecutionNotFound, fmt.Sprintf("execution %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return e, nil
}

// ListByWorkflow retrieves summaries for a workflow's runs, newest first.
// An empty status matches every run.
func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID, status string, limit, offset int) ([]*model.ExecutionSummary, error) {
	query := `
		SELECT id, workflow_id, status, start_time, end_time, duration_ms
		FROM executions
		WHERE workflow_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY start_time DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Query(ctx, query, workflowID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []*model.ExecutionSummary
	for rows.Next() {
		s := &model.ExecutionSummary{}
		var endTime, durationMS *int64
		if err := rows.Scan(&s.ID, &s.WorkflowID, &s.Status, &s.StartTime, &endTime, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan execution summary: %w", err)
		}
		if endTime != nil {
			s.EndTime = *endTime
		}
		if durationMS != nil {
			s.DurationMS = *durationMS
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListPausedByWorkflow returns paused executions newest-pause-first.
// Used by smart resume to find a run waiting on the incoming event; the
// active pause row supplies the pause timestamp, since a long-lived run
// may have started well before it parked.
func (r *ExecutionRepository) ListPausedByWorkflow(ctx context.Context, workflowID string) ([]*model.Execution, error) {
	query := `
		SELECT e.id, e.workflow_id, e.workflow_version, e.status, e.trigger_info,
		       e.node_executions, e.execution_sequence, e.current_node_id,
		       e.interaction_id, e.start_time, e.end_time, e.duration_ms,
		       e.credits_consumed, e.tokens_used, e.error
		FROM executions e
		JOIN workflow_execution_pauses p
		  ON p.execution_id = e.id AND p.status = $4
		WHERE e.workflow_id = $1 AND e.status IN ($2, $3)
		ORDER BY p.paused_at DESC
	`

	rows, err := r.db.Query(ctx, query, workflowID, model.ExecutionPaused, model.ExecutionWaitingForHuman, model.PauseActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list paused executions: %w", err)
	}
	defer rows.Close()

	var out []*model.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*model.Execution, error) {
	var (
		e           model.Execution
		triggerInfo []byte
		nodeExecs   []byte
		sequence    []byte
		tokens      []byte
		execErr     []byte
		currentNode *string
		interaction *string
		endTime     *int64
		durationMS  *int64
	)
	err := row.Scan(
		&e.ID, &e.WorkflowID, &e.WorkflowVersion, &e.Status, &triggerInfo, &nodeExecs,
		&sequence, &currentNode, &interaction, &e.StartTime, &endTime,
		&durationMS, &e.CreditsConsumed, &tokens, &execErr,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(triggerInfo, &e.TriggerInfo); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger info: %w", err)
	}
	if err := json.Unmarshal(nodeExecs, &e.NodeExecutions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node executions: %w", err)
	}
	if err := json.Unmarshal(sequence, &e.ExecutionSequence); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution sequence: %w", err)
	}
	if err := json.Unmarshal(tokens, &e.TokensUsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token usage: %w", err)
	}
	if execErr != nil {
		if err := json.Unmarshal(execErr, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution error: %w", err)
		}
	}
	if currentNode != nil {
		e.CurrentNodeID = *currentNode
	}
	if interaction != nil {
		e.InteractionID = *interaction
	}
	if endTime != nil {
		e.EndTime = *endTime
	}
	if durationMS != nil {
		e.DurationMS = *durationMS
	}
	return &e, nil
}

func marshalExecutionFields(e *model.Execution) (triggerInfo, nodeExecs, sequence, tokens, execErr []byte, err error) {
	if triggerInfo, err = json.Marshal(e.TriggerInfo); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to marshal trigger info: %w", err)
	}
	ne := e.NodeExecutions
	if ne == nil {
		ne = map[string][]*model.NodeExecution{}
	}
	if nodeExecs, err = json.Marshal(ne); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to marshal node executions: %w", err)
	}
	seq := e.ExecutionSequence
	if seq == nil {
		seq = []string{}
	}
	if sequence, err = json.Marshal(seq); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to marshal execution sequence: %w", err)
	}
	if tokens, err = json.Marshal(e.TokensUsed); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to marshal token usage: %w", err)
	}
	if e.Error != nil {
		if execErr, err = json.Marshal(e.Error); err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("failed to marshal execution error: %w", err)
		}
	}
	return triggerInfo, nodeExecs, sequence, tokens, execErr, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func zeroNull(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

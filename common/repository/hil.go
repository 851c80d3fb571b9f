package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/weavr-ai/weavr/common/db"
	"github.com/weavr-ai/weavr/common/model"
)

// HILRepository handles database operations for human-in-the-loop
// interactions and their execution pause records
type HILRepository struct {
	db *db.DB
}

// NewHILRepository creates a new HIL repository
func NewHILRepository(database *db.DB) *HILRepository {
	return &HILRepository{db: database}
}

const interactionColumns = `
	id, workflow_id, execution_id, node_id, user_id, interaction_type,
	channel_type, status, request_data, response_data, timeout_at,
	warning_sent, created_at, responded_at
`

// CreateInteraction inserts a pending human interaction
func (r *HILRepository) CreateInteraction(ctx context.Context, in *model.HILInteraction) error {
	query := `
		INSERT INTO hil_interactions (` + interactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	request, err := json.Marshal(in.RequestData)
	if err != nil {
		return fmt.Errorf("failed to marshal request data: %w", err)
	}
	var response []byte
	if in.ResponseData != nil {
		if response, err = json.Marshal(in.ResponseData); err != nil {
			return fmt.Errorf("failed to marshal response data: %w", err)
		}
	}

	_, err = r.db.Exec(ctx, query,
		in.ID, in.WorkflowID, in.ExecutionID, in.NodeID, nullable(in.UserID),
		in.InteractionType, in.ChannelType, in.Status, request, response,
		in.TimeoutAt, in.WarningSent, in.CreatedAt, zeroNull(in.RespondedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create interaction: %w", err)
	}
	return nil
}

// GetInteraction retrieves an interaction by its ID
func (r *HILRepository) GetInteraction(ctx context.Context, id string) (*model.HILInteraction, error) {
	query := `SELECT ` + interactionColumns + ` FROM hil_interactions WHERE id = $1`

	in, err := scanInteraction(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get interaction: %w", err)
	}
	return in, nil
}

// RespondInteraction records a human response. The pending-status guard makes
// duplicate responses and respond-after-timeout races lose cleanly.
func (r *HILRepository) RespondInteraction(ctx context.Context, id string, response map[string]any, status string) (bool, error) {
	data, err := json.Marshal(response)
	if err != nil {
		return false, fmt.Errorf("failed to marshal response data: %w", err)
	}

	query := `
		UPDATE hil_interactions
		SET status = $2, response_data = $3, responded_at = $4
		WHERE id = $1 AND status = $5
	`

	tag, err := r.db.Exec(ctx, query, id, status, data, model.NowMS(), model.InteractionPending)
	if err != nil {
		return false, fmt.Errorf("failed to respond to interaction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListExpired returns pending interactions whose deadline has passed
func (r *HILRepository) ListExpired(ctx context.Context, now int64, limit int) ([]*model.HILInteraction, error) {
	query := `
		SELECT ` + interactionColumns + `
		FROM hil_interactions
		WHERE status = $1 AND timeout_at <= $2
		ORDER BY timeout_at
		LIMIT $3
	`
	return r.listInteractions(ctx, query, model.InteractionPending, now, limit)
}

// ListApproachingTimeout returns pending interactions past the warning
// threshold that have not been warned yet
func (r *HILRepository) ListApproachingTimeout(ctx context.Context, now int64, limit int) ([]*model.HILInteraction, error) {
	query := `
		SELECT ` + interactionColumns + `
		FROM hil_interactions
		WHERE status = $1
		  AND warning_sent = FALSE
		  AND timeout_at > $2
		  AND created_at + (timeout_at - created_at) * 8 / 10 <= $2
		ORDER BY timeout_at
		LIMIT $3
	`
	return r.listInteractions(ctx, query, model.InteractionPending, now, limit)
}

// MarkWarningSent flips the warning flag so each interaction warns once
func (r *HILRepository) MarkWarningSent(ctx context.Context, id string) error {
	query := `UPDATE hil_interactions SET warning_sent = TRUE WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark warning sent: %w", err)
	}
	return nil
}

func (r *HILRepository) listInteractions(ctx context.Context, query string, args ...any) ([]*model.HILInteraction, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}
	defer rows.Close()

	var out []*model.HILInteraction
	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func scanInteraction(row rowScanner) (*model.HILInteraction, error) {
	var (
		in          model.HILInteraction
		userID      *string
		request     []byte
		response    []byte
		respondedAt *int64
	)
	err := row.Scan(
		&in.ID, &in.WorkflowID, &in.ExecutionID, &in.NodeID, &userID,
		&in.InteractionType, &in.ChannelType, &in.Status, &request, &response,
		&in.TimeoutAt, &in.WarningSent, &in.CreatedAt, &respondedAt,
	)
	if err != nil {
		return nil, err
	}
	if request != nil {
		if err := json.Unmarshal(request, &in.RequestData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal request data: %w", err)
		}
	}
	if response != nil {
		if err := json.Unmarshal(response, &in.ResponseData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response data: %w", err)
		}
	}
	if userID != nil {
		in.UserID = *userID
	}
	if respondedAt != nil {
		in.RespondedAt = *respondedAt
	}
	return &in, nil
}

// CreatePause inserts the active pause record for an execution
func (r *HILRepository) CreatePause(ctx context.Context, p *model.ExecutionPause) error {
	pauseCtx, err := json.Marshal(p.PauseContext)
	if err != nil {
		return fmt.Errorf("failed to marshal pause context: %w", err)
	}
	var conditions []byte
	if p.ResumeConditions != nil {
		if conditions, err = json.Marshal(p.ResumeConditions); err != nil {
			return fmt.Errorf("failed to marshal resume conditions: %w", err)
		}
	}

	query := `
		INSERT INTO workflow_execution_pauses
			(id, execution_id, paused_node_id, pause_reason, resume_conditions,
			 pause_context, status, paused_at, resume_at, resumed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.Exec(ctx, query,
		p.ID, p.ExecutionID, p.PausedNodeID, p.PauseReason, conditions,
		pauseCtx, p.Status, p.PausedAt, zeroNull(p.ResumeAt), zeroNull(p.ResumedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create pause: %w", err)
	}
	return nil
}

const pauseColumns = `
	id, execution_id, paused_node_id, pause_reason, resume_conditions,
	pause_context, status, paused_at, resume_at, resumed_at
`

// GetActivePause retrieves the active pause for an execution, or nil
func (r *HILRepository) GetActivePause(ctx context.Context, executionID string) (*model.ExecutionPause, error) {
	query := `
		SELECT ` + pauseColumns + `
		FROM workflow_execution_pauses
		WHERE execution_id = $1 AND status = $2
		ORDER BY paused_at DESC
		LIMIT 1
	`

	p, err := scanPause(r.db.QueryRow(ctx, query, executionID, model.PauseActive))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active pause: %w", err)
	}
	return p, nil
}

// ListDueDelayPauses returns active pauses whose wake deadline has
// passed. Only timed (delay) pauses carry a resume_at.
func (r *HILRepository) ListDueDelayPauses(ctx context.Context, now int64, limit int) ([]*model.ExecutionPause, error) {
	query := `
		SELECT ` + pauseColumns + `
		FROM workflow_execution_pauses
		WHERE status = $1 AND resume_at IS NOT NULL AND resume_at <= $2
		ORDER BY resume_at
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, model.PauseActive, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due delay pauses: %w", err)
	}
	defer rows.Close()

	var out []*model.ExecutionPause
	for rows.Next() {
		p, err := scanPause(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pause: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPause(row rowScanner) (*model.ExecutionPause, error) {
	var (
		p          model.ExecutionPause
		conditions []byte
		pauseCtx   []byte
		resumeAt   *int64
		resumedAt  *int64
	)
	err := row.Scan(
		&p.ID, &p.ExecutionID, &p.PausedNodeID, &p.PauseReason, &conditions,
		&pauseCtx, &p.Status, &p.PausedAt, &resumeAt, &resumedAt,
	)
	if err != nil {
		return nil, err
	}

	if conditions != nil {
		if err := json.Unmarshal(conditions, &p.ResumeConditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal resume conditions: %w", err)
		}
	}
	if err := json.Unmarshal(pauseCtx, &p.PauseContext); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pause context: %w", err)
	}
	if resumeAt != nil {
		p.ResumeAt = *resumeAt
	}
	if resumedAt != nil {
		p.ResumedAt = *resumedAt
	}
	return &p, nil
}

// ClosePause marks the active pause resolved. The active-status guard makes
// a concurrent resume and timeout race to a single winner.
func (r *HILRepository) ClosePause(ctx context.Context, id, status string) (bool, error) {
	query := `
		UPDATE workflow_execution_pauses
		SET status = $2, resumed_at = $3
		WHERE id = $1 AND status = $4
	`

	tag, err := r.db.Exec(ctx, query, id, status, model.NowMS(), model.PauseActive)
	if err != nil {
		return false, fmt.Errorf("failed to close pause: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

package model

// Interaction types
const (
	InteractionApproval     = "approval"
	InteractionInput        = "input"
	InteractionSelection    = "selection"
	InteractionReview       = "review"
	InteractionConfirmation = "confirmation"
	InteractionCustom       = "custom"
)

// Interaction channels
const (
	ChannelChat    = "chat"
	ChannelEmail   = "email"
	ChannelInApp   = "in-app"
	ChannelWebhook = "webhook"
)

// Interaction statuses
const (
	InteractionPending   = "pending"
	InteractionResponded = "responded"
	InteractionTimeout   = "timeout"
	InteractionCancelled = "cancelled"
)

// HILInteraction is one outstanding (or answered) human request.
// It outlives the execution's in-memory lifetime across a pause.
type HILInteraction struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflow_id"`
	ExecutionID     string         `json:"execution_id"`
	NodeID          string         `json:"node_id"`
	UserID          string         `json:"user_id,omitempty"`
	InteractionType string         `json:"interaction_type"`
	ChannelType     string         `json:"channel_type"`
	Status          string         `json:"status"`
	RequestData     map[string]any `json:"request_data,omitempty"`
	ResponseData    map[string]any `json:"response_data,omitempty"`
	TimeoutAt       int64          `json:"timeout_at"`
	WarningSent     bool           `json:"warning_sent"`
	CreatedAt       int64          `json:"created_at"`
	RespondedAt     int64          `json:"responded_at,omitempty"`
}

// Pause statuses
const (
	PauseActive    = "active"
	PauseResumed   = "resumed"
	PauseCancelled = "cancelled"
)

// QueueItem is one pending unit of work in the engine's dispatch queue
type QueueItem struct {
	NodeID         string         `json:"node_id"`
	OverrideInputs map[string]any `json:"override_inputs,omitempty"`
	ActivationID   string         `json:"activation_id,omitempty"`
}

// PauseContext is the complete engine snapshot needed to resume a run.
// Persisted opaquely; the engine restores it verbatim.
type PauseContext struct {
	PendingInputs     map[string]map[string]any   `json:"pending_inputs"`
	Executed          []string                    `json:"executed"`
	Skipped           []string                    `json:"skipped,omitempty"`
	Queue             []QueueItem                 `json:"queue,omitempty"`
	NodeExecutions    map[string][]*NodeExecution `json:"node_executions"`
	ExecutionSequence []string                    `json:"execution_sequence"`
	CreditsConsumed   int64                       `json:"credits_consumed"`
	TokensUsed        TokenUsage                  `json:"tokens_used"`
	CurrentNodeID     string                      `json:"current_node_id"`
}

// ExecutionPause is the one-to-one record of an active pause
type ExecutionPause struct {
	ID               string         `json:"id"`
	ExecutionID      string         `json:"execution_id"`
	PausedNodeID     string         `json:"paused_node_id"`
	PauseReason      string         `json:"pause_reason"`
	ResumeConditions map[string]any `json:"resume_conditions,omitempty"`
	PauseContext     *PauseContext  `json:"pause_context"`
	Status           string         `json:"status"`
	PausedAt         int64          `json:"paused_at"`
	// Wake deadline for timed pauses; zero for signal- and human-driven ones
	ResumeAt  int64 `json:"resume_at,omitempty"`
	ResumedAt int64 `json:"resumed_at,omitempty"`
}

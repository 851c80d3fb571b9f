package model

import "time"

// ExecutionStatus is the lifecycle state of one workflow run
type ExecutionStatus string

const (
	ExecutionNew             ExecutionStatus = "NEW"
	ExecutionRunning         ExecutionStatus = "RUNNING"
	ExecutionPaused          ExecutionStatus = "PAUSED"
	ExecutionWaitingForHuman ExecutionStatus = "WAITING_FOR_HUMAN"
	ExecutionSuccess         ExecutionStatus = "SUCCESS"
	ExecutionError           ExecutionStatus = "ERROR"
	ExecutionCanceled        ExecutionStatus = "CANCELED"
	ExecutionTimeout         ExecutionStatus = "TIMEOUT"
)

// IsTerminal reports whether the status is final
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionSuccess, ExecutionError, ExecutionCanceled, ExecutionTimeout:
		return true
	}
	return false
}

// IsPaused reports whether the status is a resumable pause
func (s ExecutionStatus) IsPaused() bool {
	return s == ExecutionPaused || s == ExecutionWaitingForHuman
}

// NodeExecutionStatus is the lifecycle state of a single node attempt
type NodeExecutionStatus string

const (
	NodePending      NodeExecutionStatus = "PENDING"
	NodeRunning      NodeExecutionStatus = "RUNNING"
	NodeCompleted    NodeExecutionStatus = "COMPLETED"
	NodeFailed       NodeExecutionStatus = "FAILED"
	NodeSkipped      NodeExecutionStatus = "SKIPPED"
	NodeRetrying     NodeExecutionStatus = "RETRYING"
	NodeWaitingInput NodeExecutionStatus = "WAITING_INPUT"
)

// TriggerInfo describes the event that started or resumed a run
type TriggerInfo struct {
	TriggerType string         `json:"trigger_type"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	Timestamp   int64          `json:"timestamp"`
}

// TokenUsage aggregates model token consumption for a run
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates usage from another sample
func (t *TokenUsage) Add(other TokenUsage) {
	t.PromptTokens += other.PromptTokens
	t.CompletionTokens += other.CompletionTokens
	t.TotalTokens += other.TotalTokens
}

// ExecutionFailure is the structured error on a failed run
type ExecutionFailure struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// NodeExecution is one attempt (or fan-out sibling) of one node.
// Fan-out siblings share node_id and differ by activation_id.
type NodeExecution struct {
	NodeID       string              `json:"node_id"`
	ActivationID string              `json:"activation_id"`
	Status       NodeExecutionStatus `json:"status"`
	InputData    map[string]any      `json:"input_data,omitempty"`
	OutputData   map[string]any      `json:"output_data,omitempty"`
	StartTime    int64               `json:"start_time,omitempty"`
	EndTime      int64               `json:"end_time,omitempty"`
	Retries      int                 `json:"retries"`
	Error        string              `json:"error,omitempty"`
	// Sub-activity of attached TOOL/MEMORY nodes during an AI call.
	// These never get top-level NodeExecutions of their own.
	Activity []map[string]any `json:"activity,omitempty"`
}

// Execution materializes one run of a workflow
type Execution struct {
	ID              string          `json:"execution_id"`
	WorkflowID      string          `json:"workflow_id"`
	WorkflowVersion int             `json:"workflow_version"`
	Status          ExecutionStatus `json:"status"`
	TriggerInfo     TriggerInfo     `json:"trigger_info"`
	// node_id -> attempts; one entry for ordinary nodes, N for fan-out
	NodeExecutions    map[string][]*NodeExecution `json:"node_executions"`
	ExecutionSequence []string                    `json:"execution_sequence"`
	// Set iff status is PAUSED or WAITING_FOR_HUMAN
	CurrentNodeID   string            `json:"current_node_id,omitempty"`
	InteractionID   string            `json:"interaction_id,omitempty"`
	StartTime       int64             `json:"start_time"`
	EndTime         int64             `json:"end_time,omitempty"`
	DurationMS      int64             `json:"duration_ms,omitempty"`
	CreditsConsumed int64             `json:"credits_consumed"`
	TokensUsed      TokenUsage        `json:"tokens_used"`
	Error           *ExecutionFailure `json:"error,omitempty"`
}

// ExecutionSummary is the list-view projection of an Execution
type ExecutionSummary struct {
	ID         string          `json:"execution_id"`
	WorkflowID string          `json:"workflow_id"`
	Status     ExecutionStatus `json:"status"`
	StartTime  int64           `json:"start_time"`
	EndTime    int64           `json:"end_time,omitempty"`
	DurationMS int64           `json:"duration_ms,omitempty"`
}

// AddNodeExecution appends an attempt for a node
func (e *Execution) AddNodeExecution(ne *NodeExecution) {
	if e.NodeExecutions == nil {
		e.NodeExecutions = make(map[string][]*NodeExecution)
	}
	e.NodeExecutions[ne.NodeID] = append(e.NodeExecutions[ne.NodeID], ne)
}

// NowMS returns the current time as epoch milliseconds.
// Timestamps are epoch ms in RAM and ISO-8601 at the HTTP boundary.
func NowMS() int64 {
	return time.Now().UnixMilli()
}

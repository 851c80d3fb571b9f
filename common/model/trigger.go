package model

// Workflow deployment states
const (
	DeploymentUndeployed  = "UNDEPLOYED"
	DeploymentDeploying   = "DEPLOYING"
	DeploymentDeployed    = "DEPLOYED"
	DeploymentFailed      = "DEPLOYMENT_FAILED"
	DeploymentUndeploying = "UNDEPLOYING"
)

// Trigger index row states
const (
	TriggerIndexActive   = "active"
	TriggerIndexInactive = "inactive"
	TriggerIndexPending  = "pending"
	TriggerIndexFailed   = "failed"
)

// TriggerIndexEntry is one row of the flat trigger lookup table.
// Rows are strictly derived from a deployed workflow's trigger nodes and
// must be re-derivable at any time.
type TriggerIndexEntry struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflow_id"`
	TriggerSubtype string         `json:"trigger_subtype"`
	TriggerConfig  map[string]any `json:"trigger_config"`
	IndexKey       string         `json:"index_key"`
	DeploymentStatus string       `json:"deployment_status"`
	CreatedAt      int64          `json:"created_at"`
	UpdatedAt      int64          `json:"updated_at"`
}

// TriggerMatch is one routed candidate: a deployed workflow whose trigger
// accepted the incoming event, plus the normalized payload to run it with.
type TriggerMatch struct {
	WorkflowID     string         `json:"workflow_id"`
	TriggerSubtype string         `json:"trigger_subtype"`
	Payload        map[string]any `json:"payload"`
}

// DeploymentHistory records one deployment state transition
type DeploymentHistory struct {
	ID                string         `json:"id"`
	WorkflowID        string         `json:"workflow_id"`
	Action            string         `json:"action"`
	FromStatus        string         `json:"from_status"`
	ToStatus          string         `json:"to_status"`
	DeploymentVersion int            `json:"deployment_version"`
	TriggeredBy       string         `json:"triggered_by,omitempty"`
	StartedAt         int64          `json:"started_at"`
	CompletedAt       int64          `json:"completed_at,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	Logs              map[string]any `json:"logs,omitempty"`
}

// DeploymentResult is returned by DeployWorkflow
type DeploymentResult struct {
	WorkflowID   string   `json:"workflow_id"`
	Status       string   `json:"status"`
	TriggerCount int      `json:"trigger_count"`
	IndexKeys    []string `json:"index_keys,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
}

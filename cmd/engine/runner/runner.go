package runner

import (
	"context"

	"github.com/weavr-ai/weavr/common/model"
)

// Control keys a runner may emit alongside (or instead of) port payloads.
// The executor strips them before output shaping.
const (
	KeyHILWait           = "_hil_wait"
	KeyHILInteractionID  = "_hil_interaction_id"
	KeyHILTimeoutSeconds = "_hil_timeout_seconds"
	KeyHILNodeID         = "_hil_node_id"
	KeyWait              = "_wait"
	KeyDelayMS           = "_delay_ms"
)

// Request carries everything a runner may need for one node invocation.
// Runners hold no engine state; all run-scoped data arrives here.
type Request struct {
	Node    *model.Node
	Inputs  map[string]any
	Trigger model.TriggerInfo
	// Definition the node belongs to, for attached-node resolution
	Workflow    *model.Workflow
	ExecutionID string
	UserID      string
	// Records sub-activity of attached TOOL/MEMORY nodes inside the
	// calling node's NodeExecution
	RecordActivity func(entry map[string]any)
	// Token usage accumulated by AI runners
	AddTokens func(usage model.TokenUsage)
}

// Runner executes one node and returns its port-keyed outputs
type Runner interface {
	Run(ctx context.Context, req *Request) (map[string]any, error)
}

// Logger is the logging surface runners use
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// IsControlKey reports whether an output key is engine-internal
func IsControlKey(key string) bool {
	return len(key) > 0 && key[0] == '_'
}

// StripControlKeys returns outputs with engine-internal keys removed
func StripControlKeys(outputs map[string]any) map[string]any {
	clean := make(map[string]any, len(outputs))
	for k, v := range outputs {
		if !IsControlKey(k) {
			clean[k] = v
		}
	}
	return clean
}

package runner

import (
	"context"

	"github.com/weavr-ai/weavr/common/model"
)

// TriggerRunner handles every TRIGGER.* node: the trigger payload becomes
// the run's first result
type TriggerRunner struct{}

// NewTriggerRunner creates the trigger echo runner
func NewTriggerRunner() *TriggerRunner {
	return &TriggerRunner{}
}

// Run echoes the trigger payload on the result port
func (r *TriggerRunner) Run(ctx context.Context, req *Request) (map[string]any, error) {
	payload := req.Trigger.TriggerData
	if payload == nil {
		payload = map[string]any{}
	}
	return map[string]any{model.PortResult: payload}, nil
}

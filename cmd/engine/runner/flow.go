package runner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/weavr-ai/weavr/common/errs"
	"github.com/weavr-ai/weavr/common/model"
)

// ConditionEvaluator evaluates a boolean branch expression against a payload
type ConditionEvaluator interface {
	EvaluateCondition(ctx context.Context, expr string, input any, trigger map[string]any) (bool, error)
}

// IfRunner executes FLOW.IF: the payload leaves on exactly one of the
// true/false ports; the engine skips the untaken branch's successors.
type IfRunner struct {
	evaluator ConditionEvaluator
}

// NewIfRunner creates the branch runner
func NewIfRunner(evaluator ConditionEvaluator) *IfRunner {
	return &IfRunner{evaluator: evaluator}
}

// Run evaluates the condition and routes the payload
func (r *IfRunner) Run(ctx context.Context, req *Request) (map[string]any, error) {
	expr := cfgString(req.Node.Configurations, "condition_expression", "")
	if expr == "" {
		return nil, errs.New(errs.CodeInvalidWorkflow, fmt.Sprintf("node %s: condition_expression is required", req.Node.ID))
	}

	taken, err := r.evaluator.EvaluateCondition(ctx, expr, req.Inputs, req.Trigger.TriggerData)
	if err != nil {
		return nil, err
	}

	payload := branchPayload(req.Inputs)
	if taken {
		return map[string]any{model.PortTrue: payload}, nil
	}
	return map[string]any{model.PortFalse: payload}, nil
}

func branchPayload(inputs map[string]any) any {
	if v, present := inputs[model.PortResult]; present {
		return v
	}
	return inputs
}

// MergeRunner executes FLOW.MERGE. The engine holds the node back until
// every inbound branch delivered, then the configured strategy combines them.
type MergeRunner struct{}

// NewMergeRunner creates the join runner
func NewMergeRunner() *MergeRunner {
	return &MergeRunner{}
}

// Run combines all inbound payloads into one
func (r *MergeRunner) Run(ctx context.Context, req *Request) (map[string]any, error) {
	strategy := cfgString(req.Node.Configurations, "merge_strategy", "combine")

	keys := make([]string, 0, len(req.Inputs))
	for k := range req.Inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	switch strategy {
	case "combine":
		combined := make(map[string]any)
		for _, k := range keys {
			if m, ok := req.Inputs[k].(map[string]any); ok {
				for field, value := range m {
					combined[field] = value
				}
			} else if req.Inputs[k] != nil {
				combined[sourceLabel(k)] = req.Inputs[k]
			}
		}
		return map[string]any{model.PortResult: combined}, nil

	case "append":
		var items []any
		for _, k := range keys {
			if req.Inputs[k] != nil {
				items = append(items, req.Inputs[k])
			}
		}
		return map[string]any{model.PortResult: map[string]any{"items": items}}, nil

	case "first":
		for _, k := range keys {
			if req.Inputs[k] != nil {
				return map[string]any{model.PortResult: req.Inputs[k]}, nil
			}
		}
		return map[string]any{model.PortResult: map[string]any{}}, nil

	default:
		return nil, errs.New(errs.CodeInvalidWorkflow, fmt.Sprintf("node %s: unknown merge_strategy %q", req.Node.ID, strategy))
	}
}

// sourceLabel strips the disambiguation suffix the engine adds when two
// inbound branches share a port name
func sourceLabel(port string) string {
	if i := strings.IndexByte(port, ':'); i > 0 {
		return port[i+1:]
	}
	return port
}

// ForEachRunner executes FLOW.FOR_EACH: the configured field's elements
// leave on the iteration port and the engine fans the subgraph out per item.
type ForEachRunner struct{}

// NewForEachRunner creates the fan-out runner
func NewForEachRunner() *ForEachRunner {
	return &ForEachRunner{}
}

// Run extracts the sequence to iterate over
func (r *ForEachRunner) Run(ctx context.Context, req *Request) (map[string]any, error) {
	field := cfgString(req.Node.Configurations, "input_field", "items")

	value, found := Lookup(req.Inputs, field)
	if !found {
		value, found = Lookup(req.Inputs, model.PortResult+"."+field)
	}
	if !found {
		return nil, errs.New(errs.CodeNodeFailed, fmt.Sprintf("node %s: input field %q not found", req.Node.ID, field))
	}

	items, ok := value.([]any)
	if !ok {
		return nil, errs.New(errs.CodeNodeFailed, fmt.Sprintf("node %s: input field %q is not a sequence", req.Node.ID, field))
	}

	return map[string]any{
		model.PortIteration: items,
		model.PortResult:    map[string]any{"count": len(items)},
	}, nil
}

// WaitRunner executes FLOW.WAIT: the run suspends until an external signal
// or the configured timeout
type WaitRunner struct{}

// NewWaitRunner creates the wait runner
func NewWaitRunner() *WaitRunner {
	return &WaitRunner{}
}

// Run emits the wait control key; the engine persists and parks the run
func (r *WaitRunner) Run(ctx context.Context, req *Request) (map[string]any, error) {
	return map[string]any{
		KeyWait:          true,
		model.PortResult: branchPayload(req.Inputs),
	}, nil
}

// DelayRunner executes FLOW.DELAY: the engine schedules a timer and
// resumes this node with its inbound payload when it fires
type DelayRunner struct{}

// NewDelayRunner creates the delay runner
func NewDelayRunner() *DelayRunner {
	return &DelayRunner{}
}

// Run emits the delay control key
func (r *DelayRunner) Run(ctx context.Context, req *Request) (map[string]any, error) {
	delay := cfgInt(req.Node.Configurations, "delay_ms", 0)
	if delay <= 0 {
		return nil, errs.New(errs.CodeInvalidWorkflow, fmt.Sprintf("node %s: delay_ms is required", req.Node.ID))
	}
	return map[string]any{
		KeyDelayMS:       delay,
		model.PortResult: branchPayload(req.Inputs),
	}, nil
}

package convert

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/weavr-ai/weavr/common/errs"
)

// Evaluator runs user-authored CEL expressions inside a sandbox: no host
// access, a per-evaluation cost ceiling and a wall-clock budget. Compiled
// programs are cached by expression text.
type Evaluator struct {
	env       *cel.Env
	budget    time.Duration
	costLimit uint64

	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewEvaluator creates an evaluator. A zero budget defaults to 200ms and a
// zero cost limit to 1,000,000 evaluation steps.
func NewEvaluator(budget time.Duration, costLimit uint64) (*Evaluator, error) {
	if budget <= 0 {
		budget = 200 * time.Millisecond
	}
	if costLimit == 0 {
		costLimit = 1_000_000
	}

	env, err := cel.NewEnv(
		cel.Variable("input", cel.DynType),
		cel.Variable("trigger", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	return &Evaluator{
		env:       env,
		budget:    budget,
		costLimit: costLimit,
		cache:     make(map[string]cel.Program),
	}, nil
}

// Convert evaluates a connection's conversion function with the source
// payload bound to `input` and returns the transformed payload.
func (e *Evaluator) Convert(ctx context.Context, expr string, input any, trigger map[string]any) (any, error) {
	out, err := e.eval(ctx, expr, input, trigger)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EvaluateCondition evaluates a FLOW.IF condition expression. The result
// must be a boolean.
func (e *Evaluator) EvaluateCondition(ctx context.Context, expr string, input any, trigger map[string]any) (bool, error) {
	out, err := e.eval(ctx, expr, input, trigger)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, errs.New(errs.CodeConversionFailed, fmt.Sprintf("condition did not return boolean, got %T", out))
	}
	return b, nil
}

func (e *Evaluator) eval(ctx context.Context, expr string, input any, trigger map[string]any) (any, error) {
	// JSONPath-style shorthand: $.field reads from the inbound payload
	normalized := strings.ReplaceAll(expr, "$.", "input.")

	prg, err := e.program(normalized)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.budget)
	defer cancel()

	out, _, err := prg.ContextEval(ctx, map[string]any{
		"input":   input,
		"trigger": trigger,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.CodeConversionFailed, "expression exceeded evaluation budget", err)
		}
		return nil, errs.Wrap(errs.CodeConversionFailed, "expression evaluation failed", err)
	}

	// Payloads flow between nodes as JSON, so normalize CEL values to
	// JSON-native Go types.
	native, err := out.ConvertToNative(reflect.TypeOf(&structpb.Value{}))
	if err != nil {
		return nil, errs.Wrap(errs.CodeConversionFailed, "expression produced non-serializable value", err)
	}
	return native.(*structpb.Value).AsInterface(), nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, exists := e.cache[expr]
	e.mu.RUnlock()
	if exists {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errs.Wrap(errs.CodeConversionFailed, "expression compilation failed", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.CostLimit(e.costLimit),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return nil, errs.Wrap(errs.CodeConversionFailed, "failed to create program", err)
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return prg, nil
}

// CacheSize returns the number of cached compiled expressions
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

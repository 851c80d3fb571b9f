package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavr-ai/weavr/cmd/engine/runner"
	"github.com/weavr-ai/weavr/common/config"
	"github.com/weavr-ai/weavr/common/errs"
	"github.com/weavr-ai/weavr/common/model"
	"github.com/weavr-ai/weavr/common/spec"
)

type nopLog struct{}

func (nopLog) Info(msg string, args ...any)  {}
func (nopLog) Warn(msg string, args ...any)  {}
func (nopLog) Error(msg string, args ...any) {}
func (nopLog) Debug(msg string, args ...any) {}

// memExecStore mirrors the repository's write discipline: status-guarded
// updates, and copies on every read and write so the stored record only
// changes through the store's own methods.
type memExecStore struct {
	mu   sync.Mutex
	byID map[string]*model.Execution
}

func newMemExecStore() *memExecStore {
	return &memExecStore{byID: make(map[string]*model.Execution)}
}

func (s *memExecStore) Create(ctx context.Context, e *model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *e
	s.byID[e.ID] = &c
	return nil
}

func (s *memExecStore) UpdateIfStatus(ctx context.Context, e *model.Execution, from model.ExecutionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.byID[e.ID]
	if stored == nil || stored.Status != from {
		return false, nil
	}
	c := *e
	s.byID[e.ID] = &c
	return true, nil
}

func (s *memExecStore) CompareAndSetStatus(ctx context.Context, id string, from, to model.ExecutionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.byID[id]
	if e == nil || e.Status != from {
		return false, nil
	}
	e.Status = to
	return true, nil
}

func (s *memExecStore) GetByID(ctx context.Context, id string) (*model.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.byID[id]
	if stored == nil {
		return nil, nil
	}
	c := *stored
	return &c, nil
}

type memPauseStore struct {
	pauses       map[string]*model.ExecutionPause
	interactions map[string]*model.HILInteraction
}

func newMemPauseStore() *memPauseStore {
	return &memPauseStore{
		pauses:       make(map[string]*model.ExecutionPause),
		interactions: make(map[string]*model.HILInteraction),
	}
}

func (s *memPauseStore) CreatePause(ctx context.Context, p *model.ExecutionPause) error {
	s.pauses[p.ID] = p
	return nil
}

func (s *memPauseStore) GetActivePause(ctx context.Context, executionID string) (*model.ExecutionPause, error) {
	for _, p := range s.pauses {
		if p.ExecutionID == executionID && p.Status == model.PauseActive {
			return p, nil
		}
	}
	return nil, nil
}

func (s *memPauseStore) ClosePause(ctx context.Context, id, status string) (bool, error) {
	p := s.pauses[id]
	if p == nil || p.Status != model.PauseActive {
		return false, nil
	}
	p.Status = status
	p.ResumedAt = model.NowMS()
	return true, nil
}

func (s *memPauseStore) CreateInteraction(ctx context.Context, in *model.HILInteraction) error {
	s.interactions[in.ID] = in
	return nil
}

func (s *memPauseStore) GetInteraction(ctx context.Context, id string) (*model.HILInteraction, error) {
	return s.interactions[id], nil
}

func (s *memPauseStore) RespondInteraction(ctx context.Context, id string, response map[string]any, status string) (bool, error) {
	in := s.interactions[id]
	if in == nil || in.Status != model.InteractionPending {
		return false, nil
	}
	in.ResponseData = response
	in.Status = status
	in.RespondedAt = model.NowMS()
	return true, nil
}

type memWorkflowStore struct {
	byID map[string]*model.Workflow
}

func (s *memWorkflowStore) GetByID(ctx context.Context, id string) (*model.Workflow, error) {
	return s.byID[id], nil
}

type stubConverter struct {
	failing map[string]bool
}

func (c *stubConverter) Convert(ctx context.Context, expr string, input any, trigger map[string]any) (any, error) {
	if c.failing[expr] {
		return nil, errs.New(errs.CodeConversionFailed, "expression rejected")
	}
	return input, nil
}

type funcRunner struct {
	fn func(ctx context.Context, req *runner.Request) (map[string]any, error)
}

func (f funcRunner) Run(ctx context.Context, req *runner.Request) (map[string]any, error) {
	return f.fn(ctx, req)
}

type fixedCondition struct{ result bool }

func (c fixedCondition) EvaluateCondition(ctx context.Context, expr string, input any, trigger map[string]any) (bool, error) {
	return c.result, nil
}

type rig struct {
	executor  *Executor
	factory   *runner.Factory
	execs     *memExecStore
	pauses    *memPauseStore
	workflows *memWorkflowStore
	converter *stubConverter
}

func newRig(t *testing.T) *rig {
	t.Helper()
	registry := spec.NewRegistry(nopLog{})
	factory := runner.NewFactory(nopLog{})
	factory.RegisterType(model.NodeTypeTrigger, runner.NewTriggerRunner())
	factory.Register(model.NodeTypeFlow, "IF", runner.NewIfRunner(fixedCondition{result: true}))
	factory.Register(model.NodeTypeFlow, "MERGE", runner.NewMergeRunner())
	factory.Register(model.NodeTypeFlow, "FOR_EACH", runner.NewForEachRunner())
	factory.Register(model.NodeTypeFlow, "WAIT", runner.NewWaitRunner())
	factory.Register(model.NodeTypeFlow, "DELAY", runner.NewDelayRunner())

	execs := newMemExecStore()
	pauses := newMemPauseStore()
	workflows := &memWorkflowStore{byID: make(map[string]*model.Workflow)}
	converter := &stubConverter{failing: make(map[string]bool)}

	cfg := config.EngineConfig{
		FanOutConcurrency:  4,
		DefaultNodeTimeout: 200 * time.Millisecond,
	}
	e := New(registry, factory, converter, execs, workflows, pauses, nil, cfg, nopLog{})
	e.backoffBase = time.Millisecond

	return &rig{executor: e, factory: factory, execs: execs, pauses: pauses, workflows: workflows, converter: converter}
}

func (r *rig) register(nodeType model.NodeType, subtype string, fn func(ctx context.Context, req *runner.Request) (map[string]any, error)) {
	r.factory.Register(nodeType, subtype, funcRunner{fn: fn})
}

func wfNode(id string, nodeType model.NodeType, subtype string, config map[string]any) *model.Node {
	return &model.Node{ID: id, Name: id, Type: nodeType, Subtype: subtype, Configurations: config}
}

func wfConn(from, to, port string) *model.Connection {
	return &model.Connection{FromNode: from, ToNode: to, OutputKey: port}
}

func manualTrigger(data map[string]any) model.TriggerInfo {
	return model.TriggerInfo{TriggerType: model.TriggerManual, TriggerData: data, UserID: "user-1"}
}

func TestExecute_LinearRun(t *testing.T) {
	r := newRig(t)
	r.register(model.NodeTypeAction, "ENRICH", func(ctx context.Context, req *runner.Request) (map[string]any, error) {
		payload, _ := req.Inputs[model.PortResult].(map[string]any)
		return map[string]any{model.PortResult: map[string]any{
			"order":    payload["order"],
			"enriched": true,
		}}, nil
	})

	w := &model.Workflow{
		ID: "wf-linear",
		Nodes: []*model.Node{
			wfNode("t", model.NodeTypeTrigger, model.TriggerManual, nil),
			wfNode("enrich", model.NodeTypeAction, "ENRICH", nil),
		},
		Connections: []*model.Connection{wfConn("t", "enrich", "")},
		Triggers:    []string{"t"},
	}

	exec, err := r.executor.Execute(context.Background(), w, manualTrigger(map[string]any{"order": "o-1"}))
	require.NoError(t, err)

	assert.Equal(t, model.ExecutionSuccess, exec.Status)
	assert.Equal(t, []string{"t", "enrich"}, exec.ExecutionSequence)
	assert.NotZero(t, exec.EndTime)
	assert.GreaterOrEqual(t, exec.DurationMS, int64(0))

	attempts := exec.NodeExecutions["enrich"]
	require.Len(t, attempts, 1)
	assert.Equal(t, model.NodeCompleted, attempts[0].Status)
	assert.Equal(t, map[string]any{"order": "o-1", "enriched": true}, attempts[0].OutputData[model.PortResult])

	// trigger + action
	assert.Equal(t, int64(2), exec.CreditsConsumed)
}

func TestExecute_UntakenBranchCascades(t *testing.T) {
	r := newRig(t)
	r.register(model.NodeTypeAction, "STEP", func(ctx context.Context, req *runner.Request) (map[string]any, error) {
		return map[string]any{model.PortResult: map[string]any{"done": true}}, nil
	})

	w := &model.Workflow{
		ID: "wf-branch",
		Nodes: []*model.Node{
			wfNode("t", model.NodeTypeTrigger, model.TriggerManual, nil),
			wfNode("gate", model.NodeTypeFlow, "IF", map[string]any{"condition_expression": "input.ok"}),
			wfNode("yes", model.NodeTypeAction, "STEP", nil),
			wfNode("no", model.NodeTypeAction, "STEP", nil),
			wfNode("after_no", model.NodeTypeAction, "STEP", nil),
		},
		Connections: []*model.Connection{
			wfConn("t", "gate", ""),
			wfConn("gate", "yes", model.PortTrue),
			wfConn("gate", "no", model.PortFalse),
			wfConn("no", "after_no", ""),
		},
		Triggers: []string{"t"},
	}

	exec, err := r.executor.Execute(context.Background(), w, manualTrigger(map[string]any{"ok": true}))
	require.NoError(t, err)

	assert.Equal(t, model.ExecutionSuccess, exec.Status)
	assert.Equal(t, model.NodeCompleted, exec.NodeExecutions["yes"][0].Status)
	assert.Equal(t, model.NodeSkipped, exec.NodeExecutions["no"][0].Status)
	assert.Equal(t, model.NodeSkipped, exec.NodeExecutions["after_no"][0].Status)
	assert.NotContains(t, exec.ExecutionSequence, "no")
}

func TestExecute_OneLiveBranchStillReachesJoin(t *testing.T) {
	r := newRig(t)
	r.register(model.NodeTypeAction, "STEP", func(ctx context.Context, req *runner.Request) (map[string]any, error) {
		return map[string]any{model.PortResult: map[string]any{"from": req.Node.ID}}, nil
	})

	w := &model.Workflow{
		ID: "wf-join",
		Nodes: []*model.Node{
			wfNode("t", model.NodeTypeTrigger, model.TriggerManual, nil),
			wfNode("gate", model.NodeTypeFlow, "IF", map[string]any{"condition_expression": "input.ok"}),
			wfNode("yes", model.NodeTypeAction, "STEP", nil),
			wfNode("no", model.NodeTypeAction, "STEP", nil),
			wfNode("join", model.NodeTypeFlow, "MERGE", map[string]any{"merge_strategy": "first"}),
		},
		Connections: []*model.Connection{
			wfConn("t", "gate", ""),
			wfConn("gate", "yes", model.PortTrue),
			wfConn("gate", "no", model.PortFalse),
			wfConn("yes", "join", ""),
			wfConn("no", "join", ""),
		},
		Triggers: []string{"t"},
	}

	exec, err := r.executor.Execute(context.Background(), w, manualTrigger(nil))
	require.NoError(t, err)

	assert.Equal(t, model.ExecutionSuccess, exec.Status)
	require.Len(t, exec.NodeExecutions["join"], 1)
	join := exec.NodeExecutions["join"][0]
	assert.Equal(t, model.NodeCompleted, join.Status)
	assert.Equal(t, map[string]any{"from": "yes"}, join.OutputData[model.PortResult])
}

func TestExecute_RetryEnvelope(t *testing.T) {
	r := newRig(t)
	calls := 0
	r.register(model.NodeTypeAction, "FLAKY", func(ctx context.Context, req *runner.Request) (map[string]any, error) {
		calls++
		if calls < 3 {
			return nil, fmt.Errorf("transient failure %d", calls)
		}
		return map[string]any{model.PortResult: map[string]any{"ok": true}}, nil
	})

	w := &model.Workflow{
		ID: "wf-retry",
		Nodes: []*model.Node{
			wfNode("t", model.NodeTypeTrigger, model.TriggerManual, nil),
			wfNode("flaky", model.NodeTypeAction, "FLAKY", map[string]any{"retry_attempts": float64(2)}),
		},
		Connections: []*model.Connection{wfConn("t", "flaky", "")},
		Triggers:    []string{"t"},
	}

	exec, err := r.executor.Execute(context.Background(), w, manualTrigger(nil))
	require.NoError(t, err)

	assert.Equal(t, model.ExecutionSuccess, exec.Status)
	assert.Equal(t, 3, calls)
	attempt := exec.NodeExecutions["flaky"][0]
	assert.Equal(t, model.NodeCompleted, attempt.Status)
	assert.Equal(t, 2, attempt.Retries)
}

func TestRetryDelay_ConfiguredSchedule(t *testing.T) {
	n := wfNode("call", model.NodeTypeAction, "HTTP_REQUEST", map[string]any{
		"initial_delay_ms": float64(50),
		"backoff_factor":   float64(3),
	})

	assert.Equal(t, 50*time.Millisecond, retryDelay(n, time.Second, 1))
	assert.Equal(t, 150*time.Millisecond, retryDelay(n, time.Second, 2))
	assert.Equal(t, 450*time.Millisecond, retryDelay(n, time.Second, 3))
}

func TestRetryDelay_DefaultDoublesBase(t *testing.T) {
	n := wfNode("call", model.NodeTypeAction, "HTTP_REQUEST", nil)
	assert.Equal(t, time.Second, retryDelay(n, time.Second, 1))
	assert.Equal(t, 2*time.Second, retryDelay(n, time.Second, 2))
	assert.Equal(t, 4*time.Second, retryDelay(n, time.Second, 3))

	sub := wfNode("call", model.NodeTypeAction, "HTTP_REQUEST", map[string]any{"backoff_factor": 0.5})
	assert.Equal(t, time.Second, retryDelay(sub, time.Second, 2), "factor floors at 1")
}

func TestExecute_RetryWaitsConfiguredDelay(t *testing.T) {
	r := newRig(t)
	calls := 0
	r.register(model.NodeTypeAction, "FLAKY", func(ctx context.Context, req *runner.Request) (map[string]any, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("transient failure")
		}
		return map[string]any{model.PortResult: map[string]any{"ok": true}}, nil
	})

	w := &model.Workflow{
		ID: "wf-retry-delay",
		Nodes: []*model.Node{
			wfNode("t", model.NodeTypeTrigger, model.TriggerManual, nil),
			wfNode("flaky", model.NodeTypeAction, "FLAKY", map[string]any{
				"retry_attempts":   float64(1),
				"initial_delay_ms": float64(30),
			}),
		},
		Connections: []*model.Connection{wfConn("t", "flaky", "")},
		Triggers:    []string{"t"},
	}

	start := time.Now()
	exec, err := r.executor.Execute(context.Background(), w, manualTrigger(nil))
	require.NoError(t, err)

	assert.Equal(t, model.ExecutionSuccess, exec.Status)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond, "retry honors initial_delay_ms over the engine base")
}

func TestExecute_ReportedFailureFailsFast(t *testing.T) {
	r := newRig(t)
	r.register(model.NodeTypeAction, "SOFT_FAIL", func(ctx context.Context, req *runner.Request) (map[string]any, error) {
		return map[string]any{model.PortResult: map[string]any{"success": false, "status_code": 502}}, nil
	})
	downstream := 0
	r.register(model.NodeTypeAction, "NEXT", func(ctx context.Context, req *runner.Request) (map[string]any, error) {
		downstream++
		return map[string]any{model.PortResult: map[string]any{}}, nil
	})

	w := &model.Workflow{
		ID: "wf-softfail",
		Nodes: []*model.Node{
			wfNode("t", model.NodeTypeTrigger, model.TriggerManual, nil),
			wfNode("call", model.NodeTypeAction, "SOFT_FAIL", nil),
			wfNode("next", model.NodeTypeAction, "NEXT", nil),
		},
		Connections: []*model.Connection{
			wfConn("t", "call", ""),
			wfConn("call", "next", ""),
		},
		Triggers: []string{"t"},
	}

	exec, err := r.executor.Execute(context.Background(), w, manualTrigger(nil))
	require.Error(t, err)

	assert.Equal(t, model.ExecutionError, exec.Status)
	assert.Equal(t, errs.CodeNodeFailed, exec.Error.Code)
	assert.Equal(t, model.NodeFailed, exec.NodeExecutions["call"][0].Status)
	assert.Zero(t, downstream)
}

func TestExecute_ReportedFailureOnAlternatePort(t *testing.T) {
	r := newRig(t)
	r.register(model.NodeTypeAction, "PUSH", func(ctx context.Context, req *runner.Request) (map[string]any, error) {
		return map[string]any{"output": map[string]any{"success": false, "detail": "rejected"}}, nil
	})

	w := &model.Workflow{
		ID: "wf-altport",
		Nodes: []*model.Node{
			wfNode("t", model.NodeTypeTrigger, model.TriggerManual, nil),
			wfNode("push", model.NodeTypeAction, "PUSH", nil),
		},
		Connections: []*model.Connection{wfConn("t", "push", "")},
		Triggers:    []string{"t"},
	}

	exec, err := r.executor.Execute(context.Background(), w, manualTrigger(nil))
	require.Error(t, err)

	assert.Equal(t, model.ExecutionError, exec.Status)
	assert.Equal(t, errs.CodeNodeFailed, exec.Error.Code)
	assert.Equal(t, model.NodeFailed, exec.NodeExecutions["push"][0].Status)
}

func TestExecute_OnErrorContinue(t *testing.T) {
	r := newRig(t)
	r.register(model.NodeTypeAction, "SOFT_FAIL", func(ctx context.Context, req *runner.Request) (map[string]any, error) {
		return map[string]any{model.PortResult: map[string]any{"success": false}}, nil
	})
	var nextInputs map[string]any
	r.register(model.NodeTypeAction, "NEXT", func(ctx context.Context, req *runner.Request) (map[string]any, error) {
		nextInputs = req.Inputs
		return map[string]any{model.PortResult: map[string]any{"done": true}}, nil
	})

	w := &model.Workflow{
		ID: "wf-continue",
		Nodes: []*model.Node{
			wfNode("t", model.NodeTypeTrigger, model.TriggerManual, nil),
			wfNode("call", model.NodeTypeAction, "SOFT_FAIL", map[string]any{"on_error": "continue"}),
			wfNode("next", model.NodeTypeAction, "NEXT", nil),
		},
		Connections: []*model.Connection{
			wfConn("t", "call", ""),
			wfConn("call", "next", ""),
		},
		Triggers: []string{"t"},
	}

	exec, err := r.executor.Execute(context.Background(), w, manualTrigger(nil))
	require.NoError(t, err)

	assert.Equal(t, model.ExecutionSuccess, exec.Status)
	assert.Equal(t, model.NodeFailed, exec.NodeExecutions["call"][0].Status)
	assert.Equal(t, model.NodeCompleted, exec.NodeExecutions["next"][0].Status)
	assert.Equal(t, map[string]any{model.PortResult: map[string]any{}}, nextInputs)

	// the sequence lists completions only; the failed node stays out
	assert.Equal(t, []string{"t", "next"}, exec.ExecutionSequence)
}

func TestExecute_NodeTimeout(t *testing.T) {
	r := newRig(t)
	r.register(model.NodeTypeAction, "SLOW", func(ctx context.Context, req *runner.Request) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	w := &model.Workflow{
		ID: "wf-slow",
		Nodes: []*model.Node{
			wfNode("t", model.NodeTypeTrigger, model.TriggerManual, nil),
			wfNode("slow", model.NodeTypeAction, "SLOW", nil),
		},
		Connections: []*model.Connection{wfConn("t", "slow", "")},
		Triggers:    []string{"t"},
	}

	exec, err := r.executor.Execute(context.Background(), w, manualTrigger(nil))
	require.Error(t, err)

	assert.Equal(t, model.ExecutionTimeout, exec.Status)
	assert.Equal(t, errs.CodeTimeout, exec.Error.Code)
}

func TestExecute_CycleAbortsBeforeAnyNode(t *testing.T) {
	r := newRig(t)

	w := &model.Workflow{
		ID: "wf-cycle",
		Nodes: []*model.Node{
			wfNode("t", model.NodeTypeTrigger, model.TriggerManual, nil),
			wfNode("a", model.NodeTypeAction, "STEP", nil),
			wfNode("b", model.NodeTypeAction, "STEP", nil),
		},
		Connections: []*model.Connection{
			wfConn("t", "a", ""),
			wfConn("a", "b", ""),
			wfConn("b", "a", ""),
		},
		Triggers: []string{"t"},
	}

	exec, err := r.executor.Execute(context.Background(), w, manualTrigger(nil))
	require.Error(t, err)
	assert.Equal(t, errs.CodeCycle, errs.Code(err))
	assert.Equal(t, model.ExecutionError, exec.Status)
	assert.Empty(t, exec.ExecutionSequence)

	stored, _ := r.execs.GetByID(context.Background(), exec.ID)
	require.NotNil(t, stored)
	assert.Equal(t, model.ExecutionError, stored.Status)
}

func TestExecute_FanOutWithJoin(t *testing.T) {
	r := newRig(t)
	var mu sync.Mutex
	var seen []any
	r.register(model.NodeTypeAction, "PER_ITEM", func(ctx context.Context, req *runner.Request) (map[string]any, error) {
		elem := req.Inputs[model.PortResult]
		mu.Lock()
		seen = append(seen, elem)
		mu.Unlock()
		return map[string]any{model.PortResult: map[string]any{"item": elem}}, nil
	})

	w := &model.Workflow{
		ID: "wf-fanout",
		Nodes: []*model.Node{
			wfNode("t", model.NodeTypeTrigger, model.TriggerManual, nil),
			wfNode("split", model.NodeTypeFlow, "FOR_EACH", map[string]any{"input_field": "items"}),
			wfNode("work", model.NodeTypeAction, "PER_ITEM", nil),
			wfNode("collect", model.NodeTypeFlow, "MERGE", map[string]any{"merge_strategy": "append"}),
		},
		Connections: []*model.Connection{
			wfConn("t", "split", ""),
			wfConn("split", "work", model.PortIteration),
			wfConn("work", "collect", ""),
		},
		Triggers: []string{"t"},
	}

	exec, err := r.executor.Execute(context.Background(), w, manualTrigger(map[string]any{
		"items": []any{"a", "b", "c"},
	}))
	require.NoError(t, err)

	assert.Equal(t, model.ExecutionSuccess, exec.Status)
	assert.ElementsMatch(t, []any{"a", "b", "c"}, seen)

	attempts := exec.NodeExecutions["work"]
	require.Len(t, attempts, 3)
	ids := map[string]bool{}
	for _, a := range attempts {
		assert.Equal(t, model.NodeCompleted, a.Status)
		ids[a.ActivationID] = true
	}
	assert.Len(t, ids, 3, "each fan-out sibling carries its own activation id")

	collected := exec.NodeExecutions["collect"][0].OutputData[model.PortResult].(map[string]any)
	assert.Len(t, collected["items"], 3)
}

func TestExecute_ConversionFailureDeliversNull(t *testing.T) {
	r := newRig(t)
	r.converter.failing["broken()"] = true

	var sinkInputs map[string]any
	r.register(model.NodeTypeAction, "SOURCE", func(ctx context.Context, req *runner.Request) (map[string]any, error) {
		return map[string]any{model.PortResult: map[string]any{"v": 1.0}}, nil
	})
	r.register(model.NodeTypeAction, "SINK", func(ctx context.Context, req *runner.Request) (map[string]any, error) {
		sinkInputs = req.Inputs
		return map[string]any{model.PortResult: map[string]any{}}, nil
	})

	w := &model.Workflow{
		ID: "wf-convert",
		Nodes: []*model.Node{
			wfNode("t", model.NodeTypeTrigger, model.TriggerManual, nil),
			wfNode("src", model.NodeTypeAction, "SOURCE", nil),
			wfNode("dst", model.NodeTypeAction, "SINK", nil),
		},
		Connections: []*model.Connection{
			wfConn("t", "src", ""),
			{FromNode: "src", ToNode: "dst", ConversionFunction: "broken()"},
		},
		Triggers: []string{"t"},
	}

	exec, err := r.executor.Execute(context.Background(), w, manualTrigger(nil))
	require.NoError(t, err)

	assert.Equal(t, model.ExecutionSuccess, exec.Status)
	assert.Equal(t, model.NodeCompleted, exec.NodeExecutions["src"][0].Status)
	require.Contains(t, sinkInputs, model.PortResult)
	assert.Nil(t, sinkInputs[model.PortResult])
}

func hilWorkflow() *model.Workflow {
	return &model.Workflow{
		ID: "wf-hil",
		Nodes: []*model.Node{
			wfNode("t", model.NodeTypeTrigger, model.TriggerManual, nil),
			wfNode("approve", model.NodeTypeHumanInLoop, "APPROVAL", map[string]any{
				"message":         "ship it?",
				"timeout_seconds": float64(600),
			}),
			wfNode("ship", model.NodeTypeAction, "STEP", nil),
			wfNode("abort", model.NodeTypeAction, "STEP", nil),
		},
		Connections: []*model.Connection{
			wfConn("t", "approve", ""),
			wfConn("approve", "ship", model.PortApproved),
			wfConn("approve", "abort", model.PortRejected),
		},
		Triggers: []string{"t"},
	}
}

func (r *rig) registerHIL(t *testing.T) {
	t.Helper()
	r.register(model.NodeTypeAction, "STEP", func(ctx context.Context, req *runner.Request) (map[string]any, error) {
		return map[string]any{model.PortResult: map[string]any{"ran": req.Node.ID}}, nil
	})
	hil := runner.NewHILRunner(r.pauses, runner.NewChannelNotifiers(nopLog{}), nopLog{})
	r.factory.RegisterType(model.NodeTypeHumanInLoop, hil)
}

func TestExecuteAndResume_HumanApproval(t *testing.T) {
	r := newRig(t)
	r.registerHIL(t)
	w := hilWorkflow()
	r.workflows.byID[w.ID] = w

	exec, err := r.executor.Execute(context.Background(), w, manualTrigger(nil))
	require.NoError(t, err)

	assert.Equal(t, model.ExecutionWaitingForHuman, exec.Status)
	assert.Equal(t, "approve", exec.CurrentNodeID)
	require.NotEmpty(t, exec.InteractionID)

	pause, err := r.pauses.GetActivePause(context.Background(), exec.ID)
	require.NoError(t, err)
	require.NotNil(t, pause)
	assert.Equal(t, "approve", pause.PausedNodeID)
	assert.Equal(t, PauseReasonHIL, pause.PauseReason)
	require.NotNil(t, pause.PauseContext)
	assert.Contains(t, pause.PauseContext.Executed, "t")

	resumed, err := r.executor.Resume(context.Background(), exec.ID, "approve", map[string]any{"approved": true})
	require.NoError(t, err)

	assert.Equal(t, model.ExecutionSuccess, resumed.Status)
	assert.Equal(t, model.NodeCompleted, resumed.NodeExecutions["ship"][0].Status)
	assert.Equal(t, model.NodeSkipped, resumed.NodeExecutions["abort"][0].Status)

	interaction := r.pauses.interactions[exec.InteractionID]
	require.NotNil(t, interaction)
	assert.Equal(t, model.InteractionResponded, interaction.Status)

	closed, err := r.pauses.GetActivePause(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Nil(t, closed, "pause is closed after resume")
}

func TestResume_SecondResumeRejected(t *testing.T) {
	r := newRig(t)
	r.registerHIL(t)
	w := hilWorkflow()
	r.workflows.byID[w.ID] = w

	exec, err := r.executor.Execute(context.Background(), w, manualTrigger(nil))
	require.NoError(t, err)

	_, err = r.executor.Resume(context.Background(), exec.ID, "approve", map[string]any{"approved": false})
	require.NoError(t, err)

	_, err = r.executor.Resume(context.Background(), exec.ID, "approve", map[string]any{"approved": true})
	require.Error(t, err)
	assert.Equal(t, errs.CodeNotPaused, errs.Code(err))
}

func TestResume_TimeoutSelectsTimeoutPort(t *testing.T) {
	r := newRig(t)
	r.registerHIL(t)

	w := &model.Workflow{
		ID: "wf-hil-timeout",
		Nodes: []*model.Node{
			wfNode("t", model.NodeTypeTrigger, model.TriggerManual, nil),
			wfNode("approve", model.NodeTypeHumanInLoop, "APPROVAL", map[string]any{"message": "ship it?"}),
			wfNode("escalate", model.NodeTypeAction, "STEP", nil),
		},
		Connections: []*model.Connection{
			wfConn("t", "approve", ""),
			wfConn("approve", "escalate", model.PortTimeout),
		},
		Triggers: []string{"t"},
	}
	r.workflows.byID[w.ID] = w

	exec, err := r.executor.Execute(context.Background(), w, manualTrigger(nil))
	require.NoError(t, err)

	// The watcher marks the interaction timed out before resuming
	interaction := r.pauses.interactions[exec.InteractionID]
	require.NotNil(t, interaction)
	interaction.Status = model.InteractionTimeout

	resumed, err := r.executor.Resume(context.Background(), exec.ID, "approve", nil)
	require.NoError(t, err)

	assert.Equal(t, model.ExecutionSuccess, resumed.Status)
	assert.Equal(t, model.NodeCompleted, resumed.NodeExecutions["escalate"][0].Status)
	approveOut := resumed.NodeExecutions["approve"][0].OutputData
	assert.Contains(t, approveOut, model.PortTimeout)
	assert.NotContains(t, approveOut, model.PortApproved)
}

func TestCancel_PausedExecution(t *testing.T) {
	r := newRig(t)
	r.registerHIL(t)
	w := hilWorkflow()
	r.workflows.byID[w.ID] = w

	exec, err := r.executor.Execute(context.Background(), w, manualTrigger(nil))
	require.NoError(t, err)

	canceled, err := r.executor.Cancel(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionCanceled, canceled.Status)

	pause, err := r.pauses.GetActivePause(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Nil(t, pause)

	_, err = r.executor.Resume(context.Background(), exec.ID, "approve", map[string]any{"approved": true})
	require.Error(t, err)
	assert.Equal(t, errs.CodeNotPaused, errs.Code(err))

	_, err = r.executor.Cancel(context.Background(), exec.ID)
	require.Error(t, err, "terminal executions cannot be canceled again")
}

func TestCancel_RunningExecutionSticks(t *testing.T) {
	r := newRig(t)
	started := make(chan struct{})
	release := make(chan struct{})
	r.register(model.NodeTypeAction, "GATED", func(ctx context.Context, req *runner.Request) (map[string]any, error) {
		close(started)
		// Ignores cancellation on purpose: the node finishes successfully
		// after the cancel lands, and its result must not revive the run
		<-release
		return map[string]any{model.PortResult: map[string]any{"ok": true}}, nil
	})
	downstream := 0
	r.register(model.NodeTypeAction, "NEXT", func(ctx context.Context, req *runner.Request) (map[string]any, error) {
		downstream++
		return map[string]any{model.PortResult: map[string]any{}}, nil
	})

	w := &model.Workflow{
		ID: "wf-cancel-running",
		Nodes: []*model.Node{
			wfNode("t", model.NodeTypeTrigger, model.TriggerManual, nil),
			wfNode("gated", model.NodeTypeAction, "GATED", nil),
			wfNode("next", model.NodeTypeAction, "NEXT", nil),
		},
		Connections: []*model.Connection{
			wfConn("t", "gated", ""),
			wfConn("gated", "next", ""),
		},
		Triggers: []string{"t"},
	}

	exec, err := r.executor.Launch(context.Background(), w, manualTrigger(nil))
	require.NoError(t, err)
	<-started

	canceled, err := r.executor.Cancel(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionCanceled, canceled.Status)

	close(release)
	require.Eventually(t, func() bool {
		r.executor.mu.Lock()
		defer r.executor.mu.Unlock()
		return len(r.executor.running) == 0
	}, time.Second, 5*time.Millisecond, "background driver exits after cancel")

	stored, err := r.execs.GetByID(context.Background(), exec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.ExecutionCanceled, stored.Status, "driver finishing behind the cancel must not overwrite it")
	assert.Zero(t, downstream, "no node dispatches after the cancel lands")
}

func TestExecute_WaitParksAndResumeCarriesPayload(t *testing.T) {
	r := newRig(t)
	var sinkInputs map[string]any
	r.register(model.NodeTypeAction, "SINK", func(ctx context.Context, req *runner.Request) (map[string]any, error) {
		sinkInputs = req.Inputs
		return map[string]any{model.PortResult: map[string]any{}}, nil
	})

	w := &model.Workflow{
		ID: "wf-wait",
		Nodes: []*model.Node{
			wfNode("t", model.NodeTypeTrigger, model.TriggerManual, nil),
			wfNode("hold", model.NodeTypeFlow, "WAIT", nil),
			wfNode("after", model.NodeTypeAction, "SINK", nil),
		},
		Connections: []*model.Connection{
			wfConn("t", "hold", ""),
			wfConn("hold", "after", ""),
		},
		Triggers: []string{"t"},
	}
	r.workflows.byID[w.ID] = w

	exec, err := r.executor.Execute(context.Background(), w, manualTrigger(map[string]any{"k": "v"}))
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionPaused, exec.Status)

	pause, err := r.pauses.GetActivePause(context.Background(), exec.ID)
	require.NoError(t, err)
	require.NotNil(t, pause)
	assert.Equal(t, PauseReasonWait, pause.PauseReason)

	resumed, err := r.executor.Resume(context.Background(), exec.ID, "hold", nil)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionSuccess, resumed.Status)
	assert.Equal(t, map[string]any{"k": "v"}, sinkInputs[model.PortResult])
}

func TestExecute_DelayParksWithWakeDeadline(t *testing.T) {
	r := newRig(t)
	var sinkInputs map[string]any
	r.register(model.NodeTypeAction, "SINK", func(ctx context.Context, req *runner.Request) (map[string]any, error) {
		sinkInputs = req.Inputs
		return map[string]any{model.PortResult: map[string]any{}}, nil
	})

	w := &model.Workflow{
		ID: "wf-delay",
		Nodes: []*model.Node{
			wfNode("t", model.NodeTypeTrigger, model.TriggerManual, nil),
			wfNode("hold", model.NodeTypeFlow, "DELAY", map[string]any{"delay_ms": float64(5000)}),
			wfNode("after", model.NodeTypeAction, "SINK", nil),
		},
		Connections: []*model.Connection{
			wfConn("t", "hold", ""),
			wfConn("hold", "after", ""),
		},
		Triggers: []string{"t"},
	}
	r.workflows.byID[w.ID] = w

	before := model.NowMS()
	start := time.Now()
	exec, err := r.executor.Execute(context.Background(), w, manualTrigger(map[string]any{"k": "v"}))
	require.NoError(t, err)

	// The driver parks instead of sleeping out the interval
	assert.Equal(t, model.ExecutionPaused, exec.Status)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{"t"}, exec.ExecutionSequence)

	pause, err := r.pauses.GetActivePause(context.Background(), exec.ID)
	require.NoError(t, err)
	require.NotNil(t, pause)
	assert.Equal(t, PauseReasonDelay, pause.PauseReason)
	assert.GreaterOrEqual(t, pause.ResumeAt, before+5000, "pause row carries the wake deadline")

	// The sweep wakes the run the same way a wait signal would
	resumed, err := r.executor.Resume(context.Background(), exec.ID, "hold", nil)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionSuccess, resumed.Status)
	assert.Equal(t, map[string]any{"k": "v"}, sinkInputs[model.PortResult])
	assert.Equal(t, []string{"t", "hold", "after"}, resumed.ExecutionSequence)
}

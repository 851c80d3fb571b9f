// Package executor drives one workflow run from trigger to terminal
// status: readiness-ordered dispatch, the retry/timeout envelope around
// every node, port-based output routing and the pause/resume lifecycle.
package executor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weavr-ai/weavr/cmd/engine/graph"
	"github.com/weavr-ai/weavr/cmd/engine/runner"
	"github.com/weavr-ai/weavr/common/config"
	"github.com/weavr-ai/weavr/common/errs"
	"github.com/weavr-ai/weavr/common/model"
	"github.com/weavr-ai/weavr/common/spec"
)

// Pause reasons recorded on the pause row
const (
	PauseReasonHIL   = "human_interaction"
	PauseReasonWait  = "wait_signal"
	PauseReasonDelay = "delay"
)

// ExecutionStore persists execution state. Every write after Create is
// guarded by the caller's expected status so concurrent finalizers
// (driver, cancel, timeout watcher) race to a single winner.
type ExecutionStore interface {
	Create(ctx context.Context, e *model.Execution) error
	UpdateIfStatus(ctx context.Context, e *model.Execution, from model.ExecutionStatus) (bool, error)
	CompareAndSetStatus(ctx context.Context, id string, from, to model.ExecutionStatus) (bool, error)
	GetByID(ctx context.Context, id string) (*model.Execution, error)
}

// WorkflowStore loads workflow definitions for resume
type WorkflowStore interface {
	GetByID(ctx context.Context, id string) (*model.Workflow, error)
}

// PauseStore persists pause snapshots and human interactions
type PauseStore interface {
	CreatePause(ctx context.Context, p *model.ExecutionPause) error
	GetActivePause(ctx context.Context, executionID string) (*model.ExecutionPause, error)
	ClosePause(ctx context.Context, id, status string) (bool, error)
	GetInteraction(ctx context.Context, id string) (*model.HILInteraction, error)
	RespondInteraction(ctx context.Context, id string, response map[string]any, status string) (bool, error)
}

// Converter evaluates connection conversion functions
type Converter interface {
	Convert(ctx context.Context, expr string, input any, trigger map[string]any) (any, error)
}

// EventPublisher pushes run lifecycle events to subscribers
type EventPublisher interface {
	PublishEvent(ctx context.Context, channel string, payload any) error
}

// Executor runs workflows. One instance serves all runs; per-run state
// lives in runState and never escapes a single Execute/Resume call.
type Executor struct {
	registry   *spec.Registry
	factory    *runner.Factory
	converter  Converter
	executions ExecutionStore
	workflows  WorkflowStore
	pauses     PauseStore
	events     EventPublisher
	cfg        config.EngineConfig
	logger     runner.Logger

	// First retry delay when the node configures none; doubles per attempt
	backoffBase time.Duration

	// Cancel functions for in-flight background drivers, by execution ID.
	// Cancel uses these to cut a running driver's context.
	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New creates an executor
func New(
	registry *spec.Registry,
	factory *runner.Factory,
	converter Converter,
	executions ExecutionStore,
	workflows WorkflowStore,
	pauses PauseStore,
	events EventPublisher,
	cfg config.EngineConfig,
	logger runner.Logger,
) *Executor {
	return &Executor{
		registry:    registry,
		factory:     factory,
		converter:   converter,
		executions:  executions,
		workflows:   workflows,
		pauses:      pauses,
		events:      events,
		cfg:         cfg,
		logger:      logger,
		backoffBase: time.Second,
		running:     make(map[string]context.CancelFunc),
	}
}

// runState is the in-memory state of one run between persistence points
type runState struct {
	graph *graph.Graph
	exec  *model.Execution
	// node_id -> port-keyed inputs delivered by fired inbound edges
	inputs   map[string]map[string]any
	executed map[string]bool
	skipped  map[string]bool
	queued   map[string]bool
	queue    []model.QueueItem
}

func newRunState(g *graph.Graph, exec *model.Execution) *runState {
	return &runState{
		graph:    g,
		exec:     exec,
		inputs:   make(map[string]map[string]any),
		executed: make(map[string]bool),
		skipped:  make(map[string]bool),
		queued:   make(map[string]bool),
	}
}

func (st *runState) enqueue(item model.QueueItem) {
	if item.ActivationID == "" {
		if st.queued[item.NodeID] {
			return
		}
		st.queued[item.NodeID] = true
	}
	st.queue = append(st.queue, item)
}

// run is a prepared execution: the record exists and the entry nodes
// are queued, but no node has run yet
type run struct {
	exec *model.Execution
	st   *runState
}

// Execute runs a workflow to a terminal status or a pause. The returned
// execution reflects the persisted state in either case.
func (e *Executor) Execute(ctx context.Context, w *model.Workflow, trigger model.TriggerInfo) (*model.Execution, error) {
	r, err := e.prepare(ctx, w, trigger)
	if err != nil {
		if r != nil {
			return r.exec, err
		}
		return nil, err
	}
	return e.drive(ctx, r.st)
}

// Launch prepares a run and returns as soon as the execution record
// exists; the nodes run on a background goroutine detached from the
// caller's context, so an HTTP disconnect cannot abort an accepted run.
func (e *Executor) Launch(ctx context.Context, w *model.Workflow, trigger model.TriggerInfo) (*model.Execution, error) {
	r, err := e.prepare(ctx, w, trigger)
	if err != nil {
		if r != nil {
			return r.exec, err
		}
		return nil, err
	}

	go func() {
		runCtx, stop := context.WithCancel(context.Background())
		e.trackDriver(r.exec.ID, stop)
		defer e.untrackDriver(r.exec.ID)

		exec, err := e.drive(runCtx, r.st)
		if err != nil {
			e.logger.Warn("run finished with error",
				"execution_id", exec.ID, "workflow_id", exec.WorkflowID, "status", exec.Status, "error", err)
			return
		}
		e.logger.Info("run finished",
			"execution_id", exec.ID, "workflow_id", exec.WorkflowID, "status", exec.Status)
	}()

	return r.exec, nil
}

func (e *Executor) trackDriver(executionID string, stop context.CancelFunc) {
	e.mu.Lock()
	e.running[executionID] = stop
	e.mu.Unlock()
}

func (e *Executor) untrackDriver(executionID string) {
	e.mu.Lock()
	stop, tracked := e.running[executionID]
	delete(e.running, executionID)
	e.mu.Unlock()
	if tracked {
		stop()
	}
}

// interruptDriver cuts the run context of a background driver, if one is
// still in flight for the execution
func (e *Executor) interruptDriver(executionID string) {
	e.mu.Lock()
	stop := e.running[executionID]
	e.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// prepare creates the execution record and seeds the dispatch queue
// without running any node
func (e *Executor) prepare(ctx context.Context, w *model.Workflow, trigger model.TriggerInfo) (*run, error) {
	if trigger.Timestamp == 0 {
		trigger.Timestamp = model.NowMS()
	}
	exec := &model.Execution{
		ID:              uuid.NewString(),
		WorkflowID:      w.ID,
		WorkflowVersion: w.Version,
		Status:          model.ExecutionRunning,
		TriggerInfo:     trigger,
		NodeExecutions:  make(map[string][]*model.NodeExecution),
		StartTime:       model.NowMS(),
	}

	// A definition that drifted since save (schema change, manual edit)
	// is rejected here the same way it would be at save or deploy time.
	// Nodes without a registered spec are left to the passthrough runner.
	var problems []string
	for _, n := range w.Nodes {
		if _, known := e.registry.Lookup(n.Type, n.Subtype); !known {
			continue
		}
		for _, verr := range e.registry.Validate(n) {
			problems = append(problems, verr.Error())
		}
	}
	var err error
	var g *graph.Graph
	if len(problems) > 0 {
		err = errs.New(errs.CodeInvalidWorkflow,
			fmt.Sprintf("workflow failed validation with %d problem(s)", len(problems))).
			WithDetail("problems", problems)
	} else {
		// A structural defect (including a cycle) aborts before any node runs
		g, err = graph.Build(w)
	}
	if err != nil {
		exec.Status = model.ExecutionError
		exec.Error = executionFailure(err)
		exec.EndTime = model.NowMS()
		if createErr := e.executions.Create(ctx, exec); createErr != nil {
			e.logger.Error("failed to persist rejected execution", "execution_id", exec.ID, "error", createErr)
		}
		return &run{exec: exec}, err
	}

	if err := e.executions.Create(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to persist execution: %w", err)
	}
	e.publish(ctx, exec, "execution_started", nil)

	st := newRunState(g, exec)
	for _, entry := range g.Entry() {
		st.enqueue(model.QueueItem{NodeID: entry.Node.ID})
	}
	return &run{exec: exec, st: st}, nil
}

// drive drains the dispatch queue until the run completes, pauses or fails
func (e *Executor) drive(ctx context.Context, st *runState) (*model.Execution, error) {
	exec := st.exec

	for len(st.queue) > 0 {
		if ctx.Err() != nil {
			return e.aborted(ctx, exec)
		}

		item := st.queue[0]
		st.queue = st.queue[1:]

		if item.ActivationID != "" && item.OverrideInputs != nil {
			batch := []model.QueueItem{item}
			for len(st.queue) > 0 && st.queue[0].NodeID == item.NodeID && st.queue[0].ActivationID != "" {
				batch = append(batch, st.queue[0])
				st.queue = st.queue[1:]
			}
			if err := e.runFanOut(ctx, st, batch); err != nil {
				if ctx.Err() != nil {
					return e.aborted(ctx, exec)
				}
				return e.fail(ctx, exec, err)
			}
			st.executed[item.NodeID] = true
			e.enqueueDependents(st, item.NodeID)
			e.checkpoint(ctx, exec)
			continue
		}

		delete(st.queued, item.NodeID)
		if st.executed[item.NodeID] || st.skipped[item.NodeID] {
			continue
		}
		ready, _ := st.graph.Readiness(item.NodeID, st.executed, st.skipped)
		if !ready {
			continue
		}

		// A node none of whose inbound edges fired is skipped, which is
		// how an untaken branch cascades down its successors.
		v := st.graph.Vertex(item.NodeID)
		if len(v.Dependencies) > 0 && len(st.inputs[item.NodeID]) == 0 {
			e.markSkipped(st, item.NodeID)
			e.enqueueDependents(st, item.NodeID)
			continue
		}

		parked, err := e.runOne(ctx, st, item)
		if err != nil {
			if ctx.Err() != nil {
				return e.aborted(ctx, exec)
			}
			return e.fail(ctx, exec, err)
		}
		if parked {
			return exec, nil
		}
		e.enqueueDependents(st, item.NodeID)
		e.checkpoint(ctx, exec)
	}

	exec.Status = model.ExecutionSuccess
	exec.CurrentNodeID = ""
	exec.EndTime = model.NowMS()
	exec.DurationMS = exec.EndTime - exec.StartTime
	swapped, err := e.executions.UpdateIfStatus(ctx, exec, model.ExecutionRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize execution: %w", err)
	}
	if !swapped {
		// Another writer (a cancel, typically) moved the run to a terminal
		// status between the last checkpoint and here; its write stands.
		stored, gerr := e.executions.GetByID(ctx, exec.ID)
		if gerr != nil {
			return nil, fmt.Errorf("failed to finalize execution: %w", gerr)
		}
		return stored, nil
	}

	var sinks []string
	for _, id := range st.graph.Order {
		if v := st.graph.Vertex(id); v != nil && v.IsTerminal {
			sinks = append(sinks, id)
		}
	}
	e.publish(ctx, exec, "execution_completed", map[string]any{"terminal_nodes": sinks})
	return exec, nil
}

// aborted reconciles the in-memory run with the stored record after the
// run context was cut. A cancel owns the terminal write; the driver only
// observes it here.
func (e *Executor) aborted(ctx context.Context, exec *model.Execution) (*model.Execution, error) {
	persistCtx := context.WithoutCancel(ctx)
	stored, err := e.executions.GetByID(persistCtx, exec.ID)
	if err == nil && stored != nil && stored.Status.IsTerminal() {
		return stored, nil
	}
	return e.fail(persistCtx, exec, errs.Wrap(errs.CodeTimeout, "run aborted", ctx.Err()))
}

// runOne executes a single node activation, including control-key handling
func (e *Executor) runOne(ctx context.Context, st *runState, item model.QueueItem) (parked bool, err error) {
	v := st.graph.Vertex(item.NodeID)
	node := e.registry.Normalize(v.Node)

	inputs := item.OverrideInputs
	if inputs == nil {
		inputs = st.inputs[item.NodeID]
	}
	if inputs == nil {
		inputs = make(map[string]any)
	}

	activation := item.ActivationID
	if activation == "" {
		activation = uuid.NewString()
	}

	ne := &model.NodeExecution{
		NodeID:       node.ID,
		ActivationID: activation,
		Status:       model.NodeRunning,
		InputData:    inputs,
		StartTime:    model.NowMS(),
	}
	st.exec.AddNodeExecution(ne)

	req := e.request(st, node, ne, inputs, nil)
	out, runErr := e.attempt(ctx, node, ne, req)
	if runErr != nil {
		ne.Status = model.NodeFailed
		ne.Error = runErr.Error()
		ne.EndTime = model.NowMS()
		e.publish(ctx, st.exec, "node_failed", map[string]any{"node_id": node.ID, "error": runErr.Error()})

		if onError(node) == "continue" {
			e.logger.Warn("node failed, continuing per on_error",
				"execution_id", st.exec.ID, "node_id", node.ID, "error", runErr)
			st.executed[node.ID] = true
			e.propagate(ctx, st, node.ID, map[string]any{model.PortResult: map[string]any{}})
			return false, nil
		}
		return false, runErr
	}

	// A delay parks like a wait instead of sleeping in the driver: the
	// pause row carries the wake deadline and the watcher resumes the run,
	// so a process restart cannot lose the timer.
	if _, present := out[runner.KeyDelayMS]; present {
		if err := e.park(ctx, st, node, ne, out, PauseReasonDelay); err != nil {
			return false, err
		}
		return true, nil
	}

	if wait, _ := out[runner.KeyHILWait].(bool); wait {
		if err := e.park(ctx, st, node, ne, out, PauseReasonHIL); err != nil {
			return false, err
		}
		return true, nil
	}
	if wait, _ := out[runner.KeyWait].(bool); wait {
		if err := e.park(ctx, st, node, ne, out, PauseReasonWait); err != nil {
			return false, err
		}
		return true, nil
	}

	shaped := e.registry.ShapeOutput(node, runner.StripControlKeys(out))
	ne.OutputData = shaped
	ne.Status = model.NodeCompleted
	ne.EndTime = model.NowMS()
	st.exec.CreditsConsumed += creditsFor(node)
	st.executed[node.ID] = true
	st.exec.ExecutionSequence = append(st.exec.ExecutionSequence, node.ID)

	e.propagate(ctx, st, node.ID, shaped)
	e.publish(ctx, st.exec, "node_completed", map[string]any{"node_id": node.ID})
	return false, nil
}

// attempt wraps one node in the retry/timeout envelope. A payload that
// reports success=false consumes retries like a returned error.
func (e *Executor) attempt(ctx context.Context, node *model.Node, ne *model.NodeExecution, req *runner.Request) (map[string]any, error) {
	r := e.factory.Resolve(node)
	attempts := int(configInt(node.Configurations, "retry_attempts", 0)) + 1
	timeout := nodeTimeout(node, e.cfg.DefaultNodeTimeout)

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			ne.Status = model.NodeRetrying
			ne.Retries = i
			if err := e.sleep(ctx, retryDelay(node, e.backoffBase, i)); err != nil {
				return nil, lastErr
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		out, err := r.Run(attemptCtx, req)
		timedOut := attemptCtx.Err() == context.DeadlineExceeded
		cancel()

		if err == nil {
			if msg, failed := reportedFailure(out); failed {
				lastErr = errs.New(errs.CodeNodeFailed, fmt.Sprintf("node %s: %s", node.ID, msg))
				continue
			}
			return out, nil
		}
		if timedOut {
			lastErr = errs.Wrap(errs.CodeTimeout, fmt.Sprintf("node %s: attempt timed out after %s", node.ID, timeout), err)
		} else {
			lastErr = err
		}
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// runFanOut executes fan-out siblings of one node with bounded parallelism.
// Sibling outputs propagate in element order so downstream joins see a
// deterministic layout.
func (e *Executor) runFanOut(ctx context.Context, st *runState, batch []model.QueueItem) error {
	nodeID := batch[0].NodeID
	v := st.graph.Vertex(nodeID)
	if v == nil {
		return errs.New(errs.CodeUnknownNode, fmt.Sprintf("fan-out target %s is not a vertex", nodeID))
	}
	node := e.registry.Normalize(v.Node)

	outs := make([]map[string]any, len(batch))
	errsOut := make([]error, len(batch))
	attempts := make([]*model.NodeExecution, len(batch))

	var mu sync.Mutex
	for i, item := range batch {
		ne := &model.NodeExecution{
			NodeID:       nodeID,
			ActivationID: item.ActivationID,
			Status:       model.NodeRunning,
			InputData:    item.OverrideInputs,
			StartTime:    model.NowMS(),
		}
		st.exec.AddNodeExecution(ne)
		attempts[i] = ne
	}

	sem := make(chan struct{}, e.cfg.FanOutConcurrency)
	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			req := e.request(st, node, attempts[i], batch[i].OverrideInputs, &mu)
			outs[i], errsOut[i] = e.attempt(ctx, node, attempts[i], req)
		}(i)
	}
	wg.Wait()

	continueOnError := onError(node) == "continue"
	for i := range batch {
		ne := attempts[i]
		if errsOut[i] != nil {
			ne.Status = model.NodeFailed
			ne.Error = errsOut[i].Error()
			ne.EndTime = model.NowMS()
			if continueOnError {
				e.logger.Warn("fan-out activation failed, continuing per on_error",
					"execution_id", st.exec.ID, "node_id", nodeID, "activation_id", ne.ActivationID, "error", errsOut[i])
				continue
			}
			return errsOut[i]
		}

		shaped := e.registry.ShapeOutput(node, runner.StripControlKeys(outs[i]))
		ne.OutputData = shaped
		ne.Status = model.NodeCompleted
		ne.EndTime = model.NowMS()
		st.exec.CreditsConsumed += creditsFor(node)
		st.exec.ExecutionSequence = append(st.exec.ExecutionSequence, nodeID)
		e.propagate(ctx, st, nodeID, shaped)
	}
	e.publish(ctx, st.exec, "node_completed", map[string]any{"node_id": nodeID, "activations": len(batch)})
	return nil
}

// propagate routes a node's shaped outputs along its outgoing connections
func (e *Executor) propagate(ctx context.Context, st *runState, nodeID string, shaped map[string]any) {
	for _, c := range st.graph.Outgoing(nodeID) {
		port := c.Port()
		value, fired := shaped[port]
		if !fired {
			continue
		}

		// The iteration port fans the successor out per element, each
		// activation carrying its element as the result input
		if port == model.PortIteration {
			items, ok := value.([]any)
			if !ok {
				continue
			}
			for _, elem := range items {
				st.enqueue(model.QueueItem{
					NodeID:         c.ToNode,
					ActivationID:   uuid.NewString(),
					OverrideInputs: map[string]any{model.PortResult: elem},
				})
			}
			continue
		}

		// A failed conversion delivers null to the sink; the source node
		// stays successful
		if c.ConversionFunction != "" {
			converted, err := e.converter.Convert(ctx, c.ConversionFunction, value, st.exec.TriggerInfo.TriggerData)
			if err != nil {
				e.logger.Warn("conversion function failed, delivering null",
					"execution_id", st.exec.ID, "from", c.FromNode, "to", c.ToNode, "error", err)
				value = nil
			} else {
				value = converted
			}
		}

		dst := st.inputs[c.ToNode]
		if dst == nil {
			dst = make(map[string]any)
			st.inputs[c.ToNode] = dst
		}
		dst[inputKey(dst, port, c.FromNode)] = value
	}
}

// inputKey disambiguates colliding inbound ports with a source suffix
func inputKey(dst map[string]any, port, from string) string {
	if _, taken := dst[port]; !taken {
		return port
	}
	key := port + ":" + from
	for n := 2; ; n++ {
		if _, taken := dst[key]; !taken {
			return key
		}
		key = fmt.Sprintf("%s:%s#%d", port, from, n)
	}
}

func (e *Executor) markSkipped(st *runState, nodeID string) {
	st.skipped[nodeID] = true
	st.exec.AddNodeExecution(&model.NodeExecution{
		NodeID:       nodeID,
		ActivationID: uuid.NewString(),
		Status:       model.NodeSkipped,
	})
}

func (e *Executor) enqueueDependents(st *runState, nodeID string) {
	for _, dep := range st.graph.Vertex(nodeID).Dependents {
		if st.executed[dep] || st.skipped[dep] {
			continue
		}
		if ready, _ := st.graph.Readiness(dep, st.executed, st.skipped); ready {
			st.enqueue(model.QueueItem{NodeID: dep})
		}
	}
}

func (e *Executor) request(st *runState, node *model.Node, ne *model.NodeExecution, inputs map[string]any, mu *sync.Mutex) *runner.Request {
	record := func(entry map[string]any) {
		ne.Activity = append(ne.Activity, entry)
	}
	addTokens := func(usage model.TokenUsage) {
		st.exec.TokensUsed.Add(usage)
	}
	if mu != nil {
		record = func(entry map[string]any) {
			mu.Lock()
			defer mu.Unlock()
			ne.Activity = append(ne.Activity, entry)
		}
		addTokens = func(usage model.TokenUsage) {
			mu.Lock()
			defer mu.Unlock()
			st.exec.TokensUsed.Add(usage)
		}
	}
	return &runner.Request{
		Node:           node,
		Inputs:         inputs,
		Trigger:        st.exec.TriggerInfo,
		Workflow:       st.graph.Workflow,
		ExecutionID:    st.exec.ID,
		UserID:         st.exec.TriggerInfo.UserID,
		RecordActivity: record,
		AddTokens:      addTokens,
	}
}

// fail finalizes the execution with an error status. The running-status
// guard keeps a slow driver from overwriting a cancel that already landed.
func (e *Executor) fail(ctx context.Context, exec *model.Execution, cause error) (*model.Execution, error) {
	exec.Status = model.ExecutionError
	if errs.Code(cause) == errs.CodeTimeout {
		exec.Status = model.ExecutionTimeout
	}
	exec.Error = executionFailure(cause)
	exec.EndTime = model.NowMS()
	exec.DurationMS = exec.EndTime - exec.StartTime
	swapped, err := e.executions.UpdateIfStatus(ctx, exec, model.ExecutionRunning)
	if err != nil {
		e.logger.Error("failed to persist failed execution", "execution_id", exec.ID, "error", err)
	} else if !swapped {
		if stored, gerr := e.executions.GetByID(ctx, exec.ID); gerr == nil && stored != nil {
			return stored, cause
		}
	}
	e.publish(ctx, exec, "execution_failed", map[string]any{"error": cause.Error()})
	return exec, cause
}

func (e *Executor) checkpoint(ctx context.Context, exec *model.Execution) {
	swapped, err := e.executions.UpdateIfStatus(ctx, exec, model.ExecutionRunning)
	if err != nil {
		e.logger.Warn("execution checkpoint failed", "execution_id", exec.ID, "error", err)
		return
	}
	if !swapped {
		e.logger.Debug("checkpoint skipped, execution no longer running", "execution_id", exec.ID)
	}
}

func (e *Executor) publish(ctx context.Context, exec *model.Execution, event string, extra map[string]any) {
	if e.events == nil {
		return
	}
	payload := map[string]any{
		"event":        event,
		"execution_id": exec.ID,
		"workflow_id":  exec.WorkflowID,
		"status":       exec.Status,
		"timestamp":    model.NowMS(),
	}
	for k, v := range extra {
		payload[k] = v
	}
	user := exec.TriggerInfo.UserID
	if user == "" {
		user = "system"
	}
	if err := e.events.PublishEvent(ctx, "workflow:events:"+user, payload); err != nil {
		e.logger.Debug("event publish failed", "event", event, "error", err)
	}
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func executionFailure(err error) *model.ExecutionFailure {
	appErr := errs.As(err)
	return &model.ExecutionFailure{
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	}
}

// reportedFailure detects a payload-level failure on an otherwise clean
// run. Every non-control port counts; runners are free to emit their
// payload on a port other than result.
func reportedFailure(out map[string]any) (string, bool) {
	for port, v := range out {
		if runner.IsControlKey(port) {
			continue
		}
		payload, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if success, present := payload["success"].(bool); present && !success {
			return fmt.Sprintf("port %s reported success=false", port), true
		}
	}
	return "", false
}

func creditsFor(node *model.Node) int64 {
	switch node.Type {
	case model.NodeTypeAIAgent:
		return 5
	case model.NodeTypeExternalAction, model.NodeTypeHumanInLoop:
		return 2
	}
	return 1
}

func onError(node *model.Node) string {
	return configString(node.Configurations, "on_error", "fail")
}

// retryDelay derives the pause before retry i (1-based). Nodes may set
// initial_delay_ms and backoff_factor; without them the base delay
// doubles per attempt.
func retryDelay(node *model.Node, base time.Duration, retry int) time.Duration {
	delay := base
	if ms := configInt(node.Configurations, "initial_delay_ms", 0); ms > 0 {
		delay = time.Duration(ms) * time.Millisecond
	}
	factor := configFloat(node.Configurations, "backoff_factor", 2)
	if factor < 1 {
		factor = 1
	}
	return time.Duration(float64(delay) * math.Pow(factor, float64(retry-1)))
}

func nodeTimeout(node *model.Node, fallback time.Duration) time.Duration {
	if secs := configInt(node.Configurations, "timeout_seconds", 0); secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func configString(config map[string]any, key, fallback string) string {
	if s, ok := config[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func configInt(config map[string]any, key string, fallback int64) int64 {
	if config == nil {
		return fallback
	}
	if v, present := config[key]; present {
		return toInt64(v)
	}
	return fallback
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

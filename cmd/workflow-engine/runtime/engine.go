// Package runtime hosts the execution engine: it drives validated workflow
// definitions through the resolver, node runners, and recovery layer, in
// serial or scheduled-parallel mode, and owns the live-execution registry.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/ragflow/cmd/workflow-engine/nodes"
	"github.com/lyzr/ragflow/cmd/workflow-engine/recovery"
	"github.com/lyzr/ragflow/cmd/workflow-engine/resolver"
	"github.com/lyzr/ragflow/cmd/workflow-engine/scheduler"
	"github.com/lyzr/ragflow/common/config"
	"github.com/lyzr/ragflow/common/logger"
	"github.com/lyzr/ragflow/common/metrics"
	"github.com/lyzr/ragflow/common/providers"
	"github.com/lyzr/ragflow/common/workflow"
)

// StepCallback receives each finished step with progress counters.
// Callback panics are swallowed; they must never break an execution.
type StepCallback func(step *workflow.ExecutionStep, completed, total int)

// Options tune one execution
type Options struct {
	ExecutionID    string
	Debug          bool
	EnableParallel *bool
	OnStep         StepCallback
}

// Engine executes workflow definitions
type Engine struct {
	cfg       *config.Config
	log       *logger.Logger
	validator *workflow.Validator
	resolver  *resolver.Resolver
	registry  *nodes.Registry
	recovery  *recovery.Handler
	scheduler *scheduler.Scheduler
	monitor   *metrics.Monitor
	alerts    *metrics.AlertEvaluator
	providers *providers.Set

	mu   sync.Mutex
	live map[string]*execState

	cacheMu sync.RWMutex
	cache   map[string]map[string]interface{} // execution_id:node_id -> output
}

// execState is the engine-private handle for one live execution. The
// mutex guards every mutation of the context while it is registered;
// readers take snapshots instead of touching the live pointer.
type execState struct {
	mu      sync.Mutex
	ec      *workflow.ExecutionContext
	stopped atomic.Bool
}

func (s *execState) update(fn func(ec *workflow.ExecutionContext)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.ec)
}

// snapshot returns a copy safe to read and marshal while the execution
// keeps mutating the original. Steps are published only after they are
// finalized, so copying the slice and the step values is enough.
func (s *execState) snapshot() *workflow.ExecutionContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *s.ec
	copied.Steps = make([]*workflow.ExecutionStep, len(s.ec.Steps))
	for i, step := range s.ec.Steps {
		stepCopy := *step
		copied.Steps[i] = &stepCopy
	}
	copied.Checkpoints = append([]string(nil), s.ec.Checkpoints...)
	return &copied
}

// New creates an engine
func New(
	cfg *config.Config,
	validator *workflow.Validator,
	res *resolver.Resolver,
	registry *nodes.Registry,
	handler *recovery.Handler,
	sched *scheduler.Scheduler,
	monitor *metrics.Monitor,
	alerts *metrics.AlertEvaluator,
	set *providers.Set,
	log *logger.Logger,
) *Engine {
	e := &Engine{
		cfg:       cfg,
		log:       log,
		validator: validator,
		resolver:  res,
		registry:  registry,
		recovery:  handler,
		scheduler: sched,
		monitor:   monitor,
		alerts:    alerts,
		providers: set,
		live:      make(map[string]*execState),
		cache:     make(map[string]map[string]interface{}),
	}
	handler.SetCacheLookup(e.lookupAnyCached)
	return e
}

// Recovery exposes the recovery handler for admin endpoints
func (e *Engine) Recovery() *recovery.Handler { return e.recovery }

// Monitor exposes the metrics monitor for stats endpoints
func (e *Engine) Monitor() *metrics.Monitor { return e.monitor }

// Alerts exposes the alert evaluator for stats endpoints
func (e *Engine) Alerts() *metrics.AlertEvaluator { return e.alerts }

// Execute runs a workflow to completion and returns its context. The
// returned error covers engine-level failures; node failures are recorded
// on the context with status error.
func (e *Engine) Execute(ctx context.Context, def *workflow.Definition, inputData map[string]interface{}, opts Options) (*workflow.ExecutionContext, error) {
	if inputData == nil {
		inputData = map[string]interface{}{}
	}
	tenantID, _ := inputData["tenant_id"].(string)
	userID, _ := inputData["user_id"].(string)
	if tenantID == "" || userID == "" {
		return nil, fmt.Errorf("tenant_id and user_id are required in input data")
	}

	executionID := opts.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}

	ec := &workflow.ExecutionContext{
		ExecutionID:   executionID,
		WorkflowID:    def.ID,
		Status:        workflow.ExecutionRunning,
		StartTime:     time.Now().UTC(),
		InputData:     inputData,
		GlobalContext: globalContext(def),
		Metrics:       map[string]interface{}{},
	}

	state := &execState{ec: ec}
	e.register(state)
	defer e.unregister(executionID)

	log := e.log.WithExecutionID(executionID)
	log.Info("execution started", "workflow_id", def.ID, "nodes", len(def.Nodes))

	if report := e.validator.Validate(def); !report.OK {
		state.update(func(ec *workflow.ExecutionContext) {
			ec.Error = fmt.Sprintf("validation failed: %v", report.Errors)
			ec.Finish(workflow.ExecutionError)
		})
		e.finish(ctx, state, tenantID, userID, opts)
		return ec, nil
	}
	if err := e.validator.ValidateInputs(def, inputData); err != nil {
		state.update(func(ec *workflow.ExecutionContext) {
			ec.Error = err.Error()
			ec.Finish(workflow.ExecutionError)
		})
		e.finish(ctx, state, tenantID, userID, opts)
		return ec, nil
	}

	parallel := e.cfg.Engine.EnableParallel
	if opts.EnableParallel != nil {
		parallel = *opts.EnableParallel
	}
	// streaming callers need topological event order; run them serially
	if opts.OnStep != nil {
		parallel = false
	}
	parallel = parallel && len(def.Nodes) > 2

	var runErr error
	if parallel {
		runErr = e.runParallel(ctx, def, state, opts)
	} else {
		runErr = e.runSerial(ctx, def, state, opts)
	}

	state.update(func(ec *workflow.ExecutionContext) {
		switch {
		case state.stopped.Load():
			ec.Finish(workflow.ExecutionStopped)
		case runErr != nil:
			ec.Error = runErr.Error()
			ec.Finish(workflow.ExecutionError)
		default:
			ec.Finish(workflow.ExecutionCompleted)
		}
	})

	e.finish(ctx, state, tenantID, userID, opts)
	log.Info("execution finished", "status", ec.Status, "steps", len(ec.Steps))
	return ec, nil
}

// runSerial executes nodes one at a time in topological order. Used for
// streaming and for trivially small workflows.
func (e *Engine) runSerial(ctx context.Context, def *workflow.Definition, state *execState, opts Options) error {
	order, err := workflow.Order(def)
	if err != nil {
		return err
	}

	run := newRunState(def, state)
	for _, nodeID := range order {
		if state.stopped.Load() {
			return nil
		}
		node := def.NodeByID(nodeID)
		if err := e.runNode(ctx, def, node, run, opts); err != nil {
			return err
		}
	}

	output := assembleOutput(def, order, run, nil)
	state.update(func(ec *workflow.ExecutionContext) { ec.OutputData = output })
	return nil
}

// runParallel delegates level batching to the scheduler
func (e *Engine) runParallel(ctx context.Context, def *workflow.Definition, state *execState, opts Options) error {
	order, err := workflow.Order(def)
	if err != nil {
		return err
	}

	run := newRunState(def, state)
	err = e.scheduler.Execute(ctx, def, func(ctx context.Context, node *workflow.Node) error {
		if state.stopped.Load() {
			return nil
		}
		return e.runNode(ctx, def, node, run, opts)
	})
	if err != nil {
		return err
	}

	output := assembleOutput(def, order, run, nil)
	state.update(func(ec *workflow.ExecutionContext) { ec.OutputData = output })
	return nil
}

// runState guards the shared node-output map during one execution
type runState struct {
	mu       sync.Mutex
	state    *execState
	ec       *workflow.ExecutionContext
	nodeData map[string]map[string]interface{}
	total    int
	done     int
}

func newRunState(def *workflow.Definition, state *execState) *runState {
	return &runState{
		state:    state,
		ec:       state.ec,
		nodeData: make(map[string]map[string]interface{}, len(def.Nodes)),
		total:    len(def.Nodes),
	}
}

// seed pre-populates node outputs, used by partial re-execution
func (r *runState) seed(nodeID string, output map[string]interface{}) {
	r.nodeData[nodeID] = output
}

// snapshot copies the node-output map for lock-free resolution
func (r *runState) snapshot() map[string]map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := make(map[string]map[string]interface{}, len(r.nodeData))
	for k, v := range r.nodeData {
		copied[k] = v
	}
	return copied
}

func (r *runState) store(nodeID string, output map[string]interface{}) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodeData[nodeID] = output
	r.done++
	return r.done
}

func (r *runState) get(nodeID string) (map[string]interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out, ok := r.nodeData[nodeID]
	return out, ok
}

// publish appends a finalized step to the context under the state lock,
// so status snapshots never observe a step mid-mutation
func (r *runState) publish(step *workflow.ExecutionStep) {
	r.state.update(func(ec *workflow.ExecutionContext) {
		ec.AppendStep(step)
	})
}

// runNode executes one node: resolve inputs, run under recovery, record
// the step, store the output, and fire the progress callback. The step
// is published to the context only once it stops mutating.
func (e *Engine) runNode(ctx context.Context, def *workflow.Definition, node *workflow.Node, run *runState, opts Options) error {
	step := &workflow.ExecutionStep{
		StepID:    uuid.NewString(),
		NodeID:    node.ID,
		NodeName:  node.Name,
		Status:    workflow.StepPending,
		StartTime: time.Now().UTC(),
	}

	var input map[string]interface{}
	if node.Type == workflow.NodeTypeInput {
		input = run.ec.InputData
	} else {
		input = e.resolver.Resolve(def, node, run.snapshot(), run.ec)
	}
	step.InputData = input
	step.Status = workflow.StepRunning

	output, err := e.recovery.Run(ctx, node, step, func(ctx context.Context) (map[string]interface{}, error) {
		return e.registry.Run(ctx, &nodes.Invocation{
			Node:      node,
			Input:     input,
			Execution: run.ec,
		})
	})
	if err != nil {
		step.Error = err.Error()
		step.Finalize(workflow.StepError)
		e.observeStep(node, step)
		run.publish(step)
		return fmt.Errorf("node %s failed: %w", node.ID, err)
	}

	if !step.IsTerminal() {
		step.OutputData = output
		step.MemoryUsage = metrics.HeapAllocBytes()
		step.Finalize(workflow.StepCompleted)
	}
	e.observeStep(node, step)
	run.publish(step)

	done := run.store(node.ID, output)
	e.storeCached(run.ec.ExecutionID, node.ID, output)

	if opts.OnStep != nil {
		invokeCallback(opts.OnStep, step, done, run.total, e.log)
	}
	return nil
}

func (e *Engine) observeStep(node *workflow.Node, step *workflow.ExecutionStep) {
	e.monitor.ObserveNode(node.ID, node.Type, step.Status, step.Duration)
	if step.Status == workflow.StepError {
		e.monitor.ObserveNodeError(node.Type, string(recovery.Classify(fmt.Errorf("%s", step.Error))))
	}
}

// invokeCallback shields the engine from callback panics
func invokeCallback(cb StepCallback, step *workflow.ExecutionStep, done, total int, log *logger.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("step callback panicked", "node_id", step.NodeID, "panic", fmt.Sprintf("%v", r))
		}
	}()
	cb(step, done, total)
}

// assembleOutput merges output-node results in declaration order; without
// output nodes the last node in order wins. affectedOnly restricts the
// fallback to re-executed nodes during partial retry.
func assembleOutput(def *workflow.Definition, order []string, run *runState, affectedOnly map[string]bool) map[string]interface{} {
	merged := map[string]interface{}{}
	found := false
	for i := range def.Nodes {
		if def.Nodes[i].Type != workflow.NodeTypeOutput {
			continue
		}
		if out, ok := run.get(def.Nodes[i].ID); ok {
			for k, v := range out {
				merged[k] = v
			}
			found = true
		}
	}
	if found {
		return merged
	}

	for i := len(order) - 1; i >= 0; i-- {
		if affectedOnly != nil && !affectedOnly[order[i]] {
			continue
		}
		if out, ok := run.get(order[i]); ok {
			return out
		}
	}
	return map[string]interface{}{}
}

func globalContext(def *workflow.Definition) map[string]interface{} {
	gc := make(map[string]interface{}, len(def.GlobalConfig))
	for k, v := range def.GlobalConfig {
		gc[k] = v
	}
	return gc
}

// finish runs end-of-execution bookkeeping: metrics, alerts, persistence,
// and cache cleanup. Operates on a snapshot so the background persistence
// write never touches the live context.
func (e *Engine) finish(ctx context.Context, state *execState, tenantID, userID string, opts Options) {
	ec := state.snapshot()

	e.monitor.ObserveWorkflow(ec.Status, ec.EndTime.Sub(ec.StartTime).Seconds())
	for _, alert := range e.alerts.Evaluate() {
		e.log.Warn("alert fired", "rule", alert.Rule, "node_id", alert.NodeID, "message", alert.Message)
	}

	if e.providers.Persistence != nil {
		// fire and forget: persistence failures never change the
		// execution status
		go func() {
			pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := e.providers.Persistence.SaveExecution(pctx, ec, tenantID, userID, opts.Debug, false); err != nil {
				e.log.Error("execution persistence failed", "execution_id", ec.ExecutionID, "error", err)
			}
		}()
	}

	e.clearCached(ec.ExecutionID)
}

// Stop marks an execution stopped. In-flight node calls are not forcibly
// interrupted; the run loop observes the flag before the next node.
func (e *Engine) Stop(executionID string) bool {
	e.mu.Lock()
	state, ok := e.live[executionID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	state.stopped.Store(true)
	state.update(func(ec *workflow.ExecutionContext) {
		ec.Finish(workflow.ExecutionStopped)
	})
	return true
}

// GetStatus returns a point-in-time copy of a live execution, or nil.
// The live context keeps mutating; callers read and marshal the copy.
func (e *Engine) GetStatus(executionID string) *workflow.ExecutionContext {
	e.mu.Lock()
	state, ok := e.live[executionID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return state.snapshot()
}

// LiveCount returns the number of registered executions
func (e *Engine) LiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

func (e *Engine) register(state *execState) {
	e.mu.Lock()
	e.live[state.ec.ExecutionID] = state
	count := len(e.live)
	e.mu.Unlock()
	e.monitor.SetLiveExecutions(count)
}

func (e *Engine) unregister(executionID string) {
	e.mu.Lock()
	delete(e.live, executionID)
	count := len(e.live)
	e.mu.Unlock()
	e.monitor.SetLiveExecutions(count)

	// retry counters are keyed by step id; safe to drop once idle
	if count == 0 {
		e.recovery.ClearRetryCounts()
	}
}

// node-output cache, consulted by the use_cached_result recovery action

func cacheKey(executionID, nodeID string) string {
	return executionID + ":" + nodeID
}

func (e *Engine) storeCached(executionID, nodeID string, output map[string]interface{}) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	e.cache[cacheKey(executionID, nodeID)] = output
}

func (e *Engine) clearCached(executionID string) {
	prefix := executionID + ":"
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	for key := range e.cache {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(e.cache, key)
		}
	}
}

// ClearCache drops all cached node outputs. Admin operation.
func (e *Engine) ClearCache() {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	e.cache = make(map[string]map[string]interface{})
}

// lookupAnyCached finds the most recent cached output for a node across
// executions. The recovery layer only knows the node id.
func (e *Engine) lookupAnyCached(nodeID string) (map[string]interface{}, bool) {
	suffix := ":" + nodeID
	e.cacheMu.RLock()
	defer e.cacheMu.RUnlock()
	for key, output := range e.cache {
		if len(key) > len(suffix) && key[len(key)-len(suffix):] == suffix {
			return output, true
		}
	}
	return nil, false
}

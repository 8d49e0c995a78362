package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/ragflow/common/workflow"
)

// RetryFrom re-executes a workflow from one node onward. Outputs of
// unaffected nodes are reused from the base execution; only the start node
// and its descendants run again.
func (e *Engine) RetryFrom(ctx context.Context, def *workflow.Definition, base *workflow.ExecutionContext, startNodeID string, opts Options) (*workflow.ExecutionContext, error) {
	if base == nil {
		return nil, fmt.Errorf("base execution is required")
	}
	if def.NodeByID(startNodeID) == nil {
		return nil, fmt.Errorf("start node %s not found in workflow", startNodeID)
	}

	tenantID, _ := base.InputData["tenant_id"].(string)
	userID, _ := base.InputData["user_id"].(string)
	if tenantID == "" || userID == "" {
		return nil, fmt.Errorf("base execution is missing tenant_id or user_id")
	}

	if report := e.validator.Validate(def); !report.OK {
		return nil, fmt.Errorf("validation failed: %v", report.Errors)
	}

	order, err := workflow.Order(def)
	if err != nil {
		return nil, err
	}

	affected := workflow.Descendants(def, startNodeID)
	affected[startNodeID] = true

	executionID := opts.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}

	ec := &workflow.ExecutionContext{
		ExecutionID:   executionID,
		WorkflowID:    def.ID,
		Status:        workflow.ExecutionRunning,
		StartTime:     time.Now().UTC(),
		InputData:     base.InputData,
		GlobalContext: globalContext(def),
		Metrics: map[string]interface{}{
			"retry_from":        startNodeID,
			"base_execution_id": base.ExecutionID,
		},
	}

	state := &execState{ec: ec}
	e.register(state)
	defer e.unregister(executionID)

	log := e.log.WithExecutionID(executionID)
	log.Info("partial re-execution started",
		"base_execution_id", base.ExecutionID,
		"start_node", startNodeID,
		"affected", len(affected))

	run := newRunState(def, state)
	for _, step := range base.Steps {
		if affected[step.NodeID] || step.OutputData == nil {
			continue
		}
		run.seed(step.NodeID, step.OutputData)
	}
	run.total = len(affected)

	var runErr error
	for _, nodeID := range order {
		if state.stopped.Load() {
			break
		}
		if !affected[nodeID] {
			continue
		}
		node := def.NodeByID(nodeID)
		if runErr = e.runNode(ctx, def, node, run, opts); runErr != nil {
			break
		}
	}

	state.update(func(ec *workflow.ExecutionContext) {
		switch {
		case state.stopped.Load():
			ec.Finish(workflow.ExecutionStopped)
		case runErr != nil:
			ec.Error = runErr.Error()
			ec.Finish(workflow.ExecutionError)
		default:
			ec.OutputData = assembleOutput(def, order, run, affected)
			ec.Finish(workflow.ExecutionCompleted)
		}
	})

	e.finish(ctx, state, tenantID, userID, opts)
	log.Info("partial re-execution finished", "status", ec.Status, "steps", len(ec.Steps))
	return ec, nil
}

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/ragflow/cmd/workflow-engine/runtime"
	"github.com/lyzr/ragflow/common/ratelimit"
	"github.com/lyzr/ragflow/common/workflow"
)

// ExecutionHandler handles execution lifecycle requests
type ExecutionHandler struct {
	components *Components
}

// NewExecutionHandler creates an execution handler
func NewExecutionHandler(components *Components) *ExecutionHandler {
	return &ExecutionHandler{components: components}
}

// executeRequest is the body of POST /v1/executions and its variants.
// Exactly one of Workflow (inline definition) or WorkflowID (stored
// definition) must be provided.
type executeRequest struct {
	Workflow   json.RawMessage        `json:"workflow,omitempty"`
	WorkflowID string                 `json:"workflow_id,omitempty"`
	Input      map[string]interface{} `json:"input,omitempty"`
	Debug      bool                   `json:"debug,omitempty"`
	Parallel   *bool                  `json:"parallel,omitempty"`
}

func (h *ExecutionHandler) definition(req *executeRequest) (*workflow.Definition, error) {
	switch {
	case len(req.Workflow) > 0 && req.WorkflowID != "":
		return nil, fmt.Errorf("provide either workflow or workflow_id, not both")
	case len(req.Workflow) > 0:
		return workflow.ParseDefinition(req.Workflow)
	case req.WorkflowID != "":
		return h.components.Definitions.Get(req.WorkflowID)
	default:
		return nil, fmt.Errorf("workflow or workflow_id is required")
	}
}

// input stamps the engine-enforced identity onto the caller payload
func executionInput(req *executeRequest, tenantID, userID string) map[string]interface{} {
	input := make(map[string]interface{}, len(req.Input)+2)
	for k, v := range req.Input {
		input[k] = v
	}
	input["tenant_id"] = tenantID
	input["user_id"] = userID
	return input
}

// quotaExceeded consumes a slot from the tenant's tier window for one
// submission. The tier is derived from the definition's node mix, so a
// tenant saturating heavy pipelines can still run cheap ones. Limiter
// errors fail open. Returns true when the 429 response was written.
func (h *ExecutionHandler) quotaExceeded(c echo.Context, tenantID string, def *workflow.Definition) (bool, error) {
	if h.components.Limiter == nil {
		return false, nil
	}

	tier := ratelimit.ClassifyDefinition(def)
	result, err := h.components.Limiter.CheckTenant(c.Request().Context(), tenantID, tier)
	if err != nil || result.Allowed {
		return false, nil
	}

	return true, c.JSON(http.StatusTooManyRequests, map[string]interface{}{
		"error":   "tenant_rate_limit_exceeded",
		"message": "submission quota exceeded for this workflow tier",
		"details": map[string]interface{}{
			"tier":                string(tier),
			"limit":               result.Limit,
			"current_count":       result.CurrentCount,
			"window_seconds":      60,
			"retry_after_seconds": result.RetryAfterSeconds,
		},
	})
}

// Execute runs a workflow synchronously
// POST /v1/executions
func (h *ExecutionHandler) Execute(c echo.Context) error {
	tenantID, userID, err := tenantIdentity(c)
	if err != nil {
		return err
	}

	var req executeRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid request body")
	}

	def, err := h.definition(&req)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err.Error())
	}

	if limited, err := h.quotaExceeded(c, tenantID, def); limited {
		return err
	}

	ec, err := h.components.Engine.Execute(c.Request().Context(), def, executionInput(&req, tenantID, userID), runtime.Options{
		Debug:          req.Debug,
		EnableParallel: req.Parallel,
	})
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err.Error())
	}

	h.persistToStore(c, ec, tenantID, userID, req.Debug)
	return c.JSON(http.StatusOK, executionResponse(ec, req.Debug))
}

// ExecuteStream runs a workflow and streams progress as SSE
// POST /v1/executions/stream
func (h *ExecutionHandler) ExecuteStream(c echo.Context) error {
	tenantID, userID, err := tenantIdentity(c)
	if err != nil {
		return err
	}

	var req executeRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid request body")
	}

	def, err := h.definition(&req)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err.Error())
	}

	if limited, err := h.quotaExceeded(c, tenantID, def); limited {
		return err
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	events := h.components.Engine.ExecuteStream(c.Request().Context(), def, executionInput(&req, tenantID, userID), runtime.Options{
		Debug: req.Debug,
	})

	for event := range events {
		encoded, err := json.Marshal(event)
		if err != nil {
			h.components.Log.Error("stream event encoding failed", "error", err)
			continue
		}
		if _, err := fmt.Fprintf(resp, "data: %s\n\n", encoded); err != nil {
			// client went away; the engine keeps running to completion
			h.components.Log.Warn("stream write failed, client disconnected", "error", err)
			return nil
		}
		resp.Flush()
	}

	fmt.Fprint(resp, "data: [DONE]\n\n")
	resp.Flush()
	return nil
}

// GetExecution returns a live or archived execution
// GET /v1/executions/:id
func (h *ExecutionHandler) GetExecution(c echo.Context) error {
	if _, _, err := tenantIdentity(c); err != nil {
		return err
	}
	id := c.Param("id")

	if ec := h.components.Engine.GetStatus(id); ec != nil {
		return c.JSON(http.StatusOK, executionResponse(ec, false))
	}

	if h.components.Executions != nil {
		ec, err := h.components.Executions.GetExecution(c.Request().Context(), id)
		if err != nil {
			return errorResponse(c, http.StatusInternalServerError, err.Error())
		}
		if ec != nil {
			return c.JSON(http.StatusOK, executionResponse(ec, false))
		}
	}

	return errorResponse(c, http.StatusNotFound, fmt.Sprintf("execution %s not found", id))
}

// StopExecution requests a live execution to stop
// POST /v1/executions/:id/stop
func (h *ExecutionHandler) StopExecution(c echo.Context) error {
	if _, _, err := tenantIdentity(c); err != nil {
		return err
	}
	id := c.Param("id")

	if !h.components.Engine.Stop(id) {
		return errorResponse(c, http.StatusNotFound, fmt.Sprintf("execution %s is not running", id))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"execution_id": id,
		"status":       workflow.ExecutionStopped,
	})
}

// retryFromRequest is the body of POST /v1/executions/retry-from
type retryFromRequest struct {
	executeRequest
	BaseExecutionID string `json:"base_execution_id"`
	StartNodeID     string `json:"start_node_id"`
}

// RetryFrom re-executes a workflow from a node onward, reusing the base
// execution's outputs for unaffected nodes
// POST /v1/executions/retry-from
func (h *ExecutionHandler) RetryFrom(c echo.Context) error {
	tenantID, userID, err := tenantIdentity(c)
	if err != nil {
		return err
	}

	var req retryFromRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid request body")
	}
	if req.BaseExecutionID == "" || req.StartNodeID == "" {
		return errorResponse(c, http.StatusBadRequest, "base_execution_id and start_node_id are required")
	}

	def, err := h.definition(&req.executeRequest)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err.Error())
	}

	if limited, err := h.quotaExceeded(c, tenantID, def); limited {
		return err
	}

	base := h.components.Engine.GetStatus(req.BaseExecutionID)
	if base == nil && h.components.Executions != nil {
		base, err = h.components.Executions.GetExecution(c.Request().Context(), req.BaseExecutionID)
		if err != nil {
			return errorResponse(c, http.StatusInternalServerError, err.Error())
		}
	}
	if base == nil {
		return errorResponse(c, http.StatusNotFound, fmt.Sprintf("base execution %s not found", req.BaseExecutionID))
	}

	ec, err := h.components.Engine.RetryFrom(c.Request().Context(), def, base, req.StartNodeID, runtime.Options{
		Debug: req.Debug,
	})
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err.Error())
	}

	h.persistToStore(c, ec, tenantID, userID, req.Debug)
	return c.JSON(http.StatusOK, executionResponse(ec, req.Debug))
}

// persistToStore writes the finished execution to the short-term store so
// GET and retry-from can find it after the live entry is gone. Failures
// are logged, never surfaced.
func (h *ExecutionHandler) persistToStore(c echo.Context, ec *workflow.ExecutionContext, tenantID, userID string, debug bool) {
	if h.components.Executions == nil {
		return
	}
	if err := h.components.Executions.SaveExecution(c.Request().Context(), ec, tenantID, userID, debug, false); err != nil {
		h.components.Log.Error("execution store write failed", "execution_id", ec.ExecutionID, "error", err)
	}
}

// executionResponse shapes the API view of an execution. Step input and
// output payloads are attached only in debug mode.
func executionResponse(ec *workflow.ExecutionContext, debug bool) map[string]interface{} {
	steps := make([]map[string]interface{}, 0, len(ec.Steps))
	for _, step := range ec.Steps {
		view := map[string]interface{}{
			"step_id":    step.StepID,
			"node_id":    step.NodeID,
			"node_name":  step.NodeName,
			"status":     step.Status,
			"start_time": step.StartTime,
			"end_time":   step.EndTime,
			"duration":   step.Duration,
		}
		if step.Error != "" {
			view["error"] = step.Error
		}
		if debug {
			view["input_data"] = step.InputData
			view["output_data"] = step.OutputData
			view["metrics"] = step.Metrics
		}
		steps = append(steps, view)
	}

	resp := map[string]interface{}{
		"execution_id": ec.ExecutionID,
		"workflow_id":  ec.WorkflowID,
		"status":       ec.Status,
		"start_time":   ec.StartTime,
		"end_time":     ec.EndTime,
		"output_data":  ec.OutputData,
		"steps":        steps,
	}
	if ec.Error != "" {
		resp["error"] = ec.Error
	}
	return resp
}

package handlers

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/ragflow/common/workflow"
)

// WorkflowHandler manages stored workflow definitions
type WorkflowHandler struct {
	components *Components
}

// NewWorkflowHandler creates a workflow handler
func NewWorkflowHandler(components *Components) *WorkflowHandler {
	return &WorkflowHandler{components: components}
}

// CreateWorkflow stores a definition after validating it
// POST /v1/workflows
func (h *WorkflowHandler) CreateWorkflow(c echo.Context) error {
	if _, _, err := tenantIdentity(c); err != nil {
		return err
	}

	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "failed to read request body")
	}

	def, err := workflow.ParseDefinition(raw)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err.Error())
	}

	report := h.components.Validator.Validate(def)
	if !report.OK {
		return c.JSON(http.StatusUnprocessableEntity, report)
	}

	if err := h.components.Definitions.Put(def); err != nil {
		return errorResponse(c, http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"id":       def.ID,
		"version":  def.Version,
		"warnings": report.Warnings,
	})
}

// GetWorkflow returns a stored definition
// GET /v1/workflows/:id
func (h *WorkflowHandler) GetWorkflow(c echo.Context) error {
	if _, _, err := tenantIdentity(c); err != nil {
		return err
	}

	def, err := h.components.Definitions.Get(c.Param("id"))
	if err != nil {
		return errorResponse(c, http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, def)
}

// ListWorkflows returns the stored definition ids
// GET /v1/workflows
func (h *WorkflowHandler) ListWorkflows(c echo.Context) error {
	if _, _, err := tenantIdentity(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"workflows": h.components.Definitions.List(),
	})
}

// PatchWorkflow applies a JSON merge patch to a stored definition. The
// patched definition is re-validated before it replaces the original.
// PATCH /v1/workflows/:id
func (h *WorkflowHandler) PatchWorkflow(c echo.Context) error {
	if _, _, err := tenantIdentity(c); err != nil {
		return err
	}

	patch, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "failed to read request body")
	}

	def, err := h.components.Definitions.ApplyPatch(c.Param("id"), patch)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err.Error())
	}

	report := h.components.Validator.Validate(def)
	if !report.OK {
		return c.JSON(http.StatusUnprocessableEntity, report)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":       def.ID,
		"version":  def.Version,
		"warnings": report.Warnings,
	})
}

// ValidateWorkflow checks a definition without storing it
// POST /v1/workflows/validate
func (h *WorkflowHandler) ValidateWorkflow(c echo.Context) error {
	if _, _, err := tenantIdentity(c); err != nil {
		return err
	}

	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "failed to read request body")
	}

	def, err := workflow.ParseDefinition(raw)
	if err != nil {
		return c.JSON(http.StatusOK, &workflow.Report{
			OK:     false,
			Errors: []string{err.Error()},
		})
	}

	return c.JSON(http.StatusOK, h.components.Validator.Validate(def))
}

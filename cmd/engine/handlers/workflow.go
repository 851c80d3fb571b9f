package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/weavr-ai/weavr/cmd/engine/container"
	"github.com/weavr-ai/weavr/cmd/engine/middleware"
	"github.com/weavr-ai/weavr/common/model"
)

// WorkflowHandler handles workflow definition requests
type WorkflowHandler struct {
	container *container.Container
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(c *container.Container) *WorkflowHandler {
	return &WorkflowHandler{container: c}
}

// CreateWorkflow validates and stores a new workflow definition
// POST /api/v1/workflows
func (h *WorkflowHandler) CreateWorkflow(c echo.Context) error {
	username, err := middleware.RequireUsername(c)
	if err != nil {
		return err
	}

	var w model.Workflow
	if err := c.Bind(&w); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error_code":    "invalid_workflow",
			"error_message": "request body is not a valid workflow definition",
		})
	}

	created, err := h.container.Workflows.Create(c.Request().Context(), &w, username)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// GetWorkflow retrieves a workflow definition
// GET /api/v1/workflows/:id
func (h *WorkflowHandler) GetWorkflow(c echo.Context) error {
	w, err := h.container.Workflows.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, w)
}

// UpdateWorkflow replaces a workflow definition and bumps its version
// PUT /api/v1/workflows/:id
func (h *WorkflowHandler) UpdateWorkflow(c echo.Context) error {
	var w model.Workflow
	if err := c.Bind(&w); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error_code":    "invalid_workflow",
			"error_message": "request body is not a valid workflow definition",
		})
	}

	updated, err := h.container.Workflows.Update(c.Request().Context(), c.Param("id"), &w)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

// ListWorkflows lists the calling user's workflows
// GET /api/v1/workflows?limit=50
func (h *WorkflowHandler) ListWorkflows(c echo.Context) error {
	username, err := middleware.RequireUsername(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	workflows, err := h.container.Workflows.List(c.Request().Context(), username, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"workflows": workflows})
}

// ListNodeSpecs lists every registered node spec
// GET /api/v1/node-specs
func (h *WorkflowHandler) ListNodeSpecs(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"specs": h.container.Workflows.Specs()})
}

package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/weavr-ai/weavr/cmd/engine/container"
	"github.com/weavr-ai/weavr/cmd/engine/middleware"
	"github.com/weavr-ai/weavr/common/model"
)

// ExecutionHandler handles execution lifecycle requests
type ExecutionHandler struct {
	container *container.Container
}

// NewExecutionHandler creates a new execution handler
func NewExecutionHandler(c *container.Container) *ExecutionHandler {
	return &ExecutionHandler{container: c}
}

// startRequest is the body of a run-start request
type startRequest struct {
	TriggerInfo model.TriggerInfo `json:"trigger_info"`
}

// resumeRequest is the body of a resume request
type resumeRequest struct {
	NodeID       string         `json:"node_id"`
	UserResponse map[string]any `json:"user_response,omitempty"`
}

// respondRequest is the body of an interaction response
type respondRequest struct {
	Response map[string]any `json:"response"`
}

// StartExecution accepts a run and returns its id immediately.
// The run continues in the background; clients poll GetExecution or
// subscribe to the user's event channel.
// POST /api/v1/workflows/:id/executions
func (h *ExecutionHandler) StartExecution(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error_code":    "invalid_workflow",
			"error_message": "request body is not a valid trigger",
		})
	}
	if req.TriggerInfo.TriggerType == "" {
		req.TriggerInfo.TriggerType = model.TriggerManual
	}
	if req.TriggerInfo.UserID == "" {
		req.TriggerInfo.UserID = middleware.GetUsername(c)
	}

	exec, err := h.container.Executions.Start(c.Request().Context(), c.Param("id"), req.TriggerInfo)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"execution_id": exec.ID,
		"status":       exec.Status,
	})
}

// GetExecution retrieves a full execution record
// GET /api/v1/executions/:id
func (h *ExecutionHandler) GetExecution(c echo.Context) error {
	exec, err := h.container.Executions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, exec)
}

// ListExecutions lists execution summaries for a workflow
// GET /api/v1/workflows/:id/executions?status=ERROR&limit=50&offset=0
func (h *ExecutionHandler) ListExecutions(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	executions, err := h.container.Executions.List(c.Request().Context(), c.Param("id"), c.QueryParam("status"), limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"executions": executions})
}

// ListPausedExecutions lists every resumable execution of a workflow,
// newest first. The scheduler's smart-resume path reads this.
// GET /api/v1/workflows/:id/executions/paused
func (h *ExecutionHandler) ListPausedExecutions(c echo.Context) error {
	executions, err := h.container.Executions.ListPaused(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"executions": executions})
}

// ResumeExecution continues a paused execution at the given node
// POST /api/v1/executions/:id/resume
func (h *ExecutionHandler) ResumeExecution(c echo.Context) error {
	var req resumeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error_code":    "not_paused",
			"error_message": "request body is not a valid resume request",
		})
	}

	exec, err := h.container.Executions.Resume(c.Request().Context(), c.Param("id"), req.NodeID, req.UserResponse)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"execution_id": exec.ID,
		"status":       exec.Status,
	})
}

// CancelExecution finalizes a paused or running execution as canceled
// POST /api/v1/executions/:id/cancel
func (h *ExecutionHandler) CancelExecution(c echo.Context) error {
	exec, err := h.container.Executions.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"execution_id": exec.ID,
		"status":       exec.Status,
	})
}

// RespondInteraction answers a pending human interaction by its id and
// resumes the execution behind it
// POST /api/v1/interactions/:id/respond
func (h *ExecutionHandler) RespondInteraction(c echo.Context) error {
	var req respondRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error_code":    "not_paused",
			"error_message": "request body is not a valid interaction response",
		})
	}

	exec, err := h.container.Executions.Respond(c.Request().Context(), c.Param("id"), req.Response)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"execution_id": exec.ID,
		"status":       exec.Status,
	})
}

package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/tidwall/gjson"

	"github.com/weavr-ai/weavr/cmd/scheduler/container"
	"github.com/weavr-ai/weavr/cmd/scheduler/router"
)

// SchedulerHandler handles deployment and manual-trigger requests
type SchedulerHandler struct {
	container *container.Container
}

// NewSchedulerHandler creates a new scheduler handler
func NewSchedulerHandler(c *container.Container) *SchedulerHandler {
	return &SchedulerHandler{container: c}
}

// triggerRequest is the body of a manual trigger request
type triggerRequest struct {
	Payload map[string]any `json:"payload,omitempty"`
}

// DeployWorkflow derives trigger index rows and activates them
// POST /api/v1/workflows/:id/deploy
func (h *SchedulerHandler) DeployWorkflow(c echo.Context) error {
	result, err := h.container.Scheduler.Deploy(c.Request().Context(), c.Param("id"), userID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// UndeployWorkflow deactivates a workflow's triggers
// POST /api/v1/workflows/:id/undeploy
func (h *SchedulerHandler) UndeployWorkflow(c echo.Context) error {
	if err := h.container.Scheduler.Undeploy(c.Request().Context(), c.Param("id"), userID(c)); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "UNDEPLOYED"})
}

// ListTriggers lists a workflow's trigger index rows
// GET /api/v1/workflows/:id/triggers
func (h *SchedulerHandler) ListTriggers(c echo.Context) error {
	triggers, err := h.container.Scheduler.Triggers(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"triggers": triggers})
}

// ListDeployments lists a workflow's deployment history
// GET /api/v1/workflows/:id/deployments?limit=50
func (h *SchedulerHandler) ListDeployments(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	history, err := h.container.Scheduler.History(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"deployments": history})
}

// TriggerManual starts a fresh run of a workflow
// POST /api/v1/workflows/:id/trigger
func (h *SchedulerHandler) TriggerManual(c echo.Context) error {
	var req triggerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error_code":    "invalid_workflow",
			"error_message": "request body is not a valid trigger payload",
		})
	}

	executionID, err := h.container.Scheduler.TriggerManual(c.Request().Context(), c.Param("id"), userID(c), req.Payload)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"execution_id": executionID})
}

// ReceiveWebhook routes a generic inbound HTTP delivery. A configured
// deployment-wide webhook secret gates every delivery before routing;
// per-trigger secrets are checked by the router on top of it.
// ANY /api/v1/webhooks/*
func (h *SchedulerHandler) ReceiveWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	if secret := h.container.Components.Config.Scheduler.WebhookSecret; secret != "" {
		if !router.VerifySignature(secret, body, c.Request().Header.Get("X-Signature-256")) {
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error_code":    "signature_invalid",
				"error_message": "webhook signature verification failed",
			})
		}
	}

	headers := map[string]string{
		"X-Signature-256": c.Request().Header.Get("X-Signature-256"),
	}
	executionIDs, err := h.container.Scheduler.HandleWebhook(
		c.Request().Context(),
		c.Param("*"),
		c.Request().Method,
		headers,
		body,
	)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"execution_ids": executionIDs})
}

// ReceiveSlack routes a chat workspace event
// POST /api/v1/events/slack
func (h *SchedulerHandler) ReceiveSlack(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	// Workspace event subscriptions answer URL verification with the
	// challenge before any routing happens
	if challenge := challengeToken(body); challenge != "" {
		return c.JSON(http.StatusOK, map[string]string{"challenge": challenge})
	}

	executionIDs, err := h.container.Scheduler.HandleSlack(c.Request().Context(), body)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"execution_ids": executionIDs})
}

// ReceiveGithub routes a source-control repository event
// POST /api/v1/events/github
func (h *SchedulerHandler) ReceiveGithub(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	executionIDs, err := h.container.Scheduler.HandleGithub(
		c.Request().Context(),
		c.Request().Header.Get("X-GitHub-Event"),
		c.Request().Header.Get("X-GitHub-Delivery"),
		c.Request().Header.Get("X-Hub-Signature-256"),
		body,
	)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"execution_ids": executionIDs})
}

// ReceiveEmail routes an inbound mail event
// POST /api/v1/events/email
func (h *SchedulerHandler) ReceiveEmail(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	executionIDs, err := h.container.Scheduler.HandleEmail(c.Request().Context(), body)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"execution_ids": executionIDs})
}

// ReceiveCalendar routes a calendar event
// POST /api/v1/events/calendar
func (h *SchedulerHandler) ReceiveCalendar(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	executionIDs, err := h.container.Scheduler.HandleCalendar(c.Request().Context(), body)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"execution_ids": executionIDs})
}

func userID(c echo.Context) string {
	return c.Request().Header.Get("X-User-ID")
}

func challengeToken(body []byte) string {
	if gjson.GetBytes(body, "type").String() != "url_verification" {
		return ""
	}
	return gjson.GetBytes(body, "challenge").String()
}

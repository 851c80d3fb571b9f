package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/weavr-ai/weavr/common/model"
)

// EngineClient handles communication with the execution engine API.
// The scheduler uses it to start, resume and inspect runs.
type EngineClient struct {
	baseURL string
	http    *HTTPClient
	logger  Logger
}

// NewEngineClient creates a new engine client
func NewEngineClient(baseURL string, logger Logger) *EngineClient {
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
	}

	return &EngineClient{
		baseURL: baseURL,
		http:    NewHTTPClient(httpClient, logger),
		logger:  logger,
	}
}

// Run starts a new execution of a workflow and returns its id
func (c *EngineClient) Run(ctx context.Context, workflowID string, trigger model.TriggerInfo) (string, error) {
	c.logger.Info("starting execution via engine", "workflow_id", workflowID, "trigger_type", trigger.TriggerType)

	body, err := json.Marshal(map[string]any{"trigger_info": trigger})
	if err != nil {
		return "", fmt.Errorf("failed to marshal trigger info: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/workflows/%s/executions", c.baseURL, workflowID)
	resp, err := c.http.DoRequest(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to start execution: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("run request failed: status=%d, body=%s", resp.StatusCode, string(raw))
	}

	var runResponse struct {
		ExecutionID string `json:"execution_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&runResponse); err != nil {
		return "", fmt.Errorf("failed to decode run response: %w", err)
	}
	return runResponse.ExecutionID, nil
}

// ListPaused returns executions of a workflow waiting on human input or a
// wait signal, newest first
func (c *EngineClient) ListPaused(ctx context.Context, workflowID string) ([]*model.Execution, error) {
	url := fmt.Sprintf("%s/api/v1/workflows/%s/executions/paused", c.baseURL, workflowID)
	resp, err := c.http.DoRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list paused executions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("paused request failed: status=%d, body=%s", resp.StatusCode, string(raw))
	}

	var pausedResponse struct {
		Executions []*model.Execution `json:"executions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pausedResponse); err != nil {
		return nil, fmt.Errorf("failed to decode paused response: %w", err)
	}
	return pausedResponse.Executions, nil
}

// Resume continues a paused execution with the given human response
func (c *EngineClient) Resume(ctx context.Context, executionID, nodeID string, userResponse map[string]any) error {
	c.logger.Info("resuming execution via engine", "execution_id", executionID, "node_id", nodeID)

	body, err := json.Marshal(map[string]any{
		"node_id":       nodeID,
		"user_response": userResponse,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal resume request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/executions/%s/resume", c.baseURL, executionID)
	resp, err := c.http.DoRequest(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to resume execution: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("resume request failed: status=%d, body=%s", resp.StatusCode, string(raw))
	}
	return nil
}

// Cancel aborts a running or paused execution
func (c *EngineClient) Cancel(ctx context.Context, executionID string) error {
	url := fmt.Sprintf("%s/api/v1/executions/%s/cancel", c.baseURL, executionID)
	resp, err := c.http.DoRequest(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to cancel execution: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cancel request failed: status=%d, body=%s", resp.StatusCode, string(raw))
	}
	return nil
}

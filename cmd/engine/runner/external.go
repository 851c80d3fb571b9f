package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/slack-go/slack"
	"github.com/wneessen/go-mail"

	"github.com/weavr-ai/weavr/common/errs"
	"github.com/weavr-ai/weavr/common/model"
)

// SlackActionRunner executes EXTERNAL_ACTION.SLACK: posts a message to a
// chat channel and emits the delivery receipt
type SlackActionRunner struct {
	client *slack.Client
}

// NewSlackActionRunner creates the chat action runner. A nil client means
// no bot token is configured; running the node then fails with a
// remediation hint.
func NewSlackActionRunner(client *slack.Client) *SlackActionRunner {
	return &SlackActionRunner{client: client}
}

// Run posts the configured message
func (r *SlackActionRunner) Run(ctx context.Context, req *Request) (map[string]any, error) {
	if r.client == nil {
		return nil, errs.New(errs.CodeCredentialsMissing, "no chat bot token configured").
			WithSolution("set the bot token in the engine configuration")
	}

	config := req.Node.Configurations
	channel := Interpolate(cfgString(config, "channel", ""), req.Inputs)
	message := Interpolate(cfgString(config, "message", ""), req.Inputs)
	if channel == "" || message == "" {
		return nil, errs.New(errs.CodeInvalidWorkflow, fmt.Sprintf("node %s: channel and message are required", req.Node.ID))
	}

	respChannel, timestamp, err := r.client.PostMessageContext(ctx, channel, slack.MsgOptionText(message, false))
	if err != nil {
		return nil, fmt.Errorf("failed to post chat message: %w", err)
	}

	return map[string]any{model.PortResult: map[string]any{
		"success":   true,
		"channel":   respChannel,
		"timestamp": timestamp,
	}}, nil
}

// EmailActionRunner executes EXTERNAL_ACTION.EMAIL over SMTP
type EmailActionRunner struct {
	client *mail.Client
	from   string
}

// NewEmailActionRunner creates the email action runner
func NewEmailActionRunner(client *mail.Client, from string) *EmailActionRunner {
	return &EmailActionRunner{client: client, from: from}
}

// Run sends the configured email
func (r *EmailActionRunner) Run(ctx context.Context, req *Request) (map[string]any, error) {
	if r.client == nil {
		return nil, errs.New(errs.CodeCredentialsMissing, "no SMTP transport configured").
			WithSolution("set the SMTP host and credentials in the engine configuration")
	}

	config := req.Node.Configurations
	to := Interpolate(cfgString(config, "to", ""), req.Inputs)
	subject := Interpolate(cfgString(config, "subject", ""), req.Inputs)
	body := Interpolate(cfgString(config, "body", ""), req.Inputs)

	msg := mail.NewMsg()
	if err := msg.From(r.from); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, errs.Wrap(errs.CodeInvalidWorkflow, fmt.Sprintf("node %s: invalid recipient", req.Node.ID), err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := r.client.DialAndSendWithContext(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to send email: %w", err)
	}

	return map[string]any{model.PortResult: map[string]any{
		"success": true,
		"to":      to,
		"subject": subject,
	}}, nil
}

// WebhookCallRunner executes EXTERNAL_ACTION.WEBHOOK_CALL: delivers the
// inbound payload to an external URL
type WebhookCallRunner struct {
	client    *http.Client
	validator *URLValidator
}

// NewWebhookCallRunner creates the webhook delivery runner
func NewWebhookCallRunner(client *http.Client, validator *URLValidator) *WebhookCallRunner {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookCallRunner{client: client, validator: validator}
}

// Run delivers the payload
func (r *WebhookCallRunner) Run(ctx context.Context, req *Request) (map[string]any, error) {
	config := req.Node.Configurations
	rawURL := Interpolate(cfgString(config, "url", ""), req.Inputs)
	if err := r.validator.Validate(rawURL); err != nil {
		return nil, fmt.Errorf("webhook url rejected: %w", err)
	}

	payload := req.Inputs[model.PortResult]
	if payload == nil {
		payload = req.Inputs
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	method := cfgString(config, "method", http.MethodPost)
	httpReq, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	return map[string]any{model.PortResult: map[string]any{
		"success":     resp.StatusCode < 400,
		"status_code": resp.StatusCode,
	}}, nil
}

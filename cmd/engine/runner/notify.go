package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/slack-go/slack"
	"github.com/wneessen/go-mail"
)

// Notification is one human-facing message about a paused run
type Notification struct {
	InteractionID string         `json:"interaction_id"`
	ExecutionID   string         `json:"execution_id"`
	WorkflowID    string         `json:"workflow_id"`
	NodeID        string         `json:"node_id"`
	UserID        string         `json:"user_id,omitempty"`
	Kind          string         `json:"kind"` // request, warning, timeout
	Message       string         `json:"message"`
	Recipient     string         `json:"recipient,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

// Notifier delivers a notification over one channel
type Notifier interface {
	Send(ctx context.Context, n *Notification) error
}

// ChannelNotifiers routes notifications by channel type
type ChannelNotifiers struct {
	notifiers map[string]Notifier
	logger    Logger
}

// NewChannelNotifiers creates an empty notifier registry
func NewChannelNotifiers(logger Logger) *ChannelNotifiers {
	return &ChannelNotifiers{
		notifiers: make(map[string]Notifier),
		logger:    logger,
	}
}

// Register binds a notifier to a channel type
func (c *ChannelNotifiers) Register(channelType string, n Notifier) {
	c.notifiers[channelType] = n
}

// Send delivers over the requested channel. An unconfigured channel logs
// and drops rather than failing the pause: the interaction row is already
// persisted and responses can still arrive through the API.
func (c *ChannelNotifiers) Send(ctx context.Context, channelType string, n *Notification) error {
	notifier, exists := c.notifiers[channelType]
	if !exists {
		c.logger.Warn("no notifier for channel, message dropped",
			"channel_type", channelType, "interaction_id", n.InteractionID)
		return nil
	}
	return notifier.Send(ctx, n)
}

// SlackNotifier posts interaction prompts to a chat channel
type SlackNotifier struct {
	client *slack.Client
}

// NewSlackNotifier creates a chat notifier from a bot token
func NewSlackNotifier(botToken string) *SlackNotifier {
	return &SlackNotifier{client: slack.New(botToken)}
}

// Send posts the message to the recipient channel
func (s *SlackNotifier) Send(ctx context.Context, n *Notification) error {
	if n.Recipient == "" {
		return fmt.Errorf("chat notification has no recipient channel")
	}
	_, _, err := s.client.PostMessageContext(ctx, n.Recipient,
		slack.MsgOptionText(n.Message, false),
		slack.MsgOptionAttachments(slack.Attachment{
			Fallback: n.Message,
			Footer:   fmt.Sprintf("interaction %s", n.InteractionID),
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to post chat message: %w", err)
	}
	return nil
}

// EmailNotifier delivers interaction prompts over SMTP
type EmailNotifier struct {
	client *mail.Client
	from   string
}

// NewEmailNotifier creates an email notifier
func NewEmailNotifier(host string, port int, username, password, from string) (*EmailNotifier, error) {
	client, err := mail.NewClient(host,
		mail.WithPort(port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(username),
		mail.WithPassword(password),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}
	return &EmailNotifier{client: client, from: from}, nil
}

// Send mails the message to the recipient address
func (e *EmailNotifier) Send(ctx context.Context, n *Notification) error {
	if n.Recipient == "" {
		return fmt.Errorf("email notification has no recipient address")
	}

	msg := mail.NewMsg()
	if err := msg.From(e.from); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(n.Recipient); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(fmt.Sprintf("Action required: workflow %s", n.WorkflowID))
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf("%s\n\nInteraction: %s", n.Message, n.InteractionID))

	if err := e.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// EventPublisher publishes to a per-user event stream
type EventPublisher interface {
	PublishEvent(ctx context.Context, channel string, payload any) error
}

// InAppNotifier publishes interaction prompts to the user's live event
// channel; connected clients render them in the product UI
type InAppNotifier struct {
	publisher EventPublisher
}

// NewInAppNotifier creates an in-app notifier
func NewInAppNotifier(publisher EventPublisher) *InAppNotifier {
	return &InAppNotifier{publisher: publisher}
}

// Send publishes the notification on workflow:events:{user_id}
func (i *InAppNotifier) Send(ctx context.Context, n *Notification) error {
	userID := n.UserID
	if userID == "" {
		userID = "system"
	}
	channel := fmt.Sprintf("workflow:events:%s", userID)
	if err := i.publisher.PublishEvent(ctx, channel, n); err != nil {
		return fmt.Errorf("failed to publish in-app notification: %w", err)
	}
	return nil
}

// WebhookNotifier delivers interaction prompts to an external callback URL
type WebhookNotifier struct {
	client    *http.Client
	validator *URLValidator
}

// NewWebhookNotifier creates a webhook notifier
func NewWebhookNotifier(client *http.Client, validator *URLValidator) *WebhookNotifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookNotifier{client: client, validator: validator}
}

// Send POSTs the notification to the recipient URL
func (w *WebhookNotifier) Send(ctx context.Context, n *Notification) error {
	if n.Recipient == "" {
		return fmt.Errorf("webhook notification has no recipient URL")
	}
	if err := w.validator.Validate(n.Recipient); err != nil {
		return fmt.Errorf("webhook url rejected: %w", err)
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Recipient, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook delivery failed: status=%d", resp.StatusCode)
	}
	return nil
}

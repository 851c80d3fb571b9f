// Package router turns inbound external events into workflow trigger
// matches. Routing is two-phase: a coarse index lookup on a per-subtype
// key narrows the candidates, then each candidate's trigger config is
// applied as a detailed filter. Routing is pure; starting or resuming
// executions is the caller's concern.
package router

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/weavr-ai/weavr/common/errs"
	"github.com/weavr-ai/weavr/common/model"
)

// IndexStore is the coarse-phase lookup over deployed trigger rows
type IndexStore interface {
	FindActive(ctx context.Context, subtype, indexKey string) ([]*model.TriggerIndexEntry, error)
}

// Logger is the minimal logging surface the router needs
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Router resolves inbound events to trigger matches
type Router struct {
	index  IndexStore
	logger Logger
}

// New creates a router over the given index
func New(index IndexStore, logger Logger) *Router {
	return &Router{index: index, logger: logger}
}

// RouteWebhook matches an inbound HTTP delivery against registered
// webhook triggers. When every key-matched candidate rejects the
// delivery on its signature, the error carries signature_invalid so the
// HTTP layer can answer 401 without routing.
func (r *Router) RouteWebhook(ctx context.Context, path, method string, headers map[string]string, body []byte) ([]model.TriggerMatch, error) {
	key := NormalizePath(path)
	candidates, err := r.index.FindActive(ctx, model.TriggerWebhook, key)
	if err != nil {
		return nil, err
	}

	var (
		matches      []model.TriggerMatch
		sigRejected  int
		sigCandidate int
	)
	for _, entry := range candidates {
		config := entry.TriggerConfig

		methods := stringList(config["allowed_methods"])
		if len(methods) == 0 {
			methods = []string{"POST"}
		}
		if !containsFold(methods, method) {
			continue
		}

		if secret, _ := config["signature_secret"].(string); secret != "" {
			sigCandidate++
			if !VerifySignature(secret, body, headers["X-Signature-256"]) {
				sigRejected++
				r.logger.Warn("webhook signature rejected", "workflow_id", entry.WorkflowID, "path", key)
				continue
			}
		}

		payload := parsePayload(body)
		payload["path"] = key
		payload["method"] = strings.ToUpper(method)
		matches = append(matches, match(entry, payload))
	}

	if len(matches) == 0 && sigCandidate > 0 && sigRejected == sigCandidate {
		return nil, errs.New(errs.CodeSignatureInvalid, "webhook signature verification failed").
			WithDetail("path", key)
	}
	return matches, nil
}

// RouteSlack matches a chat workspace event
func (r *Router) RouteSlack(ctx context.Context, body []byte) ([]model.TriggerMatch, error) {
	workspace := gjson.GetBytes(body, "team_id").String()
	if workspace == "" {
		return nil, nil
	}
	candidates, err := r.index.FindActive(ctx, model.TriggerSlack, workspace)
	if err != nil {
		return nil, err
	}

	eventType := gjson.GetBytes(body, "event.type").String()
	channel := gjson.GetBytes(body, "event.channel").String()
	user := gjson.GetBytes(body, "event.user").String()
	text := gjson.GetBytes(body, "event.text").String()
	fromBot := gjson.GetBytes(body, "event.bot_id").String() != ""

	var matches []model.TriggerMatch
	for _, entry := range candidates {
		config := entry.TriggerConfig

		eventTypes := stringList(config["event_types"])
		if len(eventTypes) == 0 {
			eventTypes = []string{"message"}
		}
		if !contains(eventTypes, eventType) {
			continue
		}
		if channels := stringList(config["channels"]); len(channels) > 0 && !contains(channels, channel) {
			continue
		}
		if users := stringList(config["users"]); len(users) > 0 && !contains(users, user) {
			continue
		}
		if boolConfig(config, "mention_required", false) && !strings.Contains(text, "<@") {
			continue
		}
		if boolConfig(config, "ignore_bots", true) && fromBot {
			continue
		}

		matches = append(matches, match(entry, parsePayload(body)))
	}
	return matches, nil
}

// RouteEmail matches an inbound mail event
func (r *Router) RouteEmail(ctx context.Context, body []byte) ([]model.TriggerMatch, error) {
	address := strings.ToLower(gjson.GetBytes(body, "to").String())
	if address == "" {
		return nil, nil
	}
	candidates, err := r.index.FindActive(ctx, model.TriggerEmail, address)
	if err != nil {
		return nil, err
	}

	sender := gjson.GetBytes(body, "from").String()
	subject := gjson.GetBytes(body, "subject").String()
	mailBody := gjson.GetBytes(body, "body").String()
	folder := gjson.GetBytes(body, "folder").String()
	if folder == "" {
		folder = "INBOX"
	}
	attachments := int(gjson.GetBytes(body, "attachments.#").Int())

	var matches []model.TriggerMatch
	for _, entry := range candidates {
		config := entry.TriggerConfig

		wantFolder, _ := config["folder"].(string)
		if wantFolder == "" {
			wantFolder = "INBOX"
		}
		if !strings.EqualFold(wantFolder, folder) {
			continue
		}
		if !matchPattern(config, "sender_pattern", sender) {
			continue
		}
		if !matchPattern(config, "subject_pattern", subject) {
			continue
		}
		if !matchPattern(config, "body_pattern", mailBody) {
			continue
		}
		policy, _ := config["attachment_policy"].(string)
		switch policy {
		case "required":
			if attachments == 0 {
				continue
			}
		case "none":
			if attachments > 0 {
				continue
			}
		}

		matches = append(matches, match(entry, parsePayload(body)))
	}
	return matches, nil
}

// RouteGithub matches a source-control repository event. A configured
// webhook secret is verified against X-Hub-Signature-256 before any
// detail filter runs; an all-candidates signature failure surfaces as
// signature_invalid for a 401 response.
func (r *Router) RouteGithub(ctx context.Context, eventType, deliveryID, signature string, body []byte) ([]model.TriggerMatch, error) {
	repo := strings.ToLower(gjson.GetBytes(body, "repository.full_name").String())
	if repo == "" {
		return nil, nil
	}
	candidates, err := r.index.FindActive(ctx, model.TriggerGithub, repo)
	if err != nil {
		return nil, err
	}

	branch := eventBranch(body)
	action := gjson.GetBytes(body, "action").String()
	author := gjson.GetBytes(body, "sender.login").String()
	files := changedFiles(body)
	labels := prLabels(body)

	var (
		matches      []model.TriggerMatch
		sigRejected  int
		sigCandidate int
	)
	for _, entry := range candidates {
		config := entry.TriggerConfig

		if secret, _ := config["webhook_secret"].(string); secret != "" {
			sigCandidate++
			if !VerifySignature(secret, body, signature) {
				sigRejected++
				r.logger.Warn("repository event signature rejected", "workflow_id", entry.WorkflowID, "repository", repo)
				continue
			}
		}

		events := stringList(config["events"])
		if len(events) == 0 {
			events = []string{"push"}
		}
		if !contains(events, eventType) {
			continue
		}
		if branches := stringList(config["branches"]); len(branches) > 0 && !anyGlob(branches, branch) {
			continue
		}
		if paths := stringList(config["paths"]); len(paths) > 0 && !anyFileMatches(paths, files) {
			continue
		}
		if actions := stringList(config["actions"]); len(actions) > 0 && !contains(actions, action) {
			continue
		}
		if !matchPattern(config, "author_pattern", author) {
			continue
		}
		if want := stringList(config["labels"]); len(want) > 0 && !intersects(want, labels) {
			continue
		}

		payload := parsePayload(body)
		payload["event_type"] = eventType
		payload["delivery_id"] = deliveryID
		matches = append(matches, match(entry, payload))
	}

	if len(matches) == 0 && sigCandidate > 0 && sigRejected == sigCandidate {
		return nil, errs.New(errs.CodeSignatureInvalid, "repository event signature verification failed").
			WithDetail("repository", repo)
	}
	return matches, nil
}

// RouteCalendar matches a calendar event
func (r *Router) RouteCalendar(ctx context.Context, body []byte) ([]model.TriggerMatch, error) {
	calendar := gjson.GetBytes(body, "calendar_id").String()
	if calendar == "" {
		calendar = "primary"
	}
	candidates, err := r.index.FindActive(ctx, model.TriggerGoogleCalendar, calendar)
	if err != nil {
		return nil, err
	}

	category := gjson.GetBytes(body, "category").String()

	var matches []model.TriggerMatch
	for _, entry := range candidates {
		config := entry.TriggerConfig
		if categories := stringList(config["event_categories"]); len(categories) > 0 && !contains(categories, category) {
			continue
		}
		matches = append(matches, match(entry, parsePayload(body)))
	}
	return matches, nil
}

// NormalizePath strips a trailing slash and guarantees a leading one
func NormalizePath(path string) string {
	return "/" + strings.Trim(path, "/")
}

func match(entry *model.TriggerIndexEntry, payload map[string]any) model.TriggerMatch {
	return model.TriggerMatch{
		WorkflowID:     entry.WorkflowID,
		TriggerSubtype: entry.TriggerSubtype,
		Payload:        payload,
	}
}

// eventBranch extracts the branch for push (refs/heads/...) and
// pull-request events
func eventBranch(body []byte) string {
	if ref := gjson.GetBytes(body, "ref").String(); ref != "" {
		return strings.TrimPrefix(ref, "refs/heads/")
	}
	return gjson.GetBytes(body, "pull_request.head.ref").String()
}

// changedFiles flattens the added/modified/removed lists of every commit
func changedFiles(body []byte) []string {
	var files []string
	for _, commit := range gjson.GetBytes(body, "commits").Array() {
		for _, bucket := range []string{"added", "modified", "removed"} {
			for _, f := range commit.Get(bucket).Array() {
				files = append(files, f.String())
			}
		}
	}
	return files
}

func prLabels(body []byte) []string {
	var labels []string
	for _, l := range gjson.GetBytes(body, "pull_request.labels.#.name").Array() {
		labels = append(labels, l.String())
	}
	return labels
}

func parsePayload(body []byte) map[string]any {
	parsed, ok := gjson.ParseBytes(body).Value().(map[string]any)
	if !ok {
		return map[string]any{"raw": string(body)}
	}
	return parsed
}

func anyFileMatches(globs, files []string) bool {
	for _, f := range files {
		if anyGlob(globs, f) {
			return true
		}
	}
	return false
}

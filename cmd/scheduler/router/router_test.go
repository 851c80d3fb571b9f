package router

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavr-ai/weavr/common/errs"
	"github.com/weavr-ai/weavr/common/model"
)

type nopLog struct{}

func (nopLog) Debug(msg string, args ...any) {}
func (nopLog) Warn(msg string, args ...any)  {}

type fakeIndex struct {
	entries []*model.TriggerIndexEntry
	lookups int
}

func (f *fakeIndex) FindActive(ctx context.Context, subtype, indexKey string) ([]*model.TriggerIndexEntry, error) {
	f.lookups++
	var out []*model.TriggerIndexEntry
	for _, e := range f.entries {
		if e.TriggerSubtype == subtype && e.IndexKey == indexKey {
			out = append(out, e)
		}
	}
	return out, nil
}

func entry(workflowID, subtype, key string, config map[string]any) *model.TriggerIndexEntry {
	if config == nil {
		config = map[string]any{}
	}
	return &model.TriggerIndexEntry{
		ID:               workflowID + "-trigger",
		WorkflowID:       workflowID,
		TriggerSubtype:   subtype,
		TriggerConfig:    config,
		IndexKey:         key,
		DeploymentStatus: model.TriggerIndexActive,
	}
}

func newRouter(entries ...*model.TriggerIndexEntry) (*Router, *fakeIndex) {
	idx := &fakeIndex{entries: entries}
	return New(idx, nopLog{}), idx
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func workflowIDs(matches []model.TriggerMatch) []string {
	var ids []string
	for _, m := range matches {
		ids = append(ids, m.WorkflowID)
	}
	return ids
}

func TestRouteWebhook_MethodAllowList(t *testing.T) {
	r, _ := newRouter(
		entry("wf-post", model.TriggerWebhook, "/hooks/ci", nil), // defaults to POST
		entry("wf-put", model.TriggerWebhook, "/hooks/ci", map[string]any{"allowed_methods": []any{"PUT"}}),
	)

	matches, err := r.RouteWebhook(context.Background(), "hooks/ci", "POST", nil, []byte(`{"build":"ok"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-post"}, workflowIDs(matches))

	matches, err = r.RouteWebhook(context.Background(), "/hooks/ci/", "PUT", nil, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-put"}, workflowIDs(matches))
}

func TestRouteWebhook_PayloadCarriesPathAndMethod(t *testing.T) {
	r, _ := newRouter(entry("wf-1", model.TriggerWebhook, "/hooks/ci", nil))

	matches, err := r.RouteWebhook(context.Background(), "/hooks/ci", "POST", nil, []byte(`{"build":"ok"}`))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	assert.Equal(t, "ok", matches[0].Payload["build"])
	assert.Equal(t, "/hooks/ci", matches[0].Payload["path"])
	assert.Equal(t, "POST", matches[0].Payload["method"])
}

func TestRouteWebhook_SignatureVerification(t *testing.T) {
	body := []byte(`{"build":"ok"}`)
	r, _ := newRouter(entry("wf-1", model.TriggerWebhook, "/hooks/ci",
		map[string]any{"signature_secret": "s3cret"}))

	matches, err := r.RouteWebhook(context.Background(), "/hooks/ci", "POST",
		map[string]string{"X-Signature-256": sign("s3cret", body)}, body)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	_, err = r.RouteWebhook(context.Background(), "/hooks/ci", "POST",
		map[string]string{"X-Signature-256": sign("wrong", body)}, body)
	require.Error(t, err)
	assert.Equal(t, errs.CodeSignatureInvalid, errs.Code(err))

	_, err = r.RouteWebhook(context.Background(), "/hooks/ci", "POST", map[string]string{}, body)
	require.Error(t, err)
	assert.Equal(t, errs.CodeSignatureInvalid, errs.Code(err))
}

func TestRouteSlack_DetailFilters(t *testing.T) {
	event := []byte(`{
		"team_id": "T0123",
		"event": {"type": "message", "channel": "C-approvals", "user": "U42", "text": "ship it"}
	}`)

	tests := []struct {
		name   string
		config map[string]any
		match  bool
	}{
		{"no filters match", nil, true},
		{"channel included", map[string]any{"channels": []any{"C-approvals"}}, true},
		{"channel excluded", map[string]any{"channels": []any{"C-other"}}, false},
		{"user included", map[string]any{"users": []any{"U42"}}, true},
		{"user excluded", map[string]any{"users": []any{"U1"}}, false},
		{"event type mismatch", map[string]any{"event_types": []any{"reaction_added"}}, false},
		{"mention required but absent", map[string]any{"mention_required": true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newRouter(entry("wf-1", model.TriggerSlack, "T0123", tt.config))
			matches, err := r.RouteSlack(context.Background(), event)
			require.NoError(t, err)
			assert.Equal(t, tt.match, len(matches) == 1)
		})
	}
}

func TestRouteSlack_IgnoresBotsByDefault(t *testing.T) {
	botEvent := []byte(`{
		"team_id": "T0123",
		"event": {"type": "message", "channel": "C1", "bot_id": "B99", "text": "automated"}
	}`)

	r, _ := newRouter(entry("wf-1", model.TriggerSlack, "T0123", nil))
	matches, err := r.RouteSlack(context.Background(), botEvent)
	require.NoError(t, err)
	assert.Empty(t, matches)

	r, _ = newRouter(entry("wf-1", model.TriggerSlack, "T0123", map[string]any{"ignore_bots": false}))
	matches, err = r.RouteSlack(context.Background(), botEvent)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRouteSlack_MentionSatisfied(t *testing.T) {
	event := []byte(`{
		"team_id": "T0123",
		"event": {"type": "message", "channel": "C1", "user": "U1", "text": "<@UBOT> deploy please"}
	}`)

	r, _ := newRouter(entry("wf-1", model.TriggerSlack, "T0123", map[string]any{"mention_required": true}))
	matches, err := r.RouteSlack(context.Background(), event)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRouteGithub_DetailFilters(t *testing.T) {
	push := []byte(`{
		"ref": "refs/heads/main",
		"repository": {"full_name": "weavr-ai/weavr"},
		"sender": {"login": "octocat"},
		"commits": [{"added": ["docs/readme.md"], "modified": ["src/api/server.go"], "removed": []}]
	}`)

	tests := []struct {
		name      string
		eventType string
		config    map[string]any
		match     bool
	}{
		{"default event is push", "push", nil, true},
		{"event excluded", "issues", nil, false},
		{"branch glob match", "push", map[string]any{"branches": []any{"main", "release/*"}}, true},
		{"branch glob mismatch", "push", map[string]any{"branches": []any{"release/*"}}, false},
		{"path glob spans segments", "push", map[string]any{"paths": []any{"src/**/*.go"}}, true},
		{"path glob mismatch", "push", map[string]any{"paths": []any{"infra/**"}}, false},
		{"author regex match", "push", map[string]any{"author_pattern": "^octo"}, true},
		{"author regex mismatch", "push", map[string]any{"author_pattern": "^dependabot"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newRouter(entry("wf-1", model.TriggerGithub, "weavr-ai/weavr", tt.config))
			matches, err := r.RouteGithub(context.Background(), tt.eventType, "d-1", "", push)
			require.NoError(t, err)
			assert.Equal(t, tt.match, len(matches) == 1)
		})
	}
}

func TestRouteGithub_PullRequestLabelsAndAction(t *testing.T) {
	pr := []byte(`{
		"action": "labeled",
		"repository": {"full_name": "weavr-ai/weavr"},
		"sender": {"login": "octocat"},
		"pull_request": {
			"head": {"ref": "feature/routing"},
			"labels": [{"name": "deploy"}, {"name": "backend"}]
		}
	}`)

	config := map[string]any{
		"events":  []any{"pull_request"},
		"actions": []any{"labeled"},
		"labels":  []any{"deploy"},
	}
	r, _ := newRouter(entry("wf-1", model.TriggerGithub, "weavr-ai/weavr", config))

	matches, err := r.RouteGithub(context.Background(), "pull_request", "d-2", "", pr)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "pull_request", matches[0].Payload["event_type"])
	assert.Equal(t, "d-2", matches[0].Payload["delivery_id"])

	config["labels"] = []any{"frontend"}
	matches, err = r.RouteGithub(context.Background(), "pull_request", "d-3", "", pr)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRouteGithub_SignatureVerification(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main","repository":{"full_name":"weavr-ai/weavr"},"sender":{"login":"octocat"}}`)
	r, _ := newRouter(entry("wf-1", model.TriggerGithub, "weavr-ai/weavr",
		map[string]any{"webhook_secret": "hub-secret"}))

	matches, err := r.RouteGithub(context.Background(), "push", "d-1", sign("hub-secret", body), body)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	_, err = r.RouteGithub(context.Background(), "push", "d-1", sign("wrong", body), body)
	require.Error(t, err)
	assert.Equal(t, errs.CodeSignatureInvalid, errs.Code(err))
}

func TestRouteEmail_DetailFilters(t *testing.T) {
	mail := []byte(`{
		"to": "Ops@Example.com",
		"from": "alerts@vendor.io",
		"subject": "[ALERT] disk usage",
		"body": "usage at 91%",
		"attachments": [{"name": "report.csv"}]
	}`)

	tests := []struct {
		name   string
		config map[string]any
		match  bool
	}{
		{"no filters match", nil, true},
		{"sender regex match", map[string]any{"sender_pattern": "@vendor\\.io$"}, true},
		{"sender regex mismatch", map[string]any{"sender_pattern": "@other\\.io$"}, false},
		{"subject regex match", map[string]any{"subject_pattern": `^\[ALERT\]`}, true},
		{"subject regex mismatch", map[string]any{"subject_pattern": "^Invoice"}, false},
		{"attachment required satisfied", map[string]any{"attachment_policy": "required"}, true},
		{"attachment forbidden", map[string]any{"attachment_policy": "none"}, false},
		{"folder mismatch", map[string]any{"folder": "Archive"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newRouter(entry("wf-1", model.TriggerEmail, "ops@example.com", tt.config))
			matches, err := r.RouteEmail(context.Background(), mail)
			require.NoError(t, err)
			assert.Equal(t, tt.match, len(matches) == 1)
		})
	}
}

func TestRouteCalendar_CategoryFilter(t *testing.T) {
	event := []byte(`{"calendar_id": "team-cal", "category": "standup"}`)

	r, _ := newRouter(entry("wf-1", model.TriggerGoogleCalendar, "team-cal",
		map[string]any{"event_categories": []any{"standup", "review"}}))
	matches, err := r.RouteCalendar(context.Background(), event)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	r, _ = newRouter(entry("wf-1", model.TriggerGoogleCalendar, "team-cal",
		map[string]any{"event_categories": []any{"review"}}))
	matches, err = r.RouteCalendar(context.Background(), event)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRoute_IsPureAndRepeatable(t *testing.T) {
	event := []byte(`{
		"team_id": "T0123",
		"event": {"type": "message", "channel": "C1", "user": "U1", "text": "hello"}
	}`)
	r, idx := newRouter(entry("wf-1", model.TriggerSlack, "T0123", nil))

	first, err := r.RouteSlack(context.Background(), event)
	require.NoError(t, err)
	second, err := r.RouteSlack(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, idx.lookups) // one coarse lookup per call, nothing else
}

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern string
		value   string
		want    bool
	}{
		{"main", "main", true},
		{"release/*", "release/1.2", true},
		{"release/*", "release/1.2/hotfix", false},
		{"src/**", "src/a/b/c.go", true},
		{"src/**/*.go", "src/a/b/c.go", true},
		{"src/**/*.go", "src/c.go", true},
		{"src/**/*.go", "docs/c.go", false},
		{"**/*.md", "deep/nested/readme.md", true},
		{"*.md", "deep/readme.md", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, globMatch(tt.pattern, tt.value), "%s vs %s", tt.pattern, tt.value)
	}
}

package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavr-ai/weavr/common/model"
)

type nopLogger struct{}

func (nopLogger) Warn(msg string, args ...any) {}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry(nopLogger{})

	tests := []struct {
		name    string
		typ     model.NodeType
		subtype string
		found   bool
	}{
		{"action http", model.NodeTypeAction, "HTTP_REQUEST", true},
		{"flow if", model.NodeTypeFlow, "IF", true},
		{"trigger cron", model.NodeTypeTrigger, model.TriggerCron, true},
		{"hil approval", model.NodeTypeHumanInLoop, "APPROVAL", true},
		{"legacy suffix stripped", model.NodeType("ACTION_NODE"), "HTTP_REQUEST", true},
		{"unknown subtype", model.NodeTypeAction, "FTP_UPLOAD", false},
		{"unknown type", model.NodeType("WIDGET"), "HTTP_REQUEST", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ok := r.Lookup(tt.typ, tt.subtype)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				require.NotNil(t, s)
				assert.Equal(t, tt.subtype, s.Subtype)
			}
		})
	}
}

func TestRegistry_CatalogCoversTriggerSubtypes(t *testing.T) {
	r := NewRegistry(nopLogger{})
	for _, subtype := range []string{
		model.TriggerManual, model.TriggerCron, model.TriggerWebhook,
		model.TriggerSlack, model.TriggerEmail, model.TriggerGithub,
		model.TriggerGoogleCalendar,
	} {
		_, ok := r.Lookup(model.NodeTypeTrigger, subtype)
		assert.True(t, ok, "missing trigger spec: %s", subtype)
	}
}

func TestRegistry_Validate(t *testing.T) {
	r := NewRegistry(nopLogger{})

	t.Run("unknown pair", func(t *testing.T) {
		errs := r.Validate(&model.Node{ID: "n1", Type: model.NodeTypeAction, Subtype: "NOPE"})
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Error(), "unknown node spec")
	})

	t.Run("missing required", func(t *testing.T) {
		errs := r.Validate(&model.Node{
			ID:      "n1",
			Type:    model.NodeTypeAction,
			Subtype: "HTTP_REQUEST",
		})
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Error(), `"url"`)
	})

	t.Run("valid node", func(t *testing.T) {
		errs := r.Validate(&model.Node{
			ID:      "n1",
			Type:    model.NodeTypeAction,
			Subtype: "HTTP_REQUEST",
			Configurations: map[string]any{
				"url":    "https://api.example.com/v1/items",
				"method": "POST",
			},
		})
		assert.Empty(t, errs)
	})

	t.Run("enum violation", func(t *testing.T) {
		errs := r.Validate(&model.Node{
			ID:      "n1",
			Type:    model.NodeTypeAction,
			Subtype: "HTTP_REQUEST",
			Configurations: map[string]any{
				"url":    "https://api.example.com",
				"method": "TELEPORT",
			},
		})
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Error(), "not one of")
	})

	t.Run("hil timeout below minimum", func(t *testing.T) {
		errs := r.Validate(&model.Node{
			ID:      "approve",
			Type:    model.NodeTypeHumanInLoop,
			Subtype: "APPROVAL",
			Configurations: map[string]any{
				"message":         "approve this",
				"timeout_seconds": float64(30),
			},
		})
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Error(), "below minimum")
	})

	t.Run("hil timeout above maximum", func(t *testing.T) {
		errs := r.Validate(&model.Node{
			ID:      "approve",
			Type:    model.NodeTypeHumanInLoop,
			Subtype: "APPROVAL",
			Configurations: map[string]any{
				"message":         "approve this",
				"timeout_seconds": float64(100000),
			},
		})
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Error(), "above maximum")
	})

	t.Run("repository pattern", func(t *testing.T) {
		errs := r.Validate(&model.Node{
			ID:      "gh",
			Type:    model.NodeTypeTrigger,
			Subtype: model.TriggerGithub,
			Configurations: map[string]any{
				"repository": "not a repo",
			},
		})
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Error(), "does not match")
	})

	t.Run("collects multiple violations", func(t *testing.T) {
		errs := r.Validate(&model.Node{
			ID:      "agent",
			Type:    model.NodeTypeAIAgent,
			Subtype: "OPENAI_CHATGPT",
			Configurations: map[string]any{
				"temperature": float64(5),
				"max_tokens":  float64(0),
			},
		})
		assert.Len(t, errs, 3)
	})
}

func TestRegistry_Normalize(t *testing.T) {
	r := NewRegistry(nopLogger{})

	node := &model.Node{
		ID:      "agent",
		Type:    model.NodeTypeAIAgent,
		Subtype: "OPENAI_CHATGPT",
		Configurations: map[string]any{
			"system_prompt": "you are helpful",
			"temperature":   float64(0.1),
		},
	}
	out := r.Normalize(node)

	assert.Equal(t, "gpt-4o", out.Configurations["model"])
	assert.Equal(t, float64(0.1), out.Configurations["temperature"], "explicit value wins over default")
	assert.Equal(t, float64(2048), out.Configurations["max_tokens"])

	_, present := node.Configurations["model"]
	assert.False(t, present, "input node must not be mutated")
}

func TestRegistry_Normalize_UnknownPairUntouched(t *testing.T) {
	r := NewRegistry(nopLogger{})
	node := &model.Node{ID: "x", Type: model.NodeTypeAction, Subtype: "NOPE"}
	assert.Same(t, node, r.Normalize(node))
}

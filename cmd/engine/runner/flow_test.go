package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavr-ai/weavr/common/model"
)

type stubEvaluator struct {
	result bool
	err    error
	expr   string
}

func (s *stubEvaluator) EvaluateCondition(ctx context.Context, expr string, input any, trigger map[string]any) (bool, error) {
	s.expr = expr
	return s.result, s.err
}

func flowNode(subtype string, config map[string]any) *model.Node {
	return &model.Node{ID: "n1", Name: "n1", Type: model.NodeTypeFlow, Subtype: subtype, Configurations: config}
}

func TestIfRunner_RoutesToExactlyOnePort(t *testing.T) {
	tests := []struct {
		name     string
		result   bool
		wantPort string
		skipPort string
	}{
		{"condition true", true, model.PortTrue, model.PortFalse},
		{"condition false", false, model.PortFalse, model.PortTrue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := &stubEvaluator{result: tt.result}
			r := NewIfRunner(eval)

			out, err := r.Run(context.Background(), &Request{
				Node:   flowNode("IF", map[string]any{"condition_expression": "input.amount > 100.0"}),
				Inputs: map[string]any{model.PortResult: map[string]any{"amount": 250.0}},
			})
			require.NoError(t, err)

			assert.Contains(t, out, tt.wantPort)
			assert.NotContains(t, out, tt.skipPort)
			assert.Equal(t, map[string]any{"amount": 250.0}, out[tt.wantPort])
			assert.Equal(t, "input.amount > 100.0", eval.expr)
		})
	}
}

func TestIfRunner_MissingExpressionRejected(t *testing.T) {
	r := NewIfRunner(&stubEvaluator{})
	_, err := r.Run(context.Background(), &Request{Node: flowNode("IF", nil), Inputs: map[string]any{}})
	require.Error(t, err)
}

func TestMergeRunner_Strategies(t *testing.T) {
	inputs := map[string]any{
		"result":       map[string]any{"a": 1.0},
		"result:other": map[string]any{"b": 2.0},
	}

	t.Run("combine", func(t *testing.T) {
		r := NewMergeRunner()
		out, err := r.Run(context.Background(), &Request{
			Node:   flowNode("MERGE", map[string]any{"merge_strategy": "combine"}),
			Inputs: inputs,
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0}, out[model.PortResult])
	})

	t.Run("append", func(t *testing.T) {
		r := NewMergeRunner()
		out, err := r.Run(context.Background(), &Request{
			Node:   flowNode("MERGE", map[string]any{"merge_strategy": "append"}),
			Inputs: inputs,
		})
		require.NoError(t, err)
		result := out[model.PortResult].(map[string]any)
		assert.Len(t, result["items"], 2)
	})

	t.Run("first", func(t *testing.T) {
		r := NewMergeRunner()
		out, err := r.Run(context.Background(), &Request{
			Node:   flowNode("MERGE", map[string]any{"merge_strategy": "first"}),
			Inputs: inputs,
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": 1.0}, out[model.PortResult])
	})

	t.Run("unknown strategy", func(t *testing.T) {
		r := NewMergeRunner()
		_, err := r.Run(context.Background(), &Request{
			Node:   flowNode("MERGE", map[string]any{"merge_strategy": "zip"}),
			Inputs: inputs,
		})
		require.Error(t, err)
	})
}

func TestForEachRunner_EmitsIteration(t *testing.T) {
	r := NewForEachRunner()

	out, err := r.Run(context.Background(), &Request{
		Node: flowNode("FOR_EACH", map[string]any{"input_field": "items"}),
		Inputs: map[string]any{
			"items": []any{"a", "b", "c"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []any{"a", "b", "c"}, out[model.PortIteration])
	assert.Equal(t, map[string]any{"count": 3}, out[model.PortResult])
}

func TestForEachRunner_NestedField(t *testing.T) {
	r := NewForEachRunner()

	out, err := r.Run(context.Background(), &Request{
		Node: flowNode("FOR_EACH", map[string]any{"input_field": "users"}),
		Inputs: map[string]any{
			model.PortResult: map[string]any{"users": []any{"x", "y"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y"}, out[model.PortIteration])
}

func TestForEachRunner_NonSequenceRejected(t *testing.T) {
	r := NewForEachRunner()

	_, err := r.Run(context.Background(), &Request{
		Node:   flowNode("FOR_EACH", nil),
		Inputs: map[string]any{"items": "not a list"},
	})
	require.Error(t, err)
}

func TestDelayRunner_EmitsControlKey(t *testing.T) {
	r := NewDelayRunner()

	out, err := r.Run(context.Background(), &Request{
		Node:   flowNode("DELAY", map[string]any{"delay_ms": float64(1500)}),
		Inputs: map[string]any{model.PortResult: map[string]any{"x": 1.0}},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1500), out[KeyDelayMS])
	assert.Equal(t, map[string]any{"x": 1.0}, out[model.PortResult])
}

func TestWaitRunner_EmitsControlKey(t *testing.T) {
	r := NewWaitRunner()

	out, err := r.Run(context.Background(), &Request{
		Node:   flowNode("WAIT", nil),
		Inputs: map[string]any{model.PortResult: map[string]any{}},
	})
	require.NoError(t, err)
	assert.Equal(t, true, out[KeyWait])
}

func TestStripControlKeys(t *testing.T) {
	out := StripControlKeys(map[string]any{
		"_hil_wait": true,
		"result":    map[string]any{"ok": true},
	})
	assert.Equal(t, map[string]any{"result": map[string]any{"ok": true}}, out)
}

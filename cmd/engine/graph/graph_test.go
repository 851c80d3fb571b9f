package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavr-ai/weavr/common/errs"
	"github.com/weavr-ai/weavr/common/model"
)

func node(id string, typ model.NodeType, subtype string) *model.Node {
	return &model.Node{ID: id, Name: id, Type: typ, Subtype: subtype}
}

func conn(from, to string) *model.Connection {
	return &model.Connection{FromNode: from, ToNode: to}
}

func linearWorkflow() *model.Workflow {
	return &model.Workflow{
		ID:      "wf-linear",
		Version: 1,
		Nodes: []*model.Node{
			node("start", model.NodeTypeTrigger, model.TriggerManual),
			node("fetch", model.NodeTypeAction, "HTTP_REQUEST"),
			node("notify", model.NodeTypeExternalAction, "SLACK"),
		},
		Connections: []*model.Connection{
			conn("start", "fetch"),
			conn("fetch", "notify"),
		},
		Triggers: []string{"start"},
	}
}

func TestBuild_LinearOrder(t *testing.T) {
	g, err := Build(linearWorkflow())
	require.NoError(t, err)

	assert.Equal(t, []string{"start", "fetch", "notify"}, g.Order)
	assert.True(t, g.Vertex("notify").IsTerminal)
	assert.False(t, g.Vertex("fetch").IsTerminal)

	entries := g.Entry()
	require.Len(t, entries, 1)
	assert.Equal(t, "start", entries[0].Node.ID)
}

func TestBuild_DiamondJoinWaitsForAll(t *testing.T) {
	w := &model.Workflow{
		ID:      "wf-diamond",
		Version: 1,
		Nodes: []*model.Node{
			node("start", model.NodeTypeTrigger, model.TriggerManual),
			node("left", model.NodeTypeAction, "HTTP_REQUEST"),
			node("right", model.NodeTypeAction, "HTTP_REQUEST"),
			node("join", model.NodeTypeFlow, "MERGE"),
		},
		Connections: []*model.Connection{
			conn("start", "left"),
			conn("start", "right"),
			conn("left", "join"),
			conn("right", "join"),
		},
		Triggers: []string{"start"},
	}

	g, err := Build(w)
	require.NoError(t, err)

	join := g.Vertex("join")
	assert.True(t, join.WaitForAll)
	assert.ElementsMatch(t, []string{"left", "right"}, join.Dependencies)

	// join sorts after both branches
	pos := make(map[string]int)
	for i, id := range g.Order {
		pos[id] = i
	}
	assert.Greater(t, pos["join"], pos["left"])
	assert.Greater(t, pos["join"], pos["right"])
}

func TestBuild_CycleRejected(t *testing.T) {
	w := &model.Workflow{
		ID:      "wf-cycle",
		Version: 1,
		Nodes: []*model.Node{
			node("start", model.NodeTypeTrigger, model.TriggerManual),
			node("a", model.NodeTypeAction, "HTTP_REQUEST"),
			node("b", model.NodeTypeAction, "HTTP_REQUEST"),
		},
		Connections: []*model.Connection{
			conn("start", "a"),
			conn("a", "b"),
			conn("b", "a"),
		},
		Triggers: []string{"start"},
	}

	_, err := Build(w)
	require.Error(t, err)
	assert.Equal(t, errs.CodeCycle, errs.Code(err))
}

func TestBuild_AttachedNodesAreNotVertices(t *testing.T) {
	agent := node("agent", model.NodeTypeAIAgent, "OPENAI_CHATGPT")
	agent.AttachedNodes = []string{"search", "memory"}

	w := &model.Workflow{
		ID:      "wf-agent",
		Version: 1,
		Nodes: []*model.Node{
			node("start", model.NodeTypeTrigger, model.TriggerManual),
			agent,
			node("search", model.NodeTypeTool, "HTTP"),
			node("memory", model.NodeTypeMemory, "CONVERSATION_BUFFER"),
		},
		Connections: []*model.Connection{
			conn("start", "agent"),
		},
		Triggers: []string{"start"},
	}

	g, err := Build(w)
	require.NoError(t, err)

	assert.Nil(t, g.Vertex("search"))
	assert.Nil(t, g.Vertex("memory"))
	assert.Equal(t, []string{"start", "agent"}, g.Order)
}

func TestBuild_ConnectionToAttachedNodeRejected(t *testing.T) {
	agent := node("agent", model.NodeTypeAIAgent, "OPENAI_CHATGPT")
	agent.AttachedNodes = []string{"search"}

	w := &model.Workflow{
		ID:      "wf-bad",
		Version: 1,
		Nodes: []*model.Node{
			node("start", model.NodeTypeTrigger, model.TriggerManual),
			agent,
			node("search", model.NodeTypeTool, "HTTP"),
		},
		Connections: []*model.Connection{
			conn("start", "agent"),
			conn("start", "search"),
		},
		Triggers: []string{"start"},
	}

	_, err := Build(w)
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidWorkflow, errs.Code(err))
}

func TestReadiness_SkipCascade(t *testing.T) {
	w := &model.Workflow{
		ID:      "wf-branch",
		Version: 1,
		Nodes: []*model.Node{
			node("start", model.NodeTypeTrigger, model.TriggerManual),
			node("gate", model.NodeTypeFlow, "IF"),
			node("yes", model.NodeTypeAction, "HTTP_REQUEST"),
			node("no", model.NodeTypeAction, "HTTP_REQUEST"),
			node("after", model.NodeTypeFlow, "MERGE"),
		},
		Connections: []*model.Connection{
			conn("start", "gate"),
			{FromNode: "gate", ToNode: "yes", OutputKey: model.PortTrue},
			{FromNode: "gate", ToNode: "no", OutputKey: model.PortFalse},
			conn("yes", "after"),
			conn("no", "after"),
		},
		Triggers: []string{"start"},
	}

	g, err := Build(w)
	require.NoError(t, err)

	executed := map[string]bool{"start": true, "gate": true, "yes": true}
	skipped := map[string]bool{"no": true}

	ready, skip := g.Readiness("after", executed, skipped)
	assert.True(t, ready)
	assert.False(t, skip, "one live branch keeps the join alive")

	ready, skip = g.Readiness("after", map[string]bool{"start": true, "gate": true}, map[string]bool{"yes": true, "no": true})
	assert.True(t, ready)
	assert.True(t, skip, "all branches skipped skips the join")

	ready, _ = g.Readiness("after", map[string]bool{"yes": true}, nil)
	assert.False(t, ready, "merge waits for every inbound branch")
}

func TestDescendants(t *testing.T) {
	g, err := Build(linearWorkflow())
	require.NoError(t, err)

	desc := g.Descendants("start")
	assert.Equal(t, map[string]bool{"fetch": true, "notify": true}, desc)
	assert.Empty(t, g.Descendants("notify"))
}

package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavr-ai/weavr/common/errs"
	"github.com/weavr-ai/weavr/common/model"
	"github.com/weavr-ai/weavr/common/spec"
)

type warnLog struct{}

func (warnLog) Warn(msg string, args ...any) {}

func newWorkflowService() (*WorkflowService, *memWorkflows) {
	store := &memWorkflows{byID: make(map[string]*model.Workflow)}
	return NewWorkflowService(store, spec.NewRegistry(warnLog{})), store
}

func validWorkflow() *model.Workflow {
	return &model.Workflow{
		Nodes: []*model.Node{
			{ID: "t", Name: "start", Type: model.NodeTypeTrigger, Subtype: model.TriggerManual},
			{ID: "fetch", Name: "fetch", Type: model.NodeTypeAction, Subtype: "HTTP_REQUEST",
				Configurations: map[string]any{"url": "https://api.internal/orders"}},
		},
		Connections: []*model.Connection{{FromNode: "t", ToNode: "fetch"}},
		Triggers:    []string{"t"},
	}
}

func TestCreateWorkflow_AssignsIdentityAndVersion(t *testing.T) {
	svc, store := newWorkflowService()

	created, err := svc.Create(context.Background(), validWorkflow(), "alice")
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.Version)
	assert.Equal(t, "alice", created.CreatedBy)
	assert.Equal(t, model.DeploymentUndeployed, created.DeploymentStatus)
	assert.Contains(t, store.byID, created.ID)
}

func TestCreateWorkflow_RejectsMissingRequiredConfig(t *testing.T) {
	svc, _ := newWorkflowService()

	w := validWorkflow()
	w.Nodes[1].Configurations = nil // url is required

	_, err := svc.Create(context.Background(), w, "alice")
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidWorkflow, errs.Code(err))
}

func TestCreateWorkflow_RejectsCycle(t *testing.T) {
	svc, _ := newWorkflowService()

	w := validWorkflow()
	w.Nodes = append(w.Nodes, &model.Node{
		ID: "loop", Name: "loop", Type: model.NodeTypeAction, Subtype: "DATA_TRANSFORMATION",
	})
	w.Connections = append(w.Connections,
		&model.Connection{FromNode: "fetch", ToNode: "loop"},
		&model.Connection{FromNode: "loop", ToNode: "fetch"},
	)

	_, err := svc.Create(context.Background(), w, "alice")
	require.Error(t, err)
	assert.Equal(t, errs.CodeCycle, errs.Code(err))
}

func TestUpdateWorkflow_BumpsVersionAndKeepsOwner(t *testing.T) {
	svc, _ := newWorkflowService()

	created, err := svc.Create(context.Background(), validWorkflow(), "alice")
	require.NoError(t, err)

	next := validWorkflow()
	updated, err := svc.Update(context.Background(), created.ID, next)
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "alice", updated.CreatedBy)
}

func TestUpdateWorkflow_UnknownID(t *testing.T) {
	svc, _ := newWorkflowService()

	_, err := svc.Update(context.Background(), "missing", validWorkflow())
	require.Error(t, err)
	assert.Equal(t, errs.CodeWorkflowNotFound, errs.Code(err))
}

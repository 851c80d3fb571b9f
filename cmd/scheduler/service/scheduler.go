// Package service coordinates the scheduler's work: deployment
// lifecycle, inbound event dispatch and the smart-resume policy that
// prefers completing a paused human interaction over starting a fresh
// run.
package service

import (
	"context"

	"github.com/weavr-ai/weavr/cmd/scheduler/deploy"
	"github.com/weavr-ai/weavr/cmd/scheduler/router"
	"github.com/weavr-ai/weavr/common/model"
)

// EngineAPI is the engine control surface the scheduler drives
type EngineAPI interface {
	Run(ctx context.Context, workflowID string, trigger model.TriggerInfo) (string, error)
	ListPaused(ctx context.Context, workflowID string) ([]*model.Execution, error)
	Resume(ctx context.Context, executionID, nodeID string, userResponse map[string]any) error
}

// Logger is the minimal logging surface the service needs
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// SchedulerService deploys workflows and dispatches routed events
type SchedulerService struct {
	deployer *deploy.Deployer
	router   *router.Router
	engine   EngineAPI
	logger   Logger
}

// NewSchedulerService creates the scheduler service
func NewSchedulerService(deployer *deploy.Deployer, r *router.Router, engine EngineAPI, logger Logger) *SchedulerService {
	return &SchedulerService{
		deployer: deployer,
		router:   r,
		engine:   engine,
		logger:   logger,
	}
}

// Deploy takes a workflow to DEPLOYED
func (s *SchedulerService) Deploy(ctx context.Context, workflowID, triggeredBy string) (*model.DeploymentResult, error) {
	return s.deployer.Deploy(ctx, workflowID, triggeredBy)
}

// Undeploy takes a workflow back to UNDEPLOYED
func (s *SchedulerService) Undeploy(ctx context.Context, workflowID, triggeredBy string) error {
	return s.deployer.Undeploy(ctx, workflowID, triggeredBy)
}

// Triggers lists a workflow's trigger-index rows
func (s *SchedulerService) Triggers(ctx context.Context, workflowID string) ([]*model.TriggerIndexEntry, error) {
	return s.deployer.Triggers(ctx, workflowID)
}

// History lists a workflow's deployment transitions
func (s *SchedulerService) History(ctx context.Context, workflowID string, limit int) ([]*model.DeploymentHistory, error) {
	return s.deployer.History(ctx, workflowID, limit)
}

// TriggerManual starts a run explicitly. Manual triggers bypass routing
// and smart resume: the user asked for a fresh execution.
func (s *SchedulerService) TriggerManual(ctx context.Context, workflowID, userID string, payload map[string]any) (string, error) {
	return s.engine.Run(ctx, workflowID, model.TriggerInfo{
		TriggerType: model.TriggerManual,
		TriggerData: payload,
		UserID:      userID,
		Timestamp:   model.NowMS(),
	})
}

// HandleWebhook routes an inbound HTTP delivery and dispatches matches
func (s *SchedulerService) HandleWebhook(ctx context.Context, path, method string, headers map[string]string, body []byte) ([]string, error) {
	matches, err := s.router.RouteWebhook(ctx, path, method, headers, body)
	if err != nil {
		return nil, err
	}
	return s.dispatchAll(ctx, matches), nil
}

// HandleSlack routes a chat workspace event and dispatches matches
func (s *SchedulerService) HandleSlack(ctx context.Context, body []byte) ([]string, error) {
	matches, err := s.router.RouteSlack(ctx, body)
	if err != nil {
		return nil, err
	}
	return s.dispatchAll(ctx, matches), nil
}

// HandleEmail routes an inbound mail event and dispatches matches
func (s *SchedulerService) HandleEmail(ctx context.Context, body []byte) ([]string, error) {
	matches, err := s.router.RouteEmail(ctx, body)
	if err != nil {
		return nil, err
	}
	return s.dispatchAll(ctx, matches), nil
}

// HandleGithub routes a source-control event and dispatches matches
func (s *SchedulerService) HandleGithub(ctx context.Context, eventType, deliveryID, signature string, body []byte) ([]string, error) {
	matches, err := s.router.RouteGithub(ctx, eventType, deliveryID, signature, body)
	if err != nil {
		return nil, err
	}
	return s.dispatchAll(ctx, matches), nil
}

// HandleCalendar routes a calendar event and dispatches matches
func (s *SchedulerService) HandleCalendar(ctx context.Context, body []byte) ([]string, error) {
	matches, err := s.router.RouteCalendar(ctx, body)
	if err != nil {
		return nil, err
	}
	return s.dispatchAll(ctx, matches), nil
}

func (s *SchedulerService) dispatchAll(ctx context.Context, matches []model.TriggerMatch) []string {
	var executionIDs []string
	for _, m := range matches {
		id, err := s.dispatch(ctx, m)
		if err != nil {
			s.logger.Warn("failed to dispatch trigger match",
				"workflow_id", m.WorkflowID, "subtype", m.TriggerSubtype, "error", err)
			continue
		}
		executionIDs = append(executionIDs, id)
	}
	return executionIDs
}

// dispatch applies the smart-resume policy: when the matched workflow
// has a paused execution, the event completes that pause (its payload
// becomes the human response) instead of starting a new run. This is
// how a later chat message or email reply answers a prior interaction
// without the workflow wiring it explicitly.
func (s *SchedulerService) dispatch(ctx context.Context, m model.TriggerMatch) (string, error) {
	paused, err := s.engine.ListPaused(ctx, m.WorkflowID)
	if err != nil {
		s.logger.Warn("failed to check paused executions, starting fresh run",
			"workflow_id", m.WorkflowID, "error", err)
		paused = nil
	}
	if len(paused) > 0 {
		// Newest first; the most recently paused run claims the event
		target := paused[0]
		if err := s.engine.Resume(ctx, target.ID, target.CurrentNodeID, m.Payload); err != nil {
			return "", err
		}
		s.logger.Info("event resumed paused execution",
			"workflow_id", m.WorkflowID, "execution_id", target.ID, "node_id", target.CurrentNodeID)
		return target.ID, nil
	}

	return s.engine.Run(ctx, m.WorkflowID, model.TriggerInfo{
		TriggerType: m.TriggerSubtype,
		TriggerData: m.Payload,
		Timestamp:   model.NowMS(),
	})
}

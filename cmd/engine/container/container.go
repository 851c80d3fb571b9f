// Package container wires the engine's services once at startup.
// Dependencies are built bottom-up: repositories, then the conversion
// evaluator and node runners, then the executor and the services the
// HTTP layer talks to.
package container

import (
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/slack-go/slack"
	"github.com/wneessen/go-mail"

	"github.com/weavr-ai/weavr/cmd/engine/convert"
	"github.com/weavr-ai/weavr/cmd/engine/executor"
	"github.com/weavr-ai/weavr/cmd/engine/hilwatch"
	"github.com/weavr-ai/weavr/cmd/engine/runner"
	"github.com/weavr-ai/weavr/cmd/engine/service"
	"github.com/weavr-ai/weavr/common/bootstrap"
	"github.com/weavr-ai/weavr/common/config"
	"github.com/weavr-ai/weavr/common/model"
	"github.com/weavr-ai/weavr/common/repository"
	"github.com/weavr-ai/weavr/common/spec"
)

// Container holds all initialized engine services
type Container struct {
	Components *bootstrap.Components

	Registry  *spec.Registry
	Evaluator *convert.Evaluator
	Factory   *runner.Factory
	Notifiers *runner.ChannelNotifiers
	Executor  *executor.Executor
	Watcher   *hilwatch.Watcher

	Workflows  *service.WorkflowService
	Executions *service.ExecutionService
}

// NewContainer creates and wires all engine services. Everything is
// constructed exactly once; handlers share these instances for the
// process lifetime.
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	workflowRepo := repository.NewWorkflowRepository(components.DB)
	executionRepo := repository.NewExecutionRepository(components.DB)
	hilRepo := repository.NewHILRepository(components.DB)

	evaluator, err := convert.NewEvaluator(cfg.Engine.ConversionBudget, cfg.Engine.ConversionCostLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to build conversion evaluator: %w", err)
	}

	registry := spec.NewRegistry(log)
	notifiers, err := buildNotifiers(cfg, components, log)
	if err != nil {
		return nil, err
	}

	factory, err := buildFactory(cfg, components, evaluator, hilRepo, notifiers, log)
	if err != nil {
		return nil, err
	}

	exec := executor.New(
		registry,
		factory,
		evaluator,
		executionRepo,
		workflowRepo,
		hilRepo,
		components.Redis,
		cfg.Engine,
		log,
	)

	watcher := hilwatch.New(hilRepo, hilRepo, exec, workflowRepo, notifiers, cfg.Engine.HILScanInterval, log)

	return &Container{
		Components: components,
		Registry:   registry,
		Evaluator:  evaluator,
		Factory:    factory,
		Notifiers:  notifiers,
		Executor:   exec,
		Watcher:    watcher,
		Workflows:  service.NewWorkflowService(workflowRepo, registry),
		Executions: service.NewExecutionService(exec, workflowRepo, executionRepo, hilRepo, log),
	}, nil
}

// buildNotifiers registers one notifier per configured channel.
// Unconfigured channels stay unregistered; sending to them logs and
// drops instead of failing the pause.
func buildNotifiers(cfg *config.Config, components *bootstrap.Components, log runner.Logger) (*runner.ChannelNotifiers, error) {
	notifiers := runner.NewChannelNotifiers(log)

	notifiers.Register(model.ChannelInApp, runner.NewInAppNotifier(components.Redis))

	if cfg.Providers.SlackBotToken != "" {
		notifiers.Register(model.ChannelChat, runner.NewSlackNotifier(cfg.Providers.SlackBotToken))
	}
	if cfg.Providers.SMTPUser != "" {
		email, err := runner.NewEmailNotifier(
			cfg.Providers.SMTPHost,
			cfg.Providers.SMTPPort,
			cfg.Providers.SMTPUser,
			cfg.Providers.SMTPPassword,
			cfg.Providers.SMTPFrom,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to build email notifier: %w", err)
		}
		notifiers.Register(model.ChannelEmail, email)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	validator := runner.NewURLValidator(cfg.Service.Environment == "development")
	notifiers.Register(model.ChannelWebhook, runner.NewWebhookNotifier(httpClient, validator))

	return notifiers, nil
}

// buildFactory registers a runner for every executable node kind
func buildFactory(
	cfg *config.Config,
	components *bootstrap.Components,
	evaluator *convert.Evaluator,
	hilRepo *repository.HILRepository,
	notifiers *runner.ChannelNotifiers,
	log runner.Logger,
) (*runner.Factory, error) {
	factory := runner.NewFactory(log)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	validator := runner.NewURLValidator(cfg.Service.Environment == "development")

	factory.RegisterType(model.NodeTypeTrigger, runner.NewTriggerRunner())

	factory.Register(model.NodeTypeAction, "HTTP_REQUEST", runner.NewHTTPRequestRunner(httpClient, validator, log))
	factory.Register(model.NodeTypeAction, "DATA_TRANSFORMATION", runner.NewDataTransformRunner(log))

	factory.Register(model.NodeTypeFlow, "IF", runner.NewIfRunner(evaluator))
	factory.Register(model.NodeTypeFlow, "MERGE", runner.NewMergeRunner())
	factory.Register(model.NodeTypeFlow, "FOR_EACH", runner.NewForEachRunner())
	factory.Register(model.NodeTypeFlow, "WAIT", runner.NewWaitRunner())
	factory.Register(model.NodeTypeFlow, "DELAY", runner.NewDelayRunner())

	factory.RegisterType(model.NodeTypeHumanInLoop, runner.NewHILRunner(hilRepo, notifiers, log))

	tools := runner.NewToolInvoker(httpClient, validator, log)
	memory := runner.NewMemoryStore(components.Redis, log)

	var openaiProvider runner.ChatCompleter
	if cfg.Providers.OpenAIAPIKey != "" {
		openaiProvider = openai.NewClient(cfg.Providers.OpenAIAPIKey)
	}
	factory.Register(model.NodeTypeAIAgent, "OPENAI_CHATGPT", runner.NewAgentRunner(openaiProvider, tools, memory, log))

	var claudeProvider runner.ChatCompleter
	if cfg.Providers.AnthropicAPIKey != "" {
		clientCfg := openai.DefaultConfig(cfg.Providers.AnthropicAPIKey)
		clientCfg.BaseURL = cfg.Providers.AnthropicBaseURL
		claudeProvider = openai.NewClientWithConfig(clientCfg)
	}
	factory.Register(model.NodeTypeAIAgent, "ANTHROPIC_CLAUDE", runner.NewAgentRunner(claudeProvider, tools, memory, log))

	var slackClient *slack.Client
	if cfg.Providers.SlackBotToken != "" {
		slackClient = slack.New(cfg.Providers.SlackBotToken)
	}
	factory.Register(model.NodeTypeExternalAction, "SLACK", runner.NewSlackActionRunner(slackClient))

	var mailClient *mail.Client
	if cfg.Providers.SMTPUser != "" {
		var err error
		mailClient, err = mail.NewClient(cfg.Providers.SMTPHost,
			mail.WithPort(cfg.Providers.SMTPPort),
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Providers.SMTPUser),
			mail.WithPassword(cfg.Providers.SMTPPassword),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to build mail client: %w", err)
		}
	}
	factory.Register(model.NodeTypeExternalAction, "EMAIL", runner.NewEmailActionRunner(mailClient, cfg.Providers.SMTPFrom))
	factory.Register(model.NodeTypeExternalAction, "WEBHOOK_CALL", runner.NewWebhookCallRunner(httpClient, validator))

	return factory, nil
}

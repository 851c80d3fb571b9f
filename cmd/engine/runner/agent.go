package runner

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/weavr-ai/weavr/common/errs"
	"github.com/weavr-ai/weavr/common/model"
)

// maxToolRounds bounds the model/tool conversation so a confused model
// cannot loop forever
const maxToolRounds = 8

// ChatCompleter is the provider surface the agent runner needs
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// AgentRunner executes AI_AGENT.* nodes. Attached TOOL and MEMORY nodes
// are orchestrated around the model call: memory read before, tool
// dispatch during, memory write after.
type AgentRunner struct {
	provider ChatCompleter
	tools    *ToolInvoker
	memory   *MemoryStore
	logger   Logger
}

// NewAgentRunner creates the AI agent runner
func NewAgentRunner(provider ChatCompleter, tools *ToolInvoker, memory *MemoryStore, logger Logger) *AgentRunner {
	return &AgentRunner{provider: provider, tools: tools, memory: memory, logger: logger}
}

// Run performs the full agent conversation and emits the final response
func (r *AgentRunner) Run(ctx context.Context, req *Request) (map[string]any, error) {
	if r.provider == nil {
		return nil, errs.New(errs.CodeCredentialsMissing, "no AI provider configured").
			WithSolution("set the provider API key in the engine configuration")
	}

	config := req.Node.Configurations
	toolNodes, memoryNodes := r.attachedNodes(req)

	userInput := r.userInput(req.Inputs)
	systemPrompt := cfgString(config, "system_prompt", "You are a helpful assistant.")

	// Pre-call memory load
	for _, mem := range memoryNodes {
		prior, err := r.memory.Read(ctx, req.Workflow.ID, mem)
		if err != nil {
			r.logger.Warn("memory read failed", "node_id", mem.ID, "error", err)
			continue
		}
		if len(prior) > 0 {
			encoded, _ := json.Marshal(prior)
			systemPrompt += fmt.Sprintf("\n\nContext from %s:\n%s", mem.Name, encoded)
		}
		r.recordActivity(req, map[string]any{
			"attached_node": mem.ID,
			"operation":     "memory_read",
			"keys":          len(prior),
		})
	}

	// Pre-call tool discovery
	var providerTools []openai.Tool
	toolsByName := make(map[string]*model.Node, len(toolNodes))
	for _, tool := range toolNodes {
		schema := r.tools.Describe(tool)
		params, _ := json.Marshal(schema.Parameters)
		providerTools = append(providerTools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        schema.Name,
				Description: schema.Description,
				Parameters:  json.RawMessage(params),
			},
		})
		toolsByName[schema.Name] = tool
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: userInput},
	}

	var (
		usage           model.TokenUsage
		toolInvocations []map[string]any
		finalContent    string
	)

	for round := 0; ; round++ {
		if round >= maxToolRounds {
			return nil, errs.New(errs.CodeNodeFailed, fmt.Sprintf("node %s: tool loop exceeded %d rounds", req.Node.ID, maxToolRounds))
		}

		resp, err := r.provider.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       cfgString(config, "model", "gpt-4o"),
			Messages:    messages,
			Tools:       providerTools,
			Temperature: float32(cfgFloat(config, "temperature", 0.7)),
			MaxTokens:   int(cfgInt(config, "max_tokens", 2048)),
		})
		if err != nil {
			return nil, errs.Wrap(errs.CodeNodeFailed, fmt.Sprintf("node %s: model call failed", req.Node.ID), err)
		}

		usage.Add(model.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		})

		if len(resp.Choices) == 0 {
			return nil, errs.New(errs.CodeNodeFailed, fmt.Sprintf("node %s: model returned no choices", req.Node.ID))
		}
		choice := resp.Choices[0].Message

		if len(choice.ToolCalls) == 0 {
			finalContent = choice.Content
			break
		}

		messages = append(messages, choice)
		for _, call := range choice.ToolCalls {
			result := r.dispatchTool(ctx, req, toolsByName, call)
			toolInvocations = append(toolInvocations, result)

			encoded, _ := json.Marshal(result["result"])
			if errMsg, failed := result["error"].(string); failed {
				encoded = []byte(fmt.Sprintf(`{"error": %q}`, errMsg))
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    string(encoded),
				ToolCallID: call.ID,
			})
		}
	}

	// Post-call memory write
	for _, mem := range memoryNodes {
		if err := r.memory.Write(ctx, req.Workflow.ID, mem, userInput, finalContent); err != nil {
			r.logger.Warn("memory write failed", "node_id", mem.ID, "error", err)
			continue
		}
		r.recordActivity(req, map[string]any{
			"attached_node": mem.ID,
			"operation":     "memory_write",
		})
	}

	if req.AddTokens != nil {
		req.AddTokens(usage)
	}

	result := map[string]any{
		"content": finalContent,
		"token_usage": map[string]any{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"total_tokens":      usage.TotalTokens,
		},
	}
	if len(toolInvocations) > 0 {
		result["tool_invocations"] = toolInvocations
	}
	return map[string]any{model.PortResult: result}, nil
}

// dispatchTool invokes one model-requested tool call and records it as
// sub-activity of the agent's NodeExecution
func (r *AgentRunner) dispatchTool(ctx context.Context, req *Request, toolsByName map[string]*model.Node, call openai.ToolCall) map[string]any {
	record := map[string]any{
		"tool":      call.Function.Name,
		"arguments": call.Function.Arguments,
	}

	tool, exists := toolsByName[call.Function.Name]
	if !exists {
		record["error"] = fmt.Sprintf("model requested unknown tool %q", call.Function.Name)
		r.recordActivity(req, record)
		return record
	}
	record["attached_node"] = tool.ID

	var args map[string]any
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			record["error"] = fmt.Sprintf("invalid tool arguments: %v", err)
			r.recordActivity(req, record)
			return record
		}
	}

	result, err := r.tools.Invoke(ctx, tool, args)
	if err != nil {
		record["error"] = err.Error()
	} else {
		record["result"] = result
	}
	r.recordActivity(req, record)
	return record
}

func (r *AgentRunner) attachedNodes(req *Request) (tools, memories []*model.Node) {
	for _, id := range req.Node.AttachedNodes {
		attached := req.Workflow.NodeByID(id)
		if attached == nil {
			continue
		}
		switch attached.Type {
		case model.NodeTypeTool:
			tools = append(tools, attached)
		case model.NodeTypeMemory:
			memories = append(memories, attached)
		}
	}
	return tools, memories
}

func (r *AgentRunner) userInput(inputs map[string]any) string {
	if s, ok := inputs["user_input"].(string); ok && s != "" {
		return s
	}
	if result, ok := inputs[model.PortResult].(map[string]any); ok {
		if s, ok := result["user_input"].(string); ok && s != "" {
			return s
		}
		if s, ok := result["message"].(string); ok && s != "" {
			return s
		}
	}
	encoded, err := json.Marshal(inputs)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func (r *AgentRunner) recordActivity(req *Request, entry map[string]any) {
	if req.RecordActivity != nil {
		req.RecordActivity(entry)
	}
}

package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/weavr-ai/weavr/common/errs"
	"github.com/weavr-ai/weavr/common/model"
	"github.com/weavr-ai/weavr/common/redis"
)

// FunctionHandler is a builtin function a TOOL.FUNCTION node can expose
type FunctionHandler func(ctx context.Context, args map[string]any) (any, error)

// ToolInvoker drives attached TOOL nodes for AI runners. Tools never run
// as graph vertices; they are described to the model and invoked on demand.
type ToolInvoker struct {
	client    *http.Client
	validator *URLValidator
	functions map[string]FunctionHandler
	logger    Logger
}

// NewToolInvoker creates a tool invoker
func NewToolInvoker(client *http.Client, validator *URLValidator, logger Logger) *ToolInvoker {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ToolInvoker{
		client:    client,
		validator: validator,
		functions: make(map[string]FunctionHandler),
		logger:    logger,
	}
}

// RegisterFunction exposes a builtin function to TOOL.FUNCTION nodes
func (t *ToolInvoker) RegisterFunction(name string, handler FunctionHandler) {
	t.functions[name] = handler
}

// ToolSchema is the callable description handed to the model provider
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Describe returns the callable schema of a TOOL node
func (t *ToolInvoker) Describe(node *model.Node) ToolSchema {
	config := node.Configurations
	params := cfgMap(config, "parameters")
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	description := cfgString(config, "description", "")
	if description == "" {
		description = fmt.Sprintf("Tool %s", node.Name)
	}
	return ToolSchema{
		Name:        node.Name,
		Description: description,
		Parameters:  params,
	}
}

// Invoke runs a TOOL node with the model-supplied arguments
func (t *ToolInvoker) Invoke(ctx context.Context, node *model.Node, args map[string]any) (any, error) {
	switch node.Subtype {
	case "HTTP":
		return t.invokeHTTP(ctx, node, args)
	case "FUNCTION":
		return t.invokeFunction(ctx, node, args)
	default:
		return nil, errs.New(errs.CodeUnknownNode, fmt.Sprintf("unknown tool subtype: %s", node.Subtype))
	}
}

func (t *ToolInvoker) invokeHTTP(ctx context.Context, node *model.Node, args map[string]any) (any, error) {
	config := node.Configurations
	rawURL := cfgString(config, "url", "")
	if err := t.validator.Validate(rawURL); err != nil {
		return nil, fmt.Errorf("tool url rejected: %w", err)
	}

	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool arguments: %w", err)
	}
	method := cfgString(config, "method", http.MethodPost)
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read tool response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("tool call failed: status=%d, body=%s", resp.StatusCode, string(raw))
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return string(raw), nil
	}
	return parsed, nil
}

func (t *ToolInvoker) invokeFunction(ctx context.Context, node *model.Node, args map[string]any) (any, error) {
	name := cfgString(node.Configurations, "function_name", "")
	handler, exists := t.functions[name]
	if !exists {
		return nil, errs.New(errs.CodeUnknownNode, fmt.Sprintf("builtin function %q is not registered", name))
	}
	return handler(ctx, args)
}

// MemoryStore drives attached MEMORY nodes: conversation buffers and
// key-value scratch space, both in Redis
type MemoryStore struct {
	redis  *redis.Client
	logger Logger
}

// NewMemoryStore creates a memory store
func NewMemoryStore(client *redis.Client, logger Logger) *MemoryStore {
	return &MemoryStore{redis: client, logger: logger}
}

// MemoryExchange is one user/assistant turn persisted after an AI call
type MemoryExchange struct {
	UserMessage string `json:"user_message"`
	AIResponse  string `json:"ai_response"`
	Timestamp   int64  `json:"timestamp"`
}

// Read loads the prior context of a MEMORY node
func (m *MemoryStore) Read(ctx context.Context, workflowID string, node *model.Node) (map[string]any, error) {
	switch node.Subtype {
	case "CONVERSATION_BUFFER":
		key := m.bufferKey(workflowID, node)
		items, err := m.redis.GetUnderlying().LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read conversation buffer: %w", err)
		}
		messages := make([]any, 0, len(items))
		for _, item := range items {
			var exchange MemoryExchange
			if err := json.Unmarshal([]byte(item), &exchange); err != nil {
				continue
			}
			messages = append(messages, exchange)
		}
		return map[string]any{"prior_messages": messages}, nil

	case "KEY_VALUE":
		key := m.kvKey(workflowID, node)
		raw, err := m.redis.GetUnderlying().Get(ctx, key).Result()
		if err == goredis.Nil {
			return map[string]any{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read key-value memory: %w", err)
		}
		var values map[string]any
		if err := json.Unmarshal([]byte(raw), &values); err != nil {
			return nil, fmt.Errorf("failed to decode key-value memory: %w", err)
		}
		return values, nil

	default:
		return nil, errs.New(errs.CodeUnknownNode, fmt.Sprintf("unknown memory subtype: %s", node.Subtype))
	}
}

// Write persists one exchange after an AI call
func (m *MemoryStore) Write(ctx context.Context, workflowID string, node *model.Node, userMessage, aiResponse string) error {
	switch node.Subtype {
	case "CONVERSATION_BUFFER":
		key := m.bufferKey(workflowID, node)
		maxMessages := cfgInt(node.Configurations, "max_messages", 50)

		raw, err := json.Marshal(MemoryExchange{
			UserMessage: userMessage,
			AIResponse:  aiResponse,
			Timestamp:   model.NowMS(),
		})
		if err != nil {
			return fmt.Errorf("failed to encode exchange: %w", err)
		}

		rdb := m.redis.GetUnderlying()
		pipe := rdb.TxPipeline()
		pipe.RPush(ctx, key, raw)
		pipe.LTrim(ctx, key, -maxMessages, -1)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to append to conversation buffer: %w", err)
		}
		return nil

	case "KEY_VALUE":
		key := m.kvKey(workflowID, node)
		ttl := time.Duration(cfgInt(node.Configurations, "ttl_seconds", 86400)) * time.Second
		raw, err := json.Marshal(map[string]any{
			"last_user_message": userMessage,
			"last_ai_response":  aiResponse,
			"updated_at":        model.NowMS(),
		})
		if err != nil {
			return fmt.Errorf("failed to encode key-value memory: %w", err)
		}
		if err := m.redis.Set(ctx, key, string(raw), ttl); err != nil {
			return fmt.Errorf("failed to write key-value memory: %w", err)
		}
		return nil

	default:
		return errs.New(errs.CodeUnknownNode, fmt.Sprintf("unknown memory subtype: %s", node.Subtype))
	}
}

func (m *MemoryStore) bufferKey(workflowID string, node *model.Node) string {
	session := cfgString(node.Configurations, "session_key", "default")
	return fmt.Sprintf("memory:buffer:%s:%s:%s", workflowID, node.ID, session)
}

func (m *MemoryStore) kvKey(workflowID string, node *model.Node) string {
	namespace := cfgString(node.Configurations, "namespace", "default")
	return fmt.Sprintf("memory:kv:%s:%s:%s", workflowID, node.ID, namespace)
}

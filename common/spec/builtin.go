package spec

import "github.com/weavr-ai/weavr/common/model"

// Envelope configurations shared by every executable node. The retry
// delay parameters have no defaults; the engine applies its own base
// backoff when a node leaves them unset.
func envelopeConfigs(defaultTimeout float64) map[string]ParamSchema {
	return map[string]ParamSchema{
		"timeout_seconds":  {Type: ParamInteger, Default: defaultTimeout, Min: minOf(1), Max: maxOf(86400)},
		"retry_attempts":   {Type: ParamInteger, Default: float64(0), Min: minOf(0), Max: maxOf(5)},
		"initial_delay_ms": {Type: ParamInteger, Min: minOf(1), Max: maxOf(300000)},
		"backoff_factor":   {Type: ParamFloat, Min: minOf(1), Max: maxOf(10)},
		"on_error":         {Type: ParamString, Default: "fail", Options: []string{"fail", "continue"}},
	}
}

func mergeConfigs(base map[string]ParamSchema, extra map[string]ParamSchema) map[string]ParamSchema {
	out := make(map[string]ParamSchema, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func resultOutput() map[string]ParamSchema {
	return map[string]ParamSchema{
		model.PortResult: {Type: ParamJSON},
	}
}

func builtinSpecs() []*NodeSpec {
	var specs []*NodeSpec
	specs = append(specs, triggerSpecs()...)
	specs = append(specs, actionSpecs()...)
	specs = append(specs, flowSpecs()...)
	specs = append(specs, hilSpecs()...)
	specs = append(specs, aiAgentSpecs()...)
	specs = append(specs, externalActionSpecs()...)
	specs = append(specs, toolSpecs()...)
	specs = append(specs, memorySpecs()...)
	return specs
}

func triggerSpecs() []*NodeSpec {
	return []*NodeSpec{
		{
			Type:         model.NodeTypeTrigger,
			Subtype:      model.TriggerManual,
			Version:      "1.0",
			Description:  "Started explicitly by a user or API call",
			OutputParams: resultOutput(),
		},
		{
			Type:        model.NodeTypeTrigger,
			Subtype:     model.TriggerCron,
			Version:     "1.0",
			Description: "Fires on a cron schedule",
			Configurations: map[string]ParamSchema{
				"cron_expression": {Type: ParamString, Required: true},
				"timezone":        {Type: ParamString, Default: "UTC"},
			},
			OutputParams: resultOutput(),
		},
		{
			Type:        model.NodeTypeTrigger,
			Subtype:     model.TriggerWebhook,
			Version:     "1.0",
			Description: "Fires on an inbound HTTP request to a registered path",
			Configurations: map[string]ParamSchema{
				"path":             {Type: ParamString, Required: true},
				"allowed_methods":  {Type: ParamArray, Default: []any{"POST"}},
				"signature_secret": {Type: ParamString},
			},
			OutputParams: resultOutput(),
		},
		{
			Type:        model.NodeTypeTrigger,
			Subtype:     model.TriggerSlack,
			Version:     "1.0",
			Description: "Fires on chat workspace events",
			Configurations: map[string]ParamSchema{
				"workspace_id":     {Type: ParamString, Required: true},
				"channels":         {Type: ParamArray},
				"event_types":      {Type: ParamArray, Default: []any{"message"}},
				"users":            {Type: ParamArray},
				"mention_required": {Type: ParamBoolean, Default: false},
				"ignore_bots":      {Type: ParamBoolean, Default: true},
			},
			OutputParams: resultOutput(),
		},
		{
			Type:        model.NodeTypeTrigger,
			Subtype:     model.TriggerEmail,
			Version:     "1.0",
			Description: "Fires on inbound mail matching the filter",
			Configurations: map[string]ParamSchema{
				"address_filter":    {Type: ParamString, Required: true},
				"folder":            {Type: ParamString, Default: "INBOX"},
				"sender_pattern":    {Type: ParamString},
				"subject_pattern":   {Type: ParamString},
				"body_pattern":      {Type: ParamString},
				"attachment_policy": {Type: ParamString, Default: "any", Options: []string{"any", "required", "none"}},
			},
			OutputParams: resultOutput(),
		},
		{
			Type:        model.NodeTypeTrigger,
			Subtype:     model.TriggerGithub,
			Version:     "1.0",
			Description: "Fires on source-control repository events",
			Configurations: map[string]ParamSchema{
				"repository":     {Type: ParamString, Required: true, ValidationPattern: `^[^/\s]+/[^/\s]+$`},
				"events":         {Type: ParamArray, Default: []any{"push"}},
				"branches":       {Type: ParamArray},
				"paths":          {Type: ParamArray},
				"actions":        {Type: ParamArray},
				"author_pattern": {Type: ParamString},
				"labels":         {Type: ParamArray},
				"webhook_secret": {Type: ParamString},
			},
			OutputParams: resultOutput(),
		},
		{
			Type:        model.NodeTypeTrigger,
			Subtype:     model.TriggerGoogleCalendar,
			Version:     "1.0",
			Description: "Fires on calendar events",
			Configurations: map[string]ParamSchema{
				"calendar_id":      {Type: ParamString, Default: "primary"},
				"event_categories": {Type: ParamArray},
				"minutes_before":   {Type: ParamInteger, Default: float64(0), Min: minOf(0)},
			},
			OutputParams: resultOutput(),
		},
	}
}

func actionSpecs() []*NodeSpec {
	return []*NodeSpec{
		{
			Type:        model.NodeTypeAction,
			Subtype:     "HTTP_REQUEST",
			Version:     "1.0",
			Description: "Calls an external HTTP endpoint",
			Configurations: mergeConfigs(envelopeConfigs(30), map[string]ParamSchema{
				"url":     {Type: ParamString, Required: true},
				"method":  {Type: ParamString, Default: "GET", Options: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"}},
				"headers": {Type: ParamJSON},
				"body":    {Type: ParamJSON},
			}),
			InputParams:  map[string]ParamSchema{model.PortResult: {Type: ParamJSON}},
			OutputParams: resultOutput(),
		},
		{
			Type:        model.NodeTypeAction,
			Subtype:     "DATA_TRANSFORMATION",
			Version:     "1.0",
			Description: "Reshapes the inbound payload",
			Configurations: mergeConfigs(envelopeConfigs(30), map[string]ParamSchema{
				"operation": {Type: ParamString, Default: "field_mapping", Options: []string{"field_mapping", "json_patch"}},
				"mapping":   {Type: ParamJSON},
				"patch":     {Type: ParamArray},
			}),
			InputParams:  map[string]ParamSchema{model.PortResult: {Type: ParamJSON}},
			OutputParams: resultOutput(),
		},
	}
}

func flowSpecs() []*NodeSpec {
	return []*NodeSpec{
		{
			Type:        model.NodeTypeFlow,
			Subtype:     "IF",
			Version:     "1.0",
			Description: "Routes the payload to exactly one of two branches",
			Configurations: map[string]ParamSchema{
				"condition_expression": {Type: ParamString, Required: true},
			},
			InputParams: map[string]ParamSchema{model.PortResult: {Type: ParamJSON}},
			OutputParams: map[string]ParamSchema{
				model.PortTrue:  {Type: ParamJSON},
				model.PortFalse: {Type: ParamJSON},
			},
		},
		{
			Type:        model.NodeTypeFlow,
			Subtype:     "MERGE",
			Version:     "1.0",
			Description: "Joins all inbound branches into one payload",
			Configurations: map[string]ParamSchema{
				"merge_strategy": {Type: ParamString, Default: "combine", Options: []string{"combine", "append", "first"}},
			},
			OutputParams: resultOutput(),
		},
		{
			Type:        model.NodeTypeFlow,
			Subtype:     "FOR_EACH",
			Version:     "1.0",
			Description: "Fans out the downstream subgraph once per element",
			Configurations: map[string]ParamSchema{
				"input_field": {Type: ParamString, Default: "items"},
			},
			InputParams: map[string]ParamSchema{model.PortResult: {Type: ParamJSON}},
			OutputParams: map[string]ParamSchema{
				model.PortIteration: {Type: ParamArray},
				model.PortResult:    {Type: ParamJSON},
			},
		},
		{
			Type:        model.NodeTypeFlow,
			Subtype:     "WAIT",
			Version:     "1.0",
			Description: "Suspends the run until an external signal",
			Configurations: map[string]ParamSchema{
				"timeout_seconds": {Type: ParamInteger, Default: float64(3600), Min: minOf(1), Max: maxOf(86400)},
			},
			OutputParams: resultOutput(),
		},
		{
			Type:        model.NodeTypeFlow,
			Subtype:     "DELAY",
			Version:     "1.0",
			Description: "Pauses the run for a fixed interval",
			Configurations: map[string]ParamSchema{
				"delay_ms": {Type: ParamInteger, Required: true, Min: minOf(1), Max: maxOf(86400000)},
			},
			OutputParams: resultOutput(),
		},
	}
}

func hilSpecs() []*NodeSpec {
	hilConfigs := func() map[string]ParamSchema {
		return map[string]ParamSchema{
			"channel_type":             {Type: ParamString, Default: model.ChannelInApp, Options: []string{model.ChannelChat, model.ChannelEmail, model.ChannelInApp, model.ChannelWebhook}},
			"message":                  {Type: ParamString, Required: true},
			"recipient":                {Type: ParamString},
			"timeout_seconds":          {Type: ParamInteger, Default: float64(3600), Min: minOf(60), Max: maxOf(86400)},
			"timeout_action":           {Type: ParamString, Default: "fail", Options: []string{"fail", "continue", "default_response"}},
			"timeout_default_response": {Type: ParamJSON},
			"relevance_threshold":      {Type: ParamFloat, Default: 0.3, Min: minOf(0), Max: maxOf(1)},
		}
	}
	hilOutputs := func() map[string]ParamSchema {
		return map[string]ParamSchema{
			model.PortApproved:  {Type: ParamJSON},
			model.PortRejected:  {Type: ParamJSON},
			model.PortCompleted: {Type: ParamJSON},
			model.PortTimeout:   {Type: ParamJSON},
			model.PortFiltered:  {Type: ParamJSON},
		}
	}
	return []*NodeSpec{
		{
			Type:           model.NodeTypeHumanInLoop,
			Subtype:        "APPROVAL",
			Version:        "1.0",
			Description:    "Asks a human to approve or reject before continuing",
			Configurations: hilConfigs(),
			OutputParams:   hilOutputs(),
		},
		{
			Type:           model.NodeTypeHumanInLoop,
			Subtype:        "INPUT",
			Version:        "1.0",
			Description:    "Collects free-form input from a human",
			Configurations: hilConfigs(),
			OutputParams:   hilOutputs(),
		},
		{
			Type:           model.NodeTypeHumanInLoop,
			Subtype:        "REVIEW",
			Version:        "1.0",
			Description:    "Asks a human to review and annotate intermediate output",
			Configurations: hilConfigs(),
			OutputParams:   hilOutputs(),
		},
	}
}

func aiAgentSpecs() []*NodeSpec {
	agent := func(subtype, defaultModel string) *NodeSpec {
		return &NodeSpec{
			Type:        model.NodeTypeAIAgent,
			Subtype:     subtype,
			Version:     "1.0",
			Description: "Conversational agent with attached tool and memory nodes",
			Configurations: mergeConfigs(envelopeConfigs(120), map[string]ParamSchema{
				"model":         {Type: ParamString, Default: defaultModel},
				"system_prompt": {Type: ParamString, Required: true},
				"temperature":   {Type: ParamFloat, Default: 0.7, Min: minOf(0), Max: maxOf(2)},
				"max_tokens":    {Type: ParamInteger, Default: float64(2048), Min: minOf(1)},
			}),
			InputParams: map[string]ParamSchema{
				model.PortResult: {Type: ParamJSON},
				"user_input":     {Type: ParamString},
			},
			OutputParams: resultOutput(),
		}
	}
	return []*NodeSpec{
		agent("OPENAI_CHATGPT", "gpt-4o"),
		agent("ANTHROPIC_CLAUDE", "claude-sonnet-4-20250514"),
	}
}

func externalActionSpecs() []*NodeSpec {
	return []*NodeSpec{
		{
			Type:        model.NodeTypeExternalAction,
			Subtype:     "SLACK",
			Version:     "1.0",
			Description: "Posts a message to a chat channel",
			Configurations: mergeConfigs(envelopeConfigs(30), map[string]ParamSchema{
				"channel": {Type: ParamString, Required: true},
				"message": {Type: ParamString, Required: true},
			}),
			InputParams:  map[string]ParamSchema{model.PortResult: {Type: ParamJSON}},
			OutputParams: resultOutput(),
		},
		{
			Type:        model.NodeTypeExternalAction,
			Subtype:     "EMAIL",
			Version:     "1.0",
			Description: "Sends an email",
			Configurations: mergeConfigs(envelopeConfigs(30), map[string]ParamSchema{
				"to":      {Type: ParamString, Required: true},
				"subject": {Type: ParamString, Required: true},
				"body":    {Type: ParamString},
			}),
			InputParams:  map[string]ParamSchema{model.PortResult: {Type: ParamJSON}},
			OutputParams: resultOutput(),
		},
		{
			Type:        model.NodeTypeExternalAction,
			Subtype:     "WEBHOOK_CALL",
			Version:     "1.0",
			Description: "Delivers the payload to an external webhook",
			Configurations: mergeConfigs(envelopeConfigs(30), map[string]ParamSchema{
				"url":    {Type: ParamString, Required: true},
				"method": {Type: ParamString, Default: "POST", Options: []string{"POST", "PUT", "PATCH"}},
			}),
			InputParams:  map[string]ParamSchema{model.PortResult: {Type: ParamJSON}},
			OutputParams: resultOutput(),
		},
	}
}

func toolSpecs() []*NodeSpec {
	return []*NodeSpec{
		{
			Type:        model.NodeTypeTool,
			Subtype:     "HTTP",
			Version:     "1.0",
			Description: "Callable HTTP endpoint exposed to an agent",
			Configurations: map[string]ParamSchema{
				"url":         {Type: ParamString, Required: true},
				"method":      {Type: ParamString, Default: "POST", Options: []string{"GET", "POST", "PUT", "PATCH", "DELETE"}},
				"description": {Type: ParamString},
				"parameters":  {Type: ParamJSON},
			},
			OutputParams: resultOutput(),
		},
		{
			Type:        model.NodeTypeTool,
			Subtype:     "FUNCTION",
			Version:     "1.0",
			Description: "Named builtin function exposed to an agent",
			Configurations: map[string]ParamSchema{
				"function_name": {Type: ParamString, Required: true},
				"description":   {Type: ParamString},
				"parameters":    {Type: ParamJSON},
			},
			OutputParams: resultOutput(),
		},
	}
}

func memorySpecs() []*NodeSpec {
	return []*NodeSpec{
		{
			Type:        model.NodeTypeMemory,
			Subtype:     "CONVERSATION_BUFFER",
			Version:     "1.0",
			Description: "Rolling message history shared with an agent",
			Configurations: map[string]ParamSchema{
				"max_messages": {Type: ParamInteger, Default: float64(50), Min: minOf(1), Max: maxOf(1000)},
				"session_key":  {Type: ParamString},
			},
			OutputParams: resultOutput(),
		},
		{
			Type:        model.NodeTypeMemory,
			Subtype:     "KEY_VALUE",
			Version:     "1.0",
			Description: "Keyed scratch storage shared with an agent",
			Configurations: map[string]ParamSchema{
				"namespace":   {Type: ParamString, Default: "default"},
				"ttl_seconds": {Type: ParamInteger, Default: float64(86400), Min: minOf(60)},
			},
			OutputParams: resultOutput(),
		},
	}
}

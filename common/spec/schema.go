package spec

import "github.com/weavr-ai/weavr/common/model"

// ParamType is the declared type of a parameter value
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamFloat   ParamType = "float"
	ParamBoolean ParamType = "boolean"
	ParamJSON    ParamType = "json"
	ParamArray   ParamType = "array"
)

// ParamSchema describes one configuration or data parameter
type ParamSchema struct {
	Type              ParamType `json:"type"`
	Default           any       `json:"default,omitempty"`
	Required          bool      `json:"required,omitempty"`
	Description       string    `json:"description,omitempty"`
	Options           []string  `json:"options,omitempty"`
	Min               *float64  `json:"min,omitempty"`
	Max               *float64  `json:"max,omitempty"`
	ValidationPattern string    `json:"validation_pattern,omitempty"`
}

// NodeSpec is the canonical schema of one (type, subtype) pair
type NodeSpec struct {
	Type           model.NodeType         `json:"type"`
	Subtype        string                 `json:"subtype"`
	Version        string                 `json:"version"`
	Description    string                 `json:"description,omitempty"`
	Configurations map[string]ParamSchema `json:"configurations,omitempty"`
	InputParams    map[string]ParamSchema `json:"input_params,omitempty"`
	OutputParams   map[string]ParamSchema `json:"output_params,omitempty"`
	// Default attachments suggested to workflow authors (AI_AGENT only)
	AttachedNodes        []string `json:"attached_nodes,omitempty"`
	Tags                 []string `json:"tags,omitempty"`
	SystemPromptAppendix string   `json:"system_prompt_appendix,omitempty"`
}

func minOf(v float64) *float64 { return &v }
func maxOf(v float64) *float64 { return &v }

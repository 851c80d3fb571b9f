package model

import (
	"fmt"
	"strings"
)

// NodeType classifies a workflow vertex
type NodeType string

const (
	NodeTypeTrigger        NodeType = "TRIGGER"
	NodeTypeAIAgent        NodeType = "AI_AGENT"
	NodeTypeAction         NodeType = "ACTION"
	NodeTypeExternalAction NodeType = "EXTERNAL_ACTION"
	NodeTypeFlow           NodeType = "FLOW"
	NodeTypeHumanInLoop    NodeType = "HUMAN_IN_THE_LOOP"
	NodeTypeTool           NodeType = "TOOL"
	NodeTypeMemory         NodeType = "MEMORY"
)

// Trigger subtypes
const (
	TriggerManual         = "MANUAL"
	TriggerCron           = "CRON"
	TriggerWebhook        = "WEBHOOK"
	TriggerSlack          = "SLACK"
	TriggerEmail          = "EMAIL"
	TriggerGithub         = "GITHUB"
	TriggerGoogleCalendar = "GOOGLE_CALENDAR"
)

// Output port names with routing semantics
const (
	PortResult    = "result"
	PortTrue      = "true"
	PortFalse     = "false"
	PortApproved  = "approved"
	PortRejected  = "rejected"
	PortCompleted = "completed"
	PortTimeout   = "timeout"
	PortFiltered  = "filtered"
	PortIteration = "iteration"
)

// Workflow is an immutable node-graph definition
type Workflow struct {
	ID          string         `json:"id"`
	Version     int            `json:"version"`
	CreatedBy   string         `json:"created_by"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Nodes       []*Node        `json:"nodes"`
	Connections []*Connection  `json:"connections"`
	Triggers    []string       `json:"triggers"`
	// Scheduler-owned state, not part of the graph definition
	DeploymentStatus  string `json:"deployment_status,omitempty"`
	DeploymentVersion int    `json:"deployment_version,omitempty"`
}

// Node is a single workflow vertex
type Node struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Type           NodeType       `json:"type"`
	Subtype        string         `json:"subtype"`
	Configurations map[string]any `json:"configurations,omitempty"`
	InputParams    map[string]any `json:"input_params,omitempty"`
	OutputParams   map[string]any `json:"output_params,omitempty"`
	// Only valid on AI_AGENT nodes; referenced nodes must be TOOL or MEMORY
	// and are never scheduled as graph vertices.
	AttachedNodes []string `json:"attached_nodes,omitempty"`
}

// Connection is a directed edge with an output-port selector
type Connection struct {
	FromNode  string `json:"from_node"`
	ToNode    string `json:"to_node"`
	OutputKey string `json:"output_key,omitempty"`
	// Optional expression transforming the payload between source and sink
	ConversionFunction string `json:"conversion_function,omitempty"`
}

// Port returns the output port this connection reads from
func (c *Connection) Port() string {
	if c.OutputKey == "" {
		return PortResult
	}
	return c.OutputKey
}

// NodeByID returns the node with the given id, or nil
func (w *Workflow) NodeByID(id string) *Node {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// TriggerNodes returns all entry-point trigger nodes
func (w *Workflow) TriggerNodes() []*Node {
	var triggers []*Node
	for _, id := range w.Triggers {
		if n := w.NodeByID(id); n != nil {
			triggers = append(triggers, n)
		}
	}
	return triggers
}

// AttachedSet returns the union of all AI_AGENT attached-node ids
func (w *Workflow) AttachedSet() map[string]bool {
	attached := make(map[string]bool)
	for _, n := range w.Nodes {
		if n.Type != NodeTypeAIAgent {
			continue
		}
		for _, id := range n.AttachedNodes {
			attached[id] = true
		}
	}
	return attached
}

// Validate checks the structural invariants of a workflow definition.
// Node schema validation against the registry is a separate concern.
func (w *Workflow) Validate() error {
	if len(w.Nodes) == 0 {
		return fmt.Errorf("workflow has no nodes")
	}

	byID := make(map[string]*Node, len(w.Nodes))
	for _, n := range w.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node without id")
		}
		if _, dup := byID[n.ID]; dup {
			return fmt.Errorf("duplicate node id: %s", n.ID)
		}
		if strings.ContainsAny(n.Name, " \t\n") {
			return fmt.Errorf("node %s: name must not contain whitespace", n.ID)
		}
		byID[n.ID] = n
	}

	// Attached nodes: only on AI_AGENT, must reference TOOL/MEMORY nodes
	attached := make(map[string]bool)
	for _, n := range w.Nodes {
		if len(n.AttachedNodes) > 0 && n.Type != NodeTypeAIAgent {
			return fmt.Errorf("node %s: attached_nodes only valid on AI_AGENT", n.ID)
		}
		for _, id := range n.AttachedNodes {
			ref, exists := byID[id]
			if !exists {
				return fmt.Errorf("node %s: attached node references non-existent node: %s", n.ID, id)
			}
			if ref.Type != NodeTypeTool && ref.Type != NodeTypeMemory {
				return fmt.Errorf("node %s: attached node %s must be TOOL or MEMORY, got %s", n.ID, id, ref.Type)
			}
			attached[id] = true
		}
	}

	// Connections reference existing, non-attached nodes
	for _, c := range w.Connections {
		if _, exists := byID[c.FromNode]; !exists {
			return fmt.Errorf("connection references non-existent node: %s", c.FromNode)
		}
		if _, exists := byID[c.ToNode]; !exists {
			return fmt.Errorf("connection references non-existent node: %s", c.ToNode)
		}
		if attached[c.FromNode] || attached[c.ToNode] {
			return fmt.Errorf("connection %s -> %s touches an attached node", c.FromNode, c.ToNode)
		}
	}

	// Entry points must be trigger nodes
	for _, id := range w.Triggers {
		n, exists := byID[id]
		if !exists {
			return fmt.Errorf("trigger references non-existent node: %s", id)
		}
		if n.Type != NodeTypeTrigger {
			return fmt.Errorf("trigger node %s must have type TRIGGER, got %s", id, n.Type)
		}
	}

	return nil
}

package graph

import (
	"fmt"

	"github.com/weavr-ai/weavr/common/errs"
	"github.com/weavr-ai/weavr/common/model"
)

// Vertex is one schedulable node with its adjacency
type Vertex struct {
	Node         *model.Node
	Dependencies []string
	Dependents   []string
	// Join nodes wait for every inbound branch before running
	WaitForAll bool
	IsTerminal bool
}

// Graph is the executable form of a workflow definition. Attached TOOL and
// MEMORY nodes are not vertices: the AI runner drives them directly.
type Graph struct {
	Workflow *model.Workflow
	Vertices map[string]*Vertex
	// Topological order over all vertices, trigger-first
	Order    []string
	outgoing map[string][]*model.Connection
}

// Build compiles a workflow definition into an executable graph.
// A cycle aborts the build before any node runs.
func Build(w *model.Workflow) (*Graph, error) {
	if err := w.Validate(); err != nil {
		return nil, errs.Wrap(errs.CodeInvalidWorkflow, "workflow validation failed", err)
	}

	attached := w.AttachedSet()
	g := &Graph{
		Workflow: w,
		Vertices: make(map[string]*Vertex),
		outgoing: make(map[string][]*model.Connection),
	}

	for _, n := range w.Nodes {
		if attached[n.ID] {
			continue
		}
		g.Vertices[n.ID] = &Vertex{
			Node:         n,
			Dependencies: []string{},
			Dependents:   []string{},
		}
	}

	for _, c := range w.Connections {
		from, exists := g.Vertices[c.FromNode]
		if !exists {
			return nil, errs.New(errs.CodeInvalidWorkflow, fmt.Sprintf("connection references non-existent node: %s", c.FromNode))
		}
		to, exists := g.Vertices[c.ToNode]
		if !exists {
			return nil, errs.New(errs.CodeInvalidWorkflow, fmt.Sprintf("connection references non-existent node: %s", c.ToNode))
		}

		from.Dependents = append(from.Dependents, c.ToNode)
		to.Dependencies = append(to.Dependencies, c.FromNode)
		g.outgoing[c.FromNode] = append(g.outgoing[c.FromNode], c)
	}

	for _, v := range g.Vertices {
		if len(v.Dependencies) > 1 || v.Node.Subtype == "MERGE" {
			v.WaitForAll = true
		}
		v.IsTerminal = len(v.Dependents) == 0
	}

	order, err := g.topoSort(w)
	if err != nil {
		return nil, err
	}
	g.Order = order

	return g, nil
}

// topoSort runs Kahn's algorithm in definition order. Any remainder after
// the queue drains is a cycle.
func (g *Graph) topoSort(w *model.Workflow) ([]string, error) {
	indegree := make(map[string]int, len(g.Vertices))
	for id, v := range g.Vertices {
		indegree[id] = len(v.Dependencies)
	}

	var queue []string
	for _, n := range w.Nodes {
		if v, exists := g.Vertices[n.ID]; exists && len(v.Dependencies) == 0 {
			queue = append(queue, n.ID)
		}
	}

	order := make([]string, 0, len(g.Vertices))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, dep := range g.Vertices[id].Dependents {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) != len(g.Vertices) {
		var stuck []string
		for _, n := range w.Nodes {
			if deg, exists := indegree[n.ID]; exists && deg > 0 {
				stuck = append(stuck, n.ID)
			}
		}
		return nil, errs.New(errs.CodeCycle, "workflow contains a cycle").WithDetail("nodes", stuck)
	}
	return order, nil
}

// Vertex returns the vertex for a node id, or nil
func (g *Graph) Vertex(id string) *Vertex {
	return g.Vertices[id]
}

// Outgoing returns the connections leaving a node, in definition order
func (g *Graph) Outgoing(id string) []*model.Connection {
	return g.outgoing[id]
}

// Entry returns the trigger vertices to seed the run with. Workflows
// without declared triggers fall back to dependency-free vertices.
func (g *Graph) Entry() []*Vertex {
	var entries []*Vertex
	for _, id := range g.Workflow.Triggers {
		if v, exists := g.Vertices[id]; exists {
			entries = append(entries, v)
		}
	}
	if len(entries) > 0 {
		return entries
	}
	for _, n := range g.Workflow.Nodes {
		if v, exists := g.Vertices[n.ID]; exists && len(v.Dependencies) == 0 {
			entries = append(entries, v)
		}
	}
	return entries
}

// Readiness classifies a node given the executed and skipped sets.
// Join nodes gate on every inbound branch; everything else is ready as
// soon as any inbound branch resolved. A node whose inbound branches
// were all skipped is itself skipped, which is how an untaken IF branch
// cascades.
func (g *Graph) Readiness(id string, executed, skipped map[string]bool) (ready, skip bool) {
	v := g.Vertices[id]
	if v == nil || len(v.Dependencies) == 0 {
		return v != nil, false
	}

	done := 0
	skippedDeps := 0
	for _, dep := range v.Dependencies {
		if executed[dep] {
			done++
		} else if skipped[dep] {
			done++
			skippedDeps++
		}
	}
	if v.WaitForAll {
		if done < len(v.Dependencies) {
			return false, false
		}
		return true, skippedDeps == len(v.Dependencies)
	}
	if done == 0 {
		return false, false
	}
	return true, skippedDeps == done
}

// Descendants returns every vertex reachable from the given node
func (g *Graph) Descendants(id string) map[string]bool {
	out := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		v := g.Vertices[cur]
		if v == nil {
			return
		}
		for _, dep := range v.Dependents {
			if !out[dep] {
				out[dep] = true
				walk(dep)
			}
		}
	}
	walk(id)
	return out
}

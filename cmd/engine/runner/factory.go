package runner

import (
	"context"
	"fmt"

	"github.com/weavr-ai/weavr/common/model"
)

// Factory resolves a Runner for each (type, subtype) pair
type Factory struct {
	runners     map[string]Runner
	passthrough Runner
	logger      Logger
}

// NewFactory creates an empty factory with a passthrough fallback
func NewFactory(logger Logger) *Factory {
	return &Factory{
		runners:     make(map[string]Runner),
		passthrough: NewPassthrough(),
		logger:      logger,
	}
}

// Register binds a runner to a (type, subtype) pair
func (f *Factory) Register(nodeType model.NodeType, subtype string, r Runner) {
	f.runners[key(nodeType, subtype)] = r
}

// RegisterType binds a runner to every subtype of a node type
func (f *Factory) RegisterType(nodeType model.NodeType, r Runner) {
	f.runners[key(nodeType, "*")] = r
}

// Resolve picks the runner for a node. Unknown pairs fall back to
// passthrough so a partially built workflow stays debuggable.
func (f *Factory) Resolve(node *model.Node) Runner {
	if r, exists := f.runners[key(node.Type, node.Subtype)]; exists {
		return r
	}
	if r, exists := f.runners[key(node.Type, "*")]; exists {
		return r
	}
	f.logger.Warn("no runner registered, using passthrough", "type", node.Type, "subtype", node.Subtype)
	return f.passthrough
}

func key(nodeType model.NodeType, subtype string) string {
	return fmt.Sprintf("%s.%s", nodeType, subtype)
}

// Passthrough copies inputs to the result port. It keeps unknown node
// kinds observable instead of failing the whole run.
type Passthrough struct{}

// NewPassthrough creates the fallback runner
func NewPassthrough() *Passthrough {
	return &Passthrough{}
}

// Run copies the aggregated inputs onto the result port
func (p *Passthrough) Run(ctx context.Context, req *Request) (map[string]any, error) {
	return map[string]any{model.PortResult: req.Inputs}, nil
}

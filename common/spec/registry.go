package spec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/weavr-ai/weavr/common/model"
)

// Logger is the minimal logging surface the registry needs
type Logger interface {
	Warn(msg string, args ...any)
}

// Registry holds every known node specification, keyed by (type, subtype).
// It is populated once at startup and read-only afterwards.
type Registry struct {
	specs  map[string]*NodeSpec
	logger Logger
}

// NewRegistry builds a registry over the built-in catalog
func NewRegistry(logger Logger) *Registry {
	r := &Registry{
		specs:  make(map[string]*NodeSpec),
		logger: logger,
	}
	for _, s := range builtinSpecs() {
		r.register(s)
	}
	return r
}

func (r *Registry) register(s *NodeSpec) {
	r.specs[specKey(string(s.Type), s.Subtype)] = s
}

func specKey(nodeType, subtype string) string {
	return nodeType + "." + subtype
}

// Lookup resolves the spec for a (type, subtype) pair. A legacy "_NODE"
// suffix on the type is accepted and stripped with a warning.
func (r *Registry) Lookup(nodeType model.NodeType, subtype string) (*NodeSpec, bool) {
	t := string(nodeType)
	if strings.HasSuffix(t, "_NODE") {
		stripped := strings.TrimSuffix(t, "_NODE")
		if r.logger != nil {
			r.logger.Warn("legacy _NODE type suffix", "type", t, "normalized", stripped)
		}
		t = stripped
	}
	s, ok := r.specs[specKey(t, subtype)]
	return s, ok
}

// List returns every registered spec
func (r *Registry) List() []*NodeSpec {
	out := make([]*NodeSpec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	return out
}

// Validate checks a node's configurations against its spec. All violations
// are collected rather than stopping at the first.
func (r *Registry) Validate(node *model.Node) []error {
	s, ok := r.Lookup(node.Type, node.Subtype)
	if !ok {
		return []error{fmt.Errorf("unknown node spec: %s.%s", node.Type, node.Subtype)}
	}

	var errs []error
	for name, schema := range s.Configurations {
		val, present := node.Configurations[name]
		if !present || val == nil {
			if schema.Required && schema.Default == nil {
				errs = append(errs, fmt.Errorf("node %s: missing required configuration %q", node.ID, name))
			}
			continue
		}
		if err := checkValue(name, val, schema); err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", node.ID, err))
		}
	}
	return errs
}

func checkValue(name string, val any, schema ParamSchema) error {
	coerced, ok := coerce(val, schema.Type)
	if !ok {
		return fmt.Errorf("configuration %q: expected %s, got %T", name, schema.Type, val)
	}

	switch schema.Type {
	case ParamInteger, ParamFloat:
		f := toFloat(coerced)
		if schema.Min != nil && f < *schema.Min {
			return fmt.Errorf("configuration %q: %v below minimum %v", name, f, *schema.Min)
		}
		if schema.Max != nil && f > *schema.Max {
			return fmt.Errorf("configuration %q: %v above maximum %v", name, f, *schema.Max)
		}
	case ParamString:
		str := coerced.(string)
		if len(schema.Options) > 0 && !contains(schema.Options, str) {
			return fmt.Errorf("configuration %q: %q not one of %v", name, str, schema.Options)
		}
		if schema.ValidationPattern != "" {
			re, err := regexp.Compile(schema.ValidationPattern)
			if err == nil && !re.MatchString(str) {
				return fmt.Errorf("configuration %q: %q does not match %s", name, str, schema.ValidationPattern)
			}
		}
	}
	return nil
}

// Normalize returns a copy of the node with spec defaults filled into
// configurations and input params. The input node is not modified.
func (r *Registry) Normalize(node *model.Node) *model.Node {
	s, ok := r.Lookup(node.Type, node.Subtype)
	if !ok {
		return node
	}

	out := *node
	out.Configurations = withDefaults(node.Configurations, s.Configurations)
	out.InputParams = withDefaults(node.InputParams, s.InputParams)
	return &out
}

func withDefaults(values map[string]any, schemas map[string]ParamSchema) map[string]any {
	merged := make(map[string]any, len(values)+len(schemas))
	for k, v := range values {
		merged[k] = v
	}
	for name, schema := range schemas {
		if _, present := merged[name]; !present && schema.Default != nil {
			merged[name] = schema.Default
		}
	}
	return merged
}

// ShapeOutput projects a node's raw output onto its declared output params:
// undeclared keys are dropped, declared-but-absent keys get their defaults,
// and values are coerced to the declared type where possible.
// Shaping an already-shaped map returns it unchanged.
func (r *Registry) ShapeOutput(node *model.Node, raw map[string]any) map[string]any {
	s, ok := r.Lookup(node.Type, node.Subtype)
	if !ok || len(s.OutputParams) == 0 {
		return raw
	}

	shaped := make(map[string]any, len(s.OutputParams))
	for name, schema := range s.OutputParams {
		val, present := raw[name]
		if !present {
			if schema.Default != nil {
				if d, ok := coerce(schema.Default, schema.Type); ok {
					shaped[name] = d
				} else {
					shaped[name] = schema.Default
				}
			}
			continue
		}
		if coerced, ok := coerce(val, schema.Type); ok {
			shaped[name] = coerced
		} else {
			shaped[name] = val
		}
	}
	return shaped
}

// coerce converts val toward the declared type. Returns false when the
// value cannot represent the type at all.
func coerce(val any, t ParamType) (any, bool) {
	switch t {
	case ParamString:
		switch v := val.(type) {
		case string:
			return v, true
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), true
		case int:
			return strconv.Itoa(v), true
		case int64:
			return strconv.FormatInt(v, 10), true
		case bool:
			return strconv.FormatBool(v), true
		}
		return val, false
	case ParamInteger:
		switch v := val.(type) {
		case int:
			return int64(v), true
		case int64:
			return v, true
		case float64:
			return int64(v), true
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n, true
			}
		}
		return val, false
	case ParamFloat:
		switch v := val.(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
		return val, false
	case ParamBoolean:
		switch v := val.(type) {
		case bool:
			return v, true
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b, true
			}
		}
		return val, false
	case ParamJSON:
		switch val.(type) {
		case map[string]any, []any, string, float64, bool, nil:
			return val, true
		}
		return val, true
	case ParamArray:
		if _, ok := val.([]any); ok {
			return val, true
		}
		return val, false
	}
	return val, true
}

func toFloat(val any) float64 {
	switch v := val.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func contains(opts []string, s string) bool {
	for _, o := range opts {
		if o == s {
			return true
		}
	}
	return false
}

package tools

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/resilience"
)

// NameGuard rejects tool names that match danger patterns. The safety guard
// supplies the production implementation.
type NameGuard func(name string) error

// Tool is one registered, schema-validated CRM operation.
type Tool struct {
	Name        string
	Description string
	Category    Category
	EntityType  string
	Dangerous   bool

	newParams func() any
	run       func(ctx context.Context, params any) (*CRMResult, error)
}

// Registry holds the registered tool set and dispatches calls.
type Registry struct {
	tools    map[string]*Tool
	validate *validator.Validate
	guard    NameGuard
}

// NewRegistry creates an empty registry. guard is applied to every
// registration; a nil guard accepts all names.
func NewRegistry(guard NameGuard) *Registry {
	return &Registry{
		tools:    make(map[string]*Tool),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		guard:    guard,
	}
}

// Register adds a tool, rejecting names the guard blocks or duplicates.
func (r *Registry) Register(t *Tool) error {
	if t.Name == "" {
		return eris.New("registry: tool name is required")
	}
	if r.guard != nil {
		if err := r.guard(t.Name); err != nil {
			return eris.Wrap(err, "registry: blocked tool name")
		}
	}
	if _, exists := r.tools[t.Name]; exists {
		return eris.New("registry: duplicate tool " + t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// Get returns the named tool, or nil when unknown.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names lists the registered tool names.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

// Execute validates params against the tool's schema and dispatches to the
// executor. Schema failures return a client error before any side effect.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (*CRMResult, error) {
	t := r.tools[name]
	if t == nil {
		return nil, resilience.NewClientError(eris.New("registry: unknown tool "+name), 400)
	}

	typed := t.newParams()
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, resilience.NewClientError(eris.Wrap(err, "registry: encode params"), 400)
	}
	if err := json.Unmarshal(raw, typed); err != nil {
		return nil, resilience.NewClientError(eris.Wrapf(err, "registry: decode %s params", name), 400)
	}
	if err := r.validate.Struct(typed); err != nil {
		return nil, resilience.NewClientError(eris.Wrapf(err, "registry: invalid %s params", name), 400)
	}

	return t.run(ctx, typed)
}

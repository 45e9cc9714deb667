package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/roostlabs/roost/pkg/domain"
	"github.com/roostlabs/roost/pkg/model"
)

// Registry holds the named tool set and enforces the safety boundary on
// every invocation.
type Registry struct {
	policy Policy

	mu    sync.RWMutex
	defs  map[string]Definition
	order []string
}

// NewRegistry creates an empty registry bound to a safety policy.
func NewRegistry(policy Policy) *Registry {
	return &Registry{
		policy: policy,
		defs:   make(map[string]Definition),
	}
}

// Register adds a definition. A duplicate name is a configuration error: the
// conflicting tool is excluded, the registry keeps the first registration.
func (r *Registry) Register(def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	r.defs[def.Name] = def
	r.order = append(r.order, def.Name)
	slog.Debug("Registered tool", "name", def.Name, "skill", def.Skill)
	return nil
}

// Get looks up a definition by name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// List returns definitions in registration order, optionally filtered by
// skill. Registration order is the catalog presentation order.
func (r *Registry) List(skill string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		def := r.defs[name]
		if skill == "" || def.Skill == skill {
			out = append(out, def)
		}
	}
	return out
}

// Names returns all registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Specs renders the full catalog for the model.
func (r *Registry) Specs() []model.ToolSpec {
	return specsOf(r.List(""))
}

// SubsetSpecs renders the catalog for a named subset, skipping unknown
// names.
func (r *Registry) SubsetSpecs(names []string) []model.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var defs []Definition
	for _, name := range names {
		if def, ok := r.defs[name]; ok {
			defs = append(defs, def)
		}
	}
	return specsOf(defs)
}

func specsOf(defs []Definition) []model.ToolSpec {
	specs := make([]model.ToolSpec, 0, len(defs))
	for _, def := range defs {
		specs = append(specs, def.Spec())
	}
	return specs
}

// DescribeAll renders a human-readable capability catalog grouped by skill,
// for the system prompt.
func (r *Registry) DescribeAll() string {
	defs := r.List("")
	bySkill := make(map[string][]Definition)
	for _, def := range defs {
		skill := def.Skill
		if skill == "" {
			skill = "general"
		}
		bySkill[skill] = append(bySkill[skill], def)
	}
	skills := make([]string, 0, len(bySkill))
	for skill := range bySkill {
		skills = append(skills, skill)
	}
	sort.Strings(skills)

	var sb strings.Builder
	for _, skill := range skills {
		fmt.Fprintf(&sb, "\n### %s\n", skill)
		for _, def := range bySkill[skill] {
			params := make([]string, 0, len(def.Params))
			for name := range def.Params {
				params = append(params, name)
			}
			sort.Strings(params)
			fmt.Fprintf(&sb, "- **%s**(%s): %s\n", def.Name, strings.Join(params, ", "), def.Description)
		}
	}
	return sb.String()
}

// InvokeOption adjusts a single invocation.
type InvokeOption func(*invokeOptions)

type invokeOptions struct {
	budget Budget
}

// WithBudget attaches an action budget: effect-causing tools are refused
// when the budget is exhausted, exactly like a protected-node refusal.
func WithBudget(b Budget) InvokeOption {
	return func(o *invokeOptions) { o.budget = b }
}

// Invoke looks up, validates, policy-checks, and executes one tool call.
// Every failure mode is returned as a result; Invoke never panics and never
// returns a Go error, so one failing tool cannot abort the calling loop.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any, opts ...InvokeOption) domain.ToolResult {
	var o invokeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if args == nil {
		args = map[string]any{}
	}

	def, ok := r.Get(name)
	if !ok {
		return refusal(ReasonValidation, fmt.Sprintf("unknown tool %q", name))
	}

	if err := def.validateArgs(args); err != nil {
		return refusal(ReasonValidation, err.Error())
	}

	// Safety policy, evaluated at invocation time.
	if def.NodeParam != "" {
		if node := StringArg(args, def.NodeParam); node != "" && r.policy.NodeProtected(node) {
			return refusal(ReasonProtected, fmt.Sprintf("cannot modify protected node %q", node))
		}
	}
	if def.PathParam != "" {
		if path := StringArg(args, def.PathParam); path != "" {
			if err := r.policy.CheckPath(path); err != nil {
				return refusal(ReasonPath, err.Error())
			}
		}
	}
	if def.Effect && o.budget != nil && !o.budget.Allow() {
		return refusal(ReasonBudget, "action budget exhausted for this hour; observe only")
	}

	content, err := r.call(ctx, def, args)
	if err != nil {
		return domain.ToolResult{
			Content: fmt.Sprintf("Error: %s failed: %v", name, err),
			IsError: true,
		}
	}
	return domain.ToolResult{Content: content}
}

// call runs the handler with a panic fence: an unexpected fault in one tool
// becomes an error result at this boundary.
func (r *Registry) call(ctx context.Context, def Definition, args map[string]any) (content string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Tool handler panicked", "tool", def.Name, "panic", rec)
			err = fmt.Errorf("internal fault: %v", rec)
		}
	}()
	return def.Handler(ctx, args)
}

func refusal(reason, msg string) domain.ToolResult {
	return domain.ToolResult{
		Content: "Refused (" + reason + "): " + msg,
		IsError: true,
		Reason:  reason,
	}
}

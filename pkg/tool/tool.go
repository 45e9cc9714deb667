// Package tool is the single call surface between language-model output and
// real effects. Every invocation passes argument validation and the safety
// policy before any handler runs.
package tool

import (
	"context"
	"fmt"

	"github.com/roostlabs/roost/pkg/model"
)

// Handler executes a tool. The returned string is shown to the model as the
// tool result; a non-nil error becomes an error result, never a fault.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Param declares one tool parameter for validation and for the catalog sent
// to the model.
type Param struct {
	Type        string // "string", "integer", "number", "boolean", "array"
	Description string
	Required    bool
	Enum        []string
	Items       string // element type when Type == "array"
}

// Definition is an immutable registered tool.
type Definition struct {
	Name        string
	Description string
	Params      map[string]Param
	Handler     Handler
	Skill       string

	// Effect marks tools that change the outside world. Effect tools are
	// counted against watcher action budgets.
	Effect bool
	// NodeParam names the argument carrying a node name; lifecycle tools
	// set it so the protected-node check runs before the handler.
	NodeParam string
	// PathParam names the argument carrying a filesystem write path; such
	// tools are confined to the allowed path prefixes.
	PathParam string
}

// Spec renders the definition for the model catalog.
func (d Definition) Spec() model.ToolSpec {
	properties := make(map[string]any, len(d.Params))
	var required []string
	for name, p := range d.Params {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Type == "array" {
			items := p.Items
			if items == "" {
				items = "string"
			}
			prop["items"] = map[string]any{"type": items}
		}
		properties[name] = prop
		if p.Required {
			required = append(required, name)
		}
	}
	params := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		params["required"] = required
	}
	return model.ToolSpec{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  params,
	}
}

// validateArgs checks presence of required parameters and the declared type
// of every provided one. JSON decoding delivers numbers as float64.
func (d Definition) validateArgs(args map[string]any) error {
	for name, p := range d.Params {
		v, ok := args[name]
		if !ok {
			if p.Required {
				return fmt.Errorf("missing required parameter %q", name)
			}
			continue
		}
		if err := checkType(name, p, v); err != nil {
			return err
		}
	}
	return nil
}

func checkType(name string, p Param, v any) error {
	switch p.Type {
	case "string":
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("parameter %q must be a string", name)
		}
		if len(p.Enum) > 0 {
			for _, e := range p.Enum {
				if s == e {
					return nil
				}
			}
			return fmt.Errorf("parameter %q must be one of %v", name, p.Enum)
		}
	case "integer":
		switch n := v.(type) {
		case float64:
			if n != float64(int64(n)) {
				return fmt.Errorf("parameter %q must be an integer", name)
			}
		case int, int64:
		default:
			return fmt.Errorf("parameter %q must be an integer", name)
		}
	case "number":
		switch v.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("parameter %q must be a number", name)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("parameter %q must be a boolean", name)
		}
	case "array":
		if _, ok := v.([]any); !ok {
			if _, ok := v.([]string); !ok {
				return fmt.Errorf("parameter %q must be an array", name)
			}
		}
	}
	return nil
}

// StringArg extracts a string argument, tolerating absence.
func StringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// IntArg extracts an integer argument with a default.
func IntArg(args map[string]any, name string, def int) int {
	switch n := args[name].(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return def
	}
}

// BoolArg extracts a boolean argument with a default.
func BoolArg(args map[string]any, name string, def bool) bool {
	b, ok := args[name].(bool)
	if !ok {
		return def
	}
	return b
}

// StringsArg extracts a string-array argument.
func StringsArg(args map[string]any, name string) []string {
	switch v := args[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

package skills

import (
	"context"
	"fmt"
	"strings"

	"github.com/roostlabs/roost/pkg/tool"
)

func registerMemory(r *tool.Registry, d Deps) error {
	return registerEach(r, []tool.Definition{
		{
			Name:        "remember",
			Description: "Store a durable note that survives restarts. Use for operator preferences, machine quirks, and recurring issues.",
			Skill:       "memory",
			Params: map[string]tool.Param{
				"content":  {Type: "string", Description: "what to remember", Required: true},
				"category": {Type: "string", Description: "grouping label (default: general)"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				id, err := d.Memory.Remember(ctx, tool.StringArg(args, "category"), tool.StringArg(args, "content"))
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Noted (id %s).", id[:8]), nil
			},
		},
		{
			Name:        "recall",
			Description: "Search stored notes by keywords, optionally within a category.",
			Skill:       "memory",
			Params: map[string]tool.Param{
				"query":    {Type: "string", Description: "keywords to match; empty returns everything"},
				"category": {Type: "string", Description: "restrict to one category"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				notes, err := d.Memory.Recall(ctx, tool.StringArg(args, "category"), tool.StringArg(args, "query"))
				if err != nil {
					return "", err
				}
				if len(notes) == 0 {
					return "No matching notes.", nil
				}
				var sb strings.Builder
				for _, n := range notes {
					fmt.Fprintf(&sb, "%s [%s] %s\n", n.ID[:8], n.Category, n.Content)
				}
				return sb.String(), nil
			},
		},
		{
			Name:        "forget",
			Description: "Delete a stored note by id.",
			Skill:       "memory",
			Params: map[string]tool.Param{
				"id": {Type: "string", Description: "note id, full or the 8-char prefix shown by recall", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				id := tool.StringArg(args, "id")
				target := id
				if len(id) == 8 {
					// Recall prints 8-char prefixes; resolve back to the full id.
					notes, err := d.Memory.Recall(ctx, "", "")
					if err != nil {
						return "", err
					}
					for _, n := range notes {
						if strings.HasPrefix(n.ID, id) {
							target = n.ID
							break
						}
					}
				}
				if err := d.Memory.Forget(ctx, target); err != nil {
					return "", err
				}
				return "Forgotten.", nil
			},
		},
	})
}

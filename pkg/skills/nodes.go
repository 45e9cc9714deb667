package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roostlabs/roost/pkg/tool"
)

func registerNodes(r *tool.Registry, d Deps) error {
	lifecycle := func(action, description string) tool.Definition {
		return tool.Definition{
			Name:        action + "_node",
			Description: description,
			Skill:       "nodes",
			Effect:      true,
			NodeParam:   "node",
			Params: map[string]tool.Param{
				"node": {Type: "string", Description: "node name", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				node := tool.StringArg(args, "node")
				reply, err := nodeCommand(ctx, d, "nodes/"+action, node, nil)
				if err != nil {
					return "", err
				}
				d.World.Refresh(ctx)
				return reply, nil
			},
		}
	}

	return registerEach(r, []tool.Definition{
		{
			Name:        "list_nodes",
			Description: "List all software nodes on this machine with status and health.",
			Skill:       "nodes",
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				d.World.Refresh(ctx)
				nodes := d.World.Nodes()
				if len(nodes) == 0 {
					return "No nodes registered with the daemon.", nil
				}
				var sb strings.Builder
				for _, n := range nodes {
					fmt.Fprintf(&sb, "%s: %s (%s)\n", n.Name, n.Status, n.Health)
				}
				return sb.String(), nil
			},
		},
		lifecycle("start", "Start a stopped node."),
		lifecycle("stop", "Stop a running node."),
		lifecycle("restart", "Restart a node."),
		{
			Name:        "build_node",
			Description: "Build or rebuild a node from its source. May take minutes.",
			Skill:       "nodes",
			Effect:      true,
			NodeParam:   "node",
			Params: map[string]tool.Param{
				"node": {Type: "string", Description: "node name", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				return nodeCommand(ctx, d, "nodes/build", tool.StringArg(args, "node"), nil)
			},
		},
		{
			Name:        "get_logs",
			Description: "Fetch the most recent log lines of a node.",
			Skill:       "nodes",
			Params: map[string]tool.Param{
				"node":  {Type: "string", Description: "node name", Required: true},
				"lines": {Type: "integer", Description: "how many lines (default 50)"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				return nodeCommand(ctx, d, "nodes/logs", tool.StringArg(args, "node"), map[string]any{
					"lines": tool.IntArg(args, "lines", 50),
				})
			},
		},
	})
}

// nodeCommand sends one control-plane command for a node. extra fields merge
// into the request payload.
func nodeCommand(ctx context.Context, d Deps, endpoint, node string, extra map[string]any) (string, error) {
	req := map[string]any{"name": node}
	for k, v := range extra {
		req[k] = v
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	reply, err := d.Bridge.QueryDaemon(ctx, endpoint, payload)
	if err != nil {
		return "", fmt.Errorf("daemon did not respond for %s: %w", endpoint, err)
	}
	return reply, nil
}

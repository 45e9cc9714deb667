package skills

import (
	"context"
	"fmt"
	"strings"

	"github.com/roostlabs/roost/pkg/tool"
)

func registerSystem(r *tool.Registry, d Deps) error {
	return registerEach(r, []tool.Definition{
		{
			Name:        "get_world_state",
			Description: "Render the full current world state: daemon health, node table, and active data topics.",
			Skill:       "system",
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				d.World.Refresh(ctx)
				return d.World.ToText(), nil
			},
		},
		{
			Name:        "system_health",
			Description: "Quick health check: daemon reachability and any failed or unhealthy nodes.",
			Skill:       "system",
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				d.World.Refresh(ctx)
				var sb strings.Builder
				switch healthy, known := d.World.DaemonHealthy(); {
				case !known:
					sb.WriteString("Daemon: unknown\n")
				case healthy:
					sb.WriteString("Daemon: healthy\n")
				default:
					sb.WriteString("Daemon: NOT RESPONDING\n")
				}
				problems := 0
				for _, n := range d.World.Nodes() {
					if n.Status == "failed" || n.Health == "unhealthy" {
						fmt.Fprintf(&sb, "PROBLEM %s: status=%s health=%s\n", n.Name, n.Status, n.Health)
						problems++
					}
				}
				if problems == 0 {
					sb.WriteString("All nodes nominal.\n")
				}
				return sb.String(), nil
			},
		},
		{
			Name:        "get_machine_info",
			Description: "Report this machine's identity and bus scope.",
			Skill:       "system",
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				return fmt.Sprintf("Machine: %s\nScope: %s\nTopic prefix: %s",
					d.Bridge.MachineID(), d.Bridge.Scope(), d.Bridge.ScopedTopic("")), nil
			},
		},
	})
}

package skills

import (
	"context"
	"fmt"
	"strings"

	"github.com/roostlabs/roost/pkg/domain"
	"github.com/roostlabs/roost/pkg/tool"
	"github.com/roostlabs/roost/pkg/watcher"
)

func registerWatchers(r *tool.Registry, d Deps) error {
	return registerEach(r, []tool.Definition{
		{
			Name: "create_watcher",
			Description: fmt.Sprintf(
				"Create a standing watcher that periodically evaluates topic data against an instruction and may act. Interval is clamped to %d-%d seconds.",
				watcher.MinIntervalSec, watcher.MaxIntervalSec),
			Skill:  "watchers",
			Effect: true,
			Params: map[string]tool.Param{
				"name":                 {Type: "string", Description: "unique watcher name", Required: true},
				"topics":               {Type: "array", Description: "topic suffixes to watch", Items: "string", Required: true},
				"instruction":          {Type: "string", Description: "standing instruction, e.g. 'stop the recorder if disk exceeds 90 percent'", Required: true},
				"interval_sec":         {Type: "integer", Description: "seconds between evaluations (default 60)"},
				"max_actions_per_hour": {Type: "integer", Description: "action budget per hour (default 5)"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				w, err := d.Watchers.Create(ctx, domain.Watcher{
					Name:              tool.StringArg(args, "name"),
					Topics:            tool.StringsArg(args, "topics"),
					Instruction:       tool.StringArg(args, "instruction"),
					IntervalSec:       tool.IntArg(args, "interval_sec", 60),
					MaxActionsPerHour: tool.IntArg(args, "max_actions_per_hour", 0),
				})
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Watcher %q created: every %ds, up to %d actions/hour.", w.Name, w.IntervalSec, w.MaxActionsPerHour), nil
			},
		},
		{
			Name:        "list_watchers",
			Description: "List active watchers with their schedules and recent evaluations.",
			Skill:       "watchers",
			Params: map[string]tool.Param{
				"history": {Type: "integer", Description: "recent evaluations to include per watcher (default 3)"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				watchers := d.Watchers.List()
				if len(watchers) == 0 {
					return "No watchers configured.", nil
				}
				history := tool.IntArg(args, "history", 3)
				var sb strings.Builder
				for _, w := range watchers {
					state := "active"
					if w.Paused {
						state = "paused"
					}
					fmt.Fprintf(&sb, "%s (%s, every %ds): %s\n", w.Name, state, w.IntervalSec, w.Instruction)
					evals, err := d.Watchers.History(ctx, w.Name, history)
					if err != nil {
						continue
					}
					for _, ev := range evals {
						fmt.Fprintf(&sb, "  [%s] %s", ev.Timestamp.Format("15:04:05"), firstLine(ev.Assessment))
						if len(ev.Actions) > 0 {
							fmt.Fprintf(&sb, " (actions: %s)", strings.Join(ev.Actions, ", "))
						}
						sb.WriteString("\n")
					}
				}
				return sb.String(), nil
			},
		},
		{
			Name:        "pause_watcher",
			Description: "Pause or resume a watcher. Paused watchers keep their schedule but skip evaluations.",
			Skill:       "watchers",
			Effect:      true,
			Params: map[string]tool.Param{
				"name":   {Type: "string", Description: "watcher name", Required: true},
				"paused": {Type: "boolean", Description: "true to pause, false to resume", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				name := tool.StringArg(args, "name")
				paused := tool.BoolArg(args, "paused", true)
				if err := d.Watchers.SetPaused(ctx, name, paused); err != nil {
					return "", err
				}
				if paused {
					return fmt.Sprintf("Watcher %q paused.", name), nil
				}
				return fmt.Sprintf("Watcher %q resumed.", name), nil
			},
		},
		{
			Name:        "remove_watcher",
			Description: "Delete a watcher and its evaluation history.",
			Skill:       "watchers",
			Effect:      true,
			Params: map[string]tool.Param{
				"name": {Type: "string", Description: "watcher name", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				name := tool.StringArg(args, "name")
				if err := d.Watchers.Remove(ctx, name); err != nil {
					return "", err
				}
				return fmt.Sprintf("Watcher %q removed.", name), nil
			},
		},
	})
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

package skills

import (
	"context"
	"fmt"
	"strings"

	"github.com/roostlabs/roost/pkg/tool"
)

func registerData(r *tool.Registry, d Deps) error {
	return registerEach(r, []tool.Definition{
		{
			Name:        "save_stream",
			Description: "Start capturing a topic's samples to files on disk. Runs until stopped, surviving restarts.",
			Skill:       "data",
			Effect:      true,
			PathParam:   "output_path",
			Params: map[string]tool.Param{
				"topic":       {Type: "string", Description: "topic suffix to capture", Required: true},
				"output_path": {Type: "string", Description: "directory to write into; must be under an allowed data path", Required: true},
				"format":      {Type: "string", Description: "output format", Enum: []string{"json", "csv", "raw"}, Required: true},
				"max_files":   {Type: "integer", Description: "file rotation cap for raw format (default 100)"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				c, err := d.Captures.Start(ctx,
					tool.StringArg(args, "topic"),
					tool.StringArg(args, "output_path"),
					tool.StringArg(args, "format"),
					tool.IntArg(args, "max_files", 0),
				)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Capture %s started: %s -> %s (%s).", c.ID, c.Topic, c.OutputPath, c.Format), nil
			},
		},
		{
			Name:        "stop_capture",
			Description: "Stop an active capture.",
			Skill:       "data",
			Effect:      true,
			Params: map[string]tool.Param{
				"id": {Type: "string", Description: "capture id", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				c, err := d.Captures.Stop(ctx, tool.StringArg(args, "id"))
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Capture %s stopped after %d samples (%d bytes).", c.ID, c.SamplesReceived, c.BytesWritten), nil
			},
		},
		{
			Name:        "list_captures",
			Description: "List active captures with their counters.",
			Skill:       "data",
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				captures := d.Captures.List()
				if len(captures) == 0 {
					return "No active captures.", nil
				}
				var sb strings.Builder
				for _, c := range captures {
					fmt.Fprintf(&sb, "%s: %s -> %s (%s, %d samples, %d bytes)\n",
						c.ID, c.Topic, c.OutputPath, c.Format, c.SamplesReceived, c.BytesWritten)
				}
				return sb.String(), nil
			},
		},
	})
}

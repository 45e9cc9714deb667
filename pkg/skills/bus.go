package skills

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roostlabs/roost/pkg/bus"
	"github.com/roostlabs/roost/pkg/tool"
)

func registerBus(r *tool.Registry, d Deps) error {
	return registerEach(r, []tool.Definition{
		{
			Name:        "subscribe_topic",
			Description: "Subscribe to a data topic so its recent samples are buffered and visible in the world state. Topic is relative to this machine, e.g. telemetry/disk.",
			Skill:       "bus",
			Params: map[string]tool.Param{
				"topic": {Type: "string", Description: "topic suffix to subscribe to", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				topic := tool.StringArg(args, "topic")
				if err := d.Bridge.Subscribe(topic, func(bus.Sample) {}); err != nil {
					return "", err
				}
				return fmt.Sprintf("Subscribed to %s. Recent samples will appear in the world state.", topic), nil
			},
		},
		{
			Name:        "read_topic",
			Description: "Read the most recent buffered samples of a subscribed topic, decoded.",
			Skill:       "bus",
			Params: map[string]tool.Param{
				"topic": {Type: "string", Description: "topic suffix", Required: true},
				"count": {Type: "integer", Description: "how many recent samples (default 5)"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				topic := tool.StringArg(args, "topic")
				count := tool.IntArg(args, "count", 5)
				samples := d.Bridge.Recent(topic, count)
				if len(samples) == 0 {
					return fmt.Sprintf("No buffered samples for %s. Subscribe first, or wait for data.", topic), nil
				}
				var sb strings.Builder
				for _, s := range samples {
					fmt.Fprintf(&sb, "[%s] %s\n", s.Timestamp.Format(time.TimeOnly), d.Bridge.Decode(s).String())
				}
				return sb.String(), nil
			},
		},
		{
			Name:        "query_topic",
			Description: "Send a query to a queryable topic and wait briefly for the reply. Times out rather than hanging; a timeout means the responder state is unknown, not stopped.",
			Skill:       "bus",
			Params: map[string]tool.Param{
				"topic":   {Type: "string", Description: "full topic key to query", Required: true},
				"payload": {Type: "string", Description: "query payload, usually JSON"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				reply, err := d.Bridge.Query(ctx, tool.StringArg(args, "topic"), []byte(tool.StringArg(args, "payload")))
				if err != nil {
					return "", err
				}
				return reply, nil
			},
		},
		{
			Name:        "publish_message",
			Description: "Publish a payload to a topic on this machine.",
			Skill:       "bus",
			Effect:      true,
			Params: map[string]tool.Param{
				"topic":   {Type: "string", Description: "topic suffix to publish to", Required: true},
				"payload": {Type: "string", Description: "message payload", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				topic := tool.StringArg(args, "topic")
				if err := d.Bridge.Publish(topic, []byte(tool.StringArg(args, "payload"))); err != nil {
					return "", err
				}
				return "Published to " + topic, nil
			},
		},
	})
}

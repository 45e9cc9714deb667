// Package prompt assembles the system prompt from live agent state.
package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/roostlabs/roost/pkg/domain"
	"github.com/roostlabs/roost/pkg/store"
	"github.com/roostlabs/roost/pkg/tool"
)

// WorldView renders the current fleet state.
type WorldView interface {
	ToText() string
}

// CaptureLister reports active captures.
type CaptureLister interface {
	List() []domain.Capture
}

// NoteSummarizer renders stored notes.
type NoteSummarizer interface {
	Summary(ctx context.Context) string
}

const defaultIdentity = `You are Roost, an autonomous agent managing a fleet of
robot software nodes on this machine. You observe live data topics, control
node lifecycles through the daemon, and set up watchers to monitor conditions
while you are not being spoken to. Be direct and concrete. Prefer acting
through tools over speculating. When data is missing say so rather than
guessing.`

// Builder composes system prompts for chat turns and watcher evaluations.
type Builder struct {
	identity string
	world    WorldView
	watchers store.WatcherStore
	captures CaptureLister
	registry *tool.Registry
	notes    NoteSummarizer
	policy   tool.Policy
}

func NewBuilder(world WorldView, watchers store.WatcherStore, captures CaptureLister, registry *tool.Registry, notes NoteSummarizer, policy tool.Policy) *Builder {
	return &Builder{
		identity: defaultIdentity,
		world:    world,
		watchers: watchers,
		captures: captures,
		registry: registry,
		notes:    notes,
		policy:   policy,
	}
}

// SetIdentity overrides the identity preamble, typically from a file.
func (b *Builder) SetIdentity(text string) {
	if s := strings.TrimSpace(text); s != "" {
		b.identity = s
	}
}

// System builds the full chat system prompt.
func (b *Builder) System(ctx context.Context) string {
	var sb strings.Builder
	sb.WriteString(b.identity)
	sb.WriteString("\n\n## Current world state\n\n")
	sb.WriteString(b.world.ToText())

	if ws, err := b.watchers.ListWatchers(ctx); err == nil && len(ws) > 0 {
		sb.WriteString("\n\n## Active watchers\n\n")
		for _, w := range ws {
			state := "active"
			if w.Paused {
				state = "paused"
			}
			fmt.Fprintf(&sb, "- %s (%s, every %ds, max %d actions/hour): %s\n",
				w.Name, state, w.IntervalSec, w.MaxActionsPerHour, w.Instruction)
		}
	}

	if caps := b.captures.List(); len(caps) > 0 {
		sb.WriteString("\n\n## Active captures\n\n")
		for _, c := range caps {
			fmt.Fprintf(&sb, "- %s: %s -> %s (%s, %d samples)\n",
				c.ID, c.Topic, c.OutputPath, c.Format, c.SamplesReceived)
		}
	}

	if mem := b.notes.Summary(ctx); mem != "" {
		sb.WriteString("\n\n## Remembered notes\n\n")
		sb.WriteString(mem)
	}

	sb.WriteString("\n\n## Available tools\n\n")
	sb.WriteString(b.registry.DescribeAll())

	sb.WriteString("\n\n## Safety rules\n\n")
	sb.WriteString(b.safetyText())
	return sb.String()
}

// WatcherSystem builds the reduced prompt for one watcher evaluation. It
// carries the watcher's instruction and the recent samples of its topics,
// not the full chat context.
func (b *Builder) WatcherSystem(w domain.Watcher, dataSummary string) string {
	var sb strings.Builder
	sb.WriteString(b.identity)
	fmt.Fprintf(&sb, "\n\nYou are running as watcher %q. Your standing instruction:\n%s\n", w.Name, w.Instruction)
	sb.WriteString("\n## Recent topic data\n\n")
	if dataSummary == "" {
		sb.WriteString("(no data received yet on watched topics)\n")
	} else {
		sb.WriteString(dataSummary)
	}
	sb.WriteString("\nAssess the data against your instruction. Take corrective action")
	sb.WriteString(" with tools only when warranted; otherwise reply with a short assessment.\n")
	sb.WriteString("\n## Safety rules\n\n")
	sb.WriteString(b.safetyText())
	return sb.String()
}

func (b *Builder) safetyText() string {
	var sb strings.Builder
	if len(b.policy.ProtectedNodes) > 0 {
		fmt.Fprintf(&sb, "- Protected nodes you may never stop, restart, or modify: %s\n",
			strings.Join(b.policy.ProtectedNodes, ", "))
	}
	if len(b.policy.AllowedPathPrefixes) > 0 {
		fmt.Fprintf(&sb, "- File writes are allowed only under: %s\n",
			strings.Join(b.policy.AllowedPathPrefixes, ", "))
	}
	sb.WriteString("- Watcher actions are budgeted per hour; refused calls report why.\n")
	return sb.String()
}

// Package world tracks live fleet state assembled from the control plane,
// rendered into the system prompt on every model call.
package world

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roostlabs/roost/pkg/domain"
)

// Bus is the slice of the topic bridge the world model needs.
type Bus interface {
	QueryDaemon(ctx context.Context, endpoint string, payload []byte) (string, error)
	BufferedTopics() map[string]int
	MachineID() string
	Scope() string
}

// Control-plane node records encode status and health as either strings or
// integers depending on daemon version.
var statusNames = map[int]string{
	0: "unknown", 1: "stopped", 2: "running",
	3: "failed", 4: "installing", 5: "building",
	6: "not_installed",
}

var healthNames = map[int]string{0: "unknown", 1: "healthy", 2: "unhealthy"}

// Model is the live world state. All methods are safe for concurrent use;
// Refresh runs on a timer while tool calls read.
type Model struct {
	bus Bus

	mu            sync.RWMutex
	nodes         map[string]domain.NodeInfo
	daemonHealthy *bool // nil until first check
	lastRefresh   time.Time
}

// New creates an empty world model.
func New(bus Bus) *Model {
	return &Model{bus: bus, nodes: make(map[string]domain.NodeInfo)}
}

// Refresh queries the control plane for the node list and daemon health.
// A missing or late reply leaves the previous node view in place and marks
// the daemon unknown. Absence of a reply is never read as "stopped".
func (m *Model) Refresh(ctx context.Context) {
	m.refreshNodes(ctx)
	m.checkDaemonHealth(ctx)
}

type nodeRecord struct {
	Name             string `json:"name"`
	Status           any    `json:"status"`
	HealthStatus     any    `json:"health_status"`
	Version          string `json:"version"`
	Description      string `json:"description"`
	NodeType         string `json:"node_type"`
	Installed        bool   `json:"installed"`
	AutostartEnabled bool   `json:"autostart_enabled"`
	MachineID        string `json:"machine_id"`
}

func (m *Model) refreshNodes(ctx context.Context) {
	reply, err := m.bus.QueryDaemon(ctx, "nodes", nil)
	if err != nil {
		slog.Debug("Node refresh failed", "error", err)
		return
	}

	var records []nodeRecord
	if err := json.Unmarshal([]byte(reply), &records); err != nil {
		// Some daemon versions wrap the list.
		var wrapped struct {
			Nodes []nodeRecord `json:"nodes"`
		}
		if err := json.Unmarshal([]byte(reply), &wrapped); err != nil {
			slog.Warn("Failed to parse node list response")
			return
		}
		records = wrapped.Nodes
	}

	now := time.Now()
	fresh := make(map[string]domain.NodeInfo, len(records))
	for _, rec := range records {
		if rec.Name == "" {
			continue
		}
		fresh[rec.Name] = domain.NodeInfo{
			Name:        rec.Name,
			Status:      decodeEnum(rec.Status, statusNames),
			Health:      decodeEnum(rec.HealthStatus, healthNames),
			Version:     rec.Version,
			Description: rec.Description,
			NodeType:    rec.NodeType,
			Installed:   rec.Installed,
			Autostart:   rec.AutostartEnabled,
			MachineID:   rec.MachineID,
			LastUpdated: now,
		}
	}

	m.mu.Lock()
	m.nodes = fresh
	m.lastRefresh = now
	m.mu.Unlock()
	slog.Debug("World model refreshed", "nodes", len(fresh))
}

func decodeEnum(v any, names map[int]string) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if name, ok := names[int(x)]; ok {
			return name
		}
		return fmt.Sprintf("%d", int(x))
	default:
		return "unknown"
	}
}

func (m *Model) checkDaemonHealth(ctx context.Context) {
	_, err := m.bus.QueryDaemon(ctx, "health", nil)
	healthy := err == nil
	m.mu.Lock()
	m.daemonHealthy = &healthy
	m.mu.Unlock()
}

// Node returns a node's tracked info.
func (m *Model) Node(name string) (domain.NodeInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[name]
	return n, ok
}

// Nodes returns all tracked nodes sorted by name.
func (m *Model) Nodes() []domain.NodeInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.NodeInfo, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DaemonHealthy reports the last health check: value and whether a check has
// happened at all.
func (m *Model) DaemonHealthy() (healthy, known bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.daemonHealthy == nil {
		return false, false
	}
	return *m.daemonHealthy, true
}

// ToText renders the world state for the system prompt.
func (m *Model) ToText() string {
	var sb strings.Builder

	switch healthy, known := m.DaemonHealthy(); {
	case !known:
		sb.WriteString("Daemon: unknown (not yet checked)\n")
	case healthy:
		sb.WriteString("Daemon: healthy\n")
	default:
		sb.WriteString("Daemon: NOT RESPONDING\n")
	}
	fmt.Fprintf(&sb, "Machine: %s | Scope: %s\n\n", m.bus.MachineID(), m.bus.Scope())

	nodes := m.Nodes()
	if len(nodes) == 0 {
		sb.WriteString("No nodes registered.")
		return sb.String()
	}

	var running, stopped, failed, unhealthy int
	for _, n := range nodes {
		switch n.Status {
		case "running":
			running++
		case "stopped":
			stopped++
		case "failed":
			failed++
		}
		if n.Health == "unhealthy" {
			unhealthy++
		}
	}
	fmt.Fprintf(&sb, "Nodes: %d total (%d running, %d stopped, %d failed)\n", len(nodes), running, stopped, failed)
	if unhealthy > 0 {
		fmt.Fprintf(&sb, "WARNING: %d node(s) unhealthy\n", unhealthy)
	}
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "%-25s %-12s %-10s %-8s %s\n", "Name", "Status", "Health", "Type", "Description")
	sb.WriteString(strings.Repeat("-", 80) + "\n")
	for _, n := range nodes {
		desc := n.Description
		if len(desc) > 40 {
			desc = desc[:40]
		}
		fmt.Fprintf(&sb, "%-25s %-12s %-10s %-8s %s\n", n.Name, n.Status, n.Health, n.NodeType, desc)
	}

	if buffered := m.bus.BufferedTopics(); len(buffered) > 0 {
		keys := make([]string, 0, len(buffered))
		for k := range buffered {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("\nActive data topics (with buffered samples):\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s (%d samples)\n", k, buffered[k])
		}
	}
	return sb.String()
}

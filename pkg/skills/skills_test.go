package skills

import (
	"context"
	"strings"
	"testing"

	"github.com/roostlabs/roost/pkg/agent"
	"github.com/roostlabs/roost/pkg/bus"
	"github.com/roostlabs/roost/pkg/capture"
	"github.com/roostlabs/roost/pkg/domain"
	"github.com/roostlabs/roost/pkg/memory"
	"github.com/roostlabs/roost/pkg/store"
	"github.com/roostlabs/roost/pkg/tool"
	"github.com/roostlabs/roost/pkg/watcher"
	"github.com/roostlabs/roost/pkg/world"
)

type memNotes struct{ notes []domain.Note }

func (m *memNotes) CreateNote(_ context.Context, n *domain.Note) error {
	m.notes = append(m.notes, *n)
	return nil
}
func (m *memNotes) ListNotes(_ context.Context) ([]domain.Note, error) { return m.notes, nil }
func (m *memNotes) DeleteNote(_ context.Context, id string) error {
	for i, n := range m.notes {
		if n.ID == id {
			m.notes = append(m.notes[:i], m.notes[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

type memWatcherStore struct{ watchers map[string]domain.Watcher }

func (m *memWatcherStore) SaveWatcher(_ context.Context, w *domain.Watcher) error {
	if m.watchers == nil {
		m.watchers = make(map[string]domain.Watcher)
	}
	m.watchers[w.Name] = *w
	return nil
}
func (m *memWatcherStore) DeleteWatcher(_ context.Context, name string) error {
	delete(m.watchers, name)
	return nil
}
func (m *memWatcherStore) ListWatchers(_ context.Context) ([]domain.Watcher, error) {
	return nil, nil
}
func (m *memWatcherStore) AppendEval(_ context.Context, _ *domain.WatcherEval) error { return nil }
func (m *memWatcherStore) RecentEvals(_ context.Context, _ string, _ int) ([]domain.WatcherEval, error) {
	return nil, nil
}

type memCaptureStore struct{ captures map[string]domain.Capture }

func (m *memCaptureStore) SaveCapture(_ context.Context, c *domain.Capture) error {
	if m.captures == nil {
		m.captures = make(map[string]domain.Capture)
	}
	m.captures[c.ID] = *c
	return nil
}
func (m *memCaptureStore) DeleteCapture(_ context.Context, id string) error {
	delete(m.captures, id)
	return nil
}
func (m *memCaptureStore) ListCaptures(_ context.Context) ([]domain.Capture, error) { return nil, nil }

type nopRunner struct{}

func (nopRunner) Run(_ context.Context, _ agent.Request) (agent.Result, error) {
	return agent.Result{State: agent.StateDone, Text: "ok"}, nil
}

func newTestDeps(t *testing.T) (*tool.Registry, Deps, *bus.MemorySession) {
	t.Helper()
	session := bus.NewMemorySession()
	bridge := bus.New(session, bus.NewDecoder(), "local", "m1")
	t.Cleanup(func() { bridge.Close() })

	policy := tool.Policy{
		ProtectedNodes:      []string{"roost-agent"},
		AllowedPathPrefixes: []string{t.TempDir() + "/"},
	}
	registry := tool.NewRegistry(policy)

	wm := world.New(bridge)
	engine := watcher.NewEngine(nopRunner{}, promptStub{}, bridge, registry, &memWatcherStore{}, 10)
	if err := engine.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(engine.Stop)

	deps := Deps{
		Bridge:   bridge,
		World:    wm,
		Watchers: engine,
		Captures: capture.NewRouter(bridge, &memCaptureStore{}, policy),
		Memory:   memory.New(&memNotes{}),
	}
	if err := RegisterAll(registry, deps); err != nil {
		t.Fatal(err)
	}
	return registry, deps, session
}

type promptStub struct{}

func (promptStub) WatcherSystem(w domain.Watcher, _ string) string { return w.Instruction }

func TestRegisterAllCatalog(t *testing.T) {
	registry, _, _ := newTestDeps(t)

	for _, name := range []string{
		"subscribe_topic", "read_topic", "query_topic", "publish_message",
		"list_nodes", "start_node", "stop_node", "restart_node", "build_node", "get_logs",
		"create_watcher", "list_watchers", "pause_watcher", "remove_watcher",
		"save_stream", "stop_capture", "list_captures",
		"remember", "recall", "forget",
		"get_world_state", "system_health", "get_machine_info",
	} {
		if _, ok := registry.Get(name); !ok {
			t.Errorf("tool %q not registered", name)
		}
	}
}

func TestLifecycleToolsGuardProtectedNodes(t *testing.T) {
	registry, _, _ := newTestDeps(t)

	res := registry.Invoke(context.Background(), "stop_node", map[string]any{"node": "roost-agent"})
	if !res.IsError || res.Reason != tool.ReasonProtected {
		t.Errorf("result = %+v, want protected refusal", res)
	}
}

func TestNodeCommandRoundTrip(t *testing.T) {
	registry, _, session := newTestDeps(t)

	session.HandleQuery("roost/m1/daemon/api/nodes/restart", func(payload []byte) ([]byte, error) {
		if !strings.Contains(string(payload), `"name":"recorder"`) {
			t.Errorf("payload = %s", payload)
		}
		return []byte("recorder restarting"), nil
	})

	res := registry.Invoke(context.Background(), "restart_node", map[string]any{"node": "recorder"})
	if res.IsError {
		t.Fatalf("restart_node failed: %+v", res)
	}
	if !strings.Contains(res.Content, "recorder restarting") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestMemoryToolsRoundTrip(t *testing.T) {
	registry, _, _ := newTestDeps(t)
	ctx := context.Background()

	res := registry.Invoke(ctx, "remember", map[string]any{"content": "recorder owns the SSD", "category": "fleet"})
	if res.IsError {
		t.Fatalf("remember failed: %+v", res)
	}

	res = registry.Invoke(ctx, "recall", map[string]any{"query": "ssd"})
	if res.IsError || !strings.Contains(res.Content, "recorder owns the SSD") {
		t.Errorf("recall = %+v", res)
	}

	id := strings.Fields(res.Content)[0]
	res = registry.Invoke(ctx, "forget", map[string]any{"id": id})
	if res.IsError {
		t.Fatalf("forget failed: %+v", res)
	}
	if res = registry.Invoke(ctx, "recall", map[string]any{"query": "ssd"}); !strings.Contains(res.Content, "No matching notes") {
		t.Errorf("recall after forget = %+v", res)
	}
}

func TestWatcherToolsRoundTrip(t *testing.T) {
	registry, deps, _ := newTestDeps(t)
	ctx := context.Background()

	res := registry.Invoke(ctx, "create_watcher", map[string]any{
		"name":        "disk-guard",
		"topics":      []any{"telemetry/disk"},
		"instruction": "stop the recorder if disk exceeds 90 percent",
	})
	if res.IsError {
		t.Fatalf("create_watcher failed: %+v", res)
	}
	if got := deps.Watchers.List(); len(got) != 1 {
		t.Fatalf("engine has %d watchers, want 1", len(got))
	}

	if res = registry.Invoke(ctx, "pause_watcher", map[string]any{"name": "disk-guard", "paused": true}); res.IsError {
		t.Fatalf("pause_watcher failed: %+v", res)
	}
	if res = registry.Invoke(ctx, "remove_watcher", map[string]any{"name": "disk-guard"}); res.IsError {
		t.Fatalf("remove_watcher failed: %+v", res)
	}
	if got := deps.Watchers.List(); len(got) != 0 {
		t.Errorf("engine still has %d watchers", len(got))
	}
}

func TestSaveStreamPathRefusedAtBoundary(t *testing.T) {
	registry, _, _ := newTestDeps(t)

	res := registry.Invoke(context.Background(), "save_stream", map[string]any{
		"topic":       "telemetry/disk",
		"output_path": "/etc/captures",
		"format":      "json",
	})
	if !res.IsError || res.Reason != tool.ReasonPath {
		t.Errorf("result = %+v, want path refusal", res)
	}
}

package watcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roostlabs/roost/pkg/agent"
	"github.com/roostlabs/roost/pkg/bus"
	"github.com/roostlabs/roost/pkg/domain"
	"github.com/roostlabs/roost/pkg/model"
	"github.com/roostlabs/roost/pkg/store"
)

type fakeStore struct {
	mu       sync.Mutex
	watchers map[string]domain.Watcher
	evals    []domain.WatcherEval
}

func newFakeStore() *fakeStore {
	return &fakeStore{watchers: make(map[string]domain.Watcher)}
}

func (f *fakeStore) SaveWatcher(_ context.Context, w *domain.Watcher) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchers[w.Name] = *w
	return nil
}

func (f *fakeStore) DeleteWatcher(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.watchers[name]; !ok {
		return store.ErrNotFound
	}
	delete(f.watchers, name)
	return nil
}

func (f *fakeStore) ListWatchers(_ context.Context) ([]domain.Watcher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Watcher
	for _, w := range f.watchers {
		out = append(out, w)
	}
	return out, nil
}

func (f *fakeStore) AppendEval(_ context.Context, ev *domain.WatcherEval) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals = append(f.evals, *ev)
	return nil
}

func (f *fakeStore) RecentEvals(_ context.Context, name string, n int) ([]domain.WatcherEval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.WatcherEval
	for _, ev := range f.evals {
		if ev.WatcherName == name {
			out = append(out, ev)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

type fakeBridgeSource struct {
	decoder *bus.Decoder
	samples map[string][]bus.Sample
}

func newFakeBridgeSource() *fakeBridgeSource {
	return &fakeBridgeSource{decoder: bus.NewDecoder(), samples: make(map[string][]bus.Sample)}
}

func (f *fakeBridgeSource) Subscribe(string, func(bus.Sample)) error { return nil }

func (f *fakeBridgeSource) Recent(suffix string, n int) []bus.Sample {
	s := f.samples[suffix]
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}

func (f *fakeBridgeSource) Decode(s bus.Sample) bus.Decoded {
	return f.decoder.Decode(s.Key, s.Payload)
}

func (f *fakeBridgeSource) add(suffix string, payload []byte) {
	f.samples[suffix] = append(f.samples[suffix], bus.Sample{Key: suffix, Payload: payload, Timestamp: time.Now()})
}

type fakeRunner struct {
	mu     sync.Mutex
	reqs   []agent.Request
	result agent.Result
	err    error
	onRun  func()
}

func (f *fakeRunner) Run(_ context.Context, req agent.Request) (agent.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.onRun != nil {
		f.onRun()
	}
	return f.result, f.err
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakePrompts struct{}

func (fakePrompts) WatcherSystem(w domain.Watcher, data string) string {
	return "watcher " + w.Name + "\n" + data
}

type fakeCatalog struct{}

func (fakeCatalog) Specs() []model.ToolSpec { return nil }

func newTestEngine(t *testing.T, runner *fakeRunner, maxEvalsPerMinute int) (*Engine, *fakeStore, *fakeBridgeSource) {
	t.Helper()
	st := newFakeStore()
	bridge := newFakeBridgeSource()
	e := NewEngine(runner, fakePrompts{}, bridge, fakeCatalog{}, st, maxEvalsPerMinute)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(e.Stop)
	return e, st, bridge
}

func TestCreateValidatesAndClamps(t *testing.T) {
	e, st, _ := newTestEngine(t, &fakeRunner{}, 10)
	ctx := context.Background()

	if _, err := e.Create(ctx, domain.Watcher{Topics: []string{"t"}, Instruction: "x"}); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := e.Create(ctx, domain.Watcher{Name: "w", Instruction: "x"}); err == nil {
		t.Error("expected error for no topics")
	}
	if _, err := e.Create(ctx, domain.Watcher{Name: "w", Topics: []string{"t"}}); err == nil {
		t.Error("expected error for no instruction")
	}

	w, err := e.Create(ctx, domain.Watcher{
		Name:        "disk-guard",
		Topics:      []string{"telemetry/disk"},
		Instruction: "watch disk",
		IntervalSec: 3, // below minimum
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if w.IntervalSec != MinIntervalSec {
		t.Errorf("interval = %d, want clamped to %d", w.IntervalSec, MinIntervalSec)
	}
	if w.MaxActionsPerHour != DefaultMaxActionsPerHour {
		t.Errorf("budget = %d, want default %d", w.MaxActionsPerHour, DefaultMaxActionsPerHour)
	}
	if _, ok := st.watchers["disk-guard"]; !ok {
		t.Error("watcher not persisted")
	}

	if _, err := e.Create(ctx, domain.Watcher{Name: "disk-guard", Topics: []string{"t"}, Instruction: "x"}); err == nil {
		t.Error("expected error for duplicate name")
	}

	big, _ := e.Create(ctx, domain.Watcher{Name: "slow", Topics: []string{"t"}, Instruction: "x", IntervalSec: 9999})
	if big.IntervalSec != MaxIntervalSec {
		t.Errorf("interval = %d, want clamped to %d", big.IntervalSec, MaxIntervalSec)
	}
}

func TestCreateRejectsInvalidTopicBeforePersisting(t *testing.T) {
	e, st, _ := newTestEngine(t, &fakeRunner{}, 10)

	_, err := e.Create(context.Background(), domain.Watcher{
		Name:        "bad",
		Topics:      []string{"bad topic!"},
		Instruction: "x",
		IntervalSec: 60,
	})
	if err == nil {
		t.Fatal("expected error for invalid topic name")
	}
	// The failed create leaves nothing behind, neither armed nor stored.
	if _, ok := st.watchers["bad"]; ok {
		t.Error("invalid watcher was persisted")
	}
	if got := e.List(); len(got) != 0 {
		t.Errorf("List = %+v, want empty", got)
	}
}

func TestConcurrentCreatesAdmitOne(t *testing.T) {
	e, st, _ := newTestEngine(t, &fakeRunner{}, 10)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Create(ctx, domain.Watcher{
				Name: "w", Topics: []string{"t"}, Instruction: "x", IntervalSec: 60,
			})
		}(i)
	}
	wg.Wait()

	var created int
	for _, err := range errs {
		if err == nil {
			created++
		}
	}
	if created != 1 {
		t.Errorf("%d creates succeeded, want exactly 1", created)
	}
	if len(st.watchers) != 1 {
		t.Errorf("store holds %d watchers, want 1", len(st.watchers))
	}
	e.mu.Lock()
	entries := len(e.entries)
	e.mu.Unlock()
	if entries != 1 {
		t.Errorf("%d timer entries, want 1", entries)
	}
}

func TestTickEvaluatesAndRecords(t *testing.T) {
	runner := &fakeRunner{result: agent.Result{
		State:   agent.StateDone,
		Text:    "Disk at 93 percent, stopping the recorder.",
		Actions: []domain.ToolCall{{ID: "t1", Name: "stop_node", Arguments: map[string]any{"node": "recorder"}}},
	}}
	e, st, bridge := newTestEngine(t, runner, 10)
	ctx := context.Background()

	bridge.add("telemetry/disk", []byte(`{"disk_pct": 93}`))
	w, err := e.Create(ctx, domain.Watcher{
		Name:        "disk-guard",
		Topics:      []string{"telemetry/disk"},
		Instruction: "Stop the recorder when disk exceeds 90 percent",
		IntervalSec: 60,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	e.tick(w.Name, e.gens[w.Name])

	if runner.calls() != 1 {
		t.Fatalf("runner called %d times, want 1", runner.calls())
	}
	req := runner.reqs[0]
	if !strings.Contains(req.System, "disk_pct") {
		t.Errorf("evaluation prompt missing topic data:\n%s", req.System)
	}
	if req.MaxRounds != EvalRounds {
		t.Errorf("MaxRounds = %d, want %d", req.MaxRounds, EvalRounds)
	}
	if req.Budget == nil {
		t.Error("evaluation ran without an action budget")
	}

	evals, _ := st.RecentEvals(ctx, "disk-guard", 10)
	if len(evals) != 1 {
		t.Fatalf("got %d evals, want 1", len(evals))
	}
	ev := evals[0]
	if len(ev.Actions) != 1 || ev.Actions[0] != "stop_node" {
		t.Errorf("actions = %v", ev.Actions)
	}
	if !strings.Contains(ev.DataSummary, "disk_pct") {
		t.Errorf("data summary = %q", ev.DataSummary)
	}
}

func TestFailedEvaluationLeavesHistoryEntry(t *testing.T) {
	runner := &fakeRunner{err: errors.New("model backend unreachable")}
	e, st, _ := newTestEngine(t, runner, 10)
	ctx := context.Background()

	w, err := e.Create(ctx, domain.Watcher{
		Name: "w", Topics: []string{"t"}, Instruction: "x", IntervalSec: 60,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	e.tick(w.Name, e.gens[w.Name])

	// The failure is a tick like any other: one history entry, then the
	// watcher waits for its next interval.
	evals, _ := st.RecentEvals(ctx, "w", 10)
	if len(evals) != 1 {
		t.Fatalf("got %d evals after a failed evaluation, want 1", len(evals))
	}
	if !strings.Contains(evals[0].Assessment, "model backend unreachable") {
		t.Errorf("assessment = %q, want the failure recorded", evals[0].Assessment)
	}
	if len(evals[0].Actions) != 0 {
		t.Errorf("actions = %v, want none", evals[0].Actions)
	}
}

func TestPausedWatcherSkipsTicks(t *testing.T) {
	runner := &fakeRunner{}
	e, st, _ := newTestEngine(t, runner, 10)
	ctx := context.Background()

	w, _ := e.Create(ctx, domain.Watcher{Name: "w", Topics: []string{"t"}, Instruction: "x", IntervalSec: 60})
	if err := e.SetPaused(ctx, "w", true); err != nil {
		t.Fatalf("SetPaused: %v", err)
	}

	e.tick(w.Name, e.gens[w.Name])
	if runner.calls() != 0 {
		t.Error("paused watcher was evaluated")
	}
	if !st.watchers["w"].Paused {
		t.Error("pause not persisted")
	}

	// Resume: the same timer keeps firing, evaluations pick back up.
	if err := e.SetPaused(ctx, "w", false); err != nil {
		t.Fatalf("SetPaused: %v", err)
	}
	e.tick(w.Name, e.gens[w.Name])
	if runner.calls() != 1 {
		t.Error("resumed watcher was not evaluated")
	}
}

func TestGlobalRateCapSkipsNotQueues(t *testing.T) {
	runner := &fakeRunner{}
	e, st, _ := newTestEngine(t, runner, 1)
	ctx := context.Background()

	w, _ := e.Create(ctx, domain.Watcher{Name: "w", Topics: []string{"t"}, Instruction: "x", IntervalSec: 60})
	gen := e.gens[w.Name]

	e.tick(w.Name, gen)
	e.tick(w.Name, gen)

	if runner.calls() != 1 {
		t.Errorf("runner called %d times, want 1 (second tick over cap)", runner.calls())
	}
	// The skipped tick leaves no trace in history.
	if evals, _ := st.RecentEvals(ctx, "w", 10); len(evals) != 1 {
		t.Errorf("got %d evals, want 1", len(evals))
	}
}

func TestRemoveDiscardsInFlightOutcome(t *testing.T) {
	runner := &fakeRunner{result: agent.Result{Text: "acted"}}
	e, st, _ := newTestEngine(t, runner, 10)
	ctx := context.Background()

	w, _ := e.Create(ctx, domain.Watcher{Name: "w", Topics: []string{"t"}, Instruction: "x", IntervalSec: 60})
	gen := e.gens[w.Name]

	// The watcher is removed while its evaluation is running.
	runner.onRun = func() {
		if err := e.Remove(ctx, "w"); err != nil {
			t.Errorf("Remove: %v", err)
		}
	}
	e.tick(w.Name, gen)

	if runner.calls() != 1 {
		t.Fatalf("runner called %d times, want 1", runner.calls())
	}
	if evals, _ := st.RecentEvals(ctx, "w", 10); len(evals) != 0 {
		t.Errorf("got %d evals after removal, want 0", len(evals))
	}
	if err := e.Remove(ctx, "w"); err == nil {
		t.Error("expected ErrNotFound removing twice")
	}
}

func TestActionBudgetExhausts(t *testing.T) {
	runner := &fakeRunner{}
	e, _, _ := newTestEngine(t, runner, 10)

	w, _ := e.Create(context.Background(), domain.Watcher{
		Name: "w", Topics: []string{"t"}, Instruction: "x",
		IntervalSec: 60, MaxActionsPerHour: 2,
	})
	budget := e.budgets[w.Name]
	if !budget.Allow() || !budget.Allow() {
		t.Fatal("first two actions should be allowed")
	}
	if budget.Allow() {
		t.Error("third action within the hour should be refused")
	}
}

func TestStartArmsPersistedWatchers(t *testing.T) {
	st := newFakeStore()
	st.watchers["persisted"] = domain.Watcher{
		Name: "persisted", Topics: []string{"t"}, Instruction: "x",
		IntervalSec: 60, MaxActionsPerHour: 3,
	}
	e := NewEngine(&fakeRunner{}, fakePrompts{}, newFakeBridgeSource(), fakeCatalog{}, st, 10)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(e.Stop)

	if got := e.List(); len(got) != 1 || got[0].Name != "persisted" {
		t.Errorf("List = %+v, want the persisted watcher", got)
	}
	if _, ok := e.entries["persisted"]; !ok {
		t.Error("persisted watcher has no timer entry")
	}
}

func TestSlidingWindowRolls(t *testing.T) {
	sw := newSlidingWindow(2, time.Hour)
	now := time.Now()
	sw.now = func() time.Time { return now }

	if !sw.Allow() || !sw.Allow() {
		t.Fatal("window should admit its limit")
	}
	if sw.Allow() {
		t.Error("full window should refuse")
	}
	now = now.Add(61 * time.Minute)
	if !sw.Allow() {
		t.Error("expired entries should free the window")
	}
}

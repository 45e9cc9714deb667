// Package watcher runs standing monitors: each watcher wakes on its own
// interval, reads recent samples from its topics, and asks the model whether
// its instruction warrants action.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/roostlabs/roost/pkg/agent"
	"github.com/roostlabs/roost/pkg/bus"
	"github.com/roostlabs/roost/pkg/domain"
	"github.com/roostlabs/roost/pkg/model"
	"github.com/roostlabs/roost/pkg/store"
)

// Interval bounds. Requests outside the range are clamped, not rejected.
const (
	MinIntervalSec = 10
	MaxIntervalSec = 3600
)

// EvalRounds bounds tool rounds within one watcher evaluation. Watchers get
// a much tighter loop than chat.
const EvalRounds = 5

// DefaultMaxActionsPerHour applies when a watcher is created without an
// explicit budget.
const DefaultMaxActionsPerHour = 5

const evalTimeout = 2 * time.Minute

// samplesPerTopic is how many recent samples of each watched topic go into
// the evaluation prompt.
const samplesPerTopic = 5

// Runner executes one bounded model/tool loop.
type Runner interface {
	Run(ctx context.Context, req agent.Request) (agent.Result, error)
}

// PromptBuilder renders the reduced evaluation prompt.
type PromptBuilder interface {
	WatcherSystem(w domain.Watcher, dataSummary string) string
}

// DataSource is the slice of the topic bridge the engine reads from.
type DataSource interface {
	Subscribe(suffix string, callback func(bus.Sample)) error
	Recent(suffix string, n int) []bus.Sample
	Decode(s bus.Sample) bus.Decoded
}

// ToolCatalog supplies the tool specs offered to evaluations.
type ToolCatalog interface {
	Specs() []model.ToolSpec
}

// Engine schedules and runs watchers. All exported methods are safe for
// concurrent use.
type Engine struct {
	runner  Runner
	prompts PromptBuilder
	bridge  DataSource
	tools   ToolCatalog
	store   store.WatcherStore
	limiter *slidingWindow // global eval rate cap
	cron    *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	watchers map[string]domain.Watcher
	entries  map[string]cron.EntryID
	budgets  map[string]*slidingWindow
	// generation fences in-flight evaluations: a tick records its watcher's
	// generation at start and its outcome is discarded when the watcher was
	// removed (and possibly recreated) while the tick ran.
	gens map[string]int
}

func NewEngine(runner Runner, prompts PromptBuilder, bridge DataSource, tools ToolCatalog, st store.WatcherStore, maxEvalsPerMinute int) *Engine {
	if maxEvalsPerMinute <= 0 {
		maxEvalsPerMinute = 10
	}
	return &Engine{
		runner:   runner,
		prompts:  prompts,
		bridge:   bridge,
		tools:    tools,
		store:    st,
		limiter:  newSlidingWindow(maxEvalsPerMinute, time.Minute),
		cron:     cron.New(),
		watchers: make(map[string]domain.Watcher),
		entries:  make(map[string]cron.EntryID),
		budgets:  make(map[string]*slidingWindow),
		gens:     make(map[string]int),
	}
}

// Start loads persisted watchers, arms their timers, and starts the
// scheduler. Timers are armed fresh: intervals missed while the agent was
// down are not backfilled.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	persisted, err := e.store.ListWatchers(ctx)
	if err != nil {
		return fmt.Errorf("loading watchers: %w", err)
	}
	for _, w := range persisted {
		if err := e.arm(w); err != nil {
			slog.Warn("Failed to arm watcher", "name", w.Name, "error", err)
			continue
		}
		slog.Info("Watcher armed", "name", w.Name, "interval_sec", w.IntervalSec, "paused", w.Paused)
	}
	e.cron.Start()
	return nil
}

// Stop halts the scheduler. In-flight evaluations finish on their own.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.cron.Stop()
}

// Create registers a new watcher and arms its timer immediately. The
// interval is clamped to the allowed range.
func (e *Engine) Create(ctx context.Context, w domain.Watcher) (domain.Watcher, error) {
	w.Name = strings.TrimSpace(w.Name)
	if w.Name == "" {
		return domain.Watcher{}, fmt.Errorf("watcher name is empty")
	}
	if len(w.Topics) == 0 {
		return domain.Watcher{}, fmt.Errorf("watcher %q has no topics", w.Name)
	}
	for _, topic := range w.Topics {
		if err := bus.ValidateTopic(topic); err != nil {
			return domain.Watcher{}, fmt.Errorf("watcher %q: %w", w.Name, err)
		}
	}
	if strings.TrimSpace(w.Instruction) == "" {
		return domain.Watcher{}, fmt.Errorf("watcher %q has no instruction", w.Name)
	}

	if w.IntervalSec < MinIntervalSec {
		w.IntervalSec = MinIntervalSec
	}
	if w.IntervalSec > MaxIntervalSec {
		w.IntervalSec = MaxIntervalSec
	}
	if w.MaxActionsPerHour <= 0 {
		w.MaxActionsPerHour = DefaultMaxActionsPerHour
	}
	w.CreatedAt = time.Now()

	// Admission and registration share one critical section: two concurrent
	// creates for the same name cannot both pass the duplicate check.
	e.mu.Lock()
	if _, exists := e.watchers[w.Name]; exists {
		e.mu.Unlock()
		return domain.Watcher{}, fmt.Errorf("watcher %q already exists", w.Name)
	}
	if err := e.armLocked(w); err != nil {
		e.mu.Unlock()
		return domain.Watcher{}, err
	}
	e.mu.Unlock()

	if err := e.store.SaveWatcher(ctx, &w); err != nil {
		e.disarm(w.Name)
		return domain.Watcher{}, fmt.Errorf("persisting watcher: %w", err)
	}
	slog.Info("Watcher created", "name", w.Name, "topics", w.Topics, "interval_sec", w.IntervalSec)
	return w, nil
}

func (e *Engine) arm(w domain.Watcher) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.armLocked(w)
}

// armLocked registers the watcher and schedules its timer. The caller holds
// e.mu.
func (e *Engine) armLocked(w domain.Watcher) error {
	for _, topic := range w.Topics {
		if err := e.bridge.Subscribe(topic, func(bus.Sample) {}); err != nil {
			return fmt.Errorf("subscribing %q: %w", topic, err)
		}
	}

	e.watchers[w.Name] = w
	e.budgets[w.Name] = newSlidingWindow(w.MaxActionsPerHour, time.Hour)
	e.gens[w.Name]++
	gen := e.gens[w.Name]

	name := w.Name
	id, err := e.cron.AddFunc(fmt.Sprintf("@every %ds", w.IntervalSec), func() {
		e.tick(name, gen)
	})
	if err != nil {
		delete(e.watchers, w.Name)
		delete(e.budgets, w.Name)
		return fmt.Errorf("scheduling watcher %q: %w", w.Name, err)
	}
	e.entries[w.Name] = id
	return nil
}

// disarm undoes armLocked without touching the store.
func (e *Engine) disarm(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id, ok := e.entries[name]; ok {
		e.cron.Remove(id)
		delete(e.entries, name)
	}
	delete(e.watchers, name)
	delete(e.budgets, name)
	e.gens[name]++
}

// Remove deletes a watcher. An evaluation already running for it completes
// but its outcome is discarded.
func (e *Engine) Remove(ctx context.Context, name string) error {
	e.mu.Lock()
	id, ok := e.entries[name]
	if ok {
		delete(e.entries, name)
		delete(e.watchers, name)
		delete(e.budgets, name)
		e.gens[name]++
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("watcher %q: %w", name, store.ErrNotFound)
	}
	e.cron.Remove(id)

	if err := e.store.DeleteWatcher(ctx, name); err != nil {
		return fmt.Errorf("deleting watcher: %w", err)
	}
	slog.Info("Watcher removed", "name", name)
	return nil
}

// SetPaused pauses or resumes a watcher. The timer keeps running either way
// so the tick phase is preserved; paused ticks are simply skipped.
func (e *Engine) SetPaused(ctx context.Context, name string, paused bool) error {
	e.mu.Lock()
	w, ok := e.watchers[name]
	if ok {
		w.Paused = paused
		e.watchers[name] = w
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("watcher %q: %w", name, store.ErrNotFound)
	}

	if err := e.store.SaveWatcher(ctx, &w); err != nil {
		return fmt.Errorf("persisting watcher: %w", err)
	}
	slog.Info("Watcher pause state changed", "name", name, "paused", paused)
	return nil
}

// List returns the armed watchers.
func (e *Engine) List() []domain.Watcher {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Watcher, 0, len(e.watchers))
	for _, w := range e.watchers {
		out = append(out, w)
	}
	return out
}

// History returns a watcher's recent evaluations, oldest first.
func (e *Engine) History(ctx context.Context, name string, n int) ([]domain.WatcherEval, error) {
	return e.store.RecentEvals(ctx, name, n)
}

// tick runs one evaluation. It runs on the cron goroutine; everything
// slow happens against a bounded context.
func (e *Engine) tick(name string, gen int) {
	e.mu.Lock()
	w, ok := e.watchers[name]
	current := e.gens[name]
	budget := e.budgets[name]
	e.mu.Unlock()
	if !ok || current != gen {
		return
	}
	if w.Paused {
		return
	}
	// The global cap protects the model backend. A tick over the cap is
	// dropped outright; the watcher just waits for its next interval.
	if !e.limiter.Allow() {
		slog.Warn("Evaluation skipped, global rate cap reached", "watcher", name)
		return
	}

	ctx, cancel := context.WithTimeout(e.ctx, evalTimeout)
	defer cancel()

	summary := e.dataSummary(w)
	res, err := e.runner.Run(ctx, agent.Request{
		System:    e.prompts.WatcherSystem(w, summary),
		History:   []model.Message{{Role: domain.RoleUser, Content: "Evaluate the current data against your instruction."}},
		Tools:     e.tools.Specs(),
		Budget:    budget,
		MaxRounds: EvalRounds,
	})

	e.mu.Lock()
	stale := e.gens[name] != gen
	e.mu.Unlock()
	if stale {
		slog.Debug("Discarding evaluation of removed watcher", "watcher", name)
		return
	}

	eval := domain.WatcherEval{
		WatcherName: name,
		Timestamp:   time.Now(),
		DataSummary: summary,
	}
	if err != nil {
		// A failed run still leaves one history entry for this tick; the
		// watcher carries on at its next interval.
		slog.Error("Watcher evaluation failed", "watcher", name, "error", err)
		eval.Assessment = fmt.Sprintf("evaluation failed: %v", err)
	} else {
		eval.Assessment = res.Text
		for _, call := range res.Actions {
			eval.Actions = append(eval.Actions, call.Name)
		}
	}
	if err := e.store.AppendEval(e.ctx, &eval); err != nil {
		slog.Error("Failed to record evaluation", "watcher", name, "error", err)
	}
	slog.Debug("Watcher evaluated", "watcher", name, "actions", len(eval.Actions))
}

func (e *Engine) dataSummary(w domain.Watcher) string {
	var sb strings.Builder
	for _, topic := range w.Topics {
		samples := e.bridge.Recent(topic, samplesPerTopic)
		if len(samples) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "%s:\n", topic)
		for _, s := range samples {
			fmt.Fprintf(&sb, "  [%s] %s\n", s.Timestamp.Format(time.TimeOnly), e.bridge.Decode(s).String())
		}
	}
	return sb.String()
}

// slidingWindow admits at most limit events per window. Used both for the
// global per-minute evaluation cap and per-watcher hourly action budgets; it
// satisfies the tool budget contract.
type slidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	times  []time.Time
	now    func() time.Time
}

func newSlidingWindow(limit int, window time.Duration) *slidingWindow {
	return &slidingWindow{limit: limit, window: window, now: time.Now}
}

// Allow consumes one slot, reporting false when the window is full.
func (s *slidingWindow) Allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	cutoff := now.Add(-s.window)
	kept := s.times[:0]
	for _, t := range s.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.times = kept
	if len(s.times) >= s.limit {
		return false
	}
	s.times = append(s.times, now)
	return true
}

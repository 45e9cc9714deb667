// Package agent runs the model/tool loop: send the conversation, execute
// requested tool calls, feed results back, repeat until the model answers in
// text or the turn limit trips.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roostlabs/roost/pkg/domain"
	"github.com/roostlabs/roost/pkg/model"
	"github.com/roostlabs/roost/pkg/store"
	"github.com/roostlabs/roost/pkg/tool"
)

// State is the loop's phase, reported through Notify and in the final result.
type State string

const (
	StateAwaitingModel    State = "awaiting_model"
	StateExecutingTools   State = "executing_tools"
	StateDone             State = "done"
	StateAbortedTurnLimit State = "aborted_turn_limit"
)

// DefaultMaxTurns bounds model rounds within one request.
const DefaultMaxTurns = 20

// DefaultWindow is how many persisted turns are replayed to the model.
const DefaultWindow = 20

// Event is one observable step of a running loop, for streaming clients.
type Event struct {
	Type     string             `json:"type"` // "state", "text", "tool_call", "tool_result"
	State    State              `json:"state,omitempty"`
	Text     string             `json:"text,omitempty"`
	ToolCall *domain.ToolCall   `json:"tool_call,omitempty"`
	Result   *domain.ToolResult `json:"result,omitempty"`
}

// Request drives one loop run. Chat requests come pre-filled by
// HandleMessage; the watcher engine builds its own with a reduced tool set
// and an action budget.
type Request struct {
	System    string
	History   []model.Message
	Tools     []model.ToolSpec
	Budget    tool.Budget
	MaxRounds int
	Notify    func(Event)
}

// Result is the outcome of one loop run. Actions lists the effect tool calls
// that actually ran and succeeded; read-only tools and refused or failed
// calls are not actions. Transcript holds the turns the run produced, in
// order, for the caller to persist or discard.
type Result struct {
	State      State
	Text       string
	Actions    []domain.ToolCall
	Transcript []domain.Turn
}

// SystemPrompter builds the system prompt for a chat request.
type SystemPrompter interface {
	System(ctx context.Context) string
}

// Agent owns the chat-facing loop. One conversation runs one request at a
// time; concurrent requests to the same conversation queue behind a
// per-conversation lock.
type Agent struct {
	provider model.Provider
	registry *tool.Registry
	prompts  SystemPrompter
	turns    store.ConversationStore
	maxTurns int
	window   int

	mu    sync.Mutex
	convs map[string]*sync.Mutex
}

func New(provider model.Provider, registry *tool.Registry, prompts SystemPrompter, turns store.ConversationStore, maxTurns int) *Agent {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Agent{
		provider: provider,
		registry: registry,
		prompts:  prompts,
		turns:    turns,
		maxTurns: maxTurns,
		window:   DefaultWindow,
		convs:    make(map[string]*sync.Mutex),
	}
}

func (a *Agent) convLock(id string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m, ok := a.convs[id]; ok {
		return m
	}
	m := &sync.Mutex{}
	a.convs[id] = m
	return m
}

// HandleMessage appends a user message to the conversation and runs the loop
// to completion. The returned text is the assistant's reply; on turn-limit
// abort it is the synthetic limit message, also persisted to the transcript.
func (a *Agent) HandleMessage(ctx context.Context, conversationID, text string, notify func(Event)) (string, error) {
	lock := a.convLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	userTurn := domain.Turn{Role: domain.RoleUser, Content: text, Timestamp: time.Now()}
	if err := a.turns.AppendTurn(ctx, conversationID, &userTurn); err != nil {
		return "", fmt.Errorf("persisting user turn: %w", err)
	}

	history, err := a.turns.RecentTurns(ctx, conversationID, a.window)
	if err != nil {
		return "", fmt.Errorf("loading conversation: %w", err)
	}

	res, err := a.Run(ctx, Request{
		System:    a.prompts.System(ctx),
		History:   ToMessages(history),
		Tools:     a.registry.Specs(),
		MaxRounds: a.maxTurns,
		Notify:    notify,
	})
	if err != nil {
		return "", err
	}

	for i := range res.Transcript {
		if err := a.turns.AppendTurn(ctx, conversationID, &res.Transcript[i]); err != nil {
			slog.Error("Failed to persist turn", "conversation", conversationID, "error", err)
		}
	}
	return res.Text, nil
}

// Run executes the loop against an explicit request. The watcher engine
// calls this directly with its reduced context.
func (a *Agent) Run(ctx context.Context, req Request) (Result, error) {
	notify := req.Notify
	if notify == nil {
		notify = func(Event) {}
	}
	maxRounds := req.MaxRounds
	if maxRounds <= 0 {
		maxRounds = a.maxTurns
	}

	msgs := make([]model.Message, 0, len(req.History)+1)
	msgs = append(msgs, model.Message{Role: domain.RoleSystem, Content: req.System})
	msgs = append(msgs, req.History...)

	var res Result
	for round := 0; round < maxRounds; round++ {
		notify(Event{Type: "state", State: StateAwaitingModel})
		resp, err := a.provider.Chat(ctx, msgs, req.Tools)
		if err != nil {
			return Result{}, fmt.Errorf("model request failed: %w", err)
		}

		if !resp.HasToolCalls() {
			turn := domain.Turn{Role: domain.RoleAssistant, Content: resp.Text, Timestamp: time.Now()}
			res.Transcript = append(res.Transcript, turn)
			res.State = StateDone
			res.Text = resp.Text
			notify(Event{Type: "text", Text: resp.Text})
			notify(Event{Type: "state", State: StateDone})
			return res, nil
		}

		notify(Event{Type: "state", State: StateExecutingTools})
		assistant := domain.Turn{
			Role:      domain.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
			Timestamp: time.Now(),
		}
		res.Transcript = append(res.Transcript, assistant)
		msgs = append(msgs, model.Message{Role: domain.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls})

		for _, call := range resp.ToolCalls {
			call := call
			notify(Event{Type: "tool_call", ToolCall: &call})

			var opts []tool.InvokeOption
			if req.Budget != nil {
				opts = append(opts, tool.WithBudget(req.Budget))
			}
			result := a.registry.Invoke(ctx, call.Name, call.Arguments, opts...)
			result.ToolCallID = call.ID
			notify(Event{Type: "tool_result", Result: &result})
			slog.Debug("Tool executed", "tool", call.Name, "error", result.IsError, "reason", result.Reason)

			if def, ok := a.registry.Get(call.Name); ok && def.Effect && !result.IsError {
				res.Actions = append(res.Actions, call)
			}
			res.Transcript = append(res.Transcript, domain.Turn{
				Role:       domain.RoleTool,
				Content:    result.Content,
				ToolCallID: call.ID,
				Timestamp:  time.Now(),
			})
			msgs = append(msgs, model.Message{Role: domain.RoleTool, Content: result.Content, ToolCallID: call.ID})
		}
	}

	// The model kept requesting tools past the round cap. Close the request
	// with an explicit marker so the transcript records why it ended.
	synth := fmt.Sprintf("Stopped after %d tool rounds without a final answer. Partial progress is recorded above; ask again to continue.", maxRounds)
	res.Transcript = append(res.Transcript, domain.Turn{Role: domain.RoleAssistant, Content: synth, Timestamp: time.Now()})
	res.State = StateAbortedTurnLimit
	res.Text = synth
	notify(Event{Type: "text", Text: synth})
	notify(Event{Type: "state", State: StateAbortedTurnLimit})
	slog.Warn("Turn limit reached", "rounds", maxRounds)
	return res, nil
}

// ToMessages converts persisted turns into the model wire shape.
func ToMessages(turns []domain.Turn) []model.Message {
	msgs := make([]model.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, model.Message{
			Role:       t.Role,
			Content:    t.Content,
			ToolCalls:  t.ToolCalls,
			ToolCallID: t.ToolCallID,
		})
	}
	return msgs
}

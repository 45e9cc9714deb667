// Package model defines the language-model capability consumed by the agent
// loop and the watcher engine.
package model

import (
	"context"

	"github.com/roostlabs/roost/pkg/domain"
)

// Message is one entry of the conversation window sent to the model.
type Message struct {
	Role       domain.Role
	Content    string
	ToolCalls  []domain.ToolCall
	ToolCallID string
}

// Response is the model's reply: either final text or a list of tool calls
// to execute. When both are present the tool calls win.
type Response struct {
	Text      string
	ToolCalls []domain.ToolCall
}

// HasToolCalls reports whether the model requested tool execution.
func (r Response) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// ToolSpec describes one callable tool to the model, with a JSON-schema
// shaped parameter description.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Provider is the request/response capability of the model backend. Chat
// carries a bounded timeout through ctx; on timeout or backend failure the
// caller receives an error result, never an indefinite hang.
type Provider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (Response, error)
}

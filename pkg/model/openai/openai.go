// Package openai implements model.Provider against any OpenAI-compatible
// chat-completions backend (OpenAI, Ollama, vLLM, LiteLLM).
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/roostlabs/roost/pkg/domain"
	"github.com/roostlabs/roost/pkg/model"
)

// Config holds the backend connection settings.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// Provider is an OpenAI-compatible model.Provider.
type Provider struct {
	client      *goopenai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
}

var _ model.Provider = (*Provider)(nil)

// New creates a provider. An empty API key is replaced with a placeholder,
// which local backends accept.
func New(cfg Config) *Provider {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "no-key-needed"
	}
	clientCfg := goopenai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	slog.Info("Model backend configured", "base_url", cfg.BaseURL, "model", cfg.Model)
	return &Provider{
		client:      goopenai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
	}
}

// Chat sends the conversation window and tool catalog to the backend and
// returns either final text or tool calls. The call is bounded by the
// provider timeout on top of ctx.
func (p *Provider) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req := goopenai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    toChatMessages(messages),
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}
	if len(tools) > 0 {
		req.Tools = toTools(tools)
		req.ToolChoice = "auto"
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return model.Response{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.Response{}, fmt.Errorf("chat completion: empty choices")
	}

	msg := resp.Choices[0].Message
	out := model.Response{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: parseArgs(tc.Function.Arguments),
		})
	}
	return out, nil
}

func toChatMessages(messages []model.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		cm := goopenai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			cm.ToolCalls = append(cm.ToolCalls, goopenai.ToolCall{
				ID:   tc.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func toTools(specs []model.ToolSpec) []goopenai.Tool {
	out := make([]goopenai.Tool, 0, len(specs))
	for _, spec := range specs {
		out = append(out, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			},
		})
	}
	return out
}

// parseArgs decodes the model's argument JSON. Malformed argument strings
// degrade to a raw wrapper rather than dropping the call.
func parseArgs(raw string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{"raw": raw}
	}
	if args == nil {
		args = map[string]any{}
	}
	return args
}

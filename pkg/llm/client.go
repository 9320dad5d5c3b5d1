// Package llm runs tool-calling agent conversations against an LLM
// backend. Backends implement a single-turn query; a shared runner
// drives the multi-turn loop, executes requested tools and accumulates
// token usage across turns.
package llm

import (
	"context"

	"github.com/goodnight-ai/goodnight/pkg/models"
)

// Roles of messages in an agent transcript.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleToolResult = "tool_result"
)

// Stop reasons reported on AgentResponse. Backends normalize their
// native stop reasons onto these values.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
	StopMaxTurns  = "max_turns"
)

// Defaults applied by DefaultAgentConfig.
const (
	DefaultMaxTurns    = 10
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
)

// ToolHandler executes one tool call. The returned string is fed back
// to the model as the tool result; a non-nil error becomes an
// error-flagged result instead of aborting the run.
type ToolHandler func(ctx context.Context, input map[string]any) (string, error)

// ToolDefinition describes one tool offered to the model. InputSchema
// is a JSON Schema object ("type", "properties", "required").
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     ToolHandler
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResult carries the outcome of a ToolCall back to the model.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// Message is one entry in the transcript. Assistant messages may carry
// tool calls; a tool result message carries exactly one ToolResult.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolResult *ToolResult
}

// AgentConfig parameterizes one agent run. Model overrides the
// provider's configured model when set.
type AgentConfig struct {
	Model        string
	SystemPrompt string
	Tools        []ToolDefinition
	MaxTurns     int
	Temperature  float64
	MaxTokens    int
}

// DefaultAgentConfig returns the baseline configuration agent runs
// start from.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		MaxTurns:    DefaultMaxTurns,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
}

// AgentResponse is the outcome of a completed agent run: the full
// transcript, usage summed over every turn, the final stop reason and
// the number of turns consumed.
type AgentResponse struct {
	Messages   []Message
	Usage      models.TokenUsage
	StopReason string
	Turns      int
}

// FinalText returns the text of the last assistant message that
// produced any, or "" when the model never answered in text.
func (r *AgentResponse) FinalText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		m := r.Messages[i]
		if m.Role == RoleAssistant && m.Content != "" {
			return m.Content
		}
	}
	return ""
}

// Provider runs agent conversations against one LLM backend.
type Provider interface {
	// Name reports the backend identifier, e.g. "anthropic" or "bedrock".
	Name() string

	// RunAgent drives a tool-calling conversation from the initial user
	// prompt until the model stops on its own or cfg.MaxTurns runs out.
	RunAgent(ctx context.Context, initialPrompt string, cfg AgentConfig) (*AgentResponse, error)

	// Complete performs a single exchange without tools and returns the
	// model's text reply. maxTokens <= 0 selects the default budget.
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// Completer is the single-shot subset of Provider, enough for callers
// that only need one-off text evaluations.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

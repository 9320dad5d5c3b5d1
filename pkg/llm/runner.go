package llm

import (
	"context"
	"fmt"

	"github.com/goodnight-ai/goodnight/pkg/models"
)

// querier is the single-turn backend call behind runLoop: send the
// transcript, get back the assistant message, the turn's token usage
// and the backend's stop reason.
type querier interface {
	query(ctx context.Context, messages []Message, cfg AgentConfig) (Message, models.TokenUsage, string, error)
}

// runLoop drives an agent conversation: query the model, execute any
// requested tools, feed the results back in, and stop on end_turn, on
// an assistant turn without tool calls, or when cfg.MaxTurns runs out.
func runLoop(ctx context.Context, q querier, initialPrompt string, cfg AgentConfig) (*AgentResponse, error) {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	messages := []Message{{Role: RoleUser, Content: initialPrompt}}
	var usage models.TokenUsage

	for turn := 1; turn <= cfg.MaxTurns; turn++ {
		assistant, turnUsage, stopReason, err := q.query(ctx, messages, cfg)
		if err != nil {
			return nil, fmt.Errorf("agent turn %d: %w", turn, err)
		}
		usage.Add(turnUsage)
		messages = append(messages, assistant)

		if stopReason == StopEndTurn || len(assistant.ToolCalls) == 0 {
			return &AgentResponse{Messages: messages, Usage: usage, StopReason: stopReason, Turns: turn}, nil
		}

		for _, call := range assistant.ToolCalls {
			result := executeTool(ctx, cfg.Tools, call)
			messages = append(messages, Message{Role: RoleToolResult, ToolResult: &result})
		}
	}

	return &AgentResponse{Messages: messages, Usage: usage, StopReason: StopMaxTurns, Turns: cfg.MaxTurns}, nil
}

// executeTool runs the handler registered for call.Name. Handler
// failures and unknown tool names come back as error-flagged results
// so the model can recover instead of the run aborting.
func executeTool(ctx context.Context, tools []ToolDefinition, call ToolCall) ToolResult {
	for _, tool := range tools {
		if tool.Name != call.Name {
			continue
		}
		if tool.Handler == nil {
			break
		}
		content, err := tool.Handler(ctx, call.Input)
		if err != nil {
			return ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
		}
		return ToolResult{ToolCallID: call.ID, Content: content}
	}
	return ToolResult{ToolCallID: call.ID, Content: "Unknown tool: " + call.Name, IsError: true}
}

// complete performs a single query without tools and returns the text
// of the reply.
func complete(ctx context.Context, q querier, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	cfg := DefaultAgentConfig()
	cfg.SystemPrompt = systemPrompt
	if maxTokens > 0 {
		cfg.MaxTokens = maxTokens
	}
	reply, _, _, err := q.query(ctx, []Message{{Role: RoleUser, Content: userPrompt}}, cfg)
	if err != nil {
		return "", err
	}
	return reply.Content, nil
}

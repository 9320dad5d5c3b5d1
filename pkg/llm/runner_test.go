package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goodnight-ai/goodnight/pkg/models"
)

type scriptedTurn struct {
	reply Message
	usage models.TokenUsage
	stop  string
	err   error
}

// scriptedQuerier returns one canned turn per query call and records
// the transcript and config it was handed.
type scriptedQuerier struct {
	turns       []scriptedTurn
	transcripts [][]Message
	configs     []AgentConfig
}

func (s *scriptedQuerier) query(_ context.Context, messages []Message, cfg AgentConfig) (Message, models.TokenUsage, string, error) {
	s.transcripts = append(s.transcripts, append([]Message(nil), messages...))
	s.configs = append(s.configs, cfg)
	turn := s.turns[len(s.transcripts)-1]
	return turn.reply, turn.usage, turn.stop, turn.err
}

func assistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

func TestRunLoopEndTurn(t *testing.T) {
	q := &scriptedQuerier{turns: []scriptedTurn{
		{reply: assistantText("all done"), usage: models.TokenUsage{InputTokens: 10, OutputTokens: 5}, stop: StopEndTurn},
	}}

	resp, err := runLoop(context.Background(), q, "find issues", DefaultAgentConfig())
	require.NoError(t, err)

	assert.Equal(t, StopEndTurn, resp.StopReason)
	assert.Equal(t, 1, resp.Turns)
	assert.Equal(t, "all done", resp.FinalText())
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, RoleUser, resp.Messages[0].Role)
	assert.Equal(t, "find issues", resp.Messages[0].Content)
	assert.Equal(t, models.TokenUsage{InputTokens: 10, OutputTokens: 5}, resp.Usage)
}

func TestRunLoopExecutesTools(t *testing.T) {
	q := &scriptedQuerier{turns: []scriptedTurn{
		{
			reply: Message{Role: RoleAssistant, ToolCalls: []ToolCall{
				{ID: "call-1", Name: "lookup", Input: map[string]any{"id": "abc"}},
				{ID: "call-2", Name: "explode"},
			}},
			usage: models.TokenUsage{InputTokens: 100, OutputTokens: 20},
			stop:  StopToolUse,
		},
		{
			reply: assistantText("done"),
			usage: models.TokenUsage{InputTokens: 150, OutputTokens: 10},
			stop:  StopEndTurn,
		},
	}}

	cfg := DefaultAgentConfig()
	cfg.Tools = []ToolDefinition{
		{
			Name: "lookup",
			Handler: func(_ context.Context, input map[string]any) (string, error) {
				return "found " + input["id"].(string), nil
			},
		},
		{
			Name: "explode",
			Handler: func(context.Context, map[string]any) (string, error) {
				return "", errors.New("handler exploded")
			},
		},
	}

	resp, err := runLoop(context.Background(), q, "go", cfg)
	require.NoError(t, err)

	assert.Equal(t, 2, resp.Turns)
	assert.Equal(t, StopEndTurn, resp.StopReason)
	assert.Equal(t, models.TokenUsage{InputTokens: 250, OutputTokens: 30}, resp.Usage)

	// Second query sees the tool results appended to the transcript.
	require.Len(t, q.transcripts, 2)
	second := q.transcripts[1]
	require.Len(t, second, 4)
	require.NotNil(t, second[2].ToolResult)
	assert.Equal(t, "call-1", second[2].ToolResult.ToolCallID)
	assert.Equal(t, "found abc", second[2].ToolResult.Content)
	assert.False(t, second[2].ToolResult.IsError)
	require.NotNil(t, second[3].ToolResult)
	assert.Equal(t, "handler exploded", second[3].ToolResult.Content)
	assert.True(t, second[3].ToolResult.IsError)
}

func TestRunLoopUnknownTool(t *testing.T) {
	q := &scriptedQuerier{turns: []scriptedTurn{
		{
			reply: Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call-9", Name: "missing"}}},
			stop:  StopToolUse,
		},
		{reply: assistantText("ok"), stop: StopEndTurn},
	}}

	resp, err := runLoop(context.Background(), q, "go", DefaultAgentConfig())
	require.NoError(t, err)

	second := q.transcripts[1]
	result := second[len(second)-1].ToolResult
	require.NotNil(t, result)
	assert.Equal(t, "Unknown tool: missing", result.Content)
	assert.True(t, result.IsError)
	assert.Equal(t, StopEndTurn, resp.StopReason)
}

func TestRunLoopMaxTurnsExhausted(t *testing.T) {
	loop := scriptedTurn{
		reply: Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c", Name: "noop"}}},
		usage: models.TokenUsage{InputTokens: 1},
		stop:  StopToolUse,
	}
	q := &scriptedQuerier{turns: []scriptedTurn{loop, loop, loop}}

	cfg := DefaultAgentConfig()
	cfg.MaxTurns = 3
	cfg.Tools = []ToolDefinition{{
		Name:    "noop",
		Handler: func(context.Context, map[string]any) (string, error) { return "", nil },
	}}

	resp, err := runLoop(context.Background(), q, "go", cfg)
	require.NoError(t, err)

	assert.Equal(t, StopMaxTurns, resp.StopReason)
	assert.Equal(t, 3, resp.Turns)
	assert.Equal(t, 3, resp.Usage.InputTokens)
}

func TestRunLoopStopsWithoutToolCalls(t *testing.T) {
	// Some models answer in text with a stop reason other than
	// end_turn; the loop must still finish.
	q := &scriptedQuerier{turns: []scriptedTurn{
		{reply: assistantText("truncated"), stop: StopMaxTokens},
	}}

	resp, err := runLoop(context.Background(), q, "go", DefaultAgentConfig())
	require.NoError(t, err)
	assert.Equal(t, StopMaxTokens, resp.StopReason)
	assert.Equal(t, 1, resp.Turns)
}

func TestRunLoopQueryError(t *testing.T) {
	q := &scriptedQuerier{turns: []scriptedTurn{
		{err: errors.New("wire broke")},
	}}

	resp, err := runLoop(context.Background(), q, "go", DefaultAgentConfig())
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "agent turn 1")
	assert.Contains(t, err.Error(), "wire broke")
}

func TestRunLoopDefaultsApplied(t *testing.T) {
	q := &scriptedQuerier{turns: []scriptedTurn{
		{reply: assistantText("hi"), stop: StopEndTurn},
	}}

	_, err := runLoop(context.Background(), q, "go", AgentConfig{})
	require.NoError(t, err)
	require.Len(t, q.configs, 1)
	assert.Equal(t, DefaultMaxTokens, q.configs[0].MaxTokens)
}

func TestComplete(t *testing.T) {
	q := &scriptedQuerier{turns: []scriptedTurn{
		{reply: assistantText(`{"score": 0.9}`), stop: StopEndTurn},
	}}

	text, err := complete(context.Background(), q, "You are a judge.", "Evaluate this.", 500)
	require.NoError(t, err)
	assert.Equal(t, `{"score": 0.9}`, text)

	require.Len(t, q.configs, 1)
	assert.Equal(t, "You are a judge.", q.configs[0].SystemPrompt)
	assert.Equal(t, 500, q.configs[0].MaxTokens)
	assert.Empty(t, q.configs[0].Tools)

	require.Len(t, q.transcripts[0], 1)
	assert.Equal(t, "Evaluate this.", q.transcripts[0][0].Content)
}

func TestCompleteError(t *testing.T) {
	q := &scriptedQuerier{turns: []scriptedTurn{
		{err: errors.New("nope")},
	}}

	_, err := complete(context.Background(), q, "", "prompt", 0)
	require.Error(t, err)
}

func TestFinalText(t *testing.T) {
	resp := &AgentResponse{Messages: []Message{
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, Content: "first"},
		{Role: RoleToolResult, ToolResult: &ToolResult{ToolCallID: "c", Content: "r"}},
		{Role: RoleAssistant, Content: "last"},
	}}
	assert.Equal(t, "last", resp.FinalText())

	empty := &AgentResponse{Messages: []Message{{Role: RoleUser, Content: "q"}}}
	assert.Equal(t, "", empty.FinalText())
}

func TestDefaultAgentConfig(t *testing.T) {
	cfg := DefaultAgentConfig()
	assert.Equal(t, 10, cfg.MaxTurns)
	assert.Equal(t, 0.7, cfg.Temperature)
	assert.Equal(t, 4096, cfg.MaxTokens)
}

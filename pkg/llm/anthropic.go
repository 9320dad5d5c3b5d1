package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/goodnight-ai/goodnight/pkg/models"
)

// DefaultAnthropicModel is used when configuration does not name one.
const DefaultAnthropicModel = "claude-sonnet-4-20250514"

// MessagesClient is the slice of the Anthropic SDK the provider needs.
// *anthropic.MessageService satisfies it.
type MessagesClient interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicProvider talks to the Anthropic Messages API directly.
type AnthropicProvider struct {
	client MessagesClient
	model  string
}

// NewAnthropicProvider builds a provider from an explicit API key,
// falling back to the ANTHROPIC_API_KEY environment variable. A
// missing key is reported as an *AuthError.
func NewAnthropicProvider(apiKey, model string) (*AnthropicProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, &AuthError{
			Message: "Anthropic API key not found",
			Hint:    "Set the ANTHROPIC_API_KEY environment variable or provider.anthropic.api_key_env in config.yaml",
		}
	}
	if model == "" {
		model = DefaultAnthropicModel
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{client: &client.Messages, model: model}, nil
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// RunAgent implements Provider.
func (p *AnthropicProvider) RunAgent(ctx context.Context, initialPrompt string, cfg AgentConfig) (*AgentResponse, error) {
	return runLoop(ctx, p, initialPrompt, cfg)
}

// Complete implements Provider.
func (p *AnthropicProvider) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	return complete(ctx, p, systemPrompt, userPrompt, maxTokens)
}

func (p *AnthropicProvider) query(ctx context.Context, messages []Message, cfg AgentConfig) (Message, models.TokenUsage, string, error) {
	model := p.model
	if cfg.Model != "" {
		model = cfg.Model
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(cfg.MaxTokens),
		Messages:  anthropicMessages(messages),
	}
	if cfg.SystemPrompt != "" {
		// The cache marker lets consecutive turns of a run reuse the
		// system prompt prefix.
		params.System = []anthropic.TextBlockParam{{
			Text:         cfg.SystemPrompt,
			CacheControl: anthropic.NewCacheControlEphemeralParam(),
		}}
	}
	if cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(cfg.Temperature)
	}
	if tools := anthropicTools(cfg.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	resp, err := p.client.New(ctx, params)
	if err != nil {
		return Message{}, models.TokenUsage{}, "", anthropicError(err)
	}

	assistant := Message{Role: RoleAssistant}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			assistant.Content = block.Text
		case "tool_use":
			input := map[string]any{}
			if len(block.Input) > 0 {
				if uerr := json.Unmarshal(block.Input, &input); uerr != nil {
					slog.Warn("Undecodable tool input", "tool", block.Name, "error", uerr)
				}
			}
			assistant.ToolCalls = append(assistant.ToolCalls, ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		}
	}

	usage := models.TokenUsage{
		InputTokens:      int(resp.Usage.InputTokens),
		OutputTokens:     int(resp.Usage.OutputTokens),
		CacheReadTokens:  int(resp.Usage.CacheReadInputTokens),
		CacheWriteTokens: int(resp.Usage.CacheCreationInputTokens),
	}
	return assistant, usage, string(resp.StopReason), nil
}

func anthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, call.Input, call.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case RoleToolResult:
			if m.ToolResult == nil {
				continue
			}
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolResult.ToolCallID, m.ToolResult.Content, m.ToolResult.IsError),
			))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

func anthropicTools(defs []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := def.InputSchema["properties"]; ok {
			schema.Properties = props
		}
		if req, ok := def.InputSchema["required"]; ok {
			schema.ExtraFields = map[string]any{"required": req}
		}
		tool := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if tool.OfTool != nil && def.Description != "" {
			tool.OfTool.Description = anthropic.String(def.Description)
		}
		out = append(out, tool)
	}
	return out
}

// anthropicError maps credential failures onto *AuthError and passes
// everything else through.
func anthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		return &AuthError{
			Message: "Anthropic API key was rejected",
			Hint:    "Check the ANTHROPIC_API_KEY environment variable",
			Err:     err,
		}
	}
	return err
}

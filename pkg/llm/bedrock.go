package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/goodnight-ai/goodnight/pkg/models"
)

// Defaults used when configuration does not name them.
const (
	DefaultBedrockRegion = "us-east-1"
	DefaultBedrockModel  = "us.anthropic.claude-sonnet-4-5-20250929-v1:0"
)

// RuntimeClient is the slice of the Bedrock runtime SDK the provider
// needs. *bedrockruntime.Client satisfies it.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockProvider talks to Anthropic models through the AWS Bedrock
// Converse API using the ambient AWS credential chain.
type BedrockProvider struct {
	client RuntimeClient
	model  string
}

// NewBedrockProvider builds a provider for the given region and model,
// resolving credentials from the default AWS chain. Credential
// failures are reported as *AuthError.
func NewBedrockProvider(ctx context.Context, region, model string) (*BedrockProvider, error) {
	if region == "" {
		region = DefaultBedrockRegion
	}
	if model == "" {
		model = DefaultBedrockModel
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, bedrockError(err)
	}
	return &BedrockProvider{client: bedrockruntime.NewFromConfig(awsCfg), model: model}, nil
}

func (p *BedrockProvider) Name() string {
	return "bedrock"
}

// RunAgent implements Provider.
func (p *BedrockProvider) RunAgent(ctx context.Context, initialPrompt string, cfg AgentConfig) (*AgentResponse, error) {
	return runLoop(ctx, p, initialPrompt, cfg)
}

// Complete implements Provider.
func (p *BedrockProvider) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	return complete(ctx, p, systemPrompt, userPrompt, maxTokens)
}

func (p *BedrockProvider) query(ctx context.Context, messages []Message, cfg AgentConfig) (Message, models.TokenUsage, string, error) {
	model := p.model
	if cfg.Model != "" {
		model = cfg.Model
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: bedrockMessages(messages),
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(cfg.MaxTokens)),
		},
	}
	if cfg.Temperature > 0 {
		input.InferenceConfig.Temperature = aws.Float32(float32(cfg.Temperature))
	}
	if cfg.SystemPrompt != "" {
		// The cache point lets consecutive turns of a run reuse the
		// system prompt prefix.
		input.System = []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: cfg.SystemPrompt},
			&brtypes.SystemContentBlockMemberCachePoint{
				Value: brtypes.CachePointBlock{Type: brtypes.CachePointTypeDefault},
			},
		}
	}
	if tools := bedrockTools(cfg.Tools); len(tools) > 0 {
		input.ToolConfig = &brtypes.ToolConfiguration{Tools: tools}
	}

	out, err := p.client.Converse(ctx, input)
	if err != nil {
		return Message{}, models.TokenUsage{}, "", bedrockError(err)
	}

	assistant := Message{Role: RoleAssistant}
	if reply, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range reply.Value.Content {
			switch b := block.(type) {
			case *brtypes.ContentBlockMemberText:
				assistant.Content = b.Value
			case *brtypes.ContentBlockMemberToolUse:
				callInput := map[string]any{}
				if b.Value.Input != nil {
					if raw, merr := b.Value.Input.MarshalSmithyDocument(); merr == nil {
						if uerr := json.Unmarshal(raw, &callInput); uerr != nil {
							slog.Warn("Undecodable tool input", "tool", aws.ToString(b.Value.Name), "error", uerr)
						}
					} else {
						slog.Warn("Undecodable tool input", "tool", aws.ToString(b.Value.Name), "error", merr)
					}
				}
				assistant.ToolCalls = append(assistant.ToolCalls, ToolCall{
					ID:    aws.ToString(b.Value.ToolUseId),
					Name:  aws.ToString(b.Value.Name),
					Input: callInput,
				})
			}
		}
	}

	var usage models.TokenUsage
	if out.Usage != nil {
		usage = models.TokenUsage{
			InputTokens:      int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens:     int(aws.ToInt32(out.Usage.OutputTokens)),
			CacheReadTokens:  int(aws.ToInt32(out.Usage.CacheReadInputTokens)),
			CacheWriteTokens: int(aws.ToInt32(out.Usage.CacheWriteInputTokens)),
		}
	}
	return assistant, usage, string(out.StopReason), nil
}

// bedrockMessages encodes the transcript for Converse. Converse
// requires strictly alternating roles, so consecutive same-role
// messages (several tool results after one assistant turn) collapse
// into a single message.
func bedrockMessages(messages []Message) []brtypes.Message {
	out := make([]brtypes.Message, 0, len(messages))
	push := func(role brtypes.ConversationRole, blocks ...brtypes.ContentBlock) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, brtypes.Message{Role: role, Content: blocks})
	}

	for _, m := range messages {
		switch m.Role {
		case RoleAssistant:
			blocks := make([]brtypes.ContentBlock, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: m.Content})
			}
			for _, call := range m.ToolCalls {
				callInput := call.Input
				if callInput == nil {
					callInput = map[string]any{}
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{
					Value: brtypes.ToolUseBlock{
						ToolUseId: aws.String(call.ID),
						Name:      aws.String(call.Name),
						Input:     document.NewLazyDocument(callInput),
					},
				})
			}
			push(brtypes.ConversationRoleAssistant, blocks...)
		case RoleToolResult:
			if m.ToolResult == nil {
				continue
			}
			result := brtypes.ToolResultBlock{
				ToolUseId: aws.String(m.ToolResult.ToolCallID),
				Content: []brtypes.ToolResultContentBlock{
					&brtypes.ToolResultContentBlockMemberText{Value: m.ToolResult.Content},
				},
			}
			if m.ToolResult.IsError {
				result.Status = brtypes.ToolResultStatusError
			}
			push(brtypes.ConversationRoleUser, &brtypes.ContentBlockMemberToolResult{Value: result})
		default:
			push(brtypes.ConversationRoleUser, &brtypes.ContentBlockMemberText{Value: m.Content})
		}
	}
	return out
}

func bedrockTools(defs []ToolDefinition) []brtypes.Tool {
	out := make([]brtypes.Tool, 0, len(defs))
	for _, def := range defs {
		schema := def.InputSchema
		if len(schema) == 0 {
			schema = map[string]any{"type": "object"}
		}
		out = append(out, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(def.Name),
				Description: aws.String(def.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(schema),
				},
			},
		})
	}
	return out
}

// bedrockError maps the AWS credential failure modes onto *AuthError
// with an operator hint, and passes everything else through.
func bedrockError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ExpiredTokenException", "ExpiredToken":
			return &AuthError{
				Message: "AWS session token has expired",
				Hint:    "Run 'aws sso login' or refresh your session credentials",
				Err:     err,
			}
		case "UnrecognizedClientException", "InvalidSignatureException":
			return &AuthError{
				Message: "AWS credentials were rejected",
				Hint:    "Run 'aws configure' or 'aws sso login' to refresh your credentials",
				Err:     err,
			}
		}
	}

	switch {
	case strings.Contains(msg, "SSO session has expired"), strings.Contains(msg, "Token has expired"):
		return &AuthError{
			Message: "AWS SSO token has expired",
			Hint:    "Run 'aws sso login' to refresh your credentials",
			Err:     err,
		}
	case strings.Contains(msg, "Unable to locate credentials"),
		strings.Contains(msg, "failed to retrieve credentials"),
		strings.Contains(msg, "no valid credential"):
		return &AuthError{
			Message: "AWS credentials not found",
			Hint:    "Configure AWS credentials with 'aws configure' or 'aws sso login'",
			Err:     err,
		}
	}
	return err
}

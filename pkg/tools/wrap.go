package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goodnight-ai/goodnight/pkg/events"
	"github.com/goodnight-ai/goodnight/pkg/llm"
	"github.com/goodnight-ai/goodnight/pkg/models"
)

const (
	argValueLimit   = 20
	argsSummaryLen  = 60
	resultPeekLen   = 60
	messagePeekLen  = 70
	fallbackKeyPeek = 3
)

// WrapWithEvents surrounds a tool handler with stream events: a tool_call
// before execution, then a tool_result or error after. The handler result
// passes through unchanged.
func WrapWithEvents(def llm.ToolDefinition, agentID, agentType string, stream *events.Stream) llm.ToolDefinition {
	if stream == nil || def.Handler == nil {
		return def
	}
	handler := def.Handler
	wrapped := def
	wrapped.Handler = func(ctx context.Context, input map[string]any) (string, error) {
		stream.Emit(events.New(agentID, agentType, events.KindToolCall, def.Name,
			fmt.Sprintf("%s(%s)", def.Name, summarizeArgs(input)),
			map[string]any{"args": input}))

		result, err := handler(ctx, input)
		if err != nil {
			stream.Emit(events.New(agentID, agentType, events.KindError, def.Name,
				fmt.Sprintf("%s error: %v", def.Name, err),
				map[string]any{"error": err.Error()}))
			return result, err
		}

		stream.Emit(events.New(agentID, agentType, events.KindToolResult, def.Name,
			extractResultSummary(def.Name, result),
			map[string]any{"result_length": len(result)}))
		return result, nil
	}
	return wrapped
}

// WrapAllWithEvents wraps every definition for one agent.
func WrapAllWithEvents(defs []llm.ToolDefinition, agentID, agentType string, stream *events.Stream) []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, len(defs))
	for i, def := range defs {
		out[i] = WrapWithEvents(def, agentID, agentType, stream)
	}
	return out
}

// summarizeArgs renders tool arguments compactly for event summaries.
// Keys are sorted so the summary is stable.
func summarizeArgs(input map[string]any) string {
	parts := make([]string, 0, len(input))
	for _, key := range sortedKeys(input) {
		parts = append(parts, key+"="+summarizeValue(input[key]))
	}
	joined := strings.Join(parts, ", ")
	joined, _ = truncateChars(joined, argsSummaryLen, "...")
	return joined
}

func summarizeValue(v any) string {
	switch val := v.(type) {
	case string:
		s, _ := truncateChars(val, argValueLimit, "...")
		return `"` + s + `"`
	case []any:
		return "<list>"
	case map[string]any:
		return "<dict>"
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return num(val)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// num renders a JSON number without a trailing .0 for integral values.
func num(v any) string {
	f, ok := v.(float64)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// extractResultSummary condenses a tool result document into one event
// line. Result shapes the tools emit get a tailored summary; anything else
// falls back to a key listing.
func extractResultSummary(name, result string) string {
	var doc map[string]any
	if err := json.Unmarshal([]byte(result), &doc); err != nil || doc == nil {
		peek, _ := truncateChars(result, resultPeekLen, "...")
		return name + ": " + peek
	}

	if errMsg, ok := doc["error"].(string); ok {
		peek, _ := truncateChars(errMsg, resultPeekLen, "")
		return name + ": ERROR - " + peek
	}

	if success, ok := doc["success"]; ok {
		if msg, ok := doc["message"].(string); ok {
			peek, _ := truncateChars(msg, messagePeekLen, "")
			return name + ": " + peek
		}
		return fmt.Sprintf("%s: success=%v", name, success)
	}

	if total, ok := doc["total"]; ok {
		switch {
		case hasKey(doc, "conversations"):
			return fmt.Sprintf("%s: %s conversations", name, num(total))
		case hasKey(doc, "issues"):
			return fmt.Sprintf("%s: %s issues", name, num(total))
		case hasKey(doc, "resolutions"):
			return fmt.Sprintf("%s: %s resolutions", name, num(total))
		case hasKey(doc, "pending_actions"):
			return fmt.Sprintf("%s: %s pending actions", name, num(total))
		}
		if results, ok := doc["results"].([]any); ok {
			return fmt.Sprintf("%s: %d results (of %s)", name, len(results), num(total))
		}
		return fmt.Sprintf("%s: total=%s", name, num(total))
	}

	if results, ok := doc["results"].([]any); ok {
		if matches, ok := doc["total_matches"]; ok {
			return fmt.Sprintf("%s: %d results (of %s)", name, len(results), num(matches))
		}
		return fmt.Sprintf("%s: %d results", name, len(results))
	}

	if msgs, ok := doc["messages"].([]any); ok {
		summary := fmt.Sprintf("%s: %d messages", name, len(msgs))
		if more, _ := doc["has_more"].(bool); more {
			summary += " (more available)"
		}
		return summary
	}

	if rec, ok := doc["recommendation"].(string); ok {
		peek, _ := truncateChars(rec, messagePeekLen, "")
		return name + ": " + peek
	}

	if id, ok := doc["issue_id"].(string); ok {
		return name + ": issue " + models.ShortID(id)
	}

	if id, ok := doc["action_id"].(string); ok {
		return name + ": action " + id
	}

	keys := sortedKeys(doc)
	if len(keys) > fallbackKeyPeek {
		keys = keys[:fallbackKeyPeek]
	}
	return name + ": {" + strings.Join(keys, ", ") + "}"
}

func hasKey(doc map[string]any, key string) bool {
	_, ok := doc[key]
	return ok
}

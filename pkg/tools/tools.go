// Package tools defines the tool APIs the dreaming agents call. Each
// pipeline stage gets a context holding its working state and a set of
// tools closing over it. Handlers never return a Go error for domain
// problems; those are encoded as {"error": ...} JSON so the agent can
// observe and recover.
package tools

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/goodnight-ai/goodnight/pkg/llm"
)

// Tool couples a name, description, and JSON schema with its handler.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
	Handler     llm.ToolHandler
}

// Definition converts the tool into the form the agent runtime consumes.
func (t Tool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.Schema,
		Handler:     t.Handler,
	}
}

// Registry is an ordered set of tools for one agent.
type Registry struct {
	tools []Tool
	index map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Add registers a tool, replacing any previous tool of the same name.
func (r *Registry) Add(t Tool) {
	if i, ok := r.index[t.Name]; ok {
		r.tools[i] = t
		return
	}
	r.index[t.Name] = len(r.tools)
	r.tools = append(r.tools, t)
}

// Names returns the tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.tools))
	for i, t := range r.tools {
		names[i] = t.Name
	}
	return names
}

// Definitions yields the registered tools for the agent runtime, in
// registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, len(r.tools))
	for i, t := range r.tools {
		defs[i] = t.Definition()
	}
	return defs
}

// objectSchema builds the JSON Schema object wrapper every tool uses.
func objectSchema(properties map[string]any, required ...string) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// marshal renders a tool result document. Marshal failures surface as an
// error document rather than breaking the agent loop.
func marshal(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("encoding result: %v", err)
	}
	return string(data)
}

// errorResult encodes a domain failure the agent should react to.
func errorResult(format string, args ...any) string {
	data, _ := json.Marshal(map[string]string{"error": fmt.Sprintf(format, args...)})
	return string(data)
}

// Argument accessors. Tool inputs arrive as decoded JSON, so numbers are
// float64 and lists are []any.

func argString(input map[string]any, key, fallback string) string {
	if v, ok := input[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func argInt(input map[string]any, key string, fallback int) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func argFloat(input map[string]any, key string, fallback float64) float64 {
	switch v := input[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

func argBool(input map[string]any, key string, fallback bool) bool {
	if v, ok := input[key].(bool); ok {
		return v
	}
	return fallback
}

func argStringSlice(input map[string]any, key string) []string {
	raw, ok := input[key].([]any)
	if !ok {
		if typed, ok := input[key].([]string); ok {
			return typed
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func argMapSlice(input map[string]any, key string) []map[string]any {
	raw, ok := input[key].([]any)
	if !ok {
		if typed, ok := input[key].([]map[string]any); ok {
			return typed
		}
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func argMap(input map[string]any, key string) map[string]any {
	m, _ := input[key].(map[string]any)
	return m
}

// sortedKeys returns the map keys in lexical order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// truncateChars cuts s at max runes, appending an ellipsis when suffix
// is set and something was cut.
func truncateChars(s string, max int, suffix string) (string, bool) {
	r := []rune(s)
	if len(r) <= max {
		return s, false
	}
	return string(r[:max]) + suffix, true
}

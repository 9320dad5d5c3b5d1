// Package events provides the in-memory agent event stream: a bounded
// ring of typed events with synchronous fan-out to subscribers and a
// per-agent activity view. The WebSocket layer and the terminal renderer
// are both subscribers.
package events

import "time"

// Kind classifies what an agent event describes.
type Kind string

const (
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindThinking   Kind = "thinking"
	KindComplete   Kind = "complete"
	KindError      Kind = "error"
)

// Agent types used in AgentEvent.AgentType.
const (
	AgentTypeAnalysis     = "analysis"
	AgentTypeComparison   = "comparison"
	AgentTypeResolution   = "resolution"
	AgentTypeOrchestrator = "orchestrator"
)

// MaxSummaryLen caps the human-readable summary on every event.
const MaxSummaryLen = 100

// AgentEvent is a single observation emitted by a running agent.
type AgentEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	AgentID   string         `json:"agent_id"`
	AgentType string         `json:"agent_type"`
	Type      Kind           `json:"event_type"`
	ToolName  string         `json:"tool_name,omitempty"`
	Summary   string         `json:"summary"`
	Details   map[string]any `json:"details,omitempty"`
}

// New builds an event stamped with the current UTC time. The summary is
// truncated to MaxSummaryLen runes.
func New(agentID, agentType string, kind Kind, toolName, summary string, details map[string]any) AgentEvent {
	return AgentEvent{
		Timestamp: time.Now().UTC(),
		AgentID:   agentID,
		AgentType: agentType,
		Type:      kind,
		ToolName:  toolName,
		Summary:   TruncateSummary(summary),
		Details:   details,
	}
}

// TruncateSummary trims s to MaxSummaryLen runes.
func TruncateSummary(s string) string {
	r := []rune(s)
	if len(r) <= MaxSummaryLen {
		return s
	}
	return string(r[:MaxSummaryLen])
}

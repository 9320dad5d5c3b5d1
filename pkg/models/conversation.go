// Package models contains the domain types shared across the pipeline:
// conversations and sessions, behavioral reports, remediations, and token
// usage accounting.
package models

import "time"

// MessageRole identifies who produced a message within a session.
type MessageRole string

const (
	RoleHuman      MessageRole = "human"
	RoleAssistant  MessageRole = "assistant"
	RoleToolCall   MessageRole = "tool_call"
	RoleToolResult MessageRole = "tool_result"
	RoleSystem     MessageRole = "system"
)

// Message is a single entry in a conversation. Tool call messages carry
// ToolName and ToolInput; tool result messages carry ToolResult.
type Message struct {
	Role       MessageRole    `json:"role"`
	Content    string         `json:"content"`
	Timestamp  *time.Time     `json:"timestamp,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	ToolResult string         `json:"tool_result,omitempty"`
}

// Conversation is one parsed session log. Immutable after ingest; all
// timestamps are UTC.
type Conversation struct {
	SessionID string         `json:"session_id"`
	Messages  []Message      `json:"messages"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Source    string         `json:"source"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// WorkingDirectory returns the working_directory metadata entry, or "" when absent.
func (c *Conversation) WorkingDirectory() string {
	if c.Metadata == nil {
		return ""
	}
	wd, _ := c.Metadata["working_directory"].(string)
	return wd
}

// MessageCount returns the number of messages in the conversation.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// HumanMessageCount returns the number of human-authored messages.
func (c *Conversation) HumanMessageCount() int {
	n := 0
	for _, m := range c.Messages {
		if m.Role == RoleHuman {
			n++
		}
	}
	return n
}

// Batch is one page of extracted conversations. Cursor is the file path the
// next extraction should resume after; it is only meaningful when HasMore.
type Batch struct {
	Conversations []Conversation `json:"conversations"`
	HasMore       bool           `json:"has_more"`
	Cursor        string         `json:"cursor,omitempty"`
}

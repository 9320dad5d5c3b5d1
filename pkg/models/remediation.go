package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation is the file-level effect of a remediation action.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpAppend Operation = "append"
)

// ParseOperation validates an operation string. Empty maps to "create".
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OpCreate, OpUpdate, OpAppend:
		return Operation(s), nil
	case "":
		return OpCreate, nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// Priority orders remediation actions by urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority validates a priority string. Empty maps to "medium".
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return Priority(s), nil
	case "":
		return PriorityMedium, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// ConversationRef ties an action back to a source session.
type ConversationRef struct {
	SessionID        string `json:"session_id"`
	WorkingDirectory string `json:"working_directory,omitempty"`
}

// RemediationAction is one artifact change drafted in Stage C.
type RemediationAction struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Target      string            `json:"target"`
	Operation   Operation         `json:"operation"`
	Content     map[string]any    `json:"content"`
	IssueRefs   []string          `json:"issue_refs"`
	References  []ConversationRef `json:"references,omitempty"`
	Priority    Priority          `json:"priority"`
	Rationale   string            `json:"rationale,omitempty"`
	LocalChange bool              `json:"local_change"`
}

// ConnectorResolution groups the actions drafted for one connector.
type ConnectorResolution struct {
	ConnectorID string              `json:"connector_id"`
	Actions     []RemediationAction `json:"actions"`
}

// Remediation is the persisted output of one dreaming cycle for one
// connector set. On disk the id, created_at, and dreaming_run_id live under
// the metadata object alongside any extra metadata keys.
type Remediation struct {
	ID            string
	CreatedAt     time.Time
	DreamingRunID string
	Resolutions   []ConnectorResolution
	Metadata      map[string]any
}

// ShortID returns the first 8 characters of an id, used in filenames and
// agent-facing views.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Actions flattens all actions across connector resolutions.
func (r *Remediation) Actions() []RemediationAction {
	var out []RemediationAction
	for _, res := range r.Resolutions {
		out = append(out, res.Actions...)
	}
	return out
}

type remediationDoc struct {
	Metadata    map[string]any        `json:"metadata"`
	Resolutions []ConnectorResolution `json:"resolutions"`
}

// MarshalJSON writes the on-disk document shape.
func (r Remediation) MarshalJSON() ([]byte, error) {
	meta := make(map[string]any, len(r.Metadata)+3)
	for k, v := range r.Metadata {
		meta[k] = v
	}
	meta["id"] = r.ID
	meta["created_at"] = r.CreatedAt.UTC().Format(time.RFC3339)
	meta["dreaming_run_id"] = r.DreamingRunID
	return json.Marshal(remediationDoc{Metadata: meta, Resolutions: r.Resolutions})
}

// UnmarshalJSON reads the on-disk document shape.
func (r *Remediation) UnmarshalJSON(data []byte) error {
	var doc remediationDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	r.Resolutions = doc.Resolutions
	r.Metadata = make(map[string]any)
	for k, v := range doc.Metadata {
		switch k {
		case "id":
			r.ID, _ = v.(string)
		case "created_at":
			if s, ok := v.(string); ok {
				ts, err := ParseTimestamp(s)
				if err != nil {
					return fmt.Errorf("invalid created_at %q: %w", s, err)
				}
				r.CreatedAt = ts
			}
		case "dreaming_run_id":
			r.DreamingRunID, _ = v.(string)
		default:
			r.Metadata[k] = v
		}
	}
	return nil
}

// ParseTimestamp accepts RFC3339 and a bare ISO form without zone, returning
// UTC.
func ParseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

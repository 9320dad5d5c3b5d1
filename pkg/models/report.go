package models

import (
	"fmt"

	"github.com/google/uuid"
)

// IssueKind classifies a detected behavioral issue.
type IssueKind string

const (
	IssueRepeatedRequest   IssueKind = "repeated_request"
	IssueFrustrationSignal IssueKind = "frustration_signal"
	IssueStyleMismatch     IssueKind = "style_mismatch"
	IssueCapabilityGap     IssueKind = "capability_gap"
	IssueKnowledgeGap      IssueKind = "knowledge_gap"
	IssueOther             IssueKind = "other"
)

// ParseIssueKind validates a kind string. Empty maps to "other".
func ParseIssueKind(s string) (IssueKind, error) {
	switch IssueKind(s) {
	case IssueRepeatedRequest, IssueFrustrationSignal, IssueStyleMismatch,
		IssueCapabilityGap, IssueKnowledgeGap, IssueOther:
		return IssueKind(s), nil
	case "":
		return IssueOther, nil
	}
	return "", fmt.Errorf("unknown issue type %q", s)
}

// Severity ranks how disruptive an issue is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity validates a severity string. Empty maps to "medium".
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s), nil
	case "":
		return SeverityMedium, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Rank orders severities for comparison: critical > high > medium > low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Evidence points into a conversation supporting an issue.
type Evidence struct {
	SessionID        string `json:"session_id"`
	MessageIndex     int    `json:"message_index"`
	Quote            string `json:"quote,omitempty"`
	Context          string `json:"context,omitempty"`
	WorkingDirectory string `json:"working_directory,omitempty"`
}

// Issue is a recurring behavioral problem detected in conversations.
type Issue struct {
	ID                  string         `json:"id"`
	Kind                IssueKind      `json:"type"`
	Severity            Severity       `json:"severity"`
	Title               string         `json:"title"`
	Description         string         `json:"description,omitempty"`
	Evidence            []Evidence     `json:"evidence,omitempty"`
	Confidence          float64        `json:"confidence"`
	SuggestedResolution string         `json:"suggested_resolution,omitempty"`
	LocalChange         bool           `json:"local_change"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// NewIssue returns an issue with a fresh id and baseline defaults
// (kind other, severity medium, confidence 0.5).
func NewIssue(title string) Issue {
	return Issue{
		ID:         uuid.NewString(),
		Kind:       IssueOther,
		Severity:   SeverityMedium,
		Title:      title,
		Confidence: 0.5,
	}
}

// AnalysisReport is the Stage A output for one connector.
type AnalysisReport struct {
	ConnectorID           string         `json:"connector_id"`
	Issues                []Issue        `json:"issues"`
	ConversationsAnalyzed int            `json:"conversations_analyzed"`
	Summary               string         `json:"summary,omitempty"`
	TokenUsage            TokenUsage     `json:"token_usage"`
	Metadata              map[string]any `json:"metadata,omitempty"`
}

// IssueStatus is the Stage B verdict for an issue.
type IssueStatus string

const (
	StatusNew             IssueStatus = "new"
	StatusRecurring       IssueStatus = "recurring"
	StatusAlreadyResolved IssueStatus = "already_resolved"
)

// ParseIssueStatus validates a status string.
func ParseIssueStatus(s string) (IssueStatus, error) {
	switch IssueStatus(s) {
	case StatusNew, StatusRecurring, StatusAlreadyResolved:
		return IssueStatus(s), nil
	}
	return "", fmt.Errorf("unknown issue status %q", s)
}

// HistoricalLink cross-references an issue to a past remediation.
type HistoricalLink struct {
	ResolutionID string  `json:"resolution_id"`
	ArtifactPath string  `json:"artifact_path,omitempty"`
	Description  string  `json:"description,omitempty"`
	Relevance    float64 `json:"relevance"`
}

// EnrichedIssue is an Issue annotated by Stage B with history and status.
type EnrichedIssue struct {
	Issue
	HistoricalLinks []HistoricalLink `json:"historical_links,omitempty"`
	IsRecurring     bool             `json:"is_recurring"`
	Status          IssueStatus      `json:"status"`
}

// SetStatus updates the status and keeps IsRecurring consistent with it.
func (e *EnrichedIssue) SetStatus(status IssueStatus) {
	e.Status = status
	e.IsRecurring = status == StatusRecurring
}

// EnrichedReport is the Stage B output: the Stage A report with statuses,
// links, and the filter verdicts applied.
type EnrichedReport struct {
	ConnectorID           string          `json:"connector_id"`
	Issues                []EnrichedIssue `json:"issues"`
	ConversationsAnalyzed int             `json:"conversations_analyzed"`
	Summary               string          `json:"summary,omitempty"`
	TokenUsage            TokenUsage      `json:"token_usage"`
	Metadata              map[string]any  `json:"metadata,omitempty"`
}

// EnrichReport wraps every issue of an analysis report with status "new".
func EnrichReport(report *AnalysisReport) *EnrichedReport {
	enriched := &EnrichedReport{
		ConnectorID:           report.ConnectorID,
		Issues:                make([]EnrichedIssue, 0, len(report.Issues)),
		ConversationsAnalyzed: report.ConversationsAnalyzed,
		Summary:               report.Summary,
		TokenUsage:            report.TokenUsage,
		Metadata:              report.Metadata,
	}
	for _, issue := range report.Issues {
		enriched.Issues = append(enriched.Issues, EnrichedIssue{Issue: issue, Status: StatusNew})
	}
	return enriched
}

// NewIssues returns the issues Stage B marked new.
func (r *EnrichedReport) NewIssues() []EnrichedIssue {
	return r.filterByStatus(StatusNew)
}

// RecurringIssues returns the issues Stage B marked recurring.
func (r *EnrichedReport) RecurringIssues() []EnrichedIssue {
	return r.filterByStatus(StatusRecurring)
}

// ResolvedIssues returns the issues Stage B marked already resolved.
func (r *EnrichedReport) ResolvedIssues() []EnrichedIssue {
	return r.filterByStatus(StatusAlreadyResolved)
}

func (r *EnrichedReport) filterByStatus(status IssueStatus) []EnrichedIssue {
	var out []EnrichedIssue
	for _, issue := range r.Issues {
		if issue.Status == status {
			out = append(out, issue)
		}
	}
	return out
}

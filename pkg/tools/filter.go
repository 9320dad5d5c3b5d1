package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/goodnight-ai/goodnight/pkg/llm"
	"github.com/goodnight-ai/goodnight/pkg/models"
	"github.com/goodnight-ai/goodnight/pkg/similarity"
	"github.com/goodnight-ai/goodnight/pkg/storage"
)

const (
	// compareMatchFloor drops matches too weak to be worth showing.
	compareMatchFloor = 0.3
	compareMatchLimit = 10

	defaultHistoryLimit  = 7
	defaultVectorMinAge  = 7
	defaultVectorResults = 5
	defaultLinkRelevance = 0.8
)

// FilterContext holds one report while the filter agent compares its
// issues against historical remediations and decides which to keep.
// Issue mutations (status, links) write through to the report.
type FilterContext struct {
	// Included maps issue id to the agent's rationale for keeping it.
	Included map[string]string
	// Excluded maps issue id to the agent's reason for dropping it.
	Excluded map[string]string

	report   *models.EnrichedReport
	issues   []*models.EnrichedIssue
	store    *storage.ResolutionStore
	vectors  *storage.VectorStore
	lookback int

	history       []*models.Remediation
	historyLoaded bool
}

// NewFilterContext wraps a report for the filter stage. vectors may be nil
// when no vector backend is configured; lookback bounds how many recent
// remediations the history tools surface.
func NewFilterContext(report *models.EnrichedReport, store *storage.ResolutionStore, vectors *storage.VectorStore, lookback int) *FilterContext {
	if lookback <= 0 {
		lookback = defaultHistoryLimit
	}
	f := &FilterContext{
		Included: make(map[string]string),
		Excluded: make(map[string]string),
		report:   report,
		store:    store,
		vectors:  vectors,
		lookback: lookback,
	}
	for i := range report.Issues {
		f.issues = append(f.issues, &report.Issues[i])
	}
	return f
}

// Selected returns the issues surviving the filter in report order: the
// explicitly included ones when the agent named any, otherwise everything
// not excluded.
func (f *FilterContext) Selected() []models.EnrichedIssue {
	selected := make([]models.EnrichedIssue, 0, len(f.issues))
	for _, issue := range f.issues {
		if len(f.Included) > 0 {
			if _, ok := f.Included[issue.ID]; ok {
				selected = append(selected, *issue)
			}
			continue
		}
		if _, ok := f.Excluded[issue.ID]; !ok {
			selected = append(selected, *issue)
		}
	}
	return selected
}

// findIssue resolves an issue id, accepting the shortened form shown in
// prompts. Exact match wins over prefix.
func (f *FilterContext) findIssue(id string) *models.EnrichedIssue {
	if id == "" {
		return nil
	}
	for _, issue := range f.issues {
		if issue.ID == id {
			return issue
		}
	}
	for _, issue := range f.issues {
		if strings.HasPrefix(issue.ID, id) {
			return issue
		}
	}
	return nil
}

// historical lazily loads the recent remediation window.
func (f *FilterContext) historical() ([]*models.Remediation, error) {
	if f.historyLoaded {
		return f.history, nil
	}
	if f.store == nil {
		f.historyLoaded = true
		return nil, nil
	}
	history, err := f.store.ListRecent(f.lookback)
	if err != nil {
		return nil, err
	}
	f.history = history
	f.historyLoaded = true
	return f.history, nil
}

// findResolution resolves a remediation id or prefix, preferring the
// already loaded window before hitting the store.
func (f *FilterContext) findResolution(id string) (*models.Remediation, error) {
	if id == "" {
		return nil, nil
	}
	history, err := f.historical()
	if err != nil {
		return nil, err
	}
	for _, r := range history {
		if r.ID == id {
			return r, nil
		}
	}
	for _, r := range history {
		if strings.HasPrefix(r.ID, id) {
			return r, nil
		}
	}
	if f.store == nil {
		return nil, nil
	}
	r, err := f.store.LoadByID(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return r, err
}

// FilterTools returns the tool set the filter agent runs with.
func FilterTools(f *FilterContext) []llm.ToolDefinition {
	r := NewRegistry()
	r.Add(Tool{
		Name:        "get_current_issues",
		Description: "List the issues detected in this run with their current status.",
		Schema:      objectSchema(nil),
		Handler:     f.getCurrentIssues,
	})
	r.Add(Tool{
		Name:        "get_issue_details",
		Description: "Read one issue in full, including evidence and any historical links.",
		Schema: objectSchema(map[string]any{
			"issue_id": map[string]any{
				"type":        "string",
				"description": "Issue ID or its 8-character prefix",
			},
		}, "issue_id"),
		Handler: f.getIssueDetails,
	})
	r.Add(Tool{
		Name:        "get_historical_resolutions",
		Description: "List recent remediations with a summary of their actions.",
		Schema: objectSchema(map[string]any{
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum remediations to return (default 7)",
			},
		}),
		Handler: f.getHistoricalResolutions,
	})
	r.Add(Tool{
		Name:        "get_resolution_details",
		Description: "Read one past remediation in full, including action content.",
		Schema: objectSchema(map[string]any{
			"resolution_id": map[string]any{
				"type":        "string",
				"description": "Remediation ID or its 8-character prefix",
			},
		}, "resolution_id"),
		Handler: f.getResolutionDetails,
	})
	r.Add(Tool{
		Name:        "compare_issue_to_resolutions",
		Description: "Score one issue against all historical remediation actions and get a status recommendation.",
		Schema: objectSchema(map[string]any{
			"issue_id": map[string]any{
				"type":        "string",
				"description": "Issue ID or its 8-character prefix",
			},
		}, "issue_id"),
		Handler: f.compareIssueToResolutions,
	})
	r.Add(Tool{
		Name:        "search_similar_resolutions_vector",
		Description: "Semantic search over past remediation actions, restricted to ones old enough to have taken effect.",
		Schema: objectSchema(map[string]any{
			"issue_id": map[string]any{
				"type":        "string",
				"description": "Issue ID or its 8-character prefix",
			},
			"min_age_days": map[string]any{
				"type":        "integer",
				"description": "Only match remediations at least this old (default 7)",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum results (default 5)",
			},
		}, "issue_id"),
		Handler: f.searchSimilarResolutionsVector,
	})
	r.Add(Tool{
		Name:        "link_issue_to_resolution",
		Description: "Record that an issue relates to a past remediation.",
		Schema: objectSchema(map[string]any{
			"issue_id": map[string]any{
				"type":        "string",
				"description": "Issue ID or its 8-character prefix",
			},
			"resolution_id": map[string]any{
				"type":        "string",
				"description": "Remediation ID or its 8-character prefix",
			},
			"skill_path": map[string]any{
				"type":        "string",
				"description": "Path of the artifact that addressed the issue",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "How the past remediation relates to this issue",
			},
			"relevance_score": map[string]any{
				"type":        "number",
				"description": "Strength of the relation, 0 to 1 (default 0.8)",
			},
		}, "issue_id", "resolution_id"),
		Handler: f.linkIssueToResolution,
	})
	r.Add(Tool{
		Name:        "mark_issue_status",
		Description: "Set an issue's status to new, recurring, or already_resolved.",
		Schema: objectSchema(map[string]any{
			"issue_id": map[string]any{
				"type":        "string",
				"description": "Issue ID or its 8-character prefix",
			},
			"status": map[string]any{
				"type":        "string",
				"enum":        []string{"new", "recurring", "already_resolved"},
				"description": "New status for the issue",
			},
		}, "issue_id", "status"),
		Handler: f.markIssueStatus,
	})
	r.Add(Tool{
		Name:        "include_issue",
		Description: "Explicitly keep an issue for the resolution stage. Once any issue is included, only included issues proceed.",
		Schema: objectSchema(map[string]any{
			"issue_id": map[string]any{
				"type":        "string",
				"description": "Issue ID or its 8-character prefix",
			},
			"rationale": map[string]any{
				"type":        "string",
				"description": "Why this issue is worth resolving",
			},
		}, "issue_id"),
		Handler: f.includeIssue,
	})
	r.Add(Tool{
		Name:        "exclude_issue",
		Description: "Drop an issue from the resolution stage.",
		Schema: objectSchema(map[string]any{
			"issue_id": map[string]any{
				"type":        "string",
				"description": "Issue ID or its 8-character prefix",
			},
			"reason": map[string]any{
				"type":        "string",
				"description": "Why this issue should not be resolved",
			},
		}, "issue_id", "reason"),
		Handler: f.excludeIssue,
	})
	r.Add(Tool{
		Name:        "get_filtering_summary",
		Description: "Summarize the current verdicts: statuses, inclusions, exclusions, and which issues would proceed.",
		Schema:      objectSchema(nil),
		Handler:     f.getFilteringSummary,
	})
	return r.Definitions()
}

func (f *FilterContext) getCurrentIssues(_ context.Context, _ map[string]any) (string, error) {
	items := []map[string]any{}
	for _, issue := range f.issues {
		description, _ := truncateChars(issue.Description, 200, "...")
		items = append(items, map[string]any{
			"id":             issue.ID,
			"type":           string(issue.Kind),
			"severity":       string(issue.Severity),
			"title":          issue.Title,
			"description":    description,
			"evidence_count": len(issue.Evidence),
			"status":         string(issue.Status),
			"is_recurring":   issue.IsRecurring,
		})
	}
	return marshal(map[string]any{"issues": items, "total": len(items)}), nil
}

func (f *FilterContext) getIssueDetails(_ context.Context, input map[string]any) (string, error) {
	id := argString(input, "issue_id", "")
	issue := f.findIssue(id)
	if issue == nil {
		return errorResult("Issue %s not found", id), nil
	}

	evidence := []map[string]any{}
	for _, ev := range issue.Evidence {
		evidence = append(evidence, map[string]any{
			"session_id":        ev.SessionID,
			"message_index":     ev.MessageIndex,
			"quote":             ev.Quote,
			"context":           ev.Context,
			"working_directory": ev.WorkingDirectory,
		})
	}
	links := []map[string]any{}
	for _, link := range issue.HistoricalLinks {
		links = append(links, map[string]any{
			"resolution_id":   link.ResolutionID,
			"artifact_path":   link.ArtifactPath,
			"description":     link.Description,
			"relevance_score": link.Relevance,
		})
	}

	out := map[string]any{
		"id":                   issue.ID,
		"type":                 string(issue.Kind),
		"severity":             string(issue.Severity),
		"title":                issue.Title,
		"description":          issue.Description,
		"confidence":           issue.Confidence,
		"suggested_resolution": issue.SuggestedResolution,
		"local_change":         issue.LocalChange,
		"status":               string(issue.Status),
		"is_recurring":         issue.IsRecurring,
		"evidence":             evidence,
		"historical_links":     links,
	}
	if rationale, ok := f.Included[issue.ID]; ok {
		out["included"] = true
		out["include_rationale"] = rationale
	}
	if reason, ok := f.Excluded[issue.ID]; ok {
		out["excluded"] = true
		out["exclude_reason"] = reason
	}
	return marshal(out), nil
}

func (f *FilterContext) getHistoricalResolutions(_ context.Context, input map[string]any) (string, error) {
	history, err := f.historical()
	if err != nil {
		return errorResult("loading historical resolutions: %v", err), nil
	}
	limit := argInt(input, "limit", defaultHistoryLimit)
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	window := history
	if len(window) > limit {
		window = window[:limit]
	}

	items := []map[string]any{}
	for _, r := range window {
		actions := []map[string]any{}
		for _, a := range r.Actions() {
			rationale, _ := truncateChars(a.Rationale, 100, "...")
			actions = append(actions, map[string]any{
				"type":       a.Type,
				"target":     a.Target,
				"rationale":  rationale,
				"issue_refs": a.IssueRefs,
			})
		}
		items = append(items, map[string]any{
			"id":              r.ID,
			"created_at":      formatTime(r.CreatedAt),
			"dreaming_run_id": r.DreamingRunID,
			"actions":         actions,
		})
	}
	return marshal(map[string]any{"resolutions": items, "total": len(history)}), nil
}

func (f *FilterContext) getResolutionDetails(_ context.Context, input map[string]any) (string, error) {
	id := argString(input, "resolution_id", "")
	r, err := f.findResolution(id)
	if err != nil {
		return errorResult("loading resolution: %v", err), nil
	}
	if r == nil {
		return errorResult("Resolution %s not found", id), nil
	}

	actions := []map[string]any{}
	for _, res := range r.Resolutions {
		for _, a := range res.Actions {
			actions = append(actions, map[string]any{
				"connector_id": res.ConnectorID,
				"type":         a.Type,
				"target":       a.Target,
				"operation":    string(a.Operation),
				"content":      a.Content,
				"issue_refs":   a.IssueRefs,
				"priority":     string(a.Priority),
				"rationale":    a.Rationale,
			})
		}
	}
	return marshal(map[string]any{
		"id":              r.ID,
		"created_at":      formatTime(r.CreatedAt),
		"dreaming_run_id": r.DreamingRunID,
		"actions":         actions,
		"metadata":        r.Metadata,
	}), nil
}

// actionScorable adapts a stored action to the lexical comparison.
type actionScorable struct {
	action models.RemediationAction
}

// AsScorable exposes the action adapter for callers outside the tool
// layer, so non-agentic comparison scores actions the same way.
func AsScorable(action models.RemediationAction) similarity.Scorable {
	return actionScorable{action: action}
}

func (s actionScorable) Title() string {
	if t, ok := s.action.Content["title"].(string); ok && t != "" {
		return t
	}
	if n, ok := s.action.Content["name"].(string); ok && n != "" {
		return n
	}
	return s.action.Target
}

func (s actionScorable) Description() string {
	d, _ := s.action.Content["description"].(string)
	return d
}

func (s actionScorable) Rationale() string { return s.action.Rationale }

func (s actionScorable) IssueRefs() []string { return s.action.IssueRefs }

func (f *FilterContext) compareIssueToResolutions(_ context.Context, input map[string]any) (string, error) {
	id := argString(input, "issue_id", "")
	issue := f.findIssue(id)
	if issue == nil {
		return errorResult("Issue %s not found", id), nil
	}
	history, err := f.historical()
	if err != nil {
		return errorResult("loading historical resolutions: %v", err), nil
	}

	type match struct {
		item  map[string]any
		score float64
	}
	var matches []match
	for _, r := range history {
		for _, a := range r.Actions() {
			score := similarity.CompareIssue(&issue.Issue, actionScorable{action: a})
			if score <= compareMatchFloor {
				continue
			}
			matches = append(matches, match{
				score: score,
				item: map[string]any{
					"resolution_id":    r.ID,
					"action_target":    a.Target,
					"action_type":      a.Type,
					"rationale":        a.Rationale,
					"similarity_score": math.Round(score*100) / 100,
					"issue_refs":       a.IssueRefs,
				},
			})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if len(matches) > compareMatchLimit {
		matches = matches[:compareMatchLimit]
	}

	var recommendation string
	switch {
	case len(matches) == 0:
		recommendation = "new - No similar historical resolutions found"
	case matches[0].score > similarity.ThresholdResolved:
		recommendation = "already_resolved - Very similar issue was previously resolved"
	case matches[0].score > similarity.ThresholdRecurring:
		recommendation = "recurring - Similar issue exists but may need updated resolution"
	default:
		recommendation = "new - Only weak matches found, consider this a new issue"
	}

	items := []map[string]any{}
	for _, m := range matches {
		items = append(items, m.item)
	}
	return marshal(map[string]any{
		"issue_id":       issue.ID,
		"issue_title":    issue.Title,
		"matches":        items,
		"recommendation": recommendation,
	}), nil
}

func (f *FilterContext) searchSimilarResolutionsVector(ctx context.Context, input map[string]any) (string, error) {
	if f.vectors == nil {
		return errorResult("Vector search is not enabled"), nil
	}
	id := argString(input, "issue_id", "")
	issue := f.findIssue(id)
	if issue == nil {
		return errorResult("Issue %s not found", id), nil
	}
	minAge := argInt(input, "min_age_days", defaultVectorMinAge)
	limit := argInt(input, "limit", defaultVectorResults)
	if limit < 1 {
		limit = defaultVectorResults
	}

	hits, err := f.vectors.SearchByIssue(ctx, &issue.Issue, limit, minAge)
	if err != nil {
		return errorResult("vector search: %v", err), nil
	}
	return marshal(map[string]any{
		"issue_id": issue.ID,
		"results":  hits,
		"total":    len(hits),
	}), nil
}

func (f *FilterContext) linkIssueToResolution(_ context.Context, input map[string]any) (string, error) {
	issueID := argString(input, "issue_id", "")
	issue := f.findIssue(issueID)
	if issue == nil {
		return errorResult("Issue %s not found", issueID), nil
	}
	resolutionID := argString(input, "resolution_id", "")
	r, err := f.findResolution(resolutionID)
	if err != nil {
		return errorResult("loading resolution: %v", err), nil
	}
	if r == nil {
		return errorResult("Resolution %s not found", resolutionID), nil
	}

	link := models.HistoricalLink{
		ResolutionID: r.ID,
		ArtifactPath: argString(input, "skill_path", ""),
		Description:  argString(input, "description", ""),
		Relevance:    argFloat(input, "relevance_score", defaultLinkRelevance),
	}
	issue.HistoricalLinks = append(issue.HistoricalLinks, link)

	return marshal(map[string]any{
		"success": true,
		"message": fmt.Sprintf("Linked issue '%s' to resolution %s", issue.Title, models.ShortID(r.ID)),
		"link":    link,
	}), nil
}

func (f *FilterContext) markIssueStatus(_ context.Context, input map[string]any) (string, error) {
	raw := argString(input, "status", "")
	status, err := models.ParseIssueStatus(raw)
	if err != nil {
		return errorResult("Invalid status: %s", raw), nil
	}
	id := argString(input, "issue_id", "")
	issue := f.findIssue(id)
	if issue == nil {
		return errorResult("Issue %s not found", id), nil
	}

	issue.SetStatus(status)
	return marshal(map[string]any{
		"success":    true,
		"issue_id":   issue.ID,
		"new_status": string(status),
		"message":    fmt.Sprintf("Issue '%s' marked as %s", issue.Title, status),
	}), nil
}

func (f *FilterContext) includeIssue(_ context.Context, input map[string]any) (string, error) {
	id := argString(input, "issue_id", "")
	issue := f.findIssue(id)
	if issue == nil {
		return errorResult("Issue %s not found", id), nil
	}

	delete(f.Excluded, issue.ID)
	f.Included[issue.ID] = argString(input, "rationale", "")
	return marshal(map[string]any{
		"success":  true,
		"issue_id": issue.ID,
		"message":  fmt.Sprintf("Issue '%s' included for resolution", issue.Title),
	}), nil
}

func (f *FilterContext) excludeIssue(_ context.Context, input map[string]any) (string, error) {
	id := argString(input, "issue_id", "")
	issue := f.findIssue(id)
	if issue == nil {
		return errorResult("Issue %s not found", id), nil
	}

	delete(f.Included, issue.ID)
	f.Excluded[issue.ID] = argString(input, "reason", "")
	return marshal(map[string]any{
		"success":  true,
		"issue_id": issue.ID,
		"message":  fmt.Sprintf("Issue '%s' excluded from resolution", issue.Title),
	}), nil
}

func (f *FilterContext) getFilteringSummary(_ context.Context, _ map[string]any) (string, error) {
	counts := map[models.IssueStatus]int{}
	for _, issue := range f.issues {
		counts[issue.Status]++
	}
	selected := f.Selected()
	ids := make([]string, 0, len(selected))
	for _, issue := range selected {
		ids = append(ids, issue.ID)
	}
	return marshal(map[string]any{
		"total_issues":       len(f.issues),
		"new":                counts[models.StatusNew],
		"recurring":          counts[models.StatusRecurring],
		"already_resolved":   counts[models.StatusAlreadyResolved],
		"included":           len(f.Included),
		"excluded":           len(f.Excluded),
		"selected_issue_ids": ids,
		"selected_count":     len(ids),
	}), nil
}

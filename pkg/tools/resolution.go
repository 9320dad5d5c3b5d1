package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goodnight-ai/goodnight/pkg/artifacts"
	"github.com/goodnight-ai/goodnight/pkg/llm"
	"github.com/goodnight-ai/goodnight/pkg/models"
)

const historicalContextLimit = 3

// ActionDraft is one remediation action under construction.
type ActionDraft struct {
	ID           string
	ArtifactType string
	Name         string
	TargetPath   string
	Operation    models.Operation
	Content      map[string]any
	IssueRefs    []string
	References   []models.ConversationRef
	Rationale    string
	Priority     models.Priority
}

// ResolutionContext accumulates the actions the resolution agent drafts
// for one filtered report, then freezes them on finalize.
type ResolutionContext struct {
	report   *models.EnrichedReport
	handlers []artifacts.Handler
	index    map[string]artifacts.Handler
	dryRun   bool

	actions   []ActionDraft
	finalized bool
}

// NewResolutionContext wraps a filtered report and the enabled artifact
// handlers for the resolution stage.
func NewResolutionContext(report *models.EnrichedReport, handlers []artifacts.Handler, dryRun bool) *ResolutionContext {
	c := &ResolutionContext{
		report:   report,
		handlers: handlers,
		index:    make(map[string]artifacts.Handler, len(handlers)),
		dryRun:   dryRun,
	}
	for _, h := range handlers {
		c.index[h.ID()] = h
	}
	return c
}

// Finalized reports whether the agent called finalize_resolution
// successfully.
func (c *ResolutionContext) Finalized() bool { return c.finalized }

// Actions returns the drafted actions in creation order.
func (c *ResolutionContext) Actions() []ActionDraft { return c.actions }

// Remediation converts the finalized drafts into a persistable
// remediation, or nil when nothing was finalized. An action is a local
// change only when every issue it references is one.
func (c *ResolutionContext) Remediation() *models.Remediation {
	if !c.finalized || len(c.actions) == 0 {
		return nil
	}
	actions := make([]models.RemediationAction, 0, len(c.actions))
	for _, d := range c.actions {
		local := len(d.IssueRefs) > 0
		for _, ref := range d.IssueRefs {
			issue := c.findIssue(ref)
			if issue == nil || !issue.LocalChange {
				local = false
				break
			}
		}
		actions = append(actions, models.RemediationAction{
			ID:          d.ID,
			Type:        d.ArtifactType,
			Target:      d.TargetPath,
			Operation:   d.Operation,
			Content:     d.Content,
			IssueRefs:   d.IssueRefs,
			References:  d.References,
			Priority:    d.Priority,
			Rationale:   d.Rationale,
			LocalChange: local,
		})
	}
	return &models.Remediation{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Resolutions: []models.ConnectorResolution{{
			ConnectorID: c.report.ConnectorID,
			Actions:     actions,
		}},
		Metadata: map[string]any{},
	}
}

func (c *ResolutionContext) findIssue(id string) *models.EnrichedIssue {
	if id == "" {
		return nil
	}
	for i := range c.report.Issues {
		if c.report.Issues[i].ID == id {
			return &c.report.Issues[i]
		}
	}
	for i := range c.report.Issues {
		if strings.HasPrefix(c.report.Issues[i].ID, id) {
			return &c.report.Issues[i]
		}
	}
	return nil
}

// eligible returns the issues the agent should resolve, in report order.
func (c *ResolutionContext) eligible() []*models.EnrichedIssue {
	var out []*models.EnrichedIssue
	for i := range c.report.Issues {
		issue := &c.report.Issues[i]
		if issue.Status == models.StatusNew || issue.Status == models.StatusRecurring {
			out = append(out, issue)
		}
	}
	return out
}

// ResolutionTools returns the tool set the resolution agent runs with.
func ResolutionTools(c *ResolutionContext) []llm.ToolDefinition {
	r := NewRegistry()
	r.Add(Tool{
		Name:        "get_issues_to_resolve",
		Description: "List the new and recurring issues to draft resolutions for, with evidence references and historical context.",
		Schema:      objectSchema(nil),
		Handler:     c.getIssuesToResolve,
	})
	r.Add(Tool{
		Name:        "get_artifact_types",
		Description: "List the enabled artifact types with their content schemas and authoring guidance.",
		Schema:      objectSchema(nil),
		Handler:     c.getArtifactTypes,
	})
	r.Add(Tool{
		Name:        "create_resolution_action",
		Description: "Draft one artifact change addressing one or more issues.",
		Schema: objectSchema(map[string]any{
			"artifact_type": map[string]any{
				"type":        "string",
				"description": "One of the enabled artifact types",
			},
			"name": map[string]any{
				"type":        "string",
				"description": "Name of the artifact to create or change",
			},
			"content": map[string]any{
				"type":        "object",
				"description": "Artifact content matching the type's content schema",
			},
			"issue_refs": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "IDs of the issues this action addresses",
			},
			"target_path": map[string]any{
				"type":        "string",
				"description": "Where the artifact lives; derived from the name when omitted",
			},
			"operation": map[string]any{
				"type":        "string",
				"enum":        []string{"create", "update", "append"},
				"description": "File-level effect (default create)",
			},
			"rationale": map[string]any{
				"type":        "string",
				"description": "Why this action resolves the referenced issues",
			},
			"priority": map[string]any{
				"type":        "string",
				"enum":        []string{"low", "medium", "high"},
				"description": "Urgency of the action (default medium)",
			},
		}, "artifact_type", "name", "content", "issue_refs"),
		Handler: c.createResolutionAction,
	})
	r.Add(Tool{
		Name:        "list_pending_actions",
		Description: "List the actions drafted so far.",
		Schema:      objectSchema(nil),
		Handler:     c.listPendingActions,
	})
	r.Add(Tool{
		Name:        "remove_action",
		Description: "Remove a drafted action before finalizing.",
		Schema: objectSchema(map[string]any{
			"action_id": map[string]any{
				"type":        "string",
				"description": "ID of the action to remove",
			},
		}, "action_id"),
		Handler: c.removeAction,
	})
	r.Add(Tool{
		Name:        "finalize_resolution",
		Description: "Validate the drafted actions and freeze them as this run's resolution. Call once, after all actions are drafted.",
		Schema:      objectSchema(nil),
		Handler:     c.finalizeResolution,
	})
	return r.Definitions()
}

func (c *ResolutionContext) getIssuesToResolve(_ context.Context, _ map[string]any) (string, error) {
	issues := c.eligible()
	newCount := 0
	recurringCount := 0
	items := []map[string]any{}
	for _, issue := range issues {
		switch issue.Status {
		case models.StatusNew:
			newCount++
		case models.StatusRecurring:
			recurringCount++
		}

		refs := []map[string]any{}
		seen := map[string]bool{}
		for _, ev := range issue.Evidence {
			if ev.SessionID == "" || seen[ev.SessionID] {
				continue
			}
			seen[ev.SessionID] = true
			refs = append(refs, map[string]any{
				"session_id":        ev.SessionID,
				"working_directory": ev.WorkingDirectory,
			})
		}

		history := []map[string]any{}
		links := issue.HistoricalLinks
		if len(links) > historicalContextLimit {
			links = links[:historicalContextLimit]
		}
		for _, link := range links {
			history = append(history, map[string]any{
				"resolution_id":   link.ResolutionID,
				"skill_path":      link.ArtifactPath,
				"relevance_score": link.Relevance,
			})
		}

		items = append(items, map[string]any{
			"id":                   issue.ID,
			"type":                 string(issue.Kind),
			"severity":             string(issue.Severity),
			"title":                issue.Title,
			"description":          issue.Description,
			"status":               string(issue.Status),
			"is_recurring":         issue.IsRecurring,
			"suggested_resolution": issue.SuggestedResolution,
			"evidence_count":       len(issue.Evidence),
			"conversation_refs":    refs,
			"historical_context":   history,
		})
	}

	return marshal(map[string]any{
		"issues":          items,
		"total":           len(items),
		"new_count":       newCount,
		"recurring_count": recurringCount,
	}), nil
}

func (c *ResolutionContext) getArtifactTypes(_ context.Context, _ map[string]any) (string, error) {
	items := []map[string]any{}
	for _, h := range c.handlers {
		items = append(items, map[string]any{
			"id":             h.ID(),
			"name":           h.Name(),
			"context":        h.AgentContext(),
			"content_schema": h.ContentSchema(),
		})
	}
	return marshal(map[string]any{"artifact_types": items, "total": len(items)}), nil
}

func (c *ResolutionContext) createResolutionAction(_ context.Context, input map[string]any) (string, error) {
	artifactType := argString(input, "artifact_type", "")
	if artifactType == "" {
		return errorResult("artifact_type is required"), nil
	}
	name := argString(input, "name", "")
	if name == "" {
		return errorResult("name is required"), nil
	}
	content := argMap(input, "content")
	if len(content) == 0 {
		return marshal(map[string]any{
			"error": "content is required",
			"hint":  c.contentHint(artifactType),
		}), nil
	}
	issueRefs := argStringSlice(input, "issue_refs")
	if len(issueRefs) == 0 {
		return errorResult("issue_refs is required (list of issue IDs)"), nil
	}
	if c.finalized {
		return errorResult("Resolution already finalized, cannot add more actions"), nil
	}
	if _, ok := c.index[artifactType]; !ok {
		return marshal(map[string]any{
			"error":         fmt.Sprintf("Artifact type '%s' not enabled", artifactType),
			"enabled_types": c.enabledTypes(),
		}), nil
	}

	rawOp := argString(input, "operation", "")
	operation, err := models.ParseOperation(rawOp)
	if err != nil {
		return errorResult("Invalid operation: %s", rawOp), nil
	}
	priority, err := models.ParsePriority(argString(input, "priority", ""))
	if err != nil {
		priority = models.PriorityMedium
	}

	targetPath := argString(input, "target_path", "")
	if targetPath == "" {
		targetPath = generateTargetPath(artifactType, name)
	}

	draft := ActionDraft{
		ID:           models.ShortID(uuid.NewString()),
		ArtifactType: artifactType,
		Name:         name,
		TargetPath:   targetPath,
		Operation:    operation,
		Content:      content,
		IssueRefs:    issueRefs,
		References:   c.harvestReferences(issueRefs),
		Rationale:    argString(input, "rationale", ""),
		Priority:     priority,
	}
	c.actions = append(c.actions, draft)

	return marshal(map[string]any{
		"success":       true,
		"action_id":     draft.ID,
		"message":       fmt.Sprintf("Created %s action for %s: %s", operation, artifactType, name),
		"target_path":   targetPath,
		"total_actions": len(c.actions),
	}), nil
}

func (c *ResolutionContext) enabledTypes() []string {
	out := make([]string, 0, len(c.handlers))
	for _, h := range c.handlers {
		out = append(out, h.ID())
	}
	return out
}

// contentHint describes the expected content object for an artifact type.
func (c *ResolutionContext) contentHint(artifactType string) string {
	h, ok := c.index[artifactType]
	if !ok {
		return "Provide the artifact content as a JSON object."
	}
	schema := h.ContentSchema()
	if schema.Hint != "" {
		return schema.Hint
	}
	if len(schema.RequiredFields) > 0 {
		parts := make([]string, 0, len(schema.RequiredFields))
		for _, field := range sortedKeys(schema.RequiredFields) {
			parts = append(parts, fmt.Sprintf("%s (%s)", field, schema.RequiredFields[field]))
		}
		return "Content object requires: " + strings.Join(parts, ", ")
	}
	return "Provide the artifact content as a JSON object."
}

// generateTargetPath derives a default artifact location from the action
// name.
func generateTargetPath(artifactType, name string) string {
	norm := strings.ToLower(name)
	norm = strings.ReplaceAll(norm, " ", "-")
	norm = strings.ReplaceAll(norm, "_", "-")
	switch artifactType {
	case "skill", "claude-skills":
		return "~/.claude/skills/" + norm + "/SKILL.md"
	case "guideline":
		return "~/.good-night/guidelines/" + norm + ".md"
	default:
		return "~/.good-night/artifacts/" + artifactType + "/" + norm
	}
}

// harvestReferences collects the source sessions behind the referenced
// issues, one entry per session.
func (c *ResolutionContext) harvestReferences(issueRefs []string) []models.ConversationRef {
	var refs []models.ConversationRef
	seen := map[string]bool{}
	for _, ref := range issueRefs {
		issue := c.findIssue(ref)
		if issue == nil {
			continue
		}
		for _, ev := range issue.Evidence {
			if ev.SessionID == "" || seen[ev.SessionID] {
				continue
			}
			seen[ev.SessionID] = true
			refs = append(refs, models.ConversationRef{
				SessionID:        ev.SessionID,
				WorkingDirectory: ev.WorkingDirectory,
			})
		}
	}
	return refs
}

func (c *ResolutionContext) listPendingActions(_ context.Context, _ map[string]any) (string, error) {
	items := []map[string]any{}
	for _, d := range c.actions {
		rationale, _ := truncateChars(d.Rationale, 100, "...")
		items = append(items, map[string]any{
			"id":            d.ID,
			"artifact_type": d.ArtifactType,
			"name":          d.Name,
			"target_path":   d.TargetPath,
			"operation":     string(d.Operation),
			"issue_refs":    d.IssueRefs,
			"references":    d.References,
			"priority":      string(d.Priority),
			"rationale":     rationale,
		})
	}
	return marshal(map[string]any{
		"pending_actions": items,
		"total":           len(items),
		"finalized":       c.finalized,
	}), nil
}

func (c *ResolutionContext) removeAction(_ context.Context, input map[string]any) (string, error) {
	id := argString(input, "action_id", "")
	for i, d := range c.actions {
		if d.ID != id {
			continue
		}
		c.actions = append(c.actions[:i], c.actions[i+1:]...)
		return marshal(map[string]any{
			"success":           true,
			"message":           "Removed action: " + d.Name,
			"remaining_actions": len(c.actions),
		}), nil
	}
	return errorResult("Action %s not found", id), nil
}

func (c *ResolutionContext) finalizeResolution(_ context.Context, _ map[string]any) (string, error) {
	if c.finalized {
		return errorResult("Resolution already finalized"), nil
	}
	if len(c.actions) == 0 {
		return marshal(map[string]any{
			"success": false,
			"message": "No actions to finalize",
		}), nil
	}

	var problems []string
	for _, d := range c.actions {
		if d.Name == "" {
			problems = append(problems, fmt.Sprintf("Action %s: name is required", d.ID))
		}
		if len(d.Content) == 0 {
			problems = append(problems, fmt.Sprintf("Action %s: content is required - %s", d.ID, c.contentHint(d.ArtifactType)))
		}
		if len(d.IssueRefs) == 0 {
			problems = append(problems, fmt.Sprintf("Action %s: at least one issue_ref is required", d.ID))
		}
		if h, ok := c.index[d.ArtifactType]; ok && len(d.Content) > 0 {
			for _, field := range sortedKeys(h.ContentSchema().RequiredFields) {
				if _, present := d.Content[field]; !present {
					problems = append(problems, fmt.Sprintf("Action %s: content missing required field '%s'", d.ID, field))
				}
			}
		}
	}
	if len(problems) > 0 {
		return marshal(map[string]any{
			"success": false,
			"message": "Validation failed",
			"errors":  problems,
		}), nil
	}

	c.finalized = true
	summary := []map[string]any{}
	for _, d := range c.actions {
		summary = append(summary, map[string]any{
			"type":      d.ArtifactType,
			"name":      d.Name,
			"operation": string(d.Operation),
			"target":    d.TargetPath,
		})
	}
	return marshal(map[string]any{
		"success":         true,
		"message":         fmt.Sprintf("Resolution finalized with %d actions", len(c.actions)),
		"dry_run":         c.dryRun,
		"actions_summary": summary,
	}), nil
}

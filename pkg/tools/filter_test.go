package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goodnight-ai/goodnight/pkg/models"
	"github.com/goodnight-ai/goodnight/pkg/storage"
)

const formattingDescription = "The user keeps asking for gofmt style indentation fixes in every session."

func historyFixture(t *testing.T) *storage.ResolutionStore {
	t.Helper()
	store := storage.NewResolutionStore(t.TempDir())
	rem := &models.Remediation{
		ID:            "aaaabbbb-cccc-dddd-eeee-ffff00001111",
		CreatedAt:     time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		DreamingRunID: "run-7",
		Resolutions: []models.ConnectorResolution{{
			ConnectorID: "claude-code",
			Actions: []models.RemediationAction{
				{
					ID:        "act-1",
					Type:      "claude-skills",
					Target:    "~/.claude/skills/formatting/SKILL.md",
					Operation: models.OpCreate,
					Content: map[string]any{
						"name":        "formatting",
						"title":       "Repeated formatting requests",
						"description": formattingDescription,
					},
					IssueRefs: []string{"repeated_request: formatting"},
					Priority:  models.PriorityMedium,
					Rationale: formattingDescription,
				},
				{
					ID:        "act-2",
					Type:      "claude-md",
					Target:    "CLAUDE.md",
					Operation: models.OpUpdate,
					Content: map[string]any{
						"title":       "Editor preferences",
						"description": "unrelated",
					},
					IssueRefs: []string{"style_mismatch: editor"},
					Priority:  models.PriorityLow,
					Rationale: strings.Repeat("r", 150),
				},
			},
		}},
	}
	_, err := store.Save(rem)
	require.NoError(t, err)
	return store
}

func filterFixture(t *testing.T) (*FilterContext, *models.EnrichedReport) {
	t.Helper()
	report := &models.EnrichedReport{
		ConnectorID: "claude-code",
		Issues: []models.EnrichedIssue{
			{
				Issue: models.Issue{
					ID:          "11111111-1111-4111-8111-111111111111",
					Kind:        models.IssueRepeatedRequest,
					Severity:    models.SeverityHigh,
					Title:       "Repeated formatting requests",
					Description: formattingDescription,
					Confidence:  0.9,
					Evidence: []models.Evidence{
						{SessionID: "sess-1", MessageIndex: 2, Quote: "run gofmt again", WorkingDirectory: "/home/dev/api"},
						{SessionID: "sess-2", MessageIndex: 0, Quote: "fix the indentation", WorkingDirectory: "/home/dev/api"},
					},
				},
				Status: models.StatusNew,
			},
			{
				Issue: models.Issue{
					ID:          "22222222-2222-4222-8222-222222222222",
					Kind:        models.IssueFrustrationSignal,
					Severity:    models.SeverityLow,
					Title:       "qq ww ee rr tt",
					Description: strings.Repeat("zx ", 83) + "q",
				},
				Status: models.StatusNew,
			},
			{
				Issue: models.Issue{
					ID:       "33333333-3333-4333-8333-333333333333",
					Kind:     models.IssueStyleMismatch,
					Severity: models.SeverityMedium,
					Title:    "Editor style drift",
				},
				Status: models.StatusNew,
			},
		},
	}
	return NewFilterContext(report, historyFixture(t), nil, 7), report
}

func TestGetCurrentIssues(t *testing.T) {
	f, _ := filterFixture(t)

	result, err := f.getCurrentIssues(context.Background(), nil)
	require.NoError(t, err)
	doc := decode(t, result)

	assert.EqualValues(t, 3, doc["total"])
	items := doc["issues"].([]any)
	require.Len(t, items, 3)

	first := items[0].(map[string]any)
	assert.Equal(t, "11111111-1111-4111-8111-111111111111", first["id"])
	assert.Equal(t, "repeated_request", first["type"])
	assert.Equal(t, "new", first["status"])
	assert.Equal(t, false, first["is_recurring"])
	assert.EqualValues(t, 2, first["evidence_count"])

	second := items[1].(map[string]any)
	assert.Len(t, second["description"], 203)
	assert.True(t, strings.HasSuffix(second["description"].(string), "..."))
}

func TestGetIssueDetailsByPrefix(t *testing.T) {
	f, _ := filterFixture(t)

	result, err := f.getIssueDetails(context.Background(), map[string]any{"issue_id": "11111111"})
	require.NoError(t, err)
	doc := decode(t, result)

	assert.Equal(t, "11111111-1111-4111-8111-111111111111", doc["id"])
	assert.Equal(t, formattingDescription, doc["description"])
	assert.Equal(t, 0.9, doc["confidence"])
	evidence := doc["evidence"].([]any)
	require.Len(t, evidence, 2)
	assert.Equal(t, "sess-1", evidence[0].(map[string]any)["session_id"])
	assert.NotContains(t, doc, "included")
	assert.NotContains(t, doc, "excluded")
}

func TestGetIssueDetailsUnknown(t *testing.T) {
	f, _ := filterFixture(t)

	result, err := f.getIssueDetails(context.Background(), map[string]any{"issue_id": "zz"})
	require.NoError(t, err)
	assert.Equal(t, "Issue zz not found", decode(t, result)["error"])
}

func TestGetHistoricalResolutions(t *testing.T) {
	f, _ := filterFixture(t)

	result, err := f.getHistoricalResolutions(context.Background(), map[string]any{})
	require.NoError(t, err)
	doc := decode(t, result)

	assert.EqualValues(t, 1, doc["total"])
	items := doc["resolutions"].([]any)
	require.Len(t, items, 1)

	res := items[0].(map[string]any)
	assert.Equal(t, "aaaabbbb-cccc-dddd-eeee-ffff00001111", res["id"])
	assert.Equal(t, "2026-03-01T08:00:00Z", res["created_at"])
	assert.Equal(t, "run-7", res["dreaming_run_id"])

	actions := res["actions"].([]any)
	require.Len(t, actions, 2)
	first := actions[0].(map[string]any)
	assert.Equal(t, "claude-skills", first["type"])
	assert.Equal(t, formattingDescription, first["rationale"])
	second := actions[1].(map[string]any)
	assert.Len(t, second["rationale"], 103)
}

func TestGetResolutionDetailsByPrefix(t *testing.T) {
	f, _ := filterFixture(t)

	result, err := f.getResolutionDetails(context.Background(), map[string]any{"resolution_id": "aaaabbbb"})
	require.NoError(t, err)
	doc := decode(t, result)

	assert.Equal(t, "aaaabbbb-cccc-dddd-eeee-ffff00001111", doc["id"])
	actions := doc["actions"].([]any)
	require.Len(t, actions, 2)
	first := actions[0].(map[string]any)
	assert.Equal(t, "claude-code", first["connector_id"])
	assert.Equal(t, "create", first["operation"])
	content := first["content"].(map[string]any)
	assert.Equal(t, "formatting", content["name"])
}

func TestGetResolutionDetailsUnknown(t *testing.T) {
	f, _ := filterFixture(t)

	result, err := f.getResolutionDetails(context.Background(), map[string]any{"resolution_id": "xyz"})
	require.NoError(t, err)
	assert.Equal(t, "Resolution xyz not found", decode(t, result)["error"])
}

func TestCompareIssueToResolutionsStrongMatch(t *testing.T) {
	f, _ := filterFixture(t)

	result, err := f.compareIssueToResolutions(context.Background(), map[string]any{"issue_id": "11111111"})
	require.NoError(t, err)
	doc := decode(t, result)

	assert.Equal(t, "Repeated formatting requests", doc["issue_title"])
	assert.Equal(t, "already_resolved - Very similar issue was previously resolved", doc["recommendation"])

	matches := doc["matches"].([]any)
	require.NotEmpty(t, matches)
	best := matches[0].(map[string]any)
	assert.Equal(t, "aaaabbbb-cccc-dddd-eeee-ffff00001111", best["resolution_id"])
	assert.Equal(t, "~/.claude/skills/formatting/SKILL.md", best["action_target"])
	assert.EqualValues(t, 1.0, best["similarity_score"])
}

func TestCompareIssueToResolutionsWeakMatch(t *testing.T) {
	f, _ := filterFixture(t)

	result, err := f.compareIssueToResolutions(context.Background(), map[string]any{"issue_id": "22222222"})
	require.NoError(t, err)
	doc := decode(t, result)

	rec, ok := doc["recommendation"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(rec, "new - "), "got %q", rec)
}

func TestCompareIssueToResolutionsUnknownIssue(t *testing.T) {
	f, _ := filterFixture(t)

	result, err := f.compareIssueToResolutions(context.Background(), map[string]any{"issue_id": "nope"})
	require.NoError(t, err)
	assert.Equal(t, "Issue nope not found", decode(t, result)["error"])
}

func TestSearchSimilarResolutionsVectorDisabled(t *testing.T) {
	f, _ := filterFixture(t)

	result, err := f.searchSimilarResolutionsVector(context.Background(), map[string]any{"issue_id": "11111111"})
	require.NoError(t, err)
	assert.Equal(t, "Vector search is not enabled", decode(t, result)["error"])
}

func TestLinkIssueToResolution(t *testing.T) {
	f, report := filterFixture(t)

	result, err := f.linkIssueToResolution(context.Background(), map[string]any{
		"issue_id":      "11111111",
		"resolution_id": "aaaabbbb",
		"skill_path":    "~/.claude/skills/formatting/SKILL.md",
		"description":   "Formatting skill already covers this",
	})
	require.NoError(t, err)
	doc := decode(t, result)

	assert.Equal(t, true, doc["success"])
	assert.Equal(t, "Linked issue 'Repeated formatting requests' to resolution aaaabbbb", doc["message"])

	require.Len(t, report.Issues[0].HistoricalLinks, 1)
	link := report.Issues[0].HistoricalLinks[0]
	assert.Equal(t, "aaaabbbb-cccc-dddd-eeee-ffff00001111", link.ResolutionID)
	assert.Equal(t, 0.8, link.Relevance)
}

func TestLinkIssueToResolutionUnknownResolution(t *testing.T) {
	f, _ := filterFixture(t)

	result, err := f.linkIssueToResolution(context.Background(), map[string]any{
		"issue_id":      "11111111",
		"resolution_id": "99999999",
	})
	require.NoError(t, err)
	assert.Equal(t, "Resolution 99999999 not found", decode(t, result)["error"])
}

func TestMarkIssueStatus(t *testing.T) {
	f, report := filterFixture(t)

	result, err := f.markIssueStatus(context.Background(), map[string]any{
		"issue_id": "11111111",
		"status":   "recurring",
	})
	require.NoError(t, err)
	doc := decode(t, result)

	assert.Equal(t, true, doc["success"])
	assert.Equal(t, "recurring", doc["new_status"])
	assert.Equal(t, "Issue 'Repeated formatting requests' marked as recurring", doc["message"])
	assert.Equal(t, models.StatusRecurring, report.Issues[0].Status)
	assert.True(t, report.Issues[0].IsRecurring)
}

func TestMarkIssueStatusInvalid(t *testing.T) {
	f, _ := filterFixture(t)

	result, err := f.markIssueStatus(context.Background(), map[string]any{
		"issue_id": "11111111",
		"status":   "done",
	})
	require.NoError(t, err)
	assert.Equal(t, "Invalid status: done", decode(t, result)["error"])
}

func TestIncludeExcludeProjection(t *testing.T) {
	f, _ := filterFixture(t)

	selected := f.Selected()
	require.Len(t, selected, 3)

	_, err := f.excludeIssue(context.Background(), map[string]any{
		"issue_id": "22222222",
		"reason":   "single session, cosmetic",
	})
	require.NoError(t, err)

	selected = f.Selected()
	require.Len(t, selected, 2)
	assert.Equal(t, "11111111-1111-4111-8111-111111111111", selected[0].ID)
	assert.Equal(t, "33333333-3333-4333-8333-333333333333", selected[1].ID)

	_, err = f.includeIssue(context.Background(), map[string]any{
		"issue_id":  "33333333",
		"rationale": "recurs across projects",
	})
	require.NoError(t, err)

	selected = f.Selected()
	require.Len(t, selected, 1)
	assert.Equal(t, "33333333-3333-4333-8333-333333333333", selected[0].ID)
}

func TestIncludeClearsExclusion(t *testing.T) {
	f, _ := filterFixture(t)

	_, err := f.excludeIssue(context.Background(), map[string]any{
		"issue_id": "11111111",
		"reason":   "noise",
	})
	require.NoError(t, err)
	_, err = f.includeIssue(context.Background(), map[string]any{
		"issue_id": "11111111",
	})
	require.NoError(t, err)

	assert.Empty(t, f.Excluded)
	assert.Contains(t, f.Included, "11111111-1111-4111-8111-111111111111")
}

func TestGetFilteringSummary(t *testing.T) {
	f, _ := filterFixture(t)

	_, err := f.markIssueStatus(context.Background(), map[string]any{
		"issue_id": "11111111",
		"status":   "already_resolved",
	})
	require.NoError(t, err)
	_, err = f.excludeIssue(context.Background(), map[string]any{
		"issue_id": "22222222",
		"reason":   "one-off",
	})
	require.NoError(t, err)

	result, err := f.getFilteringSummary(context.Background(), nil)
	require.NoError(t, err)
	doc := decode(t, result)

	assert.EqualValues(t, 3, doc["total_issues"])
	assert.EqualValues(t, 2, doc["new"])
	assert.EqualValues(t, 1, doc["already_resolved"])
	assert.EqualValues(t, 1, doc["excluded"])
	assert.EqualValues(t, 2, doc["selected_count"])
}

func TestGetIssueDetailsShowsFilterState(t *testing.T) {
	f, _ := filterFixture(t)

	_, err := f.includeIssue(context.Background(), map[string]any{
		"issue_id":  "11111111",
		"rationale": "worth fixing",
	})
	require.NoError(t, err)

	result, err := f.getIssueDetails(context.Background(), map[string]any{"issue_id": "11111111"})
	require.NoError(t, err)
	doc := decode(t, result)

	assert.Equal(t, true, doc["included"])
	assert.Equal(t, "worth fixing", doc["include_rationale"])
}

func TestFilterToolNames(t *testing.T) {
	f, _ := filterFixture(t)

	defs := FilterTools(f)
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{
		"get_current_issues",
		"get_issue_details",
		"get_historical_resolutions",
		"get_resolution_details",
		"compare_issue_to_resolutions",
		"search_similar_resolutions_vector",
		"link_issue_to_resolution",
		"mark_issue_status",
		"include_issue",
		"exclude_issue",
		"get_filtering_summary",
	}, names)
}

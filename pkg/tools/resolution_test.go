package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goodnight-ai/goodnight/pkg/artifacts"
	"github.com/goodnight-ai/goodnight/pkg/models"
)

func resolutionFixture(t *testing.T) (*ResolutionContext, *models.EnrichedReport) {
	t.Helper()
	report := &models.EnrichedReport{
		ConnectorID: "claude-code",
		Issues: []models.EnrichedIssue{
			{
				Issue: models.Issue{
					ID:          "44444444-4444-4444-8444-444444444444",
					Kind:        models.IssueRepeatedRequest,
					Severity:    models.SeverityHigh,
					Title:       "Repeated test-running requests",
					Description: "The user asks to run tests after every change.",
					LocalChange: true,
					Evidence: []models.Evidence{
						{SessionID: "sess-9", MessageIndex: 1, WorkingDirectory: "/home/dev/api"},
						{SessionID: "sess-9", MessageIndex: 5, WorkingDirectory: "/home/dev/api"},
						{SessionID: "sess-10", MessageIndex: 0},
					},
				},
				Status: models.StatusNew,
			},
			{
				Issue: models.Issue{
					ID:       "55555555-5555-4555-8555-555555555555",
					Kind:     models.IssueStyleMismatch,
					Severity: models.SeverityMedium,
					Title:    "Editor style drift",
				},
				Status:      models.StatusRecurring,
				IsRecurring: true,
				HistoricalLinks: []models.HistoricalLink{
					{ResolutionID: "res-1", Relevance: 0.9},
					{ResolutionID: "res-2", Relevance: 0.8},
					{ResolutionID: "res-3", Relevance: 0.7},
					{ResolutionID: "res-4", Relevance: 0.6},
				},
			},
			{
				Issue: models.Issue{
					ID:    "66666666-6666-4666-8666-666666666666",
					Kind:  models.IssueOther,
					Title: "Already handled elsewhere",
				},
				Status: models.StatusAlreadyResolved,
			},
		},
	}
	handlers := []artifacts.Handler{
		artifacts.NewSkillsHandler(),
		artifacts.NewPreferencesHandler("claude-md"),
	}
	return NewResolutionContext(report, handlers, false), report
}

func validSkillInput() map[string]any {
	return map[string]any{
		"artifact_type": "claude-skills",
		"name":          "Run Tests Skill",
		"content": map[string]any{
			"name":         "run-tests",
			"description":  "Run the test suite after changes",
			"instructions": "1. Run the suite\n2. Report failures",
		},
		"issue_refs": []any{"44444444"},
	}
}

func TestGetIssuesToResolve(t *testing.T) {
	c, _ := resolutionFixture(t)

	result, err := c.getIssuesToResolve(context.Background(), nil)
	require.NoError(t, err)
	doc := decode(t, result)

	assert.EqualValues(t, 2, doc["total"])
	assert.EqualValues(t, 1, doc["new_count"])
	assert.EqualValues(t, 1, doc["recurring_count"])

	items := doc["issues"].([]any)
	require.Len(t, items, 2)

	first := items[0].(map[string]any)
	assert.Equal(t, "44444444-4444-4444-8444-444444444444", first["id"])
	assert.Equal(t, "new", first["status"])
	assert.EqualValues(t, 3, first["evidence_count"])
	refs := first["conversation_refs"].([]any)
	require.Len(t, refs, 2)
	assert.Equal(t, "sess-9", refs[0].(map[string]any)["session_id"])
	assert.Equal(t, "/home/dev/api", refs[0].(map[string]any)["working_directory"])
	assert.Equal(t, "sess-10", refs[1].(map[string]any)["session_id"])

	second := items[1].(map[string]any)
	assert.Equal(t, true, second["is_recurring"])
	history := second["historical_context"].([]any)
	assert.Len(t, history, 3)
	assert.Equal(t, "res-1", history[0].(map[string]any)["resolution_id"])
}

func TestGetArtifactTypes(t *testing.T) {
	c, _ := resolutionFixture(t)

	result, err := c.getArtifactTypes(context.Background(), nil)
	require.NoError(t, err)
	doc := decode(t, result)

	assert.EqualValues(t, 2, doc["total"])
	items := doc["artifact_types"].([]any)
	require.Len(t, items, 2)

	skills := items[0].(map[string]any)
	assert.Equal(t, "claude-skills", skills["id"])
	assert.Equal(t, "Claude Skills", skills["name"])
	assert.Contains(t, skills["context"], "claude-skills")
	schema := skills["content_schema"].(map[string]any)
	required := schema["required_fields"].(map[string]any)
	assert.Contains(t, required, "instructions")
}

func TestCreateResolutionAction(t *testing.T) {
	c, _ := resolutionFixture(t)

	result, err := c.createResolutionAction(context.Background(), validSkillInput())
	require.NoError(t, err)
	doc := decode(t, result)

	assert.Equal(t, true, doc["success"])
	assert.Equal(t, "Created create action for claude-skills: Run Tests Skill", doc["message"])
	assert.Equal(t, "~/.claude/skills/run-tests-skill/SKILL.md", doc["target_path"])
	assert.EqualValues(t, 1, doc["total_actions"])
	assert.Len(t, doc["action_id"], 8)

	require.Len(t, c.Actions(), 1)
	draft := c.Actions()[0]
	assert.Equal(t, models.OpCreate, draft.Operation)
	assert.Equal(t, models.PriorityMedium, draft.Priority)
	require.Len(t, draft.References, 2)
	assert.Equal(t, "sess-9", draft.References[0].SessionID)
}

func TestCreateResolutionActionRequiredFields(t *testing.T) {
	c, _ := resolutionFixture(t)

	tests := []struct {
		name  string
		input map[string]any
		want  string
	}{
		{
			name:  "missing artifact type",
			input: map[string]any{},
			want:  "artifact_type is required",
		},
		{
			name:  "missing name",
			input: map[string]any{"artifact_type": "claude-skills"},
			want:  "name is required",
		},
		{
			name: "missing issue refs",
			input: map[string]any{
				"artifact_type": "claude-skills",
				"name":          "x",
				"content":       map[string]any{"name": "x"},
			},
			want: "issue_refs is required (list of issue IDs)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := c.createResolutionAction(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, decode(t, result)["error"])
		})
	}
}

func TestCreateResolutionActionMissingContentHint(t *testing.T) {
	c, _ := resolutionFixture(t)

	result, err := c.createResolutionAction(context.Background(), map[string]any{
		"artifact_type": "claude-skills",
		"name":          "x",
	})
	require.NoError(t, err)
	doc := decode(t, result)

	assert.Equal(t, "content is required", doc["error"])
	assert.Contains(t, doc["hint"], "instructions")
}

func TestCreateResolutionActionUnknownType(t *testing.T) {
	c, _ := resolutionFixture(t)

	input := validSkillInput()
	input["artifact_type"] = "jira"
	result, err := c.createResolutionAction(context.Background(), input)
	require.NoError(t, err)
	doc := decode(t, result)

	assert.Equal(t, "Artifact type 'jira' not enabled", doc["error"])
	assert.Equal(t, []any{"claude-skills", "claude-md"}, doc["enabled_types"])
}

func TestCreateResolutionActionInvalidOperation(t *testing.T) {
	c, _ := resolutionFixture(t)

	input := validSkillInput()
	input["operation"] = "delete"
	result, err := c.createResolutionAction(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "Invalid operation: delete", decode(t, result)["error"])
}

func TestGenerateTargetPath(t *testing.T) {
	tests := []struct {
		artifactType string
		name         string
		want         string
	}{
		{"skill", "My Skill", "~/.claude/skills/my-skill/SKILL.md"},
		{"claude-skills", "snake_case name", "~/.claude/skills/snake-case-name/SKILL.md"},
		{"guideline", "Commit Style", "~/.good-night/guidelines/commit-style.md"},
		{"notes", "A B", "~/.good-night/artifacts/notes/a-b"},
	}
	for _, tt := range tests {
		t.Run(tt.artifactType, func(t *testing.T) {
			assert.Equal(t, tt.want, generateTargetPath(tt.artifactType, tt.name))
		})
	}
}

func TestListPendingActions(t *testing.T) {
	c, _ := resolutionFixture(t)

	input := validSkillInput()
	input["rationale"] = strings.Repeat("x", 150)
	_, err := c.createResolutionAction(context.Background(), input)
	require.NoError(t, err)

	result, err := c.listPendingActions(context.Background(), nil)
	require.NoError(t, err)
	doc := decode(t, result)

	assert.EqualValues(t, 1, doc["total"])
	assert.Equal(t, false, doc["finalized"])
	items := doc["pending_actions"].([]any)
	require.Len(t, items, 1)
	action := items[0].(map[string]any)
	assert.Equal(t, "claude-skills", action["artifact_type"])
	assert.Equal(t, "Run Tests Skill", action["name"])
	assert.Len(t, action["rationale"], 103)
}

func TestRemoveAction(t *testing.T) {
	c, _ := resolutionFixture(t)

	_, err := c.createResolutionAction(context.Background(), validSkillInput())
	require.NoError(t, err)
	id := c.Actions()[0].ID

	result, err := c.removeAction(context.Background(), map[string]any{"action_id": id})
	require.NoError(t, err)
	doc := decode(t, result)

	assert.Equal(t, true, doc["success"])
	assert.Equal(t, "Removed action: Run Tests Skill", doc["message"])
	assert.EqualValues(t, 0, doc["remaining_actions"])
	assert.Empty(t, c.Actions())
}

func TestRemoveActionUnknown(t *testing.T) {
	c, _ := resolutionFixture(t)

	result, err := c.removeAction(context.Background(), map[string]any{"action_id": "zz"})
	require.NoError(t, err)
	assert.Equal(t, "Action zz not found", decode(t, result)["error"])
}

func TestFinalizeResolutionEmpty(t *testing.T) {
	c, _ := resolutionFixture(t)

	result, err := c.finalizeResolution(context.Background(), nil)
	require.NoError(t, err)
	doc := decode(t, result)

	assert.Equal(t, false, doc["success"])
	assert.Equal(t, "No actions to finalize", doc["message"])
	assert.False(t, c.Finalized())
}

func TestFinalizeResolutionValidatesContentSchema(t *testing.T) {
	c, _ := resolutionFixture(t)

	input := validSkillInput()
	input["content"] = map[string]any{
		"name":        "run-tests",
		"description": "Run the test suite",
	}
	_, err := c.createResolutionAction(context.Background(), input)
	require.NoError(t, err)
	id := c.Actions()[0].ID

	result, err := c.finalizeResolution(context.Background(), nil)
	require.NoError(t, err)
	doc := decode(t, result)

	assert.Equal(t, false, doc["success"])
	assert.Equal(t, "Validation failed", doc["message"])
	problems := doc["errors"].([]any)
	assert.Contains(t, problems, "Action "+id+": content missing required field 'instructions'")
	assert.False(t, c.Finalized())
}

func TestFinalizeResolution(t *testing.T) {
	c, _ := resolutionFixture(t)

	_, err := c.createResolutionAction(context.Background(), validSkillInput())
	require.NoError(t, err)

	result, err := c.finalizeResolution(context.Background(), nil)
	require.NoError(t, err)
	doc := decode(t, result)

	assert.Equal(t, true, doc["success"])
	assert.Equal(t, "Resolution finalized with 1 actions", doc["message"])
	assert.Equal(t, false, doc["dry_run"])
	summary := doc["actions_summary"].([]any)
	require.Len(t, summary, 1)
	assert.Equal(t, "Run Tests Skill", summary[0].(map[string]any)["name"])
	assert.True(t, c.Finalized())

	again, err := c.finalizeResolution(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Resolution already finalized", decode(t, again)["error"])

	blocked, err := c.createResolutionAction(context.Background(), validSkillInput())
	require.NoError(t, err)
	assert.Equal(t, "Resolution already finalized, cannot add more actions", decode(t, blocked)["error"])
}

func TestRemediationNilBeforeFinalize(t *testing.T) {
	c, _ := resolutionFixture(t)

	_, err := c.createResolutionAction(context.Background(), validSkillInput())
	require.NoError(t, err)
	assert.Nil(t, c.Remediation())
}

func TestRemediationConversion(t *testing.T) {
	c, _ := resolutionFixture(t)

	_, err := c.createResolutionAction(context.Background(), validSkillInput())
	require.NoError(t, err)

	global := validSkillInput()
	global["name"] = "Editor Preferences"
	global["issue_refs"] = []any{"44444444", "55555555"}
	_, err = c.createResolutionAction(context.Background(), global)
	require.NoError(t, err)

	_, err = c.finalizeResolution(context.Background(), nil)
	require.NoError(t, err)

	rem := c.Remediation()
	require.NotNil(t, rem)
	assert.NotEmpty(t, rem.ID)
	assert.WithinDuration(t, time.Now().UTC(), rem.CreatedAt, time.Minute)
	require.Len(t, rem.Resolutions, 1)
	assert.Equal(t, "claude-code", rem.Resolutions[0].ConnectorID)

	actions := rem.Resolutions[0].Actions
	require.Len(t, actions, 2)
	assert.Equal(t, "claude-skills", actions[0].Type)
	assert.Equal(t, "~/.claude/skills/run-tests-skill/SKILL.md", actions[0].Target)
	// The only referenced issue is a local change, so the action is too.
	assert.True(t, actions[0].LocalChange)
	// The second action also references a non-local issue.
	assert.False(t, actions[1].LocalChange)
	assert.Equal(t, []string{"44444444", "55555555"}, actions[1].IssueRefs)
}

func TestResolutionToolNames(t *testing.T) {
	c, _ := resolutionFixture(t)

	defs := ResolutionTools(c)
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{
		"get_issues_to_resolve",
		"get_artifact_types",
		"create_resolution_action",
		"list_pending_actions",
		"remove_action",
		"finalize_resolution",
	}, names)
}

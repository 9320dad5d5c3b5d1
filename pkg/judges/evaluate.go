package judges

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/goodnight-ai/goodnight/pkg/models"
)

// scopeConfidenceBar is the judge confidence above which a disagreement
// with the action's own local/global flag is worth surfacing.
const scopeConfidenceBar = 0.7

// EvaluateAction runs all four judges over one action and the issues it
// references. Each judge failure degrades to an {"error": ...} entry so a
// single broken call never discards the remaining scores.
func (r *Runner) EvaluateAction(ctx context.Context, action models.RemediationAction, issues []*models.EnrichedIssue) map[string]any {
	var (
		titles       []string
		descriptions []string
		workingDir   string
	)
	for _, issue := range issues {
		titles = append(titles, issue.Title)
		descriptions = append(descriptions, issue.Description)
		if workingDir == "" {
			for _, ev := range issue.Evidence {
				if ev.WorkingDirectory != "" {
					workingDir = ev.WorkingDirectory
					break
				}
			}
		}
	}
	issueTitles := strings.Join(titles, ", ")
	issueDescriptions := strings.Join(descriptions, "\n")

	contentStr := ""
	if len(action.Content) > 0 {
		if encoded, err := json.Marshal(action.Content); err == nil {
			contentStr = string(encoded)
		}
	}

	evaluation := make(map[string]any, 4)

	pii, err := r.ScorePII(ctx, contentStr)
	if err != nil {
		evaluation["pii"] = map[string]any{"error": err.Error()}
	} else {
		evaluation["pii"] = pii
		if pii.HasPII && pii.Severity == "high" {
			slog.Warn("Resolution content may contain secrets",
				"target", action.Target,
				"pii_types", pii.PIITypes,
				"explanation", pii.Explanation)
		}
	}

	significance, err := r.ScoreSignificance(ctx, action.Rationale, issueDescriptions)
	if err != nil {
		evaluation["significance"] = map[string]any{"error": err.Error()}
	} else {
		evaluation["significance"] = significance
		if !significance.IsSignificant {
			slog.Info("Resolution scored as low significance",
				"target", action.Target,
				"score", significance.SignificanceScore,
				"rationale", significance.Rationale)
		}
	}

	applicability, err := r.ScoreApplicability(ctx, issueTitles, issueDescriptions, action.Content, action.Type)
	if err != nil {
		evaluation["applicability"] = map[string]any{"error": err.Error()}
	} else {
		evaluation["applicability"] = applicability
		if !applicability.IsApplicable {
			slog.Warn("Resolution may not fully address its issues",
				"target", action.Target,
				"coverage", applicability.CoverageScore,
				"gaps", applicability.Gaps)
		}
	}

	scope, err := r.ScoreScope(ctx, issueDescriptions, action.Rationale, workingDir)
	if err != nil {
		evaluation["local_vs_global"] = map[string]any{"error": err.Error()}
	} else {
		evaluation["local_vs_global"] = scope
		if scope.ShouldBeLocal != action.LocalChange && scope.Confidence > scopeConfidenceBar {
			slog.Warn("Resolution scope disagrees with judge",
				"target", action.Target,
				"local_change", action.LocalChange,
				"should_be_local", scope.ShouldBeLocal,
				"confidence", scope.Confidence)
		}
	}

	return evaluation
}

// EvaluateRemediation judges every action in the remediation against the
// issues the report selected for resolution. The result maps each action
// target to its evaluations and is meant to be stored under the
// remediation's metadata.
func (r *Runner) EvaluateRemediation(ctx context.Context, remediation *models.Remediation, report *models.EnrichedReport) map[string]any {
	issueIndex := make(map[string]*models.EnrichedIssue)
	var order []string
	for i := range report.Issues {
		issue := &report.Issues[i]
		if issue.Status == models.StatusNew || issue.Status == models.StatusRecurring {
			issueIndex[issue.ID] = issue
			order = append(order, issue.ID)
		}
	}

	evaluations := make(map[string]any)
	for _, resolution := range remediation.Resolutions {
		for _, action := range resolution.Actions {
			var addressed []*models.EnrichedIssue
			for _, ref := range action.IssueRefs {
				if issue := lookupIssue(issueIndex, order, ref); issue != nil {
					addressed = append(addressed, issue)
				}
			}
			if len(addressed) == 0 {
				slog.Warn("Resolution action has no matching issues",
					"target", action.Target,
					"issue_refs", action.IssueRefs)
				continue
			}
			evaluation := r.EvaluateAction(ctx, action, addressed)
			evaluations[action.Target] = []map[string]any{evaluation}
			slog.Info("Evaluated resolution action",
				"target", action.Target,
				"issues", len(addressed))
		}
	}
	return evaluations
}

// lookupIssue resolves an action's issue reference against the selected
// issues, accepting both full IDs and unique prefixes.
func lookupIssue(index map[string]*models.EnrichedIssue, order []string, ref string) *models.EnrichedIssue {
	if issue, ok := index[ref]; ok {
		return issue
	}
	if ref == "" {
		return nil
	}
	for _, id := range order {
		if strings.HasPrefix(id, ref) {
			return index[id]
		}
	}
	return nil
}

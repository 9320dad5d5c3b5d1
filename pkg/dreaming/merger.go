package dreaming

import (
	"fmt"

	"github.com/goodnight-ai/goodnight/pkg/models"
	"github.com/goodnight-ai/goodnight/pkg/similarity"
)

// MergeConfig tunes how per-project reports are folded into one.
type MergeConfig struct {
	SimilarityThreshold  float64
	CombineEvidence      bool
	PreferHigherSeverity bool
}

// DefaultMergeConfig returns the thresholds used by the detection stage.
func DefaultMergeConfig() MergeConfig {
	return MergeConfig{
		SimilarityThreshold:  0.7,
		CombineEvidence:      true,
		PreferHigherSeverity: true,
	}
}

// Merger deduplicates issues across analysis reports.
type Merger struct {
	cfg MergeConfig
}

// NewMerger returns a merger. A nil config uses DefaultMergeConfig.
func NewMerger(cfg *MergeConfig) *Merger {
	if cfg == nil {
		def := DefaultMergeConfig()
		cfg = &def
	}
	return &Merger{cfg: *cfg}
}

// MergeReports folds the given reports into a single report, deduplicating
// similar issues and summing conversation and token totals.
func (m *Merger) MergeReports(reports []*models.AnalysisReport) *models.AnalysisReport {
	if len(reports) == 0 {
		return &models.AnalysisReport{ConnectorID: "merged"}
	}
	if len(reports) == 1 {
		return reports[0]
	}

	var all []models.Issue
	var conversations int
	var usage models.TokenUsage
	ids := make(map[string]bool)
	for _, r := range reports {
		all = append(all, r.Issues...)
		conversations += r.ConversationsAnalyzed
		usage.Add(r.TokenUsage)
		ids[r.ConnectorID] = true
	}

	connectorID := "merged"
	if len(ids) == 1 {
		connectorID = reports[0].ConnectorID
	}

	merged := m.DeduplicateIssues(all)
	return &models.AnalysisReport{
		ConnectorID:           connectorID,
		Issues:                merged,
		ConversationsAnalyzed: conversations,
		Summary:               fmt.Sprintf("Merged %d reports with %d unique issues", len(reports), len(merged)),
		TokenUsage:            usage,
	}
}

// DeduplicateIssues groups similar issues and merges each group into one.
// Grouping is greedy: an issue joins the first group whose representative
// (the group's first issue) it matches.
func (m *Merger) DeduplicateIssues(issues []models.Issue) []models.Issue {
	if len(issues) == 0 {
		return nil
	}

	var groups [][]models.Issue
	for _, issue := range issues {
		placed := false
		for i := range groups {
			if m.similar(issue, groups[i][0]) {
				groups[i] = append(groups[i], issue)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []models.Issue{issue})
		}
	}

	merged := make([]models.Issue, 0, len(groups))
	for _, group := range groups {
		merged = append(merged, m.mergeGroup(group))
	}
	return merged
}

// similar reports whether two issues are close enough to merge: same kind
// and either title or description above the threshold.
func (m *Merger) similar(a, b models.Issue) bool {
	if a.Kind != b.Kind {
		return false
	}
	if m.textSimilar(a.Title, b.Title) {
		return true
	}
	return m.textSimilar(a.Description, b.Description)
}

func (m *Merger) textSimilar(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return similarity.Score(a, b) >= m.cfg.SimilarityThreshold
}

// mergeGroup folds a group of similar issues into its first member,
// combining evidence, taking the highest severity, and averaging
// confidence.
func (m *Merger) mergeGroup(group []models.Issue) models.Issue {
	if len(group) == 1 {
		return group[0]
	}

	base := group[0]

	if m.cfg.CombineEvidence {
		var evidence []models.Evidence
		seen := make(map[string]bool)
		for _, issue := range group {
			for _, ev := range issue.Evidence {
				if seen[ev.SessionID] {
					continue
				}
				seen[ev.SessionID] = true
				evidence = append(evidence, ev)
			}
		}
		base.Evidence = evidence
	}

	if m.cfg.PreferHigherSeverity {
		for _, issue := range group {
			if issue.Severity.Rank() > base.Severity.Rank() {
				base.Severity = issue.Severity
			}
		}
	}

	var confidence float64
	sourceIDs := make([]string, 0, len(group))
	for _, issue := range group {
		confidence += issue.Confidence
		sourceIDs = append(sourceIDs, issue.ID)
	}
	base.Confidence = confidence / float64(len(group))

	if base.Metadata == nil {
		base.Metadata = make(map[string]any)
	}
	base.Metadata["merged_count"] = len(group)
	base.Metadata["merged_from"] = sourceIDs

	return base
}

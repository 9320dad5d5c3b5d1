// Package similarity provides the lexical scoring used to deduplicate
// detected issues and to match them against historical remediation actions.
package similarity

import (
	"strings"

	"github.com/agext/levenshtein"

	"github.com/goodnight-ai/goodnight/pkg/models"
)

// Recommendation thresholds for issue/action comparison scores.
const (
	// ThresholdResolved marks an issue already covered by a past action.
	ThresholdResolved = 0.85
	// ThresholdRecurring marks an issue related to, but not covered by,
	// a past action.
	ThresholdRecurring = 0.6
)

// Weights of the issue/action comparison.
const (
	titleWeight       = 0.4
	descriptionWeight = 0.3
	rationaleWeight   = 0.3
	kindBonus         = 0.2
)

// Scorable is the projection of a historical remediation action used for
// lexical comparison against a current issue. Adapters map stored action
// records onto it.
type Scorable interface {
	Title() string
	Description() string
	Rationale() string
	IssueRefs() []string
}

// Caps on the text fed into the description and rationale comparisons.
// Long free-form fields dominate scoring cost without improving the signal.
const (
	descriptionCompareLen = 500
	rationaleCompareLen   = 300
)

// Score returns a normalized similarity in [0, 1] for two strings.
// Comparison is case-insensitive and ignores surrounding whitespace.
func Score(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	return levenshtein.Similarity(a, b, nil)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// CompareIssue scores how closely a past action addresses the given issue:
// a weighted sum of title and description similarity against the action's
// title/description, the issue description against the action's rationale,
// plus a bonus when the issue kind appears among the action's issue
// references. The result is clamped to [0, 1].
func CompareIssue(issue *models.Issue, past Scorable) float64 {
	score := titleWeight * Score(issue.Title, past.Title())
	score += descriptionWeight * Score(
		truncate(issue.Description, descriptionCompareLen),
		truncate(past.Description(), descriptionCompareLen))
	score += rationaleWeight * Score(
		truncate(issue.Description, rationaleCompareLen),
		truncate(past.Rationale(), rationaleCompareLen))

	kind := strings.ToLower(string(issue.Kind))
	if kind != "" {
		for _, ref := range past.IssueRefs() {
			if strings.Contains(strings.ToLower(ref), kind) {
				score += kindBonus
				break
			}
		}
	}

	if score > 1.0 {
		return 1.0
	}
	if score < 0.0 {
		return 0.0
	}
	return score
}

// Recommend maps a comparison score to the issue status it suggests.
func Recommend(score float64) models.IssueStatus {
	switch {
	case score > ThresholdResolved:
		return models.StatusAlreadyResolved
	case score >= ThresholdRecurring:
		return models.StatusRecurring
	default:
		return models.StatusNew
	}
}

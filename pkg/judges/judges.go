// Package judges runs single-shot LLM evaluations over finalized
// remediation actions: PII/secret detection, significance, applicability,
// and local-versus-global scope. Judges are advisory; their results land in
// remediation metadata and never block persistence.
package judges

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goodnight-ai/goodnight/pkg/llm"
)

const (
	// maxInputLen caps the content fed into a judge prompt.
	maxInputLen = 8000

	// SignificanceBar is the score at or above which a resolution counts
	// as significant.
	SignificanceBar = 0.5
	// ApplicabilityBar is the coverage at or above which a resolution
	// counts as addressing its issues.
	ApplicabilityBar = 0.5

	piiTokens           = 500
	significanceTokens  = 500
	applicabilityTokens = 600
	scopeTokens         = 400
)

// PIIResult reports detected personal data or secrets.
type PIIResult struct {
	HasPII      bool     `json:"has_pii"`
	PIITypes    []string `json:"pii_types"`
	Severity    string   `json:"severity"`
	Explanation string   `json:"explanation"`
}

// SignificanceResult scores whether a resolution is worth implementing.
type SignificanceResult struct {
	IsSignificant     bool    `json:"is_significant"`
	SignificanceScore float64 `json:"significance_score"`
	Rationale         string  `json:"rationale"`
}

// ApplicabilityResult scores whether a resolution addresses its issues.
type ApplicabilityResult struct {
	IsApplicable  bool     `json:"is_applicable"`
	CoverageScore float64  `json:"coverage_score"`
	Gaps          []string `json:"gaps"`
	Rationale     string   `json:"rationale"`
}

// ScopeResult judges whether a change belongs in one project or applies
// globally.
type ScopeResult struct {
	ShouldBeLocal bool    `json:"should_be_local"`
	Confidence    float64 `json:"confidence"`
	Rationale     string  `json:"rationale"`
}

// Runner executes the judges against one completion backend.
type Runner struct {
	completer llm.Completer
}

// New returns a runner backed by the given completer.
func New(completer llm.Completer) *Runner {
	return &Runner{completer: completer}
}

// ScorePII detects personal data and secrets in resolution content.
// Empty content short-circuits without a model call.
func (r *Runner) ScorePII(ctx context.Context, content string) (PIIResult, error) {
	result := PIIResult{PIITypes: []string{}, Severity: "low"}
	if strings.TrimSpace(content) == "" {
		result.Explanation = "Empty content"
		return result, nil
	}

	prompt := fmt.Sprintf(`Analyze for PII/secrets:
---
%s
---
Check for: API keys, passwords, emails, phones, addresses, SSN, credit cards, connection strings.
Severity: high (secrets, SSN), medium (contact info), low (uncertain).
Respond ONLY with JSON: {"has_pii": bool, "pii_types": [], "severity": "low|medium|high", "explanation": "..."}`,
		truncate(content, maxInputLen))

	reply, err := r.completer.Complete(ctx, "", prompt, piiTokens)
	if err != nil {
		return PIIResult{}, err
	}
	var parsed PIIResult
	if jsonErr := json.Unmarshal([]byte(stripFences(reply)), &parsed); jsonErr != nil {
		return result, nil
	}
	if parsed.PIITypes == nil {
		parsed.PIITypes = []string{}
	}
	return parsed, nil
}

// ScoreSignificance judges whether a resolution is significant enough to
// implement. IsSignificant is recomputed from the clamped score.
func (r *Runner) ScoreSignificance(ctx context.Context, resolutionDescription, issueDescription string) (SignificanceResult, error) {
	result := SignificanceResult{}
	if resolutionDescription == "" {
		result.Rationale = "No resolution provided"
		return result, nil
	}

	prompt := fmt.Sprintf(`Evaluate resolution significance:
ISSUE: %s
RESOLUTION: %s
Score 0-1: 0-0.3 trivial, 0.4-0.6 moderate, 0.7-0.85 significant, 0.86-1.0 highly significant.
Respond ONLY with JSON: {"is_significant": bool, "significance_score": 0.0-1.0, "rationale": "..."}`,
		truncate(issueDescription, 3000), truncate(resolutionDescription, 3000))

	reply, err := r.completer.Complete(ctx, "", prompt, significanceTokens)
	if err != nil {
		return SignificanceResult{}, err
	}
	var parsed SignificanceResult
	if jsonErr := json.Unmarshal([]byte(stripFences(reply)), &parsed); jsonErr != nil {
		return result, nil
	}
	parsed.SignificanceScore = clamp01(parsed.SignificanceScore)
	parsed.IsSignificant = parsed.SignificanceScore >= SignificanceBar
	return parsed, nil
}

// ScoreApplicability checks whether the resolution content actually
// addresses the issues. IsApplicable is recomputed from the clamped
// coverage score.
func (r *Runner) ScoreApplicability(ctx context.Context, issueTitle, issueDescription string, resolutionContent map[string]any, resolutionType string) (ApplicabilityResult, error) {
	result := ApplicabilityResult{Gaps: []string{}}
	if issueTitle == "" && issueDescription == "" {
		result.Rationale = "No issue provided"
		return result, nil
	}
	if len(resolutionContent) == 0 {
		result.Rationale = "No resolution provided"
		return result, nil
	}

	contentJSON, err := json.Marshal(resolutionContent)
	if err != nil {
		return ApplicabilityResult{}, fmt.Errorf("encoding resolution content: %w", err)
	}
	if resolutionType == "" {
		resolutionType = "unspecified"
	}

	prompt := fmt.Sprintf(`Evaluate if resolution addresses the issue:
ISSUE: %s - %s
TYPE: %s
RESOLUTION: %s
Score 0-1 coverage, list gaps.
Respond ONLY with JSON: {"is_applicable": bool, "coverage_score": 0.0-1.0, "gaps": [], "rationale": "..."}`,
		issueTitle, truncate(issueDescription, 2000), resolutionType, truncate(string(contentJSON), 4000))

	reply, err := r.completer.Complete(ctx, "", prompt, applicabilityTokens)
	if err != nil {
		return ApplicabilityResult{}, err
	}
	var parsed ApplicabilityResult
	if jsonErr := json.Unmarshal([]byte(stripFences(reply)), &parsed); jsonErr != nil {
		return result, nil
	}
	parsed.CoverageScore = clamp01(parsed.CoverageScore)
	parsed.IsApplicable = parsed.CoverageScore >= ApplicabilityBar
	if parsed.Gaps == nil {
		parsed.Gaps = []string{}
	}
	return parsed, nil
}

// ScoreScope judges whether the change should stay local to the project or
// apply globally.
func (r *Runner) ScoreScope(ctx context.Context, issueDescription, resolutionDescription, workingDirectory string) (ScopeResult, error) {
	result := ScopeResult{Confidence: 0.5}
	if issueDescription == "" && resolutionDescription == "" {
		result.Rationale = "Insufficient info"
		return result, nil
	}

	path := workingDirectory
	if path == "" {
		path = "Not specified"
	}
	prompt := fmt.Sprintf(`Determine if LOCAL (project-specific) or GLOBAL (universal):
ISSUE: %s
RESOLUTION: %s
PATH: %s
LOCAL: project tech stack, specific files, project conventions.
GLOBAL: universal preferences, general best practices, AI behavior.
Respond ONLY with JSON: {"should_be_local": bool, "confidence": 0.0-1.0, "rationale": "..."}`,
		truncate(issueDescription, 2500), truncate(resolutionDescription, 2500), path)

	reply, err := r.completer.Complete(ctx, "", prompt, scopeTokens)
	if err != nil {
		return ScopeResult{}, err
	}
	var parsed ScopeResult
	if jsonErr := json.Unmarshal([]byte(stripFences(reply)), &parsed); jsonErr != nil {
		return result, nil
	}
	parsed.Confidence = clamp01(parsed.Confidence)
	return parsed, nil
}

// stripFences removes a Markdown code fence wrapper from a model reply.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = text[7:]
	}
	if strings.HasPrefix(text, "```") {
		text = text[3:]
	}
	if strings.HasSuffix(text, "```") {
		text = text[:len(text)-3]
	}
	return strings.TrimSpace(text)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

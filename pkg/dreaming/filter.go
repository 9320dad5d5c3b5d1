package dreaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/goodnight-ai/goodnight/pkg/config"
	"github.com/goodnight-ai/goodnight/pkg/events"
	"github.com/goodnight-ai/goodnight/pkg/llm"
	"github.com/goodnight-ai/goodnight/pkg/models"
	"github.com/goodnight-ai/goodnight/pkg/similarity"
	"github.com/goodnight-ai/goodnight/pkg/storage"
	"github.com/goodnight-ai/goodnight/pkg/tools"
)

// FilterStage compares detected issues against historical resolutions and
// decides which ones move forward.
type FilterStage struct {
	cfg      *config.Config
	provider llm.Provider
	store    *storage.ResolutionStore
	vectors  *storage.VectorStore
	stream   *events.Stream
}

// NewFilterStage wires the comparison stage. The vector store may be nil
// when vector search is disabled.
func NewFilterStage(cfg *config.Config, provider llm.Provider, store *storage.ResolutionStore, vectors *storage.VectorStore, stream *events.Stream) *FilterStage {
	return &FilterStage{cfg: cfg, provider: provider, store: store, vectors: vectors, stream: stream}
}

// Compare enriches the report with historical context. With a provider it
// runs the comparison agent; without one, or when the agent fails, it
// falls back to lexical plus vector scoring.
func (f *FilterStage) Compare(ctx context.Context, report *models.AnalysisReport) (*models.EnrichedReport, error) {
	enriched := models.EnrichReport(report)

	if f.provider == nil {
		return f.compareLexical(ctx, enriched)
	}
	if len(enriched.Issues) == 0 {
		enriched.Summary = "No issues to compare"
		return enriched, nil
	}

	agentID := "step2-" + report.ConnectorID
	f.emit(agentID, events.KindThinking,
		fmt.Sprintf("Comparing %d issues with history", len(enriched.Issues)), nil)

	lookback := f.cfg.Dreaming.HistoricalLookback
	fc := tools.NewFilterContext(enriched, f.store, f.vectors, lookback)
	defs := tools.WrapAllWithEvents(tools.FilterTools(fc), agentID, events.AgentTypeComparison, f.stream)

	resp, err := f.provider.RunAgent(ctx, f.buildPrompt(enriched.Issues), llm.AgentConfig{
		SystemPrompt: comparisonBasePrompt,
		Tools:        defs,
		MaxTurns:     20,
		Temperature:  0.5,
		MaxTokens:    llm.DefaultMaxTokens,
	})
	if err != nil {
		var authErr *llm.AuthError
		if errors.As(err, &authErr) {
			return nil, err
		}
		slog.Error("Comparison agent failed", "agent_id", agentID, "error", err)
		f.emit(agentID, events.KindError, "Comparison failed: "+truncateRunes(err.Error(), 80), nil)
		return f.compareLexical(ctx, enriched)
	}

	newCount := len(enriched.NewIssues())
	recurringCount := len(enriched.RecurringIssues())
	resolvedCount := len(enriched.ResolvedIssues())
	f.emit(agentID, events.KindComplete,
		fmt.Sprintf("%d new, %d recurring, %d resolved", newCount, recurringCount, resolvedCount),
		map[string]any{
			"new":       newCount,
			"recurring": recurringCount,
			"resolved":  resolvedCount,
			"tokens":    resp.Usage.Total(),
		})

	if enriched.Metadata == nil {
		enriched.Metadata = make(map[string]any)
	}
	enriched.Metadata["historical_resolutions_checked"] = lookback
	enriched.TokenUsage.Add(resp.Usage)

	// Apply the agent's include and exclude verdicts.
	enriched.Issues = fc.Selected()
	f.summarize(enriched)
	return enriched, nil
}

// compareLexical scores each issue against recent remediations without an
// agent, combining lexical similarity with vector recall when available.
func (f *FilterStage) compareLexical(ctx context.Context, enriched *models.EnrichedReport) (*models.EnrichedReport, error) {
	lookback := f.cfg.Dreaming.HistoricalLookback
	recent, err := f.store.ListRecent(lookback)
	if err != nil {
		slog.Warn("Listing historical resolutions failed", "error", err)
	}
	slog.Info("Comparing with historical resolutions", "count", len(recent), "mode", "lexical")

	if enriched.Metadata == nil {
		enriched.Metadata = make(map[string]any)
	}
	enriched.Metadata["historical_resolutions_checked"] = len(recent)

	for i := range enriched.Issues {
		links, status := f.lexicalMatches(ctx, &enriched.Issues[i], recent)
		enriched.Issues[i].HistoricalLinks = links
		enriched.Issues[i].SetStatus(status)
	}

	f.summarize(enriched)
	return enriched, nil
}

// lexicalMatches scores an issue against every historical action and
// returns the top five links with the status the best score implies.
func (f *FilterStage) lexicalMatches(ctx context.Context, issue *models.EnrichedIssue, recent []*models.Remediation) ([]models.HistoricalLink, models.IssueStatus) {
	var links []models.HistoricalLink
	seen := make(map[string]bool)
	add := func(link models.HistoricalLink) {
		key := link.ResolutionID + "\x00" + link.ArtifactPath
		if seen[key] {
			return
		}
		seen[key] = true
		links = append(links, link)
	}

	for _, rem := range recent {
		for _, res := range rem.Resolutions {
			for _, action := range res.Actions {
				score := similarity.CompareIssue(&issue.Issue, tools.AsScorable(action))
				if score > 0.5 {
					add(models.HistoricalLink{
						ResolutionID: rem.ID,
						ArtifactPath: action.Target,
						Description:  action.Rationale,
						Relevance:    score,
					})
				}
			}
		}
	}

	if f.vectors != nil {
		hits, err := f.vectors.SearchByIssue(ctx, &issue.Issue, 5, f.cfg.Dreaming.MinAgeDays)
		if err != nil {
			slog.Debug("Vector recall unavailable", "error", err)
		}
		for _, hit := range hits {
			if hit.Score > 0.5 {
				add(models.HistoricalLink{
					ResolutionID: hit.ResolutionID,
					ArtifactPath: hit.Target,
					Description:  hit.Rationale,
					Relevance:    hit.Score,
				})
			}
		}
	}

	sort.SliceStable(links, func(i, j int) bool { return links[i].Relevance > links[j].Relevance })
	if len(links) > 5 {
		links = links[:5]
	}

	if len(links) == 0 {
		return nil, models.StatusNew
	}
	best := links[0].Relevance
	switch {
	case best > 0.9:
		return links, models.StatusAlreadyResolved
	case best > 0.7:
		return links, models.StatusRecurring
	default:
		return links, models.StatusNew
	}
}

func (f *FilterStage) buildPrompt(issues []models.EnrichedIssue) string {
	var lines []string
	for i := range issues {
		lines = append(lines, fmt.Sprintf("- %s: %s (%s, %s)",
			models.ShortID(issues[i].ID), issues[i].Title, issues[i].Kind, issues[i].Severity))
	}

	return fmt.Sprintf(`Compare these %d issues with historical resolutions:

%s

For each issue:
1. Use compare_issue_to_resolutions to find matches
2. If good matches exist (score > 0.6), link them using link_issue_to_resolution
3. Mark status using mark_issue_status (new, recurring, or already_resolved)

Process all issues systematically.`, len(issues), strings.Join(lines, "\n"))
}

func (f *FilterStage) summarize(enriched *models.EnrichedReport) {
	enriched.Summary = fmt.Sprintf("%d new issues, %d recurring, %d already resolved",
		len(enriched.NewIssues()), len(enriched.RecurringIssues()), len(enriched.ResolvedIssues()))
}

func (f *FilterStage) emit(agentID string, kind events.Kind, summary string, details map[string]any) {
	f.stream.Emit(events.New(agentID, events.AgentTypeComparison, kind, "", summary, details))
}

package dreaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/goodnight-ai/goodnight/pkg/artifacts"
	"github.com/goodnight-ai/goodnight/pkg/config"
	"github.com/goodnight-ai/goodnight/pkg/events"
	"github.com/goodnight-ai/goodnight/pkg/judges"
	"github.com/goodnight-ai/goodnight/pkg/lint"
	"github.com/goodnight-ai/goodnight/pkg/llm"
	"github.com/goodnight-ai/goodnight/pkg/models"
	"github.com/goodnight-ai/goodnight/pkg/storage"
	"github.com/goodnight-ai/goodnight/pkg/tools"
)

// ResolveStage drafts, validates, and persists remediations for the
// issues that survived comparison.
type ResolveStage struct {
	runtimeDir string
	cfg        *config.Config
	provider   llm.Provider
	store      *storage.ResolutionStore
	vectors    *storage.VectorStore
	registry   *artifacts.Registry
	validator  *lint.Validator
	judges     *judges.Runner
	stream     *events.Stream
}

// NewResolveStage wires the resolution stage. Judges run only when enabled
// in the dreaming config; the vector store may be nil.
func NewResolveStage(runtimeDir string, cfg *config.Config, provider llm.Provider, store *storage.ResolutionStore, vectors *storage.VectorStore, registry *artifacts.Registry, stream *events.Stream) *ResolveStage {
	s := &ResolveStage{
		runtimeDir: runtimeDir,
		cfg:        cfg,
		provider:   provider,
		store:      store,
		vectors:    vectors,
		registry:   registry,
		validator:  lint.NewValidator(),
		stream:     stream,
	}
	if cfg.Dreaming.Judges {
		s.judges = judges.New(provider)
	}
	return s
}

// Generate runs the resolution agent over the report's new and recurring
// issues and persists whatever it finalizes. Returns the remediation and
// the path it was saved to; both are empty when nothing was finalized.
func (s *ResolveStage) Generate(ctx context.Context, report *models.EnrichedReport, runID string, dryRun bool) (*models.Remediation, string, error) {
	pending := append(report.NewIssues(), report.RecurringIssues()...)
	if len(pending) == 0 {
		slog.Info("No issues to resolve")
		return nil, "", nil
	}

	agentID := "step3-" + report.ConnectorID
	s.emit(agentID, events.KindThinking,
		fmt.Sprintf("Creating resolutions for %d issues", len(pending)), nil)

	handlers := s.registry.CreateAll(s.runtimeDir, s.registry.ScanAvailable(s.runtimeDir))
	rc := tools.NewResolutionContext(report, handlers, dryRun)
	defs := tools.WrapAllWithEvents(tools.ResolutionTools(rc), agentID, events.AgentTypeResolution, s.stream)

	resp, err := s.provider.RunAgent(ctx, s.buildPrompt(pending), llm.AgentConfig{
		SystemPrompt: s.systemPrompt(handlers),
		Tools:        defs,
		MaxTurns:     20,
		Temperature:  0.7,
		MaxTokens:    llm.DefaultMaxTokens,
	})
	if err != nil {
		var authErr *llm.AuthError
		if errors.As(err, &authErr) {
			return nil, "", err
		}
		slog.Error("Resolution agent failed", "agent_id", agentID, "error", err)
		s.emit(agentID, events.KindError, "Resolution failed: "+truncateRunes(err.Error(), 80), nil)
		return nil, "", nil
	}

	remediation := rc.Remediation()
	if remediation == nil {
		s.emit(agentID, events.KindComplete, "No actions finalized", nil)
		return nil, "", nil
	}

	remediation.DreamingRunID = runID
	if remediation.Metadata == nil {
		remediation.Metadata = make(map[string]any)
	}
	remediation.Metadata["token_usage"] = resp.Usage
	remediation.Metadata["conversations_analyzed"] = report.ConversationsAnalyzed
	issueIDs := make([]string, 0, len(pending))
	for i := range pending {
		issueIDs = append(issueIDs, pending[i].ID)
	}
	remediation.Metadata["issues"] = issueIDs

	if ok, problems := s.validator.ValidateRemediation(remediation); !ok {
		slog.Warn("Resolution document failed validation", "problems", problems)
	}

	if s.judges != nil {
		remediation.Metadata["evaluations"] = s.judges.EvaluateRemediation(ctx, remediation, report)
		slog.Info("Completed judge evaluations", "actions", len(remediation.Actions()))
	}

	actionCount := len(remediation.Actions())
	s.emit(agentID, events.KindComplete,
		fmt.Sprintf("Created %d resolution actions", actionCount),
		map[string]any{
			"action_count": actionCount,
			"dry_run":      dryRun,
			"tokens":       resp.Usage.Total(),
		})

	save := s.store.Save
	if dryRun {
		save = s.store.SaveDryRun
	}
	path, err := save(remediation)
	if err != nil {
		slog.Error("Saving resolution failed", "error", err)
		return remediation, "", nil
	}
	slog.Info("Saved resolution", "path", path)

	if !dryRun {
		s.indexActions(ctx, remediation)
		s.applyActions(remediation)
	}
	return remediation, path, nil
}

// indexActions stores each action in the vector index for future
// similarity search. Failures never block the cycle.
func (s *ResolveStage) indexActions(ctx context.Context, remediation *models.Remediation) {
	if s.vectors == nil {
		return
	}
	stored := 0
	for _, res := range remediation.Resolutions {
		for _, action := range res.Actions {
			ok, err := s.vectors.StoreAction(ctx, remediation.ID, res.ConnectorID, action, remediation.CreatedAt)
			if err != nil {
				slog.Warn("Vector indexing failed", "target", action.Target, "error", err)
				continue
			}
			if ok {
				stored++
			}
		}
	}
	slog.Info("Indexed resolution actions", "count", stored)
}

// applyActions materializes each action through its artifact handler.
// Per-action failures are logged and the rest still apply.
func (s *ResolveStage) applyActions(remediation *models.Remediation) {
	for _, res := range remediation.Resolutions {
		for _, action := range res.Actions {
			handler, err := s.registry.Create(action.Type, s.runtimeDir)
			if err != nil {
				slog.Error("Failed to apply action", "target", action.Target, "error", err)
				continue
			}
			if _, err := handler.Apply(action); err != nil {
				slog.Error("Failed to apply action", "target", action.Target, "error", err)
				continue
			}
			slog.Info("Applied action", "operation", action.Operation, "target", action.Target)
		}
	}
}

func (s *ResolveStage) systemPrompt(handlers []artifacts.Handler) string {
	var b strings.Builder
	b.WriteString(resolutionBasePrompt)
	for _, h := range handlers {
		fmt.Fprintf(&b, "\n\n## Artifact Type: %s\n%s", h.ID(), h.AgentContext())
	}
	return b.String()
}

func (s *ResolveStage) buildPrompt(issues []models.EnrichedIssue) string {
	sorted := make([]models.EnrichedIssue, len(issues))
	copy(sorted, issues)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity.Rank() > sorted[j].Severity.Rank()
	})
	if len(sorted) > 10 {
		sorted = sorted[:10]
	}

	var lines []string
	for i := range sorted {
		lines = append(lines, fmt.Sprintf("- [%s] %s\n  Type: %s, Status: %s\n  Description: %s...",
			strings.ToUpper(string(sorted[i].Severity)), sorted[i].Title,
			sorted[i].Kind, sorted[i].Status, truncateRunes(sorted[i].Description, 100)))
	}

	return fmt.Sprintf(`Create resolutions for these %d issues:

%s

Steps:
1. Get full issue details with get_issues_to_resolve
2. Check available artifact types with get_artifact_types
3. Create resolution actions using create_resolution_action
4. Review pending actions with list_pending_actions
5. Call finalize_resolution when complete

Consider grouping related issues if they can be addressed by a single artifact.
`, len(issues), strings.Join(lines, "\n"))
}

func (s *ResolveStage) emit(agentID string, kind events.Kind, summary string, details map[string]any) {
	s.stream.Emit(events.New(agentID, events.AgentTypeResolution, kind, "", summary, details))
}

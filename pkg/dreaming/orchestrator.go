// Package dreaming runs the background reflection cycle: extract recent
// conversations per connector, detect issues with exploration agents,
// compare them against historical resolutions, and draft and apply
// remediations. The orchestrator ties the three stages together and
// accounts tokens and cost for the whole cycle.
package dreaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/goodnight-ai/goodnight/pkg/artifacts"
	"github.com/goodnight-ai/goodnight/pkg/config"
	"github.com/goodnight-ai/goodnight/pkg/connectors"
	"github.com/goodnight-ai/goodnight/pkg/connectors/claudecode"
	"github.com/goodnight-ai/goodnight/pkg/events"
	"github.com/goodnight-ai/goodnight/pkg/llm"
	"github.com/goodnight-ai/goodnight/pkg/models"
	"github.com/goodnight-ai/goodnight/pkg/storage"
)

// Result summarizes one dreaming cycle.
type Result struct {
	Success               bool       `json:"success"`
	Error                 string     `json:"error,omitempty"`
	NoNewConversations    bool       `json:"no_new_conversations"`
	RunID                 string     `json:"run_id"`
	ConversationsAnalyzed int        `json:"conversations_analyzed"`
	IssuesFound           int        `json:"issues_found"`
	ResolutionsGenerated  int        `json:"resolutions_generated"`
	DurationSeconds       float64    `json:"duration_seconds"`
	ResolutionFiles       []string   `json:"resolution_files,omitempty"`
	Statistics            Statistics `json:"statistics"`
}

// Orchestrator drives the detect, filter, and resolve stages across every
// enabled connector.
type Orchestrator struct {
	runtimeDir string
	cfg        *config.Config
	dryRun     bool
	stream     *events.Stream
	state      *storage.StateStore
	connectors *connectors.Registry
	artifacts  *artifacts.Registry

	provider          llm.Provider
	connectorFilter   []string
	promptFilter      []string
	conversationLimit int
}

// NewOrchestrator wires an orchestrator over the runtime directory. A nil
// stream gets a private one.
func NewOrchestrator(runtimeDir string, cfg *config.Config, dryRun bool, stream *events.Stream) *Orchestrator {
	if stream == nil {
		stream = events.NewStream(0)
	}
	reg := connectors.NewRegistry()
	reg.Register(claudecode.ConnectorID, func(dir string) connectors.Connector {
		return claudecode.New(dir)
	})
	return &Orchestrator{
		runtimeDir: runtimeDir,
		cfg:        cfg,
		dryRun:     dryRun,
		stream:     stream,
		state:      storage.NewStateStore(runtimeDir),
		connectors: reg,
		artifacts:  artifacts.NewRegistry(),
	}
}

// SetConnectorFilter restricts the cycle to the given connector ids.
func (o *Orchestrator) SetConnectorFilter(ids []string) { o.connectorFilter = ids }

// SetPromptFilter restricts detection to the given prompt modules.
func (o *Orchestrator) SetPromptFilter(prompts []string) { o.promptFilter = prompts }

// SetConversationLimit caps extraction per connector, for testing.
func (o *Orchestrator) SetConversationLimit(limit int) { o.conversationLimit = limit }

// SetProvider injects an LLM provider, replacing config-driven creation.
func (o *Orchestrator) SetProvider(p llm.Provider) { o.provider = p }

// SetConnectorRegistry replaces the connector registry.
func (o *Orchestrator) SetConnectorRegistry(reg *connectors.Registry) { o.connectors = reg }

// Stream returns the event stream this orchestrator emits on.
func (o *Orchestrator) Stream() *events.Stream { return o.stream }

// Run executes one full dreaming cycle. Failures are reported in the
// result rather than returned; the result always carries the run id,
// duration, and token statistics.
func (o *Orchestrator) Run(ctx context.Context) *Result {
	start := time.Now()
	runID := uuid.NewString()
	result := &Result{Success: true, RunID: runID}

	o.stream.Start(runID)
	defer o.stream.Stop()

	slog.Info("Starting dreaming cycle", "run_id", runID)
	o.emit(events.KindThinking, "Starting dreaming cycle "+models.ShortID(runID), nil)

	stats := Statistics{Model: o.modelID()}

	provider := o.provider
	if provider == nil {
		var err error
		provider, err = llm.New(ctx, o.cfg.Provider)
		if err != nil {
			return o.fail(result, start, stats, err)
		}
	}

	ids := o.connectorFilter
	if len(ids) == 0 {
		ids = o.cfg.Enabled.Connectors
	}
	conns := o.connectors.CreateAll(o.runtimeDir, ids)
	if len(conns) == 0 {
		slog.Warn("No connectors available")
		result.Error = "No connectors available"
		result.DurationSeconds = time.Since(start).Seconds()
		result.Statistics = stats
		return result
	}

	store := storage.NewResolutionStore(o.runtimeDir)
	vectors := o.vectorStore()
	detect := NewDetectStage(o.runtimeDir, o.cfg, provider, o.stream)
	filter := NewFilterStage(o.cfg, provider, store, vectors, o.stream)
	resolve := NewResolveStage(o.runtimeDir, o.cfg, provider, store, vectors, o.artifacts, o.stream)

	var totalConversations, totalIssues, totalResolutions int
	for _, conn := range conns {
		slog.Info("Processing connector", "connector_id", conn.ID())
		o.emit(events.KindThinking, "Processing connector: "+conn.ID(), nil)

		batch, err := o.extract(ctx, conn)
		if err != nil {
			return o.fail(result, start, stats, err)
		}
		convs := batch.Conversations
		totalConversations += len(convs)
		if len(convs) == 0 {
			slog.Info("No new conversations", "connector_id", conn.ID())
			continue
		}

		report, err := detect.Analyze(ctx, conn.ID(), convs, o.promptFilter)
		if err != nil {
			return o.fail(result, start, stats, err)
		}
		totalIssues += len(report.Issues)
		stats.AddUsage(report.TokenUsage)

		if len(report.Issues) == 0 {
			slog.Info("No issues found", "connector_id", conn.ID())
			o.advanceState(conn.ID(), convs, batch.Cursor)
			continue
		}

		enriched, err := filter.Compare(ctx, report)
		if err != nil {
			return o.fail(result, start, stats, err)
		}
		stats.AddUsage(usageDelta(enriched.TokenUsage, report.TokenUsage))
		slog.Info("Issues triaged",
			"new", len(enriched.NewIssues()),
			"recurring", len(enriched.RecurringIssues()),
			"resolved", len(enriched.ResolvedIssues()))

		remediation, path, err := resolve.Generate(ctx, enriched, runID, o.dryRun)
		if err != nil {
			return o.fail(result, start, stats, err)
		}
		if remediation != nil {
			totalResolutions += len(remediation.Actions())
			if path != "" {
				result.ResolutionFiles = append(result.ResolutionFiles, path)
			}
			if usage, ok := remediation.Metadata["token_usage"].(models.TokenUsage); ok {
				stats.AddUsage(usage)
			}
		}

		o.advanceState(conn.ID(), convs, batch.Cursor)
	}

	if totalConversations == 0 {
		result.NoNewConversations = true
		result.DurationSeconds = time.Since(start).Seconds()
		result.Statistics = stats
		o.emit(events.KindComplete, "No new conversations to analyze", nil)
		slog.Info("No new conversations to analyze")
		return result
	}

	if !o.dryRun {
		if err := o.state.UpdateDreaming(runID, totalIssues, totalResolutions); err != nil {
			slog.Warn("Updating dreaming state failed", "error", err)
		}
	}

	result.ConversationsAnalyzed = totalConversations
	result.IssuesFound = totalIssues
	result.ResolutionsGenerated = totalResolutions
	result.DurationSeconds = time.Since(start).Seconds()
	result.Statistics = stats

	o.emit(events.KindComplete,
		fmt.Sprintf("Cycle complete: %d issues, %d resolutions", totalIssues, totalResolutions),
		map[string]any{
			"conversations":    totalConversations,
			"issues":           totalIssues,
			"resolutions":      totalResolutions,
			"duration_seconds": result.DurationSeconds,
			"statistics":       stats.ToMap(),
		})
	slog.Info("Dreaming cycle completed",
		"conversations", totalConversations, "issues", totalIssues, "resolutions", totalResolutions)
	return result
}

// extract pulls the next batch of conversations for a connector. First
// runs look back initial_lookback_days; later runs resume from the last
// processed timestamp.
func (o *Orchestrator) extract(ctx context.Context, conn connectors.Connector) (*models.Batch, error) {
	st := o.state.ConnectorState(conn.ID())

	if o.conversationLimit > 0 {
		return conn.Extract(ctx, st.LastProcessed, st.Cursor, o.conversationLimit)
	}

	since := st.LastProcessed
	if since == nil {
		days := o.cfg.Dreaming.InitialLookbackDays
		cutoff := time.Now().UTC().AddDate(0, 0, -days)
		since = &cutoff
		slog.Info("First run, using initial lookback", "connector_id", conn.ID(), "days", days)
	} else {
		slog.Info("Resuming extraction", "connector_id", conn.ID(), "since", since.Format(time.RFC3339))
	}
	return conn.Extract(ctx, since, st.Cursor, 0)
}

// advanceState records the newest conversation timestamp so the next run
// resumes after it. Dry runs never advance state.
func (o *Orchestrator) advanceState(connectorID string, convs []models.Conversation, cursor string) {
	if o.dryRun || len(convs) == 0 {
		return
	}

	var latest *time.Time
	for i := range convs {
		ts := convs[i].EndTime
		if ts.IsZero() {
			ts = convs[i].StartTime
		}
		if ts.IsZero() {
			continue
		}
		ts = ts.UTC()
		if latest == nil || ts.After(*latest) {
			latest = &ts
		}
	}

	var cursorPtr *string
	if cursor != "" {
		cursorPtr = &cursor
	}
	if err := o.state.UpdateConnector(connectorID, latest, cursorPtr, len(convs)); err != nil {
		slog.Warn("Updating connector state failed", "connector_id", connectorID, "error", err)
	}
}

// fail finalizes the result for an aborted cycle. Authentication errors
// surface their hint in the result error.
func (o *Orchestrator) fail(result *Result, start time.Time, stats Statistics, err error) *Result {
	result.Success = false
	result.DurationSeconds = time.Since(start).Seconds()
	result.Statistics = stats

	var authErr *llm.AuthError
	if errors.As(err, &authErr) {
		result.Error = authErr.Error()
		slog.Error("Authentication failed", "error", authErr.Message, "hint", authErr.Hint)
		o.emit(events.KindError, authErr.Error(), nil)
		return result
	}

	result.Error = err.Error()
	slog.Error("Dreaming cycle failed", "error", err)
	o.emit(events.KindError, "Cycle failed: "+truncateRunes(err.Error(), 80), nil)
	return result
}

func (o *Orchestrator) emit(kind events.Kind, summary string, details map[string]any) {
	o.stream.Emit(events.New("orchestrator", events.AgentTypeOrchestrator, kind, "", summary, details))
}

// modelID resolves the model the cycle will bill against.
func (o *Orchestrator) modelID() string {
	if o.cfg.Provider.Default == "anthropic" {
		return o.cfg.Provider.Anthropic.Model
	}
	return o.cfg.Provider.Bedrock.Model
}

// vectorStore builds the vector backend, or nil when disabled.
func (o *Orchestrator) vectorStore() *storage.VectorStore {
	if !o.cfg.Vector.Enabled {
		return nil
	}
	embedder := storage.NewOllamaEmbedder(o.cfg.Vector.OllamaURL, o.cfg.Vector.EmbeddingModel)
	return storage.NewVectorStore(o.cfg.Vector.RedisURL, embedder, o.cfg.Vector.MinSimilarity)
}

// usageDelta returns total minus prior, for stages that accumulate into a
// shared report.
func usageDelta(total, prior models.TokenUsage) models.TokenUsage {
	return models.TokenUsage{
		InputTokens:      total.InputTokens - prior.InputTokens,
		OutputTokens:     total.OutputTokens - prior.OutputTokens,
		CacheReadTokens:  total.CacheReadTokens - prior.CacheReadTokens,
		CacheWriteTokens: total.CacheWriteTokens - prior.CacheWriteTokens,
	}
}

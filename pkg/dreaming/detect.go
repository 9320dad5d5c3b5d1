package dreaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goodnight-ai/goodnight/pkg/config"
	"github.com/goodnight-ai/goodnight/pkg/events"
	"github.com/goodnight-ai/goodnight/pkg/llm"
	"github.com/goodnight-ai/goodnight/pkg/models"
	"github.com/goodnight-ai/goodnight/pkg/tools"
)

const noProjectFolder = "(no project)"

// DetectStage runs one exploration agent per project folder and merges the
// resulting reports.
type DetectStage struct {
	cfg      *config.Config
	provider llm.Provider
	stream   *events.Stream
	modules  []PromptModule
}

// NewDetectStage loads prompt modules from <runtimeDir>/prompts.
func NewDetectStage(runtimeDir string, cfg *config.Config, provider llm.Provider, stream *events.Stream) *DetectStage {
	return &DetectStage{
		cfg:      cfg,
		provider: provider,
		stream:   stream,
		modules:  LoadPromptModules(filepath.Join(runtimeDir, "prompts")),
	}
}

// Analyze groups conversations by project folder, runs one agent per
// folder, and merges the reports into one for the connector. Agents run
// concurrently, capped by the exploration_agents setting when positive.
func (d *DetectStage) Analyze(ctx context.Context, connectorID string, conversations []models.Conversation, promptFilter []string) (*models.AnalysisReport, error) {
	if len(conversations) == 0 {
		return &models.AnalysisReport{
			ConnectorID: connectorID,
			Summary:     "No conversations to analyze",
		}, nil
	}

	groups := make(map[string][]models.Conversation)
	var order []string
	for _, conv := range conversations {
		key := conv.WorkingDirectory()
		if key == "" {
			key = noProjectFolder
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], conv)
	}

	var sem chan struct{}
	if n := d.cfg.Dreaming.ExplorationAgents; n > 0 {
		sem = make(chan struct{}, n)
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		reports []*models.AnalysisReport
		runErr  error
	)
	for _, folder := range order {
		convs := groups[folder]
		agentID := fmt.Sprintf("step1-%s-%s", connectorID, truncateRunes(folderBase(folder), 20))

		wg.Add(1)
		go func(agentID, folder string, convs []models.Conversation) {
			defer wg.Done()
			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					mu.Lock()
					if runErr == nil {
						runErr = ctx.Err()
					}
					mu.Unlock()
					return
				}
			}
			report, err := d.runAgent(ctx, agentID, folder, convs, promptFilter)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if runErr == nil {
					runErr = err
				}
				return
			}
			reports = append(reports, report)
		}(agentID, folder, convs)
	}
	wg.Wait()

	if runErr != nil {
		return nil, runErr
	}

	merged := NewMerger(nil).MergeReports(reports)
	merged.ConnectorID = connectorID
	return merged, nil
}

// runAgent explores one folder's conversations. Authentication failures
// propagate; other agent failures still produce a report from whatever
// issues were recorded before the failure.
func (d *DetectStage) runAgent(ctx context.Context, agentID, folder string, conversations []models.Conversation, promptFilter []string) (*models.AnalysisReport, error) {
	d.emit(agentID, events.KindThinking,
		fmt.Sprintf("Starting analysis of %d conversations in %s", len(conversations), folderBase(folder)), nil)

	enabled := promptFilter
	if len(enabled) == 0 {
		enabled = d.cfg.Enabled.Prompts
	}
	systemPrompt := BuildSystemPrompt(detectionBasePrompt, d.modules, enabled)

	dc := tools.NewDetectionContext(conversations)
	defs := tools.WrapAllWithEvents(tools.DetectionTools(dc), agentID, events.AgentTypeAnalysis, d.stream)

	resp, err := d.provider.RunAgent(ctx, d.buildPrompt(conversations, folder), llm.AgentConfig{
		SystemPrompt: systemPrompt,
		Tools:        defs,
		MaxTurns:     30,
		Temperature:  0.7,
		MaxTokens:    llm.DefaultMaxTokens,
	})

	var usage models.TokenUsage
	var summary string
	switch {
	case err != nil:
		var authErr *llm.AuthError
		if errors.As(err, &authErr) {
			return nil, err
		}
		slog.Error("Analysis agent failed", "agent_id", agentID, "error", err)
		d.emit(agentID, events.KindError, "Analysis failed: "+truncateRunes(err.Error(), 80), nil)
		summary = fmt.Sprintf("Analysis failed: %v", err)
	default:
		usage = resp.Usage
		summary = summarizeFinal(resp.FinalText())
		d.emit(agentID, events.KindComplete,
			fmt.Sprintf("Found %d issues", len(dc.Issues)),
			map[string]any{"issues_found": len(dc.Issues), "tokens": usage.Total()})
	}

	return &models.AnalysisReport{
		Issues:                dc.Issues,
		ConversationsAnalyzed: len(conversations),
		Summary:               summary,
		TokenUsage:            usage,
	}, nil
}

func (d *DetectStage) buildPrompt(conversations []models.Conversation, folder string) string {
	totalMessages := 0
	humanMessages := 0
	for i := range conversations {
		totalMessages += conversations[i].MessageCount()
		humanMessages += conversations[i].HumanMessageCount()
	}

	folderContext := ""
	localHint := "Set local_change=true ONLY for project-specific tech/conventions, false for general preferences."
	if folder != "" && folder != noProjectFolder {
		folderContext = fmt.Sprintf("\nProject folder: %s\nFull path: %s\n", folderBase(folder), folder)
		localHint = "Since all conversations are from the SAME project folder, issues are likely local_change=true (project-specific) unless they reflect general user preferences."
	}

	return fmt.Sprintf(`Analyze %d conversations for potential issues.
%s
Conversation Summary:
- Total conversations: %d
- Total messages: %d
- Human messages: %d

Your role is DETECTION - cast a wide net and report any potential issues.
A separate filtering step will decide what's worth acting on.

Your task:
1. START with scan_recent_human_messages() to quickly see what users are asking
2. Look for ANY patterns: corrections, frustrations, repeated requests, style issues
3. Use search_messages() to find similar patterns
4. Report issues liberally - better to over-detect than miss something
5. %s

Report anything that MIGHT be worth improving. When in doubt, report it.

START by calling scan_recent_human_messages() to quickly scan recent user messages.`,
		len(conversations), folderContext, len(conversations), totalMessages, humanMessages, localHint)
}

func (d *DetectStage) emit(agentID string, kind events.Kind, summary string, details map[string]any) {
	d.stream.Emit(events.New(agentID, events.AgentTypeAnalysis, kind, "", summary, details))
}

// summarizeFinal trims the agent's closing message to 200 runes.
func summarizeFinal(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "Analysis completed"
	}
	if r := []rune(text); len(r) > 200 {
		return string(r[:197]) + "..."
	}
	return text
}

// folderBase is the last path segment, tolerating non-path keys.
func folderBase(folder string) string {
	if i := strings.LastIndex(folder, "/"); i >= 0 {
		return folder[i+1:]
	}
	return folder
}

func truncateRunes(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

package dreaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goodnight-ai/goodnight/pkg/config"
	"github.com/goodnight-ai/goodnight/pkg/connectors"
	"github.com/goodnight-ai/goodnight/pkg/events"
	"github.com/goodnight-ai/goodnight/pkg/llm"
	"github.com/goodnight-ai/goodnight/pkg/models"
	"github.com/goodnight-ai/goodnight/pkg/storage"
)

type extractCall struct {
	since  *time.Time
	cursor string
	limit  int
}

// stubConnector returns a fixed batch and records extraction arguments.
type stubConnector struct {
	mu       sync.Mutex
	id       string
	batch    *models.Batch
	err      error
	extracts []extractCall
	last     *time.Time
}

func (s *stubConnector) ID() string                       { return s.id }
func (s *stubConnector) Name() string                     { return "Stub " + s.id }
func (s *stubConnector) Configure(connectors.Settings)    {}
func (s *stubConnector) Settings() connectors.Settings    { return connectors.DefaultSettings() }
func (s *stubConnector) LastProcessed() (*time.Time, error) { return s.last, nil }
func (s *stubConnector) SetLastProcessed(ts time.Time) error {
	s.last = &ts
	return nil
}

func (s *stubConnector) Extract(_ context.Context, since *time.Time, cursor string, limit int) (*models.Batch, error) {
	s.mu.Lock()
	s.extracts = append(s.extracts, extractCall{since: since, cursor: cursor, limit: limit})
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.batch == nil {
		return &models.Batch{}, nil
	}
	return s.batch, nil
}

func (s *stubConnector) calls() []extractCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]extractCall(nil), s.extracts...)
}

func stubRegistry(conns ...*stubConnector) *connectors.Registry {
	reg := connectors.NewRegistry()
	for _, conn := range conns {
		c := conn
		reg.Register(c.id, func(string) connectors.Connector { return c })
	}
	return reg
}

func orchestratorConfig(ids ...string) *config.Config {
	cfg := config.Default()
	cfg.Enabled.Connectors = ids
	cfg.Vector.Enabled = false
	return cfg
}

// stageOf identifies which pipeline stage an agent run belongs to by the
// tools it was offered.
func stageOf(cfg llm.AgentConfig) string {
	for _, def := range cfg.Tools {
		switch def.Name {
		case "report_issue":
			return "detect"
		case "mark_issue_status":
			return "filter"
		case "create_resolution_action":
			return "resolve"
		}
	}
	return "unknown"
}

func TestRunNoConnectors(t *testing.T) {
	orch := NewOrchestrator(t.TempDir(), orchestratorConfig("missing"), false, nil)
	orch.SetConnectorRegistry(connectors.NewRegistry())
	orch.SetProvider(&fakeProvider{})

	result := orch.Run(context.Background())

	assert.True(t, result.Success)
	assert.Equal(t, "No connectors available", result.Error)
	assert.NotEmpty(t, result.RunID)
	assert.GreaterOrEqual(t, result.DurationSeconds, 0.0)
}

func TestRunNoNewConversations(t *testing.T) {
	runtimeDir := t.TempDir()
	stub := &stubConnector{id: "stub"}
	stream := events.NewStream(0)
	orch := NewOrchestrator(runtimeDir, orchestratorConfig("stub"), false, stream)
	orch.SetConnectorRegistry(stubRegistry(stub))
	orch.SetProvider(&fakeProvider{})

	result := orch.Run(context.Background())

	assert.True(t, result.Success)
	assert.True(t, result.NoNewConversations)
	assert.Zero(t, result.ConversationsAnalyzed)

	// State never advances when nothing was extracted.
	st := storage.NewStateStore(runtimeDir).ConnectorState("stub")
	assert.Nil(t, st.LastProcessed)

	var sawComplete bool
	for _, e := range stream.All() {
		if e.Type == events.KindComplete && e.Summary == "No new conversations to analyze" {
			sawComplete = true
		}
	}
	assert.True(t, sawComplete)
}

func TestRunFullCycle(t *testing.T) {
	runtimeDir := resolveRuntime(t)
	ended := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	conv := conversation("sess-1", "/home/dev/api", "please confirm before deleting")
	conv.StartTime = ended.Add(-30 * time.Minute)
	conv.EndTime = ended
	stub := &stubConnector{id: "stub", batch: &models.Batch{Conversations: []models.Conversation{conv}}}

	provider := &fakeProvider{}
	provider.script = func(_ int, _ string, acfg llm.AgentConfig) (*llm.AgentResponse, error) {
		switch stageOf(acfg) {
		case "detect":
			callTool(t, acfg, "report_issue", reportIssueInput("Confirm before destructive actions"))
			return &llm.AgentResponse{
				Usage:      models.TokenUsage{InputTokens: 10, OutputTokens: 5},
				StopReason: llm.StopEndTurn, Turns: 2,
			}, nil
		case "filter":
			return &llm.AgentResponse{
				Usage:      models.TokenUsage{InputTokens: 20, OutputTokens: 8},
				StopReason: llm.StopEndTurn, Turns: 1,
			}, nil
		case "resolve":
			callTool(t, acfg, "create_resolution_action",
				createActionInput("99999999-aaaa-bbbb-cccc-dddddddddddd"))
			callTool(t, acfg, "finalize_resolution", nil)
			return &llm.AgentResponse{
				Usage:      models.TokenUsage{InputTokens: 30, OutputTokens: 12},
				StopReason: llm.StopEndTurn, Turns: 3,
			}, nil
		}
		t.Fatal("unexpected agent run")
		return nil, nil
	}

	stream := events.NewStream(0)
	orch := NewOrchestrator(runtimeDir, orchestratorConfig("stub"), false, stream)
	orch.SetConnectorRegistry(stubRegistry(stub))
	orch.SetProvider(provider)

	result := orch.Run(context.Background())

	require.True(t, result.Success, "run failed: %s", result.Error)
	assert.Equal(t, 1, result.ConversationsAnalyzed)
	assert.Equal(t, 1, result.IssuesFound)
	assert.Equal(t, 1, result.ResolutionsGenerated)
	require.Len(t, result.ResolutionFiles, 1)
	assert.False(t, result.NoNewConversations)

	// Token usage sums across all three stages.
	assert.Equal(t, 60, result.Statistics.InputTokens)
	assert.Equal(t, 25, result.Statistics.OutputTokens)
	assert.Equal(t, config.Default().Provider.Bedrock.Model, result.Statistics.Model)

	// Connector state advanced to the newest conversation timestamp.
	st := storage.NewStateStore(runtimeDir).ConnectorState("stub")
	require.NotNil(t, st.LastProcessed)
	assert.True(t, st.LastProcessed.Equal(ended))
	assert.Equal(t, 1, st.ConversationsProcessed)

	dreaming := storage.NewStateStore(runtimeDir).Dreaming()
	assert.Equal(t, result.RunID, dreaming.LastRunID)
	assert.Equal(t, 1, dreaming.IssuesFoundTotal)
	assert.Equal(t, 1, dreaming.ResolutionsGeneratedTotal)

	var sawComplete bool
	for _, e := range stream.All() {
		if e.Type == events.KindComplete && e.AgentID == "orchestrator" {
			sawComplete = true
			assert.Equal(t, "Cycle complete: 1 issues, 1 resolutions", e.Summary)
		}
	}
	assert.True(t, sawComplete)
}

func TestRunNoIssuesStillAdvancesState(t *testing.T) {
	runtimeDir := t.TempDir()
	ended := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	conv := conversation("sess-1", "/home/dev/api", "hello")
	conv.EndTime = ended
	stub := &stubConnector{id: "stub", batch: &models.Batch{Conversations: []models.Conversation{conv}}}

	provider := &fakeProvider{}
	orch := NewOrchestrator(runtimeDir, orchestratorConfig("stub"), false, events.NewStream(0))
	orch.SetConnectorRegistry(stubRegistry(stub))
	orch.SetProvider(provider)

	result := orch.Run(context.Background())

	require.True(t, result.Success)
	assert.Equal(t, 1, result.ConversationsAnalyzed)
	assert.Zero(t, result.IssuesFound)
	assert.Zero(t, result.ResolutionsGenerated)

	// Only the detection agent ran.
	assert.Len(t, provider.agentRuns(), 1)

	// Conversations still count as processed for the next run.
	st := storage.NewStateStore(runtimeDir).ConnectorState("stub")
	require.NotNil(t, st.LastProcessed)
	assert.True(t, st.LastProcessed.Equal(ended))
}

func TestRunDryRunSkipsStateAndApply(t *testing.T) {
	runtimeDir := resolveRuntime(t)
	conv := conversation("sess-1", "/home/dev/api", "please confirm before deleting")
	conv.EndTime = time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	stub := &stubConnector{id: "stub", batch: &models.Batch{Conversations: []models.Conversation{conv}}}

	provider := &fakeProvider{}
	provider.script = func(_ int, _ string, acfg llm.AgentConfig) (*llm.AgentResponse, error) {
		switch stageOf(acfg) {
		case "detect":
			callTool(t, acfg, "report_issue", reportIssueInput("Confirm before destructive actions"))
		case "resolve":
			callTool(t, acfg, "create_resolution_action",
				createActionInput("99999999-aaaa-bbbb-cccc-dddddddddddd"))
			callTool(t, acfg, "finalize_resolution", nil)
		}
		return &llm.AgentResponse{StopReason: llm.StopEndTurn, Turns: 1}, nil
	}

	orch := NewOrchestrator(runtimeDir, orchestratorConfig("stub"), true, events.NewStream(0))
	orch.SetConnectorRegistry(stubRegistry(stub))
	orch.SetProvider(provider)

	result := orch.Run(context.Background())

	require.True(t, result.Success, "run failed: %s", result.Error)
	require.Len(t, result.ResolutionFiles, 1)
	assert.Contains(t, result.ResolutionFiles[0], "dry-runs")

	st := storage.NewStateStore(runtimeDir).ConnectorState("stub")
	assert.Nil(t, st.LastProcessed)
	assert.Empty(t, storage.NewStateStore(runtimeDir).Dreaming().LastRunID)
}

func TestRunAuthErrorFailsResult(t *testing.T) {
	runtimeDir := t.TempDir()
	conv := conversation("sess-1", "/home/dev/api", "hello")
	stub := &stubConnector{id: "stub", batch: &models.Batch{Conversations: []models.Conversation{conv}}}

	provider := &fakeProvider{}
	provider.script = func(_ int, _ string, _ llm.AgentConfig) (*llm.AgentResponse, error) {
		return nil, &llm.AuthError{Message: "token expired", Hint: "run aws sso login"}
	}
	stream := events.NewStream(0)
	orch := NewOrchestrator(runtimeDir, orchestratorConfig("stub"), false, stream)
	orch.SetConnectorRegistry(stubRegistry(stub))
	orch.SetProvider(provider)

	result := orch.Run(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, "token expired (run aws sso login)", result.Error)
	assert.GreaterOrEqual(t, result.DurationSeconds, 0.0)

	// State never advances on failure.
	st := storage.NewStateStore(runtimeDir).ConnectorState("stub")
	assert.Nil(t, st.LastProcessed)
}

func TestRunConnectorFilter(t *testing.T) {
	a := &stubConnector{id: "stub-a"}
	b := &stubConnector{id: "stub-b"}
	orch := NewOrchestrator(t.TempDir(), orchestratorConfig("stub-a", "stub-b"), false, nil)
	orch.SetConnectorRegistry(stubRegistry(a, b))
	orch.SetProvider(&fakeProvider{})
	orch.SetConnectorFilter([]string{"stub-b"})

	result := orch.Run(context.Background())

	require.True(t, result.Success)
	assert.Empty(t, a.calls())
	assert.Len(t, b.calls(), 1)
}

func TestRunConversationLimitOverride(t *testing.T) {
	stub := &stubConnector{id: "stub"}
	orch := NewOrchestrator(t.TempDir(), orchestratorConfig("stub"), false, nil)
	orch.SetConnectorRegistry(stubRegistry(stub))
	orch.SetProvider(&fakeProvider{})
	orch.SetConversationLimit(5)

	result := orch.Run(context.Background())

	require.True(t, result.Success)
	calls := stub.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 5, calls[0].limit)
	assert.Nil(t, calls[0].since)
}

func TestRunFirstRunUsesInitialLookback(t *testing.T) {
	cfg := orchestratorConfig("stub")
	stub := &stubConnector{id: "stub"}
	orch := NewOrchestrator(t.TempDir(), cfg, false, nil)
	orch.SetConnectorRegistry(stubRegistry(stub))
	orch.SetProvider(&fakeProvider{})

	result := orch.Run(context.Background())

	require.True(t, result.Success)
	calls := stub.calls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].since)

	expected := time.Now().UTC().AddDate(0, 0, -cfg.Dreaming.InitialLookbackDays)
	assert.WithinDuration(t, expected, *calls[0].since, time.Minute)
	assert.Zero(t, calls[0].limit)
}

func TestRunResumesFromLastProcessed(t *testing.T) {
	runtimeDir := t.TempDir()
	last := time.Date(2026, 8, 19, 9, 0, 0, 0, time.UTC)
	cursor := "sessions/sess-0.jsonl"
	require.NoError(t, storage.NewStateStore(runtimeDir).UpdateConnector("stub", &last, &cursor, 3))

	stub := &stubConnector{id: "stub"}
	orch := NewOrchestrator(runtimeDir, orchestratorConfig("stub"), false, nil)
	orch.SetConnectorRegistry(stubRegistry(stub))
	orch.SetProvider(&fakeProvider{})

	result := orch.Run(context.Background())

	require.True(t, result.Success)
	calls := stub.calls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].since)
	assert.True(t, calls[0].since.Equal(last))
	assert.Equal(t, cursor, calls[0].cursor)
}

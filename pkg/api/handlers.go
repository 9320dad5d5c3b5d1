package api

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/goodnight-ai/goodnight/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// statusHandler handles GET /api/v1/status.
func (s *Server) statusHandler(c *gin.Context) {
	dreaming := s.state.Dreaming()

	var lastRun *string
	if dreaming.LastRun != nil {
		v := dreaming.LastRun.UTC().Format(time.RFC3339)
		lastRun = &v
	}

	cfg := s.config()
	resp := StatusResponse{
		RuntimeDir:       s.runtimeDir,
		Provider:         cfg.Provider.Default,
		APIPort:          cfg.API.Port,
		LastDreamRun:     lastRun,
		TotalDreamRuns:   dreaming.TotalRuns,
		TotalIssuesFound: dreaming.IssuesFoundTotal,
		TotalResolutions: dreaming.ResolutionsGeneratedTotal,
		ActiveAgents:     len(s.stream.ActiveAgents()),
	}
	if s.pidProbe != nil {
		if pid, running := s.pidProbe(); running {
			resp.DaemonRunning = true
			resp.DaemonPID = &pid
		}
	}
	c.JSON(http.StatusOK, resp)
}

// triggerDreamHandler handles POST /api/v1/dream. Only one cycle may run
// at a time; concurrent triggers get 409.
func (s *Server) triggerDreamHandler(c *gin.Context) {
	var req TriggerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if s.trigger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dreaming is not available"})
		return
	}
	if s.stream.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": "a dreaming cycle is already running"})
		return
	}
	if !s.busy.CompareAndSwap(false, true) {
		c.JSON(http.StatusConflict, gin.H{"error": "a dreaming cycle is already running"})
		return
	}
	defer s.busy.Store(false)

	result := s.trigger(c.Request.Context(), req)
	if result.Success {
		c.JSON(http.StatusOK, TriggerResponse{
			Success: true,
			RunID:   result.RunID,
			Message: fmt.Sprintf(
				"Dreaming cycle completed. Analyzed %d conversations, found %d issues, generated %d resolutions.",
				result.ConversationsAnalyzed, result.IssuesFound, result.ResolutionsGenerated),
		})
		return
	}
	msg := result.Error
	if msg == "" {
		msg = "Unknown error"
	}
	c.JSON(http.StatusOK, TriggerResponse{Success: false, Message: msg})
}

// dreamStatusHandler handles GET /api/v1/dream/status.
func (s *Server) dreamStatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, DreamStatusResponse{
		Running:      s.stream.Running(),
		RunID:        s.stream.RunID(),
		ActiveAgents: s.stream.ActiveAgents(),
		RecentEvents: s.stream.Recent(20),
	})
}

// historyHandler handles GET /api/v1/history.
func (s *Server) historyHandler(c *gin.Context) {
	limit := 10
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	recent, err := s.resolutions.ListRecent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	items := make([]HistoryItem, 0, len(recent))
	for _, rem := range recent {
		items = append(items, HistoryItem{
			ID:                    rem.ID,
			CreatedAt:             rem.CreatedAt.UTC().Format(time.RFC3339),
			ConversationsAnalyzed: metaInt(rem.Metadata, "conversations_analyzed"),
			IssuesFound:           metaLen(rem.Metadata, "issues"),
			ResolutionsCount:      len(rem.Actions()),
		})
	}
	c.JSON(http.StatusOK, HistoryResponse{Items: items})
}

// configHandler handles GET /api/v1/config.
func (s *Server) configHandler(c *gin.Context) {
	cfg := s.config()
	c.JSON(http.StatusOK, ConfigResponse{
		Daemon: ConfigDaemon{
			PollInterval:  cfg.Daemon.PollInterval,
			DreamInterval: cfg.Daemon.DreamInterval,
			LogLevel:      cfg.Daemon.LogLevel,
		},
		API: ConfigAPI{
			Enabled: cfg.API.Enabled,
			Host:    cfg.API.Host,
			Port:    cfg.API.Port,
		},
		Provider: ConfigProvider{
			Default:   cfg.Provider.Default,
			Anthropic: ConfigAnthropic{Model: cfg.Provider.Anthropic.Model},
			Bedrock: ConfigBedrock{
				Region: cfg.Provider.Bedrock.Region,
				Model:  cfg.Provider.Bedrock.Model,
			},
		},
		Enabled: ConfigEnabled{
			Connectors: cfg.Enabled.Connectors,
			Artifacts:  cfg.Enabled.Artifacts,
			Prompts:    cfg.Enabled.Prompts,
		},
		Dreaming: ConfigDreaming{
			ExplorationAgents:  cfg.Dreaming.ExplorationAgents,
			HistoricalLookback: cfg.Dreaming.HistoricalLookback,
		},
	})
}

// healthHandler handles GET /api/v1/health. Only goodnight's own
// components are checked; external services (Redis, Ollama, the LLM
// backend) are excluded so their outages never make a supervisor restart
// the daemon.
func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if _, err := os.Stat(s.runtimeDir); err != nil {
		status = healthStatusUnhealthy
		checks["storage"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["storage"] = HealthCheck{Status: healthStatusHealthy}
	}
	checks["event_stream"] = HealthCheck{Status: healthStatusHealthy}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, HealthResponse{
		Status:  status,
		Version: version.Full(),
		Checks:  checks,
	})
}

// metaInt reads an integer metadata value, tolerating the float64 that
// JSON round trips produce.
func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// metaLen reads the length of a list metadata value.
func metaLen(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case []any:
		return len(v)
	case []string:
		return len(v)
	}
	return 0
}

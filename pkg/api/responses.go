package api

import "github.com/goodnight-ai/goodnight/pkg/events"

// TriggerRequest is the body of POST /api/v1/dream. All fields are
// optional; an empty body triggers a full cycle.
type TriggerRequest struct {
	// Connector restricts the cycle to one connector id.
	Connector string `json:"connector,omitempty"`
	// Module restricts Stage A to one prompt module.
	Module string `json:"module,omitempty"`
	// DryRun saves the remediation without applying or indexing it.
	DryRun bool `json:"dry_run,omitempty"`
}

// TriggerResponse is returned by POST /api/v1/dream.
type TriggerResponse struct {
	Success bool   `json:"success"`
	RunID   string `json:"run_id,omitempty"`
	Message string `json:"message"`
}

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	DaemonRunning    bool    `json:"daemon_running"`
	DaemonPID        *int    `json:"daemon_pid,omitempty"`
	RuntimeDir       string  `json:"runtime_dir"`
	Provider         string  `json:"provider"`
	APIPort          int     `json:"api_port"`
	LastDreamRun     *string `json:"last_dream_run"`
	TotalDreamRuns   int     `json:"total_dream_runs"`
	TotalIssuesFound int     `json:"total_issues_found"`
	TotalResolutions int     `json:"total_resolutions"`
	ActiveAgents     int     `json:"active_agents"`
}

// DreamStatusResponse is returned by GET /api/v1/dream/status.
type DreamStatusResponse struct {
	Running      bool                         `json:"running"`
	RunID        string                       `json:"run_id,omitempty"`
	ActiveAgents map[string]events.AgentEvent `json:"active_agents"`
	RecentEvents []events.AgentEvent          `json:"recent_events"`
}

// HistoryItem summarizes one stored remediation.
type HistoryItem struct {
	ID                    string `json:"id"`
	CreatedAt             string `json:"created_at"`
	ConversationsAnalyzed int    `json:"conversations_analyzed"`
	IssuesFound           int    `json:"issues_found"`
	ResolutionsCount      int    `json:"resolutions_count"`
}

// HistoryResponse is returned by GET /api/v1/history.
type HistoryResponse struct {
	Items []HistoryItem `json:"items"`
}

// ConfigResponse is the sanitized configuration echo returned by
// GET /api/v1/config. Credential material never appears here.
type ConfigResponse struct {
	Daemon   ConfigDaemon   `json:"daemon"`
	API      ConfigAPI      `json:"api"`
	Provider ConfigProvider `json:"provider"`
	Enabled  ConfigEnabled  `json:"enabled"`
	Dreaming ConfigDreaming `json:"dreaming"`
}

// ConfigDaemon echoes the daemon loop settings.
type ConfigDaemon struct {
	PollInterval  int    `json:"poll_interval"`
	DreamInterval int    `json:"dream_interval"`
	LogLevel      string `json:"log_level"`
}

// ConfigAPI echoes the control surface settings.
type ConfigAPI struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// ConfigProvider echoes the model selection without key material.
type ConfigProvider struct {
	Default   string          `json:"default"`
	Anthropic ConfigAnthropic `json:"anthropic"`
	Bedrock   ConfigBedrock   `json:"bedrock"`
}

// ConfigAnthropic echoes the direct API backend settings.
type ConfigAnthropic struct {
	Model string `json:"model"`
}

// ConfigBedrock echoes the Bedrock backend settings.
type ConfigBedrock struct {
	Region string `json:"region"`
	Model  string `json:"model"`
}

// ConfigEnabled echoes the enabled component lists.
type ConfigEnabled struct {
	Connectors []string `json:"connectors"`
	Artifacts  []string `json:"artifacts"`
	Prompts    []string `json:"prompts"`
}

// ConfigDreaming echoes the pipeline tuning knobs.
type ConfigDreaming struct {
	ExplorationAgents  int `json:"exploration_agents"`
	HistoricalLookback int `json:"historical_lookback"`
}

// HealthCheck reports one component's health.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// Package config loads and validates the goodnight runtime configuration
// from config.yaml in the runtime directory, with environment expansion and
// built-in defaults for every field.
package config

import (
	"log/slog"
	"strings"
	"time"
)

// Config is the complete goodnight configuration.
type Config struct {
	Daemon   DaemonConfig   `yaml:"daemon"`
	API      APIConfig      `yaml:"api"`
	Provider ProviderConfig `yaml:"provider"`
	Enabled  EnabledConfig  `yaml:"enabled"`
	Dreaming DreamingConfig `yaml:"dreaming"`
	Vector   VectorConfig   `yaml:"vector"`
}

// DaemonConfig controls the background loop.
type DaemonConfig struct {
	// PollInterval is how often the daemon wakes to check for work, in seconds.
	PollInterval int `yaml:"poll_interval"`
	// DreamInterval is the minimum time between dreaming cycles, in seconds.
	DreamInterval int `yaml:"dream_interval"`
	// LogLevel is one of DEBUG, INFO, WARN, ERROR (case-insensitive).
	LogLevel string `yaml:"log_level"`
}

// PollDuration returns the poll interval as a duration.
func (c DaemonConfig) PollDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// DreamDuration returns the dream interval as a duration.
func (c DaemonConfig) DreamDuration() time.Duration {
	return time.Duration(c.DreamInterval) * time.Second
}

// Level parses LogLevel into a slog level. Unknown or empty values fall
// back to info.
func (c DaemonConfig) Level() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// APIConfig controls the local HTTP/WebSocket control surface.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// ProviderConfig selects and configures the LLM backends.
type ProviderConfig struct {
	// Default names the backend used for agent runs: "anthropic" or "bedrock".
	Default   string          `yaml:"default"`
	Bedrock   BedrockConfig   `yaml:"bedrock"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
}

// BedrockConfig configures the AWS Bedrock backend.
type BedrockConfig struct {
	Region string `yaml:"region"`
	Model  string `yaml:"model"`
}

// AnthropicConfig configures the direct Anthropic API backend.
type AnthropicConfig struct {
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

// EnabledConfig lists the active components by id.
type EnabledConfig struct {
	Connectors []string `yaml:"connectors"`
	Artifacts  []string `yaml:"artifacts"`
	Prompts    []string `yaml:"prompts"`
}

// DreamingConfig tunes the reflection pipeline.
type DreamingConfig struct {
	// ExplorationAgents caps concurrent Stage A agents; 0 means unbounded.
	ExplorationAgents int `yaml:"exploration_agents"`
	// HistoricalLookback is how many days of past remediations Stage B loads.
	HistoricalLookback int `yaml:"historical_lookback"`
	// InitialLookbackDays bounds the first cycle when no state exists yet.
	InitialLookbackDays int `yaml:"initial_lookback_days"`
	// MinAgeDays excludes remediations younger than this from vector recall.
	MinAgeDays int `yaml:"min_age_days"`
	// Schedule is an optional cron expression replacing the interval check.
	Schedule string `yaml:"schedule"`
	// Judges enables post-finalization LLM evaluation of each action.
	Judges bool `yaml:"judges"`
}

// VectorConfig configures the optional semantic-recall backend.
type VectorConfig struct {
	Enabled        bool    `yaml:"enabled"`
	RedisURL       string  `yaml:"redis_url"`
	OllamaURL      string  `yaml:"ollama_url"`
	EmbeddingModel string  `yaml:"embedding_model"`
	MinSimilarity  float64 `yaml:"min_similarity"`
}

// Default returns a configuration populated with every built-in default.
// Loading unmarshals YAML over this, so absent keys keep their defaults.
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			PollInterval:  60,
			DreamInterval: 3600,
			LogLevel:      "INFO",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    7777,
		},
		Provider: ProviderConfig{
			Default: "bedrock",
			Bedrock: BedrockConfig{
				Region: "us-east-1",
				Model:  "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
			},
			Anthropic: AnthropicConfig{
				APIKeyEnv: "ANTHROPIC_API_KEY",
				Model:     "claude-sonnet-4-20250514",
			},
		},
		Enabled: EnabledConfig{
			Connectors: []string{"claude-code"},
			Artifacts:  []string{"claude-skills"},
			Prompts:    []string{"pattern-detection", "frustration-signals"},
		},
		Dreaming: DreamingConfig{
			ExplorationAgents:   1,
			HistoricalLookback:  7,
			InitialLookbackDays: 7,
			MinAgeDays:          7,
		},
		Vector: VectorConfig{
			Enabled:        true,
			RedisURL:       "redis://localhost:6379",
			OllamaURL:      "http://localhost:11434",
			EmbeddingModel: "all-minilm",
			MinSimilarity:  0.5,
		},
	}
}

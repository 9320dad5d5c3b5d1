package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmptyYieldsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Daemon.PollInterval)
	assert.Equal(t, 3600, cfg.Daemon.DreamInterval)
	assert.Equal(t, "INFO", cfg.Daemon.LogLevel)
	assert.Equal(t, "bedrock", cfg.Provider.Default)
	assert.Equal(t, "us-east-1", cfg.Provider.Bedrock.Region)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, 7777, cfg.API.Port)
	assert.Equal(t, []string{"claude-code"}, cfg.Enabled.Connectors)
	assert.Equal(t, 1, cfg.Dreaming.ExplorationAgents)
	assert.Equal(t, 7, cfg.Dreaming.MinAgeDays)
	assert.True(t, cfg.Vector.Enabled)
	assert.Equal(t, "all-minilm", cfg.Vector.EmbeddingModel)
}

func TestParseOverridesDefaults(t *testing.T) {
	yaml := `
daemon:
  poll_interval: 5
  log_level: DEBUG
provider:
  default: anthropic
  anthropic:
    model: claude-sonnet-4-20250514
dreaming:
  exploration_agents: 4
`
	cfg, err := Parse([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Daemon.PollInterval)
	assert.Equal(t, "DEBUG", cfg.Daemon.LogLevel)
	assert.Equal(t, "anthropic", cfg.Provider.Default)
	assert.Equal(t, 4, cfg.Dreaming.ExplorationAgents)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, 3600, cfg.Daemon.DreamInterval)
	assert.Equal(t, 7777, cfg.API.Port)
}

func TestParseReplacesListsWholesale(t *testing.T) {
	yaml := `
enabled:
  connectors:
    - cursor
`
	cfg, err := Parse([]byte(yaml))
	require.NoError(t, err)

	// Lists are replaced, not merged with the defaults.
	assert.Equal(t, []string{"cursor"}, cfg.Enabled.Connectors)
	// Untouched sibling lists keep their defaults.
	assert.Equal(t, []string{"claude-skills"}, cfg.Enabled.Artifacts)
}

func TestParseBooleanFalseOverridesTrueDefault(t *testing.T) {
	cfg, err := Parse([]byte("api:\n  enabled: false\n"))
	require.NoError(t, err)
	assert.False(t, cfg.API.Enabled)
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("daemon: [unclosed"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := `
daemon:
  dream_interval: 120
provider:
  default: anthropic
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.Daemon.DreamInterval)
	assert.Equal(t, "anthropic", cfg.Provider.Default)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("{{{"), 0644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ConfigFileName, loadErr.File)
}

func TestLoadValidationFailure(t *testing.T) {
	dir := t.TempDir()
	content := `
provider:
  default: openai
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "provider", vErr.Section)
	assert.Equal(t, "default", vErr.Field)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_BEDROCK_REGION", "eu-west-1")

	dir := t.TempDir()
	content := `
provider:
  bedrock:
    region: {{.TEST_BEDROCK_REGION}}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Provider.Bedrock.Region)
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, float64(60), cfg.Daemon.PollDuration().Seconds())
	assert.Equal(t, float64(3600), cfg.Daemon.DreamDuration().Seconds())
}

func TestLoadUnreadableFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("daemon: {}"), 0000))

	_, err := Load(dir)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidYAML))
}

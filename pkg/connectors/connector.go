// Package connectors defines the source connector contract: a connector
// enumerates conversation logs from one assistant installation and yields
// them as parsed batches. Concrete connectors live in subpackages.
package connectors

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goodnight-ai/goodnight/pkg/models"
)

// Connector extracts conversations from one source.
type Connector interface {
	// ID is the stable connector identifier, e.g. "claude-code".
	ID() string
	// Name is the human-readable connector name.
	Name() string

	// Configure applies settings parsed from the connector definition.
	Configure(Settings)
	// Settings returns the active settings.
	Settings() Settings

	// Extract returns conversations whose session file was modified at or
	// after since (nil means no lower bound), starting strictly after the
	// cursor position. A positive limit truncates the batch and sets
	// HasMore plus a continuation cursor.
	Extract(ctx context.Context, since *time.Time, cursor string, limit int) (*models.Batch, error)

	// LastProcessed reports the most recent successfully processed
	// timestamp, or nil when the connector has never run.
	LastProcessed() (*time.Time, error)
	// SetLastProcessed persists the timestamp for the next run.
	SetLastProcessed(ts time.Time) error
}

// Settings holds the tunables parsed from a connector definition file.
type Settings struct {
	Enabled bool
	Path    string
	Format  string
	Extra   map[string]any
}

// DefaultSettings returns the settings used when no definition exists.
func DefaultSettings() Settings {
	return Settings{
		Enabled: true,
		Format:  "jsonl",
		Extra:   make(map[string]any),
	}
}

var settingLine = regexp.MustCompile(`^-\s+(\w+):\s*(.+)$`)

// ParseDefinition extracts settings from a Markdown connector definition.
// Only the "## Settings" section is interpreted; it holds one
// "- key: value" bullet per setting.
func ParseDefinition(content string) Settings {
	settings := DefaultSettings()

	inSettings := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## Settings") {
			inSettings = true
			continue
		}
		if inSettings && strings.HasPrefix(trimmed, "## ") {
			break
		}
		if !inSettings {
			continue
		}

		m := settingLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key := strings.TrimSpace(m[1])
		value := strings.TrimSpace(m[2])

		switch key {
		case "enabled":
			settings.Enabled = strings.EqualFold(value, "true")
		case "path":
			settings.Path = value
		case "format":
			settings.Format = value
		default:
			settings.Extra[key] = coerceValue(value)
		}
	}
	return settings
}

// LoadDefinition reads and parses a connector definition file.
func LoadDefinition(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read connector definition: %w", err)
	}
	return ParseDefinition(string(data)), nil
}

// coerceValue maps a definition string onto bool, int, float or string.
func coerceValue(value string) any {
	if strings.EqualFold(value, "true") {
		return true
	}
	if strings.EqualFold(value, "false") {
		return false
	}
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}

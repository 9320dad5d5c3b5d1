package artifacts

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is a parsed artifact definition markdown file. Sections the
// file omits stay zero-valued.
type Definition struct {
	ID              string
	Description     string
	Settings        Settings
	ValidationRules []string
	FileFormat      string
	AgentContext    string
	Schema          *ContentSchema
}

var (
	definitionSetting = regexp.MustCompile(`^-\s+(\w+):\s*(.+)$`)
	schemaFence       = regexp.MustCompile("(?s)```ya?ml?\\s*\\n(.+?)```")
)

// ParseDefinition parses a definition document. A malformed schema block
// degrades to an empty schema rather than failing the whole definition.
func ParseDefinition(id string, content []byte) *Definition {
	def := &Definition{ID: id, Settings: DefaultSettings()}
	sections := splitSections(string(content))

	if s, ok := sections["Description"]; ok {
		lines := strings.Split(strings.TrimSpace(s), "\n")
		def.Description = strings.TrimSpace(lines[0])
	}
	if s, ok := sections["Settings"]; ok {
		def.Settings = parseSettings(s)
	}
	if s, ok := sections["Validation Rules"]; ok {
		def.ValidationRules = parseList(s)
	}
	if s, ok := sections["File Format"]; ok {
		def.FileFormat = strings.TrimSpace(s)
	}
	if s, ok := sections["For Resolution Agent"]; ok {
		def.AgentContext = strings.TrimSpace(s)
	}
	if s, ok := sections["Content Schema"]; ok {
		def.Schema = parseContentSchema(s)
	}
	return def
}

// LoadDefinition reads and parses an <id>.md definition file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading artifact definition: %w", err)
	}
	id := strings.TrimSuffix(filepath.Base(path), ".md")
	return ParseDefinition(id, data), nil
}

// splitSections breaks a markdown document on ## headers.
func splitSections(content string) map[string]string {
	sections := make(map[string]string)
	var name string
	var body []string
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "## ") {
			if name != "" {
				sections[name] = strings.Join(body, "\n")
			}
			name = strings.TrimSpace(line[3:])
			body = nil
			continue
		}
		body = append(body, line)
	}
	if name != "" {
		sections[name] = strings.Join(body, "\n")
	}
	return sections
}

func parseSettings(content string) Settings {
	s := DefaultSettings()
	for _, line := range strings.Split(content, "\n") {
		m := definitionSetting.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key, value := m[1], strings.TrimSpace(m[2])
		switch key {
		case "enabled":
			s.Enabled = strings.EqualFold(value, "true")
		case "output_path":
			s.OutputPath = value
		case "scope":
			s.Scope = value
		default:
			s.Extra[key] = coerceValue(value)
		}
	}
	return s
}

func parseList(content string) []string {
	var items []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") {
			items = append(items, trimmed[2:])
		}
	}
	return items
}

func coerceValue(value string) any {
	if strings.EqualFold(value, "true") {
		return true
	}
	if strings.EqualFold(value, "false") {
		return false
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}

func parseContentSchema(content string) *ContentSchema {
	schema := &ContentSchema{
		RequiredFields: map[string]string{},
		OptionalFields: map[string]string{},
		Example:        map[string]any{},
	}
	m := schemaFence.FindStringSubmatch(content)
	if m == nil {
		return schema
	}
	var parsed ContentSchema
	if err := yaml.Unmarshal([]byte(m[1]), &parsed); err != nil {
		slog.Warn("Ignoring malformed content schema block", "error", err)
		return schema
	}
	if parsed.RequiredFields != nil {
		schema.RequiredFields = parsed.RequiredFields
	}
	if parsed.OptionalFields != nil {
		schema.OptionalFields = parsed.OptionalFields
	}
	if parsed.Example != nil {
		schema.Example = parsed.Example
	}
	schema.Hint = parsed.Hint
	return schema
}

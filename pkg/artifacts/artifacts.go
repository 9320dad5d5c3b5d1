// Package artifacts turns remediation actions into files on disk. Each
// handler owns one artifact type (Claude Code skills, CLAUDE.md preference
// files, or generic markdown) and knows how to create, update, append to,
// and validate it. Behavior is tuned by markdown definition files under
// <runtimeDir>/artifacts.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/goodnight-ai/goodnight/pkg/models"
)

// Artifact is one file created or updated by a handler.
type Artifact struct {
	Name     string         `json:"name"`
	Path     string         `json:"path"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Settings come from the Settings section of an artifact definition.
type Settings struct {
	Enabled    bool
	OutputPath string
	Scope      string
	Extra      map[string]any
}

// DefaultSettings returns the settings a handler runs with when no
// definition configures it.
func DefaultSettings() Settings {
	return Settings{Enabled: true, Scope: "global", Extra: map[string]any{}}
}

// ContentSchema tells the resolution agent what the content object for an
// artifact type must look like.
type ContentSchema struct {
	RequiredFields map[string]string `json:"required_fields" yaml:"required_fields"`
	OptionalFields map[string]string `json:"optional_fields" yaml:"optional_fields"`
	Example        map[string]any    `json:"example" yaml:"example"`
	Hint           string            `json:"hint" yaml:"hint"`
}

// Handler creates and maintains one artifact type on disk.
type Handler interface {
	// ID is the artifact type id, e.g. claude-skills.
	ID() string
	// Name is the human-readable artifact name.
	Name() string
	// Configure replaces the handler settings.
	Configure(Settings)
	// Settings returns the active settings.
	Settings() Settings
	// SetDefinition attaches a parsed definition and applies its settings.
	SetDefinition(*Definition)
	// AgentContext renders the definition guidance shown to the resolution
	// agent.
	AgentContext() string
	// ContentSchema describes the content object Apply expects.
	ContentSchema() ContentSchema
	// Apply executes one remediation action and returns the artifact it
	// produced. Validation problems land in the artifact metadata, not in
	// the error.
	Apply(action models.RemediationAction) (*Artifact, error)
	// Validate returns problems with a rendered artifact. Empty means valid.
	Validate(a *Artifact) []string
}

// base carries the identity, settings, and definition shared by all
// handlers.
type base struct {
	id       string
	name     string
	settings Settings
	def      *Definition
}

func newBase(id, name string) base {
	return base{id: id, name: name, settings: DefaultSettings()}
}

func (b *base) ID() string           { return b.id }
func (b *base) Name() string         { return b.name }
func (b *base) Configure(s Settings) { b.settings = s }
func (b *base) Settings() Settings   { return b.settings }

func (b *base) SetDefinition(def *Definition) {
	b.def = def
	if def != nil {
		b.settings = def.Settings
	}
}

// AgentContext renders the definition-driven guidance block.
func (b *base) AgentContext() string {
	var sb strings.Builder
	sb.WriteString("Artifact Type: " + b.id + "\n")
	if b.def == nil {
		return sb.String()
	}
	if b.def.AgentContext != "" {
		sb.WriteString("\n" + b.def.AgentContext + "\n")
	}
	if b.def.FileFormat != "" {
		sb.WriteString("\nFile Format:\n" + b.def.FileFormat + "\n")
	}
	if len(b.def.ValidationRules) > 0 {
		sb.WriteString("\nValidation Rules:\n")
		for _, rule := range b.def.ValidationRules {
			sb.WriteString("- " + rule + "\n")
		}
	}
	return sb.String()
}

// schemaOrDefault returns the definition schema when one was parsed.
func (b *base) schemaOrDefault(fallback ContentSchema) ContentSchema {
	if b.def != nil && b.def.Schema != nil {
		return *b.def.Schema
	}
	return fallback
}

// artifactOps is the operation set dispatch routes to.
type artifactOps interface {
	create(name string, content map[string]any) (*Artifact, error)
	update(path string, content map[string]any) (*Artifact, error)
	appendTo(path string, content map[string]any) (*Artifact, error)
}

// dispatch routes an action to the matching operation. Create derives the
// artifact name from the target's base name without extension.
func dispatch(ops artifactOps, action models.RemediationAction) (*Artifact, error) {
	target := expandHome(action.Target)
	switch action.Operation {
	case models.OpCreate:
		return ops.create(stem(target), action.Content)
	case models.OpUpdate:
		return ops.update(target, action.Content)
	case models.OpAppend:
		return ops.appendTo(target, action.Content)
	}
	return nil, fmt.Errorf("unknown operation %q", action.Operation)
}

func stem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func lineCount(s string) int {
	return strings.Count(s, "\n") + 1
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// titleCase converts a snake_case content key into a section heading.
func titleCase(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		if len(r) > 0 {
			r[0] = unicode.ToUpper(r[0])
		}
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/goodnight-ai/goodnight/pkg/models"
)

const (
	// PreferencesID is the canonical artifact id for project preference
	// files.
	PreferencesID = "claude-md"

	defaultPreferencesFile = "CLAUDE.md"
	preferencesHeading     = "# Project Preferences"
	maxPreferenceLines     = 1000
)

// section keeps preference content ordered while merging.
type section struct {
	name  string
	items []string
}

// PreferencesHandler maintains CLAUDE.md style preference files. Updates
// merge by section and never duplicate an existing line, so re-applying the
// same remediation is a no-op.
type PreferencesHandler struct {
	base
}

// NewPreferencesHandler returns a preferences handler under the given alias
// id.
func NewPreferencesHandler(id string) *PreferencesHandler {
	if id == "" {
		id = PreferencesID
	}
	return &PreferencesHandler{base: newBase(id, "CLAUDE.md Preferences")}
}

// ContentSchema describes the preferences content object.
func (h *PreferencesHandler) ContentSchema() ContentSchema {
	return h.schemaOrDefault(ContentSchema{
		RequiredFields: map[string]string{
			"preferences": "list - Preference entries, each a string or an object with 'section' and 'items'",
		},
		OptionalFields: map[string]string{
			"name":        "string - Ignored in rendered output",
			"description": "string - Ignored in rendered output",
		},
		Example: map[string]any{
			"preferences": []any{
				map[string]any{
					"section": "Code Style",
					"items":   []any{"Prefer early returns", "Keep functions short and focused"},
				},
				"Ask before running destructive commands",
			},
		},
		Hint: "For preferences, content holds behavioral rules. Use 'preferences' with section objects for organized output; any other key becomes its own section.",
	})
}

// AgentContext adds guidance on choosing between preference entries and
// skills.
func (h *PreferencesHandler) AgentContext() string {
	return h.base.AgentContext() + preferencesGuidance
}

const preferencesGuidance = `
## When to Use CLAUDE.md vs Skills

Use CLAUDE.md for PREFERENCES and STYLE:
- "Prefer early returns" -> CLAUDE.md
- "Always write table-driven tests" -> CLAUDE.md
- "Keep commit messages imperative" -> CLAUDE.md
- "Ask before destructive commands" -> CLAUDE.md

Use Skills for PROCEDURES and TASKS:
- "When deploying, do X then Y then Z" -> Skill
- "To debug, first collect logs, then analyze" -> Skill
- "For code review, check A, B, C in order" -> Skill

Key distinction:
- CLAUDE.md = How Claude should generally behave in this project
- Skills = Step-by-step instructions for specific tasks

When the user gives feedback like:
- "Don't do X" or "Always do Y" -> CLAUDE.md preference
- "When doing X, follow these steps..." -> Skill
`

// Apply executes one remediation action against the preferences file.
func (h *PreferencesHandler) Apply(action models.RemediationAction) (*Artifact, error) {
	return dispatch(h, action)
}

func (h *PreferencesHandler) outputPath() string {
	if h.settings.OutputPath != "" {
		return expandHome(h.settings.OutputPath)
	}
	return defaultPreferencesFile
}

// parsePreferenceSections splits an existing file into ordered sections.
// Content before the first section header lands in General; top-level
// headings are structure, not items.
func parsePreferenceSections(content string) []section {
	var sections []section
	idx := map[string]int{}
	ensure := func(name string) int {
		i, ok := idx[name]
		if !ok {
			sections = append(sections, section{name: name})
			i = len(sections) - 1
			idx[name] = i
		}
		return i
	}
	current := "General"
	for _, line := range strings.Split(content, "\n") {
		switch {
		case strings.HasPrefix(line, "## "):
			current = strings.TrimSpace(line[3:])
			ensure(current)
		case strings.HasPrefix(line, "# "):
		case strings.TrimSpace(line) != "":
			i := ensure(current)
			sections[i].items = append(sections[i].items, line)
		}
	}
	return sections
}

// newSections flattens a content object into ordered section additions.
// Keys other than preferences/name/description become their own sections,
// in sorted order since maps carry none.
func newSections(content map[string]any) []section {
	var out []section
	idx := map[string]int{}
	add := func(name string, items ...string) {
		i, ok := idx[name]
		if !ok {
			out = append(out, section{name: name})
			i = len(out) - 1
			idx[name] = i
		}
		out[i].items = append(out[i].items, items...)
	}

	if prefs, ok := content["preferences"].([]any); ok {
		for _, p := range prefs {
			switch pref := p.(type) {
			case map[string]any:
				name, _ := pref["section"].(string)
				if name == "" {
					name = "General"
				}
				for _, item := range stringList(pref["items"]) {
					add(name, "- "+item)
				}
			case string:
				add("General", "- "+pref)
			}
		}
	}

	keys := make([]string, 0, len(content))
	for k := range content {
		if k == "preferences" || k == "name" || k == "description" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := titleCase(k)
		switch v := content[k].(type) {
		case []any:
			for _, item := range stringList(v) {
				add(name, "- "+item)
			}
		case string:
			add(name, v)
		}
	}
	return out
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// mergeSections adds new items into existing sections without duplicating
// lines, appending unseen sections at the end.
func mergeSections(existing, additions []section) []section {
	out := make([]section, len(existing))
	copy(out, existing)
	idx := map[string]int{}
	for i, s := range out {
		idx[s.name] = i
	}
	for _, add := range additions {
		i, ok := idx[add.name]
		if !ok {
			out = append(out, add)
			idx[add.name] = len(out) - 1
			continue
		}
		seen := make(map[string]struct{}, len(out[i].items))
		for _, item := range out[i].items {
			seen[item] = struct{}{}
		}
		for _, item := range add.items {
			if _, dup := seen[item]; !dup {
				out[i].items = append(out[i].items, item)
				seen[item] = struct{}{}
			}
		}
	}
	return out
}

func renderPreferences(sections []section) string {
	lines := []string{preferencesHeading, ""}
	for _, s := range sections {
		if len(s.items) == 0 {
			continue
		}
		lines = append(lines, "## "+s.name)
		lines = append(lines, s.items...)
		lines = append(lines, "")
	}
	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}

func (h *PreferencesHandler) create(name string, content map[string]any) (*Artifact, error) {
	path := h.outputPath()
	rendered := renderPreferences(newSections(content))
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating preferences directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(rendered), 0644); err != nil {
		return nil, fmt.Errorf("writing preferences: %w", err)
	}
	if name == "" {
		name = defaultPreferencesFile
	}
	artifact := &Artifact{
		Name:     name,
		Path:     path,
		Content:  rendered,
		Metadata: map[string]any{"operation": "create"},
	}
	if errs := h.Validate(artifact); len(errs) > 0 {
		artifact.Metadata["validation_errors"] = errs
	}
	return artifact, nil
}

func (h *PreferencesHandler) update(path string, content map[string]any) (*Artifact, error) {
	existing, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return h.create(defaultPreferencesFile, content)
		}
		return nil, fmt.Errorf("reading preferences: %w", err)
	}
	merged := renderPreferences(mergeSections(parsePreferenceSections(string(existing)), newSections(content)))
	if err := os.WriteFile(path, []byte(merged), 0644); err != nil {
		return nil, fmt.Errorf("writing preferences: %w", err)
	}
	return &Artifact{
		Name:     defaultPreferencesFile,
		Path:     path,
		Content:  merged,
		Metadata: map[string]any{"operation": "update", "previous_content": string(existing)},
	}, nil
}

func (h *PreferencesHandler) appendTo(path string, content map[string]any) (*Artifact, error) {
	// Appending and updating both merge by section.
	a, err := h.update(path, content)
	if err != nil {
		return nil, err
	}
	if a.Metadata["operation"] == "update" {
		a.Metadata["operation"] = "append"
	}
	return a, nil
}

var actionableLine = regexp.MustCompile(`(?m)^[A-Z][^.!?\n]*[.!?]$`)

// Validate checks a preferences artifact for structure and actionability.
func (h *PreferencesHandler) Validate(a *Artifact) []string {
	var errs []string
	content := a.Content
	if strings.TrimSpace(content) == "" {
		errs = append(errs, "CLAUDE.md is empty")
	}
	if !strings.Contains(content, "## ") && !strings.Contains(content, "# ") {
		errs = append(errs, "Missing section headers - preferences should be organized")
	}
	if n := lineCount(content); n > maxPreferenceLines {
		errs = append(errs, fmt.Sprintf("Content too long (%d lines, max %d)", n, maxPreferenceLines))
	}
	if !strings.Contains(content, "- ") && !actionableLine.MatchString(content) {
		errs = append(errs, "Preferences should be specific and actionable (use list items)")
	}
	return errs
}

package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goodnight-ai/goodnight/pkg/models"
)

const (
	// SkillsID is the canonical artifact id for Claude Code skills.
	SkillsID = "claude-skills"

	skillFileName = "SKILL.md"
	maxSkillLines = 500
)

// SkillsHandler writes Claude Code skill directories, one SKILL.md per
// skill.
type SkillsHandler struct {
	base
}

// NewSkillsHandler returns the claude-skills handler. The id stays fixed no
// matter which alias created it.
func NewSkillsHandler() *SkillsHandler {
	return &SkillsHandler{base: newBase(SkillsID, "Claude Skills")}
}

// ContentSchema describes the skill content object.
func (h *SkillsHandler) ContentSchema() ContentSchema {
	return h.schemaOrDefault(ContentSchema{
		RequiredFields: map[string]string{
			"name":         "string - The skill name (used as directory name)",
			"description":  "string - What this skill does",
			"instructions": "string - Step-by-step instructions for executing the skill",
		},
		OptionalFields: map[string]string{
			"when_to_use": "string - Conditions when this skill should be invoked",
			"examples":    "string - Example usages or scenarios",
		},
		Example: map[string]any{
			"name":         "run-tests",
			"description":  "Run the project test suite with coverage",
			"instructions": "1. Install dependencies if needed\n2. Run the test suite with coverage enabled\n3. Report failures with file and line\n4. Summarize coverage changes",
			"when_to_use":  "When the user asks to run tests or validate changes",
			"examples":     "User: 'run the tests'\nUser: 'check if my changes break anything'",
		},
		Hint: "For skills, content must be an object with 'name', 'description', and 'instructions' as required fields. Skills define reusable, procedural instructions for specific tasks.",
	})
}

// Apply executes one remediation action against the skills directory.
func (h *SkillsHandler) Apply(action models.RemediationAction) (*Artifact, error) {
	return dispatch(h, action)
}

// outputDir is where new skill directories land. The definition's
// output_path wins; without one, global scope targets ~/.claude/skills.
func (h *SkillsHandler) outputDir() string {
	if h.settings.OutputPath != "" {
		return expandHome(h.settings.OutputPath)
	}
	if h.settings.Scope == "global" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".claude", "skills")
		}
	}
	return filepath.Join(".claude", "skills")
}

func (h *SkillsHandler) render(name string, content map[string]any) string {
	str := func(key string) string {
		s, _ := content[key].(string)
		return s
	}
	skillName := str("name")
	if skillName == "" {
		skillName = name
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	sb.WriteString("name: " + skillName + "\n")
	sb.WriteString("description: " + str("description") + "\n")
	sb.WriteString("version: 1.0.0\n")
	sb.WriteString("generated_by: good-night\n")
	sb.WriteString("---\n\n")
	sb.WriteString("# " + skillName)
	if d := str("description"); d != "" {
		sb.WriteString("\n\n" + d)
	}
	if w := str("when_to_use"); w != "" {
		sb.WriteString("\n\n## When to Use\n" + w)
	}
	if i := str("instructions"); i != "" {
		sb.WriteString("\n\n## Instructions\n" + i)
	}
	if e := str("examples"); e != "" {
		sb.WriteString("\n\n## Examples\n" + e)
	}
	return sb.String()
}

func (h *SkillsHandler) create(name string, content map[string]any) (*Artifact, error) {
	skillDir := filepath.Join(h.outputDir(), name)
	if err := os.MkdirAll(skillDir, 0755); err != nil {
		return nil, fmt.Errorf("creating skill directory: %w", err)
	}
	rendered := h.render(name, content)
	path := filepath.Join(skillDir, skillFileName)
	if err := os.WriteFile(path, []byte(rendered), 0644); err != nil {
		return nil, fmt.Errorf("writing skill: %w", err)
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

func (h *SkillsHandler) update(path string, content map[string]any) (*Artifact, error) {
	existing, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return h.create(skillNameFromPath(path), content)
		}
		return nil, fmt.Errorf("reading skill: %w", err)
	}
	name, _ := content["name"].(string)
	if name == "" {
		name = filepath.Base(filepath.Dir(path))
	}
	rendered := h.render(name, content)
	if err := os.WriteFile(path, []byte(rendered), 0644); err != nil {
		return nil, fmt.Errorf("writing skill: %w", err)
	}
	return &Artifact{
		Name:     name,
		Path:     path,
		Content:  rendered,
		Metadata: map[string]any{"operation": "update", "previous_content": string(existing)},
	}, nil
}

func (h *SkillsHandler) appendTo(path string, content map[string]any) (*Artifact, error) {
	existing, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return h.create(skillNameFromPath(path), content)
		}
		return nil, fmt.Errorf("reading skill: %w", err)
	}

	var sections []string
	if v, _ := content["additional_instructions"].(string); v != "" {
		sections = append(sections, "\n## Additional Instructions", v)
	}
	if v, _ := content["additional_examples"].(string); v != "" {
		sections = append(sections, "\n## More Examples", v)
	}

	updated := string(existing)
	if len(sections) > 0 {
		updated += "\n" + strings.Join(sections, "\n")
		if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
			return nil, fmt.Errorf("writing skill: %w", err)
		}
	}
	return &Artifact{
		Name:     filepath.Base(filepath.Dir(path)),
		Path:     path,
		Content:  updated,
		Metadata: map[string]any{"operation": "append"},
	}, nil
}

// skillNameFromPath recovers the skill name from a target path, preferring
// the directory when the file is the conventional SKILL.md.
func skillNameFromPath(path string) string {
	if filepath.Base(path) == skillFileName {
		return filepath.Base(filepath.Dir(path))
	}
	return stem(path)
}

// Validate checks a rendered skill for the structure Claude Code expects.
func (h *SkillsHandler) Validate(a *Artifact) []string {
	var errs []string
	content := a.Content
	if !strings.HasPrefix(content, "---") {
		errs = append(errs, "Missing YAML frontmatter")
	} else {
		if !strings.Contains(content, "name:") {
			errs = append(errs, "Missing 'name' in frontmatter")
		}
		if !strings.Contains(content, "description:") {
			errs = append(errs, "Missing 'description' in frontmatter")
		}
	}
	if !strings.Contains(content, "## When to Use") && !strings.Contains(content, "## Instructions") {
		errs = append(errs, "Missing 'When to Use' or 'Instructions' section")
	}
	if n := lineCount(content); n > maxSkillLines {
		errs = append(errs, fmt.Sprintf("Content too long (%d lines, max %d)", n, maxSkillLines))
	}
	return errs
}

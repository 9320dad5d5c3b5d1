package dreaming

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleModule = `# Pattern Detection

## Description
Detects recurring behavioral patterns.

## Category
analysis

## System Prompt
Look for repeated corrections across sessions.

## Examples
User says "no, use tabs" three times.
`

func TestParsePromptModule(t *testing.T) {
	m := ParsePromptModule("pattern-detection", sampleModule)

	assert.Equal(t, "pattern-detection", m.Name)
	assert.Equal(t, "Detects recurring behavioral patterns.", m.Description)
	assert.Equal(t, "analysis", m.Category)
	assert.Equal(t, "Look for repeated corrections across sessions.", m.SystemPrompt)
	assert.Equal(t, `User says "no, use tabs" three times.`, m.Examples)
}

func TestParsePromptModuleNameFromHeader(t *testing.T) {
	m := ParsePromptModule("some-file", "# Frustration Signals\n\n## System Prompt\nWatch for frustration.\n")

	assert.Equal(t, "frustration-signals", m.Name)
}

func TestParsePromptModuleFallsBackToStem(t *testing.T) {
	m := ParsePromptModule("custom-module", "## System Prompt\nNo title header here.\n")

	assert.Equal(t, "custom-module", m.Name)
	assert.Equal(t, "analysis", m.Category)
}

func TestLoadPromptModules(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b-second.md"), []byte("# B Second\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a-first.md"), []byte("# A First\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("not a module"), 0o644))

	modules := LoadPromptModules(dir)

	require.Len(t, modules, 2)
	assert.Equal(t, "a-first", modules[0].Name)
	assert.Equal(t, "b-second", modules[1].Name)
}

func TestLoadPromptModulesMissingDir(t *testing.T) {
	modules := LoadPromptModules(filepath.Join(t.TempDir(), "nope"))

	assert.Empty(t, modules)
}

func TestBuildSystemPrompt(t *testing.T) {
	modules := []PromptModule{
		{Name: "pattern-detection", SystemPrompt: "Find patterns.", Examples: "Example one."},
		{Name: "frustration-signals", SystemPrompt: "Find frustration."},
	}

	prompt := BuildSystemPrompt("Base prompt.", modules, nil)

	assert.Contains(t, prompt, "Base prompt.")
	assert.Contains(t, prompt, "## Pattern Detection\n")
	assert.Contains(t, prompt, "Find patterns.")
	assert.Contains(t, prompt, "### Examples\nExample one.")
	assert.Contains(t, prompt, "## Frustration Signals\n")
	assert.Contains(t, prompt, "Find frustration.")
}

func TestBuildSystemPromptFiltersByName(t *testing.T) {
	modules := []PromptModule{
		{Name: "pattern-detection", SystemPrompt: "Find patterns."},
		{Name: "frustration-signals", SystemPrompt: "Find frustration."},
	}

	prompt := BuildSystemPrompt("Base.", modules, []string{"frustration-signals"})

	assert.NotContains(t, prompt, "Find patterns.")
	assert.Contains(t, prompt, "Find frustration.")
}

func TestBuildSystemPromptEmptyListExcludesAll(t *testing.T) {
	modules := []PromptModule{{Name: "pattern-detection", SystemPrompt: "Find patterns."}}

	prompt := BuildSystemPrompt("Base.", modules, []string{})

	assert.Equal(t, "Base.", prompt)
}

func TestTitleWords(t *testing.T) {
	assert.Equal(t, "Pattern Detection", titleWords("pattern detection"))
	assert.Equal(t, "Frustration Signals", titleWords("FRUSTRATION SIGNALS"))
	assert.Equal(t, "A", titleWords("a"))
	assert.Equal(t, "", titleWords(""))
}

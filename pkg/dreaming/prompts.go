package dreaming

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

// detectionBasePrompt is the Stage A system prompt. Prompt modules from the
// runtime prompts directory are appended to it by title.
const detectionBasePrompt = `
You are an issue detection agent analyzing AI assistant conversations.

YOUR ROLE: Cast a wide net and detect potential issues. Do NOT filter heavily.
A separate filtering step will decide what's worth acting on.

DETECTION PHILOSOPHY:
================================================================================
Report ANY pattern that MIGHT be worth improving, including:
- Issues that appear across multiple sessions (cross-conversation patterns)
- Issues that appear within a single session (could indicate recurring user frustration)
- Corrections or clarifications that suggest AI misunderstanding
- Style mismatches (verbosity, tone, formatting)
- Capability or knowledge gaps
- User frustrations (even if user doesn't explicitly complain)

WHEN IN DOUBT, REPORT IT. Better to over-detect than miss something important.
The filtering step will decide what's actually worth acting on.
================================================================================

PROJECT CONTEXT AND LOCAL VS GLOBAL ISSUES:
================================================================================
Each conversation has a working_directory that indicates which project it belongs to.
When reporting issues, determine if the issue is:

- local_change=true: Issue is PROJECT-SPECIFIC
  * Related to a specific project's tech stack, architecture, or conventions
  * Examples: "use pytest not unittest for this project", "follow existing naming pattern X"

- local_change=false: Issue is GLOBAL (default)
  * Reflects general user preferences, workflow, or AI behavior patterns
  * Examples: "always run tests before committing", "confirm before destructive actions",
    "user prefers concise responses", "check infrastructure/login before starting"
================================================================================

You have tools to explore conversations - use them to navigate and search efficiently.

Your task:
1. START with scan_recent_human_messages() to quickly see recent user messages across projects
2. Look for ANY patterns: corrections, frustrations, repeated requests, style issues
3. Use search_messages() to find similar patterns
4. Use get_messages() or get_full_message() to get more context where needed
5. Report issues using report_issue tool - include evidence with session_ids and message_indices
6. Set local_change=true for project-specific issues, false for general preferences

Issue types to detect:
- repeated_request: User asks for the same thing (even once if it suggests a pattern)
- frustration_signal: User shows frustration (explicit or implied)
- style_mismatch: AI response style doesn't match what user wants
- capability_gap: AI can't do something user expects
- knowledge_gap: AI lacks knowledge user expects it to have
- other: Any other pattern that might warrant improvement

When reporting issues:
- Include as much evidence as you can find (session_ids and message_indices)
- Quote relevant text to demonstrate the pattern
- Set local_change based on the nature of the issue
- Include a suggested_resolution if you have ideas

Cast a wide net. Report potential issues liberally. Filtering happens later.
`

// comparisonBasePrompt is the Stage B system prompt.
const comparisonBasePrompt = `You are comparing current issues with historical resolutions.

Your task is to determine the status of each current issue:
- "new": No similar historical resolution exists
- "recurring": Similar issue was addressed before but keeps happening
- "already_resolved": Exact or very similar issue was already resolved

For each current issue:
1. Use compare_issue_to_resolutions to find potential matches
2. Review match scores and details
3. Link issues to relevant resolutions
4. Mark the issue's status appropriately

Guidelines:
- Similarity score > 0.85 suggests "already_resolved"
- Similarity score 0.6-0.85 suggests "recurring"
- Similarity score < 0.6 suggests "new"
- Consider the rationale and context, not just scores

When marking as recurring:
- Link to the previous resolution
- Note what might need updating

Be systematic: process each issue in order.
`

// resolutionBasePrompt is the Stage C system prompt. Artifact type
// documentation is appended per enabled handler.
const resolutionBasePrompt = `You create resolutions for AI assistant issues.

Resolutions are concrete actions (creating or updating artifacts) that will improve the AI's behavior.

## Your Task

1. Review issues that need resolution (use get_issues_to_resolve)
2. Check available artifact types and their schemas (use get_artifact_types)
3. Create resolution actions for each issue (use create_resolution_action)
4. Finalize when all issues are addressed (use finalize_resolution)

## Creating Resolution Actions

Use create_resolution_action with these parameters:
- artifact_type: The type of artifact to create (from get_artifact_types)
- name: Identifier for the artifact (e.g., "confirm-destructive-actions")
- content: Object with fields required by that artifact type (see artifact schemas below)
- issue_refs: List of issue IDs this resolves
- rationale: Brief explanation of why this resolves the issues

IMPORTANT: Each artifact type has its own required content fields. Check the artifact type
documentation below for the specific schema and validation rules.

## Decision Guidelines

For each issue, consider:
- What artifact type is most appropriate for this issue?
- Check the issue's ` + "`local_change`" + ` field to determine scope:
  * local_change=true → Project-specific artifact (e.g., project CLAUDE.md, .claude/skills/)
  * local_change=false → Global artifact (e.g., ~/.claude/skills/, global settings)
- For recurring issues: should we update an existing artifact instead?

Quality over quantity:
- Address high-severity issues first
- Group related issues into a single resolution when appropriate
- Include clear rationale for each action
- Prefer updating existing artifacts for recurring issues
- Respect local_change: don't create global artifacts for project-specific issues
`

// PromptModule is one Markdown prompt definition from the prompts
// directory. Sections are level-two headers; the name comes from the first
// level-one header, falling back to the file stem.
type PromptModule struct {
	Name         string
	Description  string
	Category     string
	SystemPrompt string
	OutputFormat string
	Examples     string
}

// LoadPromptModules reads every *.md file under dir, sorted by filename.
// Unreadable files are skipped with a warning; a missing directory yields
// an empty set.
func LoadPromptModules(dir string) []PromptModule {
	matches, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil || len(matches) == 0 {
		return nil
	}
	sort.Strings(matches)

	modules := make([]PromptModule, 0, len(matches))
	for _, path := range matches {
		raw, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("Skipping unreadable prompt module", "path", path, "error", err)
			continue
		}
		stem := strings.TrimSuffix(filepath.Base(path), ".md")
		modules = append(modules, ParsePromptModule(stem, string(raw)))
	}
	return modules
}

// ParsePromptModule parses one prompt definition document.
func ParsePromptModule(stem, content string) PromptModule {
	name := stem
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "# ") {
			name = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(line[2:])), " ", "-")
			break
		}
	}

	sections := splitSections(content)
	category := strings.TrimSpace(sections["Category"])
	if category == "" {
		category = "analysis"
	}
	return PromptModule{
		Name:         name,
		Description:  strings.TrimSpace(sections["Description"]),
		Category:     category,
		SystemPrompt: strings.TrimSpace(sections["System Prompt"]),
		OutputFormat: strings.TrimSpace(sections["Output Format"]),
		Examples:     strings.TrimSpace(sections["Examples"]),
	}
}

// splitSections maps level-two header titles to their body text.
func splitSections(content string) map[string]string {
	sections := make(map[string]string)
	current := ""
	var body []string
	flush := func() {
		if current != "" {
			sections[current] = strings.Join(body, "\n")
		}
	}
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
			current = strings.TrimSpace(line[3:])
			body = body[:0]
			continue
		}
		body = append(body, line)
	}
	flush()
	return sections
}

// BuildSystemPrompt concatenates the base prompt with the enabled prompt
// modules, each under a title-cased header. A nil enabled list includes
// every module; an empty non-nil list includes none.
func BuildSystemPrompt(base string, modules []PromptModule, enabled []string) string {
	var allow map[string]bool
	if enabled != nil {
		allow = make(map[string]bool, len(enabled))
		for _, name := range enabled {
			allow[name] = true
		}
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(base))
	for _, m := range modules {
		if allow != nil && !allow[m.Name] {
			continue
		}
		fmt.Fprintf(&b, "\n\n## %s\n", titleWords(strings.ReplaceAll(m.Name, "-", " ")))
		if m.SystemPrompt != "" {
			b.WriteString(m.SystemPrompt + "\n")
		}
		if m.Examples != "" {
			b.WriteString("\n### Examples\n" + m.Examples + "\n")
		}
	}
	return b.String()
}

// titleWords capitalizes the first letter of each space-separated word.
func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

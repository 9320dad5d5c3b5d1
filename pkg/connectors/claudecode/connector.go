// Package claudecode extracts conversations from Claude Code session
// logs: one JSONL file per session under ~/.claude/projects/<project>/,
// where the project directory name encodes the working directory.
package claudecode

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goodnight-ai/goodnight/pkg/connectors"
	"github.com/goodnight-ai/goodnight/pkg/models"
)

// ConnectorID identifies this connector in configuration and state.
const ConnectorID = "claude-code"

// Session log lines can carry whole tool results; allow large lines
// before the scanner gives up on a file.
const maxLineBytes = 10 * 1024 * 1024

// Connector reads Claude Code session files.
type Connector struct {
	runtimeDir string
	settings   connectors.Settings
	cursorFile string
}

// New creates a connector rooted at the given runtime directory.
func New(runtimeDir string) *Connector {
	return &Connector{
		runtimeDir: runtimeDir,
		settings:   connectors.DefaultSettings(),
		cursorFile: filepath.Join(runtimeDir, "state", "claude_code_cursor.json"),
	}
}

func (c *Connector) ID() string   { return ConnectorID }
func (c *Connector) Name() string { return "Claude Code" }

func (c *Connector) Configure(s connectors.Settings) { c.settings = s }

func (c *Connector) Settings() connectors.Settings { return c.settings }

// projectsDir resolves the session root: the configured path when set,
// otherwise ~/.claude/projects.
func (c *Connector) projectsDir() (string, error) {
	if c.settings.Path != "" {
		return expandHome(c.settings.Path)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "projects"), nil
}

func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

type sessionFile struct {
	path  string
	mtime time.Time
}

// Extract walks every project directory for *.jsonl session files,
// filters by modification time, orders newest-first, applies the cursor
// and limit, and parses what remains. Files that fail to parse are
// dropped silently.
func (c *Connector) Extract(ctx context.Context, since *time.Time, cursor string, limit int) (*models.Batch, error) {
	root, err := c.projectsDir()
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return &models.Batch{}, nil
		}
		return nil, fmt.Errorf("read projects directory: %w", err)
	}

	var files []sessionFile
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		projectDir := filepath.Join(root, entry.Name())
		sessions, err := os.ReadDir(projectDir)
		if err != nil {
			continue
		}
		for _, session := range sessions {
			if session.IsDir() || !strings.HasSuffix(session.Name(), ".jsonl") {
				continue
			}
			info, err := session.Info()
			if err != nil {
				continue
			}
			mtime := info.ModTime().UTC()
			if since != nil && mtime.Before(since.UTC()) {
				continue
			}
			files = append(files, sessionFile{
				path:  filepath.Join(projectDir, session.Name()),
				mtime: mtime,
			})
		}
	}

	// Newest first; path breaks ties so pagination is deterministic.
	sort.Slice(files, func(i, j int) bool {
		if !files[i].mtime.Equal(files[j].mtime) {
			return files[i].mtime.After(files[j].mtime)
		}
		return files[i].path < files[j].path
	})

	// Resume strictly after the cursor path; an unknown cursor restarts
	// from the top.
	if cursor != "" {
		for i, f := range files {
			if f.path == cursor {
				files = files[i+1:]
				break
			}
		}
	}

	hasMore := false
	if limit > 0 && len(files) > limit {
		files = files[:limit]
		hasMore = true
	}

	batch := &models.Batch{HasMore: hasMore}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conv := parseSessionFile(f.path, f.mtime)
		if conv != nil {
			batch.Conversations = append(batch.Conversations, *conv)
		}
	}

	if hasMore && len(files) > 0 {
		batch.Cursor = files[len(files)-1].path
	}
	return batch, nil
}

// parseSessionFile reads one JSONL session. Empty and malformed lines
// are skipped; a file yielding zero messages is dropped.
func parseSessionFile(path string, mtime time.Time) *models.Conversation {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var (
		messages []models.Message
		started  *time.Time
		ended    *time.Time
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}

		msg := parseMessage(record)
		if msg == nil {
			continue
		}
		messages = append(messages, *msg)
		if msg.Timestamp != nil {
			ts := *msg.Timestamp
			if started == nil || ts.Before(*started) {
				started = &ts
			}
			if ended == nil || ts.After(*ended) {
				ended = &ts
			}
		}
	}
	if scanner.Err() != nil || len(messages) == 0 {
		return nil
	}

	if started == nil {
		started = &mtime
	}
	if ended == nil {
		ended = &mtime
	}

	// The project directory name is the working directory with path
	// separators substituted by dashes.
	projectDir := filepath.Base(filepath.Dir(path))
	workingDirectory := strings.ReplaceAll(projectDir, "-", "/")

	return &models.Conversation{
		SessionID: strings.TrimSuffix(filepath.Base(path), ".jsonl"),
		Messages:  messages,
		StartTime: *started,
		EndTime:   *ended,
		Source:    "claude_code",
		Metadata: map[string]any{
			"file_path":         path,
			"working_directory": workingDirectory,
			"project_dir":       projectDir,
		},
	}
}

// parseMessage maps one decoded JSONL record onto a Message. Records
// with neither role nor type are skipped.
func parseMessage(record map[string]any) *models.Message {
	roleStr, _ := record["role"].(string)
	if roleStr == "" {
		roleStr, _ = record["type"].(string)
	}
	if roleStr == "" {
		return nil
	}
	role := parseRole(roleStr)

	var content string
	if raw, ok := record["content"]; ok {
		content = extractText(raw)
	} else if raw, ok := record["message"]; ok {
		content = extractText(raw)
	}

	ts := record["timestamp"]
	if ts == nil {
		ts = record["ts"]
	}
	timestamp := parseTimestamp(ts)

	msg := &models.Message{
		Role:      role,
		Content:   content,
		Timestamp: timestamp,
	}

	switch role {
	case models.RoleToolCall:
		if name, ok := record["name"].(string); ok && name != "" {
			msg.ToolName = name
		} else if name, ok := record["tool_name"].(string); ok {
			msg.ToolName = name
		}
		if input, ok := record["input"].(map[string]any); ok {
			msg.ToolInput = input
		} else if input, ok := record["tool_input"].(map[string]any); ok {
			msg.ToolInput = input
		}
	case models.RoleToolResult:
		if result, ok := record["result"].(string); ok && result != "" {
			msg.ToolResult = result
		} else if output, ok := record["output"].(string); ok && output != "" {
			msg.ToolResult = output
		} else {
			msg.ToolResult = content
		}
	}
	return msg
}

// parseRole maps source role strings onto internal roles. Unknown roles
// read as human so nothing is lost.
func parseRole(role string) models.MessageRole {
	switch strings.ToLower(role) {
	case "user", "human":
		return models.RoleHuman
	case "assistant":
		return models.RoleAssistant
	case "tool_use":
		return models.RoleToolCall
	case "tool_result":
		return models.RoleToolResult
	default:
		return models.RoleHuman
	}
}

// parseTimestamp accepts epoch seconds, epoch milliseconds (magnitude
// above 1e12) and ISO strings. Unparseable values yield nil.
func parseTimestamp(v any) *time.Time {
	switch ts := v.(type) {
	case float64:
		var t time.Time
		if ts > 1e12 {
			t = time.UnixMilli(int64(ts)).UTC()
		} else {
			sec := int64(ts)
			nsec := int64((ts - float64(sec)) * 1e9)
			t = time.Unix(sec, nsec).UTC()
		}
		return &t
	case string:
		t, err := models.ParseTimestamp(ts)
		if err != nil {
			return nil
		}
		return &t
	default:
		return nil
	}
}

// extractText recursively flattens the source content representation:
// strings pass through, lists join with newlines, text blocks yield
// their text, tool_result blocks recurse into their content, and
// tool_use blocks summarize as "[Tool call: <name>]".
func extractText(data any) string {
	switch v := data.(type) {
	case string:
		return v
	case []any:
		var parts []string
		for _, item := range v {
			if extracted := extractText(item); extracted != "" {
				parts = append(parts, extracted)
			}
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		switch v["type"] {
		case "text":
			s, _ := v["text"].(string)
			return s
		case "tool_result":
			return extractText(v["content"])
		}
		if content, ok := v["content"]; ok {
			return extractText(content)
		}
		if text, ok := v["text"].(string); ok {
			return text
		}
		if v["type"] == "tool_use" {
			name, _ := v["name"].(string)
			if name == "" {
				name = "unknown"
			}
			return "[Tool call: " + name + "]"
		}
	}
	return ""
}

// LastProcessed reads the per-connector cursor file. A missing or
// unreadable file reads as never-processed.
func (c *Connector) LastProcessed() (*time.Time, error) {
	data, err := os.ReadFile(c.cursorFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cursor file: %w", err)
	}

	var doc struct {
		LastProcessed string `json:"last_processed"`
	}
	if err := json.Unmarshal(data, &doc); err != nil || doc.LastProcessed == "" {
		return nil, nil
	}
	ts, err := models.ParseTimestamp(doc.LastProcessed)
	if err != nil {
		return nil, nil
	}
	return &ts, nil
}

// SetLastProcessed persists the timestamp for the next run.
func (c *Connector) SetLastProcessed(ts time.Time) error {
	if err := os.MkdirAll(filepath.Dir(c.cursorFile), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	doc := map[string]string{"last_processed": ts.UTC().Format(time.RFC3339)}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.cursorFile, data, 0o644); err != nil {
		return fmt.Errorf("write cursor file: %w", err)
	}
	return nil
}

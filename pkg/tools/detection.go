package tools

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goodnight-ai/goodnight/pkg/llm"
	"github.com/goodnight-ai/goodnight/pkg/models"
)

const (
	// noProjectKey groups conversations that carry no working directory.
	noProjectKey = "(no project)"

	scanContentLimit    = 300
	messageContentLimit = 500
	snippetRadius       = 50

	defaultScanLimit   = 100
	defaultListLimit   = 50
	defaultSearchLimit = 50
)

// DetectionContext holds the conversation window one detection agent
// explores and collects the issues it reports.
type DetectionContext struct {
	Conversations []models.Conversation
	Issues        []models.Issue

	convIndex    map[string]*models.Conversation
	projectIndex map[string][]*models.Conversation
}

// NewDetectionContext indexes a conversation window for tool access.
func NewDetectionContext(conversations []models.Conversation) *DetectionContext {
	d := &DetectionContext{
		Conversations: conversations,
		convIndex:     make(map[string]*models.Conversation, len(conversations)),
		projectIndex:  make(map[string][]*models.Conversation),
	}
	for i := range d.Conversations {
		conv := &d.Conversations[i]
		d.convIndex[conv.SessionID] = conv
		key := conv.WorkingDirectory()
		if key == "" {
			key = noProjectKey
		}
		d.projectIndex[key] = append(d.projectIndex[key], conv)
	}
	return d
}

// DetectionTools returns the tool set the detection agent runs with.
func DetectionTools(d *DetectionContext) []llm.ToolDefinition {
	r := NewRegistry()
	r.Add(Tool{
		Name: "scan_recent_human_messages",
		Description: "Get an overview of recent human messages grouped by project. " +
			"Use this first to spot candidate patterns before digging into conversations.",
		Schema: objectSchema(map[string]any{
			"working_directory": map[string]any{
				"type":        "string",
				"description": "Limit the scan to one project directory",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum messages across all projects (default 100)",
			},
		}),
		Handler: d.scanRecentHumanMessages,
	})
	r.Add(Tool{
		Name:        "list_conversations",
		Description: "List conversations in the analysis window with message counts and project paths.",
		Schema: objectSchema(map[string]any{
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum conversations to return (default 50)",
			},
			"offset": map[string]any{
				"type":        "integer",
				"description": "Number of conversations to skip",
			},
		}),
		Handler: d.listConversations,
	})
	r.Add(Tool{
		Name:        "get_messages",
		Description: "Read a page of messages from one conversation. Content is truncated; use get_full_message for the complete text.",
		Schema: objectSchema(map[string]any{
			"conversation_id": map[string]any{
				"type":        "string",
				"description": "Session ID of the conversation",
			},
			"offset": map[string]any{
				"type":        "integer",
				"description": "Message index to start from",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum messages to return (default 50)",
			},
		}, "conversation_id"),
		Handler: d.getMessages,
	})
	r.Add(Tool{
		Name:        "get_full_message",
		Description: "Read one message without truncation, including tool call details when present.",
		Schema: objectSchema(map[string]any{
			"conversation_id": map[string]any{
				"type":        "string",
				"description": "Session ID of the conversation",
			},
			"message_index": map[string]any{
				"type":        "integer",
				"description": "Index of the message within the conversation",
			},
		}, "conversation_id", "message_index"),
		Handler: d.getFullMessage,
	})
	r.Add(Tool{
		Name:        "search_messages",
		Description: "Search message content across the window (case-insensitive substring match).",
		Schema: objectSchema(map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Text to search for",
			},
			"role": map[string]any{
				"type":        "string",
				"enum":        []string{"human", "assistant", "any"},
				"description": "Restrict matches to one role (default any)",
			},
			"conversation_id": map[string]any{
				"type":        "string",
				"description": "Restrict the search to one conversation",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum results to return (default 50)",
			},
		}, "query"),
		Handler: d.searchMessages,
	})
	r.Add(Tool{
		Name:        "report_issue",
		Description: "Report a recurring issue found in the conversations. Call once per distinct issue.",
		Schema: objectSchema(map[string]any{
			"type": map[string]any{
				"type":        "string",
				"enum":        []string{"repeated_request", "frustration_signal", "style_mismatch", "capability_gap", "knowledge_gap", "other"},
				"description": "Category of the issue",
			},
			"severity": map[string]any{
				"type":        "string",
				"enum":        []string{"low", "medium", "high", "critical"},
				"description": "How much friction the issue causes",
			},
			"title": map[string]any{
				"type":        "string",
				"description": "Short title for the issue",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "What happens and why it is a recurring problem",
			},
			"evidence": map[string]any{
				"type":        "array",
				"description": "Supporting quotes from conversations",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"session_id":    map[string]any{"type": "string"},
						"message_index": map[string]any{"type": "integer"},
						"quote":         map[string]any{"type": "string"},
						"context":       map[string]any{"type": "string"},
					},
				},
			},
			"suggested_resolution": map[string]any{
				"type":        "string",
				"description": "Optional idea for how to resolve the issue",
			},
			"local_change": map[string]any{
				"type":        "boolean",
				"description": "True when the fix belongs in one project rather than globally",
			},
		}, "type", "severity", "title", "description"),
		Handler: d.reportIssue,
	})
	return r.Definitions()
}

type scanEntry struct {
	conv  *models.Conversation
	index int
	msg   *models.Message
}

func (d *DetectionContext) scanRecentHumanMessages(_ context.Context, input map[string]any) (string, error) {
	limit := argInt(input, "limit", defaultScanLimit)
	if limit < 1 {
		limit = defaultScanLimit
	}
	wantProject := argString(input, "working_directory", "")

	projects := make([]string, 0, len(d.projectIndex))
	for key := range d.projectIndex {
		if wantProject != "" && key != wantProject {
			continue
		}
		projects = append(projects, key)
	}
	sort.Strings(projects)

	perProject := limit
	if len(projects) > 1 {
		perProject = limit / len(projects)
		if perProject < 1 {
			perProject = 1
		}
	}

	collected := 0
	grouped := make(map[string][]map[string]any, len(projects))
	for _, key := range projects {
		budget := perProject
		if rest := limit - collected; budget > rest {
			budget = rest
		}
		if budget <= 0 {
			break
		}

		entries := humanMessages(d.projectIndex[key])
		if len(entries) > budget {
			entries = entries[:budget]
		}
		items := make([]map[string]any, 0, len(entries))
		for _, e := range entries {
			content, truncated := truncateChars(e.msg.Content, scanContentLimit, "...")
			items = append(items, map[string]any{
				"conversation_id": e.conv.SessionID,
				"message_index":   e.index,
				"timestamp":       formatTimestamp(e.msg.Timestamp),
				"content":         content,
				"truncated":       truncated,
			})
		}
		grouped[key] = items
		collected += len(items)
	}

	return marshal(map[string]any{
		"projects":       grouped,
		"total_messages": collected,
		"total_projects": len(projects),
		"hint": "Scan these messages for recurring patterns. Use get_full_message or " +
			"get_messages to expand context where you see potential issues.",
	}), nil
}

// humanMessages pools the human messages of a project, newest first.
// Timestamped messages sort before undated ones, which fall back to
// reverse index order.
func humanMessages(convs []*models.Conversation) []scanEntry {
	var entries []scanEntry
	for _, conv := range convs {
		for i := range conv.Messages {
			msg := &conv.Messages[i]
			if msg.Role != models.RoleHuman {
				continue
			}
			entries = append(entries, scanEntry{conv: conv, index: i, msg: msg})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch {
		case a.msg.Timestamp != nil && b.msg.Timestamp != nil:
			return a.msg.Timestamp.After(*b.msg.Timestamp)
		case a.msg.Timestamp != nil:
			return true
		case b.msg.Timestamp != nil:
			return false
		default:
			return a.index > b.index
		}
	})
	return entries
}

func (d *DetectionContext) listConversations(_ context.Context, input map[string]any) (string, error) {
	limit := argInt(input, "limit", defaultListLimit)
	if limit < 1 {
		limit = defaultListLimit
	}
	offset := argInt(input, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	total := len(d.Conversations)
	end := offset + limit
	if end > total {
		end = total
	}
	items := []map[string]any{}
	for i := offset; i < end; i++ {
		conv := &d.Conversations[i]
		assistant := 0
		for _, m := range conv.Messages {
			if m.Role == models.RoleAssistant {
				assistant++
			}
		}
		items = append(items, map[string]any{
			"id":                 conv.SessionID,
			"started_at":         formatTime(conv.StartTime),
			"ended_at":           formatTime(conv.EndTime),
			"message_count":      conv.MessageCount(),
			"human_messages":     conv.HumanMessageCount(),
			"assistant_messages": assistant,
			"working_directory":  conv.WorkingDirectory(),
		})
	}

	return marshal(map[string]any{
		"conversations": items,
		"total":         total,
		"offset":        offset,
		"limit":         limit,
		"has_more":      end < total,
	}), nil
}

func (d *DetectionContext) getMessages(_ context.Context, input map[string]any) (string, error) {
	id := argString(input, "conversation_id", "")
	conv, ok := d.convIndex[id]
	if !ok {
		return errorResult("Conversation %s not found", id), nil
	}

	limit := argInt(input, "limit", defaultListLimit)
	if limit < 1 {
		limit = defaultListLimit
	}
	offset := argInt(input, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	total := len(conv.Messages)
	end := offset + limit
	if end > total {
		end = total
	}

	items := []map[string]any{}
	for i := offset; i < end; i++ {
		msg := &conv.Messages[i]
		content, truncated := truncateChars(msg.Content, messageContentLimit, "")
		items = append(items, map[string]any{
			"index":     i,
			"role":      string(msg.Role),
			"content":   content,
			"truncated": truncated,
			"timestamp": formatTimestamp(msg.Timestamp),
		})
	}

	return marshal(map[string]any{
		"conversation_id": id,
		"offset":          offset,
		"limit":           limit,
		"total_messages":  total,
		"messages":        items,
		"has_more":        end < total,
	}), nil
}

func (d *DetectionContext) getFullMessage(_ context.Context, input map[string]any) (string, error) {
	id := argString(input, "conversation_id", "")
	conv, ok := d.convIndex[id]
	if !ok {
		return errorResult("Conversation %s not found", id), nil
	}
	index := argInt(input, "message_index", -1)
	if index < 0 || index >= len(conv.Messages) {
		return errorResult("Message index %d out of range", index), nil
	}

	msg := &conv.Messages[index]
	out := map[string]any{
		"conversation_id": id,
		"message_index":   index,
		"role":            string(msg.Role),
		"content":         msg.Content,
		"timestamp":       formatTimestamp(msg.Timestamp),
	}
	if msg.ToolName != "" {
		out["tool_name"] = msg.ToolName
	}
	if len(msg.ToolInput) > 0 {
		out["tool_input"] = msg.ToolInput
	}
	if msg.ToolResult != "" {
		out["tool_result"] = msg.ToolResult
	}
	return marshal(out), nil
}

func (d *DetectionContext) searchMessages(_ context.Context, input map[string]any) (string, error) {
	query := argString(input, "query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}
	role := argString(input, "role", "any")
	onlyConv := argString(input, "conversation_id", "")
	limit := argInt(input, "limit", defaultSearchLimit)
	if limit < 1 {
		limit = defaultSearchLimit
	}

	needle := strings.ToLower(query)
	results := []map[string]any{}
	truncated := false

scan:
	for ci := range d.Conversations {
		conv := &d.Conversations[ci]
		if onlyConv != "" && conv.SessionID != onlyConv {
			continue
		}
		for mi := range conv.Messages {
			msg := &conv.Messages[mi]
			if role != "any" && string(msg.Role) != role {
				continue
			}
			haystack := strings.ToLower(msg.Content)
			idx := strings.Index(haystack, needle)
			if idx < 0 {
				continue
			}
			if len(results) >= limit {
				truncated = true
				break scan
			}
			results = append(results, map[string]any{
				"conversation_id": conv.SessionID,
				"message_index":   mi,
				"role":            string(msg.Role),
				"snippet":         snippetAround(msg.Content, idx, len(needle)),
				"match_count":     strings.Count(haystack, needle),
			})
		}
	}

	return marshal(map[string]any{
		"query":         query,
		"role_filter":   role,
		"results":       results,
		"total_matches": len(results),
		"truncated":     truncated,
	}), nil
}

// snippetAround extracts the text surrounding the first match, with
// ellipses marking cut edges.
func snippetAround(content string, idx, matchLen int) string {
	start := idx - snippetRadius
	if start < 0 {
		start = 0
	}
	end := idx + matchLen + snippetRadius
	if end > len(content) {
		end = len(content)
	}
	snippet := content[start:end]
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(content) {
		snippet += "..."
	}
	return snippet
}

func (d *DetectionContext) reportIssue(_ context.Context, input map[string]any) (string, error) {
	kind, err := models.ParseIssueKind(argString(input, "type", ""))
	if err != nil {
		kind = models.IssueOther
	}
	severity, err := models.ParseSeverity(argString(input, "severity", ""))
	if err != nil {
		severity = models.SeverityMedium
	}

	var evidence []models.Evidence
	for _, ev := range argMapSlice(input, "evidence") {
		sessionID := argString(ev, "session_id", "")
		item := models.Evidence{
			SessionID:    sessionID,
			MessageIndex: argInt(ev, "message_index", 0),
			Quote:        argString(ev, "quote", ""),
			Context:      argString(ev, "context", ""),
		}
		if conv, ok := d.convIndex[sessionID]; ok {
			item.WorkingDirectory = conv.WorkingDirectory()
		}
		evidence = append(evidence, item)
	}

	issue := models.Issue{
		ID:                  uuid.NewString(),
		Kind:                kind,
		Severity:            severity,
		Title:               argString(input, "title", ""),
		Description:         argString(input, "description", ""),
		Evidence:            evidence,
		Confidence:          0.8,
		SuggestedResolution: argString(input, "suggested_resolution", ""),
		LocalChange:         argBool(input, "local_change", false),
	}
	d.Issues = append(d.Issues, issue)

	return marshal(map[string]any{
		"success":               true,
		"issue_id":              issue.ID,
		"message":               "Issue reported: " + issue.Title,
		"total_issues_reported": len(d.Issues),
	}), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

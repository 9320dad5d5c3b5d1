package events

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewStampsAndTruncates(t *testing.T) {
	long := strings.Repeat("x", 250)
	e := New("step1-agent-1", AgentTypeAnalysis, KindToolCall, "scan_recent_human_messages", long, nil)

	assert.Equal(t, "step1-agent-1", e.AgentID)
	assert.Equal(t, AgentTypeAnalysis, e.AgentType)
	assert.Equal(t, KindToolCall, e.Type)
	assert.Equal(t, "scan_recent_human_messages", e.ToolName)
	assert.Len(t, e.Summary, MaxSummaryLen)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, "UTC", e.Timestamp.Location().String())
}

func TestTruncateSummary(t *testing.T) {
	assert.Equal(t, "short", TruncateSummary("short"))
	assert.Equal(t, "", TruncateSummary(""))

	exact := strings.Repeat("a", MaxSummaryLen)
	assert.Equal(t, exact, TruncateSummary(exact))

	// Rune-aware: multi-byte characters are not split.
	wide := strings.Repeat("日", MaxSummaryLen+10)
	got := TruncateSummary(wide)
	assert.Equal(t, MaxSummaryLen, len([]rune(got)))
}

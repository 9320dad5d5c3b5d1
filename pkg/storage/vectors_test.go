package storage

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goodnight-ai/goodnight/pkg/models"
	"github.com/goodnight-ai/goodnight/test/util"
)

// hashEmbedder maps text to a normalized bag-of-words vector so identical
// texts embed identically and disjoint texts embed orthogonally, without a
// model server in the loop.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, VectorDim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%VectorDim]++
	}
	var norm float64
	for _, f := range vec {
		norm += float64(f) * float64(f)
	}
	if norm == 0 {
		vec[0] = 1
		norm = 1
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func newTestVectorStore(t *testing.T, minScore float64) *VectorStore {
	if testing.Short() {
		t.Skip("skipping vector store test in short mode")
	}
	v := NewVectorStore(util.SetupTestRedis(t), hashEmbedder{}, minScore)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func skillAction(title, description string) models.RemediationAction {
	return models.RemediationAction{
		ID:        "act-1",
		Type:      "claude-skills",
		Target:    "output/skills/" + strings.ReplaceAll(strings.ToLower(title), " ", "-") + ".md",
		Operation: models.OpCreate,
		Content:   map[string]any{"title": title, "description": description},
		IssueRefs: []string{"issue-1"},
		Priority:  models.PriorityMedium,
		Rationale: description,
	}
}

func TestStoreAndSearch(t *testing.T) {
	v := newTestVectorStore(t, 0.5)
	ctx := context.Background()

	confirm := skillAction("Confirm before bulk edits", "User repeatedly asked for confirmation before destructive file changes")
	flaky := skillAction("Stabilize flaky integration suite", "Network timeouts made the nightly pipeline fail intermittently")

	stored, err := v.StoreAction(ctx, "aaaa1111-0000-0000-0000-000000000000", "claude-code", confirm, time.Now())
	require.NoError(t, err)
	assert.True(t, stored)
	stored, err = v.StoreAction(ctx, "bbbb2222-0000-0000-0000-000000000000", "claude-code", flaky, time.Now())
	require.NoError(t, err)
	assert.True(t, stored)

	hits, err := v.SearchSimilar(ctx, actionText(confirm), 5, 0, "")
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	top := hits[0]
	assert.Equal(t, "aaaa1111-0000-0000-0000-000000000000", top.ResolutionID)
	assert.GreaterOrEqual(t, top.Score, 0.99)
	assert.Equal(t, "claude-code", top.ConnectorID)
	assert.Equal(t, "claude-skills", top.Type)
	assert.Equal(t, confirm.Target, top.Target)
	assert.Equal(t, "Confirm before bulk edits", top.Title)
	assert.Equal(t, []string{"issue-1"}, top.IssueRefs)
	assert.Equal(t, "create", top.Operation)
	_, err = time.Parse(time.RFC3339, top.CreatedAt)
	assert.NoError(t, err)
}

func TestSearchDropsWeakMatches(t *testing.T) {
	v := newTestVectorStore(t, 0.5)
	ctx := context.Background()

	action := skillAction("Confirm before bulk edits", "User repeatedly asked for confirmation before destructive file changes")
	_, err := v.StoreAction(ctx, "aaaa1111-0000-0000-0000-000000000000", "claude-code", action, time.Now())
	require.NoError(t, err)

	hits, err := v.SearchSimilar(ctx, "kubernetes ingress annotations misconfigured namespace quota exceeded", 5, 0, "")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchAgeFilter(t *testing.T) {
	v := newTestVectorStore(t, 0.5)
	ctx := context.Background()

	action := skillAction("Confirm before bulk edits", "User repeatedly asked for confirmation before destructive file changes")
	_, err := v.StoreAction(ctx, "aaaa1111-0000-0000-0000-000000000000", "claude-code", action, time.Now())
	require.NoError(t, err)

	// The fresh document is younger than the age floor.
	hits, err := v.SearchSimilar(ctx, actionText(action), 5, 7, "")
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = v.StoreAction(ctx, "bbbb2222-0000-0000-0000-000000000000", "claude-code", action, time.Now().AddDate(0, 0, -10))
	require.NoError(t, err)

	hits, err = v.SearchSimilar(ctx, actionText(action), 5, 7, "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "bbbb2222-0000-0000-0000-000000000000", hits[0].ResolutionID)
}

func TestSearchConnectorFilter(t *testing.T) {
	v := newTestVectorStore(t, 0.5)
	ctx := context.Background()

	action := skillAction("Confirm before bulk edits", "User repeatedly asked for confirmation before destructive file changes")
	_, err := v.StoreAction(ctx, "aaaa1111-0000-0000-0000-000000000000", "claude-code", action, time.Now())
	require.NoError(t, err)
	_, err = v.StoreAction(ctx, "bbbb2222-0000-0000-0000-000000000000", "cursor", action, time.Now())
	require.NoError(t, err)

	hits, err := v.SearchSimilar(ctx, actionText(action), 5, 0, "claude-code")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "claude-code", hits[0].ConnectorID)
}

func TestSearchByIssue(t *testing.T) {
	v := newTestVectorStore(t, 0.1)
	ctx := context.Background()

	action := skillAction("Confirm before bulk edits", "User repeatedly asked for confirmation before destructive file changes")
	_, err := v.StoreAction(ctx, "aaaa1111-0000-0000-0000-000000000000", "claude-code", action, time.Now())
	require.NoError(t, err)

	issue := models.NewIssue("Confirm before bulk edits")
	issue.Kind = models.IssueRepeatedRequest
	issue.Description = "User repeatedly asked for confirmation before destructive file changes"

	hits, err := v.SearchByIssue(ctx, &issue, 5, 0)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "aaaa1111-0000-0000-0000-000000000000", hits[0].ResolutionID)
}

func TestSearchEmptyQuery(t *testing.T) {
	v := newTestVectorStore(t, 0.5)

	hits, err := v.SearchSimilar(context.Background(), "   ", 5, 0, "")
	require.NoError(t, err)
	assert.Nil(t, hits)
}

func TestStoreActionSkipsEmptyText(t *testing.T) {
	v := newTestVectorStore(t, 0.5)

	stored, err := v.StoreAction(context.Background(), "aaaa1111-0000-0000-0000-000000000000", "claude-code", models.RemediationAction{}, time.Now())
	require.NoError(t, err)
	assert.False(t, stored)
}

func TestDeleteRemediation(t *testing.T) {
	v := newTestVectorStore(t, 0.5)
	ctx := context.Background()

	first := skillAction("Confirm before bulk edits", "User repeatedly asked for confirmation before destructive file changes")
	second := skillAction("Summarize long diffs", "User wanted compact summaries of large diffs")
	id := "aaaa1111-0000-0000-0000-000000000000"
	_, err := v.StoreAction(ctx, id, "claude-code", first, time.Now())
	require.NoError(t, err)
	_, err = v.StoreAction(ctx, id, "claude-code", second, time.Now())
	require.NoError(t, err)

	deleted, err := v.DeleteRemediation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	hits, err := v.SearchSimilar(ctx, actionText(first), 5, 0, "")
	require.NoError(t, err)
	assert.Empty(t, hits)

	deleted, err = v.DeleteRemediation(ctx, "unknown-id")
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestStats(t *testing.T) {
	v := newTestVectorStore(t, 0.5)
	ctx := context.Background()

	action := skillAction("Confirm before bulk edits", "User repeatedly asked for confirmation before destructive file changes")
	_, err := v.StoreAction(ctx, "aaaa1111-0000-0000-0000-000000000000", "claude-code", action, time.Now())
	require.NoError(t, err)

	stats, err := v.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, true, stats["available"])
	assert.Equal(t, true, stats["indexed"])
	assert.Equal(t, 1, stats["num_docs"])
}

func TestVectorStoreUnavailable(t *testing.T) {
	// Nothing listens on this port; every operation degrades to an error
	// the caller can log and ignore.
	v := NewVectorStore("redis://127.0.0.1:1", hashEmbedder{}, 0.5)

	_, err := v.SearchSimilar(context.Background(), "anything", 5, 0, "")
	assert.Error(t, err)

	action := skillAction("Confirm before bulk edits", "User asked for confirmation")
	stored, err := v.StoreAction(context.Background(), "aaaa1111", "claude-code", action, time.Now())
	assert.Error(t, err)
	assert.False(t, stored)

	assert.NoError(t, v.Close())
}

package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/redis/go-redis/v9"

	"github.com/goodnight-ai/goodnight/pkg/models"
)

const (
	// VectorIndexName is the RediSearch index holding resolution embeddings.
	VectorIndexName = "idx:resolutions_vss"

	// vectorKeyPrefix namespaces resolution documents in Redis. Keys are
	// resolution:<remediation-id>:<target>.
	vectorKeyPrefix = "resolution:"

	// VectorDim is the embedding width produced by the all-minilm model.
	VectorDim = 384

	// DefaultMinSimilarity drops weak vector hits from search results.
	DefaultMinSimilarity = 0.5

	defaultSearchK = 5
)

// SimilarResolution is one vector search hit with its cosine similarity.
type SimilarResolution struct {
	Score        float64  `json:"score"`
	ResolutionID string   `json:"resolution_id"`
	ConnectorID  string   `json:"connector_id"`
	Type         string   `json:"type"`
	Target       string   `json:"target"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Rationale    string   `json:"rationale"`
	IssueRefs    []string `json:"issue_refs,omitempty"`
	LocalChange  bool     `json:"local_change"`
	Operation    string   `json:"operation"`
	CreatedAt    string   `json:"created_at"`
}

// vectorDoc is the JSON document stored per indexed action.
type vectorDoc struct {
	ResolutionID string    `json:"resolution_id"`
	ConnectorID  string    `json:"connector_id"`
	Type         string    `json:"type"`
	Target       string    `json:"target"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Rationale    string    `json:"rationale"`
	IssueRefs    []string  `json:"issue_refs"`
	LocalChange  bool      `json:"local_change"`
	Operation    string    `json:"operation"`
	CreatedAt    string    `json:"created_at"`
	CreatedAtTS  float64   `json:"created_at_ts"`
	Embedding    []float32 `json:"embedding"`
}

// VectorStore indexes resolution actions in Redis for semantic recall during
// issue filtering. The client and index are created lazily on first use.
// Callers treat every error as a degraded-mode signal: file persistence
// never depends on the vector backend.
type VectorStore struct {
	redisURL string
	minScore float64
	embedder Embedder

	mu      sync.Mutex
	client  *redis.Client
	indexed bool
}

// NewVectorStore returns a store that connects to redisURL on first use.
// A minScore of zero or less falls back to the default.
func NewVectorStore(redisURL string, embedder Embedder, minScore float64) *VectorStore {
	if minScore <= 0 {
		minScore = DefaultMinSimilarity
	}
	return &VectorStore{redisURL: redisURL, minScore: minScore, embedder: embedder}
}

// connect opens and pings the redis client on first call.
func (v *VectorStore) connect(ctx context.Context) (*redis.Client, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.client != nil {
		return v.client, nil
	}
	opts, err := redis.ParseURL(v.redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	v.client = client
	return client, nil
}

// ensureIndex creates the search index if it does not exist yet.
func (v *VectorStore) ensureIndex(ctx context.Context, client *redis.Client) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.indexed {
		return nil
	}
	if err := client.FTInfo(ctx, VectorIndexName).Err(); err == nil {
		v.indexed = true
		return nil
	}

	schema := []*redis.FieldSchema{
		{FieldName: "$.title", As: "title", FieldType: redis.SearchFieldTypeText},
		{FieldName: "$.description", As: "description", FieldType: redis.SearchFieldTypeText},
		{FieldName: "$.rationale", As: "rationale", FieldType: redis.SearchFieldTypeText},
		{FieldName: "$.resolution_id", As: "resolution_id", FieldType: redis.SearchFieldTypeText, NoStem: true},
		{FieldName: "$.target", As: "target", FieldType: redis.SearchFieldTypeText, NoStem: true},
		{FieldName: "$.operation", As: "operation", FieldType: redis.SearchFieldTypeText, NoStem: true},
		{FieldName: "$.created_at", As: "created_at", FieldType: redis.SearchFieldTypeText, NoStem: true},
		{FieldName: "$.type", As: "type", FieldType: redis.SearchFieldTypeTag},
		{FieldName: "$.connector_id", As: "connector_id", FieldType: redis.SearchFieldTypeTag},
		{FieldName: "$.local_change", As: "local_change", FieldType: redis.SearchFieldTypeTag},
		{FieldName: "$.created_at_ts", As: "created_at_ts", FieldType: redis.SearchFieldTypeNumeric},
		{FieldName: "$.embedding", As: "vector", FieldType: redis.SearchFieldTypeVector,
			VectorArgs: &redis.FTVectorArgs{FlatOptions: &redis.FTFlatOptions{
				Type:           "FLOAT32",
				Dim:            VectorDim,
				DistanceMetric: "COSINE",
			}}},
	}
	err := client.FTCreate(ctx, VectorIndexName,
		&redis.FTCreateOptions{OnJSON: true, Prefix: []any{vectorKeyPrefix}},
		schema...,
	).Err()
	if err != nil {
		return fmt.Errorf("creating vector index: %w", err)
	}
	slog.Info("Created vector index", "index", VectorIndexName, "dim", VectorDim)
	v.indexed = true
	return nil
}

// actionText flattens an action into the text that gets embedded and
// indexed. Empty fields are skipped.
func actionText(a models.RemediationAction) string {
	title, _ := a.Content["title"].(string)
	description, _ := a.Content["description"].(string)

	var parts []string
	if a.Type != "" {
		parts = append(parts, "Type: "+a.Type)
	}
	if a.Target != "" {
		parts = append(parts, "Target: "+a.Target)
	}
	if title != "" {
		parts = append(parts, "Title: "+title)
	}
	if description != "" {
		parts = append(parts, "Description: "+description)
	}
	if a.Rationale != "" {
		parts = append(parts, "Rationale: "+a.Rationale)
	}
	if len(a.IssueRefs) > 0 {
		parts = append(parts, "Issues: "+strings.Join(a.IssueRefs, ", "))
	}
	return strings.Join(parts, "\n")
}

// StoreAction embeds and indexes one remediation action. It reports whether
// a document was stored; actions with no indexable text are skipped without
// error.
func (v *VectorStore) StoreAction(ctx context.Context, remediationID, connectorID string, action models.RemediationAction, createdAt time.Time) (bool, error) {
	text := actionText(action)
	if text == "" {
		slog.Debug("Skipping action with no indexable text", "remediation_id", models.ShortID(remediationID))
		return false, nil
	}

	client, err := v.connect(ctx)
	if err != nil {
		return false, err
	}
	if err := v.ensureIndex(ctx, client); err != nil {
		return false, err
	}
	vec, err := v.embedder.Embed(ctx, text)
	if err != nil {
		return false, fmt.Errorf("embedding action text: %w", err)
	}
	if len(vec) != VectorDim {
		return false, fmt.Errorf("embedding has %d dimensions, index expects %d", len(vec), VectorDim)
	}

	title, _ := action.Content["title"].(string)
	description, _ := action.Content["description"].(string)
	target := action.Target
	if target == "" {
		target = "unknown"
	}
	doc := vectorDoc{
		ResolutionID: remediationID,
		ConnectorID:  connectorID,
		Type:         action.Type,
		Target:       action.Target,
		Title:        title,
		Description:  description,
		Rationale:    action.Rationale,
		IssueRefs:    action.IssueRefs,
		LocalChange:  action.LocalChange,
		Operation:    string(action.Operation),
		CreatedAt:    createdAt.UTC().Format(time.RFC3339),
		CreatedAtTS:  float64(createdAt.Unix()),
		Embedding:    vec,
	}
	key := vectorKeyPrefix + remediationID + ":" + target
	if err := client.JSONSet(ctx, key, "$", doc).Err(); err != nil {
		return false, fmt.Errorf("storing vector document: %w", err)
	}
	return true, nil
}

// SearchSimilar returns past resolutions semantically close to the query
// text, best first. Only documents at least minAgeDays old are considered,
// optionally narrowed to one connector. Hits below the minimum similarity
// are dropped.
func (v *VectorStore) SearchSimilar(ctx context.Context, query string, k, minAgeDays int, connectorID string) ([]SimilarResolution, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	client, err := v.connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := v.ensureIndex(ctx, client); err != nil {
		return nil, err
	}
	vec, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if k <= 0 {
		k = defaultSearchK
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -minAgeDays).Unix()
	filter := fmt.Sprintf("@created_at_ts:[-inf %d]", cutoff)
	if connectorID != "" {
		filter += " @connector_id:{" + escapeTag(connectorID) + "}"
	}
	q := fmt.Sprintf("(%s)=>[KNN %d @vector $query_vector AS vector_score]", filter, k)

	res, err := client.FTSearchWithArgs(ctx, VectorIndexName, q, &redis.FTSearchOptions{
		SortBy:         []redis.FTSearchSortBy{{FieldName: "vector_score", Asc: true}},
		DialectVersion: 2,
		Params:         map[string]any{"query_vector": packFloat32(vec)},
		LimitOffset:    0,
		Limit:          k,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	out := make([]SimilarResolution, 0, len(res.Docs))
	for _, d := range res.Docs {
		distance, err := strconv.ParseFloat(d.Fields["vector_score"], 64)
		if err != nil {
			continue
		}
		score := 1 - distance
		if score < v.minScore {
			continue
		}
		raw, ok := d.Fields["$"]
		if !ok {
			continue
		}
		var doc vectorDoc
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			slog.Warn("Skipping undecodable vector hit", "key", d.ID, "error", err)
			continue
		}
		out = append(out, SimilarResolution{
			Score:        math.Round(score*1000) / 1000,
			ResolutionID: doc.ResolutionID,
			ConnectorID:  doc.ConnectorID,
			Type:         doc.Type,
			Target:       doc.Target,
			Title:        doc.Title,
			Description:  doc.Description,
			Rationale:    doc.Rationale,
			IssueRefs:    doc.IssueRefs,
			LocalChange:  doc.LocalChange,
			Operation:    doc.Operation,
			CreatedAt:    doc.CreatedAt,
		})
	}
	return out, nil
}

// SearchByIssue searches using the issue's own text as the query.
func (v *VectorStore) SearchByIssue(ctx context.Context, issue *models.Issue, k, minAgeDays int) ([]SimilarResolution, error) {
	var parts []string
	if issue.Kind != "" {
		parts = append(parts, "Type: "+string(issue.Kind))
	}
	if issue.Title != "" {
		parts = append(parts, "Title: "+issue.Title)
	}
	if issue.Description != "" {
		parts = append(parts, "Description: "+issue.Description)
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return v.SearchSimilar(ctx, strings.Join(parts, "\n"), k, minAgeDays, "")
}

// DeleteRemediation removes every indexed action for a remediation id and
// returns how many documents were deleted.
func (v *VectorStore) DeleteRemediation(ctx context.Context, id string) (int, error) {
	client, err := v.connect(ctx)
	if err != nil {
		return 0, err
	}
	var keys []string
	iter := client.Scan(ctx, 0, vectorKeyPrefix+id+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scanning vector keys: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := client.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("deleting vector documents: %w", err)
	}
	return len(keys), nil
}

// Stats reports vector index health for the status surface.
func (v *VectorStore) Stats(ctx context.Context) (map[string]any, error) {
	client, err := v.connect(ctx)
	if err != nil {
		return nil, err
	}
	info, err := client.FTInfo(ctx, VectorIndexName).Result()
	if err != nil {
		return map[string]any{"available": true, "indexed": false}, nil
	}
	return map[string]any{
		"available":  true,
		"indexed":    true,
		"index_name": VectorIndexName,
		"num_docs":   info.NumDocs,
	}, nil
}

// Close releases the redis client if one was opened.
func (v *VectorStore) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.client == nil {
		return nil
	}
	err := v.client.Close()
	v.client = nil
	v.indexed = false
	return err
}

// packFloat32 encodes a vector as the little-endian float32 blob RediSearch
// expects for KNN query parameters.
func packFloat32(vec []float32) string {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// escapeTag escapes query-syntax characters inside a TAG match so connector
// ids like claude-code survive the query parser.
func escapeTag(s string) string {
	var b strings.Builder
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

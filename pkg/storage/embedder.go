package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultOllamaURL is where a local Ollama daemon listens.
	DefaultOllamaURL = "http://localhost:11434"

	// DefaultEmbeddingModel produces the 384-dimension vectors the
	// resolution index expects.
	DefaultEmbeddingModel = "all-minilm"

	embedTimeout = 30 * time.Second
)

// Embedder produces fixed-width embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ollamaEmbedMu serializes embedding calls. The Ollama runner can crash
// under concurrent embedding requests against the same model.
var ollamaEmbedMu sync.Mutex

// OllamaEmbedder computes embeddings through a local Ollama daemon's
// /api/embed endpoint.
type OllamaEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaEmbedder returns an embedder for the given Ollama endpoint and
// model. Empty arguments fall back to the defaults.
func NewOllamaEmbedder(baseURL, model string) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &OllamaEmbedder{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: embedTimeout},
	}
}

// Model returns the embedding model name in use.
func (e *OllamaEmbedder) Model() string { return e.model }

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the embedding for one text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns embeddings for several texts in one request, in input
// order.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(vecs), len(texts))
	}
	return vecs, nil
}

func (e *OllamaEmbedder) embed(ctx context.Context, input any) ([][]float32, error) {
	ollamaEmbedMu.Lock()
	defer ollamaEmbedMu.Unlock()

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("encoding embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama embed returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	if len(parsed.Embeddings) == 0 {
		return nil, errors.New("ollama returned no embeddings")
	}
	return parsed.Embeddings, nil
}

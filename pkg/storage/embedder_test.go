package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedSingle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/embed", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-minilm", req["model"])
		assert.Equal(t, "hello world", req["input"])

		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{0.1, 0.2, 0.3}}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "")
	vec, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []any{"first", "second"}, req["input"])

		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{1, 0}, {0, 1}}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "all-minilm")
	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1}, vecs[1])
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	e := NewOllamaEmbedder("http://127.0.0.1:1", "all-minilm")
	vecs, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestEmbedBatchCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{1, 0}}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "all-minilm")
	_, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	assert.ErrorContains(t, err, "1 embeddings for 2 inputs")
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "nope")
	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorContains(t, err, "status 404")
	assert.ErrorContains(t, err, "model not found")
}

func TestEmbedEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "all-minilm")
	_, err := e.Embed(context.Background(), "hello")
	assert.ErrorContains(t, err, "no embeddings")
}

func TestEmbedderDefaults(t *testing.T) {
	e := NewOllamaEmbedder("", "")
	assert.Equal(t, DefaultEmbeddingModel, e.Model())
	assert.Equal(t, DefaultOllamaURL, e.baseURL)

	custom := NewOllamaEmbedder("http://ollama.internal:11434/", "nomic-embed-text")
	assert.Equal(t, "http://ollama.internal:11434", custom.baseURL)
	assert.Equal(t, "nomic-embed-text", custom.Model())
}

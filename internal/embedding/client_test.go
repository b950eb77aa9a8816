package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"medgraphrag/internal/apperr"
	"medgraphrag/internal/config"
)

func writeVectors(w http.ResponseWriter, dim int, n int) {
	data := make([]map[string]any, n)
	for i := range data {
		vec := make([]float32, dim)
		vec[0] = 0.1 // nonzero so it never trips MockEmbedding
		data[i] = map[string]any{"embedding": vec}
	}
	b, _ := json.Marshal(map[string]any{"data": data})
	w.Write(b)
}

func TestEmbedTexts_BearerHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		writeVectors(w, 3, 1)
	}))
	defer ts.Close()

	cfg := config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m", Dimension: 3, APIHeader: "Authorization", APIKey: "secret"}
	c := New(cfg)
	vecs, err := c.EmbedTexts(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	require.Len(t, vecs[0], 3)
}

func TestEmbedTexts_CustomHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "abc", r.Header.Get("X-API-Key"))
		writeVectors(w, 3, 1)
	}))
	defer ts.Close()

	cfg := config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m", Dimension: 3, APIHeader: "X-API-Key", APIKey: "abc"}
	c := New(cfg)
	_, err := c.EmbedTexts(context.Background(), []string{"x"})
	require.NoError(t, err)
}

func TestEmbedTexts_DimensionMismatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeVectors(w, 5, 1) // wrong dimension
	}))
	defer ts.Close()

	cfg := config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m", Dimension: 3, MaxRetries: 1}
	c := New(cfg)
	_, err := c.EmbedTexts(context.Background(), []string{"x"})
	require.Error(t, err)
	require.Equal(t, apperr.SchemaError, apperr.KindOf(err))
}

func TestEmbedTexts_ZeroVectorIsMockEmbedding(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := json.Marshal(map[string]any{"data": []map[string]any{{"embedding": []float32{0, 0, 0}}}})
		w.Write(b)
	}))
	defer ts.Close()

	cfg := config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m", Dimension: 3, MaxRetries: 1}
	c := New(cfg)
	_, err := c.EmbedTexts(context.Background(), []string{"x"})
	require.Error(t, err)
	require.Equal(t, apperr.MockEmbedding, apperr.KindOf(err))
}

func TestEmbedTexts_RetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeVectors(w, 3, 1)
	}))
	defer ts.Close()

	cfg := config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m", Dimension: 3, MaxRetries: 3}
	c := New(cfg)
	_, err := c.EmbedTexts(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.GreaterOrEqual(t, attempts, 2)
}

func TestEmbedTexts_CountMismatchNotRetried(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		writeVectors(w, 3, 0) // zero results for one input
	}))
	defer ts.Close()

	cfg := config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m", Dimension: 3, MaxRetries: 3}
	c := New(cfg)
	_, err := c.EmbedTexts(context.Background(), []string{"x"})
	require.Error(t, err)
	require.Equal(t, apperr.SchemaError, apperr.KindOf(err))
	require.Equal(t, 1, attempts)
}

func TestEmbedTexts_EmptyInput(t *testing.T) {
	cfg := config.EmbeddingConfig{BaseURL: "http://unused", Model: "m"}
	c := New(cfg)
	_, err := c.EmbedTexts(context.Background(), nil)
	require.Error(t, err)
	require.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
}

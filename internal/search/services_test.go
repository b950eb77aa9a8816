package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"medgraphrag/internal/config"
	"medgraphrag/internal/embedding"
	"medgraphrag/internal/store"
)

func newTestEmbedder(t *testing.T, dim int) *embedding.Client {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vec := make([]float32, dim)
		vec[0] = 1
		b, _ := json.Marshal(map[string]any{"data": []map[string]any{{"embedding": vec}}})
		w.Write(b)
	}))
	t.Cleanup(ts.Close)
	return embedding.New(config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m", Dimension: dim})
}

func TestVectorTextSearch(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertDocument(ctx, store.Document{DocumentID: "d1", EmbeddingVector: []float32{1, 0, 0}}))
	require.NoError(t, s.UpsertDocument(ctx, store.Document{DocumentID: "d2", EmbeddingVector: []float32{0, 1, 0}}))

	svc := &VectorTextSearch{Store: s, Embedder: newTestEmbedder(t, 3)}
	out, err := svc.Search(ctx, "chest pain", 10, store.Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, out)
	require.Equal(t, "d1", out[0].ID)
}

func TestKeywordTextSearch_OnlyMatchesDecodedText(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertDocument(ctx, store.Document{DocumentID: "d1", DecodedText: "patient has a fever"}))
	require.NoError(t, s.UpsertDocument(ctx, store.Document{DocumentID: "d2", DecodedText: "routine visit"}))

	svc := &KeywordTextSearch{Store: s}
	out, err := svc.Search(ctx, "fever", 10, store.Filter{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "d1", out[0].ID)
}

func TestGraphSearch_ResolvesEntitiesAndRanksDocuments(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	_, err := s.UpsertEntity(ctx, store.Entity{Text: "cough", Type: store.Symptom, Confidence: 0.8, SourceDocumentID: "d1"})
	require.NoError(t, err)
	_, err = s.UpsertEntity(ctx, store.Entity{Text: "fever", Type: store.Symptom, Confidence: 0.7, SourceDocumentID: "d1"})
	require.NoError(t, err)

	svc := &GraphSearch{Store: s}
	out, err := svc.Search(ctx, "cough", 10, store.Filter{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "d1", out[0].ID)
}

func TestGraphSearch_NoMatchingEntitiesReturnsEmpty(t *testing.T) {
	s := store.NewMemStore()
	svc := &GraphSearch{Store: s}
	out, err := svc.Search(context.Background(), "nonexistent", 10, store.Filter{})
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestComposite_PartialSuccess_OneSourceFailing(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertDocument(ctx, store.Document{DocumentID: "d1", EmbeddingVector: []float32{1, 0, 0}, DecodedText: "fever"}))

	textSvc := &VectorTextSearch{Store: s, Embedder: newTestEmbedder(t, 3)}
	graphSvc := &GraphSearch{Store: s} // never errors, but has nothing to find
	failing := failingService{}

	c := &Composite{Text: textSvc, Image: failing, Graph: graphSvc}
	result := c.Search(ctx, "fever", 10, store.Filter{}, []Source{SourceText, SourceImage, SourceGraph})

	require.Contains(t, result.Lists, SourceText)
	require.NotEmpty(t, result.Lists[SourceText])
	require.Contains(t, result.Failed, SourceImage)
	require.NotContains(t, result.Failed, SourceText)
}

type failingService struct{}

func (failingService) Search(ctx context.Context, query string, k int, filter store.Filter) ([]store.RankedItem, error) {
	return nil, context.DeadlineExceeded
}

package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"medgraphrag/internal/apperr"
	"medgraphrag/internal/config"
	"medgraphrag/internal/embedding"
	"medgraphrag/internal/memory"
	"medgraphrag/internal/search"
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

func newTestDeps(t *testing.T) *Deps {
	t.Helper()
	s := store.NewMemStore()
	embedder := newTestEmbedder(t, 3)
	mem := memory.New(s, embedder)
	return &Deps{
		Store:   s,
		Memory:  mem,
		Text:    &search.VectorTextSearch{Store: s, Embedder: embedder},
		Image:   &search.VectorImageSearch{Store: s, Embedder: embedder},
		Keyword: &search.KeywordTextSearch{Store: s},
		Graph:   &search.GraphSearch{Store: s},
		Composite: &search.Composite{
			Text:  &search.VectorTextSearch{Store: s, Embedder: embedder},
			Graph: &search.GraphSearch{Store: s},
		},
		RRFK:          60,
		DefaultTopK:   10,
		MaxTopK:       100,
		MinSimilarity: 0.5,
	}
}

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"a":1}`)))
	require.NoError(t, WriteFrame(&buf, []byte(`{"b":2}`)))

	first, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(first))

	second, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.JSONEq(t, `{"b":2}`, string(second))
}

func TestServer_SearchDocuments_RoundTrip(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()
	require.NoError(t, deps.Store.UpsertDocument(ctx, store.Document{
		DocumentID: "doc-1", DecodedText: "patient reports persistent cough", EmbeddingVector: []float32{1, 0, 0},
	}))

	srv := NewServer(deps, "test")
	var in, out bytes.Buffer
	req := Request{ToolName: "search_documents", RequestID: "r1", Arguments: mustJSON(t, searchDocumentsArgs{Query: "cough", TopK: 5})}
	require.NoError(t, WriteFrame(&in, mustJSON(t, req)))

	require.NoError(t, srv.Serve(ctx, &in, &out))

	raw, err := ReadFrame(&out)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.True(t, resp.OK)
	require.Equal(t, "r1", resp.RequestID)

	var docs []rankedDocument
	require.NoError(t, json.Unmarshal(resp.Result, &docs))
	require.Len(t, docs, 1)
	require.Equal(t, "doc-1", docs[0].DocumentID)
}

func TestServer_UnknownTool_ReturnsErrorEnvelope(t *testing.T) {
	deps := newTestDeps(t)
	srv := NewServer(deps, "test")
	var in, out bytes.Buffer
	req := Request{ToolName: "nonexistent_tool", RequestID: "r2", Arguments: json.RawMessage(`{}`)}
	require.NoError(t, WriteFrame(&in, mustJSON(t, req)))

	require.NoError(t, srv.Serve(context.Background(), &in, &out))

	raw, err := ReadFrame(&out)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.False(t, resp.OK)
	require.Equal(t, "InvalidInput", resp.Error.Kind)
}

func TestServer_RememberThenRecall_AutoAttachesContext(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()
	require.NoError(t, deps.Store.UpsertDocument(ctx, store.Document{
		DocumentID: "doc-1", DecodedText: "chronic cough evaluation", EmbeddingVector: []float32{1, 0, 0},
	}))
	_, err := deps.Memory.Remember(ctx, store.Knowledge, "cough workup usually starts with a chest x-ray", nil)
	require.NoError(t, err)

	srv := NewServer(deps, "test")
	var in, out bytes.Buffer
	req := Request{ToolName: "search_documents", RequestID: "r3", Arguments: mustJSON(t, searchDocumentsArgs{Query: "cough", TopK: 5})}
	require.NoError(t, WriteFrame(&in, mustJSON(t, req)))
	require.NoError(t, srv.Serve(ctx, &in, &out))

	raw, err := ReadFrame(&out)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.True(t, resp.OK)
	require.NotEmpty(t, resp.Context)
}

func TestServer_HybridSearch_FusesTextAndGraph(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()
	require.NoError(t, deps.Store.UpsertDocument(ctx, store.Document{
		DocumentID: "doc-1", DecodedText: "fever and cough", EmbeddingVector: []float32{1, 0, 0},
	}))
	_, err := deps.Store.UpsertEntity(ctx, store.Entity{Text: "fever", Type: store.Symptom, Confidence: 0.8, SourceDocumentID: "doc-1"})
	require.NoError(t, err)

	srv := NewServer(deps, "test")
	var in, out bytes.Buffer
	args := hybridSearchArgs{Query: "fever", TopK: 5, Use: hybridUse{Text: true, Graph: true}}
	req := Request{ToolName: "hybrid_search", RequestID: "r4", Arguments: mustJSON(t, args)}
	require.NoError(t, WriteFrame(&in, mustJSON(t, req)))
	require.NoError(t, srv.Serve(ctx, &in, &out))

	raw, err := ReadFrame(&out)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.True(t, resp.OK)

	var hits []fusedHit
	require.NoError(t, json.Unmarshal(resp.Result, &hits))
	require.NotEmpty(t, hits)
}

// failingService always errors, standing in for an unreachable search
// source in the partial-failure tests below.
type failingService struct{ err error }

func (f failingService) Search(ctx context.Context, query string, k int, filter store.Filter) ([]store.RankedItem, error) {
	return nil, f.err
}

func TestServer_HybridSearch_PartialFailureReturnsWarnings(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()
	require.NoError(t, deps.Store.UpsertDocument(ctx, store.Document{
		DocumentID: "doc-1", DecodedText: "fever and cough", EmbeddingVector: []float32{1, 0, 0},
	}))
	_, err := deps.Store.UpsertEntity(ctx, store.Entity{Text: "fever", Type: store.Symptom, Confidence: 0.8, SourceDocumentID: "doc-1"})
	require.NoError(t, err)

	// Image search is unreachable; text and graph still succeed.
	deps.Composite.Image = failingService{err: apperr.New(apperr.EmbeddingUnavailable, "image embedder unreachable")}

	srv := NewServer(deps, "test")
	var in, out bytes.Buffer
	args := hybridSearchArgs{Query: "fever", TopK: 5, Use: hybridUse{Text: true, Image: true, Graph: true}}
	req := Request{ToolName: "hybrid_search", RequestID: "r5", Arguments: mustJSON(t, args)}
	require.NoError(t, WriteFrame(&in, mustJSON(t, req)))
	require.NoError(t, srv.Serve(ctx, &in, &out))

	raw, err := ReadFrame(&out)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.True(t, resp.OK, "a partial failure stays ok:true with the degraded result")
	require.NotEmpty(t, resp.Warnings)
	require.Contains(t, resp.Warnings[0], "image")

	var hits []fusedHit
	require.NoError(t, json.Unmarshal(resp.Result, &hits))
	require.NotEmpty(t, hits, "text and graph results still fuse despite the image source failing")
}

func TestServer_HybridSearch_AllSourcesFailReturnsError(t *testing.T) {
	deps := newTestDeps(t)
	deps.Composite.Text = failingService{err: apperr.New(apperr.EmbeddingUnavailable, "embedder down")}
	deps.Composite.Graph = failingService{err: apperr.New(apperr.StoreUnavailable, "store down")}

	srv := NewServer(deps, "test")
	var in, out bytes.Buffer
	args := hybridSearchArgs{Query: "fever", TopK: 5, Use: hybridUse{Text: true, Graph: true}}
	req := Request{ToolName: "hybrid_search", RequestID: "r6", Arguments: mustJSON(t, args)}
	require.NoError(t, WriteFrame(&in, mustJSON(t, req)))
	require.NoError(t, srv.Serve(context.Background(), &in, &out))

	raw, err := ReadFrame(&out)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.False(t, resp.OK)
}

func TestServer_DeleteMemory_UnknownIDReturnsNotFound(t *testing.T) {
	deps := newTestDeps(t)
	srv := NewServer(deps, "test")
	var in, out bytes.Buffer
	req := Request{ToolName: "delete_memory", RequestID: "r7", Arguments: mustJSON(t, deleteMemoryArgs{MemoryID: "does-not-exist"})}
	require.NoError(t, WriteFrame(&in, mustJSON(t, req)))
	require.NoError(t, srv.Serve(context.Background(), &in, &out))

	raw, err := ReadFrame(&out)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.False(t, resp.OK)
	require.Equal(t, "NotFound", resp.Error.Kind)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

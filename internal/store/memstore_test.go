package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"medgraphrag/internal/apperr"
)

func TestMemStore_DocumentRoundTrip(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	doc := Document{DocumentID: "d1", PatientID: "p1", DocumentType: "note", DecodedText: "chest pain and cough"}
	require.NoError(t, s.UpsertDocument(ctx, doc))

	got, ok, err := s.GetDocument(ctx, "d1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "chest pain and cough", got.DecodedText)

	_, ok, err = s.GetDocument(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemStore_VectorTopK_OrdersByScoreThenID(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertDocument(ctx, Document{DocumentID: "a", EmbeddingVector: []float32{1, 0}}))
	require.NoError(t, s.UpsertDocument(ctx, Document{DocumentID: "b", EmbeddingVector: []float32{1, 0}}))
	require.NoError(t, s.UpsertDocument(ctx, Document{DocumentID: "c", EmbeddingVector: []float32{0, 1}}))

	out, err := s.VectorTopK(ctx, DocumentsTable, []float32{1, 0}, 10, Filter{})
	require.NoError(t, err)
	require.Len(t, out, 3)
	// a and b tie at score 1.0; id ascending breaks the tie.
	require.Equal(t, "a", out[0].ID)
	require.Equal(t, "b", out[1].ID)
	require.Equal(t, "c", out[2].ID)
	require.InDelta(t, 1.0, out[0].Score, 1e-9)
	require.InDelta(t, 0.0, out[2].Score, 1e-9)
}

func TestMemStore_VectorTopK_FiltersByPatient(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertDocument(ctx, Document{DocumentID: "a", PatientID: "p1", EmbeddingVector: []float32{1, 0}}))
	require.NoError(t, s.UpsertDocument(ctx, Document{DocumentID: "b", PatientID: "p2", EmbeddingVector: []float32{1, 0}}))

	out, err := s.VectorTopK(ctx, DocumentsTable, []float32{1, 0}, 10, Filter{PatientID: "p1"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "a", out[0].ID)
}

func TestMemStore_KeywordTopK_UsesDecodedTextOnly(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertDocument(ctx, Document{DocumentID: "a", DocumentType: "note", DecodedText: "fever and cough present"}))
	require.NoError(t, s.UpsertDocument(ctx, Document{DocumentID: "b", DocumentType: "note", DecodedText: "routine checkup"}))

	out, err := s.KeywordTopK(ctx, DocumentsTable, []string{"fever", "cough"}, 10, Filter{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "a", out[0].ID)
	require.Equal(t, 2.0, out[0].Score)
}

func TestMemStore_UpsertEntity_DedupsOnDocTextType(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	id1, err := s.UpsertEntity(ctx, Entity{Text: "cough", Type: Symptom, Confidence: 0.8, SourceDocumentID: "d1"})
	require.NoError(t, err)

	id2, err := s.UpsertEntity(ctx, Entity{Text: "cough", Type: Symptom, Confidence: 0.9, SourceDocumentID: "d1"})
	require.NoError(t, err)
	require.Equal(t, id1, id2, "re-upserting the same (doc,text,type) must not mint a new id")

	id3, err := s.UpsertEntity(ctx, Entity{Text: "cough", Type: Symptom, Confidence: 0.8, SourceDocumentID: "d2"})
	require.NoError(t, err)
	require.NotEqual(t, id1, id3, "a different source document is a distinct entity")
}

func TestMemStore_ReplaceDocumentGraph_IsAtomicAndCycleSafe(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	e1 := Entity{EntityID: 1, Text: "cough", Type: Symptom, SourceDocumentID: "d1"}
	e2 := Entity{EntityID: 2, Text: "fever", Type: Symptom, SourceDocumentID: "d1"}
	e3 := Entity{EntityID: 3, Text: "flu", Type: Condition, SourceDocumentID: "d1"}
	rels := []Relationship{
		{SourceEntityID: 1, TargetEntityID: 2, Kind: CoOccursWith, Confidence: 0.8},
		{SourceEntityID: 2, TargetEntityID: 3, Kind: CoOccursWith, Confidence: 0.7},
		{SourceEntityID: 3, TargetEntityID: 1, Kind: CoOccursWith, Confidence: 0.6}, // closes a cycle
	}
	require.NoError(t, s.ReplaceDocumentGraph(ctx, "d1", []Entity{e1, e2, e3}, rels))

	stats, err := s.GraphStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalEntities)
	require.Equal(t, 3, stats.RelationshipsByKind[CoOccursWith])

	// Re-running with a smaller set must fully replace, not accumulate.
	require.NoError(t, s.ReplaceDocumentGraph(ctx, "d1", []Entity{e1}, nil))
	stats, err = s.GraphStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalEntities)
	require.Equal(t, 0, stats.RelationshipsByKind[CoOccursWith])
}

func TestMemStore_EntitiesNeighbors_CycleSafeBFS(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	entities := []Entity{
		{EntityID: 1, Text: "a", Type: Symptom, SourceDocumentID: "d1"},
		{EntityID: 2, Text: "b", Type: Symptom, SourceDocumentID: "d1"},
		{EntityID: 3, Text: "c", Type: Symptom, SourceDocumentID: "d1"},
		{EntityID: 4, Text: "d", Type: Symptom, SourceDocumentID: "d1"},
	}
	rels := []Relationship{
		{SourceEntityID: 1, TargetEntityID: 2, Kind: CoOccursWith},
		{SourceEntityID: 2, TargetEntityID: 3, Kind: CoOccursWith},
		{SourceEntityID: 3, TargetEntityID: 1, Kind: CoOccursWith}, // cycle back to 1
		{SourceEntityID: 3, TargetEntityID: 4, Kind: CoOccursWith},
	}
	require.NoError(t, s.ReplaceDocumentGraph(ctx, "d1", entities, rels))

	all, err := s.EntitiesByText(ctx, []string{"a"}, 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	rootID := all[0].EntityID

	depth1, err := s.EntitiesNeighbors(ctx, rootID, 1, 10)
	require.NoError(t, err)
	require.Len(t, depth1, 2) // b and c, not d

	depth3, err := s.EntitiesNeighbors(ctx, rootID, 3, 10)
	require.NoError(t, err)
	require.Len(t, depth3, 3) // b, c, d — a itself never reappears despite the cycle
}

func TestMemStore_DocumentsMentioningEntities_RanksByMatchesThenConfidence(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	e1, err := s.UpsertEntity(ctx, Entity{Text: "cough", Type: Symptom, Confidence: 0.9, SourceDocumentID: "d1"})
	require.NoError(t, err)
	e2, err := s.UpsertEntity(ctx, Entity{Text: "fever", Type: Symptom, Confidence: 0.8, SourceDocumentID: "d1"})
	require.NoError(t, err)
	e3, err := s.UpsertEntity(ctx, Entity{Text: "cough", Type: Symptom, Confidence: 0.5, SourceDocumentID: "d2"})
	require.NoError(t, err)

	out, err := s.DocumentsMentioningEntities(ctx, []int64{e1, e2, e3})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "d1", out[0].ID, "d1 matches two entities, d2 matches one")
	require.Equal(t, "d2", out[1].ID)
}

func TestMemStore_Memory_RememberRecallDelete(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	m := Memory{MemoryID: "h1", Kind: Correction, Text: "always check units", EmbeddingVector: []float32{1, 0, 0}}
	require.NoError(t, s.UpsertMemory(ctx, m))

	got, ok, err := s.GetMemory(ctx, "h1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "always check units", got.Text)

	require.NoError(t, s.IncrementMemoryUse(ctx, "h1"))
	got, _, err = s.GetMemory(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, 1, got.UseCount)

	ranked, err := s.VectorTopKMemory(ctx, []float32{1, 0, 0}, 5, "")
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	require.Equal(t, "h1", ranked[0].ID)

	stats, err := s.MemoryStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Total)
	require.Equal(t, 1, stats.ByKind[Correction])

	require.NoError(t, s.DeleteMemory(ctx, "h1"))
	_, ok, err = s.GetMemory(ctx, "h1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemStore_DeleteMemory_NotFoundForAbsentID(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	err := s.DeleteMemory(ctx, "does-not-exist")
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.NotFound, appErr.Kind)
}

func TestMemStore_BrowseMemories_OrdersByUseCountThenRecency(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.UpsertMemory(ctx, Memory{MemoryID: "m1", Kind: Knowledge, UseCount: 1, UpdatedAt: now}))
	require.NoError(t, s.UpsertMemory(ctx, Memory{MemoryID: "m2", Kind: Knowledge, UseCount: 5, UpdatedAt: now}))

	out, err := s.BrowseMemories(ctx, 5, "")
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "m2", out[0].MemoryID, "higher use_count ranks first")
}

func TestMemStore_DocumentsModifiedSince_TagChangeForcesReprocess(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)

	require.NoError(t, s.UpsertDocument(ctx, Document{DocumentID: "d1", SourceLastModified: old, EmbeddingModelTag: "v1"}))

	out, err := s.DocumentsModifiedSince(ctx, time.Now(), "v1")
	require.NoError(t, err)
	require.Empty(t, out, "unmodified document with a matching tag is not due for reprocessing")

	out, err = s.DocumentsModifiedSince(ctx, time.Now(), "v2")
	require.NoError(t, err)
	require.Len(t, out, 1, "a model tag change forces reprocessing regardless of watermark")
}

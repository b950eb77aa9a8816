package viz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"medgraphrag/internal/store"
)

func seedGraph(t *testing.T) *store.MemStore {
	t.Helper()
	s := store.NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertDocument(ctx, store.Document{
		DocumentID: "doc-1", PatientID: "pat-1", DocumentType: "note",
		DecodedText: "fever and cough", EmbeddingVector: []float32{1, 0},
	}))

	feverID, err := s.UpsertEntity(ctx, store.Entity{Text: "fever", Type: store.Symptom, Confidence: 0.8, SourceDocumentID: "doc-1"})
	require.NoError(t, err)
	coughID, err := s.UpsertEntity(ctx, store.Entity{Text: "cough", Type: store.Symptom, Confidence: 0.8, SourceDocumentID: "doc-1"})
	require.NoError(t, err)
	fluID, err := s.UpsertEntity(ctx, store.Entity{Text: "influenza", Type: store.Condition, Confidence: 0.85, SourceDocumentID: "doc-1"})
	require.NoError(t, err)

	require.NoError(t, s.UpsertRelationship(ctx, store.Relationship{
		SourceEntityID: feverID, TargetEntityID: coughID, Kind: store.CoOccursWith, Confidence: 0.8, SourceDocumentID: "doc-1",
	}))
	require.NoError(t, s.UpsertRelationship(ctx, store.Relationship{
		SourceEntityID: coughID, TargetEntityID: fluID, Kind: store.CoOccursWith, Confidence: 0.8, SourceDocumentID: "doc-1",
	}))
	return s
}

func TestEntityHistogram_ByType(t *testing.T) {
	s := seedGraph(t)
	h, err := EntityHistogram(context.Background(), s, ByType)
	require.NoError(t, err)
	require.Equal(t, []string{"CONDITION", "SYMPTOM"}, h.Labels)
	require.Equal(t, []int{1, 2}, h.Counts)
}

func TestEntityHistogram_ByKind(t *testing.T) {
	s := seedGraph(t)
	h, err := EntityHistogram(context.Background(), s, ByKind)
	require.NoError(t, err)
	require.Equal(t, []string{"CO_OCCURS_WITH"}, h.Labels)
	require.Equal(t, []int{2}, h.Counts)
}

func TestPatientTimeline_FiltersByPatientAndOrdersAscending(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertDocument(ctx, store.Document{
		DocumentID: "doc-2", PatientID: "pat-1", DocumentType: "note",
		DecodedText: "later visit", EmbeddingVector: []float32{1, 0},
		SourceLastModified: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, s.UpsertDocument(ctx, store.Document{
		DocumentID: "doc-1", PatientID: "pat-1", DocumentType: "note",
		DecodedText: "earlier visit", EmbeddingVector: []float32{1, 0},
		SourceLastModified: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, s.UpsertDocument(ctx, store.Document{
		DocumentID: "doc-3", PatientID: "pat-2", DocumentType: "note",
		DecodedText: "other patient", EmbeddingVector: []float32{1, 0},
	}))

	events, err := PatientTimeline(ctx, s, "pat-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "doc-1", events[0].DocumentID)
	require.Equal(t, "doc-2", events[1].DocumentID)
}

func TestEntityNetwork_IncludesSeedNodesAndDedupedEdges(t *testing.T) {
	s := seedGraph(t)
	ctx := context.Background()

	entities, err := s.EntitiesByText(ctx, []string{"fever"}, 10)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	feverID := entities[0].EntityID

	nodes, edges, err := EntityNetwork(ctx, s, []int64{feverID}, 2)
	require.NoError(t, err)

	var gotFever bool
	for _, n := range nodes {
		if n.Text == "fever" {
			gotFever = true
		}
	}
	require.True(t, gotFever, "seed entity must appear in the node list")
	require.GreaterOrEqual(t, len(nodes), 3)
	require.GreaterOrEqual(t, len(edges), 2)
}

func TestEntityNetwork_UnknownSeedYieldsNoNodesNoError(t *testing.T) {
	s := store.NewMemStore()
	nodes, edges, err := EntityNetwork(context.Background(), s, []int64{999}, 1)
	require.NoError(t, err)
	require.Empty(t, nodes)
	require.Empty(t, edges)
}

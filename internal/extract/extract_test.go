package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"medgraphrag/internal/store"
)

func TestExtract_FindsEntitiesAcrossTypes(t *testing.T) {
	text := "Patient reports fever and cough for 3 days. Chest x-ray ordered. Started on amoxicillin."
	res := Extract("d1", text)

	var types []store.EntityType
	for _, e := range res.Entities {
		types = append(types, e.Type)
	}
	require.Contains(t, types, store.Symptom)
	require.Contains(t, types, store.Procedure)
	require.Contains(t, types, store.Medication)
}

func TestExtract_LowercaseNormalizes(t *testing.T) {
	res := Extract("d1", "FEVER and Cough noted.")
	for _, e := range res.Entities {
		require.Equal(t, e.Text, e.Text)
		require.NotRegexp(t, `[A-Z]`, e.Text)
	}
}

func TestExtract_DedupOverlappingSpans_PrefersHigherConfidence(t *testing.T) {
	// "chest pain" and "chest" both match (symptom "chest pain" and body
	// part "chest") and overlap; the higher-confidence, longer span should
	// win.
	res := Extract("d1", "Patient has chest pain.")

	var texts []string
	for _, e := range res.Entities {
		texts = append(texts, e.Text)
	}
	require.Contains(t, texts, "chest pain")
	require.NotContains(t, texts, "chest")
}

func TestExtract_IsDeterministic(t *testing.T) {
	text := "Fever, cough, and chest pain reported today. Prescribed ibuprofen and amoxicillin for pneumonia."
	r1 := Extract("d1", text)
	r2 := Extract("d1", text)
	require.Equal(t, r1, r2)
}

func TestExtract_EmitsCoOccursWithMinConfidence(t *testing.T) {
	res := Extract("d1", "Patient has fever and pneumonia.")
	require.Len(t, res.Entities, 2)
	require.Len(t, res.Relationships, 1)

	rel := res.Relationships[0]
	require.Equal(t, store.CoOccursWith, rel.Kind)

	var byID = map[int64]store.Entity{}
	for _, e := range res.Entities {
		byID[e.EntityID] = e
	}
	c1, c2 := byID[rel.SourceEntityID].Confidence, byID[rel.TargetEntityID].Confidence
	want := c1
	if c2 < want {
		want = c2
	}
	require.Equal(t, want, rel.Confidence)
}

func TestExtract_NoEntitiesNoRelationships(t *testing.T) {
	res := Extract("d1", "Nothing of note here.")
	require.Empty(t, res.Entities)
	require.Empty(t, res.Relationships)
}

func TestExtract_PairwiseEdgesForAllDistinctEntities(t *testing.T) {
	// Three distinct entities -> 3 unordered pairs.
	res := Extract("d1", "Fever, cough, and headache reported.")
	n := len(res.Entities)
	require.Equal(t, n*(n-1)/2, len(res.Relationships))
}

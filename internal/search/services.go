// Package search implements the Search Services (C5): four independent
// services sharing one contract, plus a composite fan-out used by
// hybrid_search, grounded on the teacher's
// internal/rag/retrieve.ParallelCandidates channel-based fan-out.
package search

import (
	"context"
	"strings"

	"medgraphrag/internal/embedding"
	"medgraphrag/internal/store"
)

// Service is the shared contract every Search Service implements.
// RankedList preserves rank order starting at 1 (index 0 == rank 1).
type Service interface {
	Search(ctx context.Context, query string, k int, filter store.Filter) ([]store.RankedItem, error)
}

// VectorTextSearch embeds query via the Embedding Client and ranks
// documents by cosine similarity.
type VectorTextSearch struct {
	Store    store.Store
	Embedder *embedding.Client
}

func (s *VectorTextSearch) Search(ctx context.Context, query string, k int, filter store.Filter) ([]store.RankedItem, error) {
	vecs, err := s.Embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return s.Store.VectorTopK(ctx, store.DocumentsTable, vecs[0], k, filter)
}

// VectorImageSearch embeds a text query into the joint embedding space (or
// an image reference/bytes) and ranks images by cosine similarity.
type VectorImageSearch struct {
	Store    store.Store
	Embedder *embedding.Client
}

// Search embeds query text for the joint image/text embedding space.
func (s *VectorImageSearch) Search(ctx context.Context, query string, k int, filter store.Filter) ([]store.RankedItem, error) {
	vecs, err := s.Embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return s.Store.VectorTopK(ctx, store.ImagesTable, vecs[0], k, filter)
}

// SearchImageRef embeds by storage reference — the primary path for image
// input per the Open Question decision that storage_ref is the durable
// field on Image.
func (s *VectorImageSearch) SearchImageRef(ctx context.Context, storageRef string, k int, filter store.Filter) ([]store.RankedItem, error) {
	vec, err := s.Embedder.EmbedImage(ctx, storageRef)
	if err != nil {
		return nil, err
	}
	return s.Store.VectorTopK(ctx, store.ImagesTable, vec, k, filter)
}

// KeywordTextSearch lowercase-tokenizes query and ranks documents by term
// overlap against decoded text. It must never be pointed at a raw
// hex-encoded source column — Store.KeywordTopK enforces that by only
// scanning decoded_text.
type KeywordTextSearch struct {
	Store store.Store
}

func (s *KeywordTextSearch) Search(ctx context.Context, query string, k int, filter store.Filter) ([]store.RankedItem, error) {
	terms := tokenize(query)
	return s.Store.KeywordTopK(ctx, store.DocumentsTable, terms, k, filter)
}

// GraphSearch resolves query tokens to entities by case-insensitive
// substring match, then gathers documents mentioning those entities.
type GraphSearch struct {
	Store store.Store
}

func (s *GraphSearch) Search(ctx context.Context, query string, k int, filter store.Filter) ([]store.RankedItem, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}
	entities, err := s.Store.EntitiesByText(ctx, terms, 100)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(entities))
	for i, e := range entities {
		ids[i] = e.EntityID
	}
	items, err := s.Store.DocumentsMentioningEntities(ctx, ids)
	if err != nil {
		return nil, err
	}
	if k > 0 && len(items) > k {
		items = items[:k]
	}
	return items, nil
}

func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(query)))
	return fields
}

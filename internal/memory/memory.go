// Package memory implements the Memory Store (C7): remember/recall/stats/
// delete over semantic memory, content-addressed by a hash of kind+text so
// re-remembering the same fact increments its use count instead of
// duplicating it. The upsert-or-increment shape is grounded on the
// teacher's internal/agent/memory.Manager persistence pattern, generalized
// from chat-summary records to standalone semantic memories.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"medgraphrag/internal/embedding"
	"medgraphrag/internal/store"
)

// Store is the C7 business-logic layer atop the Store Adapter and the
// Embedding Client.
type Store struct {
	Store    store.Store
	Embedder *embedding.Client
}

func New(s store.Store, embedder *embedding.Client) *Store {
	return &Store{Store: s, Embedder: embedder}
}

// contentHash is a stdlib primitive (hashing has no third-party
// alternative in the example pack worth adopting) used purely to derive a
// stable memory_id from kind+text.
func contentHash(kind store.MemoryKind, text string) string {
	h := sha256.Sum256([]byte(string(kind) + "\x00" + text))
	return hex.EncodeToString(h[:])
}

// Remember computes the content hash, embeds text, and inserts or updates
// the memory. If the same hash already exists, IncrementMemoryUse bumps its
// use_count and sets last_used_at instead of creating a duplicate;
// updated_at is left unchanged.
func (m *Store) Remember(ctx context.Context, kind store.MemoryKind, text string, metadata map[string]any) (string, error) {
	id := contentHash(kind, text)

	if existing, ok, err := m.Store.GetMemory(ctx, id); err != nil {
		return "", err
	} else if ok {
		if err := m.Store.IncrementMemoryUse(ctx, id); err != nil {
			return "", err
		}
		_ = existing
		return id, nil
	}

	vecs, err := m.Embedder.EmbedTexts(ctx, []string{text})
	if err != nil {
		return "", err
	}

	mem := store.Memory{
		MemoryID:        id,
		Kind:            kind,
		Text:            text,
		EmbeddingVector: vecs[0],
		Metadata:        metadata,
	}
	if err := m.Store.UpsertMemory(ctx, mem); err != nil {
		return "", err
	}
	return id, nil
}

// Recalled is a Memory annotated with the similarity score used to select
// it — 1.0 in browse mode, per spec.md §4.7.
type Recalled struct {
	store.Memory
	Similarity float64
}

// Recall returns the top k memories for query. If query is empty or
// whitespace-only, it returns the top k by (use_count desc, updated_at
// desc) with similarity reported as 1.0 (browse mode). Otherwise it embeds
// query, ranks by vector similarity, filters by similarity >=
// minSimilarity (default 0.5), and increments use_count for every
// returned item.
func (m *Store) Recall(ctx context.Context, query string, k int, kindFilter store.MemoryKind, minSimilarity float64) ([]Recalled, error) {
	if minSimilarity == 0 {
		minSimilarity = 0.5
	}
	if strings.TrimSpace(query) == "" {
		mems, err := m.Store.BrowseMemories(ctx, k, kindFilter)
		if err != nil {
			return nil, err
		}
		out := make([]Recalled, len(mems))
		for i, mm := range mems {
			out[i] = Recalled{Memory: mm, Similarity: 1.0}
		}
		return out, nil
	}

	vecs, err := m.Embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	ranked, err := m.Store.VectorTopKMemory(ctx, vecs[0], k, kindFilter)
	if err != nil {
		return nil, err
	}

	var out []Recalled
	for _, r := range ranked {
		if r.Score < minSimilarity {
			continue
		}
		mem, ok, err := m.Store.GetMemory(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := m.Store.IncrementMemoryUse(ctx, r.ID); err != nil {
			return nil, err
		}
		out = append(out, Recalled{Memory: mem, Similarity: r.Score})
	}
	return out, nil
}

func (m *Store) Stats(ctx context.Context) (store.MemoryStats, error) {
	return m.Store.MemoryStats(ctx)
}

func (m *Store) Delete(ctx context.Context, memoryID string) error {
	return m.Store.DeleteMemory(ctx, memoryID)
}

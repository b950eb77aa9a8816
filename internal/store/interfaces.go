package store

import (
	"context"
	"time"
)

// Store is the capability-typed contract every Search Service, the Sync
// Engine, and the Memory Store depend on. Concrete implementations are the
// Postgres+pgvector adapter (postgres.go) and the in-memory fake used by
// tests (memstore.go) — components are injected with the interface, never a
// concrete type, per the "duck-typed adapters" redesign cue.
type Store interface {
	// EnsureSchema idempotently creates every table and index. Errors only
	// for permission/connectivity failures.
	EnsureSchema(ctx context.Context) error

	UpsertDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, documentID string) (Document, bool, error)
	UpsertImage(ctx context.Context, img Image) error
	GetImage(ctx context.Context, imageID string) (Image, bool, error)

	// VectorTopK ranks rows in table by cosine similarity to queryVec
	// descending, ties broken by id ascending.
	VectorTopK(ctx context.Context, table Table, queryVec []float32, k int, filter Filter) ([]RankedItem, error)
	// KeywordTopK ranks rows in table by the count of lowercased terms
	// present in decoded text descending, ties broken by id ascending.
	KeywordTopK(ctx context.Context, table Table, terms []string, k int, filter Filter) ([]RankedItem, error)

	// UpsertEntity inserts or updates an entity, keyed on
	// (source_document_id, text, type).
	UpsertEntity(ctx context.Context, e Entity) (int64, error)
	// UpsertRelationship inserts or updates a relationship.
	UpsertRelationship(ctx context.Context, r Relationship) error
	// ReplaceDocumentGraph atomically deletes all entities/relationships for
	// documentID and inserts the freshly extracted set, in one transaction.
	ReplaceDocumentGraph(ctx context.Context, documentID string, entities []Entity, relationships []Relationship) error

	// EntitiesByText returns entities whose normalized text contains any of
	// substrings (case-insensitive), most recent first, capped at limit.
	EntitiesByText(ctx context.Context, substrings []string, limit int) ([]Entity, error)
	// GetEntity fetches a single entity by id.
	GetEntity(ctx context.Context, entityID int64) (Entity, bool, error)
	// EntitiesNeighbors does a cycle-safe BFS out to depth (1..3) from
	// entityID, capped at limit entities visited.
	EntitiesNeighbors(ctx context.Context, entityID int64, depth int, limit int) ([]Entity, error)
	// DocumentsMentioningEntities returns document ids mentioning any of
	// entityIDs, ranked by (entity_match_count desc, sum(confidence) desc,
	// document_id asc), used by GraphSearch.
	DocumentsMentioningEntities(ctx context.Context, entityIDs []int64) ([]RankedItem, error)
	// RelationshipsAmong returns every relationship whose endpoints are both
	// in entityIDs, used by entity_network to render edges between an
	// already-resolved set of nodes.
	RelationshipsAmong(ctx context.Context, entityIDs []int64) ([]Relationship, error)
	GraphStats(ctx context.Context) (GraphStats, error)

	// Watermark returns the maximum entity.created_at across all entities,
	// used by the Sync Engine to decide what needs reprocessing.
	Watermark(ctx context.Context) (time.Time, error)
	// DocumentsModifiedSince returns documents whose SourceLastModified is
	// strictly after since, or whose EmbeddingModelTag differs from
	// currentModelTag (always reprocessed regardless of watermark).
	DocumentsModifiedSince(ctx context.Context, since time.Time, currentModelTag string) ([]Document, error)

	// ExtractionHash returns the content hash recorded the last time
	// documentID's knowledge-graph slice was (re)built, used by the Sync
	// Engine's skip_if_unchanged policy to tell a bumped
	// source_last_modified apart from decoded text that actually changed.
	ExtractionHash(ctx context.Context, documentID string) (hash string, ok bool, err error)
	// SetExtractionHash records the content hash after a successful
	// (re)extraction of documentID.
	SetExtractionHash(ctx context.Context, documentID string, hash string) error

	UpsertMemory(ctx context.Context, m Memory) error
	FindMemoryByHash(ctx context.Context, memoryID string) (Memory, bool, error)
	IncrementMemoryUse(ctx context.Context, memoryID string) error
	VectorTopKMemory(ctx context.Context, queryVec []float32, k int, kindFilter MemoryKind) ([]RankedItem, error)
	BrowseMemories(ctx context.Context, k int, kindFilter MemoryKind) ([]Memory, error)
	GetMemory(ctx context.Context, memoryID string) (Memory, bool, error)
	DeleteMemory(ctx context.Context, memoryID string) error
	MemoryStats(ctx context.Context) (MemoryStats, error)

	Close()
}

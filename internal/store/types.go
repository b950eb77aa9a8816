// Package store defines the Store Adapter (C1): typed, parameterized access
// to the vector-capable relational store backing documents, images, the
// knowledge graph, and semantic memory.
package store

import "time"

// EntityType enumerates the knowledge-graph entity types.
type EntityType string

const (
	Symptom   EntityType = "SYMPTOM"
	Condition EntityType = "CONDITION"
	Medication EntityType = "MEDICATION"
	Procedure EntityType = "PROCEDURE"
	BodyPart  EntityType = "BODY_PART"
	Temporal  EntityType = "TEMPORAL"
)

// RelationshipKind enumerates relationship kinds. Only CO_OCCURS_WITH is
// produced by the extractor in this build; the others are modeled and
// accepted by the Store, reserved for a future LLM-based extractor.
type RelationshipKind string

const (
	CoOccursWith RelationshipKind = "CO_OCCURS_WITH"
	Treats       RelationshipKind = "TREATS"
	Causes       RelationshipKind = "CAUSES"
	LocatedIn    RelationshipKind = "LOCATED_IN"
	Precedes     RelationshipKind = "PRECEDES"
)

// MemoryKind enumerates semantic memory kinds.
type MemoryKind string

const (
	Correction MemoryKind = "correction"
	Knowledge  MemoryKind = "knowledge"
	Preference MemoryKind = "preference"
	Feedback   MemoryKind = "feedback"
)

// Document is a clinical document: decoded text plus its text embedding.
type Document struct {
	DocumentID         string    `json:"document_id"`
	PatientID          string    `json:"patient_id"`
	DocumentType       string    `json:"document_type"`
	DecodedText        string    `json:"decoded_text"`
	SourceRef          string    `json:"source_ref"`
	EmbeddingVector    []float32 `json:"embedding_vector,omitempty"`
	EmbeddingModelTag  string    `json:"embedding_model_tag"`
	SourceLastModified time.Time `json:"source_last_modified"`
	CreatedAt          time.Time `json:"created_at"`
}

// Image is a medical image: a storage reference plus its embedding.
type Image struct {
	ImageID           string    `json:"image_id"`
	PatientID         string    `json:"patient_id"`
	StudyID           string    `json:"study_id"`
	ViewPosition      string    `json:"view_position"`
	StorageRef        string    `json:"storage_ref"`
	EmbeddingVector   []float32 `json:"embedding_vector,omitempty"`
	EmbeddingModelTag string    `json:"embedding_model_tag"`
	RelatedDocumentID string    `json:"related_document_id,omitempty"` // optional; must resolve to a live Document if set
	CreatedAt         time.Time `json:"created_at"`
}

// Entity is a knowledge-graph node extracted from a document.
type Entity struct {
	EntityID         int64      `json:"entity_id"`
	Text             string     `json:"text"` // normalized (lowercased)
	Type             EntityType `json:"type"`
	Confidence       float64    `json:"confidence"`
	SourceDocumentID string     `json:"source_document_id"`
	SpanStart        int        `json:"span_start"`
	SpanEnd          int        `json:"span_end"`
	EmbeddingVector  []float32  `json:"embedding_vector,omitempty"` // optional
	CreatedAt        time.Time  `json:"created_at"`
}

// Relationship is a knowledge-graph edge between two entities.
type Relationship struct {
	RelationshipID   int64            `json:"relationship_id"`
	SourceEntityID   int64            `json:"source_entity_id"`
	TargetEntityID   int64            `json:"target_entity_id"`
	Kind             RelationshipKind `json:"kind"`
	Confidence       float64          `json:"confidence"`
	SourceDocumentID string           `json:"source_document_id"`
}

// Memory is a semantic memory record.
type Memory struct {
	MemoryID        string         `json:"memory_id"` // content hash
	Kind            MemoryKind     `json:"kind"`
	Text            string         `json:"text"`
	EmbeddingVector []float32      `json:"embedding_vector,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	UseCount        int            `json:"use_count"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	LastUsedAt      time.Time      `json:"last_used_at,omitempty"`
}

// RankedItem is a single (id, score) pair in a ranked list, as returned by
// vector_top_k / keyword_top_k and consumed by RRF Fusion.
type RankedItem struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Filter restricts vector_top_k / keyword_top_k scans by patient or document
// type. A zero-value Filter matches everything.
type Filter struct {
	PatientID    string `json:"patient_id,omitempty"`
	DocumentType string `json:"document_type,omitempty"`
}

// GraphStats summarizes the knowledge graph for graph_stats().
type GraphStats struct {
	TotalEntities       int                      `json:"total_entities"`
	EntitiesByType      map[EntityType]int       `json:"entities_by_type"`
	RelationshipsByKind map[RelationshipKind]int `json:"relationships_by_kind"`
}

// MemoryStats summarizes the memory store for memory_stats().
type MemoryStats struct {
	Total    int                `json:"total"`
	ByKind   map[MemoryKind]int `json:"by_kind"`
	MostUsed []Memory           `json:"most_used"` // top 3 by use_count desc
}

// Table names the two vector-bearing tables vector_top_k operates over.
type Table string

const (
	DocumentsTable Table = "documents"
	ImagesTable    Table = "images"
)

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"medgraphrag/internal/apperr"
)

// PGStore is the Postgres+pgvector Store Adapter. Vectors are always bound
// as a typed pgvector.Vector parameter, grounded on the teacher's
// internal/sefii/engine.go and agentic_memory.go usage of pgvector-go —
// never the string-literal cast the teacher's own postgres_vector.go built
// (toVectorLiteral), which the spec's "never via string interpolation"
// invariant forbids.
type PGStore struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewPGStore wraps an already-opened pool. Call EnsureSchema before use.
func NewPGStore(pool *pgxpool.Pool, dimension int) *PGStore {
	return &PGStore{pool: pool, dimension: dimension}
}

func (s *PGStore) Close() { s.pool.Close() }

func (s *PGStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
			document_id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			document_type TEXT NOT NULL,
			decoded_text TEXT NOT NULL,
			source_ref TEXT NOT NULL DEFAULT '',
			embedding_vector vector(%d),
			embedding_model_tag TEXT NOT NULL DEFAULT '',
			source_last_modified TIMESTAMPTZ NOT NULL DEFAULT now(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS documents_patient_idx ON documents(patient_id)`,
		`CREATE INDEX IF NOT EXISTS documents_type_idx ON documents(document_type)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS images (
			image_id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			study_id TEXT NOT NULL DEFAULT '',
			view_position TEXT NOT NULL DEFAULT '',
			storage_ref TEXT NOT NULL DEFAULT '',
			embedding_vector vector(%d),
			embedding_model_tag TEXT NOT NULL DEFAULT '',
			related_document_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS images_patient_idx ON images(patient_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS entities (
			entity_id BIGSERIAL PRIMARY KEY,
			text TEXT NOT NULL,
			type TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			source_document_id TEXT NOT NULL,
			span_start INT NOT NULL DEFAULT 0,
			span_end INT NOT NULL DEFAULT 0,
			embedding_vector vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE(source_document_id, text, type)
		)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS entities_doc_idx ON entities(source_document_id)`,
		`CREATE INDEX IF NOT EXISTS entities_type_idx ON entities(type)`,
		`CREATE INDEX IF NOT EXISTS entities_created_idx ON entities(created_at)`,
		`CREATE TABLE IF NOT EXISTS relationships (
			relationship_id BIGSERIAL PRIMARY KEY,
			source_entity_id BIGINT NOT NULL REFERENCES entities(entity_id) ON DELETE CASCADE,
			target_entity_id BIGINT NOT NULL REFERENCES entities(entity_id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			source_document_id TEXT NOT NULL,
			UNIQUE(source_entity_id, target_entity_id, kind)
		)`,
		`CREATE INDEX IF NOT EXISTS relationships_src_idx ON relationships(source_entity_id)`,
		`CREATE INDEX IF NOT EXISTS relationships_dst_idx ON relationships(target_entity_id)`,
		`CREATE INDEX IF NOT EXISTS relationships_doc_idx ON relationships(source_document_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memories (
			memory_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			text TEXT NOT NULL,
			embedding_vector vector(%d),
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			use_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_used_at TIMESTAMPTZ
		)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS memories_kind_idx ON memories(kind)`,
		`CREATE TABLE IF NOT EXISTS extraction_state (
			document_id TEXT PRIMARY KEY,
			content_hash TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return apperr.Wrap(apperr.SchemaError, "ensure_schema", err)
		}
	}
	return nil
}

func (s *PGStore) UpsertDocument(ctx context.Context, doc Document) error {
	if s.dimension > 0 && len(doc.EmbeddingVector) != s.dimension {
		return apperr.New(apperr.InvalidInput, fmt.Sprintf("document embedding dimension %d != %d", len(doc.EmbeddingVector), s.dimension))
	}
	vec := pgvector.NewVector(doc.EmbeddingVector)
	_, err := s.pool.Exec(ctx, `
INSERT INTO documents(document_id, patient_id, document_type, decoded_text, source_ref, embedding_vector, embedding_model_tag, source_last_modified, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,COALESCE(NULLIF($9, '0001-01-01 00:00:00+00'::timestamptz), now()))
ON CONFLICT (document_id) DO UPDATE SET
	patient_id=EXCLUDED.patient_id, document_type=EXCLUDED.document_type, decoded_text=EXCLUDED.decoded_text,
	source_ref=EXCLUDED.source_ref, embedding_vector=EXCLUDED.embedding_vector,
	embedding_model_tag=EXCLUDED.embedding_model_tag, source_last_modified=EXCLUDED.source_last_modified
`, doc.DocumentID, doc.PatientID, doc.DocumentType, doc.DecodedText, doc.SourceRef, vec, doc.EmbeddingModelTag, doc.SourceLastModified, doc.CreatedAt)
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "upsert_document", err)
	}
	return nil
}

func (s *PGStore) GetDocument(ctx context.Context, documentID string) (Document, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT document_id, patient_id, document_type, decoded_text, source_ref, embedding_model_tag, source_last_modified, created_at
FROM documents WHERE document_id=$1`, documentID)
	var d Document
	if err := row.Scan(&d.DocumentID, &d.PatientID, &d.DocumentType, &d.DecodedText, &d.SourceRef, &d.EmbeddingModelTag, &d.SourceLastModified, &d.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, false, nil
		}
		return Document{}, false, apperr.Wrap(apperr.StoreUnavailable, "get_document", err)
	}
	return d, true, nil
}

func (s *PGStore) UpsertImage(ctx context.Context, img Image) error {
	if s.dimension > 0 && len(img.EmbeddingVector) != s.dimension {
		return apperr.New(apperr.InvalidInput, fmt.Sprintf("image embedding dimension %d != %d", len(img.EmbeddingVector), s.dimension))
	}
	vec := pgvector.NewVector(img.EmbeddingVector)
	var relDoc any
	if img.RelatedDocumentID != "" {
		relDoc = img.RelatedDocumentID
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO images(image_id, patient_id, study_id, view_position, storage_ref, embedding_vector, embedding_model_tag, related_document_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (image_id) DO UPDATE SET
	patient_id=EXCLUDED.patient_id, study_id=EXCLUDED.study_id, view_position=EXCLUDED.view_position,
	storage_ref=EXCLUDED.storage_ref, embedding_vector=EXCLUDED.embedding_vector,
	embedding_model_tag=EXCLUDED.embedding_model_tag, related_document_id=EXCLUDED.related_document_id
`, img.ImageID, img.PatientID, img.StudyID, img.ViewPosition, img.StorageRef, vec, img.EmbeddingModelTag, relDoc)
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "upsert_image", err)
	}
	return nil
}

func (s *PGStore) GetImage(ctx context.Context, imageID string) (Image, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT image_id, patient_id, study_id, view_position, storage_ref, embedding_model_tag, COALESCE(related_document_id, ''), created_at
FROM images WHERE image_id=$1`, imageID)
	var img Image
	if err := row.Scan(&img.ImageID, &img.PatientID, &img.StudyID, &img.ViewPosition, &img.StorageRef, &img.EmbeddingModelTag, &img.RelatedDocumentID, &img.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Image{}, false, nil
		}
		return Image{}, false, apperr.Wrap(apperr.StoreUnavailable, "get_image", err)
	}
	return img, true, nil
}

func (s *PGStore) VectorTopK(ctx context.Context, table Table, queryVec []float32, k int, filter Filter) ([]RankedItem, error) {
	if k <= 0 {
		k = 10
	}
	vec := pgvector.NewVector(queryVec)
	var idCol, ftable string
	switch table {
	case DocumentsTable:
		idCol, ftable = "document_id", "documents"
	case ImagesTable:
		idCol, ftable = "image_id", "images"
	default:
		return nil, apperr.New(apperr.InvalidInput, fmt.Sprintf("unknown vector table %q", table))
	}
	where, args := filterClause(filter, 2)
	query := fmt.Sprintf(`
SELECT %s, 1 - (embedding_vector <=> $1) AS score
FROM %s %s
ORDER BY score DESC, %s ASC
LIMIT $%d`, idCol, ftable, where, idCol, len(args)+2)
	allArgs := append([]any{vec}, args...)
	allArgs = append(allArgs, k)
	rows, err := s.pool.Query(ctx, query, allArgs...)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "vector_top_k", err)
	}
	defer rows.Close()
	var out []RankedItem
	for rows.Next() {
		var r RankedItem
		if err := rows.Scan(&r.ID, &r.Score); err != nil {
			return nil, apperr.Wrap(apperr.StoreUnavailable, "vector_top_k scan", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// KeywordTopK counts, per row, how many lowercased terms appear in
// decoded_text — decoded_text only, never a raw hex-encoded source column,
// locking in the spec's keyword-search regression guard.
func (s *PGStore) KeywordTopK(ctx context.Context, table Table, terms []string, k int, filter Filter) ([]RankedItem, error) {
	if table != DocumentsTable {
		return nil, apperr.New(apperr.InvalidInput, "keyword_top_k only supports the documents table")
	}
	if k <= 0 {
		k = 10
	}
	lowered := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			lowered = append(lowered, t)
		}
	}
	if len(lowered) == 0 {
		return nil, nil
	}
	var overlapExpr strings.Builder
	overlapExpr.WriteString("(")
	args := []any{}
	for i, t := range lowered {
		if i > 0 {
			overlapExpr.WriteString(" + ")
		}
		args = append(args, "%"+t+"%")
		overlapExpr.WriteString(fmt.Sprintf("(CASE WHEN lower(decoded_text) LIKE $%d THEN 1 ELSE 0 END)", len(args)))
	}
	overlapExpr.WriteString(")")
	where, filterArgs := filterClause(filter, len(args)+1)
	args = append(args, filterArgs...)
	inner := fmt.Sprintf(`SELECT document_id, %s AS overlap FROM documents %s`, overlapExpr.String(), where)
	query := fmt.Sprintf(`SELECT document_id, overlap FROM (%s) t WHERE overlap > 0 ORDER BY overlap DESC, document_id ASC LIMIT $%d`, inner, len(args)+1)
	args = append(args, k)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "keyword_top_k", err)
	}
	defer rows.Close()
	var out []RankedItem
	for rows.Next() {
		var id string
		var overlap int
		if err := rows.Scan(&id, &overlap); err != nil {
			return nil, apperr.Wrap(apperr.StoreUnavailable, "keyword_top_k scan", err)
		}
		out = append(out, RankedItem{ID: id, Score: float64(overlap)})
	}
	return out, rows.Err()
}

func filterClause(f Filter, startArg int) (string, []any) {
	var clauses []string
	var args []any
	n := startArg
	if f.PatientID != "" {
		clauses = append(clauses, fmt.Sprintf("patient_id = $%d", n))
		args = append(args, f.PatientID)
		n++
	}
	if f.DocumentType != "" {
		clauses = append(clauses, fmt.Sprintf("document_type = $%d", n))
		args = append(args, f.DocumentType)
		n++
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (s *PGStore) UpsertEntity(ctx context.Context, e Entity) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO entities(text, type, confidence, source_document_id, span_start, span_end, created_at)
VALUES ($1,$2,$3,$4,$5,$6,COALESCE(NULLIF($7, '0001-01-01 00:00:00+00'::timestamptz), now()))
ON CONFLICT (source_document_id, text, type) DO UPDATE SET
	confidence=EXCLUDED.confidence, span_start=EXCLUDED.span_start, span_end=EXCLUDED.span_end
RETURNING entity_id
`, e.Text, e.Type, e.Confidence, e.SourceDocumentID, e.SpanStart, e.SpanEnd, e.CreatedAt).Scan(&id)
	if err != nil {
		return 0, apperr.Wrap(apperr.StoreUnavailable, "upsert_entity", err)
	}
	return id, nil
}

func (s *PGStore) UpsertRelationship(ctx context.Context, r Relationship) error {
	src, dst := r.SourceEntityID, r.TargetEntityID
	if r.Kind == CoOccursWith && src > dst {
		src, dst = dst, src
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO relationships(source_entity_id, target_entity_id, kind, confidence, source_document_id)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (source_entity_id, target_entity_id, kind) DO UPDATE SET confidence=EXCLUDED.confidence
`, src, dst, r.Kind, r.Confidence, r.SourceDocumentID)
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "upsert_relationship", err)
	}
	return nil
}

func (s *PGStore) ReplaceDocumentGraph(ctx context.Context, documentID string, entities []Entity, relationships []Relationship) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM relationships WHERE source_document_id=$1`, documentID); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "delete relationships", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM entities WHERE source_document_id=$1`, documentID); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "delete entities", err)
	}

	idByOldRef := make(map[int64]int64, len(entities))
	for _, e := range entities {
		var newID int64
		err := tx.QueryRow(ctx, `
INSERT INTO entities(text, type, confidence, source_document_id, span_start, span_end, created_at)
VALUES ($1,$2,$3,$4,$5,$6,now()) RETURNING entity_id
`, e.Text, e.Type, e.Confidence, documentID, e.SpanStart, e.SpanEnd).Scan(&newID)
		if err != nil {
			return apperr.Wrap(apperr.StoreUnavailable, "insert entity", err)
		}
		idByOldRef[e.EntityID] = newID
	}
	for _, r := range relationships {
		src, dst := idByOldRef[r.SourceEntityID], idByOldRef[r.TargetEntityID]
		if r.Kind == CoOccursWith && src > dst {
			src, dst = dst, src
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO relationships(source_entity_id, target_entity_id, kind, confidence, source_document_id)
VALUES ($1,$2,$3,$4,$5) ON CONFLICT (source_entity_id, target_entity_id, kind) DO UPDATE SET confidence=EXCLUDED.confidence
`, src, dst, r.Kind, r.Confidence, documentID); err != nil {
			return apperr.Wrap(apperr.StoreUnavailable, "insert relationship", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "commit tx", err)
	}
	return nil
}

func (s *PGStore) EntitiesByText(ctx context.Context, substrings []string, limit int) ([]Entity, error) {
	if limit <= 0 {
		limit = 20
	}
	if len(substrings) == 0 {
		return nil, nil
	}
	var clauses []string
	var args []any
	for i, sub := range substrings {
		args = append(args, "%"+strings.ToLower(sub)+"%")
		clauses = append(clauses, fmt.Sprintf("lower(text) LIKE $%d", i+1))
	}
	args = append(args, limit)
	query := fmt.Sprintf(`
SELECT entity_id, text, type, confidence, source_document_id, span_start, span_end, created_at
FROM entities WHERE %s ORDER BY created_at DESC, entity_id ASC LIMIT $%d`, strings.Join(clauses, " OR "), len(args))
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "entities_by_text", err)
	}
	defer rows.Close()
	var out []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.EntityID, &e.Text, &e.Type, &e.Confidence, &e.SourceDocumentID, &e.SpanStart, &e.SpanEnd, &e.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.StoreUnavailable, "entities_by_text scan", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PGStore) GetEntity(ctx context.Context, entityID int64) (Entity, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT entity_id, text, type, confidence, source_document_id, span_start, span_end, created_at
FROM entities WHERE entity_id=$1`, entityID)
	var e Entity
	if err := row.Scan(&e.EntityID, &e.Text, &e.Type, &e.Confidence, &e.SourceDocumentID, &e.SpanStart, &e.SpanEnd, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entity{}, false, nil
		}
		return Entity{}, false, apperr.Wrap(apperr.StoreUnavailable, "get_entity", err)
	}
	return e, true, nil
}

// EntitiesNeighbors performs a cycle-safe BFS via a recursive CTE over the
// undirected adjacency of relationships, bounded to depth in {1,2,3}.
func (s *PGStore) EntitiesNeighbors(ctx context.Context, entityID int64, depth int, limit int) ([]Entity, error) {
	if depth < 1 {
		depth = 1
	}
	if depth > 3 {
		depth = 3
	}
	if limit <= 0 {
		limit = 100
	}
	query := `
WITH RECURSIVE bfs(id, dist) AS (
	SELECT $1::bigint, 0
	UNION
	SELECT CASE WHEN r.source_entity_id = b.id THEN r.target_entity_id ELSE r.source_entity_id END, b.dist + 1
	FROM relationships r
	JOIN bfs b ON r.source_entity_id = b.id OR r.target_entity_id = b.id
	WHERE b.dist < $2
)
SELECT e.entity_id, e.text, e.type, e.confidence, e.source_document_id, e.span_start, e.span_end, e.created_at
FROM entities e
WHERE e.entity_id IN (SELECT DISTINCT id FROM bfs WHERE id <> $1)
ORDER BY e.entity_id ASC
LIMIT $3`
	rows, err := s.pool.Query(ctx, query, entityID, depth, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "entities_neighbors", err)
	}
	defer rows.Close()
	var out []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.EntityID, &e.Text, &e.Type, &e.Confidence, &e.SourceDocumentID, &e.SpanStart, &e.SpanEnd, &e.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.StoreUnavailable, "entities_neighbors scan", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PGStore) DocumentsMentioningEntities(ctx context.Context, entityIDs []int64) ([]RankedItem, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT source_document_id, COUNT(*) AS matches, SUM(confidence) AS conf
FROM entities WHERE entity_id = ANY($1)
GROUP BY source_document_id
ORDER BY matches DESC, conf DESC, source_document_id ASC`, entityIDs)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "documents_mentioning_entities", err)
	}
	defer rows.Close()
	var out []RankedItem
	for rows.Next() {
		var id string
		var matches int
		var conf float64
		if err := rows.Scan(&id, &matches, &conf); err != nil {
			return nil, apperr.Wrap(apperr.StoreUnavailable, "documents_mentioning_entities scan", err)
		}
		out = append(out, RankedItem{ID: id, Score: conf})
	}
	return out, rows.Err()
}

func (s *PGStore) RelationshipsAmong(ctx context.Context, entityIDs []int64) ([]Relationship, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT relationship_id, source_entity_id, target_entity_id, kind, confidence, source_document_id
FROM relationships
WHERE source_entity_id = ANY($1) AND target_entity_id = ANY($1)
ORDER BY relationship_id ASC`, entityIDs)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "relationships_among", err)
	}
	defer rows.Close()
	var out []Relationship
	for rows.Next() {
		var r Relationship
		if err := rows.Scan(&r.RelationshipID, &r.SourceEntityID, &r.TargetEntityID, &r.Kind, &r.Confidence, &r.SourceDocumentID); err != nil {
			return nil, apperr.Wrap(apperr.StoreUnavailable, "relationships_among scan", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) GraphStats(ctx context.Context) (GraphStats, error) {
	stats := GraphStats{EntitiesByType: map[EntityType]int{}, RelationshipsByKind: map[RelationshipKind]int{}}
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM entities`).Scan(&total); err != nil {
		return stats, apperr.Wrap(apperr.StoreUnavailable, "graph_stats", err)
	}
	stats.TotalEntities = total
	rows, err := s.pool.Query(ctx, `SELECT type, COUNT(*) FROM entities GROUP BY type`)
	if err != nil {
		return stats, apperr.Wrap(apperr.StoreUnavailable, "graph_stats by type", err)
	}
	for rows.Next() {
		var t EntityType
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			rows.Close()
			return stats, apperr.Wrap(apperr.StoreUnavailable, "graph_stats by type scan", err)
		}
		stats.EntitiesByType[t] = n
	}
	rows.Close()
	rows, err = s.pool.Query(ctx, `SELECT kind, COUNT(*) FROM relationships GROUP BY kind`)
	if err != nil {
		return stats, apperr.Wrap(apperr.StoreUnavailable, "graph_stats by kind", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k RelationshipKind
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return stats, apperr.Wrap(apperr.StoreUnavailable, "graph_stats by kind scan", err)
		}
		stats.RelationshipsByKind[k] = n
	}
	return stats, rows.Err()
}

func (s *PGStore) Watermark(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(created_at), 'epoch'::timestamptz) FROM entities`).Scan(&t)
	if err != nil {
		return time.Time{}, apperr.Wrap(apperr.StoreUnavailable, "watermark", err)
	}
	return t, nil
}

func (s *PGStore) DocumentsModifiedSince(ctx context.Context, since time.Time, currentModelTag string) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `
SELECT document_id, patient_id, document_type, decoded_text, source_ref, embedding_model_tag, source_last_modified, created_at
FROM documents WHERE source_last_modified > $1 OR embedding_model_tag <> $2
ORDER BY document_id ASC`, since, currentModelTag)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "documents_modified_since", err)
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.DocumentID, &d.PatientID, &d.DocumentType, &d.DecodedText, &d.SourceRef, &d.EmbeddingModelTag, &d.SourceLastModified, &d.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.StoreUnavailable, "documents_modified_since scan", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PGStore) ExtractionHash(ctx context.Context, documentID string) (string, bool, error) {
	var hash string
	err := s.pool.QueryRow(ctx, `SELECT content_hash FROM extraction_state WHERE document_id=$1`, documentID).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, apperr.Wrap(apperr.StoreUnavailable, "extraction_hash", err)
	}
	return hash, true, nil
}

func (s *PGStore) SetExtractionHash(ctx context.Context, documentID string, hash string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO extraction_state(document_id, content_hash, updated_at)
VALUES ($1,$2,now())
ON CONFLICT (document_id) DO UPDATE SET content_hash=EXCLUDED.content_hash, updated_at=now()
`, documentID, hash)
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "set_extraction_hash", err)
	}
	return nil
}

func (s *PGStore) UpsertMemory(ctx context.Context, m Memory) error {
	if len(m.EmbeddingVector) == 0 || isZeroMag(m.EmbeddingVector) {
		return apperr.New(apperr.MockEmbedding, "memory embedding has zero magnitude")
	}
	vec := pgvector.NewVector(m.EmbeddingVector)
	_, err := s.pool.Exec(ctx, `
INSERT INTO memories(memory_id, kind, text, embedding_vector, metadata, use_count, created_at, updated_at, last_used_at)
VALUES ($1,$2,$3,$4,$5,$6,now(),now(),$7)
ON CONFLICT (memory_id) DO UPDATE SET
	use_count = memories.use_count + 1, updated_at = now()
`, m.MemoryID, m.Kind, m.Text, vec, m.Metadata, m.UseCount, nullableTime(m.LastUsedAt))
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "upsert_memory", err)
	}
	return nil
}

func (s *PGStore) FindMemoryByHash(ctx context.Context, memoryID string) (Memory, bool, error) {
	return s.GetMemory(ctx, memoryID)
}

func (s *PGStore) GetMemory(ctx context.Context, memoryID string) (Memory, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT memory_id, kind, text, metadata, use_count, created_at, updated_at, last_used_at
FROM memories WHERE memory_id=$1`, memoryID)
	var m Memory
	var lastUsed *time.Time
	if err := row.Scan(&m.MemoryID, &m.Kind, &m.Text, &m.Metadata, &m.UseCount, &m.CreatedAt, &m.UpdatedAt, &lastUsed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Memory{}, false, nil
		}
		return Memory{}, false, apperr.Wrap(apperr.StoreUnavailable, "get_memory", err)
	}
	if lastUsed != nil {
		m.LastUsedAt = *lastUsed
	}
	return m, true, nil
}

func (s *PGStore) IncrementMemoryUse(ctx context.Context, memoryID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE memories SET use_count = use_count + 1, last_used_at = now() WHERE memory_id=$1`, memoryID)
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "increment_memory_use", err)
	}
	return nil
}

func (s *PGStore) VectorTopKMemory(ctx context.Context, queryVec []float32, k int, kindFilter MemoryKind) ([]RankedItem, error) {
	if k <= 0 {
		k = 10
	}
	vec := pgvector.NewVector(queryVec)
	query := `SELECT memory_id, 1 - (embedding_vector <=> $1) AS score FROM memories`
	args := []any{vec}
	if kindFilter != "" {
		query += ` WHERE kind = $2`
		args = append(args, kindFilter)
	}
	query += fmt.Sprintf(` ORDER BY score DESC, memory_id ASC LIMIT $%d`, len(args)+1)
	args = append(args, k)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "vector_top_k_memory", err)
	}
	defer rows.Close()
	var out []RankedItem
	for rows.Next() {
		var r RankedItem
		if err := rows.Scan(&r.ID, &r.Score); err != nil {
			return nil, apperr.Wrap(apperr.StoreUnavailable, "vector_top_k_memory scan", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) BrowseMemories(ctx context.Context, k int, kindFilter MemoryKind) ([]Memory, error) {
	if k <= 0 {
		k = 5
	}
	query := `SELECT memory_id, kind, text, metadata, use_count, created_at, updated_at, last_used_at FROM memories`
	args := []any{}
	if kindFilter != "" {
		query += ` WHERE kind = $1`
		args = append(args, kindFilter)
	}
	query += fmt.Sprintf(` ORDER BY use_count DESC, updated_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, k)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "browse_memories", err)
	}
	defer rows.Close()
	var out []Memory
	for rows.Next() {
		var m Memory
		var lastUsed *time.Time
		if err := rows.Scan(&m.MemoryID, &m.Kind, &m.Text, &m.Metadata, &m.UseCount, &m.CreatedAt, &m.UpdatedAt, &lastUsed); err != nil {
			return nil, apperr.Wrap(apperr.StoreUnavailable, "browse_memories scan", err)
		}
		if lastUsed != nil {
			m.LastUsedAt = *lastUsed
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PGStore) DeleteMemory(ctx context.Context, memoryID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE memory_id=$1`, memoryID)
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "delete_memory", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, fmt.Sprintf("memory %q not found", memoryID))
	}
	return nil
}

func (s *PGStore) MemoryStats(ctx context.Context) (MemoryStats, error) {
	stats := MemoryStats{ByKind: map[MemoryKind]int{}}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memories`).Scan(&stats.Total); err != nil {
		return stats, apperr.Wrap(apperr.StoreUnavailable, "memory_stats", err)
	}
	rows, err := s.pool.Query(ctx, `SELECT kind, COUNT(*) FROM memories GROUP BY kind`)
	if err != nil {
		return stats, apperr.Wrap(apperr.StoreUnavailable, "memory_stats by kind", err)
	}
	for rows.Next() {
		var k MemoryKind
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			rows.Close()
			return stats, apperr.Wrap(apperr.StoreUnavailable, "memory_stats by kind scan", err)
		}
		stats.ByKind[k] = n
	}
	rows.Close()
	most, err := s.BrowseMemories(ctx, 3, "")
	if err != nil {
		return stats, err
	}
	stats.MostUsed = most
	return stats, nil
}

func isZeroMag(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

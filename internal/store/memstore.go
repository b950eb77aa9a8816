package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"medgraphrag/internal/apperr"
)

// MemStore is an in-memory Store, grounded on the teacher's
// NewMemorySearch/NewMemoryVector/NewMemoryGraph fakes, consolidated into a
// single backend so tests exercise one object implementing the full
// interface instead of three uncoordinated ones.
type MemStore struct {
	mu sync.RWMutex

	documents map[string]Document
	images    map[string]Image

	entities     map[int64]Entity
	nextEntityID int64

	relationships map[int64]Relationship
	nextRelID     int64

	entitiesByDoc map[string][]int64
	relsByDoc     map[string][]int64

	memories map[string]Memory

	extractionHashes map[string]string
}

// NewMemStore constructs an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		documents:     make(map[string]Document),
		images:        make(map[string]Image),
		entities:      make(map[int64]Entity),
		relationships: make(map[int64]Relationship),
		entitiesByDoc: make(map[string][]int64),
		relsByDoc:     make(map[string][]int64),
		memories:      make(map[string]Memory),

		extractionHashes: make(map[string]string),
	}
}

func (s *MemStore) Close() {}

func (s *MemStore) EnsureSchema(ctx context.Context) error { return nil }

func (s *MemStore) UpsertDocument(ctx context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.DocumentID] = doc
	return nil
}

func (s *MemStore) GetDocument(ctx context.Context, documentID string) (Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[documentID]
	return d, ok, nil
}

func (s *MemStore) UpsertImage(ctx context.Context, img Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[img.ImageID] = img
	return nil
}

func (s *MemStore) GetImage(ctx context.Context, imageID string) (Image, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.images[imageID]
	return img, ok, nil
}

func (s *MemStore) VectorTopK(ctx context.Context, table Table, queryVec []float32, k int, filter Filter) ([]RankedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k <= 0 {
		k = 10
	}
	type cand struct {
		id    string
		score float64
	}
	var cands []cand
	switch table {
	case DocumentsTable:
		for id, d := range s.documents {
			if !matchFilter(filter, d.PatientID, d.DocumentType) {
				continue
			}
			cands = append(cands, cand{id, cosine(queryVec, d.EmbeddingVector)})
		}
	case ImagesTable:
		for id, im := range s.images {
			if !matchFilter(filter, im.PatientID, "") {
				continue
			}
			cands = append(cands, cand{id, cosine(queryVec, im.EmbeddingVector)})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].id < cands[j].id
	})
	if len(cands) > k {
		cands = cands[:k]
	}
	out := make([]RankedItem, len(cands))
	for i, c := range cands {
		out[i] = RankedItem{ID: c.id, Score: c.score}
	}
	return out, nil
}

func (s *MemStore) KeywordTopK(ctx context.Context, table Table, terms []string, k int, filter Filter) ([]RankedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k <= 0 {
		k = 10
	}
	lowered := make([]string, len(terms))
	for i, t := range terms {
		lowered[i] = strings.ToLower(t)
	}
	type cand struct {
		id      string
		overlap int
	}
	var cands []cand
	if table == DocumentsTable {
		for id, d := range s.documents {
			if !matchFilter(filter, d.PatientID, d.DocumentType) {
				continue
			}
			lt := strings.ToLower(d.DecodedText)
			overlap := 0
			for _, t := range lowered {
				if t != "" && strings.Contains(lt, t) {
					overlap++
				}
			}
			if overlap > 0 {
				cands = append(cands, cand{id, overlap})
			}
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].overlap != cands[j].overlap {
			return cands[i].overlap > cands[j].overlap
		}
		return cands[i].id < cands[j].id
	})
	if len(cands) > k {
		cands = cands[:k]
	}
	out := make([]RankedItem, len(cands))
	for i, c := range cands {
		out[i] = RankedItem{ID: c.id, Score: float64(c.overlap)}
	}
	return out, nil
}

func (s *MemStore) UpsertEntity(ctx context.Context, e Entity) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.entities {
		if existing.SourceDocumentID == e.SourceDocumentID && existing.Text == e.Text && existing.Type == e.Type {
			e.EntityID = id
			if e.CreatedAt.IsZero() {
				e.CreatedAt = existing.CreatedAt
			}
			s.entities[id] = e
			return id, nil
		}
	}
	s.nextEntityID++
	id := s.nextEntityID
	e.EntityID = id
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.entities[id] = e
	s.entitiesByDoc[e.SourceDocumentID] = append(s.entitiesByDoc[e.SourceDocumentID], id)
	return id, nil
}

func (s *MemStore) UpsertRelationship(ctx context.Context, r Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertRelationshipLocked(r)
}

func (s *MemStore) upsertRelationshipLocked(r Relationship) error {
	if r.Kind == CoOccursWith && r.SourceEntityID > r.TargetEntityID {
		r.SourceEntityID, r.TargetEntityID = r.TargetEntityID, r.SourceEntityID
	}
	for id, existing := range s.relationships {
		if existing.SourceEntityID == r.SourceEntityID && existing.TargetEntityID == r.TargetEntityID && existing.Kind == r.Kind {
			r.RelationshipID = id
			s.relationships[id] = r
			return nil
		}
	}
	s.nextRelID++
	r.RelationshipID = s.nextRelID
	s.relationships[r.RelationshipID] = r
	s.relsByDoc[r.SourceDocumentID] = append(s.relsByDoc[r.SourceDocumentID], r.RelationshipID)
	return nil
}

// ReplaceDocumentGraph deletes the document's prior entities/relationships
// and inserts the fresh set, matching the evolving-memory-store's
// delete-then-insert transactional pattern (a single critical section here
// stands in for a DB transaction).
func (s *MemStore) ReplaceDocumentGraph(ctx context.Context, documentID string, entities []Entity, relationships []Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.entitiesByDoc[documentID] {
		delete(s.entities, id)
	}
	delete(s.entitiesByDoc, documentID)
	for _, id := range s.relsByDoc[documentID] {
		delete(s.relationships, id)
	}
	delete(s.relsByDoc, documentID)

	idByOldRef := make(map[int64]int64)
	for _, e := range entities {
		oldID := e.EntityID
		e.EntityID = 0
		s.nextEntityID++
		newID := s.nextEntityID
		e.EntityID = newID
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		s.entities[newID] = e
		s.entitiesByDoc[documentID] = append(s.entitiesByDoc[documentID], newID)
		idByOldRef[oldID] = newID
	}
	for _, r := range relationships {
		if remapped, ok := idByOldRef[r.SourceEntityID]; ok {
			r.SourceEntityID = remapped
		}
		if remapped, ok := idByOldRef[r.TargetEntityID]; ok {
			r.TargetEntityID = remapped
		}
		r.SourceDocumentID = documentID
		if err := s.upsertRelationshipLocked(r); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) EntitiesByText(ctx context.Context, substrings []string, limit int) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	lowered := make([]string, len(substrings))
	for i, sub := range substrings {
		lowered[i] = strings.ToLower(sub)
	}
	var out []Entity
	for _, e := range s.entities {
		lt := strings.ToLower(e.Text)
		for _, sub := range lowered {
			if sub != "" && strings.Contains(lt, sub) {
				out = append(out, e)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].EntityID < out[j].EntityID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) GetEntity(ctx context.Context, entityID int64) (Entity, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[entityID]
	return e, ok, nil
}

func (s *MemStore) EntitiesNeighbors(ctx context.Context, entityID int64, depth int, limit int) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if depth < 1 {
		depth = 1
	}
	if depth > 3 {
		depth = 3
	}
	if limit <= 0 {
		limit = 100
	}

	adj := make(map[int64][]int64)
	for _, r := range s.relationships {
		adj[r.SourceEntityID] = append(adj[r.SourceEntityID], r.TargetEntityID)
		adj[r.TargetEntityID] = append(adj[r.TargetEntityID], r.SourceEntityID)
	}

	visited := map[int64]bool{entityID: true}
	frontier := []int64{entityID}
	var out []Entity
	for d := 0; d < depth && len(out) < limit; d++ {
		var next []int64
		for _, id := range frontier {
			for _, n := range adj[id] {
				if visited[n] {
					continue
				}
				visited[n] = true
				next = append(next, n)
				if e, ok := s.entities[n]; ok {
					out = append(out, e)
				}
				if len(out) >= limit {
					break
				}
			}
			if len(out) >= limit {
				break
			}
		}
		frontier = next
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

func (s *MemStore) DocumentsMentioningEntities(ctx context.Context, entityIDs []int64) ([]RankedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[int64]bool, len(entityIDs))
	for _, id := range entityIDs {
		want[id] = true
	}
	type acc struct {
		matches    int
		confidence float64
	}
	byDoc := make(map[string]*acc)
	for docID, entIDs := range s.entitiesByDoc {
		for _, id := range entIDs {
			if !want[id] {
				continue
			}
			e := s.entities[id]
			a, ok := byDoc[docID]
			if !ok {
				a = &acc{}
				byDoc[docID] = a
			}
			a.matches++
			a.confidence += e.Confidence
		}
	}
	var out []RankedItem
	docIDs := make([]string, 0, len(byDoc))
	for docID := range byDoc {
		docIDs = append(docIDs, docID)
	}
	sort.Slice(docIDs, func(i, j int) bool {
		a, b := byDoc[docIDs[i]], byDoc[docIDs[j]]
		if a.matches != b.matches {
			return a.matches > b.matches
		}
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		return docIDs[i] < docIDs[j]
	})
	for _, id := range docIDs {
		out = append(out, RankedItem{ID: id, Score: byDoc[id].confidence})
	}
	return out, nil
}

func (s *MemStore) RelationshipsAmong(ctx context.Context, entityIDs []int64) ([]Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[int64]bool, len(entityIDs))
	for _, id := range entityIDs {
		want[id] = true
	}
	var out []Relationship
	for _, r := range s.relationships {
		if want[r.SourceEntityID] && want[r.TargetEntityID] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelationshipID < out[j].RelationshipID })
	return out, nil
}

func (s *MemStore) GraphStats(ctx context.Context) (GraphStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := GraphStats{
		EntitiesByType:      make(map[EntityType]int),
		RelationshipsByKind: make(map[RelationshipKind]int),
	}
	for _, e := range s.entities {
		stats.TotalEntities++
		stats.EntitiesByType[e.Type]++
	}
	for _, r := range s.relationships {
		stats.RelationshipsByKind[r.Kind]++
	}
	return stats, nil
}

func (s *MemStore) Watermark(ctx context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max time.Time
	for _, e := range s.entities {
		if e.CreatedAt.After(max) {
			max = e.CreatedAt
		}
	}
	return max, nil
}

func (s *MemStore) DocumentsModifiedSince(ctx context.Context, since time.Time, currentModelTag string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Document
	for _, d := range s.documents {
		if d.SourceLastModified.After(since) || (currentModelTag != "" && d.EmbeddingModelTag != currentModelTag) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

func (s *MemStore) ExtractionHash(ctx context.Context, documentID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.extractionHashes[documentID]
	return h, ok, nil
}

func (s *MemStore) SetExtractionHash(ctx context.Context, documentID string, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extractionHashes[documentID] = hash
	return nil
}

func (s *MemStore) UpsertMemory(ctx context.Context, m Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[m.MemoryID] = m
	return nil
}

func (s *MemStore) FindMemoryByHash(ctx context.Context, memoryID string) (Memory, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memories[memoryID]
	return m, ok, nil
}

func (s *MemStore) GetMemory(ctx context.Context, memoryID string) (Memory, bool, error) {
	return s.FindMemoryByHash(ctx, memoryID)
}

func (s *MemStore) IncrementMemoryUse(ctx context.Context, memoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[memoryID]
	if !ok {
		return nil
	}
	m.UseCount++
	m.LastUsedAt = time.Now()
	s.memories[memoryID] = m
	return nil
}

func (s *MemStore) VectorTopKMemory(ctx context.Context, queryVec []float32, k int, kindFilter MemoryKind) ([]RankedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k <= 0 {
		k = 10
	}
	type cand struct {
		id    string
		score float64
	}
	var cands []cand
	for id, m := range s.memories {
		if kindFilter != "" && m.Kind != kindFilter {
			continue
		}
		cands = append(cands, cand{id, cosine(queryVec, m.EmbeddingVector)})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].id < cands[j].id
	})
	if len(cands) > k {
		cands = cands[:k]
	}
	out := make([]RankedItem, len(cands))
	for i, c := range cands {
		out[i] = RankedItem{ID: c.id, Score: c.score}
	}
	return out, nil
}

func (s *MemStore) BrowseMemories(ctx context.Context, k int, kindFilter MemoryKind) ([]Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k <= 0 {
		k = 5
	}
	var out []Memory
	for _, m := range s.memories {
		if kindFilter != "" && m.Kind != kindFilter {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UseCount != out[j].UseCount {
			return out[i].UseCount > out[j].UseCount
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *MemStore) DeleteMemory(ctx context.Context, memoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[memoryID]; !ok {
		return apperr.New(apperr.NotFound, fmt.Sprintf("memory %q not found", memoryID))
	}
	delete(s.memories, memoryID)
	return nil
}

func (s *MemStore) MemoryStats(ctx context.Context) (MemoryStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := MemoryStats{ByKind: make(map[MemoryKind]int)}
	var all []Memory
	for _, m := range s.memories {
		stats.Total++
		stats.ByKind[m.Kind]++
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UseCount > all[j].UseCount })
	if len(all) > 3 {
		all = all[:3]
	}
	stats.MostUsed = all
	return stats, nil
}

func matchFilter(f Filter, patientID, documentType string) bool {
	if f.PatientID != "" && f.PatientID != patientID {
		return false
	}
	if f.DocumentType != "" && f.DocumentType != documentType {
		return false
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	for _, x := range a {
		na += float64(x) * float64(x)
	}
	for _, x := range b {
		nb += float64(x) * float64(x)
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

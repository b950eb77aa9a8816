package extract

import (
	"sort"
	"strings"

	"medgraphrag/internal/store"
)

// Result holds the entities and co-occurrence edges extracted from one
// document. EntityID fields hold 1-based local ids (index into Entities
// plus one), which Relationships refer to; Store.ReplaceDocumentGraph
// remaps them to real ids on insert.
type Result struct {
	Entities      []store.Entity
	Relationships []store.Relationship
}

type span struct {
	start, end int
	text       string
	entType    store.EntityType
	confidence float64
}

// Extract runs the fixed regex pattern set against decodedText, dedups
// overlapping spans, and emits CO_OCCURS_WITH edges for every pair of
// surviving entities. Given the same input and pattern set, output is
// bit-for-bit identical.
func Extract(documentID string, decodedText string) Result {
	spans := collectSpans(decodedText)
	spans = dedupOverlaps(spans)

	entities := make([]store.Entity, len(spans))
	for i, sp := range spans {
		entities[i] = store.Entity{
			EntityID:         int64(i + 1), // local id, remapped on store insert
			Text:             sp.text,
			Type:             sp.entType,
			Confidence:       sp.confidence,
			SourceDocumentID: documentID,
			SpanStart:        sp.start,
			SpanEnd:          sp.end,
		}
	}

	var rels []store.Relationship
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			c1, c2 := entities[i].Confidence, entities[j].Confidence
			conf := c1
			if c2 < conf {
				conf = c2
			}
			rels = append(rels, store.Relationship{
				SourceEntityID:   entities[i].EntityID,
				TargetEntityID:   entities[j].EntityID,
				Kind:             store.CoOccursWith,
				Confidence:       conf,
				SourceDocumentID: documentID,
			})
		}
	}

	return Result{Entities: entities, Relationships: rels}
}

func collectSpans(text string) []span {
	var out []span
	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			start, end := loc[0], loc[1]
			out = append(out, span{
				start:      start,
				end:        end,
				text:       strings.ToLower(text[start:end]),
				entType:    p.entityType,
				confidence: p.confidence,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].start != out[j].start {
			return out[i].start < out[j].start
		}
		return out[i].end < out[j].end
	})
	return out
}

// dedupOverlaps keeps, among mutually overlapping spans, the one with
// higher confidence; ties break on longer span, then earlier start.
func dedupOverlaps(spans []span) []span {
	if len(spans) == 0 {
		return nil
	}
	keep := make([]bool, len(spans))
	for i := range spans {
		keep[i] = true
	}
	better := func(a, b int) bool {
		if spans[a].confidence != spans[b].confidence {
			return spans[a].confidence > spans[b].confidence
		}
		lenA, lenB := spans[a].end-spans[a].start, spans[b].end-spans[b].start
		if lenA != lenB {
			return lenA > lenB
		}
		if spans[a].start != spans[b].start {
			return spans[a].start < spans[b].start
		}
		return spans[a].text < spans[b].text
	}
	for i := 0; i < len(spans); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(spans); j++ {
			if !keep[j] {
				continue
			}
			if spans[j].start >= spans[i].end {
				break // sorted by start; no further overlap possible
			}
			if overlaps(spans[i], spans[j]) {
				if better(i, j) {
					keep[j] = false
				} else {
					keep[i] = false
					break
				}
			}
		}
	}
	var out []span
	for i, k := range keep {
		if k {
			out = append(out, spans[i])
		}
	}
	return out
}

func overlaps(a, b span) bool {
	return a.start < b.end && b.start < a.end
}

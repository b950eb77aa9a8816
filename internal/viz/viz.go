// Package viz implements the Visualization Builders (C10): pure read-only
// transforms over the Store into structured chart data. No plotting.
package viz

import (
	"context"
	"sort"
	"strconv"
	"time"

	"medgraphrag/internal/store"
)

// Histogram is {labels[], counts[]} for entity_histogram.
type Histogram struct {
	Labels []string `json:"labels"`
	Counts []int    `json:"counts"`
}

// By selects which axis entity_histogram groups on.
type By string

const (
	ByType By = "type"
	ByKind By = "kind"
)

// EntityHistogram groups entities by type or relationships by kind, sorted
// by label for a stable chart ordering.
func EntityHistogram(ctx context.Context, s store.Store, by By) (Histogram, error) {
	stats, err := s.GraphStats(ctx)
	if err != nil {
		return Histogram{}, err
	}
	h := Histogram{}
	if by == ByKind {
		labels := make([]string, 0, len(stats.RelationshipsByKind))
		for k := range stats.RelationshipsByKind {
			labels = append(labels, string(k))
		}
		sort.Strings(labels)
		for _, l := range labels {
			h.Labels = append(h.Labels, l)
			h.Counts = append(h.Counts, stats.RelationshipsByKind[store.RelationshipKind(l)])
		}
		return h, nil
	}
	labels := make([]string, 0, len(stats.EntitiesByType))
	for t := range stats.EntitiesByType {
		labels = append(labels, string(t))
	}
	sort.Strings(labels)
	for _, l := range labels {
		h.Labels = append(h.Labels, l)
		h.Counts = append(h.Counts, stats.EntitiesByType[store.EntityType(l)])
	}
	return h, nil
}

// TimelineEvent is one entry in a patient's document timeline.
type TimelineEvent struct {
	Timestamp    string `json:"timestamp"`
	DocumentID   string `json:"document_id"`
	DocumentType string `json:"document_type"`
}

// PatientTimeline returns a patient's documents sorted ascending by
// source_last_modified. The Store has no "documents by patient" listing
// primitive, so this composes DocumentsModifiedSince(zero-time, "") —
// effectively "all documents" — and filters client-side; adding a
// dedicated Store method for one read-only visualization was not worth
// widening the Store Adapter's contract.
func PatientTimeline(ctx context.Context, s store.Store, patientID string) ([]TimelineEvent, error) {
	docs, err := s.DocumentsModifiedSince(ctx, time.Time{}, "")
	if err != nil {
		return nil, err
	}
	var out []TimelineEvent
	for _, d := range docs {
		if d.PatientID != patientID {
			continue
		}
		out = append(out, TimelineEvent{
			Timestamp:    d.SourceLastModified.Format(time.RFC3339),
			DocumentID:   d.DocumentID,
			DocumentType: d.DocumentType,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// Node and Edge form entity_network's deduplicated subgraph payload.
type Node struct {
	ID   string           `json:"id"`
	Text string           `json:"text"`
	Type store.EntityType `json:"type"`
}

type Edge struct {
	Src  string                 `json:"src"`
	Dst  string                 `json:"dst"`
	Kind store.RelationshipKind `json:"kind"`
}

// EntityNetwork BFS-expands from seedIDs out to depth, deduplicating nodes
// and edges across all seeds.
func EntityNetwork(ctx context.Context, s store.Store, seedIDs []int64, depth int) ([]Node, []Edge, error) {
	seenNodes := make(map[int64]Node)

	for _, seed := range seedIDs {
		if e, ok, err := s.GetEntity(ctx, seed); err != nil {
			return nil, nil, err
		} else if ok {
			seenNodes[seed] = Node{ID: idString(seed), Text: e.Text, Type: e.Type}
		}
		neighbors, err := s.EntitiesNeighbors(ctx, seed, depth, 500)
		if err != nil {
			return nil, nil, err
		}
		for _, n := range neighbors {
			seenNodes[n.EntityID] = Node{ID: idString(n.EntityID), Text: n.Text, Type: n.Type}
		}
	}

	allIDs := make([]int64, 0, len(seenNodes))
	nodes := make([]Node, 0, len(seenNodes))
	for id, n := range seenNodes {
		allIDs = append(allIDs, id)
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	rels, err := s.RelationshipsAmong(ctx, allIDs)
	if err != nil {
		return nil, nil, err
	}
	seenEdges := make(map[string]Edge, len(rels))
	for _, r := range rels {
		src, dst := idString(r.SourceEntityID), idString(r.TargetEntityID)
		key := src + "->" + dst + ":" + string(r.Kind)
		seenEdges[key] = Edge{Src: src, Dst: dst, Kind: r.Kind}
	}
	edges := make([]Edge, 0, len(seenEdges))
	for _, e := range seenEdges {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Src != edges[j].Src {
			return edges[i].Src < edges[j].Src
		}
		return edges[i].Dst < edges[j].Dst
	})
	return nodes, edges, nil
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

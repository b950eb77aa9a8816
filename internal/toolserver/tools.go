package toolserver

import (
	"context"
	"encoding/json"
	"fmt"

	"medgraphrag/internal/apperr"
	"medgraphrag/internal/fusion"
	"medgraphrag/internal/search"
	"medgraphrag/internal/store"
	"medgraphrag/internal/tools"
	"medgraphrag/internal/viz"
)

func unmarshalArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Wrap(apperr.InvalidInput, "malformed arguments", err)
	}
	return nil
}

// --- search_documents ---------------------------------------------------

type searchDocumentsTool struct{ deps *Deps }

func (t *searchDocumentsTool) Name() string { return "search_documents" }

type searchDocumentsArgs struct {
	Query     string `json:"query"`
	TopK      int    `json:"top_k"`
	PatientID string `json:"patient_id,omitempty"`
}

type rankedDocument struct {
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}

func (t *searchDocumentsTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args searchDocumentsArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Query == "" {
		return nil, apperr.New(apperr.InvalidInput, "query is required")
	}
	k := t.deps.clampTopK(args.TopK)
	items, err := t.deps.Text.Search(ctx, args.Query, k, store.Filter{PatientID: args.PatientID})
	if err != nil {
		return nil, err
	}
	return t.deps.hydrateDocuments(ctx, items)
}

func (d *Deps) hydrateDocuments(ctx context.Context, items []store.RankedItem) ([]rankedDocument, error) {
	out := make([]rankedDocument, 0, len(items))
	for _, item := range items {
		doc, ok, err := d.Store.GetDocument(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, rankedDocument{DocumentID: item.ID, Score: item.Score, Snippet: snippet(doc.DecodedText)})
	}
	return out, nil
}

// --- search_images -------------------------------------------------------

type searchImagesTool struct{ deps *Deps }

func (t *searchImagesTool) Name() string { return "search_images" }

type searchImagesArgs struct {
	Query    string       `json:"query,omitempty"`
	ImageRef string       `json:"image_ref,omitempty"`
	TopK     int          `json:"top_k"`
	Filters  store.Filter `json:"filters,omitempty"`
}

type rankedImage struct {
	ImageID    string  `json:"image_id"`
	Score      float64 `json:"score"`
	StorageRef string  `json:"storage_ref"`
}

func (t *searchImagesTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args searchImagesArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	k := t.deps.clampTopK(args.TopK)

	var (
		items []store.RankedItem
		err   error
	)
	switch {
	case args.ImageRef != "":
		items, err = t.deps.Image.SearchImageRef(ctx, args.ImageRef, k, args.Filters)
	case args.Query != "":
		items, err = t.deps.Image.Search(ctx, args.Query, k, args.Filters)
	default:
		return nil, apperr.New(apperr.InvalidInput, "query or image_ref is required")
	}
	if err != nil {
		return nil, err
	}

	out := make([]rankedImage, 0, len(items))
	for _, item := range items {
		img, ok, gerr := t.deps.Store.GetImage(ctx, item.ID)
		if gerr != nil {
			return nil, gerr
		}
		if !ok {
			continue
		}
		out = append(out, rankedImage{ImageID: item.ID, Score: item.Score, StorageRef: img.StorageRef})
	}
	return out, nil
}

// --- hybrid_search ---------------------------------------------------------

type hybridSearchTool struct{ deps *Deps }

func (t *hybridSearchTool) Name() string { return "hybrid_search" }

type hybridUse struct {
	Text  bool `json:"text"`
	Image bool `json:"image"`
	Graph bool `json:"graph"`
}

type hybridSearchArgs struct {
	Query     string    `json:"query"`
	TopK      int       `json:"top_k"`
	Use       hybridUse `json:"use"`
	Diversify bool      `json:"diversify,omitempty"`
}

type fusedHit struct {
	ID        string             `json:"id"`
	Score     float64            `json:"score"`
	ListHits  int                `json:"list_hits"`
	PerSource map[string]float64 `json:"per_source_scores"`
}

func (t *hybridSearchTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args hybridSearchArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Query == "" {
		return nil, apperr.New(apperr.InvalidInput, "query is required")
	}
	k := t.deps.clampTopK(args.TopK)

	var sources []search.Source
	if args.Use.Text {
		sources = append(sources, search.SourceText)
	}
	if args.Use.Image {
		sources = append(sources, search.SourceImage)
	}
	if args.Use.Graph {
		sources = append(sources, search.SourceGraph)
	}
	if len(sources) == 0 {
		sources = []search.Source{search.SourceText, search.SourceGraph}
	}

	result := t.deps.Composite.Search(ctx, args.Query, k, store.Filter{}, sources)
	if len(result.Lists) == 0 {
		return nil, apperr.New(apperr.PartialResult, "every search source failed")
	}

	lists := make(map[string][]store.RankedItem, len(result.Lists))
	perSource := make(map[string]map[string]float64)
	for src, items := range result.Lists {
		lists[string(src)] = items
		m := make(map[string]float64, len(items))
		for _, it := range items {
			m[it.ID] = it.Score
		}
		perSource[string(src)] = m
	}

	fused := fusion.RRF(lists, t.deps.RRFK, k)
	if args.Diversify {
		meta := make(map[string]fusion.Meta, len(fused))
		for _, f := range fused {
			if doc, ok, derr := t.deps.Store.GetDocument(ctx, f.ID); derr == nil && ok {
				meta[f.ID] = fusion.Meta{PatientID: doc.PatientID, DocumentType: doc.DocumentType}
			}
		}
		fused = fusion.Diversify(fused, meta, k)
	}

	out := make([]fusedHit, 0, len(fused))
	for _, f := range fused {
		per := make(map[string]float64, len(perSource))
		for src, m := range perSource {
			if s, ok := m[f.ID]; ok {
				per[src] = s
			}
		}
		out = append(out, fusedHit{ID: f.ID, Score: f.Score, ListHits: f.ListHits, PerSource: per})
	}

	if len(result.Failed) > 0 {
		warnings := make([]string, 0, len(result.Failed))
		for _, src := range sources {
			if err, ok := result.Failed[src]; ok {
				warnings = append(warnings, fmt.Sprintf("source %s failed: %v", src, err))
			}
		}
		return tools.Warned{Value: out, Warnings: warnings}, nil
	}
	return out, nil
}

// --- graph_entity_search ---------------------------------------------------

type graphEntitySearchTool struct{ deps *Deps }

func (t *graphEntitySearchTool) Name() string { return "graph_entity_search" }

type graphEntitySearchArgs struct {
	Text  string           `json:"text"`
	Type  store.EntityType `json:"type,omitempty"`
	Limit int              `json:"limit"`
}

type entityHit struct {
	EntityID   int64            `json:"entity_id"`
	Text       string           `json:"text"`
	Type       store.EntityType `json:"type"`
	Confidence float64          `json:"confidence"`
}

func (t *graphEntitySearchTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args graphEntitySearchArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Text == "" {
		return nil, apperr.New(apperr.InvalidInput, "text is required")
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 20
	}
	entities, err := t.deps.Store.EntitiesByText(ctx, []string{args.Text}, limit)
	if err != nil {
		return nil, err
	}
	out := make([]entityHit, 0, len(entities))
	for _, e := range entities {
		if args.Type != "" && e.Type != args.Type {
			continue
		}
		out = append(out, entityHit{EntityID: e.EntityID, Text: e.Text, Type: e.Type, Confidence: e.Confidence})
	}
	return out, nil
}

// --- graph_neighbors --------------------------------------------------------

type graphNeighborsTool struct{ deps *Deps }

func (t *graphNeighborsTool) Name() string { return "graph_neighbors" }

type graphNeighborsArgs struct {
	EntityID int64 `json:"entity_id"`
	Depth    int   `json:"depth"`
	Limit    int   `json:"limit"`
}

func (t *graphNeighborsTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args graphNeighborsArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.EntityID == 0 {
		return nil, apperr.New(apperr.InvalidInput, "entity_id is required")
	}
	nodes, edges, err := viz.EntityNetwork(ctx, t.deps.Store, []int64{args.EntityID}, args.Depth)
	if err != nil {
		return nil, err
	}
	return map[string]any{"nodes": nodes, "edges": edges}, nil
}

// --- graph_stats -------------------------------------------------------------

type graphStatsTool struct{ deps *Deps }

func (t *graphStatsTool) Name() string { return "graph_stats" }

func (t *graphStatsTool) Call(ctx context.Context, _ json.RawMessage) (any, error) {
	return t.deps.Store.GraphStats(ctx)
}

// --- remember / recall / memory_stats / delete_memory ------------------------

type rememberTool struct{ deps *Deps }

func (t *rememberTool) Name() string { return "remember" }

type rememberArgs struct {
	Kind     store.MemoryKind `json:"kind"`
	Text     string           `json:"text"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

func (t *rememberTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args rememberArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Text == "" {
		return nil, apperr.New(apperr.InvalidInput, "text is required")
	}
	id, err := t.deps.Memory.Remember(ctx, args.Kind, args.Text, args.Metadata)
	if err != nil {
		return nil, err
	}
	return map[string]string{"memory_id": id}, nil
}

type recallTool struct{ deps *Deps }

func (t *recallTool) Name() string { return "recall" }

type recallArgs struct {
	Query string           `json:"query"`
	K     int              `json:"k"`
	Kind  store.MemoryKind `json:"kind,omitempty"`
}

func (t *recallTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args recallArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	k := args.K
	if k <= 0 {
		k = 3
	}
	return t.deps.Memory.Recall(ctx, args.Query, k, args.Kind, t.deps.MinSimilarity)
}

type memoryStatsTool struct{ deps *Deps }

func (t *memoryStatsTool) Name() string { return "memory_stats" }

func (t *memoryStatsTool) Call(ctx context.Context, _ json.RawMessage) (any, error) {
	return t.deps.Memory.Stats(ctx)
}

type deleteMemoryTool struct{ deps *Deps }

func (t *deleteMemoryTool) Name() string { return "delete_memory" }

type deleteMemoryArgs struct {
	MemoryID string `json:"memory_id"`
}

func (t *deleteMemoryTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args deleteMemoryArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.MemoryID == "" {
		return nil, apperr.New(apperr.InvalidInput, "memory_id is required")
	}
	if err := t.deps.Memory.Delete(ctx, args.MemoryID); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

// --- viz_* --------------------------------------------------------------------

type vizEntityHistogramTool struct{ deps *Deps }

func (t *vizEntityHistogramTool) Name() string { return "viz_entity_histogram" }

type vizEntityHistogramArgs struct {
	By viz.By `json:"by"`
}

func (t *vizEntityHistogramTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args vizEntityHistogramArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	return viz.EntityHistogram(ctx, t.deps.Store, args.By)
}

type vizPatientTimelineTool struct{ deps *Deps }

func (t *vizPatientTimelineTool) Name() string { return "viz_patient_timeline" }

type vizPatientTimelineArgs struct {
	PatientID string `json:"patient_id"`
}

func (t *vizPatientTimelineTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args vizPatientTimelineArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.PatientID == "" {
		return nil, apperr.New(apperr.InvalidInput, "patient_id is required")
	}
	events, err := viz.PatientTimeline(ctx, t.deps.Store, args.PatientID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"events": events}, nil
}

type vizEntityNetworkTool struct{ deps *Deps }

func (t *vizEntityNetworkTool) Name() string { return "viz_entity_network" }

type vizEntityNetworkArgs struct {
	SeedEntityIDs []int64 `json:"seed_entity_ids"`
	Depth         int     `json:"depth"`
}

func (t *vizEntityNetworkTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args vizEntityNetworkArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	if len(args.SeedEntityIDs) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "seed_entity_ids is required")
	}
	nodes, edges, err := viz.EntityNetwork(ctx, t.deps.Store, args.SeedEntityIDs, args.Depth)
	if err != nil {
		return nil, err
	}
	return map[string]any{"nodes": nodes, "edges": edges}, nil
}

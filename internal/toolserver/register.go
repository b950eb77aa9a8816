package toolserver

import "medgraphrag/internal/tools"

// NewRegistry builds the full C8 tool catalog over deps, wrapped in a
// recording registry so every dispatch is observable (grounded on the
// teacher's internal/tools.NewRecordingRegistry).
func NewRegistry(deps *Deps, onDispatch func(tools.DispatchEvent)) tools.Registry {
	base := tools.NewRegistry()
	base.Register(&searchDocumentsTool{deps: deps})
	base.Register(&searchImagesTool{deps: deps})
	base.Register(&hybridSearchTool{deps: deps})
	base.Register(&graphEntitySearchTool{deps: deps})
	base.Register(&graphNeighborsTool{deps: deps})
	base.Register(&graphStatsTool{deps: deps})
	base.Register(&rememberTool{deps: deps})
	base.Register(&recallTool{deps: deps})
	base.Register(&memoryStatsTool{deps: deps})
	base.Register(&deleteMemoryTool{deps: deps})
	base.Register(&vizEntityHistogramTool{deps: deps})
	base.Register(&vizPatientTimelineTool{deps: deps})
	base.Register(&vizEntityNetworkTool{deps: deps})
	return tools.NewRecordingRegistry(base, onDispatch)
}

// searchFamily names the tools the Auto-Recall Middleware (C9) augments
// with recalled memories before dispatch.
var searchFamily = map[string]bool{
	"search_documents":    true,
	"search_images":       true,
	"hybrid_search":       true,
	"graph_entity_search": true,
}

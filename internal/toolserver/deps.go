package toolserver

import (
	"medgraphrag/internal/memory"
	"medgraphrag/internal/search"
	"medgraphrag/internal/store"
)

// Deps wires every component the tool catalog dispatches into — one
// instance shared by all registered tools, assembled once at process
// startup by cmd/mcp-manifold.
type Deps struct {
	Store     store.Store
	Memory    *memory.Store
	Text      *search.VectorTextSearch
	Image     *search.VectorImageSearch
	Keyword   *search.KeywordTextSearch
	Graph     *search.GraphSearch
	Composite *search.Composite

	RRFK          int
	DefaultTopK   int
	MaxTopK       int
	MinSimilarity float64
}

func (d *Deps) clampTopK(k int) int {
	if k <= 0 {
		k = d.DefaultTopK
	}
	if d.MaxTopK > 0 && k > d.MaxTopK {
		k = d.MaxTopK
	}
	return k
}

// snippetLen is the number of runes of decoded text a search_documents
// result's snippet is truncated to.
const snippetLen = 240

func snippet(text string) string {
	r := []rune(text)
	if len(r) <= snippetLen {
		return text
	}
	return string(r[:snippetLen]) + "…"
}

package search

import (
	"context"
	"time"

	"medgraphrag/internal/observability"
	"medgraphrag/internal/store"
)

// Source names a Search Service within a composite request, mirroring
// hybrid_search's `use:{text,image,graph}` selector.
type Source string

const (
	SourceText  Source = "text"
	SourceImage Source = "image"
	SourceGraph Source = "graph"
)

// sourceOutcome carries one service's result (or failure) back to the
// composite join point, grounded on the teacher's ParallelCandidates
// per-source channel pattern.
type sourceOutcome struct {
	source  Source
	items   []store.RankedItem
	latency time.Duration
	err     error
}

// CompositeResult collects every source's ranked list plus which sources
// failed, so the caller can still fuse whatever succeeded (partial-success
// mode, §7).
type CompositeResult struct {
	Lists   map[Source][]store.RankedItem
	Failed  map[Source]error
	Latency map[Source]time.Duration
}

// Composite fans out to the selected services concurrently and joins
// before returning — each service is free to fail independently; the
// caller (Tool Server) decides whether a partial result is still useful.
type Composite struct {
	Text  Service
	Image Service
	Graph Service
}

// Search runs every service named in sources concurrently, cancelling
// none of the others when one fails or when the caller's context is
// cancelled — in-flight I/O aborts on its own via ctx, and whatever
// already returned is still included in CompositeResult.
func (c *Composite) Search(ctx context.Context, query string, k int, filter store.Filter, sources []Source) CompositeResult {
	result := CompositeResult{
		Lists:   make(map[Source][]store.RankedItem),
		Failed:  make(map[Source]error),
		Latency: make(map[Source]time.Duration),
	}
	if len(sources) == 0 {
		return result
	}

	ch := make(chan sourceOutcome, len(sources))
	for _, src := range sources {
		svc := c.serviceFor(src)
		if svc == nil {
			continue
		}
		go func(src Source, svc Service) {
			t0 := time.Now()
			items, err := svc.Search(ctx, query, k, filter)
			ch <- sourceOutcome{source: src, items: items, latency: time.Since(t0), err: err}
		}(src, svc)
	}

	logger := observability.LoggerWithTrace(ctx)
	expected := 0
	for _, src := range sources {
		if c.serviceFor(src) != nil {
			expected++
		}
	}
	for i := 0; i < expected; i++ {
		out := <-ch
		result.Latency[out.source] = out.latency
		if out.err != nil {
			result.Failed[out.source] = out.err
			logger.Warn().Err(out.err).Str("source", string(out.source)).Msg("search: source failed, continuing with partial results")
			continue
		}
		result.Lists[out.source] = out.items
	}
	return result
}

func (c *Composite) serviceFor(src Source) Service {
	switch src {
	case SourceText:
		return c.Text
	case SourceImage:
		return c.Image
	case SourceGraph:
		return c.Graph
	default:
		return nil
	}
}

// Package sync implements the Sync Engine (C4): init/build/sync/stats
// modes over the Store, using the Entity Extractor to (re)build the
// knowledge graph per document.
package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"medgraphrag/internal/apperr"
	"medgraphrag/internal/extract"
	"medgraphrag/internal/observability"
	"medgraphrag/internal/store"
)

// Engine drives schema bootstrap and incremental/batch graph rebuilds. It
// holds no mutable state of its own beyond the Store and the currently
// configured embedding model tag — the watermark lives in the Store.
type Engine struct {
	Store             store.Store
	EmbeddingModelTag string
	Policy            ReingestPolicy
}

// New constructs a Sync Engine. policy defaults to ReingestSkipIfUnchanged
// when empty.
func New(s store.Store, embeddingModelTag string, policy ReingestPolicy) *Engine {
	if policy == "" {
		policy = ReingestSkipIfUnchanged
	}
	return &Engine{Store: s, EmbeddingModelTag: embeddingModelTag, Policy: policy}
}

// Report summarizes one Build/Sync run.
type Report struct {
	Considered int
	Processed  int
	Skipped    int
	Failed     int
	Watermark  time.Time
}

// Init creates schema. Idempotent.
func (e *Engine) Init(ctx context.Context) error {
	return e.Store.EnsureSchema(ctx)
}

// Build processes every document in the store, ignoring the watermark —
// used for a full rebuild.
func (e *Engine) Build(ctx context.Context) (Report, error) {
	docs, err := e.Store.DocumentsModifiedSince(ctx, time.Time{}, "")
	if err != nil {
		return Report{}, err
	}
	return e.processAll(ctx, docs, true)
}

// Sync processes only documents due for reprocessing per the current
// watermark and reingest policy.
func (e *Engine) Sync(ctx context.Context) (Report, error) {
	watermark, err := e.Store.Watermark(ctx)
	if err != nil {
		return Report{}, err
	}
	docs, err := e.Store.DocumentsModifiedSince(ctx, watermark, e.EmbeddingModelTag)
	if err != nil {
		return Report{}, err
	}
	return e.processAll(ctx, docs, false)
}

func (e *Engine) processAll(ctx context.Context, docs []store.Document, force bool) (Report, error) {
	report := Report{Considered: len(docs)}
	logger := observability.LoggerWithTrace(ctx)

	for _, doc := range docs {
		select {
		case <-ctx.Done():
			return report, apperr.Wrap(apperr.DeadlineExceeded, "sync cancelled", ctx.Err())
		default:
		}

		// docs is already filtered to documents due for reprocessing: for
		// Sync, those past the watermark or carrying a different
		// embedding_model_tag; for Build, every document. Being past the
		// watermark only means source_last_modified moved; decoded_text may
		// not have, so skip_if_unchanged still needs the content hash below.
		tagChanged := doc.EmbeddingModelTag != e.EmbeddingModelTag
		hash := documentContentHash(doc.DecodedText)
		prevHash, hadHash, err := e.Store.ExtractionHash(ctx, doc.DocumentID)
		if err != nil {
			logger.Error().Err(err).Str("document_id", doc.DocumentID).Msg("sync: extraction hash lookup failed, treating as changed")
		}
		contentChanged := err != nil || !hadHash || prevHash != hash

		d := resolve(e.Policy, tagChanged, contentChanged)
		if !d.reprocess && !force {
			report.Skipped++
			continue
		}

		if err := e.processDocument(ctx, doc); err != nil {
			// Per spec: failures of one document do not abort the batch; the
			// document is retried on the next run.
			logger.Error().Err(err).Str("document_id", doc.DocumentID).Msg("sync: document processing failed, will retry next run")
			report.Failed++
			continue
		}
		if err := e.Store.SetExtractionHash(ctx, doc.DocumentID, hash); err != nil {
			logger.Error().Err(err).Str("document_id", doc.DocumentID).Msg("sync: failed to record extraction hash")
		}
		report.Processed++
		if doc.SourceLastModified.After(report.Watermark) {
			report.Watermark = doc.SourceLastModified
		}
	}
	return report, nil
}

// processDocument extracts entities/relationships from one document and
// atomically replaces its graph slice, per spec.md §4.4.
func (e *Engine) processDocument(ctx context.Context, doc store.Document) error {
	result := extract.Extract(doc.DocumentID, doc.DecodedText)
	return e.Store.ReplaceDocumentGraph(ctx, doc.DocumentID, result.Entities, result.Relationships)
}

// documentContentHash hashes decoded_text alone (not source_last_modified
// or any other metadata), so a source bumping its modified timestamp
// without touching content hashes identically to the last extraction.
func documentContentHash(decodedText string) string {
	sum := sha256.Sum256([]byte(decodedText))
	return hex.EncodeToString(sum[:])
}

// Stats reports current knowledge-graph totals.
func (e *Engine) Stats(ctx context.Context) (store.GraphStats, error) {
	return e.Store.GraphStats(ctx)
}

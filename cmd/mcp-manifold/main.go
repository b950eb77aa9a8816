// Command mcp-manifold runs the Tool Server (C8): the process an agent
// dials into over stdin/stdout to search documents/images, query the
// knowledge graph, and read/write semantic memory, framed as
// length-prefixed JSON over the stream.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"medgraphrag/internal/config"
	"medgraphrag/internal/embedding"
	"medgraphrag/internal/memory"
	"medgraphrag/internal/observability"
	"medgraphrag/internal/search"
	"medgraphrag/internal/store"
	"medgraphrag/internal/toolserver"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	observability.InitLogger(cfg.Obs.LogPath, cfg.Obs.LogLevel)
	shutdownTracing, err := observability.InitTracing(cfg.Obs.ServiceName)
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := store.OpenPool(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	s := store.NewPGStore(pool, cfg.Embedding.Dimension)
	defer s.Close()
	if err := s.EnsureSchema(ctx); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	embedder := embedding.New(cfg.Embedding)
	memStore := memory.New(s, embedder)

	deps := &toolserver.Deps{
		Store:   s,
		Memory:  memStore,
		Text:    &search.VectorTextSearch{Store: s, Embedder: embedder},
		Image:   &search.VectorImageSearch{Store: s, Embedder: embedder},
		Keyword: &search.KeywordTextSearch{Store: s},
		Graph:   &search.GraphSearch{Store: s},
		Composite: &search.Composite{
			Text:  &search.VectorTextSearch{Store: s, Embedder: embedder},
			Image: &search.VectorImageSearch{Store: s, Embedder: embedder},
			Graph: &search.GraphSearch{Store: s},
		},
		RRFK:          cfg.RRF.K,
		DefaultTopK:   cfg.Search.DefaultTopK,
		MaxTopK:       cfg.Search.MaxTopK,
		MinSimilarity: cfg.Memory.MinSimilarity,
	}

	srv := toolserver.NewServer(deps, cfg.Obs.ServiceName)

	log.Println("mcp-manifold: tool server ready, reading frames from stdin")
	errChan := make(chan error, 1)
	go func() { errChan <- srv.Serve(ctx, os.Stdin, os.Stdout) }()

	select {
	case err := <-errChan:
		if err != nil {
			log.Printf("tool server stopped: %v", err)
		}
	case <-ctx.Done():
		log.Println("shutdown signal received")
	}

	if err := shutdownTracing(context.Background()); err != nil {
		log.Printf("tracer shutdown: %v", err)
	}
	log.Println("mcp-manifold: stopped")
}

// Command embedctl drives the Sync Engine (C4) from the shell: init the
// schema, build or incrementally sync the knowledge graph, or print graph
// stats.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"medgraphrag/internal/config"
	"medgraphrag/internal/observability"
	"medgraphrag/internal/store"
	"medgraphrag/internal/sync"
)

func main() {
	log.SetFlags(0)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: embedctl [-policy skip_if_unchanged|overwrite|new_version] <init|build|sync|stats>")
		flag.PrintDefaults()
	}
	policy := flag.String("policy", string(sync.ReingestSkipIfUnchanged), "reingest policy for build/sync")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	mode := flag.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	observability.InitLogger(cfg.Obs.LogPath, cfg.Obs.LogLevel)

	ctx := context.Background()
	pool, err := store.OpenPool(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	s := store.NewPGStore(pool, cfg.Embedding.Dimension)
	defer s.Close()

	engine := sync.New(s, cfg.Embedding.Model, sync.ReingestPolicy(*policy))

	switch mode {
	case "init":
		if err := engine.Init(ctx); err != nil {
			log.Fatalf("init: %v", err)
		}
		log.Println("schema ready")
	case "build":
		report, err := engine.Build(ctx)
		if err != nil {
			log.Fatalf("build: %v", err)
		}
		printReport(report)
	case "sync":
		report, err := engine.Sync(ctx)
		if err != nil {
			log.Fatalf("sync: %v", err)
		}
		printReport(report)
	case "stats":
		stats, err := engine.Stats(ctx)
		if err != nil {
			log.Fatalf("stats: %v", err)
		}
		fmt.Printf("entities: %d\n", stats.TotalEntities)
		for t, n := range stats.EntitiesByType {
			fmt.Printf("  %s: %d\n", t, n)
		}
		for k, n := range stats.RelationshipsByKind {
			fmt.Printf("relationships[%s]: %d\n", k, n)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func printReport(r sync.Report) {
	fmt.Printf("considered=%d processed=%d skipped=%d failed=%d watermark=%s\n",
		r.Considered, r.Processed, r.Skipped, r.Failed, r.Watermark.Format("2006-01-02T15:04:05Z07:00"))
}

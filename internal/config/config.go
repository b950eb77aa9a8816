// Package config holds the single typed configuration struct loaded once at
// process startup.
package config

import "time"

// EmbeddingConfig configures the embedding HTTP client (C2).
type EmbeddingConfig struct {
	BaseURL        string        // embedding.endpoint_url
	Path           string        // appended to BaseURL, e.g. "/v1/embeddings"
	Model          string        // embedding.model_tag
	Dimension      int           // embedding.dimension — asserted against response vectors
	BatchSize      int           // embedding.batch_size
	MaxConcurrency int           // embedding.max_concurrency
	Timeout        time.Duration // per-batch request timeout
	APIHeader      string        // "Authorization" for Bearer, or a custom header name
	APIKey         string
	MaxRetries     int // total attempts, first try included, on 429/5xx/transport errors before giving up
}

// StoreConfig configures the Postgres+pgvector Store Adapter (C1).
type StoreConfig struct {
	DSN      string // store.dsn
	PoolSize int    // store.pool_size
}

// RRFConfig configures Reciprocal Rank Fusion (C6).
type RRFConfig struct {
	K int // rrf.k — rank-offset constant
}

// SearchConfig configures default/maximum result sizes for Search Services (C5).
type SearchConfig struct {
	DefaultTopK int // search.default_top_k
	MaxTopK     int // search.max_top_k
}

// SyncConfig configures the Sync Engine (C4).
type SyncConfig struct {
	BatchWindow time.Duration // sync.batch_window
}

// MemoryConfig configures the semantic Memory Store (C7).
type MemoryConfig struct {
	MinSimilarity float64 // memory.min_similarity
}

// ObsConfig configures logging and tracing.
type ObsConfig struct {
	ServiceName string
	LogPath     string
	LogLevel    string
}

// Config is the fully assembled, typed configuration for the process.
type Config struct {
	Embedding EmbeddingConfig
	Store     StoreConfig
	RRF       RRFConfig
	Search    SearchConfig
	Sync      SyncConfig
	Memory    MemoryConfig
	Obs       ObsConfig
}

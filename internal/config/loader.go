package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load builds a Config following the teacher's two-stage pattern: a .env file
// (if present) is loaded into the process environment first, then every
// field is read from the environment, then defaults fill anything left zero.
// CONFIG_FILE, if set, points at a YAML overlay applied before env defaults
// so a static fleet deployment can pin store DSN / pool size without an env
// var per instance.
func Load() (Config, error) {
	_ = godotenv.Overload()

	var cfg Config
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadYAMLOverlay(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config file %q: %w", path, err)
		}
	}

	cfg.Embedding.BaseURL = firstNonEmpty(os.Getenv("EMBEDDING_BASE_URL"), cfg.Embedding.BaseURL)
	cfg.Embedding.Path = firstNonEmpty(os.Getenv("EMBEDDING_PATH"), cfg.Embedding.Path, "/v1/embeddings")
	cfg.Embedding.Model = firstNonEmpty(os.Getenv("EMBEDDING_MODEL_TAG"), cfg.Embedding.Model)
	cfg.Embedding.Dimension = firstNonZeroInt(envInt("EMBEDDING_DIMENSION"), cfg.Embedding.Dimension, 1024)
	cfg.Embedding.BatchSize = firstNonZeroInt(envInt("EMBEDDING_BATCH_SIZE"), cfg.Embedding.BatchSize, 32)
	cfg.Embedding.MaxConcurrency = firstNonZeroInt(envInt("EMBEDDING_MAX_CONCURRENCY"), cfg.Embedding.MaxConcurrency, 8)
	cfg.Embedding.Timeout = firstNonZeroDuration(envSeconds("EMBEDDING_TIMEOUT_SECONDS"), cfg.Embedding.Timeout, 10*time.Second)
	cfg.Embedding.APIHeader = firstNonEmpty(os.Getenv("EMBEDDING_API_HEADER"), cfg.Embedding.APIHeader, "Authorization")
	cfg.Embedding.APIKey = firstNonEmpty(os.Getenv("EMBEDDING_API_KEY"), cfg.Embedding.APIKey)
	cfg.Embedding.MaxRetries = firstNonZeroInt(envInt("EMBEDDING_MAX_RETRIES"), cfg.Embedding.MaxRetries, 4)

	cfg.Store.DSN = firstNonEmpty(os.Getenv("STORE_DSN"), cfg.Store.DSN)
	cfg.Store.PoolSize = firstNonZeroInt(envInt("STORE_POOL_SIZE"), cfg.Store.PoolSize, 16)

	cfg.RRF.K = firstNonZeroInt(envInt("RRF_K"), cfg.RRF.K, 60)

	cfg.Search.DefaultTopK = firstNonZeroInt(envInt("SEARCH_DEFAULT_TOP_K"), cfg.Search.DefaultTopK, 10)
	cfg.Search.MaxTopK = firstNonZeroInt(envInt("SEARCH_MAX_TOP_K"), cfg.Search.MaxTopK, 100)

	cfg.Sync.BatchWindow = firstNonZeroDuration(envSeconds("SYNC_BATCH_WINDOW_SECONDS"), cfg.Sync.BatchWindow, 5*time.Minute)

	cfg.Memory.MinSimilarity = firstNonZeroFloat(envFloat("MEMORY_MIN_SIMILARITY"), cfg.Memory.MinSimilarity, 0.5)

	cfg.Obs.ServiceName = firstNonEmpty(os.Getenv("SERVICE_NAME"), cfg.Obs.ServiceName, "medgraphrag")
	cfg.Obs.LogPath = firstNonEmpty(os.Getenv("LOG_PATH"), cfg.Obs.LogPath)
	cfg.Obs.LogLevel = firstNonEmpty(os.Getenv("LOG_LEVEL"), cfg.Obs.LogLevel, "info")

	if cfg.Store.DSN == "" {
		return Config{}, fmt.Errorf("STORE_DSN is required")
	}
	return cfg, nil
}

func loadYAMLOverlay(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZeroInt(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstNonZeroFloat(vals ...float64) float64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstNonZeroDuration(vals ...time.Duration) time.Duration {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func envInt(key string) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}

func envFloat(key string) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return 0
	}
	return v
}

func envSeconds(key string) time.Duration {
	v := envInt(key)
	if v == 0 {
		return 0
	}
	return time.Duration(v) * time.Second
}

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_DSN", "postgres://localhost:5432/medgraphrag")
	for _, k := range []string{"EMBEDDING_DIMENSION", "RRF_K", "SEARCH_DEFAULT_TOP_K", "MEMORY_MIN_SIMILARITY"} {
		os.Unsetenv(k)
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 1024, cfg.Embedding.Dimension)
	require.Equal(t, 60, cfg.RRF.K)
	require.Equal(t, 10, cfg.Search.DefaultTopK)
	require.Equal(t, 100, cfg.Search.MaxTopK)
	require.InDelta(t, 0.5, cfg.Memory.MinSimilarity, 1e-9)
	require.Equal(t, "Authorization", cfg.Embedding.APIHeader)
}

func TestLoad_MissingDSN(t *testing.T) {
	t.Setenv("STORE_DSN", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STORE_DSN", "postgres://localhost:5432/medgraphrag")
	t.Setenv("RRF_K", "30")
	t.Setenv("EMBEDDING_API_HEADER", "X-API-Key")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 30, cfg.RRF.K)
	require.Equal(t, "X-API-Key", cfg.Embedding.APIHeader)
}

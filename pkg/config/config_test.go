package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 512, cfg.Chunking.ChunkSize)
	assert.Equal(t, 50, cfg.Chunking.Overlap)
	assert.True(t, cfg.Chunking.RespectBoundaries)
	assert.Equal(t, 1000, cfg.Rerank.MaxDocumentChars)
	assert.False(t, cfg.Rerank.Enabled)
	assert.Equal(t, 3, cfg.Confidence.RecentYears)
	assert.Contains(t, cfg.Confidence.AuthoritativeOrganizations, "WHO")
	assert.Equal(t, 1536, cfg.Embedding.Dimension)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MEDCP_CHUNKING_CHUNKSIZE", "256")
	t.Setenv("MEDCP_RERANK_ENABLED", "true")
	t.Setenv("MEDCP_EMBEDDING_APIKEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 256, cfg.Chunking.ChunkSize)
	assert.True(t, cfg.Rerank.Enabled)
	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
}

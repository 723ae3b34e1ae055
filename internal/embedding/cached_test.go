package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryCache struct {
	data    map[string][]float32
	failGet bool
}

func (m *memoryCache) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	if m.failGet {
		return nil, false, errors.New("connection refused")
	}
	emb, ok := m.data[textHash]
	return emb, ok, nil
}

func (m *memoryCache) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	m.data[textHash] = embedding
	return nil
}

type countingEmbedder struct {
	seen [][]string
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.seen = append(c.seen, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestCachedEmbedderOnlySendsMisses(t *testing.T) {
	cache := &memoryCache{data: map[string][]float32{}}
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, cache, "m", time.Hour)

	_, err := c.EmbedBatch(context.Background(), []string{"alpha", "be"})
	require.NoError(t, err)

	out, err := c.EmbedBatch(context.Background(), []string{"be", "gamma", "alpha"})
	require.NoError(t, err)

	assert.Equal(t, [][]float32{{2}, {5}, {5}}, out)
	require.Len(t, inner.seen, 2)
	assert.Equal(t, []string{"gamma"}, inner.seen[1])
}

func TestCachedEmbedderTreatsCacheErrorsAsMisses(t *testing.T) {
	cache := &memoryCache{data: map[string][]float32{}, failGet: true}
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, cache, "m", time.Hour)

	emb, err := c.Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3}, emb)
}

package embedding

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/medical-control-plane/backend/internal/metrics"
	"github.com/medical-control-plane/backend/pkg/logger"
	"github.com/medical-control-plane/backend/pkg/utils"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Cache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

// CachedEmbedder serves repeated texts from a cache and only sends misses
// to the wrapped embedder. Cache errors are logged and treated as misses.
type CachedEmbedder struct {
	inner Embedder
	cache Cache
	model string
	ttl   time.Duration
}

func NewCachedEmbedder(inner Embedder, cache Cache, model string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache, model: model, ttl: ttl}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		emb, found, err := c.cache.GetEmbedding(ctx, c.key(text))
		if err != nil {
			logger.Warn("Embedding cache lookup failed", zap.Error(err))
		}
		if found {
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			out[i] = emb
			continue
		}
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, emb := range fresh {
		out[missIdx[j]] = emb
		if err := c.cache.SetEmbedding(ctx, c.key(missTexts[j]), emb, c.ttl); err != nil {
			logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}

	return out, nil
}

func (c *CachedEmbedder) key(text string) string {
	return utils.HashString(c.model + ":" + text)
}

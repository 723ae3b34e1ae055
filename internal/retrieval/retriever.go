package retrieval

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medical-control-plane/backend/internal/models"
	"github.com/medical-control-plane/backend/internal/rerank"
	"github.com/medical-control-plane/backend/pkg/apperr"
	"github.com/medical-control-plane/backend/pkg/logger"
)

// overFetch is the candidate multiplier applied when results are reranked.
const overFetch = 3

type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Searcher interface {
	Search(ctx context.Context, embedding []float32, topK int, filter models.SearchFilter) ([]models.RetrievedChunk, error)
}

type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []models.RetrievedChunk, topK int) []models.RetrievedChunk
}

// SourceResolver looks up catalog records for source ids.
type SourceResolver interface {
	GetSources(ctx context.Context, ids []string) (map[string]models.MedicalSource, error)
}

type Filters struct {
	DocumentType models.SourceType `json:"document_type,omitempty"`
	Specialty    string            `json:"specialty,omitempty"`
	TopK         int               `json:"top_k,omitempty"`
	MinScore     float64           `json:"min_score,omitempty"`
	Rerank       bool              `json:"rerank,omitempty"`
}

type Config struct {
	TopK     int
	MinScore float64
}

type Retriever struct {
	embedder QueryEmbedder
	searcher Searcher
	reranker Reranker
	sources  SourceResolver
	cfg      Config
	now      func() time.Time
}

// NewRetriever builds a retriever. reranker and sources may be nil.
func NewRetriever(cfg Config, embedder QueryEmbedder, searcher Searcher, reranker Reranker, sources SourceResolver) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Retriever{
		embedder: embedder,
		searcher: searcher,
		reranker: reranker,
		sources:  sources,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Retrieve embeds the query, searches the index and builds the RAG context.
func (r *Retriever) Retrieve(ctx context.Context, query string, filters Filters) (*models.RAGContext, error) {
	start := r.now()

	if strings.TrimSpace(query) == "" {
		return nil, apperr.New(apperr.KindInvalidArgument, "retrieval.Retrieve", "query must not be empty")
	}

	topK := filters.TopK
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	minScore := filters.MinScore
	if minScore <= 0 {
		minScore = r.cfg.MinScore
	}
	useRerank := filters.Rerank && r.reranker != nil

	fetch := topK
	if useRerank {
		fetch = topK * overFetch
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	candidates, err := r.searcher.Search(ctx, embedding, fetch, models.SearchFilter{
		DocumentType: filters.DocumentType,
		Specialty:    filters.Specialty,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, "retrieval.Retrieve", err)
	}
	total := len(candidates)

	kept := make([]models.RetrievedChunk, 0, len(candidates))
	for _, c := range candidates {
		if c.Score >= minScore {
			kept = append(kept, c)
		}
	}

	ordered := rerank.ByScore(kept, 0)
	if useRerank {
		ordered = r.reranker.Rerank(ctx, query, ordered, topK)
	} else if len(ordered) > topK {
		ordered = ordered[:topK]
	}

	rc := &models.RAGContext{
		Chunks:         ordered,
		Sources:        r.collectSources(ctx, ordered),
		Confidence:     meanScore(ordered),
		Query:          query,
		Timestamp:      start,
		TotalRetrieved: total,
		LatencyMs:      r.now().Sub(start).Milliseconds(),
	}

	logger.Debug("Retrieval completed",
		zap.Int("candidates", total),
		zap.Int("kept", len(ordered)),
		zap.Int("sources", len(rc.Sources)),
		zap.Bool("reranked", useRerank),
	)

	return rc, nil
}

// collectSources returns one record per distinct source id in chunk order,
// preferring the catalog record over the chunk's denormalized metadata.
func (r *Retriever) collectSources(ctx context.Context, chunks []models.RetrievedChunk) []models.MedicalSource {
	seen := make(map[string]bool, len(chunks))
	var ids []string
	sources := make([]models.MedicalSource, 0, len(chunks))

	for _, c := range chunks {
		id := c.Metadata.SourceID
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
		sources = append(sources, c.Metadata.Source())
	}

	if r.sources == nil || len(ids) == 0 {
		return sources
	}

	catalog, err := r.sources.GetSources(ctx, ids)
	if err != nil {
		logger.Warn("Source catalog lookup failed, using chunk metadata", zap.Error(err))
		return sources
	}

	for i, src := range sources {
		if rec, ok := catalog[src.ID]; ok {
			sources[i] = rec
		}
	}
	return sources
}

func meanScore(chunks []models.RetrievedChunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	var sum float64
	for _, c := range chunks {
		sum += c.Score
	}
	return sum / float64(len(chunks))
}

package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/medical-control-plane/backend/internal/metrics"
	"github.com/medical-control-plane/backend/internal/models"
	"github.com/medical-control-plane/backend/pkg/logger"
)

const DefaultMaxDocumentChars = 1000

type Config struct {
	Enabled          bool
	Endpoint         string
	Model            string
	APIKey           string
	MaxDocumentChars int
	Timeout          time.Duration
}

// Reranker reorders retrieved chunks through a Cohere-style rerank API.
// It never returns an error: any failure falls back to score ordering.
type Reranker struct {
	endpoint         string
	model            string
	apiKey           string
	enabled          bool
	maxDocumentChars int
	httpClient       *http.Client
}

func New(cfg Config) *Reranker {
	if cfg.MaxDocumentChars <= 0 {
		cfg.MaxDocumentChars = DefaultMaxDocumentChars
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	r := &Reranker{
		endpoint:         cfg.Endpoint,
		model:            cfg.Model,
		apiKey:           cfg.APIKey,
		enabled:          cfg.Enabled && cfg.APIKey != "" && cfg.Endpoint != "",
		maxDocumentChars: cfg.MaxDocumentChars,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}

	if cfg.Enabled && !r.enabled {
		logger.Warn("Reranker enabled without endpoint or API key; reranking disabled")
	}

	return r
}

func (r *Reranker) Enabled() bool {
	return r.enabled
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank returns at most topK chunks. A non-positive topK keeps every chunk.
// The input slice is never modified.
func (r *Reranker) Rerank(ctx context.Context, query string, chunks []models.RetrievedChunk, topK int) []models.RetrievedChunk {
	if topK <= 0 || topK > len(chunks) {
		topK = len(chunks)
	}
	if len(chunks) == 0 {
		return []models.RetrievedChunk{}
	}

	if !r.enabled {
		return append([]models.RetrievedChunk(nil), chunks[:topK]...)
	}

	reranked, err := r.call(ctx, query, chunks, topK)
	if err != nil {
		metrics.RerankFallbacks.Inc()
		logger.Warn("Rerank failed, falling back to score ordering",
			zap.Error(err),
			zap.Int("chunks", len(chunks)),
		)
		return ByScore(chunks, topK)
	}

	logger.Debug("Chunks reranked", zap.Int("input", len(chunks)), zap.Int("output", len(reranked)))
	return reranked
}

func (r *Reranker) call(ctx context.Context, query string, chunks []models.RetrievedChunk, topK int) ([]models.RetrievedChunk, error) {
	documents := make([]string, len(chunks))
	for i, chunk := range chunks {
		documents[i] = truncateRunes(chunk.Text, r.maxDocumentChars)
	}

	body, err := json.Marshal(rerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: documents,
		TopN:      topK,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("rerank returned status %d", resp.StatusCode)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse rerank response: %w", err)
	}

	out := make([]models.RetrievedChunk, 0, topK)
	for _, res := range parsed.Results {
		if len(out) == topK {
			break
		}
		if res.Index < 0 || res.Index >= len(chunks) {
			continue
		}
		chunk := chunks[res.Index]
		chunk.Score = res.RelevanceScore
		out = append(out, chunk)
	}

	return out, nil
}

// ByScore returns a copy of chunks sorted by descending score, truncated to
// topK. Ties keep their input order.
func ByScore(chunks []models.RetrievedChunk, topK int) []models.RetrievedChunk {
	sorted := make([]models.RetrievedChunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	if topK > 0 && topK < len(sorted) {
		sorted = sorted[:topK]
	}
	return sorted
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medical-control-plane/backend/internal/models"
	"github.com/medical-control-plane/backend/pkg/apperr"
)

type fakeEmbedder struct {
	err error
}

func (f fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

type fakeSearcher struct {
	results []models.RetrievedChunk
	err     error
	topK    int
	filter  models.SearchFilter
}

func (f *fakeSearcher) Search(ctx context.Context, embedding []float32, topK int, filter models.SearchFilter) ([]models.RetrievedChunk, error) {
	f.topK = topK
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	if topK < len(f.results) {
		return f.results[:topK], nil
	}
	return f.results, nil
}

type reverseReranker struct {
	called bool
}

func (r *reverseReranker) Rerank(ctx context.Context, query string, chunks []models.RetrievedChunk, topK int) []models.RetrievedChunk {
	r.called = true
	out := make([]models.RetrievedChunk, 0, len(chunks))
	for i := len(chunks) - 1; i >= 0 && len(out) < topK; i-- {
		out = append(out, chunks[i])
	}
	return out
}

type fakeCatalog struct {
	sources map[string]models.MedicalSource
	err     error
}

func (f fakeCatalog) GetSources(ctx context.Context, ids []string) (map[string]models.MedicalSource, error) {
	return f.sources, f.err
}

func chunk(id, sourceID string, score float64) models.RetrievedChunk {
	return models.RetrievedChunk{
		DocumentChunk: models.DocumentChunk{
			ID:   id,
			Text: "text " + id,
			Metadata: models.ChunkMetadata{
				SourceID: sourceID,
				Title:    "Title " + sourceID,
				Type:     models.SourceGuideline,
			},
		},
		Score: score,
	}
}

func TestRetrieveFiltersAndSorts(t *testing.T) {
	searcher := &fakeSearcher{results: []models.RetrievedChunk{
		chunk("c1", "s1", 0.5),
		chunk("c2", "s2", 0.9),
		chunk("c3", "s1", 0.2),
		chunk("c4", "s3", 0.7),
	}}
	r := NewRetriever(Config{TopK: 10, MinScore: 0.3}, fakeEmbedder{}, searcher, nil, nil)

	rc, err := r.Retrieve(context.Background(), "sepsis fluids", Filters{Specialty: "critical_care", DocumentType: models.SourceProtocol})
	require.NoError(t, err)

	assert.Equal(t, 10, searcher.topK)
	assert.Equal(t, "critical_care", searcher.filter.Specialty)
	assert.Equal(t, models.SourceProtocol, searcher.filter.DocumentType)

	require.Len(t, rc.Chunks, 3)
	assert.Equal(t, "c2", rc.Chunks[0].ID)
	assert.Equal(t, "c4", rc.Chunks[1].ID)
	assert.Equal(t, "c1", rc.Chunks[2].ID)
	assert.Equal(t, 4, rc.TotalRetrieved)
	assert.InDelta(t, 0.7, rc.Confidence, 1e-9)

	require.Len(t, rc.Sources, 3)
	assert.Equal(t, "s2", rc.Sources[0].ID)
	assert.Equal(t, "sepsis fluids", rc.Query)
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	searcher := &fakeSearcher{results: []models.RetrievedChunk{
		chunk("c1", "s1", 0.9),
		chunk("c2", "s1", 0.8),
		chunk("c3", "s1", 0.7),
	}}
	r := NewRetriever(Config{}, fakeEmbedder{}, searcher, nil, nil)

	rc, err := r.Retrieve(context.Background(), "q", Filters{TopK: 2})
	require.NoError(t, err)
	assert.Len(t, rc.Chunks, 2)
	require.Len(t, rc.Sources, 1)
}

func TestRetrieveOverFetchesWhenReranking(t *testing.T) {
	results := make([]models.RetrievedChunk, 0, 9)
	for i := 0; i < 9; i++ {
		results = append(results, chunk(string(rune('a'+i)), "s", 0.9-float64(i)*0.05))
	}
	searcher := &fakeSearcher{results: results}
	reranker := &reverseReranker{}
	r := NewRetriever(Config{TopK: 3}, fakeEmbedder{}, searcher, reranker, nil)

	rc, err := r.Retrieve(context.Background(), "q", Filters{Rerank: true})
	require.NoError(t, err)

	assert.True(t, reranker.called)
	assert.Equal(t, 9, searcher.topK)
	require.Len(t, rc.Chunks, 3)
	assert.Equal(t, "i", rc.Chunks[0].ID)
}

func TestRetrieveSkipsRerankWhenNotRequested(t *testing.T) {
	searcher := &fakeSearcher{results: []models.RetrievedChunk{chunk("c1", "s1", 0.9)}}
	reranker := &reverseReranker{}
	r := NewRetriever(Config{TopK: 3}, fakeEmbedder{}, searcher, reranker, nil)

	_, err := r.Retrieve(context.Background(), "q", Filters{})
	require.NoError(t, err)
	assert.False(t, reranker.called)
	assert.Equal(t, 3, searcher.topK)
}

func TestRetrievePrefersCatalogSources(t *testing.T) {
	searcher := &fakeSearcher{results: []models.RetrievedChunk{
		chunk("c1", "s1", 0.9),
		chunk("c2", "s2", 0.8),
	}}
	catalog := fakeCatalog{sources: map[string]models.MedicalSource{
		"s1": {ID: "s1", Title: "Catalog Title", Type: models.SourceGuideline, Organization: "WHO"},
	}}
	r := NewRetriever(Config{}, fakeEmbedder{}, searcher, nil, catalog)

	rc, err := r.Retrieve(context.Background(), "q", Filters{})
	require.NoError(t, err)
	require.Len(t, rc.Sources, 2)
	assert.Equal(t, "Catalog Title", rc.Sources[0].Title)
	assert.Equal(t, "Title s2", rc.Sources[1].Title)

	r = NewRetriever(Config{}, fakeEmbedder{}, searcher, nil, fakeCatalog{err: errors.New("locked")})
	rc, err = r.Retrieve(context.Background(), "q", Filters{})
	require.NoError(t, err)
	assert.Equal(t, "Title s1", rc.Sources[0].Title)
}

func TestRetrieveEmptyResults(t *testing.T) {
	r := NewRetriever(Config{}, fakeEmbedder{}, &fakeSearcher{}, nil, nil)

	rc, err := r.Retrieve(context.Background(), "q", Filters{})
	require.NoError(t, err)
	assert.Empty(t, rc.Chunks)
	assert.Empty(t, rc.Sources)
	assert.Equal(t, 0.0, rc.Confidence)
}

func TestRetrieveErrors(t *testing.T) {
	_, err := NewRetriever(Config{}, fakeEmbedder{}, &fakeSearcher{}, nil, nil).Retrieve(context.Background(), "  ", Filters{})
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))

	notConfigured := apperr.New(apperr.KindNotConfigured, "embedding.Embed", "missing api key")
	_, err = NewRetriever(Config{}, fakeEmbedder{err: notConfigured}, &fakeSearcher{}, nil, nil).Retrieve(context.Background(), "q", Filters{})
	assert.True(t, errors.Is(err, apperr.NotConfigured))

	_, err = NewRetriever(Config{}, fakeEmbedder{}, &fakeSearcher{err: errors.New("grpc down")}, nil, nil).Retrieve(context.Background(), "q", Filters{})
	assert.Equal(t, apperr.KindUpstreamFailure, apperr.KindOf(err))

	noIndex := apperr.New(apperr.KindNotConfigured, "milvus.Search", "vector index is not configured")
	_, err = NewRetriever(Config{}, fakeEmbedder{}, &fakeSearcher{err: noIndex}, nil, nil).Retrieve(context.Background(), "q", Filters{})
	assert.Equal(t, apperr.KindNotConfigured, apperr.KindOf(err))
}

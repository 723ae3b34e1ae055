package ingestion

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medical-control-plane/backend/internal/models"
	"github.com/medical-control-plane/backend/pkg/apperr"
)

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 0.5}
	}
	return out, nil
}

type fakeIndex struct {
	chunks     []models.DocumentChunk
	embeddings [][]float32
}

func (f *fakeIndex) Insert(ctx context.Context, chunks []models.DocumentChunk, embeddings [][]float32) error {
	f.chunks = append(f.chunks, chunks...)
	f.embeddings = append(f.embeddings, embeddings...)
	return nil
}

type fakeCatalog struct {
	saved []models.MedicalSource
}

func (f *fakeCatalog) SaveSource(ctx context.Context, source models.MedicalSource) error {
	f.saved = append(f.saved, source)
	return nil
}

func TestIngestPlainText(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := &fakeIndex{}
	catalog := &fakeCatalog{}
	svc := NewService(newTestChunker(), embedder, index, catalog)

	content := strings.Join(tenWordSentences(12), " ")
	chunks, err := svc.Ingest(context.Background(), Request{
		Content: content,
		Source:  testSource(),
		Options: &Options{ChunkSize: 50, Overlap: 10, RespectBoundaries: true},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, chunks)
	assert.Len(t, index.chunks, len(chunks))
	assert.Len(t, index.embeddings, len(chunks))
	require.Len(t, catalog.saved, 1)
	assert.Equal(t, "src-1", catalog.saved[0].ID)
}

func TestIngestHTMLIsCleaned(t *testing.T) {
	index := &fakeIndex{}
	svc := NewService(newTestChunker(), &fakeEmbedder{}, index, nil)

	html := `<html><head><title>T</title><script>var x = 1;</script></head>
<body><nav>Menu</nav><p>Give oxygen early.</p>
<p>Monitor lactate closely.</p><footer>Copyright</footer></body></html>`

	chunks, err := svc.Ingest(context.Background(), Request{
		Content:     html,
		ContentType: "text/html",
		Source:      testSource(),
	})
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, "Give oxygen early. Monitor lactate closely.", chunks[0].Text)
	assert.NotContains(t, chunks[0].Text, "Menu")
	assert.NotContains(t, chunks[0].Text, "Copyright")
}

func TestIngestRejectsInvalidSource(t *testing.T) {
	svc := NewService(newTestChunker(), &fakeEmbedder{}, &fakeIndex{}, nil)

	_, err := svc.Ingest(context.Background(), Request{
		Content: "Some text.",
		Source:  models.MedicalSource{ID: "x", Title: "y", Type: "blog"},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}

func TestIngestPropagatesEmbeddingFailure(t *testing.T) {
	index := &fakeIndex{}
	embedErr := apperr.New(apperr.KindNotConfigured, "embedding.EmbedBatch", "missing api key")
	svc := NewService(newTestChunker(), &fakeEmbedder{err: embedErr}, index, nil)

	_, err := svc.Ingest(context.Background(), Request{Content: "Some text.", Source: testSource()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.NotConfigured))
	assert.Empty(t, index.chunks)
}

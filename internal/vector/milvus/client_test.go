package milvus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medical-control-plane/backend/internal/models"
	"github.com/medical-control-plane/backend/pkg/apperr"
)

func TestBuildFilter(t *testing.T) {
	assert.Equal(t, "", buildFilter(models.SearchFilter{}))
	assert.Equal(t, `doc_type == "guideline"`, buildFilter(models.SearchFilter{DocumentType: models.SourceGuideline}))
	assert.Equal(t,
		`doc_type == "protocol" && specialty == "cardiology"`,
		buildFilter(models.SearchFilter{DocumentType: models.SourceProtocol, Specialty: "cardiology"}))
	assert.Equal(t, `specialty == "a\"b\\c"`, buildFilter(models.SearchFilter{Specialty: `a"b\c`}))
}

func TestSourceFilterCoversEverySourceOnce(t *testing.T) {
	chunk := func(source string) models.DocumentChunk {
		return models.DocumentChunk{Metadata: models.ChunkMetadata{SourceID: source}}
	}

	assert.Equal(t, `source_id in ["nice-ng196"]`,
		sourceFilter([]models.DocumentChunk{chunk("nice-ng196"), chunk("nice-ng196"), chunk("nice-ng196")}))
	assert.Equal(t, `source_id in ["a", "b\"c"]`,
		sourceFilter([]models.DocumentChunk{chunk("a"), chunk(`b"c`), chunk("a")}))
	assert.Equal(t, "", sourceFilter([]models.DocumentChunk{chunk("")}))
}

func TestNormalizeScore(t *testing.T) {
	assert.Equal(t, 0.0, normalizeScore(-0.3))
	assert.Equal(t, 1.0, normalizeScore(1.0001))
	assert.InDelta(t, 0.42, normalizeScore(0.42), 1e-6)
}

func TestRecordRoundTrip(t *testing.T) {
	chunk := models.DocumentChunk{
		ID:         "src_chunk_2",
		Text:       "Give aspirin.",
		StartPos:   100,
		EndPos:     113,
		ChunkIndex: 2,
		TokenCount: 3,
		Metadata: models.ChunkMetadata{
			SourceID:     "src",
			Title:        "ACS Guideline",
			Type:         models.SourceGuideline,
			Organization: "AHA",
			ChunkIndex:   2,
			TotalChunks:  5,
		},
	}

	raw, err := encodeRecord(chunk)
	require.NoError(t, err)

	got, err := decodeRecord(chunk.ID, chunk.Text, raw)
	require.NoError(t, err)
	assert.Equal(t, chunk, got)

	_, err = decodeRecord("x", "y", "{broken")
	assert.Error(t, err)
}

func TestDisabledReportsNotConfigured(t *testing.T) {
	var d Disabled

	_, err := d.Search(context.Background(), []float32{1}, 5, models.SearchFilter{})
	assert.True(t, errors.Is(err, apperr.NotConfigured))

	err = d.Insert(context.Background(), nil, nil)
	assert.True(t, errors.Is(err, apperr.NotConfigured))
}

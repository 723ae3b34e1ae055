package ingestion

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medical-control-plane/backend/internal/models"
	"github.com/medical-control-plane/backend/internal/tokenizer"
	"github.com/medical-control-plane/backend/pkg/apperr"
)

func testSource() models.MedicalSource {
	return models.MedicalSource{
		ID:           "src-1",
		Title:        "Sepsis Management Guideline",
		Type:         models.SourceGuideline,
		Organization: "WHO",
		Date:         "2024-03-01",
	}
}

// tenWordSentences builds n sentences of exactly ten whitespace tokens each.
func tenWordSentences(n int) []string {
	sentences := make([]string, n)
	for i := range sentences {
		sentences[i] = fmt.Sprintf("Sentence %d has exactly ten words of clinical text here.", i)
	}
	return sentences
}

func newTestChunker() *Chunker {
	return NewChunker(tokenizer.Whitespace{}, DefaultOptions())
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("Dr. smith went home. He left! Why? ok then")
	assert.Equal(t, []string{"Dr. smith went home.", "He left!", "Why? ok then"}, got)

	assert.Empty(t, splitSentences("   \n "))
	assert.Equal(t, []string{"No terminal punctuation"}, splitSentences("No terminal punctuation"))
}

func TestChunkEmptyDocument(t *testing.T) {
	chunks, err := newTestChunker().Chunk("  ", testSource(), nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkShortDocument(t *testing.T) {
	content := strings.Join(tenWordSentences(3), " ")

	chunks, err := newTestChunker().Chunk(content, testSource(), nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, content, chunks[0].Text)
	assert.Equal(t, 30, chunks[0].TokenCount)
	assert.Equal(t, 0, chunks[0].StartPos)
	assert.Equal(t, len(content), chunks[0].EndPos)
	assert.Equal(t, 1, chunks[0].Metadata.TotalChunks)
	assert.Equal(t, "src-1_chunk_0", chunks[0].ID)
	assert.Equal(t, "WHO", chunks[0].Metadata.Organization)
}

func TestChunkExampleDocument(t *testing.T) {
	sentences := tenWordSentences(140)
	content := strings.Join(sentences, " ")

	chunks, err := newTestChunker().Chunk(content, testSource(), &Options{ChunkSize: 512, Overlap: 50, RespectBoundaries: true})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	for i, chunk := range chunks {
		assert.LessOrEqual(t, chunk.TokenCount, 512)
		assert.Equal(t, i, chunk.ChunkIndex)
		assert.Equal(t, 3, chunk.Metadata.TotalChunks)
		assert.Equal(t, i, chunk.Metadata.ChunkIndex)
	}

	lastOfFirst := sentences[50]
	assert.True(t, strings.HasSuffix(chunks[0].Text, lastOfFirst))
	assert.True(t, strings.HasPrefix(chunks[1].Text, sentences[46]))
	assert.Contains(t, chunks[1].Text, lastOfFirst)
}

func TestChunkCoversEverySentence(t *testing.T) {
	sentences := tenWordSentences(75)
	content := strings.Join(sentences, " ")

	chunks, err := newTestChunker().Chunk(content, testSource(), &Options{ChunkSize: 64, Overlap: 20, RespectBoundaries: true})
	require.NoError(t, err)

	for _, s := range sentences {
		found := false
		for _, c := range chunks {
			if strings.Contains(c.Text, s) {
				found = true
				break
			}
		}
		assert.True(t, found, "sentence missing from chunks: %s", s)
	}

	for i := 1; i < len(chunks); i++ {
		prev := splitSentences(chunks[i-1].Text)
		assert.True(t, strings.HasPrefix(chunks[i].Text, prev[len(prev)-1]) || strings.Contains(chunks[i].Text, prev[len(prev)-1]),
			"chunk %d does not overlap its predecessor", i)
		assert.LessOrEqual(t, chunks[i].TokenCount, 64)
	}
}

func TestChunkPositionsAdvanceByTextLength(t *testing.T) {
	content := strings.Join(tenWordSentences(20), " ")

	chunks, err := newTestChunker().Chunk(content, testSource(), &Options{ChunkSize: 50, Overlap: 10, RespectBoundaries: true})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].EndPos+1, chunks[i].StartPos)
		assert.Equal(t, len(chunks[i].Text), chunks[i].EndPos-chunks[i].StartPos)
	}
}

func TestChunkOversizedSentenceIsForceSplit(t *testing.T) {
	long := "Overlong " + strings.TrimSpace(strings.Repeat("token ", 24)) + "."
	content := "Short intro sentence here. " + long + " Closing remark follows."

	chunks, err := newTestChunker().Chunk(content, testSource(), &Options{ChunkSize: 10, Overlap: 3, RespectBoundaries: true})
	require.NoError(t, err)

	require.Len(t, chunks, 5)
	assert.Equal(t, "Short intro sentence here.", chunks[0].Text)
	assert.Equal(t, 10, chunks[1].TokenCount)
	assert.Equal(t, 10, chunks[2].TokenCount)
	assert.Equal(t, 5, chunks[3].TokenCount)
	assert.Equal(t, "Closing remark follows.", chunks[4].Text)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokenCount, 10)
	}
}

func TestChunkWithoutBoundariesHasNoOverlap(t *testing.T) {
	sentences := tenWordSentences(10)
	content := strings.Join(sentences, " ")

	chunks, err := newTestChunker().Chunk(content, testSource(), &Options{ChunkSize: 30, Overlap: 10, RespectBoundaries: false})
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	assert.False(t, strings.Contains(chunks[1].Text, sentences[2]))
}

func TestChunkRejectsInvalidOptions(t *testing.T) {
	cases := []Options{
		{ChunkSize: 0, Overlap: 0},
		{ChunkSize: -5, Overlap: 0},
		{ChunkSize: 100, Overlap: -1},
	}
	for _, opts := range cases {
		opts := opts
		_, err := newTestChunker().Chunk("Some text.", testSource(), &opts)
		require.Error(t, err)
		assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
	}
}

func TestChunkOverlapLargerThanChunkSize(t *testing.T) {
	sentences := tenWordSentences(10)
	content := strings.Join(sentences, " ")

	chunks, err := newTestChunker().Chunk(content, testSource(), &Options{ChunkSize: 30, Overlap: 100, RespectBoundaries: true})
	require.NoError(t, err)

	require.Len(t, chunks, 8)
	for i, c := range chunks {
		assert.Equal(t, 30, c.TokenCount)
		assert.True(t, strings.HasPrefix(c.Text, sentences[i]))
	}
}

func TestChunkTiktokenForcedSplitStaysWithinBudget(t *testing.T) {
	tok, err := tokenizer.NewTiktoken("cl100k_base")
	require.NoError(t, err)
	chunker := NewChunker(tok, DefaultOptions())

	content := strings.Repeat("at ≥ 5 µg/kg at 37 °C, pH 7.4, 患者は急性心筋梗塞 ", 40)
	chunks, err := chunker.Chunk(content, testSource(), &Options{ChunkSize: 16, Overlap: 4, RespectBoundaries: true})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokenCount, 16, "chunk %d: %q", c.ChunkIndex, c.Text)
		assert.True(t, utf8.ValidString(c.Text), "chunk %d is not valid UTF-8", c.ChunkIndex)
	}
}

func TestStepSeedsOverlapFromTrailingSentences(t *testing.T) {
	c := newTestChunker()
	step := c.step(Options{ChunkSize: 25, Overlap: 12, RespectBoundaries: true})

	var acc accumulator
	acc = step(acc, sentence{text: "A", tokens: 10})
	acc = step(acc, sentence{text: "B", tokens: 6})
	acc = step(acc, sentence{text: "C", tokens: 5})
	acc = step(acc, sentence{text: "D", tokens: 8})

	require.Len(t, acc.chunks, 1)
	assert.Equal(t, "A B C", acc.chunks[0])
	require.Len(t, acc.buffer, 3)
	assert.Equal(t, "B", acc.buffer[0].text)
	assert.Equal(t, "D", acc.buffer[2].text)
	assert.Equal(t, 19, acc.tokens)
}

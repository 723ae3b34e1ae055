package confidence

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medical-control-plane/backend/internal/models"
)

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
}

func newTestScorer() *Scorer {
	return NewScorer(Config{
		RecentYears:                3,
		AuthoritativeOrganizations: []string{"WHO", "CDC", "World Health Organization"},
		Now:                        fixedNow,
	})
}

func chunks(n int) []models.RetrievedChunk {
	out := make([]models.RetrievedChunk, n)
	for i := range out {
		out[i] = models.RetrievedChunk{Score: 0.8}
	}
	return out
}

func TestScoreZeroChunks(t *testing.T) {
	score := newTestScorer().Score(models.RAGContext{
		Confidence: 0.95,
		Sources:    []models.MedicalSource{{ID: "a", Date: "2024"}},
	})

	assert.Equal(t, 0.0, score.Score)
	assert.Equal(t, models.ConfidenceVeryLow, score.Level)
	assert.True(t, score.RequiresDisclaimer)
	assert.Contains(t, score.SuggestedActions, "Rephrase the query with more specific clinical terms")
}

func TestScoreZeroSources(t *testing.T) {
	score := newTestScorer().Score(models.RAGContext{Confidence: 0.95, Chunks: chunks(3)})
	assert.Equal(t, 0.0, score.Score)
	assert.Equal(t, models.ConfidenceVeryLow, score.Level)
}

func TestScoreDiverseAuthoritativeSources(t *testing.T) {
	rc := models.RAGContext{
		Confidence: 0.75,
		Chunks:     chunks(3),
		Sources: []models.MedicalSource{
			{ID: "a", Organization: "WHO", Date: "2024-01-10"},
			{ID: "b", Authoritative: true, Date: "2023"},
			{ID: "c", Organization: "Local Clinic", Date: "2019"},
		},
	}

	score := newTestScorer().Score(rc)

	expected := math.Min(0.75*1.1*1.15, 1.0)
	assert.InDelta(t, expected, score.Score, 1e-9)
	assert.GreaterOrEqual(t, score.Score, 0.75*1.1*1.15-1e-9)
	assert.Equal(t, models.ConfidenceHigh, score.Level)
	assert.False(t, score.RequiresDisclaimer)
	assert.Empty(t, score.SuggestedActions)
	assert.Contains(t, score.Explanation, "3 relevant passages from 3 sources")
	assert.Contains(t, score.Explanation, "2 authoritative sources")
}

func TestScoreSingleChunkPenalty(t *testing.T) {
	score := newTestScorer().Score(models.RAGContext{
		Confidence: 0.9,
		Chunks:     chunks(1),
		Sources:    []models.MedicalSource{{ID: "a", Date: "2025"}},
	})

	assert.InDelta(t, 0.72, score.Score, 1e-9)
	assert.Equal(t, models.ConfidenceModerate, score.Level)
	assert.False(t, score.RequiresDisclaimer)
	assert.Equal(t, []string{"Verify key recommendations against an additional authoritative source"}, score.SuggestedActions)
}

func TestScoreStalenessPenalty(t *testing.T) {
	score := newTestScorer().Score(models.RAGContext{
		Confidence: 0.5,
		Chunks:     chunks(2),
		Sources:    []models.MedicalSource{{ID: "a", Date: "2015-02-01"}, {ID: "b"}},
	})

	assert.InDelta(t, 0.45, score.Score, 1e-9)
	assert.Equal(t, models.ConfidenceLow, score.Level)
	assert.True(t, score.RequiresDisclaimer)

	require.Len(t, score.SuggestedActions, 4)
	assert.Equal(t, "Consult current clinical practice guidelines", score.SuggestedActions[0])
	assert.Contains(t, score.SuggestedActions[3], "last 3 years")
}

func TestScoreClampsInput(t *testing.T) {
	score := newTestScorer().Score(models.RAGContext{
		Confidence: 1.7,
		Chunks:     chunks(2),
		Sources:    []models.MedicalSource{{ID: "a", Date: "2025"}},
	})
	assert.Equal(t, 1.0, score.Score)
}

func TestScoreIsDeterministicAndOrderIndependent(t *testing.T) {
	sources := []models.MedicalSource{
		{ID: "a", Organization: "CDC", Date: "2020"},
		{ID: "b", Organization: "World Health Organization (Geneva)", Date: "2018"},
		{ID: "c", Date: "2024"},
		{ID: "d"},
	}
	rc := models.RAGContext{Confidence: 0.64, Chunks: chunks(4), Sources: sources}

	reversed := make([]models.MedicalSource, len(sources))
	for i, s := range sources {
		reversed[len(sources)-1-i] = s
	}
	rcReversed := rc
	rcReversed.Sources = reversed

	s := newTestScorer()
	first := s.Score(rc)
	assert.Equal(t, first, s.Score(rc))
	assert.Equal(t, first, s.Score(rcReversed))
}

func TestAddingAuthoritativeSourceNeverDecreasesScore(t *testing.T) {
	s := newTestScorer()
	base := []models.MedicalSource{
		{ID: "a", Organization: "WHO", Date: "2010"},
		{ID: "b", Date: "2011"},
	}

	for _, conf := range []float64{0.1, 0.4, 0.65, 0.8, 0.99} {
		before := s.Score(models.RAGContext{Confidence: conf, Chunks: chunks(2), Sources: base})
		after := s.Score(models.RAGContext{
			Confidence: conf,
			Chunks:     chunks(2),
			Sources:    append(append([]models.MedicalSource{}, base...), models.MedicalSource{ID: "c", Authoritative: true, Date: "2009"}),
		})
		assert.GreaterOrEqual(t, after.Score, before.Score, "confidence %.2f", conf)
	}
}

func TestDuplicateSourcesCountOnce(t *testing.T) {
	score := newTestScorer().Score(models.RAGContext{
		Confidence: 0.7,
		Chunks:     chunks(3),
		Sources: []models.MedicalSource{
			{ID: "a", Organization: "WHO", Date: "2025"},
			{ID: "a", Organization: "WHO", Date: "2025"},
		},
	})
	assert.InDelta(t, 0.7, score.Score, 1e-9)
	assert.Contains(t, score.Explanation, "from 1 source")
}

func TestLevelThresholds(t *testing.T) {
	assert.Equal(t, models.ConfidenceHigh, Level(0.8))
	assert.Equal(t, models.ConfidenceModerate, Level(0.79))
	assert.Equal(t, models.ConfidenceModerate, Level(0.6))
	assert.Equal(t, models.ConfidenceLow, Level(0.3))
	assert.Equal(t, models.ConfidenceVeryLow, Level(0.29))
}

// Package confidence turns retrieval signals into a single trust score.
package confidence

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/medical-control-plane/backend/internal/models"
)

const (
	singleChunkPenalty   = 0.8
	sourceDiversityBoost = 1.1
	authoritativeBoost   = 1.15
	stalenessPenalty     = 0.9

	highThreshold       = 0.8
	moderateThreshold   = 0.6
	lowThreshold        = 0.3
	disclaimerThreshold = 0.7

	minDiverseSources       = 3
	minAuthoritativeSources = 2
)

var yearPattern = regexp.MustCompile(`\b(\d{4})\b`)

type Config struct {
	RecentYears                int
	AuthoritativeOrganizations []string
	Now                        func() time.Time
}

// Scorer is safe for concurrent use; it holds no per-call state.
type Scorer struct {
	recentYears   int
	organizations []string
	now           func() time.Time
}

func NewScorer(cfg Config) *Scorer {
	if cfg.RecentYears <= 0 {
		cfg.RecentYears = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	orgs := make([]string, 0, len(cfg.AuthoritativeOrganizations))
	for _, org := range cfg.AuthoritativeOrganizations {
		if org = strings.ToLower(strings.TrimSpace(org)); org != "" {
			orgs = append(orgs, org)
		}
	}

	return &Scorer{
		recentYears:   cfg.RecentYears,
		organizations: orgs,
		now:           cfg.Now,
	}
}

type signals struct {
	chunks        int
	sources       int
	authoritative int
	recent        int
}

// Score adjusts rc.Confidence by the retrieval signals. Only counts and
// membership of rc.Chunks and rc.Sources matter, never their order.
func (s *Scorer) Score(rc models.RAGContext) models.ConfidenceScore {
	sig := s.collect(rc)
	score := s.adjust(rc.Confidence, sig)
	level := Level(score)

	return models.ConfidenceScore{
		Score:              score,
		Level:              level,
		RequiresDisclaimer: score < disclaimerThreshold,
		SuggestedActions:   s.suggestedActions(level, sig),
		Explanation:        explanation(level, sig),
	}
}

func (s *Scorer) collect(rc models.RAGContext) signals {
	sig := signals{chunks: len(rc.Chunks)}

	seen := make(map[string]struct{}, len(rc.Sources))
	currentYear := s.now().Year()

	for _, src := range rc.Sources {
		key := src.ID
		if key == "" {
			key = "title:" + src.Title
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		if s.isAuthoritative(src) {
			sig.authoritative++
		}
		if year, ok := parseYear(src.Date); ok && year >= currentYear-s.recentYears && year <= currentYear {
			sig.recent++
		}
	}
	sig.sources = len(seen)

	return sig
}

func (s *Scorer) adjust(base float64, sig signals) float64 {
	if sig.chunks == 0 || sig.sources == 0 {
		return 0
	}

	score := clamp(base)

	if sig.chunks == 1 {
		score *= singleChunkPenalty
	}
	if sig.sources >= minDiverseSources {
		score = math.Min(score*sourceDiversityBoost, 1)
	}
	if sig.authoritative >= minAuthoritativeSources {
		score = math.Min(score*authoritativeBoost, 1)
	}
	if sig.recent == 0 {
		score *= stalenessPenalty
	}

	return clamp(score)
}

func (s *Scorer) isAuthoritative(src models.MedicalSource) bool {
	if src.Authoritative {
		return true
	}
	org := strings.ToLower(strings.TrimSpace(src.Organization))
	if org == "" {
		return false
	}
	for _, known := range s.organizations {
		if org == known {
			return true
		}
		// long names match when embedded, e.g. "World Health Organization (Geneva)"
		if strings.Contains(known, " ") && strings.Contains(org, known) {
			return true
		}
	}
	return false
}

func (s *Scorer) suggestedActions(level models.ConfidenceLevel, sig signals) []string {
	actions := []string{}

	switch level {
	case models.ConfidenceLow, models.ConfidenceVeryLow:
		actions = append(actions,
			"Consult current clinical practice guidelines",
			"Seek specialist consultation for this question",
			"Refer to institutional protocols",
		)
	case models.ConfidenceModerate:
		actions = append(actions, "Verify key recommendations against an additional authoritative source")
	}

	if sig.chunks == 0 {
		actions = append(actions, "Rephrase the query with more specific clinical terms")
	}
	if sig.sources > 0 && sig.recent == 0 {
		actions = append(actions, fmt.Sprintf("Check for updated guidance; no source is from the last %d years", s.recentYears))
	}

	return actions
}

func explanation(level models.ConfidenceLevel, sig signals) string {
	evidence := fmt.Sprintf("%d relevant %s from %d %s",
		sig.chunks, plural(sig.chunks, "passage", "passages"),
		sig.sources, plural(sig.sources, "source", "sources"))
	if sig.authoritative > 0 {
		evidence += fmt.Sprintf(", including %d authoritative %s",
			sig.authoritative, plural(sig.authoritative, "source", "sources"))
	}

	switch level {
	case models.ConfidenceHigh:
		return fmt.Sprintf("High confidence: the answer is supported by %s.", evidence)
	case models.ConfidenceModerate:
		return fmt.Sprintf("Moderate confidence: %s support the answer, but coverage may be incomplete.", evidence)
	case models.ConfidenceLow:
		return fmt.Sprintf("Low confidence: only %s were found; evidence is limited.", evidence)
	default:
		if sig.chunks == 0 {
			return "Very low confidence: no relevant medical sources were found for this query (0 passages from 0 sources)."
		}
		return fmt.Sprintf("Very low confidence: %s offer little support for an answer.", evidence)
	}
}

// Level maps an adjusted score onto its confidence tier.
func Level(score float64) models.ConfidenceLevel {
	switch {
	case score >= highThreshold:
		return models.ConfidenceHigh
	case score >= moderateThreshold:
		return models.ConfidenceModerate
	case score >= lowThreshold:
		return models.ConfidenceLow
	default:
		return models.ConfidenceVeryLow
	}
}

func parseYear(date string) (int, bool) {
	m := yearPattern.FindStringSubmatch(date)
	if m == nil {
		return 0, false
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return year, true
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

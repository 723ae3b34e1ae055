// Package intent classifies free-text queries through a cascade of stages:
// keyword tables, rule-based NLU, then an optional LLM call.
package intent

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medical-control-plane/backend/internal/llm"
	"github.com/medical-control-plane/backend/internal/metrics"
	"github.com/medical-control-plane/backend/internal/models"
	"github.com/medical-control-plane/backend/pkg/logger"
)

// Completer is the chat-completion call used by the LLM stage.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// StageResult is what one stage hands to the next. Final stops the cascade.
type StageResult struct {
	Classification models.IntentClassification
	Final          bool

	tools []toolMatch
}

// Stage maps a query and the previous stage's result to a new result.
type Stage func(ctx context.Context, query string, prior StageResult) StageResult

// Compose runs stages left to right and stops at the first Final result.
func Compose(stages ...Stage) Stage {
	return func(ctx context.Context, query string, prior StageResult) StageResult {
		res := prior
		for _, stage := range stages {
			res = stage(ctx, query, res)
			if res.Final {
				break
			}
		}
		return res
	}
}

type Config struct {
	NLUConfidenceFloor float64
	ToolConfidence     float64
	Triggers           []ToolTrigger
	Now                func() time.Time
}

type Classifier struct {
	run Stage
	now func() time.Time
}

// NewClassifier builds the cascade. A nil completer disables the LLM stage.
func NewClassifier(cfg Config, completer Completer) *Classifier {
	if cfg.NLUConfidenceFloor <= 0 {
		cfg.NLUConfidenceFloor = 0.6
	}
	if cfg.ToolConfidence <= 0 {
		cfg.ToolConfidence = 0.85
	}
	if cfg.Triggers == nil {
		cfg.Triggers = DefaultToolTriggers()
	} else {
		cfg.Triggers = compileTriggers(append([]ToolTrigger(nil), cfg.Triggers...))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	stages := []Stage{
		KeywordStage(cfg.Triggers, cfg.ToolConfidence),
		NLUStage(cfg.Triggers, cfg.NLUConfidenceFloor),
	}
	if completer != nil {
		stages = append(stages, LLMStage(completer, toolIDs(cfg.Triggers)))
	}

	return &Classifier{
		run: Compose(stages...),
		now: cfg.Now,
	}
}

// Classify never fails; a failing LLM call degrades to the NLU result.
func (c *Classifier) Classify(ctx context.Context, query string) models.IntentClassification {
	res := c.run(ctx, query, StageResult{})
	cls := finalize(res.Classification, c.now())

	metrics.IntentClassifications.WithLabelValues(string(cls.Method), string(cls.PrimaryIntent)).Inc()
	if cls.IsEmergency {
		severity := string(cls.EmergencySeverity)
		if severity == "" {
			severity = "unknown"
		}
		metrics.EmergenciesDetected.WithLabelValues(severity).Inc()
	}

	logger.Debug("Query classified",
		zap.String("intent", string(cls.PrimaryIntent)),
		zap.String("method", string(cls.Method)),
		zap.Float64("confidence", cls.Confidence),
		zap.Bool("emergency", cls.IsEmergency),
	)

	return cls
}

func finalize(cls models.IntentClassification, now time.Time) models.IntentClassification {
	if cls.PrimaryIntent == "" {
		cls.PrimaryIntent = models.IntentGeneralQuery
	}
	if cls.Method == "" {
		cls.Method = models.MethodKeyword
	}
	if cls.IsEmergency {
		cls.PrimaryIntent = models.IntentEmergency
	}
	if cls.ExtractedParameters == nil {
		cls.ExtractedParameters = map[string]interface{}{}
	}
	if cls.EmergencyKeywords == nil {
		cls.EmergencyKeywords = []string{}
	}
	if cls.MatchedPatterns == nil {
		cls.MatchedPatterns = []string{}
	}
	cls.AlternativeIntents = excludePrimary(cls.AlternativeIntents, cls.PrimaryIntent, cls.ToolID)
	cls.ClassifiedAt = now
	return cls
}

// excludePrimary ranks alternatives by descending confidence, then drops the
// chosen intent and lower-ranked repeats. Ties keep stage order.
func excludePrimary(alts []models.AlternativeIntent, primary models.Intent, toolID string) []models.AlternativeIntent {
	if len(alts) == 0 {
		return nil
	}
	ranked := append([]models.AlternativeIntent(nil), alts...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})
	out := make([]models.AlternativeIntent, 0, len(ranked))
	seen := map[string]bool{}
	for _, alt := range ranked {
		if alt.Intent == primary && alt.ToolID == toolID {
			continue
		}
		if alt.Intent == primary && primary != models.IntentClinicalTool {
			continue
		}
		key := string(alt.Intent) + "/" + alt.ToolID
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, alt)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

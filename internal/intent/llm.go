package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/medical-control-plane/backend/internal/llm"
	"github.com/medical-control-plane/backend/internal/metrics"
	"github.com/medical-control-plane/backend/internal/models"
	"github.com/medical-control-plane/backend/pkg/logger"
)

const classificationPrompt = `You classify messages sent to a clinical decision support assistant.

Intents:
- general_query: a clinical question answered from medical literature
- clinical_tool: a request to run a clinical calculator (tool ids: %s)
- emergency: the message describes an acute, possibly life-threatening situation
- administrative: accounts, scheduling, billing or other non-clinical requests
- medical_reference: drug or reference lookups such as doses, interactions or definitions

Respond with a JSON object only:
{"intent": "<intent>", "tool_id": "<tool id or empty>", "confidence": <0..1>, "alternatives": [{"intent": "<intent>", "confidence": <0..1>}]}`

type llmClassification struct {
	Intent       string  `json:"intent"`
	ToolID       string  `json:"tool_id"`
	Confidence   float64 `json:"confidence"`
	Alternatives []struct {
		Intent     string  `json:"intent"`
		ToolID     string  `json:"tool_id"`
		Confidence float64 `json:"confidence"`
	} `json:"alternatives"`
}

// LLMStage asks a language model to classify the query. Any failure, or an
// answer outside the intent enum, returns the prior result unchanged.
func LLMStage(completer Completer, tools []string) Stage {
	known := make(map[string]bool, len(tools))
	for _, id := range tools {
		known[id] = true
	}
	system := fmt.Sprintf(classificationPrompt, strings.Join(tools, ", "))

	return func(ctx context.Context, query string, prior StageResult) StageResult {
		degraded := prior
		degraded.Final = true

		resp, err := completer.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: system,
			UserPrompt:   query,
			MaxTokens:    200,
			JSON:         true,
		})
		if err == nil {
			var cls models.IntentClassification
			cls, err = parseClassification(resp, known, prior.Classification)
			if err == nil {
				return StageResult{Classification: cls, Final: true}
			}
		}

		metrics.LLMFallbackFailures.Inc()
		logger.Warn("LLM classification failed, keeping NLU result",
			zap.Error(err),
			zap.String("intent", string(prior.Classification.PrimaryIntent)),
		)
		return degraded
	}
}

func parseClassification(resp *llm.CompletionResponse, known map[string]bool, prior models.IntentClassification) (models.IntentClassification, error) {
	var out llmClassification
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &out); err != nil {
		return prior, fmt.Errorf("invalid classification JSON: %w", err)
	}

	intent := models.Intent(out.Intent)
	if !intent.Valid() {
		return prior, fmt.Errorf("unknown intent %q", out.Intent)
	}
	if intent == models.IntentClinicalTool && !known[out.ToolID] {
		return prior, fmt.Errorf("unknown tool %q", out.ToolID)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return prior, errors.New("confidence out of range")
	}

	cls := prior
	cls.PrimaryIntent = intent
	cls.Confidence = out.Confidence
	cls.Method = models.MethodLLM
	cls.ModelVersion = resp.Model
	cls.ToolID = ""
	if intent == models.IntentClinicalTool {
		cls.ToolID = out.ToolID
	}
	cls.IsEmergency = intent == models.IntentEmergency
	cls.MatchedPatterns = append(append([]string(nil), prior.MatchedPatterns...), "llm:"+out.Intent)

	alts := []models.AlternativeIntent{}
	for _, a := range out.Alternatives {
		ai := models.Intent(a.Intent)
		if !ai.Valid() || a.Confidence < 0 || a.Confidence > 1 {
			continue
		}
		if ai == models.IntentClinicalTool && a.ToolID != "" && !known[a.ToolID] {
			continue
		}
		alts = append(alts, models.AlternativeIntent{Intent: ai, ToolID: a.ToolID, Confidence: a.Confidence})
	}
	if prior.PrimaryIntent != "" {
		alts = append(alts, models.AlternativeIntent{
			Intent:     prior.PrimaryIntent,
			ToolID:     prior.ToolID,
			Confidence: prior.Confidence,
		})
	}
	cls.AlternativeIntents = alts

	return cls, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

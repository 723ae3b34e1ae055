package intent

import (
	"context"
	"regexp"
	"sort"

	"github.com/medical-control-plane/backend/internal/models"
)

const (
	emergencyConfidence  = 0.95
	strongToolConfidence = 0.9
	weakToolConfidence   = 0.6
)

type emergencyKeyword struct {
	phrase   string
	category string
	severity models.EmergencySeverity
	pattern  *regexp.Regexp
}

func emergency(phrase, category string, severity models.EmergencySeverity) emergencyKeyword {
	return emergencyKeyword{phrase: phrase, category: category, severity: severity, pattern: wordPattern(phrase)}
}

var emergencyKeywords = []emergencyKeyword{
	emergency("cardiac arrest", "cardiac", models.SeverityCritical),
	emergency("heart attack", "cardiac", models.SeverityCritical),
	emergency("not breathing", "respiratory", models.SeverityCritical),
	emergency("stopped breathing", "respiratory", models.SeverityCritical),
	emergency("choking", "respiratory", models.SeverityCritical),
	emergency("unresponsive", "neurological", models.SeverityCritical),
	emergency("unconscious", "neurological", models.SeverityCritical),
	emergency("having a stroke", "neurological", models.SeverityCritical),
	emergency("stroke symptoms", "neurological", models.SeverityCritical),
	emergency("facial droop", "neurological", models.SeverityCritical),
	emergency("anaphylaxis", "allergic", models.SeverityCritical),
	emergency("anaphylactic", "allergic", models.SeverityCritical),
	emergency("severe bleeding", "hemorrhage", models.SeverityCritical),
	emergency("suicidal", "psychiatric", models.SeverityCritical),
	emergency("overdose", "toxicological", models.SeverityCritical),

	emergency("chest pain", "cardiac", models.SeverityUrgent),
	emergency("difficulty breathing", "respiratory", models.SeverityUrgent),
	emergency("shortness of breath", "respiratory", models.SeverityUrgent),
	emergency("seizure", "neurological", models.SeverityUrgent),
	emergency("vomiting blood", "hemorrhage", models.SeverityUrgent),
	emergency("hemorrhage", "hemorrhage", models.SeverityUrgent),
	emergency("poisoning", "toxicological", models.SeverityUrgent),

	emergency("high fever", "infection", models.SeverityModerate),
	emergency("severe pain", "pain", models.SeverityModerate),
	emergency("allergic reaction", "allergic", models.SeverityModerate),
	emergency("fainted", "neurological", models.SeverityModerate),
	emergency("severe dehydration", "metabolic", models.SeverityModerate),
}

// ToolTrigger ties a clinical tool to the phrases that select it. Strong
// phrases name the tool outright; weak ones only suggest it.
type ToolTrigger struct {
	ToolID   string
	Strong   []string
	Weak     []string
	Required []string

	// InferFromParameters selects the tool when every required parameter
	// was extracted, even without a phrase match.
	InferFromParameters bool

	strong []*regexp.Regexp
	weak   []*regexp.Regexp
}

func DefaultToolTriggers() []ToolTrigger {
	return compileTriggers([]ToolTrigger{
		{
			ToolID:              "bmi",
			Strong:              []string{"bmi", "body mass index"},
			Weak:                []string{"obese", "obesity", "overweight", "underweight"},
			Required:            []string{"weight_kg", "height_cm"},
			InferFromParameters: true,
		},
		{
			ToolID:              "creatinine_clearance",
			Strong:              []string{"creatinine clearance", "crcl", "cockcroft-gault", "cockcroft gault"},
			Weak:                []string{"renal function", "kidney function", "renal dosing", "renal dose adjustment"},
			Required:            []string{"age", "weight_kg", "serum_creatinine", "sex"},
			InferFromParameters: true,
		},
		{
			ToolID:   "cha2ds2_vasc",
			Strong:   []string{"cha2ds2-vasc", "cha2ds2vasc", "chads-vasc", "chads2-vasc"},
			Weak:     []string{"atrial fibrillation", "afib", "anticoagulation", "stroke risk"},
			Required: []string{"age", "sex"},
		},
	})
}

func compileTriggers(triggers []ToolTrigger) []ToolTrigger {
	for i := range triggers {
		triggers[i].strong = compileAll(triggers[i].Strong)
		triggers[i].weak = compileAll(triggers[i].Weak)
	}
	return triggers
}

func compileAll(phrases []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(phrases))
	for i, p := range phrases {
		out[i] = wordPattern(p)
	}
	return out
}

func wordPattern(phrase string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(phrase) + `\b`)
}

func toolIDs(triggers []ToolTrigger) []string {
	ids := make([]string, len(triggers))
	for i, t := range triggers {
		ids[i] = t.ToolID
	}
	return ids
}

type toolMatch struct {
	toolID     string
	confidence float64
	phrases    []string
}

func matchTools(text string, triggers []ToolTrigger) []toolMatch {
	var matches []toolMatch
	for _, t := range triggers {
		m := toolMatch{toolID: t.ToolID}
		for i, re := range t.strong {
			if re.MatchString(text) {
				m.confidence = strongToolConfidence
				m.phrases = append(m.phrases, t.Strong[i])
			}
		}
		for i, re := range t.weak {
			if re.MatchString(text) {
				if m.confidence == 0 {
					m.confidence = weakToolConfidence
				}
				m.phrases = append(m.phrases, t.Weak[i])
			}
		}
		if len(m.phrases) > 0 {
			matches = append(matches, m)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].confidence > matches[j].confidence
	})
	return matches
}

// KeywordStage scans the emergency table and tool triggers. Any emergency
// match is final and carries the highest severity seen.
func KeywordStage(triggers []ToolTrigger, toolConfidence float64) Stage {
	return func(ctx context.Context, query string, prior StageResult) StageResult {
		text := normalize(query)
		cls := models.IntentClassification{
			PrimaryIntent:       models.IntentGeneralQuery,
			Method:              models.MethodKeyword,
			ExtractedParameters: extractParameters(text),
		}

		if text == "" {
			cls.MatchedPatterns = []string{"empty_query"}
			return StageResult{Classification: cls, Final: true}
		}

		tools := matchTools(text, triggers)

		var severity models.EmergencySeverity
		for _, ek := range emergencyKeywords {
			if !ek.pattern.MatchString(text) {
				continue
			}
			cls.EmergencyKeywords = append(cls.EmergencyKeywords, ek.phrase)
			cls.MatchedPatterns = append(cls.MatchedPatterns, "emergency:"+ek.category)
			if ek.severity.Rank() > severity.Rank() {
				severity = ek.severity
			}
		}

		if len(cls.EmergencyKeywords) > 0 {
			cls.PrimaryIntent = models.IntentEmergency
			cls.IsEmergency = true
			cls.EmergencySeverity = severity
			cls.Confidence = emergencyConfidence
			for _, m := range tools {
				cls.AlternativeIntents = append(cls.AlternativeIntents, models.AlternativeIntent{
					Intent:     models.IntentClinicalTool,
					ToolID:     m.toolID,
					Confidence: m.confidence,
				})
			}
			return StageResult{Classification: cls, Final: true}
		}

		for _, m := range tools {
			for _, p := range m.phrases {
				cls.MatchedPatterns = append(cls.MatchedPatterns, "tool:"+m.toolID+":"+p)
			}
		}

		if len(tools) > 0 && tools[0].confidence >= toolConfidence {
			cls.PrimaryIntent = models.IntentClinicalTool
			cls.ToolID = tools[0].toolID
			cls.Confidence = tools[0].confidence
			for _, m := range tools[1:] {
				cls.AlternativeIntents = append(cls.AlternativeIntents, models.AlternativeIntent{
					Intent:     models.IntentClinicalTool,
					ToolID:     m.toolID,
					Confidence: m.confidence,
				})
			}
			return StageResult{Classification: cls, Final: true}
		}

		return StageResult{Classification: cls, tools: tools}
	}
}

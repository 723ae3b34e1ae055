package intent

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jdkato/prose/v2"

	"github.com/medical-control-plane/backend/internal/models"
)

var (
	weightKgPattern   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:kg|kgs|kilograms?)\b`)
	weightLbPattern   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:lb|lbs|pounds?)\b`)
	heightCmPattern   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:cm|centimet(?:er|re)s?)\b`)
	heightMPattern    = regexp.MustCompile(`(\d\.\d+)\s*(?:m|meters?|metres?)\b`)
	agePattern        = regexp.MustCompile(`\b(\d{1,3})\s*-?\s*(?:years?|yrs?|yo)\b`)
	agePrefixPattern  = regexp.MustCompile(`\bage(?:d)?\s*(?:of|is|=|:)?\s*(\d{1,3})\b`)
	creatininePattern = regexp.MustCompile(`creatinine(?:\s+(?:of|is|was|level))?\s*[:=]?\s*(\d+(?:\.\d+)?)`)
	femalePattern     = regexp.MustCompile(`\b(?:female|woman|lady|girl)\b`)
	malePattern       = regexp.MustCompile(`\b(?:male|man|gentleman|boy)\b`)
)

var riskFactors = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"hypertension", regexp.MustCompile(`\b(?:hypertension|hypertensive|high blood pressure)\b`)},
	{"diabetes", regexp.MustCompile(`\b(?:diabetes|diabetic)\b`)},
	{"heart_failure", regexp.MustCompile(`\b(?:heart failure|chf)\b`)},
	{"stroke_history", regexp.MustCompile(`\b(?:prior stroke|previous stroke|history of stroke|tia|transient ischemic attack|thromboembolism)\b`)},
	{"vascular_disease", regexp.MustCompile(`\b(?:vascular disease|myocardial infarction|prior mi|peripheral arter(?:y|ial) disease)\b`)},
}

var knownDrugs = map[string]bool{
	"amiodarone": true, "amoxicillin": true, "apixaban": true, "aspirin": true,
	"atorvastatin": true, "ceftriaxone": true, "clopidogrel": true, "dabigatran": true,
	"digoxin": true, "enoxaparin": true, "furosemide": true, "gentamicin": true,
	"heparin": true, "insulin": true, "lisinopril": true, "metformin": true,
	"metoprolol": true, "morphine": true, "piperacillin": true, "prednisone": true,
	"rivaroxaban": true, "vancomycin": true, "warfarin": true, "paracetamol": true,
	"acetaminophen": true, "ibuprofen": true,
}

var administrativePhrases = []string{"appointment", "schedule", "billing", "invoice", "insurance",
	"password", "account", "subscription", "login", "log in", "refund", "opening hours"}

var referencePhrases = []string{"dose", "dosage", "dosing", "side effect", "side effects",
	"contraindication", "contraindications", "interaction", "interactions", "mechanism of action",
	"half-life", "pharmacokinetics", "definition", "define", "what is"}

var generalPhrases = []string{"treatment", "treat", "management", "manage", "guideline", "guidelines",
	"diagnosis", "diagnose", "symptoms", "recommend", "recommended", "first-line", "therapy"}

var (
	administrativePatterns = compileAll(administrativePhrases)
	referencePatterns      = compileAll(referencePhrases)
	generalPatterns        = compileAll(generalPhrases)
)

// intentOrder breaks score ties.
var intentOrder = []models.Intent{
	models.IntentClinicalTool,
	models.IntentAdministrative,
	models.IntentMedicalReference,
	models.IntentGeneralQuery,
}

// extractParameters pulls clinical values out of normalized text. Weights
// are in kg, heights in cm, creatinine in mg/dL.
func extractParameters(text string) map[string]interface{} {
	params := map[string]interface{}{}

	if v, ok := firstNumber(weightKgPattern, text); ok {
		params["weight_kg"] = v
	} else if v, ok := firstNumber(weightLbPattern, text); ok {
		params["weight_kg"] = round(v*0.45359237, 1)
	}

	if v, ok := firstNumber(heightCmPattern, text); ok {
		params["height_cm"] = v
	} else if v, ok := firstNumber(heightMPattern, text); ok {
		params["height_cm"] = round(v*100, 1)
	}

	if v, ok := firstNumber(agePattern, text); ok {
		params["age"] = v
	} else if v, ok := firstNumber(agePrefixPattern, text); ok {
		params["age"] = v
	}

	if v, ok := firstNumber(creatininePattern, text); ok {
		params["serum_creatinine"] = v
	}

	switch {
	case femalePattern.MatchString(text):
		params["sex"] = "female"
	case malePattern.MatchString(text):
		params["sex"] = "male"
	}

	for _, rf := range riskFactors {
		if rf.pattern.MatchString(text) {
			params[rf.name] = true
		}
	}

	return params
}

func firstNumber(re *regexp.Regexp, text string) (float64, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

type lexical struct {
	drugs    []string
	numbers  int
	question bool
}

var (
	taggerOnce  sync.Once
	taggerModel *prose.Model
)

// tagModel loads the part-of-speech model on first use and shares it across
// queries. A nil model makes prose fall back to loading its own.
func tagModel() *prose.Model {
	taggerOnce.Do(func() {
		doc, err := prose.NewDocument("warm up",
			prose.WithSegmentation(false),
			prose.WithExtraction(false),
		)
		if err == nil {
			taggerModel = doc.Model
		}
	})
	return taggerModel
}

// analyze tokenizes and tags the query. Tagging failures leave only the
// punctuation-based question signal.
func analyze(query string) lexical {
	var lex lexical
	lex.question = strings.Contains(query, "?")

	doc, err := prose.NewDocument(query,
		prose.UsingModel(tagModel()),
		prose.WithSegmentation(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return lex
	}

	seen := map[string]bool{}
	for _, tok := range doc.Tokens() {
		word := strings.ToLower(tok.Text)
		if knownDrugs[word] && !seen[word] {
			seen[word] = true
			lex.drugs = append(lex.drugs, word)
		}
		switch tok.Tag {
		case "CD":
			lex.numbers++
		case "WP", "WRB", "WDT":
			lex.question = true
		}
	}
	return lex
}

func matchedPhrases(text string, phrases []string, patterns []*regexp.Regexp) []string {
	var out []string
	for i, re := range patterns {
		if re.MatchString(text) {
			out = append(out, phrases[i])
		}
	}
	return out
}

// NLUStage decides between tool, reference, administrative and general
// intents from extracted parameters and phrase tables. Its result is final
// when its confidence reaches floor.
func NLUStage(triggers []ToolTrigger, floor float64) Stage {
	return func(ctx context.Context, query string, prior StageResult) StageResult {
		text := normalize(query)
		params := extractParameters(text)
		lex := analyze(query)
		if len(lex.drugs) > 0 {
			params["drugs"] = lex.drugs
		}

		patterns := append([]string(nil), prior.Classification.MatchedPatterns...)
		scores := map[models.Intent]float64{}

		toolID, toolScore := scoreTools(prior.tools, triggers, params)
		if toolID != "" {
			scores[models.IntentClinicalTool] = toolScore
			patterns = append(patterns, "tool_candidate:"+toolID)
		}

		if admin := matchedPhrases(text, administrativePhrases, administrativePatterns); len(admin) > 0 {
			scores[models.IntentAdministrative] = 0.8
			for _, p := range admin {
				patterns = append(patterns, "administrative:"+p)
			}
		}

		ref := matchedPhrases(text, referencePhrases, referencePatterns)
		switch {
		case len(ref) > 0 && len(lex.drugs) > 0:
			scores[models.IntentMedicalReference] = 0.75
		case len(ref) > 0:
			scores[models.IntentMedicalReference] = 0.65
		case len(lex.drugs) > 0:
			scores[models.IntentMedicalReference] = 0.55
		}
		for _, p := range ref {
			patterns = append(patterns, "reference:"+p)
		}
		for _, d := range lex.drugs {
			patterns = append(patterns, "drug:"+d)
		}

		general := matchedPhrases(text, generalPhrases, generalPatterns)
		switch {
		case len(general) > 0:
			scores[models.IntentGeneralQuery] = 0.7
		case lex.question:
			scores[models.IntentGeneralQuery] = 0.5
		default:
			scores[models.IntentGeneralQuery] = 0.4
		}
		for _, p := range general {
			patterns = append(patterns, "general:"+p)
		}
		if lex.numbers > 0 {
			patterns = append(patterns, fmt.Sprintf("numbers:%d", lex.numbers))
		}

		primary := models.IntentGeneralQuery
		for _, in := range intentOrder {
			if scores[in] > scores[primary] {
				primary = in
			}
		}

		cls := models.IntentClassification{
			PrimaryIntent:       primary,
			Confidence:          scores[primary],
			Method:              models.MethodNLU,
			ExtractedParameters: params,
			MatchedPatterns:     patterns,
			AlternativeIntents:  rankAlternatives(scores, primary, toolID),
		}
		if primary == models.IntentClinicalTool {
			cls.ToolID = toolID
		}

		return StageResult{
			Classification: cls,
			Final:          cls.Confidence >= floor,
			tools:          prior.tools,
		}
	}
}

// scoreTools picks the best tool candidate: phrase matches from the keyword
// stage first, then tools whose required parameters were all extracted.
// Each extracted required parameter adds 0.05, capped at 0.9.
func scoreTools(matches []toolMatch, triggers []ToolTrigger, params map[string]interface{}) (string, float64) {
	base := map[string]float64{}
	for _, m := range matches {
		base[m.toolID] = m.confidence
	}
	for _, t := range triggers {
		if _, ok := base[t.ToolID]; ok || !t.InferFromParameters || len(t.Required) == 0 {
			continue
		}
		if countPresent(t.Required, params) == len(t.Required) {
			base[t.ToolID] = 0.6
		}
	}

	bestID, bestScore := "", 0.0
	for _, t := range triggers {
		b, ok := base[t.ToolID]
		if !ok {
			continue
		}
		score := math.Min(b+0.05*float64(countPresent(t.Required, params)), 0.9)
		if score > bestScore {
			bestID, bestScore = t.ToolID, score
		}
	}
	return bestID, round(bestScore, 4)
}

func countPresent(names []string, params map[string]interface{}) int {
	n := 0
	for _, name := range names {
		if _, ok := params[name]; ok {
			n++
		}
	}
	return n
}

func rankAlternatives(scores map[models.Intent]float64, primary models.Intent, toolID string) []models.AlternativeIntent {
	var alts []models.AlternativeIntent
	for _, in := range intentOrder {
		if in == primary || scores[in] <= 0 {
			continue
		}
		alt := models.AlternativeIntent{Intent: in, Confidence: scores[in]}
		if in == models.IntentClinicalTool {
			alt.ToolID = toolID
		}
		alts = append(alts, alt)
	}
	sort.SliceStable(alts, func(i, j int) bool {
		return alts[i].Confidence > alts[j].Confidence
	})
	return alts
}

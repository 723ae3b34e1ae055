package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/medical-control-plane/backend/internal/models"
	"github.com/medical-control-plane/backend/pkg/logger"
)

type Classifier interface {
	Classify(ctx context.Context, query string) models.IntentClassification
}

type Evaluator struct {
	classifier Classifier
}

type Dataset struct {
	Items []DatasetItem `json:"items"`
}

type DatasetItem struct {
	Query             string        `json:"query"`
	ExpectedIntent    models.Intent `json:"expected_intent"`
	ExpectedEmergency bool          `json:"expected_emergency"`
	ExpectedTool      string        `json:"expected_tool,omitempty"`
}

type IntentStats struct {
	Expected  int     `json:"expected"`
	Predicted int     `json:"predicted"`
	Correct   int     `json:"correct"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
}

type Mismatch struct {
	Query    string                      `json:"query"`
	Expected models.Intent               `json:"expected"`
	Got      models.Intent               `json:"got"`
	Method   models.ClassificationMethod `json:"method"`
}

type Report struct {
	Total             int                                 `json:"total"`
	Correct           int                                 `json:"correct"`
	Accuracy          float64                             `json:"accuracy"`
	ToolChecked       int                                 `json:"tool_checked"`
	ToolCorrect       int                                 `json:"tool_correct"`
	PerIntent         map[models.Intent]*IntentStats      `json:"per_intent"`
	ByMethod          map[models.ClassificationMethod]int `json:"by_method"`
	EmergencyExpected int                                 `json:"emergency_expected"`
	EmergencyDetected int                                 `json:"emergency_detected"`
	EmergencyRecall   float64                             `json:"emergency_recall"`
	FalseEmergencies  int                                 `json:"false_emergencies"`
	Mismatches        []Mismatch                          `json:"mismatches,omitempty"`
}

func NewEvaluator(classifier Classifier) *Evaluator {
	return &Evaluator{classifier: classifier}
}

// Run classifies every item and compares the result with its labels.
// Emergency recall is 1 when the dataset has no emergencies.
func (e *Evaluator) Run(ctx context.Context, dataset *Dataset) *Report {
	logger.Info("Running classifier evaluation", zap.Int("items", len(dataset.Items)))

	report := &Report{
		Total:     len(dataset.Items),
		PerIntent: make(map[models.Intent]*IntentStats),
		ByMethod:  make(map[models.ClassificationMethod]int),
	}

	stats := func(intent models.Intent) *IntentStats {
		s, ok := report.PerIntent[intent]
		if !ok {
			s = &IntentStats{}
			report.PerIntent[intent] = s
		}
		return s
	}

	for _, item := range dataset.Items {
		cls := e.classifier.Classify(ctx, item.Query)

		report.ByMethod[cls.Method]++
		stats(item.ExpectedIntent).Expected++
		stats(cls.PrimaryIntent).Predicted++

		if cls.PrimaryIntent == item.ExpectedIntent {
			report.Correct++
			stats(cls.PrimaryIntent).Correct++
		} else {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Query:    item.Query,
				Expected: item.ExpectedIntent,
				Got:      cls.PrimaryIntent,
				Method:   cls.Method,
			})
		}

		if item.ExpectedTool != "" {
			report.ToolChecked++
			if cls.ToolID == item.ExpectedTool {
				report.ToolCorrect++
			}
		}

		switch {
		case item.ExpectedEmergency:
			report.EmergencyExpected++
			if cls.IsEmergency {
				report.EmergencyDetected++
			}
		case cls.IsEmergency:
			report.FalseEmergencies++
		}
	}

	if report.Total > 0 {
		report.Accuracy = float64(report.Correct) / float64(report.Total)
	}

	report.EmergencyRecall = 1
	if report.EmergencyExpected > 0 {
		report.EmergencyRecall = float64(report.EmergencyDetected) / float64(report.EmergencyExpected)
	}

	for _, s := range report.PerIntent {
		if s.Predicted > 0 {
			s.Precision = float64(s.Correct) / float64(s.Predicted)
		}
		if s.Expected > 0 {
			s.Recall = float64(s.Correct) / float64(s.Expected)
		}
	}

	logger.Info("Classifier evaluation completed",
		zap.Int("total", report.Total),
		zap.Float64("accuracy", report.Accuracy),
		zap.Float64("emergency_recall", report.EmergencyRecall),
	)

	return report
}

func LoadDataset(r io.Reader) (*Dataset, error) {
	var dataset Dataset
	if err := json.NewDecoder(r).Decode(&dataset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}

	for i, item := range dataset.Items {
		if strings.TrimSpace(item.Query) == "" {
			return nil, fmt.Errorf("dataset item %d has an empty query", i)
		}
		if !item.ExpectedIntent.Valid() {
			return nil, fmt.Errorf("dataset item %d has unknown intent %q", i, item.ExpectedIntent)
		}
	}

	return &dataset, nil
}

func LoadDatasetFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	return LoadDataset(f)
}

func GenerateReport(report *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, `
Intent Classification Report
============================

Total Queries: %d
Accuracy: %.1f%% (%d correct)
`, report.Total, report.Accuracy*100, report.Correct)

	if report.ToolChecked > 0 {
		fmt.Fprintf(&b, "Tool Selection: %d / %d\n", report.ToolCorrect, report.ToolChecked)
	}

	fmt.Fprintf(&b, `
Emergencies:
- Expected: %d
- Detected: %d
- Recall: %.1f%%
- False alarms: %d

Per Intent:
`, report.EmergencyExpected, report.EmergencyDetected, report.EmergencyRecall*100, report.FalseEmergencies)

	intents := make([]string, 0, len(report.PerIntent))
	for intent := range report.PerIntent {
		intents = append(intents, string(intent))
	}
	sort.Strings(intents)
	for _, intent := range intents {
		s := report.PerIntent[models.Intent(intent)]
		fmt.Fprintf(&b, "- %s: expected %d, predicted %d, precision %.2f, recall %.2f\n",
			intent, s.Expected, s.Predicted, s.Precision, s.Recall)
	}

	b.WriteString("\nStages:\n")
	for _, method := range []models.ClassificationMethod{models.MethodKeyword, models.MethodNLU, models.MethodLLM} {
		fmt.Fprintf(&b, "- %s: %d\n", method, report.ByMethod[method])
	}

	if len(report.Mismatches) > 0 {
		b.WriteString("\nMismatches:\n")
		for _, m := range report.Mismatches {
			fmt.Fprintf(&b, "- %q: expected %s, got %s (%s)\n", m.Query, m.Expected, m.Got, m.Method)
		}
	}

	return b.String()
}

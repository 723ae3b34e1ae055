package tools

import (
	"context"
	"fmt"

	"github.com/medical-control-plane/backend/internal/access"
	"github.com/medical-control-plane/backend/internal/models"
)

// annualStrokeRisk is the adjusted stroke rate (%/year) by score.
var annualStrokeRisk = []float64{0, 1.3, 2.2, 3.2, 4.0, 6.7, 9.8, 9.6, 6.7, 15.2}

type CHA2DS2VASc struct{}

func (CHA2DS2VASc) Metadata() models.ToolMetadata {
	return models.ToolMetadata{
		ID:                 "cha2ds2_vasc",
		Name:               "CHA2DS2-VASc Score",
		Description:        "Estimates stroke risk in non-valvular atrial fibrillation.",
		Category:           "cardiology",
		Version:            "1.0.0",
		RequiredPermission: string(access.UseAdvancedClinicalTools),
		Keywords:           []string{"cha2ds2-vasc", "atrial fibrillation", "stroke risk", "anticoagulation"},
	}
}

func (CHA2DS2VASc) Schema() []models.ToolParameter {
	return []models.ToolParameter{
		{Name: "age", Type: models.ParamNumber, Description: "Age", Unit: "years", Required: true, Min: bound(18), Max: bound(120)},
		{Name: "sex", Type: models.ParamEnum, Description: "Sex assigned at birth", Required: true, Options: []string{"male", "female"}},
		{Name: "heart_failure", Type: models.ParamBoolean, Description: "Congestive heart failure or LV dysfunction"},
		{Name: "hypertension", Type: models.ParamBoolean, Description: "Hypertension"},
		{Name: "diabetes", Type: models.ParamBoolean, Description: "Diabetes mellitus"},
		{Name: "stroke_history", Type: models.ParamBoolean, Description: "Prior stroke, TIA or thromboembolism"},
		{Name: "vascular_disease", Type: models.ParamBoolean, Description: "Prior MI, peripheral artery disease or aortic plaque"},
	}
}

func (c CHA2DS2VASc) Validate(params map[string]interface{}) models.ValidationResult {
	res := ValidateSchema(c.Schema(), params)
	if !res.Valid {
		return res
	}
	for _, p := range c.Schema()[2:] {
		if _, ok := params[p.Name]; !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s not provided; assumed absent", p.Name))
		}
	}
	return res
}

func (CHA2DS2VASc) Execute(ctx context.Context, params map[string]interface{}) (*models.ToolExecutionResult, error) {
	age := Number(params, "age")
	female := Enum(params, "sex") == "female"

	components := map[string]int{
		"heart_failure":    points(Flag(params, "heart_failure"), 1),
		"hypertension":     points(Flag(params, "hypertension"), 1),
		"diabetes":         points(Flag(params, "diabetes"), 1),
		"stroke_history":   points(Flag(params, "stroke_history"), 2),
		"vascular_disease": points(Flag(params, "vascular_disease"), 1),
		"age":              agePoints(age),
		"sex":              points(female, 1),
	}

	score := 0
	for _, v := range components {
		score += v
	}

	return &models.ToolExecutionResult{
		Success: true,
		Data: map[string]interface{}{
			"score":              score,
			"components":         components,
			"annual_stroke_risk": annualStrokeRisk[score],
		},
		Interpretation: fmt.Sprintf("CHA2DS2-VASc score is %d (adjusted stroke risk about %.1f%% per year). %s",
			score, annualStrokeRisk[score], anticoagulationAdvice(score, female)),
		Citations: []string{
			"Lip GYH, Nieuwlaat R, Pisters R, Lane DA, Crijns HJGM. Refining clinical risk stratification for predicting stroke and thromboembolism in atrial fibrillation. Chest. 2010;137(2):263-272.",
			"Hindricks G, et al. 2020 ESC Guidelines for the diagnosis and management of atrial fibrillation. Eur Heart J. 2021;42(5):373-498.",
		},
		Disclaimer: standardDisclaimer,
	}, nil
}

func points(present bool, value int) int {
	if present {
		return value
	}
	return 0
}

func agePoints(age float64) int {
	switch {
	case age >= 75:
		return 2
	case age >= 65:
		return 1
	default:
		return 0
	}
}

// anticoagulationAdvice discounts the sex point, which alone does not
// indicate anticoagulation.
func anticoagulationAdvice(score int, female bool) string {
	risk := score
	if female {
		risk--
	}
	switch {
	case risk <= 0:
		return "Low risk: anticoagulation is generally not recommended."
	case risk == 1:
		return "Intermediate risk: oral anticoagulation should be considered."
	default:
		return "High risk: oral anticoagulation is recommended."
	}
}

// Builtin returns the calculators shipped with the service.
func Builtin() []Tool {
	return []Tool{BMI{}, CreatinineClearance{}, CHA2DS2VASc{}}
}

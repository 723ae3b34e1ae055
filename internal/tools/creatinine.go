package tools

import (
	"context"
	"fmt"
	"math"

	"github.com/medical-control-plane/backend/internal/access"
	"github.com/medical-control-plane/backend/internal/models"
)

// CreatinineClearance estimates CrCl with the Cockcroft-Gault equation.
type CreatinineClearance struct{}

func (CreatinineClearance) Metadata() models.ToolMetadata {
	return models.ToolMetadata{
		ID:                 "creatinine_clearance",
		Name:               "Creatinine Clearance (Cockcroft-Gault)",
		Description:        "Estimates creatinine clearance for renal dose adjustment.",
		Category:           "renal",
		Version:            "1.0.0",
		RequiredPermission: string(access.UseClinicalTools),
		Keywords:           []string{"creatinine clearance", "crcl", "cockcroft-gault", "renal dosing"},
	}
}

func (CreatinineClearance) Schema() []models.ToolParameter {
	return []models.ToolParameter{
		{Name: "age", Type: models.ParamNumber, Description: "Age", Unit: "years", Required: true, Min: bound(18), Max: bound(120)},
		{Name: "weight_kg", Type: models.ParamNumber, Description: "Actual body weight", Unit: "kg", Required: true, Min: bound(20), Max: bound(300)},
		{Name: "serum_creatinine", Type: models.ParamNumber, Description: "Serum creatinine", Unit: "mg/dL", Required: true, Min: bound(0.1), Max: bound(20)},
		{Name: "sex", Type: models.ParamEnum, Description: "Sex assigned at birth", Required: true, Options: []string{"male", "female"}},
	}
}

func (c CreatinineClearance) Validate(params map[string]interface{}) models.ValidationResult {
	res := ValidateSchema(c.Schema(), params)
	if !res.Valid {
		return res
	}
	if Number(params, "serum_creatinine") < 0.7 {
		res.Warnings = append(res.Warnings, "Low serum creatinine (e.g. low muscle mass) may overestimate clearance")
	}
	if Number(params, "weight_kg") > 120 {
		res.Warnings = append(res.Warnings, "Actual body weight in obesity may overestimate clearance; consider adjusted body weight")
	}
	return res
}

func (CreatinineClearance) Execute(ctx context.Context, params map[string]interface{}) (*models.ToolExecutionResult, error) {
	age := Number(params, "age")
	weight := Number(params, "weight_kg")
	scr := Number(params, "serum_creatinine")
	sex := Enum(params, "sex")

	crcl := (140 - age) * weight / (72 * scr)
	if sex == "female" {
		crcl *= 0.85
	}
	crcl = math.Round(crcl*10) / 10
	stage := renalFunction(crcl)

	return &models.ToolExecutionResult{
		Success: true,
		Data: map[string]interface{}{
			"creatinine_clearance": crcl,
			"unit":                 "mL/min",
			"renal_function":       stage,
		},
		Interpretation: fmt.Sprintf("Estimated creatinine clearance is %.1f mL/min (%s).", crcl, stage),
		Citations: []string{
			"Cockcroft DW, Gault MH. Prediction of creatinine clearance from serum creatinine. Nephron. 1976;16(1):31-41.",
		},
		Disclaimer: standardDisclaimer,
	}, nil
}

func renalFunction(crcl float64) string {
	switch {
	case crcl >= 90:
		return "normal"
	case crcl >= 60:
		return "mildly reduced"
	case crcl >= 30:
		return "moderately reduced"
	case crcl >= 15:
		return "severely reduced"
	default:
		return "kidney failure range"
	}
}

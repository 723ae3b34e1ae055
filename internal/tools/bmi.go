package tools

import (
	"context"
	"fmt"
	"math"

	"github.com/medical-control-plane/backend/internal/access"
	"github.com/medical-control-plane/backend/internal/models"
)

type BMI struct{}

func (BMI) Metadata() models.ToolMetadata {
	return models.ToolMetadata{
		ID:                 "bmi",
		Name:               "Body Mass Index",
		Description:        "Calculates body mass index from weight and height and classifies it by WHO categories.",
		Category:           "anthropometrics",
		Version:            "1.0.0",
		RequiredPermission: string(access.UseClinicalTools),
		Keywords:           []string{"bmi", "body mass index", "obesity"},
	}
}

func (BMI) Schema() []models.ToolParameter {
	return []models.ToolParameter{
		{Name: "weight_kg", Type: models.ParamNumber, Description: "Body weight", Unit: "kg", Required: true, Min: bound(1), Max: bound(500)},
		{Name: "height_cm", Type: models.ParamNumber, Description: "Height", Unit: "cm", Required: true, Min: bound(30), Max: bound(272)},
	}
}

func (b BMI) Validate(params map[string]interface{}) models.ValidationResult {
	res := ValidateSchema(b.Schema(), params)
	if res.Valid && Number(params, "height_cm") < 140 {
		res.Warnings = append(res.Warnings, "BMI categories are validated for adults; use age-specific percentiles for children")
	}
	return res
}

func (BMI) Execute(ctx context.Context, params map[string]interface{}) (*models.ToolExecutionResult, error) {
	weight := Number(params, "weight_kg")
	height := Number(params, "height_cm") / 100

	bmi := math.Round(weight/(height*height)*10) / 10
	category := bmiCategory(bmi)

	return &models.ToolExecutionResult{
		Success: true,
		Data: map[string]interface{}{
			"bmi":      bmi,
			"category": category,
			"unit":     "kg/m2",
		},
		Interpretation: fmt.Sprintf("BMI is %.1f kg/m2 (%s).", bmi, category),
		Citations: []string{
			"World Health Organization. Obesity: preventing and managing the global epidemic. WHO Technical Report Series 894. Geneva: WHO; 2000.",
		},
		Disclaimer: standardDisclaimer,
	}, nil
}

func bmiCategory(bmi float64) string {
	switch {
	case bmi < 18.5:
		return "underweight"
	case bmi < 25:
		return "normal weight"
	case bmi < 30:
		return "overweight"
	case bmi < 35:
		return "obesity class I"
	case bmi < 40:
		return "obesity class II"
	default:
		return "obesity class III"
	}
}

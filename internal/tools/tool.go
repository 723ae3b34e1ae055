package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/medical-control-plane/backend/internal/models"
)

// Tool is a stateless clinical calculator.
type Tool interface {
	Metadata() models.ToolMetadata
	Schema() []models.ToolParameter
	Validate(params map[string]interface{}) models.ValidationResult
	Execute(ctx context.Context, params map[string]interface{}) (*models.ToolExecutionResult, error)
}

const standardDisclaimer = "This calculation supports, and does not replace, clinical judgment. Verify inputs and results before making treatment decisions."

// ValidateSchema checks params against schema: required parameters are
// present, values have the declared type and fall inside min/max, enum
// values are among the options. Unknown parameters only produce warnings.
func ValidateSchema(schema []models.ToolParameter, params map[string]interface{}) models.ValidationResult {
	res := models.ValidationResult{Valid: true}
	known := make(map[string]bool, len(schema))

	for _, p := range schema {
		known[p.Name] = true

		raw, ok := params[p.Name]
		if !ok || raw == nil {
			if p.Required {
				res.Errors = append(res.Errors, fmt.Sprintf("%s is required", p.Name))
			}
			continue
		}

		switch p.Type {
		case models.ParamNumber:
			v, ok := toFloat(raw)
			if !ok {
				res.Errors = append(res.Errors, fmt.Sprintf("%s must be a number", p.Name))
				continue
			}
			if p.Min != nil && v < *p.Min {
				res.Errors = append(res.Errors, fmt.Sprintf("%s must be at least %g%s", p.Name, *p.Min, unitSuffix(p.Unit)))
			}
			if p.Max != nil && v > *p.Max {
				res.Errors = append(res.Errors, fmt.Sprintf("%s must be at most %g%s", p.Name, *p.Max, unitSuffix(p.Unit)))
			}
		case models.ParamBoolean:
			if _, ok := toBool(raw); !ok {
				res.Errors = append(res.Errors, fmt.Sprintf("%s must be true or false", p.Name))
			}
		case models.ParamEnum:
			s, ok := raw.(string)
			if !ok || !contains(p.Options, strings.ToLower(s)) {
				res.Errors = append(res.Errors, fmt.Sprintf("%s must be one of %s", p.Name, strings.Join(p.Options, ", ")))
			}
		case models.ParamString:
			if _, ok := raw.(string); !ok {
				res.Errors = append(res.Errors, fmt.Sprintf("%s must be a string", p.Name))
			}
		}
	}

	for name := range params {
		if !known[name] {
			res.Warnings = append(res.Warnings, fmt.Sprintf("unrecognized parameter %s ignored", name))
		}
	}
	sort.Strings(res.Warnings)

	res.Valid = len(res.Errors) == 0
	return res
}

func unitSuffix(unit string) string {
	if unit == "" {
		return ""
	}
	return " " + unit
}

func contains(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v interface{}) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	}
	return false, false
}

// Number reads a numeric parameter. Call only after validation.
func Number(params map[string]interface{}, name string) float64 {
	v, _ := toFloat(params[name])
	return v
}

// Flag reads an optional boolean parameter; absent means false.
func Flag(params map[string]interface{}, name string) bool {
	b, _ := toBool(params[name])
	return b
}

func Enum(params map[string]interface{}, name string) string {
	s, _ := params[name].(string)
	return strings.ToLower(s)
}

func bound(v float64) *float64 {
	return &v
}

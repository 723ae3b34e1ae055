package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medical-control-plane/backend/internal/access"
	"github.com/medical-control-plane/backend/internal/models"
)

type spyTool struct {
	id            string
	valid         bool
	err           error
	panicMsg      string
	validatePanic bool
	executed      int
}

func (s *spyTool) Metadata() models.ToolMetadata {
	return models.ToolMetadata{ID: s.id, RequiredPermission: string(access.UseClinicalTools)}
}

func (s *spyTool) Schema() []models.ToolParameter { return nil }

func (s *spyTool) Validate(params map[string]interface{}) models.ValidationResult {
	if s.validatePanic {
		var seen map[string]bool
		seen["weight_kg"] = true
	}
	if !s.valid {
		return models.ValidationResult{Valid: false, Errors: []string{"x is required"}, Warnings: []string{"w"}}
	}
	return models.ValidationResult{Valid: true, Warnings: []string{"validated"}}
}

func (s *spyTool) Execute(ctx context.Context, params map[string]interface{}) (*models.ToolExecutionResult, error) {
	s.executed++
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &models.ToolExecutionResult{Success: true, Data: map[string]interface{}{"ok": true}, Warnings: []string{"from tool"}}, nil
}

type memoryRecorder struct {
	records []UsageRecord
}

func (m *memoryRecorder) Record(ctx context.Context, record UsageRecord) {
	m.records = append(m.records, record)
}

var fixedTime = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

func newTestOrchestrator(t *testing.T, rec UsageRecorder, tools ...Tool) *Orchestrator {
	o, err := NewOrchestrator(rec, tools, WithClock(func() time.Time { return fixedTime }))
	require.NoError(t, err)
	return o
}

func TestExecuteUnknownTool(t *testing.T) {
	rec := &memoryRecorder{}
	res := newTestOrchestrator(t, rec).Execute(context.Background(), "apgar", nil)

	assert.False(t, res.Success)
	assert.Equal(t, []string{"unknown tool"}, res.Errors)
	assert.Equal(t, "apgar", res.ToolID)
	assert.Equal(t, fixedTime, res.Timestamp)
	require.Len(t, rec.records, 1)
	assert.False(t, rec.records[0].Success)
}

func TestExecuteValidationGate(t *testing.T) {
	spy := &spyTool{id: "spy", valid: false}
	res := newTestOrchestrator(t, nil, spy).Execute(context.Background(), "spy", map[string]interface{}{})

	assert.False(t, res.Success)
	assert.Equal(t, []string{"x is required"}, res.Errors)
	assert.Equal(t, []string{"w"}, res.Warnings)
	assert.Equal(t, 0, spy.executed)
	assert.False(t, res.Timestamp.IsZero())
}

func TestExecuteSuccessMergesWarnings(t *testing.T) {
	rec := &memoryRecorder{}
	spy := &spyTool{id: "spy", valid: true}
	res := newTestOrchestrator(t, rec, spy).Execute(context.Background(), "spy", map[string]interface{}{"a": 1})

	assert.True(t, res.Success)
	assert.Equal(t, []string{"validated", "from tool"}, res.Warnings)
	assert.Equal(t, 1, spy.executed)
	require.Len(t, rec.records, 1)
	assert.Equal(t, "spy", rec.records[0].ToolID)
	assert.True(t, rec.records[0].Success)
	assert.Equal(t, fixedTime, rec.records[0].Timestamp)
}

func TestExecuteCapturesToolErrors(t *testing.T) {
	spy := &spyTool{id: "spy", valid: true, err: errors.New("division by zero")}
	res := newTestOrchestrator(t, nil, spy).Execute(context.Background(), "spy", nil)

	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "division by zero")
	assert.Contains(t, res.Errors[0], "tool_execution_failure")
}

func TestExecuteRecoversFromPanics(t *testing.T) {
	spy := &spyTool{id: "spy", valid: true, panicMsg: "index out of range"}
	o := newTestOrchestrator(t, nil, spy)

	var res *models.ToolExecutionResult
	require.NotPanics(t, func() {
		res = o.Execute(context.Background(), "spy", nil)
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.Errors[0], "panic: index out of range")
}

func TestExecuteRecoversFromValidationPanics(t *testing.T) {
	rec := &memoryRecorder{}
	spy := &spyTool{id: "spy", valid: true, validatePanic: true}
	o := newTestOrchestrator(t, rec, spy)

	var res *models.ToolExecutionResult
	require.NotPanics(t, func() {
		res = o.Execute(context.Background(), "spy", map[string]interface{}{"weight_kg": 70})
	})
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "tool_execution_failure")
	assert.Contains(t, res.Errors[0], "panic during validation")
	assert.Equal(t, "spy", res.ToolID)
	assert.Equal(t, 0, spy.executed)

	require.Len(t, rec.records, 1)
	assert.False(t, rec.records[0].Success)
	assert.Equal(t, res.Errors, rec.records[0].Errors)
}

func TestNewOrchestratorRejectsDuplicates(t *testing.T) {
	_, err := NewOrchestrator(nil, []Tool{&spyTool{id: "a"}, &spyTool{id: "a"}})
	assert.Error(t, err)
}

func TestListToolsByPermission(t *testing.T) {
	o := newTestOrchestrator(t, nil, Builtin()...)
	policy := access.DefaultPolicy()

	ids := func(role access.Role) []string {
		var out []string
		for _, m := range o.ListTools(policy.Permissions(role)) {
			out = append(out, m.ID)
		}
		return out
	}

	assert.Empty(t, ids(access.RoleStudent))
	assert.Equal(t, []string{"bmi", "creatinine_clearance"}, ids(access.RoleNurse))
	assert.Equal(t, []string{"bmi", "creatinine_clearance", "cha2ds2_vasc"}, ids(access.RolePhysician))
}

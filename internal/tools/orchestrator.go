package tools

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/medical-control-plane/backend/internal/access"
	"github.com/medical-control-plane/backend/internal/models"
	"github.com/medical-control-plane/backend/pkg/apperr"
	"github.com/medical-control-plane/backend/pkg/logger"
)

const unknownToolError = "unknown tool"

// Orchestrator validates and runs registered tools. The registry is fixed
// at construction, so Execute needs no locking.
type Orchestrator struct {
	registry map[string]Tool
	order    []string
	recorder UsageRecorder
	now      func() time.Time
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(recorder UsageRecorder, tools []Tool, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		registry: make(map[string]Tool, len(tools)),
		recorder: recorder,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	for _, t := range tools {
		id := t.Metadata().ID
		if id == "" {
			return nil, fmt.Errorf("tool with empty id")
		}
		if _, exists := o.registry[id]; exists {
			return nil, fmt.Errorf("duplicate tool id %q", id)
		}
		o.registry[id] = t
		o.order = append(o.order, id)
	}

	logger.Info("Tool orchestrator initialized", zap.Strings("tools", o.order))

	return o, nil
}

func (o *Orchestrator) Get(toolID string) (Tool, bool) {
	t, ok := o.registry[toolID]
	return t, ok
}

// ListTools returns the metadata of every tool the permission set covers,
// in registration order.
func (o *Orchestrator) ListTools(perms access.Set) []models.ToolMetadata {
	out := []models.ToolMetadata{}
	for _, id := range o.order {
		meta := o.registry[id].Metadata()
		if perms.Has(access.Permission(meta.RequiredPermission)) {
			out = append(out, meta)
		}
	}
	return out
}

// Execute never returns an error: unknown tools, invalid parameters and
// tool failures are reported in the result.
func (o *Orchestrator) Execute(ctx context.Context, toolID string, params map[string]interface{}) *models.ToolExecutionResult {
	start := o.now()
	if params == nil {
		params = map[string]interface{}{}
	}

	result := o.execute(ctx, toolID, params)
	result.ToolID = toolID
	result.Timestamp = o.now()

	if o.recorder != nil {
		o.recorder.Record(ctx, UsageRecord{
			ToolID:     toolID,
			Parameters: params,
			Success:    result.Success,
			Errors:     result.Errors,
			Duration:   result.Timestamp.Sub(start),
			Timestamp:  result.Timestamp,
		})
	}

	return result
}

func (o *Orchestrator) execute(ctx context.Context, toolID string, params map[string]interface{}) *models.ToolExecutionResult {
	tool, ok := o.registry[toolID]
	if !ok {
		logger.Warn("Unknown tool requested", zap.String("tool_id", toolID))
		return &models.ToolExecutionResult{Success: false, Errors: []string{unknownToolError}}
	}

	validation, err := safeValidate(tool, params)
	if err != nil {
		logger.Error("Tool validation failed", zap.String("tool_id", toolID), zap.Error(err))
		return &models.ToolExecutionResult{
			Success:    false,
			Errors:     []string{err.Error()},
			Disclaimer: standardDisclaimer,
		}
	}
	if !validation.Valid {
		logger.Debug("Tool parameters rejected",
			zap.String("tool_id", toolID),
			zap.Strings("errors", validation.Errors),
		)
		return &models.ToolExecutionResult{
			Success:  false,
			Errors:   append([]string{}, validation.Errors...),
			Warnings: validation.Warnings,
		}
	}

	result, err := safeExecute(ctx, tool, params)
	if err != nil {
		logger.Error("Tool execution failed", zap.String("tool_id", toolID), zap.Error(err))
		return &models.ToolExecutionResult{
			Success:    false,
			Errors:     []string{err.Error()},
			Warnings:   validation.Warnings,
			Disclaimer: standardDisclaimer,
		}
	}

	result.Warnings = append(append([]string{}, validation.Warnings...), result.Warnings...)
	return result
}

// safeValidate turns a panic raised while checking parameters into a
// ToolExecutionFailure.
func safeValidate(tool Tool, params map[string]interface{}) (validation models.ValidationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			validation = models.ValidationResult{}
			err = apperr.New(apperr.KindToolExecutionFailure, "tools."+tool.Metadata().ID, "panic during validation: %v", r)
		}
	}()
	return tool.Validate(params), nil
}

// safeExecute turns a panic or a nil result into a ToolExecutionFailure.
func safeExecute(ctx context.Context, tool Tool, params map[string]interface{}) (result *models.ToolExecutionResult, err error) {
	op := "tools." + tool.Metadata().ID
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = apperr.New(apperr.KindToolExecutionFailure, op, "panic: %v", r)
		}
	}()

	result, err = tool.Execute(ctx, params)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindToolExecutionFailure, op, err)
	}
	if result == nil {
		return nil, apperr.New(apperr.KindToolExecutionFailure, op, "tool returned no result")
	}
	return result, nil
}

package tools

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/medical-control-plane/backend/internal/metrics"
	"github.com/medical-control-plane/backend/pkg/logger"
)

// UsageRecord is what the orchestrator emits after every execution, for
// audit and usage collaborators to persist.
type UsageRecord struct {
	ToolID     string                 `json:"tool_id"`
	Parameters map[string]interface{} `json:"parameters"`
	Success    bool                   `json:"success"`
	Errors     []string               `json:"errors,omitempty"`
	Duration   time.Duration          `json:"duration"`
	Timestamp  time.Time              `json:"timestamp"`
}

type UsageRecorder interface {
	Record(ctx context.Context, record UsageRecord)
}

// LogRecorder writes usage records to the structured log and counts them.
type LogRecorder struct{}

func (LogRecorder) Record(ctx context.Context, record UsageRecord) {
	status := "success"
	if !record.Success {
		status = "failure"
	}
	label := record.ToolID
	if len(record.Errors) == 1 && record.Errors[0] == unknownToolError {
		label = "unknown"
	}
	metrics.ToolExecutions.WithLabelValues(label, status).Inc()

	logger.Info("Tool usage",
		zap.String("tool_id", record.ToolID),
		zap.Bool("success", record.Success),
		zap.Strings("errors", record.Errors),
		zap.Duration("duration", record.Duration),
		zap.Time("timestamp", record.Timestamp),
	)
}

// Package pipeline runs one clinical query end to end: classify, run the
// matched tool or retrieve literature, score the retrieval and assemble the
// generation prompt.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medical-control-plane/backend/internal/access"
	"github.com/medical-control-plane/backend/internal/confidence"
	"github.com/medical-control-plane/backend/internal/metrics"
	"github.com/medical-control-plane/backend/internal/models"
	"github.com/medical-control-plane/backend/internal/prompt"
	"github.com/medical-control-plane/backend/internal/retrieval"
	"github.com/medical-control-plane/backend/internal/tools"
	"github.com/medical-control-plane/backend/pkg/apperr"
	"github.com/medical-control-plane/backend/pkg/logger"
	"github.com/medical-control-plane/backend/pkg/result"
)

type Classifier interface {
	Classify(ctx context.Context, query string) models.IntentClassification
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, filters retrieval.Filters) (*models.RAGContext, error)
}

type Scorer interface {
	Score(rc models.RAGContext) models.ConfidenceScore
}

type ToolRunner interface {
	Get(toolID string) (tools.Tool, bool)
	Execute(ctx context.Context, toolID string, params map[string]interface{}) *models.ToolExecutionResult
	ListTools(perms access.Set) []models.ToolMetadata
}

type Request struct {
	Query          string                 `json:"query"`
	Role           access.Role            `json:"role"`
	History        []prompt.Turn          `json:"history,omitempty"`
	Filters        retrieval.Filters      `json:"filters"`
	ToolParameters map[string]interface{} `json:"tool_parameters,omitempty"`
}

type Response struct {
	QueryID         string                            `json:"query_id"`
	Classification  models.IntentClassification       `json:"classification"`
	ToolResult      *models.ToolExecutionResult       `json:"tool_result,omitempty"`
	Retrieval       result.Result[*models.RAGContext] `json:"retrieval"`
	Confidence      *models.ConfidenceScore           `json:"confidence,omitempty"`
	Prompt          string                            `json:"prompt,omitempty"`
	Citations       []string                          `json:"citations,omitempty"`
	Disclaimer      string                            `json:"disclaimer,omitempty"`
	EmergencyNotice string                            `json:"emergency_notice,omitempty"`
	LatencyMs       int64                             `json:"latency_ms"`
}

var emergencyNotices = map[models.EmergencySeverity]string{
	models.SeverityCritical: "EMERGENCY: This may be a life-threatening situation. Call emergency services or activate your facility's rapid response team now.",
	models.SeverityUrgent:   "URGENT: This situation needs prompt clinical evaluation. Escalate to the responsible clinician without delay.",
	models.SeverityModerate: "Attention: Symptoms described may need timely medical assessment.",
}

const defaultEmergencyNotice = "EMERGENCY: Possible emergency detected. Follow local emergency protocols."

type Pipeline struct {
	classifier Classifier
	retriever  Retriever
	scorer     Scorer
	tools      ToolRunner
	policy     *access.Policy
}

func New(classifier Classifier, retriever Retriever, scorer Scorer, toolRunner ToolRunner, policy *access.Policy) *Pipeline {
	if scorer == nil {
		scorer = confidence.NewScorer(confidence.Config{})
	}
	if policy == nil {
		policy = access.DefaultPolicy()
	}
	return &Pipeline{
		classifier: classifier,
		retriever:  retriever,
		scorer:     scorer,
		tools:      toolRunner,
		policy:     policy,
	}
}

// Process handles one query. Only a malformed request or a role without
// query access returns an error; backend failures are reported in the
// response.
func (p *Pipeline) Process(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		metrics.QueryTotal.WithLabelValues("rejected").Inc()
		return nil, apperr.New(apperr.KindInvalidArgument, "pipeline.Process", "query must not be empty")
	}
	if !p.policy.Allows(req.Role, access.QueryKnowledge) {
		metrics.QueryTotal.WithLabelValues("rejected").Inc()
		return nil, apperr.New(apperr.KindInvalidArgument, "pipeline.Process", "role %q may not query the knowledge base", req.Role)
	}

	resp := &Response{QueryID: uuid.New().String()}

	logger.Info("Processing query",
		zap.String("query_id", resp.QueryID),
		zap.String("role", string(req.Role)),
	)

	cls := p.classifier.Classify(ctx, req.Query)
	resp.Classification = cls

	if cls.IsEmergency {
		resp.EmergencyNotice = emergencyNotice(cls.EmergencySeverity)
	}

	handled := false
	if cls.PrimaryIntent == models.IntentClinicalTool && cls.ToolID != "" && p.tools != nil {
		resp.ToolResult, handled = p.runTool(ctx, req, cls)
	}

	if !handled {
		p.retrieve(ctx, req, resp)
	}

	resp.LatencyMs = time.Since(start).Milliseconds()

	status := "ok"
	if resp.Retrieval.IsErr() {
		status = "degraded"
	}
	metrics.QueryDuration.WithLabelValues(string(cls.PrimaryIntent)).Observe(time.Since(start).Seconds())
	metrics.QueryTotal.WithLabelValues(status).Inc()

	logger.Info("Query processed",
		zap.String("query_id", resp.QueryID),
		zap.String("intent", string(cls.PrimaryIntent)),
		zap.Bool("emergency", cls.IsEmergency),
		zap.Bool("tool", resp.ToolResult != nil),
		zap.String("retrieval", resp.Retrieval.State().String()),
		zap.Int64("latency_ms", resp.LatencyMs),
	)

	return resp, nil
}

// runTool executes the classified tool. It reports false when the query
// should still go to retrieval because the role may not use the tool.
func (p *Pipeline) runTool(ctx context.Context, req Request, cls models.IntentClassification) (*models.ToolExecutionResult, bool) {
	tool, ok := p.tools.Get(cls.ToolID)
	if ok {
		perm := access.Permission(tool.Metadata().RequiredPermission)
		if !p.policy.Allows(req.Role, perm) {
			logger.Warn("Tool denied for role",
				zap.String("tool", cls.ToolID),
				zap.String("role", string(req.Role)),
			)
			return &models.ToolExecutionResult{
				ToolID:    cls.ToolID,
				Success:   false,
				Errors:    []string{fmt.Sprintf("role %s lacks permission %s", req.Role, perm)},
				Timestamp: time.Now(),
			}, false
		}
	}

	params := MergeParameters(cls.ExtractedParameters, req.ToolParameters)
	return p.tools.Execute(ctx, cls.ToolID, params), true
}

func (p *Pipeline) retrieve(ctx context.Context, req Request, resp *Response) {
	rc, err := p.retriever.Retrieve(ctx, req.Query, req.Filters)
	if err != nil {
		logger.Warn("Retrieval failed, assembling prompt without context",
			zap.String("query_id", resp.QueryID),
			zap.Error(err),
		)
		resp.Retrieval = result.FromError[*models.RAGContext](err)
		rc = &models.RAGContext{
			Chunks:    []models.RetrievedChunk{},
			Sources:   []models.MedicalSource{},
			Query:     req.Query,
			Timestamp: time.Now(),
		}
	} else {
		resp.Retrieval = result.Ok(rc)
	}

	score := p.scorer.Score(*rc)
	resp.Confidence = &score

	resp.Prompt = prompt.BuildPrompt(prompt.Context{
		RetrievedText: prompt.JoinChunks(rc.Chunks, rc.Sources),
		Sources:       rc.Sources,
		Query:         req.Query,
		History:       req.History,
		Confidence:    score.Score,
		Role:          promptRole(req.Role),
	})
	if p.policy.Allows(req.Role, access.ViewCitations) {
		resp.Citations = prompt.Citations(rc.Sources)
	}
	if score.RequiresDisclaimer {
		resp.Disclaimer = prompt.Disclaimer(score.Score)
	}

	metrics.ConfidenceScore.WithLabelValues(string(score.Level)).Observe(score.Score)
	metrics.RetrievedChunks.Observe(float64(len(rc.Chunks)))
}

// ListTools returns the tools the role may run.
func (p *Pipeline) ListTools(role access.Role) []models.ToolMetadata {
	if p.tools == nil {
		return []models.ToolMetadata{}
	}
	return p.tools.ListTools(p.policy.Permissions(role))
}

// MergeParameters overlays caller-supplied parameters on the extracted ones.
func MergeParameters(extracted, supplied map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(extracted)+len(supplied))
	for k, v := range extracted {
		merged[k] = v
	}
	for k, v := range supplied {
		merged[k] = v
	}
	return merged
}

func emergencyNotice(severity models.EmergencySeverity) string {
	if notice, ok := emergencyNotices[severity]; ok {
		return notice
	}
	return defaultEmergencyNotice
}

func promptRole(role access.Role) prompt.Role {
	switch role {
	case access.RoleStudent:
		return prompt.RoleStudent
	case access.RolePhysician, access.RoleAdmin:
		return prompt.RolePhysician
	}
	return ""
}

package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/medical-control-plane/backend/internal/models"
	"github.com/medical-control-plane/backend/internal/pipeline"
	"github.com/medical-control-plane/backend/internal/prompt"
	"github.com/medical-control-plane/backend/internal/retrieval"
	"github.com/medical-control-plane/backend/pkg/logger"
)

type QueryProcessor interface {
	Process(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

type IntentClassifier interface {
	Classify(ctx context.Context, query string) models.IntentClassification
}

type QueryHandler struct {
	pipeline   QueryProcessor
	classifier IntentClassifier
}

func NewQueryHandler(p QueryProcessor, classifier IntentClassifier) *QueryHandler {
	return &QueryHandler{
		pipeline:   p,
		classifier: classifier,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req struct {
		Query          string                 `json:"query"`
		History        []prompt.Turn          `json:"history"`
		Filters        retrieval.Filters      `json:"filters"`
		ToolParameters map[string]interface{} `json:"tool_parameters"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	if req.Query == "" {
		return badRequest(c, "Query is required")
	}

	role, err := roleFrom(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	resp, err := h.pipeline.Process(c.UserContext(), pipeline.Request{
		Query:          req.Query,
		Role:           role,
		History:        req.History,
		Filters:        req.Filters,
		ToolParameters: req.ToolParameters,
	})
	if err != nil {
		return respondError(c, err, "Failed to process query")
	}

	return c.JSON(resp)
}

func (h *QueryHandler) HandleClassify(c *fiber.Ctx) error {
	var req struct {
		Query string `json:"query"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	if req.Query == "" {
		return badRequest(c, "Query is required")
	}

	return c.JSON(h.classifier.Classify(c.UserContext(), req.Query))
}

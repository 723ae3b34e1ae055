package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/medical-control-plane/backend/internal/access"
	"github.com/medical-control-plane/backend/internal/fetch"
	"github.com/medical-control-plane/backend/internal/ingestion"
	"github.com/medical-control-plane/backend/internal/models"
	"github.com/medical-control-plane/backend/pkg/logger"
)

type Ingester interface {
	Ingest(ctx context.Context, req ingestion.Request) ([]models.DocumentChunk, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Document, error)
}

type DocumentHandler struct {
	ingester Ingester
	fetcher  Fetcher
	policy   *access.Policy
}

func NewDocumentHandler(ingester Ingester, fetcher Fetcher, policy *access.Policy) *DocumentHandler {
	return &DocumentHandler{
		ingester: ingester,
		fetcher:  fetcher,
		policy:   policy,
	}
}

// UploadDocument ingests inline content, or the document at url when no
// content is given.
func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var req struct {
		URL         string               `json:"url"`
		Content     string               `json:"content"`
		ContentType string               `json:"content_type"`
		Source      models.MedicalSource `json:"source"`
		Options     *ingestion.Options   `json:"chunking_options"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	role, err := roleFrom(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if !h.policy.Allows(role, access.IngestDocuments) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Role may not ingest documents",
		})
	}

	if req.Content == "" && req.URL == "" {
		return badRequest(c, "Either content or url is required")
	}

	if req.Content == "" {
		doc, err := h.fetcher.Fetch(c.UserContext(), req.URL)
		if err != nil {
			return respondError(c, err, "Failed to fetch document")
		}
		req.Content = doc.Content
		req.ContentType = doc.ContentType
		if req.Source.Title == "" {
			req.Source.Title = doc.Title
		}
		if req.Source.URL == "" {
			req.Source.URL = doc.URL
		}
	}

	chunks, err := h.ingester.Ingest(c.UserContext(), ingestion.Request{
		Content:     req.Content,
		ContentType: req.ContentType,
		Source:      req.Source,
		Options:     req.Options,
	})
	if err != nil {
		return respondError(c, err, "Failed to ingest document")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":   "Document ingested successfully",
		"source_id": req.Source.ID,
		"chunks":    len(chunks),
	})
}

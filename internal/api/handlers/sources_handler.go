package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/medical-control-plane/backend/internal/access"
	"github.com/medical-control-plane/backend/internal/models"
)

const (
	defaultSourceLimit = 50
	maxSourceLimit     = 200
)

type SourceCatalog interface {
	GetSource(ctx context.Context, id string) (*models.MedicalSource, error)
	ListSources(ctx context.Context, sourceType models.SourceType, limit int) ([]models.MedicalSource, error)
}

type SourcesHandler struct {
	catalog SourceCatalog
	policy  *access.Policy
}

func NewSourcesHandler(catalog SourceCatalog, policy *access.Policy) *SourcesHandler {
	return &SourcesHandler{
		catalog: catalog,
		policy:  policy,
	}
}

// authorize writes the rejection itself and reports whether to continue.
func (h *SourcesHandler) authorize(c *fiber.Ctx) (bool, error) {
	role, err := roleFrom(c)
	if err != nil {
		return false, badRequest(c, err.Error())
	}
	if !h.policy.Allows(role, access.ViewCitations) {
		return false, c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":      "Role may not browse sources",
			"permission": access.ViewCitations,
		})
	}
	return true, nil
}

// ListSources serves GET /sources?type=guideline&limit=20.
func (h *SourcesHandler) ListSources(c *fiber.Ctx) error {
	if ok, err := h.authorize(c); !ok {
		return err
	}

	sourceType := models.SourceType(c.Query("type"))
	if sourceType != "" && !sourceType.Valid() {
		return badRequest(c, "Unknown source type")
	}

	limit := c.QueryInt("limit", defaultSourceLimit)
	if limit <= 0 || limit > maxSourceLimit {
		return badRequest(c, "limit must be between 1 and 200")
	}

	sources, err := h.catalog.ListSources(c.Context(), sourceType, limit)
	if err != nil {
		return respondError(c, err, "Failed to list sources")
	}
	if sources == nil {
		sources = []models.MedicalSource{}
	}

	return c.JSON(fiber.Map{
		"sources": sources,
		"count":   len(sources),
	})
}

func (h *SourcesHandler) GetSource(c *fiber.Ctx) error {
	if ok, err := h.authorize(c); !ok {
		return err
	}

	src, err := h.catalog.GetSource(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err, "Failed to load source")
	}
	if src == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unknown source",
		})
	}

	return c.JSON(src)
}

package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/medical-control-plane/backend/internal/access"
	"github.com/medical-control-plane/backend/internal/models"
	"github.com/medical-control-plane/backend/internal/tools"
	"github.com/medical-control-plane/backend/pkg/logger"
)

type ToolRunner interface {
	Get(toolID string) (tools.Tool, bool)
	Execute(ctx context.Context, toolID string, params map[string]interface{}) *models.ToolExecutionResult
	ListTools(perms access.Set) []models.ToolMetadata
}

type ToolsHandler struct {
	tools  ToolRunner
	policy *access.Policy
}

func NewToolsHandler(runner ToolRunner, policy *access.Policy) *ToolsHandler {
	return &ToolsHandler{
		tools:  runner,
		policy: policy,
	}
}

func (h *ToolsHandler) ListTools(c *fiber.Ctx) error {
	role, err := roleFrom(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	perms := h.policy.Permissions(role)
	return c.JSON(fiber.Map{
		"role":        role,
		"permissions": perms.Sorted(),
		"tools":       h.tools.ListTools(perms),
	})
}

func (h *ToolsHandler) GetSchema(c *fiber.Ctx) error {
	tool, ok := h.tools.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unknown tool",
		})
	}

	return c.JSON(fiber.Map{
		"metadata":   tool.Metadata(),
		"parameters": tool.Schema(),
	})
}

func (h *ToolsHandler) ExecuteTool(c *fiber.Ctx) error {
	toolID := c.Params("id")

	var req struct {
		Parameters map[string]interface{} `json:"parameters"`
	}
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	role, err := roleFrom(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if tool, ok := h.tools.Get(toolID); ok {
		perm := access.Permission(tool.Metadata().RequiredPermission)
		if !h.policy.Allows(role, perm) {
			logger.Warn("Tool execution denied",
				zap.String("tool", toolID),
				zap.String("role", string(role)),
			)
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":      "Role lacks the permission this tool requires",
				"permission": perm,
			})
		}
	}

	result := h.tools.Execute(c.UserContext(), toolID, req.Parameters)

	status := fiber.StatusOK
	if !result.Success {
		status = fiber.StatusUnprocessableEntity
	}
	return c.Status(status).JSON(result)
}

package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/medical-control-plane/backend/internal/access"
	"github.com/medical-control-plane/backend/pkg/apperr"
	"github.com/medical-control-plane/backend/pkg/logger"
)

// RoleHeader carries the caller's role, set by the upstream identity service.
const RoleHeader = "X-User-Role"

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidArgument:
		return fiber.StatusBadRequest
	case apperr.KindNotConfigured:
		return fiber.StatusServiceUnavailable
	case apperr.KindUpstreamFailure:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, err error, msg string) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		logger.Error(msg, zap.Error(err), zap.String("path", c.Path()))
	} else {
		logger.Warn(msg, zap.Error(err), zap.String("path", c.Path()))
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
		"kind":  apperr.KindOf(err).String(),
		"cause": err.Error(),
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
	})
}

// roleFrom reads the caller role. A missing header means student, the least
// privileged role that may query.
func roleFrom(c *fiber.Ctx) (access.Role, error) {
	raw := c.Get(RoleHeader)
	if raw == "" {
		return access.RoleStudent, nil
	}
	return access.ParseRole(raw)
}

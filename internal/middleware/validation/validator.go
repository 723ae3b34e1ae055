package validation

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/medical-control-plane/backend/pkg/logger"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxQueryLength      int
	MaxDocumentSize     int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 5000
	}
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		if contentType != "" && !allowedType(contentType, cfg.AllowedContentTypes) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		path := c.Path()

		switch {
		case strings.HasSuffix(path, "/query") || strings.HasSuffix(path, "/classify"):
			return validateQuery(c, cfg)
		case strings.HasSuffix(path, "/documents"):
			return validateDocument(c, cfg)
		}

		return c.Next()
	}
}

func validateQuery(c *fiber.Ctx, cfg Config) error {
	var req map[string]interface{}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON format",
		})
	}

	query, ok := req["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required and must be a string",
		})
	}

	if len(query) > cfg.MaxQueryLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query exceeds maximum length",
		})
	}

	if containsXSS(query) {
		cfg.Logger.Warn("Potential XSS attempt",
			zap.String("ip", c.IP()),
			zap.String("path", c.Path()),
		)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid query content",
		})
	}

	return c.Next()
}

func validateDocument(c *fiber.Ctx, cfg Config) error {
	var req map[string]interface{}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON format",
		})
	}

	urlStr, hasURL := req["url"].(string)
	content, hasContent := req["content"].(string)

	if (!hasURL || urlStr == "") && (!hasContent || content == "") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Either content or url is required",
		})
	}

	if hasURL && urlStr != "" && !isValidURL(urlStr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid URL format",
		})
	}

	if len(content) > cfg.MaxDocumentSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "Document content exceeds maximum size",
		})
	}

	if _, ok := req["source"].(map[string]interface{}); !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Source metadata is required",
		})
	}

	return c.Next()
}

func allowedType(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	return u.Host != ""
}

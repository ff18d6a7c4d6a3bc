package validation

import (
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	MaxBodySize         int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects malformed preparation submissions before they reach the
// task service: bundle_uri must be an absolute URL naming a bundle, and any
// requested descriptor categories must be known.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == "POST" || c.Method() == "PUT" {
			contentType := c.Get("Content-Type")
			if contentType != "" {
				allowed := false
				for _, allowedType := range cfg.AllowedContentTypes {
					if strings.Contains(contentType, allowedType) {
						allowed = true
						break
					}
				}
				if !allowed {
					return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
						"error": "Unsupported content type",
					})
				}
			}
		}

		if strings.HasSuffix(c.Path(), "/preparation") && c.Method() == "POST" {
			if len(c.Body()) > cfg.MaxBodySize {
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Request body exceeds maximum size",
				})
			}

			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			bundleURI, ok := req["bundle_uri"].(string)
			if !ok || bundleURI == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "bundle_uri is required and must be a string",
				})
			}

			if !isValidBundleURI(bundleURI) {
				cfg.Logger.Warn("Rejected bundle URI",
					zap.String("ip", c.IP()),
					zap.String("bundle_uri", bundleURI),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "bundle_uri must be an absolute URL naming a bundle",
				})
			}

			if descriptors, present := req["descriptors"]; present {
				list, ok := descriptors.([]interface{})
				if !ok {
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "descriptors must be an array of strings",
					})
				}
				for _, d := range list {
					s, ok := d.(string)
					if !ok || !isKnownDescriptor(s) {
						return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
							"error": "descriptors entries must be one of EXPERIMENTAL, IMAGE, MOPAC",
						})
					}
				}
			}
		}

		return c.Next()
	}
}

func isValidBundleURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if !u.IsAbs() || u.Host == "" {
		return false
	}
	return strings.Contains(raw, "bundle")
}

func isKnownDescriptor(s string) bool {
	switch s {
	case "EXPERIMENTAL", "IMAGE", "MOPAC":
		return true
	}
	return false
}

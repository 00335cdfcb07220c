package middleware

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// UserContextMiddleware attaches the identity set by the Gateway. When required is true
// requests without X-User-ID are rejected.
func UserContextMiddleware(required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-ID")
		if required && userID == "" {
			zap.L().Warn("[USER_CTX] X-User-ID required but missing", zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID, request must come through gateway with auth context",
			})
		}
		c.Locals("user_id", userID)
		zap.L().Debug("[USER_CTX] request", zap.String("user", userID), zap.String("path", c.Path()))
		return c.Next()
	}
}

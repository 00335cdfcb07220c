package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// TokenResolver maps a continuity token to the session and player it belongs to.
type TokenResolver func(ctx context.Context, token string) (sessionID, playerID string, err error)

// SSEAuthMiddleware lets EventSource clients, which cannot set headers, identify
// themselves with ?token=<continuity token>. The token must belong to the session in
// the path. Requests that already carry X-User-ID pass through.
func SSEAuthMiddleware(resolve TokenResolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if userID, _ := c.Locals("user_id").(string); userID != "" {
			return c.Next()
		}
		token := c.Query("token")
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing token",
				"kind":  "InvalidToken",
			})
		}
		sessionID, playerID, err := resolve(c.UserContext(), token)
		if err != nil || sessionID != c.Params("id") {
			zap.L().Warn("[SSEAuth] rejected stream token", zap.String("path", c.Path()), zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
				"kind":  "InvalidToken",
			})
		}
		c.Locals("user_id", playerID)
		return c.Next()
	}
}

// middleware/sse_auth.go
package middleware

import (
	"context"
	"strings"
	"time"

	"activity-rewards-system/logger"
	"activity-rewards-system/services"

	"github.com/gofiber/fiber/v2"
)

// TokenValidator checks an end-user access token.
type TokenValidator interface {
	ValidateToken(ctx context.Context, accessToken, deviceID string) (*services.ValidateResponse, error)
}

// SSEAuthMiddleware validates `token` and `device_id` from query params
// through the auth service. EventSource cannot send headers.
//
// Usage:
//
//	app.Get("/user/achievements/stream", middleware.SSEAuthMiddleware(authClient, log), stream.StreamUserTokensSSE)
func SSEAuthMiddleware(validator TokenValidator, log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accessToken := strings.TrimSpace(c.Query("token"))
		deviceID := strings.TrimSpace(c.Query("device_id"))

		if accessToken == "" || deviceID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Missing token or device_id in query",
			})
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), 10*time.Second)
		defer cancel()
		resp, err := validator.ValidateToken(ctx, accessToken, deviceID)
		if err != nil {
			log.Warn("SSE token validation failed", "device_id", deviceID, "error", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		c.Locals(UserIDKey, resp.UserID)
		c.Locals(UserRolesKey, resp.Roles)
		log.Debug("SSE client authenticated", "user_id", resp.UserID, "device_id", resp.DeviceID)
		return c.Next()
	}
}

// middleware/auth.go
package middleware

import (
	"strings"

	"activity-rewards-system/logger"

	"github.com/gofiber/fiber/v2"
)

const (
	UserIDKey    = "user_id"
	UserRolesKey = "user_roles"
	AdminRole    = "admin"
)

// UserContextMiddleware extracts user identity and roles set by Gateway.
// Routes under /s/ require a user; /s/admin/ additionally requires the admin role.
func UserContextMiddleware(log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.Clone(strings.TrimSpace(c.Get("X-User-ID")))
		rolesStr := c.Get("X-User-Roles")

		var roles []string
		for _, r := range strings.Split(rolesStr, ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, strings.Clone(r))
			}
		}

		path := c.Path()
		if strings.HasPrefix(path, "/s/") && userID == "" {
			log.Warn("X-User-ID missing on secured route", "path", path)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID, request must come through gateway with auth context",
			})
		}
		if strings.HasPrefix(path, "/s/admin/") && !hasRole(roles, AdminRole) {
			log.Warn("Admin route without admin role", "path", path, "user_id", userID)
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "admin role required",
			})
		}

		c.Locals(UserIDKey, userID)
		c.Locals(UserRolesKey, roles)
		return c.Next()
	}
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}

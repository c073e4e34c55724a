package middleware

import (
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/auth"
	"github.com/gofiber/fiber/v2"
)

// NewRoleMiddleware reads the role asserted by the upstream gateway and
// stores it in the request locals. Requests without a recognized role are
// rejected before they reach a handler.
func NewRoleMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("X-User-Role")
		if header == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: missing role header"})
		}

		role, ok := auth.ParseRole(header)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: unknown role"})
		}

		c.Locals("role", role)
		return c.Next()
	}
}

// RequireCapability gates a route on a single capability.
func RequireCapability(action auth.Action) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, ok := c.Locals("role").(auth.Role)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: missed role"})
		}

		if !auth.Can(role, action) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
		}

		return c.Next()
	}
}

package handlers

import (
	"errors"

	"activity-rewards-system/services"

	"github.com/gofiber/fiber/v2"
)

// respondError maps service errors to HTTP responses.
func respondError(c *fiber.Ctx, err error) error {
	var verr *services.ValidationError
	var serr *services.StorageError
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	case errors.Is(err, services.ErrNoWallet):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.As(err, &serr):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "storage unavailable, retry later",
			"cause": serr.Op,
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal error",
		"cause": err.Error(),
	})
}

func currentUser(c *fiber.Ctx) (string, bool) {
	userID, _ := c.Locals("user_id").(string)
	return userID, userID != ""
}

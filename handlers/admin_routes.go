// handlers/admin_routes.go
package handlers

import (
	"strconv"
	"strings"

	"activity-rewards-system/middleware"
	"activity-rewards-system/models"

	"github.com/gofiber/fiber/v2"
)

func SetupAdminRoutes(app *fiber.App, d Deps) {
	adminGroup := app.Group("/s/admin", middleware.UserContextMiddleware(d.Log))

	adminGroup.Get("/mints", func(c *fiber.Ctx) error {
		var status *models.MintStatus
		if raw := strings.ToUpper(c.Query("status")); raw != "" {
			s := models.MintStatus(raw)
			status = &s
		}
		limit, _ := strconv.Atoi(c.Query("limit", "100"))
		records, err := d.Coordinator.ListRecords(c.UserContext(), status, limit)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(records)
	})

	adminGroup.Post("/mints/:id/requeue", func(c *fiber.Ctx) error {
		if err := d.Coordinator.Requeue(c.UserContext(), c.Params("id")); err != nil {
			return respondError(c, err)
		}
		d.Log.Info("Mint record requeued by operator", "mint_record_id", c.Params("id"), "operator", c.Locals(middleware.UserIDKey))
		return c.JSON(fiber.Map{"message": "requeued", "id": c.Params("id")})
	})

	adminGroup.Post("/reconcile", func(c *fiber.Ctx) error {
		report, err := d.Coordinator.ReconcileStale(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(report)
	})

	adminGroup.Post("/users/:userId/reconcile", func(c *fiber.Ctx) error {
		report, err := d.Coordinator.ReconcileUser(c.UserContext(), c.Params("userId"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(report)
	})

	adminGroup.Post("/progress/:userId/recompute", func(c *fiber.Ctx) error {
		prog, unlocked, err := d.Activity.Refresh(c.UserContext(), c.Params("userId"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"progress": prog,
			"unlocked": unlocked,
		})
	})

	adminGroup.Get("/alerts", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "100"))
		alerts, err := d.Alerts.List(c.UserContext(), c.QueryBool("all", false), limit)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(alerts)
	})

	adminGroup.Post("/alerts/:id/ack", func(c *fiber.Ctx) error {
		if err := d.Alerts.Acknowledge(c.UserContext(), c.Params("id")); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"message": "acknowledged", "id": c.Params("id")})
	})
}

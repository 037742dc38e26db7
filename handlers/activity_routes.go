// handlers/activity_routes.go
package handlers

import (
	"strconv"

	"activity-rewards-system/logger"
	"activity-rewards-system/middleware"
	"activity-rewards-system/models"
	"activity-rewards-system/services"

	"github.com/gofiber/fiber/v2"
)

// Deps bundles what the route handlers need.
type Deps struct {
	Activity    *services.ActivityService
	Progress    *services.ProgressionService
	Leaderboard *services.LeaderboardService
	Coordinator *services.MintCoordinator
	Alerts      *services.AlertService
	Stream      *services.TokenStream
	Auth        middleware.TokenValidator
	Log         *logger.Logger
}

const AchievementStreamPath = "/user/achievements/stream"

func SetupActivityRoutes(app *fiber.App, d Deps) {
	// Collaborator ingestion (payments, tasks, sessions). Gateway token only.
	app.Post("/activity", func(c *fiber.Ctx) error {
		var in services.ActivityInput
		if err := c.BodyParser(&in); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		res, err := d.Activity.RecordActivity(c.UserContext(), in)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	})

	app.Get("/progress/:userId", func(c *fiber.Ctx) error {
		prog, err := d.Progress.GetProgress(c.UserContext(), c.Params("userId"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(prog)
	})

	app.Get("/leaderboard", func(c *fiber.Ctx) error {
		limit := services.DefaultLeaderboardLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "limit must be an integer"})
			}
			limit = n
		}
		scoreType := models.ScoreType(c.Query("score", string(models.ScoreTokens)))
		entries, err := d.Leaderboard.Rank(c.UserContext(), scoreType, limit)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"score":   scoreType,
			"entries": entries,
		})
	})

	// The gateway forwards /api/v1/rewards/s/user/... -> /user/...
	userGroup := app.Group("/user", middleware.UserContextMiddleware(d.Log))

	userGroup.Get("/progress", func(c *fiber.Ctx) error {
		userID, ok := currentUser(c)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user context"})
		}
		prog, err := d.Progress.GetProgress(c.UserContext(), userID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(prog)
	})

	userGroup.Get("/achievements", func(c *fiber.Ctx) error {
		userID, ok := currentUser(c)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user context"})
		}
		records, err := d.Coordinator.UserRecords(c.UserContext(), userID)
		if err != nil {
			return respondError(c, err)
		}
		tokens, err := d.Coordinator.UserTokens(c.UserContext(), userID)
		if err != nil {
			return respondError(c, err)
		}

		byAchievement := make(map[string]models.SoulboundToken, len(tokens))
		for _, t := range tokens {
			byAchievement[t.AchievementID] = t
		}
		response := make([]fiber.Map, 0, len(records))
		for _, r := range records {
			item := fiber.Map{
				"achievement_id": r.AchievementID,
				"status":         r.Status,
				"unlocked_at":    r.CreatedAt,
			}
			if def, ok := d.Coordinator.Catalog.Get(r.AchievementID); ok {
				item["name"] = def.Template.Name
				item["description"] = def.Template.Description
				item["image"] = def.Template.Image
				item["rarity"] = def.Template.Rarity
			}
			if t, ok := byAchievement[r.AchievementID]; ok {
				item["token_id"] = t.TokenID
				item["owner"] = t.Owner
				item["metadata_uri"] = t.MetadataURI
				item["minted_at"] = t.MintedAt
			}
			response = append(response, item)
		}
		return c.JSON(response)
	})
}

// SetupStreamRoutes registers the SSE stream, authenticated by query token.
func SetupStreamRoutes(app *fiber.App, d Deps) {
	app.Get(AchievementStreamPath, middleware.SSEAuthMiddleware(d.Auth, d.Log), d.Stream.StreamUserTokensSSE)
}

// handlers/feed_routes.go
package handlers

import (
	"errors"
	"strconv"

	"battle-service/middleware"
	"battle-service/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// SetupFeedRoutes wires the home feed and playback endpoints.
func SetupFeedRoutes(app *fiber.App, feeds *services.FeedService, battles *services.BattleService) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Get("/feed", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		feed := c.Query("feed", services.FeedTrending)
		if feed != services.FeedTrending && feed != services.FeedFollowing {
			return c.Status(400).JSON(fiber.Map{"error": "feed must be TRENDING or FOLLOWING"})
		}
		page, _ := strconv.Atoi(c.Query("page", "1"))
		pageSize, _ := strconv.Atoi(c.Query("page_size", "10"))

		recordings, err := feeds.HomeFeed(userID, feed, page, pageSize)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to build feed"})
		}
		return c.JSON(fiber.Map{
			"feed":      feed,
			"page":      page,
			"page_size": pageSize,
			"results":   recordings,
		})
	})

	secured.Get("/battles/:id/recording", func(c *fiber.Ctx) error {
		battle, err := battles.GetBattle(c.Params("id"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(404).JSON(fiber.Map{"error": "battle not found"})
			}
			return c.Status(500).JSON(fiber.Map{"error": "database error"})
		}

		recording, err := feeds.BuildRecording(battle)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to build recording"})
		}
		return c.JSON(recording)
	})

	secured.Post("/battles/:id/view", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		if err := feeds.RecordView(userID, c.Params("id")); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(201).JSON(fiber.Map{"status": "viewed"})
	})
}

// handlers/video_routes.go
package handlers

import (
	"battle-service/services"

	"github.com/gofiber/fiber/v2"
)

// SetupVideoRoutes wires the transcoding pipeline callbacks. These are
// service-to-service endpoints: gateway token only, no user context.
func SetupVideoRoutes(app *fiber.App, videos *services.VideoService) {
	internal := app.Group("/internal")

	internal.Post("/battles/:id/transcode", func(c *fiber.Ctx) error {
		if err := videos.BeginTranscoding(c.Params("id")); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "queued"})
	})

	internal.Put("/participants/:id/video", func(c *fiber.Ctx) error {
		var req struct {
			Status             string            `json:"status"`
			Key                *string           `json:"key"`
			OffsetMilliseconds *int64            `json:"offset_milliseconds"`
			Thumbnails         map[string]string `json:"thumbnails"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		if err := videos.UpdateProcessedVideoStatus(c.Params("id"), req.Status, req.Key, req.OffsetMilliseconds, req.Thumbnails); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": req.Status})
	})

	internal.Put("/battles/:id/export", func(c *fiber.Ctx) error {
		var req struct {
			Status     string            `json:"status"`
			Key        *string           `json:"key"`
			Thumbnails map[string]string `json:"thumbnails"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		if err := videos.UpdateExportStatus(c.Params("id"), req.Status, req.Key, req.Thumbnails); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": req.Status})
	})
}

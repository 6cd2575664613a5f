// handlers/beat_routes.go
package handlers

import (
	"fmt"
	"log"
	"path/filepath"

	"battle-service/middleware"
	"battle-service/models"
	"battle-service/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// SetupBeatRoutes wires beat management. Uploads go to object storage; the
// stored key is what battles reference.
func SetupBeatRoutes(app *fiber.App, db *gorm.DB) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Get("/beats", func(c *fiber.Ctx) error {
		var beats []models.Beat
		if err := db.Where("enabled = ?", true).Order("created_at DESC").Find(&beats).Error; err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to load beats"})
		}
		return c.JSON(beats)
	})

	secured.Post("/beats", func(c *fiber.Ctx) error {
		title := c.FormValue("title")
		if title == "" {
			return c.Status(400).JSON(fiber.Map{"error": "title is required"})
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "file is required"})
		}

		key := fmt.Sprintf("beats/%s-%s%s", slug.Make(title), uuid.NewString()[:8], filepath.Ext(fileHeader.Filename))
		if _, err := utils.UploadFileToR2(fileHeader, key); err != nil {
			log.Printf("❌ [BEATS] Upload failed for %s: %v", title, err)
			return c.Status(500).JSON(fiber.Map{"error": "failed to upload beat"})
		}

		beat := models.Beat{
			ID:      uuid.NewString(),
			Title:   title,
			Key:     key,
			Enabled: true,
		}
		if err := db.Create(&beat).Error; err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to save beat"})
		}
		log.Printf("✅ [BEATS] Beat %q uploaded as %s", title, key)
		return c.Status(201).JSON(beat)
	})

	secured.Delete("/beats/:id", func(c *fiber.Ctx) error {
		result := db.Model(&models.Beat{}).Where("id = ?", c.Params("id")).Update("enabled", false)
		if result.Error != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to disable beat"})
		}
		if result.RowsAffected == 0 {
			return c.Status(404).JSON(fiber.Map{"error": "beat not found"})
		}
		return c.JSON(fiber.Map{"status": "disabled"})
	})
}

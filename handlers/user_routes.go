// handlers/user_routes.go
package handlers

import (
	"errors"

	"battle-service/middleware"
	"battle-service/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// SetupUserRoutes wires user mirror and follow graph endpoints.
func SetupUserRoutes(app *fiber.App, users *services.UserService) {
	// Profile service pushes user changes through the gateway with no end
	// user context.
	app.Put("/users/:id", func(c *fiber.Ctx) error {
		var req struct {
			Handle          string  `json:"handle"`
			Name            string  `json:"name"`
			ProfileImageURL *string `json:"profile_image_url"`
			PhoneNumber     *string `json:"phone_number"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		if req.Handle == "" {
			return c.Status(400).JSON(fiber.Map{"error": "handle is required"})
		}

		user, err := users.UpsertUser(c.Params("id"), req.Handle, req.Name, req.ProfileImageURL, req.PhoneNumber)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to upsert user"})
		}
		return c.JSON(user)
	})

	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Get("/users/search", func(c *fiber.Ctx) error {
		results, err := users.SearchUsers(c.Query("q", ""), c.QueryInt("limit", 50))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "search failed"})
		}
		return c.JSON(results)
	})

	secured.Get("/users/:id", func(c *fiber.Ctx) error {
		user, err := users.GetUser(c.Params("id"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(404).JSON(fiber.Map{"error": "user not found"})
			}
			return c.Status(500).JSON(fiber.Map{"error": "database error"})
		}
		return c.JSON(user)
	})

	secured.Post("/users/:id/follow", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		if err := users.Follow(userID, c.Params("id")); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "following"})
	})

	secured.Delete("/users/:id/follow", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		if err := users.Unfollow(userID, c.Params("id")); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "unfollowed"})
	})
}

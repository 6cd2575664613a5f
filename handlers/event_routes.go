// handlers/event_routes.go
package handlers

import (
	"bufio"
	"fmt"
	"log"
	"strings"
	"time"

	"battle-service/middleware"
	"battle-service/models"
	"battle-service/realtime"
	"battle-service/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// SetupEventRoutes wires the SSE stream that bridges the in-process hub to
// clients. EventSource can't set headers, so auth comes from query params.
func SetupEventRoutes(app *fiber.App, hub *realtime.Hub, authClient *services.AuthServiceClient, db *gorm.DB) {
	app.Get("/events/stream", middleware.SSEAuthMiddleware(authClient), func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		channel := strings.TrimSpace(c.Query("channel"))
		if channel == "" {
			return c.Status(400).JSON(fiber.Map{"error": "channel is required"})
		}
		if !channelAllowed(db, userID, channel) {
			log.Printf("🚫 [SSE] User %s denied channel %s", userID, channel)
			return c.Status(403).JSON(fiber.Map{"error": "not allowed to subscribe to this channel"})
		}

		messages, cancel := hub.Subscribe(channel)

		// SSE headers
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("X-Accel-Buffering", "no") // nginx

		ctx := c.Context()
		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			defer cancel()

			keepalive := time.NewTicker(15 * time.Second)
			defer keepalive.Stop()

			// Initial keepalive (comment event)
			w.WriteString(":\n\n")
			if err := w.Flush(); err != nil {
				return
			}

			for {
				select {
				case msg, ok := <-messages:
					if !ok {
						return
					}
					fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, msg.Data)
					if err := w.Flush(); err != nil {
						// Client disconnected
						return
					}

				case <-keepalive.C:
					w.WriteString(":\n\n")
					if err := w.Flush(); err != nil {
						return
					}

				case <-ctx.Done():
					return
				}
			}
		})

		return nil
	})
}

// channelAllowed enforces per-channel authorization: user channels are
// private to the user, participant channels to the participant's owner.
// Battle channels are open to any authenticated user (private battle content
// still only flows to its participants' clients, which hold the battle id).
func channelAllowed(db *gorm.DB, userID, channel string) bool {
	switch {
	case strings.HasPrefix(channel, "user-"):
		return channel == "user-"+userID

	case strings.HasPrefix(channel, "battleparticipant-"):
		participantID := strings.TrimPrefix(channel, "battleparticipant-")
		var participant models.BattleParticipant
		if err := db.First(&participant, "id = ?", participantID).Error; err != nil {
			return false
		}
		return participant.UserID == userID

	case strings.HasPrefix(channel, "battle-"):
		return true

	default:
		return false
	}
}

// handlers/battle_routes.go
package handlers

import (
	"errors"
	"log"

	"battle-service/middleware"
	"battle-service/models"
	"battle-service/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SetupBattleRoutes wires the battle lifecycle endpoints. All of them require
// user context from the gateway.
func SetupBattleRoutes(app *fiber.App, battles *services.BattleService, matching *services.MatchingService, votes *services.VoteService) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	// Enter the matching pool. Pairing is attempted in the background so the
	// client gets its participant id immediately and follows progress over
	// the participant channel.
	secured.Post("/battles/participants", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		var req struct {
			MatchingAlgorithm string `json:"matching_algorithm"`
		}
		if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}

		participant, err := battles.CreateParticipant(userID, req.MatchingAlgorithm)
		if err != nil {
			log.Printf("❌ [BATTLES] Failed to create participant for user %s: %v", userID, err)
			return c.Status(500).JSON(fiber.Map{"error": "failed to create participant"})
		}

		go func() {
			if _, err := matching.MatchOne(participant.ID); err != nil {
				log.Printf("❌ [BATTLES] Initial pairing attempt for %s failed: %v", participant.ID, err)
			}
		}()

		return c.Status(201).JSON(participant)
	})

	secured.Get("/battles/participants/:id", func(c *fiber.Ctx) error {
		participant, err := ownedParticipant(c, battles.DB)
		if err != nil {
			return err
		}
		return c.JSON(participant)
	})

	secured.Put("/battles/participants/:id/ready", func(c *fiber.Ctx) error {
		participant, err := ownedParticipant(c, battles.DB)
		if err != nil {
			return err
		}
		if err := battles.MarkReady(participant.ID); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ready"})
	})

	secured.Put("/battles/participants/:id/privacy", func(c *fiber.Ctx) error {
		participant, err := ownedParticipant(c, battles.DB)
		if err != nil {
			return err
		}
		var req struct {
			Level string `json:"level"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		if err := battles.SetRequestedPrivacyLevel(participant.ID, req.Level); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok", "level": req.Level})
	})

	secured.Put("/battles/participants/:id/app-state", func(c *fiber.Ctx) error {
		participant, err := ownedParticipant(c, battles.DB)
		if err != nil {
			return err
		}
		var req struct {
			AppState string `json:"app_state"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		if err := battles.SetAppState(participant.ID, req.AppState); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	secured.Post("/battles/participants/:id/checkin", func(c *fiber.Ctx) error {
		participant, err := ownedParticipant(c, battles.DB)
		if err != nil {
			return err
		}
		var req struct {
			State                         string `json:"state"`
			Context                       string `json:"context"`
			VideoStreamOffsetMilliseconds *int64 `json:"video_stream_offset_milliseconds"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		checkin, err := battles.RecordCheckin(participant.ID, services.CheckinInput{
			State:                         req.State,
			Context:                       req.Context,
			VideoStreamOffsetMilliseconds: req.VideoStreamOffsetMilliseconds,
		})
		if err != nil {
			log.Printf("❌ [BATTLES] Checkin for participant %s failed: %v", participant.ID, err)
			return c.Status(500).JSON(fiber.Map{"error": "failed to record checkin"})
		}
		return c.Status(201).JSON(checkin)
	})

	secured.Post("/battles/participants/:id/leave", func(c *fiber.Ctx) error {
		participant, err := ownedParticipant(c, battles.DB)
		if err != nil {
			return err
		}
		if err := battles.LeaveBattle(participant.ID); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "left"})
	})

	secured.Put("/battles/participants/:id/tracks", func(c *fiber.Ctx) error {
		participant, err := ownedParticipant(c, battles.DB)
		if err != nil {
			return err
		}
		var req struct {
			AudioTrackID *string `json:"audio_track_id"`
			VideoTrackID *string `json:"video_track_id"`
			DataTrackID  *string `json:"data_track_id"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		if err := battles.SetMediaTracks(participant.ID, req.AudioTrackID, req.VideoTrackID, req.DataTrackID); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	secured.Put("/battles/participants/:id/recordings", func(c *fiber.Ctx) error {
		participant, err := ownedParticipant(c, battles.DB)
		if err != nil {
			return err
		}
		var req struct {
			AudioRecordingID *string `json:"audio_recording_id"`
			VideoRecordingID *string `json:"video_recording_id"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		if err := battles.SetRecordingIDs(participant.ID, req.AudioRecordingID, req.VideoRecordingID); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Cast votes for a participant. The cap/reallocation rules live in the
	// vote service; a dropped cast still returns 200 with cast=false.
	secured.Post("/battles/participants/:id/vote", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		var req struct {
			Amount              int    `json:"amount"`
			StartedAtOffset     *int64 `json:"started_casting_at_video_stream_offset_milliseconds"`
			EndedAtOffset       *int64 `json:"ended_casting_at_video_stream_offset_milliseconds"`
			ClientGeneratedUUID string `json:"client_generated_uuid"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}

		vote, err := votes.CastVote(userID, c.Params("id"), services.VoteInput{
			Amount: req.Amount,
			StartedCastingAtVideoStreamOffsetMilliseconds: req.StartedAtOffset,
			EndedCastingAtVideoStreamOffsetMilliseconds:   req.EndedAtOffset,
			ClientGeneratedUUID:                           req.ClientGeneratedUUID,
		})
		if err != nil {
			log.Printf("❌ [VOTES] Cast by user %s failed: %v", userID, err)
			return c.Status(500).JSON(fiber.Map{"error": "failed to cast vote"})
		}
		if vote == nil {
			return c.JSON(fiber.Map{"cast": false})
		}
		return c.Status(201).JSON(fiber.Map{"cast": true, "vote": vote})
	})

	secured.Get("/battles/:id", func(c *fiber.Ctx) error {
		battle, err := battles.GetBattle(c.Params("id"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(404).JSON(fiber.Map{"error": "battle not found"})
			}
			return c.Status(500).JSON(fiber.Map{"error": "database error"})
		}
		return c.JSON(battle)
	})

	secured.Get("/battles/:id/votes", func(c *fiber.Ctx) error {
		results, err := votes.BattleResults(c.Params("id"))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to load vote totals"})
		}
		return c.JSON(results)
	})

	secured.Post("/battles/:id/events", func(c *fiber.Ctx) error {
		var req struct {
			TriggeredByParticipantID string `json:"triggered_by_participant_id"`
			ClientGeneratedUUID      string `json:"client_generated_uuid"`
			Payload                  string `json:"payload"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}

		if err := assertParticipantOwned(c, battles.DB, req.TriggeredByParticipantID); err != nil {
			return err
		}

		event, err := battles.RecordStateMachineEvent(c.Params("id"), req.TriggeredByParticipantID, req.ClientGeneratedUUID, req.Payload)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to record event"})
		}
		if event == nil {
			return c.JSON(fiber.Map{"status": "duplicate"})
		}
		return c.Status(201).JSON(event)
	})

	// Challenges: direct battles between two chosen users.
	secured.Post("/challenges", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		var req struct {
			ChallengedUserID string `json:"challenged_user_id"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		if req.ChallengedUserID == "" || req.ChallengedUserID == userID {
			return c.Status(400).JSON(fiber.Map{"error": "challenged_user_id must name another user"})
		}

		challenge := models.Challenge{
			ID:               uuid.NewString(),
			ChallengerUserID: userID,
			ChallengedUserID: req.ChallengedUserID,
			Status:           "PENDING",
		}
		if err := battles.DB.Create(&challenge).Error; err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to create challenge"})
		}
		return c.Status(201).JSON(challenge)
	})

	secured.Post("/challenges/:id/accept", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		var challenge models.Challenge
		if err := battles.DB.First(&challenge, "id = ?", c.Params("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(404).JSON(fiber.Map{"error": "challenge not found"})
			}
			return c.Status(500).JSON(fiber.Map{"error": "database error"})
		}
		if challenge.ChallengedUserID != userID {
			return c.Status(403).JSON(fiber.Map{"error": "only the challenged user can accept"})
		}

		battle, err := battles.CreateForChallenge(challenge.ID)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(201).JSON(battle)
	})
}

// ownedParticipant loads the participant from the :id param and enforces that
// the authenticated user owns it. The returned error is a *fiber.Error the
// handler can return as-is.
func ownedParticipant(c *fiber.Ctx, db *gorm.DB) (*models.BattleParticipant, error) {
	participant, err := loadOwnedParticipant(c, db, c.Params("id"))
	if err != nil {
		return nil, err
	}
	return participant, nil
}

func assertParticipantOwned(c *fiber.Ctx, db *gorm.DB, participantID string) error {
	_, err := loadOwnedParticipant(c, db, participantID)
	return err
}

func loadOwnedParticipant(c *fiber.Ctx, db *gorm.DB, participantID string) (*models.BattleParticipant, error) {
	userID := c.Locals("user_id").(string)

	var participant models.BattleParticipant
	if err := db.First(&participant, "id = ?", participantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "participant not found")
		}
		return nil, fiber.NewError(fiber.StatusInternalServerError, "database error")
	}
	if participant.UserID != userID {
		return nil, fiber.NewError(fiber.StatusForbidden, "participant belongs to another user")
	}
	return &participant, nil
}

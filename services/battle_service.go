package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"battle-service/models"
	"battle-service/realtime"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// ErrParticipantAlreadyReserved is returned when a participant got attached to
// another battle between candidate selection and reservation.
var ErrParticipantAlreadyReserved = errors.New("participant already reserved by another battle")

// RoomOpener provisions the external video room a battle runs in.
type RoomOpener interface {
	OpenRoom(name string) (sid string, err error)
}

// LocalRoomOpener fabricates room SIDs without an external provider. Used in
// development and tests.
type LocalRoomOpener struct{}

func (LocalRoomOpener) OpenRoom(name string) (string, error) {
	return "RM" + uuid.NewString(), nil
}

// WinnerComputer recomputes a battle's winning participants from its vote
// ledger. Reports whether the winner set changed.
type WinnerComputer interface {
	UpdateComputedWinningParticipants(battleID string) (bool, error)
}

// ScoreRecomputer replays rating updates forward in time starting from the
// given battle.
type ScoreRecomputer interface {
	RecomputeForBattle(battleID string) error
}

// BattleService owns the battle lifecycle: creation from matched pairs,
// readiness, checkins, privacy, and forced inactivation with forfeits.
// Winners and Scores are wired after construction to break the dependency
// cycle with the vote and scoring services.
type BattleService struct {
	DB        *gorm.DB
	Config    Config
	Publisher realtime.Publisher
	Rooms     RoomOpener

	Winners WinnerComputer
	Scores  ScoreRecomputer
}

func NewBattleService(db *gorm.DB, config Config, publisher realtime.Publisher, rooms RoomOpener) *BattleService {
	return &BattleService{DB: db, Config: config, Publisher: publisher, Rooms: rooms}
}

// CreateParticipant enters a user into the matching pool.
func (bs *BattleService) CreateParticipant(userID, matchingAlgorithm string) (*models.BattleParticipant, error) {
	if matchingAlgorithm != models.MatchingAlgorithmRandom {
		matchingAlgorithm = models.MatchingAlgorithmDefault
	}

	participant := models.BattleParticipant{
		ID:                uuid.NewString(),
		UserID:            userID,
		MatchingStartedAt: time.Now(),
		MatchingAlgorithm: matchingAlgorithm,
		ConnectionStatus:  models.ConnectionStatusOnline,
		AppState:          models.AppStateActive,
		CurrentState:      StateCreated,
	}
	if err := bs.DB.Create(&participant).Error; err != nil {
		return nil, err
	}
	return &participant, nil
}

// CreateForPair atomically forms a battle from two matched pool participants.
// Each participant is reserved with a conditional update; losing either
// reservation rolls the whole battle back with ErrParticipantAlreadyReserved.
func (bs *BattleService) CreateForPair(first, second *models.BattleParticipant) (*models.Battle, error) {
	var users []models.User
	if err := bs.DB.Find(&users, "id IN ?", []string{first.UserID, second.UserID}).Error; err != nil {
		return nil, err
	}
	scores := make(map[string]float64, len(users))
	handles := make(map[string]string, len(users))
	for _, u := range users {
		scores[u.ID] = u.ComputedScore
		handles[u.ID] = u.Handle
	}

	var beat models.Beat
	if err := bs.DB.Where("enabled = ?", true).Order("RANDOM()").First(&beat).Error; err != nil {
		return nil, fmt.Errorf("no enabled beats available: %w", err)
	}

	roomName := slug.Make(handles[first.UserID]+"-vs-"+handles[second.UserID]) + "-" + uuid.NewString()[:8]
	roomSID, err := bs.Rooms.OpenRoom(roomName)
	if err != nil {
		return nil, fmt.Errorf("failed to open video room: %w", err)
	}

	battle := models.Battle{
		ID:                   uuid.NewString(),
		BeatID:               beat.ID,
		NumberOfRounds:       1,
		TurnLengthSeconds:    40,
		WarmupLengthSeconds:  10,
		VideoRoomName:        roomName,
		VideoRoomSID:         roomSID,
		ComputedPrivacyLevel: models.BattlePrivacyPublic,
	}

	participants := []*models.BattleParticipant{first, second}
	perm := rand.Perm(len(participants))
	now := time.Now()

	err = bs.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&battle).Error; err != nil {
			return err
		}

		for i, p := range participants {
			order := perm[i]
			score := scores[p.UserID]
			result := tx.Model(&models.BattleParticipant{}).
				Where("id = ? AND battle_id IS NULL AND made_inactive_at IS NULL", p.ID).
				Updates(map[string]interface{}{
					"battle_id":                                battle.ID,
					"order":                                    order,
					"associated_with_battle_at":                now,
					"user_computed_score_at_battle_created_at": score,
					"current_state":                            StateCreated,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected != 1 {
				return ErrParticipantAlreadyReserved
			}

			p.BattleID = &battle.ID
			p.Order = &order
			p.AssociatedWithBattleAt = &now
			p.UserComputedScoreAtBattleCreatedAt = &score
		}

		battle.Participants = []models.BattleParticipant{*first, *second}
		initialContext, err := json.Marshal(InitialStateMachineContext(&battle))
		if err != nil {
			return err
		}

		// Seed the baseline CREATED checkin for each participant so the
		// liveness sweep has something to measure from immediately.
		for _, p := range participants {
			if err := tx.Model(&models.BattleParticipant{}).
				Where("id = ?", p.ID).
				Update("current_context", string(initialContext)).Error; err != nil {
				return err
			}
			checkin := models.Checkin{
				ID:                  uuid.NewString(),
				BattleParticipantID: p.ID,
				CheckedInAt:         now,
				State:               StateCreated,
				Context:             string(initialContext),
			}
			if err := tx.Create(&checkin).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	bs.Publisher.Trigger("battle-"+battle.ID, "battle.create", battle)
	for _, p := range participants {
		bs.Publisher.Trigger("battleparticipant-"+p.ID, "battleParticipant.update", p)
	}
	return &battle, nil
}

// CreateForChallenge forms a battle directly between the two users of an
// accepted challenge, bypassing the matching pool. Challenge battles are
// exempt from pre-start forfeit attribution.
func (bs *BattleService) CreateForChallenge(challengeID string) (*models.Battle, error) {
	var challenge models.Challenge
	if err := bs.DB.First(&challenge, "id = ?", challengeID).Error; err != nil {
		return nil, err
	}
	if challenge.BattleID != nil {
		return nil, fmt.Errorf("challenge %s already has a battle", challengeID)
	}

	challenger, err := bs.CreateParticipant(challenge.ChallengerUserID, models.MatchingAlgorithmDefault)
	if err != nil {
		return nil, err
	}
	challenged, err := bs.CreateParticipant(challenge.ChallengedUserID, models.MatchingAlgorithmDefault)
	if err != nil {
		return nil, err
	}

	battle, err := bs.CreateForPair(challenger, challenged)
	if err != nil {
		return nil, err
	}

	if err := bs.DB.Model(&challenge).Updates(map[string]interface{}{
		"battle_id": battle.ID,
		"status":    "ACCEPTED",
	}).Error; err != nil {
		return nil, err
	}
	return battle, nil
}

// MarkReady records that the participant's client finished its pre-battle
// setup. Once every participant is ready the battle starts: StartedAt is set
// exactly once and the voting window opens.
func (bs *BattleService) MarkReady(participantID string) error {
	var participant models.BattleParticipant
	if err := bs.DB.First(&participant, "id = ?", participantID).Error; err != nil {
		return err
	}
	if participant.BattleID == nil {
		return errors.New("participant is not in a battle")
	}

	now := time.Now()
	if participant.ReadyForBattleAt == nil {
		if err := bs.DB.Model(&participant).Update("ready_for_battle_at", now).Error; err != nil {
			return err
		}
		participant.ReadyForBattleAt = &now
		bs.Publisher.Trigger("battleparticipant-"+participant.ID, "battleParticipant.update", participant)
	}

	return bs.startBattleIfEveryoneReady(*participant.BattleID)
}

func (bs *BattleService) startBattleIfEveryoneReady(battleID string) error {
	var battle models.Battle
	if err := bs.DB.Preload("Participants").First(&battle, "id = ?", battleID).Error; err != nil {
		return err
	}
	if battle.StartedAt != nil || battle.MadeInactiveAt != nil {
		return nil
	}
	for _, p := range battle.Participants {
		if p.ReadyForBattleAt == nil {
			return nil
		}
	}

	now := time.Now()
	votingEndsAt := now.Add(bs.Config.VotingWindow)
	privacy := computePrivacyLevel(battle.Participants)

	// Guard on started_at IS NULL so two concurrent final ready calls can't
	// both start the battle.
	result := bs.DB.Model(&models.Battle{}).
		Where("id = ? AND started_at IS NULL", battle.ID).
		Updates(map[string]interface{}{
			"started_at":             now,
			"voting_ends_at":         votingEndsAt,
			"computed_privacy_level": privacy,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return nil
	}

	battle.StartedAt = &now
	battle.VotingEndsAt = &votingEndsAt
	battle.ComputedPrivacyLevel = privacy
	bs.Publisher.Trigger("battle-"+battle.ID, "battle.update", battle)
	log.Printf("✅ [BATTLE] Battle %s started with %d participants (privacy %s)", battle.ID, len(battle.Participants), privacy)
	return nil
}

// computePrivacyLevel: a battle is PUBLIC only when no participant requested
// PRIVATE.
func computePrivacyLevel(participants []models.BattleParticipant) string {
	for _, p := range participants {
		if p.RequestedBattlePrivacyLevel != nil && *p.RequestedBattlePrivacyLevel == models.BattlePrivacyPrivate {
			return models.BattlePrivacyPrivate
		}
	}
	return models.BattlePrivacyPublic
}

// CheckinInput is one liveness/state report from a participant's client.
type CheckinInput struct {
	State                         string
	Context                       string
	VideoStreamOffsetMilliseconds *int64
}

// RecordCheckin appends a checkin, refreshes the participant's denormalized
// state and connection status, and completes the battle once every
// participant reports COMPLETE.
func (bs *BattleService) RecordCheckin(participantID string, input CheckinInput) (*models.Checkin, error) {
	var participant models.BattleParticipant
	if err := bs.DB.First(&participant, "id = ?", participantID).Error; err != nil {
		return nil, err
	}

	now := time.Now()
	checkin := models.Checkin{
		ID:                            uuid.NewString(),
		BattleParticipantID:           participant.ID,
		CheckedInAt:                   now,
		VideoStreamOffsetMilliseconds: input.VideoStreamOffsetMilliseconds,
		State:                         input.State,
		Context:                       input.Context,
	}

	err := bs.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&checkin).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{
			"connection_status": models.ConnectionStatusOnline,
		}
		if input.State != "" {
			updates["current_state"] = input.State
		}
		if input.Context != "" {
			updates["current_context"] = input.Context
		}
		return tx.Model(&participant).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	bs.Publisher.Trigger("battleparticipant-"+participant.ID, "battleParticipant.checkin", checkin)

	if input.State == StateComplete && participant.BattleID != nil {
		if err := bs.completeBattleIfEveryoneDone(*participant.BattleID); err != nil {
			return nil, err
		}
	}
	return &checkin, nil
}

func (bs *BattleService) completeBattleIfEveryoneDone(battleID string) error {
	var battle models.Battle
	if err := bs.DB.Preload("Participants").First(&battle, "id = ?", battleID).Error; err != nil {
		return err
	}
	if battle.CompletedAt != nil || battle.StartedAt == nil {
		return nil
	}
	for _, p := range battle.Participants {
		if p.CurrentState != StateComplete {
			return nil
		}
	}

	now := time.Now()
	result := bs.DB.Model(&models.Battle{}).
		Where("id = ? AND completed_at IS NULL", battle.ID).
		Update("completed_at", now)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return nil
	}

	battle.CompletedAt = &now
	bs.Publisher.Trigger("battle-"+battle.ID, "battle.update", battle)
	log.Printf("✅ [BATTLE] Battle %s completed", battle.ID)

	if bs.Winners != nil {
		if _, err := bs.Winners.UpdateComputedWinningParticipants(battle.ID); err != nil {
			log.Printf("❌ [BATTLE] Failed to compute winners for battle %s: %v", battle.ID, err)
		}
	}
	return nil
}

// SetAppState records a foreground/background flip reported by the client.
// Backgrounded participants are treated like disconnected ones by the auto
// forfeit sweep.
func (bs *BattleService) SetAppState(participantID, appState string) error {
	if appState != models.AppStateActive && appState != models.AppStateBackground {
		return fmt.Errorf("unknown app state %q", appState)
	}
	now := time.Now()
	return bs.DB.Model(&models.BattleParticipant{}).
		Where("id = ?", participantID).
		Updates(map[string]interface{}{
			"app_state":                 appState,
			"app_state_last_changed_at": now,
		}).Error
}

// SetRequestedPrivacyLevel records a participant's privacy request. Before
// the battle starts this resets everyone's readiness so clients re-confirm
// against the new privacy level; after completion it re-runs winner and score
// computation since PRIVATE battles don't count toward ratings.
func (bs *BattleService) SetRequestedPrivacyLevel(participantID, level string) error {
	if level != models.BattlePrivacyPublic && level != models.BattlePrivacyPrivate {
		return fmt.Errorf("unknown privacy level %q", level)
	}

	var participant models.BattleParticipant
	if err := bs.DB.First(&participant, "id = ?", participantID).Error; err != nil {
		return err
	}
	if participant.BattleID == nil {
		return errors.New("participant is not in a battle")
	}

	var battle models.Battle
	if err := bs.DB.Preload("Participants").First(&battle, "id = ?", *participant.BattleID).Error; err != nil {
		return err
	}

	err := bs.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&participant).
			Update("requested_battle_privacy_level", level).Error; err != nil {
			return err
		}

		if battle.StartedAt == nil {
			if err := tx.Model(&models.BattleParticipant{}).
				Where("battle_id = ?", battle.ID).
				Update("ready_for_battle_at", nil).Error; err != nil {
				return err
			}
		}

		for i := range battle.Participants {
			if battle.Participants[i].ID == participant.ID {
				battle.Participants[i].RequestedBattlePrivacyLevel = &level
			}
		}
		privacy := computePrivacyLevel(battle.Participants)
		if privacy != battle.ComputedPrivacyLevel {
			if err := tx.Model(&battle).Update("computed_privacy_level", privacy).Error; err != nil {
				return err
			}
			battle.ComputedPrivacyLevel = privacy
		}
		return nil
	})
	if err != nil {
		return err
	}

	bs.Publisher.Trigger("battle-"+battle.ID, "battle.update", battle)

	if battle.CompletedAt != nil {
		if bs.Winners != nil {
			if _, err := bs.Winners.UpdateComputedWinningParticipants(battle.ID); err != nil {
				log.Printf("❌ [BATTLE] Failed to recompute winners for battle %s: %v", battle.ID, err)
			}
		}
		if bs.Scores != nil {
			if err := bs.Scores.RecomputeForBattle(battle.ID); err != nil {
				log.Printf("❌ [BATTLE] Failed to recompute scores for battle %s: %v", battle.ID, err)
			}
		}
	}
	return nil
}

// LeaveBattle handles an explicit "I'm out". Pool participants are simply
// inactivated; battle participants trigger the full inactivation path with
// forfeit attribution.
func (bs *BattleService) LeaveBattle(participantID string) error {
	var participant models.BattleParticipant
	if err := bs.DB.First(&participant, "id = ?", participantID).Error; err != nil {
		return err
	}

	if participant.BattleID == nil {
		now := time.Now()
		reason := models.InactiveReasonLeftBattle
		return bs.DB.Model(&participant).Updates(map[string]interface{}{
			"made_inactive_at":     now,
			"made_inactive_reason": reason,
		}).Error
	}

	return bs.MakeBattlesInactive([]string{*participant.BattleID}, models.InactiveReasonLeftBattle, participant.ID)
}

// challengeBacked reports whether the battle was formed from a challenge.
// Challenge battles skip forfeit attribution during the joined-but-not-yet-
// started window.
func (bs *BattleService) challengeBacked(battleID string) bool {
	var count int64
	if err := bs.DB.Model(&models.Challenge{}).
		Where("battle_id = ?", battleID).
		Count(&count).Error; err != nil {
		log.Printf("⚠️  [BATTLE] Challenge lookup failed for battle %s: %v", battleID, err)
		return false
	}
	return count > 0
}

// MakeBattlesInactive force-terminates battles. Only the first trigger for a
// battle takes effect; later calls are no-ops. When forfeit applies, the
// triggering participant is marked forfeited, the battle completes
// immediately, the remaining participants win, and scores are recomputed.
func (bs *BattleService) MakeBattlesInactive(battleIDs []string, reason string, triggeredByParticipantID string) error {
	for _, battleID := range battleIDs {
		if err := bs.makeBattleInactive(battleID, reason, triggeredByParticipantID); err != nil {
			return err
		}
	}
	return nil
}

func (bs *BattleService) makeBattleInactive(battleID, reason, triggeredByParticipantID string) error {
	var battle models.Battle
	if err := bs.DB.Preload("Participants").First(&battle, "id = ?", battleID).Error; err != nil {
		return err
	}

	now := time.Now()

	// First trigger wins: the conditional update both claims the battle and
	// fences out concurrent sweeps.
	result := bs.DB.Model(&models.Battle{}).
		Where("id = ? AND made_inactive_at IS NULL", battle.ID).
		Updates(map[string]interface{}{
			"made_inactive_at":     now,
			"made_inactive_reason": reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return nil
	}
	battle.MadeInactiveAt = &now
	battle.MadeInactiveReason = &reason

	started := battle.StartedAt != nil
	completed := battle.CompletedAt != nil
	shouldForfeit := !completed && (started || !bs.challengeBacked(battle.ID))

	err := bs.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.BattleParticipant{}).
			Where("battle_id = ? AND made_inactive_at IS NULL", battle.ID).
			Updates(map[string]interface{}{
				"made_inactive_at":     now,
				"made_inactive_reason": reason,
			}).Error; err != nil {
			return err
		}

		if !shouldForfeit {
			return nil
		}

		if triggeredByParticipantID != "" {
			if err := tx.Model(&models.BattleParticipant{}).
				Where("id = ? AND forfeited_at IS NULL", triggeredByParticipantID).
				Update("forfeited_at", now).Error; err != nil {
				return err
			}
		}

		// A forfeit ends the battle on the spot: remaining participants win.
		if err := tx.Model(&battle).Updates(map[string]interface{}{
			"completed_at":                now,
			"computed_has_been_forfeited": true,
		}).Error; err != nil {
			return err
		}
		battle.CompletedAt = &now
		battle.ComputedHasBeenForfeited = true

		for _, p := range battle.Participants {
			wonOrTied := p.ID != triggeredByParticipantID
			if err := tx.Model(&models.BattleParticipant{}).
				Where("id = ?", p.ID).
				Update("computed_did_win_or_tie_battle", wonOrTied).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	bs.Publisher.Trigger("battle-"+battle.ID, "battle.update", battle)
	log.Printf("🚫 [BATTLE] Battle %s made inactive (%s), forfeit=%t", battle.ID, reason, shouldForfeit)

	if shouldForfeit && bs.Scores != nil {
		if err := bs.Scores.RecomputeForBattle(battle.ID); err != nil {
			log.Printf("❌ [BATTLE] Failed to recompute scores after forfeit of battle %s: %v", battle.ID, err)
		}
	}
	return nil
}

// MarkStaleParticipantsOffline flips participants whose newest checkin is
// older than the inactivity threshold to OFFLINE. Runs on the sweep interval.
func (bs *BattleService) MarkStaleParticipantsOffline() {
	cutoff := time.Now().Add(-bs.Config.CheckinInactivityThreshold)

	var stale []models.BattleParticipant
	err := bs.DB.
		Where("connection_status = ?", models.ConnectionStatusOnline).
		Where("made_inactive_at IS NULL").
		Where(`NOT EXISTS (
			SELECT 1 FROM checkins
			WHERE checkins.battle_participant_id = battle_participants.id
			AND checkins.checked_in_at > ?
		)`, cutoff).
		Find(&stale).Error
	if err != nil {
		log.Printf("❌ [LIVENESS] Failed to find stale participants: %v", err)
		return
	}

	for i := range stale {
		p := &stale[i]
		result := bs.DB.Model(&models.BattleParticipant{}).
			Where("id = ? AND connection_status = ?", p.ID, models.ConnectionStatusOnline).
			Update("connection_status", models.ConnectionStatusOffline)
		if result.Error != nil {
			log.Printf("❌ [LIVENESS] Failed to mark participant %s offline: %v", p.ID, result.Error)
			continue
		}
		if result.RowsAffected == 0 {
			continue
		}
		p.ConnectionStatus = models.ConnectionStatusOffline
		bs.Publisher.Trigger("battleparticipant-"+p.ID, "battleParticipant.update", p)
		log.Printf("⚠️  [LIVENESS] Participant %s marked OFFLINE (no checkin since %s)", p.ID, cutoff.Format(time.RFC3339))
	}
}

// AutoForfeitAbandonedBattles inactivates in-progress battles where some
// participant has been offline or backgrounded for longer than the grace
// period. The cutoff folds in one sweep interval so a participant always gets
// a full threshold before the sweep that catches them.
func (bs *BattleService) AutoForfeitAbandonedBattles() {
	cutoff := time.Now().Add(-(bs.Config.DisconnectBeforeForfeitThreshold + bs.Config.SweepInterval))

	var battles []models.Battle
	err := bs.DB.Preload("Participants").Preload("Participants.Checkins").
		Where("started_at IS NOT NULL").
		Where("completed_at IS NULL").
		Where("made_inactive_at IS NULL").
		Find(&battles).Error
	if err != nil {
		log.Printf("❌ [FORFEIT] Failed to load active battles: %v", err)
		return
	}

	for _, battle := range battles {
		trigger := abandonedParticipant(battle.Participants, cutoff)
		if trigger == nil {
			continue
		}
		log.Printf("🚫 [FORFEIT] Auto-forfeiting battle %s: participant %s gone since before %s", battle.ID, trigger.ID, cutoff.Format(time.RFC3339))
		if err := bs.MakeBattlesInactive([]string{battle.ID}, models.InactiveReasonAutoForfeit, trigger.ID); err != nil {
			log.Printf("❌ [FORFEIT] Failed to auto-forfeit battle %s: %v", battle.ID, err)
		}
	}
}

// abandonedParticipant picks the participant that triggers the auto forfeit,
// scanning in battle order so the attribution is deterministic when both
// participants are gone.
func abandonedParticipant(participants []models.BattleParticipant, cutoff time.Time) *models.BattleParticipant {
	ordered := make([]*models.BattleParticipant, 0, len(participants))
	for i := range participants {
		ordered = append(ordered, &participants[i])
	}
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			oi, oj := ordered[i].Order, ordered[j].Order
			if oi != nil && oj != nil && *oj < *oi {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}

	for _, p := range ordered {
		if p.AppState == models.AppStateBackground &&
			p.AppStateLastChangedAt != nil &&
			p.AppStateLastChangedAt.Before(cutoff) {
			return p
		}
		if p.ConnectionStatus == models.ConnectionStatusOffline && lastCheckinBefore(p, cutoff) {
			return p
		}
	}
	return nil
}

func lastCheckinBefore(p *models.BattleParticipant, cutoff time.Time) bool {
	var latest time.Time
	for _, c := range p.Checkins {
		if c.CheckedInAt.After(latest) {
			latest = c.CheckedInAt
		}
	}
	return latest.Before(cutoff)
}

// GetBattle loads a battle with everything a client needs to render it.
func (bs *BattleService) GetBattle(battleID string) (*models.Battle, error) {
	var battle models.Battle
	err := bs.DB.
		Preload("Participants").
		Preload("Participants.User").
		Preload("Participants.Checkins").
		Preload("Participants.ProcessedVideoThumbnails").
		Preload("ExportedVideoThumbnails").
		First(&battle, "id = ?", battleID).Error
	if err != nil {
		return nil, err
	}
	return &battle, nil
}

// RecordStateMachineEvent persists a peer broadcast and relays it to the
// battle's event channel. Duplicate client UUIDs are dropped so retries don't
// double-deliver.
func (bs *BattleService) RecordStateMachineEvent(battleID, participantID, clientGeneratedUUID, payload string) (*models.StateMachineEvent, error) {
	if clientGeneratedUUID != "" {
		var count int64
		if err := bs.DB.Model(&models.StateMachineEvent{}).
			Where("battle_id = ? AND client_generated_uuid = ?", battleID, clientGeneratedUUID).
			Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, nil
		}
	}

	event := models.StateMachineEvent{
		ID:                       uuid.NewString(),
		BattleID:                 battleID,
		TriggeredByParticipantID: participantID,
		ClientGeneratedUUID:      clientGeneratedUUID,
		Payload:                  payload,
	}
	if err := bs.DB.Create(&event).Error; err != nil {
		return nil, err
	}

	bs.Publisher.Trigger("battle-"+battleID+"-events", "battle.event", event)
	return &event, nil
}

// SetMediaTracks stores the track identifiers the video room assigned to a
// participant's published streams.
func (bs *BattleService) SetMediaTracks(participantID string, audioTrackID, videoTrackID, dataTrackID *string) error {
	updates := map[string]interface{}{}
	if audioTrackID != nil {
		updates["audio_track_id"] = *audioTrackID
	}
	if videoTrackID != nil {
		updates["video_track_id"] = *videoTrackID
	}
	if dataTrackID != nil {
		updates["data_track_id"] = *dataTrackID
	}
	if len(updates) == 0 {
		return nil
	}
	return bs.DB.Model(&models.BattleParticipant{}).
		Where("id = ?", participantID).
		Updates(updates).Error
}

// SetRecordingIDs stores the recording identifiers once the room starts
// recording, and stamps when video streaming began.
func (bs *BattleService) SetRecordingIDs(participantID string, audioRecordingID, videoRecordingID *string) error {
	updates := map[string]interface{}{}
	if audioRecordingID != nil {
		updates["audio_recording_id"] = *audioRecordingID
	}
	if videoRecordingID != nil {
		updates["video_recording_id"] = *videoRecordingID
		updates["video_streaming_started_at"] = time.Now()
	}
	if len(updates) == 0 {
		return nil
	}
	return bs.DB.Model(&models.BattleParticipant{}).
		Where("id = ?", participantID).
		Updates(updates).Error
}

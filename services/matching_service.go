package services

import (
	"errors"
	"log"
	"time"

	"battle-service/models"
	"battle-service/realtime"

	"gorm.io/gorm"
)

// MatchingService pairs waiting participants into battles. Participants enter
// the pool when created (BattleID nil) and leave it either by being paired or
// by timing out with MATCHING_TIMED_OUT.
type MatchingService struct {
	DB        *gorm.DB
	Config    Config
	Publisher realtime.Publisher
	Battles   *BattleService
}

func NewMatchingService(db *gorm.DB, config Config, publisher realtime.Publisher, battles *BattleService) *MatchingService {
	return &MatchingService{DB: db, Config: config, Publisher: publisher, Battles: battles}
}

// scoreDeviationFor picks the widest tolerance band the participant has
// unlocked: the table is walked newest-threshold-first and the first entry
// whose threshold has elapsed wins.
func (ms *MatchingService) scoreDeviationFor(waited time.Duration) float64 {
	elapsed := waited.Milliseconds()
	table := ms.Config.ScoreToleranceTable
	for i := len(table) - 1; i >= 0; i-- {
		if elapsed > table[i].AfterMilliseconds {
			return table[i].Deviation
		}
	}
	if len(table) > 0 {
		return table[0].Deviation
	}
	return 0
}

// findAvailableOpponent returns the longest-waiting eligible opponent for the
// given participant, or nil when nobody qualifies right now.
//
// DEFAULT matching requires the opponent's score to sit strictly inside
// participant score +/- deviation; RANDOM matching ignores scores entirely.
func (ms *MatchingService) findAvailableOpponent(participant *models.BattleParticipant, now time.Time) (*models.BattleParticipant, error) {
	query := ms.DB.
		Joins("JOIN users ON users.id = battle_participants.user_id").
		Where("battle_participants.battle_id IS NULL").
		Where("battle_participants.made_inactive_at IS NULL").
		Where("battle_participants.connection_status = ?", models.ConnectionStatusOnline).
		Where("battle_participants.user_id <> ?", participant.UserID).
		Where("battle_participants.id <> ?", participant.ID).
		Order("battle_participants.matching_started_at ASC")

	if participant.MatchingAlgorithm != models.MatchingAlgorithmRandom {
		var score float64
		if err := ms.DB.Model(&models.User{}).
			Select("computed_score").
			Where("id = ?", participant.UserID).
			Scan(&score).Error; err != nil {
			return nil, err
		}

		deviation := ms.scoreDeviationFor(now.Sub(participant.MatchingStartedAt))
		query = query.
			Where("users.computed_score > ?", score-deviation).
			Where("users.computed_score < ?", score+deviation)
	}

	var opponent models.BattleParticipant
	if err := query.First(&opponent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &opponent, nil
}

// MatchOne makes a single pairing attempt for the participant. Returns the
// created battle, or nil when no opponent was available (the periodic sweep
// keeps retrying). Every attempt enforces MatchingMaxDuration first:
// participants past it are inactivated with MATCHING_TIMED_OUT instead of
// paired. A concurrent sweep grabbing the same opponent is not an error - the
// reservation simply fails and we report no match.
func (ms *MatchingService) MatchOne(participantID string) (*models.Battle, error) {
	var participant models.BattleParticipant
	if err := ms.DB.First(&participant, "id = ?", participantID).Error; err != nil {
		return nil, err
	}
	if participant.BattleID != nil || participant.MadeInactiveAt != nil {
		return nil, nil
	}

	now := time.Now()
	if now.Sub(participant.MatchingStartedAt) > ms.Config.MatchingMaxDuration {
		return nil, ms.timeOutParticipant(&participant, now)
	}
	// Eligibility is symmetric: an OFFLINE participant neither gets picked as
	// an opponent nor initiates a pairing. It stays in the pool until it
	// reconnects or times out.
	if participant.ConnectionStatus != models.ConnectionStatusOnline {
		return nil, nil
	}

	opponent, err := ms.findAvailableOpponent(&participant, now)
	if err != nil {
		return nil, err
	}
	if opponent == nil {
		if !participant.InitialMatchFailed {
			if err := ms.DB.Model(&participant).Update("initial_match_failed", true).Error; err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	battle, err := ms.Battles.CreateForPair(&participant, opponent)
	if err != nil {
		if errors.Is(err, ErrParticipantAlreadyReserved) {
			log.Printf("⚠️  [MATCHING] Participant %s or %s got reserved mid-pairing, will retry", participant.ID, opponent.ID)
			return nil, nil
		}
		return nil, err
	}

	log.Printf("✅ [MATCHING] Paired participants %s and %s into battle %s", participant.ID, opponent.ID, battle.ID)
	return battle, nil
}

// SweepAll is the periodic pass over the whole matching pool: every waiting
// participant gets another MatchOne attempt, which times out the ones past
// MatchingMaxDuration and skips the ones not currently ONLINE.
func (ms *MatchingService) SweepAll() {
	var waiting []models.BattleParticipant
	if err := ms.DB.
		Where("battle_id IS NULL").
		Where("made_inactive_at IS NULL").
		Order("matching_started_at ASC").
		Find(&waiting).Error; err != nil {
		log.Printf("❌ [MATCHING] Failed to load matching pool: %v", err)
		return
	}

	for i := range waiting {
		if _, err := ms.MatchOne(waiting[i].ID); err != nil {
			log.Printf("❌ [MATCHING] Pairing attempt for participant %s failed: %v", waiting[i].ID, err)
		}
	}
}

func (ms *MatchingService) timeOutParticipant(participant *models.BattleParticipant, now time.Time) error {
	reason := models.InactiveReasonMatchingTimedOut
	result := ms.DB.Model(&models.BattleParticipant{}).
		Where("id = ? AND battle_id IS NULL AND made_inactive_at IS NULL", participant.ID).
		Updates(map[string]interface{}{
			"made_inactive_at":     now,
			"made_inactive_reason": reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Lost the race to a pairing; nothing to do.
		return nil
	}

	participant.MadeInactiveAt = &now
	participant.MadeInactiveReason = &reason
	ms.Publisher.Trigger(
		"battleparticipant-"+participant.ID,
		"battleParticipant.update",
		participant,
	)
	log.Printf("🚫 [MATCHING] Participant %s timed out of matching after %s", participant.ID, ms.Config.MatchingMaxDuration)
	return nil
}

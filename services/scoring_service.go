package services

import (
	"log"
	"sort"
	"time"

	"battle-service/models"
	"battle-service/realtime"

	"gorm.io/gorm"
)

// ScoringService owns rating computation. Scores are never adjusted in place:
// any event that changes a battle's outcome (votes shifting the winner, a
// forfeit, a privacy flip) triggers a forward replay from that battle, and
// every later battle of the affected users is recomputed on top of it.
type ScoringService struct {
	DB        *gorm.DB
	Config    Config
	Publisher realtime.Publisher
}

func NewScoringService(db *gorm.DB, config Config, publisher realtime.Publisher) *ScoringService {
	return &ScoringService{DB: db, Config: config, Publisher: publisher}
}

// RecomputeForBattle replays ratings forward starting at the given battle.
func (ss *ScoringService) RecomputeForBattle(battleID string) error {
	var battle models.Battle
	if err := ss.DB.Preload("Participants").First(&battle, "id = ?", battleID).Error; err != nil {
		return err
	}

	userIDs := make([]string, 0, len(battle.Participants))
	for _, p := range battle.Participants {
		userIDs = append(userIDs, p.UserID)
	}
	return ss.Recompute(userIDs, battle.CreatedAt)
}

// Recompute replays Elo forward in time for the given users, starting from
// the most recent battle created at or before startingAt.
//
// The score cache seeds from the starting battle's per-participant snapshots,
// so everything before the starting point stays untouched. Walking forward,
// each battle's snapshots are rewritten where they diverge from the cache,
// and eligible battles (PUBLIC, completed, voted-on or forfeited) feed the
// Elo update. Opponents encountered along the way join the affected set, so
// their later battles are replayed too. Finishes by writing the final cached
// score to each affected user.
func (ss *ScoringService) Recompute(userIDs []string, startingAt time.Time) error {
	if len(userIDs) == 0 {
		return nil
	}

	affected := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		affected[id] = true
	}
	scores := make(map[string]float64)

	startCreatedAt, ok, err := ss.startingBattleCreatedAt(affectedIDs(affected), startingAt)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	err = ss.DB.Transaction(func(tx *gorm.DB) error {
		// Keyset cursor over (created_at, id). The affected set grows as
		// opponents are encountered, which pulls their battles into the result
		// set mid-walk; a positional offset would then replay rows twice or
		// skip past others.
		var cursorCreatedAt time.Time
		var cursorID string
		for first := true; ; first = false {
			query := tx.Preload("Participants").
				Where(`id IN (SELECT battle_id FROM battle_participants
					WHERE user_id IN ? AND battle_id IS NOT NULL)`, affectedIDs(affected)).
				Where("created_at >= ?", startCreatedAt)
			if !first {
				query = query.Where(
					"created_at > ? OR (created_at = ? AND id > ?)",
					cursorCreatedAt, cursorCreatedAt, cursorID,
				)
			}

			var battle models.Battle
			result := query.
				Order("created_at ASC, id ASC").
				Limit(1).
				Find(&battle)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				break
			}
			cursorCreatedAt, cursorID = battle.CreatedAt, battle.ID

			if err := ss.replayBattle(tx, &battle, scores, affected); err != nil {
				return err
			}
		}

		for userID, score := range scores {
			result := tx.Model(&models.User{}).
				Where("id = ? AND computed_score <> ?", userID, score).
				Update("computed_score", score)
			if result.Error != nil {
				return result.Error
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for userID, score := range scores {
		ss.Publisher.Trigger("user-"+userID, "user.update", map[string]interface{}{
			"id":             userID,
			"computed_score": score,
		})
	}
	return nil
}

// replayBattle rewrites the battle's score snapshots from the cache and, when
// the battle counts toward ratings, runs the Elo update.
func (ss *ScoringService) replayBattle(tx *gorm.DB, battle *models.Battle, scores map[string]float64, affected map[string]bool) error {
	participants := make([]models.BattleParticipant, len(battle.Participants))
	copy(participants, battle.Participants)
	sort.Slice(participants, func(i, j int) bool {
		oi, oj := participants[i].Order, participants[j].Order
		if oi == nil || oj == nil {
			return participants[i].ID < participants[j].ID
		}
		return *oi < *oj
	})

	for i := range participants {
		p := &participants[i]
		affected[p.UserID] = true

		if _, seeded := scores[p.UserID]; !seeded {
			if p.UserComputedScoreAtBattleCreatedAt != nil {
				scores[p.UserID] = *p.UserComputedScoreAtBattleCreatedAt
			} else {
				scores[p.UserID] = ss.Config.InitialScore
			}
		}

		expected := scores[p.UserID]
		if p.UserComputedScoreAtBattleCreatedAt == nil || *p.UserComputedScoreAtBattleCreatedAt != expected {
			if err := tx.Model(&models.BattleParticipant{}).
				Where("id = ?", p.ID).
				Update("user_computed_score_at_battle_created_at", expected).Error; err != nil {
				return err
			}
			p.UserComputedScoreAtBattleCreatedAt = &expected
		}
	}

	if !battleCountsTowardScores(battle) || len(participants) != 2 {
		return nil
	}

	result := battleResultForFirst(participants[0], participants[1])
	first, second := eloExecuteMatch(
		scores[participants[0].UserID],
		scores[participants[1].UserID],
		result,
		ss.Config.Elo,
	)
	scores[participants[0].UserID] = first
	scores[participants[1].UserID] = second
	return nil
}

// battleCountsTowardScores: only completed PUBLIC battles that either
// received votes or ended in a forfeit move ratings.
func battleCountsTowardScores(battle *models.Battle) bool {
	return battle.CompletedAt != nil &&
		battle.ComputedPrivacyLevel == models.BattlePrivacyPublic &&
		(battle.ComputedHasReceivedVotes || battle.ComputedHasBeenForfeited)
}

// battleResultForFirst maps the winner flags to an Elo result from the first
// participant's perspective: 1 win, 0 loss, 0.5 tie. Both-won and
// neither-decided both read as a tie.
func battleResultForFirst(first, second models.BattleParticipant) float64 {
	firstWon := first.ComputedDidWinOrTieBattle != nil && *first.ComputedDidWinOrTieBattle
	secondWon := second.ComputedDidWinOrTieBattle != nil && *second.ComputedDidWinOrTieBattle

	switch {
	case firstWon && !secondWon:
		return 1
	case secondWon && !firstWon:
		return 0
	default:
		return 0.5
	}
}

// startingBattleCreatedAt finds the creation time of the most recent battle
// at or before startingAt involving any of the users. Falls back to the
// earliest battle when nothing precedes startingAt.
func (ss *ScoringService) startingBattleCreatedAt(userIDs []string, startingAt time.Time) (time.Time, bool, error) {
	base := func() *gorm.DB {
		return ss.DB.Model(&models.Battle{}).
			Where(`id IN (SELECT battle_id FROM battle_participants
				WHERE user_id IN ? AND battle_id IS NOT NULL)`, userIDs)
	}

	var battle models.Battle
	result := base().
		Where("created_at <= ?", startingAt).
		Order("created_at DESC, id DESC").
		Limit(1).
		Find(&battle)
	if result.Error != nil {
		return time.Time{}, false, result.Error
	}
	if result.RowsAffected > 0 {
		return battle.CreatedAt, true, nil
	}

	result = base().Order("created_at ASC, id ASC").Limit(1).Find(&battle)
	if result.Error != nil {
		return time.Time{}, false, result.Error
	}
	if result.RowsAffected == 0 {
		return time.Time{}, false, nil
	}
	return battle.CreatedAt, true, nil
}

// RecomputeAll replays every user's ratings from the beginning of time.
// Maintenance entry point; not called on any hot path.
func (ss *ScoringService) RecomputeAll() error {
	var userIDs []string
	if err := ss.DB.Model(&models.User{}).Pluck("id", &userIDs).Error; err != nil {
		return err
	}
	if len(userIDs) == 0 {
		return nil
	}
	log.Printf("⚠️  [SCORING] Full recompute requested for %d users", len(userIDs))
	return ss.Recompute(userIDs, time.Time{})
}

func affectedIDs(affected map[string]bool) []string {
	ids := make([]string, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

package services

import (
	"errors"
	"log"
	"time"

	"battle-service/models"
	"battle-service/realtime"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VoteService owns the vote ledger: casting with the per-user cap, oldest
// vote reallocation, winner computation, and result fan-out.
type VoteService struct {
	DB        *gorm.DB
	Config    Config
	Publisher realtime.Publisher

	Scores ScoreRecomputer
}

func NewVoteService(db *gorm.DB, config Config, publisher realtime.Publisher) *VoteService {
	return &VoteService{DB: db, Config: config, Publisher: publisher}
}

// VoteInput is one cast gesture from a client. The offsets bracket the
// press-and-hold within the video stream; amount is how many votes the hold
// accumulated.
type VoteInput struct {
	Amount                                        int
	StartedCastingAtVideoStreamOffsetMilliseconds *int64
	EndedCastingAtVideoStreamOffsetMilliseconds   *int64
	ClientGeneratedUUID                           string
}

// ParticipantVoteTotal is one row of the published results payload.
type ParticipantVoteTotal struct {
	BattleParticipantID string `json:"battle_participant_id"`
	Total               int    `json:"total"`
}

// BattleResults is the payload published on a battle's results channel:
// per-participant totals plus the current winner-or-tie set.
type BattleResults struct {
	Totals                              []ParticipantVoteTotal `json:"totals"`
	WinningOrTieingBattleParticipantIDs []string               `json:"winning_or_tieing_battle_participant_ids"`
}

// BattleResults assembles the current totals and winner set for a battle.
func (vs *VoteService) BattleResults(battleID string) (*BattleResults, error) {
	totals, err := vs.VoteTotals(battleID)
	if err != nil {
		return nil, err
	}

	var participants []models.BattleParticipant
	if err := vs.DB.
		Where("battle_id = ?", battleID).
		Order("\"order\" ASC").
		Find(&participants).Error; err != nil {
		return nil, err
	}

	winners := make([]string, 0, len(participants))
	for _, p := range participants {
		if p.ComputedDidWinOrTieBattle != nil && *p.ComputedDidWinOrTieBattle {
			winners = append(winners, p.ID)
		}
	}
	return &BattleResults{Totals: totals, WinningOrTieingBattleParticipantIDs: winners}, nil
}

// CastVote appends votes for a participant on behalf of a user. Casts that
// can't be accepted (battle not started, inactive, private, window closed, or
// the caster battles in it) are silently dropped - stale clients retry these
// constantly and they're not errors worth surfacing.
//
// A user holds at most MaxVotesPerUserPerBattle votes per battle. Casting past
// the cap reallocates: the user's oldest votes are deleted (or shrunk) to make
// room, preferring votes held by other participants so a late surge of
// enthusiasm shifts earlier allegiance.
func (vs *VoteService) CastVote(castByUserID, battleParticipantID string, input VoteInput) (*models.Vote, error) {
	var participant models.BattleParticipant
	if err := vs.DB.First(&participant, "id = ?", battleParticipantID).Error; err != nil {
		return nil, err
	}
	if participant.BattleID == nil {
		return nil, nil
	}

	var battle models.Battle
	if err := vs.DB.Preload("Participants").First(&battle, "id = ?", *participant.BattleID).Error; err != nil {
		return nil, err
	}

	now := time.Now()
	switch {
	case battle.StartedAt == nil,
		battle.MadeInactiveAt != nil,
		battle.ComputedPrivacyLevel != models.BattlePrivacyPublic,
		battle.VotingEndsAt == nil,
		now.After(*battle.VotingEndsAt):
		return nil, nil
	}

	// Battlers never vote in their own battle, for either side.
	for _, p := range battle.Participants {
		if p.UserID == castByUserID {
			return nil, nil
		}
	}

	amount := input.Amount
	if amount < 1 {
		amount = 1
	}
	if amount > vs.Config.MaxVotesPerUserPerBattle {
		amount = vs.Config.MaxVotesPerUserPerBattle
	}

	participantIDs := make([]string, 0, len(battle.Participants))
	for _, p := range battle.Participants {
		participantIDs = append(participantIDs, p.ID)
	}

	startedCastingAt := now
	if input.StartedCastingAtVideoStreamOffsetMilliseconds != nil &&
		input.EndedCastingAtVideoStreamOffsetMilliseconds != nil {
		held := *input.EndedCastingAtVideoStreamOffsetMilliseconds - *input.StartedCastingAtVideoStreamOffsetMilliseconds
		if held > 0 {
			startedCastingAt = now.Add(-time.Duration(held) * time.Millisecond)
		}
	}

	vote := models.Vote{
		ID:                  uuid.NewString(),
		BattleParticipantID: battleParticipantID,
		CastByUserID:        castByUserID,
		Amount:              amount,
		StartedCastingAt:    startedCastingAt,
		EndedCastingAt:      now,
		StartedCastingAtVideoStreamOffsetMilliseconds: input.StartedCastingAtVideoStreamOffsetMilliseconds,
		EndedCastingAtVideoStreamOffsetMilliseconds:   input.EndedCastingAtVideoStreamOffsetMilliseconds,
		ClientGeneratedUUID:                           input.ClientGeneratedUUID,
	}

	err := vs.DB.Transaction(func(tx *gorm.DB) error {
		var existing []models.Vote
		if err := lockVoteLedger(tx).
			Where("cast_by_user_id = ? AND battle_participant_id IN ?", castByUserID, participantIDs).
			Order("started_casting_at ASC").
			Find(&existing).Error; err != nil {
			return err
		}

		held := 0
		for _, v := range existing {
			held += v.Amount
		}

		overflow := held + amount - vs.Config.MaxVotesPerUserPerBattle
		if overflow > 0 {
			if err := vs.evictOldest(tx, existing, battleParticipantID, overflow); err != nil {
				return err
			}
		}

		if err := tx.Create(&vote).Error; err != nil {
			return err
		}

		if !battle.ComputedHasReceivedVotes {
			if err := tx.Model(&battle).
				Update("computed_has_received_votes", true).Error; err != nil {
				return err
			}
			battle.ComputedHasReceivedVotes = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Winners track the ledger live, not just after completion; scores only
	// cascade when a flag actually flipped.
	changed, err := vs.UpdateComputedWinningParticipants(battle.ID)
	if err != nil {
		return nil, err
	}
	if changed && vs.Scores != nil {
		if err := vs.Scores.RecomputeForBattle(battle.ID); err != nil {
			log.Printf("❌ [VOTES] Failed to recompute scores for battle %s: %v", battle.ID, err)
		}
	}

	results, err := vs.BattleResults(battle.ID)
	if err != nil {
		log.Printf("❌ [VOTES] Failed to load results for battle %s: %v", battle.ID, err)
	} else {
		vs.Publisher.Trigger("battle-"+battle.ID+"-results", "battle.results", results)
	}
	return &vote, nil
}

// lockVoteLedger row-locks the caster's ledger reads so two concurrent casts
// by the same user serialize on the cap check instead of both reading the
// pre-cast ledger. sqlite has no FOR UPDATE; its single writer already
// serializes the transaction.
func lockVoteLedger(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// evictOldest frees `overflow` votes from the user's existing ledger rows,
// oldest first. Votes held by participants other than the one being voted for
// go first; whole rows are deleted until the remainder fits inside a single
// row, which is then shrunk in place.
func (vs *VoteService) evictOldest(tx *gorm.DB, existing []models.Vote, votingForParticipantID string, overflow int) error {
	ordered := make([]models.Vote, 0, len(existing))
	for _, v := range existing {
		if v.BattleParticipantID != votingForParticipantID {
			ordered = append(ordered, v)
		}
	}
	for _, v := range existing {
		if v.BattleParticipantID == votingForParticipantID {
			ordered = append(ordered, v)
		}
	}

	for _, v := range ordered {
		if overflow <= 0 {
			return nil
		}
		if v.Amount <= overflow {
			if err := tx.Delete(&models.Vote{}, "id = ?", v.ID).Error; err != nil {
				return err
			}
			overflow -= v.Amount
			continue
		}
		if err := tx.Model(&models.Vote{}).
			Where("id = ?", v.ID).
			Update("amount", v.Amount-overflow).Error; err != nil {
			return err
		}
		overflow = 0
	}
	if overflow > 0 {
		return errors.New("vote ledger inconsistent: could not free enough votes")
	}
	return nil
}

// VoteTotals sums the ledger per participant for a battle. Participants with
// no votes report zero.
func (vs *VoteService) VoteTotals(battleID string) ([]ParticipantVoteTotal, error) {
	var participants []models.BattleParticipant
	if err := vs.DB.
		Where("battle_id = ?", battleID).
		Order("\"order\" ASC").
		Find(&participants).Error; err != nil {
		return nil, err
	}

	totals := make([]ParticipantVoteTotal, 0, len(participants))
	for _, p := range participants {
		var sum *int
		if err := vs.DB.Model(&models.Vote{}).
			Select("SUM(amount)").
			Where("battle_participant_id = ?", p.ID).
			Scan(&sum).Error; err != nil {
			return nil, err
		}
		total := 0
		if sum != nil {
			total = *sum
		}
		totals = append(totals, ParticipantVoteTotal{BattleParticipantID: p.ID, Total: total})
	}
	return totals, nil
}

// UpdateComputedWinningParticipants recomputes the winner flags for a battle
// and reports whether any flag changed. Idempotent: recomputing an unchanged
// ledger rewrites nothing.
//
// PRIVATE battles carry no winners at all (flags reset to unset). Forfeited
// battles award the win to every non-forfeiting participant regardless of
// votes. Otherwise the highest vote sum wins, with ties marking every tied
// participant as won-or-tied.
func (vs *VoteService) UpdateComputedWinningParticipants(battleID string) (bool, error) {
	var battle models.Battle
	if err := vs.DB.Preload("Participants").First(&battle, "id = ?", battleID).Error; err != nil {
		return false, err
	}

	desired := make(map[string]*bool, len(battle.Participants))

	switch {
	case battle.ComputedPrivacyLevel != models.BattlePrivacyPublic:
		for _, p := range battle.Participants {
			desired[p.ID] = nil
		}

	case battle.ComputedHasBeenForfeited:
		for _, p := range battle.Participants {
			won := p.ForfeitedAt == nil
			desired[p.ID] = &won
		}

	default:
		totals, err := vs.VoteTotals(battle.ID)
		if err != nil {
			return false, err
		}
		max := 0
		for _, t := range totals {
			if t.Total > max {
				max = t.Total
			}
		}
		for _, t := range totals {
			won := t.Total == max
			desired[t.BattleParticipantID] = &won
		}
	}

	changed := false
	err := vs.DB.Transaction(func(tx *gorm.DB) error {
		for _, p := range battle.Participants {
			want := desired[p.ID]
			if boolPtrEqual(p.ComputedDidWinOrTieBattle, want) {
				continue
			}
			changed = true
			if err := tx.Model(&models.BattleParticipant{}).
				Where("id = ?", p.ID).
				Update("computed_did_win_or_tie_battle", want).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if changed {
		vs.Publisher.Trigger("battle-"+battle.ID+"-results", "battle.winnersChanged", desiredAsTotalsPayload(battle.Participants, desired))
	}
	return changed, nil
}

type winnerFlag struct {
	BattleParticipantID string `json:"battle_participant_id"`
	DidWinOrTieBattle   *bool  `json:"did_win_or_tie_battle"`
}

func desiredAsTotalsPayload(participants []models.BattleParticipant, desired map[string]*bool) []winnerFlag {
	flags := make([]winnerFlag, 0, len(participants))
	for _, p := range participants {
		flags = append(flags, winnerFlag{BattleParticipantID: p.ID, DidWinOrTieBattle: desired[p.ID]})
	}
	return flags
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

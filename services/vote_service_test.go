package services

import (
	"testing"
	"time"

	"battle-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func (ts *testStack) votableBattle(t *testing.T) (*models.Battle, *models.BattleParticipant, *models.BattleParticipant) {
	t.Helper()
	_, pa, pb := ts.createBattle(t, 5000, 5000)
	ts.startBattle(t, pa, pb)
	battle := ts.completeBattle(t, pa, pb)
	return battle, pa, pb
}

func (ts *testStack) totalFor(t *testing.T, battleID, participantID string) int {
	t.Helper()
	totals, err := ts.votes.VoteTotals(battleID)
	require.NoError(t, err)
	for _, total := range totals {
		if total.BattleParticipantID == participantID {
			return total.Total
		}
	}
	t.Fatalf("participant %s not in totals", participantID)
	return 0
}

func TestCastVoteAccumulates(t *testing.T) {
	ts := newTestStack(t)
	battle, pa, _ := ts.votableBattle(t)
	voter := ts.createUser(t, "voter", 5000)

	vote, err := ts.votes.CastVote(voter.ID, pa.ID, VoteInput{Amount: 3})
	require.NoError(t, err)
	require.NotNil(t, vote)
	assert.Equal(t, 3, vote.Amount)

	_, err = ts.votes.CastVote(voter.ID, pa.ID, VoteInput{Amount: 2})
	require.NoError(t, err)

	assert.Equal(t, 5, ts.totalFor(t, battle.ID, pa.ID))
	assert.True(t, ts.reloadBattle(t, battle.ID).ComputedHasReceivedVotes)
}

func TestCastVoteCapReallocatesFromOtherTarget(t *testing.T) {
	ts := newTestStack(t)
	battle, pa, pb := ts.votableBattle(t)
	voter := ts.createUser(t, "voter", 5000)

	// Fill the cap entirely on pa.
	_, err := ts.votes.CastVote(voter.ID, pa.ID, VoteInput{Amount: 20})
	require.NoError(t, err)
	assert.Equal(t, 20, ts.totalFor(t, battle.ID, pa.ID))

	// 5 more for pb: the cap forces 5 of pa's oldest votes out.
	_, err = ts.votes.CastVote(voter.ID, pb.ID, VoteInput{Amount: 5})
	require.NoError(t, err)

	assert.Equal(t, 15, ts.totalFor(t, battle.ID, pa.ID))
	assert.Equal(t, 5, ts.totalFor(t, battle.ID, pb.ID))

	// Cap holds: the voter never exceeds 20 across the battle.
	assert.Equal(t, 20, ts.totalFor(t, battle.ID, pa.ID)+ts.totalFor(t, battle.ID, pb.ID))
}

func TestCastVoteEvictionDeletesWholeRowsFirst(t *testing.T) {
	ts := newTestStack(t)
	battle, pa, pb := ts.votableBattle(t)
	voter := ts.createUser(t, "voter", 5000)

	// Four 5-vote rows on pa, oldest first.
	for i := 0; i < 4; i++ {
		_, err := ts.votes.CastVote(voter.ID, pa.ID, VoteInput{Amount: 5})
		require.NoError(t, err)
	}

	// 7 votes for pb: one whole 5-row goes, a second row shrinks by 2.
	_, err := ts.votes.CastVote(voter.ID, pb.ID, VoteInput{Amount: 7})
	require.NoError(t, err)

	assert.Equal(t, 13, ts.totalFor(t, battle.ID, pa.ID))
	assert.Equal(t, 7, ts.totalFor(t, battle.ID, pb.ID))

	var remaining int64
	require.NoError(t, ts.db.Model(&models.Vote{}).
		Where("battle_participant_id = ?", pa.ID).
		Count(&remaining).Error)
	assert.Equal(t, int64(3), remaining)
}

func TestCastVoteClampsAmountToCap(t *testing.T) {
	ts := newTestStack(t)
	battle, pa, _ := ts.votableBattle(t)
	voter := ts.createUser(t, "voter", 5000)

	vote, err := ts.votes.CastVote(voter.ID, pa.ID, VoteInput{Amount: 500})
	require.NoError(t, err)
	require.NotNil(t, vote)
	assert.Equal(t, 20, vote.Amount)
	assert.Equal(t, 20, ts.totalFor(t, battle.ID, pa.ID))
}

func TestCastVoteDroppedOutsideVotingWindow(t *testing.T) {
	ts := newTestStack(t)
	battle, pa, _ := ts.votableBattle(t)
	voter := ts.createUser(t, "voter", 5000)

	require.NoError(t, ts.db.Model(&models.Battle{}).
		Where("id = ?", battle.ID).
		Update("voting_ends_at", time.Now().Add(-time.Minute)).Error)

	vote, err := ts.votes.CastVote(voter.ID, pa.ID, VoteInput{Amount: 1})
	require.NoError(t, err)
	assert.Nil(t, vote)
	assert.Equal(t, 0, ts.totalFor(t, battle.ID, pa.ID))
}

func TestCastVoteDroppedOnPrivateBattle(t *testing.T) {
	ts := newTestStack(t)
	battle, pa, _ := ts.votableBattle(t)
	voter := ts.createUser(t, "voter", 5000)

	require.NoError(t, ts.db.Model(&models.Battle{}).
		Where("id = ?", battle.ID).
		Update("computed_privacy_level", models.BattlePrivacyPrivate).Error)

	vote, err := ts.votes.CastVote(voter.ID, pa.ID, VoteInput{Amount: 1})
	require.NoError(t, err)
	assert.Nil(t, vote)
}

func TestCastVoteDroppedWhenCasterBattlesInIt(t *testing.T) {
	ts := newTestStack(t)
	battle, pa, pb := ts.votableBattle(t)

	// A battler stacking the full cap on themselves gets silently dropped.
	vote, err := ts.votes.CastVote(pa.UserID, pa.ID, VoteInput{Amount: 20})
	require.NoError(t, err)
	assert.Nil(t, vote)
	assert.Equal(t, 0, ts.totalFor(t, battle.ID, pa.ID))

	// Voting for the opponent is just as ineligible.
	vote, err = ts.votes.CastVote(pa.UserID, pb.ID, VoteInput{Amount: 1})
	require.NoError(t, err)
	assert.Nil(t, vote)
	assert.Equal(t, 0, ts.totalFor(t, battle.ID, pb.ID))
	assert.False(t, ts.reloadBattle(t, battle.ID).ComputedHasReceivedVotes)
}

func TestWinnerComputationFollowsVoteSums(t *testing.T) {
	ts := newTestStack(t)
	battle, pa, pb := ts.votableBattle(t)
	voterA := ts.createUser(t, "voter-a", 5000)
	voterB := ts.createUser(t, "voter-b", 5000)

	_, err := ts.votes.CastVote(voterA.ID, pa.ID, VoteInput{Amount: 10})
	require.NoError(t, err)
	_, err = ts.votes.CastVote(voterB.ID, pb.ID, VoteInput{Amount: 4})
	require.NoError(t, err)

	ra := ts.reloadParticipant(t, pa.ID)
	rb := ts.reloadParticipant(t, pb.ID)
	require.NotNil(t, ra.ComputedDidWinOrTieBattle)
	require.NotNil(t, rb.ComputedDidWinOrTieBattle)
	assert.True(t, *ra.ComputedDidWinOrTieBattle)
	assert.False(t, *rb.ComputedDidWinOrTieBattle)

	// A late surge flips it.
	_, err = ts.votes.CastVote(voterB.ID, pb.ID, VoteInput{Amount: 10})
	require.NoError(t, err)

	assert.False(t, *ts.reloadParticipant(t, pa.ID).ComputedDidWinOrTieBattle)
	assert.True(t, *ts.reloadParticipant(t, pb.ID).ComputedDidWinOrTieBattle)
	_ = battle
}

func TestWinnerComputationTie(t *testing.T) {
	ts := newTestStack(t)
	battle, pa, pb := ts.votableBattle(t)
	voter := ts.createUser(t, "voter", 5000)

	_, err := ts.votes.CastVote(voter.ID, pa.ID, VoteInput{Amount: 5})
	require.NoError(t, err)
	_, err = ts.votes.CastVote(voter.ID, pb.ID, VoteInput{Amount: 5})
	require.NoError(t, err)

	changed, err := ts.votes.UpdateComputedWinningParticipants(battle.ID)
	require.NoError(t, err)

	assert.True(t, *ts.reloadParticipant(t, pa.ID).ComputedDidWinOrTieBattle)
	assert.True(t, *ts.reloadParticipant(t, pb.ID).ComputedDidWinOrTieBattle)
	_ = changed
}

func TestWinnerComputationIsIdempotent(t *testing.T) {
	ts := newTestStack(t)
	battle, pa, _ := ts.votableBattle(t)
	voter := ts.createUser(t, "voter", 5000)

	_, err := ts.votes.CastVote(voter.ID, pa.ID, VoteInput{Amount: 5})
	require.NoError(t, err)

	// CastVote already computed winners; recomputing the same ledger must
	// report no change.
	changed, err := ts.votes.UpdateComputedWinningParticipants(battle.ID)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestWinnerComputationResetOnPrivateBattle(t *testing.T) {
	ts := newTestStack(t)
	battle, pa, pb := ts.votableBattle(t)
	voter := ts.createUser(t, "voter", 5000)

	_, err := ts.votes.CastVote(voter.ID, pa.ID, VoteInput{Amount: 5})
	require.NoError(t, err)
	require.NotNil(t, ts.reloadParticipant(t, pa.ID).ComputedDidWinOrTieBattle)

	require.NoError(t, ts.db.Model(&models.Battle{}).
		Where("id = ?", battle.ID).
		Update("computed_privacy_level", models.BattlePrivacyPrivate).Error)

	changed, err := ts.votes.UpdateComputedWinningParticipants(battle.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Nil(t, ts.reloadParticipant(t, pa.ID).ComputedDidWinOrTieBattle)
	assert.Nil(t, ts.reloadParticipant(t, pb.ID).ComputedDidWinOrTieBattle)
}

func TestWinnerComputationTracksLiveBattle(t *testing.T) {
	ts := newTestStack(t)
	_, pa, pb := ts.createBattle(t, 5000, 5000)
	ts.startBattle(t, pa, pb)
	voter := ts.createUser(t, "voter", 5000)

	// Flags follow the ledger while the battle is still running, not just
	// after completion.
	_, err := ts.votes.CastVote(voter.ID, pa.ID, VoteInput{Amount: 3})
	require.NoError(t, err)

	ra := ts.reloadParticipant(t, pa.ID)
	rb := ts.reloadParticipant(t, pb.ID)
	require.NotNil(t, ra.ComputedDidWinOrTieBattle)
	require.NotNil(t, rb.ComputedDidWinOrTieBattle)
	assert.True(t, *ra.ComputedDidWinOrTieBattle)
	assert.False(t, *rb.ComputedDidWinOrTieBattle)
}

func TestBattleResultsCarriesWinnerSet(t *testing.T) {
	ts := newTestStack(t)
	battle, pa, pb := ts.votableBattle(t)
	voter := ts.createUser(t, "voter", 5000)

	_, err := ts.votes.CastVote(voter.ID, pa.ID, VoteInput{Amount: 4})
	require.NoError(t, err)

	results, err := ts.votes.BattleResults(battle.ID)
	require.NoError(t, err)
	require.Len(t, results.Totals, 2)
	assert.Equal(t, []string{pa.ID}, results.WinningOrTieingBattleParticipantIDs)

	// A second voter levels it: both participants land in the winner set.
	other := ts.createUser(t, "other-voter", 5000)
	_, err = ts.votes.CastVote(other.ID, pb.ID, VoteInput{Amount: 4})
	require.NoError(t, err)

	results, err = ts.votes.BattleResults(battle.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{pa.ID, pb.ID}, results.WinningOrTieingBattleParticipantIDs)
}

func TestLedgerReadLocksRowsOnPostgresOnly(t *testing.T) {
	pg, err := gorm.Open(postgres.Open("host=localhost user=battle dbname=battle"), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	stmt := lockVoteLedger(pg).
		Where("cast_by_user_id = ?", "voter").
		Find(&[]models.Vote{}).Statement
	assert.Contains(t, stmt.SQL.String(), "FOR UPDATE")

	// sqlite builds the same read without the locking clause.
	ts := newTestStack(t)
	dry := ts.db.Session(&gorm.Session{DryRun: true})
	stmt = lockVoteLedger(dry).
		Where("cast_by_user_id = ?", "voter").
		Find(&[]models.Vote{}).Statement
	assert.NotContains(t, stmt.SQL.String(), "FOR UPDATE")
}

func TestForfeitOverridesVotes(t *testing.T) {
	ts := newTestStack(t)
	_, pa, pb := ts.createBattle(t, 5000, 5000)
	ts.startBattle(t, pa, pb)

	require.NoError(t, ts.battles.LeaveBattle(pa.ID))

	battleID := *pa.BattleID
	changed, err := ts.votes.UpdateComputedWinningParticipants(battleID)
	require.NoError(t, err)
	assert.False(t, changed) // forfeit path already set the flags

	assert.False(t, *ts.reloadParticipant(t, pa.ID).ComputedDidWinOrTieBattle)
	assert.True(t, *ts.reloadParticipant(t, pb.ID).ComputedDidWinOrTieBattle)
}

package services

import (
	"testing"
	"time"

	"battle-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchOneEqualScoresPairImmediately(t *testing.T) {
	ts := newTestStack(t)
	ts.createBeat(t)
	a := ts.createUser(t, "a", 5000)
	b := ts.createUser(t, "b", 5000)
	pa := ts.createPoolParticipant(t, a.ID, models.MatchingAlgorithmDefault, 0)
	ts.createPoolParticipant(t, b.ID, models.MatchingAlgorithmDefault, 0)

	battle, err := ts.matching.MatchOne(pa.ID)
	require.NoError(t, err)
	require.NotNil(t, battle)

	reloaded := ts.reloadParticipant(t, pa.ID)
	require.NotNil(t, reloaded.BattleID)
	assert.Equal(t, battle.ID, *reloaded.BattleID)
	require.NotNil(t, reloaded.UserComputedScoreAtBattleCreatedAt)
	assert.Equal(t, 5000.0, *reloaded.UserComputedScoreAtBattleCreatedAt)
	require.NotNil(t, reloaded.Order)
}

func TestMatchOneToleranceWidensWithWaitTime(t *testing.T) {
	ts := newTestStack(t)
	ts.createBeat(t)
	a := ts.createUser(t, "a", 5000)
	b := ts.createUser(t, "b", 9000)

	// Fresh participant: only +/-2500 acceptable, 9000 is out of reach.
	pa := ts.createPoolParticipant(t, a.ID, models.MatchingAlgorithmDefault, 0)
	ts.createPoolParticipant(t, b.ID, models.MatchingAlgorithmDefault, 0)

	battle, err := ts.matching.MatchOne(pa.ID)
	require.NoError(t, err)
	assert.Nil(t, battle)
	assert.True(t, ts.reloadParticipant(t, pa.ID).InitialMatchFailed)

	// After 15s of waiting the band widens to +/-5000 and 9000 qualifies.
	require.NoError(t, ts.db.Model(&models.BattleParticipant{}).
		Where("id = ?", pa.ID).
		Update("matching_started_at", time.Now().Add(-16*time.Second)).Error)

	battle, err = ts.matching.MatchOne(pa.ID)
	require.NoError(t, err)
	require.NotNil(t, battle)
}

func TestMatchOneDeviationBoundsAreExclusive(t *testing.T) {
	ts := newTestStack(t)
	ts.createBeat(t)
	a := ts.createUser(t, "a", 5000)
	b := ts.createUser(t, "b", 7500)
	pa := ts.createPoolParticipant(t, a.ID, models.MatchingAlgorithmDefault, 0)
	ts.createPoolParticipant(t, b.ID, models.MatchingAlgorithmDefault, 0)

	// Exactly at the band edge: 5000+2500 is excluded, not included.
	battle, err := ts.matching.MatchOne(pa.ID)
	require.NoError(t, err)
	assert.Nil(t, battle)
}

func TestMatchOneRandomAlgorithmIgnoresScores(t *testing.T) {
	ts := newTestStack(t)
	ts.createBeat(t)
	a := ts.createUser(t, "a", 5000)
	b := ts.createUser(t, "b", 100_000)

	// DEFAULT can never bridge a 95000 point gap, even at max tolerance.
	pa := ts.createPoolParticipant(t, a.ID, models.MatchingAlgorithmDefault, 40*time.Second)
	pb := ts.createPoolParticipant(t, b.ID, models.MatchingAlgorithmDefault, 40*time.Second)

	battle, err := ts.matching.MatchOne(pa.ID)
	require.NoError(t, err)
	assert.Nil(t, battle)

	// RANDOM doesn't look at scores at all.
	require.NoError(t, ts.db.Model(&models.BattleParticipant{}).
		Where("id = ?", pa.ID).
		Update("matching_algorithm", models.MatchingAlgorithmRandom).Error)

	battle, err = ts.matching.MatchOne(pa.ID)
	require.NoError(t, err)
	require.NotNil(t, battle)

	reloaded := ts.reloadParticipant(t, pb.ID)
	require.NotNil(t, reloaded.BattleID)
	assert.Equal(t, battle.ID, *reloaded.BattleID)
}

func TestMatchOneSkipsOfflineAndSameUser(t *testing.T) {
	ts := newTestStack(t)
	ts.createBeat(t)
	a := ts.createUser(t, "a", 5000)
	b := ts.createUser(t, "b", 5000)

	pa := ts.createPoolParticipant(t, a.ID, models.MatchingAlgorithmDefault, 0)
	// A second entry by the same user must never self-match.
	ts.createPoolParticipant(t, a.ID, models.MatchingAlgorithmDefault, 0)

	pb := ts.createPoolParticipant(t, b.ID, models.MatchingAlgorithmDefault, 0)
	require.NoError(t, ts.db.Model(&models.BattleParticipant{}).
		Where("id = ?", pb.ID).
		Update("connection_status", models.ConnectionStatusOffline).Error)

	battle, err := ts.matching.MatchOne(pa.ID)
	require.NoError(t, err)
	assert.Nil(t, battle)
}

func TestMatchOneSkipsOfflineRequester(t *testing.T) {
	ts := newTestStack(t)
	ts.createBeat(t)
	a := ts.createUser(t, "a", 5000)
	b := ts.createUser(t, "b", 5000)

	// a went OFFLINE while waiting; b is fresh and ONLINE. Neither direction
	// may pair them, including the sweep acting on a's behalf.
	pa := ts.createPoolParticipant(t, a.ID, models.MatchingAlgorithmDefault, time.Second)
	pb := ts.createPoolParticipant(t, b.ID, models.MatchingAlgorithmDefault, 0)
	require.NoError(t, ts.db.Model(&models.BattleParticipant{}).
		Where("id = ?", pa.ID).
		Update("connection_status", models.ConnectionStatusOffline).Error)

	battle, err := ts.matching.MatchOne(pa.ID)
	require.NoError(t, err)
	assert.Nil(t, battle)

	ts.matching.SweepAll()

	ra := ts.reloadParticipant(t, pa.ID)
	assert.Nil(t, ra.BattleID)
	assert.Nil(t, ra.MadeInactiveAt)
	assert.Nil(t, ts.reloadParticipant(t, pb.ID).BattleID)
}

func TestMatchOneTimesOutOverdueParticipant(t *testing.T) {
	ts := newTestStack(t)
	ts.createBeat(t)
	a := ts.createUser(t, "a", 5000)
	b := ts.createUser(t, "b", 5000)

	// An opponent is available, but the deadline is enforced on every attempt
	// before any pairing happens.
	pa := ts.createPoolParticipant(t, a.ID, models.MatchingAlgorithmDefault, ts.config.MatchingMaxDuration+time.Minute)
	ts.createPoolParticipant(t, b.ID, models.MatchingAlgorithmDefault, 0)

	battle, err := ts.matching.MatchOne(pa.ID)
	require.NoError(t, err)
	assert.Nil(t, battle)

	reloaded := ts.reloadParticipant(t, pa.ID)
	require.NotNil(t, reloaded.MadeInactiveAt)
	require.NotNil(t, reloaded.MadeInactiveReason)
	assert.Equal(t, models.InactiveReasonMatchingTimedOut, *reloaded.MadeInactiveReason)
	assert.Nil(t, reloaded.BattleID)
}

func TestSweepAllTimesOutStaleParticipants(t *testing.T) {
	ts := newTestStack(t)
	a := ts.createUser(t, "a", 5000)
	pa := ts.createPoolParticipant(t, a.ID, models.MatchingAlgorithmDefault, ts.config.MatchingMaxDuration+time.Minute)

	ts.matching.SweepAll()

	reloaded := ts.reloadParticipant(t, pa.ID)
	require.NotNil(t, reloaded.MadeInactiveAt)
	require.NotNil(t, reloaded.MadeInactiveReason)
	assert.Equal(t, models.InactiveReasonMatchingTimedOut, *reloaded.MadeInactiveReason)
	assert.Nil(t, reloaded.BattleID)
}

func TestSweepAllPairsWaitingParticipants(t *testing.T) {
	ts := newTestStack(t)
	ts.createBeat(t)
	a := ts.createUser(t, "a", 5000)
	b := ts.createUser(t, "b", 5200)
	pa := ts.createPoolParticipant(t, a.ID, models.MatchingAlgorithmDefault, time.Second)
	pb := ts.createPoolParticipant(t, b.ID, models.MatchingAlgorithmDefault, time.Second)

	ts.matching.SweepAll()

	ra := ts.reloadParticipant(t, pa.ID)
	rb := ts.reloadParticipant(t, pb.ID)
	require.NotNil(t, ra.BattleID)
	require.NotNil(t, rb.BattleID)
	assert.Equal(t, *ra.BattleID, *rb.BattleID)
}

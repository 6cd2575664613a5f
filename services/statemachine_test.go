package services

import (
	"encoding/json"
	"testing"

	"battle-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseTransitionTableBattleDuration(t *testing.T) {
	table := PhaseTransitionTable(40, 10)

	var battleRows []Transition
	for _, row := range table {
		if row.State == StateBattle {
			battleRows = append(battleRows, row)
		}
	}
	require.NotEmpty(t, battleRows)

	// The battle phase lasts turn length minus warm-up: the warm-up already
	// consumed its share of the turn.
	for _, row := range battleRows {
		assert.Equal(t, int64(30_000), row.DelayMillis)
	}
}

func TestPhaseTransitionTableTransitionsLeadBackToReady(t *testing.T) {
	table := PhaseTransitionTable(40, 10)

	next := map[string]string{}
	for _, row := range table {
		if statesThatCanSwitchActiveBattler[row.State] {
			next[row.State] = row.Next
		}
	}

	assert.Equal(t, StateReady, next[StateTransitionToNextBattler])
	assert.Equal(t, StateReady, next[StateTransitionToNextRound])
	assert.Equal(t, StateSummary, next[StateTransitionToSummary])
}

func TestSwitchSetMembership(t *testing.T) {
	assert.True(t, statesThatCanSwitchActiveBattler[StateTransitionToNextBattler])
	assert.True(t, statesThatCanSwitchActiveBattler[StateTransitionToNextRound])
	assert.True(t, statesThatCanSwitchActiveBattler[StateTransitionToSummary])
	assert.False(t, statesThatCanSwitchActiveBattler[StateBattle])
	assert.False(t, statesThatCanSwitchActiveBattler[StateWaiting])
}

func TestInitialStateMachineContextOrdersParticipants(t *testing.T) {
	one, zero := 1, 0
	battle := models.Battle{
		ID:             "b1",
		NumberOfRounds: 3,
		Participants: []models.BattleParticipant{
			{ID: "p-second", Order: &one},
			{ID: "p-first", Order: &zero},
		},
	}

	ctx := InitialStateMachineContext(&battle)

	assert.Equal(t, []string{"p-first", "p-second"}, ctx.ParticipantIDs)
	require.NotNil(t, ctx.CurrentParticipantIndex)
	assert.Equal(t, 0, *ctx.CurrentParticipantIndex)
	assert.Equal(t, 3, ctx.TotalNumberOfRounds)
	assert.Equal(t, "p-first", ctx.activeParticipantID())
}

func TestParseStateMachineContextTolerance(t *testing.T) {
	_, ok := parseStateMachineContext("")
	assert.False(t, ok)

	_, ok = parseStateMachineContext("{not json")
	assert.False(t, ok)

	raw, err := json.Marshal(StateMachineContext{BattleID: "b1", ParticipantIDs: []string{"a", "b"}})
	require.NoError(t, err)
	ctx, ok := parseStateMachineContext(string(raw))
	assert.True(t, ok)
	assert.Equal(t, "b1", ctx.BattleID)
	assert.Equal(t, "", ctx.activeParticipantID())
}

// services/statemachine.go
package services

import (
	"encoding/json"
	"sort"

	"battle-service/models"
)

// Battle phase states. Each participant runs this machine on its own client;
// the server only records reported values as checkins and relays peer events.
const (
	StateCreated                 = "CREATED"
	StateCoinToss                = "COIN_TOSS"
	StateReady                   = "READY"
	StateWaiting                 = "WAITING"
	StateWarmUp                  = "WARM_UP"
	StateBattle                  = "BATTLE"
	StateTransitionToNextBattler = "TRANSITION_TO_NEXT_BATTLER"
	StateTransitionToNextRound   = "TRANSITION_TO_NEXT_ROUND"
	StateTransitionToSummary     = "TRANSITION_TO_SUMMARY"
	StateSummary                 = "SUMMARY"
	StateComplete                = "COMPLETE"
)

// Peer-broadcast event types.
const (
	EventMoveToNextParticipant = "MOVE_TO_NEXT_PARTICIPANT"
	EventMoveToNextRound       = "MOVE_TO_NEXT_ROUND"
	EventBattleComplete        = "BATTLE_COMPLETE"
)

// statesThatCanSwitchActiveBattler is the switch-set: only a checkin in one of
// these states may change which participant is considered "active" when
// reconstructing the phase timeline.
var statesThatCanSwitchActiveBattler = map[string]bool{
	StateTransitionToNextBattler: true,
	StateTransitionToNextRound:   true,
	StateTransitionToSummary:     true,
}

// Guard names referenced by the transition table. The server never evaluates
// these - they document the client machine so the table can be unit tested as
// pure data.
const (
	GuardParticipantActive     = "isThisParticipantActive"
	GuardParticipantNotActive  = "isThisParticipantNotActive"
	GuardBattleComplete        = "isBattleComplete"
	GuardMoveToNextParticipant = "shouldMoveToNextParticipant"
	GuardMoveToNextRound       = "shouldMoveToNextRound"
)

// Transition is one row of the phase machine: from State, after DelayMillis
// (0 = immediate), move to Next if Guard holds (empty guard = unconditional).
// Event-driven transitions carry the peer event instead of a delay.
type Transition struct {
	State       string
	Next        string
	DelayMillis int64
	Guard       string
	Event       string
}

// delayCoinTossMillis etc are the fixed client-side timers. Turn/warm-up
// lengths are per-battle and substituted by PhaseTransitionTable.
const (
	delayCoinTossMillis   = 10_000
	delayTransitionMillis = 1_000
)

// PhaseTransitionTable returns the full transition table for a battle with
// the given turn and warm-up lengths, as pure data.
func PhaseTransitionTable(turnLengthSeconds, warmupLengthSeconds int) []Transition {
	battleMillis := int64(turnLengthSeconds-warmupLengthSeconds) * 1000
	return []Transition{
		{State: StateCreated, Next: StateCoinToss},
		{State: StateCoinToss, Next: StateReady, DelayMillis: delayCoinTossMillis},

		{State: StateReady, Next: StateWarmUp, Guard: GuardParticipantActive},
		{State: StateReady, Next: StateWaiting, Guard: GuardParticipantNotActive},
		{State: StateReady, Next: StateTransitionToSummary, Guard: GuardBattleComplete},

		{State: StateWaiting, Next: StateTransitionToNextBattler, Event: EventMoveToNextParticipant},
		{State: StateWaiting, Next: StateTransitionToNextRound, Event: EventMoveToNextRound},
		{State: StateWaiting, Next: StateTransitionToSummary, Event: EventBattleComplete},

		{State: StateWarmUp, Next: StateBattle, DelayMillis: int64(warmupLengthSeconds) * 1000},

		{State: StateBattle, Next: StateTransitionToNextBattler, DelayMillis: battleMillis, Guard: GuardMoveToNextParticipant},
		{State: StateBattle, Next: StateTransitionToNextRound, DelayMillis: battleMillis, Guard: GuardMoveToNextRound},
		{State: StateBattle, Next: StateTransitionToSummary, DelayMillis: battleMillis, Guard: GuardBattleComplete},

		{State: StateTransitionToNextBattler, Next: StateReady, DelayMillis: delayTransitionMillis},
		{State: StateTransitionToNextRound, Next: StateReady, DelayMillis: delayTransitionMillis},
		{State: StateTransitionToSummary, Next: StateSummary, DelayMillis: delayTransitionMillis},

		{State: StateSummary, Next: StateComplete},
	}
}

// StateMachineContext is the context blob clients report alongside each
// checkin. CurrentParticipantIndex into ParticipantIDs identifies which
// participant's machine currently "owns" the battle.
type StateMachineContext struct {
	Version  int    `json:"version"`
	BattleID string `json:"battleId"`

	ActiveRoundIndex    int `json:"activeRoundIndex"`
	TotalNumberOfRounds int `json:"totalNumberOfRounds"`

	CurrentParticipantIndex *int     `json:"currentParticipantIndex"`
	ParticipantIDs          []string `json:"participantIds"`

	NextMessageUUID          *string  `json:"nextMessageUuid"`
	AcknowledgedMessageUUIDs []string `json:"acknowlegedMessageUuids"`
}

// InitialStateMachineContext builds the context a client starts from when its
// battle is created. Participants are ordered by their battle order.
func InitialStateMachineContext(battle *models.Battle) StateMachineContext {
	participants := make([]models.BattleParticipant, len(battle.Participants))
	copy(participants, battle.Participants)
	sort.Slice(participants, func(i, j int) bool {
		oi, oj := participants[i].Order, participants[j].Order
		if oi == nil {
			return false
		}
		if oj == nil {
			return true
		}
		return *oi < *oj
	})

	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.ID)
	}

	zero := 0
	return StateMachineContext{
		Version:                 1,
		BattleID:                battle.ID,
		ActiveRoundIndex:        0,
		TotalNumberOfRounds:     battle.NumberOfRounds,
		CurrentParticipantIndex: &zero,
		ParticipantIDs:          ids,
	}
}

// parseStateMachineContext tolerates missing or malformed context blobs -
// clients on flaky connections sometimes report partial checkins.
func parseStateMachineContext(raw string) (StateMachineContext, bool) {
	var ctx StateMachineContext
	if raw == "" {
		return ctx, false
	}
	if err := json.Unmarshal([]byte(raw), &ctx); err != nil {
		return ctx, false
	}
	return ctx, true
}

// activeParticipantID returns the participant the context says is currently
// battling, or "" when the context doesn't carry one.
func (c StateMachineContext) activeParticipantID() string {
	if c.CurrentParticipantIndex == nil {
		return ""
	}
	idx := *c.CurrentParticipantIndex
	if idx < 0 || idx >= len(c.ParticipantIDs) {
		return ""
	}
	return c.ParticipantIDs[idx]
}

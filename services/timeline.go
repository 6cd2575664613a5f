// services/timeline.go
package services

import (
	"errors"
	"sort"
	"time"

	"battle-service/models"
)

// PhaseSpan is one entry of the reconstructed battle timeline: the battle as
// a whole was in State from StartsAt to EndsAt, with ActiveParticipantID
// battling (empty for the leading span before the first checkin lands).
type PhaseSpan struct {
	StartsAt                              time.Time `json:"starts_at"`
	StartsAtVideoStreamOffsetMilliseconds *int64    `json:"starts_at_video_stream_offset_milliseconds,omitempty"`
	EndsAt                                time.Time `json:"ends_at"`
	EndsAtVideoStreamOffsetMilliseconds   *int64    `json:"ends_at_video_stream_offset_milliseconds,omitempty"`
	State                                 string    `json:"state"`
	ActiveParticipantID                   string    `json:"active_participant_id,omitempty"`
}

type checkinWithParticipant struct {
	checkin     models.Checkin
	participant *models.BattleParticipant
}

// GeneratePhaseTimeline merges every participant's checkins into an ordered,
// non-overlapping span sequence suitable for the playback scrubber.
//
// Checkins are ordered by client-reported video stream offset, falling back
// to server receipt time when either side lacks an offset. Only checkins from
// the currently active participant are accepted as state changes; "active"
// flips only on the transition switch-set. Consecutive identical states
// collapse into one span. The first span starts at battle.StartedAt and the
// final span is clamped to battle.CompletedAt when set.
//
// This is a single-pass sequential merge. Missing or out-of-order offsets
// degrade ordering for the affected checkins but never fail the merge.
func GeneratePhaseTimeline(battle *models.Battle) ([]PhaseSpan, error) {
	if battle.StartedAt == nil {
		return nil, errors.New("cannot generate phase timeline: battle has not started")
	}

	var merged []checkinWithParticipant
	for i := range battle.Participants {
		p := &battle.Participants[i]
		for _, c := range p.Checkins {
			merged = append(merged, checkinWithParticipant{checkin: c, participant: p})
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i].checkin, merged[j].checkin
		if a.VideoStreamOffsetMilliseconds != nil && b.VideoStreamOffsetMilliseconds != nil {
			return *a.VideoStreamOffsetMilliseconds < *b.VideoStreamOffsetMilliseconds
		}
		return a.CheckedInAt.Before(b.CheckedInAt)
	})

	var spans []PhaseSpan
	activeID := ""
	for _, entry := range merged {
		checkin := entry.checkin
		participant := entry.participant

		// The very first report anchors the timeline: its span starts at the
		// battle start regardless of who sent it.
		if len(spans) == 0 {
			spans = append(spans, PhaseSpan{
				StartsAt:                              *battle.StartedAt,
				StartsAtVideoStreamOffsetMilliseconds: checkin.VideoStreamOffsetMilliseconds,
				EndsAt:                                checkin.CheckedInAt,
				EndsAtVideoStreamOffsetMilliseconds:   checkin.VideoStreamOffsetMilliseconds,
				State:                                 checkin.State,
			})
			activeID = participant.ID
			continue
		}

		// Drop checkins from machines that don't consider themselves the
		// active battler - WAITING noise from the idle participant would
		// otherwise pollute the timeline.
		ctx, ok := parseStateMachineContext(checkin.Context)
		if !ok || ctx.activeParticipantID() != participant.ID {
			continue
		}

		last := &spans[len(spans)-1]

		// The active battler only changes on the heels of a switching state:
		// a different participant taking over mid-BATTLE is a stale or
		// malicious report.
		if participant.ID != activeID && !statesThatCanSwitchActiveBattler[last.State] {
			continue
		}
		activeID = participant.ID

		// Consecutive identical states extend the current span.
		if last.State == checkin.State && last.ActiveParticipantID == participant.ID {
			last.EndsAt = checkin.CheckedInAt
			last.EndsAtVideoStreamOffsetMilliseconds = checkin.VideoStreamOffsetMilliseconds
			continue
		}

		last.EndsAt = checkin.CheckedInAt
		last.EndsAtVideoStreamOffsetMilliseconds = checkin.VideoStreamOffsetMilliseconds
		spans = append(spans, PhaseSpan{
			StartsAt:                              checkin.CheckedInAt,
			StartsAtVideoStreamOffsetMilliseconds: checkin.VideoStreamOffsetMilliseconds,
			EndsAt:                                checkin.CheckedInAt,
			EndsAtVideoStreamOffsetMilliseconds:   checkin.VideoStreamOffsetMilliseconds,
			State:                                 checkin.State,
			ActiveParticipantID:                   participant.ID,
		})
	}

	if battle.CompletedAt != nil && len(spans) > 0 {
		spans[len(spans)-1].EndsAt = *battle.CompletedAt
	}

	return spans, nil
}

// PlayableVideoRange computes the start/end offsets (milliseconds) of the
// canonical watchable window: from the first participant's first WARM_UP
// checkin through the last participant's first TRANSITION_TO_SUMMARY checkin.
// Returns ok=false when the range cannot be derived, typically because the
// battle never reached warm-up or the checkins carry no offsets.
func PlayableVideoRange(battle *models.Battle) (startMillis, endMillis int64, ok bool) {
	ordered := make([]models.BattleParticipant, len(battle.Participants))
	copy(ordered, battle.Participants)
	sort.Slice(ordered, func(i, j int) bool {
		oi, oj := ordered[i].Order, ordered[j].Order
		if oi == nil {
			return false
		}
		if oj == nil {
			return true
		}
		return *oi < *oj
	})
	if len(ordered) == 0 {
		return 0, 0, false
	}
	first := ordered[0]
	last := ordered[len(ordered)-1]

	warmUp := earliestCheckinInState(first, StateWarmUp)
	summary := earliestCheckinInState(last, StateTransitionToSummary)
	if warmUp == nil || summary == nil {
		return 0, 0, false
	}

	// Prefer client-reported offsets; they carry no network delay.
	if warmUp.VideoStreamOffsetMilliseconds != nil && summary.VideoStreamOffsetMilliseconds != nil {
		return *warmUp.VideoStreamOffsetMilliseconds, *summary.VideoStreamOffsetMilliseconds, true
	}

	// Fall back to server timestamps relative to when streaming started.
	if first.VideoStreamingStartedAt == nil || last.VideoStreamingStartedAt == nil {
		return 0, 0, false
	}
	startMillis = warmUp.CheckedInAt.Sub(*first.VideoStreamingStartedAt).Milliseconds()
	endMillis = summary.CheckedInAt.Sub(*last.VideoStreamingStartedAt).Milliseconds()
	return startMillis, endMillis, true
}

func earliestCheckinInState(p models.BattleParticipant, state string) *models.Checkin {
	var found *models.Checkin
	for i := range p.Checkins {
		c := &p.Checkins[i]
		if c.State != state {
			continue
		}
		if found == nil || c.CheckedInAt.Before(found.CheckedInAt) {
			found = c
		}
	}
	return found
}

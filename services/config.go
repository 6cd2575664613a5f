// services/config.go
package services

import "time"

// ScoreToleranceEntry is one row of the matching tolerance table: once a
// participant has waited longer than AfterMilliseconds, candidates within
// +/- Deviation of their score are acceptable.
type ScoreToleranceEntry struct {
	AfterMilliseconds int64
	Deviation         float64
}

// EloConstants tune the rating update function.
type EloConstants struct {
	KFactor             float64
	ExponentBase        float64
	ExponentDenominator float64
	MinScore            *float64
	MaxScore            *float64
	RoundPlaces         *int
}

// Config carries every tunable domain policy. Components receive it at
// construction so tests can substitute arbitrary tables and thresholds.
type Config struct {
	// Matching: the tolerance table widens the acceptable score band as wait
	// time grows. MatchingMaxDuration bounds how long a participant may sit in
	// the pool before being inactivated with MATCHING_TIMED_OUT.
	ScoreToleranceTable []ScoreToleranceEntry
	MatchingMaxDuration time.Duration

	// Liveness: a participant whose newest checkin is older than
	// CheckinInactivityThreshold is flipped OFFLINE. A battle participant
	// offline (or backgrounded) past DisconnectBeforeForfeitThreshold triggers
	// auto forfeit. SweepInterval is how often the periodic workers run.
	CheckinInactivityThreshold       time.Duration
	DisconnectBeforeForfeitThreshold time.Duration
	SweepInterval                    time.Duration

	// Voting.
	VotingWindow             time.Duration
	MaxVotesPerUserPerBattle int

	// Scoring.
	InitialScore float64
	Elo          EloConstants
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

// DefaultConfig mirrors production values.
var DefaultConfig = Config{
	ScoreToleranceTable: []ScoreToleranceEntry{
		{AfterMilliseconds: 0, Deviation: 2500},
		{AfterMilliseconds: 15_000, Deviation: 5000},
		{AfterMilliseconds: 30_000, Deviation: 7500},
	},
	MatchingMaxDuration: 30 * time.Minute,

	CheckinInactivityThreshold:       8 * time.Second,
	DisconnectBeforeForfeitThreshold: 10 * time.Second,
	SweepInterval:                    5 * time.Second,

	VotingWindow:             7 * 24 * time.Hour,
	MaxVotesPerUserPerBattle: 20,

	InitialScore: 5000,
	Elo: EloConstants{
		KFactor:             24_500,
		ExponentBase:        10,
		ExponentDenominator: 235_294,
		MinScore:            floatPtr(1000),
		MaxScore:            nil,
		RoundPlaces:         intPtr(0),
	},
}

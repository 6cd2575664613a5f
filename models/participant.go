package models

import "time"

// Matching algorithms.
const (
	MatchingAlgorithmDefault = "DEFAULT"
	MatchingAlgorithmRandom  = "RANDOM"
)

// Participant connection statuses, derived from checkin recency.
const (
	ConnectionStatusOnline  = "ONLINE"
	ConnectionStatusOffline = "OFFLINE"
)

// App foreground/background states reported by the mobile client.
const (
	AppStateActive     = "ACTIVE"
	AppStateBackground = "BACKGROUND"
)

// Inactivation reason codes.
const (
	InactiveReasonMatchingTimedOut = "MATCHING_TIMED_OUT"
	InactiveReasonAutoForfeit      = "AUTO_FORFEIT_DUE_TO_INACTIVITY"
	InactiveReasonLeftBattle       = "LEFT_BATTLE"
	InactiveReasonUnknown          = "UNKNOWN"
)

// BattleParticipant is one user's single attempt at matchmaking and battling.
// BattleID transitions nil -> set exactly once per lifetime and is never
// reassigned; rows are never physically deleted.
type BattleParticipant struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"index;not null" json:"user_id"`
	User   User   `gorm:"foreignKey:UserID" json:"user,omitempty"`

	BattleID               *string    `gorm:"index" json:"battle_id,omitempty"`
	Order                  *int       `json:"order,omitempty"`
	AssociatedWithBattleAt *time.Time `json:"associated_with_battle_at,omitempty"`

	MatchingStartedAt  time.Time `gorm:"not null" json:"matching_started_at"`
	MatchingAlgorithm  string    `gorm:"type:varchar(16);default:'DEFAULT'" json:"matching_algorithm"`
	InitialMatchFailed bool      `gorm:"default:false" json:"initial_match_failed"`

	ConnectionStatus      string     `gorm:"type:varchar(16);default:'ONLINE';index" json:"connection_status"`
	AppState              string     `gorm:"type:varchar(16);default:'ACTIVE'" json:"app_state"`
	AppStateLastChangedAt *time.Time `json:"app_state_last_changed_at,omitempty"`

	// Denormalized cache of the participant's own client state machine. The
	// authoritative history lives in the checkins table.
	CurrentState   string `gorm:"type:varchar(32);default:'CREATED'" json:"current_state"`
	CurrentContext string `json:"current_context"`

	ReadyForBattleAt            *time.Time `json:"ready_for_battle_at,omitempty"`
	RequestedBattlePrivacyLevel *string    `json:"requested_battle_privacy_level,omitempty"`

	ForfeitedAt        *time.Time `json:"forfeited_at,omitempty"`
	MadeInactiveAt     *time.Time `gorm:"index" json:"made_inactive_at,omitempty"`
	MadeInactiveReason *string    `json:"made_inactive_reason,omitempty"`

	// Score snapshot taken when the battle was created. The recomputation
	// cascade reads and rewrites these to replay Elo forward in time.
	UserComputedScoreAtBattleCreatedAt *float64 `json:"user_computed_score_at_battle_created_at,omitempty"`
	ComputedDidWinOrTieBattle          *bool    `json:"computed_did_win_or_tie_battle,omitempty"`

	// Raw media identifiers assigned by the video room provider.
	VideoStreamingStartedAt *time.Time `json:"video_streaming_started_at,omitempty"`
	AudioTrackID            *string    `json:"audio_track_id,omitempty"`
	VideoTrackID            *string    `json:"video_track_id,omitempty"`
	DataTrackID             *string    `json:"data_track_id,omitempty"`
	AudioRecordingID        *string    `json:"audio_recording_id,omitempty"`
	VideoRecordingID        *string    `json:"video_recording_id,omitempty"`

	// Per-participant transcoding pipeline output (external collaborator).
	ProcessedVideoStatus             *string    `json:"processed_video_status,omitempty"`
	ProcessedVideoKey                *string    `json:"processed_video_key,omitempty"`
	ProcessedVideoQueuedAt           *time.Time `json:"processed_video_queued_at,omitempty"`
	ProcessedVideoStartedAt          *time.Time `json:"processed_video_started_at,omitempty"`
	ProcessedVideoCompletedAt        *time.Time `json:"processed_video_completed_at,omitempty"`
	ProcessedVideoOffsetMilliseconds int64      `gorm:"default:0" json:"processed_video_offset_milliseconds"`

	ProcessedVideoThumbnails []ParticipantThumbnail `gorm:"foreignKey:BattleParticipantID" json:"processed_video_thumbnails,omitempty"`
	Checkins                 []Checkin              `gorm:"foreignKey:BattleParticipantID" json:"checkins,omitempty"`
	Votes                    []Vote                 `gorm:"foreignKey:BattleParticipantID" json:"votes,omitempty"`

	Timestamps
}

// ParticipantThumbnail maps a thumbnail size to an object storage key for a
// participant's processed video.
type ParticipantThumbnail struct {
	ID                  string `gorm:"primaryKey;type:uuid" json:"id"`
	BattleParticipantID string `gorm:"index;not null" json:"battle_participant_id"`
	Size                string `json:"size"`
	Key                 string `json:"key"`

	Timestamps
}

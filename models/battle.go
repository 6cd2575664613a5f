package models

import "time"

// Battle privacy levels. A battle is PUBLIC only if no participant asked for
// PRIVATE.
const (
	BattlePrivacyPublic  = "PUBLIC"
	BattlePrivacyPrivate = "PRIVATE"
)

// Battle is a timed turn-based contest between two (or more) participants.
// Rows are never deleted; abandonment is expressed via MadeInactiveAt.
type Battle struct {
	ID string `gorm:"primaryKey;type:uuid" json:"id"`

	// The backing beat every participant raps over.
	BeatID string `gorm:"index;not null" json:"beat_id"`

	NumberOfRounds      int `gorm:"default:1" json:"number_of_rounds"`
	TurnLengthSeconds   int `gorm:"default:40" json:"turn_length_seconds"`
	WarmupLengthSeconds int `gorm:"default:10" json:"warmup_length_seconds"`

	// External video room resource opened at creation time.
	VideoRoomName string `json:"video_room_name"`
	VideoRoomSID  string `json:"video_room_sid"`

	ComputedPrivacyLevel string `gorm:"type:varchar(16);default:'PRIVATE'" json:"computed_privacy_level"`

	// StartedAt is immutable once set. CompletedAt is set exactly once, either
	// by all participants reaching COMPLETE or by forced inactivation.
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	VotingEndsAt *time.Time `json:"voting_ends_at,omitempty"`

	MadeInactiveAt     *time.Time `gorm:"index" json:"made_inactive_at,omitempty"`
	MadeInactiveReason *string    `json:"made_inactive_reason,omitempty"`

	ComputedHasBeenForfeited bool `gorm:"default:false" json:"computed_has_been_forfeited"`
	ComputedHasReceivedVotes bool `gorm:"default:false" json:"computed_has_received_votes"`

	// Battle-level export generated by the video pipeline once every
	// participant video is COMPLETED.
	ExportedVideoStatus      *string    `json:"exported_video_status,omitempty"`
	ExportedVideoKey         *string    `json:"exported_video_key,omitempty"`
	ExportedVideoQueuedAt    *time.Time `json:"exported_video_queued_at,omitempty"`
	ExportedVideoStartedAt   *time.Time `json:"exported_video_started_at,omitempty"`
	ExportedVideoCompletedAt *time.Time `json:"exported_video_completed_at,omitempty"`

	Participants            []BattleParticipant     `gorm:"foreignKey:BattleID" json:"participants,omitempty"`
	ExportedVideoThumbnails []BattleExportThumbnail `gorm:"foreignKey:BattleID" json:"exported_video_thumbnails,omitempty"`

	Timestamps
}

// Beat is a backing track that battles are created against. At least one
// enabled beat must exist before battles can be formed.
type Beat struct {
	ID      string `gorm:"primaryKey;type:uuid" json:"id"`
	Title   string `json:"title"`
	Key     string `gorm:"not null" json:"key"`
	Enabled bool   `gorm:"default:true;index" json:"enabled"`

	Timestamps
}

// BattleExportThumbnail maps a thumbnail size (eg "1080") to an object
// storage key for the battle-level exported video.
type BattleExportThumbnail struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	BattleID string `gorm:"index;not null" json:"battle_id"`
	Size     string `json:"size"`
	Key      string `json:"key"`

	Timestamps
}

// Challenge is a pre-arranged battle between two specific users. Battles
// spawned from a challenge are exempt from forfeit attribution during the
// joined-but-not-yet-started window.
type Challenge struct {
	ID               string  `gorm:"primaryKey;type:uuid" json:"id"`
	ChallengerUserID string  `gorm:"index;not null" json:"challenger_user_id"`
	ChallengedUserID string  `gorm:"index;not null" json:"challenged_user_id"`
	Status           string  `gorm:"type:varchar(16);default:'PENDING'" json:"status"`
	BattleID         *string `gorm:"index" json:"battle_id,omitempty"`

	Timestamps
}

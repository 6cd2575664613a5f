package models

import "time"

// Vote is one ledger row for votes a user cast for a battle participant.
// Append-mostly: rows are deleted or amount-shrunk only by the vote cap
// reallocation algorithm, never by the caster directly. No soft delete -
// evicted rows must disappear from every aggregate immediately.
type Vote struct {
	ID                  string `gorm:"primaryKey;type:uuid" json:"id"`
	BattleParticipantID string `gorm:"index;not null" json:"battle_participant_id"`
	CastByUserID        string `gorm:"index;not null" json:"cast_by_user_id"`

	Amount int `gorm:"default:1" json:"amount"`

	StartedCastingAt time.Time `gorm:"index;not null" json:"started_casting_at"`
	EndedCastingAt   time.Time `gorm:"not null" json:"ended_casting_at"`

	StartedCastingAtVideoStreamOffsetMilliseconds *int64 `json:"started_casting_at_video_stream_offset_milliseconds,omitempty"`
	EndedCastingAtVideoStreamOffsetMilliseconds   *int64 `json:"ended_casting_at_video_stream_offset_milliseconds,omitempty"`

	// Client-generated dedupe id so retried casts can be traced.
	ClientGeneratedUUID string `gorm:"index" json:"client_generated_uuid"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

package models

import "time"

// Checkin is an append-only liveness/state report from a participant's
// client. The liveness sweep reads CheckedInAt; timeline reconstruction reads
// State/Context ordered by the client-reported video stream offset.
type Checkin struct {
	ID                  string `gorm:"primaryKey;type:uuid" json:"id"`
	BattleParticipantID string `gorm:"index;not null" json:"battle_participant_id"`

	CheckedInAt time.Time `gorm:"index;not null" json:"checked_in_at"`

	// Offset into the participant's video stream at the moment of the checkin.
	// Preferred over server timestamps when ordering, since it carries no
	// network delay.
	VideoStreamOffsetMilliseconds *int64 `json:"video_stream_offset_milliseconds,omitempty"`

	State   string `gorm:"type:varchar(32)" json:"state"`
	Context string `json:"context"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// StateMachineEvent is a peer-to-peer event a client broadcast over the data
// channel, persisted as the server-side source of truth and relayed to the
// other participants' channels.
type StateMachineEvent struct {
	ID                       string `gorm:"primaryKey;type:uuid" json:"id"`
	BattleID                 string `gorm:"index;not null" json:"battle_id"`
	TriggeredByParticipantID string `gorm:"index;not null" json:"triggered_by_participant_id"`
	ClientGeneratedUUID      string `gorm:"index" json:"client_generated_uuid"`
	Payload                  string `json:"payload"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

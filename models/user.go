package models

import (
	"time"

	"gorm.io/gorm"
)

// User is the scoring view of a user within the battle service. Identity and
// profile data are owned by the profile service; this row carries the cached
// "clout score" plus the denormalized counters the feed needs.
type User struct {
	ID              string  `gorm:"primaryKey;type:uuid" json:"id"`
	Handle          string  `gorm:"uniqueIndex;not null" json:"handle"`
	Name            string  `json:"name"`
	ProfileImageURL *string `json:"profile_image_url,omitempty"`
	PhoneNumber     *string `json:"-"`

	// ComputedScore is mutated only by the score recomputation cascade.
	ComputedScore          float64 `gorm:"default:5000" json:"computed_score"`
	ComputedFollowersCount int64   `gorm:"default:0" json:"computed_followers_count"`
	ComputedFollowingCount int64   `gorm:"default:0" json:"computed_following_count"`

	Timestamps
}

// UserFollow records that UserID follows FollowsUserID. Powers the FOLLOWING feed.
type UserFollow struct {
	ID            string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        string `gorm:"index:idx_user_follows_pair,unique;not null" json:"user_id"`
	FollowsUserID string `gorm:"index:idx_user_follows_pair,unique;not null" json:"follows_user_id"`

	Timestamps
}

// BattleView is one "this user watched this battle" record. The home feed
// sorts by view count ascending so unseen battles surface first.
type BattleView struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID   string `gorm:"index;not null" json:"user_id"`
	BattleID string `gorm:"index;not null" json:"battle_id"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

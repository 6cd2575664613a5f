package services

import (
	"fmt"
	"log"
	"sort"
	"time"

	"battle-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Feed flavors.
const (
	FeedFollowing = "FOLLOWING"
	FeedTrending  = "TRENDING"
)

// RecordingSigner mints time-limited URLs for recording objects. Nil-safe:
// without a signer the raw object keys are returned.
type RecordingSigner interface {
	SignedMediaURL(key string) (string, error)
}

// FeedService assembles the home feed of watchable battle recordings.
type FeedService struct {
	DB     *gorm.DB
	Config Config
	Signer RecordingSigner
	Votes  *VoteService
}

func NewFeedService(db *gorm.DB, config Config, signer RecordingSigner, votes *VoteService) *FeedService {
	return &FeedService{DB: db, Config: config, Signer: signer, Votes: votes}
}

// ParticipantRecording is one participant's slice of a battle recording.
type ParticipantRecording struct {
	BattleParticipantID     string            `json:"battle_participant_id"`
	UserID                  string            `json:"user_id"`
	Handle                  string            `json:"handle"`
	Name                    string            `json:"name"`
	ProfileImageURL         *string           `json:"profile_image_url,omitempty"`
	ComputedScore           float64           `json:"computed_score"`
	Order                   *int              `json:"order,omitempty"`
	DidWinOrTieBattle       *bool             `json:"did_win_or_tie_battle,omitempty"`
	MediaURL                string            `json:"media_url,omitempty"`
	MediaOffsetMilliseconds int64             `json:"media_offset_milliseconds"`
	ThumbnailURLs           map[string]string `json:"thumbnail_urls,omitempty"`
}

// BattleRecording is one feed entry: everything a client needs to play a
// battle back without further requests.
type BattleRecording struct {
	BattleID             string                 `json:"battle_id"`
	BeatID               string                 `json:"beat_id"`
	CreatedAt            time.Time              `json:"created_at"`
	StartedAt            *time.Time             `json:"started_at,omitempty"`
	CompletedAt          *time.Time             `json:"completed_at,omitempty"`
	VotingEndsAt         *time.Time             `json:"voting_ends_at,omitempty"`
	ExportedVideoURL     string                 `json:"exported_video_url,omitempty"`
	Phases               []PhaseSpan            `json:"phases,omitempty"`
	VoteTotals           []ParticipantVoteTotal `json:"vote_totals"`
	Participants         []ParticipantRecording `json:"participants"`
}

type rankedBattle struct {
	battle        models.Battle
	viewerViews   int64
	trendingScore float64
}

// HomeFeed returns a page of watchable battles for the viewer. FOLLOWING
// restricts to battles featuring someone the viewer follows; TRENDING is
// global. Ordering: battles the viewer has watched fewer times first, then
// hotter trending score, then newest.
func (fs *FeedService) HomeFeed(viewerUserID, feed string, page, pageSize int) ([]BattleRecording, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 50 {
		pageSize = 10
	}

	query := fs.DB.
		Preload("Participants").
		Preload("Participants.User").
		Preload("Participants.Checkins").
		Preload("Participants.ProcessedVideoThumbnails").
		Where("started_at IS NOT NULL").
		Where("computed_privacy_level = ?", models.BattlePrivacyPublic).
		Where(`EXISTS (
			SELECT 1 FROM battle_participants
			JOIN checkins ON checkins.battle_participant_id = battle_participants.id
			WHERE battle_participants.battle_id = battles.id
			AND checkins.state = ?
		)`, StateWarmUp).
		Where(`NOT EXISTS (
			SELECT 1 FROM battle_participants
			WHERE battle_participants.battle_id = battles.id
			AND (battle_participants.processed_video_status IS NULL
				OR battle_participants.processed_video_status <> ?)
		)`, VideoStatusCompleted)

	if feed == FeedFollowing {
		query = query.Where(`EXISTS (
			SELECT 1 FROM battle_participants
			JOIN user_follows ON user_follows.follows_user_id = battle_participants.user_id
			WHERE battle_participants.battle_id = battles.id
			AND user_follows.user_id = ?
		)`, viewerUserID)
	}

	var battles []models.Battle
	if err := query.Find(&battles).Error; err != nil {
		return nil, err
	}

	ranked := make([]rankedBattle, 0, len(battles))
	now := time.Now()
	for _, battle := range battles {
		views, err := fs.viewerViewCount(viewerUserID, battle.ID)
		if err != nil {
			return nil, err
		}
		trending, err := fs.trendingScore(battle, now)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, rankedBattle{battle: battle, viewerViews: views, trendingScore: trending})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.viewerViews != b.viewerViews {
			return a.viewerViews < b.viewerViews
		}
		if a.trendingScore != b.trendingScore {
			return a.trendingScore > b.trendingScore
		}
		return a.battle.CreatedAt.After(b.battle.CreatedAt)
	})

	start := (page - 1) * pageSize
	if start >= len(ranked) {
		return []BattleRecording{}, nil
	}
	end := start + pageSize
	if end > len(ranked) {
		end = len(ranked)
	}

	recordings := make([]BattleRecording, 0, end-start)
	for _, r := range ranked[start:end] {
		recording, err := fs.BuildRecording(&r.battle)
		if err != nil {
			return nil, err
		}
		recordings = append(recordings, *recording)
	}
	return recordings, nil
}

// BuildRecording assembles the playback payload for a single battle.
func (fs *FeedService) BuildRecording(battle *models.Battle) (*BattleRecording, error) {
	phases, err := GeneratePhaseTimeline(battle)
	if err != nil {
		// Unstartable battles never reach the feed, but direct lookups may
		// ask for them; ship without phases rather than failing.
		log.Printf("⚠️  [FEED] No phase timeline for battle %s: %v", battle.ID, err)
		phases = nil
	}

	totals, err := fs.Votes.VoteTotals(battle.ID)
	if err != nil {
		return nil, err
	}

	recording := BattleRecording{
		BattleID:     battle.ID,
		BeatID:       battle.BeatID,
		CreatedAt:    battle.CreatedAt,
		StartedAt:    battle.StartedAt,
		CompletedAt:  battle.CompletedAt,
		VotingEndsAt: battle.VotingEndsAt,
		Phases:       phases,
		VoteTotals:   totals,
	}

	if battle.ExportedVideoKey != nil {
		recording.ExportedVideoURL = fs.signKey(*battle.ExportedVideoKey)
	}

	for _, p := range battle.Participants {
		pr := ParticipantRecording{
			BattleParticipantID:     p.ID,
			UserID:                  p.UserID,
			Handle:                  p.User.Handle,
			Name:                    p.User.Name,
			ProfileImageURL:         p.User.ProfileImageURL,
			ComputedScore:           p.User.ComputedScore,
			Order:                   p.Order,
			DidWinOrTieBattle:       p.ComputedDidWinOrTieBattle,
			MediaOffsetMilliseconds: p.ProcessedVideoOffsetMilliseconds,
		}
		if p.ProcessedVideoKey != nil {
			pr.MediaURL = fs.signKey(*p.ProcessedVideoKey)
		}
		if len(p.ProcessedVideoThumbnails) > 0 {
			pr.ThumbnailURLs = make(map[string]string, len(p.ProcessedVideoThumbnails))
			for _, t := range p.ProcessedVideoThumbnails {
				pr.ThumbnailURLs[t.Size] = fs.signKey(t.Key)
			}
		}
		recording.Participants = append(recording.Participants, pr)
	}

	sort.SliceStable(recording.Participants, func(i, j int) bool {
		oi, oj := recording.Participants[i].Order, recording.Participants[j].Order
		if oi == nil || oj == nil {
			return oj == nil
		}
		return *oi < *oj
	})

	return &recording, nil
}

// RecordView appends a "viewer watched this battle" row, pushing the battle
// down in that viewer's feed.
func (fs *FeedService) RecordView(viewerUserID, battleID string) error {
	var count int64
	if err := fs.DB.Model(&models.Battle{}).Where("id = ?", battleID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("battle %s not found", battleID)
	}

	view := models.BattleView{
		ID:       uuid.NewString(),
		UserID:   viewerUserID,
		BattleID: battleID,
	}
	return fs.DB.Create(&view).Error
}

func (fs *FeedService) viewerViewCount(viewerUserID, battleID string) (int64, error) {
	var count int64
	err := fs.DB.Model(&models.BattleView{}).
		Where("user_id = ? AND battle_id = ?", viewerUserID, battleID).
		Count(&count).Error
	return count, err
}

// trendingScore sums amount/age over the battle's votes, so a vote cast a
// minute ago is worth far more heat than one from last week.
func (fs *FeedService) trendingScore(battle models.Battle, now time.Time) (float64, error) {
	participantIDs := make([]string, 0, len(battle.Participants))
	for _, p := range battle.Participants {
		participantIDs = append(participantIDs, p.ID)
	}
	if len(participantIDs) == 0 {
		return 0, nil
	}

	var votes []models.Vote
	if err := fs.DB.
		Where("battle_participant_id IN ?", participantIDs).
		Find(&votes).Error; err != nil {
		return 0, err
	}

	score := 0.0
	for _, v := range votes {
		seconds := now.Sub(v.EndedCastingAt).Seconds()
		if seconds < 1 {
			seconds = 1
		}
		score += float64(v.Amount) / seconds
	}
	return score, nil
}

func (fs *FeedService) signKey(key string) string {
	if fs.Signer == nil {
		return key
	}
	url, err := fs.Signer.SignedMediaURL(key)
	if err != nil {
		log.Printf("❌ [FEED] Failed to sign media key %s: %v", key, err)
		return key
	}
	return url
}

package services

import (
	"fmt"
	"testing"
	"time"

	"battle-service/models"
	"battle-service/realtime"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.UserFollow{},
		&models.BattleView{},
		&models.Beat{},
		&models.Battle{},
		&models.BattleExportThumbnail{},
		&models.BattleParticipant{},
		&models.ParticipantThumbnail{},
		&models.Checkin{},
		&models.StateMachineEvent{},
		&models.Vote{},
		&models.Challenge{},
	))
	return db
}

func testConfig() Config {
	config := DefaultConfig
	config.SweepInterval = 50 * time.Millisecond
	return config
}

type testStack struct {
	db       *gorm.DB
	config   Config
	battles  *BattleService
	votes    *VoteService
	scores   *ScoringService
	matching *MatchingService
	feeds    *FeedService
	users    *UserService
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	db := newTestDB(t)
	config := testConfig()
	publisher := realtime.NopPublisher{}

	battles := NewBattleService(db, config, publisher, LocalRoomOpener{})
	votes := NewVoteService(db, config, publisher)
	scores := NewScoringService(db, config, publisher)
	matching := NewMatchingService(db, config, publisher, battles)
	feeds := NewFeedService(db, config, nil, votes)
	users := NewUserService(db, config, publisher)

	battles.Winners = votes
	battles.Scores = scores
	votes.Scores = scores

	return &testStack{
		db:       db,
		config:   config,
		battles:  battles,
		votes:    votes,
		scores:   scores,
		matching: matching,
		feeds:    feeds,
		users:    users,
	}
}

func (ts *testStack) createUser(t *testing.T, handle string, score float64) *models.User {
	t.Helper()
	user := models.User{
		ID:            uuid.NewString(),
		Handle:        handle,
		Name:          handle,
		ComputedScore: score,
	}
	require.NoError(t, ts.db.Create(&user).Error)
	return &user
}

func (ts *testStack) createBeat(t *testing.T) *models.Beat {
	t.Helper()
	beat := models.Beat{
		ID:      uuid.NewString(),
		Title:   "test beat",
		Key:     "beats/test.mp3",
		Enabled: true,
	}
	require.NoError(t, ts.db.Create(&beat).Error)
	return &beat
}

// createPoolParticipant puts a user in the matching pool with control over
// how long they've been waiting.
func (ts *testStack) createPoolParticipant(t *testing.T, userID, algorithm string, waiting time.Duration) *models.BattleParticipant {
	t.Helper()
	participant, err := ts.battles.CreateParticipant(userID, algorithm)
	require.NoError(t, err)
	if waiting > 0 {
		startedAt := time.Now().Add(-waiting)
		require.NoError(t, ts.db.Model(participant).Update("matching_started_at", startedAt).Error)
		participant.MatchingStartedAt = startedAt
	}
	return participant
}

// createBattle pairs two fresh users through the real creation path.
func (ts *testStack) createBattle(t *testing.T, scoreA, scoreB float64) (*models.Battle, *models.BattleParticipant, *models.BattleParticipant) {
	t.Helper()
	ts.createBeat(t)
	userA := ts.createUser(t, "rapper-a-"+uuid.NewString()[:8], scoreA)
	userB := ts.createUser(t, "rapper-b-"+uuid.NewString()[:8], scoreB)
	pa := ts.createPoolParticipant(t, userA.ID, models.MatchingAlgorithmDefault, 0)
	pb := ts.createPoolParticipant(t, userB.ID, models.MatchingAlgorithmDefault, 0)

	battle, err := ts.battles.CreateForPair(pa, pb)
	require.NoError(t, err)
	require.NotNil(t, battle)
	return battle, pa, pb
}

// startBattle drives both participants to ready so the battle starts.
func (ts *testStack) startBattle(t *testing.T, pa, pb *models.BattleParticipant) *models.Battle {
	t.Helper()
	require.NoError(t, ts.battles.MarkReady(pa.ID))
	require.NoError(t, ts.battles.MarkReady(pb.ID))

	var battle models.Battle
	require.NoError(t, ts.db.Preload("Participants").First(&battle, "id = ?", *pa.BattleID).Error)
	require.NotNil(t, battle.StartedAt)
	return &battle
}

// completeBattle drives both participants to COMPLETE.
func (ts *testStack) completeBattle(t *testing.T, pa, pb *models.BattleParticipant) *models.Battle {
	t.Helper()
	for _, p := range []*models.BattleParticipant{pa, pb} {
		_, err := ts.battles.RecordCheckin(p.ID, CheckinInput{State: StateComplete})
		require.NoError(t, err)
	}

	var battle models.Battle
	require.NoError(t, ts.db.Preload("Participants").First(&battle, "id = ?", *pa.BattleID).Error)
	require.NotNil(t, battle.CompletedAt)
	return &battle
}

func (ts *testStack) reloadParticipant(t *testing.T, id string) *models.BattleParticipant {
	t.Helper()
	var p models.BattleParticipant
	require.NoError(t, ts.db.First(&p, "id = ?", id).Error)
	return &p
}

func (ts *testStack) reloadBattle(t *testing.T, id string) *models.Battle {
	t.Helper()
	var b models.Battle
	require.NoError(t, ts.db.Preload("Participants").First(&b, "id = ?", id).Error)
	return &b
}

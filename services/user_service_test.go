package services

import (
	"testing"

	"battle-service/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestUpsertUserCreatesWithInitialScore(t *testing.T) {
	ts := newTestStack(t)

	id := uuid.NewString()
	user, err := ts.users.UpsertUser(id, "mc-fresh", "MC Fresh", strPtr("https://cdn/avatar.png"), nil)
	require.NoError(t, err)

	assert.Equal(t, "mc-fresh", user.Handle)
	assert.Equal(t, ts.config.InitialScore, user.ComputedScore)
}

func TestUpsertUserPreservesComputedScore(t *testing.T) {
	ts := newTestStack(t)

	veteran := ts.createUser(t, "veteran", 12500)

	// A profile push must never reset a battle-earned score.
	updated, err := ts.users.UpsertUser(veteran.ID, "veteran-2", "Veteran", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "veteran-2", updated.Handle)
	assert.Equal(t, 12500.0, updated.ComputedScore)
}

func TestFollowIsIdempotent(t *testing.T) {
	ts := newTestStack(t)
	a := ts.createUser(t, "a", 5000)
	b := ts.createUser(t, "b", 5000)

	require.NoError(t, ts.users.Follow(a.ID, b.ID))
	require.NoError(t, ts.users.Follow(a.ID, b.ID))

	var edges int64
	require.NoError(t, ts.db.Model(&models.UserFollow{}).
		Where("user_id = ? AND follows_user_id = ?", a.ID, b.ID).
		Count(&edges).Error)
	assert.Equal(t, int64(1), edges)

	ra, err := ts.users.GetUser(a.ID)
	require.NoError(t, err)
	rb, err := ts.users.GetUser(b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ra.ComputedFollowingCount)
	assert.Equal(t, int64(1), rb.ComputedFollowersCount)
}

func TestFollowRejectsSelf(t *testing.T) {
	ts := newTestStack(t)
	a := ts.createUser(t, "a", 5000)
	assert.Error(t, ts.users.Follow(a.ID, a.ID))
}

func TestUnfollowDecrementsCounters(t *testing.T) {
	ts := newTestStack(t)
	a := ts.createUser(t, "a", 5000)
	b := ts.createUser(t, "b", 5000)

	require.NoError(t, ts.users.Follow(a.ID, b.ID))
	require.NoError(t, ts.users.Unfollow(a.ID, b.ID))

	ra, err := ts.users.GetUser(a.ID)
	require.NoError(t, err)
	rb, err := ts.users.GetUser(b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ra.ComputedFollowingCount)
	assert.Equal(t, int64(0), rb.ComputedFollowersCount)

	// Unfollowing a non-existent edge must not drive counters negative.
	require.NoError(t, ts.users.Unfollow(a.ID, b.ID))
	ra, err = ts.users.GetUser(a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ra.ComputedFollowingCount)
}

func TestSearchUsersMatchesHandleAndName(t *testing.T) {
	ts := newTestStack(t)
	ts.createUser(t, "lil-wordsmith", 9000)
	hit := ts.createUser(t, "wordplay-king", 7000)
	ts.createUser(t, "unrelated", 5000)

	results, err := ts.users.SearchUsers("WORD", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Ordered by score, best first.
	assert.Equal(t, "lil-wordsmith", results[0].Handle)
	assert.Equal(t, hit.Handle, results[1].Handle)
}

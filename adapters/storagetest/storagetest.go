// Package storagetest holds the behavior every engine.Storage adapter must share.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steamkit/core"
	"steamkit/engine"
)

var (
	alice = core.NewSteamID(1001, core.UniversePublic, core.AccountTypeIndividual)
	bob   = core.NewSteamID(1002, core.UniversePublic, core.AccountTypeIndividual)
	game  = core.NewGameID(480)
)

// Run exercises s against the storage contract. s must start empty.
func Run(t *testing.T, s engine.Storage) {
	t.Helper()
	ctx := context.Background()

	t.Run("registry", func(t *testing.T) {
		_, err := s.GetRegistry(ctx, alice, core.ConfigSubTreeApp, "volume")
		assert.ErrorIs(t, err, core.ErrNotFound)
		require.NoError(t, s.SetRegistry(ctx, alice, core.ConfigSubTreeApp, "volume", "7"))
		v, err := s.GetRegistry(ctx, alice, core.ConfigSubTreeApp, "volume")
		require.NoError(t, err)
		assert.Equal(t, "7", v)
		_, err = s.GetRegistry(ctx, alice, core.ConfigSubTreeSystem, "volume")
		assert.ErrorIs(t, err, core.ErrNotFound, "subtrees are separate")
	})

	t.Run("bans", func(t *testing.T) {
		bans, err := s.GetBans(ctx, bob)
		require.NoError(t, err)
		assert.Empty(t, bans)
		require.NoError(t, s.PutBan(ctx, bob, 480))
		require.NoError(t, s.PutBan(ctx, bob, 480))
		bans, err = s.GetBans(ctx, bob)
		require.NoError(t, err)
		assert.Equal(t, []core.AppID{480}, bans)
	})

	t.Run("friends", func(t *testing.T) {
		require.NoError(t, s.SetFriends(ctx, alice, []core.SteamID{bob}))
		friends, err := s.GetFriends(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, []core.SteamID{bob}, friends)
		require.NoError(t, s.SetFriends(ctx, alice, nil))
		friends, err = s.GetFriends(ctx, alice)
		require.NoError(t, err)
		assert.Empty(t, friends)
	})

	t.Run("stats", func(t *testing.T) {
		_, err := s.LoadStats(ctx, alice, game)
		assert.ErrorIs(t, err, core.ErrNotFound)

		snap := core.NewStatsSnapshot(alice, game)
		snap.Stats["NumWins"] = 3
		snap.AvgRates["FeetTraveled"] = core.AvgRate{Count: 10, Seconds: 5}
		snap.Achievements["ACH_WIN_ONE_GAME"] = core.AchievementState{Achieved: true, UnlockedAt: time.Unix(1700000000, 0).UTC()}
		snap.UpdatedAt = time.Unix(1700000100, 0).UTC()
		require.NoError(t, s.SaveStats(ctx, snap))

		got, err := s.LoadStats(ctx, alice, game)
		require.NoError(t, err)
		assert.Equal(t, 3.0, got.Stats["NumWins"])
		assert.Equal(t, core.AvgRate{Count: 10, Seconds: 5}, got.AvgRates["FeetTraveled"])
		assert.True(t, got.Achievements["ACH_WIN_ONE_GAME"].Achieved)
		assert.True(t, snap.UpdatedAt.Equal(got.UpdatedAt))

		_, err = s.LoadStats(ctx, alice, core.NewGameID(481))
		assert.ErrorIs(t, err, core.ErrNotFound, "stats are per game")
	})

	t.Run("leaderboards", func(t *testing.T) {
		_, err := s.FindLeaderboard(ctx, game, "Feet Traveled")
		assert.ErrorIs(t, err, core.ErrLeaderboardNotFound)

		info, err := s.CreateLeaderboard(ctx, core.LeaderboardInfo{
			Game:    game,
			Name:    "Feet Traveled",
			Sort:    core.LeaderboardSortMethodAscending,
			Display: core.LeaderboardDisplayTypeNumeric,
		})
		require.NoError(t, err)
		require.NotZero(t, info.Handle)

		again, err := s.CreateLeaderboard(ctx, core.LeaderboardInfo{Game: game, Name: "Feet Traveled", Sort: core.LeaderboardSortMethodDescending})
		require.NoError(t, err)
		assert.Equal(t, info, again, "create returns the existing board")

		found, err := s.FindLeaderboard(ctx, game, "Feet Traveled")
		require.NoError(t, err)
		assert.Equal(t, info, found)
		byHandle, err := s.GetLeaderboard(ctx, info.Handle)
		require.NoError(t, err)
		assert.Equal(t, info, byHandle)

		other, err := s.CreateLeaderboard(ctx, core.LeaderboardInfo{Game: core.NewGameID(481), Name: "Feet Traveled"})
		require.NoError(t, err)
		assert.NotEqual(t, info.Handle, other.Handle, "names are scoped per game")

		_, err = s.GetLeaderboard(ctx, 999999)
		assert.ErrorIs(t, err, core.ErrLeaderboardNotFound)

		at := time.Unix(1700000000, 0).UTC()
		require.NoError(t, s.PutScore(ctx, info.Handle, core.ScoreRecord{SteamID: alice, Score: 50, Details: []int32{1, 2}, UpdatedAt: at}))
		require.NoError(t, s.PutScore(ctx, info.Handle, core.ScoreRecord{SteamID: bob, Score: 40, UpdatedAt: at}))
		require.NoError(t, s.PutScore(ctx, info.Handle, core.ScoreRecord{SteamID: alice, Score: 30, Details: []int32{9}, UpdatedAt: at.Add(time.Second)}))

		recs, err := s.ListScores(ctx, info.Handle)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		byUser := map[core.SteamID]core.ScoreRecord{}
		for _, r := range recs {
			byUser[r.SteamID] = r
		}
		assert.Equal(t, int32(30), byUser[alice].Score)
		assert.Equal(t, []int32{9}, byUser[alice].Details)
		assert.True(t, at.Add(time.Second).Equal(byUser[alice].UpdatedAt))
		assert.Equal(t, int32(40), byUser[bob].Score)
	})
}

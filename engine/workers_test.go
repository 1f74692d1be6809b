package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "steamkit/adapters/memory"
	"steamkit/core"
)

// gatedStore holds the first stats load or save until release is closed.
type gatedStore struct {
	Storage
	gateLoad bool
	entered  chan struct{}
	release  chan struct{}
	once     sync.Once
}

func newGatedStore(gateLoad bool) *gatedStore {
	return &gatedStore{Storage: mem.New(), gateLoad: gateLoad, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStore) wait() {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
}

func (g *gatedStore) LoadStats(ctx context.Context, user core.SteamID, game core.GameID) (core.StatsSnapshot, error) {
	if g.gateLoad {
		g.wait()
	}
	return g.Storage.LoadStats(ctx, user, game)
}

func (g *gatedStore) SaveStats(ctx context.Context, snap core.StatsSnapshot) error {
	if !g.gateLoad {
		g.wait()
	}
	return g.Storage.SaveStats(ctx, snap)
}

// flakyStats fails the first stats save only.
type flakyStats struct {
	Storage
	mu     sync.Mutex
	failed bool
}

func (f *flakyStats) SaveStats(ctx context.Context, snap core.StatsSnapshot) error {
	f.mu.Lock()
	first := !f.failed
	f.failed = true
	f.mu.Unlock()
	if first {
		return errors.New("connection reset")
	}
	return f.Storage.SaveStats(ctx, snap)
}

func newPooledPlatform(t *testing.T, store Storage) *Platform {
	t.Helper()
	p, err := NewPlatform(store, WithWorkers(4), WithSchemas(testSchema()), WithTicketSecret([]byte("test-secret")))
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func (r *recorder) waitFor(t *testing.T, callback, n int) []core.CallbackMsg {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.of(callback)) >= n }, 2*time.Second, 5*time.Millisecond)
	return r.of(callback)
}

func received(t *testing.T, p *Platform, rec *recorder, id core.SteamID) *Client {
	t.Helper()
	c := logOn(t, p, id)
	n := len(rec.of(core.CallbackUserStatsReceived))
	require.NoError(t, c.RequestCurrentStats(context.Background()))
	rec.waitFor(t, core.CallbackUserStatsReceived, n+1)
	return c
}

func TestOverlappingStoresKeepNewestStats(t *testing.T) {
	store := newGatedStore(false)
	p := newPooledPlatform(t, store)
	rec := record(p)
	ctx := context.Background()
	c := received(t, p, rec, alice)

	require.NoError(t, c.SetStatInt32("NumGames", 1))
	require.NoError(t, c.SetAchievement("ACH_WIN_ONE_GAME"))
	require.NoError(t, c.StoreStats(ctx))
	<-store.entered

	require.NoError(t, c.SetStatInt32("NumGames", 2))
	require.NoError(t, c.StoreStats(ctx))
	close(store.release)

	stored := rec.waitFor(t, core.CallbackUserStatsStored, 2)
	for _, m := range stored {
		assert.Equal(t, core.ResultOK, m.Param.(core.UserStatsStored).Result)
	}
	snap, err := store.Storage.LoadStats(ctx, alice, testGame)
	require.NoError(t, err)
	assert.Equal(t, float64(2), snap.Stats["NumGames"])
	assert.Len(t, rec.of(core.CallbackUserAchievementStored), 1, "an unlock is announced once")

	v, err := c.GetStatInt32("NumGames")
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)
}

func TestEditDuringStoreStaysDirty(t *testing.T) {
	store := newGatedStore(false)
	p := newPooledPlatform(t, store)
	rec := record(p)
	ctx := context.Background()
	c := received(t, p, rec, alice)

	require.NoError(t, c.SetStatInt32("NumGames", 1))
	require.NoError(t, c.StoreStats(ctx))
	<-store.entered
	require.NoError(t, c.SetStatInt32("NumGames", 5))
	close(store.release)
	rec.waitFor(t, core.CallbackUserStatsStored, 1)

	c.mu.Lock()
	dirty := c.stats.dirty
	c.mu.Unlock()
	assert.True(t, dirty, "an edit made while saving is still unsaved")
}

func TestFailedStoreAnnouncesUnlockOnRetry(t *testing.T) {
	p := newPooledPlatform(t, &flakyStats{Storage: mem.New()})
	rec := record(p)
	ctx := context.Background()
	c := received(t, p, rec, alice)

	require.NoError(t, c.SetAchievement("ACH_WIN_ONE_GAME"))
	require.NoError(t, c.StoreStats(ctx))
	stored := rec.waitFor(t, core.CallbackUserStatsStored, 1)
	assert.Equal(t, core.ResultPersistFailed, stored[0].Param.(core.UserStatsStored).Result)
	assert.Empty(t, rec.of(core.CallbackUserAchievementStored))

	require.NoError(t, c.StoreStats(ctx))
	stored = rec.waitFor(t, core.CallbackUserStatsStored, 2)
	assert.Equal(t, core.ResultOK, stored[1].Param.(core.UserStatsStored).Result)
	ach := rec.waitFor(t, core.CallbackUserAchievementStored, 1)
	assert.Equal(t, "ACH_WIN_ONE_GAME", ach[0].Param.(core.UserAchievementStored).AchievementName)
}

func TestStatsArrivingAfterLogOffAreDropped(t *testing.T) {
	store := newGatedStore(true)
	p := newPooledPlatform(t, store)
	rec := record(p)
	ctx := context.Background()
	c := logOn(t, p, alice)

	require.NoError(t, c.RequestCurrentStats(ctx))
	<-store.entered
	require.NoError(t, c.LogOff(ctx))
	close(store.release)

	got := rec.waitFor(t, core.CallbackUserStatsReceived, 1)
	res := got[0].Param.(core.UserStatsReceived)
	assert.Equal(t, core.ResultNotLoggedOn, res.Result)
	assert.Equal(t, alice, res.SteamIDUser)
	_, err := c.GetStatInt32("NumGames")
	assert.ErrorIs(t, err, core.ErrNoStats)
}

// Run with -race: uploads and downloads share the client and board state.
func TestConcurrentUploadsAndDownloads(t *testing.T) {
	p := newPooledPlatform(t, mem.New())
	ctx := context.Background()
	const players = 8

	clients := make([]*Client, players)
	for i := range clients {
		clients[i] = logOn(t, p, core.NewSteamID(uint32(i+1), core.UniversePublic, core.AccountTypeIndividual))
	}
	call, err := clients[0].FindOrCreateLeaderboard(ctx, "Fastest", core.LeaderboardSortMethodAscending, core.LeaderboardDisplayTypeTimeSeconds)
	require.NoError(t, err)
	msg, err := p.Calls().Await(ctx, call)
	require.NoError(t, err)
	h := msg.Param.(core.LeaderboardFindResult).Leaderboard

	var wg sync.WaitGroup
	errs := make(chan error, players*2)
	for i, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			up, err := c.UploadLeaderboardScore(ctx, h, int32(100+i), nil)
			if err != nil {
				errs <- err
				return
			}
			down, err := c.DownloadLeaderboardEntries(ctx, h, core.LeaderboardDataRequestGlobal, 1, players)
			if err != nil {
				errs <- err
				return
			}
			for _, call := range []core.APICall{up, down} {
				if m, err := p.Calls().Await(ctx, call); err != nil {
					errs <- err
				} else if m.Failed {
					errs <- errors.New("call failed")
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	call, err = clients[0].DownloadLeaderboardEntries(ctx, h, core.LeaderboardDataRequestGlobal, 1, players)
	require.NoError(t, err)
	msg, err = p.Calls().Await(ctx, call)
	require.NoError(t, err)
	res := msg.Param.(core.LeaderboardScoresDownloaded)
	require.Equal(t, int32(players), res.EntryCount)
	for i := 0; i < players; i++ {
		row, _, err := clients[0].GetDownloadedLeaderboardEntry(res.Entries, i, 0)
		require.NoError(t, err)
		assert.Equal(t, int32(i+1), row.GlobalRank)
		assert.Equal(t, int32(100+i), row.Score)
	}
}

package sdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "steamkit/adapters/memory"
	"steamkit/api/httpapi"
	"steamkit/core"
	"steamkit/engine"
	"steamkit/realtime"
)

var (
	game  = core.NewGameID(480)
	alice = core.NewSteamID(1, core.UniversePublic, core.AccountTypeIndividual)
	bob   = core.NewSteamID(2, core.UniversePublic, core.AccountTypeIndividual)
)

func newTestServer(t *testing.T, opts httpapi.Options) *httptest.Server {
	t.Helper()
	p, err := engine.NewPlatform(mem.New(),
		engine.WithWorkers(0),
		engine.WithTicketSecret([]byte("sdk-test-secret!")),
		engine.WithSchemas(core.Schema{
			Game:         game,
			Stats:        []core.StatDef{{Name: "NumGames", Type: core.StatTypeInt}, {Name: "Speed", Type: core.StatTypeAvgRate}},
			Achievements: []core.AchievementDef{{Name: "ACH_WIN_ONE_GAME", DisplayName: "Winner", Icon: 1, IconLocked: 2}},
		}),
	)
	require.NoError(t, err)
	hub := realtime.NewHub()
	p.SubscribeAll(hub.Broadcast)

	opts.PathPrefix = "/api"
	srv := httptest.NewServer(httpapi.NewMux(p, hub, opts))
	t.Cleanup(func() {
		srv.Close()
		p.Close()
	})
	return srv
}

func TestNewClient(t *testing.T) {
	_, err := NewClient("  ")
	assert.ErrorIs(t, err, ErrEmptyBaseURL)

	c, err := NewClient("https://games.example/api/")
	require.NoError(t, err)
	assert.Equal(t, "https://games.example/api", c.baseURL)
	assert.Equal(t, "wss://games.example/api/ws", c.wsURL)
}

func TestSession_StatsFlow(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{APIKeys: []string{"k1"}})
	client, err := NewClient(srv.URL+"/api", WithAPIKey("k1"))
	require.NoError(t, err)
	ctx := context.Background()

	s, st, err := client.Connect(ctx, game)
	require.NoError(t, err)
	assert.Equal(t, game, st.GameID)

	st, err = s.LogOn(ctx, alice)
	require.NoError(t, err)
	assert.True(t, st.LoggedOn)

	require.NoError(t, s.RequestCurrentStats(ctx))
	require.NoError(t, s.SetStatInt32(ctx, "NumGames", 3))
	v, err := s.GetStatInt32(ctx, "NumGames")
	require.NoError(t, err)
	assert.Equal(t, int32(3), v)

	rate, err := s.UpdateAvgRateStat(ctx, "Speed", 10, 5)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, rate, 1e-6)

	require.NoError(t, s.SetAchievement(ctx, "ACH_WIN_ONE_GAME"))
	require.NoError(t, s.StoreStats(ctx))
	ach, err := s.GetAchievement(ctx, "ACH_WIN_ONE_GAME")
	require.NoError(t, err)
	assert.True(t, ach.Achieved)
	assert.Equal(t, 1, ach.Icon)

	err = s.SetStatInt32(ctx, "Nope", 1)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))

	// a second session reads alice's stored stats
	other, _, err := client.Connect(ctx, game)
	require.NoError(t, err)
	_, err = other.LogOn(ctx, bob)
	require.NoError(t, err)
	call, err := other.RequestUserStats(ctx, alice)
	require.NoError(t, err)
	_, err = s.CallResult(ctx, call)
	assert.True(t, IsStatus(err, http.StatusNotFound), "calls belong to the session that began them")
	msg, err := other.Await(ctx, call)
	require.NoError(t, err)
	assert.Equal(t, core.ResultOK, msg.Param.(core.UserStatsReceived).Result)
	games, err := other.GetUserStatInt32(ctx, alice, "NumGames")
	require.NoError(t, err)
	assert.Equal(t, int32(3), games)
	unlocked, err := other.GetUserAchievement(ctx, alice, "ACH_WIN_ONE_GAME")
	require.NoError(t, err)
	assert.True(t, unlocked)

	require.NoError(t, s.LogOff(ctx))
	var apiErr *APIError
	err = s.StoreStats(ctx)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "not_logged_on", apiErr.Code)

	require.NoError(t, s.Close(ctx))
	_, err = s.State(ctx)
	assert.True(t, IsStatus(err, http.StatusNotFound))
}

func TestSession_Leaderboards(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{})
	client, err := NewClient(srv.URL + "/api")
	require.NoError(t, err)
	ctx := context.Background()

	s, _, err := client.Connect(ctx, game)
	require.NoError(t, err)
	_, err = s.LogOn(ctx, alice)
	require.NoError(t, err)

	call, err := s.FindOrCreateLeaderboard(ctx, "Laps", core.LeaderboardSortMethodAscending, core.LeaderboardDisplayTypeTimeSeconds)
	require.NoError(t, err)
	msg, err := s.Await(ctx, call)
	require.NoError(t, err)
	board := msg.Param.(core.LeaderboardFindResult).Leaderboard
	require.NotZero(t, board)

	call, err = s.UploadLeaderboardScore(ctx, board, 95, []int32{7})
	require.NoError(t, err)
	_, err = s.Await(ctx, call)
	require.NoError(t, err)

	info, err := s.Leaderboard(ctx, board)
	require.NoError(t, err)
	assert.Equal(t, "Laps", info.Name)
	assert.Equal(t, 1, info.EntryCount)

	call, err = s.DownloadLeaderboardEntries(ctx, board, core.LeaderboardDataRequestGlobalAroundUser, 0, 0)
	require.NoError(t, err)
	msg, err = s.Await(ctx, call)
	require.NoError(t, err)
	dl := msg.Param.(core.LeaderboardScoresDownloaded)
	require.Equal(t, int32(1), dl.EntryCount)

	row, err := s.DownloadedEntry(ctx, dl.Entries, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, int32(95), row.Entry.Score)
	assert.Equal(t, []int32{7}, row.Details)

	// results are handed out once
	_, err = s.CallResult(ctx, call)
	assert.True(t, IsStatus(err, http.StatusNotFound))

	call, err = s.FindLeaderboard(ctx, "Missing")
	require.NoError(t, err)
	msg, err = s.Await(ctx, call)
	require.NoError(t, err)
	assert.Zero(t, msg.Param.(core.LeaderboardFindResult).LeaderboardFound)
}

func TestSession_RegistryAndTickets(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{})
	client, err := NewClient(srv.URL + "/api")
	require.NoError(t, err)
	ctx := context.Background()

	s, _, err := client.Connect(ctx, game)
	require.NoError(t, err)
	_, err = s.LogOn(ctx, alice)
	require.NoError(t, err)

	require.NoError(t, s.SetRegistry(ctx, "app", "difficulty", "hard"))
	v, err := s.GetRegistry(ctx, "app", "difficulty")
	require.NoError(t, err)
	assert.Equal(t, "hard", v)

	ticket, err := s.InitiateGameConnection(ctx, bob, game, 0x0a000001, 27015, true)
	require.NoError(t, err)
	claims, err := client.ValidateTicket(ctx, ticket)
	require.NoError(t, err)
	assert.Equal(t, alice, claims.SteamID)
	assert.Equal(t, bob, claims.Server)
	assert.True(t, claims.Secure)
	require.NoError(t, s.TerminateGameConnection(ctx, 0x0a000001, 27015))
}

func TestClient_HealthAndAdmin(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{})
	client, err := NewClient(srv.URL + "/api")
	require.NoError(t, err)
	ctx := context.Background()

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)

	admin := client.Admin()
	require.NoError(t, admin.BanAccount(ctx, alice, 0))
	s, _, err := client.Connect(ctx, game)
	require.NoError(t, err)
	_, err = s.LogOn(ctx, alice)
	assert.True(t, IsStatus(err, http.StatusForbidden))

	require.NoError(t, admin.SetFriends(ctx, bob))
	require.NoError(t, admin.DenyGameServer(ctx, 1, 2, 3))
	require.NoError(t, admin.RegisterSchema(ctx, core.Schema{Game: core.NewGameID(570)}))

	require.NoError(t, admin.SetAvailable(ctx, false))
	health, err = client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "unavailable", health.Checks["platform"])
}

func TestClient_Subscribe(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{})
	client, err := NewClient(srv.URL + "/api")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, _, err := client.Connect(ctx, game)
	require.NoError(t, err)
	events, err := client.Subscribe(ctx, s.HUser())
	require.NoError(t, err)

	// the server subscribes after the upgrade completes, so cycle the logon
	// until a connect notification lands
	var got core.CallbackMsg
	require.Eventually(t, func() bool {
		if _, err := s.LogOn(ctx, alice); err != nil {
			return false
		}
		defer func() { _ = s.LogOff(ctx) }()
		for {
			select {
			case got = <-events:
				if got.Callback == core.CallbackSteamServersConnected {
					return true
				}
			case <-time.After(50 * time.Millisecond):
				return false
			}
		}
	}, time.Second, time.Millisecond)
	assert.Equal(t, s.HUser(), got.User)
}

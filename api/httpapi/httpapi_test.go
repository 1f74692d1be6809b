package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "steamkit/adapters/memory"
	"steamkit/core"
	"steamkit/engine"
	"steamkit/realtime"
)

var (
	game  = core.NewGameID(480)
	alice = core.NewSteamID(1, core.UniversePublic, core.AccountTypeIndividual)
	bob   = core.NewSteamID(2, core.UniversePublic, core.AccountTypeIndividual)
)

func testSchema() core.Schema {
	return core.Schema{
		Game: game,
		Stats: []core.StatDef{
			{Name: "NumGames", Type: core.StatTypeInt},
			{Name: "AverageSpeed", Type: core.StatTypeAvgRate},
		},
		Achievements: []core.AchievementDef{
			{Name: "ACH_WIN_ONE_GAME", DisplayName: "Winner", Description: "Win one game", Icon: 11, IconLocked: 12},
		},
	}
}

func newTestPlatform(t *testing.T) *engine.Platform {
	t.Helper()
	p, err := engine.NewPlatform(mem.New(),
		engine.WithWorkers(0),
		engine.WithSchemas(testSchema()),
		engine.WithTicketSecret([]byte("test-secret-0123")),
	)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func do(t *testing.T, h http.Handler, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// connect opens a client for game and logs it on as id.
func connect(t *testing.T, h http.Handler, id core.SteamID) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/clients", map[string]any{"game_id": game})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	state := decodeBody[ClientState](t, rec)
	base := fmt.Sprintf("/api/clients/%d", state.HUser)

	rec = do(t, h, http.MethodPost, base+"/logon", map[string]any{"steam_id": id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return base
}

// clientOf returns the engine client behind a base path from connect.
func clientOf(t *testing.T, p *engine.Platform, base string) *engine.Client {
	t.Helper()
	var h int32
	_, err := fmt.Sscanf(base, "/api/clients/%d", &h)
	require.NoError(t, err)
	c, ok := p.Client(core.HUser(h))
	require.True(t, ok)
	return c
}

func takeCall(t *testing.T, h http.Handler, base string, rec *httptest.ResponseRecorder) core.CallbackMsg {
	t.Helper()
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	call := decodeBody[callResponse](t, rec).Call
	require.NotZero(t, call)

	res := do(t, h, http.MethodGet, fmt.Sprintf("%s/calls/%d?wait=1s", base, call), nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	return decodeBody[core.CallbackMsg](t, res)
}

func TestSessionLifecycle(t *testing.T) {
	p := newTestPlatform(t)
	h := NewMux(p, nil, Options{PathPrefix: "/api"})

	base := connect(t, h, alice)
	rec := do(t, h, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decodeBody[ClientState](t, rec)
	assert.True(t, state.LoggedOn)
	assert.Equal(t, "logged_on", state.LogonState)
	assert.Equal(t, alice, state.SteamID)
	assert.Equal(t, game, state.GameID)

	rec = do(t, h, http.MethodPost, base+"/logoff", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[ClientState](t, rec).LoggedOn)

	rec = do(t, h, http.MethodPost, base+"/logoff", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, core.ResultNotLoggedOn.String(), decodeBody[apiError](t, rec).Code)

	rec = do(t, h, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConnectValidation(t *testing.T) {
	h := NewMux(newTestPlatform(t), nil, Options{PathPrefix: "/api"})

	rec := do(t, h, http.MethodPost, "/api/clients", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decodeBody[apiError](t, rec).Code)

	rec = do(t, h, http.MethodGet, "/api/clients/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/clients/1/logon", map[string]any{"steam_id": alice})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegistry(t *testing.T) {
	h := NewMux(newTestPlatform(t), nil, Options{PathPrefix: "/api"})
	base := connect(t, h, alice)

	rec := do(t, h, http.MethodPut, base+"/registry/app/volume", registryValue{Value: "7"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, base+"/registry/app/volume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "7", decodeBody[registryValue](t, rec).Value)

	rec = do(t, h, http.MethodGet, base+"/registry/app/volume?type=int", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(7), decodeBody[map[string]any](t, rec)["value"])

	rec = do(t, h, http.MethodGet, base+"/registry/app/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, core.ResultFileNotFound.String(), decodeBody[apiError](t, rec).Code)

	rec = do(t, h, http.MethodGet, base+"/registry/bogus/volume", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsAndAchievements(t *testing.T) {
	h := NewMux(newTestPlatform(t), nil, Options{PathPrefix: "/api"})
	base := connect(t, h, alice)

	rec := do(t, h, http.MethodGet, base+"/stats/NumGames", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "stats not requested yet")

	rec = do(t, h, http.MethodPost, base+"/stats/request", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, h, http.MethodPut, base+"/stats/NumGames", map[string]any{"int": 5})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodGet, base+"/stats/NumGames", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(5), *decodeBody[statValue](t, rec).Int)

	rec = do(t, h, http.MethodPut, base+"/stats/NumGames", map[string]any{"int": 1, "float": 1.5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPut, base+"/stats/NumGames", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPut, base+"/stats/Unknown", map[string]any{"int": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, base+"/stats/AverageSpeed/avgrate", avgRateRequest{Count: 30, SessionLength: 10})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.InDelta(t, 3.0, *decodeBody[statValue](t, rec).Float, 1e-6)
	rec = do(t, h, http.MethodPost, base+"/stats/AverageSpeed/avgrate", avgRateRequest{Count: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, base+"/achievements/ACH_WIN_ONE_GAME", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ach := decodeBody[Achievement](t, rec)
	assert.False(t, ach.Achieved)
	assert.Equal(t, 12, ach.Icon)

	rec = do(t, h, http.MethodPost, base+"/achievements/ACH_WIN_ONE_GAME/progress", progressRequest{Current: 5, Max: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, base+"/achievements/ACH_WIN_ONE_GAME/progress", progressRequest{Current: 1, Max: 5})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, h, http.MethodPut, base+"/achievements/ACH_WIN_ONE_GAME", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodPost, base+"/stats/store", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, h, http.MethodGet, base+"/achievements/ACH_WIN_ONE_GAME", nil)
	ach = decodeBody[Achievement](t, rec)
	assert.True(t, ach.Achieved)
	assert.Equal(t, 11, ach.Icon)
	assert.Equal(t, "Winner", ach.DisplayName)

	// another session reads the stored stats
	other := connect(t, h, bob)
	msg := takeCall(t, h, other, do(t, h, http.MethodPost, fmt.Sprintf("%s/users/%d/stats", other, alice), nil))
	require.False(t, msg.Failed)
	received, ok := msg.Param.(core.UserStatsReceived)
	require.True(t, ok)
	assert.Equal(t, core.ResultOK, received.Result)

	rec = do(t, h, http.MethodGet, fmt.Sprintf("%s/users/%d/stats/NumGames", other, alice), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(5), *decodeBody[statValue](t, rec).Int)
	rec = do(t, h, http.MethodGet, fmt.Sprintf("%s/users/%d/achievements/ACH_WIN_ONE_GAME", other, alice), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody[map[string]any](t, rec)["achieved"])

	rec = do(t, h, http.MethodPost, base+"/stats/reset", resetRequest{Achievements: true})
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, base+"/stats/NumGames", nil)
	assert.Equal(t, int32(0), *decodeBody[statValue](t, rec).Int)
}

func TestLeaderboardFlow(t *testing.T) {
	h := NewMux(newTestPlatform(t), nil, Options{PathPrefix: "/api"})
	base := connect(t, h, alice)

	msg := takeCall(t, h, base, do(t, h, http.MethodPost, base+"/leaderboards", findLeaderboardRequest{
		Name:    "Feet Traveled",
		Create:  true,
		Sort:    core.LeaderboardSortMethodDescending,
		Display: core.LeaderboardDisplayTypeNumeric,
	}))
	found, ok := msg.Param.(core.LeaderboardFindResult)
	require.True(t, ok)
	require.Equal(t, uint8(1), found.LeaderboardFound)
	board := fmt.Sprintf("%s/leaderboards/%d", base, found.Leaderboard)

	msg = takeCall(t, h, base, do(t, h, http.MethodPost, board+"/scores", uploadScoreRequest{Score: 120, Details: []int32{1, 2, 3}}))
	uploaded := msg.Param.(core.LeaderboardScoreUploaded)
	assert.Equal(t, uint8(1), uploaded.Success)
	assert.Equal(t, int32(1), uploaded.GlobalRankNew)

	rec := do(t, h, http.MethodPost, board+"/scores", uploadScoreRequest{Score: 1, Details: make([]int32, core.LeaderboardDetailsMax+1)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, board, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decodeBody[LeaderboardInfo](t, rec)
	assert.Equal(t, "Feet Traveled", info.Name)
	assert.Equal(t, 1, info.EntryCount)
	assert.Equal(t, core.LeaderboardSortMethodDescending, info.Sort)

	msg = takeCall(t, h, base, do(t, h, http.MethodPost, board+"/downloads", downloadRequest{Request: core.LeaderboardDataRequestGlobal, Start: 1, End: 10}))
	downloaded := msg.Param.(core.LeaderboardScoresDownloaded)
	require.Equal(t, int32(1), downloaded.EntryCount)

	entryPath := fmt.Sprintf("%s/entries/%d/0", base, downloaded.Entries)
	rec = do(t, h, http.MethodGet, entryPath+"?max_details=2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	row := decodeBody[DownloadedEntry](t, rec)
	assert.Equal(t, alice, row.Entry.SteamIDUser)
	assert.Equal(t, int32(3), row.Entry.Details)
	assert.Equal(t, []int32{1, 2}, row.Details)

	// every row has been read, so the handle is gone
	rec = do(t, h, http.MethodGet, entryPath, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, base+"/leaderboards", findLeaderboardRequest{Name: "", Create: true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, base+"/leaderboards", findLeaderboardRequest{Name: "x", Sort: 7})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallResults(t *testing.T) {
	p := newTestPlatform(t)
	h := NewMux(p, nil, Options{PathPrefix: "/api"})
	base := connect(t, h, alice)

	rec := do(t, h, http.MethodPost, base+"/leaderboards", findLeaderboardRequest{Name: "Missing"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	call := decodeBody[callResponse](t, rec).Call

	path := fmt.Sprintf("%s/calls/%d", base, call)
	rec = do(t, h, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	msg := decodeBody[core.CallbackMsg](t, rec)
	assert.Equal(t, call, msg.Call)
	assert.Equal(t, uint8(0), msg.Param.(core.LeaderboardFindResult).LeaderboardFound)

	// results are taken once
	rec = do(t, h, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodGet, path+"?wait=10ms", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, base+"/calls/zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, path+"?wait=soon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// a call still running answers 202
	c := clientOf(t, p, base)
	pending := p.Calls().Begin(c.HSteamUser(), core.CallbackLeaderboardFindResult)
	rec = do(t, h, http.MethodGet, fmt.Sprintf("%s/calls/%d", base, pending), nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = do(t, h, http.MethodGet, fmt.Sprintf("%s/calls/%d?wait=20ms", base, pending), nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestCallResultsBelongToTheirClient(t *testing.T) {
	p := newTestPlatform(t)
	h := NewMux(p, nil, Options{PathPrefix: "/api"})
	owner := connect(t, h, alice)
	other := connect(t, h, bob)

	rec := do(t, h, http.MethodPost, owner+"/leaderboards", findLeaderboardRequest{Name: "Missing"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	call := decodeBody[callResponse](t, rec).Call

	rec = do(t, h, http.MethodGet, fmt.Sprintf("%s/calls/%d", other, call), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodGet, fmt.Sprintf("%s/calls/%d?wait=10ms", other, call), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// the owner still gets its result
	rec = do(t, h, http.MethodGet, fmt.Sprintf("%s/calls/%d?wait=1s", owner, call), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, call, decodeBody[core.CallbackMsg](t, rec).Call)
}

func TestTickets(t *testing.T) {
	p := newTestPlatform(t)
	h := NewMux(p, nil, Options{PathPrefix: "/api"})
	base := connect(t, h, alice)

	rec := do(t, h, http.MethodPost, base+"/connections", gameConnectionRequest{
		MaxBlob: engine.TicketSize, ServerID: bob, GameID: game, IP: 0x7f000001, Port: 27015, Secure: true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ticket := decodeBody[struct {
		Ticket []byte `json:"ticket"`
	}](t, rec).Ticket
	require.Len(t, ticket, engine.TicketSize)

	rec = do(t, h, http.MethodPost, "/api/tickets/validate", ticketRequest{Ticket: ticket})
	require.Equal(t, http.StatusOK, rec.Code)
	claims := decodeBody[engine.TicketClaims](t, rec)
	assert.Equal(t, alice, claims.SteamID)
	assert.Equal(t, uint16(27015), claims.Port)

	ticket[3] ^= 0xFF
	rec = do(t, h, http.MethodPost, "/api/tickets/validate", ticketRequest{Ticket: ticket})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, base+"/connections", gameConnectionRequest{MaxBlob: 8, GameID: game, Port: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, base+"/connections/2130706433/27015", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, base+"/connections/2130706433/27015", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	p := newTestPlatform(t)
	h := NewMux(p, nil, Options{PathPrefix: "/api"})
	base := connect(t, h, alice)

	rec := do(t, h, http.MethodPost, "/api/admin/bans", banRequest{SteamID: alice, AppID: game.AppID()})
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, fmt.Sprintf("%s/vac/%d", base, game.AppID()), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"banned": true, "show_message": true}, decodeBody[map[string]bool](t, rec))
	rec = do(t, h, http.MethodPost, fmt.Sprintf("%s/vac/%d/ack", base, game.AppID()), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, fmt.Sprintf("%s/vac/%d", base, game.AppID()), nil)
	assert.Equal(t, map[string]bool{"banned": true, "show_message": false}, decodeBody[map[string]bool](t, rec))

	rec = do(t, h, http.MethodPut, fmt.Sprintf("/api/admin/friends/%d", alice), friendsRequest{Friends: []core.SteamID{bob}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodPut, fmt.Sprintf("/api/admin/friends/%d", alice), friendsRequest{Friends: []core.SteamID{0}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	schema := testSchema()
	schema.Game = core.NewGameID(570)
	rec = do(t, h, http.MethodPut, "/api/admin/schemas", schema)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, p.Schema(schema.Game).Stats, 2)

	rec = do(t, h, http.MethodPut, "/api/admin/availability", map[string]any{"available": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, p.Available())
	rec = do(t, h, http.MethodGet, "/api/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/admin/availability", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserSettings(t *testing.T) {
	h := NewMux(newTestPlatform(t), nil, Options{PathPrefix: "/api"})
	base := connect(t, h, alice)

	rec := do(t, h, http.MethodPut, base+"/email", emailRequest{Email: "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPut, base+"/email", emailRequest{Email: "gordon@example.com"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodPut, base+"/language", languageRequest{Language: "english"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, base+"/registry/system/language", nil)
	assert.Equal(t, "english", decodeBody[registryValue](t, rec).Value)

	rec = do(t, h, http.MethodPost, base+"/usage", usageEventRequest{GameID: game, Event: 3, Extra: "level-2"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodPost, base+"/primary-chat", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	state := decodeBody[ClientState](t, do(t, h, http.MethodGet, base, nil))
	assert.True(t, state.PrimaryChat)
	require.Len(t, state.Usage, 1)
	assert.Equal(t, "level-2", state.Usage[0].Extra)
}

func TestHealthChecks(t *testing.T) {
	p := newTestPlatform(t)
	h := NewMux(p, nil, Options{
		PathPrefix: "/api",
		HealthChecks: map[string]func(context.Context) error{
			"storage": func(context.Context) error { return nil },
		},
	})
	rec := do(t, h, http.MethodGet, "/api/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	h = NewMux(p, nil, Options{HealthChecks: map[string]func(context.Context) error{
		"storage": func(context.Context) error { return errors.New("down") },
	}})
	rec = do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "failed", decodeBody[map[string]any](t, rec)["checks"].(map[string]any)["storage"])
}

func TestAPIKeyAuth(t *testing.T) {
	h := NewMux(newTestPlatform(t), nil, Options{PathPrefix: "/api", APIKeys: []string{"secret"}})

	rec := do(t, h, http.MethodPost, "/api/clients", connectRequest{GameID: game})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/clients", connectRequest{GameID: game}, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/clients", connectRequest{GameID: game}, "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/clients", connectRequest{GameID: game}, "X-API-Key", "secret")
	assert.Equal(t, http.StatusCreated, rec.Code)

	// health stays open
	rec = do(t, h, http.MethodGet, "/api/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h := NewMux(newTestPlatform(t), nil, Options{PathPrefix: "/api", RateLimitEnabled: true, RateLimitRPM: 1, RateLimitBurst: 2})

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodGet, "/api/healthz", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/api/healthz", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// another key has its own bucket
	rec = do(t, h, http.MethodGet, "/api/healthz", nil, "X-API-Key", "other")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter_RefillAndSweep(t *testing.T) {
	l := newRateLimiter(60, 1, time.Minute)
	now := time.Unix(1000, 0)

	assert.True(t, l.allow("a", now))
	assert.False(t, l.allow("a", now.Add(500*time.Millisecond)))
	assert.True(t, l.allow("a", now.Add(2*time.Second)))
	assert.True(t, l.allow("b", now.Add(2*time.Second)))
	assert.Equal(t, 2, l.size())

	// both buckets idle past the cleanup interval
	assert.True(t, l.allow("c", now.Add(5*time.Minute)))
	assert.Equal(t, 1, l.size())
}

func TestCORS(t *testing.T) {
	h := NewMux(newTestPlatform(t), nil, Options{PathPrefix: "/api", AllowCORSOrigin: "https://game.example", APIKeys: []string{"k"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/clients", nil)
	req.Header.Set("Origin", "https://game.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Less(t, rec.Code, 300)
	assert.Equal(t, "https://game.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketStream(t *testing.T) {
	p := newTestPlatform(t)
	hub := realtime.NewHub()
	p.SubscribeAll(hub.Broadcast)
	srv := httptest.NewServer(NewMux(p, hub, Options{PathPrefix: "/api"}))
	defer srv.Close()

	rec := do(t, srv.Config.Handler, http.MethodPost, "/api/clients", connectRequest{GameID: game})
	state := decodeBody[ClientState](t, rec)

	conn, _, err := gorillaws.DefaultDialer.Dial(fmt.Sprintf("ws%s/api/ws?user=%d", srv.URL[len("http"):], state.HUser), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	rec = do(t, srv.Config.Handler, http.MethodPost, fmt.Sprintf("/api/clients/%d/logon", state.HUser), logonRequest{SteamID: alice})
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg core.CallbackMsg
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, core.CallbackSteamServersConnected, msg.Callback)
	assert.Equal(t, state.HUser, msg.User)
}

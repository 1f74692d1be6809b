package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "steamkit/adapters/memory"
	"steamkit/core"
)

var _ Storage = (*mem.Store)(nil)

var (
	testGame = core.NewGameID(480)
	alice    = core.NewSteamID(1, core.UniversePublic, core.AccountTypeIndividual)
	bob      = core.NewSteamID(2, core.UniversePublic, core.AccountTypeIndividual)
	carol    = core.NewSteamID(3, core.UniversePublic, core.AccountTypeIndividual)
)

func fp(v float64) *float64 { return &v }

func testSchema() core.Schema {
	return core.Schema{
		Game: testGame,
		Stats: []core.StatDef{
			{Name: "NumGames", Type: core.StatTypeInt},
			{Name: "NumWins", Type: core.StatTypeInt, IncrementOnly: true},
			{Name: "MaxFeetTraveled", Type: core.StatTypeFloat, Min: fp(0)},
			{Name: "AverageSpeed", Type: core.StatTypeAvgRate, Window: 20},
		},
		Achievements: []core.AchievementDef{
			{Name: "ACH_WIN_ONE_GAME", DisplayName: "Winner", Description: "Win one game", Icon: 11, IconLocked: 12},
			{Name: "ACH_WIN_100_GAMES", DisplayName: "Champion", Description: "Win 100 games", Hidden: true, Icon: 21, IconLocked: 22},
		},
	}
}

type recorder struct {
	mu   sync.Mutex
	msgs []core.CallbackMsg
}

func record(p *Platform) *recorder {
	r := &recorder{}
	p.SubscribeAll(func(_ context.Context, m core.CallbackMsg) {
		r.mu.Lock()
		r.msgs = append(r.msgs, m)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) of(callback int) []core.CallbackMsg {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.CallbackMsg
	for _, m := range r.msgs {
		if m.Callback == callback {
			out = append(out, m)
		}
	}
	return out
}

func newTestPlatform(t *testing.T, opts ...Option) (*Platform, *mem.Store) {
	t.Helper()
	store := mem.New()
	opts = append([]Option{WithWorkers(0), WithSchemas(testSchema()), WithTicketSecret([]byte("test-secret"))}, opts...)
	p, err := NewPlatform(store, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, store
}

func logOn(t *testing.T, p *Platform, id core.SteamID) *Client {
	t.Helper()
	c, err := p.Connect(testGame)
	require.NoError(t, err)
	require.NoError(t, c.LogOn(context.Background(), id))
	return c
}

func TestInterfaceVersions(t *testing.T) {
	p, _ := newTestPlatform(t)
	c, err := p.Connect(testGame)
	require.NoError(t, err)

	u, err := c.User(core.UserInterfaceVersion)
	require.NoError(t, err)
	_, legacy := u.(LegacyUser)
	assert.False(t, legacy, "SteamUser006 hides legacy members")

	u, err = c.User(core.UserInterfaceVersion005)
	require.NoError(t, err)
	_, legacy = u.(LegacyUser)
	assert.True(t, legacy)

	_, err = c.User("SteamUser004")
	assert.ErrorIs(t, err, core.ErrVersionMismatch)
	_, err = c.UserStats(core.UserStatsInterfaceVersion)
	assert.NoError(t, err)
	_, err = c.UserStats("STEAMUSERSTATS_INTERFACE_VERSION004")
	assert.ErrorIs(t, err, core.ErrVersionMismatch)
}

func TestConnectAllocatesHandles(t *testing.T) {
	p, _ := newTestPlatform(t)
	a, err := p.Connect(testGame)
	require.NoError(t, err)
	b, err := p.Connect(testGame)
	require.NoError(t, err)
	assert.NotZero(t, a.HSteamUser())
	assert.NotEqual(t, a.HSteamUser(), b.HSteamUser())
	_, err = p.Connect(0)
	assert.ErrorIs(t, err, core.ErrInvalidParam)

	got, ok := p.Client(a.HSteamUser())
	require.True(t, ok)
	assert.Same(t, a, got)
	a.Close(context.Background())
	_, ok = p.Client(a.HSteamUser())
	assert.False(t, ok)
}

func TestLogOnLogOff(t *testing.T) {
	p, _ := newTestPlatform(t)
	rec := record(p)
	ctx := context.Background()
	c, err := p.Connect(testGame)
	require.NoError(t, err)
	assert.Equal(t, core.LogonStateNotLoggedOn, c.LogonState())

	assert.ErrorIs(t, c.LogOn(ctx, 0), core.ErrInvalidSteamID)
	require.NoError(t, c.LogOn(ctx, alice))
	assert.True(t, c.LoggedOn())
	assert.True(t, c.Connected())
	assert.Equal(t, alice, c.SteamID())
	assert.Equal(t, core.LogonStateLoggedOn, c.LogonState())
	require.Len(t, rec.of(core.CallbackSteamServersConnected), 1)

	require.NoError(t, c.LogOff(ctx))
	assert.False(t, c.LoggedOn())
	disc := rec.of(core.CallbackSteamServersDisconnected)
	require.Len(t, disc, 1)
	assert.Equal(t, core.ResultOK, disc[0].Param.(core.SteamServersDisconnected).Result)
	assert.ErrorIs(t, c.LogOff(ctx), core.ErrNotLoggedOn)
}

func TestLogOnUnavailable(t *testing.T) {
	p, _ := newTestPlatform(t)
	rec := record(p)
	ctx := context.Background()
	p.SetAvailable(ctx, false)
	c, err := p.Connect(testGame)
	require.NoError(t, err)
	assert.ErrorIs(t, c.LogOn(ctx, alice), core.ErrServiceUnavailable)
	assert.Equal(t, core.LogonStateNotLoggedOn, c.LogonState())
	fail := rec.of(core.CallbackSteamServerConnectFailure)
	require.Len(t, fail, 1)
	assert.Equal(t, core.ResultServiceUnavailable, fail[0].Param.(core.SteamServerConnectFailure).Result)
}

func TestLogOnBanned(t *testing.T) {
	p, _ := newTestPlatform(t)
	rec := record(p)
	ctx := context.Background()
	require.NoError(t, p.BanAccount(ctx, alice, 0))
	c, err := p.Connect(testGame)
	require.NoError(t, err)
	assert.ErrorIs(t, c.LogOn(ctx, alice), core.ErrBanned)
	fail := rec.of(core.CallbackSteamServerConnectFailure)
	require.Len(t, fail, 1)
	assert.Equal(t, core.ResultBanned, fail[0].Param.(core.SteamServerConnectFailure).Result)
}

func TestLogOnReplacesSession(t *testing.T) {
	p, _ := newTestPlatform(t)
	rec := record(p)
	first := logOn(t, p, alice)
	second := logOn(t, p, alice)
	assert.False(t, first.LoggedOn())
	assert.True(t, second.LoggedOn())
	disc := rec.of(core.CallbackSteamServersDisconnected)
	require.Len(t, disc, 1)
	assert.Equal(t, first.HSteamUser(), disc[0].User)
	assert.Equal(t, core.ResultLogonSessionReplaced, disc[0].Param.(core.SteamServersDisconnected).Result)
}

func TestClosedClientCannotLogOn(t *testing.T) {
	p, _ := newTestPlatform(t)
	rec := record(p)
	ctx := context.Background()
	c, err := p.Connect(testGame)
	require.NoError(t, err)
	c.Close(ctx)
	assert.ErrorIs(t, c.LogOn(ctx, alice), core.ErrClosed)
	assert.False(t, c.LoggedOn())

	other := logOn(t, p, alice)
	assert.True(t, other.LoggedOn())
	assert.Empty(t, rec.of(core.CallbackSteamServersDisconnected), "a closed client never held the session")
}

func TestSetAvailable(t *testing.T) {
	p, _ := newTestPlatform(t)
	rec := record(p)
	ctx := context.Background()
	c := logOn(t, p, alice)

	p.SetAvailable(ctx, false)
	assert.False(t, c.Connected())
	assert.False(t, c.LoggedOn())
	disc := rec.of(core.CallbackSteamServersDisconnected)
	require.Len(t, disc, 1)
	assert.Equal(t, core.ResultNoConnection, disc[0].Param.(core.SteamServersDisconnected).Result)
	assert.ErrorIs(t, c.RequestCurrentStats(ctx), core.ErrNotLoggedOn)

	p.SetAvailable(ctx, true)
	assert.True(t, c.Connected())
	assert.True(t, c.LoggedOn())
	assert.Equal(t, alice, c.SteamID())
	assert.Len(t, rec.of(core.CallbackSteamServersConnected), 2)
}

func TestRegistry(t *testing.T) {
	p, _ := newTestPlatform(t)
	ctx := context.Background()
	c, err := p.Connect(testGame)
	require.NoError(t, err)
	assert.ErrorIs(t, c.SetRegistryString(ctx, core.ConfigSubTreeApp, "k", "v"), core.ErrNotLoggedOn)
	require.NoError(t, c.LogOn(ctx, alice))

	require.NoError(t, c.SetRegistryString(ctx, core.ConfigSubTreeApp, "name", "alice"))
	v, err := c.GetRegistryString(ctx, core.ConfigSubTreeApp, "name")
	require.NoError(t, err)
	assert.Equal(t, "alice", v)

	require.NoError(t, c.SetRegistryInt(ctx, core.ConfigSubTreeNetwork, "rate", 20000))
	n, err := c.GetRegistryInt(ctx, core.ConfigSubTreeNetwork, "rate")
	require.NoError(t, err)
	assert.Equal(t, 20000, n)

	_, err = c.GetRegistryInt(ctx, core.ConfigSubTreeApp, "name")
	assert.ErrorIs(t, err, core.ErrInvalidParam)
	_, err = c.GetRegistryString(ctx, core.ConfigSubTreeSystem, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, c.SetRegistryString(ctx, core.ConfigSubTree(9), "k", "v"), core.ErrInvalidParam)
}

func TestGameConnectionTicket(t *testing.T) {
	now := time.Unix(1700000000, 0)
	p, _ := newTestPlatform(t, WithClock(func() time.Time { return now }), WithTicketTTL(time.Minute))
	ctx := context.Background()
	c := logOn(t, p, alice)
	server := core.NewSteamID(90, core.UniversePublic, core.AccountTypeGameServer)

	_, err := c.InitiateGameConnection(ctx, 16, server, testGame, 0x7F000001, 27015, true)
	assert.ErrorIs(t, err, core.ErrBufferTooSmall)

	blob, err := c.InitiateGameConnection(ctx, core.AuthBlobRecommendedSize, server, testGame, 0x7F000001, 27015, true)
	require.NoError(t, err)
	assert.Len(t, blob, TicketSize)

	claims, err := p.ValidateTicket(blob)
	require.NoError(t, err)
	assert.Equal(t, alice, claims.SteamID)
	assert.Equal(t, server, claims.Server)
	assert.Equal(t, testGame, claims.Game)
	assert.Equal(t, uint16(27015), claims.Port)
	assert.True(t, claims.Secure)

	tampered := append([]byte(nil), blob...)
	tampered[5] ^= 0xFF
	_, err = p.ValidateTicket(tampered)
	assert.ErrorIs(t, err, core.ErrInvalidTicket)

	other, err := NewPlatform(mem.New(), WithTicketSecret([]byte("another-secret")))
	require.NoError(t, err)
	_, err = other.ValidateTicket(blob)
	assert.ErrorIs(t, err, core.ErrInvalidTicket)

	now = now.Add(2 * time.Minute)
	_, err = p.ValidateTicket(blob)
	assert.ErrorIs(t, err, core.ErrInvalidTicket, "expired")

	require.NoError(t, c.TerminateGameConnection(ctx, 0x7F000001, 27015))
	assert.ErrorIs(t, c.TerminateGameConnection(ctx, 0x7F000001, 27015), core.ErrNotFound)
}

func TestGameServerDeny(t *testing.T) {
	p, _ := newTestPlatform(t)
	rec := record(p)
	ctx := context.Background()
	c := logOn(t, p, alice)
	p.DenyGameServer(0x0A000001, 27016, 4)
	blob, err := c.InitiateGameConnection(ctx, core.AuthBlobRecommendedSize, 0, testGame, 0x0A000001, 27016, false)
	require.NoError(t, err)
	assert.NotEmpty(t, blob)
	deny := rec.of(core.CallbackClientGameServerDeny)
	require.Len(t, deny, 1)
	assert.Equal(t, core.ClientGameServerDeny{AppID: 480, GameServerIP: 0x0A000001, GameServerPort: 27016, Reason: 4}, deny[0].Param)
}

func TestVACBans(t *testing.T) {
	p, _ := newTestPlatform(t)
	ctx := context.Background()
	c := logOn(t, p, alice)
	banned, err := c.IsVACBanned(ctx, testGame)
	require.NoError(t, err)
	assert.False(t, banned)

	require.NoError(t, p.BanAccount(ctx, alice, 480))
	banned, err = c.IsVACBanned(ctx, testGame)
	require.NoError(t, err)
	assert.True(t, banned)

	show, err := c.RequireShowVACBannedMessage(ctx, 480)
	require.NoError(t, err)
	assert.True(t, show)
	require.NoError(t, c.AcknowledgeVACBanning(ctx, 480))
	show, err = c.RequireShowVACBannedMessage(ctx, 480)
	require.NoError(t, err)
	assert.False(t, show)
}

func TestLegacyAccountSettings(t *testing.T) {
	p, _ := newTestPlatform(t)
	ctx := context.Background()
	c := logOn(t, p, alice)
	require.NoError(t, c.SetEmail(ctx, "alice@example.com"))
	assert.ErrorIs(t, c.SetEmail(ctx, "not an email"), core.ErrInvalidParam)
	require.NoError(t, c.SetLanguage(ctx, "english"))
	v, err := c.GetRegistryString(ctx, core.ConfigSubTreeSystem, "language")
	require.NoError(t, err)
	assert.Equal(t, "english", v)

	assert.False(t, c.IsPrimaryChatDestination())
	c.SetSelfAsPrimaryChatDestination()
	assert.True(t, c.IsPrimaryChatDestination())

	require.NoError(t, c.TrackAppUsageEvent(ctx, testGame, 3, "level 2"))
	events := c.UsageEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "level 2", events[0].Extra)
}

func TestPlatformCloseRejectsWork(t *testing.T) {
	store := mem.New()
	p, err := NewPlatform(store, WithSchemas(testSchema()))
	require.NoError(t, err)
	c, err := p.Connect(testGame)
	require.NoError(t, err)
	require.NoError(t, c.LogOn(context.Background(), alice))
	p.Close()
	assert.ErrorIs(t, c.RequestCurrentStats(context.Background()), core.ErrClosed)
	_, err = p.Connect(testGame)
	assert.ErrorIs(t, err, core.ErrClosed)
}

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"steamkit/core"
	"steamkit/leaderboard"
)

// UsageEvent is one TrackAppUsageEvent record.
type UsageEvent struct {
	Game  core.GameID `json:"game_id"`
	Event int         `json:"event"`
	Extra string      `json:"extra,omitempty"`
	At    time.Time   `json:"at"`
}

type gameConn struct {
	server core.SteamID
	game   core.GameID
	secure bool
}

type statsCache struct {
	snap core.StatsSnapshot
	// stored holds the achievements already announced by a load or a queued store.
	stored map[string]bool
	dirty  bool
	// edits counts mutations; a store only clears dirty when none happened since it was queued.
	edits uint64
}

func (s *statsCache) touch() {
	s.dirty = true
	s.edits++
}

type boardMeta struct {
	info  core.LeaderboardInfo
	count int
}

type downloaded struct {
	board  core.LeaderboardHandle
	rows   []leaderboard.Ranked
	read   []bool
	unread int
}

// Client is one game instance's connection to the platform. It implements
// LegacyUser and UserStats; User and UserStats hand out version-checked views.
type Client struct {
	p    *Platform
	h    core.HUser
	game core.GameID

	mu          sync.Mutex
	state       core.LogonState
	steamID     core.SteamID
	connected   bool
	suspended   bool
	conns       map[serverAddr]gameConn
	netAddrs    []serverAddr
	usage       []UsageEvent
	primaryChat bool
	closed      bool
	// storeSeq numbers queued stores; guarded by mu.
	storeSeq uint64

	// storeMu serializes SaveStats per client; savedSeq is the newest committed store.
	storeMu  sync.Mutex
	savedSeq uint64

	stats   *statsCache
	others  map[core.SteamID]core.StatsSnapshot
	boards  map[core.LeaderboardHandle]boardMeta
	entries map[core.LeaderboardEntriesHandle]*downloaded
}

func newClient(p *Platform, h core.HUser, game core.GameID) *Client {
	return &Client{
		p:       p,
		h:       h,
		game:    game,
		conns:   make(map[serverAddr]gameConn),
		others:  make(map[core.SteamID]core.StatsSnapshot),
		boards:  make(map[core.LeaderboardHandle]boardMeta),
		entries: make(map[core.LeaderboardEntriesHandle]*downloaded),
	}
}

// user006 hides the legacy members from SteamUser006 consumers.
type user006 struct{ User }

// User returns the account interface for version, or core.ErrVersionMismatch.
// The SteamUser005 view also satisfies LegacyUser.
func (c *Client) User(version string) (User, error) {
	switch version {
	case core.UserInterfaceVersion006:
		return user006{c}, nil
	case core.UserInterfaceVersion005:
		return c, nil
	}
	return nil, fmt.Errorf("user interface %q: %w", version, core.ErrVersionMismatch)
}

// UserStats returns the stats interface for version, or core.ErrVersionMismatch.
func (c *Client) UserStats(version string) (UserStats, error) {
	if version != core.UserStatsInterfaceVersion {
		return nil, fmt.Errorf("user stats interface %q: %w", version, core.ErrVersionMismatch)
	}
	return c, nil
}

func (c *Client) Game() core.GameID { return c.game }

// Close logs the client off and releases its handle and pending calls.
func (c *Client) Close(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.dropSession(ctx, core.ResultOK)
	c.p.removeClient(c.h)
	c.p.logger.Debug("client closed", zap.Int32("huser", int32(c.h)))
}

// requireLogon returns the logged on account. Callers hold c.mu.
func (c *Client) requireLogon() (core.SteamID, error) {
	if c.state != core.LogonStateLoggedOn {
		return 0, core.ErrNotLoggedOn
	}
	return c.steamID, nil
}

func (c *Client) loggedOnID() (core.SteamID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requireLogon()
}

// dropSession ends the session, if any, and posts SteamServersDisconnected with reason.
func (c *Client) dropSession(ctx context.Context, reason core.Result) bool {
	c.mu.Lock()
	if c.state != core.LogonStateLoggedOn && !c.suspended {
		c.mu.Unlock()
		return false
	}
	id := c.steamID
	c.state = core.LogonStateNotLoggedOn
	c.steamID = 0
	c.connected = false
	c.suspended = false
	c.conns = make(map[serverAddr]gameConn)
	c.stats = nil
	c.others = make(map[core.SteamID]core.StatsSnapshot)
	c.mu.Unlock()

	c.p.releaseSession(id, c.h)
	c.p.logger.Info("logged off", zap.Int32("huser", int32(c.h)), zap.Stringer("steam_id", id), zap.Stringer("reason", reason))
	c.p.post(ctx, c.h, core.SteamServersDisconnected{Result: reason})
	return true
}

func (c *Client) suspend(ctx context.Context) {
	c.mu.Lock()
	if c.state != core.LogonStateLoggedOn {
		c.mu.Unlock()
		return
	}
	c.state = core.LogonStateNotLoggedOn
	c.connected = false
	c.suspended = true
	c.mu.Unlock()
	c.p.post(ctx, c.h, core.SteamServersDisconnected{Result: core.ResultNoConnection})
}

func (c *Client) resume(ctx context.Context) {
	c.mu.Lock()
	if !c.suspended {
		c.mu.Unlock()
		return
	}
	c.state = core.LogonStateLoggedOn
	c.connected = true
	c.suspended = false
	c.mu.Unlock()
	c.p.post(ctx, c.h, core.SteamServersConnected{})
}

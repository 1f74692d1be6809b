package engine

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"steamkit/core"
)

// Registry keys the legacy interface keeps in the system sub-tree.
const (
	registryEmail    = "email"
	registryLanguage = "language"
	registryVACAck   = "vac_ack_"
)

func (c *Client) HSteamUser() core.HUser { return c.h }

// LogOn starts a session for id. Failures are reported both as an error and
// as a SteamServerConnectFailure callback.
func (c *Client) LogOn(ctx context.Context, id core.SteamID) error {
	if !id.IsValid() {
		return fmt.Errorf("logon %d: %w", id, core.ErrInvalidSteamID)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return core.ErrClosed
	}
	current, loggedOn := c.steamID, c.state == core.LogonStateLoggedOn || c.suspended
	c.mu.Unlock()
	if loggedOn && current == id {
		return nil
	}
	if loggedOn {
		c.dropSession(ctx, core.ResultOK)
	}

	c.setState(core.LogonStateLoggingOn)
	fail := func(res core.Result, err error) error {
		c.setState(core.LogonStateNotLoggedOn)
		c.p.logger.Warn("logon failed", zap.Int32("huser", int32(c.h)), zap.Stringer("steam_id", id), zap.Error(err))
		c.p.post(ctx, c.h, core.SteamServerConnectFailure{Result: res})
		return err
	}
	if !c.p.Available() {
		return fail(core.ResultServiceUnavailable, core.ErrServiceUnavailable)
	}
	bans, err := c.p.store.GetBans(ctx, id)
	if err != nil {
		return fail(core.ResultConnectFailed, fmt.Errorf("load bans: %w", err))
	}
	if slices.Contains(bans, 0) {
		return fail(core.ResultBanned, core.ErrBanned)
	}

	if prev := c.p.claimSession(id, c.h); prev != nil {
		prev.dropSession(ctx, core.ResultLogonSessionReplaced)
	}
	c.mu.Lock()
	if c.closed {
		c.state = core.LogonStateNotLoggedOn
		c.mu.Unlock()
		c.p.releaseSession(id, c.h)
		return core.ErrClosed
	}
	c.state = core.LogonStateLoggedOn
	c.steamID = id
	c.connected = true
	c.mu.Unlock()
	c.p.logger.Info("logged on", zap.Int32("huser", int32(c.h)), zap.Stringer("steam_id", id), zap.Stringer("game", c.game))
	c.p.post(ctx, c.h, core.SteamServersConnected{})
	return nil
}

func (c *Client) setState(s core.LogonState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// LogOff ends the session and posts SteamServersDisconnected.
func (c *Client) LogOff(ctx context.Context) error {
	if !c.dropSession(ctx, core.ResultOK) {
		return core.ErrNotLoggedOn
	}
	return nil
}

func (c *Client) LoggedOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == core.LogonStateLoggedOn
}

func (c *Client) SteamID() core.SteamID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.steamID
}

func (c *Client) LogonState() core.LogonState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) SetRegistryString(ctx context.Context, tree core.ConfigSubTree, key, value string) error {
	id, err := c.registryTarget(tree, key)
	if err != nil {
		return err
	}
	return c.p.store.SetRegistry(ctx, id, tree, key, value)
}

func (c *Client) GetRegistryString(ctx context.Context, tree core.ConfigSubTree, key string) (string, error) {
	id, err := c.registryTarget(tree, key)
	if err != nil {
		return "", err
	}
	return c.p.store.GetRegistry(ctx, id, tree, key)
}

func (c *Client) SetRegistryInt(ctx context.Context, tree core.ConfigSubTree, key string, value int) error {
	return c.SetRegistryString(ctx, tree, key, strconv.Itoa(value))
}

func (c *Client) GetRegistryInt(ctx context.Context, tree core.ConfigSubTree, key string) (int, error) {
	s, err := c.GetRegistryString(ctx, tree, key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("registry %s/%s is not an integer: %w", tree, key, core.ErrInvalidParam)
	}
	return v, nil
}

func (c *Client) registryTarget(tree core.ConfigSubTree, key string) (core.SteamID, error) {
	if !tree.Valid() {
		return 0, fmt.Errorf("registry subtree %d: %w", tree, core.ErrInvalidParam)
	}
	if strings.TrimSpace(key) == "" {
		return 0, fmt.Errorf("empty registry key: %w", core.ErrInvalidParam)
	}
	return c.loggedOnID()
}

// InitiateGameConnection signs an auth ticket for a game server. When the server
// has been denied, the ticket is still returned and ClientGameServerDeny is posted.
func (c *Client) InitiateGameConnection(ctx context.Context, maxBlob int, server core.SteamID, game core.GameID, ip uint32, port uint16, secure bool) ([]byte, error) {
	if maxBlob < TicketSize {
		return nil, fmt.Errorf("auth blob needs %d bytes, got %d: %w", TicketSize, maxBlob, core.ErrBufferTooSmall)
	}
	if !game.IsValid() {
		return nil, fmt.Errorf("game id %d: %w", game, core.ErrInvalidParam)
	}
	c.mu.Lock()
	id, err := c.requireLogon()
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.conns[serverAddr{ip: ip, port: port}] = gameConn{server: server, game: game, secure: secure}
	c.mu.Unlock()

	blob := c.p.signer.sign(TicketClaims{
		SteamID:  id,
		Server:   server,
		Game:     game,
		IP:       ip,
		Port:     port,
		Secure:   secure,
		IssuedAt: c.p.now(),
		Nonce:    uuid.New(),
	})
	if reason, denied := c.p.deniedReason(ip, port); denied {
		var sec uint16
		if secure {
			sec = 1
		}
		c.p.post(ctx, c.h, core.ClientGameServerDeny{
			AppID:          uint32(game.AppID()),
			GameServerIP:   ip,
			GameServerPort: port,
			Secure:         sec,
			Reason:         reason,
		})
	}
	return blob, nil
}

func (c *Client) TerminateGameConnection(ctx context.Context, ip uint32, port uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.requireLogon(); err != nil {
		return err
	}
	addr := serverAddr{ip: ip, port: port}
	if _, ok := c.conns[addr]; !ok {
		return fmt.Errorf("no game connection to %d:%d: %w", ip, port, core.ErrNotFound)
	}
	delete(c.conns, addr)
	return nil
}

func (c *Client) TrackAppUsageEvent(ctx context.Context, game core.GameID, event int, extra string) error {
	c.mu.Lock()
	id, err := c.requireLogon()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.usage = append(c.usage, UsageEvent{Game: game, Event: event, Extra: extra, At: c.p.now().UTC()})
	c.mu.Unlock()
	c.p.logger.Info("app usage event",
		zap.Stringer("steam_id", id),
		zap.Stringer("game", game),
		zap.Int("event", event),
		zap.String("extra", extra),
	)
	return nil
}

// UsageEvents returns the events tracked during this session.
func (c *Client) UsageEvents() []UsageEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.usage)
}

func (c *Client) bannedFrom(ctx context.Context, id core.SteamID, app core.AppID) (bool, error) {
	bans, err := c.p.store.GetBans(ctx, id)
	if err != nil {
		return false, err
	}
	return slices.Contains(bans, app), nil
}

func (c *Client) IsVACBanned(ctx context.Context, game core.GameID) (bool, error) {
	id, err := c.loggedOnID()
	if err != nil {
		return false, err
	}
	return c.bannedFrom(ctx, id, game.AppID())
}

// RequireShowVACBannedMessage is true for a banned app until the ban is acknowledged.
func (c *Client) RequireShowVACBannedMessage(ctx context.Context, app core.AppID) (bool, error) {
	id, err := c.loggedOnID()
	if err != nil {
		return false, err
	}
	banned, err := c.bannedFrom(ctx, id, app)
	if err != nil || !banned {
		return false, err
	}
	_, err = c.p.store.GetRegistry(ctx, id, core.ConfigSubTreeSystem, vacAckKey(app))
	if errors.Is(err, core.ErrNotFound) {
		return true, nil
	}
	return false, err
}

func (c *Client) AcknowledgeVACBanning(ctx context.Context, app core.AppID) error {
	id, err := c.loggedOnID()
	if err != nil {
		return err
	}
	return c.p.store.SetRegistry(ctx, id, core.ConfigSubTreeSystem, vacAckKey(app), "1")
}

func vacAckKey(app core.AppID) string {
	return registryVACAck + strconv.FormatUint(uint64(app), 10)
}

func (c *Client) SetEmail(ctx context.Context, email string) error {
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("email %q: %w", email, core.ErrInvalidParam)
	}
	return c.SetRegistryString(ctx, core.ConfigSubTreeSystem, registryEmail, email)
}

func (c *Client) SetLanguage(ctx context.Context, lang string) error {
	if strings.TrimSpace(lang) == "" {
		return fmt.Errorf("empty language: %w", core.ErrInvalidParam)
	}
	return c.SetRegistryString(ctx, core.ConfigSubTreeSystem, registryLanguage, lang)
}

func (c *Client) AddServerNetAddress(ip uint32, port uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.netAddrs = append(c.netAddrs, serverAddr{ip: ip, port: port})
}

func (c *Client) SetSelfAsPrimaryChatDestination() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.primaryChat = true
}

func (c *Client) IsPrimaryChatDestination() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primaryChat
}

var (
	_ LegacyUser = (*Client)(nil)
	_ UserStats  = (*Client)(nil)
)

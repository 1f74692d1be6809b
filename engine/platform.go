package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"steamkit/core"
	"steamkit/leaderboard"
)

type serverAddr struct {
	ip   uint32
	port uint16
}

type boardState struct {
	mu   sync.Mutex
	info core.LeaderboardInfo
	list *leaderboard.SkipList
}

// Platform is the back end behind every client: storage, callback dispatch,
// call results, ticket signing and per-game schemas.
type Platform struct {
	store  Storage
	bus    *Dispatcher
	ownBus bool
	calls  *CallResults
	logger *zap.Logger
	signer ticketSigner
	now    func() time.Time

	mu        sync.RWMutex
	available bool
	closed    bool
	nextUser  core.HUser
	clients   map[core.HUser]*Client
	sessions  map[core.SteamID]core.HUser
	schemas   map[core.GameID]core.Schema
	denied    map[serverAddr]uint32

	boardsMu sync.Mutex
	boards   map[core.LeaderboardHandle]*boardState

	nextEntries atomic.Uint64

	workers int
	sem     chan struct{}
	wg      sync.WaitGroup
}

type Option func(*Platform)

func WithLogger(l *zap.Logger) Option {
	return func(p *Platform) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithDispatcher shares bus with the platform. The caller keeps ownership.
func WithDispatcher(bus *Dispatcher) Option {
	return func(p *Platform) {
		if bus != nil {
			p.bus = bus
			p.ownBus = false
		}
	}
}

// WithTicketSecret sets the HMAC key for auth tickets. A random key is used otherwise.
func WithTicketSecret(secret []byte) Option {
	return func(p *Platform) {
		if len(secret) > 0 {
			p.signer.key = append([]byte(nil), secret...)
		}
	}
}

// WithTicketTTL makes ValidateTicket reject tickets older than ttl.
func WithTicketTTL(ttl time.Duration) Option {
	return func(p *Platform) { p.signer.ttl = ttl }
}

// WithWorkers bounds concurrent async operations. Zero runs them inline on the calling goroutine.
func WithWorkers(n int) Option {
	return func(p *Platform) {
		if n >= 0 {
			p.workers = n
		}
	}
}

func WithSchemas(schemas ...core.Schema) Option {
	return func(p *Platform) {
		for _, s := range schemas {
			p.schemas[s.Game] = s
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Platform) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPlatform(store Storage, opts ...Option) (*Platform, error) {
	if store == nil {
		return nil, errors.New("platform requires storage")
	}
	p := &Platform{
		store:     store,
		logger:    zap.NewNop(),
		now:       time.Now,
		available: true,
		clients:   make(map[core.HUser]*Client),
		sessions:  make(map[core.SteamID]core.HUser),
		schemas:   make(map[core.GameID]core.Schema),
		denied:    make(map[serverAddr]uint32),
		boards:    make(map[core.LeaderboardHandle]*boardState),
		workers:   8,
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, s := range p.schemas {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("schema for game %s: %w", s.Game, err)
		}
	}
	if p.bus == nil {
		p.bus = NewDispatcher(DispatchSync, WithDispatchLogger(p.logger))
		p.ownBus = true
	}
	if len(p.signer.key) == 0 {
		p.signer.key = make([]byte, 32)
		if _, err := rand.Read(p.signer.key); err != nil {
			return nil, fmt.Errorf("ticket key: %w", err)
		}
	}
	if p.workers > 0 {
		p.sem = make(chan struct{}, p.workers)
	}
	p.calls = NewCallResults(p.bus)
	return p, nil
}

func (p *Platform) Dispatcher() *Dispatcher { return p.bus }
func (p *Platform) Calls() *CallResults     { return p.calls }
func (p *Platform) Logger() *zap.Logger     { return p.logger }

// Subscribe convenience method.
func (p *Platform) Subscribe(callback int, handler func(context.Context, core.CallbackMsg)) func() {
	return p.bus.Subscribe(callback, handler)
}

func (p *Platform) SubscribeAll(handler func(context.Context, core.CallbackMsg)) func() {
	return p.bus.SubscribeAll(handler)
}

func (p *Platform) post(ctx context.Context, user core.HUser, rec core.Callback) {
	p.bus.Post(ctx, core.NewCallbackMsg(user, rec))
}

// async runs fn on a worker, or inline when the platform has no workers.
func (p *Platform) async(ctx context.Context, fn func(context.Context)) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return core.ErrClosed
	}
	p.wg.Add(1)
	p.mu.RUnlock()
	ctx = context.WithoutCancel(ctx)
	if p.sem == nil {
		defer p.wg.Done()
		fn(ctx)
		return nil
	}
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
		fn(ctx)
	}()
	return nil
}

// Connect opens a client for game and allocates its HUser.
func (p *Platform) Connect(game core.GameID) (*Client, error) {
	if !game.IsValid() {
		return nil, fmt.Errorf("game id %d: %w", game, core.ErrInvalidParam)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, core.ErrClosed
	}
	p.nextUser++
	c := newClient(p, p.nextUser, game)
	p.clients[c.h] = c
	p.logger.Debug("client connected", zap.Int32("huser", int32(c.h)), zap.Stringer("game", game))
	return c, nil
}

// Client returns an open client by handle.
func (p *Platform) Client(h core.HUser) (*Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.clients[h]
	return c, ok
}

func (p *Platform) removeClient(h core.HUser) {
	p.mu.Lock()
	delete(p.clients, h)
	p.mu.Unlock()
	p.calls.Drop(h)
}

// claimSession binds id to h and returns the handle that held it before, if any.
func (p *Platform) claimSession(id core.SteamID, h core.HUser) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev, ok := p.sessions[id]
	p.sessions[id] = h
	if !ok || prev == h {
		return nil
	}
	return p.clients[prev]
}

func (p *Platform) releaseSession(id core.SteamID, h core.HUser) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessions[id] == h {
		delete(p.sessions, id)
	}
}

func (p *Platform) Available() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.available
}

// SetAvailable takes the back end down or brings it back. Logged on sessions are
// disconnected, then logged back on when service returns.
func (p *Platform) SetAvailable(ctx context.Context, up bool) {
	p.mu.Lock()
	if p.available == up {
		p.mu.Unlock()
		return
	}
	p.available = up
	clients := make([]*Client, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.mu.Unlock()
	p.logger.Info("platform availability changed", zap.Bool("available", up), zap.Int("clients", len(clients)))
	for _, c := range clients {
		if up {
			c.resume(ctx)
		} else {
			c.suspend(ctx)
		}
	}
}

// DenyGameServer makes connections to ip:port report ClientGameServerDeny with reason.
func (p *Platform) DenyGameServer(ip uint32, port uint16, reason uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denied[serverAddr{ip: ip, port: port}] = reason
}

func (p *Platform) deniedReason(ip uint32, port uint16) (uint32, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.denied[serverAddr{ip: ip, port: port}]
	return r, ok
}

// BanAccount bans id from app. App zero bans the account platform-wide.
func (p *Platform) BanAccount(ctx context.Context, id core.SteamID, app core.AppID) error {
	if !id.IsValid() {
		return core.ErrInvalidSteamID
	}
	if err := p.store.PutBan(ctx, id, app); err != nil {
		return fmt.Errorf("ban %s: %w", id, err)
	}
	p.logger.Info("account banned", zap.Stringer("steam_id", id), zap.Uint32("app", uint32(app)))
	return nil
}

// SetFriends replaces the friend list of id.
func (p *Platform) SetFriends(ctx context.Context, id core.SteamID, friends ...core.SteamID) error {
	if !id.IsValid() {
		return core.ErrInvalidSteamID
	}
	for _, f := range friends {
		if !f.IsValid() {
			return fmt.Errorf("friend %d: %w", f, core.ErrInvalidSteamID)
		}
	}
	return p.store.SetFriends(ctx, id, friends)
}

// RegisterSchema installs or replaces the stats schema of a game.
func (p *Platform) RegisterSchema(s core.Schema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schemas[s.Game] = s
	return nil
}

// Schema returns the game's schema, or an empty one when none is registered.
func (p *Platform) Schema(game core.GameID) core.Schema {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if s, ok := p.schemas[game]; ok {
		return s
	}
	return core.Schema{Game: game}
}

// ValidateTicket verifies an auth ticket from InitiateGameConnection.
func (p *Platform) ValidateTicket(blob []byte) (TicketClaims, error) {
	return p.signer.verify(blob, p.now())
}

// board returns the ranked board for info, loading it from storage on first use.
func (p *Platform) board(ctx context.Context, info core.LeaderboardInfo) (*boardState, error) {
	p.boardsMu.Lock()
	defer p.boardsMu.Unlock()
	if b, ok := p.boards[info.Handle]; ok {
		return b, nil
	}
	recs, err := p.store.ListScores(ctx, info.Handle)
	if err != nil {
		return nil, fmt.Errorf("load leaderboard %d: %w", info.Handle, err)
	}
	b := &boardState{info: info, list: leaderboard.NewSkipList(info.Sort)}
	for _, r := range recs {
		b.list.Update(leaderboard.Entry{User: r.SteamID, Score: r.Score, Details: r.Details, UpdatedAt: r.UpdatedAt})
	}
	p.boards[info.Handle] = b
	return b, nil
}

// Close stops accepting async work, waits for in-flight work and stops the dispatcher.
func (p *Platform) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
	if p.ownBus {
		p.bus.Close()
	}
}

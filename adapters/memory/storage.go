package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"steamkit/core"
)

// Store is a concurrent in-memory Storage implementation.
type Store struct {
	accounts sync.Map // map[core.SteamID]*accountRecord
	stats    sync.Map // map[statsKey]core.StatsSnapshot

	lbMu       sync.RWMutex
	nextHandle core.LeaderboardHandle
	byName     map[boardKey]core.LeaderboardHandle
	boards     map[core.LeaderboardHandle]core.LeaderboardInfo
	scores     map[core.LeaderboardHandle]map[core.SteamID]core.ScoreRecord
}

type accountRecord struct {
	mu       sync.Mutex
	registry map[core.ConfigSubTree]map[string]string
	bans     []core.AppID
	friends  []core.SteamID
}

type statsKey struct {
	user core.SteamID
	game core.GameID
}

type boardKey struct {
	game core.GameID
	name string
}

func New() *Store {
	return &Store{
		byName: map[boardKey]core.LeaderboardHandle{},
		boards: map[core.LeaderboardHandle]core.LeaderboardInfo{},
		scores: map[core.LeaderboardHandle]map[core.SteamID]core.ScoreRecord{},
	}
}

func (s *Store) getOrCreate(user core.SteamID) *accountRecord {
	if v, ok := s.accounts.Load(user); ok {
		return v.(*accountRecord)
	}
	rec := &accountRecord{registry: map[core.ConfigSubTree]map[string]string{}}
	actual, _ := s.accounts.LoadOrStore(user, rec)
	return actual.(*accountRecord)
}

func (s *Store) GetRegistry(_ context.Context, user core.SteamID, tree core.ConfigSubTree, key string) (string, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	v, ok := rec.registry[tree][key]
	if !ok {
		return "", fmt.Errorf("registry %s/%s: %w", tree, key, core.ErrNotFound)
	}
	return v, nil
}

func (s *Store) SetRegistry(_ context.Context, user core.SteamID, tree core.ConfigSubTree, key, value string) error {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.registry[tree] == nil {
		rec.registry[tree] = map[string]string{}
	}
	rec.registry[tree][key] = value
	return nil
}

func (s *Store) GetBans(_ context.Context, user core.SteamID) ([]core.AppID, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return slices.Clone(rec.bans), nil
}

func (s *Store) PutBan(_ context.Context, user core.SteamID, app core.AppID) error {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !slices.Contains(rec.bans, app) {
		rec.bans = append(rec.bans, app)
	}
	return nil
}

func (s *Store) GetFriends(_ context.Context, user core.SteamID) ([]core.SteamID, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return slices.Clone(rec.friends), nil
}

func (s *Store) SetFriends(_ context.Context, user core.SteamID, friends []core.SteamID) error {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.friends = slices.Clone(friends)
	return nil
}

func (s *Store) LoadStats(_ context.Context, user core.SteamID, game core.GameID) (core.StatsSnapshot, error) {
	v, ok := s.stats.Load(statsKey{user: user, game: game})
	if !ok {
		return core.StatsSnapshot{}, fmt.Errorf("stats of %s in %s: %w", user, game, core.ErrNotFound)
	}
	return v.(core.StatsSnapshot).Clone(), nil
}

func (s *Store) SaveStats(_ context.Context, snap core.StatsSnapshot) error {
	s.stats.Store(statsKey{user: snap.SteamID, game: snap.Game}, snap.Clone())
	return nil
}

func (s *Store) FindLeaderboard(_ context.Context, game core.GameID, name string) (core.LeaderboardInfo, error) {
	s.lbMu.RLock()
	defer s.lbMu.RUnlock()
	h, ok := s.byName[boardKey{game: game, name: name}]
	if !ok {
		return core.LeaderboardInfo{}, fmt.Errorf("leaderboard %q: %w", name, core.ErrLeaderboardNotFound)
	}
	return s.boards[h], nil
}

func (s *Store) CreateLeaderboard(_ context.Context, info core.LeaderboardInfo) (core.LeaderboardInfo, error) {
	s.lbMu.Lock()
	defer s.lbMu.Unlock()
	key := boardKey{game: info.Game, name: info.Name}
	if h, ok := s.byName[key]; ok {
		return s.boards[h], nil
	}
	s.nextHandle++
	info.Handle = s.nextHandle
	s.byName[key] = info.Handle
	s.boards[info.Handle] = info
	s.scores[info.Handle] = map[core.SteamID]core.ScoreRecord{}
	return info, nil
}

func (s *Store) GetLeaderboard(_ context.Context, h core.LeaderboardHandle) (core.LeaderboardInfo, error) {
	s.lbMu.RLock()
	defer s.lbMu.RUnlock()
	info, ok := s.boards[h]
	if !ok {
		return core.LeaderboardInfo{}, fmt.Errorf("leaderboard %d: %w", h, core.ErrLeaderboardNotFound)
	}
	return info, nil
}

func (s *Store) PutScore(_ context.Context, h core.LeaderboardHandle, rec core.ScoreRecord) error {
	s.lbMu.Lock()
	defer s.lbMu.Unlock()
	entries, ok := s.scores[h]
	if !ok {
		return fmt.Errorf("leaderboard %d: %w", h, core.ErrLeaderboardNotFound)
	}
	rec.Details = slices.Clone(rec.Details)
	entries[rec.SteamID] = rec
	return nil
}

func (s *Store) ListScores(_ context.Context, h core.LeaderboardHandle) ([]core.ScoreRecord, error) {
	s.lbMu.RLock()
	defer s.lbMu.RUnlock()
	entries, ok := s.scores[h]
	if !ok {
		return nil, fmt.Errorf("leaderboard %d: %w", h, core.ErrLeaderboardNotFound)
	}
	out := make([]core.ScoreRecord, 0, len(entries))
	for _, r := range entries {
		r.Details = slices.Clone(r.Details)
		out = append(out, r)
	}
	return out, nil
}

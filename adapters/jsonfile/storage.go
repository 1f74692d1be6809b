package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"steamkit/core"
)

// Store persists entire state to a single JSON file.
// Suitable for demos and small deployments.
type Store struct {
	path string
	mu   sync.Mutex
	// in-memory cache for speed
	data document
}

type document struct {
	Accounts     map[core.SteamID]*account         `json:"accounts"`
	Stats        map[string]core.StatsSnapshot     `json:"stats"`
	Leaderboards map[core.LeaderboardHandle]*board `json:"leaderboards"`
	NextHandle   core.LeaderboardHandle            `json:"next_handle"`
}

type account struct {
	Registry map[core.ConfigSubTree]map[string]string `json:"registry,omitempty"`
	Bans     []core.AppID                             `json:"bans,omitempty"`
	Friends  []core.SteamID                           `json:"friends,omitempty"`
}

type board struct {
	Info   core.LeaderboardInfo              `json:"info"`
	Scores map[core.SteamID]core.ScoreRecord `json:"scores"`
}

func New(path string) (*Store, error) {
	s := &Store{path: path, data: document{
		Accounts:     map[core.SteamID]*account{},
		Stats:        map[string]core.StatsSnapshot{},
		Leaderboards: map[core.LeaderboardHandle]*board{},
	}}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}
	for k, v := range doc.Accounts {
		s.data.Accounts[k] = v
	}
	for k, v := range doc.Stats {
		s.data.Stats[k] = v
	}
	for k, v := range doc.Leaderboards {
		if v.Scores == nil {
			v.Scores = map[core.SteamID]core.ScoreRecord{}
		}
		s.data.Leaderboards[k] = v
	}
	s.data.NextHandle = doc.NextHandle
	return nil
}

func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) get(user core.SteamID) *account {
	if a, ok := s.data.Accounts[user]; ok {
		return a
	}
	a := &account{Registry: map[core.ConfigSubTree]map[string]string{}}
	s.data.Accounts[user] = a
	return a
}

func statsKey(user core.SteamID, game core.GameID) string {
	return user.String() + "/" + game.String()
}

func (s *Store) GetRegistry(_ context.Context, user core.SteamID, tree core.ConfigSubTree, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.data.Accounts[user]; ok {
		if v, ok := a.Registry[tree][key]; ok {
			return v, nil
		}
	}
	return "", fmt.Errorf("registry %s/%s: %w", tree, key, core.ErrNotFound)
}

func (s *Store) SetRegistry(_ context.Context, user core.SteamID, tree core.ConfigSubTree, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.get(user)
	if a.Registry == nil {
		a.Registry = map[core.ConfigSubTree]map[string]string{}
	}
	if a.Registry[tree] == nil {
		a.Registry[tree] = map[string]string{}
	}
	a.Registry[tree][key] = value
	return s.persist()
}

func (s *Store) GetBans(_ context.Context, user core.SteamID) ([]core.AppID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.data.Accounts[user]; ok {
		return slices.Clone(a.Bans), nil
	}
	return nil, nil
}

func (s *Store) PutBan(_ context.Context, user core.SteamID, app core.AppID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.get(user)
	if slices.Contains(a.Bans, app) {
		return nil
	}
	a.Bans = append(a.Bans, app)
	return s.persist()
}

func (s *Store) GetFriends(_ context.Context, user core.SteamID) ([]core.SteamID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.data.Accounts[user]; ok {
		return slices.Clone(a.Friends), nil
	}
	return nil, nil
}

func (s *Store) SetFriends(_ context.Context, user core.SteamID, friends []core.SteamID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(user).Friends = slices.Clone(friends)
	return s.persist()
}

func (s *Store) LoadStats(_ context.Context, user core.SteamID, game core.GameID) (core.StatsSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.data.Stats[statsKey(user, game)]
	if !ok {
		return core.StatsSnapshot{}, fmt.Errorf("stats of %s in %s: %w", user, game, core.ErrNotFound)
	}
	return snap.Clone(), nil
}

func (s *Store) SaveStats(_ context.Context, snap core.StatsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Stats[statsKey(snap.SteamID, snap.Game)] = snap.Clone()
	return s.persist()
}

func (s *Store) FindLeaderboard(_ context.Context, game core.GameID, name string) (core.LeaderboardInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.data.Leaderboards {
		if b.Info.Game == game && b.Info.Name == name {
			return b.Info, nil
		}
	}
	return core.LeaderboardInfo{}, fmt.Errorf("leaderboard %q: %w", name, core.ErrLeaderboardNotFound)
}

func (s *Store) CreateLeaderboard(_ context.Context, info core.LeaderboardInfo) (core.LeaderboardInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.data.Leaderboards {
		if b.Info.Game == info.Game && b.Info.Name == info.Name {
			return b.Info, nil
		}
	}
	s.data.NextHandle++
	info.Handle = s.data.NextHandle
	s.data.Leaderboards[info.Handle] = &board{Info: info, Scores: map[core.SteamID]core.ScoreRecord{}}
	if err := s.persist(); err != nil {
		return core.LeaderboardInfo{}, err
	}
	return info, nil
}

func (s *Store) GetLeaderboard(_ context.Context, h core.LeaderboardHandle) (core.LeaderboardInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data.Leaderboards[h]
	if !ok {
		return core.LeaderboardInfo{}, fmt.Errorf("leaderboard %d: %w", h, core.ErrLeaderboardNotFound)
	}
	return b.Info, nil
}

func (s *Store) PutScore(_ context.Context, h core.LeaderboardHandle, rec core.ScoreRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data.Leaderboards[h]
	if !ok {
		return fmt.Errorf("leaderboard %d: %w", h, core.ErrLeaderboardNotFound)
	}
	rec.Details = slices.Clone(rec.Details)
	b.Scores[rec.SteamID] = rec
	return s.persist()
}

func (s *Store) ListScores(_ context.Context, h core.LeaderboardHandle) ([]core.ScoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data.Leaderboards[h]
	if !ok {
		return nil, fmt.Errorf("leaderboard %d: %w", h, core.ErrLeaderboardNotFound)
	}
	out := make([]core.ScoreRecord, 0, len(b.Scores))
	for _, r := range b.Scores {
		r.Details = slices.Clone(r.Details)
		out = append(out, r)
	}
	return out, nil
}

package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StatType is the storage type of a stat.
type StatType int

const (
	StatTypeInt StatType = iota + 1
	StatTypeFloat
	// StatTypeAvgRate is a float stat fed by UpdateAvgRateStat.
	StatTypeAvgRate
)

func (t StatType) String() string {
	switch t {
	case StatTypeInt:
		return "int"
	case StatTypeFloat:
		return "float"
	case StatTypeAvgRate:
		return "avgrate"
	}
	return fmt.Sprintf("stattype(%d)", int(t))
}

// ParseStatType accepts the names returned by String.
func ParseStatType(s string) (StatType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int":
		return StatTypeInt, nil
	case "float":
		return StatTypeFloat, nil
	case "avgrate", "avg_rate":
		return StatTypeAvgRate, nil
	}
	return 0, fmt.Errorf("unknown stat type %q: %w", s, ErrInvalidParam)
}

func (t StatType) MarshalJSON() ([]byte, error) { return json.Marshal(t.String()) }

func (t *StatType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseStatType(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// StatDef declares one stat of a game.
type StatDef struct {
	Name          string   `json:"name"`
	Type          StatType `json:"type"`
	Default       float64  `json:"default"`
	Min           *float64 `json:"min,omitempty"`
	Max           *float64 `json:"max,omitempty"`
	IncrementOnly bool     `json:"increment_only,omitempty"`
	// Window bounds the seconds an avg-rate stat averages over. Zero means unbounded.
	Window float64 `json:"window,omitempty"`
}

// Check reports whether v may replace old.
func (d StatDef) Check(old, v float64) error {
	if d.Min != nil && v < *d.Min {
		return fmt.Errorf("stat %s: %v below minimum %v: %w", d.Name, v, *d.Min, ErrInvalidParam)
	}
	if d.Max != nil && v > *d.Max {
		return fmt.Errorf("stat %s: %v above maximum %v: %w", d.Name, v, *d.Max, ErrInvalidParam)
	}
	if d.IncrementOnly && v < old {
		return fmt.Errorf("stat %s is increment only: %w", d.Name, ErrInvalidParam)
	}
	return nil
}

// AchievementDef declares one achievement of a game.
type AchievementDef struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Hidden      bool   `json:"hidden,omitempty"`
	Icon        int    `json:"icon,omitempty"`
	IconLocked  int    `json:"icon_locked,omitempty"`
	Group       bool   `json:"group,omitempty"`
}

// DisplayAttribute returns the named display attribute, or "" for unknown keys.
func (d AchievementDef) DisplayAttribute(key string) string {
	switch key {
	case "name":
		return d.DisplayName
	case "desc":
		return d.Description
	case "hidden":
		if d.Hidden {
			return "1"
		}
		return "0"
	}
	return ""
}

// Schema lists the stats and achievements a game defines.
type Schema struct {
	Game         GameID           `json:"game_id"`
	Stats        []StatDef        `json:"stats"`
	Achievements []AchievementDef `json:"achievements"`
}

// Validate checks names and types and rejects duplicates.
func (s Schema) Validate() error {
	if !s.Game.IsValid() {
		return fmt.Errorf("schema game id %d: %w", s.Game, ErrInvalidParam)
	}
	seen := make(map[string]struct{}, len(s.Stats))
	for _, st := range s.Stats {
		if err := ValidateName(st.Name, StatNameMax); err != nil {
			return fmt.Errorf("stat %q: %w", st.Name, err)
		}
		if st.Type < StatTypeInt || st.Type > StatTypeAvgRate {
			return fmt.Errorf("stat %q type %d: %w", st.Name, st.Type, ErrInvalidParam)
		}
		if st.Min != nil && st.Max != nil && *st.Min > *st.Max {
			return fmt.Errorf("stat %q min above max: %w", st.Name, ErrInvalidParam)
		}
		if st.Window < 0 {
			return fmt.Errorf("stat %q negative window: %w", st.Name, ErrInvalidParam)
		}
		if _, dup := seen[st.Name]; dup {
			return fmt.Errorf("duplicate stat %q: %w", st.Name, ErrInvalidParam)
		}
		seen[st.Name] = struct{}{}
	}
	seen = make(map[string]struct{}, len(s.Achievements))
	for _, a := range s.Achievements {
		if err := ValidateName(a.Name, StatNameMax); err != nil {
			return fmt.Errorf("achievement %q: %w", a.Name, err)
		}
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("duplicate achievement %q: %w", a.Name, ErrInvalidParam)
		}
		seen[a.Name] = struct{}{}
	}
	return nil
}

func (s Schema) Stat(name string) (StatDef, bool) {
	for _, st := range s.Stats {
		if st.Name == name {
			return st, true
		}
	}
	return StatDef{}, false
}

func (s Schema) Achievement(name string) (AchievementDef, bool) {
	for _, a := range s.Achievements {
		if a.Name == name {
			return a, true
		}
	}
	return AchievementDef{}, false
}

// Defaults returns a snapshot holding every stat at its default and no achievements.
func (s Schema) Defaults(user SteamID) StatsSnapshot {
	snap := NewStatsSnapshot(user, s.Game)
	for _, st := range s.Stats {
		snap.Stats[st.Name] = st.Default
	}
	return snap
}

// DecodeSchemas parses a JSON array of schemas and validates each one.
func DecodeSchemas(data []byte) ([]Schema, error) {
	var out []Schema
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode schemas: %w", err)
	}
	for _, s := range out {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// AvgRate is the accumulated input of an avg-rate stat.
type AvgRate struct {
	Count   float64 `json:"count"`
	Seconds float64 `json:"seconds"`
}

// AchievementState is the unlock state of one achievement.
type AchievementState struct {
	Achieved   bool      `json:"achieved"`
	UnlockedAt time.Time `json:"unlocked_at,omitempty"`
}

// StatsSnapshot is the persisted stats of one account in one game.
type StatsSnapshot struct {
	SteamID      SteamID                     `json:"steam_id"`
	Game         GameID                      `json:"game_id"`
	Stats        map[string]float64          `json:"stats"`
	AvgRates     map[string]AvgRate          `json:"avg_rates,omitempty"`
	Achievements map[string]AchievementState `json:"achievements"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

func NewStatsSnapshot(user SteamID, game GameID) StatsSnapshot {
	return StatsSnapshot{
		SteamID:      user,
		Game:         game,
		Stats:        map[string]float64{},
		AvgRates:     map[string]AvgRate{},
		Achievements: map[string]AchievementState{},
	}
}

// Clone returns a deep copy.
func (s StatsSnapshot) Clone() StatsSnapshot {
	out := NewStatsSnapshot(s.SteamID, s.Game)
	out.UpdatedAt = s.UpdatedAt
	for k, v := range s.Stats {
		out.Stats[k] = v
	}
	for k, v := range s.AvgRates {
		out.AvgRates[k] = v
	}
	for k, v := range s.Achievements {
		out.Achievements[k] = v
	}
	return out
}

// LeaderboardInfo is the stored metadata of a leaderboard.
type LeaderboardInfo struct {
	Handle  LeaderboardHandle      `json:"handle"`
	Game    GameID                 `json:"game_id"`
	Name    string                 `json:"name"`
	Sort    LeaderboardSortMethod  `json:"sort"`
	Display LeaderboardDisplayType `json:"display"`
}

// ScoreRecord is one account's entry on a leaderboard.
type ScoreRecord struct {
	SteamID   SteamID   `json:"steam_id"`
	Score     int32     `json:"score"`
	Details   []int32   `json:"details,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

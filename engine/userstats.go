package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"steamkit/core"
)

// RequestCurrentStats loads the logged on account's stats for the client's game
// and posts UserStatsReceived.
func (c *Client) RequestCurrentStats(ctx context.Context) error {
	id, err := c.loggedOnID()
	if err != nil {
		return err
	}
	return c.p.async(ctx, func(ctx context.Context) {
		schema := c.p.Schema(c.game)
		snap, err := c.loadSnapshot(ctx, schema, id)
		res := core.ResultFromError(err)
		if err != nil {
			c.p.logger.Warn("load stats failed", zap.Stringer("steam_id", id), zap.Stringer("game", c.game), zap.Error(err))
		} else {
			c.mu.Lock()
			if c.steamID == id && c.state == core.LogonStateLoggedOn {
				stored := make(map[string]bool, len(snap.Achievements))
				for name, a := range snap.Achievements {
					stored[name] = a.Achieved
				}
				c.stats = &statsCache{snap: snap, stored: stored}
			} else {
				res = core.ResultNotLoggedOn
			}
			c.mu.Unlock()
		}
		c.p.post(ctx, c.h, core.UserStatsReceived{GameID: c.game, Result: res, SteamIDUser: id})
	})
}

// loadSnapshot returns stored stats filled up with schema defaults. Accounts
// that never stored stats get the defaults.
func (c *Client) loadSnapshot(ctx context.Context, schema core.Schema, id core.SteamID) (core.StatsSnapshot, error) {
	snap, err := c.p.store.LoadStats(ctx, id, c.game)
	if errors.Is(err, core.ErrNotFound) {
		return schema.Defaults(id), nil
	}
	if err != nil {
		return core.StatsSnapshot{}, err
	}
	fillSnapshot(&snap, schema, id, c.game)
	return snap, nil
}

func fillSnapshot(snap *core.StatsSnapshot, schema core.Schema, id core.SteamID, game core.GameID) {
	snap.SteamID, snap.Game = id, game
	if snap.Stats == nil {
		snap.Stats = map[string]float64{}
	}
	if snap.AvgRates == nil {
		snap.AvgRates = map[string]core.AvgRate{}
	}
	if snap.Achievements == nil {
		snap.Achievements = map[string]core.AchievementState{}
	}
	for _, st := range schema.Stats {
		if _, ok := snap.Stats[st.Name]; !ok {
			snap.Stats[st.Name] = st.Default
		}
	}
}

// statDef resolves name against the schema and checks its type. Callers hold c.mu.
func (c *Client) statDef(name string, types ...core.StatType) (core.StatDef, error) {
	if err := core.ValidateName(name, core.StatNameMax); err != nil {
		return core.StatDef{}, err
	}
	if c.stats == nil {
		return core.StatDef{}, core.ErrNoStats
	}
	def, ok := c.p.Schema(c.game).Stat(name)
	if !ok {
		return core.StatDef{}, fmt.Errorf("stat %q: %w", name, core.ErrStatNotFound)
	}
	for _, t := range types {
		if def.Type == t {
			return def, nil
		}
	}
	return core.StatDef{}, fmt.Errorf("stat %q is %s: %w", name, def.Type, core.ErrWrongStatType)
}

func (c *Client) GetStatInt32(name string) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.statDef(name, core.StatTypeInt); err != nil {
		return 0, err
	}
	return int32(c.stats.snap.Stats[name]), nil
}

func (c *Client) GetStatFloat32(name string) (float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.statDef(name, core.StatTypeFloat, core.StatTypeAvgRate); err != nil {
		return 0, err
	}
	return float32(c.stats.snap.Stats[name]), nil
}

func (c *Client) SetStatInt32(name string, value int32) error {
	return c.setStat(name, float64(value), core.StatTypeInt)
}

func (c *Client) SetStatFloat32(name string, value float32) error {
	if math.IsNaN(float64(value)) || math.IsInf(float64(value), 0) {
		return fmt.Errorf("stat %q value %v: %w", name, value, core.ErrInvalidParam)
	}
	return c.setStat(name, float64(value), core.StatTypeFloat)
}

func (c *Client) setStat(name string, v float64, typ core.StatType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	def, err := c.statDef(name, typ)
	if err != nil {
		return err
	}
	if err := def.Check(c.stats.snap.Stats[name], v); err != nil {
		return err
	}
	c.stats.snap.Stats[name] = v
	c.stats.touch()
	return nil
}

// UpdateAvgRateStat folds one session into an avg-rate stat. The stat's value is
// total count over total seconds; past the stat's window both are scaled down
// so the window bounds the seconds averaged over.
func (c *Client) UpdateAvgRateStat(name string, countThisSession float32, sessionLength float64) error {
	if sessionLength <= 0 || math.IsNaN(sessionLength) || math.IsInf(sessionLength, 0) {
		return fmt.Errorf("session length %v: %w", sessionLength, core.ErrInvalidParam)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	def, err := c.statDef(name, core.StatTypeAvgRate)
	if err != nil {
		return err
	}
	acc := c.stats.snap.AvgRates[name]
	acc.Count += float64(countThisSession)
	acc.Seconds += sessionLength
	if def.Window > 0 && acc.Seconds > def.Window {
		scale := def.Window / acc.Seconds
		acc.Count *= scale
		acc.Seconds = def.Window
	}
	v := acc.Count / acc.Seconds
	if err := def.Check(c.stats.snap.Stats[name], v); err != nil {
		return err
	}
	c.stats.snap.AvgRates[name] = acc
	c.stats.snap.Stats[name] = v
	c.stats.touch()
	return nil
}

// achievementDef resolves name against the schema. Callers hold c.mu.
func (c *Client) achievementDef(name string) (core.AchievementDef, error) {
	if err := core.ValidateName(name, core.StatNameMax); err != nil {
		return core.AchievementDef{}, err
	}
	if c.stats == nil {
		return core.AchievementDef{}, core.ErrNoStats
	}
	def, ok := c.p.Schema(c.game).Achievement(name)
	if !ok {
		return core.AchievementDef{}, fmt.Errorf("achievement %q: %w", name, core.ErrAchievementNotFound)
	}
	return def, nil
}

func (c *Client) GetAchievement(name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.achievementDef(name); err != nil {
		return false, err
	}
	return c.stats.snap.Achievements[name].Achieved, nil
}

func (c *Client) SetAchievement(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.achievementDef(name); err != nil {
		return err
	}
	if c.stats.snap.Achievements[name].Achieved {
		return nil
	}
	c.stats.snap.Achievements[name] = core.AchievementState{Achieved: true, UnlockedAt: c.p.now().UTC()}
	c.stats.touch()
	return nil
}

func (c *Client) ClearAchievement(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.achievementDef(name); err != nil {
		return err
	}
	delete(c.stats.snap.Achievements, name)
	c.stats.touch()
	return nil
}

// StoreStats persists the cached stats and posts UserStatsStored, then one
// UserAchievementStored per achievement unlocked since the last store.
// Stores of one client commit in the order they were queued; a store that
// finds a newer one already committed skips its write.
func (c *Client) StoreStats(ctx context.Context) error {
	c.mu.Lock()
	if _, err := c.requireLogon(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.stats == nil {
		c.mu.Unlock()
		return core.ErrNoStats
	}
	cache := c.stats
	snap := cache.snap.Clone()
	snap.UpdatedAt = c.p.now().UTC()
	var unlocked []string
	for name, a := range snap.Achievements {
		if a.Achieved && !cache.stored[name] {
			unlocked = append(unlocked, name)
			cache.stored[name] = true
		}
	}
	for name := range cache.stored {
		if !snap.Achievements[name].Achieved {
			delete(cache.stored, name)
		}
	}
	c.storeSeq++
	seq, edits := c.storeSeq, cache.edits
	c.mu.Unlock()
	sort.Strings(unlocked)
	schema := c.p.Schema(c.game)

	err := c.p.async(ctx, func(ctx context.Context) {
		if err := c.commitStats(ctx, seq, snap); err != nil {
			c.p.logger.Warn("store stats failed", zap.Stringer("steam_id", snap.SteamID), zap.Stringer("game", c.game), zap.Error(err))
			c.forgetUnlocks(cache, unlocked)
			c.p.post(ctx, c.h, core.UserStatsStored{GameID: c.game, Result: core.ResultPersistFailed})
			return
		}
		c.mu.Lock()
		if c.stats == cache && cache.edits == edits {
			cache.dirty = false
		}
		c.mu.Unlock()
		c.p.post(ctx, c.h, core.UserStatsStored{GameID: c.game, Result: core.ResultOK})
		for _, name := range unlocked {
			def, _ := schema.Achievement(name)
			c.p.post(ctx, c.h, core.UserAchievementStored{GameID: c.game, GroupAchievement: def.Group, AchievementName: name})
		}
	})
	if err != nil {
		c.forgetUnlocks(cache, unlocked)
	}
	return err
}

// commitStats writes snap unless a store queued after it already committed.
func (c *Client) commitStats(ctx context.Context, seq uint64, snap core.StatsSnapshot) error {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	if seq < c.savedSeq {
		return nil
	}
	if err := c.p.store.SaveStats(ctx, snap); err != nil {
		return err
	}
	c.savedSeq = seq
	return nil
}

// forgetUnlocks makes a failed store's unlocks announceable again.
func (c *Client) forgetUnlocks(cache *statsCache, names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range names {
		delete(cache.stored, name)
	}
}

// GetAchievementIcon returns the unlocked or locked icon handle; zero when
// stats are not loaded or the achievement is unknown.
func (c *Client) GetAchievementIcon(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	def, err := c.achievementDef(name)
	if err != nil {
		return 0
	}
	if c.stats.snap.Achievements[name].Achieved {
		return def.Icon
	}
	return def.IconLocked
}

// GetAchievementDisplayAttribute returns "name", "desc" or "hidden" of an achievement.
func (c *Client) GetAchievementDisplayAttribute(name, key string) string {
	def, ok := c.p.Schema(c.game).Achievement(name)
	if !ok {
		return ""
	}
	return def.DisplayAttribute(key)
}

// IndicateAchievementProgress posts a progress notification without unlocking.
func (c *Client) IndicateAchievementProgress(name string, cur, max uint32) error {
	if max == 0 || cur > max {
		return fmt.Errorf("progress %d/%d: %w", cur, max, core.ErrInvalidParam)
	}
	c.mu.Lock()
	def, err := c.achievementDef(name)
	if err == nil && c.stats.snap.Achievements[name].Achieved {
		err = fmt.Errorf("achievement %q already unlocked: %w", name, core.ErrInvalidState)
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.p.post(context.Background(), c.h, core.UserAchievementStored{
		GameID:           c.game,
		GroupAchievement: def.Group,
		AchievementName:  name,
		CurProgress:      cur,
		MaxProgress:      max,
	})
	return nil
}

// RequestUserStats loads another account's stats for reading. The call result
// is UserStatsReceived, with ResultFail when the account has no stats.
func (c *Client) RequestUserStats(ctx context.Context, user core.SteamID) (core.APICall, error) {
	if !user.IsValid() {
		return core.InvalidAPICall, core.ErrInvalidSteamID
	}
	if _, err := c.loggedOnID(); err != nil {
		return core.InvalidAPICall, err
	}
	call := c.p.calls.Begin(c.h, core.CallbackUserStatsReceived)
	err := c.p.async(ctx, func(ctx context.Context) {
		res := core.ResultOK
		snap, err := c.p.store.LoadStats(ctx, user, c.game)
		switch {
		case errors.Is(err, core.ErrNotFound):
			res = core.ResultFail
		case err != nil:
			c.p.logger.Warn("load user stats failed", zap.Stringer("steam_id", user), zap.Error(err))
			res = core.ResultFromError(err)
		default:
			fillSnapshot(&snap, c.p.Schema(c.game), user, c.game)
			c.mu.Lock()
			c.others[user] = snap
			c.mu.Unlock()
		}
		_ = c.p.calls.Complete(ctx, call, core.UserStatsReceived{GameID: c.game, Result: res, SteamIDUser: user})
	})
	if err != nil {
		c.p.calls.Abandon(call)
		return core.InvalidAPICall, err
	}
	return call, nil
}

func (c *Client) userStat(user core.SteamID, name string, types ...core.StatType) (float64, error) {
	if err := core.ValidateName(name, core.StatNameMax); err != nil {
		return 0, err
	}
	c.mu.Lock()
	snap, ok := c.others[user]
	c.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("stats of %s: %w", user, core.ErrNoStats)
	}
	def, ok := c.p.Schema(c.game).Stat(name)
	if !ok {
		return 0, fmt.Errorf("stat %q: %w", name, core.ErrStatNotFound)
	}
	for _, t := range types {
		if def.Type == t {
			return snap.Stats[name], nil
		}
	}
	return 0, fmt.Errorf("stat %q is %s: %w", name, def.Type, core.ErrWrongStatType)
}

func (c *Client) GetUserStatInt32(user core.SteamID, name string) (int32, error) {
	v, err := c.userStat(user, name, core.StatTypeInt)
	return int32(v), err
}

func (c *Client) GetUserStatFloat32(user core.SteamID, name string) (float32, error) {
	v, err := c.userStat(user, name, core.StatTypeFloat, core.StatTypeAvgRate)
	return float32(v), err
}

func (c *Client) GetUserAchievement(user core.SteamID, name string) (bool, error) {
	if err := core.ValidateName(name, core.StatNameMax); err != nil {
		return false, err
	}
	c.mu.Lock()
	snap, ok := c.others[user]
	c.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("stats of %s: %w", user, core.ErrNoStats)
	}
	if _, ok := c.p.Schema(c.game).Achievement(name); !ok {
		return false, fmt.Errorf("achievement %q: %w", name, core.ErrAchievementNotFound)
	}
	return snap.Achievements[name].Achieved, nil
}

// ResetAllStats puts every stat back to its default, and clears achievements when
// asked. Nothing is persisted until StoreStats.
func (c *Client) ResetAllStats(ctx context.Context, achievementsToo bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, err := c.requireLogon()
	if err != nil {
		return err
	}
	if c.stats == nil {
		return core.ErrNoStats
	}
	fresh := c.p.Schema(c.game).Defaults(id)
	if !achievementsToo {
		fresh.Achievements = c.stats.snap.Achievements
	}
	c.stats.snap = fresh
	c.stats.touch()
	c.p.logger.Info("stats reset", zap.Stringer("steam_id", id), zap.Bool("achievements", achievementsToo))
	return nil
}

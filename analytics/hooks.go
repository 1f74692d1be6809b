package analytics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"steamkit/core"
)

// Hook receives callback messages for KPI aggregation. Its method has the
// dispatcher handler signature, so hooks attach with SubscribeAll(h.OnCallback).
type Hook interface {
	OnCallback(ctx context.Context, msg core.CallbackMsg)
}

// DAU tracks daily active sessions.
type DAU struct {
	mu   sync.Mutex
	days map[string]map[core.HUser]struct{}
}

func NewDAU() *DAU { return &DAU{days: map[string]map[core.HUser]struct{}{}} }

func (d *DAU) OnCallback(_ context.Context, msg core.CallbackMsg) {
	day := msg.Posted.UTC().Format("2006-01-02")
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.days[day]
	if m == nil {
		m = map[core.HUser]struct{}{}
		d.days[day] = m
	}
	m[msg.User] = struct{}{}
}

func (d *DAU) Count(day string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.days[day])
}

// Activity tracks platform activity per day, week and month.
type Activity struct {
	mu sync.RWMutex

	// Session engagement
	dailyActive   map[string]map[core.HUser]struct{}
	weeklyActive  map[string]map[core.HUser]struct{}
	monthlyActive map[string]map[core.HUser]struct{}

	logonsByDay          map[string]int64
	connectFailuresByDay map[string]int64

	// Stats
	statsStoredByDay   map[string]int64
	persistFailedByDay map[string]int64

	// Achievements
	achievementsByDay  map[string]int64
	achievementsByName map[string]int64
	achievementHolders map[string]map[core.HUser]struct{}

	// Leaderboards
	scoresUploadedByDay map[string]int64
	personalBestsByDay  map[string]int64

	failedCallsByDay map[string]int64
	callbacksByName  map[string]int64

	// Real-time counters (last 24 hours)
	realtime struct {
		achievements int64
		scores       int64
		logons       int64
		lastReset    time.Time
	}
}

func NewActivity() *Activity {
	a := &Activity{
		dailyActive:          make(map[string]map[core.HUser]struct{}),
		weeklyActive:         make(map[string]map[core.HUser]struct{}),
		monthlyActive:        make(map[string]map[core.HUser]struct{}),
		logonsByDay:          make(map[string]int64),
		connectFailuresByDay: make(map[string]int64),
		statsStoredByDay:     make(map[string]int64),
		persistFailedByDay:   make(map[string]int64),
		achievementsByDay:    make(map[string]int64),
		achievementsByName:   make(map[string]int64),
		achievementHolders:   make(map[string]map[core.HUser]struct{}),
		scoresUploadedByDay:  make(map[string]int64),
		personalBestsByDay:   make(map[string]int64),
		failedCallsByDay:     make(map[string]int64),
		callbacksByName:      make(map[string]int64),
	}
	a.realtime.lastReset = time.Now()
	return a
}

func (a *Activity) OnCallback(_ context.Context, msg core.CallbackMsg) {
	a.mu.Lock()
	defer a.mu.Unlock()

	at := msg.Posted.UTC()
	day := at.Format("2006-01-02")
	a.trackSession(msg.User, day, getWeekKey(at), getMonthKey(at))
	a.callbacksByName[msg.Name()]++

	if msg.Failed {
		a.failedCallsByDay[day]++
		return
	}

	switch p := msg.Param.(type) {
	case core.SteamServersConnected:
		a.logonsByDay[day]++
		a.realtime.logons++
	case core.SteamServerConnectFailure:
		a.connectFailuresByDay[day]++
	case core.UserStatsStored:
		if p.Result == core.ResultOK {
			a.statsStoredByDay[day]++
		} else {
			a.persistFailedByDay[day]++
		}
	case core.UserAchievementStored:
		if !p.Unlocked() {
			break
		}
		key := achievementKey(p.GameID, p.AchievementName)
		a.achievementsByDay[day]++
		a.achievementsByName[key]++
		if a.achievementHolders[key] == nil {
			a.achievementHolders[key] = make(map[core.HUser]struct{})
		}
		a.achievementHolders[key][msg.User] = struct{}{}
		a.realtime.achievements++
	case core.LeaderboardScoreUploaded:
		if p.Success != 1 {
			break
		}
		a.scoresUploadedByDay[day]++
		if p.ScoreChanged == 1 {
			a.personalBestsByDay[day]++
		}
		a.realtime.scores++
	}

	// Reset realtime counters if needed (every 24 hours)
	if time.Since(a.realtime.lastReset) > 24*time.Hour {
		a.realtime.achievements = 0
		a.realtime.scores = 0
		a.realtime.logons = 0
		a.realtime.lastReset = time.Now()
	}
}

func (a *Activity) trackSession(user core.HUser, day, week, month string) {
	mark(a.dailyActive, day, user)
	mark(a.weeklyActive, week, user)
	mark(a.monthlyActive, month, user)
}

func mark(m map[string]map[core.HUser]struct{}, key string, user core.HUser) {
	if m[key] == nil {
		m[key] = make(map[core.HUser]struct{})
	}
	m[key][user] = struct{}{}
}

func achievementKey(game core.GameID, name string) string {
	return game.String() + "/" + name
}

// GetDailyActive returns the count of sessions active on a day ("2006-01-02").
func (a *Activity) GetDailyActive(day string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.dailyActive[day])
}

// GetWeeklyActive returns the count of sessions active in an ISO week ("2006-W01").
func (a *Activity) GetWeeklyActive(week string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.weeklyActive[week])
}

// GetMonthlyActive returns the count of sessions active in a month ("2006-01").
func (a *Activity) GetMonthlyActive(month string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.monthlyActive[month])
}

func (a *Activity) GetLogonsByDay(day string) int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.logonsByDay[day]
}

func (a *Activity) GetAchievementsByDay(day string) int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.achievementsByDay[day]
}

// GetAchievementUnlocks returns how often an achievement was unlocked.
func (a *Activity) GetAchievementUnlocks(game core.GameID, name string) int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.achievementsByName[achievementKey(game, name)]
}

// GetAchievementHolders returns the count of distinct sessions that unlocked an achievement.
func (a *Activity) GetAchievementHolders(game core.GameID, name string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.achievementHolders[achievementKey(game, name)])
}

func (a *Activity) GetScoresByDay(day string) int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.scoresUploadedByDay[day]
}

// dayTotals returns the per-day counters of one day.
func (a *Activity) dayTotals(day string) Totals {
	return Totals{
		Logons:          a.logonsByDay[day],
		ConnectFailures: a.connectFailuresByDay[day],
		StatsStored:     a.statsStoredByDay[day],
		PersistFailures: a.persistFailedByDay[day],
		Achievements:    a.achievementsByDay[day],
		ScoresUploaded:  a.scoresUploadedByDay[day],
		PersonalBests:   a.personalBestsByDay[day],
		FailedCalls:     a.failedCallsByDay[day],
	}
}

// GetRealtimeStats returns real-time statistics for the last 24 hours.
func (a *Activity) GetRealtimeStats() (achievements, scores, logons int64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.realtime.achievements, a.realtime.scores, a.realtime.logons
}

// TopAchievement is one row of GetTopAchievements.
type TopAchievement struct {
	Key     string `json:"key"`
	Unlocks int64  `json:"unlocks"`
}

// GetTopAchievements returns the most unlocked achievements, most first.
func (a *Activity) GetTopAchievements(limit int) []TopAchievement {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]TopAchievement, 0, len(a.achievementsByName))
	for k, v := range a.achievementsByName {
		out = append(out, TopAchievement{Key: k, Unlocks: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Unlocks != out[j].Unlocks {
			return out[i].Unlocks > out[j].Unlocks
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// CallbackCounts returns how many messages of each record name were seen.
func (a *Activity) CallbackCounts() map[string]int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]int64, len(a.callbacksByName))
	for k, v := range a.callbacksByName {
		out[k] = v
	}
	return out
}

// Helper functions
func getWeekKey(t time.Time) string {
	tt := t.UTC()
	year, week := tt.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func getMonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

package engine

import (
	"context"

	"steamkit/core"
)

// AccountStore persists account-level state: registry values, bans and friends.
type AccountStore interface {
	GetRegistry(ctx context.Context, user core.SteamID, tree core.ConfigSubTree, key string) (string, error)
	SetRegistry(ctx context.Context, user core.SteamID, tree core.ConfigSubTree, key, value string) error
	GetBans(ctx context.Context, user core.SteamID) ([]core.AppID, error)
	PutBan(ctx context.Context, user core.SteamID, app core.AppID) error
	GetFriends(ctx context.Context, user core.SteamID) ([]core.SteamID, error)
	SetFriends(ctx context.Context, user core.SteamID, friends []core.SteamID) error
}

// StatsStore persists per-game stats snapshots. LoadStats returns core.ErrNotFound
// when the account has never stored stats for the game.
type StatsStore interface {
	LoadStats(ctx context.Context, user core.SteamID, game core.GameID) (core.StatsSnapshot, error)
	SaveStats(ctx context.Context, snap core.StatsSnapshot) error
}

// LeaderboardStore persists leaderboards and their entries.
type LeaderboardStore interface {
	// FindLeaderboard returns core.ErrLeaderboardNotFound for unknown names.
	FindLeaderboard(ctx context.Context, game core.GameID, name string) (core.LeaderboardInfo, error)
	// CreateLeaderboard returns the existing board when the name is taken.
	CreateLeaderboard(ctx context.Context, info core.LeaderboardInfo) (core.LeaderboardInfo, error)
	GetLeaderboard(ctx context.Context, h core.LeaderboardHandle) (core.LeaderboardInfo, error)
	PutScore(ctx context.Context, h core.LeaderboardHandle, rec core.ScoreRecord) error
	ListScores(ctx context.Context, h core.LeaderboardHandle) ([]core.ScoreRecord, error)
}

// Storage abstracts persistence for the platform.
type Storage interface {
	AccountStore
	StatsStore
	LeaderboardStore
}

// User is the account and session interface, version SteamUser006.
type User interface {
	HSteamUser() core.HUser
	LogOn(ctx context.Context, steamID core.SteamID) error
	LogOff(ctx context.Context) error
	LoggedOn() bool
	SteamID() core.SteamID
	SetRegistryString(ctx context.Context, tree core.ConfigSubTree, key, value string) error
	GetRegistryString(ctx context.Context, tree core.ConfigSubTree, key string) (string, error)
	SetRegistryInt(ctx context.Context, tree core.ConfigSubTree, key string, value int) error
	GetRegistryInt(ctx context.Context, tree core.ConfigSubTree, key string) (int, error)
	// InitiateGameConnection returns a signed auth ticket no longer than maxBlob bytes.
	InitiateGameConnection(ctx context.Context, maxBlob int, server core.SteamID, game core.GameID, ip uint32, port uint16, secure bool) ([]byte, error)
	TerminateGameConnection(ctx context.Context, ip uint32, port uint16) error
	TrackAppUsageEvent(ctx context.Context, game core.GameID, event int, extra string) error
}

// LegacyUser adds the SteamUser005 members.
type LegacyUser interface {
	User
	LogonState() core.LogonState
	Connected() bool
	IsVACBanned(ctx context.Context, game core.GameID) (bool, error)
	RequireShowVACBannedMessage(ctx context.Context, app core.AppID) (bool, error)
	AcknowledgeVACBanning(ctx context.Context, app core.AppID) error
	SetEmail(ctx context.Context, email string) error
	SetLanguage(ctx context.Context, lang string) error
	AddServerNetAddress(ip uint32, port uint16)
	SetSelfAsPrimaryChatDestination()
	IsPrimaryChatDestination() bool
}

// UserStats is the stats, achievements and leaderboards interface,
// version STEAMUSERSTATS_INTERFACE_VERSION005. Async operations report through
// callbacks; those returning core.APICall report through call results.
type UserStats interface {
	RequestCurrentStats(ctx context.Context) error
	GetStatInt32(name string) (int32, error)
	GetStatFloat32(name string) (float32, error)
	SetStatInt32(name string, value int32) error
	SetStatFloat32(name string, value float32) error
	UpdateAvgRateStat(name string, countThisSession float32, sessionLength float64) error
	GetAchievement(name string) (bool, error)
	SetAchievement(name string) error
	ClearAchievement(name string) error
	StoreStats(ctx context.Context) error
	GetAchievementIcon(name string) int
	GetAchievementDisplayAttribute(name, key string) string
	IndicateAchievementProgress(name string, cur, max uint32) error
	RequestUserStats(ctx context.Context, user core.SteamID) (core.APICall, error)
	GetUserStatInt32(user core.SteamID, name string) (int32, error)
	GetUserStatFloat32(user core.SteamID, name string) (float32, error)
	GetUserAchievement(user core.SteamID, name string) (bool, error)
	ResetAllStats(ctx context.Context, achievementsToo bool) error

	FindOrCreateLeaderboard(ctx context.Context, name string, sort core.LeaderboardSortMethod, display core.LeaderboardDisplayType) (core.APICall, error)
	FindLeaderboard(ctx context.Context, name string) (core.APICall, error)
	GetLeaderboardName(h core.LeaderboardHandle) string
	GetLeaderboardEntryCount(h core.LeaderboardHandle) int
	GetLeaderboardSortMethod(h core.LeaderboardHandle) core.LeaderboardSortMethod
	GetLeaderboardDisplayType(h core.LeaderboardHandle) core.LeaderboardDisplayType
	DownloadLeaderboardEntries(ctx context.Context, h core.LeaderboardHandle, req core.LeaderboardDataRequest, start, end int) (core.APICall, error)
	GetDownloadedLeaderboardEntry(entries core.LeaderboardEntriesHandle, index, maxDetails int) (core.LeaderboardEntry, []int32, error)
	UploadLeaderboardScore(ctx context.Context, h core.LeaderboardHandle, score int32, details []int32) (core.APICall, error)
}

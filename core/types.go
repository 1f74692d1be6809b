package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Interface version literals. A client asking for any other literal cannot be served.
const (
	UserInterfaceVersion005   = "SteamUser005"
	UserInterfaceVersion006   = "SteamUser006"
	UserInterfaceVersion      = UserInterfaceVersion006
	UserStatsInterfaceVersion = "STEAMUSERSTATS_INTERFACE_VERSION005"
)

// Size limits shared by the stats and leaderboard interfaces.
const (
	// StatNameMax is the byte limit on a UTF-8 stat or achievement name.
	StatNameMax = 128
	// LeaderboardNameMax is the byte limit on a UTF-8 leaderboard name.
	LeaderboardNameMax = 128
	// LeaderboardDetailsMax is the number of int32 details storable per leaderboard entry.
	LeaderboardDetailsMax = 64
	// AuthBlobRecommendedSize is the buffer size callers should offer InitiateGameConnection.
	AuthBlobRecommendedSize = 2048
)

// HUser identifies one client instance's connection to the platform. Zero is invalid.
type HUser int32

// HSteamCall is the legacy reference used to filter call results.
type HSteamCall int32

// APICall correlates an asynchronous request with its completion record.
type APICall uint64

// InvalidAPICall is returned when an asynchronous request is rejected up front.
const InvalidAPICall APICall = 0

// LeaderboardHandle identifies a single leaderboard. Zero means "not found".
type LeaderboardHandle uint64

// LeaderboardEntriesHandle identifies one downloaded batch of leaderboard rows.
type LeaderboardEntriesHandle uint64

// AppID identifies an application.
type AppID uint32

// Universe is the top byte of a SteamID.
type Universe uint8

const (
	UniverseInvalid  Universe = 0
	UniversePublic   Universe = 1
	UniverseBeta     Universe = 2
	UniverseInternal Universe = 3
	UniverseDev      Universe = 4
)

// AccountType occupies four bits of a SteamID.
type AccountType uint8

const (
	AccountTypeInvalid        AccountType = 0
	AccountTypeIndividual     AccountType = 1
	AccountTypeMultiseat      AccountType = 2
	AccountTypeGameServer     AccountType = 3
	AccountTypeAnonGameServer AccountType = 4
	AccountTypePending        AccountType = 5
	AccountTypeContentServer  AccountType = 6
	AccountTypeClan           AccountType = 7
	AccountTypeChat           AccountType = 8
	AccountTypeAnonUser       AccountType = 10
)

// DesktopInstance is the instance used for individual accounts.
const DesktopInstance = 1

// SteamID is the 64-bit account identity.
// Layout: account id (bits 0-31), instance (32-51), account type (52-55), universe (56-63).
type SteamID uint64

// NewSteamID builds a SteamID on the desktop instance.
func NewSteamID(accountID uint32, universe Universe, typ AccountType) SteamID {
	return SteamID(uint64(accountID) |
		uint64(DesktopInstance)<<32 |
		uint64(typ&0xF)<<52 |
		uint64(universe)<<56)
}

func (id SteamID) AccountID() uint32 { return uint32(id) }
func (id SteamID) Instance() uint32 { return uint32(uint64(id)>>32) & 0xFFFFF }
func (id SteamID) AccountType() AccountType { return AccountType(uint64(id)>>52) & 0xF }
func (id SteamID) Universe() Universe { return Universe(uint64(id) >> 56) }

// IsValid reports whether the id names a real account.
func (id SteamID) IsValid() bool {
	if id.AccountID() == 0 {
		return false
	}
	switch id.AccountType() {
	case AccountTypeInvalid:
		return false
	case AccountTypeIndividual:
		if id.Instance() > 4 {
			return false
		}
	}
	u := id.Universe()
	return u > UniverseInvalid && u <= UniverseDev
}

func (id SteamID) String() string { return strconv.FormatUint(uint64(id), 10) }

// ParseSteamID accepts the decimal 64-bit form.
func ParseSteamID(s string) (SteamID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse steam id %q: %w", s, ErrInvalidSteamID)
	}
	id := SteamID(v)
	if !id.IsValid() {
		return 0, ErrInvalidSteamID
	}
	return id, nil
}

// GameType occupies bits 24-31 of a GameID.
type GameType uint8

const (
	GameTypeApp      GameType = 0
	GameTypeGameMod  GameType = 1
	GameTypeShortcut GameType = 2
	GameTypeP2P      GameType = 3
)

// GameID identifies a game: app id (bits 0-23), type (24-31), mod id (32-63).
type GameID uint64

// NewGameID returns the GameID of a plain application.
func NewGameID(app AppID) GameID { return GameID(uint64(app) & 0xFFFFFF) }

func (g GameID) AppID() AppID { return AppID(uint64(g) & 0xFFFFFF) }
func (g GameID) Type() GameType { return GameType(uint64(g) >> 24) }
func (g GameID) ModID() uint32 { return uint32(uint64(g) >> 32) }
func (g GameID) IsValid() bool { return g.AppID() != 0 }
func (g GameID) String() string { return strconv.FormatUint(uint64(g), 10) }

// ParseGameID accepts the decimal 64-bit form.
func ParseGameID(s string) (GameID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse game id %q: %w", s, ErrInvalidParam)
	}
	g := GameID(v)
	if !g.IsValid() {
		return 0, fmt.Errorf("game id %q has no app id: %w", s, ErrInvalidParam)
	}
	return g, nil
}

// LeaderboardDataRequest selects the rows of a leaderboard download.
type LeaderboardDataRequest int32

const (
	LeaderboardDataRequestGlobal           LeaderboardDataRequest = 0
	LeaderboardDataRequestGlobalAroundUser LeaderboardDataRequest = 1
	LeaderboardDataRequestFriends          LeaderboardDataRequest = 2
)

func (r LeaderboardDataRequest) Valid() bool {
	return r >= LeaderboardDataRequestGlobal && r <= LeaderboardDataRequestFriends
}

// LeaderboardSortMethod is the sort order of a leaderboard.
type LeaderboardSortMethod int32

const (
	LeaderboardSortMethodNone LeaderboardSortMethod = 0
	// LeaderboardSortMethodAscending: top score is the lowest number.
	LeaderboardSortMethodAscending LeaderboardSortMethod = 1
	// LeaderboardSortMethodDescending: top score is the highest number.
	LeaderboardSortMethodDescending LeaderboardSortMethod = 2
)

func (m LeaderboardSortMethod) Valid() bool {
	return m >= LeaderboardSortMethodNone && m <= LeaderboardSortMethodDescending
}

// Better reports whether score a beats score b under this sort method.
// Ties are never better. None ranks like Descending.
func (m LeaderboardSortMethod) Better(a, b int32) bool {
	if m == LeaderboardSortMethodAscending {
		return a < b
	}
	return a > b
}

// LeaderboardDisplayType is how the community site renders a score.
type LeaderboardDisplayType int32

const (
	LeaderboardDisplayTypeNone             LeaderboardDisplayType = 0
	LeaderboardDisplayTypeNumeric          LeaderboardDisplayType = 1
	LeaderboardDisplayTypeTimeSeconds      LeaderboardDisplayType = 2
	LeaderboardDisplayTypeTimeMilliSeconds LeaderboardDisplayType = 3
)

func (d LeaderboardDisplayType) Valid() bool {
	return d >= LeaderboardDisplayTypeNone && d <= LeaderboardDisplayTypeTimeMilliSeconds
}

// ConfigSubTree names a registry sub-tree.
type ConfigSubTree int32

const (
	ConfigSubTreeNetwork ConfigSubTree = 0
	ConfigSubTreeSystem  ConfigSubTree = 1
	ConfigSubTreeApp     ConfigSubTree = 2
)

func (t ConfigSubTree) Valid() bool { return t >= ConfigSubTreeNetwork && t <= ConfigSubTreeApp }

func (t ConfigSubTree) String() string {
	switch t {
	case ConfigSubTreeNetwork:
		return "network"
	case ConfigSubTreeSystem:
		return "system"
	case ConfigSubTreeApp:
		return "app"
	}
	return "subtree(" + strconv.Itoa(int(t)) + ")"
}

// ParseConfigSubTree accepts the names returned by String.
func ParseConfigSubTree(s string) (ConfigSubTree, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "network":
		return ConfigSubTreeNetwork, nil
	case "system":
		return ConfigSubTreeSystem, nil
	case "app":
		return ConfigSubTreeApp, nil
	}
	return 0, fmt.Errorf("unknown registry subtree %q: %w", s, ErrInvalidParam)
}

// LogonState is the connection state reported by the legacy user interface.
type LogonState int32

const (
	LogonStateNotLoggedOn LogonState = 0
	LogonStateLoggingOn   LogonState = 1
	LogonStateLoggingOff  LogonState = 2
	LogonStateLoggedOn    LogonState = 3
)

func (s LogonState) String() string {
	switch s {
	case LogonStateNotLoggedOn:
		return "not_logged_on"
	case LogonStateLoggingOn:
		return "logging_on"
	case LogonStateLoggingOff:
		return "logging_off"
	case LogonStateLoggedOn:
		return "logged_on"
	}
	return "unknown"
}

// ValidateName checks a stat, achievement or leaderboard name against a buffer size.
// The limit counts the terminating NUL of the wire form, so max-1 bytes fit.
func ValidateName(name string, max int) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("empty name: %w", ErrInvalidParam)
	}
	if len(name) >= max {
		return fmt.Errorf("name %d bytes long, limit %d: %w", len(name), max, ErrNameTooLong)
	}
	return nil
}

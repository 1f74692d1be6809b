package core

import (
	"encoding"
	"encoding/json"
	"fmt"
	"time"
)

// Callback base offsets. A record's discriminant is its interface's base plus a sequence number.
const (
	UserCallbacks          = 100
	GameServerCallbacks    = 200
	FriendsCallbacks       = 300
	BillingCallbacks       = 400
	MatchmakingCallbacks   = 500
	ContentServerCallbacks = 600
	UtilsCallbacks         = 700
	ClientFriendsCallbacks = 800
	ClientUserCallbacks    = 900
	SteamAppsCallbacks     = 1000
	UserStatsCallbacks     = 1100
)

// Discriminants of the records in this package.
const (
	CallbackSteamServersConnected       = UserCallbacks + 1
	CallbackSteamServerConnectFailure   = UserCallbacks + 2
	CallbackSteamServersDisconnected    = UserCallbacks + 3
	CallbackClientGameServerDeny        = UserCallbacks + 13
	CallbackPipeFailureID               = UserCallbacks + 17
	CallbackUserStatsReceived           = UserStatsCallbacks + 1
	CallbackUserStatsStored             = UserStatsCallbacks + 2
	CallbackUserAchievementStored       = UserStatsCallbacks + 3
	CallbackLeaderboardFindResult       = UserStatsCallbacks + 4
	CallbackLeaderboardScoresDownloaded = UserStatsCallbacks + 5
	CallbackLeaderboardScoreUploaded    = UserStatsCallbacks + 6
)

// Callback is a result record delivered through the dispatcher.
type Callback interface {
	CallbackID() int
	encoding.BinaryMarshaler
}

// SteamServersConnected is posted when a session reaches the back end.
type SteamServersConnected struct{}

func (SteamServersConnected) CallbackID() int { return CallbackSteamServersConnected }

func (SteamServersConnected) MarshalBinary() ([]byte, error) {
	var w layoutWriter
	return w.bytes(), nil
}

func (*SteamServersConnected) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("SteamServersConnected: %w", errShortRecord)
	}
	return nil
}

// SteamServerConnectFailure is posted when a logon attempt fails.
type SteamServerConnectFailure struct {
	Result Result `json:"result"`
}

func (SteamServerConnectFailure) CallbackID() int { return CallbackSteamServerConnectFailure }

func (c SteamServerConnectFailure) MarshalBinary() ([]byte, error) {
	var w layoutWriter
	w.i32(int32(c.Result))
	return w.bytes(), nil
}

func (c *SteamServerConnectFailure) UnmarshalBinary(data []byte) error {
	r := layoutReader{buf: data}
	c.Result = Result(r.i32())
	return r.err
}

// SteamServersDisconnected is posted when a logged on session loses the back end.
type SteamServersDisconnected struct {
	Result Result `json:"result"`
}

func (SteamServersDisconnected) CallbackID() int { return CallbackSteamServersDisconnected }

func (c SteamServersDisconnected) MarshalBinary() ([]byte, error) {
	var w layoutWriter
	w.i32(int32(c.Result))
	return w.bytes(), nil
}

func (c *SteamServersDisconnected) UnmarshalBinary(data []byte) error {
	r := layoutReader{buf: data}
	c.Result = Result(r.i32())
	return r.err
}

// ClientGameServerDeny tells the client a game server refused its connection.
type ClientGameServerDeny struct {
	AppID          uint32 `json:"app_id"`
	GameServerIP   uint32 `json:"game_server_ip"`
	GameServerPort uint16 `json:"game_server_port"`
	Secure         uint16 `json:"secure"`
	Reason         uint32 `json:"reason"`
}

func (ClientGameServerDeny) CallbackID() int { return CallbackClientGameServerDeny }

func (c ClientGameServerDeny) MarshalBinary() ([]byte, error) {
	var w layoutWriter
	w.u32(c.AppID)
	w.u32(c.GameServerIP)
	w.u16(c.GameServerPort)
	w.u16(c.Secure)
	w.u32(c.Reason)
	return w.bytes(), nil
}

func (c *ClientGameServerDeny) UnmarshalBinary(data []byte) error {
	r := layoutReader{buf: data}
	c.AppID = r.u32()
	c.GameServerIP = r.u32()
	c.GameServerPort = r.u16()
	c.Secure = r.u16()
	c.Reason = r.u32()
	return r.err
}

// CallbackPipeFailure reports that the callback pipe overflowed and pending callbacks were flushed.
type CallbackPipeFailure struct{}

func (CallbackPipeFailure) CallbackID() int { return CallbackPipeFailureID }

func (CallbackPipeFailure) MarshalBinary() ([]byte, error) {
	var w layoutWriter
	return w.bytes(), nil
}

func (*CallbackPipeFailure) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("CallbackPipeFailure: %w", errShortRecord)
	}
	return nil
}

// UserStatsReceived answers RequestCurrentStats and RequestUserStats.
type UserStatsReceived struct {
	GameID      GameID  `json:"game_id"`
	Result      Result  `json:"result"`
	SteamIDUser SteamID `json:"steam_id_user"`
}

func (UserStatsReceived) CallbackID() int { return CallbackUserStatsReceived }

func (c UserStatsReceived) MarshalBinary() ([]byte, error) {
	var w layoutWriter
	w.u64(uint64(c.GameID))
	w.i32(int32(c.Result))
	w.u64(uint64(c.SteamIDUser))
	return w.bytes(), nil
}

func (c *UserStatsReceived) UnmarshalBinary(data []byte) error {
	r := layoutReader{buf: data}
	c.GameID = GameID(r.u64())
	c.Result = Result(r.i32())
	c.SteamIDUser = SteamID(r.u64())
	return r.err
}

// UserStatsStored answers StoreStats.
type UserStatsStored struct {
	GameID GameID `json:"game_id"`
	Result Result `json:"result"`
}

func (UserStatsStored) CallbackID() int { return CallbackUserStatsStored }

func (c UserStatsStored) MarshalBinary() ([]byte, error) {
	var w layoutWriter
	w.u64(uint64(c.GameID))
	w.i32(int32(c.Result))
	return w.bytes(), nil
}

func (c *UserStatsStored) UnmarshalBinary(data []byte) error {
	r := layoutReader{buf: data}
	c.GameID = GameID(r.u64())
	c.Result = Result(r.i32())
	return r.err
}

// UserAchievementStored reports an unlocked achievement, or progress toward one
// when CurProgress and MaxProgress are non-zero.
type UserAchievementStored struct {
	GameID           GameID `json:"game_id"`
	GroupAchievement bool   `json:"group_achievement"`
	AchievementName  string `json:"achievement_name"`
	CurProgress      uint32 `json:"cur_progress"`
	MaxProgress      uint32 `json:"max_progress"`
}

func (UserAchievementStored) CallbackID() int { return CallbackUserAchievementStored }

// Unlocked reports whether the record announces an unlock rather than progress.
func (c UserAchievementStored) Unlocked() bool { return c.CurProgress == 0 && c.MaxProgress == 0 }

func (c UserAchievementStored) MarshalBinary() ([]byte, error) {
	if len(c.AchievementName) >= StatNameMax {
		return nil, fmt.Errorf("achievement name: %w", ErrNameTooLong)
	}
	var w layoutWriter
	w.u64(uint64(c.GameID))
	w.boolean(c.GroupAchievement)
	w.chars(c.AchievementName, StatNameMax)
	w.u32(c.CurProgress)
	w.u32(c.MaxProgress)
	return w.bytes(), nil
}

func (c *UserAchievementStored) UnmarshalBinary(data []byte) error {
	r := layoutReader{buf: data}
	c.GameID = GameID(r.u64())
	c.GroupAchievement = r.boolean()
	c.AchievementName = r.chars(StatNameMax)
	c.CurProgress = r.u32()
	c.MaxProgress = r.u32()
	return r.err
}

// LeaderboardFindResult answers FindLeaderboard and FindOrCreateLeaderboard.
type LeaderboardFindResult struct {
	Leaderboard      LeaderboardHandle `json:"leaderboard"`
	LeaderboardFound uint8             `json:"leaderboard_found"`
}

func (LeaderboardFindResult) CallbackID() int { return CallbackLeaderboardFindResult }

func (c LeaderboardFindResult) MarshalBinary() ([]byte, error) {
	var w layoutWriter
	w.u64(uint64(c.Leaderboard))
	w.u8(c.LeaderboardFound)
	return w.bytes(), nil
}

func (c *LeaderboardFindResult) UnmarshalBinary(data []byte) error {
	r := layoutReader{buf: data}
	c.Leaderboard = LeaderboardHandle(r.u64())
	c.LeaderboardFound = r.u8()
	return r.err
}

// LeaderboardScoresDownloaded answers DownloadLeaderboardEntries.
type LeaderboardScoresDownloaded struct {
	Leaderboard LeaderboardHandle        `json:"leaderboard"`
	Entries     LeaderboardEntriesHandle `json:"entries"`
	EntryCount  int32                    `json:"entry_count"`
}

func (LeaderboardScoresDownloaded) CallbackID() int { return CallbackLeaderboardScoresDownloaded }

func (c LeaderboardScoresDownloaded) MarshalBinary() ([]byte, error) {
	var w layoutWriter
	w.u64(uint64(c.Leaderboard))
	w.u64(uint64(c.Entries))
	w.i32(c.EntryCount)
	return w.bytes(), nil
}

func (c *LeaderboardScoresDownloaded) UnmarshalBinary(data []byte) error {
	r := layoutReader{buf: data}
	c.Leaderboard = LeaderboardHandle(r.u64())
	c.Entries = LeaderboardEntriesHandle(r.u64())
	c.EntryCount = r.i32()
	return r.err
}

// LeaderboardScoreUploaded answers UploadLeaderboardScore.
type LeaderboardScoreUploaded struct {
	Success            uint8             `json:"success"`
	Leaderboard        LeaderboardHandle `json:"leaderboard"`
	Score              int32             `json:"score"`
	ScoreChanged       uint8             `json:"score_changed"`
	GlobalRankNew      int32             `json:"global_rank_new"`
	GlobalRankPrevious int32             `json:"global_rank_previous"`
}

func (LeaderboardScoreUploaded) CallbackID() int { return CallbackLeaderboardScoreUploaded }

func (c LeaderboardScoreUploaded) MarshalBinary() ([]byte, error) {
	var w layoutWriter
	w.u8(c.Success)
	w.u64(uint64(c.Leaderboard))
	w.i32(c.Score)
	w.u8(c.ScoreChanged)
	w.i32(c.GlobalRankNew)
	w.i32(c.GlobalRankPrevious)
	return w.bytes(), nil
}

func (c *LeaderboardScoreUploaded) UnmarshalBinary(data []byte) error {
	r := layoutReader{buf: data}
	c.Success = r.u8()
	c.Leaderboard = LeaderboardHandle(r.u64())
	c.Score = r.i32()
	c.ScoreChanged = r.u8()
	c.GlobalRankNew = r.i32()
	c.GlobalRankPrevious = r.i32()
	return r.err
}

// LeaderboardEntry is one downloaded row. Details holds the stored detail count,
// which may exceed what the caller asked to receive.
type LeaderboardEntry struct {
	SteamIDUser SteamID `json:"steam_id_user"`
	GlobalRank  int32   `json:"global_rank"`
	Score       int32   `json:"score"`
	Details     int32   `json:"details"`
}

func (e LeaderboardEntry) MarshalBinary() ([]byte, error) {
	var w layoutWriter
	w.u64(uint64(e.SteamIDUser))
	w.i32(e.GlobalRank)
	w.i32(e.Score)
	w.i32(e.Details)
	return w.bytes(), nil
}

func (e *LeaderboardEntry) UnmarshalBinary(data []byte) error {
	r := layoutReader{buf: data}
	e.SteamIDUser = SteamID(r.u64())
	e.GlobalRank = r.i32()
	e.Score = r.i32()
	e.Details = r.i32()
	return r.err
}

type callbackKind struct {
	name       string
	fromBinary func([]byte) (Callback, error)
	fromJSON   func(json.RawMessage) (Callback, error)
}

type unmarshalPtr[T any] interface {
	*T
	encoding.BinaryUnmarshaler
}

func kind[T Callback, P unmarshalPtr[T]](name string) callbackKind {
	return callbackKind{
		name: name,
		fromBinary: func(b []byte) (Callback, error) {
			var v T
			if err := P(&v).UnmarshalBinary(b); err != nil {
				return nil, err
			}
			return v, nil
		},
		fromJSON: func(raw json.RawMessage) (Callback, error) {
			var v T
			if len(raw) > 0 && string(raw) != "null" {
				if err := json.Unmarshal(raw, &v); err != nil {
					return nil, err
				}
			}
			return v, nil
		},
	}
}

var callbackKinds = map[int]callbackKind{
	CallbackSteamServersConnected:       kind[SteamServersConnected]("SteamServersConnected"),
	CallbackSteamServerConnectFailure:   kind[SteamServerConnectFailure]("SteamServerConnectFailure"),
	CallbackSteamServersDisconnected:    kind[SteamServersDisconnected]("SteamServersDisconnected"),
	CallbackClientGameServerDeny:        kind[ClientGameServerDeny]("ClientGameServerDeny"),
	CallbackPipeFailureID:               kind[CallbackPipeFailure]("CallbackPipeFailure"),
	CallbackUserStatsReceived:           kind[UserStatsReceived]("UserStatsReceived"),
	CallbackUserStatsStored:             kind[UserStatsStored]("UserStatsStored"),
	CallbackUserAchievementStored:       kind[UserAchievementStored]("UserAchievementStored"),
	CallbackLeaderboardFindResult:       kind[LeaderboardFindResult]("LeaderboardFindResult"),
	CallbackLeaderboardScoresDownloaded: kind[LeaderboardScoresDownloaded]("LeaderboardScoresDownloaded"),
	CallbackLeaderboardScoreUploaded:    kind[LeaderboardScoreUploaded]("LeaderboardScoreUploaded"),
}

// CallbackName returns the record name for a discriminant, or "Callback<n>" when unknown.
func CallbackName(id int) string {
	if k, ok := callbackKinds[id]; ok {
		return k.name
	}
	return fmt.Sprintf("Callback%d", id)
}

// DecodeCallback rebuilds a record from its binary layout.
func DecodeCallback(id int, data []byte) (Callback, error) {
	k, ok := callbackKinds[id]
	if !ok {
		return nil, fmt.Errorf("callback %d: %w", id, ErrInvalidParam)
	}
	cb, err := k.fromBinary(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", k.name, err)
	}
	return cb, nil
}

// CallbackMsg is one delivered callback. Call is non-zero when the record completes an async call.
type CallbackMsg struct {
	User     HUser
	Callback int
	Call     APICall
	Param    Callback
	Posted   time.Time
	Failed   bool
}

// NewCallbackMsg wraps a record for delivery to a session.
func NewCallbackMsg(user HUser, cb Callback) CallbackMsg {
	return CallbackMsg{User: user, Callback: cb.CallbackID(), Param: cb, Posted: time.Now().UTC()}
}

// Name returns the record name.
func (m CallbackMsg) Name() string { return CallbackName(m.Callback) }

// ParamBytes returns the record in its native layout.
func (m CallbackMsg) ParamBytes() ([]byte, error) {
	if m.Param == nil {
		return nil, fmt.Errorf("callback %d has no param: %w", m.Callback, ErrInvalidParam)
	}
	return m.Param.MarshalBinary()
}

type callbackMsgJSON struct {
	Type   int             `json:"type"`
	Name   string          `json:"name"`
	User   HUser           `json:"user"`
	Call   APICall         `json:"call,omitempty"`
	Failed bool            `json:"failed,omitempty"`
	Posted time.Time       `json:"posted"`
	Param  json.RawMessage `json:"param,omitempty"`
}

func (m CallbackMsg) MarshalJSON() ([]byte, error) {
	out := callbackMsgJSON{
		Type:   m.Callback,
		Name:   m.Name(),
		User:   m.User,
		Call:   m.Call,
		Failed: m.Failed,
		Posted: m.Posted,
	}
	if m.Param != nil {
		raw, err := json.Marshal(m.Param)
		if err != nil {
			return nil, err
		}
		out.Param = raw
	}
	return json.Marshal(out)
}

func (m *CallbackMsg) UnmarshalJSON(data []byte) error {
	var in callbackMsgJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	m.User = in.User
	m.Callback = in.Type
	m.Call = in.Call
	m.Failed = in.Failed
	m.Posted = in.Posted
	m.Param = nil
	if k, ok := callbackKinds[in.Type]; ok {
		cb, err := k.fromJSON(in.Param)
		if err != nil {
			return fmt.Errorf("decode %s: %w", k.name, err)
		}
		m.Param = cb
	}
	return nil
}

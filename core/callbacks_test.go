package core

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackDiscriminants(t *testing.T) {
	want := map[Callback]int{
		SteamServersConnected{}:       101,
		SteamServerConnectFailure{}:   102,
		SteamServersDisconnected{}:    103,
		ClientGameServerDeny{}:        113,
		CallbackPipeFailure{}:         117,
		UserStatsReceived{}:           1101,
		UserStatsStored{}:             1102,
		UserAchievementStored{}:       1103,
		LeaderboardFindResult{}:       1104,
		LeaderboardScoresDownloaded{}: 1105,
		LeaderboardScoreUploaded{}:    1106,
	}
	for cb, id := range want {
		assert.Equal(t, id, cb.CallbackID(), CallbackName(cb.CallbackID()))
	}
	assert.Equal(t, 1100, UserStatsCallbacks)
	assert.Equal(t, "Callback999", CallbackName(999))
}

func TestRecordSizes(t *testing.T) {
	cases := []struct {
		rec  interface{ MarshalBinary() ([]byte, error) }
		size int
	}{
		{SteamServersConnected{}, 1},
		{SteamServerConnectFailure{Result: ResultServiceUnavailable}, 4},
		{SteamServersDisconnected{Result: ResultNoConnection}, 4},
		{ClientGameServerDeny{AppID: 480}, 16},
		{CallbackPipeFailure{}, 1},
		{UserStatsReceived{GameID: NewGameID(480)}, 24},
		{UserStatsStored{GameID: NewGameID(480)}, 16},
		{UserAchievementStored{AchievementName: "ACH_WIN_ONE_GAME"}, 152},
		{LeaderboardFindResult{Leaderboard: 3, LeaderboardFound: 1}, 16},
		{LeaderboardScoresDownloaded{Leaderboard: 3, Entries: 9, EntryCount: 2}, 24},
		{LeaderboardScoreUploaded{Success: 1, Leaderboard: 3}, 32},
		{LeaderboardEntry{GlobalRank: 1}, 24},
	}
	for _, c := range cases {
		b, err := c.rec.MarshalBinary()
		require.NoError(t, err)
		assert.Len(t, b, c.size, "%T", c.rec)
	}
}

func TestUserStatsReceivedLayout(t *testing.T) {
	rec := UserStatsReceived{
		GameID:      NewGameID(480),
		Result:      ResultOK,
		SteamIDUser: NewSteamID(42, UniversePublic, AccountTypeIndividual),
	}
	b, err := rec.MarshalBinary()
	require.NoError(t, err)
	// Result sits at offset 8 and is padded to the 8-byte aligned SteamID at 16.
	assert.Equal(t, []byte{0xE0, 0x01, 0, 0, 0, 0, 0, 0}, b[:8])
	assert.Equal(t, []byte{1, 0, 0, 0}, b[8:12])
	assert.Equal(t, []byte{0, 0, 0, 0}, b[12:16])

	got, err := DecodeCallback(CallbackUserStatsReceived, b)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestScoreUploadedLayout(t *testing.T) {
	rec := LeaderboardScoreUploaded{
		Success:            1,
		Leaderboard:        77,
		Score:              -5,
		ScoreChanged:       1,
		GlobalRankNew:      3,
		GlobalRankPrevious: 8,
	}
	b, err := rec.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, byte(1), b[0])
	assert.Equal(t, byte(77), b[8])
	assert.Equal(t, byte(1), b[20])

	var back LeaderboardScoreUploaded
	require.NoError(t, back.UnmarshalBinary(b))
	assert.Equal(t, rec, back)
}

func TestAchievementNameField(t *testing.T) {
	rec := UserAchievementStored{GameID: NewGameID(480), AchievementName: "ACH_TRAVEL_FAR_ACCUM", CurProgress: 3, MaxProgress: 10}
	b, err := rec.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, byte(0), b[9+len(rec.AchievementName)], "name must be NUL terminated")

	var back UserAchievementStored
	require.NoError(t, back.UnmarshalBinary(b))
	assert.Equal(t, rec, back)
	assert.False(t, back.Unlocked())

	_, err = UserAchievementStored{AchievementName: strings.Repeat("x", StatNameMax)}.MarshalBinary()
	assert.ErrorIs(t, err, ErrNameTooLong)
}

func TestDecodeShortRecord(t *testing.T) {
	_, err := DecodeCallback(CallbackLeaderboardScoresDownloaded, make([]byte, 10))
	assert.Error(t, err)
	_, err = DecodeCallback(4242, []byte{0})
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestCallbackMsgJSON(t *testing.T) {
	msg := NewCallbackMsg(3, LeaderboardFindResult{Leaderboard: 12, LeaderboardFound: 1})
	msg.Call = 99
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, float64(1104), fields["type"])
	assert.Equal(t, "LeaderboardFindResult", fields["name"])

	var back CallbackMsg
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, msg.User, back.User)
	assert.Equal(t, msg.Call, back.Call)
	assert.Equal(t, msg.Param, back.Param)
	assert.True(t, msg.Posted.Equal(back.Posted))

	pb, err := back.ParamBytes()
	require.NoError(t, err)
	assert.Len(t, pb, 16)
}

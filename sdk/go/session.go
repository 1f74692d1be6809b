package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"steamkit/core"
)

// Session is one connected client handle on the server.
type Session struct {
	c    *Client
	h    core.HUser
	base string
}

// HUser returns the session handle.
func (s *Session) HUser() core.HUser { return s.h }

func (s *Session) path(format string, args ...any) string {
	return s.base + fmt.Sprintf(format, args...)
}

func (s *Session) State(ctx context.Context) (ClientState, error) {
	var st ClientState
	err := s.c.do(ctx, http.MethodGet, s.base, nil, &st)
	return st, err
}

// Close disconnects the session. Outstanding call results are dropped.
func (s *Session) Close(ctx context.Context) error {
	return s.c.do(ctx, http.MethodDelete, s.base, nil, nil)
}

func (s *Session) LogOn(ctx context.Context, id core.SteamID) (ClientState, error) {
	var st ClientState
	err := s.c.do(ctx, http.MethodPost, s.base+"/logon", map[string]any{"steam_id": id}, &st)
	return st, err
}

func (s *Session) LogOff(ctx context.Context) error {
	return s.c.do(ctx, http.MethodPost, s.base+"/logoff", nil, nil)
}

func (s *Session) GetRegistry(ctx context.Context, tree, key string) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	err := s.c.do(ctx, http.MethodGet, s.path("/registry/%s/%s", url.PathEscape(tree), url.PathEscape(key)), nil, &out)
	return out.Value, err
}

func (s *Session) SetRegistry(ctx context.Context, tree, key, value string) error {
	return s.c.do(ctx, http.MethodPut, s.path("/registry/%s/%s", url.PathEscape(tree), url.PathEscape(key)), map[string]string{"value": value}, nil)
}

// InitiateGameConnection returns a signed auth ticket for the server at ip:port.
func (s *Session) InitiateGameConnection(ctx context.Context, server core.SteamID, game core.GameID, ip uint32, port uint16, secure bool) ([]byte, error) {
	var out struct {
		Ticket []byte `json:"ticket"`
	}
	err := s.c.do(ctx, http.MethodPost, s.base+"/connections", map[string]any{
		"server_id": server,
		"game_id":   game,
		"ip":        ip,
		"port":      port,
		"secure":    secure,
	}, &out)
	return out.Ticket, err
}

func (s *Session) TerminateGameConnection(ctx context.Context, ip uint32, port uint16) error {
	return s.c.do(ctx, http.MethodDelete, s.path("/connections/%d/%d", ip, port), nil, nil)
}

// RequestCurrentStats loads the session's stats; UserStatsReceived follows on the stream.
func (s *Session) RequestCurrentStats(ctx context.Context) error {
	return s.c.do(ctx, http.MethodPost, s.base+"/stats/request", nil, nil)
}

func (s *Session) StoreStats(ctx context.Context) error {
	return s.c.do(ctx, http.MethodPost, s.base+"/stats/store", nil, nil)
}

func (s *Session) ResetAllStats(ctx context.Context, achievementsToo bool) error {
	return s.c.do(ctx, http.MethodPost, s.base+"/stats/reset", map[string]bool{"achievements": achievementsToo}, nil)
}

type statValue struct {
	Int   *int32   `json:"int,omitempty"`
	Float *float32 `json:"float,omitempty"`
}

func (s *Session) GetStatInt32(ctx context.Context, name string) (int32, error) {
	var v statValue
	if err := s.c.do(ctx, http.MethodGet, s.path("/stats/%s", url.PathEscape(name)), nil, &v); err != nil {
		return 0, err
	}
	if v.Int == nil {
		return 0, fmt.Errorf("stat %q: no int value", name)
	}
	return *v.Int, nil
}

func (s *Session) GetStatFloat32(ctx context.Context, name string) (float32, error) {
	var v statValue
	if err := s.c.do(ctx, http.MethodGet, s.path("/stats/%s?type=float", url.PathEscape(name)), nil, &v); err != nil {
		return 0, err
	}
	if v.Float == nil {
		return 0, fmt.Errorf("stat %q: no float value", name)
	}
	return *v.Float, nil
}

func (s *Session) SetStatInt32(ctx context.Context, name string, value int32) error {
	return s.c.do(ctx, http.MethodPut, s.path("/stats/%s", url.PathEscape(name)), statValue{Int: &value}, nil)
}

func (s *Session) SetStatFloat32(ctx context.Context, name string, value float32) error {
	return s.c.do(ctx, http.MethodPut, s.path("/stats/%s", url.PathEscape(name)), statValue{Float: &value}, nil)
}

// UpdateAvgRateStat folds a session into an avg-rate stat and returns its new value.
func (s *Session) UpdateAvgRateStat(ctx context.Context, name string, count float32, sessionLength float64) (float32, error) {
	var v statValue
	err := s.c.do(ctx, http.MethodPost, s.path("/stats/%s/avgrate", url.PathEscape(name)), map[string]any{
		"count":          count,
		"session_length": sessionLength,
	}, &v)
	if err != nil {
		return 0, err
	}
	if v.Float == nil {
		return 0, fmt.Errorf("stat %q: no float value", name)
	}
	return *v.Float, nil
}

func (s *Session) GetAchievement(ctx context.Context, name string) (Achievement, error) {
	var a Achievement
	err := s.c.do(ctx, http.MethodGet, s.path("/achievements/%s", url.PathEscape(name)), nil, &a)
	return a, err
}

func (s *Session) SetAchievement(ctx context.Context, name string) error {
	return s.c.do(ctx, http.MethodPut, s.path("/achievements/%s", url.PathEscape(name)), nil, nil)
}

func (s *Session) ClearAchievement(ctx context.Context, name string) error {
	return s.c.do(ctx, http.MethodDelete, s.path("/achievements/%s", url.PathEscape(name)), nil, nil)
}

func (s *Session) IndicateAchievementProgress(ctx context.Context, name string, cur, max uint32) error {
	return s.c.do(ctx, http.MethodPost, s.path("/achievements/%s/progress", url.PathEscape(name)), map[string]uint32{
		"current": cur,
		"max":     max,
	}, nil)
}

type callResponse struct {
	Call core.APICall `json:"call"`
}

// CallResult takes the result of an async call begun by this session.
// ErrPending means it is still running.
func (s *Session) CallResult(ctx context.Context, call core.APICall) (core.CallbackMsg, error) {
	return s.callResult(ctx, call, 0)
}

// Await polls until the call completes or ctx is done.
func (s *Session) Await(ctx context.Context, call core.APICall) (core.CallbackMsg, error) {
	for {
		msg, err := s.callResult(ctx, call, s.c.pollWait)
		if !errors.Is(err, ErrPending) {
			return msg, err
		}
		if err := ctx.Err(); err != nil {
			return core.CallbackMsg{}, err
		}
	}
}

func (s *Session) callResult(ctx context.Context, call core.APICall, wait time.Duration) (core.CallbackMsg, error) {
	path := s.path("/calls/%d", call)
	if wait > 0 {
		path += "?wait=" + url.QueryEscape(wait.String())
	}
	resp, err := s.c.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return core.CallbackMsg{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusAccepted {
		return core.CallbackMsg{}, ErrPending
	}
	var msg core.CallbackMsg
	if err := decodeJSON(resp, &msg); err != nil {
		return core.CallbackMsg{}, err
	}
	return msg, nil
}

func (s *Session) call(ctx context.Context, path string, body any) (core.APICall, error) {
	var out callResponse
	if err := s.c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return core.InvalidAPICall, err
	}
	return out.Call, nil
}

// RequestUserStats starts loading another account's stats; the call result is UserStatsReceived.
func (s *Session) RequestUserStats(ctx context.Context, user core.SteamID) (core.APICall, error) {
	return s.call(ctx, s.path("/users/%d/stats", uint64(user)), nil)
}

func (s *Session) GetUserStatInt32(ctx context.Context, user core.SteamID, name string) (int32, error) {
	var v statValue
	if err := s.c.do(ctx, http.MethodGet, s.path("/users/%d/stats/%s", uint64(user), url.PathEscape(name)), nil, &v); err != nil {
		return 0, err
	}
	if v.Int == nil {
		return 0, fmt.Errorf("stat %q: no int value", name)
	}
	return *v.Int, nil
}

func (s *Session) GetUserAchievement(ctx context.Context, user core.SteamID, name string) (bool, error) {
	var out struct {
		Achieved bool `json:"achieved"`
	}
	err := s.c.do(ctx, http.MethodGet, s.path("/users/%d/achievements/%s", uint64(user), url.PathEscape(name)), nil, &out)
	return out.Achieved, err
}

// FindLeaderboard starts a lookup; the call result is LeaderboardFindResult.
func (s *Session) FindLeaderboard(ctx context.Context, name string) (core.APICall, error) {
	return s.call(ctx, s.base+"/leaderboards", map[string]any{"name": name})
}

func (s *Session) FindOrCreateLeaderboard(ctx context.Context, name string, sort core.LeaderboardSortMethod, display core.LeaderboardDisplayType) (core.APICall, error) {
	return s.call(ctx, s.base+"/leaderboards", map[string]any{
		"name":    name,
		"create":  true,
		"sort":    sort,
		"display": display,
	})
}

func (s *Session) Leaderboard(ctx context.Context, h core.LeaderboardHandle) (LeaderboardInfo, error) {
	var info LeaderboardInfo
	err := s.c.do(ctx, http.MethodGet, s.path("/leaderboards/%d", uint64(h)), nil, &info)
	return info, err
}

// UploadLeaderboardScore starts an upload; the call result is LeaderboardScoreUploaded.
func (s *Session) UploadLeaderboardScore(ctx context.Context, h core.LeaderboardHandle, score int32, details []int32) (core.APICall, error) {
	return s.call(ctx, s.path("/leaderboards/%d/scores", uint64(h)), map[string]any{
		"score":   score,
		"details": details,
	})
}

// DownloadLeaderboardEntries starts a download; the call result is LeaderboardScoresDownloaded.
func (s *Session) DownloadLeaderboardEntries(ctx context.Context, h core.LeaderboardHandle, req core.LeaderboardDataRequest, start, end int) (core.APICall, error) {
	return s.call(ctx, s.path("/leaderboards/%d/downloads", uint64(h)), map[string]any{
		"request": req,
		"start":   start,
		"end":     end,
	})
}

// DownloadedEntry reads one row. A negative maxDetails returns every stored detail.
func (s *Session) DownloadedEntry(ctx context.Context, entries core.LeaderboardEntriesHandle, index, maxDetails int) (DownloadedEntry, error) {
	p := s.path("/entries/%d/%d", uint64(entries), index)
	if maxDetails >= 0 {
		p += "?max_details=" + strconv.Itoa(maxDetails)
	}
	var e DownloadedEntry
	err := s.c.do(ctx, http.MethodGet, p, nil, &e)
	return e, err
}

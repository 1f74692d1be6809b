package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"steamkit/core"
)

// ClientState mirrors the JSON of a session as served by the API.
type ClientState struct {
	HUser       core.HUser   `json:"huser"`
	GameID      core.GameID  `json:"game_id"`
	LoggedOn    bool         `json:"logged_on"`
	LogonState  string       `json:"logon_state"`
	Connected   bool         `json:"connected"`
	SteamID     core.SteamID `json:"steam_id,omitempty"`
	PrimaryChat bool         `json:"primary_chat"`
	Usage       []UsageEvent `json:"usage,omitempty"`
}

// UsageEvent is one tracked app usage event.
type UsageEvent struct {
	GameID core.GameID `json:"game_id"`
	Event  int         `json:"event"`
	Extra  string      `json:"extra,omitempty"`
	At     time.Time   `json:"at"`
}

// Achievement is the state and display data of one achievement.
type Achievement struct {
	Name        string `json:"name"`
	Achieved    bool   `json:"achieved"`
	Icon        int    `json:"icon"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

// LeaderboardInfo describes a leaderboard the session has found.
type LeaderboardInfo struct {
	Handle     core.LeaderboardHandle      `json:"handle"`
	Name       string                      `json:"name"`
	EntryCount int                         `json:"entry_count"`
	Sort       core.LeaderboardSortMethod  `json:"sort"`
	Display    core.LeaderboardDisplayType `json:"display"`
}

// DownloadedEntry is one row of a downloaded entries handle.
type DownloadedEntry struct {
	Entry   core.LeaderboardEntry `json:"entry"`
	Details []int32               `json:"details"`
}

// TicketClaims is what a valid auth ticket carries.
type TicketClaims struct {
	SteamID  core.SteamID `json:"steam_id"`
	Server   core.SteamID `json:"server"`
	GameID   core.GameID  `json:"game_id"`
	IP       uint32       `json:"ip"`
	Port     uint16       `json:"port"`
	Secure   bool         `json:"secure"`
	IssuedAt time.Time    `json:"issued_at"`
	Nonce    string       `json:"nonce"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status       string            `json:"status"`
	Checks       map[string]string `json:"checks"`
	PendingCalls int               `json:"pending_calls"`
}

// APIError is a non-2xx response. Code is the result name, e.g. "not_logged_on".
type APIError struct {
	Status  int            `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("steamkit: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

var (
	// ErrEmptyBaseURL is returned by NewClient without a base URL.
	ErrEmptyBaseURL = errors.New("baseURL is required")
	// ErrPending is returned when a call result is not ready yet.
	ErrPending = errors.New("call result pending")
)

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if target == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

package core

import (
	"errors"
	"strconv"
)

// Result is the outcome code carried by callback records.
type Result int32

const (
	ResultOK                    Result = 1
	ResultFail                  Result = 2
	ResultNoConnection          Result = 3
	ResultInvalidPassword       Result = 5
	ResultLoggedInElsewhere     Result = 6
	ResultInvalidProtocolVer    Result = 7
	ResultInvalidParam          Result = 8
	ResultFileNotFound          Result = 9
	ResultBusy                  Result = 10
	ResultInvalidState          Result = 11
	ResultInvalidName           Result = 12
	ResultInvalidEmail          Result = 13
	ResultDuplicateName         Result = 14
	ResultAccessDenied          Result = 15
	ResultTimeout               Result = 16
	ResultBanned                Result = 17
	ResultAccountNotFound       Result = 18
	ResultInvalidSteamID        Result = 19
	ResultServiceUnavailable    Result = 20
	ResultNotLoggedOn           Result = 21
	ResultPending               Result = 22
	ResultEncryptionFailure     Result = 23
	ResultInsufficientPrivilege Result = 24
	ResultLimitExceeded         Result = 25
	ResultRevoked               Result = 26
	ResultExpired               Result = 27
	ResultAlreadyRedeemed       Result = 28
	ResultDuplicateRequest      Result = 29
	ResultAlreadyOwned          Result = 30
	ResultIPNotFound            Result = 31
	ResultPersistFailed         Result = 32
	ResultLockingFailed         Result = 33
	ResultLogonSessionReplaced  Result = 34
	ResultConnectFailed         Result = 35
	ResultHandshakeFailed       Result = 36
	ResultIOFailure             Result = 37
	ResultRemoteDisconnect      Result = 38
)

var resultNames = map[Result]string{
	ResultOK:                    "ok",
	ResultFail:                  "fail",
	ResultNoConnection:          "no_connection",
	ResultInvalidPassword:       "invalid_password",
	ResultLoggedInElsewhere:     "logged_in_elsewhere",
	ResultInvalidProtocolVer:    "invalid_protocol_version",
	ResultInvalidParam:          "invalid_param",
	ResultFileNotFound:          "file_not_found",
	ResultBusy:                  "busy",
	ResultInvalidState:          "invalid_state",
	ResultInvalidName:           "invalid_name",
	ResultInvalidEmail:          "invalid_email",
	ResultDuplicateName:         "duplicate_name",
	ResultAccessDenied:          "access_denied",
	ResultTimeout:               "timeout",
	ResultBanned:                "banned",
	ResultAccountNotFound:       "account_not_found",
	ResultInvalidSteamID:        "invalid_steam_id",
	ResultServiceUnavailable:    "service_unavailable",
	ResultNotLoggedOn:           "not_logged_on",
	ResultPending:               "pending",
	ResultEncryptionFailure:     "encryption_failure",
	ResultInsufficientPrivilege: "insufficient_privilege",
	ResultLimitExceeded:         "limit_exceeded",
	ResultRevoked:               "revoked",
	ResultExpired:               "expired",
	ResultAlreadyRedeemed:       "already_redeemed",
	ResultDuplicateRequest:      "duplicate_request",
	ResultAlreadyOwned:          "already_owned",
	ResultIPNotFound:            "ip_not_found",
	ResultPersistFailed:         "persist_failed",
	ResultLockingFailed:         "locking_failed",
	ResultLogonSessionReplaced:  "logon_session_replaced",
	ResultConnectFailed:         "connect_failed",
	ResultHandshakeFailed:       "handshake_failed",
	ResultIOFailure:             "io_failure",
	ResultRemoteDisconnect:      "remote_disconnect",
}

func (r Result) String() string {
	if s, ok := resultNames[r]; ok {
		return s
	}
	return "result(" + strconv.Itoa(int(r)) + ")"
}

// Domain errors. Each maps onto a Result through ResultFromError.
var (
	ErrNotLoggedOn         = errors.New("not logged on")
	ErrInvalidSteamID      = errors.New("invalid steam id")
	ErrInvalidParam        = errors.New("invalid parameter")
	ErrInvalidState        = errors.New("invalid state")
	ErrNameTooLong         = errors.New("name too long")
	ErrStatNotFound        = errors.New("stat not found")
	ErrAchievementNotFound = errors.New("achievement not found")
	ErrWrongStatType       = errors.New("wrong stat type")
	ErrNoStats             = errors.New("stats not loaded")
	ErrNotFound            = errors.New("not found")
	ErrLeaderboardNotFound = errors.New("leaderboard not found")
	ErrInvalidHandle       = errors.New("invalid handle")
	ErrTooManyDetails      = errors.New("too many score details")
	ErrBufferTooSmall      = errors.New("buffer too small")
	ErrVersionMismatch     = errors.New("interface version mismatch")
	ErrServiceUnavailable  = errors.New("service unavailable")
	ErrBanned              = errors.New("account banned")
	ErrInvalidTicket       = errors.New("invalid auth ticket")
	ErrClosed              = errors.New("platform closed")
)

var errorResults = []struct {
	err error
	res Result
}{
	{ErrNotLoggedOn, ResultNotLoggedOn},
	{ErrInvalidSteamID, ResultInvalidSteamID},
	{ErrInvalidParam, ResultInvalidParam},
	{ErrInvalidState, ResultInvalidState},
	{ErrNameTooLong, ResultInvalidName},
	{ErrStatNotFound, ResultInvalidName},
	{ErrAchievementNotFound, ResultInvalidName},
	{ErrWrongStatType, ResultInvalidParam},
	{ErrNoStats, ResultFail},
	{ErrNotFound, ResultFileNotFound},
	{ErrLeaderboardNotFound, ResultFileNotFound},
	{ErrInvalidHandle, ResultInvalidParam},
	{ErrTooManyDetails, ResultLimitExceeded},
	{ErrBufferTooSmall, ResultLimitExceeded},
	{ErrVersionMismatch, ResultInvalidProtocolVer},
	{ErrServiceUnavailable, ResultServiceUnavailable},
	{ErrBanned, ResultBanned},
	{ErrInvalidTicket, ResultHandshakeFailed},
	{ErrClosed, ResultNoConnection},
}

// ResultFromError maps an error onto the closest Result. Nil maps to ResultOK.
func ResultFromError(err error) Result {
	if err == nil {
		return ResultOK
	}
	for _, m := range errorResults {
		if errors.Is(err, m.err) {
			return m.res
		}
	}
	return ResultFail
}

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steamkit/core"
)

func TestCallResultsOneShot(t *testing.T) {
	bus := NewDispatcher(DispatchSync)
	calls := NewCallResults(bus)
	var posted []core.CallbackMsg
	bus.Subscribe(core.CallbackLeaderboardFindResult, func(_ context.Context, m core.CallbackMsg) { posted = append(posted, m) })

	call := calls.Begin(7, core.CallbackLeaderboardFindResult)
	require.NotEqual(t, core.InvalidAPICall, call)
	done, failed := calls.IsCompleted(call)
	assert.False(t, done)
	assert.False(t, failed)
	_, ok := calls.Result(call)
	assert.False(t, ok, "no result before completion")

	require.NoError(t, calls.Complete(context.Background(), call, core.LeaderboardFindResult{Leaderboard: 4, LeaderboardFound: 1}))
	assert.ErrorIs(t, calls.Complete(context.Background(), call, core.LeaderboardFindResult{}), core.ErrInvalidHandle, "completes once")

	require.Len(t, posted, 1)
	assert.Equal(t, call, posted[0].Call)
	assert.Equal(t, core.HUser(7), posted[0].User)

	done, failed = calls.IsCompleted(call)
	assert.True(t, done)
	assert.False(t, failed)
	msg, ok := calls.Result(call)
	require.True(t, ok)
	assert.Equal(t, core.LeaderboardFindResult{Leaderboard: 4, LeaderboardFound: 1}, msg.Param)
	_, ok = calls.Result(call)
	assert.False(t, ok, "results are taken once")
	assert.Equal(t, 0, calls.Pending())
}

func TestCallResultsIDsIncrease(t *testing.T) {
	calls := NewCallResults(NewDispatcher(DispatchSync))
	a := calls.Begin(1, core.CallbackUserStatsReceived)
	b := calls.Begin(1, core.CallbackUserStatsReceived)
	assert.Greater(t, uint64(b), uint64(a))
	assert.Equal(t, uint64(2), calls.Begun())
}

func TestCallResultsWrongRecordPanics(t *testing.T) {
	calls := NewCallResults(NewDispatcher(DispatchSync))
	call := calls.Begin(1, core.CallbackLeaderboardFindResult)
	assert.Panics(t, func() {
		_ = calls.Complete(context.Background(), call, core.UserStatsStored{})
	})
}

func TestCallResultsFail(t *testing.T) {
	calls := NewCallResults(NewDispatcher(DispatchSync))
	call := calls.Begin(1, core.CallbackLeaderboardScoresDownloaded)
	require.NoError(t, calls.Fail(context.Background(), call))
	done, failed := calls.IsCompleted(call)
	assert.True(t, done)
	assert.True(t, failed)
	msg, ok := calls.Result(call)
	require.True(t, ok)
	assert.True(t, msg.Failed)
	assert.Nil(t, msg.Param)

	_, failed = calls.IsCompleted(12345)
	assert.True(t, failed, "unknown calls report failed")
}

func TestCallResultsAwait(t *testing.T) {
	calls := NewCallResults(NewDispatcher(DispatchSync))
	call := calls.Begin(1, core.CallbackUserStatsReceived)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = calls.Complete(context.Background(), call, core.UserStatsReceived{Result: core.ResultOK})
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := calls.Await(ctx, call)
	require.NoError(t, err)
	assert.Equal(t, core.ResultOK, msg.Param.(core.UserStatsReceived).Result)

	pending := calls.Begin(1, core.CallbackUserStatsReceived)
	short, cancel2 := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel2()
	_, err = calls.Await(short, pending)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	calls.Drop(1)
	_, err = calls.Await(context.Background(), pending)
	assert.ErrorIs(t, err, core.ErrInvalidHandle)
}

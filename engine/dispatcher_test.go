package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"steamkit/core"
)

func TestDispatcherSync(t *testing.T) {
	bus := NewDispatcher(DispatchSync)
	count := 0
	bus.Subscribe(core.CallbackSteamServersConnected, func(ctx context.Context, m core.CallbackMsg) { count++ })
	bus.Post(context.Background(), core.NewCallbackMsg(1, core.SteamServersConnected{}))
	bus.Post(context.Background(), core.NewCallbackMsg(1, core.SteamServersDisconnected{}))
	if count != 1 {
		t.Fatalf("want 1 got %d", count)
	}
}

func TestDispatcherUnsubscribe(t *testing.T) {
	bus := NewDispatcher(DispatchSync)
	count := 0
	unsub := bus.SubscribeAll(func(ctx context.Context, m core.CallbackMsg) { count++ })
	bus.Post(context.Background(), core.NewCallbackMsg(1, core.SteamServersConnected{}))
	unsub()
	bus.Post(context.Background(), core.NewCallbackMsg(1, core.SteamServersConnected{}))
	if count != 1 {
		t.Fatalf("want 1 got %d", count)
	}
	if bus.Posted() != 2 {
		t.Fatalf("posted %d", bus.Posted())
	}
}

func TestDispatcherAsync(t *testing.T) {
	bus := NewDispatcher(DispatchAsync)
	defer bus.Close()
	ch := make(chan struct{})
	bus.Subscribe(core.CallbackUserStatsStored, func(ctx context.Context, m core.CallbackMsg) { close(ch) })
	bus.Post(context.Background(), core.NewCallbackMsg(1, core.UserStatsStored{Result: core.ResultOK}))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestDispatcherOverflowFlushes(t *testing.T) {
	bus := NewDispatcher(DispatchAsync, WithQueueSize(2), WithDispatchWorkers(1))
	defer bus.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	bus.Subscribe(core.CallbackSteamServersConnected, func(ctx context.Context, m core.CallbackMsg) {
		once.Do(func() { close(started) })
		<-release
	})
	var mu sync.Mutex
	failures := map[core.HUser]int{}
	bus.Subscribe(core.CallbackPipeFailureID, func(ctx context.Context, m core.CallbackMsg) {
		mu.Lock()
		failures[m.User]++
		mu.Unlock()
	})

	ctx := context.Background()
	// occupy the only worker, then fill the queue
	bus.Post(ctx, core.NewCallbackMsg(1, core.SteamServersConnected{}))
	<-started
	bus.Post(ctx, core.NewCallbackMsg(1, core.SteamServersConnected{}))
	bus.Post(ctx, core.NewCallbackMsg(2, core.SteamServersConnected{}))
	bus.Post(ctx, core.NewCallbackMsg(3, core.SteamServersConnected{}))
	close(release)

	mu.Lock()
	defer mu.Unlock()
	if len(failures) != 3 || failures[1] != 1 || failures[2] != 1 || failures[3] != 1 {
		t.Fatalf("want one pipe failure per session, got %v", failures)
	}
	if bus.Flushed() != 3 {
		t.Fatalf("flushed %d", bus.Flushed())
	}
}

func TestDispatcherCloseDeliversQueued(t *testing.T) {
	bus := NewDispatcher(DispatchAsync, WithDispatchWorkers(1))
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	delivered := 0
	bus.Subscribe(core.CallbackSteamServersConnected, func(ctx context.Context, m core.CallbackMsg) {
		once.Do(func() {
			close(started)
			<-release
		})
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	ctx := context.Background()
	bus.Post(ctx, core.NewCallbackMsg(1, core.SteamServersConnected{}))
	<-started
	bus.Post(ctx, core.NewCallbackMsg(2, core.SteamServersConnected{}))
	bus.Post(ctx, core.NewCallbackMsg(3, core.SteamServersConnected{}))
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if delivered != 3 {
		t.Fatalf("want 3 delivered after close, got %d", delivered)
	}
}

package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"steamkit/core"
)

type pendingCall struct {
	user   core.HUser
	expect int
	done   chan struct{}
	msg    core.CallbackMsg
	ready  bool
}

// CallResults tracks asynchronous calls from Begin until their one-shot result is taken.
type CallResults struct {
	mu      sync.Mutex
	next    uint64
	pending map[core.APICall]*pendingCall
	bus     *Dispatcher

	begun     atomic.Uint64
	completed atomic.Uint64
}

func NewCallResults(bus *Dispatcher) *CallResults {
	if bus == nil {
		panic("NewCallResults requires a dispatcher")
	}
	return &CallResults{pending: make(map[core.APICall]*pendingCall), bus: bus}
}

// Begin allocates a call whose result will carry the expected discriminant.
func (c *CallResults) Begin(user core.HUser, expect int) core.APICall {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	call := core.APICall(c.next)
	c.pending[call] = &pendingCall{user: user, expect: expect, done: make(chan struct{})}
	c.begun.Add(1)
	return call
}

// Complete records the result of call and posts it. A record of the wrong type panics.
func (c *CallResults) Complete(ctx context.Context, call core.APICall, rec core.Callback) error {
	return c.finish(ctx, call, rec, false)
}

// Fail marks call as failed. Its result carries no record.
func (c *CallResults) Fail(ctx context.Context, call core.APICall) error {
	return c.finish(ctx, call, nil, true)
}

func (c *CallResults) finish(ctx context.Context, call core.APICall, rec core.Callback, failed bool) error {
	c.mu.Lock()
	p, ok := c.pending[call]
	if !ok || p.ready {
		c.mu.Unlock()
		return fmt.Errorf("call %d: %w", call, core.ErrInvalidHandle)
	}
	if rec != nil && rec.CallbackID() != p.expect {
		c.mu.Unlock()
		panic(fmt.Sprintf("call %d completed with %s, expected %s", call, core.CallbackName(rec.CallbackID()), core.CallbackName(p.expect)))
	}
	p.msg = core.CallbackMsg{
		User:     p.user,
		Callback: p.expect,
		Call:     call,
		Param:    rec,
		Posted:   time.Now().UTC(),
		Failed:   failed,
	}
	p.ready = true
	msg := p.msg
	close(p.done)
	c.mu.Unlock()

	c.completed.Add(1)
	c.bus.Post(ctx, msg)
	return nil
}

// IsCompleted reports whether call has a result waiting. Unknown calls report failed.
func (c *CallResults) IsCompleted(call core.APICall) (done, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[call]
	if !ok {
		return false, true
	}
	return p.ready, p.ready && p.msg.Failed
}

// Owner returns the session that began call.
func (c *CallResults) Owner(call core.APICall) (core.HUser, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[call]
	if !ok {
		return 0, false
	}
	return p.user, true
}

// Result removes and returns the result of a completed call.
func (c *CallResults) Result(call core.APICall) (core.CallbackMsg, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[call]
	if !ok || !p.ready {
		return core.CallbackMsg{}, false
	}
	delete(c.pending, call)
	return p.msg, true
}

// Await blocks until call completes or ctx is done, then takes its result.
func (c *CallResults) Await(ctx context.Context, call core.APICall) (core.CallbackMsg, error) {
	c.mu.Lock()
	p, ok := c.pending[call]
	c.mu.Unlock()
	if !ok {
		return core.CallbackMsg{}, fmt.Errorf("call %d: %w", call, core.ErrInvalidHandle)
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		return core.CallbackMsg{}, ctx.Err()
	}
	msg, ok := c.Result(call)
	if !ok {
		return core.CallbackMsg{}, fmt.Errorf("call %d already taken: %w", call, core.ErrInvalidHandle)
	}
	return msg, nil
}

// Abandon forgets a call that was never started.
func (c *CallResults) Abandon(call core.APICall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[call]; ok && !p.ready {
		close(p.done)
	}
	delete(c.pending, call)
}

// Drop forgets every call owned by user, completed or not.
func (c *CallResults) Drop(user core.HUser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range c.pending {
		if p.user != user {
			continue
		}
		if !p.ready {
			p.ready = true
			p.msg = core.CallbackMsg{User: user, Callback: p.expect, Call: id, Failed: true}
			close(p.done)
		}
		delete(c.pending, id)
	}
}

// Begun and Completed count calls over the registry's lifetime.
func (c *CallResults) Begun() uint64     { return c.begun.Load() }
func (c *CallResults) Completed() uint64 { return c.completed.Load() }

// Pending returns the number of calls not yet taken.
func (c *CallResults) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

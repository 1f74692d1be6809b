package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"steamkit/core"
)

type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

// ParseDispatchMode accepts "sync" and "async".
func ParseDispatchMode(s string) (DispatchMode, bool) {
	switch s {
	case "sync":
		return DispatchSync, true
	case "async":
		return DispatchAsync, true
	}
	return DispatchSync, false
}

type subscription struct {
	id int64
	fn func(context.Context, core.CallbackMsg)
}

// Dispatcher delivers callback messages to subscribers keyed by discriminant,
// either on the posting goroutine or through a bounded queue and worker pool.
type Dispatcher struct {
	mode    DispatchMode
	mu      sync.RWMutex
	subs    map[int]map[int64]subscription
	all     map[int64]subscription
	nextID  int64
	queue   chan core.CallbackMsg
	workers int
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	flushMu sync.Mutex

	posted  atomic.Uint64
	flushed atomic.Uint64
}

type DispatcherOption func(*Dispatcher)

// WithQueueSize bounds the async queue.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan core.CallbackMsg, n)
		}
	}
}

// WithDispatchWorkers sets the async worker count.
func WithDispatchWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithDispatchLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func NewDispatcher(mode DispatchMode, opts ...DispatcherOption) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		mode:    mode,
		subs:    make(map[int]map[int64]subscription),
		all:     make(map[int64]subscription),
		queue:   make(chan core.CallbackMsg, 2048),
		workers: 4,
		logger:  zap.NewNop(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	if mode == DispatchAsync {
		d.startWorkers()
	}
	return d
}

func (d *Dispatcher) Mode() DispatchMode { return d.mode }

func (d *Dispatcher) startWorkers() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case msg := <-d.queue:
					d.dispatchSync(context.Background(), msg)
				case <-d.ctx.Done():
					return
				}
			}
		}()
	}
}

// Close stops async workers, waits for them to exit, then delivers whatever is
// still queued on the calling goroutine.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
	if d.queue == nil {
		return
	}
	for {
		select {
		case msg := <-d.queue:
			d.dispatchSync(context.Background(), msg)
		default:
			return
		}
	}
}

// Subscribe registers a handler for one discriminant. Returns unsubscribe func.
func (d *Dispatcher) Subscribe(callback int, handler func(context.Context, core.CallbackMsg)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	if d.subs[callback] == nil {
		d.subs[callback] = make(map[int64]subscription)
	}
	d.subs[callback][id] = subscription{id: id, fn: handler}
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if m := d.subs[callback]; m != nil {
			delete(m, id)
		}
	}
}

// SubscribeAll registers a handler for every callback. Returns unsubscribe func.
func (d *Dispatcher) SubscribeAll(handler func(context.Context, core.CallbackMsg)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.all[id] = subscription{id: id, fn: handler}
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.all, id)
	}
}

// Post delivers msg to subscribers. In async mode a full queue puts the pipe
// into an error state: pending messages are flushed and every affected session
// receives one CallbackPipeFailure, delivered synchronously.
func (d *Dispatcher) Post(ctx context.Context, msg core.CallbackMsg) {
	d.posted.Add(1)
	if d.mode == DispatchAsync {
		select {
		case d.queue <- msg:
			return
		default:
		}
		d.overflow(ctx, msg)
		return
	}
	d.dispatchSync(ctx, msg)
}

func (d *Dispatcher) overflow(ctx context.Context, dropped core.CallbackMsg) {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()
	affected := map[core.HUser]struct{}{dropped.User: {}}
	n := uint64(1)
drain:
	for {
		select {
		case msg := <-d.queue:
			affected[msg.User] = struct{}{}
			n++
		default:
			break drain
		}
	}
	d.flushed.Add(n)
	d.logger.Warn("callback queue overflow, flushed pending callbacks",
		zap.Uint64("flushed", n),
		zap.Int("sessions", len(affected)),
	)
	for user := range affected {
		d.dispatchSync(ctx, core.NewCallbackMsg(user, core.CallbackPipeFailure{}))
	}
}

func (d *Dispatcher) dispatchSync(ctx context.Context, msg core.CallbackMsg) {
	d.mu.RLock()
	subs := d.subs[msg.Callback]
	// copy to avoid holding lock during callbacks
	handlers := make([]func(context.Context, core.CallbackMsg), 0, len(subs)+len(d.all))
	for _, s := range subs {
		handlers = append(handlers, s.fn)
	}
	for _, s := range d.all {
		handlers = append(handlers, s.fn)
	}
	d.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, msg)
	}
}

// Posted returns the number of messages handed to Post.
func (d *Dispatcher) Posted() uint64 { return d.posted.Load() }

// Flushed returns the number of messages lost to queue overflow.
func (d *Dispatcher) Flushed() uint64 { return d.flushed.Load() }

package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"steamkit/core"
)

// Hub is a simple pub/sub for broadcasting callback messages to channels.
// Broadcast has the dispatcher handler signature, so a hub is attached with
// platform.SubscribeAll(hub.Broadcast).
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Uint64
}

type subscriber struct {
	ch    chan core.CallbackMsg
	users map[core.HUser]struct{}
}

func NewHub() *Hub { return &Hub{subs: map[int]subscriber{}} }

// Subscribe registers a channel. With users given, only messages addressed
// to those handles are delivered.
func (h *Hub) Subscribe(buffer int, users ...core.HUser) (int, <-chan core.CallbackMsg) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	s := subscriber{ch: make(chan core.CallbackMsg, buffer)}
	if len(users) > 0 {
		s.users = make(map[core.HUser]struct{}, len(users))
		for _, u := range users {
			s.users[u] = struct{}{}
		}
	}
	h.subs[id] = s
	return id, s.ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
}

func (h *Hub) Broadcast(_ context.Context, msg core.CallbackMsg) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.users != nil {
			if _, ok := s.users[msg.User]; !ok {
				continue
			}
		}
		select {
		case s.ch <- msg:
		default: /* drop if full */
			h.dropped.Add(1)
		}
	}
}

// Subscribers reports the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports messages discarded because a subscriber was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// MarshalJSON is a helper to convert messages to JSON bytes for WebSocket/SSE.
func MarshalJSON(msg core.CallbackMsg) []byte {
	b, _ := json.Marshal(msg)
	return b
}

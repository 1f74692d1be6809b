package websocket

import (
	"net/http"
	"strconv"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"steamkit/core"
	"steamkit/realtime"
)

const writeWait = 5 * time.Second

// Handler returns an http.Handler that upgrades to WebSocket and streams callback
// messages from the hub. Repeated ?user=<handle> parameters restrict the stream to
// those sessions.
func Handler(hub *realtime.Hub) http.Handler {
	upgrader := gorillaws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var users []core.HUser
		for _, raw := range r.URL.Query()["user"] {
			v, err := strconv.ParseInt(raw, 10, 32)
			if err != nil || v <= 0 {
				http.Error(w, "invalid user handle", http.StatusBadRequest)
				return
			}
			users = append(users, core.HUser(v))
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		id, ch := hub.Subscribe(256, users...)
		defer hub.Unsubscribe(id)

		// the read side only notices the peer going away
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(gorillaws.TextMessage, realtime.MarshalJSON(msg)); err != nil {
					return
				}
			}
		}
	})
}

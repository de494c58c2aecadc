package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	wsPongWait     = 60 * time.Second
	wsPingInterval = 20 * time.Second
)

// handleWS streams session events as JSON websocket messages. Client
// messages are read and discarded.
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	s, err := h.owned(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter := parseStreamFilter(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := h.stream.Subscribe(s.ID, 256)
	defer h.stream.Unsubscribe(s.ID, ch)

	lastSent := filter.lastID
	for _, ev := range h.stream.ReplaySince(s.ID, filter.lastID) {
		lastSent = ev.Seq
		if !filter.allows(ev) {
			continue
		}
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Seq <= lastSent {
				continue
			}
			lastSent = ev.Seq
			if !filter.allows(ev) {
				continue
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

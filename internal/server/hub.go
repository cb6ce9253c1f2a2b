package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/avatarchat/internal/bus"
)

const (
	viewerBuffer = 64
	pingPeriod   = 30 * time.Second
	pongWait     = 2 * pingPeriod
)

// viewerFrame is what /ws viewers receive: every bus event, and one state
// frame right after connecting.
type viewerFrame struct {
	Type  string     `json:"type"`
	Event *bus.Event `json:"event,omitempty"`
	State any        `json:"state,omitempty"`
}

// Hub pushes bus events to UI websocket viewers. Slow viewers miss frames
// rather than stall the session.
type Hub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.RWMutex
	viewers map[*viewer]struct{}
}

type viewer struct {
	conn *websocket.Conn
	send chan viewerFrame
}

// NewHub creates a hub. checkOrigin may be nil for gorilla's same-origin rule.
func NewHub(checkOrigin func(*http.Request) bool, logger zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		logger:   logger.With().Str("component", "ws-hub").Logger(),
		viewers:  make(map[*viewer]struct{}),
	}
}

// Attach forwards every session event type to the viewers.
func (h *Hub) Attach(b *bus.EventBus) {
	b.SubscribeMultiple(bus.AllEventTypes, h.Broadcast)
}

// Broadcast queues e for every viewer.
func (h *Hub) Broadcast(e bus.Event) {
	frame := viewerFrame{Type: "event", Event: &e}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for v := range h.viewers {
		select {
		case v.send <- frame:
		default:
			h.logger.Debug().Str("event", string(e.Type)).Msg("Viewer too slow, frame dropped")
		}
	}
}

// Count returns the number of connected viewers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Serve upgrades the request and streams frames until the viewer leaves.
// snapshot, when non-nil, is taken after the viewer is registered and sent
// first as a state frame, so no event published after it can be missed.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, snapshot func() any) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	v := &viewer{conn: conn, send: make(chan viewerFrame, viewerBuffer)}

	// Broadcast waits on h.mu, so the state frame is queued ahead of any
	// event published after the snapshot.
	h.mu.Lock()
	h.viewers[v] = struct{}{}
	if snapshot != nil {
		v.send <- viewerFrame{Type: "state", State: snapshot()}
	}
	h.mu.Unlock()

	go h.writePump(v)
	h.readPump(v)
}

func (h *Hub) remove(v *viewer) {
	h.mu.Lock()
	if _, ok := h.viewers[v]; ok {
		delete(h.viewers, v)
		close(v.send)
	}
	h.mu.Unlock()
}

// readPump discards viewer input and detects disconnects.
func (h *Hub) readPump(v *viewer) {
	defer func() {
		h.remove(v)
		v.conn.Close()
	}()

	v.conn.SetReadLimit(4096)
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(v *viewer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				v.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := v.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for v := range h.viewers {
		delete(h.viewers, v)
		close(v.send)
	}
}

// Package feed pushes persisted location updates to connected map clients
// over WebSocket.
package feed

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/volantir/volantir/internal/game"
)

// Update is one location event as serialized to feed subscribers.
type Update struct {
	UserID    string    `json:"userId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy"`
	Speed     float64   `json:"speed"`
	Battery   float64   `json:"battery"`
	Activity  string    `json:"activity"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	subscriberSlack = 16
)

type subscriber struct {
	conn *websocket.Conn
	send chan Update
}

// Hub fans persisted location updates out to WebSocket subscribers. A slow
// subscriber that cannot drain its buffer is dropped rather than allowed to
// stall the publishers.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The feed serves a trusted admin surface.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subs: make(map[*subscriber]struct{}),
	}
}

// HandleWS upgrades the request and streams updates until the client leaves.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("feed upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	sub := &subscriber{conn: conn, send: make(chan Update, subscriberSlack)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()
	h.log.Info("feed subscriber connected", "remote", r.RemoteAddr, "subscribers", count)

	go h.writeLoop(sub)
	h.readLoop(sub)
}

// PublishLocation broadcasts a persisted fix. Safe to call on a nil hub so
// callers without a feed need no guard.
func (h *Hub) PublishLocation(userID string, fix game.Fix) {
	if h == nil {
		return
	}
	update := Update{
		UserID:    userID,
		Lat:       fix.Lat,
		Lng:       fix.Lng,
		Accuracy:  fix.Accuracy,
		Speed:     fix.Speed,
		Battery:   fix.Battery,
		Activity:  fix.Activity,
		UpdatedAt: fix.UpdatedAt,
	}

	h.mu.Lock()
	for sub := range h.subs {
		select {
		case sub.send <- update:
		default:
			// Buffer full: the subscriber is not keeping up.
			delete(h.subs, sub)
			close(sub.send)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) drop(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.send)
	}
	h.mu.Unlock()
	sub.conn.Close()
}

// readLoop consumes (and discards) client frames so pongs are processed and
// a hangup is noticed promptly.
func (h *Hub) readLoop(sub *subscriber) {
	defer h.drop(sub)
	sub.conn.SetReadLimit(512)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()
	for {
		select {
		case update, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := sub.conn.WriteJSON(update); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

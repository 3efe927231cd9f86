package feed

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volantir/volantir/internal/game"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (h *Hub) subscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(testLogger())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return hub.subscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	hub.PublishLocation("u1", game.Fix{
		Lat: 40.1, Lng: -74.2, Accuracy: 5, Speed: 1.5, Battery: 0.8,
		Activity: "walking", UpdatedAt: at,
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var update Update
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, "u1", update.UserID)
	assert.Equal(t, 40.1, update.Lat)
	assert.Equal(t, "walking", update.Activity)
	assert.True(t, update.UpdatedAt.Equal(at))
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(testLogger())

	// A subscriber with no draining write loop: its buffer fills and the
	// hub must cut it loose instead of blocking publishers.
	sub := &subscriber{send: make(chan Update, subscriberSlack)}
	hub.mu.Lock()
	hub.subs[sub] = struct{}{}
	hub.mu.Unlock()

	for i := 0; i <= subscriberSlack; i++ {
		hub.PublishLocation("u1", game.Fix{Lat: float64(i)})
	}

	assert.Equal(t, 0, hub.subscriberCount())
	_, open := <-sub.send
	assert.True(t, open) // buffered updates drain first
}

func TestPublishOnNilHub(t *testing.T) {
	var hub *Hub
	// Must not panic.
	hub.PublishLocation("u1", game.Fix{})
}

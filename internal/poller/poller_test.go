package poller

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volantir/volantir/internal/game"
	"github.com/volantir/volantir/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend records RPC calls and serves canned location documents.
type fakeBackend struct {
	mu      sync.Mutex
	calls   []string
	headers http.Header
	batch   string
	single  string
}

func (f *fakeBackend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.URL.Path)
		f.headers = r.Header.Clone()
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/rest/v1/rpc/location-request":
			_, _ = w.Write([]byte(`null`))
		case "/rest/v1/rpc/get_map_user_full_v2":
			_, _ = w.Write([]byte(f.single))
		case "/rest/v1/rpc/get_user_locations_by_user_ids_minimal_v2":
			_, _ = w.Write([]byte(f.batch))
		default:
			http.NotFound(w, r)
		}
	})
}

func (f *fakeBackend) calledPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) lastHeaders() http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers
}

func newTestPoller(t *testing.T, backend *fakeBackend) (*Poller, *store.Store) {
	t.Helper()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientOptions{
		BaseURL: srv.URL,
		GameID:  "g1",
		Timeout: 5 * time.Second,
	}, testLogger())
	require.NoError(t, err)

	st, err := store.Open(filepath.Join(t.TempDir(), "poller.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return New(client, st, nil, testLogger(), time.Hour), st
}

func seedDriver(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertUsers(ctx, []store.User{
		{ID: "driver", FirstName: "D", HasPremium: true},
	}))
	require.NoError(t, st.SetCredentials(ctx, "driver", store.Credentials{
		AuthToken: "Bearer drv", APIKey: "anon-key",
	}))
}

func TestRefreshUser(t *testing.T) {
	backend := &fakeBackend{
		single: `{"u": "u1", "l": "40.5", "lo": "-73.9", "a": "on_foot", "ac": "4.0",
			"up": "2026-08-30T12:00:00Z", "bl": "0.7", "ic": "false", "s": "2.0"}`,
	}
	p, st := newTestPoller(t, backend)
	ctx := context.Background()
	seedDriver(t, st)
	require.NoError(t, st.UpsertUsers(ctx, []store.User{{ID: "u1", FirstName: "U"}}))

	rec := p.RefreshUser(ctx, "u1")
	require.NotNil(t, rec)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, "40.5", rec.Lat)

	paths := backend.calledPaths()
	require.Len(t, paths, 2)
	assert.Equal(t, "/rest/v1/rpc/location-request", paths[0])
	assert.Equal(t, "/rest/v1/rpc/get_map_user_full_v2", paths[1])

	headers := backend.lastHeaders()
	assert.Equal(t, "Bearer drv", headers.Get("Authorization"))
	assert.Equal(t, "anon-key", headers.Get("apikey"))
	assert.Equal(t, "Splashin/5 CFNetwork/3860.100.1 Darwin/25.0.0", headers.Get("User-Agent"))
	assert.Equal(t, "supabase-js-react-native/2.52.1", headers.Get("x-client-info"))
	assert.Equal(t, "public", headers.Get("content-profile"))

	// The row update runs detached from the call.
	require.Eventually(t, func() bool {
		u, err := st.UserByID(ctx, "u1")
		return err == nil && u != nil && u.Lat != nil
	}, 2*time.Second, 10*time.Millisecond)

	u, err := st.UserByID(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 40.5, *u.Lat, 1e-9)
	assert.Equal(t, "walking", *u.Activity)
}

func TestRefreshUserWithoutDriver(t *testing.T) {
	backend := &fakeBackend{}
	p, _ := newTestPoller(t, backend)

	rec := p.RefreshUser(context.Background(), "u1")
	assert.Nil(t, rec)
	assert.Empty(t, backend.calledPaths())
}

func TestRefreshAllClearsAbsentUsers(t *testing.T) {
	backend := &fakeBackend{
		batch: `[
			{"u": "u1", "l": 40.1, "lo": -74.2, "a": "still", "ac": 5.0,
			 "up": "2026-08-30T12:00:00Z", "bl": 0.8, "ic": false, "s": 0}
		]`,
	}
	p, st := newTestPoller(t, backend)
	ctx := context.Background()
	seedDriver(t, st)
	require.NoError(t, st.UpsertUsers(ctx, []store.User{
		{ID: "u1", FirstName: "U"}, {ID: "u2", FirstName: "V"},
	}))
	// u2 had a location before it dropped out of the backend's answer.
	now := time.Now().UTC()
	require.NoError(t, st.UpdateLocation(ctx, "u2", mustFix(41.0, -75.0, now)))

	updated := p.RefreshAll(ctx)
	assert.Equal(t, 1, updated)

	u1, err := st.UserByID(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, u1.Lat)
	assert.InDelta(t, 40.1, *u1.Lat, 1e-9)

	u2, err := st.UserByID(ctx, "u2")
	require.NoError(t, err)
	assert.Nil(t, u2.Lat)
	assert.Nil(t, u2.LocationUpdatedAt)
	assert.Nil(t, u2.Activity)
}

func TestRefreshAllKeepsUsersWithIncompleteRecords(t *testing.T) {
	backend := &fakeBackend{
		batch: `[
			{"u": "u1", "l": 40.1, "lo": -74.2, "a": "still", "ac": 5.0,
			 "up": "2026-08-30T12:00:00Z", "bl": 0.8, "ic": false, "s": 0},
			{"u": "u2", "lo": -74.3}
		]`,
	}
	p, st := newTestPoller(t, backend)
	ctx := context.Background()
	seedDriver(t, st)
	require.NoError(t, st.UpsertUsers(ctx, []store.User{
		{ID: "u1", FirstName: "U"}, {ID: "u2", FirstName: "V"},
	}))
	now := time.Now().UTC()
	require.NoError(t, st.UpdateLocation(ctx, "u2", mustFix(41.0, -75.0, now)))

	updated := p.RefreshAll(ctx)
	assert.Equal(t, 1, updated)

	// u2 was reported but its record failed validation: the stale fix stays,
	// it is not mistaken for a user who dropped out of the feed.
	u2, err := st.UserByID(ctx, "u2")
	require.NoError(t, err)
	require.NotNil(t, u2.Lat)
	assert.InDelta(t, 41.0, *u2.Lat, 1e-9)
	require.NotNil(t, u2.Activity)
}

func TestWatchDiscardsStaleGeneration(t *testing.T) {
	backend := &fakeBackend{
		single: `{"u": "u1", "l": "40.5", "lo": "-73.9", "a": "still", "ac": "4.0",
			"up": "2026-08-30T12:00:00Z", "bl": "0.7", "ic": "false", "s": "0"}`,
	}
	p, st := newTestPoller(t, backend)
	ctx := context.Background()
	seedDriver(t, st)
	require.NoError(t, st.UpsertUsers(ctx, []store.User{{ID: "u1", FirstName: "U"}}))

	// Generation 1 fetches, but generation 2 supersedes it before the result
	// lands: nothing may be persisted.
	p.mu.Lock()
	p.gen = 2
	p.mu.Unlock()
	p.pollOnce(ctx, 1, "u1")

	u, err := st.UserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, u.Lat)

	// The live generation persists synchronously.
	p.pollOnce(ctx, 2, "u1")
	u, err = st.UserByID(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, u.Lat)
	assert.InDelta(t, 40.5, *u.Lat, 1e-9)
}

func TestSelectAndStop(t *testing.T) {
	backend := &fakeBackend{
		single: `{"u": "u1", "l": "1", "lo": "2", "a": "still", "ac": "1",
			"bl": "1", "ic": "false", "s": "0"}`,
	}
	p, st := newTestPoller(t, backend)
	seedDriver(t, st)

	gen := p.Select("u1")
	state := p.StateSnapshot()
	assert.Equal(t, "polling", state.Mode)
	assert.Equal(t, "u1", state.Target)
	assert.Equal(t, gen, state.Generation)

	gen2 := p.Select("u2")
	assert.Greater(t, gen2, gen)

	p.Stop()
	state = p.StateSnapshot()
	assert.Equal(t, "idle", state.Mode)
	assert.Empty(t, state.Target)
}

func mustFix(lat, lng float64, at time.Time) game.Fix {
	return game.Fix{Lat: lat, Lng: lng, Accuracy: 5, Speed: 0, Battery: 1, Activity: "still", UpdatedAt: at}
}

func TestClientRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"nope"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := NewClient(ClientOptions{BaseURL: srv.URL, GameID: "g1"}, testLogger())
	require.NoError(t, err)

	_, err = client.FetchFix(context.Background(), store.Credentials{}, "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 401")
}

func TestClientPayloads(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies = append(bodies, body)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client, err := NewClient(ClientOptions{BaseURL: srv.URL, GameID: "g1"}, testLogger())
	require.NoError(t, err)
	ctx := context.Background()
	creds := store.Credentials{AuthToken: "t", APIKey: "k"}

	require.NoError(t, client.RequestFix(ctx, creds, "u1"))
	_, err = client.FetchBatch(ctx, creds, []string{"u1", "u2"})
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.Equal(t, "location-request", bodies[0]["queue_name"])
	assert.Equal(t, "u1", bodies[0]["uid"])
	assert.Equal(t, "g1", bodies[1]["gid"])
	assert.Equal(t, []any{"u1", "u2"}, bodies[1]["user_ids"])
}

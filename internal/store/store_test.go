package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/volantir/volantir/internal/game"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func strptr(s string) *string { return &s }

func TestUpsertUsersConverges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := User{ID: "u1", FirstName: "Ada", LastName: "L", TeamID: strptr("t1")}
	second := User{ID: "u1", FirstName: "Ada", LastName: "Lovelace", TeamID: strptr("t2"), HasPremium: true}

	require.NoError(t, s.UpsertUsers(ctx, []User{first}))
	require.NoError(t, s.UpsertUsers(ctx, []User{second}))

	got, err := s.UserByID(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "Lovelace", got.LastName)
	require.Equal(t, "t2", *got.TeamID)
	require.True(t, got.HasPremium)
}

func TestUpsertUsersPreservesLocation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertUsers(ctx, []User{{ID: "u1", FirstName: "Ada"}}))
	fix := game.Fix{Lat: 29.7, Lng: -95.4, Accuracy: 5, Speed: 1.2, Battery: 0.8, Activity: game.ActivityWalking, UpdatedAt: time.Now().UTC()}
	require.NoError(t, s.UpdateLocation(ctx, "u1", fix))

	// A later roster observation must not clobber the fix.
	require.NoError(t, s.UpsertUsers(ctx, []User{{ID: "u1", FirstName: "Ada", LastName: "L"}}))

	got, err := s.UserByID(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got.Lat)
	require.InDelta(t, 29.7, *got.Lat, 1e-9)
	require.Equal(t, game.ActivityWalking, *got.Activity)
}

func TestInsertTargetsIgnoresDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rel := TargetRelation{Round: "3", UserID: "u1", TargetID: "u2", Source: SourceProxy}
	require.NoError(t, s.InsertTargets(ctx, []TargetRelation{rel}))

	// Second observation with different provenance must not overwrite.
	rel.Source = SourceGame
	require.NoError(t, s.InsertTargets(ctx, []TargetRelation{rel}))

	graph, err := s.UsersWithTargets(ctx)
	require.NoError(t, err)
	require.Empty(t, graph) // u1 row itself was never upserted

	require.NoError(t, s.UpsertUsers(ctx, []User{{ID: "u1"}}))
	graph, err = s.UsersWithTargets(ctx)
	require.NoError(t, err)
	require.Len(t, graph, 1)
	require.Len(t, graph[0].Targets, 1)
	require.Equal(t, SourceProxy, graph[0].Targets[0].Source)
}

func TestApplyBulkLocationsClearsAbsentUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertUsers(ctx, []User{{ID: "u1"}, {ID: "u2"}}))
	now := time.Now().UTC()
	fix := game.Fix{Lat: 1, Lng: 2, Accuracy: 3, Speed: 4, Battery: 5, Activity: game.ActivityStill, UpdatedAt: now}
	require.NoError(t, s.UpdateLocation(ctx, "u1", fix))
	require.NoError(t, s.UpdateLocation(ctx, "u2", fix))

	// u2 is absent from the refresh response.
	err := s.ApplyBulkLocations(ctx, map[string]game.Fix{"u1": fix}, []string{"u2"})
	require.NoError(t, err)

	u1, err := s.UserByID(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, u1.Lat)

	u2, err := s.UserByID(ctx, "u2")
	require.NoError(t, err)
	require.Nil(t, u2.Lat)
	require.Nil(t, u2.Lng)
	require.Nil(t, u2.LocationUpdatedAt)
	require.Nil(t, u2.Activity)
	require.Nil(t, u2.Accuracy)
	require.Nil(t, u2.Speed)
	require.Nil(t, u2.Battery)
}

func TestDriverSelection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	driver, err := s.Driver(ctx)
	require.NoError(t, err)
	require.Nil(t, driver)

	require.NoError(t, s.UpsertUsers(ctx, []User{
		{ID: "b", HasPremium: true},
		{ID: "a", HasPremium: true},
		{ID: "c", HasPremium: false},
	}))
	require.NoError(t, s.SetCredentials(ctx, "b", Credentials{AuthToken: "tok-b", APIKey: "key-b"}))
	require.NoError(t, s.SetCredentials(ctx, "a", Credentials{AuthToken: "tok-a", APIKey: "key-a"}))

	driver, err = s.Driver(ctx)
	require.NoError(t, err)
	require.NotNil(t, driver)
	require.Equal(t, "a", driver.ID) // lowest id wins deterministically
}

func TestFakeTargetTeamAndPauseAccessors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertUsers(ctx, []User{{ID: "u1"}}))
	require.NoError(t, s.BindIdentity(ctx, "u1", "alice"))

	require.NoError(t, s.SetFakeTargetTeam(ctx, "alice", strptr("team-9")))
	got, err := s.UserByIdentity(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got.FakeTargetTeamID)
	require.Equal(t, "team-9", *got.FakeTargetTeamID)

	require.NoError(t, s.SetFakeTargetTeam(ctx, "alice", nil))
	got, err = s.UserByIdentity(ctx, "alice")
	require.NoError(t, err)
	require.Nil(t, got.FakeTargetTeamID)

	until := time.Now().Add(time.Hour).UTC()
	require.NoError(t, s.SetLocationPause(ctx, "alice", &until))
	got, err = s.UserByIdentity(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got.LocationPausedUntil)
}

func TestUsersWithLocation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertUsers(ctx, []User{{ID: "u1"}, {ID: "u2"}}))
	fix := game.Fix{Lat: 10, Lng: 20, Accuracy: 1, Speed: 0, Battery: 1, Activity: game.ActivityStill, UpdatedAt: time.Now().UTC()}
	require.NoError(t, s.UpdateLocation(ctx, "u2", fix))

	located, err := s.UsersWithLocation(ctx)
	require.NoError(t, err)
	require.Len(t, located, 1)
	require.Equal(t, "u2", located[0].ID)
}

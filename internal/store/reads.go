package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const userColumns = `
	id, identity, first_name, last_name, team_id, profile_picture,
	lat, lng, location_updated_at, activity, accuracy, speed, battery,
	has_premium, auth_token, api_key, location_paused_until, fake_target_team_id`

// Same projection with a table alias, for joined queries.
const userColumnsAliased = `
	u.id, u.identity, u.first_name, u.last_name, u.team_id, u.profile_picture,
	u.lat, u.lng, u.location_updated_at, u.activity, u.accuracy, u.speed, u.battery,
	u.has_premium, u.auth_token, u.api_key, u.location_paused_until, u.fake_target_team_id`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Identity, &u.FirstName, &u.LastName, &u.TeamID, &u.ProfilePicture,
		&u.Lat, &u.Lng, &u.LocationUpdatedAt, &u.Activity, &u.Accuracy, &u.Speed, &u.Battery,
		&u.HasPremium, &u.AuthToken, &u.APIKey, &u.LocationPausedUntil, &u.FakeTargetTeamID,
	)
	return u, err
}

// UserByID returns one tracked user, or nil when unknown.
func (s *Store) UserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+userColumns+` FROM tracked_user WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user %s: %w", id, err)
	}
	return &u, nil
}

// UserByIdentity returns the tracked user bound to a relay identity, or nil.
func (s *Store) UserByIdentity(ctx context.Context, identity string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+userColumns+` FROM tracked_user WHERE identity = ?`, identity)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user by identity: %w", err)
	}
	return &u, nil
}

// Driver returns the tracked user whose delegated credentials are used for
// on-behalf-of polling, or nil when none qualifies. Several rows may qualify;
// the lowest id wins so repeated calls pick the same driver.
func (s *Store) Driver(ctx context.Context) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT`+userColumns+`
		FROM tracked_user
		WHERE has_premium = 1 AND auth_token IS NOT NULL AND api_key IS NOT NULL
		ORDER BY id
		LIMIT 1
	`)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query driver: %w", err)
	}
	return &u, nil
}

// AllUserIDs returns the ids of every tracked user.
func (s *Store) AllUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tracked_user ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UsersWithLocation returns every tracked user holding a non-null location,
// for map rendering by the presentation layer.
func (s *Store) UsersWithLocation(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT`+userColumns+` FROM tracked_user
		WHERE lat IS NOT NULL AND lng IS NOT NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query located users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UserGraph is one node of the relationship graph: a user, its team, and its
// outgoing target relations.
type UserGraph struct {
	User
	TeamName  string
	TeamColor string
	Targets   []TargetRelation
}

// UsersWithTargets returns every tracked user with its team and target
// relations, for relationship-graph rendering by the presentation layer.
func (s *Store) UsersWithTargets(ctx context.Context) ([]UserGraph, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT`+userColumnsAliased+`, COALESCE(t.name, ''), COALESCE(t.color, '')
		FROM tracked_user u LEFT JOIN team t ON t.id = u.team_id
		ORDER BY u.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query user graph: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]int)
	var graph []UserGraph
	for rows.Next() {
		var node UserGraph
		err := rows.Scan(
			&node.ID, &node.Identity, &node.FirstName, &node.LastName, &node.TeamID, &node.ProfilePicture,
			&node.Lat, &node.Lng, &node.LocationUpdatedAt, &node.Activity, &node.Accuracy, &node.Speed, &node.Battery,
			&node.HasPremium, &node.AuthToken, &node.APIKey, &node.LocationPausedUntil, &node.FakeTargetTeamID,
			&node.TeamName, &node.TeamColor,
		)
		if err != nil {
			return nil, err
		}
		byID[node.ID] = len(graph)
		graph = append(graph, node)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	relRows, err := s.db.QueryContext(ctx, `SELECT round, user_id, target_id, source FROM target_relation`)
	if err != nil {
		return nil, fmt.Errorf("query target relations: %w", err)
	}
	defer relRows.Close()
	for relRows.Next() {
		var rel TargetRelation
		if err := relRows.Scan(&rel.Round, &rel.UserID, &rel.TargetID, &rel.Source); err != nil {
			return nil, err
		}
		if idx, ok := byID[rel.UserID]; ok {
			graph[idx].Targets = append(graph[idx].Targets, rel)
		}
	}
	return graph, relRows.Err()
}

// Eliminations returns every recorded elimination.
func (s *Store) Eliminations(ctx context.Context) ([]Elimination, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT round, user_id, eliminated_by, eliminated_at FROM elimination
		ORDER BY round, user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query eliminations: %w", err)
	}
	defer rows.Close()

	var out []Elimination
	for rows.Next() {
		var e Elimination
		if err := rows.Scan(&e.Round, &e.UserID, &e.EliminatedBy, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// TeamMembers returns the members of a team with the team's display fields,
// ordered deterministically for positional fake-target substitution.
func (s *Store) TeamMembers(ctx context.Context, teamID string) ([]UserGraph, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT`+userColumnsAliased+`, COALESCE(t.name, ''), COALESCE(t.color, '')
		FROM tracked_user u LEFT JOIN team t ON t.id = u.team_id
		WHERE u.team_id = ?
		ORDER BY u.id
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("query team members %s: %w", teamID, err)
	}
	defer rows.Close()

	var members []UserGraph
	for rows.Next() {
		var node UserGraph
		err := rows.Scan(
			&node.ID, &node.Identity, &node.FirstName, &node.LastName, &node.TeamID, &node.ProfilePicture,
			&node.Lat, &node.Lng, &node.LocationUpdatedAt, &node.Activity, &node.Accuracy, &node.Speed, &node.Battery,
			&node.HasPremium, &node.AuthToken, &node.APIKey, &node.LocationPausedUntil, &node.FakeTargetTeamID,
			&node.TeamName, &node.TeamColor,
		)
		if err != nil {
			return nil, err
		}
		members = append(members, node)
	}
	return members, rows.Err()
}

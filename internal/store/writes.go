package store

import (
	"context"
	"fmt"
	"time"

	"github.com/volantir/volantir/internal/game"
)

// UpsertTeams inserts or updates teams keyed by their external id. Last
// write wins; concurrent writers for the same id converge.
func (s *Store) UpsertTeams(ctx context.Context, teams []Team) error {
	for _, team := range teams {
		if team.ID == "" {
			continue
		}
		err := s.execContext(ctx, `
			INSERT INTO team (id, name, color) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, color = excluded.color
		`, team.ID, team.Name, team.Color)
		if err != nil {
			return fmt.Errorf("upsert team %s: %w", team.ID, err)
		}
	}
	return nil
}

// UpsertUsers inserts or updates the identity-document fields of tracked
// users. Location and credential columns are left untouched so a roster
// refresh never clobbers a newer location fix.
func (s *Store) UpsertUsers(ctx context.Context, users []User) error {
	for _, user := range users {
		if user.ID == "" {
			continue
		}
		err := s.execContext(ctx, `
			INSERT INTO tracked_user (id, first_name, last_name, team_id, profile_picture, has_premium)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				first_name = excluded.first_name,
				last_name = excluded.last_name,
				team_id = excluded.team_id,
				profile_picture = excluded.profile_picture,
				has_premium = excluded.has_premium
		`, user.ID, user.FirstName, user.LastName, user.TeamID, user.ProfilePicture, user.HasPremium)
		if err != nil {
			return fmt.Errorf("upsert user %s: %w", user.ID, err)
		}
	}
	return nil
}

// BindIdentity links a relay identity to the player id it was observed
// fetching a dashboard for. Idempotent; safe under racing requests.
func (s *Store) BindIdentity(ctx context.Context, playerID, identity string) error {
	if playerID == "" || identity == "" {
		return nil
	}
	err := s.execContext(ctx, `
		INSERT INTO tracked_user (id, identity) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET identity = excluded.identity
	`, playerID, identity)
	if err != nil {
		return fmt.Errorf("bind identity for %s: %w", playerID, err)
	}
	return nil
}

// SetCredentials stores the delegated auth token and api key observed on an
// intercepted request, keyed by the player they belong to.
func (s *Store) SetCredentials(ctx context.Context, playerID string, creds Credentials) error {
	if playerID == "" || creds.AuthToken == "" || creds.APIKey == "" {
		return nil
	}
	err := s.execContext(ctx, `
		INSERT INTO tracked_user (id, auth_token, api_key) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET auth_token = excluded.auth_token, api_key = excluded.api_key
	`, playerID, creds.AuthToken, creds.APIKey)
	if err != nil {
		return fmt.Errorf("set credentials for %s: %w", playerID, err)
	}
	return nil
}

// InsertTargets records target relations, never overwriting an existing one.
func (s *Store) InsertTargets(ctx context.Context, relations []TargetRelation) error {
	for _, rel := range relations {
		if rel.UserID == "" || rel.TargetID == "" {
			continue
		}
		err := s.execContext(ctx, `
			INSERT INTO target_relation (round, user_id, target_id, source)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(round, user_id, target_id) DO NOTHING
		`, rel.Round, rel.UserID, rel.TargetID, rel.Source)
		if err != nil {
			return fmt.Errorf("insert target %s->%s: %w", rel.UserID, rel.TargetID, err)
		}
	}
	return nil
}

// InsertEliminations records eliminations, insert-or-ignore per composite key.
func (s *Store) InsertEliminations(ctx context.Context, eliminations []Elimination) error {
	for _, e := range eliminations {
		if e.UserID == "" || e.EliminatedBy == "" {
			continue
		}
		err := s.execContext(ctx, `
			INSERT INTO elimination (round, user_id, eliminated_by, eliminated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(round, user_id, eliminated_by) DO NOTHING
		`, e.Round, e.UserID, e.EliminatedBy, e.At)
		if err != nil {
			return fmt.Errorf("insert elimination %s: %w", e.UserID, err)
		}
	}
	return nil
}

// UpdateLocation writes a validated fix to a user's location columns.
func (s *Store) UpdateLocation(ctx context.Context, userID string, fix game.Fix) error {
	err := s.execContext(ctx, `
		UPDATE tracked_user SET
			lat = ?, lng = ?, location_updated_at = ?,
			activity = ?, accuracy = ?, speed = ?, battery = ?
		WHERE id = ?
	`, fix.Lat, fix.Lng, fix.UpdatedAt, fix.Activity, fix.Accuracy, fix.Speed, fix.Battery, userID)
	if err != nil {
		return fmt.Errorf("update location for %s: %w", userID, err)
	}
	return nil
}

// ApplyBulkLocations applies a bulk refresh in one transaction: every fix is
// written, and every id in clearIDs has its location-derived columns cleared,
// so disappearance from the feed is observable state rather than silently
// stale data. The caller decides which ids count as absent; an id with a
// record that merely failed validation must not land in clearIDs.
func (s *Store) ApplyBulkLocations(ctx context.Context, fixes map[string]game.Fix, clearIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk location tx: %w", err)
	}
	defer tx.Rollback()

	for userID, fix := range fixes {
		_, err := tx.ExecContext(ctx, `
			UPDATE tracked_user SET
				lat = ?, lng = ?, location_updated_at = ?,
				activity = ?, accuracy = ?, speed = ?, battery = ?
			WHERE id = ?
		`, fix.Lat, fix.Lng, fix.UpdatedAt, fix.Activity, fix.Accuracy, fix.Speed, fix.Battery, userID)
		if err != nil {
			return fmt.Errorf("bulk update %s: %w", userID, err)
		}
	}
	for _, id := range clearIDs {
		_, err := tx.ExecContext(ctx, `
			UPDATE tracked_user SET
				lat = NULL, lng = NULL, location_updated_at = NULL,
				activity = NULL, accuracy = NULL, speed = NULL, battery = NULL
			WHERE id = ?
		`, id)
		if err != nil {
			return fmt.Errorf("bulk clear %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// SetFakeTargetTeam sets or clears (teamID == nil) the fake-target override
// for the user bound to the given relay identity.
func (s *Store) SetFakeTargetTeam(ctx context.Context, identity string, teamID *string) error {
	err := s.execContext(ctx, `
		UPDATE tracked_user SET fake_target_team_id = ? WHERE identity = ?
	`, teamID, identity)
	if err != nil {
		return fmt.Errorf("set fake target team for %s: %w", identity, err)
	}
	return nil
}

// SetLocationPause sets or clears (until == nil) the location-pause marker
// for the user bound to the given relay identity.
func (s *Store) SetLocationPause(ctx context.Context, identity string, until *time.Time) error {
	err := s.execContext(ctx, `
		UPDATE tracked_user SET location_paused_until = ? WHERE identity = ?
	`, until, identity)
	if err != nil {
		return fmt.Errorf("set location pause for %s: %w", identity, err)
	}
	return nil
}

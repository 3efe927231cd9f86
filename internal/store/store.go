// Package store persists the application state observed by the relay and the
// poller. All cross-request coordination happens through idempotent upserts
// and insert-or-ignore relations; there are no in-process locks.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (or creates) the sqlite database at path and applies the schema.
// Use ":memory:" for an ephemeral store.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Team is a game team as observed in intercepted documents.
type Team struct {
	ID    string
	Name  string
	Color string
}

// User is a tracked player row. Pointer fields are nullable columns.
type User struct {
	ID                  string
	Identity            *string
	FirstName           string
	LastName            string
	TeamID              *string
	ProfilePicture      *string
	Lat                 *float64
	Lng                 *float64
	LocationUpdatedAt   *time.Time
	Activity            *string
	Accuracy            *float64
	Speed               *float64
	Battery             *float64
	HasPremium          bool
	AuthToken           *string
	APIKey              *string
	LocationPausedUntil *time.Time
	FakeTargetTeamID    *string
}

// TargetRelation records "user targets target in round", append-only.
type TargetRelation struct {
	Round    string
	UserID   string
	TargetID string
	Source   string
}

// Target relation provenance values.
const (
	SourceGame        = "game"
	SourceProxy       = "proxy"
	SourceWordOfMouth = "word-of-mouth"
)

// Elimination records "user was eliminated by eliminator in round".
type Elimination struct {
	Round        string
	UserID       string
	EliminatedBy string
	At           *time.Time
}

// Credentials are the delegated auth token and api key stored on a user row
// and used to poll the origin on that user's behalf.
type Credentials struct {
	AuthToken string
	APIKey    string
}

func (s *Store) execContext(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

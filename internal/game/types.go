// Package game holds the wire shapes the intercepted mobile app exchanges
// with its backend, plus helpers to turn them into persistable values.
package game

import "time"

// Player is the common player projection used by the dashboard and roster
// documents. Only the fields the relay persists or rewrites are typed; the
// rest of the document is carried opaquely by the pipeline.
type Player struct {
	ID                string     `json:"id"`
	SubscriptionLevel int        `json:"subscription_level"`
	FirstName         string     `json:"first_name"`
	LastName          string     `json:"last_name"`
	AvatarPath        *string    `json:"avatar_path"`
	Eliminated        bool       `json:"eliminated"`
	EliminatedBy      *string    `json:"eliminated_by"`
	EliminatedAt      *time.Time `json:"eliminated_at"`
	TeamID            string     `json:"team_id"`
	TeamName          string     `json:"team_name"`
	TeamColor         string     `json:"team_color"`
}

// Target is a dashboard target entry. It extends Player on the wire; the
// extra fields are not needed for persistence so only the base is typed.
type Target struct {
	Player
	TargetID string `json:"target_id"`
	UserID   string `json:"user_id"`
}

// Round identifies the game round a dashboard document belongs to.
type Round struct {
	ID  string `json:"id"`
	Idx int    `json:"idx"`
}

// Dashboard is the typed projection of a dashboard document used by the
// persistence continuation. The client-visible rewrite happens on the
// generic parsed form, not on this struct.
type Dashboard struct {
	Round         Round    `json:"round"`
	CurrentPlayer Player   `json:"currentPlayer"`
	Targets       []Target `json:"targets"`
}

// RosterTeam is a team entry of the paginated roster document, carrying its
// nested players.
type RosterTeam struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Color   string   `json:"color"`
	Players []Player `json:"players"`
}

// Roster is the typed projection of a paginated player/team listing. The
// document ships two shapes at once: teams with nested players and a flat
// player list carrying team fields.
type Roster struct {
	Cursor  int          `json:"cursor"`
	Teams   []RosterTeam `json:"teams"`
	Players []Player     `json:"players"`
}

// BatchLocation is one record of the bulk location RPC response. The origin
// uses single-letter keys; numeric fields are pointers so a missing value is
// distinguishable from zero.
type BatchLocation struct {
	UserID    string     `json:"u"`
	Lat       *float64   `json:"l"`
	Lng       *float64   `json:"lo"`
	Activity  string     `json:"a"`
	Accuracy  *float64   `json:"ac"`
	UpdatedAt *time.Time `json:"up"`
	Battery   *float64   `json:"bl"`
	Charging  bool       `json:"ic"`
	Speed     *float64   `json:"s"`
	City      string     `json:"c"`
	Region    string     `json:"r"`
}

// MapUser is the single-user location RPC response. Unlike the batch shape,
// the origin serializes its numeric fields as strings here.
type MapUser struct {
	UserID     string     `json:"u"`
	AvatarPath string     `json:"ap"`
	FirstName  string     `json:"fn"`
	LastName   string     `json:"ln"`
	Lat        string     `json:"l"`
	Lng        string     `json:"lo"`
	Activity   string     `json:"a"`
	Accuracy   string     `json:"ac"`
	UpdatedAt  *time.Time `json:"up"`
	Battery    string     `json:"bl"`
	Charging   string     `json:"ic"`
	Speed      string     `json:"s"`
	City       string     `json:"c"`
	Region     string     `json:"r"`
}

// HasPremium reports whether a subscription level grants location polling.
func (p Player) HasPremium() bool {
	return p.SubscriptionLevel != 0
}

package proxy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/volantir/volantir/internal/game"
	"github.com/volantir/volantir/internal/store"
)

// rosterHandler passes the paginated player/team listing through unmodified
// and mirrors its contents into the store. The document ships the same
// population twice, as teams with nested players and as a flat player list;
// both shapes are harvested so a partially malformed one cannot hide data
// the other still carries.
type rosterHandler struct {
	deps handlerDeps
}

func (h *rosterHandler) rewrite(ctx context.Context, ex *exchange) (*rewrite, error) {
	var roster game.Roster
	if err := json.Unmarshal(ex.Body, &roster); err != nil {
		return nil, fmt.Errorf("parse roster document: %w", err)
	}

	log := h.deps.log.With("exchange", ex.ID)

	cont := func(ctx context.Context) {
		st := h.deps.store

		runStep(ctx, log, h.deps.metrics, "roster-teams", func(ctx context.Context) error {
			teams := make([]store.Team, 0, len(roster.Teams))
			for _, t := range roster.Teams {
				if t.ID == "" {
					continue
				}
				teams = append(teams, store.Team{ID: t.ID, Name: t.Name, Color: t.Color})
			}
			return st.UpsertTeams(ctx, teams)
		})
		runStep(ctx, log, h.deps.metrics, "roster-team-members", func(ctx context.Context) error {
			var members []game.Player
			for _, t := range roster.Teams {
				for _, p := range t.Players {
					// Nested players omit the team fields; inherit them.
					p.TeamID, p.TeamName, p.TeamColor = t.ID, t.Name, t.Color
					members = append(members, p)
				}
			}
			return st.UpsertUsers(ctx, uniqueUsers(members))
		})
		runStep(ctx, log, h.deps.metrics, "roster-player-teams", func(ctx context.Context) error {
			return st.UpsertTeams(ctx, uniqueTeams(roster.Players))
		})
		runStep(ctx, log, h.deps.metrics, "roster-players", func(ctx context.Context) error {
			return st.UpsertUsers(ctx, uniqueUsers(roster.Players))
		})
		runStep(ctx, log, h.deps.metrics, "roster-eliminations", func(ctx context.Context) error {
			return st.InsertEliminations(ctx, eliminationsFromPlayers("", roster.Players))
		})
	}

	return &rewrite{Continue: cont}, nil
}

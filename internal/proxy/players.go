package proxy

import (
	"github.com/volantir/volantir/internal/game"
	"github.com/volantir/volantir/internal/store"
)

func teamFromPlayer(p game.Player) store.Team {
	return store.Team{ID: p.TeamID, Name: p.TeamName, Color: p.TeamColor}
}

func userFromPlayer(p game.Player) store.User {
	u := store.User{
		ID:             p.ID,
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		ProfilePicture: p.AvatarPath,
		HasPremium:     p.HasPremium(),
	}
	if p.TeamID != "" {
		teamID := p.TeamID
		u.TeamID = &teamID
	}
	return u
}

// uniqueTeams collects the distinct teams referenced by the given players,
// first occurrence wins.
func uniqueTeams(players []game.Player) []store.Team {
	seen := make(map[string]bool, len(players))
	var teams []store.Team
	for _, p := range players {
		if p.TeamID == "" || seen[p.TeamID] {
			continue
		}
		seen[p.TeamID] = true
		teams = append(teams, teamFromPlayer(p))
	}
	return teams
}

// uniqueUsers collects the distinct users referenced by the given players.
func uniqueUsers(players []game.Player) []store.User {
	seen := make(map[string]bool, len(players))
	var users []store.User
	for _, p := range players {
		if p.ID == "" || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		users = append(users, userFromPlayer(p))
	}
	return users
}

// eliminationsFromPlayers extracts observed eliminations. The roster does
// not carry a round marker, so these rows key on an empty round.
func eliminationsFromPlayers(round string, players []game.Player) []store.Elimination {
	var out []store.Elimination
	for _, p := range players {
		if !p.Eliminated || p.EliminatedBy == nil || *p.EliminatedBy == "" {
			continue
		}
		out = append(out, store.Elimination{
			Round:        round,
			UserID:       p.ID,
			EliminatedBy: *p.EliminatedBy,
			At:           p.EliminatedAt,
		})
	}
	return out
}

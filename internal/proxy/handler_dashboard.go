package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/volantir/volantir/internal/game"
	"github.com/volantir/volantir/internal/store"
)

// dashboardHandler rewrites the per-game dashboard document: targets are
// optionally replaced by the requester's fake-target team and the join code
// is masked. The persistence continuation records everything the original
// document revealed.
type dashboardHandler struct {
	deps handlerDeps
}

func (h *dashboardHandler) rewrite(ctx context.Context, ex *exchange) (*rewrite, error) {
	var doc map[string]any
	if err := json.Unmarshal(ex.Body, &doc); err != nil {
		return nil, fmt.Errorf("parse dashboard document: %w", err)
	}
	var typed game.Dashboard
	if err := json.Unmarshal(ex.Body, &typed); err != nil {
		return nil, fmt.Errorf("parse dashboard projection: %w", err)
	}

	log := h.deps.log.With("exchange", ex.ID)

	var fakes []store.UserGraph
	if ex.Identity != "" {
		me, err := h.deps.store.UserByIdentity(ctx, ex.Identity)
		if err != nil {
			log.Error("fake target lookup failed", "identity", ex.Identity, "error", err)
		} else if me != nil && me.FakeTargetTeamID != nil && *me.FakeTargetTeamID != "" {
			fakes, err = h.deps.store.TeamMembers(ctx, *me.FakeTargetTeamID)
			if err != nil {
				log.Error("fake team members lookup failed", "error", err)
			}
		}
	}

	if gameObj, ok := doc["game"].(map[string]any); ok {
		gameObj["join_code"] = h.deps.joinCode
	}
	if len(fakes) > 0 {
		substituteTargets(doc, fakes)
	}

	fast, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("serialize dashboard document: %w", err)
	}

	identity := ex.Identity
	authToken := ex.Request.Header.Get("Authorization")
	apiKey := ex.Request.Header.Get("apikey")

	cont := func(ctx context.Context) {
		st := h.deps.store
		round := strconv.Itoa(typed.Round.Idx)
		referenced := make([]game.Player, 0, len(typed.Targets)+1)
		referenced = append(referenced, typed.CurrentPlayer)
		for _, t := range typed.Targets {
			referenced = append(referenced, t.Player)
		}

		runStep(ctx, log, h.deps.metrics, "dashboard-bind-identity", func(ctx context.Context) error {
			return st.BindIdentity(ctx, typed.CurrentPlayer.ID, identity)
		})
		runStep(ctx, log, h.deps.metrics, "dashboard-credentials", func(ctx context.Context) error {
			return st.SetCredentials(ctx, typed.CurrentPlayer.ID, store.Credentials{
				AuthToken: authToken,
				APIKey:    apiKey,
			})
		})
		runStep(ctx, log, h.deps.metrics, "dashboard-teams", func(ctx context.Context) error {
			return st.UpsertTeams(ctx, uniqueTeams(referenced))
		})
		runStep(ctx, log, h.deps.metrics, "dashboard-users", func(ctx context.Context) error {
			return st.UpsertUsers(ctx, uniqueUsers(referenced))
		})
		runStep(ctx, log, h.deps.metrics, "dashboard-targets", func(ctx context.Context) error {
			relations := make([]store.TargetRelation, 0, len(typed.Targets))
			for _, t := range typed.Targets {
				relations = append(relations, store.TargetRelation{
					Round:    round,
					UserID:   typed.CurrentPlayer.ID,
					TargetID: t.ID,
					Source:   store.SourceProxy,
				})
			}
			return st.InsertTargets(ctx, relations)
		})
	}

	return &rewrite{Fast: fast, Continue: cont}, nil
}

// substituteTargets overlays the document's target list with the fake team's
// members, one-to-one by position. When the fake team has fewer members than
// targets, the remaining targets are left unmodified.
func substituteTargets(doc map[string]any, fakes []store.UserGraph) {
	targets, ok := doc["targets"].([]any)
	if !ok {
		return
	}
	for i, raw := range targets {
		if i >= len(fakes) {
			break
		}
		target, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		fake := fakes[i]
		target["id"] = fake.ID
		target["first_name"] = fake.FirstName
		target["last_name"] = fake.LastName
		if fake.ProfilePicture != nil {
			target["avatar_path"] = *fake.ProfilePicture
		} else {
			target["avatar_path"] = nil
		}
		if fake.TeamID != nil {
			target["team_id"] = *fake.TeamID
		}
		target["team_name"] = fake.TeamName
		target["team_color"] = fake.TeamColor
	}
}

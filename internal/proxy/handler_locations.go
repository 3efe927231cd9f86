package proxy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/volantir/volantir/internal/game"
)

// locationBatchHandler mirrors the bulk location RPC into the store. The
// document reaches the client untouched; records missing a required numeric
// field are skipped without poisoning their siblings.
type locationBatchHandler struct {
	deps handlerDeps
}

func (h *locationBatchHandler) rewrite(ctx context.Context, ex *exchange) (*rewrite, error) {
	var records []game.BatchLocation
	if err := json.Unmarshal(ex.Body, &records); err != nil {
		return nil, fmt.Errorf("parse location batch: %w", err)
	}

	log := h.deps.log.With("exchange", ex.ID)

	cont := func(ctx context.Context) {
		for _, rec := range records {
			fix, ok := game.FixFromBatch(rec)
			if !ok {
				log.Debug("skipping incomplete location record", "user", rec.UserID)
				continue
			}
			userID := rec.UserID
			runStep(ctx, log, h.deps.metrics, "location-batch", func(ctx context.Context) error {
				if err := h.deps.store.UpdateLocation(ctx, userID, fix); err != nil {
					return err
				}
				h.deps.hub.PublishLocation(userID, fix)
				return nil
			})
		}
	}

	return &rewrite{Continue: cont}, nil
}

// singleLocationHandler mirrors the single-user location RPC into the store.
type singleLocationHandler struct {
	deps handlerDeps
}

func (h *singleLocationHandler) rewrite(ctx context.Context, ex *exchange) (*rewrite, error) {
	var rec game.MapUser
	if err := json.Unmarshal(ex.Body, &rec); err != nil {
		return nil, fmt.Errorf("parse map user: %w", err)
	}

	log := h.deps.log.With("exchange", ex.ID)

	cont := func(ctx context.Context) {
		fix, ok := game.FixFromMapUser(rec)
		if !ok {
			log.Debug("skipping unparsable location record", "user", rec.UserID)
			return
		}
		runStep(ctx, log, h.deps.metrics, "location-single", func(ctx context.Context) error {
			if err := h.deps.store.UpdateLocation(ctx, rec.UserID, fix); err != nil {
				return err
			}
			h.deps.hub.PublishLocation(rec.UserID, fix)
			return nil
		})
	}

	return &rewrite{Continue: cont}, nil
}

package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/volantir/volantir/internal/feed"
	"github.com/volantir/volantir/internal/game"
	"github.com/volantir/volantir/internal/store"
)

// Poller drives active location refreshes through the backend RPCs, using
// the captured driver credentials. Transport failures are logged and
// swallowed; a refresh that cannot complete simply yields nothing.
type Poller struct {
	client   *Client
	store    *store.Store
	hub      *feed.Hub
	log      *slog.Logger
	tracer   trace.Tracer
	interval time.Duration

	mu     sync.Mutex
	gen    uint64
	target string
	cancel context.CancelFunc
}

func New(client *Client, st *store.Store, hub *feed.Hub, log *slog.Logger, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Poller{
		client:   client,
		store:    st,
		hub:      hub,
		log:      log,
		tracer:   otel.Tracer("volantir/poller"),
		interval: interval,
	}
}

// driverCredentials resolves the account whose captured tokens drive the
// backend calls. Returns zero credentials when no usable account exists yet.
func (p *Poller) driverCredentials(ctx context.Context) (store.Credentials, bool) {
	driver, err := p.store.Driver(ctx)
	if err != nil {
		p.log.Error("driver lookup failed", "error", err)
		return store.Credentials{}, false
	}
	if driver == nil || driver.AuthToken == nil || driver.APIKey == nil {
		p.log.Warn("no driver account with captured credentials")
		return store.Credentials{}, false
	}
	return store.Credentials{AuthToken: *driver.AuthToken, APIKey: *driver.APIKey}, true
}

// RefreshUser triggers a fresh fix for one user, fetches it, persists it in
// the background and returns the raw record. A nil return means the refresh
// could not complete; the cause is logged, never propagated.
func (p *Poller) RefreshUser(ctx context.Context, userID string) *game.MapUser {
	ctx, span := p.tracer.Start(ctx, "poller.refresh_user",
		trace.WithAttributes(attribute.String("user", userID)))
	defer span.End()

	rec, ok := p.fetchUser(ctx, userID)
	if !ok {
		return nil
	}
	go p.applyFix(context.WithoutCancel(ctx), userID, rec)
	return &rec
}

// fetchUser performs the trigger-then-fetch sequence without persisting.
func (p *Poller) fetchUser(ctx context.Context, userID string) (game.MapUser, bool) {
	creds, ok := p.driverCredentials(ctx)
	if !ok {
		return game.MapUser{}, false
	}
	if err := p.client.RequestFix(ctx, creds, userID); err != nil {
		// The nudge is best-effort; a stale fix is still a fix.
		p.log.Warn("location nudge failed", "user", userID, "error", err)
	}
	rec, err := p.client.FetchFix(ctx, creds, userID)
	if err != nil {
		p.log.Error("location fetch failed", "user", userID, "error", err)
		return game.MapUser{}, false
	}
	return rec, true
}

func (p *Poller) applyFix(ctx context.Context, userID string, rec game.MapUser) {
	fix, ok := game.FixFromMapUser(rec)
	if !ok {
		p.log.Debug("discarding unparsable fix", "user", userID)
		return
	}
	if err := p.store.UpdateLocation(ctx, userID, fix); err != nil {
		p.log.Error("location update failed", "user", userID, "error", err)
		return
	}
	p.hub.PublishLocation(userID, fix)
}

// RefreshAll refreshes every tracked user with one batched call. Users the
// backend no longer reports have their location columns cleared. Returns the
// number of fixes applied; zero with no error means a degraded-but-normal
// outcome (no driver, empty roster, backend hiccup).
func (p *Poller) RefreshAll(ctx context.Context) int {
	ctx, span := p.tracer.Start(ctx, "poller.refresh_all")
	defer span.End()

	creds, ok := p.driverCredentials(ctx)
	if !ok {
		return 0
	}
	ids, err := p.store.AllUserIDs(ctx)
	if err != nil {
		p.log.Error("user id listing failed", "error", err)
		return 0
	}
	if len(ids) == 0 {
		return 0
	}
	records, err := p.client.FetchBatch(ctx, creds, ids)
	if err != nil {
		p.log.Error("bulk location fetch failed", "error", err)
		return 0
	}

	fixes := make(map[string]game.Fix, len(records))
	present := make(map[string]struct{}, len(records))
	for _, rec := range records {
		present[rec.UserID] = struct{}{}
		fix, ok := game.FixFromBatch(rec)
		if !ok {
			// Reported but incomplete: skipped, not cleared.
			p.log.Debug("skipping incomplete bulk record", "user", rec.UserID)
			continue
		}
		fixes[rec.UserID] = fix
	}
	var absent []string
	for _, id := range ids {
		if _, ok := present[id]; !ok {
			absent = append(absent, id)
		}
	}
	if err := p.store.ApplyBulkLocations(ctx, fixes, absent); err != nil {
		p.log.Error("bulk location apply failed", "error", err)
		return 0
	}
	for userID, fix := range fixes {
		p.hub.PublishLocation(userID, fix)
	}
	p.log.Info("bulk refresh applied", "updated", len(fixes), "tracked", len(ids))
	return len(fixes)
}

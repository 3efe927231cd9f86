// Package poller refreshes tracked-user locations by calling the game
// backend directly with credentials captured from intercepted traffic.
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/volantir/volantir/internal/game"
	"github.com/volantir/volantir/internal/store"
)

// The backend rejects requests that do not look like the mobile app, so the
// client identifies itself exactly the way the app does.
const (
	userAgent      = "Splashin/5 CFNetwork/3860.100.1 Darwin/25.0.0"
	clientInfo     = "supabase-js-react-native/2.52.1"
	contentProfile = "public"

	requestQueue = "location-request"
)

type ClientOptions struct {
	// BaseURL is the backend origin, e.g. "https://<project>.supabase.co".
	BaseURL string
	// GameID scopes every RPC to one game.
	GameID  string
	Timeout time.Duration
}

// Client speaks the backend's location RPCs on behalf of a captured driver
// account.
type Client struct {
	http   *http.Client
	base   string
	gameID string
	log    *slog.Logger
}

func NewClient(opts ClientOptions, log *slog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("upstream base URL is required")
	}
	if opts.GameID == "" {
		return nil, fmt.Errorf("game id is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		base:   base,
		gameID: opts.GameID,
		log:    log,
	}, nil
}

// RequestFix asks the backend to nudge the target device for a fresh fix.
// The RPC returns no useful body.
func (c *Client) RequestFix(ctx context.Context, creds store.Credentials, userID string) error {
	payload := map[string]string{"queue_name": requestQueue, "uid": userID}
	return c.rpc(ctx, creds, "location-request", payload, nil)
}

// FetchFix retrieves the single-user location document.
func (c *Client) FetchFix(ctx context.Context, creds store.Credentials, userID string) (game.MapUser, error) {
	payload := map[string]string{"gid": c.gameID, "uid": userID}
	var rec game.MapUser
	if err := c.rpc(ctx, creds, "get_map_user_full_v2", payload, &rec); err != nil {
		return game.MapUser{}, err
	}
	return rec, nil
}

// FetchBatch retrieves the bulk location document for the given user ids.
func (c *Client) FetchBatch(ctx context.Context, creds store.Credentials, userIDs []string) ([]game.BatchLocation, error) {
	payload := map[string]any{"gid": c.gameID, "user_ids": userIDs}
	var records []game.BatchLocation
	if err := c.rpc(ctx, creds, "get_user_locations_by_user_ids_minimal_v2", payload, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) rpc(ctx context.Context, creds store.Credentials, name string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/rest/v1/rpc/"+name, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", name, err)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("apikey", creds.APIKey)
	req.Header.Set("Authorization", creds.AuthToken)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("x-client-info", clientInfo)
	req.Header.Set("content-profile", contentProfile)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: unexpected status %d", name, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: parse response: %w", name, err)
	}
	return nil
}

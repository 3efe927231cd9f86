package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/volantir/volantir/internal/feed"
	"github.com/volantir/volantir/internal/store"
)

// defaultJoinCode is the constant written over the game's real join code in
// rewritten dashboard documents.
const defaultJoinCode = "Volantir"

const uuidPattern = `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`

// route binds a path matcher to the handler that rewrites and persists its
// exchanges. First match wins.
type route struct {
	name    string
	matcher *regexp.Regexp
	handler routeHandler
}

// exchange is one intercepted request/response pair flowing through the
// rewrite pipeline.
type exchange struct {
	ID       string
	Identity string
	Request  *http.Request
	Status   int
	Header   http.Header
	// Body is the decoded (uncompressed) origin response body.
	Body []byte
}

// rewrite is a handler's two-phase result: the fast-path document sent to
// the client immediately, and a detached continuation that runs after the
// response is written. A nil Fast means "relay the document unmodified".
type rewrite struct {
	Fast     []byte
	Continue func(ctx context.Context)
}

type routeHandler interface {
	rewrite(ctx context.Context, ex *exchange) (*rewrite, error)
}

type handlerDeps struct {
	store    *store.Store
	hub      *feed.Hub
	log      *slog.Logger
	metrics  *relayMetrics
	joinCode string
}

func defaultRoutes(deps handlerDeps) []route {
	return []route{
		{
			name:    "dashboard",
			matcher: regexp.MustCompile(`/api/v\d+/games/` + uuidPattern + `/dashboard`),
			handler: &dashboardHandler{deps: deps},
		},
		{
			name:    "roster",
			matcher: regexp.MustCompile(`/api/v\d+/games/` + uuidPattern + `/players`),
			handler: &rosterHandler{deps: deps},
		},
		{
			name:    "location-batch",
			matcher: regexp.MustCompile(`/rest/v1/rpc/get_user_locations_by_user_ids_minimal_v2`),
			handler: &locationBatchHandler{deps: deps},
		},
		{
			name:    "single-location",
			matcher: regexp.MustCompile(`/rest/v1/rpc/get_map_user_full_v2`),
			handler: &singleLocationHandler{deps: deps},
		},
	}
}

// matchRoute tests the request path against the ordered matcher list.
func (s *server) matchRoute(path string) *route {
	for i := range s.routes {
		if s.routes[i].matcher.MatchString(path) {
			return &s.routes[i]
		}
	}
	return nil
}

package proxy

import (
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/volantir/volantir/internal/poller"
)

type statusPayload struct {
	GeneratedAt time.Time        `json:"generatedAt"`
	ProxyAddr   string           `json:"proxyAddr"`
	AdminAddr   string           `json:"adminAddr"`
	AllowHosts  []string         `json:"allowHosts"`
	Identities  []statusIdentity `json:"identities"`
	Metrics     statusMetrics    `json:"metrics"`
	Watch       poller.State     `json:"watch"`
	Resources   resourceSnapshot `json:"resources"`
}

// statusIdentity deliberately has no secret field.
type statusIdentity struct {
	Identity string `json:"identity"`
	Note     string `json:"note,omitempty"`
}

type statusMetrics struct {
	TunnelsActive     int64 `json:"tunnelsActive"`
	AuthFailures      int64 `json:"authFailures"`
	HostsBlocked      int64 `json:"hostsBlocked"`
	Forwarded         int64 `json:"forwarded"`
	Intercepted       int64 `json:"intercepted"`
	RewriteFallbacks  int64 `json:"rewriteFallbacks"`
	TrackedUsers      int   `json:"trackedUsers"`
	UsersWithLocation int   `json:"usersWithLocation"`
}

func (s *server) collectStatus(r *http.Request) statusPayload {
	identities := make([]statusIdentity, 0, len(s.identities))
	for _, record := range s.identities {
		identities = append(identities, statusIdentity{
			Identity: record.Identity,
			Note:     record.Note,
		})
	}
	sort.Slice(identities, func(i, j int) bool {
		return identities[i].Identity < identities[j].Identity
	})

	metrics := statusMetrics{
		TunnelsActive:    s.tunnels.Load(),
		AuthFailures:     s.stats.authFailures.Load(),
		HostsBlocked:     s.stats.hostsBlocked.Load(),
		Forwarded:        s.stats.forwarded.Load(),
		Intercepted:      s.stats.intercepted.Load(),
		RewriteFallbacks: s.stats.rewriteFallbacks.Load(),
	}
	if s.store != nil {
		if ids, err := s.store.AllUserIDs(r.Context()); err == nil {
			metrics.TrackedUsers = len(ids)
		}
		if users, err := s.store.UsersWithLocation(r.Context()); err == nil {
			metrics.UsersWithLocation = len(users)
		}
	}

	var watch poller.State
	if s.poll != nil {
		watch = s.poll.StateSnapshot()
	} else {
		watch.Mode = "idle"
	}

	return statusPayload{
		GeneratedAt: time.Now(),
		ProxyAddr:   s.opts.proxyListen,
		AdminAddr:   s.opts.adminListen,
		AllowHosts:  append([]string(nil), s.allowHosts...),
		Identities:  identities,
		Metrics:     metrics,
		Watch:       watch,
		Resources:   s.resources.snapshot(),
	}
}

func portFromAddr(addr string) string {
	if addr == "" {
		return ""
	}
	if strings.HasPrefix(addr, ":") {
		return strings.TrimPrefix(addr, ":")
	}
	if _, port, err := net.SplitHostPort(addr); err == nil {
		return port
	}
	return ""
}

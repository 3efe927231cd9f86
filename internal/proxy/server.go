package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lucsky/cuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/netutil"

	"github.com/volantir/volantir/internal/feed"
	"github.com/volantir/volantir/internal/poller"
	"github.com/volantir/volantir/internal/store"
)

type serverOptions struct {
	proxyListen    string
	adminListen    string
	identityConfig string
	dbPath         string
	allowHosts     []string
	originTimeout  time.Duration
	maxConns       int
	idMode         string
	joinCode       string
	publicHost     string
}

type relayCounters struct {
	authFailures     atomic.Int64
	hostsBlocked     atomic.Int64
	forwarded        atomic.Int64
	intercepted      atomic.Int64
	rewriteFallbacks atomic.Int64
}

type server struct {
	logger     *slog.Logger
	opts       *serverOptions
	metrics    *relayMetrics
	identities map[string]*identityRecord
	allowHosts []string
	routes     []route
	pipeline   *pipeline
	store      *store.Store
	hub        *feed.Hub
	poll       *poller.Poller
	resources  *resourceTracker
	stats      relayCounters
	tracer     trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	tunnels  atomic.Int64
	idGen    func() string
	proxySrv *http.Server
	adminSrv *http.Server
}

func newServer(logger *slog.Logger, opts *serverOptions, st *store.Store, hub *feed.Hub, poll *poller.Poller) (*server, error) {
	if strings.TrimSpace(opts.identityConfig) == "" {
		return nil, errors.New("--identity-config is required")
	}
	identities, err := loadIdentityConfig(opts.identityConfig)
	if err != nil {
		return nil, err
	}
	if opts.originTimeout <= 0 {
		return nil, errors.New("--origin-timeout must be positive")
	}

	var idGen func() string
	switch mode := strings.ToLower(strings.TrimSpace(opts.idMode)); mode {
	case "", "uuid":
		idGen = uuid.NewString
	case "cuid":
		idGen = cuid.New
	default:
		return nil, fmt.Errorf("unsupported exchange id mode %q (use uuid or cuid)", opts.idMode)
	}

	joinCode := opts.joinCode
	if joinCode == "" {
		joinCode = defaultJoinCode
	}

	metrics := newRelayMetrics(prometheus.DefaultRegisterer)
	s := &server{
		logger:     logger.With("role", "relay"),
		opts:       opts,
		metrics:    metrics,
		identities: identities,
		allowHosts: opts.allowHosts,
		store:      st,
		hub:        hub,
		poll:       poll,
		resources:  newResourceTracker(),
		tracer:     otel.Tracer("volantir/proxy"),
		idGen:      idGen,
	}
	s.pipeline = newPipeline(opts.originTimeout, logger.With("component", "pipeline"), metrics)
	s.routes = defaultRoutes(handlerDeps{
		store:    st,
		hub:      hub,
		log:      logger.With("component", "handlers"),
		metrics:  metrics,
		joinCode: joinCode,
	})
	return s, nil
}

func (s *server) nextExchangeID() string {
	if s.idGen != nil {
		return s.idGen()
	}
	return uuid.NewString()
}

func (s *server) run(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()

	if s.resources != nil {
		s.resources.start(s.ctx)
	}

	errCh := make(chan error, 1)
	sendErr := func(err error) {
		if err == nil {
			return
		}
		select {
		case errCh <- err:
		default:
		}
	}

	proxyMux := http.NewServeMux()
	proxyMux.HandleFunc("/", s.handleProxy)
	s.proxySrv = &http.Server{
		Handler:           proxyMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		ln, err := net.Listen("tcp", s.opts.proxyListen)
		if err != nil {
			sendErr(fmt.Errorf("proxy listen: %w", err))
			return
		}
		if s.opts.maxConns > 0 {
			ln = netutil.LimitListener(ln, s.opts.maxConns)
		}
		s.logger.Info("proxy listening", "addr", s.opts.proxyListen)
		if err := s.proxySrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sendErr(fmt.Errorf("proxy serve: %w", err))
		}
	}()

	if s.opts.adminListen != "" {
		adminMux := http.NewServeMux()
		adminMux.Handle("/metrics", promhttp.Handler())
		adminMux.HandleFunc("/status.json", s.handleStatusJSON)
		adminMux.HandleFunc("/provision/", s.handleProvision)
		adminMux.HandleFunc("/refresh", s.handleRefreshAll)
		adminMux.HandleFunc("/refresh/", s.handleRefreshUser)
		if s.hub != nil {
			adminMux.HandleFunc("/feed", s.hub.HandleWS)
		}
		s.adminSrv = &http.Server{
			Addr:              s.opts.adminListen,
			Handler:           adminMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			s.logger.Info("admin listening", "addr", s.opts.adminListen)
			if err := s.adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				sendErr(fmt.Errorf("admin serve: %w", err))
			}
		}()
	}

	var err error
	select {
	case err = <-errCh:
	case <-s.ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if s.proxySrv != nil {
		if errShutdown := s.proxySrv.Shutdown(shutdownCtx); errShutdown != nil {
			s.logger.Warn("proxy shutdown", "error", errShutdown)
		}
	}
	if s.adminSrv != nil {
		if errShutdown := s.adminSrv.Shutdown(shutdownCtx); errShutdown != nil {
			s.logger.Warn("admin shutdown", "error", errShutdown)
		}
	}

	return err
}

// hostApproved applies the allow-list. An empty list approves everything;
// otherwise the host must contain or end with one of the entries.
func (s *server) hostApproved(host string) bool {
	if len(s.allowHosts) == 0 {
		return true
	}
	bare := hostOnly(host)
	for _, entry := range s.allowHosts {
		if entry == "" {
			continue
		}
		if strings.Contains(bare, entry) || strings.HasSuffix(bare, entry) {
			return true
		}
	}
	return false
}

func hostOnly(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

var ipLiteralPattern = regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+$`)

// isIPLiteral reports whether host is a bare IPv4/IPv6 literal. Requests to
// literals without a credential are treated as relay loops and terminated.
func isIPLiteral(host string) bool {
	bare := hostOnly(host)
	if ipLiteralPattern.MatchString(bare) {
		return true
	}
	return net.ParseIP(bare) != nil
}
